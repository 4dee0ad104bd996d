package pagedlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigBuilderDefaults(t *testing.T) {
	for _, pageSize := range []int{1, 2, 10, 30} {
		cfg, err := NewConfigBuilder().SetPageSize(pageSize).Build()
		require.NoError(t, err)

		assert.Equal(t, pageSize, cfg.PageSize)
		assert.Equal(t, pageSize, cfg.PrefetchDistance)
		assert.Equal(t, pageSize*3, cfg.InitialLoadSizeHint)
	}
}

func TestConfigBuilderExplicitValues(t *testing.T) {
	cfg, err := NewConfigBuilder().
		SetPageSize(30).
		SetPrefetchDistance(0).
		SetInitialLoadSizeHint(50).
		Build()
	require.NoError(t, err)

	assert.Equal(t, Config{PageSize: 30, PrefetchDistance: 0, InitialLoadSizeHint: 50}, cfg)
}

func TestConfigBuilderPageSize(t *testing.T) {
	_, err := NewConfigBuilder().SetPageSize(0).Build()
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewConfigBuilder().Build()
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg, err := NewConfigBuilder().SetPageSize(1).Build()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.PageSize)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{PageSize: 10, PrefetchDistance: 10, InitialLoadSizeHint: 30}, false},
		{"zero prefetch", Config{PageSize: 10}, false},
		{"zero page size", Config{PageSize: 0, PrefetchDistance: 1}, true},
		{"negative prefetch", Config{PageSize: 10, PrefetchDistance: -1}, true},
		{"negative initial size", Config{PageSize: 10, InitialLoadSizeHint: -5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
