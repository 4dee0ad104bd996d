package pagedlist

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig is returned when a Config fails validation.
var ErrInvalidConfig = errors.New("pagedlist: invalid configuration")

// Config defines how a PagedList loads content from its DataSource.
type Config struct {
	// PageSize is the number of items loaded at once from the DataSource.
	PageSize int `mapstructure:"page_size" validate:"min=1" yaml:"page_size"`

	// PrefetchDistance defines how far from the edge of loaded content an
	// access must be to trigger further loading. Zero means items are only
	// loaded when they are specifically requested.
	PrefetchDistance int `mapstructure:"prefetch_distance" validate:"min=0" yaml:"prefetch_distance"`

	// InitialLoadSizeHint is the number of items requested by the first load,
	// typically larger than PageSize.
	InitialLoadSizeHint int `mapstructure:"initial_load_size_hint" validate:"min=0" yaml:"initial_load_size_hint"`
}

var configValidator = validator.New()

// Validate checks the field constraints of c.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ConfigBuilder builds a validated Config. PageSize must be set; the other
// values default from it.
type ConfigBuilder struct {
	pageSize            int
	prefetchDistance    int
	initialLoadSizeHint int
}

// NewConfigBuilder returns a builder with every value unset.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		pageSize:            -1,
		prefetchDistance:    -1,
		initialLoadSizeHint: -1,
	}
}

// SetPageSize sets the number of items loaded at once.
func (b *ConfigBuilder) SetPageSize(pageSize int) *ConfigBuilder {
	b.pageSize = pageSize
	return b
}

// SetPrefetchDistance sets the prefetch distance. A negative value means
// "unset" and defaults to the page size.
func (b *ConfigBuilder) SetPrefetchDistance(prefetchDistance int) *ConfigBuilder {
	b.prefetchDistance = prefetchDistance
	return b
}

// SetInitialLoadSizeHint sets the initial load size. A negative value means
// "unset" and defaults to three pages.
func (b *ConfigBuilder) SetInitialLoadSizeHint(initialLoadSizeHint int) *ConfigBuilder {
	b.initialLoadSizeHint = initialLoadSizeHint
	return b
}

// Build returns the Config, or an error wrapping ErrInvalidConfig when the
// page size is not positive.
func (b *ConfigBuilder) Build() (Config, error) {
	if b.pageSize < 1 {
		return Config{}, fmt.Errorf("%w: page size must be a positive number, got %d", ErrInvalidConfig, b.pageSize)
	}

	cfg := Config{
		PageSize:            b.pageSize,
		PrefetchDistance:    b.prefetchDistance,
		InitialLoadSizeHint: b.initialLoadSizeHint,
	}
	if cfg.PrefetchDistance < 0 {
		cfg.PrefetchDistance = cfg.PageSize
	}
	if cfg.InitialLoadSizeHint < 0 {
		cfg.InitialLoadSizeHint = cfg.PageSize * 3
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
