// Package appconfig loads the pagedemo configuration.
package appconfig

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/zhangzqs/pagedlist-go"
)

// EnvPrefix prefixes environment overrides, e.g. PAGEDEMO_REMOTE_ENDPOINT.
const EnvPrefix = "PAGEDEMO"

// Config is the pagedemo configuration.
type Config struct {
	Logging LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Paging  pagedlist.Config `mapstructure:"paging" yaml:"paging"`
	Remote  RemoteConfig     `mapstructure:"remote" yaml:"remote"`
	Cache   CacheConfig      `mapstructure:"cache" yaml:"cache"`
	Server  ServerConfig     `mapstructure:"server" yaml:"server"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error" yaml:"level"`

	// Format selects console (human readable) or json output.
	Format string `mapstructure:"format" validate:"required,oneof=console json" yaml:"format"`
}

// RemoteConfig describes the HTTP endpoint pages are fetched from.
type RemoteConfig struct {
	Endpoint     string        `mapstructure:"endpoint" validate:"required,url" yaml:"endpoint"`
	CursorParam  string        `mapstructure:"cursor_param" validate:"required" yaml:"cursor_param"`
	LimitParam   string        `mapstructure:"limit_param" validate:"required" yaml:"limit_param"`
	Retries      int           `mapstructure:"retries" validate:"min=0" yaml:"retries"`
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min" validate:"gt=0" yaml:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max" validate:"gtefield=RetryWaitMin" yaml:"retry_wait_max"`

	// RateLimit is the number of requests per second. Zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0" yaml:"rate_limit"`

	// FetchRetries reruns a whole page fetch, shard merge included, after
	// Retries gave up on the HTTP request.
	FetchRetries int `mapstructure:"fetch_retries" validate:"min=0" yaml:"fetch_retries"`

	// Prefetch fetches the page after every fetched page in the background.
	Prefetch bool `mapstructure:"prefetch" yaml:"prefetch"`

	// PageCacheTTL keeps fetched pages in memory for this long. Zero
	// disables the page cache.
	PageCacheTTL time.Duration `mapstructure:"page_cache_ttl" validate:"gte=0" yaml:"page_cache_ttl"`

	// Shards splits fetching across this many copies of the endpoint whose
	// pages are merged by id. One disables merging.
	Shards int `mapstructure:"shards" validate:"min=1,max=16" yaml:"shards"`
}

// CacheConfig describes the local store.
type CacheConfig struct {
	// Dir holds the badger database. Empty keeps the store in memory.
	Dir        string        `mapstructure:"dir" yaml:"dir"`
	StaleAfter time.Duration `mapstructure:"stale_after" validate:"gt=0" yaml:"stale_after"`
}

// ServerConfig configures the fixture server.
type ServerConfig struct {
	Addr  string `mapstructure:"addr" validate:"required,hostname_port" yaml:"addr"`
	Items int    `mapstructure:"items" validate:"min=0" yaml:"items"`
}

var configValidator = validator.New()

// Load reads configuration from path, the environment and defaults, in
// decreasing precedence: environment, file, defaults. An empty or missing
// path uses defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setupViper(v, path)

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, path string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper knows about.
	d := Default()
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("paging.page_size", d.Paging.PageSize)
	v.SetDefault("paging.prefetch_distance", d.Paging.PrefetchDistance)
	v.SetDefault("paging.initial_load_size_hint", d.Paging.InitialLoadSizeHint)
	v.SetDefault("remote.endpoint", d.Remote.Endpoint)
	v.SetDefault("remote.cursor_param", d.Remote.CursorParam)
	v.SetDefault("remote.limit_param", d.Remote.LimitParam)
	v.SetDefault("remote.retries", d.Remote.Retries)
	v.SetDefault("remote.retry_wait_min", d.Remote.RetryWaitMin)
	v.SetDefault("remote.retry_wait_max", d.Remote.RetryWaitMax)
	v.SetDefault("remote.rate_limit", d.Remote.RateLimit)
	v.SetDefault("remote.fetch_retries", d.Remote.FetchRetries)
	v.SetDefault("remote.prefetch", d.Remote.Prefetch)
	v.SetDefault("remote.page_cache_ttl", d.Remote.PageCacheTTL)
	v.SetDefault("remote.shards", d.Remote.Shards)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.stale_after", d.Cache.StaleAfter)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.items", d.Server.Items)

	if path != "" {
		v.SetConfigFile(path)
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Paging: pagedlist.Config{
			PageSize:            20,
			PrefetchDistance:    20,
			InitialLoadSizeHint: 60,
		},
		Remote: RemoteConfig{
			Endpoint:     "http://127.0.0.1:8080/items",
			CursorParam:  "since",
			LimitParam:   "per_page",
			Retries:      3,
			RetryWaitMin: 100 * time.Millisecond,
			RetryWaitMax: 5 * time.Second,
			FetchRetries: 1,
			Shards:       1,
		},
		Cache:  CacheConfig{StaleAfter: 5 * time.Minute},
		Server: ServerConfig{Addr: "127.0.0.1:8080", Items: 500},
	}
}

// ApplyDefaults fills values a config file may leave out and normalizes the
// rest.
func ApplyDefaults(cfg *Config) {
	d := Default()
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
	if cfg.Remote.Shards == 0 {
		cfg.Remote.Shards = 1
	}
	if cfg.Cache.StaleAfter == 0 {
		cfg.Cache.StaleAfter = d.Cache.StaleAfter
	}
}

// Validate checks every field constraint, including the paging config.
func Validate(cfg *Config) error {
	if err := cfg.Paging.Validate(); err != nil {
		return err
	}
	return configValidator.Struct(cfg)
}
