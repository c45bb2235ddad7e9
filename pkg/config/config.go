// Package config loads scenecap settings from an optional TOML file and the
// environment. Environment values win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/chriscow/scenecap-go/pkg/modelcache"
)

// Environment variables read by Load.
const (
	EnvToken       = "HF_TOKEN"
	EnvTokenLegacy = "HUGGING_FACE_HUB_TOKEN"
	EnvCacheRoot   = "SCENECAP_CACHE_ROOT"
	EnvHubEndpoint = "HF_ENDPOINT"
	EnvLogLevel    = "SCENECAP_LOG_LEVEL"
	EnvLogFormat   = "SCENECAP_LOG_FORMAT"
	EnvBackend     = "SCENECAP_BACKEND"
)

// Duration is a time.Duration written as a string in TOML ("90s", "30m").
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// RetryConfig mirrors modelcache.RetryConfig in file form.
type RetryConfig struct {
	MaxRetries    int      `toml:"max_retries"`
	InitialDelay  Duration `toml:"initial_delay"`
	MaxDelay      Duration `toml:"max_delay"`
	BackoffFactor float64  `toml:"backoff_factor"`
	JitterPercent float32  `toml:"jitter_percent"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json or console
}

// Config is the resolved process configuration.
type Config struct {
	CacheRoot      string      `toml:"cache_root"`
	FetchTimeout   Duration    `toml:"fetch_timeout"`
	Backend        string      `toml:"backend"`
	HubEndpoint    string      `toml:"hub_endpoint"`
	RecoverCorrupt bool        `toml:"recover_corrupt"`
	Retry          RetryConfig `toml:"retry"`
	Log            LogConfig   `toml:"log"`

	// Token is only ever taken from the environment.
	Token string `toml:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	mc := modelcache.DefaultConfig()
	return Config{
		CacheRoot:      mc.CacheRoot,
		FetchTimeout:   Duration(mc.FetchTimeout),
		Backend:        "onnx",
		RecoverCorrupt: mc.RecoverCorrupt,
		Retry: RetryConfig{
			MaxRetries:    mc.Retry.MaxRetries,
			InitialDelay:  Duration(mc.Retry.InitialDelay),
			MaxDelay:      Duration(mc.Retry.MaxDelay),
			BackoffFactor: mc.Retry.BackoffFactor,
			JitterPercent: mc.Retry.JitterPercent,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment
// overrides. A missing file named explicitly is an error.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.Getenv)
}

// LoadWithEnv is Load with an injectable environment lookup.
func LoadWithEnv(path string, getenv func(string) string) (Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config file %s not found", path)
			}
			return Config{}, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("unknown keys in config file %s: %v", path, undecoded)
		}
	}

	if v := getenv(EnvCacheRoot); v != "" {
		cfg.CacheRoot = v
	}
	if v := getenv(EnvHubEndpoint); v != "" {
		cfg.HubEndpoint = v
	}
	if v := getenv(EnvBackend); v != "" {
		cfg.Backend = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv(EnvLogFormat); v != "" {
		cfg.Log.Format = v
	}

	cfg.Token = getenv(EnvToken)
	if cfg.Token == "" {
		cfg.Token = getenv(EnvTokenLegacy)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the loader cannot work with.
func (c Config) Validate() error {
	if c.CacheRoot == "" {
		return errors.New("cache_root must not be empty")
	}
	if c.FetchTimeout < 0 {
		return fmt.Errorf("fetch_timeout must not be negative, got %s", time.Duration(c.FetchTimeout))
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.BackoffFactor < 1 {
		return fmt.Errorf("retry.backoff_factor must be at least 1, got %g", c.Retry.BackoffFactor)
	}
	if c.Retry.JitterPercent < 0 || c.Retry.JitterPercent > 1 {
		return fmt.Errorf("retry.jitter_percent must be within [0, 1], got %g", c.Retry.JitterPercent)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// ModelCache converts the file configuration into loader configuration.
func (c Config) ModelCache() modelcache.Config {
	return modelcache.Config{
		CacheRoot:      c.CacheRoot,
		Token:          c.Token,
		FetchTimeout:   time.Duration(c.FetchTimeout),
		RecoverCorrupt: c.RecoverCorrupt,
		HubEndpoint:    c.HubEndpoint,
		Retry: modelcache.RetryConfig{
			MaxRetries:    c.Retry.MaxRetries,
			InitialDelay:  time.Duration(c.Retry.InitialDelay),
			MaxDelay:      time.Duration(c.Retry.MaxDelay),
			BackoffFactor: c.Retry.BackoffFactor,
			JitterPercent: c.Retry.JitterPercent,
		},
	}
}
