package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/scenecap-go/pkg/modelcache"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenecap.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsMatchLoader(t *testing.T) {
	is := is.New(t)

	cfg, err := LoadWithEnv("", env(nil))
	is.NoErr(err)

	mc := cfg.ModelCache()
	def := modelcache.DefaultConfig()
	is.Equal(mc.CacheRoot, "./model_cache")
	is.Equal(mc.FetchTimeout, def.FetchTimeout)
	is.Equal(mc.Retry, def.Retry)
	is.Equal(mc.RecoverCorrupt, true)
	is.Equal(mc.Token, "")
	is.Equal(cfg.Backend, "onnx")
	is.Equal(cfg.Log.Format, "json")
}

func TestLoadFile(t *testing.T) {
	is := is.New(t)

	path := writeConfig(t, `
cache_root = "/var/cache/scenecap"
fetch_timeout = "90s"
backend = "fake"
hub_endpoint = "https://mirror.example"
recover_corrupt = false

[retry]
max_retries = 5
initial_delay = "250ms"
max_delay = "10s"
backoff_factor = 1.5
jitter_percent = 0.2

[log]
level = "debug"
format = "console"
`)

	cfg, err := LoadWithEnv(path, env(nil))
	is.NoErr(err)

	mc := cfg.ModelCache()
	is.Equal(mc.CacheRoot, "/var/cache/scenecap")
	is.Equal(mc.FetchTimeout, 90*time.Second)
	is.Equal(mc.HubEndpoint, "https://mirror.example")
	is.Equal(mc.RecoverCorrupt, false)
	is.Equal(mc.Retry.MaxRetries, 5)
	is.Equal(mc.Retry.InitialDelay, 250*time.Millisecond)
	is.Equal(mc.Retry.MaxDelay, 10*time.Second)
	is.Equal(mc.Retry.BackoffFactor, 1.5)
	is.Equal(cfg.Backend, "fake")
	is.Equal(cfg.Log, LogConfig{Level: "debug", Format: "console"})
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	is := is.New(t)

	cfg, err := LoadWithEnv(writeConfig(t, `cache_root = "/tmp/models"`), env(nil))
	is.NoErr(err)
	is.Equal(cfg.CacheRoot, "/tmp/models")
	is.Equal(cfg.Retry.MaxRetries, modelcache.DefaultRetryConfig.MaxRetries)
	is.Equal(cfg.RecoverCorrupt, true)
}

func TestEnvOverridesFile(t *testing.T) {
	is := is.New(t)

	path := writeConfig(t, `
cache_root = "/from/file"
hub_endpoint = "https://file.example"
`)
	cfg, err := LoadWithEnv(path, env(map[string]string{
		EnvCacheRoot:   "/from/env",
		EnvHubEndpoint: "https://env.example",
		EnvLogLevel:    "warn",
		EnvLogFormat:   "console",
		EnvBackend:     "fake",
	}))
	is.NoErr(err)
	is.Equal(cfg.CacheRoot, "/from/env")
	is.Equal(cfg.HubEndpoint, "https://env.example")
	is.Equal(cfg.Log, LogConfig{Level: "warn", Format: "console"})
	is.Equal(cfg.Backend, "fake")
}

func TestTokenResolution(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"none", nil, ""},
		{"primary", map[string]string{EnvToken: "hf_a"}, "hf_a"},
		{"legacy", map[string]string{EnvTokenLegacy: "hf_b"}, "hf_b"},
		{"primary wins", map[string]string{EnvToken: "hf_a", EnvTokenLegacy: "hf_b"}, "hf_a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			cfg, err := LoadWithEnv("", env(tt.vars))
			is.NoErr(err)
			is.Equal(cfg.Token, tt.want)
			is.Equal(cfg.ModelCache().Token, tt.want)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad duration", `fetch_timeout = "soon"`, "invalid duration"},
		{"unknown key", `cache_dir = "/x"`, "unknown keys"},
		{"bad syntax", `cache_root = `, "failed to decode"},
		{"empty cache root", `cache_root = ""`, "cache_root"},
		{"negative retries", "[retry]\nmax_retries = -1", "max_retries"},
		{"bad jitter", "[retry]\njitter_percent = 2.0", "jitter_percent"},
		{"bad format", "[log]\nformat = \"xml\"", "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			_, err := LoadWithEnv(writeConfig(t, tt.body), env(nil))
			is.True(err != nil)
			is.True(strings.Contains(err.Error(), tt.want))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	is := is.New(t)
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "absent.toml"), env(nil))
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "not found"))
}
