// Package config loads runtime settings for the mutate tooling.
//
// Settings are resolved in order, later sources winning:
//
//  1. built-in defaults
//  2. a TOML file (optional)
//  3. MUTATE_* environment variables, after loading .env files
//
// The result is validated before it is returned.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Environment variables that override file settings.
const (
	EnvLogLevel       = "MUTATE_LOG_LEVEL"
	EnvLogFormat      = "MUTATE_LOG_FORMAT"
	EnvStorePath      = "MUTATE_STORE_PATH"
	EnvLatestOnly     = "MUTATE_LATEST_ONLY"
	EnvMetricsEnabled = "MUTATE_METRICS_ENABLED"
	EnvMetricsAddr    = "MUTATE_METRICS_ADDR"
)

// Config is the full settings tree.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Store    StoreConfig    `toml:"store"`
	Mutation MutationConfig `toml:"mutation"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type MutationConfig struct {
	// LatestOnly ignores settlements of superseded triggers.
	LatestOnly bool `toml:"latest_only"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Log:   LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{Path: "mutate.db"},
	}
}

// Load resolves the settings. An empty path skips the TOML file; a
// missing .env file is not an error.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := Decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}

	if err := LoadEnvFiles(envFiles...); err != nil {
		return Config{}, err
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode parses TOML over cfg. Unknown keys are rejected so typos surface.
func Decode(data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("unknown keys: %s", strict.String())
		}
		return err
	}
	return nil
}

// LoadEnvFiles loads .env files into the process environment without
// overriding variables that are already set. With no arguments it tries
// ".env" and ignores its absence.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg with MUTATE_* variables found by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.Log.Level = v
	}
	if v, ok := lookup(EnvLogFormat); ok {
		cfg.Log.Format = v
	}
	if v, ok := lookup(EnvStorePath); ok {
		cfg.Store.Path = v
	}
	if v, ok := lookup(EnvMetricsAddr); ok {
		cfg.Metrics.Addr = v
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{EnvLatestOnly, &cfg.Mutation.LatestOnly},
		{EnvMetricsEnabled, &cfg.Metrics.Enabled},
	}
	for _, b := range bools {
		v, ok := lookup(b.key)
		if !ok {
			continue
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid bool %q", b.key, v)
		}
		*b.dst = parsed
	}
	return nil
}

// Validate checks the settings.
func (c Config) Validate() error {
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Metrics.Addr != "" && !c.Metrics.Enabled {
		return fmt.Errorf("metrics.addr is set but metrics are disabled")
	}
	return nil
}

// Logger builds the slog logger described by the log section.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
