// Package config loads pokedex settings from a JSON-with-comments file and
// command-line flags. Precedence, lowest first: defaults, config file, flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tailscale/hujson"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigInvalid      = errors.New("invalid config")
)

// Duration is a time.Duration written as "10s" in config files.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type LogConfig struct {
	Level   string `json:"level,omitempty"`   // debug|info|warn|error
	Backend string `json:"backend,omitempty"` // slog|zap|logrus
}

type CacheConfig struct {
	// Retention of unobserved entries; 0 keeps them for the process lifetime.
	Retention Duration `json:"retention"`
}

type TierConfig struct {
	Kind      string   `json:"kind,omitempty"`  // none|ristretto|bigcache|redis
	Codec     string   `json:"codec,omitempty"` // json|cbor|msgpack|protobuf
	TTL       Duration `json:"ttl"` // 0 => tier.DefaultTTL
	MaxMB     int      `json:"max_mb,omitempty"` // in-process tiers
	RedisAddr string   `json:"redis_addr,omitempty"`
}

// Config holds all configuration options.
type Config struct {
	BaseURL string      `json:"base_url,omitempty"`
	Timeout Duration    `json:"timeout,omitempty"`
	Log     LogConfig   `json:"log"`
	Cache   CacheConfig `json:"cache"`
	Tier    TierConfig  `json:"tier"`
	Metrics bool        `json:"metrics,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		BaseURL: "https://pokeapi.co/api/v2",
		Timeout: Duration(10 * time.Second),
		Log:     LogConfig{Level: "warn", Backend: "slog"},
		Cache:   CacheConfig{Retention: Duration(5 * time.Minute)},
		Tier: TierConfig{
			Kind:      "none",
			Codec:     "json",
			TTL:       Duration(10 * time.Minute),
			MaxMB:     64,
			RedisAddr: "localhost:6379",
		},
	}
}

// GlobalPath returns $XDG_CONFIG_HOME/pokedex/config.json, falling back to
// ~/.config/pokedex/config.json. Empty if neither can be determined.
func GlobalPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "pokedex", "config.json")
	}
	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "pokedex", "config.json")
	}
	return ""
}

// Load applies the global config file (optional) and then the explicit one
// (must exist, if path is set) over the defaults. Each file overrides exactly
// the fields it names, zero values included. It returns the path of the file
// that was applied last, or "".
func Load(path string, env map[string]string) (Config, string, error) {
	cfg := Default()
	var source string

	if global := GlobalPath(env); global != "" {
		next, loaded, err := loadFile(cfg, global, false)
		if err != nil {
			return Config{}, "", err
		}
		if loaded {
			cfg = next
			source = global
		}
	}

	if path != "" {
		next, _, err := loadFile(cfg, path, true)
		if err != nil {
			return Config{}, "", err
		}
		cfg = next
		source = path
	}
	return cfg, source, nil
}

func loadFile(base Config, path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) {
			if mustExist {
				return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
			}
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg, err := ParseOver(base, data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}
	return cfg, true, nil
}

// Parse decodes JSONC (comments and trailing commas allowed). Unknown fields
// are rejected.
func Parse(data []byte) (Config, error) {
	return ParseOver(Config{}, data)
}

// ParseOver is Parse on top of base: fields absent from data keep base's value.
func ParseOver(base Config, data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	dec := json.NewDecoder(strings.NewReader(string(standardized)))
	dec.DisallowUnknownFields()
	cfg := base
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return cfg, nil
}

func oneOf(field, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %q (want one of %s)", ErrConfigInvalid, field, v, strings.Join(allowed, ", "))
}

// Validate checks enumerations and ranges.
func Validate(cfg Config) error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("%w: base_url is empty", ErrConfigInvalid)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be > 0", ErrConfigInvalid)
	}
	if cfg.Cache.Retention < 0 || cfg.Tier.TTL < 0 || cfg.Tier.MaxMB < 0 {
		return fmt.Errorf("%w: durations and sizes must not be negative", ErrConfigInvalid)
	}
	return errors.Join(
		oneOf("log.level", cfg.Log.Level, "debug", "info", "warn", "error"),
		oneOf("log.backend", cfg.Log.Backend, "slog", "zap", "logrus"),
		oneOf("tier.kind", cfg.Tier.Kind, "none", "ristretto", "bigcache", "redis"),
		oneOf("tier.codec", cfg.Tier.Codec, "json", "cbor", "msgpack", "protobuf"),
	)
}

// Format returns the config as indented JSON.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}
	return string(data), nil
}
