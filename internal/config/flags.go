package config

import (
	"time"

	flag "github.com/spf13/pflag"
)

// Flags are the global command-line overrides.
type Flags struct {
	fs *flag.FlagSet

	ConfigPath string
	baseURL    string
	timeout    time.Duration
	logLevel   string
	logBackend string
	retention  time.Duration
	tierKind   string
	codec      string
	tierTTL    time.Duration
	redisAddr  string
	metrics    bool
}

// RegisterFlags defines the global flags on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	def := Default()
	fs.StringVarP(&f.ConfigPath, "config", "c", "", "Path to a JSONC config file")
	fs.StringVar(&f.baseURL, "base-url", def.BaseURL, "PokeAPI base URL")
	fs.DurationVar(&f.timeout, "timeout", time.Duration(def.Timeout), "HTTP timeout per request")
	fs.StringVar(&f.logLevel, "log-level", def.Log.Level, "debug|info|warn|error")
	fs.StringVar(&f.logBackend, "log-backend", def.Log.Backend, "slog|zap|logrus")
	fs.DurationVar(&f.retention, "retention", time.Duration(def.Cache.Retention), "How long unobserved entries are kept (0 = forever)")
	fs.StringVar(&f.tierKind, "tier", def.Tier.Kind, "Warm tier: none|ristretto|bigcache|redis")
	fs.StringVar(&f.codec, "codec", def.Tier.Codec, "Warm tier codec: json|cbor|msgpack|protobuf")
	fs.DurationVar(&f.tierTTL, "tier-ttl", time.Duration(def.Tier.TTL), "Warm tier entry TTL")
	fs.StringVar(&f.redisAddr, "redis-addr", def.Tier.RedisAddr, "Redis address for --tier=redis")
	fs.BoolVar(&f.metrics, "metrics", false, "Print cache metrics to stderr on exit")
	return f
}

// Apply copies the flags that were set explicitly onto cfg.
func (f *Flags) Apply(cfg Config) Config {
	set := func(name string) bool { return f.fs.Changed(name) }
	if set("base-url") {
		cfg.BaseURL = f.baseURL
	}
	if set("timeout") {
		cfg.Timeout = Duration(f.timeout)
	}
	if set("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if set("log-backend") {
		cfg.Log.Backend = f.logBackend
	}
	if set("retention") {
		cfg.Cache.Retention = Duration(f.retention)
	}
	if set("tier") {
		cfg.Tier.Kind = f.tierKind
	}
	if set("codec") {
		cfg.Tier.Codec = f.codec
	}
	if set("tier-ttl") {
		cfg.Tier.TTL = Duration(f.tierTTL)
	}
	if set("redis-addr") {
		cfg.Tier.RedisAddr = f.redisAddr
	}
	if set("metrics") {
		cfg.Metrics = f.metrics
	}
	return cfg
}
