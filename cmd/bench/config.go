package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// config is the bench workload. Every field can be set by flag, by a
// FLIGHTCACHE_* environment variable or by a config file.
type config struct {
	Capacity    uint64        `mapstructure:"capacity"`
	Workers     int           `mapstructure:"workers"`
	PoolWorkers int           `mapstructure:"pool_workers"`
	Duration    time.Duration `mapstructure:"duration"`

	Keys    uint64        `mapstructure:"keys"`
	ZipfS   float64       `mapstructure:"zipf_s"`
	ZipfV   float64       `mapstructure:"zipf_v"`
	Seed    int64         `mapstructure:"seed"`
	Latency time.Duration `mapstructure:"latency"`
	Payload int           `mapstructure:"payload"`
	Preload int           `mapstructure:"preload"`

	PprofAddr   string `mapstructure:"pprof"`
	MetricsAddr string `mapstructure:"http"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

func registerFlags(fs *pflag.FlagSet) {
	fs.Uint64("capacity", 64<<20, "cache budget in bytes")
	fs.Int("workers", 2*runtime.GOMAXPROCS(0), "reader goroutines")
	fs.Int("pool_workers", 0, "fetch thread pool size (0 = goroutine per fetch)")
	fs.Duration("duration", 10*time.Second, "benchmark duration")

	fs.Uint64("keys", 100_000, "partition keyspace size")
	fs.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
	fs.Float64("zipf_v", 1.0, "Zipf v >= 1")
	fs.Int64("seed", time.Now().UnixNano(), "random seed")
	fs.Duration("latency", 2*time.Millisecond, "simulated fetch latency")
	fs.Int("payload", 1024, "payload size in bytes")
	fs.Int("preload", 0, "partitions to prefetch before the run")

	fs.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
	fs.String("http", ":8080", "serve Prometheus metrics at addr; empty = disabled")

	fs.String("log_level", "info", "trace, debug, info, warn, error")
	fs.String("log_format", "console", "console or json")
}

// loadConfig resolves flags, environment and the optional config file into
// a validated config.
func loadConfig(fs *pflag.FlagSet, file string) (config, error) {
	v := viper.New()
	v.SetEnvPrefix("FLIGHTCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return config{}, fmt.Errorf("bind flags: %w", err)
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	case c.Keys == 0:
		return fmt.Errorf("keys must be positive")
	case c.ZipfS <= 1:
		return fmt.Errorf("zipf_s must be > 1, got %v", c.ZipfS)
	case c.ZipfV < 1:
		return fmt.Errorf("zipf_v must be >= 1, got %v", c.ZipfV)
	case c.Payload < 0:
		return fmt.Errorf("payload must not be negative, got %d", c.Payload)
	}
	return nil
}

// newLogger mirrors the usual console/json switch; output goes to w.
func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}
	if w == nil {
		w = os.Stderr
	}
	switch format {
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q (use console or json)", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}
