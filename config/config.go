// Package config loads tick clock settings from the environment and flags.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Journal backends
const (
	JournalNone   = "none"
	JournalBadger = "badger"
	JournalSQLite = "sqlite"
)

// Config holds the runtime configuration of a clock process.
type Config struct {
	ClockName     string        `env:"TICKCLOCK_NAME" envDefault:"game"`
	TickDuration  time.Duration `env:"TICKCLOCK_TICK" envDefault:"50ms"`
	MaxWorkers    int           `env:"TICKCLOCK_MAX_WORKERS" envDefault:"8"`
	ShutdownGrace time.Duration `env:"TICKCLOCK_SHUTDOWN_GRACE" envDefault:"0s"`
	RunFor        time.Duration `env:"TICKCLOCK_RUN_FOR" envDefault:"0s"`

	JournalBackend   string        `env:"TICKCLOCK_JOURNAL" envDefault:"badger"`
	JournalPath      string        `env:"TICKCLOCK_JOURNAL_PATH"`
	JournalRetention time.Duration `env:"TICKCLOCK_JOURNAL_RETENTION" envDefault:"24h"`
	ReaperSchedule   string        `env:"TICKCLOCK_REAPER_SCHEDULE" envDefault:"@hourly"`

	BackoffFactor   float64       `env:"TICKCLOCK_BACKOFF_FACTOR" envDefault:"1.5"`
	MaxTickDuration time.Duration `env:"TICKCLOCK_MAX_TICK" envDefault:"1s"`
	MaxRestarts     int           `env:"TICKCLOCK_MAX_RESTARTS" envDefault:"5"`

	LogLevel     string `env:"TICKCLOCK_LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"TICKCLOCK_LOG_FORMAT" envDefault:"console"`
	OTLPEndpoint string `env:"TICKCLOCK_OTLP_ENDPOINT"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Parse parses environment and flags into a Config. Flags override the
// environment.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	cfg, err := ParseEnv()
	if err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.ClockName, "name", cfg.ClockName, "Clock name used in logs, metrics and worker names")
	fs.DurationVar(&cfg.TickDuration, "tick", cfg.TickDuration, "Tick period")
	fs.IntVar(&cfg.MaxWorkers, "max-workers", cfg.MaxWorkers, "Maximum concurrently running listeners")
	fs.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", cfg.ShutdownGrace, "How long shutdown waits for the current tick (0 = one tick)")
	fs.DurationVar(&cfg.RunFor, "run-for", cfg.RunFor, "Stop after this long (0 = until interrupted)")
	fs.StringVar(&cfg.JournalBackend, "journal", cfg.JournalBackend, "Fault journal backend: badger, sqlite or none")
	fs.StringVar(&cfg.JournalPath, "journal-path", cfg.JournalPath, "Fault journal location (empty badger path = in memory)")
	fs.DurationVar(&cfg.JournalRetention, "journal-retention", cfg.JournalRetention, "How long fault records are kept")
	fs.StringVar(&cfg.ReaperSchedule, "reaper-schedule", cfg.ReaperSchedule, "Cron expression for journal pruning")
	fs.Float64Var(&cfg.BackoffFactor, "backoff-factor", cfg.BackoffFactor, "Tick period multiplier applied after an overrun")
	fs.DurationVar(&cfg.MaxTickDuration, "max-tick", cfg.MaxTickDuration, "Upper bound for a stretched tick period")
	fs.IntVar(&cfg.MaxRestarts, "max-restarts", cfg.MaxRestarts, "Restarts before the clock is left stopped (0 = unlimited)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: console or json")
	fs.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", cfg.OTLPEndpoint, "OTLP/HTTP trace endpoint URL (empty disables tracing)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the clock would otherwise reject at construction.
func (c Config) Validate() error {
	if c.TickDuration <= 0 {
		return fmt.Errorf("tick must be positive, got %s", c.TickDuration)
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown grace must not be negative, got %s", c.ShutdownGrace)
	}
	switch strings.ToLower(c.JournalBackend) {
	case JournalNone, JournalBadger:
	case JournalSQLite:
		if strings.TrimSpace(c.JournalPath) == "" {
			return fmt.Errorf("sqlite journal requires a path")
		}
	default:
		return fmt.Errorf("unknown journal backend %q", c.JournalBackend)
	}
	return nil
}
