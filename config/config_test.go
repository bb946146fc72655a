package config

import (
	"flag"
	"testing"
	"time"
)

func TestParse_DefaultsEnvAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("tickclock", flag.ContinueOnError)
	t.Setenv("TICKCLOCK_NAME", "arena")
	t.Setenv("TICKCLOCK_TICK", "20ms")

	cfg, err := Parse(fs, []string{"-max-workers", "3", "-tick", "40ms"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.ClockName != "arena" {
		t.Fatalf("clock name = %q, want %q", cfg.ClockName, "arena")
	}
	if cfg.TickDuration != 40*time.Millisecond {
		t.Fatalf("tick = %s, want 40ms (flag overrides env)", cfg.TickDuration)
	}
	if cfg.MaxWorkers != 3 {
		t.Fatalf("max workers = %d, want 3", cfg.MaxWorkers)
	}
	if cfg.JournalBackend != JournalBadger {
		t.Fatalf("journal = %q, want %q", cfg.JournalBackend, JournalBadger)
	}
	if cfg.JournalRetention != 24*time.Hour {
		t.Fatalf("journal retention = %s, want 24h", cfg.JournalRetention)
	}
	if cfg.ReaperSchedule != "@hourly" {
		t.Fatalf("reaper schedule = %q, want @hourly", cfg.ReaperSchedule)
	}
}

func TestParse_InvalidEnv(t *testing.T) {
	fs := flag.NewFlagSet("tickclock", flag.ContinueOnError)
	t.Setenv("TICKCLOCK_TICK", "soon")

	if _, err := Parse(fs, nil); err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}

func TestValidate(t *testing.T) {
	valid, err := ParseEnv()
	if err != nil {
		t.Fatalf("parse env: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero tick", func(c *Config) { c.TickDuration = 0 }, true},
		{"negative grace", func(c *Config) { c.ShutdownGrace = -time.Second }, true},
		{"no journal", func(c *Config) { c.JournalBackend = JournalNone }, false},
		{"sqlite without path", func(c *Config) { c.JournalBackend = JournalSQLite }, true},
		{"sqlite with path", func(c *Config) { c.JournalBackend = JournalSQLite; c.JournalPath = "faults.db" }, false},
		{"unknown journal", func(c *Config) { c.JournalBackend = "redis" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
