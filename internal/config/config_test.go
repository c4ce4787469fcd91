package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"structure-signals/internal/market"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Engine.MinCandles != 30 || cfg.Engine.SwingStrength != 2 {
		t.Fatalf("unexpected engine defaults %+v", cfg.Engine)
	}
	if cfg.Gate.Threshold != 0.8 || len(cfg.Gate.Sessions) != 4 {
		t.Fatalf("unexpected gate defaults %+v", cfg.Gate)
	}
	if cfg.Planner.EntryWindow != 15*time.Minute || cfg.Planner.TradeWindow != 2*time.Hour {
		t.Fatalf("unexpected planner windows %v %v", cfg.Planner.EntryWindow, cfg.Planner.TradeWindow)
	}
	if len(cfg.Instruments) != 1 || cfg.Instruments[0].TF() != market.M5 {
		t.Fatalf("unexpected instruments %+v", cfg.Instruments)
	}
	if got := cfg.Instruments[0].Grid().PipSize.String(); got != "0.0001" {
		t.Fatalf("pip size = %s", got)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
database:
  driver: sqlite
  sqlite_path: /tmp/signals.db
instruments:
  - symbol: GBP/USD
    timeframe: 15min
    pip_size: "0.0001"
    precision: 5
    spread_pips: 1.2
gate:
  sessions:
    - name: london
      start_hour: 7
      end_hour: 16
      weight: 1.0
lifecycle:
  prepared_lease: 90s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("STRUCTSIG_GATE_THRESHOLD", "0.7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.SQLitePath != "/tmp/signals.db" {
		t.Fatalf("database = %+v", cfg.Database)
	}
	inst, ok := cfg.Instrument("gbp/usd")
	if !ok || inst.TF() != market.M15 {
		t.Fatalf("instrument lookup failed: %+v", inst)
	}
	if len(cfg.Gate.Sessions) != 1 || cfg.Gate.Sessions[0].EndHour != 16 {
		t.Fatalf("sessions = %+v", cfg.Gate.Sessions)
	}
	if cfg.Gate.Threshold != 0.7 {
		t.Fatalf("env override ignored: %v", cfg.Gate.Threshold)
	}
	if cfg.Lifecycle.PreparedLease != 90*time.Second {
		t.Fatalf("lease = %v", cfg.Lifecycle.PreparedLease)
	}
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"no instruments", func(c *Config) { c.Instruments = nil }, "instrument"},
		{"bad timeframe", func(c *Config) { c.Instruments[0].Timeframe = "7min" }, "timeframe"},
		{"bad pip", func(c *Config) { c.Instruments[0].PipSize = "-1" }, "pip_size"},
		{"short window", func(c *Config) { c.Feed.WindowSize = 10 }, "window_size"},
		{"inverted thresholds", func(c *Config) { c.Engine.BearishThreshold = 0.7 }, "bearish_threshold"},
		{"gate threshold", func(c *Config) { c.Gate.Threshold = 1.5 }, "gate.threshold"},
		{"planner mode", func(c *Config) { c.Planner.Mode = "random" }, "planner.mode"},
		{"lease", func(c *Config) { c.Lifecycle.PreparedLease = 0 }, "prepared_lease"},
		{"telegram token", func(c *Config) { c.Alerting.Telegram.Enabled = true }, "bot_token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			c.Instruments = append([]InstrumentConfig(nil), base.Instruments...)
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestResolveMaxRows(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxRows: 50}}
	if got := cfg.ResolveMaxRows(0); got != 50 {
		t.Fatalf("ResolveMaxRows(0) = %d", got)
	}
	if got := cfg.ResolveMaxRows(7); got != 7 {
		t.Fatalf("ResolveMaxRows(7) = %d", got)
	}
}
