package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.CooldownMinutes != 5 {
		t.Errorf("CooldownMinutes = %d, want 5", cfg.CooldownMinutes)
	}
	if cfg.ConfidenceThreshold != 0.8 {
		t.Errorf("ConfidenceThreshold = %g, want 0.8", cfg.ConfidenceThreshold)
	}
	if cfg.IncidentDeadlineMinutes != 15 {
		t.Errorf("IncidentDeadlineMinutes = %d, want 15", cfg.IncidentDeadlineMinutes)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if len(cfg.Risk.BlockedWindows) != 1 {
		t.Fatalf("expected 1 default blocked window, got %d", len(cfg.Risk.BlockedWindows))
	}
	w := cfg.Risk.BlockedWindows[0]
	if w.DayOfWeek != time.Friday || w.StartHour != 16 || w.EndHour != 23 {
		t.Errorf("default blocked window = %+v", w)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), true)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.CooldownMinutes != 5 {
		t.Errorf("CooldownMinutes = %d, want default 5", cfg.CooldownMinutes)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
cooldown_minutes: 30
confidence_threshold: 0.9
listen_addr: ":9090"
risk:
  blocked_windows:
    - day_of_week: 6
      start_hour: 0
      end_hour: 23
notifications:
  default_email: team@example.com
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.CooldownMinutes != 30 {
		t.Errorf("CooldownMinutes = %d, want 30", cfg.CooldownMinutes)
	}
	if cfg.ConfidenceThreshold != 0.9 {
		t.Errorf("ConfidenceThreshold = %g, want 0.9", cfg.ConfidenceThreshold)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Notifications.DefaultEmail != "team@example.com" {
		t.Errorf("DefaultEmail = %q", cfg.Notifications.DefaultEmail)
	}
	if len(cfg.Risk.BlockedWindows) != 1 || cfg.Risk.BlockedWindows[0].DayOfWeek != time.Saturday {
		t.Errorf("BlockedWindows = %+v", cfg.Risk.BlockedWindows)
	}
	// Settings absent from the file keep their defaults.
	if cfg.MaxConcurrentIncidents != 16 {
		t.Errorf("MaxConcurrentIncidents = %d, want default 16", cfg.MaxConcurrentIncidents)
	}
}

func TestLoadStrictRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("cooldwn_minutes: 30\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, true); err == nil {
		t.Error("strict mode should reject unknown keys")
	}
	if _, err := Load(path, false); err != nil {
		t.Errorf("permissive mode should ignore unknown keys: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AIOPS_COOLDOWN_MINUTES", "45")
	t.Setenv("AIOPS_CONFIDENCE_THRESHOLD", "0.75")
	t.Setenv("AIOPS_CENTRAL_REGION", "eu-west-1")

	cfg, err := Load("", false)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.CooldownMinutes != 45 {
		t.Errorf("CooldownMinutes = %d, want 45", cfg.CooldownMinutes)
	}
	if cfg.ConfidenceThreshold != 0.75 {
		t.Errorf("ConfidenceThreshold = %g, want 0.75", cfg.ConfidenceThreshold)
	}
	if cfg.CentralRegion != "eu-west-1" {
		t.Errorf("CentralRegion = %q", cfg.CentralRegion)
	}
}

func TestEnvOverrideInvalidNumber(t *testing.T) {
	t.Setenv("AIOPS_COOLDOWN_MINUTES", "soon")
	if _, err := Load("", false); err == nil {
		t.Error("expected error for non-numeric env override")
	}
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"cooldown too low", func(c *Config) { c.CooldownMinutes = 0 }},
		{"cooldown too high", func(c *Config) { c.CooldownMinutes = 1441 }},
		{"confidence negative", func(c *Config) { c.ConfidenceThreshold = -0.1 }},
		{"confidence above one", func(c *Config) { c.ConfidenceThreshold = 1.1 }},
		{"deadline zero", func(c *Config) { c.IncidentDeadlineMinutes = 0 }},
		{"concurrency zero", func(c *Config) { c.MaxConcurrentIncidents = 0 }},
		{"window hour out of range", func(c *Config) {
			c.Risk.BlockedWindows = []BlockedWindow{{DayOfWeek: time.Monday, StartHour: 0, EndHour: 24}}
		}},
		{"window inverted", func(c *Config) {
			c.Risk.BlockedWindows = []BlockedWindow{{DayOfWeek: time.Monday, StartHour: 10, EndHour: 9}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestBlockedWindowContains(t *testing.T) {
	w := BlockedWindow{DayOfWeek: time.Friday, StartHour: 16, EndHour: 23}
	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"thursday same hour", time.Date(2026, 8, 27, 18, 0, 0, 0, time.UTC), false},
		{"friday before window", time.Date(2026, 8, 28, 15, 59, 0, 0, time.UTC), false},
		{"friday window start", time.Date(2026, 8, 28, 16, 0, 0, 0, time.UTC), true},
		{"friday mid window", time.Date(2026, 8, 28, 20, 30, 0, 0, time.UTC), true},
		{"friday last minute", time.Date(2026, 8, 28, 23, 59, 0, 0, time.UTC), true},
		{"saturday midnight", time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.Contains(tt.t); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if cfg.CooldownWindow() != 5*time.Minute {
		t.Errorf("CooldownWindow = %v", cfg.CooldownWindow())
	}
	if cfg.IncidentDeadline() != 15*time.Minute {
		t.Errorf("IncidentDeadline = %v", cfg.IncidentDeadline())
	}
}
