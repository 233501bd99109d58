// Package config holds the typed configuration record for the orchestrator.
// Configuration is loaded from an optional YAML file with environment
// variable overrides; every option has a working default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full orchestrator configuration.
type Config struct {
	// IncidentDB is the path to the sqlite incident database.
	IncidentDB string `yaml:"incident_db"`

	// IncidentTable is the logical table name recorded in audit output.
	IncidentTable string `yaml:"incident_table"`

	// CooldownMinutes is the per-resource suppression window.
	// Default: 5, Range: 1-1440
	CooldownMinutes int `yaml:"cooldown_minutes"`

	// ConfidenceThreshold gates recovery on LLM classification confidence.
	// Confidence exactly at the threshold passes (strict less-than check).
	// Default: 0.8, Range: 0.0-1.0
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// IncidentDeadlineMinutes is the top-level per-incident deadline.
	// Default: 15
	IncidentDeadlineMinutes int `yaml:"incident_deadline_minutes"`

	// ListenAddr is the HTTP ingest listen address. Default: ":8080"
	ListenAddr string `yaml:"listen_addr"`

	// MaxConcurrentIncidents caps parallel incident processing.
	// Default: 16, Range: 1-1024
	MaxConcurrentIncidents int `yaml:"max_concurrent_incidents"`

	// CentralRegion is the region this orchestrator serves directly.
	CentralRegion string `yaml:"central_region"`

	Risk          RiskConfig         `yaml:"risk"`
	Remediation   RemediationConfig  `yaml:"remediation"`
	Notifications NotificationConfig `yaml:"notifications"`
	LLM           LLMConfig          `yaml:"llm"`
}

// BlockedWindow is a weekly window during which automated changes are
// blocked. EndHour is inclusive: a window with EndHour 23 blocks through
// 23:59 and releases at 00:00 the next day.
type BlockedWindow struct {
	DayOfWeek time.Weekday `yaml:"day_of_week"`
	StartHour int          `yaml:"start_hour"`
	EndHour   int          `yaml:"end_hour"`
}

// Contains reports whether t falls inside the blocked window.
func (w BlockedWindow) Contains(t time.Time) bool {
	return t.Weekday() == w.DayOfWeek && t.Hour() >= w.StartHour && t.Hour() <= w.EndHour
}

// RiskConfig configures the risk agent.
type RiskConfig struct {
	// BlockedWindows lists change-freeze windows in UTC.
	// Default: Friday 16:00-23:00.
	BlockedWindows []BlockedWindow `yaml:"blocked_windows"`

	// AutoApproveResourceTypes lists resource types whose changes bypass
	// the approval requirement regardless of risk score. Empty by default;
	// intended for test resources only.
	AutoApproveResourceTypes []string `yaml:"auto_approve_resource_types"`

	// ErrorBudgetLimit is the critical-incident count per hour above which
	// the error budget is considered exhausted. Default: 5
	ErrorBudgetLimit int `yaml:"error_budget_limit"`
}

// AutoApproved reports whether resourceType bypasses approval.
func (c RiskConfig) AutoApproved(resourceType string) bool {
	for _, t := range c.AutoApproveResourceTypes {
		if t == resourceType {
			return true
		}
	}
	return false
}

// RemediationConfig configures the remediation agent.
type RemediationConfig struct {
	// BuildProject is the image-build project used for restore steps.
	BuildProject string `yaml:"build_project"`
}

// NotificationConfig configures the communications agent.
type NotificationConfig struct {
	DefaultEmail     string   `yaml:"default_email"`
	SenderEmail      string   `yaml:"sender_email"`
	EscalationEmails []string `yaml:"escalation_emails"`
	BroadcastTopic   string   `yaml:"broadcast_topic"`
}

// LLMConfig configures the LLM collaborator client.
type LLMConfig struct {
	// Model is the model identifier passed to the LLM service.
	Model string `yaml:"model"`

	// MaxConcurrentCalls limits in-flight LLM requests. Default: 3
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`

	// RequestsPerSecond rate-limits LLM calls. Default: 2
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		IncidentDB:              ".aiops/incidents.db",
		IncidentTable:           "aiops-incidents",
		CooldownMinutes:         5,
		ConfidenceThreshold:     0.8,
		IncidentDeadlineMinutes: 15,
		ListenAddr:              ":8080",
		MaxConcurrentIncidents:  16,
		CentralRegion:           "us-east-1",
		Risk: RiskConfig{
			BlockedWindows: []BlockedWindow{
				{DayOfWeek: time.Friday, StartHour: 16, EndHour: 23},
			},
			ErrorBudgetLimit: 5,
		},
		Remediation: RemediationConfig{
			BuildProject: "aiops-devops-agent-apply",
		},
		Notifications: NotificationConfig{
			DefaultEmail: "oncall@example.com",
			SenderEmail:  "noreply@aiops.example.com",
		},
		LLM: LLMConfig{
			Model:              "claude-3-5-haiku-20241022",
			MaxConcurrentCalls: 3,
			RequestsPerSecond:  2,
		},
	}
}

// Load reads configuration from path, falling back to defaults when the file
// does not exist, then applies environment overrides. In strict mode unknown
// YAML keys are an error; in permissive mode they are ignored.
func Load(path string, strict bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else {
			dec := yaml.NewDecoder(strings.NewReader(string(data)))
			dec.KnownFields(strict)
			if err := dec.Decode(cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays AIOPS_* environment variables onto the config.
func (c *Config) applyEnv() error {
	if v := os.Getenv("AIOPS_INCIDENT_DB"); v != "" {
		c.IncidentDB = v
	}
	if v := os.Getenv("AIOPS_INCIDENT_TABLE"); v != "" {
		c.IncidentTable = v
	}
	if v := os.Getenv("AIOPS_COOLDOWN_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid AIOPS_COOLDOWN_MINUTES %q: %w", v, err)
		}
		c.CooldownMinutes = n
	}
	if v := os.Getenv("AIOPS_CONFIDENCE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid AIOPS_CONFIDENCE_THRESHOLD %q: %w", v, err)
		}
		c.ConfidenceThreshold = f
	}
	if v := os.Getenv("AIOPS_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("AIOPS_CENTRAL_REGION"); v != "" {
		c.CentralRegion = v
	}
	if v := os.Getenv("AIOPS_DEFAULT_EMAIL"); v != "" {
		c.Notifications.DefaultEmail = v
	}
	if v := os.Getenv("AIOPS_SENDER_EMAIL"); v != "" {
		c.Notifications.SenderEmail = v
	}
	if v := os.Getenv("AIOPS_BROADCAST_TOPIC"); v != "" {
		c.Notifications.BroadcastTopic = v
	}
	if v := os.Getenv("AIOPS_BUILD_PROJECT"); v != "" {
		c.Remediation.BuildProject = v
	}
	if v := os.Getenv("AIOPS_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	return nil
}

// Validate checks ranges and invariants across the configuration.
func (c *Config) Validate() error {
	if c.CooldownMinutes < 1 || c.CooldownMinutes > 1440 {
		return fmt.Errorf("cooldown_minutes must be between 1 and 1440 (got %d)", c.CooldownMinutes)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0.0 and 1.0 (got %g)", c.ConfidenceThreshold)
	}
	if c.IncidentDeadlineMinutes <= 0 {
		return fmt.Errorf("incident_deadline_minutes must be positive (got %d)", c.IncidentDeadlineMinutes)
	}
	if c.MaxConcurrentIncidents < 1 || c.MaxConcurrentIncidents > 1024 {
		return fmt.Errorf("max_concurrent_incidents must be between 1 and 1024 (got %d)", c.MaxConcurrentIncidents)
	}
	for _, w := range c.Risk.BlockedWindows {
		if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 23 {
			return fmt.Errorf("blocked window hours must be between 0 and 23 (got %d-%d)", w.StartHour, w.EndHour)
		}
		if w.EndHour < w.StartHour {
			return fmt.Errorf("blocked window end_hour %d precedes start_hour %d", w.EndHour, w.StartHour)
		}
	}
	if c.Risk.ErrorBudgetLimit < 0 {
		return fmt.Errorf("error_budget_limit cannot be negative")
	}
	if c.LLM.MaxConcurrentCalls < 0 {
		return fmt.Errorf("llm max_concurrent_calls cannot be negative")
	}
	return nil
}

// CooldownWindow returns the cooldown duration.
func (c *Config) CooldownWindow() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

// IncidentDeadline returns the per-incident processing deadline.
func (c *Config) IncidentDeadline() time.Duration {
	return time.Duration(c.IncidentDeadlineMinutes) * time.Minute
}
