package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	DataDir  string `json:"data_dir" envconfig:"DATA_DIR"`
	LogLevel string `json:"log_level" envconfig:"LOG_LEVEL"`

	// MaxConcurrent caps simultaneous backend exchanges across all sessions.
	MaxConcurrent int `json:"max_concurrent" envconfig:"MAX_CONCURRENT"`
	// QueueDepth bounds the per-session trigger queue; excess triggers fail
	// as busy instead of blocking.
	QueueDepth int `json:"queue_depth" envconfig:"QUEUE_DEPTH"`
	// TriggerTimeoutSeconds cancels an exchange that runs longer than this.
	TriggerTimeoutSeconds int `json:"trigger_timeout_seconds" envconfig:"TRIGGER_TIMEOUT_SECONDS"`
	// SessionIdleExpiryHours makes sessions with no activity past this age
	// eligible for the background expiry sweep. Zero disables expiry.
	SessionIdleExpiryHours int `json:"session_idle_expiry_hours" envconfig:"SESSION_IDLE_EXPIRY_HOURS"`

	Backend struct {
		BaseURL string `json:"base_url" envconfig:"BACKEND_BASE_URL"`
		APIKey  string `json:"api_key" envconfig:"BACKEND_API_KEY"`
		// Model selects the tokenizer used for admission cost estimation.
		Model string `json:"model" envconfig:"BACKEND_MODEL"`
	} `json:"backend"`

	RateLimit struct {
		// Capacity is the token bucket size; each admitted trigger consumes
		// one token.
		Capacity int `json:"capacity" envconfig:"RATE_LIMIT_CAPACITY"`
		// WindowSeconds is the time for an empty bucket to refill completely.
		WindowSeconds int `json:"window_seconds" envconfig:"RATE_LIMIT_WINDOW_SECONDS"`
	} `json:"rate_limit"`

	Cost struct {
		// CeilingPerOwner rejects admission once cumulative spend would pass
		// it. Zero disables the guard.
		CeilingPerOwner float64 `json:"ceiling_per_owner" envconfig:"COST_CEILING_PER_OWNER"`
		// CapPerExchange is passed through to the backend as a hard per-call
		// cap. Zero disables it.
		CapPerExchange float64 `json:"cap_per_exchange" envconfig:"COST_CAP_PER_EXCHANGE"`
	} `json:"cost"`

	Tools struct {
		// Allow, when non-empty, is a closed list: any tool not on it is
		// denied. Bound once at startup.
		Allow []string `json:"allow"`
		Deny  []string `json:"deny"`
		// ApprovedRoot is the directory all context keys resolve under; tool
		// paths must stay inside the context's directory.
		ApprovedRoot string `json:"approved_root" envconfig:"TOOLS_APPROVED_ROOT"`
		// BypassValidation disables every rule except audit logging. Only for
		// fully trusted deployments.
		BypassValidation bool `json:"bypass_validation" envconfig:"TOOLS_BYPASS_VALIDATION"`
	} `json:"tools"`

	HTTP struct {
		Enabled bool   `json:"enabled" envconfig:"HTTP_ENABLED"`
		Listen  string `json:"listen" envconfig:"HTTP_LISTEN"`
	} `json:"http"`

	Webhook struct {
		// GitHubSecret is the HMAC secret for the github provider.
		GitHubSecret string `json:"github_secret" envconfig:"GITHUB_WEBHOOK_SECRET"`
		// GenericToken is the shared bearer token for generic providers.
		GenericToken string `json:"generic_token" envconfig:"WEBHOOK_API_SECRET"`
		// DefaultOwner attributes webhook triggers to a principal.
		DefaultOwner string `json:"default_owner" envconfig:"WEBHOOK_DEFAULT_OWNER"`
		// DefaultContext is the context key for webhook triggers.
		DefaultContext string `json:"default_context" envconfig:"WEBHOOK_DEFAULT_CONTEXT"`
	} `json:"webhook"`

	Telegram struct {
		Token string `json:"token" envconfig:"TELEGRAM_BOT_TOKEN"`
		// ContextKey is the working context telegram conversations run in.
		ContextKey string `json:"context_key" envconfig:"TELEGRAM_CONTEXT_KEY"`
	} `json:"telegram"`
}

// TriggerTimeout returns the per-trigger timeout as a duration.
func (c *Config) TriggerTimeout() time.Duration {
	return time.Duration(c.TriggerTimeoutSeconds) * time.Second
}

// IdleExpiry returns the session idle-expiry age, or zero when disabled.
func (c *Config) IdleExpiry() time.Duration {
	return time.Duration(c.SessionIdleExpiryHours) * time.Hour
}

// RefillWindow returns the rate-limit refill window as a duration.
func (c *Config) RefillWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// Load reads the config file, writing defaults on first run, then applies
// AGENTGATE_* environment overrides (highest precedence).
func Load(path string) (*Config, error) {
	cfg := defaults()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process("agentgate", cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{
		DataDir:                filepath.Join(os.Getenv("HOME"), ".agentgate"),
		LogLevel:               "info",
		MaxConcurrent:          2,
		QueueDepth:             8,
		TriggerTimeoutSeconds:  300,
		SessionIdleExpiryHours: 24 * 7,
	}
	cfg.Backend.BaseURL = "http://localhost:7583"
	cfg.Backend.Model = "gpt-4"
	cfg.RateLimit.Capacity = 10
	cfg.RateLimit.WindowSeconds = 60
	cfg.Cost.CeilingPerOwner = 10.0
	cfg.Tools.Deny = []string{}
	cfg.Tools.Allow = []string{}
	cfg.Tools.ApprovedRoot = filepath.Join(os.Getenv("HOME"), "projects")
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = ":8090"
	cfg.Webhook.DefaultOwner = "webhook"
	cfg.Webhook.DefaultContext = "inbox"
	cfg.Telegram.ContextKey = "chat"
	return cfg
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
