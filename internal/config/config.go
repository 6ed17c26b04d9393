// Package config loads and validates service configuration from YAML files
// and PAYPROOF_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the single configuration surface for the whole service. The
// matcher and the state machine read auto-approval policy from the same
// Matching block, so thresholds cannot drift between components.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Matching   MatchingConfig   `mapstructure:"matching"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Gateways   GatewaysConfig   `mapstructure:"gateways"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// GomTokens maps bearer tokens to GOM ids for the decision and review
	// endpoints.
	GomTokens map[string]string `mapstructure:"gom_tokens"`
	Addr      string            `mapstructure:"addr"`
	// TLSCertDir enables HTTPS with a self-signed development certificate
	// stored under this directory. Gateways reject plain-HTTP callback URLs.
	TLSCertDir      string        `mapstructure:"tls_cert_dir"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig configures the sqlite store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ExtractionConfig configures the vision extraction engine.
type ExtractionConfig struct {
	Provider      string        `mapstructure:"provider"` // "anthropic" or "mock"
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	MaxImageBytes int64         `mapstructure:"max_image_bytes"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	RateLimit     int           `mapstructure:"rate_limit"` // requests per minute
}

// MatchingConfig is the shared auto-approval policy.
type MatchingConfig struct {
	// MinConfidenceAutoMatch is the extraction confidence floor for
	// auto-approval.
	MinConfidenceAutoMatch float64 `mapstructure:"min_confidence_auto_match"`
	// MinScoreAutoMatch is the match score floor for auto-approval.
	MinScoreAutoMatch float64 `mapstructure:"min_score_auto_match"`
	// TieEpsilon: top-two candidates closer than this are ambiguous and go
	// to manual review.
	TieEpsilon float64 `mapstructure:"tie_epsilon"`
	// AmountTolerance is in minor units. Default 0: exact match required.
	AmountTolerance int64 `mapstructure:"amount_tolerance"`
	// ReferenceMaxDistance is the edit-distance ceiling for treating a
	// reference as matched.
	ReferenceMaxDistance int `mapstructure:"reference_max_distance"`
	// LookbackDays bounds the recency signal.
	LookbackDays int `mapstructure:"lookback_days"`
}

// QueueConfig configures the reconciliation worker pool.
type QueueConfig struct {
	Workers        int           `mapstructure:"workers"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ClaimBatch     int           `mapstructure:"claim_batch"`
}

// GatewaysConfig holds the webhook signing secrets.
type GatewaysConfig struct {
	PayMongoSecret string `mapstructure:"paymongo_secret"`
	// PayMongoLive selects the live signature slot; test deliveries sign
	// the te slot, live deliveries the li slot.
	PayMongoLive    bool   `mapstructure:"paymongo_live"`
	BillplzXSignKey string `mapstructure:"billplz_x_signature_key"`
}

// NotifyConfig configures the outbound notification dispatcher hand-off.
type NotifyConfig struct {
	WebhookURL   string        `mapstructure:"webhook_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// setDefaults registers every default on the given viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("database.path", "~/.local/share/payproof/payproof.db")
	v.SetDefault("extraction.provider", "anthropic")
	v.SetDefault("extraction.model", "claude-3-5-sonnet-20241022")
	v.SetDefault("extraction.max_image_bytes", int64(8<<20))
	v.SetDefault("extraction.timeout", 60*time.Second)
	v.SetDefault("extraction.max_retries", 3)
	v.SetDefault("extraction.retry_delay", time.Second)
	v.SetDefault("extraction.rate_limit", 60)
	v.SetDefault("matching.min_confidence_auto_match", 0.95)
	v.SetDefault("matching.min_score_auto_match", 0.85)
	v.SetDefault("matching.tie_epsilon", 0.05)
	v.SetDefault("matching.amount_tolerance", int64(0))
	v.SetDefault("matching.reference_max_distance", 2)
	v.SetDefault("matching.lookback_days", 14)
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.initial_backoff", 2*time.Second)
	v.SetDefault("queue.max_backoff", 5*time.Minute)
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.claim_batch", 32)
	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("notify.poll_interval", 2*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load reads configuration from the given file (optional) and PAYPROOF_*
// environment variables, and returns the typed config.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath("$HOME/.config/payproof")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("PAYPROOF")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, defaults and env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Database.Path = ExpandPath(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would silently misbehave.
func (c *Config) Validate() error {
	if c.Matching.MinConfidenceAutoMatch < 0 || c.Matching.MinConfidenceAutoMatch > 1 {
		return fmt.Errorf("matching.min_confidence_auto_match must be in [0,1], got %f",
			c.Matching.MinConfidenceAutoMatch)
	}
	if c.Matching.MinScoreAutoMatch < 0 || c.Matching.MinScoreAutoMatch > 1 {
		return fmt.Errorf("matching.min_score_auto_match must be in [0,1], got %f",
			c.Matching.MinScoreAutoMatch)
	}
	if c.Matching.TieEpsilon < 0 {
		return fmt.Errorf("matching.tie_epsilon must be non-negative, got %f", c.Matching.TieEpsilon)
	}
	if c.Matching.AmountTolerance < 0 {
		return fmt.Errorf("matching.amount_tolerance must be non-negative, got %d",
			c.Matching.AmountTolerance)
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be positive, got %d", c.Queue.Workers)
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be positive, got %d", c.Queue.MaxAttempts)
	}
	return nil
}
