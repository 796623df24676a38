package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds process configuration. It is built once in main and passed
// to constructors.
type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`

	AuthJWTSecret string `envconfig:"AUTH_JWT_SECRET" required:"true"`

	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`

	ResendAPIKey        string `envconfig:"RESEND_API_KEY"`
	EmailFrom           string `envconfig:"EMAIL_FROM" default:"gearshare <bookings@gearshare.app>"`
	PublicBaseURL       string `envconfig:"PUBLIC_BASE_URL"`
	NotifyTemplatesFile string `envconfig:"NOTIFY_TEMPLATES_FILE"`

	OwnerShareBasisPoints int64 `envconfig:"OWNER_SHARE_BASIS_POINTS" default:"8500"`

	ExternalTimeout  time.Duration `envconfig:"EXTERNAL_TIMEOUT" default:"10s"`
	OperationTimeout time.Duration `envconfig:"OPERATION_TIMEOUT" default:"30s"`
	NotifyTimeout    time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"10s"`

	OutboxPollInterval      time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"2s"`
	OutboxBatchSize         int           `envconfig:"OUTBOX_BATCH_SIZE" default:"50"`
	CompletionSweepInterval time.Duration `envconfig:"COMPLETION_SWEEP_INTERVAL" default:"1h"`
	ProcessedRetention      time.Duration `envconfig:"PROCESSED_RETENTION" default:"720h"`

	OpsAlertWebhookURL string `envconfig:"OPS_ALERT_WEBHOOK_URL"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"gearshare.booking-events"`
	RedisURL     string   `envconfig:"REDIS_URL"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load reads envFiles (missing files are ignored) into the environment,
// decodes the environment and validates the result. Variables already set
// in the environment take precedence over file values.
func Load(envFiles ...string) (Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", file, err)
		}
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and combinations.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if strings.TrimSpace(c.AuthJWTSecret) == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}
	if c.OwnerShareBasisPoints <= 0 || c.OwnerShareBasisPoints > 10000 {
		errs = append(errs, fmt.Errorf("OWNER_SHARE_BASIS_POINTS must be in 1..10000, got %d", c.OwnerShareBasisPoints))
	}
	for name, d := range map[string]time.Duration{
		"EXTERNAL_TIMEOUT":          c.ExternalTimeout,
		"OPERATION_TIMEOUT":         c.OperationTimeout,
		"NOTIFY_TIMEOUT":            c.NotifyTimeout,
		"OUTBOX_POLL_INTERVAL":      c.OutboxPollInterval,
		"COMPLETION_SWEEP_INTERVAL": c.CompletionSweepInterval,
		"PROCESSED_RETENTION":       c.ProcessedRetention,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.ExternalTimeout > c.OperationTimeout {
		errs = append(errs, errors.New("EXTERNAL_TIMEOUT must not exceed OPERATION_TIMEOUT"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("OUTBOX_BATCH_SIZE must be positive"))
	}
	if c.StripeWebhookSecret != "" && c.StripeSecretKey == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET requires STRIPE_SECRET_KEY"))
	}
	if len(c.KafkaBrokers) > 0 && strings.TrimSpace(c.KafkaTopic) == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required with KAFKA_BROKERS"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// StripeEnabled reports whether payment calls can be made.
func (c Config) StripeEnabled() bool {
	return c.StripeSecretKey != ""
}
