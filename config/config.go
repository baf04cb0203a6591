// Package config loads the settle server configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/xraph/settle"
	"github.com/xraph/settle/checkout"
)

// Config holds all configuration for the settle server.
type Config struct {
	BindAddress string
	Port        int

	// StripeWebhookSecret verifies webhook signatures. During a secret
	// rotation it may hold several comma-separated secrets.
	StripeWebhookSecret string
	// StripeAPIKey enables checkout. When empty the checkout endpoint answers
	// not_configured.
	StripeAPIKey       string
	StripeAPIBase      string
	CheckoutSuccessURL string
	CheckoutCancelURL  string
	CheckoutTimeout    time.Duration
	TrialDays          int64

	// RedisAddr moves the processed-event ledger to Redis. Empty keeps it in
	// the record store.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	EventTTL      time.Duration

	GracePeriod time.Duration
	LogLevel    string
	LogFormat   string
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// WebhookSecrets splits StripeWebhookSecret into its individual secrets.
func (c *Config) WebhookSecrets() []string {
	var out []string
	for _, s := range strings.Split(c.StripeWebhookSecret, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// CheckoutEnabled reports whether a processor API key is configured.
func (c *Config) CheckoutEnabled() bool { return c.StripeAPIKey != "" }

// Level returns the slog level named by LogLevel.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Load reads configuration from environment variables.
// A .env file is loaded if present but not required.
func Load() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("SETTLE_PORT", 8080)
	if err != nil {
		return nil, err
	}
	redisDB, err := envOrDefaultInt("SETTLE_REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	trialDays, err := envOrDefaultInt("SETTLE_TRIAL_DAYS", int(checkout.DefaultTrialDays))
	if err != nil {
		return nil, err
	}
	grace, err := envOrDefaultDuration("SETTLE_GRACE_PERIOD", settle.DefaultGracePeriod)
	if err != nil {
		return nil, err
	}
	eventTTL, err := envOrDefaultDuration("SETTLE_EVENT_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	checkoutTimeout, err := envOrDefaultDuration("SETTLE_CHECKOUT_TIMEOUT", checkout.DefaultTimeout)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BindAddress:         envOrDefault("SETTLE_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeAPIBase:       strings.TrimSpace(os.Getenv("STRIPE_API_BASE")),
		CheckoutSuccessURL:  strings.TrimSpace(os.Getenv("SETTLE_CHECKOUT_SUCCESS_URL")),
		CheckoutCancelURL:   strings.TrimSpace(os.Getenv("SETTLE_CHECKOUT_CANCEL_URL")),
		CheckoutTimeout:     checkoutTimeout,
		TrialDays:           int64(trialDays),
		RedisAddr:           strings.TrimSpace(os.Getenv("SETTLE_REDIS_ADDR")),
		RedisPassword:       os.Getenv("SETTLE_REDIS_PASSWORD"),
		RedisDB:             redisDB,
		EventTTL:            eventTTL,
		GracePeriod:         grace,
		LogLevel:            envOrDefault("SETTLE_LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("SETTLE_LOG_FORMAT", "json"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate settle config: %w", err)
	}
	return cfg, nil
}

// Validate checks that required settings are present and consistent.
func (c *Config) Validate() error {
	var missing []string
	if len(c.WebhookSecrets()) == 0 {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.CheckoutEnabled() {
		if c.CheckoutSuccessURL == "" {
			missing = append(missing, "SETTLE_CHECKOUT_SUCCESS_URL")
		}
		if c.CheckoutCancelURL == "" {
			missing = append(missing, "SETTLE_CHECKOUT_CANCEL_URL")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("SETTLE_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.TrialDays < 1 {
		return fmt.Errorf("SETTLE_TRIAL_DAYS must be greater than 0, got %d", c.TrialDays)
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("SETTLE_GRACE_PERIOD must not be negative, got %s", c.GracePeriod)
	}
	if c.RedisAddr != "" && c.EventTTL <= 0 {
		return fmt.Errorf("SETTLE_EVENT_TTL must be greater than 0, got %s", c.EventTTL)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("SETTLE_LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}

	for key, raw := range map[string]string{
		"SETTLE_CHECKOUT_SUCCESS_URL": c.CheckoutSuccessURL,
		"SETTLE_CHECKOUT_CANCEL_URL":  c.CheckoutCancelURL,
		"STRIPE_API_BASE":             c.StripeAPIBase,
	} {
		if raw == "" {
			continue
		}
		if err := validateURL(key, raw); err != nil {
			return err
		}
	}
	return nil
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s must be a valid URL: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", key)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", key)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}
