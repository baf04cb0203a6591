package extension

import (
	"time"

	"github.com/xraph/settle"
	"github.com/xraph/settle/checkout"
)

// Grove driver names accepted by Config.GroveDriver.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// PriceConfig maps one tier and billing period to a processor price.
type PriceConfig struct {
	Tier     string `json:"tier" mapstructure:"tier" yaml:"tier"`
	Period   string `json:"period" mapstructure:"period" yaml:"period"`
	PriceRef string `json:"price_ref" mapstructure:"price_ref" yaml:"price_ref"`
}

// Config holds the Settle extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.settle" or "settle" keys).
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for settle routes (default: "/billing").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// GracePeriod is how long a past_due subscription survives its period
	// end (default: 72h).
	GracePeriod time.Duration `json:"grace_period" mapstructure:"grace_period" yaml:"grace_period"`

	// WebhookSecrets verify webhook signatures. The first is current; the
	// rest are accepted during a rotation.
	WebhookSecrets []string `json:"webhook_secrets" mapstructure:"webhook_secrets" yaml:"webhook_secrets"`

	// TrialDays is the length of a granted free trial (default: 14).
	TrialDays int64 `json:"trial_days" mapstructure:"trial_days" yaml:"trial_days"`

	// SuccessURL and CancelURL are where checkout redirects the customer.
	SuccessURL string `json:"success_url" mapstructure:"success_url" yaml:"success_url"`
	CancelURL  string `json:"cancel_url" mapstructure:"cancel_url" yaml:"cancel_url"`

	// Prices is the price catalog. When empty the catalog is read from
	// SETTLE_PRICE_<TIER>_<PERIOD> environment variables.
	Prices []PriceConfig `json:"prices" mapstructure:"prices" yaml:"prices"`

	// GroveDriver selects the store built around a grove.DB passed with
	// WithGroveDB: "postgres", "sqlite" or "mongo".
	GroveDriver string `json:"grove_driver" mapstructure:"grove_driver" yaml:"grove_driver"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:    "/billing",
		GracePeriod: settle.DefaultGracePeriod,
		TrialDays:   checkout.DefaultTrialDays,
	}
}
