package extension

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/settle"
	"github.com/xraph/settle/checkout"
	"github.com/xraph/settle/plugin"
	"github.com/xraph/settle/store"
)

// Option configures the Settle Forge extension.
type Option func(*Extension)

// WithStore sets the store for the settle engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDB builds the store around db. driver names the grove driver db
// was opened with: "postgres", "sqlite" or "mongo".
func WithGroveDB(db *grove.DB, driver string) Option {
	return func(e *Extension) {
		e.groveDB = db
		e.config.GroveDriver = driver
	}
}

// WithSettleOption passes a settle.Option through to the underlying engine.
func WithSettleOption(opt settle.Option) Option {
	return func(e *Extension) {
		e.settleOpts = append(e.settleOpts, opt)
	}
}

// WithPlugin registers a settle plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.settleOpts = append(e.settleOpts, settle.WithPlugin(p))
	}
}

// WithProcessor enables the checkout endpoint with the given processor.
func WithProcessor(p checkout.Processor) Option {
	return func(e *Extension) { e.processor = p }
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP route registration.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for settle routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithGracePeriod sets how long past_due subscriptions survive their period end.
func WithGracePeriod(d time.Duration) Option {
	return func(e *Extension) { e.config.GracePeriod = d }
}

// WithWebhookSecrets sets the webhook signing secrets, current first.
func WithWebhookSecrets(secrets ...string) Option {
	return func(e *Extension) { e.config.WebhookSecrets = secrets }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}
