// Package extension provides the Forge extension adapter for Settle.
//
// It implements the forge.Extension interface to integrate Settle
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.settle" or "settle" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/settle"
	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/checkout"
	"github.com/xraph/settle/server"
	"github.com/xraph/settle/store"
	"github.com/xraph/settle/store/memory"
	"github.com/xraph/settle/store/mongo"
	"github.com/xraph/settle/store/postgres"
	"github.com/xraph/settle/store/sqlite"
	"github.com/xraph/settle/webhook"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "settle"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Billing-event reconciliation engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Settle as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *settle.Engine
	store      store.Store
	groveDB    *grove.DB
	processor  checkout.Processor
	settleOpts []settle.Option
}

// New creates a new Settle Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Settle engine.
// This is nil until Register is called.
func (e *Extension) Engine() *settle.Engine { return e.engine }

// Config returns the resolved configuration.
func (e *Extension) Config() Config { return e.config }

// Register implements [forge.Extension]. It loads configuration,
// initializes the settle engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		s, err := e.resolveStore()
		if err != nil {
			return err
		}
		e.store = s
	}

	opts, err := e.buildSettleOpts()
	if err != nil {
		return err
	}
	e.engine = settle.New(e.store, opts...)

	return vessel.Provide(fapp.Container(), func() (*settle.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("settle: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("settle: store not initialized")
	}
	return e.store.Ping(ctx)
}

// Routes mounts the webhook and checkout endpoints on mux under BasePath.
// It does nothing when routes are disabled.
func (e *Extension) Routes(mux *http.ServeMux) error {
	if e.engine == nil {
		return errors.New("settle: extension not initialized")
	}
	if e.config.DisableRoutes {
		return nil
	}

	deps := &server.Deps{
		Engine:   e.engine,
		Auth:     webhook.NewRotatingAuthenticator(e.config.WebhookSecrets),
		BasePath: e.config.BasePath,
		Logger:   e.engine.Logger(),
	}
	if e.processor != nil {
		deps.Checkout = checkout.NewInitiator(e.engine.Catalog(), e.engine, e.processor,
			checkout.WithLogger(e.engine.Logger()),
			checkout.WithPlugins(e.engine.Plugins()),
			checkout.WithRedirectURLs(e.config.SuccessURL, e.config.CancelURL),
			checkout.WithTrialDays(e.config.TrialDays),
		)
	}
	server.RegisterRoutes(mux, deps)

	e.Logger().Debug("settle: routes registered",
		forge.F("base_path", e.config.BasePath),
		forge.F("checkout", deps.Checkout != nil),
	)
	return nil
}

// resolveStore builds the store from a grove.DB when one was given and
// falls back to the in-memory store otherwise.
func (e *Extension) resolveStore() (store.Store, error) {
	if e.groveDB == nil {
		e.Logger().Warn("settle: no store configured, using in-memory store")
		return memory.New(), nil
	}
	switch e.config.GroveDriver {
	case DriverPostgres:
		return postgres.New(e.groveDB), nil
	case DriverSQLite:
		return sqlite.New(e.groveDB), nil
	case DriverMongo:
		return mongo.New(e.groveDB), nil
	default:
		return nil, fmt.Errorf("settle: unknown grove driver %q", e.config.GroveDriver)
	}
}

// buildSettleOpts constructs settle.Option values from the resolved config.
func (e *Extension) buildSettleOpts() ([]settle.Option, error) {
	cat, err := e.buildCatalog()
	if err != nil {
		return nil, err
	}

	opts := make([]settle.Option, 0, len(e.settleOpts)+2)
	opts = append(opts,
		settle.WithCatalog(cat),
		settle.WithGracePeriod(e.config.GracePeriod),
	)

	// Append any pass-through settle options.
	opts = append(opts, e.settleOpts...)

	return opts, nil
}

func (e *Extension) buildCatalog() (*catalog.Catalog, error) {
	if len(e.config.Prices) == 0 {
		return catalog.FromEnv(os.LookupEnv), nil
	}

	entries := make([]catalog.Entry, 0, len(e.config.Prices))
	for _, p := range e.config.Prices {
		tier, ok := catalog.ParseTier(p.Tier)
		if !ok {
			return nil, fmt.Errorf("settle: unknown tier %q in price config", p.Tier)
		}
		period, ok := catalog.ParseBillingPeriod(p.Period)
		if !ok {
			return nil, fmt.Errorf("settle: unknown billing period %q in price config", p.Period)
		}
		entries = append(entries, catalog.Entry{Tier: tier, Period: period, PriceRef: p.PriceRef})
	}
	return catalog.New(entries...), nil
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("settle: configuration is required but not found in config files; " +
				"ensure 'extensions.settle' or 'settle' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("settle: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("grace_period", e.config.GracePeriod),
		forge.F("trial_days", e.config.TrialDays),
		forge.F("webhook_secrets", len(e.config.WebhookSecrets)),
		forge.F("grove_driver", e.config.GroveDriver),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.settle" first (namespaced pattern).
	for _, key := range []string{"extensions.settle", "settle"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("settle: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("settle: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = defaults.GracePeriod
	}
	if cfg.TrialDays == 0 {
		cfg.TrialDays = defaults.TrialDays
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.SuccessURL == "" {
		yamlConfig.SuccessURL = programmaticConfig.SuccessURL
	}
	if yamlConfig.CancelURL == "" {
		yamlConfig.CancelURL = programmaticConfig.CancelURL
	}
	// The driver belongs to the programmatically supplied grove.DB.
	if programmaticConfig.GroveDriver != "" {
		yamlConfig.GroveDriver = programmaticConfig.GroveDriver
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.GracePeriod == 0 {
		yamlConfig.GracePeriod = programmaticConfig.GracePeriod
	}
	if yamlConfig.TrialDays == 0 {
		yamlConfig.TrialDays = programmaticConfig.TrialDays
	}

	// Slices: YAML takes precedence.
	if len(yamlConfig.WebhookSecrets) == 0 {
		yamlConfig.WebhookSecrets = programmaticConfig.WebhookSecrets
	}
	if len(yamlConfig.Prices) == 0 {
		yamlConfig.Prices = programmaticConfig.Prices
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
