package settle

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/event"
	"github.com/xraph/settle/plugin"
	"github.com/xraph/settle/store"
)

// DefaultGracePeriod is how long a past_due subscription keeps access after
// its period end before it is reported as expired.
const DefaultGracePeriod = 72 * time.Hour

// Engine is the billing-event reconciliation engine.
//
// It holds no per-event state. Every operation reads the current record,
// decides, and writes back through a conditional store write, so any number
// of engines may share one store.
type Engine struct {
	store   store.Store
	events  event.Ledger
	catalog *catalog.Catalog
	plugins *plugin.Registry
	logger  *slog.Logger
	clock   func() time.Time

	gracePeriod time.Duration
}

// New creates a new Engine on top of s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		events:      s,
		catalog:     catalog.New(),
		plugins:     plugin.NewRegistry(),
		logger:      slog.Default(),
		clock:       time.Now,
		gracePeriod: DefaultGracePeriod,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithCatalog sets the price catalog used to derive tiers from price
// references.
func WithCatalog(c *catalog.Catalog) Option {
	return func(e *Engine) {
		if c != nil {
			e.catalog = c
		}
	}
}

// WithGracePeriod sets how long past_due subscriptions survive their period
// end.
func WithGracePeriod(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.gracePeriod = d
		}
	}
}

// WithEventLedger stores processed event ids somewhere other than the
// record store, e.g. Redis.
func WithEventLedger(l event.Ledger) Option {
	return func(e *Engine) {
		if l != nil {
			e.events = l
		}
	}
}

// WithClock overrides the local clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.clock = now
	}
}

// Start migrates the store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("settle started",
		"grace_period", e.gracePeriod,
		"plugins", e.plugins.Count(),
		"prices", len(e.catalog.Entries()),
	)

	return nil
}

// Stop shuts down plugins and closes the store.
func (e *Engine) Stop() error {
	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	if c, ok := e.events.(io.Closer); ok && e.events != event.Ledger(e.store) {
		if err := c.Close(); err != nil {
			e.logger.Warn("closing event ledger failed", "error", err)
		}
	}

	return e.store.Close()
}

// Store returns the underlying record store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Catalog returns the price catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// GracePeriod returns the configured past_due grace period.
func (e *Engine) GracePeriod() time.Duration { return e.gracePeriod }

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// persistErr passes through the store's domain errors and wraps anything
// else as a retryable PersistenceError.
func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsRetryable(err) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
