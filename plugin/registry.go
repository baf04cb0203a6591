package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/event"
	"github.com/xraph/settle/invoice"
	"github.com/xraph/settle/subscription"
)

// DefaultTimeout bounds every plugin call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                 []OnInit
	onShutdown             []OnShutdown
	onSubscriptionCreated  []OnSubscriptionCreated
	onSubscriptionChanged  []OnSubscriptionChanged
	onSubscriptionCanceled []OnSubscriptionCanceled
	onSubscriptionExpired  []OnSubscriptionExpired
	onStaleEventDiscarded  []OnStaleEventDiscarded
	onInvoicePaid          []OnInvoicePaid
	onInvoiceFailed        []OnInvoiceFailed
	onWebhookReceived      []OnWebhookReceived
	onWebhookRejected      []OnWebhookRejected
	onTrialFailOpen        []OnTrialFailOpen
	onCheckoutStarted      []OnCheckoutStarted
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call plugin timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnSubscriptionCreated); ok {
		r.onSubscriptionCreated = append(r.onSubscriptionCreated, v)
	}
	if v, ok := p.(OnSubscriptionChanged); ok {
		r.onSubscriptionChanged = append(r.onSubscriptionChanged, v)
	}
	if v, ok := p.(OnSubscriptionCanceled); ok {
		r.onSubscriptionCanceled = append(r.onSubscriptionCanceled, v)
	}
	if v, ok := p.(OnSubscriptionExpired); ok {
		r.onSubscriptionExpired = append(r.onSubscriptionExpired, v)
	}
	if v, ok := p.(OnStaleEventDiscarded); ok {
		r.onStaleEventDiscarded = append(r.onStaleEventDiscarded, v)
	}
	if v, ok := p.(OnInvoicePaid); ok {
		r.onInvoicePaid = append(r.onInvoicePaid, v)
	}
	if v, ok := p.(OnInvoiceFailed); ok {
		r.onInvoiceFailed = append(r.onInvoiceFailed, v)
	}
	if v, ok := p.(OnWebhookReceived); ok {
		r.onWebhookReceived = append(r.onWebhookReceived, v)
	}
	if v, ok := p.(OnWebhookRejected); ok {
		r.onWebhookRejected = append(r.onWebhookRejected, v)
	}
	if v, ok := p.(OnTrialFailOpen); ok {
		r.onTrialFailOpen = append(r.onTrialFailOpen, v)
	}
	if v, ok := p.(OnCheckoutStarted); ok {
		r.onCheckoutStarted = append(r.onCheckoutStarted, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedHooks(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeOf((*OnInit)(nil)).Elem()},
	{"OnShutdown", reflect.TypeOf((*OnShutdown)(nil)).Elem()},
	{"OnSubscriptionCreated", reflect.TypeOf((*OnSubscriptionCreated)(nil)).Elem()},
	{"OnSubscriptionChanged", reflect.TypeOf((*OnSubscriptionChanged)(nil)).Elem()},
	{"OnSubscriptionCanceled", reflect.TypeOf((*OnSubscriptionCanceled)(nil)).Elem()},
	{"OnSubscriptionExpired", reflect.TypeOf((*OnSubscriptionExpired)(nil)).Elem()},
	{"OnStaleEventDiscarded", reflect.TypeOf((*OnStaleEventDiscarded)(nil)).Elem()},
	{"OnInvoicePaid", reflect.TypeOf((*OnInvoicePaid)(nil)).Elem()},
	{"OnInvoiceFailed", reflect.TypeOf((*OnInvoiceFailed)(nil)).Elem()},
	{"OnWebhookReceived", reflect.TypeOf((*OnWebhookReceived)(nil)).Elem()},
	{"OnWebhookRejected", reflect.TypeOf((*OnWebhookRejected)(nil)).Elem()},
	{"OnTrialFailOpen", reflect.TypeOf((*OnTrialFailOpen)(nil)).Elem()},
	{"OnCheckoutStarted", reflect.TypeOf((*OnCheckoutStarted)(nil)).Elem()},
}

// implementedHooks returns the names of the hooks p implements.
func implementedHooks(p Plugin) []string {
	var names []string
	t := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if t.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit runs call for every plugin in hooks, logging failures.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, hooks []T, call func(T) error) {
	for _, p := range hooks {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return call(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	emit(ctx, r, "OnInit", plugins, func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	emit(ctx, r, "OnShutdown", plugins, func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitSubscriptionCreated emits a subscription created event.
func (r *Registry) EmitSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) {
	r.mu.RLock()
	plugins := r.onSubscriptionCreated
	r.mu.RUnlock()

	emit(ctx, r, "OnSubscriptionCreated", plugins, func(p OnSubscriptionCreated) error {
		return p.OnSubscriptionCreated(ctx, sub)
	})
}

// EmitSubscriptionChanged emits a subscription changed event.
func (r *Registry) EmitSubscriptionChanged(ctx context.Context, old, updated *subscription.Subscription) {
	r.mu.RLock()
	plugins := r.onSubscriptionChanged
	r.mu.RUnlock()

	emit(ctx, r, "OnSubscriptionChanged", plugins, func(p OnSubscriptionChanged) error {
		return p.OnSubscriptionChanged(ctx, old, updated)
	})
}

// EmitSubscriptionCanceled emits a subscription canceled event.
func (r *Registry) EmitSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription) {
	r.mu.RLock()
	plugins := r.onSubscriptionCanceled
	r.mu.RUnlock()

	emit(ctx, r, "OnSubscriptionCanceled", plugins, func(p OnSubscriptionCanceled) error {
		return p.OnSubscriptionCanceled(ctx, sub)
	})
}

// EmitSubscriptionExpired emits a subscription expired event.
func (r *Registry) EmitSubscriptionExpired(ctx context.Context, sub *subscription.Subscription) {
	r.mu.RLock()
	plugins := r.onSubscriptionExpired
	r.mu.RUnlock()

	emit(ctx, r, "OnSubscriptionExpired", plugins, func(p OnSubscriptionExpired) error {
		return p.OnSubscriptionExpired(ctx, sub)
	})
}

// EmitStaleEventDiscarded emits a stale event discarded event.
func (r *Registry) EmitStaleEventDiscarded(ctx context.Context, ev event.Meta, current *subscription.Subscription) {
	r.mu.RLock()
	plugins := r.onStaleEventDiscarded
	r.mu.RUnlock()

	emit(ctx, r, "OnStaleEventDiscarded", plugins, func(p OnStaleEventDiscarded) error {
		return p.OnStaleEventDiscarded(ctx, ev, current)
	})
}

// EmitInvoicePaid emits an invoice paid event.
func (r *Registry) EmitInvoicePaid(ctx context.Context, inv *invoice.Invoice) {
	r.mu.RLock()
	plugins := r.onInvoicePaid
	r.mu.RUnlock()

	emit(ctx, r, "OnInvoicePaid", plugins, func(p OnInvoicePaid) error {
		return p.OnInvoicePaid(ctx, inv)
	})
}

// EmitInvoiceFailed emits an invoice failed event.
func (r *Registry) EmitInvoiceFailed(ctx context.Context, inv *invoice.Invoice) {
	r.mu.RLock()
	plugins := r.onInvoiceFailed
	r.mu.RUnlock()

	emit(ctx, r, "OnInvoiceFailed", plugins, func(p OnInvoiceFailed) error {
		return p.OnInvoiceFailed(ctx, inv)
	})
}

// EmitWebhookReceived emits a webhook received event.
func (r *Registry) EmitWebhookReceived(ctx context.Context, ev event.Meta, outcome event.Outcome) {
	r.mu.RLock()
	plugins := r.onWebhookReceived
	r.mu.RUnlock()

	emit(ctx, r, "OnWebhookReceived", plugins, func(p OnWebhookReceived) error {
		return p.OnWebhookReceived(ctx, ev, outcome)
	})
}

// EmitWebhookRejected emits a webhook rejected event.
func (r *Registry) EmitWebhookRejected(ctx context.Context, reason string, err error) {
	r.mu.RLock()
	plugins := r.onWebhookRejected
	r.mu.RUnlock()

	emit(ctx, r, "OnWebhookRejected", plugins, func(p OnWebhookRejected) error {
		return p.OnWebhookRejected(ctx, reason, err)
	})
}

// EmitTrialFailOpen emits a trial fail-open event.
func (r *Registry) EmitTrialFailOpen(ctx context.Context, ownerID string, tier catalog.Tier, cause error) {
	r.mu.RLock()
	plugins := r.onTrialFailOpen
	r.mu.RUnlock()

	emit(ctx, r, "OnTrialFailOpen", plugins, func(p OnTrialFailOpen) error {
		return p.OnTrialFailOpen(ctx, ownerID, tier, cause)
	})
}

// EmitCheckoutStarted emits a checkout started event.
func (r *Registry) EmitCheckoutStarted(ctx context.Context, sessionID, ownerID string, tier catalog.Tier, trialGranted bool) {
	r.mu.RLock()
	plugins := r.onCheckoutStarted
	r.mu.RUnlock()

	emit(ctx, r, "OnCheckoutStarted", plugins, func(p OnCheckoutStarted) error {
		return p.OnCheckoutStarted(ctx, sessionID, ownerID, tier, trialGranted)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block event handling.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
