// Package plugin provides the hook system of the settle engine.
// Plugins observe reconciliation, invoice and checkout activity; they can
// never change the outcome of an event.
package plugin

import (
	"context"

	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/event"
	"github.com/xraph/settle/invoice"
	"github.com/xraph/settle/subscription"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated is called after a subscription record is first stored.
type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionChanged is called after a stored subscription is updated.
type OnSubscriptionChanged interface {
	Plugin
	OnSubscriptionChanged(ctx context.Context, old, updated *subscription.Subscription) error
}

// OnSubscriptionCanceled is called when a subscription reaches cancelled.
type OnSubscriptionCanceled interface {
	Plugin
	OnSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionExpired is called when a past_due subscription outlives its
// grace period.
type OnSubscriptionExpired interface {
	Plugin
	OnSubscriptionExpired(ctx context.Context, sub *subscription.Subscription) error
}

// OnStaleEventDiscarded is called when an event older than the stored record
// is dropped.
type OnStaleEventDiscarded interface {
	Plugin
	OnStaleEventDiscarded(ctx context.Context, ev event.Meta, current *subscription.Subscription) error
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoicePaid is called after an invoice is recorded as paid.
type OnInvoicePaid interface {
	Plugin
	OnInvoicePaid(ctx context.Context, inv *invoice.Invoice) error
}

// OnInvoiceFailed is called after a failed payment is recorded.
type OnInvoiceFailed interface {
	Plugin
	OnInvoiceFailed(ctx context.Context, inv *invoice.Invoice) error
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived is called once an authenticated event has been handled.
type OnWebhookReceived interface {
	Plugin
	OnWebhookReceived(ctx context.Context, ev event.Meta, outcome event.Outcome) error
}

// OnWebhookRejected is called when a delivery fails authentication or cannot
// be decoded.
type OnWebhookRejected interface {
	Plugin
	OnWebhookRejected(ctx context.Context, reason string, err error) error
}

// ──────────────────────────────────────────────────
// Checkout hooks
// ──────────────────────────────────────────────────

// OnTrialFailOpen is called when trial eligibility could not be determined
// and the trial was granted anyway.
type OnTrialFailOpen interface {
	Plugin
	OnTrialFailOpen(ctx context.Context, ownerID string, tier catalog.Tier, err error) error
}

// OnCheckoutStarted is called after the processor created a checkout session.
type OnCheckoutStarted interface {
	Plugin
	OnCheckoutStarted(ctx context.Context, sessionID, ownerID string, tier catalog.Tier, trialGranted bool) error
}
