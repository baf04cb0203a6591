// Package audithook bridges Settle reconciliation events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/event"
	"github.com/xraph/settle/invoice"
	"github.com/xraph/settle/plugin"
	"github.com/xraph/settle/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnSubscriptionCreated  = (*Extension)(nil)
	_ plugin.OnSubscriptionChanged  = (*Extension)(nil)
	_ plugin.OnSubscriptionCanceled = (*Extension)(nil)
	_ plugin.OnSubscriptionExpired  = (*Extension)(nil)
	_ plugin.OnStaleEventDiscarded  = (*Extension)(nil)
	_ plugin.OnInvoicePaid          = (*Extension)(nil)
	_ plugin.OnInvoiceFailed        = (*Extension)(nil)
	_ plugin.OnWebhookReceived      = (*Extension)(nil)
	_ plugin.OnWebhookRejected      = (*Extension)(nil)
	_ plugin.OnCheckoutStarted      = (*Extension)(nil)
	_ plugin.OnTrialFailOpen        = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Settle reconciliation events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (e *Extension) OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionCreated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ExternalSubscriptionRef, CategorySubscription, nil,
		"owner_id", sub.OwnerID,
		"tier", string(sub.Tier),
		"status", string(sub.Status),
	)
}

// OnSubscriptionChanged implements plugin.OnSubscriptionChanged.
func (e *Extension) OnSubscriptionChanged(ctx context.Context, old, updated *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionChanged, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, updated.ExternalSubscriptionRef, CategorySubscription, nil,
		"owner_id", updated.OwnerID,
		"from_status", string(old.Status),
		"to_status", string(updated.Status),
		"from_tier", string(old.Tier),
		"to_tier", string(updated.Tier),
	)
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (e *Extension) OnSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionCanceled, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ExternalSubscriptionRef, CategorySubscription, nil,
		"owner_id", sub.OwnerID,
	)
}

// OnSubscriptionExpired implements plugin.OnSubscriptionExpired.
func (e *Extension) OnSubscriptionExpired(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionExpired, SeverityWarning, OutcomeSuccess,
		ResourceSubscription, sub.ExternalSubscriptionRef, CategorySubscription, nil,
		"owner_id", sub.OwnerID,
		"period_end", sub.CurrentPeriodEnd,
	)
}

// OnStaleEventDiscarded implements plugin.OnStaleEventDiscarded.
func (e *Extension) OnStaleEventDiscarded(ctx context.Context, ev event.Meta, current *subscription.Subscription) error {
	return e.record(ctx, ActionStaleEventDiscarded, SeverityInfo, OutcomePartial,
		ResourceSubscription, current.ExternalSubscriptionRef, CategoryIntegration, nil,
		"event_id", ev.ID,
		"event_type", string(ev.Kind),
	)
}

// ──────────────────────────────────────────────────
// Invoice lifecycle hooks
// ──────────────────────────────────────────────────

// OnInvoicePaid implements plugin.OnInvoicePaid.
func (e *Extension) OnInvoicePaid(ctx context.Context, inv *invoice.Invoice) error {
	return e.record(ctx, ActionInvoicePaid, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, inv.ExternalInvoiceRef, CategoryPayment, nil,
		"subscription_ref", inv.SubscriptionRef,
		"amount", inv.Amount.String(),
	)
}

// OnInvoiceFailed implements plugin.OnInvoiceFailed.
func (e *Extension) OnInvoiceFailed(ctx context.Context, inv *invoice.Invoice) error {
	return e.record(ctx, ActionInvoiceFailed, SeverityWarning, OutcomeFailure,
		ResourceInvoice, inv.ExternalInvoiceRef, CategoryPayment, nil,
		"subscription_ref", inv.SubscriptionRef,
		"amount", inv.Amount.String(),
	)
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (e *Extension) OnWebhookReceived(ctx context.Context, ev event.Meta, outcome event.Outcome) error {
	severity, result := SeverityInfo, OutcomeSuccess
	switch outcome {
	case event.OutcomeUnprocessable:
		severity, result = SeverityError, OutcomeFailure
	case event.OutcomeStale:
		result = OutcomePartial
	}
	return e.record(ctx, ActionWebhookProcessed, severity, result,
		ResourceWebhook, ev.ID, CategoryIntegration, nil,
		"event_type", string(ev.Kind),
		"outcome", string(outcome),
	)
}

// OnWebhookRejected implements plugin.OnWebhookRejected. A rejected delivery
// may be a forgery, so it is recorded as a critical security event.
func (e *Extension) OnWebhookRejected(ctx context.Context, reason string, err error) error {
	return e.record(ctx, ActionWebhookRejected, SeverityCritical, OutcomeFailure,
		ResourceWebhook, "", CategorySecurity, err,
		"rejection", reason,
	)
}

// ──────────────────────────────────────────────────
// Checkout hooks
// ──────────────────────────────────────────────────

// OnCheckoutStarted implements plugin.OnCheckoutStarted.
func (e *Extension) OnCheckoutStarted(ctx context.Context, sessionID, ownerID string, tier catalog.Tier, trialGranted bool) error {
	return e.record(ctx, ActionCheckoutStarted, SeverityInfo, OutcomeSuccess,
		ResourceCheckout, sessionID, CategoryPayment, nil,
		"owner_id", ownerID,
		"tier", string(tier),
		"trial_granted", trialGranted,
	)
}

// OnTrialFailOpen implements plugin.OnTrialFailOpen.
func (e *Extension) OnTrialFailOpen(ctx context.Context, ownerID string, tier catalog.Tier, err error) error {
	return e.record(ctx, ActionTrialFailOpen, SeverityWarning, OutcomePartial,
		ResourceCheckout, "", CategoryPayment, err,
		"owner_id", ownerID,
		"tier", string(tier),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
