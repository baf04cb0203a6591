// Package observability provides a metrics extension for Settle that records
// reconciliation event counts via a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/event"
	"github.com/xraph/settle/invoice"
	"github.com/xraph/settle/plugin"
	"github.com/xraph/settle/subscription"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated  = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionChanged  = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCanceled = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionExpired  = (*MetricsExtension)(nil)
	_ plugin.OnStaleEventDiscarded  = (*MetricsExtension)(nil)
	_ plugin.OnInvoicePaid          = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceFailed        = (*MetricsExtension)(nil)
	_ plugin.OnWebhookReceived      = (*MetricsExtension)(nil)
	_ plugin.OnWebhookRejected      = (*MetricsExtension)(nil)
	_ plugin.OnTrialFailOpen        = (*MetricsExtension)(nil)
	_ plugin.OnCheckoutStarted      = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records reconciliation metrics.
// Register it as a Settle plugin to track webhook and billing activity.
type MetricsExtension struct {
	// Subscription metrics
	SubscriptionCreated  Counter
	SubscriptionChanged  Counter
	SubscriptionUpgraded Counter
	SubscriptionCanceled Counter
	SubscriptionExpired  Counter

	// Invoice metrics
	InvoicePaid   Counter
	InvoiceFailed Counter
	InvoiceAmount Histogram

	// Webhook metrics, one counter per outcome
	WebhookProcessed     Counter
	WebhookIgnored       Counter
	WebhookDuplicate     Counter
	WebhookStale         Counter
	WebhookUnprocessable Counter
	WebhookRejected      Counter
	StaleDiscarded       Counter

	// Checkout metrics
	CheckoutStarted Counter
	TrialGranted    Counter
	TrialFailOpen   Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		SubscriptionCreated:  factory.Counter("settle.subscription.created"),
		SubscriptionChanged:  factory.Counter("settle.subscription.changed"),
		SubscriptionUpgraded: factory.Counter("settle.subscription.upgraded"),
		SubscriptionCanceled: factory.Counter("settle.subscription.canceled"),
		SubscriptionExpired:  factory.Counter("settle.subscription.expired"),

		InvoicePaid:   factory.Counter("settle.invoice.paid"),
		InvoiceFailed: factory.Counter("settle.invoice.failed"),
		InvoiceAmount: factory.Histogram("settle.invoice.paid_amount"),

		WebhookProcessed:     factory.Counter("settle.webhook.processed"),
		WebhookIgnored:       factory.Counter("settle.webhook.ignored"),
		WebhookDuplicate:     factory.Counter("settle.webhook.duplicate"),
		WebhookStale:         factory.Counter("settle.webhook.stale"),
		WebhookUnprocessable: factory.Counter("settle.webhook.unprocessable"),
		WebhookRejected:      factory.Counter("settle.webhook.rejected"),
		StaleDiscarded:       factory.Counter("settle.event.stale_discarded"),

		CheckoutStarted: factory.Counter("settle.checkout.started"),
		TrialGranted:    factory.Counter("settle.checkout.trial_granted"),
		TrialFailOpen:   factory.Counter("settle.trial.fail_open"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (m *MetricsExtension) OnSubscriptionCreated(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionCreated.Inc()
	return nil
}

// OnSubscriptionChanged implements plugin.OnSubscriptionChanged. A move to a
// higher tier also counts as an upgrade.
func (m *MetricsExtension) OnSubscriptionChanged(_ context.Context, old, updated *subscription.Subscription) error {
	m.SubscriptionChanged.Inc()
	if old != nil && updated != nil && updated.Tier.Rank() > old.Tier.Rank() {
		m.SubscriptionUpgraded.Inc()
	}
	return nil
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (m *MetricsExtension) OnSubscriptionCanceled(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionCanceled.Inc()
	return nil
}

// OnSubscriptionExpired implements plugin.OnSubscriptionExpired.
func (m *MetricsExtension) OnSubscriptionExpired(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionExpired.Inc()
	return nil
}

// OnStaleEventDiscarded implements plugin.OnStaleEventDiscarded.
func (m *MetricsExtension) OnStaleEventDiscarded(_ context.Context, _ event.Meta, _ *subscription.Subscription) error {
	m.StaleDiscarded.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Invoice lifecycle hooks
// ──────────────────────────────────────────────────

// OnInvoicePaid implements plugin.OnInvoicePaid.
func (m *MetricsExtension) OnInvoicePaid(_ context.Context, inv *invoice.Invoice) error {
	m.InvoicePaid.Inc()
	if inv != nil {
		m.InvoiceAmount.Observe(float64(inv.Amount.Amount))
	}
	return nil
}

// OnInvoiceFailed implements plugin.OnInvoiceFailed.
func (m *MetricsExtension) OnInvoiceFailed(_ context.Context, _ *invoice.Invoice) error {
	m.InvoiceFailed.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (m *MetricsExtension) OnWebhookReceived(_ context.Context, _ event.Meta, outcome event.Outcome) error {
	switch outcome {
	case event.OutcomeProcessed:
		m.WebhookProcessed.Inc()
	case event.OutcomeIgnored:
		m.WebhookIgnored.Inc()
	case event.OutcomeDuplicate:
		m.WebhookDuplicate.Inc()
	case event.OutcomeStale:
		m.WebhookStale.Inc()
	case event.OutcomeUnprocessable:
		m.WebhookUnprocessable.Inc()
	}
	return nil
}

// OnWebhookRejected implements plugin.OnWebhookRejected.
func (m *MetricsExtension) OnWebhookRejected(_ context.Context, _ string, _ error) error {
	m.WebhookRejected.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Checkout hooks
// ──────────────────────────────────────────────────

// OnCheckoutStarted implements plugin.OnCheckoutStarted.
func (m *MetricsExtension) OnCheckoutStarted(_ context.Context, _, _ string, _ catalog.Tier, trialGranted bool) error {
	m.CheckoutStarted.Inc()
	if trialGranted {
		m.TrialGranted.Inc()
	}
	return nil
}

// OnTrialFailOpen implements plugin.OnTrialFailOpen.
func (m *MetricsExtension) OnTrialFailOpen(_ context.Context, _ string, _ catalog.Tier, _ error) error {
	m.TrialFailOpen.Inc()
	return nil
}
