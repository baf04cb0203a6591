package audithook

// Action constants for audit events.
const (
	// Subscription actions
	ActionSubscriptionCreated  = "subscription.created"
	ActionSubscriptionChanged  = "subscription.changed"
	ActionSubscriptionCanceled = "subscription.canceled"
	ActionSubscriptionExpired  = "subscription.expired"
	ActionStaleEventDiscarded  = "subscription.stale_event_discarded"

	// Invoice actions
	ActionInvoicePaid   = "invoice.paid"
	ActionInvoiceFailed = "invoice.failed"

	// Webhook actions
	ActionWebhookProcessed = "webhook.processed"
	ActionWebhookRejected  = "webhook.rejected"

	// Checkout actions
	ActionCheckoutStarted = "checkout.started"
	ActionTrialFailOpen   = "trial.fail_open"
)

// Resource constants for audit events.
const (
	ResourceSubscription = "subscription"
	ResourceInvoice      = "invoice"
	ResourceWebhook      = "webhook"
	ResourceCheckout     = "checkout"
)

// Category constants for audit events.
const (
	CategorySubscription = "subscription"
	CategoryPayment      = "payment"
	CategoryIntegration  = "integration"
	CategorySecurity     = "security"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
