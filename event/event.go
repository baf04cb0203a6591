// Package event turns authenticated processor webhook bodies into typed
// events.
//
// Event is a closed sum type: every recognised kind has its own struct with a
// strongly typed payload, and anything else decodes to Unknown. Callers
// switch on the concrete type.
package event

import (
	"time"
)

// Kind is the processor's event type string.
type Kind string

const (
	KindCheckoutCompleted    Kind = "checkout.session.completed"
	KindSubscriptionCreated  Kind = "customer.subscription.created"
	KindSubscriptionUpdated  Kind = "customer.subscription.updated"
	KindSubscriptionDeleted  Kind = "customer.subscription.deleted"
	KindInvoicePaid          Kind = "invoice.paid"
	KindInvoicePaymentFailed Kind = "invoice.payment_failed"
)

// Meta is the envelope shared by every event.
type Meta struct {
	ID       string
	Kind     Kind
	Created  time.Time
	Livemode bool
}

// Event is implemented by CheckoutCompleted, SubscriptionChanged,
// SubscriptionDeleted, InvoicePaid, InvoicePaymentFailed and Unknown.
type Event interface {
	Envelope() Meta
	sealed()
}

// CheckoutCompleted reports a finished hosted checkout.
type CheckoutCompleted struct {
	Meta
	Session CheckoutSession
}

// SubscriptionChanged reports a created or updated subscription.
type SubscriptionChanged struct {
	Meta
	Subscription Subscription
}

// SubscriptionDeleted reports a subscription the processor has ended.
type SubscriptionDeleted struct {
	Meta
	Subscription Subscription
}

// InvoicePaid reports a settled invoice.
type InvoicePaid struct {
	Meta
	Invoice Invoice
}

// InvoicePaymentFailed reports a failed collection attempt.
type InvoicePaymentFailed struct {
	Meta
	Invoice Invoice
}

// Unknown is any event kind the engine does not act on.
type Unknown struct {
	Meta
}

func (m Meta) Envelope() Meta { return m }

func (CheckoutCompleted) sealed()    {}
func (SubscriptionChanged) sealed()  {}
func (SubscriptionDeleted) sealed()  {}
func (InvoicePaid) sealed()          {}
func (InvoicePaymentFailed) sealed() {}
func (Unknown) sealed()              {}

// CheckoutSession is the subset of a checkout session the engine reads.
type CheckoutSession struct {
	ID                string
	Mode              string
	SubscriptionRef   string
	CustomerRef       string
	ClientReferenceID string
	CustomerEmail     string
	Metadata          map[string]string
}

// Subscription is the subset of a processor subscription the engine reads.
type Subscription struct {
	ID                 string
	CustomerRef        string
	Status             string
	PriceRef           string
	Interval           string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time
	Metadata           map[string]string
}

// Invoice is the subset of a processor invoice the engine reads.
type Invoice struct {
	ID              string
	CustomerRef     string
	SubscriptionRef string
	Status          string
	AmountPaid      int64
	AmountDue       int64
	Currency        string
	HostedURL       string
	PDFURL          string
	DueDate         *time.Time
	PaidAt          *time.Time
}

// DocumentURL returns the best human-readable link for the invoice.
func (i Invoice) DocumentURL() string {
	if i.HostedURL != "" {
		return i.HostedURL
	}
	return i.PDFURL
}
