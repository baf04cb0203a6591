package invoice

import "context"

// Store persists invoices keyed by ExternalInvoiceRef. UpsertInvoice follows
// the same expectedVersion contract as the subscription store.
type Store interface {
	UpsertInvoice(ctx context.Context, inv *Invoice, expectedVersion int64) error
	GetInvoiceByRef(ctx context.Context, ref string) (*Invoice, error)
	ListInvoicesBySubscription(ctx context.Context, subscriptionRef string) ([]*Invoice, error)
}
