package store

import (
	"context"

	"github.com/xraph/settle/event"
	"github.com/xraph/settle/invoice"
	"github.com/xraph/settle/subscription"
)

// Store is the unified storage interface for all settle records.
//
// Lookups return settle.ErrSubscriptionNotFound, settle.ErrInvoiceNotFound or
// settle.ErrEventNotFound when nothing matches. Conditional writes return
// settle.ErrAlreadyExists or settle.ErrConflict.
type Store interface {
	subscription.Store
	invoice.Store
	event.Ledger

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
