package settle

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/settle/event"
	"github.com/xraph/settle/id"
	"github.com/xraph/settle/invoice"
	"github.com/xraph/settle/subscription"
	"github.com/xraph/settle/types"
)

// RecordInvoicePaid records a settled invoice against its subscription.
//
// The subscription must already exist; if it does not, the error is
// retryable because the event creating it may still be in flight. A paid
// invoice is final and redeliveries are no-ops.
func (e *Engine) RecordInvoicePaid(ctx context.Context, meta event.Meta, in event.Invoice) (event.Outcome, error) {
	if in.ID == "" {
		return "", ValidationError{Field: "id", Message: "invoice event has no invoice id"}
	}

	sub, err := e.invoiceSubscription(ctx, in)
	if err != nil {
		return "", err
	}

	paidAt := meta.Created
	if in.PaidAt != nil {
		paidAt = *in.PaidAt
	}

	cur, err := e.store.GetInvoiceByRef(ctx, in.ID)
	switch {
	case errors.Is(err, ErrInvoiceNotFound):
		inv := e.newInvoice(in, sub, invoice.StatusPaid, in.AmountPaid)
		inv.PaidAt = &paidAt
		if err := e.insertInvoice(ctx, inv); err != nil {
			return "", err
		}
		e.plugins.EmitInvoicePaid(ctx, inv)
		return event.OutcomeProcessed, nil
	case err != nil:
		return "", persistErr("get invoice", err)
	}

	if cur.IsPaid() {
		return event.OutcomeProcessed, nil
	}

	next := cur.Clone()
	next.Status = invoice.StatusPaid
	next.PaidAt = &paidAt
	next.Amount = types.NewMoney(in.AmountPaid, in.Currency)
	if url := in.DocumentURL(); url != "" {
		next.DocumentURL = url
	}
	next.Touch(e.now())
	if err := e.store.UpsertInvoice(ctx, next, cur.Version); err != nil {
		return "", persistErr("update invoice", err)
	}

	e.logger.Info("invoice paid after failure",
		"invoice_ref", next.ExternalInvoiceRef,
		"subscription_ref", next.SubscriptionRef,
	)
	e.plugins.EmitInvoicePaid(ctx, next)
	return event.OutcomeProcessed, nil
}

// RecordInvoiceFailed records a failed collection attempt and moves the
// subscription to past_due through the same ordering rules as any other
// subscription change. An invoice that is already on file, paid or failed,
// is left untouched.
func (e *Engine) RecordInvoiceFailed(ctx context.Context, meta event.Meta, in event.Invoice) (event.Outcome, error) {
	if in.ID == "" {
		return "", ValidationError{Field: "id", Message: "invoice event has no invoice id"}
	}

	sub, err := e.invoiceSubscription(ctx, in)
	if err != nil {
		return "", err
	}

	recorded := false
	_, err = e.store.GetInvoiceByRef(ctx, in.ID)
	switch {
	case errors.Is(err, ErrInvoiceNotFound):
		inv := e.newInvoice(in, sub, invoice.StatusFailed, in.AmountDue)
		if err := e.insertInvoice(ctx, inv); err != nil {
			return "", err
		}
		e.plugins.EmitInvoiceFailed(ctx, inv)
		recorded = true
	case err != nil:
		return "", persistErr("get invoice", err)
	}

	next, res := subscription.Apply(sub, subscription.Change{
		SubscriptionRef: sub.ExternalSubscriptionRef,
		Status:          subscription.StatusPastDue,
		OccurredAt:      meta.Created,
	})
	switch {
	case res.Stale:
		e.logger.Info("payment failure older than subscription state",
			"event_id", meta.ID,
			"subscription_ref", sub.ExternalSubscriptionRef,
		)
		e.plugins.EmitStaleEventDiscarded(ctx, meta, sub)
		if !recorded {
			return event.OutcomeStale, nil
		}
	case res.Changed:
		if err := e.saveSubscription(ctx, sub, next); err != nil {
			return "", err
		}
	}
	return event.OutcomeProcessed, nil
}

// GetInvoice returns an invoice by its processor reference.
func (e *Engine) GetInvoice(ctx context.Context, ref string) (*invoice.Invoice, error) {
	inv, err := e.store.GetInvoiceByRef(ctx, ref)
	if err != nil {
		return nil, persistErr("get invoice", err)
	}
	return inv, nil
}

// ListInvoices returns the invoices of a subscription, newest first.
func (e *Engine) ListInvoices(ctx context.Context, subscriptionRef string) ([]*invoice.Invoice, error) {
	invs, err := e.store.ListInvoicesBySubscription(ctx, subscriptionRef)
	if err != nil {
		return nil, persistErr("list invoices", err)
	}
	return invs, nil
}

// invoiceSubscription finds the subscription an invoice belongs to, by
// subscription reference first and by customer otherwise.
func (e *Engine) invoiceSubscription(ctx context.Context, in event.Invoice) (*subscription.Subscription, error) {
	if in.SubscriptionRef != "" {
		s, err := e.store.GetSubscriptionByRef(ctx, in.SubscriptionRef)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return nil, persistErr("get subscription", err)
		}
	}
	if in.CustomerRef != "" {
		s, err := e.store.LatestSubscriptionByCustomer(ctx, in.CustomerRef)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return nil, persistErr("get subscription", err)
		}
	}
	return nil, fmt.Errorf("%w: invoice %s (subscription %q, customer %q)",
		ErrSubscriptionNotFound, in.ID, in.SubscriptionRef, in.CustomerRef)
}

func (e *Engine) newInvoice(in event.Invoice, sub *subscription.Subscription, status invoice.Status, amount int64) *invoice.Invoice {
	return &invoice.Invoice{
		Entity:             types.NewEntity(e.now()),
		ID:                 id.NewInvoiceID(),
		ExternalInvoiceRef: in.ID,
		SubscriptionRef:    sub.ExternalSubscriptionRef,
		OwnerID:            sub.OwnerID,
		Amount:             types.NewMoney(amount, in.Currency),
		Status:             status,
		DueDate:            in.DueDate,
		DocumentURL:        in.DocumentURL(),
	}
}

func (e *Engine) insertInvoice(ctx context.Context, inv *invoice.Invoice) error {
	if err := e.store.UpsertInvoice(ctx, inv, 0); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return ErrConflict
		}
		return persistErr("insert invoice", err)
	}
	e.logger.Info("invoice recorded",
		"invoice_ref", inv.ExternalInvoiceRef,
		"subscription_ref", inv.SubscriptionRef,
		"status", inv.Status,
		"amount", inv.Amount.String(),
	)
	return nil
}
