package settle

import (
	"context"
	"errors"

	"github.com/xraph/settle/event"
)

// Dispatch routes an authenticated event to its handler.
//
// It returns an error only when the processor should redeliver the event
// (see IsRetryable). Events that can never be processed, such as a checkout
// without an owner, are logged and acknowledged as unprocessable.
//
// Event ids are recorded in the processed-event ledger once their handler
// has succeeded; a redelivery of a recorded id is acknowledged as a
// duplicate without running the handler again.
func (e *Engine) Dispatch(ctx context.Context, ev event.Event) (event.Outcome, error) {
	meta := ev.Envelope()
	log := e.logger.With("event_id", meta.ID, "event_type", meta.Kind)

	if _, ok := ev.(event.Unknown); ok {
		log.Debug("ignoring unhandled event type")
		e.plugins.EmitWebhookReceived(ctx, meta, event.OutcomeIgnored)
		return event.OutcomeIgnored, nil
	}

	if _, err := e.events.GetProcessedEvent(ctx, meta.ID); err == nil {
		log.Debug("event already processed")
		e.plugins.EmitWebhookReceived(ctx, meta, event.OutcomeDuplicate)
		return event.OutcomeDuplicate, nil
	} else if !errors.Is(err, ErrEventNotFound) {
		return "", persistErr("get processed event", err)
	}

	outcome, err := e.route(ctx, ev)
	if err != nil {
		if !IsValidation(err) {
			log.Warn("event handling failed", "error", err, "retryable", IsRetryable(err))
			if IsRetryable(err) {
				return "", err
			}
			return "", &PersistenceError{Op: "handle " + string(meta.Kind), Err: err}
		}
		log.Warn("event unprocessable", "error", err)
		outcome = event.OutcomeUnprocessable
	}

	rec := &event.Record{
		EventID:     meta.ID,
		Kind:        meta.Kind,
		Outcome:     outcome,
		ProcessedAt: e.now(),
	}
	if err := e.events.MarkEventProcessed(ctx, rec); err != nil {
		// Handlers are idempotent, so a lost mark only costs a re-run.
		log.Warn("recording processed event failed", "error", err)
	}

	log.Info("event handled", "outcome", outcome)
	e.plugins.EmitWebhookReceived(ctx, meta, outcome)
	return outcome, nil
}

func (e *Engine) route(ctx context.Context, ev event.Event) (event.Outcome, error) {
	switch ev := ev.(type) {
	case event.CheckoutCompleted:
		return e.CreateFromCheckout(ctx, ev.Meta, ev.Session)
	case event.SubscriptionChanged:
		return e.ApplySubscriptionChange(ctx, ev.Meta, ev.Subscription)
	case event.SubscriptionDeleted:
		return e.TerminateSubscription(ctx, ev.Meta, ev.Subscription)
	case event.InvoicePaid:
		return e.RecordInvoicePaid(ctx, ev.Meta, ev.Invoice)
	case event.InvoicePaymentFailed:
		return e.RecordInvoiceFailed(ctx, ev.Meta, ev.Invoice)
	default:
		return event.OutcomeIgnored, nil
	}
}
