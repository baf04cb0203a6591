package settle

import (
	"context"
	"errors"

	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/event"
	"github.com/xraph/settle/subscription"
)

// Metadata keys written on checkout sessions and their subscriptions.
const (
	MetaTier          = "tier"
	MetaBillingPeriod = "billing_period"
	MetaPriceID       = "price_id"
	MetaOwnerID       = "owner_id"
	MetaTrialGranted  = "trial_granted"
)

// CreateFromCheckout records the subscription a completed checkout produced.
//
// A record that already exists for the reference is left alone apart from
// filling in fields it is missing, which is how a checkout that arrives after
// the subscription's own events attaches the owner.
func (e *Engine) CreateFromCheckout(ctx context.Context, meta event.Meta, cs event.CheckoutSession) (event.Outcome, error) {
	if cs.Mode != "" && cs.Mode != "subscription" {
		e.logger.Debug("ignoring non-subscription checkout", "event_id", meta.ID, "mode", cs.Mode)
		return event.OutcomeIgnored, nil
	}
	if cs.SubscriptionRef == "" {
		return "", ValidationError{Field: "subscription", Message: "checkout session has no subscription reference"}
	}

	owner := cs.ClientReferenceID
	if owner == "" {
		owner = cs.Metadata[MetaOwnerID]
	}
	if owner == "" {
		return "", ValidationError{Field: "client_reference_id", Message: "checkout session has no owner"}
	}

	status := subscription.StatusActive
	if cs.Metadata[MetaTrialGranted] == "true" {
		status = subscription.StatusTrialing
	}

	ch := subscription.Change{
		SubscriptionRef: cs.SubscriptionRef,
		CustomerRef:     cs.CustomerRef,
		PriceRef:        cs.Metadata[MetaPriceID],
		OwnerID:         owner,
		Status:          status,
		OccurredAt:      meta.Created,
		Metadata:        cs.Metadata,
	}
	e.classify(&ch, cs.Metadata, "")

	cur, err := e.store.GetSubscriptionByRef(ctx, ch.SubscriptionRef)
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		return e.insertSubscription(ctx, ch)
	case err != nil:
		return "", persistErr("get subscription", err)
	}

	next, changed := subscription.Backfill(cur, ch)
	if changed {
		if err := e.saveSubscription(ctx, cur, next); err != nil {
			return "", err
		}
	}
	if err := e.supersede(ctx, next); err != nil {
		return "", err
	}
	return event.OutcomeProcessed, nil
}

// ApplySubscriptionChange folds a created or updated subscription event into
// the stored record, creating it when this is the first event seen for the
// reference.
func (e *Engine) ApplySubscriptionChange(ctx context.Context, meta event.Meta, s event.Subscription) (event.Outcome, error) {
	if s.ID == "" {
		return "", ValidationError{Field: "id", Message: "subscription event has no subscription id"}
	}
	ch := e.changeFrom(meta, s)

	cur, err := e.store.GetSubscriptionByRef(ctx, ch.SubscriptionRef)
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		return e.insertSubscription(ctx, ch)
	case err != nil:
		return "", persistErr("get subscription", err)
	}

	next, res := subscription.Apply(cur, ch)
	if res.Stale {
		e.logger.Info("discarding stale subscription event",
			"event_id", meta.ID,
			"subscription_ref", cur.ExternalSubscriptionRef,
			"event_period_end", ch.CurrentPeriodEnd,
			"stored_period_end", cur.CurrentPeriodEnd,
		)
		e.plugins.EmitStaleEventDiscarded(ctx, meta, cur)
		return event.OutcomeStale, nil
	}
	if res.StatusHeld {
		e.logger.Info("status transition refused",
			"event_id", meta.ID,
			"subscription_ref", cur.ExternalSubscriptionRef,
			"from", cur.Status,
			"to", ch.Status,
		)
	}
	if res.Changed {
		if err := e.saveSubscription(ctx, cur, next); err != nil {
			return "", err
		}
	}
	if err := e.supersede(ctx, next); err != nil {
		return "", err
	}
	return event.OutcomeProcessed, nil
}

// TerminateSubscription applies a deletion. Deletion is authoritative: it
// always moves the record to cancelled, and replaying it changes nothing.
//
// CanceledAt is when the deletion was confirmed here. The payload's
// canceled_at is when cancellation was requested, which for a
// cancel-at-period-end subscription is long before it took effect.
func (e *Engine) TerminateSubscription(ctx context.Context, meta event.Meta, s event.Subscription) (event.Outcome, error) {
	if s.ID == "" {
		return "", ValidationError{Field: "id", Message: "subscription event has no subscription id"}
	}

	canceledAt := e.now()
	ch := e.changeFrom(meta, s)
	ch.Status = subscription.StatusCancelled
	ch.CanceledAt = &canceledAt

	cur, err := e.store.GetSubscriptionByRef(ctx, ch.SubscriptionRef)
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		return e.insertSubscription(ctx, ch)
	case err != nil:
		return "", persistErr("get subscription", err)
	}

	filled, backfilled := subscription.Backfill(cur, ch)
	next, terminated := subscription.Terminate(filled, canceledAt, meta.Created)
	if !backfilled && !terminated {
		return event.OutcomeProcessed, nil
	}
	if err := e.saveSubscription(ctx, cur, next); err != nil {
		return "", err
	}
	return event.OutcomeProcessed, nil
}

// GetSubscription returns the subscription for a processor reference with
// lazy expiry applied.
func (e *Engine) GetSubscription(ctx context.Context, ref string) (*subscription.Subscription, error) {
	s, err := e.store.GetSubscriptionByRef(ctx, ref)
	if err != nil {
		return nil, persistErr("get subscription", err)
	}
	return e.expireIfDue(ctx, s), nil
}

// CurrentSubscription returns the owner's live subscription, or their most
// recent one when none is live.
func (e *Engine) CurrentSubscription(ctx context.Context, ownerID string) (*subscription.Subscription, error) {
	subs, err := e.ListSubscriptions(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrSubscriptionNotFound
	}
	for _, s := range subs {
		if !s.Status.IsTerminal() {
			return s, nil
		}
	}
	return subs[0], nil
}

// ListSubscriptions returns every subscription of the owner, newest first,
// with lazy expiry applied.
func (e *Engine) ListSubscriptions(ctx context.Context, ownerID string) ([]*subscription.Subscription, error) {
	subs, err := e.store.ListSubscriptionsByOwner(ctx, ownerID)
	if err != nil {
		return nil, persistErr("list subscriptions", err)
	}
	for i, s := range subs {
		subs[i] = e.expireIfDue(ctx, s)
	}
	return subs, nil
}

// expireIfDue reports a past_due subscription past its grace period as
// expired and tries to persist that. The read never fails because the write
// did.
func (e *Engine) expireIfDue(ctx context.Context, s *subscription.Subscription) *subscription.Subscription {
	now := e.now()
	if !s.GraceExpired(now, e.gracePeriod) {
		return s
	}

	next := s.Clone()
	next.Status = subscription.StatusExpired
	next.Touch(now)
	if err := e.store.UpsertSubscription(ctx, next, s.Version); err != nil {
		e.logger.Warn("persisting lazy expiry failed",
			"subscription_ref", s.ExternalSubscriptionRef,
			"error", err,
		)
		return next
	}

	e.logger.Info("subscription expired",
		"subscription_ref", next.ExternalSubscriptionRef,
		"owner_id", next.OwnerID,
		"period_end", next.CurrentPeriodEnd,
	)
	e.plugins.EmitSubscriptionExpired(ctx, next)
	return next
}

// insertSubscription stores the first record for a reference. Losing the
// insert race to a concurrent event is reported as a conflict so the event
// is redelivered and takes the update path.
func (e *Engine) insertSubscription(ctx context.Context, ch subscription.Change) (event.Outcome, error) {
	s := subscription.New(ch, e.now())
	if err := e.store.UpsertSubscription(ctx, s, 0); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return "", ErrConflict
		}
		return "", persistErr("insert subscription", err)
	}

	e.logger.Info("subscription created",
		"subscription_ref", s.ExternalSubscriptionRef,
		"owner_id", s.OwnerID,
		"status", s.Status,
	)
	e.plugins.EmitSubscriptionCreated(ctx, s)
	if s.Status == subscription.StatusCancelled {
		e.plugins.EmitSubscriptionCanceled(ctx, s)
	}
	if s.Status == subscription.StatusExpired {
		e.plugins.EmitSubscriptionExpired(ctx, s)
	}

	if err := e.supersede(ctx, s); err != nil {
		return "", err
	}
	return event.OutcomeProcessed, nil
}

// saveSubscription writes next over cur, guarded by cur's version.
func (e *Engine) saveSubscription(ctx context.Context, cur, next *subscription.Subscription) error {
	next.Touch(e.now())
	if err := e.store.UpsertSubscription(ctx, next, cur.Version); err != nil {
		return persistErr("update subscription", err)
	}

	if cur.Status != next.Status {
		e.logger.Info("subscription status changed",
			"subscription_ref", next.ExternalSubscriptionRef,
			"from", cur.Status,
			"to", next.Status,
		)
	}
	e.plugins.EmitSubscriptionChanged(ctx, cur, next)
	if next.Status == subscription.StatusCancelled && cur.Status != subscription.StatusCancelled {
		e.plugins.EmitSubscriptionCanceled(ctx, next)
	}
	if next.Status == subscription.StatusExpired && cur.Status != subscription.StatusExpired {
		e.plugins.EmitSubscriptionExpired(ctx, next)
	}
	return nil
}

// supersede keeps at most one live subscription per owner. When s is live,
// the owner's live subscription that started last in processor time is kept
// and every other one is cancelled, s included if it started earlier.
//
// It decides from stored state alone, so running it again is a no-op once
// it has succeeded. Callers run it whether or not their event changed the
// record, which lets a redelivery finish a supersede that failed part-way.
func (e *Engine) supersede(ctx context.Context, s *subscription.Subscription) error {
	if s.OwnerID == "" || s.Status.IsTerminal() {
		return nil
	}

	subs, err := e.store.ListSubscriptionsByOwner(ctx, s.OwnerID)
	if err != nil {
		return persistErr("list subscriptions", err)
	}
	var live []*subscription.Subscription
	var keep *subscription.Subscription
	for _, other := range subs {
		if other.Status.IsTerminal() {
			continue
		}
		live = append(live, other)
		if keep == nil || keep.StartedBefore(other) {
			keep = other
		}
	}

	for _, other := range live {
		if other == keep {
			continue
		}
		next, _ := subscription.Terminate(other, e.now(), other.LastEventAt)
		e.logger.Info("superseding subscription",
			"subscription_ref", other.ExternalSubscriptionRef,
			"superseded_by", keep.ExternalSubscriptionRef,
			"owner_id", s.OwnerID,
		)
		if err := e.saveSubscription(ctx, other, next); err != nil {
			return err
		}
	}
	return nil
}

// changeFrom converts a processor subscription payload into a Change.
func (e *Engine) changeFrom(meta event.Meta, s event.Subscription) subscription.Change {
	cancelAtPeriodEnd := s.CancelAtPeriodEnd
	ch := subscription.Change{
		SubscriptionRef:    s.ID,
		CustomerRef:        s.CustomerRef,
		PriceRef:           s.PriceRef,
		OwnerID:            s.Metadata[MetaOwnerID],
		Status:             subscription.MapProcessorStatus(s.Status),
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CancelAtPeriodEnd:  &cancelAtPeriodEnd,
		CanceledAt:         s.CanceledAt,
		TrialStart:         s.TrialStart,
		TrialEnd:           s.TrialEnd,
		OccurredAt:         meta.Created,
		Metadata:           s.Metadata,
	}
	if ch.PriceRef == "" {
		ch.PriceRef = s.Metadata[MetaPriceID]
	}
	e.classify(&ch, s.Metadata, s.Interval)
	return ch
}

// classify fills tier and billing period from metadata, falling back to the
// catalog entry of the price and finally to the price interval.
func (e *Engine) classify(ch *subscription.Change, md map[string]string, interval string) {
	if t, ok := catalog.ParseTier(md[MetaTier]); ok {
		ch.Tier = t
	}
	if p, ok := catalog.ParseBillingPeriod(md[MetaBillingPeriod]); ok {
		ch.BillingPeriod = p
	}
	if ch.PriceRef != "" && (ch.Tier == "" || ch.BillingPeriod == "") {
		if t, p, ok := e.catalog.Lookup(ch.PriceRef); ok {
			if ch.Tier == "" {
				ch.Tier = t
			}
			if ch.BillingPeriod == "" {
				ch.BillingPeriod = p
			}
		}
	}
	if ch.BillingPeriod == "" {
		if p, ok := catalog.ParseBillingPeriod(interval); ok {
			ch.BillingPeriod = p
		}
	}
}
