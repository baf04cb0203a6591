package subscription

import (
	"maps"
	"time"

	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/id"
	"github.com/xraph/settle/types"
)

// Change is a processor-side snapshot of a subscription, as carried by one
// event. Empty strings, zero times and nil pointers mean "not reported" and
// leave the stored value alone.
type Change struct {
	SubscriptionRef    string
	CustomerRef        string
	PriceRef           string
	OwnerID            string
	Tier               catalog.Tier
	BillingPeriod      catalog.BillingPeriod
	Status             Status
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  *bool
	CanceledAt         *time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time
	OccurredAt         time.Time
	Metadata           map[string]string
}

// Result describes what Apply did.
type Result struct {
	// Stale is set when the change was older than the stored record and
	// nothing was applied.
	Stale bool
	// StatusHeld is set when the change asked for a status the stored
	// record may not move to; the other fields were still applied.
	StatusHeld bool
	// Changed is set when the returned record differs from the input.
	Changed bool
}

// IsStale reports whether ch describes an older state than cur.
//
// The period end is the primary ordering key. A record that has no period
// yet accepts any change that reports one. When the period ends are equal,
// or the change reports none, the processor timestamp of the event decides.
func IsStale(cur *Subscription, ch Change) bool {
	switch {
	case ch.CurrentPeriodEnd.IsZero():
	case cur.CurrentPeriodEnd.IsZero():
		return false
	case ch.CurrentPeriodEnd.Before(cur.CurrentPeriodEnd):
		return true
	case ch.CurrentPeriodEnd.After(cur.CurrentPeriodEnd):
		return false
	}
	return !ch.OccurredAt.IsZero() && ch.OccurredAt.Before(cur.LastEventAt)
}

// New builds a subscription from the first change seen for its reference.
func New(ch Change, now time.Time) *Subscription {
	s := &Subscription{
		Entity:                  types.NewEntity(now),
		ID:                      id.NewSubscriptionID(),
		ExternalSubscriptionRef: ch.SubscriptionRef,
		Status:                  ch.Status,
	}
	if !s.Status.IsValid() {
		s.Status = StatusActive
	}
	apply(s, ch)
	return s
}

// Apply folds ch into a copy of cur following the ordering and transition
// rules. cur is never modified.
func Apply(cur *Subscription, ch Change) (*Subscription, Result) {
	if IsStale(cur, ch) {
		return cur, Result{Stale: true}
	}

	next := cur.Clone()
	var res Result
	if ch.Status != "" {
		if CanTransition(cur.Status, ch.Status) {
			next.Status = ch.Status
		} else {
			res.StatusHeld = true
		}
	}
	apply(next, ch)
	res.Changed = !sameState(cur, next)
	return next, res
}

// Backfill fills fields the stored record is missing from ch without
// touching status, period or anything already set. It is how a late
// checkout completion completes a record first created from a subscription
// event.
func Backfill(cur *Subscription, ch Change) (*Subscription, bool) {
	next := cur.Clone()
	if next.OwnerID == "" {
		next.OwnerID = ch.OwnerID
	}
	if next.Tier == "" {
		next.Tier = ch.Tier
	}
	if next.BillingPeriod == "" {
		next.BillingPeriod = ch.BillingPeriod
	}
	if next.ExternalCustomerRef == "" {
		next.ExternalCustomerRef = ch.CustomerRef
	}
	if next.ExternalPriceRef == "" {
		next.ExternalPriceRef = ch.PriceRef
	}
	noteStart(next, ch)
	for k, v := range ch.Metadata {
		if _, ok := next.Metadata[k]; !ok {
			if next.Metadata == nil {
				next.Metadata = make(map[string]string, len(ch.Metadata))
			}
			next.Metadata[k] = v
		}
	}
	return next, !sameState(cur, next)
}

// apply copies every reported field of ch onto s. The status has already
// been decided by the caller.
func apply(s *Subscription, ch Change) {
	if s.OwnerID == "" {
		s.OwnerID = ch.OwnerID
	}
	if ch.Tier != "" {
		s.Tier = ch.Tier
	}
	if ch.BillingPeriod != "" {
		s.BillingPeriod = ch.BillingPeriod
	}
	if ch.CustomerRef != "" {
		s.ExternalCustomerRef = ch.CustomerRef
	}
	if ch.PriceRef != "" {
		s.ExternalPriceRef = ch.PriceRef
	}
	if !ch.CurrentPeriodEnd.IsZero() {
		s.CurrentPeriodStart = ch.CurrentPeriodStart
		s.CurrentPeriodEnd = ch.CurrentPeriodEnd
	}
	if ch.CancelAtPeriodEnd != nil {
		s.CancelAtPeriodEnd = *ch.CancelAtPeriodEnd
	}
	if ch.TrialEnd != nil {
		s.TrialEnd = cloneTime(ch.TrialEnd)
	}
	if s.TrialStart == nil {
		switch {
		case ch.TrialStart != nil:
			s.TrialStart = cloneTime(ch.TrialStart)
		case s.Status == StatusTrialing:
			t := ch.OccurredAt
			s.TrialStart = &t
		}
	}
	if s.Status == StatusCancelled && s.CanceledAt == nil {
		switch {
		case ch.CanceledAt != nil:
			s.CanceledAt = cloneTime(ch.CanceledAt)
		default:
			t := ch.OccurredAt
			s.CanceledAt = &t
		}
	}
	if ch.OccurredAt.After(s.LastEventAt) {
		s.LastEventAt = ch.OccurredAt
	}
	noteStart(s, ch)
	if len(ch.Metadata) > 0 {
		if s.Metadata == nil {
			s.Metadata = make(map[string]string, len(ch.Metadata))
		}
		maps.Copy(s.Metadata, ch.Metadata)
	}
}

// noteStart lowers StartedAt to the earliest processor time ch reports for
// the subscription.
func noteStart(s *Subscription, ch Change) {
	for _, t := range []*time.Time{ch.TrialStart, &ch.CurrentPeriodStart, &ch.OccurredAt} {
		if t == nil || t.IsZero() {
			continue
		}
		if s.StartedAt.IsZero() || t.Before(s.StartedAt) {
			s.StartedAt = *t
		}
	}
}

// sameState compares the reconciled fields, ignoring local bookkeeping
// (ID, timestamps, version).
func sameState(a, b *Subscription) bool {
	return a.OwnerID == b.OwnerID &&
		a.Tier == b.Tier &&
		a.Status == b.Status &&
		a.BillingPeriod == b.BillingPeriod &&
		a.CurrentPeriodStart.Equal(b.CurrentPeriodStart) &&
		a.CurrentPeriodEnd.Equal(b.CurrentPeriodEnd) &&
		a.CancelAtPeriodEnd == b.CancelAtPeriodEnd &&
		sameTime(a.CanceledAt, b.CanceledAt) &&
		sameTime(a.TrialStart, b.TrialStart) &&
		sameTime(a.TrialEnd, b.TrialEnd) &&
		a.ExternalCustomerRef == b.ExternalCustomerRef &&
		a.ExternalPriceRef == b.ExternalPriceRef &&
		a.LastEventAt.Equal(b.LastEventAt) &&
		a.StartedAt.Equal(b.StartedAt) &&
		maps.Equal(a.Metadata, b.Metadata)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Terminate moves a copy of cur to cancelled. Deletion is authoritative, so
// no ordering rule applies. An existing CanceledAt is kept, which makes a
// replayed deletion a no-op.
func Terminate(cur *Subscription, canceledAt, occurredAt time.Time) (*Subscription, bool) {
	next := cur.Clone()
	next.Status = StatusCancelled
	if next.CanceledAt == nil {
		t := canceledAt
		next.CanceledAt = &t
	}
	if occurredAt.After(next.LastEventAt) {
		next.LastEventAt = occurredAt
	}
	return next, !sameState(cur, next)
}
