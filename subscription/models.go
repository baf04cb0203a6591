package subscription

import (
	"maps"
	"time"

	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/id"
	"github.com/xraph/settle/types"
)

type Status string

const (
	StatusTrialing  Status = "trialing"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// IsTerminal reports whether s is a history-only status.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

func (s Status) rank() int {
	switch s {
	case StatusTrialing:
		return 0
	case StatusActive:
		return 1
	case StatusPastDue:
		return 2
	case StatusExpired:
		return 3
	case StatusCancelled:
		return 4
	default:
		return -1
	}
}

// CanTransition reports whether a non-deletion event may move a record from
// one status to another. Statuses only move forward along
// trialing → active → past_due → expired/cancelled, with two exceptions:
// past_due → active (payment recovered) and expired → cancelled.
func CanTransition(from, to Status) bool {
	switch {
	case from == to:
		return true
	case from == StatusPastDue && to == StatusActive:
		return true
	case from == StatusExpired && to == StatusCancelled:
		return true
	case from.IsTerminal():
		return false
	}
	return to.rank() > from.rank()
}

// MapProcessorStatus maps the processor's subscription status vocabulary to
// a Status. Anything unrecognised (incomplete, incomplete_expired, unpaid,
// paused, ...) is treated as expired.
func MapProcessorStatus(s string) Status {
	switch s {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrialing
	case "past_due":
		return StatusPastDue
	case "canceled", "cancelled":
		return StatusCancelled
	default:
		return StatusExpired
	}
}

type Subscription struct {
	types.Entity
	ID                      id.SubscriptionID     `json:"id"`
	OwnerID                 string                `json:"owner_id"`
	Tier                    catalog.Tier          `json:"tier"`
	Status                  Status                `json:"status"`
	BillingPeriod           catalog.BillingPeriod `json:"billing_period"`
	CurrentPeriodStart      time.Time             `json:"current_period_start"`
	CurrentPeriodEnd        time.Time             `json:"current_period_end"`
	CancelAtPeriodEnd       bool                  `json:"cancel_at_period_end"`
	CanceledAt              *time.Time            `json:"canceled_at,omitempty"`
	TrialStart              *time.Time            `json:"trial_start,omitempty"`
	TrialEnd                *time.Time            `json:"trial_end,omitempty"`
	ExternalSubscriptionRef string                `json:"external_subscription_ref"`
	ExternalCustomerRef     string                `json:"external_customer_ref,omitempty"`
	ExternalPriceRef        string                `json:"external_price_ref,omitempty"`
	LastEventAt             time.Time             `json:"last_event_at"`
	StartedAt               time.Time             `json:"started_at"`
	Version                 int64                 `json:"version"`
	Metadata                map[string]string     `json:"metadata,omitempty"`
}

// HasTrialed reports whether the subscription was ever in trialing.
func (s *Subscription) HasTrialed() bool {
	return s.TrialStart != nil || s.Status == StatusTrialing
}

// GraceExpired reports whether a past_due subscription has stayed unpaid
// longer than grace beyond its period end.
func (s *Subscription) GraceExpired(now time.Time, grace time.Duration) bool {
	if s.Status != StatusPastDue || s.CurrentPeriodEnd.IsZero() {
		return false
	}
	return now.After(s.CurrentPeriodEnd.Add(grace))
}

// StartedBefore reports whether s began before o in processor time. The
// earliest processor time seen for each record decides; ties fall back to
// local creation time and then to the reference.
func (s *Subscription) StartedBefore(o *Subscription) bool {
	if c := s.startKey().Compare(o.startKey()); c != 0 {
		return c < 0
	}
	if c := s.CreatedAt.Compare(o.CreatedAt); c != 0 {
		return c < 0
	}
	return s.ExternalSubscriptionRef < o.ExternalSubscriptionRef
}

func (s *Subscription) startKey() time.Time {
	if s.StartedAt.IsZero() {
		return s.CreatedAt
	}
	return s.StartedAt
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	c := *s
	c.CanceledAt = cloneTime(s.CanceledAt)
	c.TrialStart = cloneTime(s.TrialStart)
	c.TrialEnd = cloneTime(s.TrialEnd)
	c.Metadata = maps.Clone(s.Metadata)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
