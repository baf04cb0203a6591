// Package entitlement describes the outcome of a tier access check.
package entitlement

import (
	"time"

	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/subscription"
)

// Reasons reported when access is refused or degraded.
const (
	ReasonNoSubscription = "no subscription"
	ReasonInactive       = "subscription not active"
	ReasonTierTooLow     = "tier below required"
	ReasonPastDue        = "payment past due"
)

// Result is the answer to "may this owner use a feature of tier Required".
type Result struct {
	Allowed         bool                `json:"allowed"`
	OwnerID         string              `json:"owner_id"`
	Required        catalog.Tier        `json:"required"`
	Tier            catalog.Tier        `json:"tier,omitempty"`
	Status          subscription.Status `json:"status,omitempty"`
	SubscriptionRef string              `json:"subscription_ref,omitempty"`
	// AccessUntil is when access lapses without a further payment: the
	// period end, or the end of the grace period while past_due.
	AccessUntil *time.Time `json:"access_until,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}
