package settle

import (
	"context"
	"errors"

	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/entitlement"
	"github.com/xraph/settle/subscription"
)

// ──────────────────────────────────────────────────
// Entitlements
// ──────────────────────────────────────────────────

// Entitled checks whether ownerID's current subscription grants at least the
// required tier. Trialing, active and past_due subscriptions grant access;
// past_due ones only until their grace period ends.
func (e *Engine) Entitled(ctx context.Context, ownerID string, required catalog.Tier) (*entitlement.Result, error) {
	result := &entitlement.Result{OwnerID: ownerID, Required: required}

	sub, err := e.CurrentSubscription(ctx, ownerID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		result.Reason = entitlement.ReasonNoSubscription
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	result.Tier = sub.Tier
	result.Status = sub.Status
	result.SubscriptionRef = sub.ExternalSubscriptionRef
	if !sub.CurrentPeriodEnd.IsZero() {
		until := sub.CurrentPeriodEnd
		if sub.Status == subscription.StatusPastDue {
			until = until.Add(e.gracePeriod)
		}
		result.AccessUntil = &until
	}

	switch {
	case sub.Status.IsTerminal():
		result.Reason = entitlement.ReasonInactive
	case !sub.Tier.Covers(required):
		result.Reason = entitlement.ReasonTierTooLow
	case sub.Status == subscription.StatusPastDue:
		result.Allowed = true
		result.Reason = entitlement.ReasonPastDue
	default:
		result.Allowed = true
	}
	return result, nil
}
