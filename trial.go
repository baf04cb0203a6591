package settle

import (
	"context"

	"github.com/xraph/settle/catalog"
)

// TrialEligible reports whether ownerID may start a free trial of tier.
//
// Enterprise is never trialled. An owner who ever reached trialing on any
// subscription is not eligible again. An empty owner has no history to check
// and is eligible. When the store cannot be read the check fails open: the
// trial is granted, the failure is logged and reported to plugins.
func (e *Engine) TrialEligible(ctx context.Context, ownerID string, tier catalog.Tier) bool {
	if tier == catalog.TierEnterprise {
		return false
	}
	if ownerID == "" {
		return true
	}

	subs, err := e.store.ListSubscriptionsByOwner(ctx, ownerID)
	if err != nil {
		e.logger.Warn("trial eligibility check failed, granting trial",
			"owner_id", ownerID,
			"tier", tier,
			"error", err,
		)
		e.plugins.EmitTrialFailOpen(ctx, ownerID, tier, err)
		return true
	}

	for _, s := range subs {
		if s.HasTrialed() {
			return false
		}
	}
	return true
}
