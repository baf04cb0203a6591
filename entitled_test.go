package settle_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/entitlement"
	"github.com/xraph/settle/subscription"
)

func TestEntitled(t *testing.T) {
	ctx := context.Background()
	e, _, c := newEngine(t)

	res, err := e.Entitled(ctx, "u1", catalog.TierStarter)
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed || res.Reason != entitlement.ReasonNoSubscription {
		t.Fatalf("no subscription: %+v", res)
	}

	dispatch(t, e, checkout("evt_c", "sub_1", "u1", false))
	dispatch(t, e, updated("evt_u", "sub_1", "active", t0, t1, t0.Add(time.Minute)))

	res, err = e.Entitled(ctx, "u1", catalog.TierStarter)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed || res.Reason != "" || res.Status != subscription.StatusActive {
		t.Errorf("active starter: %+v", res)
	}
	if res.AccessUntil == nil || !res.AccessUntil.Equal(t1) {
		t.Errorf("AccessUntil = %v, want %v", res.AccessUntil, t1)
	}

	res, _ = e.Entitled(ctx, "u1", catalog.TierProfessional)
	if res.Allowed || res.Reason != entitlement.ReasonTierTooLow {
		t.Errorf("professional on starter: %+v", res)
	}

	c.Set(t1.Add(time.Hour))
	dispatch(t, e, failed("evt_f", "in_1", "sub_1", t1.Add(time.Minute)))

	res, _ = e.Entitled(ctx, "u1", catalog.TierStarter)
	if !res.Allowed || res.Reason != entitlement.ReasonPastDue {
		t.Errorf("past_due within grace: %+v", res)
	}
	if want := t1.Add(72 * time.Hour); res.AccessUntil == nil || !res.AccessUntil.Equal(want) {
		t.Errorf("AccessUntil = %v, want %v", res.AccessUntil, want)
	}

	c.Set(t1.Add(73 * time.Hour))
	res, _ = e.Entitled(ctx, "u1", catalog.TierStarter)
	if res.Allowed || res.Reason != entitlement.ReasonInactive || res.Status != subscription.StatusExpired {
		t.Errorf("after grace: %+v", res)
	}
}
