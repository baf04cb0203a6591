package settle_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/settle"
	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/event"
	"github.com/xraph/settle/store/memory"
	"github.com/xraph/settle/subscription"
	"github.com/xraph/settle/types"
)

// TestDocumentationExamples verifies that the examples in the package
// documentation compile and behave as described.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		prices := catalog.FromEnv(func(key string) (string, bool) {
			if key == catalog.EnvKey(catalog.TierStarter, catalog.PeriodMonthly) {
				return "price_starter_monthly", true
			}
			return "", false
		})

		engine := settle.New(memory.New(),
			settle.WithLogger(slog.Default()),
			settle.WithCatalog(prices),
		)

		ctx := context.Background()
		if err := engine.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer engine.Stop()

		periodStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		outcome, err := engine.Dispatch(ctx, event.SubscriptionChanged{
			Meta: event.Meta{
				ID:      "evt_doc_1",
				Kind:    event.KindSubscriptionCreated,
				Created: periodStart,
			},
			Subscription: event.Subscription{
				ID:                 "sub_doc",
				CustomerRef:        "cus_doc",
				Status:             "active",
				PriceRef:           "price_starter_monthly",
				CurrentPeriodStart: periodStart,
				CurrentPeriodEnd:   periodStart.AddDate(0, 1, 0),
				Metadata:           map[string]string{settle.MetaOwnerID: "user_doc"},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if outcome != event.OutcomeProcessed {
			t.Errorf("expected processed, got %s", outcome)
		}

		sub, err := engine.CurrentSubscription(ctx, "user_doc")
		if err != nil {
			t.Fatal(err)
		}
		if sub.Tier != catalog.TierStarter || sub.BillingPeriod != catalog.PeriodMonthly {
			t.Errorf("expected starter/monthly from the catalog, got %s/%s", sub.Tier, sub.BillingPeriod)
		}
		if sub.Status != subscription.StatusActive {
			t.Errorf("expected active, got %s", sub.Status)
		}
	})

	t.Run("DeliveryGuaranteesExample", func(t *testing.T) {
		engine := settle.New(memory.New(), settle.WithLogger(slog.New(slog.DiscardHandler)))
		ctx := context.Background()

		ev := event.SubscriptionDeleted{
			Meta: event.Meta{ID: "evt_doc_2", Kind: event.KindSubscriptionDeleted, Created: time.Now()},
			Subscription: event.Subscription{
				ID:     "sub_gone",
				Status: "canceled",
			},
		}

		first, err := engine.Dispatch(ctx, ev)
		if err != nil {
			t.Fatal(err)
		}
		again, err := engine.Dispatch(ctx, ev)
		if err != nil {
			t.Fatal(err)
		}
		if first != event.OutcomeProcessed || again != event.OutcomeDuplicate {
			t.Errorf("expected processed then duplicate, got %s then %s", first, again)
		}

		outcome, err := engine.Dispatch(ctx, event.CheckoutCompleted{
			Meta:    event.Meta{ID: "evt_doc_3", Kind: event.KindCheckoutCompleted, Created: time.Now()},
			Session: event.CheckoutSession{ID: "cs_doc", Mode: "subscription", SubscriptionRef: "sub_doc_2"},
		})
		if err != nil {
			t.Fatal(err)
		}
		if outcome != event.OutcomeUnprocessable {
			t.Errorf("checkout without an owner should be unprocessable, got %s", outcome)
		}
	})

	t.Run("MoneyExamples", func(t *testing.T) {
		usd := types.NewMoney(4900, "USD")
		if usd.String() != "49.00 USD" {
			t.Errorf("expected 49.00 USD, got %s", usd.String())
		}

		yen := types.NewMoney(1000, "jpy")
		if yen.String() != "1000 JPY" {
			t.Errorf("expected 1000 JPY, got %s", yen.String())
		}

		if !usd.Equal(settle.NewMoney(4900, "usd")) {
			t.Error("currency codes should compare case-insensitively")
		}
	})
}
