package audithook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/event"
	"github.com/xraph/settle/invoice"
	"github.com/xraph/settle/subscription"
	"github.com/xraph/settle/types"
)

type captured struct {
	events []*AuditEvent
	err    error
}

func (c *captured) Record(_ context.Context, ev *AuditEvent) error {
	c.events = append(c.events, ev)
	return c.err
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRejectedWebhookIsCriticalSecurityEvent(t *testing.T) {
	rec := &captured{}
	e := New(rec, quiet())

	if err := e.OnWebhookRejected(context.Background(), "invalid signature", errors.New("no valid signature")); err != nil {
		t.Fatal(err)
	}

	if len(rec.events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(rec.events))
	}
	ev := rec.events[0]
	if ev.Severity != SeverityCritical || ev.Category != CategorySecurity || ev.Outcome != OutcomeFailure {
		t.Errorf("got severity=%s category=%s outcome=%s", ev.Severity, ev.Category, ev.Outcome)
	}
	if ev.Reason != "no valid signature" || ev.Metadata["rejection"] != "invalid signature" {
		t.Errorf("reason=%q metadata=%v", ev.Reason, ev.Metadata)
	}
}

func TestLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	rec := &captured{}
	e := New(rec, quiet())

	old := &subscription.Subscription{ExternalSubscriptionRef: "sub_1", OwnerID: "u1", Status: subscription.StatusTrialing, Tier: catalog.TierStarter}
	updated := old.Clone()
	updated.Status = subscription.StatusActive

	_ = e.OnSubscriptionCreated(ctx, old)
	_ = e.OnSubscriptionChanged(ctx, old, updated)
	_ = e.OnInvoicePaid(ctx, &invoice.Invoice{ExternalInvoiceRef: "in_1", SubscriptionRef: "sub_1", Amount: types.NewMoney(900, "usd")})
	_ = e.OnStaleEventDiscarded(ctx, event.Meta{ID: "evt_old", Kind: event.KindSubscriptionUpdated}, updated)

	want := []struct {
		action     string
		resourceID string
	}{
		{ActionSubscriptionCreated, "sub_1"},
		{ActionSubscriptionChanged, "sub_1"},
		{ActionInvoicePaid, "in_1"},
		{ActionStaleEventDiscarded, "sub_1"},
	}
	if len(rec.events) != len(want) {
		t.Fatalf("recorded %d events, want %d", len(rec.events), len(want))
	}
	for i, w := range want {
		if rec.events[i].Action != w.action || rec.events[i].ResourceID != w.resourceID {
			t.Errorf("event %d = %s/%s, want %s/%s", i, rec.events[i].Action, rec.events[i].ResourceID, w.action, w.resourceID)
		}
	}
	if got := rec.events[1].Metadata["to_status"]; got != "active" {
		t.Errorf("to_status = %v", got)
	}
	if got := rec.events[2].Metadata["amount"]; got != "9.00 USD" {
		t.Errorf("amount = %v", got)
	}
}

func TestWebhookOutcomes(t *testing.T) {
	ctx := context.Background()
	meta := event.Meta{ID: "evt_1", Kind: event.KindInvoicePaid}

	tests := []struct {
		outcome  event.Outcome
		severity string
		result   string
	}{
		{event.OutcomeProcessed, SeverityInfo, OutcomeSuccess},
		{event.OutcomeDuplicate, SeverityInfo, OutcomeSuccess},
		{event.OutcomeIgnored, SeverityInfo, OutcomeSuccess},
		{event.OutcomeStale, SeverityInfo, OutcomePartial},
		{event.OutcomeUnprocessable, SeverityError, OutcomeFailure},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			rec := &captured{}
			_ = New(rec, quiet()).OnWebhookReceived(ctx, meta, tt.outcome)
			if len(rec.events) != 1 {
				t.Fatalf("recorded %d events, want 1", len(rec.events))
			}
			ev := rec.events[0]
			if ev.Action != ActionWebhookProcessed || ev.ResourceID != "evt_1" {
				t.Errorf("got %s/%s", ev.Action, ev.ResourceID)
			}
			if ev.Severity != tt.severity || ev.Outcome != tt.result {
				t.Errorf("severity=%s outcome=%s, want %s/%s", ev.Severity, ev.Outcome, tt.severity, tt.result)
			}
			if ev.Metadata["outcome"] != string(tt.outcome) {
				t.Errorf("metadata outcome = %v", ev.Metadata["outcome"])
			}
		})
	}
}

func TestActionFilters(t *testing.T) {
	ctx := context.Background()

	only := &captured{}
	e := New(only, quiet(), WithEnabledActions(ActionTrialFailOpen))
	_ = e.OnCheckoutStarted(ctx, "cs_1", "u1", catalog.TierStarter, true)
	_ = e.OnTrialFailOpen(ctx, "u1", catalog.TierStarter, errors.New("store down"))
	if len(only.events) != 1 || only.events[0].Action != ActionTrialFailOpen {
		t.Errorf("enabled filter recorded %+v", only.events)
	}

	skip := &captured{}
	e = New(skip, quiet(), WithDisabledActions(ActionCheckoutStarted))
	_ = e.OnCheckoutStarted(ctx, "cs_1", "u1", catalog.TierStarter, true)
	_ = e.OnTrialFailOpen(ctx, "u1", catalog.TierStarter, errors.New("store down"))
	if len(skip.events) != 1 || skip.events[0].Action != ActionTrialFailOpen {
		t.Errorf("disabled filter recorded %+v", skip.events)
	}
}

func TestRecorderErrorsAreSwallowed(t *testing.T) {
	e := New(&captured{err: errors.New("audit store down")}, quiet())
	if err := e.OnInvoiceFailed(context.Background(), &invoice.Invoice{ExternalInvoiceRef: "in_1"}); err != nil {
		t.Errorf("recorder failure leaked: %v", err)
	}
}
