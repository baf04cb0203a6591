package settle_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/settle"
	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/event"
	"github.com/xraph/settle/invoice"
	"github.com/xraph/settle/store/memory"
	"github.com/xraph/settle/subscription"
)

var (
	t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.AddDate(0, 1, 0)
	t2 = t0.AddDate(0, 2, 0)
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, opts ...settle.Option) (*settle.Engine, *memory.Store, *clock) {
	t.Helper()
	s := memory.New()
	c := &clock{now: t0}
	base := []settle.Option{
		settle.WithLogger(quietLogger()),
		settle.WithClock(c.Now),
		settle.WithCatalog(catalog.New(
			catalog.Entry{Tier: catalog.TierStarter, Period: catalog.PeriodMonthly, PriceRef: "price_x"},
			catalog.Entry{Tier: catalog.TierProfessional, Period: catalog.PeriodAnnual, PriceRef: "price_pro_year"},
		)),
	}
	e := settle.New(s, append(base, opts...)...)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop() })
	return e, s, c
}

func meta(id string, kind event.Kind, created time.Time) event.Meta {
	return event.Meta{ID: id, Kind: kind, Created: created}
}

func checkout(id, subRef, owner string, trial bool) event.CheckoutCompleted {
	granted := "false"
	if trial {
		granted = "true"
	}
	return event.CheckoutCompleted{
		Meta: meta(id, event.KindCheckoutCompleted, t0),
		Session: event.CheckoutSession{
			ID:                "cs_" + id,
			Mode:              "subscription",
			SubscriptionRef:   subRef,
			CustomerRef:       "cus_1",
			ClientReferenceID: owner,
			Metadata: map[string]string{
				"tier":           "starter",
				"billing_period": "monthly",
				"price_id":       "price_x",
				"trial_granted":  granted,
			},
		},
	}
}

func updated(id, subRef, status string, start, end, created time.Time) event.SubscriptionChanged {
	return event.SubscriptionChanged{
		Meta: meta(id, event.KindSubscriptionUpdated, created),
		Subscription: event.Subscription{
			ID:                 subRef,
			CustomerRef:        "cus_1",
			Status:             status,
			PriceRef:           "price_x",
			Interval:           "month",
			CurrentPeriodStart: start,
			CurrentPeriodEnd:   end,
		},
	}
}

func deleted(id, subRef string, created time.Time) event.SubscriptionDeleted {
	return event.SubscriptionDeleted{
		Meta:         meta(id, event.KindSubscriptionDeleted, created),
		Subscription: event.Subscription{ID: subRef, CustomerRef: "cus_1", Status: "canceled"},
	}
}

func paid(id, invRef, subRef string, amount int64) event.InvoicePaid {
	return event.InvoicePaid{
		Meta: meta(id, event.KindInvoicePaid, t1),
		Invoice: event.Invoice{
			ID:              invRef,
			CustomerRef:     "cus_1",
			SubscriptionRef: subRef,
			Status:          "paid",
			AmountPaid:      amount,
			AmountDue:       amount,
			Currency:        "usd",
			HostedURL:       "https://pay.example/" + invRef,
		},
	}
}

func failed(id, invRef, subRef string, created time.Time) event.InvoicePaymentFailed {
	return event.InvoicePaymentFailed{
		Meta: meta(id, event.KindInvoicePaymentFailed, created),
		Invoice: event.Invoice{
			ID:              invRef,
			CustomerRef:     "cus_1",
			SubscriptionRef: subRef,
			Status:          "open",
			AmountDue:       4900,
			Currency:        "usd",
		},
	}
}

func dispatch(t *testing.T, e *settle.Engine, ev event.Event) event.Outcome {
	t.Helper()
	out, err := e.Dispatch(context.Background(), ev)
	if err != nil {
		t.Fatalf("Dispatch(%s): %v", ev.Envelope().ID, err)
	}
	return out
}

func mustGet(t *testing.T, s *memory.Store, ref string) *subscription.Subscription {
	t.Helper()
	sub, err := s.GetSubscriptionByRef(context.Background(), ref)
	if err != nil {
		t.Fatalf("GetSubscriptionByRef(%s): %v", ref, err)
	}
	return sub
}

func TestCheckoutCreatesSubscription(t *testing.T) {
	e, s, _ := newEngine(t)

	if out := dispatch(t, e, checkout("evt_1", "sub_1", "u1", true)); out != event.OutcomeProcessed {
		t.Fatalf("outcome = %s", out)
	}

	sub := mustGet(t, s, "sub_1")
	if sub.OwnerID != "u1" || sub.Tier != catalog.TierStarter || sub.ExternalSubscriptionRef != "sub_1" {
		t.Errorf("stored = %+v", sub)
	}
	if sub.Status != subscription.StatusTrialing {
		t.Errorf("status = %s, want trialing", sub.Status)
	}
	if sub.BillingPeriod != catalog.PeriodMonthly || sub.ExternalPriceRef != "price_x" {
		t.Errorf("period = %s price = %s", sub.BillingPeriod, sub.ExternalPriceRef)
	}
	if sub.ID.IsNil() {
		t.Error("expected a local id")
	}

	_, _ = e.Dispatch(context.Background(), checkout("evt_2", "sub_2", "u2", false))
	if got := mustGet(t, s, "sub_2").Status; got != subscription.StatusActive {
		t.Errorf("status without trial = %s, want active", got)
	}
}

func TestCheckoutReplayIsNoop(t *testing.T) {
	e, s, _ := newEngine(t)
	dispatch(t, e, checkout("evt_1", "sub_1", "u1", true))
	before := mustGet(t, s, "sub_1")

	dispatch(t, e, checkout("evt_1b", "sub_1", "u1", false))
	after := mustGet(t, s, "sub_1")
	if after.Version != before.Version || after.Status != before.Status {
		t.Errorf("replayed checkout changed the record: %+v -> %+v", before, after)
	}
}

func TestCheckoutWithoutOwnerIsUnprocessable(t *testing.T) {
	e, s, _ := newEngine(t)

	out, err := e.Dispatch(context.Background(), checkout("evt_1", "sub_1", "", false))
	if err != nil {
		t.Fatalf("missing owner must be acknowledged, got %v", err)
	}
	if out != event.OutcomeUnprocessable {
		t.Errorf("outcome = %s, want unprocessable", out)
	}
	if _, err := s.GetSubscriptionByRef(context.Background(), "sub_1"); !settle.IsNotFound(err) {
		t.Error("nothing should be stored for an unprocessable event")
	}
}

func TestCheckoutOwnerFromMetadata(t *testing.T) {
	e, s, _ := newEngine(t)
	ev := checkout("evt_1", "sub_1", "", false)
	ev.Session.Metadata["owner_id"] = "u9"

	dispatch(t, e, ev)
	if got := mustGet(t, s, "sub_1").OwnerID; got != "u9" {
		t.Errorf("owner = %q, want u9", got)
	}
}

func TestOutOfOrderCreation(t *testing.T) {
	e, s, _ := newEngine(t)

	out := dispatch(t, e, updated("evt_1", "sub_1", "active", t0, t1, t0))
	if out != event.OutcomeProcessed {
		t.Fatalf("outcome = %s", out)
	}
	sub := mustGet(t, s, "sub_1")
	if sub.OwnerID != "" || sub.Status != subscription.StatusActive {
		t.Fatalf("created from update: %+v", sub)
	}
	if sub.Tier != catalog.TierStarter {
		t.Errorf("tier from catalog lookup = %q, want starter", sub.Tier)
	}

	dispatch(t, e, checkout("evt_2", "sub_1", "u1", false))
	sub = mustGet(t, s, "sub_1")
	if sub.OwnerID != "u1" {
		t.Errorf("late checkout did not attach the owner: %q", sub.OwnerID)
	}
	if !sub.CurrentPeriodEnd.Equal(t1) {
		t.Error("late checkout must not touch the period")
	}
}

func TestSubscriptionUpdateIdempotent(t *testing.T) {
	e, s, _ := newEngine(t)
	dispatch(t, e, checkout("evt_0", "sub_1", "u1", false))

	ev := updated("evt_1", "sub_1", "past_due", t0, t1, t0.Add(time.Hour))
	dispatch(t, e, ev)
	once := mustGet(t, s, "sub_1")

	// Same payload under a new delivery id bypasses the event ledger.
	ev.ID = "evt_1_again"
	dispatch(t, e, ev)
	twice := mustGet(t, s, "sub_1")

	if twice.Version != once.Version {
		t.Errorf("second apply wrote again: version %d -> %d", once.Version, twice.Version)
	}
	if twice.Status != once.Status || !twice.CurrentPeriodEnd.Equal(once.CurrentPeriodEnd) {
		t.Errorf("state diverged: %+v vs %+v", once, twice)
	}
}

func TestStaleUpdateDiscarded(t *testing.T) {
	e, s, _ := newEngine(t)
	dispatch(t, e, updated("evt_1", "sub_1", "active", t1, t2, t1))
	before := mustGet(t, s, "sub_1")

	out := dispatch(t, e, updated("evt_2", "sub_1", "past_due", t0, t1, t2))
	if out != event.OutcomeStale {
		t.Errorf("outcome = %s, want stale", out)
	}
	after := mustGet(t, s, "sub_1")
	if after.Version != before.Version || after.Status != subscription.StatusActive || !after.CurrentPeriodEnd.Equal(t2) {
		t.Errorf("stale event altered stored state: %+v", after)
	}
}

func TestTerminationIsMonotonic(t *testing.T) {
	e, s, _ := newEngine(t)
	dispatch(t, e, checkout("evt_0", "sub_1", "u1", true))
	dispatch(t, e, deleted("evt_1", "sub_1", t1))

	dispatch(t, e, updated("evt_2", "sub_1", "active", t1, t2, t2))
	dispatch(t, e, updated("evt_3", "sub_1", "trialing", t2, t2.AddDate(0, 1, 0), t2))

	if got := mustGet(t, s, "sub_1").Status; got != subscription.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got)
	}
}

func TestPastDueThenDeleted(t *testing.T) {
	e, s, c := newEngine(t)
	dispatch(t, e, updated("evt_1", "sub_1", "past_due", t0, t1, t0))

	c.Set(t1)
	dispatch(t, e, deleted("evt_2", "sub_1", t1))

	sub := mustGet(t, s, "sub_1")
	if sub.Status != subscription.StatusCancelled {
		t.Errorf("status = %s, want cancelled", sub.Status)
	}
	if sub.CanceledAt == nil || !sub.CanceledAt.Equal(t1) {
		t.Errorf("canceled_at = %v, want %v", sub.CanceledAt, t1)
	}

	version := sub.Version
	dispatch(t, e, deleted("evt_2_again", "sub_1", t1))
	if mustGet(t, s, "sub_1").Version != version {
		t.Error("replayed deletion wrote again")
	}
}

func TestDeletionOfUnknownSubscription(t *testing.T) {
	e, s, _ := newEngine(t)
	dispatch(t, e, deleted("evt_1", "sub_1", t1))

	sub := mustGet(t, s, "sub_1")
	if sub.Status != subscription.StatusCancelled || sub.CanceledAt == nil {
		t.Errorf("out-of-order deletion: %+v", sub)
	}
}

func TestTrialOnce(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	if !e.TrialEligible(ctx, "u1", catalog.TierStarter) {
		t.Fatal("new owner should be eligible")
	}
	dispatch(t, e, checkout("evt_1", "sub_1", "u1", true))
	dispatch(t, e, updated("evt_2", "sub_1", "active", t1, t2, t1))

	if e.TrialEligible(ctx, "u1", catalog.TierStarter) {
		t.Error("owner who already trialled must not be eligible")
	}
	if e.TrialEligible(ctx, "u1", catalog.TierProfessional) {
		t.Error("trial-once applies across tiers")
	}
	if e.TrialEligible(ctx, "u2", catalog.TierEnterprise) {
		t.Error("enterprise is never eligible")
	}
	if !e.TrialEligible(ctx, "", catalog.TierStarter) {
		t.Error("anonymous checkout should be eligible")
	}
}

type brokenStore struct {
	*memory.Store
	err error
}

func (b *brokenStore) ListSubscriptionsByOwner(context.Context, string) ([]*subscription.Subscription, error) {
	return nil, b.err
}

func (b *brokenStore) UpsertSubscription(context.Context, *subscription.Subscription, int64) error {
	return b.err
}

type failOpenRecorder struct {
	mu     sync.Mutex
	owners []string
}

func (r *failOpenRecorder) Name() string { return "fail-open-recorder" }

func (r *failOpenRecorder) OnTrialFailOpen(_ context.Context, owner string, _ catalog.Tier, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners = append(r.owners, owner)
	return nil
}

func TestTrialEligibilityFailsOpen(t *testing.T) {
	rec := &failOpenRecorder{}
	s := &brokenStore{Store: memory.New(), err: errors.New("connection refused")}
	e := settle.New(s, settle.WithLogger(quietLogger()), settle.WithPlugin(rec))

	if !e.TrialEligible(context.Background(), "u1", catalog.TierStarter) {
		t.Error("store failure must fail open")
	}
	if len(rec.owners) != 1 || rec.owners[0] != "u1" {
		t.Errorf("fail-open not reported to plugins: %v", rec.owners)
	}
	if e.TrialEligible(context.Background(), "u1", catalog.TierEnterprise) {
		t.Error("enterprise stays ineligible even when failing open")
	}
}

func TestStoreFailureIsRetryable(t *testing.T) {
	s := &brokenStore{Store: memory.New(), err: errors.New("connection refused")}
	e := settle.New(s, settle.WithLogger(quietLogger()))

	_, err := e.Dispatch(context.Background(), updated("evt_1", "sub_1", "active", t0, t1, t0))
	if !settle.IsRetryable(err) {
		t.Fatalf("store failure should be retryable, got %v", err)
	}
	if _, err := s.GetProcessedEvent(context.Background(), "evt_1"); !settle.IsNotFound(err) {
		t.Error("a failed event must not be marked processed")
	}
}

func TestInvoicePaidKeepsFirstAmount(t *testing.T) {
	e, s, _ := newEngine(t)
	dispatch(t, e, checkout("evt_0", "sub_1", "u1", false))

	dispatch(t, e, paid("evt_1", "in_1", "sub_1", 4900))
	dispatch(t, e, paid("evt_2", "in_1", "sub_1", 9900))

	inv, err := s.GetInvoiceByRef(context.Background(), "in_1")
	if err != nil {
		t.Fatal(err)
	}
	if inv.Amount.Amount != 4900 || inv.Amount.Currency != "usd" {
		t.Errorf("amount = %s, want the first recorded 49.00 USD", inv.Amount)
	}
	if inv.OwnerID != "u1" || !inv.IsPaid() || inv.Version != 1 {
		t.Errorf("invoice = %+v", inv)
	}
}

func TestInvoiceBeforeSubscriptionIsRetryable(t *testing.T) {
	e, s, _ := newEngine(t)

	_, err := e.Dispatch(context.Background(), paid("evt_1", "in_1", "sub_1", 4900))
	if !settle.IsRetryable(err) || !errors.Is(err, settle.ErrSubscriptionNotFound) {
		t.Fatalf("err = %v, want retryable subscription not found", err)
	}

	// Redelivery after the subscription exists succeeds.
	dispatch(t, e, checkout("evt_0", "sub_1", "u1", false))
	if out := dispatch(t, e, paid("evt_1", "in_1", "sub_1", 4900)); out != event.OutcomeProcessed {
		t.Errorf("redelivery outcome = %s", out)
	}
	if _, err := s.GetInvoiceByRef(context.Background(), "in_1"); err != nil {
		t.Errorf("invoice not recorded on redelivery: %v", err)
	}
}

func TestInvoiceResolvedByCustomer(t *testing.T) {
	e, s, _ := newEngine(t)
	dispatch(t, e, checkout("evt_0", "sub_1", "u1", false))

	dispatch(t, e, paid("evt_1", "in_1", "", 4900))
	inv, err := s.GetInvoiceByRef(context.Background(), "in_1")
	if err != nil {
		t.Fatal(err)
	}
	if inv.SubscriptionRef != "sub_1" {
		t.Errorf("subscription ref = %q, want sub_1", inv.SubscriptionRef)
	}
}

func TestInvoiceFailedThenPaid(t *testing.T) {
	e, s, _ := newEngine(t)
	ctx := context.Background()
	dispatch(t, e, updated("evt_0", "sub_1", "active", t0, t1, t0))

	dispatch(t, e, failed("evt_1", "in_1", "sub_1", t0.Add(time.Hour)))
	if got := mustGet(t, s, "sub_1").Status; got != subscription.StatusPastDue {
		t.Errorf("status after failed payment = %s, want past_due", got)
	}
	inv, err := s.GetInvoiceByRef(ctx, "in_1")
	if err != nil || inv.Status != invoice.StatusFailed {
		t.Fatalf("failed invoice: %+v, %v", inv, err)
	}

	dispatch(t, e, paid("evt_2", "in_1", "sub_1", 4900))
	inv, _ = s.GetInvoiceByRef(ctx, "in_1")
	if inv.Status != invoice.StatusPaid || inv.PaidAt == nil {
		t.Errorf("failed invoice not upgraded: %+v", inv)
	}

	dispatch(t, e, failed("evt_3", "in_1", "sub_1", t0.Add(2*time.Hour)))
	inv, _ = s.GetInvoiceByRef(ctx, "in_1")
	if inv.Status != invoice.StatusPaid {
		t.Error("paid invoice must never be downgraded")
	}
}

func TestInvoiceFailedRespectsTerminalStatus(t *testing.T) {
	e, s, _ := newEngine(t)
	dispatch(t, e, checkout("evt_0", "sub_1", "u1", false))
	dispatch(t, e, deleted("evt_1", "sub_1", t0))

	dispatch(t, e, failed("evt_2", "in_1", "sub_1", t0.Add(time.Hour)))
	if got := mustGet(t, s, "sub_1").Status; got != subscription.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got)
	}
}

func TestDuplicateEventShortCircuits(t *testing.T) {
	e, _, _ := newEngine(t)
	ev := checkout("evt_1", "sub_1", "u1", false)

	dispatch(t, e, ev)
	if out := dispatch(t, e, ev); out != event.OutcomeDuplicate {
		t.Errorf("outcome = %s, want duplicate", out)
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	e, s, _ := newEngine(t)
	out := dispatch(t, e, event.Unknown{Meta: meta("evt_1", "customer.created", t0)})
	if out != event.OutcomeIgnored {
		t.Errorf("outcome = %s, want ignored", out)
	}
	if _, err := s.GetProcessedEvent(context.Background(), "evt_1"); !settle.IsNotFound(err) {
		t.Error("unknown events are not recorded")
	}
}

func TestLazyExpiry(t *testing.T) {
	e, s, c := newEngine(t, settle.WithGracePeriod(72*time.Hour))
	ctx := context.Background()
	dispatch(t, e, checkout("evt_0", "sub_1", "u1", false))
	dispatch(t, e, updated("evt_1", "sub_1", "past_due", t0, t1, t0))

	c.Set(t1.Add(71 * time.Hour))
	sub, err := e.GetSubscription(ctx, "sub_1")
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusPastDue {
		t.Errorf("inside grace: status = %s, want past_due", sub.Status)
	}

	c.Set(t1.Add(73 * time.Hour))
	sub, err = e.CurrentSubscription(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusExpired {
		t.Errorf("after grace: status = %s, want expired", sub.Status)
	}
	if got := mustGet(t, s, "sub_1").Status; got != subscription.StatusExpired {
		t.Errorf("expiry not persisted: %s", got)
	}

	dispatch(t, e, deleted("evt_2", "sub_1", t1.Add(74*time.Hour)))
	if got := mustGet(t, s, "sub_1").Status; got != subscription.StatusCancelled {
		t.Errorf("expired -> cancelled on deletion: %s", got)
	}
}

func TestNewSubscriptionSupersedesOlder(t *testing.T) {
	e, s, c := newEngine(t)
	dispatch(t, e, checkout("evt_1", "sub_1", "u1", false))

	c.Set(t0.Add(time.Hour))
	dispatch(t, e, checkout("evt_2", "sub_2", "u1", false))

	old := mustGet(t, s, "sub_1")
	if old.Status != subscription.StatusCancelled || old.CanceledAt == nil {
		t.Errorf("older subscription not superseded: %+v", old)
	}
	if got := mustGet(t, s, "sub_2").Status; got != subscription.StatusActive {
		t.Errorf("new subscription status = %s", got)
	}

	cur, err := e.CurrentSubscription(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if cur.ExternalSubscriptionRef != "sub_2" {
		t.Errorf("current = %s, want sub_2", cur.ExternalSubscriptionRef)
	}
}

func owned(ev event.SubscriptionChanged, owner string) event.SubscriptionChanged {
	ev.Subscription.Metadata = map[string]string{"owner_id": owner}
	return ev
}

func TestLateFirstEventOfOlderSubscription(t *testing.T) {
	e, s, c := newEngine(t)
	t3 := t0.AddDate(0, 3, 0)

	c.Set(t1)
	dispatch(t, e, owned(updated("evt_new", "sub_new", "active", t1, t2, t1), "u1"))

	c.Set(t1.Add(48 * time.Hour))
	dispatch(t, e, owned(updated("evt_old", "sub_old", "active", t0, t1, t0), "u1"))

	if got := mustGet(t, s, "sub_new"); got.Status != subscription.StatusActive || got.CanceledAt != nil {
		t.Fatalf("newer subscription cancelled by a late event: %+v", got)
	}
	if got := mustGet(t, s, "sub_old").Status; got != subscription.StatusCancelled {
		t.Errorf("older subscription status = %s, want cancelled", got)
	}

	c.Set(t2)
	dispatch(t, e, updated("evt_renew", "sub_new", "active", t2, t3, t2))
	if got := mustGet(t, s, "sub_new"); got.Status != subscription.StatusActive || !got.CurrentPeriodEnd.Equal(t3) {
		t.Errorf("renewal not applied: status=%s period_end=%v", got.Status, got.CurrentPeriodEnd)
	}

	cur, err := e.CurrentSubscription(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if cur.ExternalSubscriptionRef != "sub_new" {
		t.Errorf("current = %s, want sub_new", cur.ExternalSubscriptionRef)
	}
}

// flakyStore fails the next versioned write to one subscription.
type flakyStore struct {
	*memory.Store
	mu      sync.Mutex
	failRef string
}

func (f *flakyStore) UpsertSubscription(ctx context.Context, sub *subscription.Subscription, expectedVersion int64) error {
	f.mu.Lock()
	fail := expectedVersion > 0 && sub.ExternalSubscriptionRef == f.failRef
	if fail {
		f.failRef = ""
	}
	f.mu.Unlock()
	if fail {
		return settle.ErrConflict
	}
	return f.Store.UpsertSubscription(ctx, sub, expectedVersion)
}

func TestSupersedeCompletesOnRedelivery(t *testing.T) {
	s := &flakyStore{Store: memory.New()}
	c := &clock{now: t0}
	e := settle.New(s, settle.WithLogger(quietLogger()), settle.WithClock(c.Now))
	ctx := context.Background()

	dispatch(t, e, checkout("evt_1", "sub_old", "u1", false))

	c.Set(t0.Add(time.Hour))
	next := checkout("evt_2", "sub_new", "u1", false)
	next.Meta.Created = t0.Add(time.Hour)
	s.failRef = "sub_old"

	if _, err := e.Dispatch(ctx, next); !settle.IsRetryable(err) {
		t.Fatalf("first delivery: err = %v, want retryable", err)
	}
	if got := mustGet(t, s.Store, "sub_old").Status; got != subscription.StatusActive {
		t.Fatalf("sub_old status after failed delivery = %s", got)
	}

	if out := dispatch(t, e, next); out != event.OutcomeProcessed {
		t.Errorf("redelivery outcome = %s", out)
	}
	if got := mustGet(t, s.Store, "sub_old").Status; got != subscription.StatusCancelled {
		t.Errorf("sub_old status after redelivery = %s, want cancelled", got)
	}
	if got := mustGet(t, s.Store, "sub_new").Status; got != subscription.StatusActive {
		t.Errorf("sub_new status = %s, want active", got)
	}
}

func TestDeletionStampsConfirmationTime(t *testing.T) {
	e, s, c := newEngine(t)
	dispatch(t, e, updated("evt_1", "sub_1", "active", t0, t1, t0))

	requested := t0.Add(24 * time.Hour)
	del := deleted("evt_2", "sub_1", t1)
	del.Subscription.CanceledAt = &requested
	c.Set(t1.Add(time.Minute))
	dispatch(t, e, del)

	sub := mustGet(t, s, "sub_1")
	if sub.CanceledAt == nil || !sub.CanceledAt.Equal(t1.Add(time.Minute)) {
		t.Errorf("canceled_at = %v, want confirmation time %v", sub.CanceledAt, t1.Add(time.Minute))
	}
}

type conflictStore struct {
	*memory.Store
}

func (conflictStore) UpsertSubscription(context.Context, *subscription.Subscription, int64) error {
	return settle.ErrConflict
}

func TestLostRaceIsRetryable(t *testing.T) {
	e := settle.New(conflictStore{memory.New()}, settle.WithLogger(quietLogger()))

	_, err := e.Dispatch(context.Background(), updated("evt_1", "sub_1", "active", t0, t1, t0))
	if !errors.Is(err, settle.ErrConflict) || !settle.IsRetryable(err) {
		t.Errorf("err = %v, want retryable conflict", err)
	}
}
