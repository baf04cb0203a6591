package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/event"
	"github.com/xraph/settle/invoice"
	"github.com/xraph/settle/plugin"
	"github.com/xraph/settle/subscription"
	"github.com/xraph/settle/types"
)

type fakeCounter struct{ n float64 }

func (c *fakeCounter) Inc()          { c.n++ }
func (c *fakeCounter) Add(v float64) { c.n += v }

type fakeHistogram struct{ values []float64 }

func (h *fakeHistogram) Observe(v float64) { h.values = append(h.values, v) }

type fakeFactory struct {
	counters   map[string]*fakeCounter
	histograms map[string]*fakeHistogram
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		counters:   make(map[string]*fakeCounter),
		histograms: make(map[string]*fakeHistogram),
	}
}

func (f *fakeFactory) Counter(name string) Counter {
	c := &fakeCounter{}
	f.counters[name] = c
	return c
}

func (f *fakeFactory) Histogram(name string) Histogram {
	h := &fakeHistogram{}
	f.histograms[name] = h
	return h
}

func TestWebhookOutcomes(t *testing.T) {
	ctx := context.Background()
	f := newFakeFactory()
	m := NewMetricsExtension(f)

	for _, o := range []event.Outcome{
		event.OutcomeProcessed,
		event.OutcomeProcessed,
		event.OutcomeDuplicate,
		event.OutcomeStale,
		event.OutcomeIgnored,
		event.OutcomeUnprocessable,
	} {
		if err := m.OnWebhookReceived(ctx, event.Meta{}, o); err != nil {
			t.Fatal(err)
		}
	}
	_ = m.OnWebhookRejected(ctx, "invalid signature", errors.New("bad"))

	want := map[string]float64{
		"settle.webhook.processed":     2,
		"settle.webhook.duplicate":     1,
		"settle.webhook.stale":         1,
		"settle.webhook.ignored":       1,
		"settle.webhook.unprocessable": 1,
		"settle.webhook.rejected":      1,
	}
	for name, n := range want {
		if got := f.counters[name].n; got != n {
			t.Errorf("%s = %v, want %v", name, got, n)
		}
	}
}

func TestSubscriptionAndInvoiceHooks(t *testing.T) {
	ctx := context.Background()
	f := newFakeFactory()
	m := NewMetricsExtension(f)

	starter := &subscription.Subscription{Tier: catalog.TierStarter}
	pro := &subscription.Subscription{Tier: catalog.TierProfessional}

	_ = m.OnSubscriptionCreated(ctx, starter)
	_ = m.OnSubscriptionChanged(ctx, starter, pro)
	_ = m.OnSubscriptionChanged(ctx, pro, starter)
	_ = m.OnSubscriptionCanceled(ctx, pro)
	_ = m.OnSubscriptionExpired(ctx, pro)
	_ = m.OnStaleEventDiscarded(ctx, event.Meta{ID: "evt_1"}, pro)
	_ = m.OnInvoicePaid(ctx, &invoice.Invoice{Amount: types.NewMoney(4900, "usd")})
	_ = m.OnInvoiceFailed(ctx, &invoice.Invoice{})

	tests := []struct {
		name string
		want float64
	}{
		{"settle.subscription.created", 1},
		{"settle.subscription.changed", 2},
		{"settle.subscription.upgraded", 1},
		{"settle.subscription.canceled", 1},
		{"settle.subscription.expired", 1},
		{"settle.event.stale_discarded", 1},
		{"settle.invoice.paid", 1},
		{"settle.invoice.failed", 1},
	}
	for _, tt := range tests {
		if got := f.counters[tt.name].n; got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
	if got := f.histograms["settle.invoice.paid_amount"].values; len(got) != 1 || got[0] != 4900 {
		t.Errorf("paid amount observations = %v", got)
	}
}

func TestCheckoutHooks(t *testing.T) {
	ctx := context.Background()
	f := newFakeFactory()
	m := NewMetricsExtension(f)

	_ = m.OnCheckoutStarted(ctx, "cs_1", "u1", catalog.TierStarter, true)
	_ = m.OnCheckoutStarted(ctx, "cs_2", "u2", catalog.TierEnterprise, false)
	_ = m.OnTrialFailOpen(ctx, "u3", catalog.TierStarter, errors.New("store down"))

	if got := f.counters["settle.checkout.started"].n; got != 2 {
		t.Errorf("checkout started = %v, want 2", got)
	}
	if got := f.counters["settle.checkout.trial_granted"].n; got != 1 {
		t.Errorf("trial granted = %v, want 1", got)
	}
	if got := f.counters["settle.trial.fail_open"].n; got != 1 {
		t.Errorf("fail open = %v, want 1", got)
	}
}

func TestPrometheusFactory(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsExtension(NewPrometheusFactory(reg))

	r := plugin.NewRegistry()
	if err := r.Register(m); err != nil {
		t.Fatal(err)
	}
	r.EmitWebhookReceived(context.Background(), event.Meta{ID: "evt_1"}, event.OutcomeProcessed)
	r.EmitWebhookReceived(context.Background(), event.Meta{ID: "evt_1"}, event.OutcomeDuplicate)

	if got := testutil.ToFloat64(m.WebhookProcessed.(prometheus.Counter)); got != 1 {
		t.Errorf("processed = %v, want 1", got)
	}

	count, err := testutil.GatherAndCount(reg, "settle_webhook_duplicate_total")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("duplicate series = %d, want 1", count)
	}
}

func TestPrometheusFactoryReusesMetrics(t *testing.T) {
	f := NewPrometheusFactory(prometheus.NewRegistry())

	if f.Counter("settle.a") != f.Counter("settle.a") {
		t.Error("same name should return the same counter")
	}
	if f.Histogram("settle.b") != f.Histogram("settle.b") {
		t.Error("same name should return the same histogram")
	}
	if got := metricName("settle.webhook.stale-x"); got != "settle_webhook_stale_x" {
		t.Errorf("metricName = %q", got)
	}
}
