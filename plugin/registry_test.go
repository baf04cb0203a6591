package plugin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/event"
	"github.com/xraph/settle/subscription"
)

type recorder struct {
	name string

	mu    sync.Mutex
	calls []string
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) record(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) OnSubscriptionCreated(_ context.Context, sub *subscription.Subscription) error {
	r.record("created:" + sub.ExternalSubscriptionRef)
	return nil
}

func (r *recorder) OnWebhookReceived(_ context.Context, ev event.Meta, outcome event.Outcome) error {
	r.record("webhook:" + ev.ID + ":" + string(outcome))
	return nil
}

func (r *recorder) OnTrialFailOpen(_ context.Context, owner string, _ catalog.Tier, _ error) error {
	r.record("failopen:" + owner)
	return errors.New("boom")
}

type slowPlugin struct{}

func (slowPlugin) Name() string { return "slow" }

func (slowPlugin) OnShutdown(ctx context.Context) error {
	time.Sleep(200 * time.Millisecond)
	return nil
}

func quietRegistry() *Registry {
	return NewRegistry().WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterDuplicate(t *testing.T) {
	r := quietRegistry()
	if err := r.Register(&recorder{name: "a"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&recorder{name: "a"}); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
	if r.Get("a") == nil || r.Get("missing") != nil {
		t.Error("Get returned the wrong plugin")
	}
}

func TestImplementedHooks(t *testing.T) {
	got := implementedHooks(&recorder{name: "a"})
	want := []string{"OnSubscriptionCreated", "OnWebhookReceived", "OnTrialFailOpen"}
	if len(got) != len(want) {
		t.Fatalf("implementedHooks() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("implementedHooks()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestEmitDispatchesToImplementers(t *testing.T) {
	r := quietRegistry()
	rec := &recorder{name: "rec"}
	if err := r.Register(rec); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	r.EmitSubscriptionCreated(ctx, &subscription.Subscription{ExternalSubscriptionRef: "sub_1"})
	r.EmitWebhookReceived(ctx, event.Meta{ID: "evt_1"}, event.OutcomeProcessed)
	r.EmitInvoicePaid(ctx, nil)

	if len(rec.calls) != 2 {
		t.Fatalf("calls = %v", rec.calls)
	}
	if rec.calls[0] != "created:sub_1" || rec.calls[1] != "webhook:evt_1:processed" {
		t.Errorf("calls = %v", rec.calls)
	}
}

func TestEmitSwallowsPluginErrors(t *testing.T) {
	r := quietRegistry()
	rec := &recorder{name: "rec"}
	_ = r.Register(rec)

	r.EmitTrialFailOpen(context.Background(), "u1", catalog.TierStarter, errors.New("db down"))

	if len(rec.calls) != 1 || rec.calls[0] != "failopen:u1" {
		t.Errorf("calls = %v", rec.calls)
	}
}

func TestCallWithTimeout(t *testing.T) {
	r := quietRegistry().WithTimeout(20 * time.Millisecond)
	_ = r.Register(slowPlugin{})

	start := time.Now()
	r.EmitShutdown(context.Background())
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("EmitShutdown blocked for %v, want it bounded by the timeout", elapsed)
	}

	err := r.callWithTimeout(context.Background(), "slow", func() error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	if err == nil {
		t.Error("expected a timeout error")
	}
}
