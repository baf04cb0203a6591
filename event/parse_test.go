package event

import (
	"errors"
	"testing"
	"time"
)

func TestParseCheckoutCompleted(t *testing.T) {
	body := []byte(`{
		"id": "evt_1", "type": "checkout.session.completed", "created": 1767225600,
		"data": {"object": {
			"id": "cs_1", "mode": "subscription",
			"customer": "cus_1", "subscription": "sub_1",
			"client_reference_id": "u1",
			"customer_details": {"email": "a@example.com"},
			"metadata": {"tier": "starter", "price_id": "price_x"}
		}}
	}`)

	ev, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cc, ok := ev.(CheckoutCompleted)
	if !ok {
		t.Fatalf("got %T, want CheckoutCompleted", ev)
	}
	if cc.ID != "evt_1" || cc.Kind != KindCheckoutCompleted {
		t.Errorf("meta = %+v", cc.Meta)
	}
	if !cc.Created.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("created = %v", cc.Created)
	}
	s := cc.Session
	if s.SubscriptionRef != "sub_1" || s.CustomerRef != "cus_1" || s.ClientReferenceID != "u1" {
		t.Errorf("session = %+v", s)
	}
	if s.CustomerEmail != "a@example.com" {
		t.Errorf("email = %q", s.CustomerEmail)
	}
	if s.Metadata["price_id"] != "price_x" {
		t.Errorf("metadata = %v", s.Metadata)
	}
}

func TestParseSubscriptionPeriodFromItems(t *testing.T) {
	body := []byte(`{
		"id": "evt_2", "type": "customer.subscription.updated", "created": 1767225600,
		"data": {"object": {
			"id": "sub_1", "customer": {"id": "cus_1", "object": "customer"},
			"status": "past_due", "cancel_at_period_end": true,
			"items": {"data": [{
				"current_period_start": 1767225600, "current_period_end": 1769904000,
				"price": {"id": "price_x", "recurring": {"interval": "month"}}
			}]}
		}}
	}`)

	ev, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sc, ok := ev.(SubscriptionChanged)
	if !ok {
		t.Fatalf("got %T, want SubscriptionChanged", ev)
	}
	s := sc.Subscription
	if s.CustomerRef != "cus_1" {
		t.Errorf("expanded customer not resolved: %q", s.CustomerRef)
	}
	if s.PriceRef != "price_x" || s.Interval != "month" {
		t.Errorf("price = %q interval = %q", s.PriceRef, s.Interval)
	}
	if s.CurrentPeriodEnd.Unix() != 1769904000 {
		t.Errorf("period end = %v", s.CurrentPeriodEnd)
	}
	if !s.CancelAtPeriodEnd {
		t.Error("cancel_at_period_end lost")
	}
}

func TestParseSubscriptionKinds(t *testing.T) {
	tests := []struct {
		typ  string
		want string
	}{
		{"customer.subscription.created", "SubscriptionChanged"},
		{"customer.subscription.updated", "SubscriptionChanged"},
		{"customer.subscription.deleted", "SubscriptionDeleted"},
		{"invoice.paid", "InvoicePaid"},
		{"invoice.payment_failed", "InvoicePaymentFailed"},
		{"customer.created", "Unknown"},
		{"charge.refunded", "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			body := []byte(`{"id":"evt_x","type":"` + tt.typ + `","created":1,"data":{"object":{"id":"obj_1"}}}`)
			ev, err := Parse(body)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			var got string
			switch ev.(type) {
			case SubscriptionChanged:
				got = "SubscriptionChanged"
			case SubscriptionDeleted:
				got = "SubscriptionDeleted"
			case InvoicePaid:
				got = "InvoicePaid"
			case InvoicePaymentFailed:
				got = "InvoicePaymentFailed"
			case Unknown:
				got = "Unknown"
			default:
				got = "other"
			}
			if got != tt.want {
				t.Errorf("Parse(%s) = %s, want %s", tt.typ, got, tt.want)
			}
			if ev.Envelope().ID != "evt_x" {
				t.Errorf("envelope id = %q", ev.Envelope().ID)
			}
		})
	}
}

func TestParseInvoice(t *testing.T) {
	body := []byte(`{
		"id": "evt_3", "type": "invoice.paid", "created": 1767225600,
		"data": {"object": {
			"id": "in_1", "customer": "cus_1", "status": "paid",
			"amount_paid": 4900, "amount_due": 4900, "currency": "usd",
			"hosted_invoice_url": "https://pay.example/in_1",
			"status_transitions": {"paid_at": 1767225700},
			"parent": {"subscription_details": {"subscription": "sub_1"}}
		}}
	}`)

	ev, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	inv := ev.(InvoicePaid).Invoice
	if inv.SubscriptionRef != "sub_1" {
		t.Errorf("subscription ref from parent = %q", inv.SubscriptionRef)
	}
	if inv.AmountPaid != 4900 || inv.Currency != "usd" {
		t.Errorf("amount = %d %s", inv.AmountPaid, inv.Currency)
	}
	if inv.PaidAt == nil || inv.PaidAt.Unix() != 1767225700 {
		t.Errorf("paid_at = %v", inv.PaidAt)
	}
	if inv.DueDate != nil {
		t.Errorf("due_date should be nil, got %v", inv.DueDate)
	}
	if inv.DocumentURL() != "https://pay.example/in_1" {
		t.Errorf("document url = %q", inv.DocumentURL())
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{not json`},
		{"missing type", `{"id":"evt_1","data":{"object":{}}}`},
		{"missing id", `{"type":"invoice.paid","data":{"object":{}}}`},
		{"missing object", `{"id":"evt_1","type":"invoice.paid","data":{}}`},
		{"null object", `{"id":"evt_1","type":"invoice.paid","data":{"object":null}}`},
		{"wrong object shape", `{"id":"evt_1","type":"invoice.paid","data":{"object":{"amount_paid":"lots"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Parse() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestParseUnknownWithoutObject(t *testing.T) {
	ev, err := Parse([]byte(`{"id":"evt_1","type":"ping"}`))
	if err != nil {
		t.Fatalf("unknown kinds must not require a payload: %v", err)
	}
	if _, ok := ev.(Unknown); !ok {
		t.Errorf("got %T, want Unknown", ev)
	}
}
