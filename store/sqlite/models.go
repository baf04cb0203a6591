package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/event"
	"github.com/xraph/settle/id"
	"github.com/xraph/settle/invoice"
	"github.com/xraph/settle/subscription"
	"github.com/xraph/settle/types"
)

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:settle_subscriptions"`

	ID                      string     `grove:"id,pk"`
	ExternalSubscriptionRef string     `grove:"external_subscription_ref"`
	ExternalCustomerRef     string     `grove:"external_customer_ref"`
	ExternalPriceRef        string     `grove:"external_price_ref"`
	OwnerID                 string     `grove:"owner_id"`
	Tier                    string     `grove:"tier"`
	Status                  string     `grove:"status"`
	BillingPeriod           string     `grove:"billing_period"`
	CurrentPeriodStart      time.Time  `grove:"current_period_start"`
	CurrentPeriodEnd        time.Time  `grove:"current_period_end"`
	CancelAtPeriodEnd       bool       `grove:"cancel_at_period_end"`
	CanceledAt              *time.Time `grove:"canceled_at"`
	TrialStart              *time.Time `grove:"trial_start"`
	TrialEnd                *time.Time `grove:"trial_end"`
	LastEventAt             time.Time  `grove:"last_event_at"`
	StartedAt               time.Time  `grove:"started_at"`
	Version                 int64      `grove:"version"`
	Metadata                string     `grove:"metadata"`
	CreatedAt               time.Time  `grove:"created_at"`
	UpdatedAt               time.Time  `grove:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	md, _ := json.Marshal(s.Metadata) //nolint:errcheck // map[string]string always encodes
	if s.Metadata == nil {
		md = []byte("{}")
	}
	return &subscriptionModel{
		ID:                      s.ID.String(),
		ExternalSubscriptionRef: s.ExternalSubscriptionRef,
		ExternalCustomerRef:     s.ExternalCustomerRef,
		ExternalPriceRef:        s.ExternalPriceRef,
		OwnerID:                 s.OwnerID,
		Tier:                    string(s.Tier),
		Status:                  string(s.Status),
		BillingPeriod:           string(s.BillingPeriod),
		CurrentPeriodStart:      s.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:        s.CurrentPeriodEnd.UTC(),
		CancelAtPeriodEnd:       s.CancelAtPeriodEnd,
		CanceledAt:              utc(s.CanceledAt),
		TrialStart:              utc(s.TrialStart),
		TrialEnd:                utc(s.TrialEnd),
		LastEventAt:             s.LastEventAt.UTC(),
		StartedAt:               s.StartedAt.UTC(),
		Version:                 s.Version,
		Metadata:                string(md),
		CreatedAt:               s.CreatedAt.UTC(),
		UpdatedAt:               s.UpdatedAt.UTC(),
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}

	var md map[string]string
	if m.Metadata != "" && m.Metadata != "{}" {
		if err := json.Unmarshal([]byte(m.Metadata), &md); err != nil {
			return nil, fmt.Errorf("settle/sqlite: decode metadata of %s: %w", m.ExternalSubscriptionRef, err)
		}
	}

	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                      subID,
		OwnerID:                 m.OwnerID,
		Tier:                    catalog.Tier(m.Tier),
		Status:                  subscription.Status(m.Status),
		BillingPeriod:           catalog.BillingPeriod(m.BillingPeriod),
		CurrentPeriodStart:      m.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:        m.CurrentPeriodEnd.UTC(),
		CancelAtPeriodEnd:       m.CancelAtPeriodEnd,
		CanceledAt:              utc(m.CanceledAt),
		TrialStart:              utc(m.TrialStart),
		TrialEnd:                utc(m.TrialEnd),
		ExternalSubscriptionRef: m.ExternalSubscriptionRef,
		ExternalCustomerRef:     m.ExternalCustomerRef,
		ExternalPriceRef:        m.ExternalPriceRef,
		LastEventAt:             m.LastEventAt.UTC(),
		StartedAt:               m.StartedAt.UTC(),
		Version:                 m.Version,
		Metadata:                md,
	}, nil
}

// ==================== Invoice models ====================

type invoiceModel struct {
	grove.BaseModel `grove:"table:settle_invoices"`

	ID                 string     `grove:"id,pk"`
	ExternalInvoiceRef string     `grove:"external_invoice_ref"`
	SubscriptionRef    string     `grove:"subscription_ref"`
	OwnerID            string     `grove:"owner_id"`
	Amount             int64      `grove:"amount"`
	Currency           string     `grove:"currency"`
	Status             string     `grove:"status"`
	PaidAt             *time.Time `grove:"paid_at"`
	DueDate            *time.Time `grove:"due_date"`
	DocumentURL        string     `grove:"document_url"`
	Version            int64      `grove:"version"`
	CreatedAt          time.Time  `grove:"created_at"`
	UpdatedAt          time.Time  `grove:"updated_at"`
}

func toInvoiceModel(inv *invoice.Invoice) *invoiceModel {
	return &invoiceModel{
		ID:                 inv.ID.String(),
		ExternalInvoiceRef: inv.ExternalInvoiceRef,
		SubscriptionRef:    inv.SubscriptionRef,
		OwnerID:            inv.OwnerID,
		Amount:             inv.Amount.Amount,
		Currency:           inv.Amount.Currency,
		Status:             string(inv.Status),
		PaidAt:             utc(inv.PaidAt),
		DueDate:            utc(inv.DueDate),
		DocumentURL:        inv.DocumentURL,
		Version:            inv.Version,
		CreatedAt:          inv.CreatedAt.UTC(),
		UpdatedAt:          inv.UpdatedAt.UTC(),
	}
}

func fromInvoiceModel(m *invoiceModel) (*invoice.Invoice, error) {
	invID, err := id.ParseInvoiceID(m.ID)
	if err != nil {
		return nil, err
	}

	return &invoice.Invoice{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                 invID,
		ExternalInvoiceRef: m.ExternalInvoiceRef,
		SubscriptionRef:    m.SubscriptionRef,
		OwnerID:            m.OwnerID,
		Amount:             types.NewMoney(m.Amount, m.Currency),
		Status:             invoice.Status(m.Status),
		PaidAt:             m.PaidAt,
		DueDate:            m.DueDate,
		DocumentURL:        m.DocumentURL,
		Version:            m.Version,
	}, nil
}

// ==================== Processed event models ====================

type processedEventModel struct {
	grove.BaseModel `grove:"table:settle_processed_events"`

	EventID     string    `grove:"event_id,pk"`
	Kind        string    `grove:"kind"`
	Outcome     string    `grove:"outcome"`
	ProcessedAt time.Time `grove:"processed_at"`
}

func toProcessedEventModel(r *event.Record) *processedEventModel {
	return &processedEventModel{
		EventID:     r.EventID,
		Kind:        string(r.Kind),
		Outcome:     string(r.Outcome),
		ProcessedAt: r.ProcessedAt.UTC(),
	}
}

func fromProcessedEventModel(m *processedEventModel) *event.Record {
	return &event.Record{
		EventID:     m.EventID,
		Kind:        event.Kind(m.Kind),
		Outcome:     event.Outcome(m.Outcome),
		ProcessedAt: m.ProcessedAt.UTC(),
	}
}

// utc normalizes optional timestamps. SQLite keeps timestamps as text, which
// only orders correctly when every value shares one zone.
func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
