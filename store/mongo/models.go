package mongo

import (
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

	ID                      string            `grove:"id,pk"                     bson:"_id"`
	ExternalSubscriptionRef string            `grove:"external_subscription_ref" bson:"external_subscription_ref"`
	ExternalCustomerRef     string            `grove:"external_customer_ref"     bson:"external_customer_ref"`
	ExternalPriceRef        string            `grove:"external_price_ref"        bson:"external_price_ref"`
	OwnerID                 string            `grove:"owner_id"                  bson:"owner_id"`
	Tier                    string            `grove:"tier"                      bson:"tier"`
	Status                  string            `grove:"status"                    bson:"status"`
	BillingPeriod           string            `grove:"billing_period"            bson:"billing_period"`
	CurrentPeriodStart      time.Time         `grove:"current_period_start"      bson:"current_period_start"`
	CurrentPeriodEnd        time.Time         `grove:"current_period_end"        bson:"current_period_end"`
	CancelAtPeriodEnd       bool              `grove:"cancel_at_period_end"      bson:"cancel_at_period_end"`
	CanceledAt              *time.Time        `grove:"canceled_at"               bson:"canceled_at,omitempty"`
	TrialStart              *time.Time        `grove:"trial_start"               bson:"trial_start,omitempty"`
	TrialEnd                *time.Time        `grove:"trial_end"                 bson:"trial_end,omitempty"`
	LastEventAt             time.Time         `grove:"last_event_at"             bson:"last_event_at"`
	StartedAt               time.Time         `grove:"started_at"                bson:"started_at"`
	Version                 int64             `grove:"version"                   bson:"version"`
	Metadata                map[string]string `grove:"metadata"                  bson:"metadata,omitempty"`
	CreatedAt               time.Time         `grove:"created_at"                bson:"created_at"`
	UpdatedAt               time.Time         `grove:"updated_at"                bson:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                      s.ID.String(),
		ExternalSubscriptionRef: s.ExternalSubscriptionRef,
		ExternalCustomerRef:     s.ExternalCustomerRef,
		ExternalPriceRef:        s.ExternalPriceRef,
		OwnerID:                 s.OwnerID,
		Tier:                    string(s.Tier),
		Status:                  string(s.Status),
		BillingPeriod:           string(s.BillingPeriod),
		CurrentPeriodStart:      s.CurrentPeriodStart,
		CurrentPeriodEnd:        s.CurrentPeriodEnd,
		CancelAtPeriodEnd:       s.CancelAtPeriodEnd,
		CanceledAt:              s.CanceledAt,
		TrialStart:              s.TrialStart,
		TrialEnd:                s.TrialEnd,
		LastEventAt:             s.LastEventAt,
		StartedAt:               s.StartedAt,
		Version:                 s.Version,
		Metadata:                s.Metadata,
		CreatedAt:               s.CreatedAt,
		UpdatedAt:               s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}

	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:                      subID,
		OwnerID:                 m.OwnerID,
		Tier:                    catalog.Tier(m.Tier),
		Status:                  subscription.Status(m.Status),
		BillingPeriod:           catalog.BillingPeriod(m.BillingPeriod),
		CurrentPeriodStart:      m.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:        m.CurrentPeriodEnd.UTC(),
		CancelAtPeriodEnd:       m.CancelAtPeriodEnd,
		CanceledAt:              m.CanceledAt,
		TrialStart:              m.TrialStart,
		TrialEnd:                m.TrialEnd,
		ExternalSubscriptionRef: m.ExternalSubscriptionRef,
		ExternalCustomerRef:     m.ExternalCustomerRef,
		ExternalPriceRef:        m.ExternalPriceRef,
		LastEventAt:             m.LastEventAt.UTC(),
		StartedAt:               m.StartedAt.UTC(),
		Version:                 m.Version,
		Metadata:                m.Metadata,
	}, nil
}

// ==================== Invoice models ====================

type invoiceModel struct {
	grove.BaseModel `grove:"table:settle_invoices"`

	ID                 string     `grove:"id,pk"                bson:"_id"`
	ExternalInvoiceRef string     `grove:"external_invoice_ref" bson:"external_invoice_ref"`
	SubscriptionRef    string     `grove:"subscription_ref"     bson:"subscription_ref"`
	OwnerID            string     `grove:"owner_id"             bson:"owner_id"`
	Amount             int64      `grove:"amount"               bson:"amount"`
	Currency           string     `grove:"currency"             bson:"currency"`
	Status             string     `grove:"status"               bson:"status"`
	PaidAt             *time.Time `grove:"paid_at"              bson:"paid_at,omitempty"`
	DueDate            *time.Time `grove:"due_date"             bson:"due_date,omitempty"`
	DocumentURL        string     `grove:"document_url"         bson:"document_url"`
	Version            int64      `grove:"version"              bson:"version"`
	CreatedAt          time.Time  `grove:"created_at"           bson:"created_at"`
	UpdatedAt          time.Time  `grove:"updated_at"           bson:"updated_at"`
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
		PaidAt:             inv.PaidAt,
		DueDate:            inv.DueDate,
		DocumentURL:        inv.DocumentURL,
		Version:            inv.Version,
		CreatedAt:          inv.CreatedAt,
		UpdatedAt:          inv.UpdatedAt,
	}
}

func fromInvoiceModel(m *invoiceModel) (*invoice.Invoice, error) {
	invID, err := id.ParseInvoiceID(m.ID)
	if err != nil {
		return nil, err
	}

	return &invoice.Invoice{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
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

	EventID     string    `grove:"event_id,pk"  bson:"_id"`
	Kind        string    `grove:"kind"         bson:"kind"`
	Outcome     string    `grove:"outcome"      bson:"outcome"`
	ProcessedAt time.Time `grove:"processed_at" bson:"processed_at"`
}

func toProcessedEventModel(r *event.Record) *processedEventModel {
	return &processedEventModel{
		EventID:     r.EventID,
		Kind:        string(r.Kind),
		Outcome:     string(r.Outcome),
		ProcessedAt: r.ProcessedAt,
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
