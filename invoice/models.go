package invoice

import (
	"time"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/types"
)

type Status string

const (
	StatusPaid   Status = "paid"
	StatusFailed Status = "failed"
)

type Invoice struct {
	types.Entity
	ID                 id.InvoiceID `json:"id"`
	ExternalInvoiceRef string       `json:"external_invoice_ref"`
	SubscriptionRef    string       `json:"subscription_ref"`
	OwnerID            string       `json:"owner_id"`
	Amount             types.Money  `json:"amount"`
	Status             Status       `json:"status"`
	PaidAt             *time.Time   `json:"paid_at,omitempty"`
	DueDate            *time.Time   `json:"due_date,omitempty"`
	DocumentURL        string       `json:"document_url,omitempty"`
	Version            int64        `json:"version"`
}

// IsPaid reports whether the invoice is settled. A paid invoice is final.
func (i *Invoice) IsPaid() bool { return i.Status == StatusPaid }

// Clone returns a deep copy.
func (i *Invoice) Clone() *Invoice {
	c := *i
	if i.PaidAt != nil {
		t := *i.PaidAt
		c.PaidAt = &t
	}
	if i.DueDate != nil {
		t := *i.DueDate
		c.DueDate = &t
	}
	return &c
}
