package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed is returned when an authenticated body is not a usable event.
var ErrMalformed = errors.New("settle: malformed event")

type envelope struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Created  int64  `json:"created"`
	Livemode bool   `json:"livemode"`
	Data     struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Parse decodes an authenticated webhook body. Only call it on bytes that
// passed signature verification.
func Parse(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformed)
	}

	meta := Meta{
		ID:       env.ID,
		Kind:     Kind(env.Type),
		Created:  unixTime(env.Created),
		Livemode: env.Livemode,
	}

	switch meta.Kind {
	case KindCheckoutCompleted:
		var w wireCheckoutSession
		if err := decodeObject(env.Data.Object, &w); err != nil {
			return nil, err
		}
		return CheckoutCompleted{Meta: meta, Session: w.toSession()}, nil

	case KindSubscriptionCreated, KindSubscriptionUpdated:
		var w wireSubscription
		if err := decodeObject(env.Data.Object, &w); err != nil {
			return nil, err
		}
		return SubscriptionChanged{Meta: meta, Subscription: w.toSubscription()}, nil

	case KindSubscriptionDeleted:
		var w wireSubscription
		if err := decodeObject(env.Data.Object, &w); err != nil {
			return nil, err
		}
		return SubscriptionDeleted{Meta: meta, Subscription: w.toSubscription()}, nil

	case KindInvoicePaid:
		var w wireInvoice
		if err := decodeObject(env.Data.Object, &w); err != nil {
			return nil, err
		}
		return InvoicePaid{Meta: meta, Invoice: w.toInvoice()}, nil

	case KindInvoicePaymentFailed:
		var w wireInvoice
		if err := decodeObject(env.Data.Object, &w); err != nil {
			return nil, err
		}
		return InvoicePaymentFailed{Meta: meta, Invoice: w.toInvoice()}, nil

	default:
		return Unknown{Meta: meta}, nil
	}
}

func decodeObject(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return fmt.Errorf("%w: missing data.object", ErrMalformed)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: data.object: %v", ErrMalformed, err)
	}
	return nil
}

// ref is an expandable reference: either a bare id string or an expanded
// object carrying an "id" field.
type ref string

func (r *ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = ref(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = ref(obj.ID)
	return nil
}

type wireCheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          ref               `json:"customer"`
	Subscription      ref               `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	CustomerEmail     string            `json:"customer_email"`
	Metadata          map[string]string `json:"metadata"`
	CustomerDetails   *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

func (w wireCheckoutSession) toSession() CheckoutSession {
	email := w.CustomerEmail
	if email == "" && w.CustomerDetails != nil {
		email = w.CustomerDetails.Email
	}
	return CheckoutSession{
		ID:                w.ID,
		Mode:              w.Mode,
		SubscriptionRef:   string(w.Subscription),
		CustomerRef:       string(w.Customer),
		ClientReferenceID: w.ClientReferenceID,
		CustomerEmail:     email,
		Metadata:          w.Metadata,
	}
}

type wirePrice struct {
	ID        string `json:"id"`
	Recurring *struct {
		Interval string `json:"interval"`
	} `json:"recurring"`
}

type wireSubscriptionItem struct {
	Price              wirePrice `json:"price"`
	CurrentPeriodStart int64     `json:"current_period_start"`
	CurrentPeriodEnd   int64     `json:"current_period_end"`
}

type wireSubscription struct {
	ID                 string            `json:"id"`
	Customer           ref               `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         *int64            `json:"canceled_at"`
	TrialStart         *int64            `json:"trial_start"`
	TrialEnd           *int64            `json:"trial_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []wireSubscriptionItem `json:"data"`
	} `json:"items"`
}

// toSubscription reads the billing period from the subscription itself and
// falls back to its first item, where newer API versions report it.
func (w wireSubscription) toSubscription() Subscription {
	s := Subscription{
		ID:                 w.ID,
		CustomerRef:        string(w.Customer),
		Status:             w.Status,
		CurrentPeriodStart: unixTime(w.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(w.CurrentPeriodEnd),
		CancelAtPeriodEnd:  w.CancelAtPeriodEnd,
		CanceledAt:         unixTimePtr(w.CanceledAt),
		TrialStart:         unixTimePtr(w.TrialStart),
		TrialEnd:           unixTimePtr(w.TrialEnd),
		Metadata:           w.Metadata,
	}
	if len(w.Items.Data) > 0 {
		item := w.Items.Data[0]
		s.PriceRef = item.Price.ID
		if item.Price.Recurring != nil {
			s.Interval = item.Price.Recurring.Interval
		}
		if s.CurrentPeriodEnd.IsZero() {
			s.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
			s.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		}
	}
	return s
}

type wireInvoice struct {
	ID                string `json:"id"`
	Customer          ref    `json:"customer"`
	Subscription      ref    `json:"subscription"`
	Status            string `json:"status"`
	AmountPaid        int64  `json:"amount_paid"`
	AmountDue         int64  `json:"amount_due"`
	Currency          string `json:"currency"`
	HostedInvoiceURL  string `json:"hosted_invoice_url"`
	InvoicePDF        string `json:"invoice_pdf"`
	DueDate           *int64 `json:"due_date"`
	StatusTransitions struct {
		PaidAt *int64 `json:"paid_at"`
	} `json:"status_transitions"`
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription ref `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (w wireInvoice) toInvoice() Invoice {
	sub := string(w.Subscription)
	if sub == "" && w.Parent != nil && w.Parent.SubscriptionDetails != nil {
		sub = string(w.Parent.SubscriptionDetails.Subscription)
	}
	return Invoice{
		ID:              w.ID,
		CustomerRef:     string(w.Customer),
		SubscriptionRef: sub,
		Status:          w.Status,
		AmountPaid:      w.AmountPaid,
		AmountDue:       w.AmountDue,
		Currency:        w.Currency,
		HostedURL:       w.HostedInvoiceURL,
		PDFURL:          w.InvoicePDF,
		DueDate:         unixTimePtr(w.DueDate),
		PaidAt:          unixTimePtr(w.StatusTransitions.PaidAt),
	}
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func unixTimePtr(sec *int64) *time.Time {
	if sec == nil || *sec <= 0 {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}
