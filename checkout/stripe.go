package checkout

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/xraph/settle"
)

// DefaultTimeout bounds a checkout session request to the processor.
const DefaultTimeout = 10 * time.Second

// StripeConfig configures the Stripe processor.
type StripeConfig struct {
	APIKey string
	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
	// BaseURL overrides the API endpoint, e.g. for a local mock.
	BaseURL string
}

// StripeProcessor creates checkout sessions through the Stripe API.
//
// It uses its own backend instead of the package-level stripe.Key, with a
// bounded HTTP timeout and no automatic network retries, so a slow
// processor surfaces as an error instead of a hanging request.
type StripeProcessor struct {
	client stripesession.Client
}

var _ Processor = (*StripeProcessor)(nil)

// NewStripeProcessor creates a StripeProcessor.
func NewStripeProcessor(cfg StripeConfig) *StripeProcessor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	bc := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if u := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); u != "" {
		bc.URL = stripe.String(u)
	}

	return &StripeProcessor{
		client: stripesession.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, bc),
			Key: strings.TrimSpace(cfg.APIKey),
		},
	}
}

// CreateCheckoutSession implements Processor.
func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context, in Params) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceRef),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: in.Metadata,
		},
		Metadata: in.Metadata,
	}
	params.Context = ctx
	if in.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(in.ClientReferenceID)
	}
	if in.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(in.CustomerEmail)
	}
	if in.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(in.TrialDays)
	}

	s, err := p.client.New(params)
	if err != nil {
		return nil, &settle.UpstreamError{Op: "create checkout session", Message: upstreamMessage(err), Err: err}
	}
	if s == nil || strings.TrimSpace(s.URL) == "" {
		return nil, &settle.UpstreamError{Op: "create checkout session", Message: "processor returned no checkout url"}
	}
	return &Session{ID: s.ID, RedirectURL: s.URL}, nil
}

func upstreamMessage(err error) string {
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.Msg != "" {
		return serr.Msg
	}
	return err.Error()
}
