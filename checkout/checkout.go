// Package checkout starts hosted subscription checkouts with the payment
// processor.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/settle"
	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/plugin"
)

// DefaultTrialDays is the length of a granted free trial.
const DefaultTrialDays = 14

// Request asks for a checkout of one tier and billing period.
type Request struct {
	Tier          string `json:"tier" validate:"required,oneof=starter professional enterprise"`
	BillingPeriod string `json:"billingPeriod" validate:"required,oneof=monthly annual"`
	OwnerID       string `json:"ownerId" validate:"omitempty,max=255"`
	Email         string `json:"email" validate:"omitempty,email,max=320"`
}

// Session is a created checkout the customer is redirected to.
type Session struct {
	ID          string `json:"sessionId"`
	RedirectURL string `json:"redirectUrl"`
}

// Params is what the processor needs to create a subscription checkout.
type Params struct {
	PriceRef          string
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	CustomerEmail     string
	// TrialDays is zero when no trial is granted.
	TrialDays int64
	// Metadata is attached to the session and to the subscription it creates.
	Metadata map[string]string
}

// Processor creates checkout sessions.
type Processor interface {
	CreateCheckoutSession(ctx context.Context, p Params) (*Session, error)
}

// Eligibility decides whether an owner may get a free trial.
// *settle.Engine implements it.
type Eligibility interface {
	TrialEligible(ctx context.Context, ownerID string, tier catalog.Tier) bool
}

// Initiator turns checkout requests into processor checkout sessions.
type Initiator struct {
	catalog     *catalog.Catalog
	eligibility Eligibility
	processor   Processor
	validate    *validator.Validate
	plugins     *plugin.Registry
	logger      *slog.Logger

	successURL string
	cancelURL  string
	trialDays  int64
}

// Option configures an Initiator.
type Option func(*Initiator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Initiator) { i.logger = logger }
}

// WithPlugins reports started checkouts to the plugin registry.
func WithPlugins(r *plugin.Registry) Option {
	return func(i *Initiator) { i.plugins = r }
}

// WithRedirectURLs sets where the processor sends the customer after
// completing or abandoning checkout.
func WithRedirectURLs(success, cancel string) Option {
	return func(i *Initiator) {
		i.successURL = success
		i.cancelURL = cancel
	}
}

// WithTrialDays sets the trial length.
func WithTrialDays(days int64) Option {
	return func(i *Initiator) {
		if days > 0 {
			i.trialDays = days
		}
	}
}

// NewInitiator creates an Initiator.
func NewInitiator(c *catalog.Catalog, e Eligibility, p Processor, opts ...Option) *Initiator {
	i := &Initiator{
		catalog:     c,
		eligibility: e,
		processor:   p,
		validate:    newValidator(),
		logger:      slog.Default(),
		trialDays:   DefaultTrialDays,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Start validates req, resolves its price and creates a checkout session.
//
// Invalid input returns settle.ValidationError values joined together.
// Catalog errors are returned unchanged. Processor failures are returned as
// *settle.UpstreamError.
func (i *Initiator) Start(ctx context.Context, req Request) (*Session, error) {
	req.Tier = strings.ToLower(strings.TrimSpace(req.Tier))
	req.BillingPeriod = strings.ToLower(strings.TrimSpace(req.BillingPeriod))
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.Email = strings.TrimSpace(req.Email)

	if err := i.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	tier := catalog.Tier(req.Tier)
	period := catalog.BillingPeriod(req.BillingPeriod)

	price, err := i.catalog.Resolve(tier, period)
	if err != nil {
		i.logger.Error("checkout price not resolvable",
			"tier", tier,
			"billing_period", period,
			"error", err,
		)
		return nil, err
	}

	trial := tier != catalog.TierEnterprise && i.eligibility.TrialEligible(ctx, req.OwnerID, tier)

	p := Params{
		PriceRef:          price,
		SuccessURL:        i.successURL,
		CancelURL:         i.cancelURL,
		ClientReferenceID: req.OwnerID,
		CustomerEmail:     req.Email,
		Metadata: map[string]string{
			settle.MetaTier:          string(tier),
			settle.MetaBillingPeriod: string(period),
			settle.MetaPriceID:       price,
			settle.MetaOwnerID:       req.OwnerID,
			settle.MetaTrialGranted:  strconv.FormatBool(trial),
		},
	}
	if trial {
		p.TrialDays = i.trialDays
	}

	s, err := i.processor.CreateCheckoutSession(ctx, p)
	if err != nil {
		i.logger.Error("checkout session creation failed",
			"owner_id", req.OwnerID,
			"tier", tier,
			"error", err,
		)
		var upstream *settle.UpstreamError
		if errors.As(err, &upstream) {
			return nil, err
		}
		return nil, &settle.UpstreamError{Op: "create checkout session", Message: err.Error(), Err: err}
	}

	i.logger.Info("checkout session created",
		"session_id", s.ID,
		"owner_id", req.OwnerID,
		"tier", tier,
		"billing_period", period,
		"trial", trial,
	)
	if i.plugins != nil {
		i.plugins.EmitCheckoutStarted(ctx, s.ID, req.OwnerID, tier, trial)
	}
	return s, nil
}

// validationError converts validator output into settle.ValidationError
// values.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return settle.ValidationError{Field: "request", Message: err.Error()}
	}
	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, settle.ValidationError{Field: fe.Field(), Message: describe(fe)})
	}
	return errors.Join(errs...)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "email":
		return "must be a valid email address"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

// ValidationDetails lists every ValidationError carried by err.
func ValidationDetails(err error) []settle.ValidationError {
	var out []settle.ValidationError
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if ve, ok := e.(settle.ValidationError); ok {
			out = append(out, ve)
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}
