// Package webhook receives payment processor webhook deliveries: it checks
// their signature and hands authenticated events to the engine.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/xraph/settle"
	"github.com/xraph/settle/event"
)

// SignatureHeader is the request header carrying the processor signature.
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance is the maximum accepted age of a signed timestamp.
const DefaultTolerance = stripewebhook.DefaultTolerance

// Authenticated is a delivery body whose signature has been verified. It is
// the only input event decoding accepts.
type Authenticated struct {
	body []byte
}

// Body returns the verified raw bytes.
func (a Authenticated) Body() []byte { return a.body }

// Event decodes the verified body.
func (a Authenticated) Event() (event.Event, error) {
	return event.Parse(a.body)
}

// Authenticator verifies the HMAC-SHA256 signature the processor attaches to
// each delivery. The comparison is constant-time and runs on the raw bytes
// before any decoding.
type Authenticator struct {
	secrets   []string
	tolerance time.Duration
}

// AuthOption configures an Authenticator.
type AuthOption func(*Authenticator)

// WithTolerance sets the maximum accepted signature age.
func WithTolerance(d time.Duration) AuthOption {
	return func(a *Authenticator) {
		if d > 0 {
			a.tolerance = d
		}
	}
}

// WithAdditionalSecret accepts signatures made with another signing secret,
// for use while rotating secrets.
func WithAdditionalSecret(secret string) AuthOption {
	return func(a *Authenticator) {
		if s := strings.TrimSpace(secret); s != "" {
			a.secrets = append(a.secrets, s)
		}
	}
}

// NewAuthenticator creates an Authenticator for the endpoint signing secret.
func NewAuthenticator(secret string, opts ...AuthOption) *Authenticator {
	a := &Authenticator{tolerance: DefaultTolerance}
	if s := strings.TrimSpace(secret); s != "" {
		a.secrets = append(a.secrets, s)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewRotatingAuthenticator creates an Authenticator that accepts any of
// secrets. The first non-empty secret is the current one.
func NewRotatingAuthenticator(secrets []string, opts ...AuthOption) *Authenticator {
	a := NewAuthenticator("", opts...)
	for _, s := range secrets {
		WithAdditionalSecret(s)(a)
	}
	return a
}

// Configured reports whether a signing secret is set.
func (a *Authenticator) Configured() bool { return len(a.secrets) > 0 }

// Authenticate verifies body against the signature header. Every failure
// wraps settle.ErrAuthentication.
func (a *Authenticator) Authenticate(body []byte, header string) (Authenticated, error) {
	if !a.Configured() {
		return Authenticated{}, fmt.Errorf("%w: no signing secret configured", settle.ErrAuthentication)
	}
	if strings.TrimSpace(header) == "" {
		return Authenticated{}, fmt.Errorf("%w: missing %s header", settle.ErrAuthentication, SignatureHeader)
	}

	var lastErr error
	for _, secret := range a.secrets {
		err := stripewebhook.ValidatePayloadWithTolerance(body, header, secret, a.tolerance)
		if err == nil {
			return Authenticated{body: body}, nil
		}
		lastErr = err
		if errors.Is(err, stripewebhook.ErrInvalidHeader) || errors.Is(err, stripewebhook.ErrTooOld) {
			break
		}
	}
	return Authenticated{}, fmt.Errorf("%w: %v", settle.ErrAuthentication, lastErr)
}

// peekID returns the event id of an unverified body for logging only.
func peekID(body []byte) string {
	var env struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	if len(env.ID) > 64 {
		return env.ID[:64]
	}
	return env.ID
}
