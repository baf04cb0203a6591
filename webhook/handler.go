package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/xraph/settle"
	"github.com/xraph/settle/event"
	"github.com/xraph/settle/id"
	"github.com/xraph/settle/plugin"
)

const bodyLimit = 1024 * 1024 // 1 MiB

// Dispatcher handles authenticated events. *settle.Engine implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev event.Event) (event.Outcome, error)
}

// Handler is the HTTP endpoint the processor delivers webhooks to.
//
// It answers 200 for every event it has taken responsibility for, including
// duplicates and events it cannot process, 400 when the signature or the
// envelope is bad and 503 when the processor should redeliver.
type Handler struct {
	dispatcher Dispatcher
	auth       *Authenticator
	plugins    *plugin.Registry
	logger     *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

// WithPlugins reports rejected deliveries to the plugin registry.
func WithPlugins(r *plugin.Registry) HandlerOption {
	return func(h *Handler) { h.plugins = r }
}

// NewHandler creates a webhook handler.
func NewHandler(d Dispatcher, auth *Authenticator, opts ...HandlerOption) *Handler {
	h := &Handler{
		dispatcher: d,
		auth:       auth,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type receivedResponse struct {
	Received bool          `json:"received"`
	Status   event.Outcome `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ServeHTTP authenticates, decodes and dispatches one delivery.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.logger.With("delivery_id", id.NewDeliveryID().String())

	if r.Method != http.MethodPost {
		writeJSON(w, log, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	if !h.auth.Configured() {
		log.Error("webhook signing secret not configured")
		writeJSON(w, log, http.StatusServiceUnavailable, errorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(ctx, log, "body_too_large", err)
			writeJSON(w, log, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, log, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}

	verified, err := h.auth.Authenticate(body, r.Header.Get(SignatureHeader))
	if err != nil {
		log.Warn("webhook authentication failed",
			"event_id", peekID(body),
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		h.reject(ctx, log, "authentication", err)
		writeJSON(w, log, http.StatusBadRequest, errorResponse{Error: "invalid signature"})
		return
	}

	ev, err := verified.Event()
	if err != nil {
		log.Warn("malformed webhook event", "event_id", peekID(body), "error", err)
		h.reject(ctx, log, "malformed", err)
		writeJSON(w, log, http.StatusBadRequest, errorResponse{Error: "malformed event"})
		return
	}

	meta := ev.Envelope()
	log = log.With("event_id", meta.ID, "event_type", meta.Kind)

	outcome, err := h.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		log.Error("webhook processing failed", "error", err, "retryable", settle.IsRetryable(err))
		writeJSON(w, log, http.StatusServiceUnavailable, errorResponse{Error: "processing failed"})
		return
	}

	writeJSON(w, log, http.StatusOK, receivedResponse{Received: true, Status: outcome})
}

func (h *Handler) reject(ctx context.Context, log *slog.Logger, reason string, err error) {
	log.Debug("webhook rejected", "reason", reason)
	if h.plugins != nil {
		h.plugins.EmitWebhookRejected(ctx, reason, err)
	}
}

func writeJSON[T any](w http.ResponseWriter, log *slog.Logger, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("encode webhook response", "status", status, "error", err)
	}
}
