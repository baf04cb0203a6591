package checkout

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/xraph/settle"
	"github.com/xraph/settle/catalog"
)

const requestLimit = 64 * 1024

// Handler serves POST /checkout.
type Handler struct {
	initiator *Initiator
	logger    *slog.Logger
}

// NewHandler creates a checkout HTTP handler.
func NewHandler(i *Initiator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{initiator: i, logger: logger}
}

type detail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error   string   `json:"error"`
	Details []detail `json:"details,omitempty"`
}

// ServeHTTP decodes a Request and answers with the created Session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.write(w, http.StatusMethodNotAllowed, errorResponse{Error: "method_not_allowed"})
		return
	}

	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, requestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.write(w, http.StatusBadRequest, errorResponse{
			Error:   "invalid_request",
			Details: []detail{{Field: "body", Message: "request body must be a JSON checkout request"}},
		})
		return
	}

	s, err := h.initiator.Start(r.Context(), req)
	if err != nil {
		status, resp := errorStatus(err)
		h.write(w, status, resp)
		return
	}
	h.write(w, http.StatusOK, s)
}

func errorStatus(err error) (int, errorResponse) {
	if settle.IsValidation(err) {
		resp := errorResponse{Error: "invalid_request"}
		for _, ve := range ValidationDetails(err) {
			resp.Details = append(resp.Details, detail{Field: ve.Field, Message: ve.Message})
		}
		return http.StatusBadRequest, resp
	}
	if errors.Is(err, catalog.ErrNotConfigured) || errors.Is(err, catalog.ErrInvalidFormat) {
		return http.StatusServiceUnavailable, errorResponse{Error: "not_configured"}
	}
	var upstream *settle.UpstreamError
	if errors.As(err, &upstream) {
		return http.StatusBadGateway, errorResponse{
			Error:   "upstream_error",
			Details: []detail{{Field: "processor", Message: upstream.Message}},
		}
	}
	return http.StatusInternalServerError, errorResponse{Error: "internal_error"}
}

func (h *Handler) write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode checkout response", "status", status, "error", err)
	}
}
