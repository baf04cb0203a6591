// Package server mounts the settle HTTP endpoints and runs them with
// graceful shutdown.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/settle"
	"github.com/xraph/settle/checkout"
	"github.com/xraph/settle/webhook"
)

// Route paths relative to Deps.BasePath.
const (
	WebhookPath  = "/webhooks/stripe"
	CheckoutPath = "/checkout"
)

// readyTimeout bounds each readiness check.
const readyTimeout = 2 * time.Second

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps holds the dependencies injected into the HTTP handlers.
type Deps struct {
	Engine *settle.Engine
	Auth   *webhook.Authenticator
	// Checkout is nil when no processor API key is configured; the checkout
	// endpoint then answers not_configured.
	Checkout *checkout.Initiator
	// Metrics is exposed on /metrics when set.
	Metrics prometheus.Gatherer
	// Checks are run by /readyz in addition to the engine's store ping.
	Checks   map[string]HealthCheck
	BasePath string
	Logger   *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// RegisterRoutes wires the webhook and checkout handlers onto mux under
// deps.BasePath.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	log := deps.logger()
	base := strings.TrimRight(deps.BasePath, "/")

	mux.Handle(base+WebhookPath, webhook.NewHandler(deps.Engine, deps.Auth,
		webhook.WithLogger(log),
		webhook.WithPlugins(deps.Engine.Plugins()),
	))

	if deps.Checkout != nil {
		mux.Handle(base+CheckoutPath, checkout.NewHandler(deps.Checkout, log))
	} else {
		mux.HandleFunc(base+CheckoutPath, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, log, http.StatusServiceUnavailable, map[string]string{"error": "not_configured"})
		})
	}
}

// RegisterProbes wires /healthz, /readyz and, when deps.Metrics is set,
// /metrics onto mux. Probes are unauthenticated.
func RegisterProbes(mux *http.ServeMux, deps *Deps) {
	log := deps.logger()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, log, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/readyz", readyHandler(deps, log))

	if deps.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func readyHandler(deps *Deps, log *slog.Logger) http.Handler {
	checks := map[string]HealthCheck{"store": deps.Engine.Store().Ping}
	for name, c := range deps.Checks {
		checks[name] = c
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := readyResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
			err := check(ctx)
			cancel()
			if err != nil {
				log.Warn("readiness check failed", "check", name, "error", err)
				resp.Checks[name] = err.Error()
				resp.Status = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		writeJSON(w, log, status, resp)
	})
}

// New returns an http.Server for handler with production timeouts.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("settle listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("encode response", "status", status, "error", err)
	}
}
