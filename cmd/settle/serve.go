package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/xraph/settle"
	audithook "github.com/xraph/settle/audit_hook"
	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/checkout"
	"github.com/xraph/settle/config"
	"github.com/xraph/settle/observability"
	"github.com/xraph/settle/server"
	"github.com/xraph/settle/store/memory"
	"github.com/xraph/settle/store/redis"
	"github.com/xraph/settle/webhook"
)

// app is a fully wired settle server.
type app struct {
	engine  *settle.Engine
	handler http.Handler
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// auditLog records audit events as structured log lines.
func auditLog(logger *slog.Logger) audithook.RecorderFunc {
	return func(ctx context.Context, ev *audithook.AuditEvent) error {
		logger.LogAttrs(ctx, slog.LevelInfo, "audit",
			slog.String("action", ev.Action),
			slog.String("resource", ev.Resource),
			slog.String("resource_id", ev.ResourceID),
			slog.String("category", ev.Category),
			slog.String("severity", ev.Severity),
			slog.String("outcome", ev.Outcome),
			slog.Any("metadata", ev.Metadata),
		)
		return nil
	}
}

// buildApp wires the engine, its plugins and the HTTP routes from cfg and
// starts the engine. Callers must Stop the engine.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, lookup func(string) (string, bool)) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []settle.Option{
		settle.WithLogger(logger),
		settle.WithCatalog(catalog.FromEnv(lookup)),
		settle.WithGracePeriod(cfg.GracePeriod),
		settle.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
		settle.WithPlugin(audithook.New(auditLog(logger.With("component", "audit")), audithook.WithLogger(logger))),
	}

	checks := map[string]server.HealthCheck{}
	if cfg.RedisAddr != "" {
		ledger, err := redis.NewFromConfig(ctx, redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.EventTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("open event ledger: %w", err)
		}
		opts = append(opts, settle.WithEventLedger(ledger))
		checks["event_ledger"] = ledger.Ping
	}

	engine := settle.New(memory.New(), opts...)
	if err := engine.Start(ctx); err != nil {
		_ = engine.Stop()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	deps := &server.Deps{
		Engine:  engine,
		Auth:    webhook.NewRotatingAuthenticator(cfg.WebhookSecrets()),
		Metrics: reg,
		Checks:  checks,
		Logger:  logger,
	}
	if cfg.CheckoutEnabled() {
		processor := checkout.NewStripeProcessor(checkout.StripeConfig{
			APIKey:  cfg.StripeAPIKey,
			Timeout: cfg.CheckoutTimeout,
			BaseURL: cfg.StripeAPIBase,
		})
		deps.Checkout = checkout.NewInitiator(engine.Catalog(), engine, processor,
			checkout.WithLogger(logger),
			checkout.WithPlugins(engine.Plugins()),
			checkout.WithRedirectURLs(cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL),
			checkout.WithTrialDays(cfg.TrialDays),
		)
	} else {
		logger.Warn("checkout disabled (set STRIPE_API_KEY to enable)")
	}

	mux := http.NewServeMux()
	server.RegisterRoutes(mux, deps)
	server.RegisterProbes(mux, deps)

	return &app{engine: engine, handler: mux}, nil
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg, os.Stderr)
	logger.Info("starting settle", "version", Version)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, os.LookupEnv)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.engine.Stop(); err != nil {
			logger.Error("stopping engine", "error", err)
		}
	}()

	if err := server.Serve(ctx, server.New(cfg.Addr(), a.handler), logger); err != nil {
		return err
	}
	logger.Info("settle stopped")
	return nil
}

func runCheck(out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fmt.Fprintf(out, "listen:          %s\n", cfg.Addr())
	fmt.Fprintf(out, "webhook secrets: %d\n", len(cfg.WebhookSecrets()))
	fmt.Fprintf(out, "checkout:        %t\n", cfg.CheckoutEnabled())
	fmt.Fprintf(out, "grace period:    %s\n", cfg.GracePeriod)
	if cfg.RedisAddr != "" {
		fmt.Fprintf(out, "event ledger:    redis %s\n", cfg.RedisAddr)
	} else {
		fmt.Fprintln(out, "event ledger:    memory")
	}

	cat := catalog.FromEnv(os.LookupEnv)
	fmt.Fprintln(out, "prices:")
	for _, tier := range catalog.Tiers() {
		for _, period := range catalog.Periods() {
			ref, err := cat.Resolve(tier, period)
			if err != nil {
				ref = "(" + err.Error() + ")"
			}
			fmt.Fprintf(out, "  %s/%s: %s\n", tier, period, ref)
		}
	}
	return nil
}
