package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Settle store.
var Migrations = migrate.NewGroup("settle")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_settle_subscriptions",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS settle_subscriptions (
    id                        TEXT PRIMARY KEY,
    external_subscription_ref TEXT NOT NULL,
    external_customer_ref     TEXT NOT NULL DEFAULT '',
    external_price_ref        TEXT NOT NULL DEFAULT '',
    owner_id                  TEXT NOT NULL DEFAULT '',
    tier                      TEXT NOT NULL DEFAULT '',
    status                    TEXT NOT NULL,
    billing_period            TEXT NOT NULL DEFAULT '',
    current_period_start      TIMESTAMPTZ NOT NULL,
    current_period_end        TIMESTAMPTZ NOT NULL,
    cancel_at_period_end      BOOLEAN NOT NULL DEFAULT FALSE,
    canceled_at               TIMESTAMPTZ,
    trial_start               TIMESTAMPTZ,
    trial_end                 TIMESTAMPTZ,
    last_event_at             TIMESTAMPTZ NOT NULL,
    started_at                TIMESTAMPTZ NOT NULL,
    version                   BIGINT NOT NULL DEFAULT 1,
    metadata                  JSONB NOT NULL DEFAULT '{}',
    created_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at                TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_settle_subs_ref ON settle_subscriptions (external_subscription_ref);
CREATE INDEX IF NOT EXISTS idx_settle_subs_owner ON settle_subscriptions (owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_settle_subs_customer ON settle_subscriptions (external_customer_ref, created_at DESC);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS settle_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_settle_invoices",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS settle_invoices (
    id                   TEXT PRIMARY KEY,
    external_invoice_ref TEXT NOT NULL,
    subscription_ref     TEXT NOT NULL DEFAULT '',
    owner_id             TEXT NOT NULL DEFAULT '',
    amount               BIGINT NOT NULL DEFAULT 0,
    currency             TEXT NOT NULL DEFAULT '',
    status               TEXT NOT NULL,
    paid_at              TIMESTAMPTZ,
    due_date             TIMESTAMPTZ,
    document_url         TEXT NOT NULL DEFAULT '',
    version              BIGINT NOT NULL DEFAULT 1,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_settle_invoices_ref ON settle_invoices (external_invoice_ref);
CREATE INDEX IF NOT EXISTS idx_settle_invoices_sub ON settle_invoices (subscription_ref, created_at DESC);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS settle_invoices`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_settle_processed_events",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS settle_processed_events (
    event_id     TEXT PRIMARY KEY,
    kind         TEXT NOT NULL DEFAULT '',
    outcome      TEXT NOT NULL DEFAULT '',
    processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS settle_processed_events`)
				return err
			},
		},
	)
}
