package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Settle store (SQLite).
//
// Timestamp columns are declared TIMESTAMP so the driver scans them back into
// time.Time.
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
    external_subscription_ref TEXT NOT NULL UNIQUE,
    external_customer_ref     TEXT NOT NULL DEFAULT '',
    external_price_ref        TEXT NOT NULL DEFAULT '',
    owner_id                  TEXT NOT NULL DEFAULT '',
    tier                      TEXT NOT NULL DEFAULT '',
    status                    TEXT NOT NULL,
    billing_period            TEXT NOT NULL DEFAULT '',
    current_period_start      TIMESTAMP NOT NULL,
    current_period_end        TIMESTAMP NOT NULL,
    cancel_at_period_end      INTEGER NOT NULL DEFAULT 0,
    canceled_at               TIMESTAMP,
    trial_start               TIMESTAMP,
    trial_end                 TIMESTAMP,
    last_event_at             TIMESTAMP NOT NULL,
    started_at                TIMESTAMP NOT NULL,
    version                   INTEGER NOT NULL DEFAULT 1,
    metadata                  TEXT NOT NULL DEFAULT '{}',
    created_at                TIMESTAMP NOT NULL,
    updated_at                TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_settle_subs_owner ON settle_subscriptions (owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_settle_subs_customer ON settle_subscriptions (external_customer_ref, created_at);
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
    external_invoice_ref TEXT NOT NULL UNIQUE,
    subscription_ref     TEXT NOT NULL DEFAULT '',
    owner_id             TEXT NOT NULL DEFAULT '',
    amount               INTEGER NOT NULL DEFAULT 0,
    currency             TEXT NOT NULL DEFAULT '',
    status               TEXT NOT NULL,
    paid_at              TIMESTAMP,
    due_date             TIMESTAMP,
    document_url         TEXT NOT NULL DEFAULT '',
    version              INTEGER NOT NULL DEFAULT 1,
    created_at           TIMESTAMP NOT NULL,
    updated_at           TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_settle_invoices_sub ON settle_invoices (subscription_ref, created_at);
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
    processed_at TIMESTAMP NOT NULL
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
