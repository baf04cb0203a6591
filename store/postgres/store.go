package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/settle"
	"github.com/xraph/settle/event"
	"github.com/xraph/settle/invoice"
	settlestore "github.com/xraph/settle/store"
	"github.com/xraph/settle/subscription"
)

// compile-time interface check
var _ settlestore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
//
// Updates are conditional on the version column, so two writers racing on the
// same subscription cannot both succeed.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("settle/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %w", settle.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Subscription Store ====================

func (s *Store) UpsertSubscription(ctx context.Context, sub *subscription.Subscription, expectedVersion int64) error {
	m := toSubscriptionModel(sub)

	if expectedVersion == 0 {
		m.Version = 1
		if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
			if isDuplicate(err) {
				return settle.ErrAlreadyExists
			}
			return err
		}
		sub.Version = m.Version
		return nil
	}

	m.Version = expectedVersion + 1
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("external_customer_ref = $1", m.ExternalCustomerRef).
		Set("external_price_ref = $2", m.ExternalPriceRef).
		Set("owner_id = $3", m.OwnerID).
		Set("tier = $4", m.Tier).
		Set("status = $5", m.Status).
		Set("billing_period = $6", m.BillingPeriod).
		Set("current_period_start = $7", m.CurrentPeriodStart).
		Set("current_period_end = $8", m.CurrentPeriodEnd).
		Set("cancel_at_period_end = $9", m.CancelAtPeriodEnd).
		Set("canceled_at = $10", m.CanceledAt).
		Set("trial_start = $11", m.TrialStart).
		Set("trial_end = $12", m.TrialEnd).
		Set("last_event_at = $13", m.LastEventAt).
		Set("started_at = $14", m.StartedAt).
		Set("metadata = $15", m.Metadata).
		Set("updated_at = $16", m.UpdatedAt).
		Set("version = $17", m.Version).
		Where("external_subscription_ref = $18", m.ExternalSubscriptionRef).
		Where("version = $19", expectedVersion).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return settle.ErrConflict
	}
	sub.Version = m.Version
	return nil
}

func (s *Store) GetSubscriptionByRef(ctx context.Context, ref string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("external_subscription_ref = $1", ref).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, settle.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) LatestSubscriptionByOwner(ctx context.Context, ownerID string) (*subscription.Subscription, error) {
	return s.latestSubscription(ctx, "owner_id", ownerID)
}

func (s *Store) LatestSubscriptionByCustomer(ctx context.Context, customerRef string) (*subscription.Subscription, error) {
	return s.latestSubscription(ctx, "external_customer_ref", customerRef)
}

func (s *Store) latestSubscription(ctx context.Context, column, value string) (*subscription.Subscription, error) {
	if value == "" {
		return nil, settle.ErrSubscriptionNotFound
	}
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where(column+" = $1", value).
		OrderExpr("created_at DESC, id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, settle.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptionsByOwner(ctx context.Context, ownerID string) ([]*subscription.Subscription, error) {
	if ownerID == "" {
		return []*subscription.Subscription{}, nil
	}
	var models []subscriptionModel
	err := s.pg.NewSelect(&models).
		Where("owner_id = $1", ownerID).
		OrderExpr("created_at DESC, id DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

// ==================== Invoice Store ====================

func (s *Store) UpsertInvoice(ctx context.Context, inv *invoice.Invoice, expectedVersion int64) error {
	m := toInvoiceModel(inv)

	if expectedVersion == 0 {
		m.Version = 1
		if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
			if isDuplicate(err) {
				return settle.ErrAlreadyExists
			}
			return err
		}
		inv.Version = m.Version
		return nil
	}

	m.Version = expectedVersion + 1
	res, err := s.pg.NewUpdate((*invoiceModel)(nil)).
		Set("subscription_ref = $1", m.SubscriptionRef).
		Set("owner_id = $2", m.OwnerID).
		Set("amount = $3", m.Amount).
		Set("currency = $4", m.Currency).
		Set("status = $5", m.Status).
		Set("paid_at = $6", m.PaidAt).
		Set("due_date = $7", m.DueDate).
		Set("document_url = $8", m.DocumentURL).
		Set("updated_at = $9", m.UpdatedAt).
		Set("version = $10", m.Version).
		Where("external_invoice_ref = $11", m.ExternalInvoiceRef).
		Where("version = $12", expectedVersion).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return settle.ErrConflict
	}
	inv.Version = m.Version
	return nil
}

func (s *Store) GetInvoiceByRef(ctx context.Context, ref string) (*invoice.Invoice, error) {
	m := new(invoiceModel)
	err := s.pg.NewSelect(m).
		Where("external_invoice_ref = $1", ref).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, settle.ErrInvoiceNotFound
		}
		return nil, err
	}
	return fromInvoiceModel(m)
}

func (s *Store) ListInvoicesBySubscription(ctx context.Context, subscriptionRef string) ([]*invoice.Invoice, error) {
	var models []invoiceModel
	err := s.pg.NewSelect(&models).
		Where("subscription_ref = $1", subscriptionRef).
		OrderExpr("created_at DESC, external_invoice_ref DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*invoice.Invoice, len(models))
	for i := range models {
		inv, err := fromInvoiceModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = inv
	}
	return result, nil
}

// ==================== Processed Event Ledger ====================

func (s *Store) MarkEventProcessed(ctx context.Context, rec *event.Record) error {
	_, err := s.pg.NewInsert(toProcessedEventModel(rec)).
		OnConflict("(event_id) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *Store) GetProcessedEvent(ctx context.Context, eventID string) (*event.Record, error) {
	m := new(processedEventModel)
	err := s.pg.NewSelect(m).
		Where("event_id = $1", eventID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, settle.ErrEventNotFound
		}
		return nil, err
	}
	return fromProcessedEventModel(m), nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicate reports a unique-violation (SQLSTATE 23505).
func isDuplicate(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
