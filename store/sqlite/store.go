package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/settle"
	"github.com/xraph/settle/event"
	"github.com/xraph/settle/invoice"
	settlestore "github.com/xraph/settle/store"
	"github.com/xraph/settle/subscription"
)

// compile-time interface check
var _ settlestore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("settle/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: sqlite: %w", settle.ErrMigrationFailed, err)
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
		if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return settle.ErrAlreadyExists
			}
			return err
		}
		sub.Version = m.Version
		return nil
	}

	m.Version = expectedVersion + 1
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("external_customer_ref = ?", m.ExternalCustomerRef).
		Set("external_price_ref = ?", m.ExternalPriceRef).
		Set("owner_id = ?", m.OwnerID).
		Set("tier = ?", m.Tier).
		Set("status = ?", m.Status).
		Set("billing_period = ?", m.BillingPeriod).
		Set("current_period_start = ?", m.CurrentPeriodStart).
		Set("current_period_end = ?", m.CurrentPeriodEnd).
		Set("cancel_at_period_end = ?", m.CancelAtPeriodEnd).
		Set("canceled_at = ?", m.CanceledAt).
		Set("trial_start = ?", m.TrialStart).
		Set("trial_end = ?", m.TrialEnd).
		Set("last_event_at = ?", m.LastEventAt).
		Set("started_at = ?", m.StartedAt).
		Set("metadata = ?", m.Metadata).
		Set("updated_at = ?", m.UpdatedAt).
		Set("version = ?", m.Version).
		Where("external_subscription_ref = ?", m.ExternalSubscriptionRef).
		Where("version = ?", expectedVersion).
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
	err := s.sdb.NewSelect(m).
		Where("external_subscription_ref = ?", ref).
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
	subs, err := s.ListSubscriptionsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, settle.ErrSubscriptionNotFound
	}
	return subs[0], nil
}

func (s *Store) LatestSubscriptionByCustomer(ctx context.Context, customerRef string) (*subscription.Subscription, error) {
	if customerRef == "" {
		return nil, settle.ErrSubscriptionNotFound
	}
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("external_customer_ref = ?", customerRef).
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
	err := s.sdb.NewSelect(&models).
		Where("owner_id = ?", ownerID).
		OrderExpr("created_at DESC, id DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, 0, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, nil
}

// ==================== Invoice Store ====================

func (s *Store) UpsertInvoice(ctx context.Context, inv *invoice.Invoice, expectedVersion int64) error {
	m := toInvoiceModel(inv)

	if expectedVersion == 0 {
		m.Version = 1
		if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return settle.ErrAlreadyExists
			}
			return err
		}
		inv.Version = m.Version
		return nil
	}

	m.Version = expectedVersion + 1
	res, err := s.sdb.NewUpdate((*invoiceModel)(nil)).
		Set("subscription_ref = ?", m.SubscriptionRef).
		Set("owner_id = ?", m.OwnerID).
		Set("amount = ?", m.Amount).
		Set("currency = ?", m.Currency).
		Set("status = ?", m.Status).
		Set("paid_at = ?", m.PaidAt).
		Set("due_date = ?", m.DueDate).
		Set("document_url = ?", m.DocumentURL).
		Set("updated_at = ?", m.UpdatedAt).
		Set("version = ?", m.Version).
		Where("external_invoice_ref = ?", m.ExternalInvoiceRef).
		Where("version = ?", expectedVersion).
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
	err := s.sdb.NewSelect(m).
		Where("external_invoice_ref = ?", ref).
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
	err := s.sdb.NewSelect(&models).
		Where("subscription_ref = ?", subscriptionRef).
		OrderExpr("created_at DESC, external_invoice_ref DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*invoice.Invoice, 0, len(models))
	for i := range models {
		inv, err := fromInvoiceModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	return result, nil
}

// ==================== Processed Event Ledger ====================

func (s *Store) MarkEventProcessed(ctx context.Context, rec *event.Record) error {
	_, err := s.sdb.NewInsert(toProcessedEventModel(rec)).
		OnConflict("(event_id) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *Store) GetProcessedEvent(ctx context.Context, eventID string) (*event.Record, error) {
	m := new(processedEventModel)
	err := s.sdb.NewSelect(m).
		Where("event_id = ?", eventID).
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

// isUniqueViolation checks if an error is a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
