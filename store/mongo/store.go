package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/settle"
	"github.com/xraph/settle/event"
	"github.com/xraph/settle/invoice"
	settlestore "github.com/xraph/settle/store"
	"github.com/xraph/settle/subscription"
)

// Collection name constants.
const (
	colSubscriptions   = "settle_subscriptions"
	colInvoices        = "settle_invoices"
	colProcessedEvents = "settle_processed_events"
)

// compile-time interface check
var _ settlestore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all settle collections. The unique indexes on
// the external references are what turn a racing insert into a
// duplicate-key error.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%w: mongo %s indexes: %w", settle.ErrMigrationFailed, col, err)
		}
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
		if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return settle.ErrAlreadyExists
			}
			return fmt.Errorf("settle/mongo: insert subscription: %w", err)
		}
		sub.Version = m.Version
		return nil
	}

	m.Version = expectedVersion + 1
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{
			"external_subscription_ref": m.ExternalSubscriptionRef,
			"version":                   expectedVersion,
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("settle/mongo: update subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
		return settle.ErrConflict
	}
	sub.Version = m.Version
	return nil
}

func (s *Store) GetSubscriptionByRef(ctx context.Context, ref string) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"external_subscription_ref": ref}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, settle.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("settle/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) LatestSubscriptionByOwner(ctx context.Context, ownerID string) (*subscription.Subscription, error) {
	if ownerID == "" {
		return nil, settle.ErrSubscriptionNotFound
	}
	return s.latestSubscription(ctx, bson.M{"owner_id": ownerID})
}

func (s *Store) LatestSubscriptionByCustomer(ctx context.Context, customerRef string) (*subscription.Subscription, error) {
	if customerRef == "" {
		return nil, settle.ErrSubscriptionNotFound
	}
	return s.latestSubscription(ctx, bson.M{"external_customer_ref": customerRef})
}

func (s *Store) latestSubscription(ctx context.Context, filter bson.M) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(filter).
		Sort(newestFirst).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, settle.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("settle/mongo: latest subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) ListSubscriptionsByOwner(ctx context.Context, ownerID string) ([]*subscription.Subscription, error) {
	if ownerID == "" {
		return []*subscription.Subscription{}, nil
	}

	var models []subscriptionModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"owner_id": ownerID}).
		Sort(newestFirst).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("settle/mongo: list subscriptions: %w", err)
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
		if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return settle.ErrAlreadyExists
			}
			return fmt.Errorf("settle/mongo: insert invoice: %w", err)
		}
		inv.Version = m.Version
		return nil
	}

	m.Version = expectedVersion + 1
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{
			"external_invoice_ref": m.ExternalInvoiceRef,
			"version":              expectedVersion,
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("settle/mongo: update invoice: %w", err)
	}
	if res.MatchedCount() == 0 {
		return settle.ErrConflict
	}
	inv.Version = m.Version
	return nil
}

func (s *Store) GetInvoiceByRef(ctx context.Context, ref string) (*invoice.Invoice, error) {
	var m invoiceModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"external_invoice_ref": ref}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, settle.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("settle/mongo: get invoice: %w", err)
	}
	return fromInvoiceModel(&m)
}

func (s *Store) ListInvoicesBySubscription(ctx context.Context, subscriptionRef string) ([]*invoice.Invoice, error) {
	var models []invoiceModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"subscription_ref": subscriptionRef}).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "external_invoice_ref", Value: -1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("settle/mongo: list invoices: %w", err)
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
	_, err := s.mdb.NewInsert(toProcessedEventModel(rec)).Exec(ctx)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("settle/mongo: mark event processed: %w", err)
	}
	return nil
}

func (s *Store) GetProcessedEvent(ctx context.Context, eventID string) (*event.Record, error) {
	var m processedEventModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": eventID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, settle.ErrEventNotFound
		}
		return nil, fmt.Errorf("settle/mongo: get processed event: %w", err)
	}
	return fromProcessedEventModel(&m), nil
}

// ==================== Helpers ====================

var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all settle collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colSubscriptions: {
			{
				Keys:    bson.D{{Key: "external_subscription_ref", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "external_customer_ref", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colInvoices: {
			{
				Keys:    bson.D{{Key: "external_invoice_ref", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "subscription_ref", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colProcessedEvents: {},
	}
}
