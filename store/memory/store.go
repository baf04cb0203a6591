// Package memory provides an in-memory store for tests and single-process
// deployments.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/xraph/settle"
	"github.com/xraph/settle/event"
	"github.com/xraph/settle/invoice"
	"github.com/xraph/settle/store"
	"github.com/xraph/settle/subscription"
)

var _ store.Store = (*Store)(nil)

type storedSubscription struct {
	sub *subscription.Subscription
	seq int64
}

type Store struct {
	mu  sync.RWMutex
	seq int64

	// Subscription storage, keyed by external subscription ref
	subscriptions map[string]storedSubscription

	// Invoice storage, keyed by external invoice ref
	invoices map[string]*invoice.Invoice

	// Processed event ledger, keyed by event id
	events map[string]*event.Record
}

func New() *Store {
	return &Store{
		subscriptions: make(map[string]storedSubscription),
		invoices:      make(map[string]*invoice.Invoice),
		events:        make(map[string]*event.Record),
	}
}

// ──────────────────────────────────────────────────
// Subscription Store
// ──────────────────────────────────────────────────

func (s *Store) UpsertSubscription(_ context.Context, sub *subscription.Subscription, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := sub.ExternalSubscriptionRef
	existing, exists := s.subscriptions[ref]

	if expectedVersion == 0 {
		if exists {
			return settle.ErrAlreadyExists
		}
		s.seq++
		sub.Version = 1
		s.subscriptions[ref] = storedSubscription{sub: sub.Clone(), seq: s.seq}
		return nil
	}

	if !exists || existing.sub.Version != expectedVersion {
		return settle.ErrConflict
	}
	sub.Version = expectedVersion + 1
	s.subscriptions[ref] = storedSubscription{sub: sub.Clone(), seq: existing.seq}
	return nil
}

func (s *Store) GetSubscriptionByRef(_ context.Context, ref string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.subscriptions[ref]; ok {
		return e.sub.Clone(), nil
	}
	return nil, settle.ErrSubscriptionNotFound
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

func (s *Store) LatestSubscriptionByCustomer(_ context.Context, customerRef string) (*subscription.Subscription, error) {
	if customerRef == "" {
		return nil, settle.ErrSubscriptionNotFound
	}
	matches := s.filter(func(sub *subscription.Subscription) bool {
		return sub.ExternalCustomerRef == customerRef
	})
	if len(matches) == 0 {
		return nil, settle.ErrSubscriptionNotFound
	}
	return matches[0], nil
}

// ListSubscriptionsByOwner returns the owner's subscriptions, newest first.
func (s *Store) ListSubscriptionsByOwner(_ context.Context, ownerID string) ([]*subscription.Subscription, error) {
	if ownerID == "" {
		return []*subscription.Subscription{}, nil
	}
	return s.filter(func(sub *subscription.Subscription) bool {
		return sub.OwnerID == ownerID
	}), nil
}

func (s *Store) filter(match func(*subscription.Subscription) bool) []*subscription.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]storedSubscription, 0)
	for _, e := range s.subscriptions {
		if match(e.sub) {
			entries = append(entries, e)
		}
	}
	slices.SortFunc(entries, func(a, b storedSubscription) int {
		if c := b.sub.CreatedAt.Compare(a.sub.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})

	result := make([]*subscription.Subscription, len(entries))
	for i, e := range entries {
		result[i] = e.sub.Clone()
	}
	return result
}

// ──────────────────────────────────────────────────
// Invoice Store
// ──────────────────────────────────────────────────

func (s *Store) UpsertInvoice(_ context.Context, inv *invoice.Invoice, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := inv.ExternalInvoiceRef
	existing, exists := s.invoices[ref]

	if expectedVersion == 0 {
		if exists {
			return settle.ErrAlreadyExists
		}
		inv.Version = 1
		s.invoices[ref] = inv.Clone()
		return nil
	}

	if !exists || existing.Version != expectedVersion {
		return settle.ErrConflict
	}
	inv.Version = expectedVersion + 1
	s.invoices[ref] = inv.Clone()
	return nil
}

func (s *Store) GetInvoiceByRef(_ context.Context, ref string) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if inv, ok := s.invoices[ref]; ok {
		return inv.Clone(), nil
	}
	return nil, settle.ErrInvoiceNotFound
}

// ListInvoicesBySubscription returns the subscription's invoices, newest first.
func (s *Store) ListInvoicesBySubscription(_ context.Context, subscriptionRef string) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*invoice.Invoice, 0)
	for _, inv := range s.invoices {
		if inv.SubscriptionRef == subscriptionRef {
			result = append(result, inv.Clone())
		}
	}
	slices.SortFunc(result, func(a, b *invoice.Invoice) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ExternalInvoiceRef, a.ExternalInvoiceRef)
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// Processed event ledger
// ──────────────────────────────────────────────────

func (s *Store) MarkEventProcessed(_ context.Context, rec *event.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[rec.EventID]; exists {
		return nil
	}
	r := *rec
	s.events[rec.EventID] = &r
	return nil
}

func (s *Store) GetProcessedEvent(_ context.Context, eventID string) (*event.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.events[eventID]; ok {
		out := *r
		return &out, nil
	}
	return nil, settle.ErrEventNotFound
}

// ──────────────────────────────────────────────────
// Core methods
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }
