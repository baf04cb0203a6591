package subscription

import "context"

// Store persists subscriptions keyed by ExternalSubscriptionRef.
//
// UpsertSubscription is the only write. With expectedVersion 0 it inserts and
// fails with an already-exists error when the reference is taken. Otherwise
// it replaces the stored record only if its version still equals
// expectedVersion, failing with a conflict error when it does not. On success
// s.Version holds the new version.
type Store interface {
	UpsertSubscription(ctx context.Context, s *Subscription, expectedVersion int64) error
	GetSubscriptionByRef(ctx context.Context, ref string) (*Subscription, error)
	LatestSubscriptionByOwner(ctx context.Context, ownerID string) (*Subscription, error)
	LatestSubscriptionByCustomer(ctx context.Context, customerRef string) (*Subscription, error)
	ListSubscriptionsByOwner(ctx context.Context, ownerID string) ([]*Subscription, error)
}
