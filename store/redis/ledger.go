// Package redis provides a processed-event ledger backed by Redis.
//
// It lets several engine replicas share one view of which webhook events have
// been handled while subscriptions and invoices stay in a SQL or document
// store. Entries expire after the TTL; the processor stops redelivering an
// event long before that.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/settle"
	"github.com/xraph/settle/event"
)

const (
	// DefaultPrefix namespaces ledger keys.
	DefaultPrefix = "settle:event:"
	// DefaultTTL is how long a processed event is remembered.
	DefaultTTL = 7 * 24 * time.Hour
)

var _ event.Ledger = (*Ledger)(nil)

// Client is the subset of go-redis client methods the ledger uses.
type Client interface {
	Ping(ctx context.Context) *goredis.StatusCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd
	Close() error
}

// Config holds connection settings for NewFromConfig.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Ledger implements event.Ledger with SET NX.
type Ledger struct {
	client Client
	prefix string
	ttl    time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(l *Ledger) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// New creates a Ledger over an existing client. Close closes the client.
func New(client Client, opts ...Option) *Ledger {
	l := &Ledger{
		client: client,
		prefix: DefaultPrefix,
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewFromConfig connects to Redis and verifies the connection with PING.
func NewFromConfig(ctx context.Context, cfg Config) (*Ledger, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("settle/redis: ping %s: %w", cfg.Addr, err)
	}
	return New(client, WithPrefix(cfg.Prefix), WithTTL(cfg.TTL)), nil
}

// MarkEventProcessed records rec unless its event id is already present.
func (l *Ledger) MarkEventProcessed(ctx context.Context, rec *event.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("settle/redis: encode record: %w", err)
	}
	if err := l.client.SetNX(ctx, l.key(rec.EventID), raw, l.ttl).Err(); err != nil {
		return fmt.Errorf("settle/redis: mark %s: %w", rec.EventID, err)
	}
	return nil
}

// GetProcessedEvent returns the record for eventID, or settle.ErrEventNotFound.
func (l *Ledger) GetProcessedEvent(ctx context.Context, eventID string) (*event.Record, error) {
	raw, err := l.client.Get(ctx, l.key(eventID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, settle.ErrEventNotFound
		}
		return nil, fmt.Errorf("settle/redis: get %s: %w", eventID, err)
	}

	var rec event.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("settle/redis: decode %s: %w", eventID, err)
	}
	return &rec, nil
}

// Ping checks connectivity.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the client.
func (l *Ledger) Close() error {
	return l.client.Close()
}

func (l *Ledger) key(eventID string) string {
	return l.prefix + eventID
}
