package event

import (
	"context"
	"time"
)

// Outcome is how the engine finished with an event.
type Outcome string

const (
	OutcomeProcessed     Outcome = "processed"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeStale         Outcome = "stale"
	OutcomeUnprocessable Outcome = "unprocessable"
)

// Record marks an event id as done.
type Record struct {
	EventID     string    `json:"event_id"`
	Kind        Kind      `json:"kind"`
	Outcome     Outcome   `json:"outcome"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Ledger remembers which events have been fully handled, so a redelivery can
// be acknowledged without running its handler again.
//
// MarkEventProcessed is insert-if-absent: marking an id twice is not an
// error and keeps the first record. GetProcessedEvent returns a not-found
// error for unknown ids.
type Ledger interface {
	MarkEventProcessed(ctx context.Context, rec *Record) error
	GetProcessedEvent(ctx context.Context, eventID string) (*Record, error)
}
