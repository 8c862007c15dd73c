// Package eventstore records the history of orchestrator runs: every state
// transition and terminal outcome is appended as an event so past runs can be
// listed after their process record has been deleted.
package eventstore

import (
	"context"
	"time"
)

// Store is an append-only log of run events.
type Store interface {
	Append(ctx context.Context, e Event) error
	// GetByRunID returns one run's events in append order.
	GetByRunID(ctx context.Context, runID string) ([]Event, error)
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)
	Close() error
}
