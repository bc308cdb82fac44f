// Package store provides durable persistence for the offline queue:
// sqlite and bolt backends, an in-memory backend for tests and embedded
// hosts, and a failover wrapper pairing a durable primary with a memory
// fallback.
package store

import (
	"context"
	"errors"
	"time"

	"taskrelay/internal/models"
)

// ErrNotFound is returned when a namespace has no persisted state yet.
var ErrNotFound = errors.New("store: not found")

// Snapshot is the persisted engine state for one namespace.
type Snapshot struct {
	Items    []*models.QueueItem
	Settings *models.Settings // nil when never saved
	LastSync *time.Time       // nil when no pass has completed
}

// Store persists queue contents, settings and replay history. The queue
// is flushed whole after every mutating operation, so Save replaces the
// namespace's items atomically.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, items []*models.QueueItem, settings models.Settings) error
	SaveLastSync(ctx context.Context, t time.Time) error

	AppendHistory(ctx context.Context, records []models.HistoryRecord) error
	History(ctx context.Context, limit int) ([]models.HistoryRecord, error)
	// PurgeHistory drops history records archived before cutoff and
	// returns how many were removed.
	PurgeHistory(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}
