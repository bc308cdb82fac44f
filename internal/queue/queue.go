// Package queue holds the ordered, bounded buffer of operations awaiting
// replay. It owns capacity enforcement, the per-item status transition
// graph, and the flush-after-mutation persistence contract.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"taskrelay/internal/metrics"
	"taskrelay/internal/models"
	"taskrelay/internal/network"
	"taskrelay/internal/schema"
	"taskrelay/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// transitions is the per-item status graph. Anything not listed is
// rejected with ErrInvalidTransition.
var transitions = map[string][]string{
	models.StatusPending:         {models.StatusProcessing},
	models.StatusProcessing:      {models.StatusCompleted, models.StatusFailed, models.StatusNeedsResolution},
	models.StatusFailed:          {models.StatusPending},
	models.StatusNeedsResolution: {models.StatusPending, models.StatusCompleted},
}

func transitionAllowed(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Queue is the live operation buffer for one namespace. All methods are
// safe for concurrent use; every mutation is flushed to the store before
// returning so a crash never loses an acknowledged enqueue.
type Queue struct {
	mu       sync.Mutex
	items    []*models.QueueItem
	settings models.Settings
	lastSync *time.Time

	store   store.Store
	schemas *schema.Registry
	monitor network.Monitor
	logger  *zerolog.Logger
}

// New hydrates the queue from the store. A namespace with no persisted
// state starts empty with default settings.
func New(ctx context.Context, st store.Store, schemas *schema.Registry, monitor network.Monitor, logger *zerolog.Logger) (*Queue, error) {
	q := &Queue{
		settings: models.DefaultSettings(),
		store:    st,
		schemas:  schemas,
		monitor:  monitor,
		logger:   logger,
	}

	snap, err := st.Load(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// fresh namespace
	case err != nil:
		return nil, fmt.Errorf("hydrate queue: %w", err)
	default:
		q.items = snap.Items
		q.lastSync = snap.LastSync
		if snap.Settings != nil {
			q.settings = *snap.Settings
		}
	}

	logger.Info().
		Int("items", len(q.items)).
		Str("conflict_resolution", q.settings.ConflictResolution).
		Msg("queue hydrated")
	q.updateGauges()
	return q, nil
}

// Enqueue buffers a new operation. Rejected while online unless the
// operation type is "sync", and rejected at capacity.
func (q *Queue) Enqueue(ctx context.Context, operation, opType string, data json.RawMessage) (*models.QueueItem, error) {
	if !models.ValidOperationType(opType) {
		return nil, fmt.Errorf("unknown operation type: %q", opType)
	}
	if err := q.schemas.Validate(operation, data); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.monitor.Online() && opType != models.OpSync {
		return nil, models.ErrOnlineEnqueue
	}
	if len(q.items) >= q.settings.MaxQueueSize {
		return nil, models.ErrQueueFull
	}

	now := time.Now().UTC()
	item := &models.QueueItem{
		ID:        uuid.NewString(),
		Operation: operation,
		Type:      opType,
		Data:      append(json.RawMessage(nil), data...),
		Status:    models.StatusPending,
		Timestamp: now,
		UpdatedAt: now,
	}
	q.items = append(q.items, item)

	if err := q.flushLocked(ctx); err != nil {
		// roll back the append so a store outage never admits items the
		// caller was told about
		q.items = q.items[:len(q.items)-1]
		return nil, err
	}

	metrics.IncEnqueued(opType)
	q.updateGaugesLocked()
	q.logger.Debug().Str("item_id", item.ID).Str("operation", operation).Str("type", opType).Msg("operation enqueued")
	return item.Clone(), nil
}

// Transition moves an item along the status graph. lastErr is recorded
// on the item for failed and needs_resolution states. Attempts increase
// only on a transition into failed.
func (q *Queue) Transition(ctx context.Context, id, status, lastErr string) (*models.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := q.findLocked(id)
	if item == nil {
		return nil, models.ErrItemNotFound
	}
	if !transitionAllowed(item.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, item.Status, status)
	}

	prev := *item
	item.Status = status
	item.UpdatedAt = time.Now().UTC()
	switch status {
	case models.StatusFailed:
		item.Attempts++
		item.LastError = lastErr
	case models.StatusNeedsResolution:
		item.LastError = lastErr
	case models.StatusPending:
		item.LastError = ""
		item.Permanent = false
	}

	if err := q.flushLocked(ctx); err != nil {
		*item = prev
		return nil, err
	}

	q.updateGaugesLocked()
	return item.Clone(), nil
}

// Fail moves an item into failed, recording the cause and its retry
// class. The class survives restarts so bulk retry can keep skipping
// permanently rejected items.
func (q *Queue) Fail(ctx context.Context, id string, cause error) (*models.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := q.findLocked(id)
	if item == nil {
		return nil, models.ErrItemNotFound
	}
	if !transitionAllowed(item.Status, models.StatusFailed) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, item.Status, models.StatusFailed)
	}

	prev := *item
	item.Status = models.StatusFailed
	item.UpdatedAt = time.Now().UTC()
	item.Attempts++
	item.LastError = cause.Error()
	item.Permanent = models.IsPermanent(cause)

	if err := q.flushLocked(ctx); err != nil {
		*item = prev
		return nil, err
	}

	q.updateGaugesLocked()
	return item.Clone(), nil
}

// Archive removes a live item and appends it to replay history with the
// given outcome. Used when an item completes, is discarded by conflict
// resolution, or the queue is cleared.
func (q *Queue) Archive(ctx context.Context, id, outcome string, discarded bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := -1
	for i, it := range q.items {
		if it.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.ErrItemNotFound
	}

	item := q.items[idx]
	item.Discarded = discarded
	record := models.HistoryRecord{
		Item:       *item.Clone(),
		ArchivedAt: time.Now().UTC(),
		Outcome:    outcome,
	}

	q.items = append(q.items[:idx], q.items[idx+1:]...)
	if err := q.flushLocked(ctx); err != nil {
		q.items = append(q.items[:idx], append([]*models.QueueItem{item}, q.items[idx:]...)...)
		return err
	}
	if err := q.store.AppendHistory(ctx, []models.HistoryRecord{record}); err != nil {
		// The live queue is already consistent; losing a history record
		// is tolerable, losing a queue flush is not.
		q.logger.Error().Err(err).Str("item_id", id).Msg("append history failed")
	}

	q.updateGaugesLocked()
	return nil
}

// Remove drops a terminal item without archiving it.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, it := range q.items {
		if it.ID != id {
			continue
		}
		if !it.IsTerminal() {
			return fmt.Errorf("%w: status %s", models.ErrInvalidTransition, it.Status)
		}
		removed := it
		q.items = append(q.items[:i], q.items[i+1:]...)
		if err := q.flushLocked(ctx); err != nil {
			q.items = append(q.items[:i], append([]*models.QueueItem{removed}, q.items[i:]...)...)
			return err
		}
		q.updateGaugesLocked()
		return nil
	}
	return models.ErrItemNotFound
}

// Clear empties the queue, archiving every live item as cleared.
// Returns the number of removed items.
func (q *Queue) Clear(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	records := make([]models.HistoryRecord, 0, len(q.items))
	for _, it := range q.items {
		records = append(records, models.HistoryRecord{
			Item:       *it.Clone(),
			ArchivedAt: now,
			Outcome:    models.OutcomeCleared,
		})
	}

	prev := q.items
	q.items = nil
	if err := q.flushLocked(ctx); err != nil {
		q.items = prev
		return 0, err
	}
	if err := q.store.AppendHistory(ctx, records); err != nil {
		q.logger.Error().Err(err).Int("records", len(records)).Msg("append history failed")
	}

	q.updateGaugesLocked()
	q.logger.Info().Int("removed", len(prev)).Msg("queue cleared")
	return len(prev), nil
}

// Get returns a copy of one item.
func (q *Queue) Get(id string) (*models.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item := q.findLocked(id); item != nil {
		return item.Clone(), nil
	}
	return nil, models.ErrItemNotFound
}

// Items returns copies of all live items in insertion order.
func (q *Queue) Items() []*models.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*models.QueueItem, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it.Clone())
	}
	return out
}

// ItemsByStatus returns the ordered subset of items in the given status.
func (q *Queue) ItemsByStatus(status string) ([]*models.QueueItem, error) {
	if !models.ValidStatus(status) {
		return nil, fmt.Errorf("unknown status: %q", status)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*models.QueueItem
	for _, it := range q.items {
		if it.Status == status {
			out = append(out, it.Clone())
		}
	}
	return out, nil
}

// PendingIDs returns the ids of pending items in FIFO order.
func (q *Queue) PendingIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []string
	for _, it := range q.items {
		if it.Status == models.StatusPending {
			out = append(out, it.ID)
		}
	}
	return out
}

// Len returns the live item count.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PendingChanges counts non-terminal items.
func (q *Queue) PendingChanges() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingChangesLocked()
}

func (q *Queue) pendingChangesLocked() int {
	n := 0
	for _, it := range q.items {
		if !it.IsTerminal() {
			n++
		}
	}
	return n
}

// Stats aggregates item counts by status.
func (q *Queue) Stats() models.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := models.QueueStats{TotalItems: len(q.items)}
	for _, it := range q.items {
		switch it.Status {
		case models.StatusPending:
			stats.PendingItems++
		case models.StatusProcessing:
			stats.ProcessingItems++
		case models.StatusCompleted:
			stats.CompletedItems++
		case models.StatusFailed:
			stats.FailedItems++
		case models.StatusNeedsResolution:
			stats.NeedsResolutionItems++
		}
	}
	return stats
}

// Settings returns the current settings.
func (q *Queue) Settings() models.Settings {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.settings
}

// UpdateSettings validates and persists new settings.
func (q *Queue) UpdateSettings(ctx context.Context, s models.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	prev := q.settings
	q.settings = s
	if err := q.flushLocked(ctx); err != nil {
		q.settings = prev
		return err
	}
	q.logger.Info().Str("conflict_resolution", s.ConflictResolution).Int("max_queue_size", s.MaxQueueSize).Msg("settings updated")
	return nil
}

// LastSync returns the time of the last completed pass, nil if none.
func (q *Queue) LastSync() *time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.lastSync == nil {
		return nil
	}
	t := *q.lastSync
	return &t
}

// SetLastSync records the completion time of a pass.
func (q *Queue) SetLastSync(ctx context.Context, t time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.SaveLastSync(ctx, t); err != nil {
		return fmt.Errorf("save last sync: %w", err)
	}
	q.lastSync = &t
	return nil
}

// History returns up to limit archived records, newest first.
func (q *Queue) History(ctx context.Context, limit int) ([]models.HistoryRecord, error) {
	return q.store.History(ctx, limit)
}

// PurgeHistory drops archived records older than the retention window.
func (q *Queue) PurgeHistory(ctx context.Context, cutoff time.Time) (int, error) {
	return q.store.PurgeHistory(ctx, cutoff)
}

// Flush persists the current state. Called once more on shutdown.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flushLocked(ctx)
}

func (q *Queue) findLocked(id string) *models.QueueItem {
	for _, it := range q.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

func (q *Queue) flushLocked(ctx context.Context) error {
	if err := q.store.Save(ctx, q.items, q.settings); err != nil {
		return fmt.Errorf("flush queue: %w", err)
	}
	return nil
}

func (q *Queue) updateGauges() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.updateGaugesLocked()
}

func (q *Queue) updateGaugesLocked() {
	metrics.SetQueueDepth(len(q.items))
	metrics.SetPendingChanges(q.pendingChangesLocked())
}
