// Package offline is the public surface of the sync engine. Everything
// the application does with the queue goes through the Facade; the
// queue, engine and monitor behind it are constructor dependencies.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"taskrelay/internal/engine"
	"taskrelay/internal/events"
	"taskrelay/internal/models"
	"taskrelay/internal/network"
	"taskrelay/internal/queue"
	"taskrelay/internal/report"
	"taskrelay/internal/store/rediscache"

	"github.com/rs/zerolog"
)

// EnqueueResult identifies a buffered operation.
type EnqueueResult struct {
	ID string `json:"id"`
}

// ProcessResult reports one explicit queue pass.
type ProcessResult struct {
	ProcessedCount int `json:"processed_count"`
}

// RetryResult reports a bulk retry.
type RetryResult struct {
	Success      bool `json:"success"`
	RetriedCount int  `json:"retried_count"`
}

// Facade exposes the offline queue to the application layer. Local
// precondition failures (capacity, wrong network state, unknown id)
// come back as the sentinel errors in the models package so callers can
// map them to inline feedback.
type Facade struct {
	queue   *queue.Queue
	engine  *engine.Engine
	monitor network.Monitor
	bus     *events.EventBus
	mirror  *rediscache.Mirror // optional
	logger  *zerolog.Logger

	mu      sync.Mutex
	lastErr string
}

func New(q *queue.Queue, eng *engine.Engine, monitor network.Monitor, bus *events.EventBus, mirror *rediscache.Mirror, logger *zerolog.Logger) *Facade {
	return &Facade{
		queue:   q,
		engine:  eng,
		monitor: monitor,
		bus:     bus,
		mirror:  mirror,
		logger:  logger,
	}
}

// EnqueueOperation buffers a mutation for later replay. Only "sync"
// operations are accepted while online.
func (f *Facade) EnqueueOperation(ctx context.Context, operation, opType string, data json.RawMessage) (*EnqueueResult, error) {
	item, err := f.queue.Enqueue(ctx, operation, opType, data)
	if err != nil {
		return nil, err
	}
	f.publishMirror(ctx)
	return &EnqueueResult{ID: item.ID}, nil
}

// ProcessOfflineQueue drains pending items now. Fails fast when offline.
func (f *Facade) ProcessOfflineQueue(ctx context.Context) (*ProcessResult, error) {
	n, err := f.engine.ProcessQueue(ctx)
	f.recordErr(err)
	if err != nil {
		return nil, err
	}
	f.publishMirror(ctx)
	return &ProcessResult{ProcessedCount: n}, nil
}

// GetOfflineState snapshots the engine state for status indicators.
func (f *Facade) GetOfflineState() models.OfflineStatus {
	f.mu.Lock()
	lastErr := f.lastErr
	f.mu.Unlock()

	return models.OfflineStatus{
		IsOffline:      !f.monitor.Online(),
		PendingChanges: f.queue.PendingChanges(),
		QueueLength:    f.queue.Len(),
		LastSync:       f.queue.LastSync(),
		Error:          lastErr,
	}
}

// GetQueueStats counts live items by status.
func (f *Facade) GetQueueStats() models.QueueStats {
	return f.queue.Stats()
}

// GetQueueItemsByStatus returns the ordered filtered view.
func (f *Facade) GetQueueItemsByStatus(status string) ([]*models.QueueItem, error) {
	return f.queue.ItemsByStatus(status)
}

// RetryQueueItem resets one failed item and replays it when online.
func (f *Facade) RetryQueueItem(ctx context.Context, id string) error {
	if err := f.engine.RetryItem(ctx, id); err != nil {
		return err
	}
	f.publishMirror(ctx)
	return nil
}

// RetryFailedItems resets every eligible failed item to pending.
func (f *Facade) RetryFailedItems(ctx context.Context) (*RetryResult, error) {
	n, err := f.engine.RetryFailedItems(ctx)
	if err != nil {
		return &RetryResult{RetriedCount: n}, err
	}
	f.publishMirror(ctx)
	return &RetryResult{Success: true, RetriedCount: n}, nil
}

// ResolveQueueItem settles a parked conflict: apply the local write or
// discard it in favor of the server state.
func (f *Facade) ResolveQueueItem(ctx context.Context, id string, apply bool) error {
	if err := f.engine.ResolveItem(ctx, id, apply); err != nil {
		return err
	}
	f.publishMirror(ctx)
	return nil
}

// ClearAllQueueItems empties the queue and resets counters.
func (f *Facade) ClearAllQueueItems(ctx context.Context) (int, error) {
	n, err := f.queue.Clear(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		_ = f.bus.PublishJSON(events.EventQueueCleared, events.QueueCleared{
			Removed:   n,
			ClearedAt: time.Now().UTC(),
		})
	}
	f.publishMirror(ctx)
	return n, nil
}

// SimulateNetworkChange forces a network transition, exercising the
// same auto-sync path a real reconnect does. Only works with monitors
// whose state can be forced.
func (f *Facade) SimulateNetworkChange(online bool) error {
	sw, ok := f.monitor.(network.Switchable)
	if !ok {
		return fmt.Errorf("network monitor %T does not support forced transitions", f.monitor)
	}
	f.logger.Info().Bool("online", online).Msg("simulated network change")
	sw.SetOnline(online)
	return nil
}

// Settings returns the current queue settings.
func (f *Facade) Settings() models.Settings {
	return f.queue.Settings()
}

// UpdateSettings validates and persists new queue settings.
func (f *Facade) UpdateSettings(ctx context.Context, s models.Settings) error {
	return f.queue.UpdateSettings(ctx, s)
}

// History returns up to limit archived records, newest first.
func (f *Facade) History(ctx context.Context, limit int) ([]models.HistoryRecord, error) {
	return f.queue.History(ctx, limit)
}

// ExportReport renders the operator workbook of stuck items: failed
// operations and parked conflicts, plus recent history.
func (f *Facade) ExportReport(ctx context.Context) ([]byte, error) {
	failed, err := f.queue.ItemsByStatus(models.StatusFailed)
	if err != nil {
		return nil, err
	}
	parked, err := f.queue.ItemsByStatus(models.StatusNeedsResolution)
	if err != nil {
		return nil, err
	}
	history, err := f.queue.History(ctx, 200)
	if err != nil {
		return nil, err
	}

	wb, err := report.Generate(append(failed, parked...), history)
	if err != nil {
		return nil, fmt.Errorf("build report: %w", err)
	}
	return report.Encode(wb)
}

// Close stops auto-sync and flushes the queue one final time.
func (f *Facade) Close(ctx context.Context) error {
	f.engine.Stop()
	if err := f.queue.Flush(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	f.logger.Info().Msg("offline facade closed")
	return nil
}

func (f *Facade) recordErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.lastErr = err.Error()
	} else {
		f.lastErr = ""
	}
}

func (f *Facade) publishMirror(ctx context.Context) {
	if f.mirror == nil {
		return
	}
	if err := f.mirror.Publish(ctx, f.queue.Items(), f.queue.Stats()); err != nil {
		f.logger.Warn().Err(err).Msg("mirror publish failed")
	}
}
