// Package engine drains the offline queue against the remote API,
// orchestrating retries, conflict resolution and auto-sync triggers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"taskrelay/internal/conflict"
	"taskrelay/internal/events"
	"taskrelay/internal/metrics"
	"taskrelay/internal/models"
	"taskrelay/internal/network"
	"taskrelay/internal/queue"
	"taskrelay/internal/remote"

	"github.com/rs/zerolog"
)

// Replay outcome labels for the processed counter.
const (
	resultCompleted = "completed"
	resultFailed    = "failed"
	resultConflict  = "conflict"
	resultSkipped   = "skipped"
)

// Engine replays pending operations in FIFO order. At most one pass
// runs at a time; triggers arriving mid-pass are dropped.
type Engine struct {
	queue    *queue.Queue
	api      remote.API
	resolver *conflict.Resolver
	monitor  network.Monitor
	bus      *events.EventBus
	logger   *zerolog.Logger

	isProcessing atomic.Bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

func New(q *queue.Queue, api remote.API, resolver *conflict.Resolver, monitor network.Monitor, bus *events.EventBus, logger *zerolog.Logger) *Engine {
	return &Engine{
		queue:    q,
		api:      api,
		resolver: resolver,
		monitor:  monitor,
		bus:      bus,
		logger:   logger,
	}
}

// Start wires the reconnect trigger and the periodic auto-sync timer.
// Both respect the settings in effect when they fire.
func (e *Engine) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.monitor.Subscribe(func(online bool) {
		if !online || runCtx.Err() != nil {
			return
		}
		s := e.queue.Settings()
		if !s.AutoSyncEnabled || !s.SyncOnReconnect {
			return
		}
		e.logger.Info().Msg("reconnected, draining queue")
		if _, err := e.ProcessQueue(runCtx); err != nil && !errors.Is(err, models.ErrOfflineProcessing) {
			e.logger.Error().Err(err).Msg("reconnect sync failed")
		}
	})

	e.wg.Add(1)
	go e.runTimer(runCtx)
}

// Stop cancels the auto-sync timer. The current pass, if any, runs to
// completion; there is no mid-item cancellation.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) runTimer(ctx context.Context) {
	defer e.wg.Done()

	for {
		// Re-read the interval each cycle so settings updates take
		// effect without a restart.
		interval := e.queue.Settings().SyncInterval
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		s := e.queue.Settings()
		if !s.AutoSyncEnabled || !e.monitor.Online() {
			continue
		}
		if _, err := e.ProcessQueue(ctx); err != nil && !errors.Is(err, models.ErrOfflineProcessing) {
			e.logger.Error().Err(err).Msg("periodic sync failed")
		}
	}
}

// ProcessQueue replays pending items strictly in FIFO order, one at a
// time. A single item's failure never aborts the pass. Returns how many
// items completed. A trigger while another pass is in flight is a no-op.
func (e *Engine) ProcessQueue(ctx context.Context) (int, error) {
	if !e.monitor.Online() {
		return 0, models.ErrOfflineProcessing
	}
	if !e.isProcessing.CompareAndSwap(false, true) {
		e.logger.Debug().Msg("pass already in flight, trigger dropped")
		return 0, nil
	}
	defer e.isProcessing.Store(false)

	settings := e.queue.Settings()
	pending := e.queue.PendingIDs()
	summary := events.SyncSummary{}

	e.logger.Info().Int("pending", len(pending)).Msg("queue pass started")

	for i, id := range pending {
		if !e.monitor.Online() {
			summary.Skipped += len(pending) - i
			e.logger.Warn().Int("skipped", len(pending)-i).Msg("connectivity lost mid-pass")
			break
		}

		item, err := e.queue.Transition(ctx, id, models.StatusProcessing, "")
		if err != nil {
			// Removed or resolved since the snapshot was taken.
			summary.Skipped++
			metrics.IncProcessed(resultSkipped)
			continue
		}

		e.processItem(ctx, settings, item, &summary)
	}

	now := time.Now().UTC()
	if err := e.queue.SetLastSync(ctx, now); err != nil {
		e.logger.Error().Err(err).Msg("record last sync failed")
	}
	e.sweepHistory(ctx, settings, now)

	summary.FinishedAt = now
	if err := e.bus.PublishJSON(events.EventSyncFinished, summary); err != nil {
		e.logger.Error().Err(err).Msg("publish sync summary failed")
	}
	e.logger.Info().
		Int("processed", summary.Processed).
		Int("failed", summary.Failed).
		Int("conflicts", summary.Conflicts).
		Int("skipped", summary.Skipped).
		Msg("queue pass finished")

	return summary.Processed, nil
}

func (e *Engine) processItem(ctx context.Context, settings models.Settings, item *models.QueueItem, summary *events.SyncSummary) {
	res, err := e.api.Execute(ctx, item, false)
	if err != nil {
		e.failItem(ctx, item, err)
		summary.Failed++
		return
	}

	if res.Conflict {
		summary.Conflicts++
		resolution, err := e.resolver.Resolve(settings.ConflictResolution, item, res)
		if err != nil {
			e.failItem(ctx, item, err)
			summary.Failed++
			return
		}

		switch {
		case resolution.RequiresManual:
			e.parkItem(ctx, item, resolution.Reason)
			return
		case resolution.Discard:
			e.completeItem(ctx, item, true)
			summary.Processed++
			return
		default: // apply: replay with force, overwriting server state
			if _, err := e.api.Execute(ctx, item, true); err != nil {
				e.failItem(ctx, item, err)
				summary.Failed++
				return
			}
		}
	}

	e.completeItem(ctx, item, false)
	summary.Processed++
}

func (e *Engine) completeItem(ctx context.Context, item *models.QueueItem, discarded bool) {
	if _, err := e.queue.Transition(ctx, item.ID, models.StatusCompleted, ""); err != nil {
		e.logger.Error().Err(err).Str("item_id", item.ID).Msg("complete transition failed")
		return
	}
	outcome := models.OutcomeCompleted
	if discarded {
		outcome = models.OutcomeDiscarded
	}
	if err := e.queue.Archive(ctx, item.ID, outcome, discarded); err != nil {
		e.logger.Error().Err(err).Str("item_id", item.ID).Msg("archive failed")
	}

	metrics.IncProcessed(resultCompleted)
	_ = e.bus.PublishJSON(events.EventOperationCompleted, events.OperationOutcome{
		ItemID:    item.ID,
		Operation: item.Operation,
		Type:      item.Type,
		Attempts:  item.Attempts,
		Discarded: discarded,
	})
}

func (e *Engine) failItem(ctx context.Context, item *models.QueueItem, cause error) {
	updated, err := e.queue.Fail(ctx, item.ID, cause)
	if err != nil {
		e.logger.Error().Err(err).Str("item_id", item.ID).Msg("fail transition failed")
		return
	}
	e.logger.Warn().
		Str("item_id", item.ID).
		Str("operation", item.Operation).
		Int("attempts", updated.Attempts).
		Err(cause).
		Msg("operation failed")

	metrics.IncProcessed(resultFailed)
	_ = e.bus.PublishJSON(events.EventOperationFailed, events.OperationOutcome{
		ItemID:    item.ID,
		Operation: item.Operation,
		Type:      item.Type,
		Attempts:  updated.Attempts,
		Error:     cause.Error(),
	})
}

func (e *Engine) parkItem(ctx context.Context, item *models.QueueItem, reason string) {
	if _, err := e.queue.Transition(ctx, item.ID, models.StatusNeedsResolution, "version conflict: "+reason); err != nil {
		e.logger.Error().Err(err).Str("item_id", item.ID).Msg("park transition failed")
		return
	}

	metrics.IncProcessed(resultConflict)
	_ = e.bus.PublishJSON(events.EventOperationConflicted, events.OperationOutcome{
		ItemID:    item.ID,
		Operation: item.Operation,
		Type:      item.Type,
		Attempts:  item.Attempts,
		Error:     models.ErrNeedsResolution.Error(),
	})
}

func (e *Engine) sweepHistory(ctx context.Context, settings models.Settings, now time.Time) {
	if settings.OfflineDataRetention <= 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -settings.OfflineDataRetention)
	purged, err := e.queue.PurgeHistory(ctx, cutoff)
	if err != nil {
		e.logger.Error().Err(err).Msg("history sweep failed")
		return
	}
	if purged > 0 {
		e.logger.Info().Int("purged", purged).Time("cutoff", cutoff).Msg("stale history purged")
	}
}

// RetryItem resets one failed item to pending, keeping its attempt
// count, and replays immediately when online.
func (e *Engine) RetryItem(ctx context.Context, id string) error {
	item, err := e.queue.Get(id)
	if err != nil {
		return err
	}
	if item.Status != models.StatusFailed {
		return fmt.Errorf("%w: status %s", models.ErrNotRetryable, item.Status)
	}
	if _, err := e.queue.Transition(ctx, id, models.StatusPending, ""); err != nil {
		return err
	}

	if e.monitor.Online() {
		if _, err := e.ProcessQueue(ctx); err != nil && !errors.Is(err, models.ErrOfflineProcessing) {
			return err
		}
	}
	return nil
}

// RetryFailedItems resets every eligible failed item to pending and
// returns how many were reset. Items rejected permanently by the server
// and items past the configured attempt cutoff are left alone; they can
// still be retried individually.
func (e *Engine) RetryFailedItems(ctx context.Context) (int, error) {
	settings := e.queue.Settings()
	failed, err := e.queue.ItemsByStatus(models.StatusFailed)
	if err != nil {
		return 0, err
	}

	retried := 0
	for _, item := range failed {
		if item.Permanent {
			e.logger.Debug().Str("item_id", item.ID).Msg("skipping permanently rejected item")
			continue
		}
		if settings.MaxAttempts > 0 && item.Attempts >= settings.MaxAttempts {
			e.logger.Debug().Str("item_id", item.ID).Int("attempts", item.Attempts).Msg("skipping item past attempt cutoff")
			continue
		}
		if _, err := e.queue.Transition(ctx, item.ID, models.StatusPending, ""); err != nil {
			return retried, err
		}
		retried++
	}
	return retried, nil
}

// ResolveItem settles a parked conflict. apply=true re-queues the local
// write (replayed with force on the next pass); apply=false discards it
// in favor of the server state.
func (e *Engine) ResolveItem(ctx context.Context, id string, apply bool) error {
	item, err := e.queue.Get(id)
	if err != nil {
		return err
	}
	if item.Status != models.StatusNeedsResolution {
		return fmt.Errorf("%w: status %s", models.ErrNotRetryable, item.Status)
	}

	if !apply {
		if _, err := e.queue.Transition(ctx, id, models.StatusCompleted, ""); err != nil {
			return err
		}
		if err := e.queue.Archive(ctx, id, models.OutcomeDiscarded, true); err != nil {
			return err
		}
		metrics.IncProcessed(resultCompleted)
		return e.bus.PublishJSON(events.EventOperationCompleted, events.OperationOutcome{
			ItemID:    item.ID,
			Operation: item.Operation,
			Type:      item.Type,
			Attempts:  item.Attempts,
			Discarded: true,
		})
	}

	// Applying means the local write must overwrite the server state, so
	// it is replayed right away with the force flag instead of going back
	// through the normal pass, which would just conflict again.
	if !e.monitor.Online() {
		return models.ErrOfflineProcessing
	}
	if _, err := e.queue.Transition(ctx, id, models.StatusPending, ""); err != nil {
		return err
	}
	forced, err := e.queue.Transition(ctx, id, models.StatusProcessing, "")
	if err != nil {
		return err
	}
	if _, err := e.api.Execute(ctx, forced, true); err != nil {
		e.failItem(ctx, forced, err)
		return err
	}
	e.completeItem(ctx, forced, false)
	return nil
}
