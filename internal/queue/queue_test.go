package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"taskrelay/internal/models"
	"taskrelay/internal/network"
	"taskrelay/internal/schema"
	"taskrelay/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, online bool) (*Queue, *network.SimulatedMonitor, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	monitor := network.NewSimulatedMonitor(online)
	logger := zerolog.New(os.Stdout)

	q, err := New(context.Background(), st, schema.NewRegistry(), monitor, &logger)
	require.NoError(t, err)
	return q, monitor, st
}

func TestEnqueueOfflineSucceeds(t *testing.T) {
	q, _, _ := newTestQueue(t, false)

	item, err := q.Enqueue(context.Background(), "task.create", models.OpCreate, json.RawMessage(`{"title":"a"}`))
	require.NoError(t, err)

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, models.StatusPending, item.Status)
	assert.Zero(t, item.Attempts)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, q.PendingChanges())
}

func TestEnqueueOnlineRejectedExceptSync(t *testing.T) {
	q, _, _ := newTestQueue(t, true)

	_, err := q.Enqueue(context.Background(), "task.create", models.OpCreate, nil)
	require.ErrorIs(t, err, models.ErrOnlineEnqueue)
	assert.Equal(t, 0, q.Len())

	_, err = q.Enqueue(context.Background(), "queue.flush", models.OpSync, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())
}

func TestEnqueueQueueFull(t *testing.T) {
	q, _, _ := newTestQueue(t, false)

	settings := q.Settings()
	settings.MaxQueueSize = 1
	require.NoError(t, q.UpdateSettings(context.Background(), settings))

	_, err := q.Enqueue(context.Background(), "task.create", models.OpCreate, nil)
	require.NoError(t, err)

	_, err = q.Enqueue(context.Background(), "task.create", models.OpCreate, nil)
	require.ErrorIs(t, err, models.ErrQueueFull)
	assert.Equal(t, 1, q.Len(), "rejected enqueue must not mutate the queue")
}

func TestEnqueueUnknownType(t *testing.T) {
	q, _, _ := newTestQueue(t, false)

	_, err := q.Enqueue(context.Background(), "task.create", "upsert", nil)
	require.Error(t, err)
	assert.Equal(t, 0, q.Len())
}

func TestEnqueueSchemaValidation(t *testing.T) {
	st := store.NewMemoryStore()
	logger := zerolog.New(os.Stdout)
	reg := schema.NewRegistry()
	reg.Register("task.create", schema.RequireFields("title"))

	q, err := New(context.Background(), st, reg, network.NewSimulatedMonitor(false), &logger)
	require.NoError(t, err)

	_, err = q.Enqueue(context.Background(), "task.create", models.OpCreate, json.RawMessage(`{"due":"tomorrow"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title")

	_, err = q.Enqueue(context.Background(), "task.create", models.OpCreate, json.RawMessage(`{"title":"a"}`))
	require.NoError(t, err)
}

func TestTransitionGraph(t *testing.T) {
	q, _, _ := newTestQueue(t, false)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "task.update", models.OpUpdate, nil)
	require.NoError(t, err)

	// pending -> completed skips processing
	_, err = q.Transition(ctx, item.ID, models.StatusCompleted, "")
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	got, err := q.Transition(ctx, item.ID, models.StatusProcessing, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)

	got, err = q.Transition(ctx, item.ID, models.StatusFailed, "server 503")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "server 503", got.LastError)

	got, err = q.Transition(ctx, item.ID, models.StatusPending, "")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts, "retry does not reset attempts")
	assert.Empty(t, got.LastError)
}

func TestTransitionUnknownItem(t *testing.T) {
	q, _, _ := newTestQueue(t, false)

	_, err := q.Transition(context.Background(), "nope", models.StatusProcessing, "")
	require.ErrorIs(t, err, models.ErrItemNotFound)
}

func TestFailRecordsRetryClass(t *testing.T) {
	q, _, _ := newTestQueue(t, false)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "task.update", models.OpUpdate, nil)
	require.NoError(t, err)
	_, err = q.Transition(ctx, item.ID, models.StatusProcessing, "")
	require.NoError(t, err)

	// The class comes from the error type, not the message text, so a
	// wrapped rejection still counts as permanent.
	cause := fmt.Errorf("replay task.update: %w", &models.PermanentError{Err: errors.New("validation rejected")})
	got, err := q.Fail(ctx, item.ID, cause)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.True(t, got.Permanent)
	assert.Contains(t, got.LastError, "validation rejected")

	// Resetting to pending clears the class along with the error.
	got, err = q.Transition(ctx, item.ID, models.StatusPending, "")
	require.NoError(t, err)
	assert.False(t, got.Permanent)
	assert.Empty(t, got.LastError)

	_, err = q.Transition(ctx, item.ID, models.StatusProcessing, "")
	require.NoError(t, err)
	got, err = q.Fail(ctx, item.ID, &models.TransientError{Err: errors.New("server 503")})
	require.NoError(t, err)
	assert.False(t, got.Permanent)
	assert.Equal(t, 2, got.Attempts)
}

func TestFailOnlyFromProcessing(t *testing.T) {
	q, _, _ := newTestQueue(t, false)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "task.create", models.OpCreate, nil)
	require.NoError(t, err)

	_, err = q.Fail(ctx, item.ID, errors.New("boom"))
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = q.Fail(ctx, "nope", errors.New("boom"))
	require.ErrorIs(t, err, models.ErrItemNotFound)
}

func TestArchiveMovesItemToHistory(t *testing.T) {
	q, _, st := newTestQueue(t, false)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "task.create", models.OpCreate, nil)
	require.NoError(t, err)
	_, err = q.Transition(ctx, item.ID, models.StatusProcessing, "")
	require.NoError(t, err)
	_, err = q.Transition(ctx, item.ID, models.StatusCompleted, "")
	require.NoError(t, err)

	require.NoError(t, q.Archive(ctx, item.ID, models.OutcomeCompleted, false))
	assert.Equal(t, 0, q.Len())

	records, err := st.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, item.ID, records[0].Item.ID)
	assert.Equal(t, models.OutcomeCompleted, records[0].Outcome)
}

func TestRemoveOnlyTerminal(t *testing.T) {
	q, _, _ := newTestQueue(t, false)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "task.create", models.OpCreate, nil)
	require.NoError(t, err)

	err = q.Remove(ctx, item.ID)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = q.Transition(ctx, item.ID, models.StatusProcessing, "")
	require.NoError(t, err)
	_, err = q.Transition(ctx, item.ID, models.StatusFailed, "boom")
	require.NoError(t, err)

	require.NoError(t, q.Remove(ctx, item.ID))
	assert.Equal(t, 0, q.Len())

	err = q.Remove(ctx, item.ID)
	require.ErrorIs(t, err, models.ErrItemNotFound)
}

func TestClearArchivesEverything(t *testing.T) {
	q, _, st := newTestQueue(t, false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, "task.create", models.OpCreate, nil)
		require.NoError(t, err)
	}

	removed, err := q.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.PendingChanges())

	records, err := st.History(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, records, 3)
	for _, rec := range records {
		assert.Equal(t, models.OutcomeCleared, rec.Outcome)
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	q, _, _ := newTestQueue(t, false)
	ctx := context.Background()

	ids := make([]string, 4)
	for i := range ids {
		item, err := q.Enqueue(ctx, "task.create", models.OpCreate, nil)
		require.NoError(t, err)
		ids[i] = item.ID
	}

	_, err := q.Transition(ctx, ids[1], models.StatusProcessing, "")
	require.NoError(t, err)
	_, err = q.Transition(ctx, ids[2], models.StatusProcessing, "")
	require.NoError(t, err)
	_, err = q.Transition(ctx, ids[2], models.StatusCompleted, "")
	require.NoError(t, err)
	_, err = q.Transition(ctx, ids[3], models.StatusProcessing, "")
	require.NoError(t, err)
	_, err = q.Transition(ctx, ids[3], models.StatusFailed, "boom")
	require.NoError(t, err)

	want := models.QueueStats{
		TotalItems:      4,
		PendingItems:    1,
		ProcessingItems: 1,
		CompletedItems:  1,
		FailedItems:     1,
	}
	assert.Equal(t, want, q.Stats())
	assert.Equal(t, want, q.Stats(), "stats are idempotent without mutation")
	assert.Equal(t, 2, q.PendingChanges())
}

func TestItemsByStatusOrdered(t *testing.T) {
	q, _, _ := newTestQueue(t, false)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "task.create", models.OpCreate, nil)
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, "task.update", models.OpUpdate, nil)
	require.NoError(t, err)

	items, err := q.ItemsByStatus(models.StatusPending)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].ID)
	assert.Equal(t, second.ID, items[1].ID)

	_, err = q.ItemsByStatus("bogus")
	require.Error(t, err)
}

func TestHydrateFromStore(t *testing.T) {
	q, _, st := newTestQueue(t, false)
	ctx := context.Background()

	settings := q.Settings()
	settings.MaxQueueSize = 42
	require.NoError(t, q.UpdateSettings(ctx, settings))

	item, err := q.Enqueue(ctx, "task.create", models.OpCreate, json.RawMessage(`{"title":"persisted"}`))
	require.NoError(t, err)
	require.NoError(t, q.SetLastSync(ctx, time.Now().UTC()))

	logger := zerolog.New(os.Stdout)
	q2, err := New(ctx, st, schema.NewRegistry(), network.NewSimulatedMonitor(false), &logger)
	require.NoError(t, err)

	assert.Equal(t, 1, q2.Len())
	got, err := q2.Get(item.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"persisted"}`, string(got.Data))
	assert.Equal(t, 42, q2.Settings().MaxQueueSize)
	require.NotNil(t, q2.LastSync())
}

func TestUpdateSettingsRejectsInvalid(t *testing.T) {
	q, _, _ := newTestQueue(t, false)

	bad := q.Settings()
	bad.ConflictResolution = "coin-flip"
	err := q.UpdateSettings(context.Background(), bad)
	require.Error(t, err)
	assert.Equal(t, models.ResolveTimestamp, q.Settings().ConflictResolution)
}

func TestItemsReturnsCopies(t *testing.T) {
	q, _, _ := newTestQueue(t, false)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "task.create", models.OpCreate, nil)
	require.NoError(t, err)

	items := q.Items()
	items[0].Status = models.StatusCompleted

	fresh := q.Items()
	assert.Equal(t, models.StatusPending, fresh[0].Status)
}
