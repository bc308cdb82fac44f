package conflict

import (
	"os"
	"testing"
	"time"

	"taskrelay/internal/models"
	"taskrelay/internal/remote"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver() *Resolver {
	logger := zerolog.New(os.Stdout)
	return NewResolver(&logger)
}

func conflictedItem(ts time.Time) *models.QueueItem {
	return &models.QueueItem{
		ID:        "c1",
		Operation: "task.update",
		Type:      models.OpUpdate,
		Timestamp: ts,
	}
}

func TestResolveTimestampLocalNewer(t *testing.T) {
	serverTS := time.Now().Add(-time.Hour)
	item := conflictedItem(time.Now())

	res, err := newResolver().Resolve(models.ResolveTimestamp, item, &remote.Result{
		Conflict:        true,
		ServerTimestamp: serverTS,
	})
	require.NoError(t, err)
	assert.True(t, res.Apply)
	assert.False(t, res.Discard)
	assert.False(t, res.RequiresManual)
}

func TestResolveTimestampServerNewer(t *testing.T) {
	item := conflictedItem(time.Now().Add(-time.Hour))

	res, err := newResolver().Resolve(models.ResolveTimestamp, item, &remote.Result{
		Conflict:        true,
		ServerTimestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, res.Discard)
	assert.False(t, res.Apply)
}

func TestResolveTimestampTieGoesToServer(t *testing.T) {
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	res, err := newResolver().Resolve(models.ResolveTimestamp, conflictedItem(ts), &remote.Result{
		Conflict:        true,
		ServerTimestamp: ts,
	})
	require.NoError(t, err)
	assert.True(t, res.Discard)
}

func TestResolveFixedPolicies(t *testing.T) {
	item := conflictedItem(time.Now())
	result := &remote.Result{Conflict: true, ServerTimestamp: time.Now()}
	r := newResolver()

	res, err := r.Resolve(models.ResolveServerWins, item, result)
	require.NoError(t, err)
	assert.True(t, res.Discard)

	res, err = r.Resolve(models.ResolveClientWins, item, result)
	require.NoError(t, err)
	assert.True(t, res.Apply)

	res, err = r.Resolve(models.ResolveManual, item, result)
	require.NoError(t, err)
	assert.True(t, res.RequiresManual)
}

func TestResolveUnknownStrategy(t *testing.T) {
	_, err := newResolver().Resolve("coin-flip", conflictedItem(time.Now()), &remote.Result{Conflict: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coin-flip")
}
