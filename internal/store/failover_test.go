package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"taskrelay/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenStore fails every call until healed.
type brokenStore struct {
	*MemoryStore
	broken bool
}

var errStoreDown = errors.New("store down")

func (b *brokenStore) Load(ctx context.Context) (*Snapshot, error) {
	if b.broken {
		return nil, errStoreDown
	}
	return b.MemoryStore.Load(ctx)
}

func (b *brokenStore) Save(ctx context.Context, items []*models.QueueItem, settings models.Settings) error {
	if b.broken {
		return errStoreDown
	}
	return b.MemoryStore.Save(ctx, items, settings)
}

func (b *brokenStore) SaveLastSync(ctx context.Context, t time.Time) error {
	if b.broken {
		return errStoreDown
	}
	return b.MemoryStore.SaveLastSync(ctx, t)
}

func newFailover(t *testing.T, primary Store) (*FailoverStore, *MemoryStore) {
	t.Helper()
	fallback := NewMemoryStore()
	logger := zerolog.New(os.Stdout)
	return NewFailoverStore(primary, fallback, &logger), fallback
}

func TestFailoverUsesPrimaryWhenHealthy(t *testing.T) {
	ctx := context.Background()
	primary := &brokenStore{MemoryStore: NewMemoryStore()}
	fo, fallback := newFailover(t, primary)

	require.NoError(t, fo.Save(ctx, []*models.QueueItem{testItem("a", models.StatusPending)}, models.DefaultSettings()))

	snap, err := primary.MemoryStore.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 1)

	snap, err = fallback.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Items)
}

func TestFailoverFallsBackOnError(t *testing.T) {
	ctx := context.Background()
	primary := &brokenStore{MemoryStore: NewMemoryStore(), broken: true}
	fo, fallback := newFailover(t, primary)

	require.NoError(t, fo.Save(ctx, []*models.QueueItem{testItem("a", models.StatusPending)}, models.DefaultSettings()))

	snap, err := fallback.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 1)

	// While down and inside the cooldown, the primary is not retried.
	primary.broken = false
	snap, err = fo.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 1, "reads come from fallback during cooldown")
}

func TestFailoverRecoversAfterCooldown(t *testing.T) {
	ctx := context.Background()
	primary := &brokenStore{MemoryStore: NewMemoryStore(), broken: true}
	fo, _ := newFailover(t, primary)

	require.NoError(t, fo.SaveLastSync(ctx, time.Now()))
	require.True(t, fo.isDown.Load())

	// Simulate the cooldown having elapsed, then heal the primary.
	fo.lastCheck.Store(time.Now().Add(-2 * recoveryCooldown).UnixNano())
	primary.broken = false

	_, err := fo.Load(ctx)
	require.NoError(t, err)
	assert.False(t, fo.isDown.Load(), "primary marked healthy again")
}
