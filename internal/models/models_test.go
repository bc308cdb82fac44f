package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueItemClone(t *testing.T) {
	item := &QueueItem{
		ID:        "a1",
		Operation: "task.create",
		Type:      OpCreate,
		Data:      json.RawMessage(`{"title":"buy milk"}`),
		Status:    StatusPending,
		Timestamp: time.Now(),
	}

	clone := item.Clone()
	require.Equal(t, item.ID, clone.ID)
	require.Equal(t, string(item.Data), string(clone.Data))

	// Mutating the clone's payload must not touch the original.
	clone.Data[2] = 'x'
	assert.NotEqual(t, string(item.Data), string(clone.Data))
}

func TestQueueItemIsTerminal(t *testing.T) {
	cases := map[string]bool{
		StatusPending:         false,
		StatusProcessing:      false,
		StatusCompleted:       true,
		StatusFailed:          true,
		StatusNeedsResolution: false,
	}
	for status, want := range cases {
		item := &QueueItem{Status: status}
		assert.Equal(t, want, item.IsTerminal(), "status %s", status)
	}
}

func TestValidOperationType(t *testing.T) {
	assert.True(t, ValidOperationType(OpCreate))
	assert.True(t, ValidOperationType(OpSync))
	assert.False(t, ValidOperationType("merge"))
	assert.False(t, ValidOperationType(""))
}

func TestSettingsValidate(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())

	t.Run("BadQueueSize", func(t *testing.T) {
		bad := DefaultSettings()
		bad.MaxQueueSize = 0
		assert.Error(t, bad.Validate())
	})

	t.Run("BadStrategy", func(t *testing.T) {
		bad := DefaultSettings()
		bad.ConflictResolution = "coin-flip"
		assert.Error(t, bad.Validate())
	})

	t.Run("NegativeRetention", func(t *testing.T) {
		bad := DefaultSettings()
		bad.OfflineDataRetention = -1
		assert.Error(t, bad.Validate())
	})

	t.Run("ZeroMaxAttemptsAllowed", func(t *testing.T) {
		ok := DefaultSettings()
		ok.MaxAttempts = 0
		assert.NoError(t, ok.Validate())
	})
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("boom")

	tr := &TransientError{Err: cause}
	assert.True(t, IsTransient(tr))
	assert.False(t, IsPermanent(tr))
	assert.True(t, errors.Is(tr, cause))

	pe := &PermanentError{Err: cause}
	assert.True(t, IsPermanent(pe))
	assert.False(t, IsTransient(pe))

	wrapped := &TransientError{Err: &PermanentError{Err: cause}}
	// Outermost classification wins for policy decisions; both are visible.
	assert.True(t, IsTransient(wrapped))
}
