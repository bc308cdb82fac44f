package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryUnknownOperationAccepted(t *testing.T) {
	r := NewRegistry()
	assert.NoError(t, r.Validate("task.create", json.RawMessage(`"anything"`)))
	assert.False(t, r.Known("task.create"))
}

func TestRegistryRequireFields(t *testing.T) {
	r := NewRegistry()
	r.Register("task.create", RequireFields("title", "list_id"))
	require.True(t, r.Known("task.create"))

	t.Run("Valid", func(t *testing.T) {
		err := r.Validate("task.create", json.RawMessage(`{"title":"buy milk","list_id":"l1"}`))
		assert.NoError(t, err)
	})

	t.Run("MissingField", func(t *testing.T) {
		err := r.Validate("task.create", json.RawMessage(`{"title":"buy milk"}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "list_id")
	})

	t.Run("NullField", func(t *testing.T) {
		err := r.Validate("task.create", json.RawMessage(`{"title":null,"list_id":"l1"}`))
		require.Error(t, err)
	})

	t.Run("NotAnObject", func(t *testing.T) {
		err := r.Validate("task.create", json.RawMessage(`[1,2]`))
		require.Error(t, err)
	})
}

func TestRegistryCustomValidator(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("too long")
	r.Register("task.rename", func(data json.RawMessage) error {
		if len(data) > 32 {
			return boom
		}
		return nil
	})

	assert.NoError(t, r.Validate("task.rename", json.RawMessage(`{"title":"ok"}`)))
	err := r.Validate("task.rename", json.RawMessage(`{"title":"a very very very long title"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRegistryRequireObject(t *testing.T) {
	r := NewRegistry()
	r.Register("task.update", RequireObject())

	assert.NoError(t, r.Validate("task.update", json.RawMessage(`{}`)))
	assert.Error(t, r.Validate("task.update", json.RawMessage(`42`)))
}
