package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"taskrelay/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := zerolog.New(os.Stdout)
	return NewClient(srv.URL, "secret", 2*time.Second, 100, 10, &logger)
}

func pendingItem() *models.QueueItem {
	return &models.QueueItem{
		ID:        "a1",
		Operation: "task.create",
		Type:      models.OpCreate,
		Data:      json.RawMessage(`{"title":"buy milk"}`),
		Status:    models.StatusPending,
		Timestamp: time.Now().UTC(),
	}
}

func TestClientExecuteSuccess(t *testing.T) {
	var gotReq operationRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/operations", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.WriteHeader(http.StatusOK)
	})

	res, err := client.Execute(context.Background(), pendingItem(), false)
	require.NoError(t, err)
	assert.False(t, res.Conflict)
	assert.Equal(t, "a1", gotReq.ID)
	assert.Equal(t, "task.create", gotReq.Operation)
	assert.False(t, gotReq.Force)
}

func TestClientExecuteConflict(t *testing.T) {
	serverTS := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(conflictResponse{
			ServerState:     json.RawMessage(`{"title":"buy oat milk"}`),
			ServerTimestamp: serverTS,
		})
	})

	res, err := client.Execute(context.Background(), pendingItem(), false)
	require.NoError(t, err)
	require.True(t, res.Conflict)
	assert.JSONEq(t, `{"title":"buy oat milk"}`, string(res.ServerState))
	assert.True(t, res.ServerTimestamp.Equal(serverTS))
}

func TestClientExecuteTransientFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"db down"}`, http.StatusServiceUnavailable)
	})

	_, err := client.Execute(context.Background(), pendingItem(), false)
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))
	assert.Contains(t, err.Error(), "db down")
}

func TestClientExecutePermanentFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"title is required"}`, http.StatusUnprocessableEntity)
	})

	_, err := client.Execute(context.Background(), pendingItem(), false)
	require.Error(t, err)
	assert.True(t, models.IsPermanent(err))
	assert.False(t, models.IsTransient(err))
}

func TestClientExecuteNetworkError(t *testing.T) {
	logger := zerolog.New(os.Stdout)
	client := NewClient("http://127.0.0.1:1", "", time.Second, 100, 10, &logger)

	_, err := client.Execute(context.Background(), pendingItem(), false)
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))
}

func TestClientExecuteForceFlag(t *testing.T) {
	var gotReq operationRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.WriteHeader(http.StatusOK)
	})

	_, err := client.Execute(context.Background(), pendingItem(), true)
	require.NoError(t, err)
	assert.True(t, gotReq.Force)
}
