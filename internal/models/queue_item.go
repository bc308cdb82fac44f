package models

import (
	"encoding/json"
	"time"
)

// Operation types accepted by the queue.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpSync   = "sync"
)

// Item statuses. An item moves pending -> processing -> completed,
// processing -> failed -> pending (on retry), or processing -> needs_resolution
// when a version conflict requires an operator decision.
const (
	StatusPending         = "pending"
	StatusProcessing      = "processing"
	StatusCompleted       = "completed"
	StatusFailed          = "failed"
	StatusNeedsResolution = "needs_resolution"
)

// QueueItem is a buffered mutation awaiting replay against the server.
type QueueItem struct {
	ID        string          `json:"id"`
	Operation string          `json:"operation"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
	UpdatedAt time.Time       `json:"updated_at"`
	LastError string          `json:"last_error,omitempty"`
	// Permanent marks a failed item whose last rejection retrying cannot
	// fix; bulk retry leaves it alone.
	Permanent bool `json:"permanent,omitempty"`
	// Discarded marks a completed item whose local write lost conflict
	// resolution and was never applied to the server.
	Discarded bool `json:"discarded,omitempty"`
}

// Clone returns a deep copy so callers can hand items out without
// exposing queue-internal state.
func (i *QueueItem) Clone() *QueueItem {
	out := *i
	if i.Data != nil {
		out.Data = append(json.RawMessage(nil), i.Data...)
	}
	return &out
}

// IsTerminal reports whether the item will never be processed again
// without an explicit retry or resolution.
func (i *QueueItem) IsTerminal() bool {
	return i.Status == StatusCompleted || i.Status == StatusFailed
}

// ValidOperationType reports whether t is one of the accepted types.
func ValidOperationType(t string) bool {
	switch t {
	case OpCreate, OpUpdate, OpDelete, OpSync:
		return true
	}
	return false
}

// ValidStatus reports whether s is a known item status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusNeedsResolution:
		return true
	}
	return false
}

// QueueStats aggregates item counts by status.
type QueueStats struct {
	TotalItems           int `json:"total_items"`
	PendingItems         int `json:"pending_items"`
	ProcessingItems      int `json:"processing_items"`
	CompletedItems       int `json:"completed_items"`
	FailedItems          int `json:"failed_items"`
	NeedsResolutionItems int `json:"needs_resolution_items"`
}

// HistoryRecord is the archived form of an item that left the live queue.
type HistoryRecord struct {
	Item       QueueItem `json:"item"`
	ArchivedAt time.Time `json:"archived_at"`
	Outcome    string    `json:"outcome"` // completed, discarded or cleared
}

// History outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeDiscarded = "discarded"
	OutcomeCleared   = "cleared"
)
