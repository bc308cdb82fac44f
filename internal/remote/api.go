// Package remote executes queued operations against the task service.
package remote

import (
	"context"
	"encoding/json"
	"time"

	"taskrelay/internal/models"
)

// Result is the outcome of one executed operation. A nil error with
// Conflict=false means the server applied the operation.
type Result struct {
	// Conflict is set when the target record's server-side version is
	// newer than the operation's captured baseline.
	Conflict bool
	// ServerState is the server's current record, present on conflict.
	ServerState json.RawMessage
	// ServerTimestamp is when the server-side record last changed,
	// used by the timestamp conflict strategy.
	ServerTimestamp time.Time
}

// API executes a single queued operation server-side. Failures are
// classified: *models.TransientError for retryable infrastructure
// problems, *models.PermanentError for rejections retrying cannot fix.
type API interface {
	Execute(ctx context.Context, item *models.QueueItem, force bool) (*Result, error)
}
