// Package conflict decides what happens to a queued operation when the
// server reports a version conflict.
package conflict

import (
	"fmt"

	"taskrelay/internal/metrics"
	"taskrelay/internal/models"
	"taskrelay/internal/remote"

	"github.com/rs/zerolog"
)

// Decision names for logging and metrics.
const (
	DecisionApply   = "apply"
	DecisionDiscard = "discard"
	DecisionManual  = "manual"
)

// Resolution is the verdict for one conflicted operation.
type Resolution struct {
	// Apply means the local operation wins and should be re-executed
	// with the force flag set.
	Apply bool
	// Discard means the server state wins; the item completes without
	// its write being applied.
	Discard bool
	// RequiresManual parks the item until an operator picks a side.
	RequiresManual bool
	// Reason is a short human-readable explanation for the verdict.
	Reason string
}

func (r Resolution) decision() string {
	switch {
	case r.Apply:
		return DecisionApply
	case r.Discard:
		return DecisionDiscard
	default:
		return DecisionManual
	}
}

// Resolver applies one of the configured strategies to a conflict.
type Resolver struct {
	logger *zerolog.Logger
}

func NewResolver(logger *zerolog.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve picks a verdict for item under the given strategy. The result
// must come from an Execute call that reported Conflict=true.
func (r *Resolver) Resolve(strategy string, item *models.QueueItem, res *remote.Result) (Resolution, error) {
	var out Resolution

	switch strategy {
	case models.ResolveTimestamp:
		// Last write wins. The server timestamp is authoritative for the
		// remote side; the item's capture time for the local side. Ties
		// go to the server, it already holds that state.
		if item.Timestamp.After(res.ServerTimestamp) {
			out = Resolution{Apply: true, Reason: "local change is newer"}
		} else {
			out = Resolution{Discard: true, Reason: "server change is newer"}
		}

	case models.ResolveServerWins:
		out = Resolution{Discard: true, Reason: "server-wins policy"}

	case models.ResolveClientWins:
		out = Resolution{Apply: true, Reason: "client-wins policy"}

	case models.ResolveManual:
		out = Resolution{RequiresManual: true, Reason: "manual policy"}

	default:
		return Resolution{}, fmt.Errorf("unknown conflict_resolution strategy: %q", strategy)
	}

	decision := out.decision()
	metrics.IncConflict(decision)
	r.logger.Info().
		Str("item_id", item.ID).
		Str("operation", item.Operation).
		Str("strategy", strategy).
		Str("decision", decision).
		Str("reason", out.Reason).
		Msg("conflict resolved")

	return out, nil
}
