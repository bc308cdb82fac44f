package models

import (
	"fmt"
	"time"
)

// Conflict resolution strategies.
const (
	ResolveTimestamp  = "timestamp"
	ResolveServerWins = "server-wins"
	ResolveClientWins = "client-wins"
	ResolveManual     = "manual"
)

const (
	DefaultSyncInterval  = 30 * time.Second
	DefaultMaxQueueSize  = 100
	DefaultRetentionDays = 7

	// DefaultMaxAttempts is the cutoff after which a failed item is
	// excluded from bulk auto-retry. 0 disables the cutoff.
	DefaultMaxAttempts = 5
)

// Settings controls queue capacity, auto-sync cadence and conflict policy.
// Persisted alongside the queue so behavior survives restarts.
type Settings struct {
	AutoSyncEnabled      bool          `json:"auto_sync_enabled"`
	SyncOnReconnect      bool          `json:"sync_on_reconnect"`
	SyncInterval         time.Duration `json:"sync_interval"`
	MaxQueueSize         int           `json:"max_queue_size"`
	ConflictResolution   string        `json:"conflict_resolution"`
	OfflineDataRetention int           `json:"offline_data_retention"` // days
	MaxAttempts          int           `json:"max_attempts"`
}

// DefaultSettings returns the settings used when the store has none.
func DefaultSettings() Settings {
	return Settings{
		AutoSyncEnabled:      true,
		SyncOnReconnect:      true,
		SyncInterval:         DefaultSyncInterval,
		MaxQueueSize:         DefaultMaxQueueSize,
		ConflictResolution:   ResolveTimestamp,
		OfflineDataRetention: DefaultRetentionDays,
		MaxAttempts:          DefaultMaxAttempts,
	}
}

// Validate checks field ranges and the conflict strategy name.
func (s Settings) Validate() error {
	if s.MaxQueueSize <= 0 {
		return fmt.Errorf("max_queue_size must be positive, got %d", s.MaxQueueSize)
	}
	if s.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval must be positive, got %s", s.SyncInterval)
	}
	if s.OfflineDataRetention < 0 {
		return fmt.Errorf("offline_data_retention must not be negative, got %d", s.OfflineDataRetention)
	}
	if s.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative, got %d", s.MaxAttempts)
	}
	switch s.ConflictResolution {
	case ResolveTimestamp, ResolveServerWins, ResolveClientWins, ResolveManual:
	default:
		return fmt.Errorf("unknown conflict_resolution strategy: %q", s.ConflictResolution)
	}
	return nil
}

// OfflineStatus is the engine state snapshot exposed to the UI layer.
type OfflineStatus struct {
	IsOffline      bool       `json:"is_offline"`
	PendingChanges int        `json:"pending_changes"`
	QueueLength    int        `json:"queue_length"`
	LastSync       *time.Time `json:"last_sync,omitempty"`
	Error          string     `json:"error,omitempty"`
}
