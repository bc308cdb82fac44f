package store

import (
	"context"
	"sync"
	"time"

	"taskrelay/internal/models"
)

// MemoryStore is a non-durable Store used in tests and as the failover
// fallback. All data is lost on process exit.
type MemoryStore struct {
	mu       sync.RWMutex
	items    []*models.QueueItem
	settings *models.Settings
	lastSync *time.Time
	history  []models.HistoryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{}
	for _, item := range s.items {
		snap.Items = append(snap.Items, item.Clone())
	}
	if s.settings != nil {
		cp := *s.settings
		snap.Settings = &cp
	}
	if s.lastSync != nil {
		t := *s.lastSync
		snap.LastSync = &t
	}
	return snap, nil
}

func (s *MemoryStore) Save(ctx context.Context, items []*models.QueueItem, settings models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make([]*models.QueueItem, 0, len(items))
	for _, item := range items {
		s.items = append(s.items, item.Clone())
	}
	cp := settings
	s.settings = &cp
	return nil
}

func (s *MemoryStore) SaveLastSync(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = &t
	return nil
}

func (s *MemoryStore) AppendHistory(ctx context.Context, records []models.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, records...)
	return nil
}

func (s *MemoryStore) History(ctx context.Context, limit int) ([]models.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest first.
	out := make([]models.HistoryRecord, 0, limit)
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.history[i])
	}
	return out, nil
}

func (s *MemoryStore) PurgeHistory(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.history[:0]
	purged := 0
	for _, rec := range s.history {
		if rec.ArchivedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	s.history = kept
	return purged, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
