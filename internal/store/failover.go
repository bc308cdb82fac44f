package store

import (
	"context"
	"sync/atomic"
	"time"

	"taskrelay/internal/models"

	"github.com/rs/zerolog"
)

// FailoverStore pairs a durable primary with a fallback (usually memory).
// When the primary errors, writes land on the fallback so the queue keeps
// working; the primary is re-probed after a cooldown.
type FailoverStore struct {
	primary   Store
	fallback  Store
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64 // unix nanos of the last failed primary attempt
}

const recoveryCooldown = time.Minute

func NewFailoverStore(primary, fallback Store, logger *zerolog.Logger) *FailoverStore {
	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (s *FailoverStore) markDown(err error, op string) {
	s.logger.Error().Err(err).Str("op", op).Msg("Primary store failed, falling back")
	s.isDown.Store(true)
	s.lastCheck.Store(time.Now().UnixNano())
}

// primaryUsable reports whether the next call should try the primary.
func (s *FailoverStore) primaryUsable() bool {
	if !s.isDown.Load() {
		return true
	}
	last := time.Unix(0, s.lastCheck.Load())
	return time.Since(last) > recoveryCooldown
}

func (s *FailoverStore) Load(ctx context.Context) (*Snapshot, error) {
	if s.primaryUsable() {
		snap, err := s.primary.Load(ctx)
		if err == nil {
			s.isDown.Store(false)
			return snap, nil
		}
		s.markDown(err, "load")
	}
	return s.fallback.Load(ctx)
}

func (s *FailoverStore) Save(ctx context.Context, items []*models.QueueItem, settings models.Settings) error {
	if s.primaryUsable() {
		err := s.primary.Save(ctx, items, settings)
		if err == nil {
			s.isDown.Store(false)
			return nil
		}
		s.markDown(err, "save")
	}
	return s.fallback.Save(ctx, items, settings)
}

func (s *FailoverStore) SaveLastSync(ctx context.Context, t time.Time) error {
	if s.primaryUsable() {
		err := s.primary.SaveLastSync(ctx, t)
		if err == nil {
			s.isDown.Store(false)
			return nil
		}
		s.markDown(err, "save_last_sync")
	}
	return s.fallback.SaveLastSync(ctx, t)
}

func (s *FailoverStore) AppendHistory(ctx context.Context, records []models.HistoryRecord) error {
	if s.primaryUsable() {
		err := s.primary.AppendHistory(ctx, records)
		if err == nil {
			s.isDown.Store(false)
			return nil
		}
		s.markDown(err, "append_history")
	}
	return s.fallback.AppendHistory(ctx, records)
}

func (s *FailoverStore) History(ctx context.Context, limit int) ([]models.HistoryRecord, error) {
	if s.primaryUsable() {
		records, err := s.primary.History(ctx, limit)
		if err == nil {
			s.isDown.Store(false)
			return records, nil
		}
		s.markDown(err, "history")
	}
	return s.fallback.History(ctx, limit)
}

func (s *FailoverStore) PurgeHistory(ctx context.Context, cutoff time.Time) (int, error) {
	if s.primaryUsable() {
		n, err := s.primary.PurgeHistory(ctx, cutoff)
		if err == nil {
			s.isDown.Store(false)
			return n, nil
		}
		s.markDown(err, "purge_history")
	}
	return s.fallback.PurgeHistory(ctx, cutoff)
}

func (s *FailoverStore) Close() error {
	ferr := s.fallback.Close()
	if err := s.primary.Close(); err != nil {
		return err
	}
	return ferr
}
