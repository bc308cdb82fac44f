package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"taskrelay/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketQueue   = []byte("queue")
	bucketMeta    = []byte("meta")
	bucketHistory = []byte("history")
)

const (
	keySettings = "settings"
	keyLastSync = "last_sync"
)

// BoltStore keeps queue state in a bbolt file. Each namespace owns a
// top-level bucket with queue, meta and history sub-buckets.
type BoltStore struct {
	db        *bbolt.DB
	namespace []byte
}

func NewBoltStore(path, namespace string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	s := &BoltStore{db: db, namespace: []byte(namespace)}
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	return s, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(s.namespace)
		if err != nil {
			return fmt.Errorf("create namespace bucket: %w", err)
		}
		for _, name := range [][]byte{bucketQueue, bucketMeta, bucketHistory} {
			if _, err := root.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(s.namespace)
		if root == nil {
			return fmt.Errorf("namespace bucket not found")
		}

		queue := root.Bucket(bucketQueue)
		err := queue.ForEach(func(_, v []byte) error {
			var item models.QueueItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("decode queue item: %w", err)
			}
			snap.Items = append(snap.Items, &item)
			return nil
		})
		if err != nil {
			return err
		}

		meta := root.Bucket(bucketMeta)
		if raw := meta.Get([]byte(keySettings)); raw != nil {
			var settings models.Settings
			if err := json.Unmarshal(raw, &settings); err != nil {
				return fmt.Errorf("decode settings: %w", err)
			}
			snap.Settings = &settings
		}
		if raw := meta.Get([]byte(keyLastSync)); raw != nil {
			t, err := time.Parse(time.RFC3339Nano, string(raw))
			if err != nil {
				return fmt.Errorf("decode last sync: %w", err)
			}
			snap.LastSync = &t
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *BoltStore) Save(ctx context.Context, items []*models.QueueItem, settings models.Settings) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(s.namespace)
		if root == nil {
			return fmt.Errorf("namespace bucket not found")
		}

		// Replace the queue bucket wholesale; keys are big-endian
		// positions so iteration preserves FIFO order.
		if err := root.DeleteBucket(bucketQueue); err != nil {
			return fmt.Errorf("drop queue bucket: %w", err)
		}
		queue, err := root.CreateBucket(bucketQueue)
		if err != nil {
			return fmt.Errorf("recreate queue bucket: %w", err)
		}

		for position, item := range items {
			raw, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("encode queue item %s: %w", item.ID, err)
			}
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, uint64(position))
			if err := queue.Put(key, raw); err != nil {
				return fmt.Errorf("put queue item %s: %w", item.ID, err)
			}
		}

		settingsRaw, err := json.Marshal(settings)
		if err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
		return root.Bucket(bucketMeta).Put([]byte(keySettings), settingsRaw)
	})
}

func (s *BoltStore) SaveLastSync(ctx context.Context, t time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(s.namespace)
		if root == nil {
			return fmt.Errorf("namespace bucket not found")
		}
		return root.Bucket(bucketMeta).Put([]byte(keyLastSync), []byte(t.Format(time.RFC3339Nano)))
	})
}

func (s *BoltStore) AppendHistory(ctx context.Context, records []models.HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(s.namespace)
		if root == nil {
			return fmt.Errorf("namespace bucket not found")
		}
		history := root.Bucket(bucketHistory)

		for _, rec := range records {
			seq, err := history.NextSequence()
			if err != nil {
				return fmt.Errorf("history sequence: %w", err)
			}
			raw, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode history for %s: %w", rec.Item.ID, err)
			}
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, seq)
			if err := history.Put(key, raw); err != nil {
				return fmt.Errorf("put history for %s: %w", rec.Item.ID, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) History(ctx context.Context, limit int) ([]models.HistoryRecord, error) {
	var records []models.HistoryRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(s.namespace)
		if root == nil {
			return fmt.Errorf("namespace bucket not found")
		}
		// Newest first: walk the sequence backwards.
		c := root.Bucket(bucketHistory).Cursor()
		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			var rec models.HistoryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode history record: %w", err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *BoltStore) PurgeHistory(ctx context.Context, cutoff time.Time) (int, error) {
	purged := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(s.namespace)
		if root == nil {
			return fmt.Errorf("namespace bucket not found")
		}
		history := root.Bucket(bucketHistory)

		var stale [][]byte
		err := history.ForEach(func(k, v []byte) error {
			var rec models.HistoryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode history record: %w", err)
			}
			if rec.ArchivedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := history.Delete(k); err != nil {
				return fmt.Errorf("delete history record: %w", err)
			}
		}
		purged = len(stale)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

func (s *BoltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
