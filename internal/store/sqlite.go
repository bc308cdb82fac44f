package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"taskrelay/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps queue state in a local sqlite database. One file can
// hold several namespaces.
type SQLiteStore struct {
	db        *sql.DB
	namespace string
}

func NewSQLiteStore(path, namespace string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect store: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteStore{db: db, namespace: namespace}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS queue_items (
            namespace TEXT NOT NULL,
            position INTEGER NOT NULL,
            id TEXT NOT NULL,
            operation TEXT NOT NULL,
            op_type TEXT NOT NULL,
            payload TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            attempts INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            permanent BOOLEAN NOT NULL DEFAULT 0,
            discarded BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            PRIMARY KEY (namespace, id)
        )`,
		`CREATE TABLE IF NOT EXISTS queue_settings (
            namespace TEXT PRIMARY KEY,
            payload TEXT NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS sync_meta (
            namespace TEXT PRIMARY KEY,
            last_sync DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS queue_history (
            rowid_seq INTEGER PRIMARY KEY AUTOINCREMENT,
            namespace TEXT NOT NULL,
            item_id TEXT NOT NULL,
            operation TEXT NOT NULL,
            op_type TEXT NOT NULL,
            payload TEXT,
            attempts INTEGER NOT NULL DEFAULT 0,
            outcome TEXT NOT NULL,
            created_at DATETIME NOT NULL,
            archived_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_queue_items_position ON queue_items(namespace, position)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_history_archived ON queue_history(namespace, archived_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, operation, op_type, payload, status, attempts, last_error, permanent, discarded, created_at, updated_at
        FROM queue_items WHERE namespace = ? ORDER BY position ASC`, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("load queue items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.QueueItem
		var payload, lastError sql.NullString
		err := rows.Scan(
			&item.ID, &item.Operation, &item.Type, &payload, &item.Status,
			&item.Attempts, &lastError, &item.Permanent, &item.Discarded,
			&item.Timestamp, &item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		if payload.Valid {
			item.Data = json.RawMessage(payload.String)
		}
		if lastError.Valid {
			item.LastError = lastError.String
		}
		snap.Items = append(snap.Items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}

	var settingsRaw string
	err = s.db.QueryRowContext(ctx,
		`SELECT payload FROM queue_settings WHERE namespace = ?`, s.namespace).Scan(&settingsRaw)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("load settings: %w", err)
	default:
		var settings models.Settings
		if err := json.Unmarshal([]byte(settingsRaw), &settings); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
		snap.Settings = &settings
	}

	var lastSync time.Time
	err = s.db.QueryRowContext(ctx,
		`SELECT last_sync FROM sync_meta WHERE namespace = ?`, s.namespace).Scan(&lastSync)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("load last sync: %w", err)
	default:
		snap.LastSync = &lastSync
	}

	return snap, nil
}

func (s *SQLiteStore) Save(ctx context.Context, items []*models.QueueItem, settings models.Settings) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM queue_items WHERE namespace = ?`, s.namespace); err != nil {
		return fmt.Errorf("clear queue items: %w", err)
	}

	for position, item := range items {
		var payload any
		if item.Data != nil {
			payload = string(item.Data)
		}
		_, err := tx.ExecContext(ctx, `
            INSERT INTO queue_items (namespace, position, id, operation, op_type, payload, status, attempts, last_error, permanent, discarded, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.namespace, position, item.ID, item.Operation, item.Type, payload,
			item.Status, item.Attempts, item.LastError, item.Permanent, item.Discarded,
			item.Timestamp, item.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert queue item %s: %w", item.ID, err)
		}
	}

	settingsRaw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO queue_settings (namespace, payload, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(namespace) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		s.namespace, string(settingsRaw), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) SaveLastSync(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO sync_meta (namespace, last_sync) VALUES (?, ?)
        ON CONFLICT(namespace) DO UPDATE SET last_sync = excluded.last_sync`,
		s.namespace, t,
	)
	if err != nil {
		return fmt.Errorf("save last sync: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, records []models.HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range records {
		var payload any
		if rec.Item.Data != nil {
			payload = string(rec.Item.Data)
		}
		_, err := tx.ExecContext(ctx, `
            INSERT INTO queue_history (namespace, item_id, operation, op_type, payload, attempts, outcome, created_at, archived_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.namespace, rec.Item.ID, rec.Item.Operation, rec.Item.Type, payload,
			rec.Item.Attempts, rec.Outcome, rec.Item.Timestamp, rec.ArchivedAt,
		)
		if err != nil {
			return fmt.Errorf("insert history for %s: %w", rec.Item.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) History(ctx context.Context, limit int) ([]models.HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT item_id, operation, op_type, payload, attempts, outcome, created_at, archived_at
        FROM queue_history WHERE namespace = ? ORDER BY archived_at DESC, rowid_seq DESC LIMIT ?`,
		s.namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var records []models.HistoryRecord
	for rows.Next() {
		var rec models.HistoryRecord
		var payload sql.NullString
		err := rows.Scan(
			&rec.Item.ID, &rec.Item.Operation, &rec.Item.Type, &payload,
			&rec.Item.Attempts, &rec.Outcome, &rec.Item.Timestamp, &rec.ArchivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		if payload.Valid {
			rec.Item.Data = json.RawMessage(payload.String)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) PurgeHistory(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_history WHERE namespace = ? AND archived_at < ?`,
		s.namespace, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge history count: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
