package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"sentinal/internal/model"

	_ "modernc.org/sqlite"
)

// Keys of the persisted values. They match the browser build's storage keys.
const (
	KeyEntities     = "sentinal_emails"
	KeyGmailToken   = "sentinal_gmail_token"
	KeyClientID     = "sentinal_google_client_id"
	KeyGeminiAPIKey = "sentinal_gemini_api_key"

	// KeyDeletedThreads holds the thread ids of leads the user deleted.
	KeyDeletedThreads = "sentinal_deleted_threads"
)

var allKeys = []string{KeyEntities, KeyGmailToken, KeyClientID, KeyGeminiAPIKey, KeyDeletedThreads}

// SQLiteStore keeps the lead collection and settings in a local SQLite key/value table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at the given path and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetValue returns the stored value for key, or "" when it was never set.
func (s *SQLiteStore) GetValue(ctx context.Context, key string) (string, error) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return val, err
}

func (s *SQLiteStore) SetValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`, key, value)
	return err
}

func (s *SQLiteStore) DeleteValue(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	return err
}

// LoadEntities returns the persisted collection, empty when nothing was saved.
func (s *SQLiteStore) LoadEntities(ctx context.Context) ([]model.TrackedEntity, error) {
	raw, err := s.GetValue(ctx, KeyEntities)
	if err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}
	return model.UnmarshalCollection([]byte(raw))
}

// SaveEntities replaces the persisted collection as a whole.
func (s *SQLiteStore) SaveEntities(ctx context.Context, entities []model.TrackedEntity) error {
	b, err := model.MarshalCollection(entities)
	if err != nil {
		return fmt.Errorf("encode entities: %w", err)
	}
	if err := s.SetValue(ctx, KeyEntities, string(b)); err != nil {
		return fmt.Errorf("save entities: %w", err)
	}
	return nil
}

// DeletedThreads returns the thread ids recorded by AddDeletedThread.
func (s *SQLiteStore) DeletedThreads(ctx context.Context) ([]string, error) {
	raw, err := s.GetValue(ctx, KeyDeletedThreads)
	if err != nil {
		return nil, fmt.Errorf("load deleted threads: %w", err)
	}
	if raw == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode deleted threads: %w", err)
	}
	return ids, nil
}

// AddDeletedThread records threadID so discovery does not track it again.
func (s *SQLiteStore) AddDeletedThread(ctx context.Context, threadID string) error {
	ids, err := s.DeletedThreads(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(ids, threadID) {
		return nil
	}
	b, err := json.Marshal(append(ids, threadID))
	if err != nil {
		return fmt.Errorf("encode deleted threads: %w", err)
	}
	if err := s.SetValue(ctx, KeyDeletedThreads, string(b)); err != nil {
		return fmt.Errorf("save deleted threads: %w", err)
	}
	return nil
}

// Reset removes every persisted key in one transaction.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM kv WHERE key = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, k := range allKeys {
		if _, err := stmt.ExecContext(ctx, k); err != nil {
			return err
		}
	}
	return tx.Commit()
}
