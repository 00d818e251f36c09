package store

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/wanderlink/wander-sync/types"
)

// SQLiteStore persists key-value pairs in a single-table sqlite file.
type SQLiteStore struct {
	db     *sql.DB
	logger types.Logger
}

func NewSQLiteStore(logger types.Logger, config *types.StoreConfig) (*SQLiteStore, error) {
	path := config.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open sqlite store")
	}

	const schema = `CREATE TABLE IF NOT EXISTS local_kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		ch_time INTEGER NOT NULL DEFAULT (strftime('%s','now'))
	)`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, types.WrapError(err, "failed to create store table")
	}

	logger.Info("SQLite store opened", zap.String("path", path))

	return &SQLiteStore{
		db:     db,
		logger: logger,
	}, nil
}

func (s *SQLiteStore) Get(key string) (string, bool) {
	var value string
	err := s.db.QueryRow("SELECT value FROM local_kv WHERE key = ?", key).Scan(&value)
	if err != nil {
		if !types.IsError(err, sql.ErrNoRows) {
			s.logger.Warn("SQLite store read failed", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return value, true
}

func (s *SQLiteStore) Set(key, value string) error {
	if key == "" {
		return types.ErrStoreKeyEmpty
	}

	_, err := s.db.Exec(
		`INSERT INTO local_kv (key, value, ch_time) VALUES (?, ?, strftime('%s','now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, ch_time = excluded.ch_time`,
		key, value,
	)
	if err != nil {
		return types.WrapError(err, "failed to write store entry")
	}

	return nil
}

func (s *SQLiteStore) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM local_kv WHERE key = ?", key); err != nil {
		return types.WrapError(err, "failed to delete store entry")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close sqlite store")
	}

	s.logger.Debug("SQLite store closed")
	return nil
}
