package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// kvQueries holds the dialect-specific statements for the kv_entries table.
type kvQueries struct {
	get        string
	upsert     string
	del        string
	keys       string
	clearScope string
	scopes     string
}

var sqliteQueries = kvQueries{
	get: `SELECT value FROM kv_entries WHERE scope = ? AND key = ?`,
	upsert: `INSERT INTO kv_entries (scope, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
	del:        `DELETE FROM kv_entries WHERE scope = ? AND key = ?`,
	keys:       `SELECT key FROM kv_entries WHERE scope = ? ORDER BY key`,
	clearScope: `DELETE FROM kv_entries WHERE scope = ?`,
	scopes:     `SELECT DISTINCT scope FROM kv_entries ORDER BY scope`,
}

var postgresQueries = kvQueries{
	get: `SELECT value FROM kv_entries WHERE scope = $1 AND key = $2`,
	upsert: `INSERT INTO kv_entries (scope, key, value, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (scope, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
	del:        `DELETE FROM kv_entries WHERE scope = $1 AND key = $2`,
	keys:       `SELECT key FROM kv_entries WHERE scope = $1 ORDER BY key`,
	clearScope: `DELETE FROM kv_entries WHERE scope = $1`,
	scopes:     `SELECT DISTINCT scope FROM kv_entries ORDER BY scope`,
}

// sqlKV implements the Store operations over a database/sql handle.
type sqlKV struct {
	db   *sql.DB
	q    kvQueries
	name string // backend name used in log messages
}

func (s *sqlKV) Get(scope, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(s.q.get, scope, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		slog.Error(s.name+" Get failed", "error", err, "scope", scope, "key", key)
		return "", false, fmt.Errorf("failed to read %s/%s: %w", scope, key, err)
	}
	return value, true, nil
}

func (s *sqlKV) Set(scope, key, value string) error {
	if _, err := s.db.Exec(s.q.upsert, scope, key, value, time.Now().UTC()); err != nil {
		slog.Error(s.name+" Set failed", "error", err, "scope", scope, "key", key)
		return fmt.Errorf("failed to write %s/%s: %w", scope, key, err)
	}
	slog.Debug(s.name+" Set succeeded", "scope", scope, "key", key)
	return nil
}

func (s *sqlKV) Delete(scope, key string) error {
	if _, err := s.db.Exec(s.q.del, scope, key); err != nil {
		slog.Error(s.name+" Delete failed", "error", err, "scope", scope, "key", key)
		return fmt.Errorf("failed to delete %s/%s: %w", scope, key, err)
	}
	slog.Debug(s.name+" Delete succeeded", "scope", scope, "key", key)
	return nil
}

func (s *sqlKV) Keys(scope string) ([]string, error) {
	rows, err := s.db.Query(s.q.keys, scope)
	if err != nil {
		slog.Error(s.name+" Keys query failed", "error", err, "scope", scope)
		return nil, fmt.Errorf("failed to list keys for %s: %w", scope, err)
	}
	return scanStrings(rows)
}

func (s *sqlKV) ClearScope(scope string) error {
	if _, err := s.db.Exec(s.q.clearScope, scope); err != nil {
		slog.Error(s.name+" ClearScope failed", "error", err, "scope", scope)
		return fmt.Errorf("failed to clear scope %s: %w", scope, err)
	}
	slog.Debug(s.name+" ClearScope succeeded", "scope", scope)
	return nil
}

func (s *sqlKV) Scopes() ([]string, error) {
	rows, err := s.db.Query(s.q.scopes)
	if err != nil {
		slog.Error(s.name+" Scopes query failed", "error", err)
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	return scanStrings(rows)
}

func (s *sqlKV) Close() error {
	slog.Debug("Closing " + s.name + " database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close "+s.name+" database", "error", err)
	} else {
		slog.Debug(s.name + " database connection closed successfully")
	}
	return err
}
