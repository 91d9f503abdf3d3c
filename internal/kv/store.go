package kv

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current kv schema version. Bump when the layout changes;
// the store refuses to open mismatched databases.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("kv schema version mismatch")

// timeFormat pads fractional seconds to nine digits so stored timestamps
// compare correctly as TEXT in SQL. RFC3339Nano trims trailing zeros, which
// breaks lexicographic ordering. Reads still parse with RFC3339Nano.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed key/value store with per-entry TTLs.
type Store struct {
	db   *sql.DB
	path string
}

// Entry is a stored key/value pair. ExpiresAt is nil for entries without a TTL.
type Entry struct {
	Key       string
	Value     []byte
	ExpiresAt *time.Time
	UpdatedAt time.Time
}

// Open initializes or connects to the state database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create kv schema: %w", err)
	}

	var version sql.NullInt64
	err = tx.QueryRowContext(ctx, "SELECT version FROM kv_schema LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, "INSERT INTO kv_schema (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record kv schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read kv schema version: %w", err)
	case version.Int64 != schemaVersion:
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to reset)",
			ErrSchemaMismatch, version.Int64, schemaVersion, s.path)
	}

	return tx.Commit()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Set stores value under key. A positive ttl sets the expiry relative to now;
// ttl <= 0 stores the entry without expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errors.New("kv: empty key")
	}
	now := time.Now().UTC()
	var expires any
	if ttl > 0 {
		expires = now.Add(ttl).Format(timeFormat)
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO kv_entries (key, value, expires_at, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET
            value = excluded.value,
            expires_at = excluded.expires_at,
            updated_at = excluded.updated_at`,
		key, value, expires, now.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Get returns the value stored under key. Expired entries read as absent and
// are deleted on the way out.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv_entries WHERE key = ?`, key)

	var value []byte
	var expires sql.NullString
	err := row.Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}

	if expired(expires) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key)
		return nil, false, nil
	}
	return value, true, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Touch resets the TTL on an existing, unexpired entry without rewriting its
// value. Returns false when the entry is absent or already expired.
func (s *Store) Touch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	var expires any
	if ttl > 0 {
		expires = now.Add(ttl).Format(timeFormat)
	}
	res, err := s.db.ExecContext(ctx, `
        UPDATE kv_entries
        SET expires_at = ?, updated_at = ?
        WHERE key = ? AND (expires_at IS NULL OR expires_at >= ?)`,
		expires, now.Format(timeFormat), key, now.Format(timeFormat),
	)
	if err != nil {
		return false, fmt.Errorf("touch %q: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("touch rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListPrefix returns all unexpired entries whose keys start with prefix,
// ordered by key.
func (s *Store) ListPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	now := time.Now().UTC().Format(timeFormat)
	rows, err := s.db.QueryContext(ctx, `
        SELECT key, value, expires_at, updated_at FROM kv_entries
        WHERE key LIKE ? ESCAPE '\'
          AND (expires_at IS NULL OR expires_at >= ?)
        ORDER BY key`,
		escapeLike(prefix)+"%", now,
	)
	if err != nil {
		return nil, fmt.Errorf("list prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var expires sql.NullString
		var updated string
		if err := rows.Scan(&entry.Key, &entry.Value, &expires, &updated); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entry.ExpiresAt = parseNullableTime(expires)
		if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			entry.UpdatedAt = ts
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CountPrefix returns the number of unexpired entries under prefix.
func (s *Store) CountPrefix(ctx context.Context, prefix string) (int64, error) {
	now := time.Now().UTC().Format(timeFormat)
	var count int64
	err := s.db.QueryRowContext(ctx, `
        SELECT COUNT(1) FROM kv_entries
        WHERE key LIKE ? ESCAPE '\'
          AND (expires_at IS NULL OR expires_at >= ?)`,
		escapeLike(prefix)+"%", now,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count prefix %q: %w", prefix, err)
	}
	return count, nil
}

// PurgeExpired deletes all entries whose TTL has lapsed and reports how many
// were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(timeFormat)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	return res.RowsAffected()
}

// Health verifies the database connection responds.
func (s *Store) Health(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("kv health: %w", err)
	}
	return nil
}

func expired(value sql.NullString) bool {
	if !value.Valid {
		return false
	}
	ts, err := time.Parse(time.RFC3339Nano, value.String)
	if err != nil {
		return false
	}
	return ts.Before(time.Now().UTC())
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, value.String)
	if err != nil {
		return nil
	}
	return &ts
}

func escapeLike(value string) string {
	replaced := make([]byte, 0, len(value))
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '%', '_', '\\':
			replaced = append(replaced, '\\')
		}
		replaced = append(replaced, value[i])
	}
	return string(replaced)
}
