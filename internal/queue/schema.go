package queue

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema
// changes. The broker holds only in-flight work, so clearing the database is
// the supported upgrade path.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the
// expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='queue_schema'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check queue_schema table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	err = s.db.QueryRowContext(ctx, "SELECT version FROM queue_schema LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("read queue schema version: %w", err)
	}

	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (run 'gavel queue clear' or delete the database)",
			ErrSchemaMismatch, version, schemaVersion)
	}

	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create queue schema: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO queue_schema (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record queue schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit queue schema: %w", err)
	}
	return nil
}
