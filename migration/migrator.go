// Package migration defines the interface for bringing a test database schema
// to the desired state before a test uses it. Different strategies (Atlas,
// plain SQL, custom code) can be plugged into the fixtures.
package migration

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Migrator applies schema migrations.
type Migrator interface {
	// Apply migrates the database reachable through db. dialect is the SQL
	// family reported by asyncdb.Engine.Dialect ("postgres", "sqlite").
	// Migrations run during fixture setup, outside of any bridged unit of
	// work, so implementations use db directly.
	Apply(ctx context.Context, db *sql.DB, dialect string, logger *zap.Logger) error
}

// NoOpMigrator leaves the database empty. It is the default.
type NoOpMigrator struct{}

// Apply implements Migrator.
func (NoOpMigrator) Apply(_ context.Context, _ *sql.DB, _ string, logger *zap.Logger) error {
	logger.Debug("Migration skipped (NoOpMigrator).")
	return nil
}

// Statements applies a fixed list of SQL statements in order, inside one
// transaction. Handy for small schemas in tests.
type Statements []string

// Apply implements Migrator.
func (s Statements) Apply(ctx context.Context, db *sql.DB, dialect string, logger *zap.Logger) error {
	if len(s) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	for i, stmt := range s {
		logger.Debug("Applying statement", zap.Int("index", i), zap.String("dialect", dialect))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("statement %d failed: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	logger.Info("Applied schema statements", zap.Int("count", len(s)))
	return nil
}
