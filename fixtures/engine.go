// Package fixtures provides engine and transaction helpers for tests that run
// under the greenlight plugin. Engines are created during fixture setup, in a
// unit of work of their own; every query is made later from the test body,
// where the plugin has established the bridge.
package fixtures

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/veiloq/greenlight/asyncdb"
)

const setupTimeout = 2 * time.Minute

// Engine opens an engine with a database/sql driver, applies the configured
// migrator and closes the engine when t finishes.
func Engine(t testing.TB, driver, dsn string, opts ...Option) *asyncdb.Engine {
	t.Helper()
	s := applyOptions(t, opts)

	eng, err := asyncdb.Open(driver, dsn, asyncdb.WithLogger(s.logger))
	if err != nil {
		t.Fatalf("fixtures: %v", err)
	}
	t.Cleanup(func() {
		if err := eng.Close(); err != nil {
			t.Errorf("fixtures: %v", err)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()
	if err := prepare(ctx, s, eng); err != nil {
		t.Fatalf("fixtures: %v", err)
	}
	return eng
}

// SQLiteEngine is Engine on a fresh SQLite file in t.TempDir().
func SQLiteEngine(t testing.TB, opts ...Option) *asyncdb.Engine {
	t.Helper()
	return Engine(t, "sqlite", filepath.Join(t.TempDir(), "greenlight.db"), opts...)
}

func prepare(ctx context.Context, s *Settings, eng *asyncdb.Engine) error {
	if err := s.migrator.Apply(ctx, eng.StdDB(), eng.Dialect(), s.logger); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if s.afterConnect != nil {
		if err := s.afterConnect(ctx, eng); err != nil {
			return fmt.Errorf("after-connect hook failed: %w", err)
		}
	}
	return nil
}
