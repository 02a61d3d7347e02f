package fixtures

import (
	"context"
	"fmt"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/veiloq/greenlight/asyncdb"
	"github.com/veiloq/greenlight/config"
	"github.com/veiloq/greenlight/connection"
	"github.com/veiloq/greenlight/db"
	"github.com/veiloq/greenlight/internal/cleanup"
)

// PostgresEngine returns an engine on a fresh, uniquely named database. By
// default a dedicated embedded server is started for the test; with
// WithSharedServer the server described by cfg is used. Everything created is
// torn down in reverse order when t finishes.
func PostgresEngine(ctx context.Context, t testing.TB, cfg config.Postgres, opts ...Option) *asyncdb.Engine {
	t.Helper()
	s := applyOptions(t, opts)
	mgr := cleanup.NewManager(s.logger)
	t.Cleanup(func() {
		if err := mgr.Execute(); err != nil {
			t.Errorf("fixtures: cleanup: %v", err)
		}
	})

	eng, err := newPostgresEngine(ctx, cfg, s, mgr)
	if err != nil {
		t.Fatalf("fixtures: %v", err)
	}
	return eng
}

func newPostgresEngine(ctx context.Context, cfg config.Postgres, s *Settings, mgr *cleanup.Manager) (*asyncdb.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid postgres configuration: %w", err)
	}

	if s.sharedServer {
		s.logger.Info("Using shared PostgreSQL server.",
			zap.String("host", cfg.Host), zap.Uint32("port", cfg.Port))
	} else {
		if err := startDedicated(ctx, &cfg, s.logger, mgr); err != nil {
			return nil, err
		}
	}

	name := db.UniqueName("greenlight_test_")
	adminDSN, err := db.CreateDatabase(ctx, cfg, name, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create test database on %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	mgr.Add(db.DropDatabaseFunc(adminDSN, name, cfg.KeepDatabase, s.logger))

	eng, dsn, err := connection.Connect(ctx, cfg, name, s.driver, s.logger)
	if err != nil {
		return nil, err
	}
	mgr.Add(connection.CloseEngineFunc(&eng, dsn, s.logger))

	if err := prepare(ctx, s, eng); err != nil {
		return nil, err
	}
	s.logger.Info("PostgresEngine ready", zap.String("database", name))
	return eng, nil
}

func startDedicated(ctx context.Context, cfg *config.Postgres, logger *zap.Logger, mgr *cleanup.Manager) error {
	if err := db.AssignRandomPort(cfg, logger); err != nil {
		return err
	}
	runtimeDir, err := os.MkdirTemp("", "greenlight-postgres-")
	if err != nil {
		return fmt.Errorf("failed to create runtime directory: %w", err)
	}
	mgr.Add(func() error {
		if err := os.RemoveAll(runtimeDir); err != nil {
			return fmt.Errorf("failed to remove runtime dir %q: %w", runtimeDir, err)
		}
		return nil
	})

	server, err := db.StartServer(ctx, *cfg, runtimeDir, logger)
	if err != nil {
		return fmt.Errorf("failed to start dedicated embedded server: %w", err)
	}
	mgr.Add(db.StopServerFunc(&server, logger))
	return nil
}
