package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	_ "github.com/lib/pq" // admin connections use the "postgres" driver
	"go.uber.org/zap"

	"github.com/veiloq/greenlight/config"
	"github.com/veiloq/greenlight/internal/cleanup"
)

const maxIdentifierLen = 63

// CreateDatabase connects to the admin database named by cfg and creates
// name. It returns the admin DSN, which DropDatabaseFunc needs later.
func CreateDatabase(ctx context.Context, cfg config.Postgres, name string, logger *zap.Logger) (string, error) {
	adminDSN := cfg.DSN()
	admin, err := sql.Open("postgres", adminDSN)
	if err != nil {
		return adminDSN, fmt.Errorf("failed to open admin database %q: %w", cfg.Database, err)
	}
	defer admin.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := admin.PingContext(pingCtx); err != nil {
		return adminDSN, fmt.Errorf("failed to ping admin database %q: %w", cfg.Database, err)
	}

	quoted := pgx.Identifier{name}.Sanitize()
	if _, err := admin.ExecContext(ctx, "CREATE DATABASE "+quoted); err != nil {
		return adminDSN, fmt.Errorf("failed to create database %q: %w", name, err)
	}
	logger.Info("Created test database", zap.String("database", name))
	return adminDSN, nil
}

// DropDatabaseFunc returns a cleanup step that terminates the connections to
// name and drops it. keep turns it into a no-op.
func DropDatabaseFunc(adminDSN, name string, keep bool, logger *zap.Logger) cleanup.Func {
	return func() error {
		if keep {
			logger.Info("Keeping test database.", zap.String("database", name))
			return nil
		}
		admin, err := sql.Open("postgres", adminDSN)
		if err != nil {
			return fmt.Errorf("cleanup: error connecting to admin DB to drop %q: %w", name, err)
		}
		defer admin.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := admin.ExecContext(ctx,
			`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()`,
			name,
		); err != nil {
			logger.Warn("Cleanup: failed to terminate connections before drop", zap.String("database", name), zap.Error(err))
		}

		if _, err := admin.ExecContext(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{name}.Sanitize()); err != nil {
			logger.Error("Cleanup: error dropping test database", zap.String("database", name), zap.Error(err))
			return fmt.Errorf("cleanup: error dropping test database %q: %w", name, err)
		}
		logger.Info("Cleanup: dropped test database", zap.String("database", name))
		return nil
	}
}

// UniqueName returns prefix followed by a random suffix, lowercased, with
// hyphens replaced and truncated to PostgreSQL's identifier limit.
func UniqueName(prefix string) string {
	name := strings.ToLower(prefix + strings.ReplaceAll(uuid.NewString(), "-", ""))
	name = strings.ReplaceAll(name, "-", "_")
	if len(name) > maxIdentifierLen {
		name = name[:maxIdentifierLen]
	}
	return name
}
