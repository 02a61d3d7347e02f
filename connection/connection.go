// Package connection opens asyncdb engines against the isolated PostgreSQL
// test database and provides the matching cleanup steps.
package connection

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "github.com/lib/pq"              // registers the "postgres" database/sql driver
	"go.uber.org/zap"

	"github.com/veiloq/greenlight/asyncdb"
	"github.com/veiloq/greenlight/config"
	"github.com/veiloq/greenlight/internal/cleanup"
)

// Driver selects how the engine talks to PostgreSQL.
type Driver string

const (
	// DriverPgxPool uses a pgx connection pool. Default.
	DriverPgxPool Driver = "pgxpool"
	// DriverPQ uses database/sql with lib/pq.
	DriverPQ Driver = "postgres"
	// DriverPgxStdlib uses database/sql with pgx's stdlib adapter.
	DriverPgxStdlib Driver = "pgx"
)

// TestDSN returns the DSN of database dbName on the server described by cfg.
func TestDSN(cfg config.Postgres, dbName string) string {
	cfg.Database = dbName
	return cfg.DSN()
}

// Connect opens an engine on dbName and verifies it is reachable. The ping
// uses the engine's synchronous handle, since setup code runs outside any
// bridged unit of work.
func Connect(ctx context.Context, cfg config.Postgres, dbName string, driver Driver, logger *zap.Logger) (*asyncdb.Engine, string, error) {
	dsn := TestDSN(cfg, dbName)
	logger.Debug("Connecting to test database",
		zap.String("database", dbName), zap.String("driver", string(driver)))

	var (
		eng *asyncdb.Engine
		err error
	)
	switch driver {
	case "", DriverPgxPool:
		poolCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		eng, err = asyncdb.OpenPool(poolCtx, dsn, asyncdb.WithLogger(logger))
	case DriverPQ, DriverPgxStdlib:
		eng, err = asyncdb.Open(string(driver), dsn, asyncdb.WithLogger(logger))
	default:
		return nil, dsn, fmt.Errorf("unsupported postgres driver %q", driver)
	}
	if err != nil {
		return nil, dsn, fmt.Errorf("failed to open engine for test database %q: %w", dbName, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := eng.StdDB().PingContext(pingCtx); err != nil {
		_ = eng.Close()
		return nil, dsn, fmt.Errorf("failed to ping test database %q: %w", dbName, err)
	}
	logger.Debug("Connected to test database", zap.String("database", dbName))
	return eng, dsn, nil
}

// CloseEngineFunc returns a cleanup step closing *eng. The pointer is set to
// nil afterwards so repeated calls do nothing. dsn is only used for logging.
func CloseEngineFunc(eng **asyncdb.Engine, dsn string, logger *zap.Logger) cleanup.Func {
	return func() error {
		e := *eng
		if e == nil {
			return nil
		}
		name := GetDBNameFromDSN(dsn)
		logger.Debug("Closing engine", zap.String("database", name))
		if err := e.Close(); err != nil {
			logger.Error("Error closing engine", zap.String("database", name), zap.Error(err))
			return fmt.Errorf("error closing engine (%s): %w", name, err)
		}
		*eng = nil
		return nil
	}
}

// GetDBNameFromDSN extracts the database name from a postgres URL DSN, or
// returns "unknown".
func GetDBNameFromDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "unknown"
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return "unknown"
	}
	return name
}
