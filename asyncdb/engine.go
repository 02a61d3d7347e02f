// Package asyncdb is a small database engine whose every I/O operation is
// executed on the bridge bound to the caller's unit of work (see package
// bridge). Calling it from a context without an established bridge fails
// with bridge.ErrMissingBridge.
package asyncdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/veiloq/greenlight/bridge"
)

var (
	// ErrNoRows is returned by Row.Scan when the query produced no rows.
	ErrNoRows = errors.New("asyncdb: no rows in result set")
	// ErrTxDone is returned when using a transaction that was already
	// committed or rolled back.
	ErrTxDone = errors.New("asyncdb: transaction already committed or rolled back")
)

// Engine executes statements through the bridge.
type Engine struct {
	backend backend
	driver  string
	logger  *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger statements are traced to.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func newEngine(b backend, driver string, opts []Option) *Engine {
	e := &Engine{backend: b, driver: driver, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("driver", driver))
	return e
}

// Open opens a database/sql backed engine. The engine owns the *sql.DB.
func Open(driverName, dsn string, opts ...Option) (*Engine, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("asyncdb: open %s: %w", driverName, err)
	}
	return newEngine(&sqlBackend{db: db, owned: true}, driverName, opts), nil
}

// FromDB wraps an existing *sql.DB. Close does not close db.
func FromDB(db *sql.DB, driverName string, opts ...Option) *Engine {
	return newEngine(&sqlBackend{db: db}, driverName, opts)
}

// OpenPool creates a pgx pool backed engine. The engine owns the pool.
func OpenPool(ctx context.Context, dsn string, opts ...Option) (*Engine, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("asyncdb: create pgx pool: %w", err)
	}
	return newEngine(&pgxBackend{pool: pool, owned: true}, "pgx", opts), nil
}

// FromPool wraps an existing pgx pool. Close does not close pool.
func FromPool(pool *pgxpool.Pool, opts ...Option) *Engine {
	return newEngine(&pgxBackend{pool: pool}, "pgx", opts)
}

// Driver returns the driver name the engine was created with.
func (e *Engine) Driver() string {
	return e.driver
}

// Dialect returns the SQL dialect family: "postgres", "sqlite" or the driver
// name when unknown.
func (e *Engine) Dialect() string {
	switch e.driver {
	case "postgres", "pgx", "pgxpool":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return e.driver
	}
}

// StdDB returns a synchronous *sql.DB handle for setup code such as
// migrations. Calls on it do not go through the bridge.
func (e *Engine) StdDB() *sql.DB {
	return e.backend.stdDB()
}

// Exec runs a statement and returns the number of affected rows.
func (e *Engine) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execOn(ctx, e.logger, e.backend, query, args)
}

// QueryRow prepares a single-row query; it runs when Scan is called.
func (e *Engine) QueryRow(ctx context.Context, query string, args ...any) *Row {
	return &Row{ctx: ctx, conn: e.backend, query: query, args: args, logger: e.logger}
}

// Ping verifies the database is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	_, err := bridge.Await(ctx, func() (struct{}, error) {
		return struct{}{}, e.backend.ping(ctx)
	})
	if err != nil {
		return fmt.Errorf("asyncdb: ping: %w", err)
	}
	return nil
}

// Begin starts a transaction.
func (e *Engine) Begin(ctx context.Context) (*Tx, error) {
	tc, err := bridge.Await(ctx, func() (txConn, error) {
		return e.backend.begin(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("asyncdb: begin: %w", err)
	}
	e.logger.Debug("Transaction started")
	return &Tx{engine: e, root: tc}, nil
}

// RunSync runs fn with the synchronous handle on the bridge.
func (e *Engine) RunSync(ctx context.Context, fn func(db *sql.DB) error) error {
	_, err := bridge.Await(ctx, func() (struct{}, error) {
		return struct{}{}, fn(e.backend.stdDB())
	})
	if err != nil {
		return fmt.Errorf("asyncdb: run sync: %w", err)
	}
	return nil
}

// Close releases the engine's resources.
func (e *Engine) Close() error {
	if err := e.backend.close(); err != nil {
		return fmt.Errorf("asyncdb: close: %w", err)
	}
	return nil
}

// Row is the deferred result of QueryRow.
type Row struct {
	ctx    context.Context
	conn   conn
	query  string
	args   []any
	logger *zap.Logger
	err    error
}

// Scan executes the query and copies the first row into dest.
func (r *Row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	r.logger.Debug("Query row", zap.String("sql", r.query))
	_, err := bridge.Await(r.ctx, func() (struct{}, error) {
		return struct{}{}, r.conn.scanRow(r.ctx, r.query, r.args, dest)
	})
	if err != nil {
		if errors.Is(err, ErrNoRows) {
			return ErrNoRows
		}
		return fmt.Errorf("asyncdb: query row: %w", err)
	}
	return nil
}

func execOn(ctx context.Context, logger *zap.Logger, c conn, query string, args []any) (int64, error) {
	logger.Debug("Exec", zap.String("sql", query))
	n, err := bridge.Await(ctx, func() (int64, error) {
		return c.exec(ctx, query, args)
	})
	if err != nil {
		return 0, fmt.Errorf("asyncdb: exec: %w", err)
	}
	return n, nil
}
