package asyncdb

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// conn is the blocking driver surface the engine bridges.
type conn interface {
	exec(ctx context.Context, query string, args []any) (int64, error)
	scanRow(ctx context.Context, query string, args []any, dest []any) error
}

type backend interface {
	conn
	begin(ctx context.Context) (txConn, error)
	ping(ctx context.Context) error
	stdDB() *sql.DB
	close() error
}

type txConn interface {
	conn
	commit(ctx context.Context) error
	rollback(ctx context.Context) error
}

// --- database/sql ---

type sqlBackend struct {
	db    *sql.DB
	owned bool
}

func (b *sqlBackend) exec(ctx context.Context, query string, args []any) (int64, error) {
	return sqlExec(ctx, b.db, query, args)
}

func (b *sqlBackend) scanRow(ctx context.Context, query string, args []any, dest []any) error {
	return mapNoRows(b.db.QueryRowContext(ctx, query, args...).Scan(dest...))
}

func (b *sqlBackend) begin(ctx context.Context) (txConn, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (b *sqlBackend) ping(ctx context.Context) error { return b.db.PingContext(ctx) }

func (b *sqlBackend) stdDB() *sql.DB { return b.db }

func (b *sqlBackend) close() error {
	if !b.owned {
		return nil
	}
	return b.db.Close()
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) exec(ctx context.Context, query string, args []any) (int64, error) {
	return sqlExec(ctx, t.tx, query, args)
}

func (t *sqlTx) scanRow(ctx context.Context, query string, args []any, dest []any) error {
	return mapNoRows(t.tx.QueryRowContext(ctx, query, args...).Scan(dest...))
}

func (t *sqlTx) commit(context.Context) error   { return mapTxDone(t.tx.Commit()) }
func (t *sqlTx) rollback(context.Context) error { return mapTxDone(t.tx.Rollback()) }

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func sqlExec(ctx context.Context, db sqlExecer, query string, args []any) (int64, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- pgx ---

type pgxBackend struct {
	pool  *pgxpool.Pool
	owned bool

	stdOnce sync.Once
	std     *sql.DB
}

func (b *pgxBackend) exec(ctx context.Context, query string, args []any) (int64, error) {
	tag, err := b.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (b *pgxBackend) scanRow(ctx context.Context, query string, args []any, dest []any) error {
	return mapNoRows(b.pool.QueryRow(ctx, query, args...).Scan(dest...))
}

func (b *pgxBackend) begin(ctx context.Context) (txConn, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxTx{tx: tx}, nil
}

func (b *pgxBackend) ping(ctx context.Context) error { return b.pool.Ping(ctx) }

func (b *pgxBackend) stdDB() *sql.DB {
	b.stdOnce.Do(func() { b.std = stdlib.OpenDBFromPool(b.pool) })
	return b.std
}

func (b *pgxBackend) close() error {
	var err error
	if b.std != nil {
		err = b.std.Close()
	}
	if b.owned {
		b.pool.Close()
	}
	return err
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) exec(ctx context.Context, query string, args []any) (int64, error) {
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgxTx) scanRow(ctx context.Context, query string, args []any, dest []any) error {
	return mapNoRows(t.tx.QueryRow(ctx, query, args...).Scan(dest...))
}

func (t *pgxTx) commit(ctx context.Context) error   { return mapTxDone(t.tx.Commit(ctx)) }
func (t *pgxTx) rollback(ctx context.Context) error { return mapTxDone(t.tx.Rollback(ctx)) }

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return ErrNoRows
	}
	return err
}

func mapTxDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) || errors.Is(err, pgx.ErrTxClosed) {
		return ErrTxDone
	}
	return err
}
