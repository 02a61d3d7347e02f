package asyncdb

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/veiloq/greenlight/bridge"
)

// Tx is a transaction, or a savepoint inside one when created by Tx.Begin.
type Tx struct {
	engine    *Engine
	root      txConn
	parent    *Tx
	savepoint string // empty for the outermost transaction
	depth     int

	mu   sync.Mutex
	done bool
}

// Depth is 0 for a top-level transaction and increases with each nested Begin.
func (tx *Tx) Depth() int {
	return tx.depth
}

// Parent returns the enclosing transaction of a savepoint, or nil.
func (tx *Tx) Parent() *Tx {
	return tx.parent
}

func (tx *Tx) isDone() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.done
}

func (tx *Tx) markDone() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return false
	}
	tx.done = true
	return true
}

// Exec runs a statement inside the transaction.
func (tx *Tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if tx.isDone() {
		return 0, ErrTxDone
	}
	return execOn(ctx, tx.engine.logger, tx.root, query, args)
}

// QueryRow prepares a single-row query inside the transaction.
func (tx *Tx) QueryRow(ctx context.Context, query string, args ...any) *Row {
	row := &Row{ctx: ctx, conn: tx.root, query: query, args: args, logger: tx.engine.logger}
	if tx.isDone() {
		row.err = ErrTxDone
	}
	return row
}

// Begin opens a nested transaction backed by a savepoint.
func (tx *Tx) Begin(ctx context.Context) (*Tx, error) {
	if tx.isDone() {
		return nil, ErrTxDone
	}
	name := fmt.Sprintf("greenlight_sp_%d", tx.depth+1)
	if _, err := tx.rawExec(ctx, "SAVEPOINT "+name); err != nil {
		return nil, fmt.Errorf("asyncdb: begin nested: %w", err)
	}
	tx.engine.logger.Debug("Savepoint created", zap.String("savepoint", name))
	return &Tx{
		engine:    tx.engine,
		root:      tx.root,
		parent:    tx,
		savepoint: name,
		depth:     tx.depth + 1,
	}, nil
}

// Commit commits the transaction, or releases the savepoint.
func (tx *Tx) Commit(ctx context.Context) error {
	if !tx.markDone() {
		return ErrTxDone
	}
	if tx.savepoint != "" {
		if _, err := tx.rawExec(ctx, "RELEASE SAVEPOINT "+tx.savepoint); err != nil {
			return fmt.Errorf("asyncdb: release savepoint: %w", err)
		}
		return nil
	}
	_, err := bridge.Await(ctx, func() (struct{}, error) {
		return struct{}{}, tx.root.commit(ctx)
	})
	if err != nil {
		return fmt.Errorf("asyncdb: commit: %w", err)
	}
	tx.engine.logger.Debug("Transaction committed")
	return nil
}

// Rollback aborts the transaction, or rolls back to the savepoint.
func (tx *Tx) Rollback(ctx context.Context) error {
	if !tx.markDone() {
		return ErrTxDone
	}
	if tx.savepoint != "" {
		if _, err := tx.rawExec(ctx, "ROLLBACK TO SAVEPOINT "+tx.savepoint); err != nil {
			return fmt.Errorf("asyncdb: rollback to savepoint: %w", err)
		}
		if _, err := tx.rawExec(ctx, "RELEASE SAVEPOINT "+tx.savepoint); err != nil {
			return fmt.Errorf("asyncdb: release savepoint: %w", err)
		}
		return nil
	}
	_, err := bridge.Await(ctx, func() (struct{}, error) {
		return struct{}{}, tx.root.rollback(ctx)
	})
	if err != nil {
		return fmt.Errorf("asyncdb: rollback: %w", err)
	}
	tx.engine.logger.Debug("Transaction rolled back")
	return nil
}

func (tx *Tx) rawExec(ctx context.Context, stmt string) (int64, error) {
	return bridge.Await(ctx, func() (int64, error) {
		return tx.root.exec(ctx, stmt, nil)
	})
}
