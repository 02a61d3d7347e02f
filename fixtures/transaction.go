package fixtures

import (
	"context"
	"errors"

	"github.com/veiloq/greenlight/asyncdb"
)

// Beginner starts a transaction. *asyncdb.Engine starts a top-level one,
// *asyncdb.Tx a nested one backed by a savepoint.
type Beginner interface {
	Begin(ctx context.Context) (*asyncdb.Tx, error)
}

var (
	_ Beginner = (*asyncdb.Engine)(nil)
	_ Beginner = (*asyncdb.Tx)(nil)
)

type txOptions struct {
	commit bool
}

// TxOption configures Transaction.
type TxOption func(*txOptions)

// Commit keeps the changes made by fn when it succeeds.
func Commit() TxOption {
	return func(o *txOptions) { o.commit = true }
}

// Transaction runs fn inside a transaction started from b. The transaction is
// rolled back when fn returns unless Commit is given and fn succeeded. An
// error from fn is returned unchanged; a panic rolls back and is re-raised.
// fn may end the transaction itself.
func Transaction(ctx context.Context, b Beginner, fn func(ctx context.Context, tx *asyncdb.Tx) error, opts ...TxOption) error {
	var o txOptions
	for _, opt := range opts {
		opt(&o)
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return err
	}

	done := false
	defer func() {
		if !done {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		done = true
		_ = tx.Rollback(ctx)
		return err
	}
	done = true

	if o.commit {
		err = tx.Commit(ctx)
	} else {
		err = tx.Rollback(ctx)
	}
	if errors.Is(err, asyncdb.ErrTxDone) {
		return nil
	}
	return err
}
