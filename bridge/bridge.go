// Package bridge binds a worker to a single unit of work (a context.Context)
// so that blocking driver calls made anywhere below that context are executed
// on the worker and awaited cooperatively by the caller.
//
// A bridge is established with Spawn and lives until the context it was bound
// to is cancelled. Contexts that do not descend from the context returned by
// Spawn have no bridge; Await fails on them with ErrMissingBridge.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrMissingBridge is returned by Await when no bridge was established for
	// the unit of work the context belongs to.
	ErrMissingBridge = errors.New("bridge: no bridge established in this unit of work (Spawn was not called on this context)")
	// ErrClosed is returned by Await when the bridge found in the context
	// belonged to a unit of work that has already ended.
	ErrClosed = errors.New("bridge: unit of work that owned the bridge has ended")
	// ErrNotCancellable is returned by Spawn for contexts that can never be
	// cancelled, since the worker would never exit.
	ErrNotCancellable = errors.New("bridge: unit of work context is not cancellable")
)

type ctxKey struct{}

var nextID atomic.Uint64

// Bridge is the worker bound to one unit of work.
type Bridge struct {
	id    uint64
	calls chan func()
	done  <-chan struct{}
}

// ID identifies the bridge. IDs are never reused within a process.
func (b *Bridge) ID() uint64 {
	return b.id
}

func (b *Bridge) alive() bool {
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

func (b *Bridge) loop() {
	for {
		select {
		case fn := <-b.calls:
			fn()
		case <-b.done:
			return
		}
	}
}

// Spawn establishes a bridge for the unit of work ctx belongs to and returns
// the context that carries it. Calling Spawn on a context that already has a
// live bridge returns ctx unchanged.
func Spawn(ctx context.Context) (context.Context, error) {
	if ctx == nil {
		return nil, errors.New("bridge: nil context")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("bridge: spawn on finished unit of work: %w", err)
	}
	if b := From(ctx); b != nil && b.alive() {
		return ctx, nil
	}
	if ctx.Done() == nil {
		return nil, ErrNotCancellable
	}

	b := &Bridge{
		id:    nextID.Add(1),
		calls: make(chan func()),
		done:  ctx.Done(),
	}
	go b.loop()
	return context.WithValue(ctx, ctxKey{}, b), nil
}

// From returns the bridge carried by ctx, or nil.
func From(ctx context.Context) *Bridge {
	if ctx == nil {
		return nil
	}
	b, _ := ctx.Value(ctxKey{}).(*Bridge)
	return b
}

// Established reports whether ctx carries a live bridge.
func Established(ctx context.Context) bool {
	b := From(ctx)
	return b != nil && b.alive()
}

type result[T any] struct {
	val      T
	err      error
	panicked bool
	panicVal any
}

// Await runs fn on the bridge bound to ctx and waits for it, or for ctx to be
// done. A panic inside fn is re-raised on the caller's goroutine.
func Await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	b := From(ctx)
	if b == nil {
		return zero, ErrMissingBridge
	}
	if !b.alive() {
		return zero, ErrClosed
	}

	res := make(chan result[T], 1)
	call := func() {
		var r result[T]
		defer func() {
			if p := recover(); p != nil {
				r.panicked = true
				r.panicVal = p
			}
			res <- r
		}()
		r.val, r.err = fn()
	}

	select {
	case b.calls <- call:
	case <-b.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-res:
		if r.panicked {
			panic(r.panicVal)
		}
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
