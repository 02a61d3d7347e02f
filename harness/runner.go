// Package harness runs test functions that declare their dependencies as
// parameters. A context.Context parameter receives the invocation's unit of
// work, testing.TB or *testing.T the running test, and any other type the
// value produced by a registered fixture provider.
//
// Every invocation passes through the registered hooks, which may substitute
// the function that is actually called.
package harness

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type registeredTest struct {
	name string
	fn   any
}

// Runner resolves arguments and invokes test functions through hooks.
type Runner struct {
	mu       sync.Mutex
	hooks    []Hook
	fixtures map[reflect.Type]reflect.Value
	tests    []registeredTest
	logger   *zap.Logger
	timeout  time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used for invocation tracing.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTimeout bounds every unit of work (test and fixture) with a deadline.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// NewRunner creates an empty runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		fixtures: make(map[reflect.Type]reflect.Value),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Use registers a hook. Hooks registered first wrap outermost.
func (r *Runner) Use(h Hook) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// Provide registers a fixture provider. The provider's first result type is
// the fixture type; an optional second result must be an error. Its
// parameters are resolved like a test function's.
func (r *Runner) Provide(provider any) error {
	v := reflect.ValueOf(provider)
	if v.Kind() != reflect.Func {
		return fmt.Errorf("harness: fixture provider must be a func, got %T", provider)
	}
	ft := v.Type()
	switch {
	case ft.NumOut() == 1:
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
	default:
		return fmt.Errorf("harness: fixture provider %s must return (T) or (T, error)", ft)
	}
	typ := ft.Out(0)
	if typ == errorType || typ == contextType || typ == tbType || typ == tType {
		return fmt.Errorf("harness: fixture provider %s cannot provide built-in type %s", ft, typ)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.fixtures[typ]; dup {
		return fmt.Errorf("harness: fixture for %s already registered", typ)
	}
	r.fixtures[typ] = v
	return nil
}

// Add registers a test function to be executed by Run.
func (r *Runner) Add(name string, fn any) error {
	if err := checkTestFunc(reflect.ValueOf(fn)); err != nil {
		return fmt.Errorf("harness: test %q: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tests = append(r.tests, registeredTest{name: name, fn: fn})
	return nil
}

// Run executes every added test as a subtest of t and reports failures.
func (r *Runner) Run(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	tests := slices.Clone(r.tests)
	r.mu.Unlock()

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Helper()
			out := r.Invoke(t, tc.name, tc.fn)
			if out.Panic != nil {
				t.Fatalf("test panicked: %v", out.Panic)
			}
			if out.Err != nil {
				t.Fatalf("%v", out.Err)
			}
		})
	}
}

// Invoke runs a single test function through the hook chain and returns its
// outcome without reporting it to t.
func (r *Runner) Invoke(t testing.TB, name string, fn any) Outcome {
	v := reflect.ValueOf(fn)
	if err := checkTestFunc(v); err != nil {
		return Outcome{Err: fmt.Errorf("harness: test %q: %w", name, err)}
	}

	unit, cancel := r.unitContext()
	defer cancel()

	args, err := r.resolveArgs(unit, t, v.Type(), make(map[reflect.Type]reflect.Value), nil)
	if err != nil {
		return Outcome{Err: fmt.Errorf("harness: resolving arguments for %s: %w", name, err)}
	}

	item := &Item{Name: name, Func: v, Args: args, original: v}

	r.mu.Lock()
	hooks := slices.Clone(r.hooks)
	r.mu.Unlock()

	proceed := func() Outcome { return call(item) }
	for i := len(hooks) - 1; i >= 0; i-- {
		h, next := hooks[i], proceed
		proceed = func() Outcome { return h.WrapCall(item, next) }
	}

	r.logger.Debug("Invoking test", zap.String("test", name), zap.Bool("async", IsAsync(v)))
	out := proceed()
	r.logger.Debug("Test finished", zap.String("test", name),
		zap.Bool("failed", out.Failed()), zap.Duration("duration", out.Duration))
	return out
}

func (r *Runner) unitContext() (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(context.Background(), r.timeout)
	}
	return context.WithCancel(context.Background())
}

func (r *Runner) resolveArgs(unit context.Context, t testing.TB, ft reflect.Type, cache map[reflect.Type]reflect.Value, stack []reflect.Type) ([]reflect.Value, error) {
	n := ft.NumIn()
	if ft.IsVariadic() {
		n-- // the variadic tail is left empty
	}
	args := make([]reflect.Value, 0, n)
	for i := 0; i < n; i++ {
		v, err := r.resolve(unit, t, ft.In(i), cache, stack)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

func (r *Runner) resolve(unit context.Context, t testing.TB, typ reflect.Type, cache map[reflect.Type]reflect.Value, stack []reflect.Type) (reflect.Value, error) {
	switch typ {
	case contextType:
		return reflect.ValueOf(&unit).Elem(), nil
	case tbType:
		return reflect.ValueOf(&t).Elem(), nil
	case tType:
		tt, ok := t.(*testing.T)
		if !ok {
			return reflect.Value{}, fmt.Errorf("parameter %s requires a *testing.T, got %T", typ, t)
		}
		return reflect.ValueOf(tt), nil
	}

	if v, ok := cache[typ]; ok {
		return v, nil
	}
	if slices.Contains(stack, typ) {
		return reflect.Value{}, fmt.Errorf("fixture cycle through %s", typ)
	}

	r.mu.Lock()
	provider, ok := r.fixtures[typ]
	r.mu.Unlock()
	if !ok {
		return reflect.Value{}, fmt.Errorf("no fixture provides %s", typ)
	}

	// Each fixture runs in its own unit of work, which ends as soon as the
	// provider returns.
	fixtureUnit, cancel := r.unitContext()
	defer cancel()

	args, err := r.resolveArgs(fixtureUnit, t, provider.Type(), cache, append(stack, typ))
	if err != nil {
		return reflect.Value{}, err
	}
	outs := provider.Call(args)
	if len(outs) == 2 && !outs[1].IsNil() {
		return reflect.Value{}, fmt.Errorf("fixture %s: %w", typ, outs[1].Interface().(error))
	}
	cache[typ] = outs[0]
	return outs[0], nil
}

func call(item *Item) (out Outcome) {
	start := time.Now()
	defer func() {
		out.Duration = time.Since(start)
		if p := recover(); p != nil {
			out.Panic = p
		}
	}()

	results := item.Func.Call(item.Args)
	if len(results) == 1 {
		if err, _ := results[0].Interface().(error); err != nil {
			out.Err = err
		}
	}
	return out
}

func checkTestFunc(v reflect.Value) error {
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Errorf("test must be a non-nil func")
	}
	ft := v.Type()
	switch {
	case ft.NumOut() == 0:
	case ft.NumOut() == 1 && ft.Out(0) == errorType:
	default:
		return fmt.Errorf("test func %s must return nothing or a single error", ft)
	}
	return nil
}
