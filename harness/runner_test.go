package harness_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/veiloq/greenlight/harness"
)

type dsn string

type store struct {
	dsn  dsn
	unit context.Context
}

func TestIsAsync(t *testing.T) {
	cases := []struct {
		name string
		fn   any
		want bool
	}{
		{"context first", func(ctx context.Context) error { return nil }, true},
		{"context first with t", func(ctx context.Context, t *testing.T) {}, true},
		{"variadic", func(ctx context.Context, xs ...int) error { return nil }, true},
		{"sync t", func(t *testing.T) {}, false},
		{"no params", func() {}, false},
		{"context second", func(t *testing.T, ctx context.Context) error { return nil }, false},
		{"not a func", 42, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, harness.IsAsync(reflect.ValueOf(tc.fn)))
		})
	}
	assert.False(t, harness.IsAsync(reflect.Value{}))
}

func TestInvoke_ResolvesBuiltinsAndFixtures(t *testing.T) {
	r := harness.NewRunner(harness.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, r.Provide(func() dsn { return "sqlite://memory" }))
	require.NoError(t, r.Provide(func(ctx context.Context, tb testing.TB, d dsn) (*store, error) {
		return &store{dsn: d, unit: ctx}, nil
	}))

	var gotCtx context.Context
	var gotStore *store
	out := r.Invoke(t, "uses fixtures", func(ctx context.Context, tt *testing.T, s *store) error {
		gotCtx = ctx
		gotStore = s
		assert.Same(t, t, tt)
		return nil
	})
	require.False(t, out.Failed(), "%+v", out)
	require.NotNil(t, gotStore)
	assert.Equal(t, dsn("sqlite://memory"), gotStore.dsn)

	// The fixture ran in its own unit of work, which ended before the test.
	require.Error(t, gotStore.unit.Err())
	assert.False(t, gotCtx == gotStore.unit, "fixture and test must not share a unit of work")
	// The test's unit ends once the invocation returns.
	assert.ErrorIs(t, gotCtx.Err(), context.Canceled)
}

func TestInvoke_Errors(t *testing.T) {
	r := harness.NewRunner()

	sentinel := errors.New("boom")
	out := r.Invoke(t, "returns error", func(ctx context.Context) error { return sentinel })
	assert.Same(t, sentinel, out.Err)
	assert.Nil(t, out.Panic)

	out = r.Invoke(t, "panics", func() { panic("nope") })
	assert.Equal(t, "nope", out.Panic)
	assert.True(t, out.Failed())

	out = r.Invoke(t, "missing fixture", func(s *store) {})
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "no fixture provides")

	out = r.Invoke(t, "bad signature", func() int { return 1 })
	require.Error(t, out.Err)

	out = r.Invoke(t, "nil func", nil)
	require.Error(t, out.Err)
}

func TestInvoke_FixtureError(t *testing.T) {
	r := harness.NewRunner()
	providerErr := errors.New("cannot connect")
	require.NoError(t, r.Provide(func() (*store, error) { return nil, providerErr }))

	called := false
	out := r.Invoke(t, "fixture fails", func(s *store) { called = true })
	require.ErrorIs(t, out.Err, providerErr)
	assert.False(t, called)
}

type a struct{}
type b struct{}

func TestInvoke_FixtureCycle(t *testing.T) {
	r := harness.NewRunner()
	require.NoError(t, r.Provide(func(b) a { return a{} }))
	require.NoError(t, r.Provide(func(a) b { return b{} }))

	out := r.Invoke(t, "cycle", func(a) {})
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "cycle")
}

func TestProvide_Validation(t *testing.T) {
	r := harness.NewRunner()
	require.Error(t, r.Provide(42))
	require.Error(t, r.Provide(func() {}))
	require.Error(t, r.Provide(func() (int, int) { return 0, 0 }))
	require.Error(t, r.Provide(func() context.Context { return context.Background() }))
	require.NoError(t, r.Provide(func() int { return 1 }))
	require.Error(t, r.Provide(func() int { return 2 }), "duplicate fixture type")
}

func TestHooks_OrderAndSubstitution(t *testing.T) {
	r := harness.NewRunner()
	var trace []string

	r.Use(harness.HookFunc(func(item *harness.Item, proceed func() harness.Outcome) harness.Outcome {
		trace = append(trace, "outer:before")
		out := proceed()
		trace = append(trace, "outer:after")
		return out
	}))
	r.Use(harness.HookFunc(func(item *harness.Item, proceed func() harness.Outcome) harness.Outcome {
		trace = append(trace, "inner:before")
		orig := item.Func
		item.Func = reflect.ValueOf(func(ctx context.Context, n int) error {
			trace = append(trace, fmt.Sprintf("substitute(%d)", n))
			return nil
		})
		defer func() { item.Func = orig }()
		out := proceed()
		trace = append(trace, "inner:after")
		return out
	}))
	r.Use(nil)
	require.NoError(t, r.Provide(func() int { return 7 }))

	out := r.Invoke(t, "substituted", func(ctx context.Context, n int) error {
		trace = append(trace, "original")
		return nil
	})
	require.False(t, out.Failed())
	assert.Equal(t, []string{
		"outer:before", "inner:before", "substitute(7)", "inner:after", "outer:after",
	}, trace)
}

func TestInvoke_Timeout(t *testing.T) {
	r := harness.NewRunner(harness.WithTimeout(10 * time.Millisecond))
	out := r.Invoke(t, "times out", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

func TestInvoke_Variadic(t *testing.T) {
	r := harness.NewRunner()
	var got []int
	out := r.Invoke(t, "variadic", func(ctx context.Context, xs ...int) error {
		got = xs
		return nil
	})
	require.False(t, out.Failed())
	assert.Empty(t, got)
}

func TestRun(t *testing.T) {
	r := harness.NewRunner()
	ran := 0
	require.NoError(t, r.Add("sync", func(t *testing.T) { ran++ }))
	require.NoError(t, r.Add("async", func(ctx context.Context) error {
		ran++
		return ctx.Err()
	}))
	require.Error(t, r.Add("invalid", "not a func"))
	r.Run(t)
	assert.Equal(t, 2, ran)
}
