package greenlight_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/veiloq/greenlight"
	"github.com/veiloq/greenlight/bridge"
	"github.com/veiloq/greenlight/config"
	"github.com/veiloq/greenlight/harness"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// database/sql keeps a connection opener per *sql.DB until Close.
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

func newPlugin(t *testing.T, cfg config.Config, opts ...config.Option) *greenlight.Plugin {
	t.Helper()
	p, err := greenlight.New(t, cfg, opts...)
	require.NoError(t, err)
	return p
}

func newRunner(p *greenlight.Plugin) *harness.Runner {
	r := harness.NewRunner()
	greenlight.Install(r, p)
	return r
}

func awaitOnce(ctx context.Context) error {
	_, err := bridge.Await(ctx, func() (int, error) { return 1, nil })
	return err
}

// resolverWith returns a resolver that always yields e.
func resolverWith(e bridge.Establisher) config.Option {
	return config.WithResolver(func(string) (bridge.Establisher, error) { return e, nil })
}

func TestNew_ProbesPrimitive(t *testing.T) {
	p := newPlugin(t, config.DefaultConfig())
	assert.True(t, p.Available())
	assert.NoError(t, p.ProbeErr())
	assert.Equal(t, config.DefaultConfig(), p.Config())
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := greenlight.New(t, config.Config{Autouse: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNew_ProbesOnlyOnce(t *testing.T) {
	lookups := 0
	p := newPlugin(t, config.DefaultConfig(), config.WithResolver(func(name string) (bridge.Establisher, error) {
		lookups++
		return bridge.Lookup(name)
	}))
	r := newRunner(p)
	for range 3 {
		out := r.Invoke(t, "probe", func(ctx context.Context) error { return awaitOnce(ctx) })
		require.NoError(t, out.Err)
	}
	assert.Equal(t, 1, lookups)
}

func TestWrapCall_EstablishesBeforeBody(t *testing.T) {
	var events []string
	establish := func(ctx context.Context) (context.Context, error) {
		events = append(events, "establish")
		return bridge.Spawn(ctx)
	}
	p := newPlugin(t, config.DefaultConfig(), resolverWith(establish))

	out := newRunner(p).Invoke(t, "ordered", func(ctx context.Context) error {
		events = append(events, "body")
		assert.True(t, bridge.Established(ctx))
		return awaitOnce(ctx)
	})
	require.NoError(t, out.Err)
	assert.Equal(t, []string{"establish", "body"}, events)
}

func TestWrapCall_FreshBridgePerInvocation(t *testing.T) {
	r := newRunner(newPlugin(t, config.DefaultConfig()))

	var ids []uint64
	test := func(ctx context.Context) error {
		b := bridge.From(ctx)
		require.NotNil(t, b)
		ids = append(ids, b.ID())
		return awaitOnce(ctx)
	}
	require.NoError(t, r.Invoke(t, "first", test).Err)
	require.NoError(t, r.Invoke(t, "second", test).Err)

	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
}

func TestWrapCall_SubstitutionIsScopedToInvocation(t *testing.T) {
	p := newPlugin(t, config.DefaultConfig())
	r := harness.NewRunner()

	var restored, substituted bool
	r.Use(harness.HookFunc(func(item *harness.Item, proceed func() harness.Outcome) harness.Outcome {
		out := proceed()
		restored = item.Func.Pointer() == item.Original().Pointer()
		return out
	}))
	greenlight.Install(r, p)
	r.Use(harness.HookFunc(func(item *harness.Item, proceed func() harness.Outcome) harness.Outcome {
		substituted = item.Func.Pointer() != item.Original().Pointer()
		assert.Equal(t, item.Original().Type(), item.Func.Type())
		return proceed()
	}))

	require.NoError(t, r.Invoke(t, "async", func(ctx context.Context) error { return awaitOnce(ctx) }).Err)
	assert.True(t, substituted)
	assert.True(t, restored)
}

func TestWrapCall_SynchronousUntouched(t *testing.T) {
	p := newPlugin(t, config.Config{Autouse: true, Debug: true, Primitive: bridge.DefaultEntryPoint})
	r := newRunner(p)

	var same bool
	r.Use(harness.HookFunc(func(item *harness.Item, proceed func() harness.Outcome) harness.Outcome {
		same = item.Func.Pointer() == item.Original().Pointer()
		return proceed()
	}))

	ran := false
	out := r.Invoke(t, "sync", func(tb testing.TB) { ran = true })
	require.False(t, out.Failed())
	assert.True(t, ran)
	assert.True(t, same)
}

func TestWrapCall_AutouseDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Autouse = false
	p := newPlugin(t, cfg)
	require.True(t, p.Available())

	out := newRunner(p).Invoke(t, "no-autouse", func(ctx context.Context) error {
		assert.False(t, bridge.Established(ctx))
		return awaitOnce(ctx)
	})
	assert.ErrorIs(t, out.Err, bridge.ErrMissingBridge)
}

func TestWrapCall_PrimitiveUnavailable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Primitive = "bridge.SpawnV2"
	cfg.Debug = true
	p := newPlugin(t, cfg)

	assert.False(t, p.Available())
	var envErr *greenlight.EnvironmentError
	require.ErrorAs(t, p.ProbeErr(), &envErr)
	assert.Equal(t, "bridge.SpawnV2", envErr.Primitive)
	assert.ErrorIs(t, p.ProbeErr(), bridge.ErrEntryPointNotFound)

	ran := false
	out := newRunner(p).Invoke(t, "unavailable", func(ctx context.Context) error {
		ran = true
		return awaitOnce(ctx)
	})
	assert.True(t, ran, "the test still runs")
	assert.ErrorIs(t, out.Err, bridge.ErrMissingBridge)
}

func TestNew_ResolverFailures(t *testing.T) {
	tests := []struct {
		name    string
		resolve func(string) (bridge.Establisher, error)
	}{
		{"nil establisher", func(string) (bridge.Establisher, error) { return nil, nil }},
		{"panic", func(string) (bridge.Establisher, error) { panic("import failed") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPlugin(t, config.DefaultConfig(), config.WithResolver(tt.resolve))
			assert.False(t, p.Available())
			var envErr *greenlight.EnvironmentError
			assert.ErrorAs(t, p.ProbeErr(), &envErr)
		})
	}
}

func TestWrapCall_EstablishmentFailure(t *testing.T) {
	cause := errors.New("worker pool exhausted")
	failing := resolverWith(func(context.Context) (context.Context, error) { return nil, cause })

	t.Run("debug off returns cause", func(t *testing.T) {
		p := newPlugin(t, config.DefaultConfig(), failing)
		ran := false
		out := newRunner(p).Invoke(t, "fail", func(ctx context.Context) error {
			ran = true
			return nil
		})
		assert.False(t, ran, "body must not run when establishment fails")
		assert.Same(t, cause, out.Err)
	})

	t.Run("debug on annotates", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Debug = true
		p := newPlugin(t, cfg, failing)
		out := newRunner(p).Invoke(t, "fail", func(ctx context.Context) error { return nil })

		var estErr *greenlight.EstablishmentError
		require.ErrorAs(t, out.Err, &estErr)
		assert.Equal(t, bridge.DefaultEntryPoint, estErr.Primitive)
		assert.Equal(t, "fail", estErr.Test)
		assert.ErrorIs(t, out.Err, cause)
		assert.Contains(t, out.Err.Error(), "check that the installed bridge")
	})

	t.Run("no error result panics", func(t *testing.T) {
		p := newPlugin(t, config.DefaultConfig(), failing)
		out := newRunner(p).Invoke(t, "fail", func(ctx context.Context) {})
		require.NotNil(t, out.Panic)
		err, ok := out.Panic.(error)
		require.True(t, ok)
		assert.ErrorIs(t, err, cause)
	})
}

type duplicateUserError struct{ name string }

func (e *duplicateUserError) Error() string { return "duplicate user " + e.name }

func TestWrapCall_DomainErrorPassesThrough(t *testing.T) {
	r := newRunner(newPlugin(t, config.DefaultConfig()))

	domainErr := &duplicateUserError{name: "alice"}
	out := r.Invoke(t, "domain", func(ctx context.Context) error {
		if err := awaitOnce(ctx); err != nil {
			return err
		}
		return domainErr
	})
	var got *duplicateUserError
	require.ErrorAs(t, out.Err, &got)
	assert.Same(t, domainErr, got)
	assert.Equal(t, "duplicate user alice", out.Err.Error())
}

func TestWrapCall_DomainPanicPassesThrough(t *testing.T) {
	r := newRunner(newPlugin(t, config.DefaultConfig()))
	out := r.Invoke(t, "panics", func(ctx context.Context) error { panic("assertion blew up") })
	assert.Equal(t, "assertion blew up", out.Panic)
}

func TestWrapCall_ContextNotFirstIsSynchronous(t *testing.T) {
	r := newRunner(newPlugin(t, config.DefaultConfig()))
	out := r.Invoke(t, "misdetected", func(tb testing.TB, ctx context.Context) error {
		return awaitOnce(ctx)
	})
	assert.ErrorIs(t, out.Err, bridge.ErrMissingBridge)
}

func TestWrapCall_Variadic(t *testing.T) {
	r := newRunner(newPlugin(t, config.DefaultConfig()))
	out := r.Invoke(t, "variadic", func(ctx context.Context, extra ...string) error {
		assert.Empty(t, extra)
		return awaitOnce(ctx)
	})
	assert.NoError(t, out.Err)
}

func TestWrapCall_TimeoutPropagates(t *testing.T) {
	r := harness.NewRunner(harness.WithTimeout(20*time.Millisecond))
	greenlight.Install(r, newPlugin(t, config.DefaultConfig()))

	out := r.Invoke(t, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

func TestWrap(t *testing.T) {
	p := newPlugin(t, config.DefaultConfig())

	syncFn := reflect.ValueOf(func(tb testing.TB) {})
	assert.Equal(t, syncFn.Pointer(), p.Wrap(syncFn).Pointer())

	wrapped := p.Wrap(reflect.ValueOf(func(ctx context.Context, n int) (int, error) {
		v, err := bridge.Await(ctx, func() (int, error) { return n * 2, nil })
		return v, err
	})).Interface().(func(context.Context, int) (int, error))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got, err := wrapped(ctx, 21)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestSetup(t *testing.T) {
	r, p, err := greenlight.Setup(t, []string{"-test.v", "-test.run=TestSetup", "--greenlight-autouse=false"})
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.False(t, p.Config().Autouse)
	assert.True(t, p.Available())

	_, _, err = greenlight.Setup(t, []string{"--greenlight-primitive="})
	assert.Error(t, err)
}
