package bridge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/veiloq/greenlight/bridge"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSpawn_AwaitRunsOnBridge(t *testing.T) {
	unit, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx, err := bridge.Spawn(unit)
	require.NoError(t, err)
	require.True(t, bridge.Established(ctx))
	assert.False(t, bridge.Established(unit), "the parent context must not see the bridge")

	got, err := bridge.Await(ctx, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestAwait_WithoutSpawn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	called := false
	_, err := bridge.Await(ctx, func() (struct{}, error) {
		called = true
		return struct{}{}, nil
	})
	require.ErrorIs(t, err, bridge.ErrMissingBridge)
	assert.False(t, called)
}

func TestAwait_BridgeFromEndedUnit(t *testing.T) {
	// A bridge spawned in a unit that has already finished is not usable from
	// a later unit, even if its context leaks through.
	fixtureUnit, cancel := context.WithCancel(context.Background())
	leaked, err := bridge.Spawn(fixtureUnit)
	require.NoError(t, err)
	cancel()

	_, err = bridge.Await(leaked, func() (int, error) { return 1, nil })
	require.ErrorIs(t, err, bridge.ErrClosed)
	assert.False(t, bridge.Established(leaked))
}

func TestSpawn_Idempotent(t *testing.T) {
	unit, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := bridge.Spawn(unit)
	require.NoError(t, err)
	second, err := bridge.Spawn(first)
	require.NoError(t, err)
	assert.Equal(t, bridge.From(first).ID(), bridge.From(second).ID())
}

func TestSpawn_DistinctUnitsGetDistinctBridges(t *testing.T) {
	u1, c1 := context.WithCancel(context.Background())
	defer c1()
	u2, c2 := context.WithCancel(context.Background())
	defer c2()

	b1, err := bridge.Spawn(u1)
	require.NoError(t, err)
	b2, err := bridge.Spawn(u2)
	require.NoError(t, err)
	assert.NotEqual(t, bridge.From(b1).ID(), bridge.From(b2).ID())
}

func TestSpawn_Rejections(t *testing.T) {
	_, err := bridge.Spawn(context.Background())
	require.ErrorIs(t, err, bridge.ErrNotCancellable)

	done, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = bridge.Spawn(done)
	require.ErrorIs(t, err, context.Canceled)

	//nolint:staticcheck // exercising the nil guard
	_, err = bridge.Spawn(nil)
	require.Error(t, err)
}

func TestAwait_ErrorAndPanicPropagation(t *testing.T) {
	unit, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, err := bridge.Spawn(unit)
	require.NoError(t, err)

	boom := errors.New("driver failure")
	_, err = bridge.Await(ctx, func() (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)

	assert.PanicsWithValue(t, "kaboom", func() {
		_, _ = bridge.Await(ctx, func() (int, error) { panic("kaboom") })
	})

	// The worker survives a panicking call.
	v, err := bridge.Await(ctx, func() (string, error) { return "still alive", nil })
	require.NoError(t, err)
	assert.Equal(t, "still alive", v)
}

func TestAwait_CallerCancellation(t *testing.T) {
	unit, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, err := bridge.Spawn(unit)
	require.NoError(t, err)

	callCtx, callCancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer callCancel()
	release := make(chan struct{})
	defer close(release)

	_, err = bridge.Await(callCtx, func() (int, error) {
		<-release
		return 0, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistry(t *testing.T) {
	e, err := bridge.Lookup(bridge.DefaultEntryPoint)
	require.NoError(t, err)
	require.NotNil(t, e)

	_, err = bridge.Lookup("bridge.SpawnLegacy")
	require.ErrorIs(t, err, bridge.ErrEntryPointNotFound)

	bridge.Register("bridge.testAlias", bridge.Spawn)
	assert.Contains(t, bridge.EntryPoints(), "bridge.testAlias")
	assert.Contains(t, bridge.EntryPoints(), bridge.DefaultEntryPoint)
}
