/*
Package greenlight makes sure the async bridge used by asyncdb is established
inside the same unit of work as the test body that needs it.

asyncdb runs every blocking driver call through a bridge worker that is bound
to a context.Context by bridge.Spawn. The binding is per unit of work: a bridge
spawned while a fixture was being built belongs to the fixture's context and
is gone by the time the test body runs. The test then fails deep inside the
driver with bridge.ErrMissingBridge or bridge.ErrClosed.

The plugin installs a hook on a harness.Runner. For every test function whose
first parameter is a context.Context it substitutes, for that invocation only,
a wrapper of the identical type that first establishes the bridge in the
runner-provided context and then calls the original body with the established
context. Synchronous tests are invoked untouched.

Example:

	func TestUsers(t *testing.T) {
		r, _, err := greenlight.Setup(t, os.Args[1:])
		require.NoError(t, err)
		require.NoError(t, r.Provide(func(tb testing.TB) *asyncdb.Engine {
			return fixtures.Engine(tb, "sqlite", filepath.Join(tb.TempDir(), "app.db"))
		}))

		require.NoError(t, r.Add("insert", func(ctx context.Context, eng *asyncdb.Engine) error {
			return fixtures.Transaction(ctx, eng, func(ctx context.Context, tx *asyncdb.Tx) error {
				_, err := tx.Exec(ctx, "INSERT INTO users(name) VALUES (?)", "alice")
				return err
			})
		}))
		r.Run(t)
	}

Interception is controlled by --greenlight-autouse and --greenlight-debug
(passed after -args), or GREENLIGHT_AUTOUSE / GREENLIGHT_DEBUG.
*/
package greenlight
