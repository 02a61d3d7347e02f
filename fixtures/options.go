package fixtures

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/veiloq/greenlight/asyncdb"
	"github.com/veiloq/greenlight/connection"
	"github.com/veiloq/greenlight/migration"
)

// Settings collects the fixture options.
type Settings struct {
	logger       *zap.Logger
	migrator     migration.Migrator
	driver       connection.Driver
	sharedServer bool
	afterConnect func(ctx context.Context, eng *asyncdb.Engine) error
}

// Option configures a fixture.
type Option func(*Settings)

// WithLogger sets the logger. By default a zaptest logger at Warn level.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Settings) { s.logger = logger }
}

// WithMigrator sets the migrator applied right after the engine is opened.
func WithMigrator(m migration.Migrator) Option {
	return func(s *Settings) { s.migrator = m }
}

// WithSchema applies stmts, in order, as the schema.
func WithSchema(stmts ...string) Option {
	return WithMigrator(migration.Statements(stmts))
}

// WithDriver selects the PostgreSQL driver used by PostgresEngine.
func WithDriver(d connection.Driver) Option {
	return func(s *Settings) { s.driver = d }
}

// WithSharedServer makes PostgresEngine use the already running server
// described by its config instead of starting an embedded one.
func WithSharedServer() Option {
	return func(s *Settings) { s.sharedServer = true }
}

// WithAfterConnect runs fn after migrations, with a context that is not
// bridged. Use the engine's StdDB for seeding.
func WithAfterConnect(fn func(ctx context.Context, eng *asyncdb.Engine) error) Option {
	return func(s *Settings) { s.afterConnect = fn }
}

func applyOptions(t testing.TB, opts []Option) *Settings {
	s := &Settings{
		migrator: migration.NoOpMigrator{},
		driver:   connection.DriverPgxPool,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = zaptest.NewLogger(t, zaptest.Level(zapcore.WarnLevel))
	}
	s.logger = s.logger.Named("fixtures")
	if s.migrator == nil {
		s.migrator = migration.NoOpMigrator{}
	}
	return s
}
