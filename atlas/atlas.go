// Package atlas applies versioned Atlas migration directories to test
// databases, using Atlas's postgres or sqlite driver depending on the engine
// dialect.
package atlas

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/sqlite"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"go.uber.org/zap"
)

// DefaultHCLPath is used by NewMigrator when hclPath is empty.
const DefaultHCLPath = "atlas.hcl"

const applyTimeout = 90 * time.Second

// Migrator implements migration.Migrator with the Atlas executor.
type Migrator struct {
	hclPath string // empty when created by NewDirMigrator
	dirPath string

	once    sync.Once
	dir     migrate.Dir
	initErr error
}

// NewMigrator reads the migration directory from the env blocks of an
// atlas.hcl file. The "local" env is preferred; otherwise the first env with a
// migration block is used. A missing file makes Apply a no-op.
func NewMigrator(hclPath string) *Migrator {
	if hclPath == "" {
		hclPath = DefaultHCLPath
	}
	return &Migrator{hclPath: hclPath}
}

// NewDirMigrator applies the migration directory at dir.
func NewDirMigrator(dir string) *Migrator {
	return &Migrator{dirPath: dir}
}

// Apply applies all pending migrations. The directory is resolved on the
// first call.
func (m *Migrator) Apply(ctx context.Context, db *sql.DB, dialect string, logger *zap.Logger) error {
	logger = logger.With(zap.String("migrator", "atlas"))
	m.once.Do(func() { m.dir, m.initErr = m.initialize(logger) })
	if m.initErr != nil {
		return m.initErr
	}
	if m.dir == nil {
		logger.Info("Migrations skipped: no Atlas migration directory configured.")
		return nil
	}

	logger.Info("Applying Atlas migrations...",
		zap.String("dialect", dialect),
		zap.String("source_dir", m.dirPath))

	applyCtx, cancel := context.WithTimeout(ctx, applyTimeout)
	defer cancel()

	drv, err := openDriver(applyCtx, db, dialect)
	if err != nil {
		logger.Error("Failed to open Atlas driver", zap.String("dialect", dialect), zap.Error(err))
		return err
	}
	if err := m.execute(applyCtx, drv, logger); err != nil {
		return fmt.Errorf("failed to apply Atlas migrations from %q: %w", m.dirPath, err)
	}
	return nil
}

func (m *Migrator) initialize(logger *zap.Logger) (migrate.Dir, error) {
	if m.hclPath != "" {
		dirPath, err := m.dirFromHCL(logger)
		if err != nil || dirPath == "" {
			return nil, err
		}
		m.dirPath = dirPath
	}

	absDir, err := filepath.Abs(m.dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migration dir %q: %w", m.dirPath, err)
	}
	m.dirPath = absDir
	dir, err := migrate.NewLocalDir(absDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration dir %q: %w", absDir, err)
	}
	logger.Debug("Resolved migration directory.",
		zap.String("path", absDir),
		zap.String("url", "file://"+filepath.ToSlash(absDir)))
	return dir, nil
}

// dirFromHCL returns the migration directory declared in the HCL file,
// resolved relative to the file. It returns "" when the file does not exist.
func (m *Migrator) dirFromHCL(logger *zap.Logger) (string, error) {
	absHCLPath, err := filepath.Abs(m.hclPath)
	if err != nil {
		return "", fmt.Errorf("failed to determine absolute path for atlas HCL file %q: %w", m.hclPath, err)
	}
	if _, err := os.Stat(absHCLPath); err != nil {
		if os.IsNotExist(err) {
			logger.Info("Atlas HCL file not found, skipping Atlas migrations.", zap.String("path", absHCLPath))
			return "", nil
		}
		return "", fmt.Errorf("failed to stat atlas HCL file %q: %w", absHCLPath, err)
	}

	var conf atlasConfigHCL
	if err := hclsimple.DecodeFile(absHCLPath, nil, &conf); err != nil {
		return "", fmt.Errorf("failed to decode atlas HCL file %q: %w", absHCLPath, err)
	}
	rel, err := findMigrationDir(&conf, absHCLPath, logger)
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(absHCLPath), strings.TrimPrefix(rel, "file://")), nil
}

func findMigrationDir(conf *atlasConfigHCL, hclPath string, logger *zap.Logger) (string, error) {
	for _, env := range conf.Envs {
		if env.Name == "local" && env.Migration != nil && env.Migration.Dir != "" {
			return env.Migration.Dir, nil
		}
	}
	for _, env := range conf.Envs {
		if env.Migration != nil && env.Migration.Dir != "" {
			logger.Warn("Atlas 'local' env not found or missing migration dir. Falling back to first env.",
				zap.String("hcl_path", hclPath),
				zap.String("fallback_env", env.Name),
				zap.String("dir", env.Migration.Dir))
			return env.Migration.Dir, nil
		}
	}
	return "", fmt.Errorf("no env.migration.dir defined in atlas config %q", hclPath)
}

func openDriver(ctx context.Context, db *sql.DB, dialect string) (migrate.Driver, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	switch dialect {
	case "postgres":
		drv, err := postgres.Open(db)
		if err != nil {
			return nil, fmt.Errorf("failed to open atlas postgres driver: %w", err)
		}
		return drv, nil
	case "sqlite":
		drv, err := sqlite.Open(db)
		if err != nil {
			return nil, fmt.Errorf("failed to open atlas sqlite driver: %w", err)
		}
		return drv, nil
	default:
		return nil, fmt.Errorf("atlas: unsupported dialect %q", dialect)
	}
}

func (m *Migrator) execute(ctx context.Context, drv migrate.Driver, logger *zap.Logger) error {
	exec, err := migrate.NewExecutor(drv, m.dir, migrate.NopRevisionReadWriter{},
		migrate.WithLogger(&zapMigrateLogger{logger: logger}))
	if err != nil {
		return fmt.Errorf("failed to create atlas executor: %w", err)
	}
	if err := exec.ExecuteN(ctx, 0); err != nil {
		if errors.Is(err, migrate.ErrNoPendingFiles) {
			logger.Info("No pending Atlas migrations to apply.")
			return nil
		}
		logger.Error("Failed to apply Atlas migrations via executor",
			zap.String("source_dir", m.dirPath), zap.Error(err))
		return err
	}
	logger.Info("Successfully applied Atlas migrations")
	return nil
}

// --- HCL Parsing Structs ---

type atlasConfigHCL struct {
	Envs []*atlasEnvHCL `hcl:"env,block"`
}

type atlasEnvHCL struct {
	Name      string             `hcl:"name,label"`
	Migration *atlasMigrationHCL `hcl:"migration,block"`
}

type atlasMigrationHCL struct {
	Dir string `hcl:"dir"`
}

// zapMigrateLogger adapts a *zap.Logger to migrate.Logger.
type zapMigrateLogger struct {
	logger *zap.Logger
}

// Log implements migrate.Logger.
func (l *zapMigrateLogger) Log(entry migrate.LogEntry) {
	switch e := entry.(type) {
	case migrate.LogExecution:
		l.logger.Info("Atlas migration execution starting",
			zap.String("from_version", e.From),
			zap.String("to_version", e.To),
			zap.Int("num_files", len(e.Files)))
	case migrate.LogFile:
		l.logger.Info("Applying migration file", zap.String("file", e.File.Name()), zap.Int("skip_stmts", e.Skip))
	case migrate.LogStmt:
		l.logger.Debug("Executing statement", zap.String("sql", e.SQL))
	case migrate.LogError:
		l.logger.Error("Atlas migration error", zap.String("sql", e.SQL), zap.Error(e.Error))
	case migrate.LogDone:
		l.logger.Info("Atlas migration execution finished")
	default:
		l.logger.Debug("Atlas log entry", zap.Any("entry", entry))
	}
}
