// Package db manages the embedded PostgreSQL server behind the PostgresEngine
// fixture: starting and stopping it, port assignment, and creating and
// dropping the per-test databases.
package db

import (
	"context"
	"fmt"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"go.uber.org/zap"

	"github.com/veiloq/greenlight/config"
	"github.com/veiloq/greenlight/internal/cleanup"
)

// AssignRandomPort picks a free port when cfg.Port is 0.
func AssignRandomPort(cfg *config.Postgres, logger *zap.Logger) error {
	if cfg.Port != 0 {
		return nil
	}
	port, err := GetFreePort(cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to get free port: %w", err)
	}
	cfg.Port = uint32(port)
	logger.Info("Assigned random free port", zap.Uint32("port", cfg.Port))
	return nil
}

// StartServer starts an embedded PostgreSQL server described by cfg, keeping
// its runtime files under runtimeDir.
func StartServer(ctx context.Context, cfg config.Postgres, runtimeDir string, logger *zap.Logger) (*embeddedpostgres.EmbeddedPostgres, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("not starting embedded postgres: %w", err)
	}
	epCfg := embeddedpostgres.DefaultConfig().
		Version(cfg.Version).
		Port(cfg.Port).
		Database(cfg.Database).
		Username(cfg.Username).
		Password(cfg.Password).
		RuntimePath(runtimeDir).
		BinariesPath(cfg.BinariesPath).
		StartTimeout(cfg.StartTimeout)
	if cfg.Logger != nil {
		epCfg = epCfg.Logger(cfg.Logger)
	} else {
		epCfg = epCfg.Logger(nil)
	}

	server := embeddedpostgres.NewDatabase(epCfg)
	logger.Info("Starting embedded postgres server...",
		zap.Uint32("port", cfg.Port), zap.String("version", string(cfg.Version)))
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start embedded postgres: %w", err)
	}
	logger.Info("Embedded postgres server started.")
	return server, nil
}

// StopServerFunc returns a cleanup step stopping *server. The pointer is set
// to nil once stopped so repeated calls do nothing.
func StopServerFunc(server **embeddedpostgres.EmbeddedPostgres, logger *zap.Logger) cleanup.Func {
	return func() error {
		s := *server
		if s == nil {
			logger.Debug("Embedded postgres server already stopped or never started.")
			return nil
		}
		logger.Debug("Stopping embedded postgres server...")
		if err := s.Stop(); err != nil {
			logger.Error("Error stopping embedded postgres server", zap.Error(err))
			return fmt.Errorf("error stopping embedded postgres: %w", err)
		}
		*server = nil
		logger.Debug("Embedded postgres server stopped.")
		return nil
	}
}
