package logger

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/veiloq/greenlight/config"
)

// InitLogger returns the logger the plugin writes diagnostics to.
//
// An explicit logger from the settings is used as-is. Otherwise a zaptest
// logger is created when t is non-nil, and a development logger on stderr when
// it is nil. The level is Debug when debug is enabled and Warn otherwise.
func InitLogger(t testing.TB, debug bool, settings *config.Settings) (*zap.Logger, error) {
	if settings == nil {
		settings = config.ApplyOptions()
	}
	if l := settings.Logger(); l != nil {
		return l, nil
	}

	level := zapcore.WarnLevel
	if debug {
		level = zapcore.DebugLevel
	}

	if t != nil {
		atomicLevel := zap.NewAtomicLevelAt(level)
		if settings.ZapTestLevel() != nil {
			atomicLevel = *settings.ZapTestLevel()
		}
		logger := zaptest.NewLogger(t, zaptest.Level(atomicLevel))
		if len(settings.ZapOptions()) > 0 {
			logger = logger.WithOptions(settings.ZapOptions()...)
		}
		return logger.Named("greenlight"), nil
	}

	devConfig := zap.NewDevelopmentConfig()
	devConfig.Level = zap.NewAtomicLevelAt(level)
	devConfig.OutputPaths = []string{"stderr"}
	devConfig.ErrorOutputPaths = []string{"stderr"}
	logger, err := devConfig.Build(settings.ZapOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create default zap logger: %w", err)
	}
	return logger.Named("greenlight"), nil
}
