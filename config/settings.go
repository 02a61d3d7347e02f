package config

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/veiloq/greenlight/bridge"
)

// Settings holds configuration applied via functional options.
type Settings struct {
	logger       *zap.Logger      // Explicit logger; overrides zaptest/development loggers
	zapOptions   []zap.Option     // Options for zap logger creation
	zapTestLevel *zap.AtomicLevel // Level for the zaptest logger
	resolve      func(name string) (bridge.Establisher, error)
}

// --- Getters ---

func (sts *Settings) Logger() *zap.Logger {
	return sts.logger
}

func (sts *Settings) ZapOptions() []zap.Option {
	return sts.zapOptions
}

func (sts *Settings) ZapTestLevel() *zap.AtomicLevel {
	return sts.zapTestLevel
}

// Resolver returns the function used to locate the context-establishing
// entry point. Defaults to bridge.Lookup.
func (sts *Settings) Resolver() func(name string) (bridge.Establisher, error) {
	return sts.resolve
}

// Option defines a function type for configuring the plugin.
type Option func(*Settings)

// WithLogger uses logger as-is instead of building one.
func WithLogger(logger *zap.Logger) Option {
	return func(sts *Settings) { sts.logger = logger }
}

// WithZapOptions provides additional options for the zap logger.
func WithZapOptions(opts ...zap.Option) Option {
	return func(sts *Settings) { sts.zapOptions = append(sts.zapOptions, opts...) }
}

// WithZapTestLevel sets the minimum log level for the zaptest logger.
func WithZapTestLevel(level zapcore.Level) Option {
	return func(sts *Settings) {
		atomicLevel := zap.NewAtomicLevelAt(level)
		sts.zapTestLevel = &atomicLevel
	}
}

// WithResolver replaces the entry-point lookup.
func WithResolver(resolve func(name string) (bridge.Establisher, error)) Option {
	return func(sts *Settings) {
		if resolve != nil {
			sts.resolve = resolve
		}
	}
}

// ApplyOptions processes functional options over the defaults.
func ApplyOptions(options ...Option) *Settings {
	settings := &Settings{
		zapOptions: make([]zap.Option, 0),
		resolve:    bridge.Lookup,
	}
	for _, opt := range options {
		if opt != nil {
			opt(settings)
		}
	}
	return settings
}
