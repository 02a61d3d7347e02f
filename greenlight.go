package greenlight

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veiloq/greenlight/bridge"
	"github.com/veiloq/greenlight/config"
	"github.com/veiloq/greenlight/harness"
	"github.com/veiloq/greenlight/internal/logger"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Plugin intercepts test invocations and establishes the bridge inside the
// unit of work of every asynchronous test before its body runs.
type Plugin struct {
	cfg       config.Config
	logger    *zap.Logger
	establish bridge.Establisher // nil when the probe failed
	probeErr  error
}

// New builds a plugin for one test run. The primitive named by cfg is probed
// exactly once here; when it cannot be found the plugin is still returned,
// with interception disabled. If t is non-nil, diagnostics go to the test log.
func New(t testing.TB, cfg config.Config, opts ...config.Option) (*Plugin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration provided: %w", err)
	}
	settings := config.ApplyOptions(opts...)

	log, err := logger.InitLogger(t, cfg.Debug, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	p := &Plugin{cfg: cfg, logger: log}
	p.probe(settings.Resolver())
	return p, nil
}

func (p *Plugin) probe(resolve func(name string) (bridge.Establisher, error)) {
	establish, err := func() (e bridge.Establisher, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("resolver panicked: %v", r)
			}
		}()
		return resolve(p.cfg.Primitive)
	}()
	if err == nil && establish == nil {
		err = errors.New("resolver returned no establisher")
	}
	if err != nil {
		p.probeErr = &EnvironmentError{Primitive: p.cfg.Primitive, Err: err}
		if p.cfg.Debug {
			p.logger.Warn("Context-establishing primitive not found; interception disabled for this run",
				zap.String("primitive", p.cfg.Primitive),
				zap.Strings("available", bridge.EntryPoints()),
				zap.Error(err),
				zap.String("remediation", remediation))
		}
		return
	}
	p.establish = establish
	p.logger.Debug("Context-establishing primitive resolved",
		zap.String("primitive", p.cfg.Primitive), zap.Bool("autouse", p.cfg.Autouse))
}

// Config returns the configuration the plugin was built with.
func (p *Plugin) Config() config.Config {
	return p.cfg
}

// Available reports whether the primitive was found at startup.
func (p *Plugin) Available() bool {
	return p.establish != nil
}

// ProbeErr returns the *EnvironmentError recorded at startup, or nil.
func (p *Plugin) ProbeErr() error {
	return p.probeErr
}

// WrapCall implements harness.Hook. When interception is enabled, the test
// function is asynchronous and the primitive is available, the item's
// function is replaced by a wrapper for this invocation only.
func (p *Plugin) WrapCall(item *harness.Item, proceed func() harness.Outcome) harness.Outcome {
	if !p.cfg.Autouse {
		return proceed()
	}
	if !harness.IsAsync(item.Func) {
		if p.cfg.Debug {
			p.logger.Debug("Not intercepting synchronous test", zap.String("test", item.Name))
		}
		return proceed()
	}
	if p.establish == nil {
		if p.cfg.Debug {
			p.logger.Debug("Not intercepting: primitive unavailable", zap.String("test", item.Name))
		}
		return proceed()
	}

	invocation := uuid.NewString()
	original := item.Func
	item.Func = p.wrap(original, item.Name, invocation)
	defer func() { item.Func = original }()

	out := proceed()

	if p.cfg.Debug {
		var estErr *EstablishmentError
		if errors.As(out.Err, &estErr) {
			p.logger.Error("Context establishment failed",
				zap.String("test", item.Name),
				zap.String("invocation", invocation),
				zap.String("primitive", p.cfg.Primitive),
				zap.Error(estErr.Err),
				zap.String("remediation", remediation))
		}
	}
	return out
}

// Wrap returns a function of the same type as fn that establishes the bridge
// in the context it is called with and then calls fn with the established
// context and the remaining arguments unchanged. fn is returned as-is when it
// is not asynchronous or the primitive is unavailable.
func (p *Plugin) Wrap(fn reflect.Value) reflect.Value {
	if !harness.IsAsync(fn) || p.establish == nil {
		return fn
	}
	return p.wrap(fn, fn.Type().String(), uuid.NewString())
}

func (p *Plugin) wrap(fn reflect.Value, name, invocation string) reflect.Value {
	ft := fn.Type()
	establish := p.establish
	return reflect.MakeFunc(ft, func(args []reflect.Value) []reflect.Value {
		ctx, _ := args[0].Interface().(context.Context)
		established, err := establish(ctx)
		if err != nil {
			return p.establishmentFailure(ft, name, err)
		}
		if established == nil {
			established = ctx
		}
		if p.cfg.Debug {
			p.logger.Debug("Context established; running test body",
				zap.String("test", name), zap.String("invocation", invocation))
		}

		callArgs := make([]reflect.Value, len(args))
		copy(callArgs, args)
		callArgs[0] = reflect.ValueOf(&established).Elem()
		if ft.IsVariadic() {
			return fn.CallSlice(callArgs)
		}
		return fn.Call(callArgs)
	})
}

func (p *Plugin) establishmentFailure(ft reflect.Type, name string, cause error) []reflect.Value {
	err := cause
	if p.cfg.Debug {
		err = &EstablishmentError{Primitive: p.cfg.Primitive, Test: name, Err: cause}
	}
	n := ft.NumOut()
	if n == 0 || ft.Out(n-1) != errorType {
		panic(err)
	}
	outs := make([]reflect.Value, n)
	for i := range outs {
		outs[i] = reflect.Zero(ft.Out(i))
	}
	outs[n-1] = reflect.ValueOf(&err).Elem()
	return outs
}

// Install registers the plugin's hook on r.
func Install(r *harness.Runner, p *Plugin) {
	r.Use(p)
}

// Setup loads the configuration from args (typically os.Args[1:]) and the
// environment, builds a plugin logging to t, and returns a runner with the
// plugin installed.
func Setup(t testing.TB, args []string, opts ...config.Option) (*harness.Runner, *Plugin, error) {
	cfg, err := config.Load(args)
	if err != nil {
		return nil, nil, err
	}
	p, err := New(t, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	r := harness.NewRunner(harness.WithLogger(p.logger))
	Install(r, p)
	return r, p, nil
}
