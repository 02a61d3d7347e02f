package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veiloq/greenlight"
	"github.com/veiloq/greenlight/bridge"
	"github.com/veiloq/greenlight/config"
)

// ErrPrimitiveUnavailable makes doctor exit non-zero.
var ErrPrimitiveUnavailable = errors.New("context-establishing primitive unavailable")

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the context-establishing primitive is available",
		Long: `Probes the configured entry point the way the plugin does at startup and,
when found, establishes a bridge once and runs a no-op call through it.

Exits non-zero when the entry point cannot be resolved or the round-trip fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			return runDoctor(cmd.Context(), cmd.OutOrStdout(), cfg, timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "deadline for the bridge round-trip")
	return cmd
}

func runDoctor(ctx context.Context, out io.Writer, cfg config.Config, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := greenlight.New(nil, cfg, config.WithLogger(zap.NewNop()))
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "primitive:    %s\n", cfg.Primitive)
	fmt.Fprintf(out, "autouse:      %t\n", cfg.Autouse)
	fmt.Fprintf(out, "debug:        %t\n", cfg.Debug)
	fmt.Fprintf(out, "registered:   %s\n", strings.Join(bridge.EntryPoints(), ", "))

	if !p.Available() {
		fmt.Fprintf(out, "status:       unavailable\n%v\n", p.ProbeErr())
		return ErrPrimitiveUnavailable
	}

	unit, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	probe := func(ctx context.Context) (int, error) {
		return bridge.Await(ctx, func() (int, error) { return 1, nil })
	}
	wrapped, ok := p.Wrap(reflect.ValueOf(probe)).Interface().(func(context.Context) (int, error))
	if !ok {
		return fmt.Errorf("unexpected wrapper type")
	}
	if _, err := wrapped(unit); err != nil {
		fmt.Fprintf(out, "status:       establishment failed\n%v\n", err)
		return fmt.Errorf("bridge round-trip failed: %w", err)
	}

	if !cfg.Autouse {
		fmt.Fprintln(out, "status:       available (interception disabled by autouse=false)")
		return nil
	}
	fmt.Fprintln(out, "status:       ok")
	return nil
}
