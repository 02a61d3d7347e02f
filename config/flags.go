package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Command-line flags understood by the plugin. They are usually passed to the
// test binary after -args, e.g. go test ./... -args --greenlight-debug.
const (
	FlagAutouse   = "greenlight-autouse"
	FlagDebug     = "greenlight-debug"
	FlagPrimitive = "greenlight-primitive"

	// EnvPrefix prefixes environment overrides (GREENLIGHT_AUTOUSE, ...).
	EnvPrefix = "GREENLIGHT"
)

// BindFlags registers the plugin flags on fs.
func BindFlags(fs *pflag.FlagSet) {
	def := DefaultConfig()
	fs.Bool(FlagAutouse, def.Autouse, "establish the async bridge before every context-taking test")
	fs.Bool(FlagDebug, def.Debug, "log interception decisions and establishment diagnostics")
	fs.String(FlagPrimitive, def.Primitive, "registered name of the context-establishing entry point")
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("autouse", def.Autouse)
	v.SetDefault("debug", def.Debug)
	v.SetDefault("primitive", def.Primitive)
}

// FromFlags resolves a Config from fs and the environment. Flags that were set
// explicitly win over environment variables, which win over defaults.
func FromFlags(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if fs != nil {
		for key, name := range map[string]string{
			"autouse":   FlagAutouse,
			"debug":     FlagDebug,
			"primitive": FlagPrimitive,
		} {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := Config{
		Autouse:   v.GetBool("autouse"),
		Debug:     v.GetBool("debug"),
		Primitive: v.GetString("primitive"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load parses the plugin flags out of args, ignoring everything else (test
// binaries receive -test.* flags as well), and resolves the final Config.
func Load(args []string) (Config, error) {
	fs := pflag.NewFlagSet("greenlight", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	BindFlags(fs)
	if err := fs.Parse(pluginArgs(args)); err != nil {
		return Config{}, fmt.Errorf("parsing greenlight flags: %w", err)
	}
	return FromFlags(fs)
}

// pluginArgs keeps only --greenlight-* tokens (and the value following a
// non-boolean flag given without '=').
func pluginArgs(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--greenlight-") {
			continue
		}
		out = append(out, arg)
		if arg == "--"+FlagPrimitive && i+1 < len(args) {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}
