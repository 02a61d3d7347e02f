package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"

	"github.com/veiloq/greenlight/bridge"
)

// Config holds the per-run plugin configuration. It is built once, before any
// test runs, and is not modified afterwards.
type Config struct {
	Autouse   bool   // Wrap asynchronous test functions automatically. Default true.
	Debug     bool   // Emit diagnostics for every interception decision. Default false.
	Primitive string // Registered name of the context-establishing entry point.
}

// DefaultConfig returns the configuration used when no flags are given.
func DefaultConfig() Config {
	return Config{
		Autouse:   true,
		Debug:     false,
		Primitive: bridge.DefaultEntryPoint,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Primitive) == "" {
		return fmt.Errorf("config validation failed: Primitive must not be empty")
	}
	return nil
}

// Postgres defines the embedded (or shared) PostgreSQL server used by the
// PostgresEngine fixture.
type Postgres struct {
	Version      embeddedpostgres.PostgresVersion // e.g., embeddedpostgres.V16
	Host         string                           // Defaults to "localhost".
	Port         uint32                           // 0 selects a random free port.
	Database     string                           // Admin database to connect to.
	Username     string
	Password     string
	BinariesPath string        // Optional: existing postgres binaries. If empty, downloads.
	StartTimeout time.Duration // How long to wait for Postgres to start.
	Logger       *os.File      // Raw Postgres output. nil discards.
	DSNParams    map[string]string
	KeepDatabase bool // Do not drop the test database on cleanup.
}

// DefaultPostgres returns defaults for a throwaway local server.
func DefaultPostgres() Postgres {
	return Postgres{
		Version:      embeddedpostgres.V16,
		Host:         "localhost",
		Database:     "postgres",
		Username:     "greenlight",
		Password:     "greenlight",
		StartTimeout: 30 * time.Second,
		Logger:       os.Stderr,
	}
}

// Validate checks the essential server fields.
func (p *Postgres) Validate() error {
	var errs []string
	if p.Database == "" {
		errs = append(errs, "Database must not be empty")
	}
	if p.Username == "" {
		errs = append(errs, "Username must not be empty")
	}
	if p.Password == "" {
		errs = append(errs, "Password must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("postgres config validation failed: %s", strings.Join(errs, ", "))
	}
	return nil
}

// DSN builds a connection URL for the configured database.
func (p *Postgres) DSN() string {
	host := p.Host
	if host == "" {
		host = "localhost"
	}
	base := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		p.Username, p.Password, host, p.Port, p.Database)
	if len(p.DSNParams) == 0 {
		return base
	}
	params := make([]string, 0, len(p.DSNParams))
	for k, v := range p.DSNParams {
		params = append(params, fmt.Sprintf("%s=%s", k, v))
	}
	return base + "&" + strings.Join(params, "&")
}
