// Package postgres dumps and restores the site's PostgreSQL database with pg_dump and pg_restore.
package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/supporttools/GoSiteGuard/pkg/backuperr"
	"github.com/supporttools/GoSiteGuard/pkg/tools"
)

const (
	// DumpTimeout bounds a pg_dump run.
	DumpTimeout = 5 * time.Minute
	// RestoreTimeout bounds a pg_restore run.
	RestoreTimeout = 10 * time.Minute

	defaultHost = "localhost"
	defaultPort = "5432"
)

// ToolLocator resolves the path of a PostgreSQL client tool.
type ToolLocator interface {
	Locate(ctx context.Context, tool string) (string, error)
}

// ConnInfo holds the pieces of DATABASE_URL the client tools need.
type ConnInfo struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Schema   string
}

// ParseURL validates a postgres:// or postgresql:// URL and splits it into connection settings.
func ParseURL(raw string) (*ConnInfo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, backuperr.NewConfigurationError("DATABASE_URL", "is not set")
	}
	// pq rejects anything that is not a postgres URL.
	if _, err := pq.ParseURL(raw); err != nil {
		return nil, backuperr.NewConfigurationError("DATABASE_URL", fmt.Sprintf("is not a valid PostgreSQL URL: %v", err))
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, backuperr.NewConfigurationError("DATABASE_URL", fmt.Sprintf("could not be parsed: %v", err))
	}

	info := &ConnInfo{
		Host:     defaultHost,
		Port:     defaultPort,
		Database: strings.TrimPrefix(u.Path, "/"),
		SSLMode:  u.Query().Get("sslmode"),
		Schema:   u.Query().Get("schema"),
	}
	if u.User != nil {
		info.User = u.User.Username()
		info.Password, _ = u.User.Password()
	}
	if host, port, err := net.SplitHostPort(u.Host); err == nil {
		if host != "" {
			info.Host = host
		}
		if port != "" {
			info.Port = port
		}
	} else if u.Host != "" {
		info.Host = u.Host
	}

	if info.Database == "" {
		return nil, backuperr.NewConfigurationError("DATABASE_URL", "does not name a database")
	}
	return info, nil
}

func (c *ConnInfo) connArgs() []string {
	args := []string{"-h", c.Host, "-p", c.Port}
	if c.User != "" {
		args = append(args, "-U", c.User)
	}
	return append(args, "-d", c.Database)
}

// env carries secrets to the child process; they never appear in argv.
func (c *ConnInfo) env() []string {
	var env []string
	if c.Password != "" {
		env = append(env, "PGPASSWORD="+c.Password)
	}
	if c.SSLMode != "" {
		env = append(env, "PGSSLMODE="+c.SSLMode)
	}
	return env
}

// Engine runs the PostgreSQL client tools against the site database.
type Engine struct {
	locator     ToolLocator
	runner      tools.Runner
	databaseURL func() string
	log         zerolog.Logger
}

// NewEngine creates an Engine. databaseURL is called on every operation so configuration changes
// are picked up without a restart.
func NewEngine(locator ToolLocator, runner tools.Runner, databaseURL func() string, log zerolog.Logger) *Engine {
	return &Engine{
		locator:     locator,
		runner:      runner,
		databaseURL: databaseURL,
		log:         log,
	}
}

// Dump writes a custom-format, compressed dump of the site database to outputPath.
func (e *Engine) Dump(ctx context.Context, outputPath string) error {
	conn, err := ParseURL(e.databaseURL())
	if err != nil {
		return err
	}

	pgDump, err := e.locator.Locate(ctx, "pg_dump")
	if err != nil {
		return err
	}

	args := conn.connArgs()
	args = append(args, "-F", "c", "-Z", "6", "--no-owner", "--no-privileges")
	if conn.Schema != "" {
		args = append(args, "--schema", conn.Schema)
	}
	args = append(args, "-f", outputPath)

	e.log.Info().Str("host", conn.Host).Str("database", conn.Database).Str("output", outputPath).Msg("Dumping database")
	return e.runner.Run(ctx, tools.Command{
		Name:    pgDump,
		Args:    args,
		Env:     conn.env(),
		Timeout: DumpTimeout,
	})
}

// Restore replays a custom-format dump into the site database in a single transaction, so a failed
// restore leaves the database as it was.
func (e *Engine) Restore(ctx context.Context, inputPath string) error {
	conn, err := ParseURL(e.databaseURL())
	if err != nil {
		return err
	}

	pgRestore, err := e.locator.Locate(ctx, "pg_restore")
	if err != nil {
		return err
	}

	args := conn.connArgs()
	args = append(args, "--clean", "--if-exists", "--no-owner", "--no-privileges", "--single-transaction", inputPath)

	e.log.Warn().Str("host", conn.Host).Str("database", conn.Database).Str("input", inputPath).Msg("Restoring database")
	return e.runner.Run(ctx, tools.Command{
		Name:    pgRestore,
		Args:    args,
		Env:     conn.env(),
		Timeout: RestoreTimeout,
	})
}
