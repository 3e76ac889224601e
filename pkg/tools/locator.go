package tools

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/supporttools/GoSiteGuard/pkg/backuperr"
)

// ProbeTimeout bounds each `<tool> --version` probe.
const ProbeTimeout = 5 * time.Second

// postgresVersions are probed newest first.
var postgresVersions = []int{17, 16, 15, 14}

// DefaultPrefixes returns the install prefixes probed on the given platform, starting with the
// empty prefix which relies on PATH.
func DefaultPrefixes(goos string) []string {
	prefixes := []string{""}
	for _, v := range postgresVersions {
		switch goos {
		case "linux":
			prefixes = append(prefixes,
				fmt.Sprintf("/usr/lib/postgresql/%d/bin/", v),
				fmt.Sprintf("/usr/pgsql-%d/bin/", v),
			)
		case "darwin":
			prefixes = append(prefixes,
				fmt.Sprintf("/opt/homebrew/opt/postgresql@%d/bin/", v),
				fmt.Sprintf("/usr/local/opt/postgresql@%d/bin/", v),
			)
		case "windows":
			prefixes = append(prefixes, fmt.Sprintf(`C:\Program Files\PostgreSQL\%d\bin\`, v))
		}
	}
	return prefixes
}

// Locator finds a working install prefix for the PostgreSQL client tools. The first prefix that
// answers a version probe is remembered and reused for every tool name; failed searches are not
// remembered.
type Locator struct {
	runner   Runner
	prefixes []string
	suffix   string
	log      zerolog.Logger

	mu     sync.Mutex
	prefix string
	found  bool
}

// LocatorOption customizes a Locator.
type LocatorOption func(*Locator)

// WithPrefixes replaces the platform default prefixes.
func WithPrefixes(prefixes ...string) LocatorOption {
	return func(l *Locator) {
		l.prefixes = append([]string(nil), prefixes...)
	}
}

// WithLogger sets the logger used for probe diagnostics.
func WithLogger(log zerolog.Logger) LocatorOption {
	return func(l *Locator) {
		l.log = log
	}
}

// NewLocator builds a Locator for the running platform.
func NewLocator(runner Runner, opts ...LocatorOption) *Locator {
	l := &Locator{
		runner:   runner,
		prefixes: DefaultPrefixes(runtime.GOOS),
		log:      zerolog.Nop(),
	}
	if runtime.GOOS == "windows" {
		l.suffix = ".exe"
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate returns an invocable path for tool.
func (l *Locator) Locate(ctx context.Context, tool string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.found {
		return l.prefix + tool + l.suffix, nil
	}

	tried := make([]string, 0, len(l.prefixes))
	for _, prefix := range l.prefixes {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		candidate := prefix + tool + l.suffix
		tried = append(tried, candidate)

		err := l.runner.Run(ctx, Command{
			Name:    candidate,
			Args:    []string{"--version"},
			Stdout:  io.Discard,
			Timeout: ProbeTimeout,
		})
		if err != nil {
			l.log.Debug().Err(err).Str("candidate", candidate).Msg("Tool probe failed")
			continue
		}

		l.prefix = prefix
		l.found = true
		l.log.Info().Str("tool", tool).Str("path", candidate).Msg("Located PostgreSQL client tools")
		return candidate, nil
	}

	return "", &backuperr.ToolNotFoundError{Tool: tool, Tried: tried}
}
