package tools

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSiteGuard/pkg/backuperr"
)

// probeRunner answers --version probes for the candidate names marked as working.
type probeRunner struct {
	mu      sync.Mutex
	working map[string]bool
	calls   []string
}

func newProbeRunner(working ...string) *probeRunner {
	r := &probeRunner{working: map[string]bool{}}
	for _, w := range working {
		r.working[w] = true
	}
	return r
}

func (r *probeRunner) Run(_ context.Context, cmd Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cmd.Name)
	if r.working[cmd.Name] {
		return nil
	}
	return errors.New("exec: not found")
}

func (r *probeRunner) setWorking(name string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.working[name] = ok
}

func (r *probeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestLocateUsesFirstWorkingPrefix(t *testing.T) {
	runner := newProbeRunner("/usr/lib/postgresql/16/bin/pg_dump")
	l := NewLocator(runner, WithPrefixes("", "/usr/lib/postgresql/17/bin/", "/usr/lib/postgresql/16/bin/"))
	l.suffix = ""

	path, err := l.Locate(context.Background(), "pg_dump")
	require.NoError(t, err)
	assert.Equal(t, "/usr/lib/postgresql/16/bin/pg_dump", path)
	assert.Equal(t, []string{"pg_dump", "/usr/lib/postgresql/17/bin/pg_dump", "/usr/lib/postgresql/16/bin/pg_dump"}, runner.calls)
}

func TestLocateCachesPrefixAcrossTools(t *testing.T) {
	runner := newProbeRunner("pg_dump")
	l := NewLocator(runner, WithPrefixes("", "/usr/pgsql-16/bin/"))
	l.suffix = ""

	first, err := l.Locate(context.Background(), "pg_dump")
	require.NoError(t, err)
	assert.Equal(t, "pg_dump", first)
	probes := runner.callCount()

	// The cached prefix stops answering; lookups stay stable and do not probe again.
	runner.setWorking("pg_dump", false)
	again, err := l.Locate(context.Background(), "pg_dump")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	restore, err := l.Locate(context.Background(), "pg_restore")
	require.NoError(t, err)
	assert.Equal(t, "pg_restore", restore)
	assert.Equal(t, probes, runner.callCount())
}

func TestLocateNotFoundIsNotCached(t *testing.T) {
	runner := newProbeRunner()
	l := NewLocator(runner, WithPrefixes("", "/opt/homebrew/opt/postgresql@17/bin/"))
	l.suffix = ""

	_, err := l.Locate(context.Background(), "pg_dump")
	require.Error(t, err)

	var notFound *backuperr.ToolNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "pg_dump", notFound.Tool)
	assert.Equal(t, []string{"pg_dump", "/opt/homebrew/opt/postgresql@17/bin/pg_dump"}, notFound.Tried)
	assert.True(t, errdefs.IsNotFound(err))

	// Tools installed later are picked up on the next call.
	runner.setWorking("/opt/homebrew/opt/postgresql@17/bin/pg_dump", true)
	path, err := l.Locate(context.Background(), "pg_dump")
	require.NoError(t, err)
	assert.Equal(t, "/opt/homebrew/opt/postgresql@17/bin/pg_dump", path)
	assert.Equal(t, 4, runner.callCount())
}

func TestLocateHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := NewLocator(newProbeRunner("pg_dump"), WithPrefixes(""))
	_, err := l.Locate(ctx, "pg_dump")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultPrefixes(t *testing.T) {
	linux := DefaultPrefixes("linux")
	assert.Equal(t, "", linux[0])
	assert.Contains(t, linux, "/usr/lib/postgresql/17/bin/")
	assert.Contains(t, linux, "/usr/pgsql-14/bin/")
	assert.Equal(t, "/usr/lib/postgresql/17/bin/", linux[1], "newest version first")

	darwin := DefaultPrefixes("darwin")
	assert.Contains(t, darwin, "/opt/homebrew/opt/postgresql@15/bin/")
	assert.Contains(t, darwin, "/usr/local/opt/postgresql@16/bin/")

	windows := DefaultPrefixes("windows")
	assert.Contains(t, windows, `C:\Program Files\PostgreSQL\17\bin\`)
	assert.Len(t, windows, 5)
}
