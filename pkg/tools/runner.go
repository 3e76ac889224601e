// Package tools runs external executables and locates the PostgreSQL client tools on the host.
package tools

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/supporttools/GoSiteGuard/pkg/backuperr"
)

// killWaitDelay bounds how long Wait blocks on output pipes after the process is killed.
const killWaitDelay = 2 * time.Second

// Command describes one external process invocation.
type Command struct {
	Name    string
	Args    []string
	Env     []string // KEY=VALUE pairs added to the inherited environment
	Stdout  io.Writer
	Timeout time.Duration
}

// Runner executes commands. It is the seam the dump engine and the locator are tested through.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	log zerolog.Logger
}

// NewExecRunner returns a Runner backed by exec.CommandContext.
func NewExecRunner(log zerolog.Logger) *ExecRunner {
	return &ExecRunner{log: log}
}

// Run starts the command and waits for it. A command that outlives its Timeout is killed and
// reported as a ProcessTimeoutError. When ctx itself ends first, its error is returned wrapped. Any
// other failure carries the trimmed stderr output.
func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	parent := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.WaitDelay = killWaitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	}

	start := time.Now()
	r.log.Debug().Str("command", c.Name).Strs("args", c.Args).Msg("Running command")

	err := cmd.Run()
	if err == nil {
		r.log.Debug().Str("command", c.Name).Dur("elapsed", time.Since(start)).Msg("Command finished")
		return nil
	}

	// The caller's own deadline or cancellation is not this command's timeout.
	if parentErr := parent.Err(); parentErr != nil {
		return pkgerrors.Wrapf(parentErr, "%s interrupted after %s", filepath.Base(c.Name), time.Since(start).Round(time.Millisecond))
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &backuperr.ProcessTimeoutError{Command: filepath.Base(c.Name), Timeout: c.Timeout}
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return pkgerrors.Wrapf(err, "%s failed: %s", filepath.Base(c.Name), msg)
	}
	return pkgerrors.Wrapf(err, "%s failed", filepath.Base(c.Name))
}
