package tools

import (
	"bytes"
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSiteGuard/pkg/backuperr"
)

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestExecRunnerCapturesStdoutAndEnv(t *testing.T) {
	sh := requireShell(t)
	var out bytes.Buffer

	err := NewExecRunner(zerolog.Nop()).Run(context.Background(), Command{
		Name:   sh,
		Args:   []string{"-c", `printf '%s' "$PGPASSWORD"`},
		Env:    []string{"PGPASSWORD=hunter2"},
		Stdout: &out,
	})
	require.NoError(t, err)
	assert.Equal(t, "hunter2", out.String())
}

func TestExecRunnerReportsStderr(t *testing.T) {
	sh := requireShell(t)

	err := NewExecRunner(zerolog.Nop()).Run(context.Background(), Command{
		Name: sh,
		Args: []string{"-c", "echo 'connection refused' >&2; exit 3"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.False(t, backuperr.IsTimeout(err))
}

func TestExecRunnerTimeout(t *testing.T) {
	sh := requireShell(t)

	err := NewExecRunner(zerolog.Nop()).Run(context.Background(), Command{
		Name:    sh,
		Args:    []string{"-c", "exec sleep 5"},
		Timeout: 100 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, backuperr.IsTimeout(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecRunnerCallerDeadline(t *testing.T) {
	sh := requireShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := NewExecRunner(zerolog.Nop()).Run(ctx, Command{
		Name:    sh,
		Args:    []string{"-c", "exec sleep 5"},
		Timeout: time.Hour,
	})
	require.Error(t, err)
	assert.False(t, backuperr.IsTimeout(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotContains(t, err.Error(), "1h0m0s")
}
