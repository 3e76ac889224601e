// Package backuperr defines the error taxonomy shared by the backup and restore pipelines.
//
// Every error here classifies through github.com/containerd/errdefs so callers (the admin API in
// particular) can branch on errdefs.IsNotFound, errdefs.IsConflict and friends without knowing the
// concrete type.
package backuperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/containerd/errdefs"
)

var (
	// ErrStorageDisabled is returned by every object storage operation when the provider is "local".
	ErrStorageDisabled = fmt.Errorf("object storage is disabled (provider is local): %w", errdefs.ErrUnavailable)

	// ErrPipelineBusy is returned when a backup or restore is already running in this process.
	ErrPipelineBusy = fmt.Errorf("a backup or restore pipeline is already running: %w", errdefs.ErrConflict)

	// ErrNothingToMerge is returned by the merger when no segment produced a file.
	ErrNothingToMerge = errors.New("nothing to merge: no segment produced any output")

	// ErrRecordNotFound is returned when a backup record does not exist.
	ErrRecordNotFound = fmt.Errorf("backup record not found: %w", errdefs.ErrNotFound)

	// ErrRecordNotRunning is returned when a record is finished twice.
	ErrRecordNotRunning = fmt.Errorf("backup record is not running: %w", errdefs.ErrFailedPrecondition)

	// ErrInvalidState is returned when a record is in the wrong state for the requested operation.
	ErrInvalidState = fmt.Errorf("backup record is in an invalid state: %w", errdefs.ErrFailedPrecondition)

	// ErrNoSegments is returned when a backup request selects no segment at all.
	ErrNoSegments = fmt.Errorf("at least one segment must be selected: %w", errdefs.ErrInvalidArgument)
)

// ConfigurationError reports a missing or invalid setting. It is raised before any destructive
// or expensive step.
type ConfigurationError struct {
	Setting string
	Reason  string
}

// NewConfigurationError builds a ConfigurationError.
func NewConfigurationError(setting, reason string) *ConfigurationError {
	return &ConfigurationError{Setting: setting, Reason: reason}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Setting, e.Reason)
}

// Unwrap classifies the error as a failed precondition.
func (e *ConfigurationError) Unwrap() error {
	return errdefs.ErrFailedPrecondition
}

// ToolNotFoundError reports that no candidate location produced a working executable.
type ToolNotFoundError struct {
	Tool  string
	Tried []string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s (tried %s)", e.Tool, strings.Join(e.Tried, ", "))
}

// Unwrap classifies the error as not found.
func (e *ToolNotFoundError) Unwrap() error {
	return errdefs.ErrNotFound
}

// ProcessTimeoutError reports a step that exceeded its deadline. It is never retried.
type ProcessTimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *ProcessTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Command, e.Timeout)
}

// Unwrap lets errors.Is(err, context.DeadlineExceeded) match.
func (e *ProcessTimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// IsConfiguration reports whether err is, or wraps, a ConfigurationError.
func IsConfiguration(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// IsTimeout reports whether err is, or wraps, a ProcessTimeoutError.
func IsTimeout(err error) bool {
	var timeoutErr *ProcessTimeoutError
	return errors.As(err, &timeoutErr)
}
