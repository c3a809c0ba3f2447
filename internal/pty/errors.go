// Package pty runs a long-lived interactive CLI inside a pseudo-terminal,
// framing turns by prompt detection and checkpointing conversations so a
// crashed child can resume where it left off.
package pty

import (
	"fmt"
	"time"
)

// BinaryNotFoundError means the external CLI is not on PATH.
type BinaryNotFoundError struct {
	Binary      string
	InstallHint string
}

func (e *BinaryNotFoundError) Error() string {
	return fmt.Sprintf("%s not found on PATH (%s)", e.Binary, e.InstallHint)
}

// TimeoutError means a turn exceeded its wall-clock bound.
type TimeoutError struct {
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pty turn timed out after %s", e.Elapsed.Round(time.Millisecond))
}

// InternalError covers session-level failures that are not the child's fault.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string { return "pty: " + e.Message }
