package models

import (
	"fmt"
	"time"
)

// Result is the success outcome of a task execution.
// Data is captured on the task row; NewTasks are pushed as children.
type Result struct {
	Data     any
	NewTasks []*Task
}

// RetryLater signals that the current task should be requeued as deferred
// for Delay without consuming retry budget. It is cooperative (rate limits,
// upstream backoff), not a failure.
type RetryLater struct {
	Delay  time.Duration
	Reason string
}

// Error implements the error interface so executors and tool handlers can
// surface the signal through ordinary error returns.
func (r *RetryLater) Error() string {
	return fmt.Sprintf("retry later in %s: %s", r.Delay, r.Reason)
}
