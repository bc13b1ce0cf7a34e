// Package cron provides a job scheduler for periodic background tasks
// such as registry refresh sweeps and request-log rotation.
package cron

import "context"

// Job is one periodic background task.
type Job interface {
	// Name returns a unique identifier, used for logging and duplicate
	// detection at registration.
	Name() string

	// Schedule returns a 5-field cron expression, e.g. "*/5 * * * *".
	Schedule() string

	// Run executes one tick. The context is cancelled when the scheduler
	// stops; long-running jobs should honor it.
	Run(ctx context.Context) error
}
