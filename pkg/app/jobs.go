package app

import (
	"context"

	"github.com/flemzord/gatewayd/internal/registry"
	"github.com/flemzord/gatewayd/internal/requestlog"
)

// refreshSweepJob keeps the registry reasonably fresh even when nobody
// hits POST /refresh. The refresh itself obeys the registry cooldown, so
// a tight schedule never causes back-to-back rebuilds.
type refreshSweepJob struct {
	reg *registry.Registry
}

func (j *refreshSweepJob) Name() string     { return "registry.refresh" }
func (j *refreshSweepJob) Schedule() string { return "*/5 * * * *" }

func (j *refreshSweepJob) Run(ctx context.Context) error {
	_, err := j.reg.Refresh(ctx)
	return err
}

// logRotateJob forces a daily request-log rotation so files roll by day
// even when they never reach the size threshold. Retention is enforced by
// the log writer's max-age setting on each rotation.
type logRotateJob struct {
	reqlog *requestlog.Logger
}

func (j *logRotateJob) Name() string     { return "requestlog.rotate" }
func (j *logRotateJob) Schedule() string { return "0 0 * * *" }

func (j *logRotateJob) Run(context.Context) error {
	return j.reqlog.Rotate()
}
