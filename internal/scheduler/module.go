package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/flemzord/gatewayd/internal/adapter"
	"github.com/flemzord/gatewayd/internal/config"
	"github.com/flemzord/gatewayd/internal/core"
	"github.com/flemzord/gatewayd/internal/metrics"
)

func init() {
	core.RegisterModule(&Module{})
}

// Module wires the Scheduler into the app lifecycle and owns its loop
// goroutine.
type Module struct {
	sched  *Scheduler
	cancel context.CancelFunc
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "scheduler",
		New: func() core.Module { return &Module{} },
	}
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	cfgSvc, ok := ctx.GetService("config")
	if !ok {
		return errors.New("scheduler: config service not registered")
	}
	cfg := cfgSvc.(*config.Config)

	supSvc, ok := ctx.GetService("supervisor")
	if !ok {
		return errors.New("scheduler: supervisor service not registered")
	}
	sup, ok := supSvc.(Supervisor)
	if !ok {
		return errors.New("scheduler: supervisor service has the wrong shape")
	}

	resSvc, ok := ctx.GetService("registry.resolver")
	if !ok {
		return errors.New("scheduler: registry.resolver service not registered")
	}
	resolver, ok := resSvc.(ModelResolver)
	if !ok {
		return errors.New("scheduler: resolver service has the wrong shape")
	}

	var mx *metrics.Metrics
	if svc, ok := ctx.GetService("metrics"); ok {
		mx = svc.(*metrics.Metrics)
	}

	idle, _ := time.ParseDuration(cfg.Scheduler.IdleShutdown)
	m.sched = New(ctx.Logger, sup, adapter.Dispatcher{}, resolver, mx, Config{
		AgingBonusPerSecond: cfg.Scheduler.AgingBonusPerSecond,
		IdleShutdown:        idle,
	})

	ctx.RegisterService("scheduler", m.sched)
	return nil
}

// Start implements core.Starter.
func (m *Module) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.sched.Run(ctx)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.sched.Stop()
	return nil
}
