package router

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/flemzord/gatewayd/internal/catalog"
	"github.com/flemzord/gatewayd/internal/config"
	"github.com/flemzord/gatewayd/internal/core"
	"github.com/flemzord/gatewayd/internal/metrics"
)

func init() {
	core.RegisterModule(&Module{})
}

// Module wires the Router into the app lifecycle.
type Module struct {
	router *Router
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "router",
		New: func() core.Module { return &Module{} },
	}
}

// routeTable adapts the built route map to the RouteStore interface.
type routeTable map[string]catalog.Route

// Route implements RouteStore.
func (t routeTable) Route(name string) (catalog.Route, bool) {
	r, ok := t[name]
	return r, ok
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	cfgSvc, ok := ctx.GetService("config")
	if !ok {
		return errors.New("router: config service not registered")
	}
	cfg := cfgSvc.(*config.Config)

	schedSvc, ok := ctx.GetService("scheduler")
	if !ok {
		return errors.New("router: scheduler service not registered")
	}
	sched, ok := schedSvc.(Submitter)
	if !ok {
		return errors.New("router: scheduler service has the wrong shape")
	}

	regSvc, ok := ctx.GetService("registry")
	if !ok {
		return errors.New("router: registry service not registered")
	}
	snapshot, ok := regSvc.(SnapshotLookup)
	if !ok {
		return errors.New("router: registry service has the wrong shape")
	}
	refresher, _ := regSvc.(Refresher)

	var mx *metrics.Metrics
	if svc, ok := ctx.GetService("metrics"); ok {
		mx = svc.(*metrics.Metrics)
	}

	m.router = New(
		sched,
		snapshot,
		refresher,
		routeTable(config.BuildRoutes(cfg)),
		NewJobFactory(uuid.NewString, time.Now),
		mx,
		cfg.Scheduler.AutoRefresh(),
		cfg.Scheduler.MaxFallbackAttempts,
	)

	ctx.RegisterService("router", m.router)
	return nil
}
