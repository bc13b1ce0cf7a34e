package supervisor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/flemzord/gatewayd/internal/catalog"
	"github.com/flemzord/gatewayd/internal/core"
	"github.com/flemzord/gatewayd/internal/metrics"
)

func init() {
	core.RegisterModule(&Module{})
}

// Module wires the Supervisor into the app lifecycle. On shutdown it
// tears down every provider the gateway still owns so no orphaned backend
// process survives the daemon.
type Module struct {
	logger    *slog.Logger
	sup       *Supervisor
	providers map[string]*catalog.Provider
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "supervisor",
		New: func() core.Module { return &Module{} },
	}
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger

	var mx *metrics.Metrics
	if svc, ok := ctx.GetService("metrics"); ok {
		mx = svc.(*metrics.Metrics)
	}
	m.sup = New(ctx.Logger, mx)

	svc, ok := ctx.GetService("catalog.providers")
	if !ok {
		return errors.New("supervisor: catalog.providers service not registered")
	}
	m.providers = svc.(map[string]*catalog.Provider)

	ctx.RegisterService("supervisor", m.sup)
	return nil
}

// Stop implements core.Stopper: ensure_down every owned provider.
func (m *Module) Stop(ctx context.Context) error {
	for _, p := range m.providers {
		if !p.Owned {
			continue
		}
		m.logger.Info("supervisor: stopping owned provider", "provider", p.ID)
		p.Lock()
		err := m.sup.EnsureDown(ctx, p)
		p.Unlock()
		if err != nil {
			m.logger.Error("supervisor: stop failed", "provider", p.ID, "error", err)
		}
	}
	return nil
}
