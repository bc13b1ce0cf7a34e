package registry

import (
	"context"
	"errors"
	"log/slog"

	"github.com/flemzord/gatewayd/internal/catalog"
	"github.com/flemzord/gatewayd/internal/config"
	"github.com/flemzord/gatewayd/internal/core"
)

func init() {
	core.RegisterModule(&Module{})
}

// Module wires the Registry into the app lifecycle and runs the initial
// build at Start.
type Module struct {
	logger *slog.Logger
	reg    *Registry
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "registry",
		New: func() core.Module { return &Module{} },
	}
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger

	cfgSvc, ok := ctx.GetService("config")
	if !ok {
		return errors.New("registry: config service not registered")
	}
	cfg := cfgSvc.(*config.Config)

	provSvc, ok := ctx.GetService("catalog.providers")
	if !ok {
		return errors.New("registry: catalog.providers service not registered")
	}
	providers := provSvc.(map[string]*catalog.Provider)

	supSvc, ok := ctx.GetService("supervisor")
	if !ok {
		return errors.New("registry: supervisor service not registered")
	}
	prober, ok := supSvc.(Prober)
	if !ok {
		return errors.New("registry: supervisor service does not probe")
	}

	m.reg = New(ctx.Logger, providers, cfg.Precedence, cfg.RefreshCooldown(), prober)

	ctx.RegisterService("registry", m.reg)
	ctx.RegisterService("registry.resolver", NewResolver(m.reg, config.BuildModels(cfg)))
	return nil
}

// Start implements core.Starter: run the initial build. A build failure
// (duplicate conflict, every backend down) is not fatal — the empty
// snapshot stays published and the conflict is visible via the admin
// surface until a later refresh succeeds.
func (m *Module) Start() error {
	if err := m.reg.Build(context.Background()); err != nil {
		m.logger.Error("registry: initial build failed", "error", err)
	}
	return nil
}
