// Package gateway provides the OpenAI-compatible HTTP front door plus the
// health, admin, and metrics surfaces. It is a leaf module: nothing
// imports it, and it discovers its collaborators through the service
// registry during Provision.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/gatewayd/internal/catalog"
	"github.com/flemzord/gatewayd/internal/config"
	"github.com/flemzord/gatewayd/internal/core"
	"github.com/flemzord/gatewayd/internal/metrics"
	"github.com/flemzord/gatewayd/internal/registry"
	"github.com/flemzord/gatewayd/internal/requestlog"
	"github.com/flemzord/gatewayd/internal/router"
	"github.com/flemzord/gatewayd/internal/scheduler"
	"github.com/flemzord/gatewayd/internal/security"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Gateway is the HTTP front end module.
type Gateway struct {
	appCtx    *core.AppContext
	logger    *slog.Logger
	cfg       *config.Config
	server    *http.Server
	startedAt time.Time
	counters  *Counters

	// Resolved from the service registry during Provision.
	router    *router.Router
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	metrics   *metrics.Metrics
	reqlog    *requestlog.Logger
	redactor  *security.Redactor
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway",
		New: func() core.Module { return &Gateway{} },
	}
}

// Provision implements core.Provisioner: resolve every collaborator the
// handlers need. Earlier modules in the load order have already
// registered themselves.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.counters = &Counters{}

	cfg, ok := ctx.GetService("config")
	if !ok {
		return errors.New("gateway: config service not registered")
	}
	g.cfg = cfg.(*config.Config)

	if svc, ok := ctx.GetService("router"); ok {
		g.router = svc.(*router.Router)
	} else {
		return errors.New("gateway: router service not registered")
	}
	if svc, ok := ctx.GetService("registry"); ok {
		g.registry = svc.(*registry.Registry)
	} else {
		return errors.New("gateway: registry service not registered")
	}
	if svc, ok := ctx.GetService("scheduler"); ok {
		g.scheduler = svc.(*scheduler.Scheduler)
	}
	if svc, ok := ctx.GetService("metrics"); ok {
		g.metrics = svc.(*metrics.Metrics)
	}
	if svc, ok := ctx.GetService("requestlog"); ok {
		g.reqlog = svc.(*requestlog.Logger)
	}
	if svc, ok := ctx.GetService("security.redactor"); ok {
		g.redactor = svc.(*security.Redactor)
	}
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.cfg.Server.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.cfg.Server.Bind)
	}
	return nil
}

// Start implements core.Starter.
func (g *Gateway) Start() error {
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.cfg.Server.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  readTimeout(g.cfg),
		WriteTimeout: writeTimeout(g.cfg),
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.cfg.Server.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.cfg.Server.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.cfg.ShutdownTimeout())
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}

func readTimeout(cfg *config.Config) time.Duration {
	if d, err := time.ParseDuration(cfg.Server.ReadTimeout); err == nil {
		return d
	}
	return 30 * time.Second
}

func writeTimeout(cfg *config.Config) time.Duration {
	if d, err := time.ParseDuration(cfg.Server.WriteTimeout); err == nil {
		return d
	}
	return 10 * time.Minute
}

// recordResult feeds the request log and counters after a completed
// chat-completion call.
func (g *Gateway) recordResult(requestID string, res router.Result) {
	status := "done"
	if res.Error != "" {
		status = string(res.Error)
		g.counters.RecordError()
	} else {
		g.counters.RecordCompletion()
	}
	g.metrics.RecordRequest(status)

	if g.reqlog == nil {
		return
	}
	if len(res.Jobs) == 0 {
		// Validation failures and lookup misses never produced a job.
		g.reqlog.Record(requestlog.Entry{
			RequestID:       requestID,
			Status:          "failed",
			NormalizedError: string(res.Error),
		})
		return
	}
	final := res.Jobs[len(res.Jobs)-1]
	entry := requestlog.FromJob(final)
	entry.RequestID = requestID
	entry.Trace = nil
	for _, a := range res.Trace {
		entry.Trace = append(entry.Trace, requestlog.AttemptRecord{
			Model:    a.Model,
			Provider: a.ProviderID,
			Error:    string(a.Error),
			WallMs:   a.WallTime.Milliseconds(),
		})
	}
	if res.Error != "" {
		entry.Status = string(catalog.JobFailed)
		entry.NormalizedError = string(res.Error)
	}
	g.reqlog.Record(entry)
}
