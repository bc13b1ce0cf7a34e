// Package app provides the shared entry point for the gatewayd binary:
// configuration loading, logging, module wiring, background jobs, and
// signal-driven shutdown.
package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/flemzord/gatewayd/internal/config"
	"github.com/flemzord/gatewayd/internal/core"
	"github.com/flemzord/gatewayd/internal/cron"
	"github.com/flemzord/gatewayd/internal/metrics"
	"github.com/flemzord/gatewayd/internal/reload"
	"github.com/flemzord/gatewayd/internal/requestlog"
	"github.com/flemzord/gatewayd/internal/security"

	// Modules register themselves with the core registry at init.
	_ "github.com/flemzord/gatewayd/internal/gateway"
	_ "github.com/flemzord/gatewayd/internal/router"
	_ "github.com/flemzord/gatewayd/internal/scheduler"
	_ "github.com/flemzord/gatewayd/internal/supervisor"

	"github.com/flemzord/gatewayd/internal/registry"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigDir is the directory holding config.yaml, providers/,
	// routes.yaml, and the optional models.yaml. If empty,
	// ResolveConfigDir is called.
	ConfigDir string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level
}

// Run loads configuration, starts all modules, and blocks until a
// shutdown signal is received. SIGHUP and config-file changes trigger the
// same cooldown-respecting registry refresh as POST /refresh.
func Run(params RunParams) error {
	cfgDir := params.ConfigDir
	if cfgDir == "" {
		resolved, err := ResolveConfigDir()
		if err != nil {
			return err
		}
		cfgDir = resolved
	}

	cfg, err := config.LoadDir(cfgDir)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	// Credential store and redactor come first so no later component can
	// log a provider key.
	credStore := security.NewCredentialStore()
	redactor := security.NewRedactor()
	for name, p := range cfg.Providers {
		if p.APIKeyEnv == "" {
			continue
		}
		if v, ok := os.LookupEnv(p.APIKeyEnv); ok && v != "" {
			credStore.Set(name+"."+p.APIKeyEnv, v)
		}
	}
	redactor.SyncCredentials(credStore)

	innerHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(params, cfg),
	})
	logger := slog.New(security.NewRedactingHandler(innerHandler, redactor))

	shutdownTracing, err := setupTracing(cfg.Tracing, logger)
	if err != nil {
		return err
	}

	mx := metrics.New()
	reqlog := requestlog.New(requestlog.Config{
		Dir:       cfg.Logging.Dir,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		KeepDays:  cfg.Logging.KeepDays,
		Compress:  cfg.Logging.Compress,
	})

	appCtx := core.NewAppContext(logger, cfgDir, mustGetwd())
	appCtx.RegisterService("config", cfg)
	appCtx.RegisterService("catalog.providers", config.BuildProviders(cfg))
	appCtx.RegisterService("metrics", mx)
	appCtx.RegisterService("requestlog", reqlog)
	appCtx.RegisterService("security.credentials", credStore)
	appCtx.RegisterService("security.redactor", redactor)

	application := core.NewApp(appCtx)
	if err := application.LoadModules(config.CoreModuleOrder); err != nil {
		return err
	}

	if err := application.Start(); err != nil {
		return err
	}

	// Background jobs and file watching run outside the module graph, so
	// a watcher failure never takes a serving gateway down.
	regSvc, _ := appCtx.GetService("registry")
	reg := regSvc.(*registry.Registry)

	handler := reload.NewHandler(func(ctx context.Context) error {
		_, err := reg.Refresh(ctx)
		return err
	}, logger)

	crond := cron.NewScheduler(logger)
	_ = crond.RegisterJob(&refreshSweepJob{reg: reg})
	_ = crond.RegisterJob(&logRotateJob{reqlog: reqlog})
	if err := crond.Start(); err != nil {
		logger.Error("cron start failed", "error", err)
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()

	watcher := reload.NewWatcher(cfgDir, logger)
	watcher.Start(watchCtx)
	defer watcher.Stop()

	sighup := make(chan struct{}, 1)
	go handler.Watch(watchCtx, watcher, sighup)

	// --- signal handling ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			logger.Info("SIGHUP received, refreshing registry")
			select {
			case sighup <- struct{}{}:
			default:
			}
			continue
		}

		logger.Info("shutdown signal received", "signal", sig.String())
		application.Stop()
		_ = crond.Stop(context.Background())
		_ = reqlog.Close()
		if shutdownTracing != nil {
			_ = shutdownTracing(context.Background())
		}
		logger.Info("shutdown complete")
		return nil
	}
	return nil
}

func logLevel(params RunParams, cfg *config.Config) slog.Level {
	if params.LogLevel != 0 {
		return params.LogLevel
	}
	switch cfg.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ResolveConfigDir searches for the config tree in standard locations.
// Search order: $XDG_CONFIG_HOME/gatewayd → ~/.config/gatewayd → ./config
func ResolveConfigDir() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "gatewayd"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "gatewayd"))
	}

	candidates = append(candidates, "config")

	for _, dir := range candidates {
		if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err == nil {
			return dir, nil
		}
	}

	return "", os.ErrNotExist
}

func mustGetwd() string {
	dir, _ := os.Getwd()
	return dir
}
