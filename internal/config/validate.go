package config

import (
	"errors"
	"fmt"
	"time"
)

var validKinds = map[string]struct{}{"ollama": {}, "openai_compat": {}}
var validDetect = map[string]struct{}{"path_or_probe": {}, "probe_only": {}, "none": {}}
var validStop = map[string]struct{}{"terminate_process": {}, "kill_process": {}, "http_request": {}, "none": {}}
var validGroups = map[string]struct{}{"local_gpu": {}, "cloud": {}}

// Validate checks structural and cross-reference invariants in cfg and
// applies defaults in place. Multiple problems are reported together.
func Validate(cfg *Config) error {
	var errs []error

	cfg.Server = cfg.Server.defaults()
	cfg.Scheduler = cfg.Scheduler.defaults()
	cfg.Logging = cfg.Logging.defaults()

	if cfg.Version == 0 {
		errs = append(errs, errors.New("config: version is required"))
	}

	if len(cfg.Providers) == 0 {
		errs = append(errs, errors.New("config: at least one provider is required"))
	}

	for _, field := range []struct {
		name, value string
	}{
		{"scheduler.refresh_cooldown", cfg.Scheduler.RefreshCooldown},
		{"scheduler.request_timeout", cfg.Scheduler.RequestTimeout},
		{"scheduler.idle_shutdown", cfg.Scheduler.IdleShutdown},
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeout},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			errs = append(errs, fmt.Errorf("config: %s: %w", field.name, err))
		}
	}

	for name, p := range cfg.Providers {
		p = p.defaults()
		cfg.Providers[name] = p
		if _, ok := validKinds[p.Kind]; !ok {
			errs = append(errs, fmt.Errorf("config: provider %s: unknown kind %q", name, p.Kind))
		}
		if _, ok := validGroups[p.ResourceGroup]; !ok {
			errs = append(errs, fmt.Errorf("config: provider %s: unknown resource_group %q", name, p.ResourceGroup))
		}
		if _, ok := validDetect[p.Detect]; !ok {
			errs = append(errs, fmt.Errorf("config: provider %s: unknown detect policy %q", name, p.Detect))
		}
		if _, ok := validStop[p.Stop.Method]; !ok {
			errs = append(errs, fmt.Errorf("config: provider %s: unknown stop method %q", name, p.Stop.Method))
		}
		if p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("config: provider %s: base_url is required", name))
		}
		if p.Start.Enabled && p.Start.Command == "" {
			errs = append(errs, fmt.Errorf("config: provider %s: start.enabled requires start.command", name))
		}
		if p.Stop.Method == "http_request" && p.Stop.URL == "" {
			errs = append(errs, fmt.Errorf("config: provider %s: stop method http_request requires stop.url", name))
		}
	}

	for alias, route := range cfg.Routes {
		if route.Model == "" {
			errs = append(errs, fmt.Errorf("config: route %s: model is required", alias))
		}
		for _, e := range route.FallbackOn {
			switch e {
			case "unreachable", "timeout", "oom", "context_length", "not_found", "bad_request", "other":
			default:
				errs = append(errs, fmt.Errorf("config: route %s: unknown fallback_on error %q", alias, e))
			}
		}
	}

	for _, id := range cfg.Precedence {
		if _, ok := cfg.Providers[id]; !ok {
			errs = append(errs, fmt.Errorf("config: precedence names unknown provider %q", id))
		}
	}

	return errors.Join(errs...)
}
