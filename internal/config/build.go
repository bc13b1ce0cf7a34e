package config

import (
	"net/http"
	"time"

	"github.com/flemzord/gatewayd/internal/catalog"
)

// duration parses a validated duration string; Validate has already
// rejected malformed values, so a parse failure here yields zero and the
// component-level default applies.
func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// RequestTimeout returns the effective per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return duration(c.Scheduler.RequestTimeout)
}

// RefreshCooldown returns the effective registry refresh cooldown.
func (c *Config) RefreshCooldown() time.Duration {
	return duration(c.Scheduler.RefreshCooldown)
}

// ShutdownTimeout returns the effective HTTP shutdown timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	return duration(c.Server.ShutdownTimeout)
}

// BuildProviders turns the validated provider sections into catalog
// runtime objects, keyed by provider id.
func BuildProviders(cfg *Config) map[string]*catalog.Provider {
	out := make(map[string]*catalog.Provider, len(cfg.Providers))
	for id, pc := range cfg.Providers {
		if pc.Policy.MaxStartAttempts == 0 {
			pc.Policy.MaxStartAttempts = cfg.Scheduler.MaxStartAttempts
		}
		out[id] = buildProvider(id, pc)
	}
	return out
}

func buildProvider(id string, pc ProviderConfig) *catalog.Provider {
	method := pc.Health.Method
	if method == "" {
		method = http.MethodGet
	}
	var success map[int]struct{}
	if len(pc.Health.SuccessCodes) > 0 {
		success = make(map[int]struct{}, len(pc.Health.SuccessCodes))
		for _, c := range pc.Health.SuccessCodes {
			success[c] = struct{}{}
		}
	}

	return &catalog.Provider{
		ID:            id,
		Kind:          catalog.ProviderKind(pc.Kind),
		ResourceGroup: catalog.ResourceGroup(pc.ResourceGroup),
		BaseURL:       pc.BaseURL,
		APIKeyEnv:     pc.APIKeyEnv,
		Health: catalog.HealthProbe{
			Method:      method,
			Path:        pc.Health.Path,
			SuccessCode: success,
			Timeout:     duration(pc.Health.Timeout),
		},
		Listing: catalog.ModelListing{
			Method:         http.MethodGet,
			Path:           pc.ListPath,
			DeclaredModels: append([]string(nil), pc.Models...),
		},
		Detect:     catalog.DetectPolicy(pc.Detect),
		BinaryName: pc.Binary,
		ProbeURL:   pc.ProbeURL,
		Start: catalog.StartDescriptor{
			Enabled:      pc.Start.Enabled,
			Command:      pc.Start.Command,
			Args:         append([]string(nil), pc.Start.Args...),
			Cwd:          pc.Start.Cwd,
			Env:          pc.Start.Env,
			StartupGrace: duration(pc.Start.StartupGrace),
		},
		Stop: catalog.StopDescriptor{
			Method:  catalog.StopMethod(pc.Stop.Method),
			StopURL: pc.Stop.URL,
		},
		Policy: catalog.ProviderPolicy{
			KeepWarm:         pc.Policy.KeepWarm,
			IdleShutdown:     duration(pc.Policy.IdleShutdown),
			MaxStartAttempts: pc.Policy.MaxStartAttempts,
			RestartOnFailure: pc.Policy.RestartOnFailure,
		},
	}
}

// BuildModels turns the models.yaml overrides into catalog models. Models
// absent from the map score with zero-value attributes.
func BuildModels(cfg *Config) map[string]catalog.Model {
	out := make(map[string]catalog.Model, len(cfg.Models))
	for id, mc := range cfg.Models {
		out[id] = catalog.Model{
			ID:             id,
			BasePriority:   mc.BasePriority,
			LoadPenalty:    mc.LoadPenalty,
			RuntimePenalty: mc.RuntimePenalty,
			AlwaysRunLast:  mc.AlwaysRunLast,
		}
	}
	return out
}

// defaultFallbackOn is the trigger set a route gets when fallback_on is
// omitted: errors that say the backend, not the request, is at fault.
var defaultFallbackOn = []string{"unreachable", "timeout", "oom"}

// BuildRoutes turns routes.yaml into catalog routes keyed by alias name.
func BuildRoutes(cfg *Config) map[string]catalog.Route {
	out := make(map[string]catalog.Route, len(cfg.Routes))
	for name, rc := range cfg.Routes {
		on := rc.FallbackOn
		if len(on) == 0 {
			on = defaultFallbackOn
		}
		set := make(map[catalog.NormalizedError]struct{}, len(on))
		for _, e := range on {
			set[catalog.NormalizedError(e)] = struct{}{}
		}
		out[name] = catalog.Route{
			Name:           name,
			PrimaryModel:   rc.Model,
			FallbackModels: append([]string(nil), rc.Fallbacks...),
			FallbackOn:     set,
		}
	}
	return out
}
