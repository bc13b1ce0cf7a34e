package config

import (
	"strings"
	"testing"
)

func minimalConfig() *Config {
	return &Config{
		Version: 1,
		Providers: map[string]ProviderConfig{
			"ollama": {Kind: "ollama", BaseURL: "http://127.0.0.1:11434"},
		},
	}
}

func TestValidateMinimal(t *testing.T) {
	t.Parallel()

	cfg := minimalConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Scheduler.RefreshCooldown != "30s" {
		t.Errorf("cooldown default = %q", cfg.Scheduler.RefreshCooldown)
	}
	if cfg.Scheduler.MaxFallbackAttempts != 2 {
		t.Errorf("max_fallback_attempts default = %d", cfg.Scheduler.MaxFallbackAttempts)
	}
	if !cfg.Scheduler.AutoRefresh() {
		t.Error("auto_refresh_on_miss should default true")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "missing version",
			mutate: func(c *Config) { c.Version = 0 },
			want:   "version is required",
		},
		{
			name:   "no providers",
			mutate: func(c *Config) { c.Providers = nil },
			want:   "at least one provider",
		},
		{
			name: "bad kind",
			mutate: func(c *Config) {
				c.Providers["bad"] = ProviderConfig{Kind: "vllm", BaseURL: "http://x"}
			},
			want: "unknown kind",
		},
		{
			name: "start without command",
			mutate: func(c *Config) {
				p := c.Providers["ollama"]
				p.Start.Enabled = true
				c.Providers["ollama"] = p
			},
			want: "requires start.command",
		},
		{
			name: "http stop without url",
			mutate: func(c *Config) {
				p := c.Providers["ollama"]
				p.Stop.Method = "http_request"
				c.Providers["ollama"] = p
			},
			want: "requires stop.url",
		},
		{
			name: "route without model",
			mutate: func(c *Config) {
				c.Routes = map[string]RouteConfig{"fast": {}}
			},
			want: "model is required",
		},
		{
			name: "unknown fallback error",
			mutate: func(c *Config) {
				c.Routes = map[string]RouteConfig{"fast": {Model: "m", FallbackOn: []string{"rate_limit"}}}
			},
			want: "unknown fallback_on error",
		},
		{
			name:   "precedence names unknown provider",
			mutate: func(c *Config) { c.Precedence = []string{"ghost"} },
			want:   "unknown provider",
		},
		{
			name: "bad duration",
			mutate: func(c *Config) {
				c.Scheduler.RequestTimeout = "five minutes"
			},
			want: "request_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := minimalConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}
