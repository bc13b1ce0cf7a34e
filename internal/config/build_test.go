package config

import (
	"testing"
	"time"

	"github.com/flemzord/gatewayd/internal/catalog"
)

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Version: 1,
		Providers: map[string]ProviderConfig{
			"llamacpp": {
				Kind:    "openai_compat",
				BaseURL: "http://127.0.0.1:8081",
				Health:  HealthConfig{Path: "/health", SuccessCodes: []int{200, 503}},
				Binary:  "llama-server",
				Start: StartConfig{
					Enabled: true,
					Command: "llama-server",
					Args:    []string{"-m", "model.gguf"},
					Env:     map[string]string{"CUDA_VISIBLE_DEVICES": "0"},
				},
				Stop:   StopConfig{Method: "terminate_process"},
				Policy: PolicyConfig{IdleShutdown: "10m", MaxStartAttempts: 2},
			},
		},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	providers := BuildProviders(cfg)
	p := providers["llamacpp"]
	if p == nil {
		t.Fatal("provider not built")
	}
	if p.Kind != catalog.KindOpenAICompat {
		t.Errorf("kind = %q", p.Kind)
	}
	if p.Health.Timeout != 2*time.Second {
		t.Errorf("health timeout default = %v", p.Health.Timeout)
	}
	if _, ok := p.Health.SuccessCode[503]; !ok {
		t.Error("success code set not built")
	}
	if p.Detect != catalog.DetectPathOrProbe {
		t.Errorf("detect = %q", p.Detect)
	}
	if !p.Start.Enabled || p.Start.StartupGrace != 30*time.Second {
		t.Errorf("start descriptor = %+v", p.Start)
	}
	if p.Policy.IdleShutdown != 10*time.Minute || p.Policy.MaxStartAttempts != 2 {
		t.Errorf("policy = %+v", p.Policy)
	}
}

func TestBuildRoutesDefaultsFallbackOn(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Routes: map[string]RouteConfig{
			"fast": {Model: "llama3", Fallbacks: []string{"gpt-x"}},
			"picky": {
				Model:      "llama3",
				FallbackOn: []string{"oom"},
			},
		},
	}
	routes := BuildRoutes(cfg)

	fast := routes["fast"]
	for _, e := range []catalog.NormalizedError{catalog.ErrUnreachable, catalog.ErrTimeout, catalog.ErrOOM} {
		if _, ok := fast.FallbackOn[e]; !ok {
			t.Errorf("default fallback_on missing %q", e)
		}
	}
	if _, ok := fast.FallbackOn[catalog.ErrContextLength]; ok {
		t.Error("default fallback_on should not include context_length")
	}

	picky := routes["picky"]
	if len(picky.FallbackOn) != 1 {
		t.Errorf("explicit fallback_on not respected: %v", picky.FallbackOn)
	}
}

func TestBuildModels(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Models: map[string]ModelConfig{
			"whisper": {BasePriority: -1, AlwaysRunLast: true},
		},
	}
	models := BuildModels(cfg)
	m := models["whisper"]
	if m.BasePriority != -1 || !m.AlwaysRunLast {
		t.Errorf("model = %+v", m)
	}
}
