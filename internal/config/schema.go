// Package config loads and validates the gateway's YAML configuration:
// one global file plus a directory of per-provider files, a route table,
// and an optional per-model scoring override file.
package config

// Config is the fully assembled configuration tree for a gatewayd instance.
// Modules never receive a YAML subsection of their own; they pull this
// struct from the AppContext service registry during Provision instead.
type Config struct {
	Version int `yaml:"version"`

	Server    ServerConfig              `yaml:"server"`
	Scheduler SchedulerConfig           `yaml:"scheduler"`
	Logging   LoggingConfig             `yaml:"logging"`
	Tracing   TracingConfig             `yaml:"tracing"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Routes    map[string]RouteConfig    `yaml:"routes"`
	Models    map[string]ModelConfig    `yaml:"models"`

	// Precedence breaks ties when two providers list the same model ID
	// with no other way to choose between them. Earlier entries win.
	Precedence []string `yaml:"precedence"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Bind            string `yaml:"bind"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	AdminToken      string `yaml:"admin_token"`
}

func (s ServerConfig) defaults() ServerConfig {
	if s.Bind == "" {
		s.Bind = "127.0.0.1:8080"
	}
	if s.ReadTimeout == "" {
		s.ReadTimeout = "30s"
	}
	if s.WriteTimeout == "" {
		s.WriteTimeout = "10m"
	}
	if s.ShutdownTimeout == "" {
		s.ShutdownTimeout = "15s"
	}
	return s
}

// SchedulerConfig configures the job scheduler's scoring and cooldown knobs.
type SchedulerConfig struct {
	AgingBonusPerSecond float64 `yaml:"aging_bonus_per_second"`
	RefreshCooldown     string  `yaml:"refresh_cooldown"`
	RequestTimeout      string  `yaml:"request_timeout"`
	MaxStartAttempts    int     `yaml:"max_start_attempts"`
	MaxFallbackAttempts int     `yaml:"max_fallback_attempts"`
	IdleShutdown        string  `yaml:"idle_shutdown"`
	AutoRefreshOnMiss   *bool   `yaml:"auto_refresh_on_miss"`

	// ExplicitModelFallback is reserved: explicit model ids never fall
	// back in this revision regardless of its value.
	ExplicitModelFallback bool `yaml:"explicit_model_fallback"`
}

// AutoRefresh reports the effective auto_refresh_on_miss value, true
// unless explicitly disabled.
func (s SchedulerConfig) AutoRefresh() bool {
	return s.AutoRefreshOnMiss == nil || *s.AutoRefreshOnMiss
}

func (s SchedulerConfig) defaults() SchedulerConfig {
	if s.RefreshCooldown == "" {
		s.RefreshCooldown = "30s"
	}
	if s.RequestTimeout == "" {
		s.RequestTimeout = "5m"
	}
	if s.MaxStartAttempts == 0 {
		s.MaxStartAttempts = 3
	}
	if s.MaxFallbackAttempts == 0 {
		s.MaxFallbackAttempts = 2
	}
	if s.IdleShutdown == "" {
		s.IdleShutdown = "15m"
	}
	return s
}

// LoggingConfig configures the JSON-lines request log.
type LoggingConfig struct {
	Dir       string `yaml:"dir"`
	Level     string `yaml:"level"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	KeepDays  int    `yaml:"keep_days"`
	Compress  bool   `yaml:"compress"`
}

func (l LoggingConfig) defaults() LoggingConfig {
	if l.Dir == "" {
		l.Dir = "logs"
	}
	if l.Level == "" {
		l.Level = "info"
	}
	if l.MaxSizeMB == 0 {
		l.MaxSizeMB = 100
	}
	if l.KeepDays == 0 {
		l.KeepDays = 14
	}
	return l
}

// TracingConfig enables OTLP trace export. Endpoint falls back to the
// standard OTEL_EXPORTER_OTLP_ENDPOINT environment variable when empty.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// HealthConfig describes a provider's health probe.
type HealthConfig struct {
	Method       string `yaml:"method"`
	Path         string `yaml:"path"`
	SuccessCodes []int  `yaml:"success_codes"`
	Timeout      string `yaml:"timeout"`
}

// StartConfig describes how the supervisor launches a managed backend.
type StartConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Command      string            `yaml:"command"`
	Args         []string          `yaml:"args"`
	Cwd          string            `yaml:"cwd"`
	Env          map[string]string `yaml:"env"`
	StartupGrace string            `yaml:"startup_grace"`
}

// StopConfig describes how the supervisor tears a managed backend down.
type StopConfig struct {
	Method string `yaml:"method"` // terminate_process|kill_process|http_request|none
	URL    string `yaml:"url"`
}

// PolicyConfig carries per-provider lifecycle tuning.
type PolicyConfig struct {
	KeepWarm         bool   `yaml:"keep_warm"`
	IdleShutdown     string `yaml:"idle_shutdown"`
	MaxStartAttempts int    `yaml:"max_start_attempts"`
	RestartOnFailure bool   `yaml:"restart_on_failure"`
}

// ProviderConfig describes one backend process or remote endpoint the
// supervisor owns and the adapters forward requests to. One file per
// provider under providers/; the file stem is the provider id.
type ProviderConfig struct {
	Kind          string `yaml:"kind"`           // "ollama" | "openai_compat"
	ResourceGroup string `yaml:"resource_group"` // "local_gpu" | "cloud"
	BaseURL       string `yaml:"base_url"`
	APIKeyEnv     string `yaml:"api_key_env"`

	Health   HealthConfig `yaml:"health"`
	ListPath string       `yaml:"list_path"`
	Models   []string     `yaml:"models"` // declared models, skips the list request

	Detect   string `yaml:"detect"` // path_or_probe|probe_only|none
	Binary   string `yaml:"binary"`
	ProbeURL string `yaml:"probe_url"`

	Start  StartConfig  `yaml:"start"`
	Stop   StopConfig   `yaml:"stop"`
	Policy PolicyConfig `yaml:"policy"`
}

func (p ProviderConfig) defaults() ProviderConfig {
	if p.ResourceGroup == "" {
		p.ResourceGroup = "local_gpu"
	}
	if p.Health.Path == "" {
		p.Health.Path = "/"
	}
	if p.Health.Timeout == "" {
		p.Health.Timeout = "2s"
	}
	if p.ListPath == "" {
		switch p.Kind {
		case "ollama":
			p.ListPath = "/api/tags"
		default:
			p.ListPath = "/v1/models"
		}
	}
	if p.Detect == "" {
		if p.Binary != "" || p.ProbeURL != "" {
			p.Detect = "path_or_probe"
		} else {
			p.Detect = "none"
		}
	}
	if p.Stop.Method == "" {
		p.Stop.Method = "terminate_process"
	}
	if p.Start.StartupGrace == "" {
		p.Start.StartupGrace = "30s"
	}
	return p
}

// RouteConfig describes a named alias that resolves to a primary model ID
// plus an ordered fallback list.
type RouteConfig struct {
	Model      string   `yaml:"model"`
	Fallbacks  []string `yaml:"fallbacks"`
	FallbackOn []string `yaml:"fallback_on"` // normalized error names; defaults to unreachable+timeout+oom
}

// ModelConfig carries per-model scheduling overrides.
type ModelConfig struct {
	BasePriority   float64 `yaml:"base_priority"`
	LoadPenalty    float64 `yaml:"load_penalty"`
	RuntimePenalty float64 `yaml:"runtime_penalty"`
	AlwaysRunLast  bool    `yaml:"always_run_last"`
}
