package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads a YAML configuration file, expands environment variables,
// and parses it into a Config struct.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return &cfg, nil
}

// LoadDir assembles a Config from the layout this gateway actually ships:
// dir/config.yaml for server/scheduler/logging/precedence, one file per
// provider under dir/providers/*.yaml (keyed by file stem), dir/routes.yaml,
// and an optional dir/models.yaml for per-model scoring overrides.
func LoadDir(dir string) (*Config, error) {
	cfg, err := loadInto(filepath.Join(dir, "config.yaml"))
	if err != nil {
		return nil, err
	}

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	providerFiles, err := filepath.Glob(filepath.Join(dir, "providers", "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("config: listing providers dir: %w", err)
	}
	sort.Strings(providerFiles)
	for _, f := range providerFiles {
		var p ProviderConfig
		if err := loadYAMLFile(f, &p); err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(filepath.Base(f), ".yaml")
		cfg.Providers[name] = p
	}

	routesPath := filepath.Join(dir, "routes.yaml")
	if _, err := os.Stat(routesPath); err == nil {
		var routes struct {
			Routes map[string]RouteConfig `yaml:"routes"`
		}
		if err := loadYAMLFile(routesPath, &routes); err != nil {
			return nil, err
		}
		cfg.Routes = routes.Routes
	}

	modelsPath := filepath.Join(dir, "models.yaml")
	if _, err := os.Stat(modelsPath); err == nil {
		var models struct {
			Models map[string]ModelConfig `yaml:"models"`
		}
		if err := loadYAMLFile(modelsPath, &models); err != nil {
			return nil, err
		}
		cfg.Models = models.Models
	}

	return cfg, nil
}

func loadInto(path string) (*Config, error) {
	return Load(path)
}

func loadYAMLFile(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	expanded, err := expandEnv(raw)
	if err != nil {
		return fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}
	if err := yaml.Unmarshal(expanded, out); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in raw YAML bytes.
// Returns an error listing all unresolved variables (no default, no env value).
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		hasDefault := len(subs) > 2 && subs[2] != nil
		defaultVal := ""
		if hasDefault {
			defaultVal = string(subs[2])
		}

		value, ok := os.LookupEnv(name)
		if ok {
			return []byte(value)
		}

		if hasDefault {
			return []byte(defaultVal)
		}

		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return result, errors.Join(errs...)
}
