package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models plantline.yml.
type Config struct {
	Plant struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"plant"`
	Allocation struct {
		BaseTimeMinutes int     `yaml:"base_time_minutes"`
		TaskDifficulty  float64 `yaml:"task_difficulty"`
		OverheadMinutes int     `yaml:"overhead_minutes"`
		DefaultSkill    float64 `yaml:"default_skill"`
	} `yaml:"allocation"`
	Scheduling struct {
		HealthThreshold  float64 `yaml:"health_threshold"`
		OperationalFloor float64 `yaml:"operational_floor"`
	} `yaml:"scheduling"`
	Override struct {
		AuthorizedRoles []string `yaml:"authorized_roles"`
	} `yaml:"override"`
	Hooks []HookConfig `yaml:"hooks,omitempty"`
}

// HookConfig describes one outbound notification endpoint. Empty Events
// and Severities match everything.
type HookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	Severities     []string `yaml:"severities,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with pl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default("plantline"), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Plant.ID == "" {
		return fmt.Errorf("config.plant.id is required")
	}
	if c.Allocation.BaseTimeMinutes < 0 {
		return fmt.Errorf("config.allocation.base_time_minutes must not be negative")
	}
	if c.Allocation.TaskDifficulty < 0 {
		return fmt.Errorf("config.allocation.task_difficulty must not be negative")
	}
	if c.Scheduling.HealthThreshold < 0 || c.Scheduling.HealthThreshold > 100 {
		return fmt.Errorf("config.scheduling.health_threshold must be within 0..100")
	}
	if c.Scheduling.OperationalFloor < 0 || c.Scheduling.OperationalFloor > 100 {
		return fmt.Errorf("config.scheduling.operational_floor must be within 0..100")
	}
	for _, role := range c.Override.AuthorizedRoles {
		if role == "" {
			return fmt.Errorf("config.override.authorized_roles contains an empty role")
		}
	}
	for i, hook := range c.Hooks {
		if hook.URL == "" {
			return fmt.Errorf("config.hooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "plantline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(plantID string) string {
	return fmt.Sprintf(defaultTemplate, plantID)
}

// Default returns the default Config struct for a plant.
func Default(plantID string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, plantID)), &cfg)
	cfg.Plant.ID = plantID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `plant:
  id: %s
  name: Main plant

allocation:
  # Orchestration-wide estimation constants.
  base_time_minutes: 120
  task_difficulty: 1.5
  overhead_minutes: 20
  default_skill: 5

scheduling:
  # Assets below the threshold get a repair order on the next schedule run;
  # assets at or below the floor are reported as non-operational.
  health_threshold: 50
  operational_floor: 20

override:
  authorized_roles:
    - PLANT_MANAGER
    - SAFETY_OFFICER
    - OPERATIONS_DIRECTOR
`
