// Package config loads the application configuration: the reusable core
// settings plus recruitment-specific sections (record store location and
// the team catalog).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	coreconfig "github.com/ourgoal/teambot/core/config"
)

// Team is one recruitable team presented on the selection keyboard.
type Team struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// StoreConfig locates the JSON record files.
type StoreConfig struct {
	Dir string `yaml:"dir" envconfig:"STORE_DIR"`
}

// Config is the full application configuration.
type Config struct {
	Core  coreconfig.Config `yaml:",inline"`
	Store StoreConfig       `yaml:"store"`
	Teams []Team            `yaml:"teams"`
}

// CoreConfig exposes the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	return &c.Core
}

// TeamByID returns the configured team with the given id.
func (c *Config) TeamByID(id string) (Team, bool) {
	for _, t := range c.Teams {
		if t.ID == id {
			return t, true
		}
	}
	return Team{}, false
}

// defaultTeams is the recruitment catalog used when the config file does
// not override it.
func defaultTeams() []Team {
	return []Team{
		{ID: "exams", Name: "تيم الامتحانات"},
		{ID: "collections", Name: "تيم التجميعات"},
		{ID: "support", Name: "تيم الدعم الفني"},
		{ID: "design", Name: "تيم التصميم"},
	}
}

// Load reads the YAML file, applies environment overrides, and validates.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates the application sections and fills defaults, then
// defers to the core validation.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if strings.TrimSpace(cfg.Store.Dir) == "" {
		cfg.Store.Dir = "data"
	}

	if len(cfg.Teams) == 0 {
		cfg.Teams = defaultTeams()
	}
	if len(cfg.Teams) != 4 {
		return fmt.Errorf("teams: exactly 4 teams are required, got %d", len(cfg.Teams))
	}
	seen := make(map[string]struct{}, len(cfg.Teams))
	for i, t := range cfg.Teams {
		id := strings.TrimSpace(t.ID)
		name := strings.TrimSpace(t.Name)
		if id == "" || name == "" {
			return fmt.Errorf("teams[%d]: id and name are required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("teams: duplicate id %q", id)
		}
		seen[id] = struct{}{}
		cfg.Teams[i] = Team{ID: id, Name: name}
	}

	return coreconfig.Normalize(&cfg.Core)
}
