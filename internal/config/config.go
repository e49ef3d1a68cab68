// internal/config/config.go
//
// This package handles configuration and the .converge directory structure.
// Every project that uses converge gets a .converge/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// ConvergeDir is the name of the directory we create in each project
	ConvergeDir = ".converge"

	defaultForks = 5
)

const defaultProjectConfigYAML = `# converge project configuration
version: 1

# Default inventory file, relative to the project root.
inventory: inventory.yml

# How many hosts run a task at the same time.
forks: 5

# Role sources. Use source: git with a repository URL or source: local with a relative path.
roles: []
#  - name: common
#    source: git
#    repository: https://github.com/yourusername/converge-role-common
#  - name: local-role
#    source: local
#    path: ../roles/local-role

# Vault identities loaded for every run, same syntax as --vault-id.
# vault_ids:
#   - dev@.vault-pass

# Local HTTP bridge that exposes run events to dashboards and other tools.
# event_bridge:
#   enabled: true
#   host: 127.0.0.1
#   port: 8790
`

// EventBridgeConfig models the optional event_bridge block in config.yaml.
// Pointers distinguish "unset" from explicit false.
type EventBridgeConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// RoleRef declares one role source entry inside .converge/config.yaml.
type RoleRef struct {
	Name       string `yaml:"name"`
	Source     string `yaml:"source"`
	Repository string `yaml:"repository,omitempty"`
	Path       string `yaml:"path,omitempty"`
}

// ProjectConfig models .converge/config.yaml.
type ProjectConfig struct {
	Version   int       `yaml:"version"`
	Inventory string    `yaml:"inventory"`
	Forks     int       `yaml:"forks"`
	Roles     []RoleRef `yaml:"roles"`
	VaultIDs  []string  `yaml:"vault_ids"`

	EventBridge EventBridgeConfig `yaml:"event_bridge,omitempty"`
}

// Config holds the runtime configuration for converge.
type Config struct {
	// ProjectDir is the directory where the user ran `converge` from
	ProjectDir string

	// ConvergeProjectDir is ProjectDir/.converge
	ConvergeProjectDir string

	Project ProjectConfig
}

// InitConvergeDir creates the .converge directory structure in the given
// project directory. Called on every CLI startup; existing content is kept.
//
// Structure created:
// .converge/
// ├── logs/      <- run logs and the logbook
// ├── runs/      <- per-run report artifacts and .retry files
// ├── modules/   <- user plugin modules (YAML or Go definitions)
// └── roles/     <- fetched role sources
func InitConvergeDir(projectDir string) error {
	convergeDir := filepath.Join(projectDir, ConvergeDir)

	dirs := []string{
		filepath.Join(convergeDir, "logs"),
		filepath.Join(convergeDir, "runs"),
		filepath.Join(convergeDir, "modules"),
		filepath.Join(convergeDir, "roles"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return ensureProjectConfig(filepath.Join(convergeDir, "config.yaml"))
}

// NewConfig creates a new Config instance populated with project settings.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:         projectDir,
		ConvergeProjectDir: filepath.Join(projectDir, ConvergeDir),
		Project:            defaultProjectConfig(),
	}

	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.ConvergeProjectDir, "logs")
}

// RunsDir returns the path to the per-run artifact directory.
func (c *Config) RunsDir() string {
	return filepath.Join(c.ConvergeProjectDir, "runs")
}

// ModulesDir returns the plugin module directory.
func (c *Config) ModulesDir() string {
	return filepath.Join(c.ConvergeProjectDir, "modules")
}

// RolesDir returns the directory where fetched roles are stored.
func (c *Config) RolesDir() string {
	return filepath.Join(c.ConvergeProjectDir, "roles")
}

// LogbookPath returns the path of the run logbook file.
func (c *Config) LogbookPath() string {
	return filepath.Join(c.LogsDir(), "logbook.log")
}

// InventoryPath resolves the configured inventory file against the project dir.
func (c *Config) InventoryPath() string {
	inv := c.Project.Inventory
	if inv == "" {
		return ""
	}
	if filepath.IsAbs(inv) {
		return inv
	}
	return filepath.Join(c.ProjectDir, inv)
}

// Forks returns the configured fork count, falling back to the default.
func (c *Config) Forks() int {
	if c.Project.Forks > 0 {
		return c.Project.Forks
	}
	return defaultForks
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version:   1,
		Inventory: "inventory.yml",
		Forks:     defaultForks,
	}
}

func (c *Config) loadProjectConfig() error {
	path := filepath.Join(c.ConvergeProjectDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var project ProjectConfig
	if err := yaml.Unmarshal(data, &project); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if project.Version == 0 {
		project.Version = 1
	}
	if project.Version != 1 {
		return fmt.Errorf("config: unsupported config version %d in %s", project.Version, path)
	}
	if strings.TrimSpace(project.Inventory) == "" {
		project.Inventory = c.Project.Inventory
	}
	if project.Forks <= 0 {
		project.Forks = defaultForks
	}
	for i, role := range project.Roles {
		if err := validateRoleRef(role); err != nil {
			return fmt.Errorf("config: roles[%d]: %w", i, err)
		}
	}
	c.Project = project
	return nil
}

func validateRoleRef(ref RoleRef) error {
	if strings.TrimSpace(ref.Name) == "" {
		return fmt.Errorf("name is required")
	}
	switch ref.Source {
	case "git":
		if strings.TrimSpace(ref.Repository) == "" {
			return fmt.Errorf("repository is required for git source %q", ref.Name)
		}
	case "local":
		if strings.TrimSpace(ref.Path) == "" {
			return fmt.Errorf("path is required for local source %q", ref.Name)
		}
	default:
		return fmt.Errorf("unknown source %q (want git or local)", ref.Source)
	}
	return nil
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644); err != nil {
		return fmt.Errorf("config: write default %s: %w", path, err)
	}
	return nil
}
