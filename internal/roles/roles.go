// Package roles loads reusable task bundles. A role is a directory:
//
//	<role>/
//	├── tasks/main.yml      <- task list (required)
//	├── handlers/main.yml   <- handlers the tasks may notify
//	├── defaults/main.yml   <- lowest-precedence variables
//	└── meta/main.yml       <- dependencies on other roles
//
// Dependencies are resolved through a DAG; a dependency cycle is an error.
package roles

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kingrea/converge/internal/playbook"
	"gopkg.in/yaml.v3"
)

// Role is one loaded role directory.
type Role struct {
	Name     string
	Root     string
	Tasks    []*playbook.Task
	Handlers []*playbook.Task
	Defaults map[string]any
	// Dependencies are role names from meta/main.yml, in declaration order.
	Dependencies []string
}

type metaFile struct {
	Dependencies []yaml.Node `yaml:"dependencies"`
}

// Loader finds roles by name across an ordered list of search paths.
type Loader struct {
	searchPaths []string
}

// NewLoader builds a loader. Earlier paths win on name collisions.
func NewLoader(searchPaths ...string) *Loader {
	return &Loader{searchPaths: searchPaths}
}

// Find locates a role directory by name.
func (l *Loader) Find(name string) (string, error) {
	for _, base := range l.searchPaths {
		candidate := filepath.Join(base, name)
		info, err := os.Stat(candidate)
		if err == nil && info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("roles: %q not found in %s", name, strings.Join(l.searchPaths, ", "))
}

// Load reads a role and its files by name.
func (l *Loader) Load(name string) (*Role, error) {
	root, err := l.Find(name)
	if err != nil {
		return nil, err
	}
	role := &Role{Name: name, Root: root, Defaults: map[string]any{}}

	tasksPath := filepath.Join(root, "tasks", "main.yml")
	tasks, err := loadTaskFile(tasksPath)
	if err != nil {
		return nil, fmt.Errorf("roles: %s: %w", name, err)
	}
	if tasks == nil {
		return nil, fmt.Errorf("roles: %s: missing %s", name, tasksPath)
	}
	role.Tasks = tasks

	handlers, err := loadTaskFile(filepath.Join(root, "handlers", "main.yml"))
	if err != nil {
		return nil, fmt.Errorf("roles: %s: %w", name, err)
	}
	role.Handlers = handlers

	defaults, err := loadVarsFileOptional(filepath.Join(root, "defaults", "main.yml"))
	if err != nil {
		return nil, fmt.Errorf("roles: %s: %w", name, err)
	}
	if defaults != nil {
		role.Defaults = defaults
	}

	deps, err := loadMeta(filepath.Join(root, "meta", "main.yml"))
	if err != nil {
		return nil, fmt.Errorf("roles: %s: %w", name, err)
	}
	role.Dependencies = deps

	return role, nil
}

// loadTaskFile reads a task list; a missing file returns (nil, nil).
func loadTaskFile(path string) ([]*playbook.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var tasks []*playbook.Task
	if err := yaml.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return tasks, nil
}

func loadVarsFileOptional(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var vars map[string]any
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return vars, nil
}

func loadMeta(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var meta metaFile
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	var deps []string
	for _, node := range meta.Dependencies {
		switch node.Kind {
		case yaml.ScalarNode:
			var name string
			if err := node.Decode(&name); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			deps = append(deps, name)
		case yaml.MappingNode:
			var entry struct {
				Role string `yaml:"role"`
				Name string `yaml:"name"`
			}
			if err := node.Decode(&entry); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			name := entry.Role
			if name == "" {
				name = entry.Name
			}
			if name == "" {
				return nil, fmt.Errorf("parse %s: dependency entry without a role name (line %d)", path, node.Line)
			}
			deps = append(deps, name)
		default:
			return nil, fmt.Errorf("parse %s: dependency must be a string or mapping (line %d)", path, node.Line)
		}
	}
	return deps, nil
}
