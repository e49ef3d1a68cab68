// Package playbook loads and validates play definitions: ordered plays of
// tasks and handlers targeting inventory host patterns, with tags inherited
// play -> role -> task.
package playbook

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Playbook is an ordered list of plays.
type Playbook struct {
	Path  string
	Plays []*Play
}

// Play binds a host pattern to tasks and handlers.
type Play struct {
	Name      string
	Hosts     string
	Vars      map[string]any
	VarsFiles []string
	Roles     []RoleRef
	Tasks     []*Task
	Handlers  []*Task
	Tags      []string
	// Serial batches hosts; zero means the whole host list at once.
	Serial    int
	CheckMode bool
	// GatherFacts seeds each host's vars with local system facts.
	GatherFacts bool
}

// RoleRef names a role the play pulls in, with optional extra tags.
type RoleRef struct {
	Name string
	Tags []string
}

// Task is a single module invocation.
type Task struct {
	Name         string
	Module       string
	Args         map[string]any
	Tags         []string
	When         string
	Notify       []string
	Register     string
	Loop         []any
	IgnoreErrors bool
	// ChangedWhen, when set, overrides the module's changed flag.
	ChangedWhen *bool
}

type yamlPlay struct {
	Name        string         `yaml:"name"`
	Hosts       string         `yaml:"hosts"`
	Vars        map[string]any `yaml:"vars"`
	VarsFiles   []string       `yaml:"vars_files"`
	Roles       []yaml.Node    `yaml:"roles"`
	Tasks       []*Task        `yaml:"tasks"`
	Handlers    []*Task        `yaml:"handlers"`
	Tags        flexStrings    `yaml:"tags"`
	Serial      int            `yaml:"serial"`
	CheckMode   bool           `yaml:"check_mode"`
	GatherFacts bool           `yaml:"gather_facts"`
}

// taskKeys are the directive keys of a task mapping; the one remaining key is
// the module invocation.
var taskKeys = map[string]bool{
	"name":          true,
	"tags":          true,
	"when":          true,
	"notify":        true,
	"register":      true,
	"loop":          true,
	"with_items":    true,
	"ignore_errors": true,
	"changed_when":  true,
}

// UnmarshalYAML decodes the task mapping, separating directives from the
// single module key.
func (t *Task) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("task must be a mapping (line %d)", node.Line)
	}
	var raw map[string]yaml.Node
	if err := node.Decode(&raw); err != nil {
		return err
	}

	for key, value := range raw {
		if !taskKeys[key] {
			continue
		}
		var err error
		switch key {
		case "name":
			err = value.Decode(&t.Name)
		case "when":
			err = value.Decode(&t.When)
		case "register":
			err = value.Decode(&t.Register)
		case "ignore_errors":
			err = value.Decode(&t.IgnoreErrors)
		case "changed_when":
			var changed bool
			if err = value.Decode(&changed); err == nil {
				t.ChangedWhen = &changed
			}
		case "tags":
			var tags flexStrings
			if err = value.Decode(&tags); err == nil {
				t.Tags = tags
			}
		case "notify":
			var notify flexStrings
			if err = value.Decode(&notify); err == nil {
				t.Notify = notify
			}
		case "loop", "with_items":
			err = value.Decode(&t.Loop)
		}
		if err != nil {
			return fmt.Errorf("task directive %s (line %d): %w", key, value.Line, err)
		}
	}

	for key, value := range raw {
		if taskKeys[key] {
			continue
		}
		if t.Module != "" {
			return fmt.Errorf("task %q has two module keys: %s and %s (line %d)", t.Name, t.Module, key, node.Line)
		}
		t.Module = key
		args, err := decodeModuleArgs(key, value)
		if err != nil {
			return fmt.Errorf("task %q: %w", t.Name, err)
		}
		// shell is the command module run through sh -c, not a module of
		// its own.
		if key == "shell" {
			t.Module = "command"
			if args == nil {
				args = map[string]any{}
			}
			args["shell"] = true
		}
		t.Args = args
	}
	if t.Module == "" {
		return fmt.Errorf("task %q has no module key (line %d)", t.Name, node.Line)
	}
	return nil
}

// decodeModuleArgs accepts either a mapping of arguments or the k=v
// shorthand string. The command module additionally takes its whole string
// value as the command line.
func decodeModuleArgs(moduleID string, value yaml.Node) (map[string]any, error) {
	switch value.Kind {
	case yaml.MappingNode:
		var args map[string]any
		if err := value.Decode(&args); err != nil {
			return nil, fmt.Errorf("module %s args: %w", moduleID, err)
		}
		return args, nil
	case yaml.ScalarNode:
		var text string
		if err := value.Decode(&text); err != nil {
			return nil, fmt.Errorf("module %s args: %w", moduleID, err)
		}
		if moduleID == "command" || moduleID == "shell" {
			return map[string]any{"cmd": text}, nil
		}
		return parseShorthand(moduleID, text)
	case 0:
		return map[string]any{}, nil
	default:
		return nil, fmt.Errorf("module %s args must be a mapping or string (line %d)", moduleID, value.Line)
	}
}

func parseShorthand(moduleID, text string) (map[string]any, error) {
	args := map[string]any{}
	for _, field := range strings.Fields(text) {
		idx := strings.Index(field, "=")
		if idx <= 0 {
			return nil, fmt.Errorf("module %s: shorthand token %q is not key=value", moduleID, field)
		}
		args[field[:idx]] = field[idx+1:]
	}
	return args, nil
}

// flexStrings accepts either a scalar or a sequence of strings.
type flexStrings []string

func (f *flexStrings) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				*f = append(*f, part)
			}
		}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*f = list
		return nil
	}
	return fmt.Errorf("expected string or list (line %d)", node.Line)
}

// Load reads a playbook file.
func Load(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("playbook: read %s: %w", path, err)
	}
	pb, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("playbook: %s: %w", path, err)
	}
	pb.Path = path
	return pb, nil
}

// Parse builds a playbook from YAML bytes and applies tag inheritance.
func Parse(data []byte) (*Playbook, error) {
	var rawPlays []yamlPlay
	if err := yaml.Unmarshal(data, &rawPlays); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if len(rawPlays) == 0 {
		return nil, fmt.Errorf("parse: no plays found")
	}
	pb := &Playbook{}
	for i, raw := range rawPlays {
		play := &Play{
			Name:        raw.Name,
			Hosts:       raw.Hosts,
			Vars:        raw.Vars,
			VarsFiles:   raw.VarsFiles,
			Tasks:       raw.Tasks,
			Handlers:    raw.Handlers,
			Tags:        raw.Tags,
			Serial:      raw.Serial,
			CheckMode:   raw.CheckMode,
			GatherFacts: raw.GatherFacts,
		}
		if play.Name == "" {
			play.Name = fmt.Sprintf("play #%d", i+1)
		}
		if strings.TrimSpace(play.Hosts) == "" {
			return nil, fmt.Errorf("parse: %s: hosts is required", play.Name)
		}
		for _, roleNode := range raw.Roles {
			ref, err := decodeRoleRef(roleNode)
			if err != nil {
				return nil, fmt.Errorf("parse: %s: %w", play.Name, err)
			}
			play.Roles = append(play.Roles, ref)
		}
		// Tasks and handlers inherit the play's tags.
		for _, task := range play.Tasks {
			task.Tags = unionTags(play.Tags, task.Tags)
		}
		for _, handler := range play.Handlers {
			handler.Tags = unionTags(play.Tags, handler.Tags)
		}
		pb.Plays = append(pb.Plays, play)
	}
	return pb, nil
}

func decodeRoleRef(node yaml.Node) (RoleRef, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		var name string
		if err := node.Decode(&name); err != nil {
			return RoleRef{}, err
		}
		return RoleRef{Name: name}, nil
	case yaml.MappingNode:
		var raw struct {
			Role string      `yaml:"role"`
			Name string      `yaml:"name"`
			Tags flexStrings `yaml:"tags"`
		}
		if err := node.Decode(&raw); err != nil {
			return RoleRef{}, err
		}
		name := raw.Role
		if name == "" {
			name = raw.Name
		}
		if name == "" {
			return RoleRef{}, fmt.Errorf("role entry needs a role name (line %d)", node.Line)
		}
		return RoleRef{Name: name, Tags: raw.Tags}, nil
	}
	return RoleRef{}, fmt.Errorf("role entry must be a string or mapping (line %d)", node.Line)
}

func unionTags(parent, own []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range append(append([]string{}, parent...), own...) {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// ListTags collects every tag in the playbook, sorted.
func (pb *Playbook) ListTags() []string {
	seen := map[string]bool{}
	for _, play := range pb.Plays {
		for _, task := range play.Tasks {
			for _, tag := range task.Tags {
				seen[tag] = true
			}
		}
	}
	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Lint validates the playbook structure and reports every problem found.
func (pb *Playbook) Lint() []error {
	var errs []error
	for _, play := range pb.Plays {
		if len(play.Tasks) == 0 && len(play.Roles) == 0 {
			errs = append(errs, fmt.Errorf("%s: no tasks or roles", play.Name))
		}
		seen := map[string]bool{}
		for _, handler := range play.Handlers {
			if handler.Name == "" {
				errs = append(errs, fmt.Errorf("%s: handler without a name can never be notified", play.Name))
				continue
			}
			if seen[handler.Name] {
				errs = append(errs, fmt.Errorf("%s: duplicate handler %q", play.Name, handler.Name))
			}
			seen[handler.Name] = true
		}
		// Role handlers are merged at run time, so notify targets can only be
		// checked statically for plays without roles.
		if len(play.Roles) == 0 {
			for _, task := range play.Tasks {
				for _, notify := range task.Notify {
					if !seen[notify] {
						errs = append(errs, fmt.Errorf("%s: task %q notifies unknown handler %q", play.Name, task.Name, notify))
					}
				}
			}
		}
	}
	return errs
}
