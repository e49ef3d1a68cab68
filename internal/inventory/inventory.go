// Package inventory loads the YAML host inventory and answers host-pattern
// queries. The document is a tree of groups: each group may carry hosts,
// vars, and child groups. Two groups always exist: "all" holds every host,
// "ungrouped" holds hosts that belong to no explicit group.
package inventory

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Host is one managed machine plus its host-level variables.
type Host struct {
	Name string
	Vars map[string]any
}

// Group is a named collection of hosts with group-level variables.
type Group struct {
	Name     string
	Vars     map[string]any
	Hosts    []string
	Children []string
	// depth is the distance from "all"; deeper groups win var merges.
	depth int
}

// Inventory is the loaded host/group graph.
type Inventory struct {
	hosts  map[string]*Host
	groups map[string]*Group
}

type yamlGroup struct {
	Hosts    map[string]map[string]any `yaml:"hosts"`
	Vars     map[string]any            `yaml:"vars"`
	Children map[string]yamlGroup      `yaml:"children"`
}

// Load reads an inventory file.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("inventory: read %s: %w", path, err)
	}
	inv, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("inventory: %s: %w", path, err)
	}
	return inv, nil
}

// Parse builds an inventory from YAML bytes.
func Parse(data []byte) (*Inventory, error) {
	var doc map[string]yamlGroup
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	inv := &Inventory{
		hosts:  map[string]*Host{},
		groups: map[string]*Group{},
	}
	inv.ensureGroup("all", 0)
	inv.ensureGroup("ungrouped", 1)

	// A top-level "all" group is the conventional root; any other top-level
	// key is treated as a child of all.
	for name, grp := range doc {
		if name == "all" {
			inv.addGroup("all", grp, 0)
			continue
		}
		inv.addGroup(name, grp, 1)
	}

	// Hosts that only appear under all land in ungrouped.
	for name := range inv.hosts {
		if !inv.inExplicitGroup(name) {
			ungrouped := inv.groups["ungrouped"]
			ungrouped.Hosts = append(ungrouped.Hosts, name)
		}
	}
	for _, grp := range inv.groups {
		sort.Strings(grp.Hosts)
		sort.Strings(grp.Children)
	}
	return inv, nil
}

func (inv *Inventory) ensureGroup(name string, depth int) *Group {
	if g, ok := inv.groups[name]; ok {
		if depth > g.depth {
			g.depth = depth
		}
		return g
	}
	g := &Group{Name: name, Vars: map[string]any{}, depth: depth}
	inv.groups[name] = g
	return g
}

func (inv *Inventory) addGroup(name string, src yamlGroup, depth int) {
	grp := inv.ensureGroup(name, depth)
	for k, v := range src.Vars {
		grp.Vars[k] = v
	}
	for hostName, hostVars := range src.Hosts {
		host, ok := inv.hosts[hostName]
		if !ok {
			host = &Host{Name: hostName, Vars: map[string]any{}}
			inv.hosts[hostName] = host
		}
		for k, v := range hostVars {
			host.Vars[k] = v
		}
		if !contains(grp.Hosts, hostName) {
			grp.Hosts = append(grp.Hosts, hostName)
		}
	}
	for childName, child := range src.Children {
		if !contains(grp.Children, childName) {
			grp.Children = append(grp.Children, childName)
		}
		inv.addGroup(childName, child, depth+1)
	}
}

func (inv *Inventory) inExplicitGroup(host string) bool {
	for name, grp := range inv.groups {
		if name == "all" || name == "ungrouped" {
			continue
		}
		if contains(grp.Hosts, host) {
			return true
		}
	}
	return false
}

// Hosts returns every host name, sorted.
func (inv *Inventory) Hosts() []string {
	names := make([]string, 0, len(inv.hosts))
	for name := range inv.hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Groups returns every group name, sorted.
func (inv *Inventory) Groups() []string {
	names := make([]string, 0, len(inv.groups))
	for name := range inv.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Group returns a group by name.
func (inv *Inventory) Group(name string) (*Group, bool) {
	g, ok := inv.groups[name]
	return g, ok
}

// groupHosts expands a group transitively through its children.
func (inv *Inventory) groupHosts(name string, seen map[string]bool) []string {
	if seen[name] {
		return nil
	}
	seen[name] = true
	grp, ok := inv.groups[name]
	if !ok {
		return nil
	}
	out := append([]string{}, grp.Hosts...)
	for _, child := range grp.Children {
		out = append(out, inv.groupHosts(child, seen)...)
	}
	return out
}

// Match resolves a host pattern to a sorted host list. Patterns are comma or
// colon separated terms; a term selects a group, a host, or a glob. A "!"
// prefix removes the term's hosts, "&" intersects with them.
func (inv *Inventory) Match(pattern string) ([]string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("inventory: empty host pattern")
	}
	terms := strings.FieldsFunc(pattern, func(r rune) bool { return r == ',' || r == ':' })

	selected := map[string]bool{}
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		op := byte(0)
		if term[0] == '!' || term[0] == '&' {
			op = term[0]
			term = strings.TrimSpace(term[1:])
		}
		hosts, err := inv.matchTerm(term)
		if err != nil {
			return nil, err
		}
		switch op {
		case '!':
			for _, h := range hosts {
				delete(selected, h)
			}
		case '&':
			keep := map[string]bool{}
			for _, h := range hosts {
				keep[h] = true
			}
			for h := range selected {
				if !keep[h] {
					delete(selected, h)
				}
			}
		default:
			for _, h := range hosts {
				selected[h] = true
			}
		}
	}

	out := make([]string, 0, len(selected))
	for h := range selected {
		out = append(out, h)
	}
	sort.Strings(out)
	return out, nil
}

func (inv *Inventory) matchTerm(term string) ([]string, error) {
	if term == "all" || term == "*" {
		return inv.Hosts(), nil
	}
	if _, ok := inv.groups[term]; ok {
		hosts := inv.groupHosts(term, map[string]bool{})
		sort.Strings(hosts)
		return hosts, nil
	}
	if _, ok := inv.hosts[term]; ok {
		return []string{term}, nil
	}
	if strings.ContainsAny(term, "*?[") {
		var hosts []string
		for name := range inv.hosts {
			ok, err := path.Match(term, name)
			if err != nil {
				return nil, fmt.Errorf("inventory: bad pattern %q: %w", term, err)
			}
			if ok {
				hosts = append(hosts, name)
			}
		}
		sort.Strings(hosts)
		return hosts, nil
	}
	return nil, fmt.Errorf("inventory: could not match %q to a host or group", term)
}

// Vars returns the merged variable view for a host: "all" vars first, then
// group vars by increasing depth, then host vars.
func (inv *Inventory) Vars(hostName string) map[string]any {
	merged := map[string]any{}
	host, ok := inv.hosts[hostName]
	if !ok {
		return merged
	}

	var memberships []*Group
	for _, grp := range inv.groups {
		if grp.Name == "all" || contains(inv.groupHosts(grp.Name, map[string]bool{}), hostName) {
			memberships = append(memberships, grp)
		}
	}
	sort.Slice(memberships, func(i, j int) bool {
		if memberships[i].depth != memberships[j].depth {
			return memberships[i].depth < memberships[j].depth
		}
		return memberships[i].Name < memberships[j].Name
	})
	for _, grp := range memberships {
		for k, v := range grp.Vars {
			merged[k] = v
		}
	}
	for k, v := range host.Vars {
		merged[k] = v
	}
	merged["inventory_hostname"] = hostName
	return merged
}

func contains(list []string, item string) bool {
	for _, x := range list {
		if x == item {
			return true
		}
	}
	return false
}
