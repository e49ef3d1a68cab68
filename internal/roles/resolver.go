package roles

import (
	"errors"
	"fmt"

	"github.com/dominikbraun/graph"
)

// Resolve loads the named roles and their transitive dependencies, returning
// them in execution order: every dependency before its dependents, each role
// once. A dependency cycle is reported as an error.
func Resolve(loader *Loader, names []string) ([]*Role, error) {
	loaded := map[string]*Role{}
	depGraph := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())

	var load func(name string) (*Role, error)
	load = func(name string) (*Role, error) {
		if role, ok := loaded[name]; ok {
			return role, nil
		}
		role, err := loader.Load(name)
		if err != nil {
			return nil, err
		}
		loaded[name] = role
		if err := depGraph.AddVertex(name); err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
			return nil, fmt.Errorf("roles: graph vertex %s: %w", name, err)
		}
		for _, dep := range role.Dependencies {
			if _, err := load(dep); err != nil {
				return nil, err
			}
			// Edge dep -> role: dependency runs first.
			err := depGraph.AddEdge(dep, name)
			switch {
			case err == nil:
			case errors.Is(err, graph.ErrEdgeAlreadyExists):
			case errors.Is(err, graph.ErrEdgeCreatesCycle):
				return nil, fmt.Errorf("roles: dependency cycle between %s and %s", name, dep)
			default:
				return nil, fmt.Errorf("roles: graph edge %s -> %s: %w", dep, name, err)
			}
		}
		return role, nil
	}

	var order []*Role
	seen := map[string]bool{}
	var place func(role *Role)
	place = func(role *Role) {
		if seen[role.Name] {
			return
		}
		seen[role.Name] = true
		for _, dep := range role.Dependencies {
			place(loaded[dep])
		}
		order = append(order, role)
	}

	for _, name := range names {
		role, err := load(name)
		if err != nil {
			return nil, err
		}
		place(role)
	}
	return order, nil
}
