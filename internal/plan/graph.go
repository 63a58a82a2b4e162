package plan

import (
	"errors"
	"fmt"

	"github.com/dominikbraun/graph"
)

var (
	// ErrEmptyPlan is returned for plans without components.
	ErrEmptyPlan = errors.New("plan declares no components")
	// ErrDuplicateComponent is returned when two blocks share an id.
	ErrDuplicateComponent = errors.New("duplicate component")
	// ErrUnknownDependency is returned when depends_on names no component.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrDependencyCycle is returned when depends_on edges form a cycle.
	ErrDependencyCycle = errors.New("dependency cycle")
)

// newPlan validates components and computes their build order. An edge
// runs from a dependency to its dependent.
func newPlan(components []*Component) (*Plan, error) {
	if len(components) == 0 {
		return nil, ErrEmptyPlan
	}

	p := &Plan{
		Components: components,
		byID:       make(map[string]*Component, len(components)),
	}
	declared := make(map[string]int, len(components))

	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for i, c := range components {
		if prev, ok := p.byID[c.ID]; ok {
			return nil, fmt.Errorf("%w %q declared in %s and %s", ErrDuplicateComponent, c.ID, prev.File, c.File)
		}
		p.byID[c.ID] = c
		declared[c.ID] = i
		if err := g.AddVertex(c.ID); err != nil {
			return nil, fmt.Errorf("failed to add component %s: %w", c.ID, err)
		}
	}

	for _, c := range components {
		for _, dep := range c.DependsOn {
			if _, ok := p.byID[dep]; !ok {
				return nil, fmt.Errorf("component %s: %w %q", c.ID, ErrUnknownDependency, dep)
			}
			err := g.AddEdge(dep, c.ID)
			switch {
			case err == nil, errors.Is(err, graph.ErrEdgeAlreadyExists):
			case errors.Is(err, graph.ErrEdgeCreatesCycle):
				return nil, fmt.Errorf("%w: %s depends on %s", ErrDependencyCycle, c.ID, dep)
			default:
				return nil, fmt.Errorf("component %s: failed to add dependency %s: %w", c.ID, dep, err)
			}
		}
	}

	order, err := graph.StableTopologicalSort(g, func(a, b string) bool {
		return declared[a] < declared[b]
	})
	if err != nil {
		return nil, fmt.Errorf("failed to order components: %w", err)
	}
	p.order = order
	return p, nil
}
