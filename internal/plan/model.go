package plan

import (
	"github.com/vk/cargo-optee/internal/config"
)

// Component is one buildable project of a plan.
type Component struct {
	// ID is "<kind>.<name>" and is what depends_on refers to.
	ID   string
	Kind config.Kind
	Name string
	// Dir is the absolute project directory.
	Dir string
	// File is the plan file that declared the component.
	File string

	Overrides         config.Overrides
	Features          string
	NoDefaultFeatures bool
	DependsOn         []string
}

// Plan is a validated set of components.
type Plan struct {
	Components []*Component

	byID  map[string]*Component
	order []string
}

// Component returns the component with the given id.
func (p *Plan) Component(id string) (*Component, bool) {
	c, ok := p.byID[id]
	return c, ok
}

// Order returns component ids so that every component comes after its
// dependencies. Components that become ready together keep declaration
// order.
func (p *Plan) Order() []string {
	return append([]string(nil), p.order...)
}
