package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-openapi/inflect"

	"github.com/syssam/nestwrite"
	"github.com/syssam/nestwrite/schema/edge"
)

// Graph is the registry of models and the relations between them.
type Graph struct {
	models []*Model
	byName map[string]*Model
}

// Join describes the join table of a many-to-many relation, as seen from
// the owner side.
type Join struct {
	Table        string
	OwnerColumn  string
	TargetColumn string
	Owner        string // Owner model name.
	Target       string // Target model name.
}

// Relation is an edge of a model resolved against the graph.
type Relation struct {
	// Name is the edge name on Model.
	Name string
	// Model owns the accessor.
	Model *Model
	// Target is the related model.
	Target *Model
	// Edge is the edge as declared on Model. Implicit reverse accessors
	// get a synthesized KindReverse edge.
	Edge *edge.Descriptor
	// Stored is the edge holding the storage: Edge itself, or for reverse
	// relations the edge declared on Target.
	Stored *edge.Descriptor
	// Join is set for many-to-many relations.
	Join *Join
}

// Reverse reports if the related entities hold the link back to Model.
func (r *Relation) Reverse() bool {
	return r.Edge.Kind == edge.KindReverse || r.Edge.Kind == edge.KindGeneric
}

// Reference is a stored edge pointing at a model.
type Reference struct {
	Model *Model
	Edge  *edge.Descriptor
}

// NewGraph compiles the given models into a graph. Every edge must target
// a registered model and every reverse edge must resolve to a stored edge.
func NewGraph(models ...*Model) (*Graph, error) {
	g := &Graph{byName: make(map[string]*Model, len(models))}
	for _, m := range models {
		if err := m.compile(); err != nil {
			return nil, err
		}
		if _, ok := g.byName[m.Name]; ok {
			return nil, fmt.Errorf("schema: duplicate model %q", m.Name)
		}
		g.byName[m.Name] = m
		g.models = append(g.models, m)
	}
	var errs []error
	for _, m := range g.models {
		for _, e := range m.edges {
			if _, ok := g.byName[e.Target]; !ok {
				errs = append(errs, fmt.Errorf("schema: edge %s.%s: unknown target model %q", m.Name, e.Name, e.Target))
				continue
			}
			if e.Through != "" {
				if _, ok := g.byName[e.Through]; !ok {
					errs = append(errs, fmt.Errorf("schema: edge %s.%s: unknown association model %q", m.Name, e.Name, e.Through))
				}
			}
			if e.Kind == edge.KindReverse {
				if _, err := g.inverse(m, e); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return g, nil
}

// MustGraph is like NewGraph but panics on error.
func MustGraph(models ...*Model) *Graph {
	g, err := NewGraph(models...)
	if err != nil {
		panic(err)
	}
	return g
}

// Model returns the named model.
func (g *Graph) Model(name string) (*Model, bool) {
	m, ok := g.byName[name]
	return m, ok
}

// Models returns the models in registration order.
func (g *Graph) Models() []*Model {
	return g.models
}

// References returns the foreign key and one-to-one edges of all models
// that point at the named model.
func (g *Graph) References(target string) []Reference {
	var refs []Reference
	for _, m := range g.models {
		for _, e := range m.edges {
			if e.Target == target && (e.Kind == edge.KindForeignKey || e.Kind == edge.KindOneToOne) {
				refs = append(refs, Reference{Model: m, Edge: e})
			}
		}
	}
	return refs
}

// Joins returns the join tables one side of which is the named model.
func (g *Graph) Joins(model string) []*Join {
	var joins []*Join
	for _, m := range g.models {
		for _, e := range m.edges {
			if e.Kind != edge.KindManyToMany || e.Through != "" {
				continue
			}
			j := joinOf(m, e)
			switch model {
			case j.Owner:
				joins = append(joins, j)
			case j.Target:
				joins = append(joins, j.flip())
			}
		}
	}
	return joins
}

// Generics returns the generic edges declared on the named model.
func (g *Graph) Generics(model string) []*edge.Descriptor {
	m, ok := g.byName[model]
	if !ok {
		return nil
	}
	var es []*edge.Descriptor
	for _, e := range m.edges {
		if e.Kind == edge.KindGeneric {
			es = append(es, e)
		}
	}
	return es
}

// Resolve resolves the relation accessed as name on the given model.
// Names with no declared edge fall back to the inflected accessor of an
// edge declared on another model: "avatar_set" and "avatars" both
// resolve to the reverse of Avatar's edge to the model.
func (g *Graph) Resolve(model, name string) (*Relation, error) {
	m, ok := g.byName[model]
	if !ok {
		return nil, fmt.Errorf("schema: unknown model %q", model)
	}
	e, ok := m.edgesBy[name]
	if !ok {
		e, ok = g.implicit(m, name)
	}
	if !ok {
		return nil, nestwrite.NewUnknownFieldError(model, name)
	}
	r := &Relation{Name: name, Model: m, Target: g.byName[e.Target], Edge: e, Stored: e}
	switch e.Kind {
	case edge.KindReverse:
		inv, err := g.inverse(m, e)
		if err != nil {
			return nil, err
		}
		r.Stored = inv
		if inv.Kind == edge.KindManyToMany {
			r.Join = joinOf(r.Target, inv).flip()
		}
	case edge.KindManyToMany:
		r.Join = joinOf(m, e)
	}
	return r, nil
}

// implicit finds an undeclared reverse accessor.
func (g *Graph) implicit(m *Model, name string) (*edge.Descriptor, bool) {
	base := strings.TrimSuffix(name, "_set")
	candidates := []string{base, inflect.Singularize(base), inflect.Pluralize(base)}
	for _, c := range candidates {
		if e, ok := m.edgesBy[c]; ok {
			return e, true
		}
	}
	single := inflect.Underscore(inflect.Singularize(base))
	var found []Reference
	for _, o := range g.models {
		if inflect.Underscore(o.Name) != single {
			continue
		}
		for _, e := range o.edges {
			switch e.Kind {
			case edge.KindForeignKey, edge.KindOneToOne, edge.KindManyToMany:
				if e.Target == m.Name {
					found = append(found, Reference{Model: o, Edge: e})
				}
			}
		}
	}
	if len(found) != 1 {
		return nil, false
	}
	return &edge.Descriptor{
		Name:    name,
		Target:  found[0].Model.Name,
		Kind:    edge.KindReverse,
		RefName: found[0].Edge.Name,
	}, true
}

// inverse returns the stored edge a reverse edge refers to.
func (g *Graph) inverse(m *Model, e *edge.Descriptor) (*edge.Descriptor, error) {
	target, ok := g.byName[e.Target]
	if !ok {
		return nil, fmt.Errorf("schema: edge %s.%s: unknown target model %q", m.Name, e.Name, e.Target)
	}
	if e.RefName != "" {
		inv, ok := target.edgesBy[e.RefName]
		switch {
		case !ok:
			return nil, fmt.Errorf("schema: edge %s.%s: %s has no edge %q", m.Name, e.Name, target.Name, e.RefName)
		case inv.Target != m.Name:
			return nil, fmt.Errorf("schema: edge %s.%s: %s.%s targets %s", m.Name, e.Name, target.Name, inv.Name, inv.Target)
		case inv.Kind == edge.KindReverse || inv.Kind == edge.KindGeneric:
			return nil, fmt.Errorf("schema: edge %s.%s: %s.%s is not a stored edge", m.Name, e.Name, target.Name, inv.Name)
		}
		return inv, nil
	}
	var found []*edge.Descriptor
	for _, inv := range target.edges {
		if inv.Target == m.Name && inv.Kind != edge.KindReverse && inv.Kind != edge.KindGeneric {
			found = append(found, inv)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return nil, fmt.Errorf("schema: edge %s.%s: no edge of %s points at %s", m.Name, e.Name, target.Name, m.Name)
	default:
		return nil, fmt.Errorf("schema: edge %s.%s: several edges of %s point at %s, set Ref", m.Name, e.Name, target.Name, m.Name)
	}
}

func joinOf(m *Model, e *edge.Descriptor) *Join {
	return &Join{
		Table:        e.Table,
		OwnerColumn:  e.Columns[0],
		TargetColumn: e.Columns[1],
		Owner:        m.Name,
		Target:       e.Target,
	}
}

func (j *Join) flip() *Join {
	return &Join{
		Table:        j.Table,
		OwnerColumn:  j.TargetColumn,
		TargetColumn: j.OwnerColumn,
		Owner:        j.Target,
		Target:       j.Owner,
	}
}
