package schema

import (
	"fmt"
	"slices"

	"github.com/syssam/nestwrite"
)

// Node describes the shape of one payload node: the model it is written
// to, the scalar fields accepted from the payload and the nested relation
// fields.
type Node struct {
	// Name labels the node in logs and errors. Defaults to Model.
	Name string
	// Model is the model name of the node.
	Model string
	// Fields lists the writable scalar fields. Listing the primary key
	// makes it writable on create (custom keys such as slugs).
	Fields []string
	// Nested lists the nested relation fields in declaration order.
	Nested []*Nested
	// Match is the default match spec of nodes of this schema when they
	// appear nested. Nil matches by primary key.
	Match *nestwrite.MatchSpec
}

// Nested is a relation field of a node schema.
type Nested struct {
	// Name is the payload key.
	Name string
	// Source is the relation name on the model. Defaults to Name.
	Source string
	// Node is the schema of the nested nodes.
	Node *Node
	// Many is set when the payload holds a list.
	Many bool
	// Match overrides Node.Match for this relation.
	Match *nestwrite.MatchSpec
}

// One returns a nested field holding a single node.
func One(name string, n *Node) *Nested {
	return &Nested{Name: name, Node: n}
}

// Many returns a nested field holding a list of nodes.
func Many(name string, n *Node) *Nested {
	return &Nested{Name: name, Node: n, Many: true}
}

// From sets the relation name the field is read from.
func (n *Nested) From(source string) *Nested {
	n.Source = source
	return n
}

// MatchOn sets the match spec of the relation.
//
//	schema.Many("sites", SiteNode).MatchOn(nestwrite.GetOrCreate, "url")
func (n *Nested) MatchOn(s nestwrite.Strategy, fields ...string) *Nested {
	n.Match = &nestwrite.MatchSpec{Fields: fields, Strategy: s}
	return n
}

// SourceName returns the relation name on the model.
func (n *Nested) SourceName() string {
	if n.Source != "" {
		return n.Source
	}
	return n.Name
}

// MatchSpec returns the effective match spec of the relation.
func (n *Nested) MatchSpec() nestwrite.MatchSpec {
	switch {
	case n.Match != nil:
		return *n.Match
	case n.Node != nil && n.Node.Match != nil:
		return *n.Node.Match
	}
	return nestwrite.MatchSpec{}
}

// Label returns the display name of the node.
func (n *Node) Label() string {
	if n.Name != "" {
		return n.Name
	}
	return n.Model
}

// Writable reports if the named scalar field is accepted from the payload.
func (n *Node) Writable(name string) bool {
	return slices.Contains(n.Fields, name)
}

// NestedByName returns the nested field with the given payload key.
func (n *Node) NestedByName(name string) (*Nested, bool) {
	for _, f := range n.Nested {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Check verifies that the node and its descendants refer to registered
// models and fields.
func (n *Node) Check(g *Graph) error {
	return n.check(g, map[*Node]bool{})
}

func (n *Node) check(g *Graph, seen map[*Node]bool) error {
	if seen[n] {
		return nil
	}
	seen[n] = true
	m, ok := g.Model(n.Model)
	if !ok {
		return fmt.Errorf("schema: node %s: unknown model %q", n.Label(), n.Model)
	}
	for _, f := range n.Fields {
		if _, ok := m.FieldByName(f); !ok {
			return fmt.Errorf("schema: node %s: model %s has no field %q", n.Label(), m.Name, f)
		}
	}
	for _, f := range n.Nested {
		if f.Node == nil {
			return fmt.Errorf("schema: node %s: nested field %q has no node", n.Label(), f.Name)
		}
		if slices.Contains(n.Fields, f.Name) {
			return fmt.Errorf("schema: node %s: %q is both a field and a nested field", n.Label(), f.Name)
		}
		if err := f.Node.check(g, seen); err != nil {
			return err
		}
	}
	return nil
}
