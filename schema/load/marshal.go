package load

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/syssam/nestwrite"
	"github.com/syssam/nestwrite/schema"
	"github.com/syssam/nestwrite/schema/edge"
	"github.com/syssam/nestwrite/schema/field"
)

// NewField creates a loaded field from a field descriptor.
// Function defaults and custom validators cannot be encoded and are dropped.
func NewField(fd *field.Descriptor) (*Field, error) {
	if fd.Err != nil {
		return nil, fmt.Errorf("field %q: %v", fd.Name, fd.Err)
	}
	f := &Field{
		Name:          fd.Name,
		Type:          fd.Type.String(),
		Unique:        fd.Unique,
		UniqueMessage: fd.UniqueMessage,
		Optional:      fd.Optional,
		Nillable:      fd.Nillable,
		Immutable:     fd.Immutable,
		StorageKey:    fd.StorageKey,
		Comment:       fd.Comment,
	}
	switch v := fd.Default.(type) {
	case string, bool, int, int64, float64:
		f.Default = v
	}
	return f, nil
}

// NewEdge creates a loaded edge from an edge descriptor.
func NewEdge(ed *edge.Descriptor) (*Edge, error) {
	if ed.Err != nil {
		return nil, ed.Err
	}
	e := &Edge{
		Name:     ed.Name,
		Kind:     ed.Kind.String(),
		Target:   ed.Target,
		Column:   ed.Column,
		Ref:      ed.RefName,
		Table:    ed.Table,
		Through:  ed.Through,
		OnDelete: string(ed.OnDelete),
		Optional: ed.Optional,
		Comment:  ed.Comment,
	}
	if ed.Columns[0] != "" {
		e.Columns = ed.Columns[:]
	}
	return e, nil
}

// NewModel creates a loaded model from a compiled model. Mixed-in fields
// and edges are inlined.
func NewModel(m *schema.Model) (*Model, error) {
	lm := &Model{Name: m.Name, Table: m.Table, Comment: m.Comment}
	if pk := m.PK(); pk.Name != schema.DefaultPK || pk.Type != field.TypeInt64 {
		id, err := NewField(pk)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", m.Name, err)
		}
		lm.ID = id
	}
	for _, fd := range m.FieldList() {
		f, err := NewField(fd)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", m.Name, err)
		}
		lm.Fields = append(lm.Fields, f)
	}
	for _, ed := range m.EdgeList() {
		e, err := NewEdge(ed)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", m.Name, err)
		}
		lm.Edges = append(lm.Edges, e)
	}
	return lm, nil
}

// NewNode creates a loaded node from a node schema.
func NewNode(n *schema.Node) *Node {
	ln := &Node{Name: n.Label(), Model: n.Model, Fields: n.Fields, Match: newMatch(n.Match)}
	for _, nf := range n.Nested {
		ln.Nested = append(ln.Nested, &Nested{
			Name:   nf.Name,
			Source: nf.Source,
			Node:   nf.Node.Label(),
			Many:   nf.Many,
			Match:  newMatch(nf.Match),
		})
	}
	return ln
}

// Marshal encodes a graph and node schemas as a YAML definition document.
func Marshal(g *schema.Graph, nodes ...*schema.Node) ([]byte, error) {
	f := &File{}
	for _, m := range g.Models() {
		lm, err := NewModel(m)
		if err != nil {
			return nil, err
		}
		f.Models = append(f.Models, lm)
	}
	seen := make(map[*schema.Node]bool)
	var walk func(*schema.Node)
	walk = func(n *schema.Node) {
		if seen[n] {
			return
		}
		seen[n] = true
		f.Nodes = append(f.Nodes, NewNode(n))
		for _, nf := range n.Nested {
			walk(nf.Node)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return yaml.Marshal(f)
}

func newMatch(m *nestwrite.MatchSpec) *Match {
	if m == nil {
		return nil
	}
	return &Match{Fields: m.Fields, Strategy: m.Strategy.String()}
}
