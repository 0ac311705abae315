// Package relation classifies the nested fields of a node schema and
// schedules them around the write of their owner.
//
// A Table is built once per node schema and holds one Descriptor per
// nested field. Direct relations, whose foreign key is stored on the
// owner, are written before it; reverse, many-to-many and generic
// relations after it, since they need the owner's identity.
package relation

import (
	"fmt"

	"github.com/syssam/nestwrite"
	"github.com/syssam/nestwrite/schema"
	"github.com/syssam/nestwrite/schema/edge"
)

// Kind classifies a nested relation field.
type Kind uint8

// Relation kinds.
const (
	KindInvalid Kind = iota
	DirectOneToOne
	DirectForeignKey
	ReverseOneToOne
	ReverseForeignKey
	ManyToMany
	GenericRelation
)

var kindNames = [...]string{
	KindInvalid:       "invalid",
	DirectOneToOne:    "direct_one_to_one",
	DirectForeignKey:  "direct_foreign_key",
	ReverseOneToOne:   "reverse_one_to_one",
	ReverseForeignKey: "reverse_foreign_key",
	ManyToMany:        "many_to_many",
	GenericRelation:   "generic_relation",
}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Direct reports if the owner stores the foreign key.
func (k Kind) Direct() bool {
	return k == DirectOneToOne || k == DirectForeignKey
}

// Many reports if the payload holds a list for the kind.
func (k Kind) Many() bool {
	return k == ReverseForeignKey || k == ManyToMany || k == GenericRelation
}

// Holder tells which side stores the link.
type Holder uint8

// Link holders.
const (
	HolderSelf    Holder = iota // The owner stores the foreign key.
	HolderRelated               // The related entities store a key to the owner.
	HolderJoin                  // A join table stores the pairs.
)

// String returns the holder name.
func (h Holder) String() string {
	switch h {
	case HolderSelf:
		return "self"
	case HolderRelated:
		return "related"
	case HolderJoin:
		return "join"
	}
	return fmt.Sprintf("Holder(%d)", h)
}

// Phase is the moment a relation is written relative to its owner.
type Phase uint8

// Phases.
const (
	Before Phase = iota
	After
)

// String returns the phase name.
func (p Phase) String() string {
	if p == Before {
		return "before"
	}
	return "after"
}

// Descriptor describes one nested relation field.
type Descriptor struct {
	// Name is the payload key.
	Name string
	// Source is the relation name on the owner model.
	Source string
	Kind   Kind
	// Reverse is set when the related entities link back to the owner.
	Reverse bool
	Holder  Holder
	// Target is the related model.
	Target *schema.Model
	// Column is the foreign key column. It lives on the owner for direct
	// relations and on the target for reverse ones.
	Column string
	// Nullable reports if Column may be cleared.
	Nullable bool
	// Join is the join table of many-to-many relations, seen from the owner.
	Join *schema.Join
	// TypeColumn and IDColumn are the target columns of a generic relation.
	TypeColumn, IDColumn string
	// OnDelete is the delete action of the stored edge.
	OnDelete edge.Action
	// Node is the schema of the nested nodes.
	Node *schema.Node
	// Match resolves nested nodes to stored entities.
	Match nestwrite.MatchSpec
	// Index is the declaration index of the field on its node.
	Index int
}

// Phase returns the phase the relation is written in.
func (d *Descriptor) Phase() Phase {
	if d.Kind.Direct() {
		return Before
	}
	return After
}

// Table is the classified relation fields of a node schema.
type Table struct {
	Node   *schema.Node
	Model  *schema.Model
	Fields []*Descriptor
	byName map[string]*Descriptor
}

// Field returns the descriptor of a nested field.
func (t *Table) Field(name string) (*Descriptor, bool) {
	d, ok := t.byName[name]
	return d, ok
}

// Classify builds the relation table of a node schema without caching.
func Classify(g *schema.Graph, n *schema.Node) (*Table, error) {
	m, ok := g.Model(n.Model)
	if !ok {
		return nil, fmt.Errorf("relation: node %s: unknown model %q", n.Label(), n.Model)
	}
	t := &Table{Node: n, Model: m, byName: make(map[string]*Descriptor, len(n.Nested))}
	for i, nf := range n.Nested {
		d, err := classify(g, m, nf)
		if err != nil {
			return nil, err
		}
		d.Index = i
		t.Fields = append(t.Fields, d)
		t.byName[d.Name] = d
	}
	return t, nil
}

func classify(g *schema.Graph, m *schema.Model, nf *schema.Nested) (*Descriptor, error) {
	rel, err := g.Resolve(m.Name, nf.SourceName())
	if err != nil {
		return nil, err
	}
	if rel.Stored.Through != "" {
		return nil, nestwrite.NewUnsupportedRelationError(m.Name, nf.Name, rel.Stored.Through)
	}
	d := &Descriptor{
		Name:     nf.Name,
		Source:   nf.SourceName(),
		Target:   rel.Target,
		Node:     nf.Node,
		Match:    nf.MatchSpec(),
		OnDelete: rel.Stored.OnDelete,
		Nullable: rel.Stored.Optional,
	}
	switch k := rel.Stored.Kind; {
	case k == edge.KindManyToMany:
		d.Kind, d.Holder, d.Join = ManyToMany, HolderJoin, rel.Join
		d.Reverse = rel.Edge.Kind == edge.KindReverse
	case k == edge.KindGeneric:
		d.Kind, d.Holder, d.Reverse = GenericRelation, HolderRelated, true
		d.TypeColumn, d.IDColumn = rel.Stored.Columns[0], rel.Stored.Columns[1]
	case rel.Edge.Kind == edge.KindReverse:
		d.Kind, d.Holder, d.Reverse = ReverseForeignKey, HolderRelated, true
		if k == edge.KindOneToOne {
			d.Kind = ReverseOneToOne
		}
		d.Column = rel.Stored.Column
	default:
		d.Kind, d.Holder = DirectForeignKey, HolderSelf
		if k == edge.KindOneToOne {
			d.Kind = DirectOneToOne
		}
		d.Column = rel.Stored.Column
	}
	if err := check(m, d, nf); err != nil {
		return nil, err
	}
	return d, nil
}

func check(m *schema.Model, d *Descriptor, nf *schema.Nested) error {
	if nf.Node == nil {
		return fmt.Errorf("relation: %s.%s: nested field has no node schema", m.Name, d.Name)
	}
	if nf.Node.Model != d.Target.Name {
		return fmt.Errorf("relation: %s.%s: node %s writes %s, relation targets %s", m.Name, d.Name, nf.Node.Label(), nf.Node.Model, d.Target.Name)
	}
	if nf.Many != d.Kind.Many() {
		return fmt.Errorf("relation: %s.%s: %s relation declared with Many=%t", m.Name, d.Name, d.Kind, nf.Many)
	}
	for _, f := range d.Match.Fields {
		if f == nestwrite.PK {
			continue
		}
		if _, ok := d.Target.Column(f); !ok {
			return nestwrite.NewUnknownFieldError(d.Target.Name, f)
		}
	}
	return nil
}

// Order splits the relation fields present in a payload into the fields
// written before and after their owner. Both lists keep the declaration
// order of the node schema.
func Order(t *Table, present func(name string) bool) (before, after []*Descriptor) {
	for _, d := range t.Fields {
		if present != nil && !present(d.Name) {
			continue
		}
		if d.Phase() == Before {
			before = append(before, d)
		} else {
			after = append(after, d)
		}
	}
	return before, after
}
