package edge

import "fmt"

// Kind is the storage shape of an edge, as declared on its owning model.
type Kind uint8

// Edge kinds.
const (
	KindInvalid Kind = iota
	// KindForeignKey is a many-to-one edge. The owner stores the key.
	KindForeignKey
	// KindOneToOne is a one-to-one edge. The owner stores a unique key.
	KindOneToOne
	// KindManyToMany links both sides through a join table.
	KindManyToMany
	// KindGeneric is a polymorphic reverse edge. The target stores the
	// owner's model name and id in two columns.
	KindGeneric
	// KindReverse is the back-reference of an edge declared on the target.
	KindReverse
)

var kindNames = [...]string{
	KindInvalid:    "invalid",
	KindForeignKey: "foreign_key",
	KindOneToOne:   "one_to_one",
	KindManyToMany: "many_to_many",
	KindGeneric:    "generic",
	KindReverse:    "reverse",
}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ParseKind returns the kind with the given name.
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if n == name && Kind(i) != KindInvalid {
			return Kind(i), nil
		}
	}
	return KindInvalid, fmt.Errorf("edge: unknown kind %q", name)
}

// Action is the referential action applied to the owner of a foreign key
// when the referenced entity is deleted.
type Action string

// Referential actions.
const (
	NoAction Action = ""
	Restrict Action = "RESTRICT"
	Cascade  Action = "CASCADE"
	SetNull  Action = "SET NULL"
)

// Blocks reports if the action refuses the delete of a referenced entity.
func (a Action) Blocks() bool {
	return a == NoAction || a == Restrict
}

// ParseAction parses a referential action. Both SQL spelling ("SET NULL")
// and identifier spelling ("set_null") are accepted.
func ParseAction(s string) (Action, error) {
	switch s {
	case "", "NO ACTION", "no_action":
		return NoAction, nil
	case "RESTRICT", "restrict", "protect":
		return Restrict, nil
	case "CASCADE", "cascade":
		return Cascade, nil
	case "SET NULL", "set_null":
		return SetNull, nil
	}
	return NoAction, fmt.Errorf("edge: unknown action %q", s)
}

// Descriptor holds the configuration of an edge.
type Descriptor struct {
	Name     string
	Target   string // Target model name.
	Kind     Kind
	Column   string    // Foreign key column of KindForeignKey and KindOneToOne edges.
	RefName  string    // Inverse edge name on the target of KindReverse edges.
	Table    string    // Join table of KindManyToMany edges.
	Columns  [2]string // Join columns (owner, target), or generic (type, id) columns.
	Through  string    // Association model of KindManyToMany edges.
	OnDelete Action
	Optional bool
	Comment  string
	Err      error
}

// Builder builds an edge descriptor.
type Builder struct {
	desc *Descriptor
}

func newBuilder(name, target string, k Kind) *Builder {
	return &Builder{desc: &Descriptor{Name: name, Target: target, Kind: k}}
}

// ForeignKey returns a many-to-one edge. The owning model stores the key
// of the target in its own column.
//
//	edge.ForeignKey("user", "User").Column("user_id")
func ForeignKey(name, target string) *Builder {
	return newBuilder(name, target, KindForeignKey)
}

// OneToOne returns a one-to-one edge stored on the owning model.
func OneToOne(name, target string) *Builder {
	return newBuilder(name, target, KindOneToOne)
}

// ManyToMany returns an edge stored in a join table.
func ManyToMany(name, target string) *Builder {
	return newBuilder(name, target, KindManyToMany)
}

// Generic returns a polymorphic reverse edge. Entities of the target model
// point back at the owner with a (model name, id) pair.
//
//	edge.Generic("tags", "TaggedItem").Columns("content_type", "object_id")
func Generic(name, target string) *Builder {
	return newBuilder(name, target, KindGeneric)
}

// Reverse returns the back-reference of an edge declared on the target
// model. Ref names that edge; it may be omitted when exactly one edge of
// the target points at the owning model.
func Reverse(name, target string) *Builder {
	return newBuilder(name, target, KindReverse)
}

// Column sets the foreign key column.
func (b *Builder) Column(c string) *Builder {
	b.desc.Column = c
	return b
}

// Ref sets the name of the inverse edge.
func (b *Builder) Ref(name string) *Builder {
	b.desc.RefName = name
	return b
}

// Table sets the join table of a many-to-many edge.
func (b *Builder) Table(t string) *Builder {
	b.desc.Table = t
	return b
}

// Columns sets the join columns of a many-to-many edge, or the type and
// id columns of a generic edge.
func (b *Builder) Columns(first, second string) *Builder {
	b.desc.Columns = [2]string{first, second}
	return b
}

// Through declares the association model of a many-to-many edge.
func (b *Builder) Through(model string) *Builder {
	if b.desc.Kind != KindManyToMany {
		b.desc.Err = fmt.Errorf("edge %q: Through is only valid on many-to-many edges", b.desc.Name)
	}
	b.desc.Through = model
	return b
}

// OnDelete sets the action applied to the owner when the target is deleted.
func (b *Builder) OnDelete(a Action) *Builder {
	b.desc.OnDelete = a
	return b
}

// Optional marks a foreign key as nullable.
func (b *Builder) Optional() *Builder {
	b.desc.Optional = true
	return b
}

// Comment sets the edge comment.
func (b *Builder) Comment(c string) *Builder {
	b.desc.Comment = c
	return b
}

// Descriptor implements the schema.Edge interface.
func (b *Builder) Descriptor() *Descriptor {
	return b.desc
}
