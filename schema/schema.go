package schema

import (
	"fmt"

	"github.com/go-openapi/inflect"

	"github.com/syssam/nestwrite"
	"github.com/syssam/nestwrite/schema/edge"
	"github.com/syssam/nestwrite/schema/field"
)

// DefaultPK is the primary key name of models that do not declare one.
const DefaultPK = "id"

type (
	// Field is the interface implemented by field builders.
	Field interface {
		Descriptor() *field.Descriptor
	}

	// Edge is the interface implemented by edge builders.
	Edge interface {
		Descriptor() *edge.Descriptor
	}

	// Mixin contributes fields and edges shared by several models.
	Mixin interface {
		Fields() []Field
		Edges() []Edge
	}
)

// Model declares a persisted entity type.
type Model struct {
	Name    string
	Table   string // Defaults to the snake-case plural of Name.
	ID      Field  // Defaults to field.Int64("id").
	Fields  []Field
	Edges   []Edge
	Mixins  []Mixin
	Comment string

	id       *field.Descriptor
	fields   []*field.Descriptor
	fieldsBy map[string]*field.Descriptor
	edges    []*edge.Descriptor
	edgesBy  map[string]*edge.Descriptor
}

// TableName returns the storage table of the model.
func (m *Model) TableName() string {
	if m.Table != "" {
		return m.Table
	}
	return inflect.Underscore(inflect.Pluralize(m.Name))
}

// PK returns the primary key field.
func (m *Model) PK() *field.Descriptor {
	return m.id
}

// FieldList returns the non-key fields in declaration order, mixin fields first.
func (m *Model) FieldList() []*field.Descriptor {
	return m.fields
}

// EdgeList returns the edges in declaration order, mixin edges first.
func (m *Model) EdgeList() []*edge.Descriptor {
	return m.edges
}

// FieldByName returns the named field. The primary key is found under its
// own name and under the reserved nestwrite.PK alias.
func (m *Model) FieldByName(name string) (*field.Descriptor, bool) {
	if name == nestwrite.PK || name == m.id.Name {
		return m.id, true
	}
	fd, ok := m.fieldsBy[name]
	return fd, ok
}

// EdgeByName returns the named edge.
func (m *Model) EdgeByName(name string) (*edge.Descriptor, bool) {
	e, ok := m.edgesBy[name]
	return e, ok
}

// Column returns the storage column of a field, or of the foreign key of
// a stored edge, by name.
func (m *Model) Column(name string) (string, bool) {
	if fd, ok := m.FieldByName(name); ok {
		return fd.Column(), true
	}
	if e, ok := m.edgesBy[name]; ok && (e.Kind == edge.KindForeignKey || e.Kind == edge.KindOneToOne) {
		return e.Column, true
	}
	return "", false
}

// GenericID returns the value stored in the id column of a generic
// relation child of this model pointing at an entity with the given id.
// Text columns hold the id in its string form.
func (m *Model) GenericID(column string, id any) any {
	for _, fd := range m.fields {
		if fd.Column() == column && fd.Type == field.TypeString {
			return nestwrite.IDString(id)
		}
	}
	return id
}

// Unique returns the unique fields of the model.
func (m *Model) Unique() []*field.Descriptor {
	var fs []*field.Descriptor
	if m.id != nil {
		fs = append(fs, m.id)
	}
	for _, fd := range m.fields {
		if fd.Unique {
			fs = append(fs, fd)
		}
	}
	return fs
}

func (m *Model) compile() error {
	if m.Name == "" {
		return fmt.Errorf("schema: model name is empty")
	}
	m.id = field.Int64(DefaultPK).Descriptor()
	if m.ID != nil {
		m.id = m.ID.Descriptor()
	}
	if err := m.id.Err; err != nil {
		return fmt.Errorf("schema: model %q: %w", m.Name, err)
	}
	m.fields, m.edges = nil, nil
	m.fieldsBy = make(map[string]*field.Descriptor)
	m.edgesBy = make(map[string]*edge.Descriptor)
	fields, edges := m.Fields, m.Edges
	for i := len(m.Mixins) - 1; i >= 0; i-- {
		fields = append(m.Mixins[i].Fields(), fields...)
		edges = append(m.Mixins[i].Edges(), edges...)
	}
	for _, f := range fields {
		fd := f.Descriptor()
		if fd.Err != nil {
			return fmt.Errorf("schema: model %q: %w", m.Name, fd.Err)
		}
		if fd.Name == m.id.Name || fd.Name == nestwrite.PK {
			return fmt.Errorf("schema: model %q: field %q collides with the primary key", m.Name, fd.Name)
		}
		if _, ok := m.fieldsBy[fd.Name]; ok {
			return fmt.Errorf("schema: model %q: duplicate field %q", m.Name, fd.Name)
		}
		m.fieldsBy[fd.Name] = fd
		m.fields = append(m.fields, fd)
	}
	for _, e := range edges {
		ed := e.Descriptor()
		if ed.Err != nil {
			return fmt.Errorf("schema: model %q: %w", m.Name, ed.Err)
		}
		if _, ok := m.edgesBy[ed.Name]; ok {
			return fmt.Errorf("schema: model %q: duplicate edge %q", m.Name, ed.Name)
		}
		if _, ok := m.fieldsBy[ed.Name]; ok {
			return fmt.Errorf("schema: model %q: edge %q collides with a field", m.Name, ed.Name)
		}
		m.defaults(ed)
		m.edgesBy[ed.Name] = ed
		m.edges = append(m.edges, ed)
	}
	return nil
}

// defaults fills in the storage names left empty by the edge declaration.
func (m *Model) defaults(e *edge.Descriptor) {
	switch e.Kind {
	case edge.KindForeignKey, edge.KindOneToOne:
		if e.Column == "" {
			e.Column = inflect.Underscore(e.Name) + "_id"
		}
	case edge.KindManyToMany:
		owner := inflect.Underscore(m.Name)
		if e.Table == "" {
			e.Table = owner + "_" + inflect.Underscore(e.Name)
		}
		if e.Columns[0] == "" {
			target := inflect.Underscore(e.Target)
			if target == owner {
				target = inflect.Underscore(inflect.Singularize(e.Name))
			}
			e.Columns = [2]string{owner + "_id", target + "_id"}
		}
	case edge.KindGeneric:
		if e.Columns[0] == "" {
			e.Columns = [2]string{"content_type", "object_id"}
		}
	}
}
