// Package load reads model and node schema definitions from YAML or JSON
// documents and builds them into a schema.Graph.
package load

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/syssam/nestwrite"
	"github.com/syssam/nestwrite/schema"
	"github.com/syssam/nestwrite/schema/edge"
	"github.com/syssam/nestwrite/schema/field"
	"github.com/syssam/nestwrite/schema/mixin"
)

// File is a definition document.
type File struct {
	Models []*Model `json:"models,omitempty" yaml:"models,omitempty"`
	Nodes  []*Node  `json:"nodes,omitempty" yaml:"nodes,omitempty"`
}

// Model represents a schema.Model in a definition document.
type Model struct {
	Name    string   `json:"name" yaml:"name"`
	Table   string   `json:"table,omitempty" yaml:"table,omitempty"`
	ID      *Field   `json:"id,omitempty" yaml:"id,omitempty"`
	Mixins  []string `json:"mixins,omitempty" yaml:"mixins,omitempty"`
	Fields  []*Field `json:"fields,omitempty" yaml:"fields,omitempty"`
	Edges   []*Edge  `json:"edges,omitempty" yaml:"edges,omitempty"`
	Comment string   `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// Field represents a field.Descriptor in a definition document.
type Field struct {
	Name          string `json:"name" yaml:"name"`
	Type          string `json:"type" yaml:"type"`
	Unique        bool   `json:"unique,omitempty" yaml:"unique,omitempty"`
	UniqueMessage string `json:"unique_message,omitempty" yaml:"unique_message,omitempty"`
	Optional      bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Nillable      bool   `json:"nillable,omitempty" yaml:"nillable,omitempty"`
	Immutable     bool   `json:"immutable,omitempty" yaml:"immutable,omitempty"`
	Default       any    `json:"default,omitempty" yaml:"default,omitempty"`
	NotEmpty      bool   `json:"not_empty,omitempty" yaml:"not_empty,omitempty"`
	MaxLen        int    `json:"max_len,omitempty" yaml:"max_len,omitempty"`
	StorageKey    string `json:"storage_key,omitempty" yaml:"storage_key,omitempty"`
	Comment       string `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// Edge represents an edge.Descriptor in a definition document.
type Edge struct {
	Name     string   `json:"name" yaml:"name"`
	Kind     string   `json:"kind" yaml:"kind"`
	Target   string   `json:"target" yaml:"target"`
	Column   string   `json:"column,omitempty" yaml:"column,omitempty"`
	Ref      string   `json:"ref,omitempty" yaml:"ref,omitempty"`
	Table    string   `json:"table,omitempty" yaml:"table,omitempty"`
	Columns  []string `json:"columns,omitempty" yaml:"columns,omitempty"`
	Through  string   `json:"through,omitempty" yaml:"through,omitempty"`
	OnDelete string   `json:"on_delete,omitempty" yaml:"on_delete,omitempty"`
	Optional bool     `json:"optional,omitempty" yaml:"optional,omitempty"`
	Comment  string   `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// Node represents a schema.Node in a definition document. Nested nodes
// refer to other nodes of the document by name, so recursive shapes can
// be expressed.
type Node struct {
	Name   string    `json:"name" yaml:"name"`
	Model  string    `json:"model" yaml:"model"`
	Fields []string  `json:"fields,omitempty" yaml:"fields,omitempty"`
	Nested []*Nested `json:"nested,omitempty" yaml:"nested,omitempty"`
	Match  *Match    `json:"match,omitempty" yaml:"match,omitempty"`
}

// Nested represents a schema.Nested in a definition document.
type Nested struct {
	Name   string `json:"name" yaml:"name"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	Node   string `json:"node" yaml:"node"`
	Many   bool   `json:"many,omitempty" yaml:"many,omitempty"`
	Match  *Match `json:"match,omitempty" yaml:"match,omitempty"`
}

// Match represents a nestwrite.MatchSpec in a definition document.
type Match struct {
	Fields   []string `json:"fields,omitempty" yaml:"fields,omitempty"`
	Strategy string   `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

// Spec is a built definition document.
type Spec struct {
	Graph *schema.Graph
	Nodes map[string]*schema.Node
}

// Node returns the named node schema.
func (s *Spec) Node(name string) (*schema.Node, error) {
	n, ok := s.Nodes[name]
	if !ok {
		return nil, fmt.Errorf("load: unknown node %q", name)
	}
	return n, nil
}

// Mixins maps the mixin names accepted in definition documents.
var Mixins = map[string]schema.Mixin{
	"time":             mixin.Time{},
	"create_time":      mixin.CreateTime{},
	"soft_delete":      mixin.SoftDelete{},
	"time_soft_delete": mixin.TimeSoftDelete{},
}

// ParseYAML decodes a YAML definition document.
func ParseYAML(b []byte) (*File, error) {
	f := &File{}
	if err := yaml.Unmarshal(b, f); err != nil {
		return nil, fmt.Errorf("load: decoding yaml: %w", err)
	}
	return f, nil
}

// ParseJSON decodes a JSON definition document.
func ParseJSON(b []byte) (*File, error) {
	f := &File{}
	if err := json.Unmarshal(b, f); err != nil {
		return nil, fmt.Errorf("load: decoding json: %w", err)
	}
	return f, nil
}

// ReadFile reads and builds the definition document at path. The format
// is picked by extension: .json is JSON, anything else is YAML.
func ReadFile(path string) (*Spec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f *File
	if strings.EqualFold(filepath.Ext(path), ".json") {
		f, err = ParseJSON(b)
	} else {
		f, err = ParseYAML(b)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f.Build()
}

// Build builds the graph and node schemas of the document.
func (f *File) Build() (*Spec, error) {
	models := make([]*schema.Model, 0, len(f.Models))
	for _, m := range f.Models {
		sm, err := m.build()
		if err != nil {
			return nil, fmt.Errorf("load: model %q: %w", m.Name, err)
		}
		models = append(models, sm)
	}
	g, err := schema.NewGraph(models...)
	if err != nil {
		return nil, err
	}
	s := &Spec{Graph: g, Nodes: make(map[string]*schema.Node, len(f.Nodes))}
	for _, n := range f.Nodes {
		if _, ok := s.Nodes[n.Name]; ok {
			return nil, fmt.Errorf("load: duplicate node %q", n.Name)
		}
		sn := &schema.Node{Name: n.Name, Model: n.Model, Fields: n.Fields}
		if sn.Match, err = n.Match.build(); err != nil {
			return nil, fmt.Errorf("load: node %q: %w", n.Name, err)
		}
		s.Nodes[n.Name] = sn
	}
	// Second pass, nested fields may refer to nodes declared later.
	for _, n := range f.Nodes {
		sn := s.Nodes[n.Name]
		for _, nf := range n.Nested {
			child, ok := s.Nodes[nf.Node]
			if !ok {
				return nil, fmt.Errorf("load: node %q: nested field %q refers to unknown node %q", n.Name, nf.Name, nf.Node)
			}
			ns := &schema.Nested{Name: nf.Name, Source: nf.Source, Node: child, Many: nf.Many}
			if ns.Match, err = nf.Match.build(); err != nil {
				return nil, fmt.Errorf("load: node %q: nested field %q: %w", n.Name, nf.Name, err)
			}
			sn.Nested = append(sn.Nested, ns)
		}
	}
	for _, sn := range s.Nodes {
		if err := sn.Check(g); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (m *Model) build() (*schema.Model, error) {
	sm := &schema.Model{Name: m.Name, Table: m.Table, Comment: m.Comment}
	if m.ID != nil {
		id, err := m.ID.build()
		if err != nil {
			return nil, err
		}
		sm.ID = id
	}
	for _, name := range m.Mixins {
		mx, ok := Mixins[name]
		if !ok {
			return nil, fmt.Errorf("unknown mixin %q", name)
		}
		sm.Mixins = append(sm.Mixins, mx)
	}
	for _, f := range m.Fields {
		b, err := f.build()
		if err != nil {
			return nil, err
		}
		sm.Fields = append(sm.Fields, b)
	}
	for _, e := range m.Edges {
		b, err := e.build()
		if err != nil {
			return nil, err
		}
		sm.Edges = append(sm.Edges, b)
	}
	return sm, nil
}

func (f *Field) build() (*field.Builder, error) {
	t, err := field.ParseType(f.Type)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", f.Name, err)
	}
	b := field.Of(f.Name, t).StorageKey(f.StorageKey).Comment(f.Comment)
	if f.Unique {
		b.Unique()
	}
	if f.UniqueMessage != "" {
		b.UniqueMessage(f.UniqueMessage)
	}
	if f.Optional {
		b.Optional()
	}
	if f.Nillable {
		b.Nillable()
	}
	if f.Immutable {
		b.Immutable()
	}
	if f.NotEmpty {
		b.NotEmpty()
	}
	if f.MaxLen > 0 {
		b.MaxLen(f.MaxLen)
	}
	if f.Default != nil {
		v, err := b.Descriptor().Coerce(f.Default)
		if err != nil {
			return nil, fmt.Errorf("field %q: default: %w", f.Name, err)
		}
		b.Default(v)
	}
	return b, nil
}

func (e *Edge) build() (*edge.Builder, error) {
	k, err := edge.ParseKind(e.Kind)
	if err != nil {
		return nil, fmt.Errorf("edge %q: %w", e.Name, err)
	}
	var b *edge.Builder
	switch k {
	case edge.KindForeignKey:
		b = edge.ForeignKey(e.Name, e.Target)
	case edge.KindOneToOne:
		b = edge.OneToOne(e.Name, e.Target)
	case edge.KindManyToMany:
		b = edge.ManyToMany(e.Name, e.Target)
	case edge.KindGeneric:
		b = edge.Generic(e.Name, e.Target)
	default:
		b = edge.Reverse(e.Name, e.Target)
	}
	b.Column(e.Column).Ref(e.Ref).Table(e.Table).Comment(e.Comment)
	switch len(e.Columns) {
	case 0:
	case 2:
		b.Columns(e.Columns[0], e.Columns[1])
	default:
		return nil, fmt.Errorf("edge %q: expected 2 columns, got %d", e.Name, len(e.Columns))
	}
	if e.Through != "" {
		b.Through(e.Through)
	}
	act, err := edge.ParseAction(e.OnDelete)
	if err != nil {
		return nil, fmt.Errorf("edge %q: %w", e.Name, err)
	}
	b.OnDelete(act)
	if e.Optional {
		b.Optional()
	}
	return b, nil
}

func (m *Match) build() (*nestwrite.MatchSpec, error) {
	if m == nil {
		return nil, nil
	}
	s, err := nestwrite.ParseStrategy(m.Strategy)
	if m.Strategy == "" {
		s, err = nestwrite.UpdateOrCreate, nil
	}
	if err != nil {
		return nil, err
	}
	return &nestwrite.MatchSpec{Fields: m.Fields, Strategy: s}, nil
}
