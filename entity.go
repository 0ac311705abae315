package nestwrite

import (
	"fmt"
	"maps"
	"strings"
)

// PK is the reserved payload key accepted as an alias of a model's primary key.
const PK = "pk"

// Entity is a handle to a persisted record of some model.
type Entity struct {
	// Model is the model name the entity belongs to.
	Model string
	// ID is the primary key value. It is nil until the entity is persisted.
	ID any
	// Fields holds the stored column values, keyed by column name.
	// Foreign keys are stored under their column names.
	Fields map[string]any
}

// Key returns the identity key of the entity.
func (e *Entity) Key() string {
	return KeyOf(e.Model, e.ID)
}

// Value returns the stored value of a column.
func (e *Entity) Value(name string) (any, bool) {
	if e == nil || e.Fields == nil {
		return nil, false
	}
	v, ok := e.Fields[name]
	return v, ok
}

// Clone returns a copy of the entity with its own field map.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	return &Entity{Model: e.Model, ID: e.ID, Fields: maps.Clone(e.Fields)}
}

// String implements fmt.Stringer.
func (e *Entity) String() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%v)", e.Model, e.ID)
}

// KeyOf returns the identity key for a model and primary key value.
// Identities are compared by their string form so that drivers returning
// different integer widths for the same row still agree.
func KeyOf(model string, id any) string {
	return model + ":" + IDString(id)
}

// IDString returns the canonical string form of a primary key value.
func IDString(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprint(int64(v))
		}
	case float32:
		if v == float32(int64(v)) {
			return fmt.Sprint(int64(v))
		}
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(id)
}

// Strategy governs how incoming nested data is resolved to a persisted entity.
type Strategy uint8

// Match strategies. The zero value is UpdateOrCreate.
const (
	UpdateOrCreate Strategy = iota
	Get
	Create
	GetOrCreate
	Update
)

var strategyNames = [...]string{
	UpdateOrCreate: "update_or_create",
	Get:            "get",
	Create:         "create",
	GetOrCreate:    "get_or_create",
	Update:         "update",
}

// String returns the snake-case name of the strategy.
func (s Strategy) String() string {
	if int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return fmt.Sprintf("strategy(%d)", s)
}

// Creates reports whether the strategy creates an entity when none matches.
func (s Strategy) Creates() bool {
	return s == Create || s == GetOrCreate || s == UpdateOrCreate
}

// Applies reports whether the strategy writes incoming fields to a matched entity.
func (s Strategy) Applies() bool {
	return s == Update || s == UpdateOrCreate
}

// ParseStrategy parses a strategy name. Both snake-case ("get_or_create")
// and camel-case ("GetOrCreate") spellings are accepted.
func ParseStrategy(name string) (Strategy, error) {
	norm := strings.ToLower(strings.ReplaceAll(name, "_", ""))
	for i, n := range strategyNames {
		if strings.ReplaceAll(n, "_", "") == norm {
			return Strategy(i), nil
		}
	}
	return 0, fmt.Errorf("nestwrite: unknown match strategy %q", name)
}

// MatchSpec configures how a nested node is matched to persisted entities.
type MatchSpec struct {
	// Fields is the ordered set of fields looked up. Empty means primary key.
	Fields []string
	// Strategy is the resolution policy.
	Strategy Strategy
}

// ByPK reports whether the spec matches by primary key only.
func (m MatchSpec) ByPK() bool { return len(m.Fields) == 0 }

// String implements fmt.Stringer.
func (m MatchSpec) String() string {
	if m.ByPK() {
		return m.Strategy.String() + "(pk)"
	}
	return m.Strategy.String() + "(" + strings.Join(m.Fields, ",") + ")"
}
