package field

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Type is the storage type of a field.
type Type uint8

// Field types.
const (
	TypeInvalid Type = iota
	TypeString
	TypeInt
	TypeInt64
	TypeFloat64
	TypeBool
	TypeTime
	TypeUUID
	TypeJSON
	TypeOther
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeString:  "string",
	TypeInt:     "int",
	TypeInt64:   "int64",
	TypeFloat64: "float64",
	TypeBool:    "bool",
	TypeTime:    "time",
	TypeUUID:    "uuid",
	TypeJSON:    "json",
	TypeOther:   "other",
}

// String returns the type name.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", t)
}

// Numeric reports if the type is numeric.
func (t Type) Numeric() bool {
	return t == TypeInt || t == TypeInt64 || t == TypeFloat64
}

// ParseType returns the type with the given name.
func ParseType(name string) (Type, error) {
	for i, n := range typeNames {
		if n == name && Type(i) != TypeInvalid {
			return Type(i), nil
		}
	}
	return TypeInvalid, fmt.Errorf("field: unknown type %q", name)
}

// Descriptor holds the configuration of a field.
type Descriptor struct {
	Name          string
	Type          Type
	StorageKey    string
	Unique        bool
	UniqueMessage string
	Optional      bool
	Nillable      bool
	Immutable     bool
	Default       any // A value, or a func() any evaluated on each create.
	Validators    []func(any) error
	Comment       string
	Err           error
}

// Column returns the column name of the field.
func (d *Descriptor) Column() string {
	if d.StorageKey != "" {
		return d.StorageKey
	}
	return d.Name
}

// Required reports if the field must be present when an entity is created.
func (d *Descriptor) Required() bool {
	return !d.Optional && !d.Nillable && d.Default == nil
}

// DefaultValue returns the default value of the field, if any.
func (d *Descriptor) DefaultValue() (any, bool) {
	switch v := d.Default.(type) {
	case nil:
		return nil, false
	case func() any:
		return v(), true
	case func() string:
		return v(), true
	case func() time.Time:
		return v(), true
	case func() uuid.UUID:
		return v().String(), true
	default:
		return v, true
	}
}

// Validate runs the field validators on v. Null values are accepted only
// for nillable fields.
func (d *Descriptor) Validate(v any) error {
	if v == nil {
		if d.Nillable {
			return nil
		}
		return errors.New("value may not be null")
	}
	for _, fn := range d.Validators {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

// Coerce converts a decoded payload value to the field's storage type.
func (d *Descriptor) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch d.Type {
	case TypeInt, TypeInt64:
		return toInt64(v)
	case TypeFloat64:
		return toFloat64(v)
	case TypeString:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
		return nil, fmt.Errorf("expected string, got %T", v)
	case TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		}
		return nil, fmt.Errorf("expected bool, got %T", v)
	case TypeTime:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			return time.Parse(time.RFC3339Nano, t)
		}
		return nil, fmt.Errorf("expected time, got %T", v)
	case TypeUUID:
		switch u := v.(type) {
		case uuid.UUID:
			return u.String(), nil
		case string:
			id, err := uuid.Parse(u)
			if err != nil {
				return nil, err
			}
			return id.String(), nil
		case []byte:
			id, err := uuid.ParseBytes(u)
			if err != nil {
				return nil, err
			}
			return id.String(), nil
		}
		return nil, fmt.Errorf("expected uuid, got %T", v)
	default:
		return v, nil
	}
}

// number is implemented by json.Number and its aliases.
type number interface {
	Int64() (int64, error)
	Float64() (float64, error)
}

func toInt64(v any) (any, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", n)
		}
		return int64(n), nil
	case float32:
		return toInt64(float64(n))
	case float64:
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("expected integer, got %v", n)
		}
		return int64(n), nil
	case number:
		return n.Int64()
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	}
	return nil, fmt.Errorf("expected integer, got %T", v)
}

func toFloat64(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case number:
		return n.Float64()
	case []byte:
		return strconv.ParseFloat(string(n), 64)
	}
	i, err := toInt64(v)
	if err != nil {
		return nil, fmt.Errorf("expected number, got %T", v)
	}
	return float64(i.(int64)), nil
}

// Builder builds a field descriptor.
type Builder struct {
	desc *Descriptor
}

func newBuilder(name string, t Type) *Builder {
	return &Builder{desc: &Descriptor{Name: name, Type: t}}
}

// String returns a new string field.
func String(name string) *Builder { return newBuilder(name, TypeString) }

// Int returns a new int field.
func Int(name string) *Builder { return newBuilder(name, TypeInt) }

// Int64 returns a new int64 field.
func Int64(name string) *Builder { return newBuilder(name, TypeInt64) }

// Float64 returns a new float64 field.
func Float64(name string) *Builder { return newBuilder(name, TypeFloat64) }

// Bool returns a new bool field.
func Bool(name string) *Builder { return newBuilder(name, TypeBool) }

// Time returns a new time field.
func Time(name string) *Builder { return newBuilder(name, TypeTime) }

// UUID returns a new UUID field. Values are stored in canonical string form.
func UUID(name string) *Builder { return newBuilder(name, TypeUUID) }

// JSON returns a new field holding arbitrary JSON values.
func JSON(name string) *Builder { return newBuilder(name, TypeJSON) }

// Other returns a new field of a custom type. Values are stored untouched.
func Other(name string) *Builder { return newBuilder(name, TypeOther) }

// Of returns a new field of the given type.
func Of(name string, t Type) *Builder {
	b := newBuilder(name, t)
	if t == TypeInvalid {
		b.desc.Err = fmt.Errorf("field %q: invalid type", name)
	}
	return b
}

// Unique marks the field as unique among entities of its model.
func (b *Builder) Unique() *Builder {
	b.desc.Unique = true
	return b
}

// UniqueMessage sets the message reported on uniqueness conflicts.
func (b *Builder) UniqueMessage(msg string) *Builder {
	b.desc.Unique = true
	b.desc.UniqueMessage = msg
	return b
}

// Optional marks the field as not required on create.
func (b *Builder) Optional() *Builder {
	b.desc.Optional = true
	return b
}

// Nillable marks the field as accepting null.
func (b *Builder) Nillable() *Builder {
	b.desc.Nillable = true
	return b
}

// Immutable marks the field as ignored on update.
func (b *Builder) Immutable() *Builder {
	b.desc.Immutable = true
	return b
}

// Default sets the value applied on create when the field is absent.
// Functions of type func() any, func() string, func() time.Time and
// func() uuid.UUID are called on each create.
func (b *Builder) Default(v any) *Builder {
	b.desc.Default = v
	return b
}

// StorageKey sets the column name of the field.
func (b *Builder) StorageKey(key string) *Builder {
	b.desc.StorageKey = key
	return b
}

// Comment sets the field comment.
func (b *Builder) Comment(c string) *Builder {
	b.desc.Comment = c
	return b
}

// Validate adds a validator.
func (b *Builder) Validate(fn func(any) error) *Builder {
	b.desc.Validators = append(b.desc.Validators, fn)
	return b
}

// NotEmpty adds a validator rejecting empty strings.
func (b *Builder) NotEmpty() *Builder {
	return b.Validate(func(v any) error {
		if s, ok := v.(string); ok && s == "" {
			return errors.New("value is empty")
		}
		return nil
	})
}

// MaxLen adds a validator limiting the length of strings in runes.
func (b *Builder) MaxLen(n int) *Builder {
	return b.Validate(func(v any) error {
		if s, ok := v.(string); ok && utf8.RuneCountInString(s) > n {
			return fmt.Errorf("value is longer than %d characters", n)
		}
		return nil
	})
}

// Descriptor implements the schema.Field interface.
func (b *Builder) Descriptor() *Descriptor {
	return b.desc
}
