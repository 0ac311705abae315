package nestwrite

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors, reachable with errors.Is from the typed errors below.
var (
	// ErrNotFound is returned when a Get or Update match finds nothing.
	ErrNotFound = errors.New("nestwrite: entity not found")

	// ErrAmbiguousMatch is returned when more than one entity matches.
	ErrAmbiguousMatch = errors.New("nestwrite: ambiguous match")

	// ErrUnsupportedRelation is returned for relations that cannot be
	// synchronized automatically.
	ErrUnsupportedRelation = errors.New("nestwrite: unsupported relation")

	// ErrUnknownField is returned when a nested field has no relation metadata.
	ErrUnknownField = errors.New("nestwrite: unknown field")

	// ErrUniqueConstraint is returned when a unique value is already taken.
	ErrUniqueConstraint = errors.New("nestwrite: unique constraint failed")

	// ErrProtectedDelete is returned when a delete is blocked by a reference.
	ErrProtectedDelete = errors.New("nestwrite: protected delete")

	// ErrValidation is returned for malformed payloads.
	ErrValidation = errors.New("nestwrite: validation failed")
)

// NotFoundError is returned when no entity matches a Get or Update lookup.
type NotFoundError struct {
	Model  string
	Path   string         // Relation path of the node, empty for the root.
	Filter map[string]any // Lookup that found nothing.
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("nestwrite: %s%s not found (filter=%v)", e.Model, atPath(e.Path), e.Filter)
}

// Is reports whether the target error matches ErrNotFound.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// NewNotFoundError returns a new NotFoundError.
func NewNotFoundError(model string, filter map[string]any) *NotFoundError {
	return &NotFoundError{Model: model, Filter: filter}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// AmbiguousMatchError is returned when a lookup expecting one entity finds several.
type AmbiguousMatchError struct {
	Model  string
	Path   string
	Filter map[string]any
	Count  int // Number of candidates, -1 if unknown.
}

// Error returns the error string.
func (e *AmbiguousMatchError) Error() string {
	if e.Count >= 0 {
		return fmt.Sprintf("nestwrite: %s%s matched %d entities (filter=%v), expected at most 1", e.Model, atPath(e.Path), e.Count, e.Filter)
	}
	return fmt.Sprintf("nestwrite: %s%s matched more than one entity (filter=%v)", e.Model, atPath(e.Path), e.Filter)
}

// Is reports whether the target error matches ErrAmbiguousMatch.
func (e *AmbiguousMatchError) Is(err error) bool {
	return err == ErrAmbiguousMatch
}

// NewAmbiguousMatchError returns a new AmbiguousMatchError.
func NewAmbiguousMatchError(model string, filter map[string]any, count int) *AmbiguousMatchError {
	return &AmbiguousMatchError{Model: model, Filter: filter, Count: count}
}

// IsAmbiguousMatch returns true if the error is an AmbiguousMatchError.
func IsAmbiguousMatch(err error) bool {
	if err == nil {
		return false
	}
	var e *AmbiguousMatchError
	return errors.As(err, &e) || errors.Is(err, ErrAmbiguousMatch)
}

// UnsupportedRelationError is returned for many-to-many relations that pass
// through an association model carrying its own attributes.
type UnsupportedRelationError struct {
	Model   string
	Field   string
	Through string // Association model name.
}

// Error returns the error string.
func (e *UnsupportedRelationError) Error() string {
	return fmt.Sprintf("nestwrite: relation %s.%s goes through association model %s and cannot be written automatically", e.Model, e.Field, e.Through)
}

// Is reports whether the target error matches ErrUnsupportedRelation.
func (e *UnsupportedRelationError) Is(err error) bool {
	return err == ErrUnsupportedRelation
}

// NewUnsupportedRelationError returns a new UnsupportedRelationError.
func NewUnsupportedRelationError(model, field, through string) *UnsupportedRelationError {
	return &UnsupportedRelationError{Model: model, Field: field, Through: through}
}

// IsUnsupportedRelation returns true if the error is an UnsupportedRelationError.
func IsUnsupportedRelation(err error) bool {
	if err == nil {
		return false
	}
	var e *UnsupportedRelationError
	return errors.As(err, &e) || errors.Is(err, ErrUnsupportedRelation)
}

// UnknownFieldError is returned when a nested field names no relation of its model.
type UnknownFieldError struct {
	Model string
	Field string
}

// Error returns the error string.
func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("nestwrite: %s has no relation %q", e.Model, e.Field)
}

// Is reports whether the target error matches ErrUnknownField.
func (e *UnknownFieldError) Is(err error) bool {
	return err == ErrUnknownField
}

// NewUnknownFieldError returns a new UnknownFieldError.
func NewUnknownFieldError(model, field string) *UnknownFieldError {
	return &UnknownFieldError{Model: model, Field: field}
}

// IsUnknownField returns true if the error is an UnknownFieldError.
func IsUnknownField(err error) bool {
	if err == nil {
		return false
	}
	var e *UnknownFieldError
	return errors.As(err, &e) || errors.Is(err, ErrUnknownField)
}

// UniqueConstraintError is returned when a value of a unique field is
// already held by another entity.
type UniqueConstraintError struct {
	Model   string
	Field   string
	Value   any
	Path    string
	Message string // Optional custom message configured on the field.
	Err     error  // Driver error, if the conflict was reported by storage.
}

// Error returns the error string.
func (e *UniqueConstraintError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("nestwrite: %s.%s%s: %s", e.Model, e.Field, atPath(e.Path), e.Message)
	}
	if e.Field == "" {
		return fmt.Sprintf("nestwrite: %s%s: unique constraint failed: %v", e.Model, atPath(e.Path), e.Err)
	}
	return fmt.Sprintf("nestwrite: %s%s with %s=%v already exists", e.Model, atPath(e.Path), e.Field, e.Value)
}

// Is reports whether the target error matches ErrUniqueConstraint.
func (e *UniqueConstraintError) Is(err error) bool {
	return err == ErrUniqueConstraint
}

// Unwrap returns the underlying driver error.
func (e *UniqueConstraintError) Unwrap() error {
	return e.Err
}

// NewUniqueConstraintError returns a new UniqueConstraintError.
func NewUniqueConstraintError(model, field string, value any) *UniqueConstraintError {
	return &UniqueConstraintError{Model: model, Field: field, Value: value}
}

// IsUniqueConstraint returns true if the error is a UniqueConstraintError.
func IsUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	var e *UniqueConstraintError
	return errors.As(err, &e) || errors.Is(err, ErrUniqueConstraint)
}

// ProtectedDeleteError is returned when an entity cannot be deleted because
// another entity references it through a protecting relation.
type ProtectedDeleteError struct {
	Model     string
	ID        any
	Path      string
	Protected []string // Identity keys of the referencing entities, if known.
	Err       error    // Driver error, if the refusal was reported by storage.
}

// Error returns the error string.
func (e *ProtectedDeleteError) Error() string {
	msg := fmt.Sprintf("nestwrite: cannot delete %s(%v)%s because a protected relation exists", e.Model, e.ID, atPath(e.Path))
	if len(e.Protected) > 0 {
		msg += ": referenced by " + strings.Join(e.Protected, ", ")
	}
	return msg
}

// Is reports whether the target error matches ErrProtectedDelete.
func (e *ProtectedDeleteError) Is(err error) bool {
	return err == ErrProtectedDelete
}

// Unwrap returns the underlying driver error.
func (e *ProtectedDeleteError) Unwrap() error {
	return e.Err
}

// NewProtectedDeleteError returns a new ProtectedDeleteError.
func NewProtectedDeleteError(model string, id any, protected ...string) *ProtectedDeleteError {
	return &ProtectedDeleteError{Model: model, ID: id, Protected: protected}
}

// IsProtectedDelete returns true if the error is a ProtectedDeleteError.
func IsProtectedDelete(err error) bool {
	if err == nil {
		return false
	}
	var e *ProtectedDeleteError
	return errors.As(err, &e) || errors.Is(err, ErrProtectedDelete)
}

// ValidationError represents a malformed payload value.
type ValidationError struct {
	Path string // Relation path of the node, empty for the root.
	Name string // Field name.
	Err  error  // Underlying validation error.
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	name := e.Name
	if e.Path != "" {
		name = e.Path + "." + e.Name
	}
	return fmt.Sprintf("nestwrite: validator failed for field %q: %s", name, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches ErrValidation.
func (e *ValidationError) Is(err error) bool {
	return err == ErrValidation
}

// NewValidationError returns a new ValidationError for the given field.
func NewValidationError(name string, err error) *ValidationError {
	return &ValidationError{Name: name, Err: err}
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e)
}

// ConfigError represents an invalid option or definition.
type ConfigError struct {
	Option  string
	Value   any
	Message string
}

// Error returns the error string.
func (e *ConfigError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("nestwrite: invalid %s (%v): %s", e.Option, e.Value, e.Message)
	}
	return fmt.Sprintf("nestwrite: invalid %s: %s", e.Option, e.Message)
}

// NewConfigError returns a new ConfigError.
func NewConfigError(option string, value any, message string) *ConfigError {
	return &ConfigError{Option: option, Value: value, Message: message}
}

// SetPath records the relation path on typed errors that carry one and
// have not been given a path yet. The error value itself is not replaced.
func SetPath(err error, path string) {
	if err == nil || path == "" {
		return
	}
	var (
		nf *NotFoundError
		am *AmbiguousMatchError
		uc *UniqueConstraintError
		pd *ProtectedDeleteError
		ve *ValidationError
	)
	switch {
	case errors.As(err, &nf):
		if nf.Path == "" {
			nf.Path = path
		}
	case errors.As(err, &am):
		if am.Path == "" {
			am.Path = path
		}
	case errors.As(err, &uc):
		if uc.Path == "" {
			uc.Path = path
		}
	case errors.As(err, &pd):
		if pd.Path == "" {
			pd.Path = path
		}
	case errors.As(err, &ve):
		if ve.Path == "" {
			ve.Path = path
		}
	}
}

func atPath(path string) string {
	if path == "" {
		return ""
	}
	return " at " + path
}
