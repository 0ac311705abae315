// Package match resolves incoming node values to persisted entities.
//
// A Resolver looks an entity up by the fields of a MatchSpec, or by primary
// key when the spec names none, and then applies the spec's strategy:
//
//	Strategy        found                 not found
//	Get             returned untouched    NotFoundError
//	Create          ignored, created      created
//	Update          values applied        NotFoundError
//	GetOrCreate     returned untouched    created
//	UpdateOrCreate  values applied        created
//
// Applying values that are already stored issues no write.
package match

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/syssam/nestwrite"
	"github.com/syssam/nestwrite/dialect"
	"github.com/syssam/nestwrite/schema"
)

// Action is the outcome of a resolution.
type Action uint8

// Resolution outcomes.
const (
	// Created means no entity matched, or the strategy always creates.
	Created Action = iota + 1
	// Updated means a matched entity received changed values.
	Updated
	// Unchanged means a matched entity already held the incoming values.
	Unchanged
	// Matched means a matched entity was returned without applying values.
	Matched
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case Created:
		return "create"
	case Updated:
		return "update"
	case Unchanged:
		return "unchanged"
	case Matched:
		return "match"
	}
	return fmt.Sprintf("Action(%d)", a)
}

// Wrote reports if the action issued a write.
func (a Action) Wrote() bool {
	return a == Created || a == Updated
}

// Checker is the interface implemented by pre-write checks, such as the
// unique guard. self is nil on create.
type Checker interface {
	Check(ctx context.Context, drv dialect.Driver, m *schema.Model, values map[string]any, self *nestwrite.Entity) error
}

// CheckFunc is an adapter to allow the use of ordinary functions as Checker.
type CheckFunc func(context.Context, dialect.Driver, *schema.Model, map[string]any, *nestwrite.Entity) error

// Check calls f(ctx, drv, m, values, self).
func (f CheckFunc) Check(ctx context.Context, drv dialect.Driver, m *schema.Model, values map[string]any, self *nestwrite.Entity) error {
	return f(ctx, drv, m, values, self)
}

// Request describes one node to resolve.
type Request struct {
	// Model is the model of the node.
	Model *schema.Model
	// Spec is the match spec of the node.
	Spec nestwrite.MatchSpec
	// Path is the relation path of the node, used in errors.
	Path string
	// PK is the primary key read from the payload, nil when absent.
	PK any
	// Values holds the column values to write.
	Values map[string]any
	// Defaults holds column values applied on create only, when Values
	// does not set the column.
	Defaults map[string]any
	// Adopt is matched when the spec matches by primary key and the
	// payload carries none.
	Adopt *nestwrite.Entity
	// Candidates holds prefetched entities keyed by primary key string.
	// A primary key found here is not looked up again.
	Candidates map[string]*nestwrite.Entity
}

// Result is the outcome of Resolve.
type Result struct {
	Entity *nestwrite.Entity
	Action Action
}

var (
	errMissingMatchField = errors.New("match field is missing")
	errRequired          = errors.New("this field is required")
)

// Resolver resolves requests against a driver.
type Resolver struct {
	checkers []Checker
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithChecker adds checks run before every write.
func WithChecker(cs ...Checker) Option {
	return func(r *Resolver) {
		for _, c := range cs {
			if c != nil {
				r.checkers = append(r.checkers, c)
			}
		}
	}
}

// NewResolver returns a resolver configured with the given options.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve finds the entity a node resolves to and applies the strategy of
// its match spec. Errors carry the request path.
func (r *Resolver) Resolve(ctx context.Context, drv dialect.Driver, req Request) (Result, error) {
	res, err := r.resolve(ctx, drv, req)
	if err != nil {
		nestwrite.SetPath(err, req.Path)
		return Result{}, err
	}
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, drv dialect.Driver, req Request) (Result, error) {
	strategy := req.Spec.Strategy
	if strategy == nestwrite.Create {
		return r.create(ctx, drv, req)
	}
	found, filter, err := r.Lookup(ctx, drv, req)
	if err != nil {
		return Result{}, err
	}
	switch {
	case found == nil && strategy.Creates():
		return r.create(ctx, drv, req)
	case found == nil:
		return Result{}, nestwrite.NewNotFoundError(req.Model.Name, filter)
	case strategy.Applies():
		return r.apply(ctx, drv, req, found)
	default:
		return Result{Entity: found, Action: Matched}, nil
	}
}

// Lookup returns the entity a request matches, or nil. The returned filter
// describes the lookup for error reporting.
func (r *Resolver) Lookup(ctx context.Context, drv dialect.Driver, req Request) (*nestwrite.Entity, map[string]any, error) {
	pk := req.Model.PK().Column()
	if req.Spec.ByPK() {
		if req.PK == nil {
			return req.Adopt, map[string]any{pk: nil}, nil
		}
		filter := map[string]any{pk: req.PK}
		if e, ok := req.Candidates[nestwrite.IDString(req.PK)]; ok {
			return e, filter, nil
		}
		e, err := drv.FindOne(ctx, req.Model.Name, filter)
		return e, filter, err
	}
	filter, err := Filter(req)
	if err != nil {
		return nil, nil, err
	}
	e, err := drv.FindOne(ctx, req.Model.Name, filter)
	return e, filter, err
}

// Filter builds the lookup filter of a field match spec from the request
// values. Every match field must be present.
func Filter(req Request) (map[string]any, error) {
	filter := make(map[string]any, len(req.Spec.Fields))
	for _, f := range req.Spec.Fields {
		col, ok := req.Model.Column(f)
		if !ok {
			return nil, nestwrite.NewUnknownFieldError(req.Model.Name, f)
		}
		if f == nestwrite.PK || col == req.Model.PK().Column() {
			if req.PK == nil {
				return nil, &nestwrite.ValidationError{Path: req.Path, Name: f, Err: errMissingMatchField}
			}
			filter[col] = req.PK
			continue
		}
		v, ok := req.Values[col]
		if !ok {
			return nil, &nestwrite.ValidationError{Path: req.Path, Name: f, Err: errMissingMatchField}
		}
		filter[col] = v
	}
	return filter, nil
}

func (r *Resolver) create(ctx context.Context, drv dialect.Driver, req Request) (Result, error) {
	values := maps.Clone(req.Values)
	if values == nil {
		values = make(map[string]any, len(req.Defaults))
	}
	for col, v := range req.Defaults {
		if _, ok := values[col]; !ok {
			values[col] = v
		}
	}
	for _, fd := range req.Model.FieldList() {
		if _, ok := values[fd.Column()]; !ok && fd.Required() {
			return Result{}, &nestwrite.ValidationError{Path: req.Path, Name: fd.Name, Err: errRequired}
		}
	}
	if err := r.check(ctx, drv, req.Model, values, nil); err != nil {
		return Result{}, err
	}
	e, err := drv.Create(ctx, req.Model.Name, values)
	if err != nil {
		return Result{}, err
	}
	return Result{Entity: e, Action: Created}, nil
}

func (r *Resolver) apply(ctx context.Context, drv dialect.Driver, req Request, found *nestwrite.Entity) (Result, error) {
	changed := Changed(req.Model, found, req.Values)
	if len(changed) == 0 {
		return Result{Entity: found, Action: Unchanged}, nil
	}
	if err := r.check(ctx, drv, req.Model, changed, found); err != nil {
		return Result{}, err
	}
	e, err := drv.Update(ctx, found, changed)
	if err != nil {
		return Result{}, err
	}
	return Result{Entity: e, Action: Updated}, nil
}

func (r *Resolver) check(ctx context.Context, drv dialect.Driver, m *schema.Model, values map[string]any, self *nestwrite.Entity) error {
	for _, c := range r.checkers {
		if err := c.Check(ctx, drv, m, values, self); err != nil {
			return err
		}
	}
	return nil
}

// Changed returns the values that differ from what e stores. The primary
// key is never part of an update.
func Changed(m *schema.Model, e *nestwrite.Entity, values map[string]any) map[string]any {
	pk := m.PK().Column()
	changed := make(map[string]any)
	for col, v := range values {
		if col == pk {
			continue
		}
		// Absent columns read as null.
		if cur, _ := e.Value(col); nestwrite.Equal(cur, v) {
			continue
		}
		changed[col] = v
	}
	return changed
}
