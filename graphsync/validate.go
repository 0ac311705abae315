package graphsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/nestwrite"
	"github.com/syssam/nestwrite/dialect"
	"github.com/syssam/nestwrite/payload"
	"github.com/syssam/nestwrite/schema"
)

var errRequired = errors.New("this field is required")

// validate checks a payload tree before anything is written: scalar
// values are coerced and validated, required fields are present unless
// the call is partial, and relation values have the expected shape.
// Unique fields are left to the guard, which only reads storage here
// under the eager policy.
func (s *Synchronizer) validate(ctx context.Context, drv dialect.Driver, c *call, n *schema.Node, p payload.Node, path, rel string) error {
	tbl, err := s.catalog.Classify(n)
	if err != nil {
		return err
	}
	var (
		m      = tbl.Model
		pkd    = m.PK()
		values = make(map[string]any)
	)
	for _, name := range n.Fields {
		fd, ok := m.FieldByName(name)
		if !ok {
			return nestwrite.NewUnknownFieldError(m.Name, name)
		}
		raw, ok := p[name]
		if !ok {
			if _, set := c.overrides[rel][name]; !set && !c.partial && fd != pkd && fd.Required() {
				return &nestwrite.ValidationError{Path: path, Name: name, Err: errRequired}
			}
			continue
		}
		v, err := fd.Coerce(raw)
		if err == nil {
			err = fd.Validate(v)
		}
		if err != nil {
			return &nestwrite.ValidationError{Path: path, Name: name, Err: err}
		}
		values[fd.Column()] = v
	}
	if err := s.guard.Validate(ctx, drv, m, values); err != nil {
		nestwrite.SetPath(err, path)
		return err
	}
	for _, d := range tbl.Fields {
		if !p.Has(d.Name) {
			continue
		}
		if d.Kind.Many() {
			items, _, err := p.Many(d.Name)
			if err != nil {
				return &nestwrite.ValidationError{Path: path, Name: d.Name, Err: err}
			}
			base := join(path, d.Name)
			for i, item := range items {
				if err := s.validate(ctx, drv, c, d.Node, item, fmt.Sprintf("%s[%d]", base, i), join(rel, d.Name)); err != nil {
					return err
				}
			}
			continue
		}
		child, _, err := p.One(d.Name)
		switch {
		case err != nil:
			return &nestwrite.ValidationError{Path: path, Name: d.Name, Err: err}
		case child == nil && d.Kind.Direct() && !d.Nullable:
			return &nestwrite.ValidationError{Path: path, Name: d.Name, Err: errNotNull}
		case child != nil:
			if err := s.validate(ctx, drv, c, d.Node, child, join(path, d.Name), join(rel, d.Name)); err != nil {
				return err
			}
		}
	}
	return nil
}
