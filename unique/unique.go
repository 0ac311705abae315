// Package unique enforces unique fields of nested nodes at write time.
//
// A nested node is resolved to its stored entity only while it is being
// written, so a unique check run while validating the payload cannot
// exclude the entity the value is about to be written to. The Deferred
// policy moves the check to the write and excludes that entity; the Eager
// policy checks during validation as well.
package unique

import (
	"context"
	"fmt"

	"github.com/syssam/nestwrite"
	"github.com/syssam/nestwrite/dialect"
	"github.com/syssam/nestwrite/schema"
)

// Policy tells when unique fields are checked.
type Policy uint8

// Policies.
const (
	// Deferred checks unique values right before they are written.
	Deferred Policy = iota
	// Eager also checks them while the payload is validated, before any
	// node is matched.
	Eager
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case Deferred:
		return "deferred"
	case Eager:
		return "eager"
	}
	return fmt.Sprintf("Policy(%d)", p)
}

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "deferred", "":
		return Deferred, nil
	case "eager":
		return Eager, nil
	}
	return Deferred, fmt.Errorf("unique: unknown policy %q", s)
}

// Guard checks unique fields against stored entities.
type Guard struct {
	policy Policy
}

// New returns a guard with the given policy.
func New(p Policy) *Guard {
	return &Guard{policy: p}
}

// Policy returns the guard policy.
func (g *Guard) Policy() Policy {
	return g.policy
}

// Validate is called for every node while the payload is validated. It
// checks nothing under the Deferred policy.
func (g *Guard) Validate(ctx context.Context, drv dialect.Driver, m *schema.Model, values map[string]any) error {
	if g.policy != Eager {
		return nil
	}
	return g.check(ctx, drv, m, values, nil)
}

// Check is called right before values are written to self, or to a new
// entity when self is nil. A value held by any entity other than self
// fails with a UniqueConstraintError.
func (g *Guard) Check(ctx context.Context, drv dialect.Driver, m *schema.Model, values map[string]any, self *nestwrite.Entity) error {
	return g.check(ctx, drv, m, values, self)
}

func (g *Guard) check(ctx context.Context, drv dialect.Driver, m *schema.Model, values map[string]any, self *nestwrite.Entity) error {
	for _, fd := range m.Unique() {
		if fd == m.PK() {
			continue
		}
		v, ok := values[fd.Column()]
		if !ok || v == nil {
			continue
		}
		holders, err := drv.Find(ctx, m.Name, map[string]any{fd.Column(): v})
		if err != nil {
			return err
		}
		for _, h := range holders {
			if self != nil && h.Key() == self.Key() {
				continue
			}
			return &nestwrite.UniqueConstraintError{Model: m.Name, Field: fd.Name, Value: v, Message: fd.UniqueMessage}
		}
	}
	return nil
}
