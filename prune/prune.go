package prune

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/nestwrite"
	"github.com/syssam/nestwrite/relation"
)

// Decision sentinel errors.
//
// Rules return these values, possibly wrapped, to tell how an orphan is
// handled. Use errors.Is() to check for them:
//
//	if errors.Is(err, prune.Keep) { ... }
var (
	// Delete may be returned by rules to delete the orphan.
	Delete = errors.New("prune: delete rule")

	// Detach may be returned by rules to unlink the orphan and keep it.
	Detach = errors.New("prune: detach rule")

	// Keep may be returned by rules to leave the orphan linked.
	Keep = errors.New("prune: keep rule")

	// Skip may be returned by rules to let the next rule decide.
	Skip = errors.New("prune: skip rule")
)

// Deletef returns a formatted wrapped Delete decision.
func Deletef(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Delete)...)
}

// Detachf returns a formatted wrapped Detach decision.
func Detachf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Detach)...)
}

// Keepf returns a formatted wrapped Keep decision.
func Keepf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Keep)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// Action is the outcome of a policy evaluation.
type Action uint8

// Actions.
const (
	ActionDelete Action = iota + 1
	ActionDetach
	ActionKeep
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionDelete:
		return "delete"
	case ActionDetach:
		return "detach"
	case ActionKeep:
		return "keep"
	}
	return fmt.Sprintf("Action(%d)", a)
}

// Orphan is a child linked to a node before the sync and absent from the
// incoming payload.
type Orphan struct {
	// Path is the relation path of the orphan's relation, without list
	// indexes ("avatars", "profile.sites").
	Path string
	// Relation describes the relation the orphan was linked through.
	Relation *relation.Descriptor
	// Owner is the node the orphan was linked to.
	Owner *nestwrite.Entity
	// Entity is the orphan.
	Entity *nestwrite.Entity
}

type (
	// Rule decides how an orphan is handled.
	Rule interface {
		EvalOrphan(context.Context, *Orphan) error
	}

	// Policy combines multiple rules into a single policy.
	Policy []Rule
)

// RuleFunc type is an adapter which allows the use of ordinary functions
// as prune rules.
type RuleFunc func(context.Context, *Orphan) error

// EvalOrphan returns f(ctx, o).
func (f RuleFunc) EvalOrphan(ctx context.Context, o *Orphan) error {
	return f(ctx, o)
}

// EvalOrphan evaluates the rules in order and returns the first decision
// that is not a Skip. It returns nil when every rule skips.
func (p Policy) EvalOrphan(ctx context.Context, o *Orphan) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, rule := range p {
		switch decision := rule.EvalOrphan(ctx, o); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

// Decide evaluates the policy and maps its decision to an action. Errors
// that are no decision abort the sync and are returned as is.
func (p Policy) Decide(ctx context.Context, o *Orphan) (Action, error) {
	switch decision := p.EvalOrphan(ctx, o); {
	case decision == nil:
		return Default(o), nil
	case errors.Is(decision, Delete):
		return ActionDelete, nil
	case errors.Is(decision, Detach):
		return ActionDetach, nil
	case errors.Is(decision, Keep):
		return ActionKeep, nil
	default:
		return 0, decision
	}
}

// Default returns the action taken when no rule decides: many-to-many
// targets are unlinked, other children deleted.
func Default(o *Orphan) Action {
	if o.Relation != nil && o.Relation.Kind == relation.ManyToMany {
		return ActionDetach
	}
	return ActionDelete
}

type decisionCtxKey struct{}

// DecisionContext creates a new context from the given parent context with
// a prune decision attached to it.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the prune decision from the context.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	return decision, ok
}
