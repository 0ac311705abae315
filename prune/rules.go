package prune

import (
	"context"
	"slices"
	"strings"

	"github.com/syssam/nestwrite/relation"
)

type fixedDecision struct {
	decision error
}

func (f fixedDecision) EvalOrphan(context.Context, *Orphan) error {
	return f.decision
}

// AlwaysDelete returns a rule that always returns a Delete decision.
func AlwaysDelete() Rule {
	return fixedDecision{Delete}
}

// AlwaysDetach returns a rule that always returns a Detach decision.
func AlwaysDetach() Rule {
	return fixedDecision{Detach}
}

// AlwaysKeep returns a rule that always returns a Keep decision.
func AlwaysKeep() Rule {
	return fixedDecision{Keep}
}

// ContextRule creates a rule from a context evaluation function.
// Returning nil is equivalent to returning Skip.
func ContextRule(eval func(context.Context) error) Rule {
	return RuleFunc(func(ctx context.Context, _ *Orphan) error {
		return eval(ctx)
	})
}

// OnRelation evaluates the given rule only for orphans of the given
// relation paths. A path may also be given as the bare relation name,
// which matches it at any depth.
//
//	prune.OnRelation(prune.AlwaysKeep(), "profile.history", "audit")
func OnRelation(rule Rule, paths ...string) Rule {
	return RuleFunc(func(ctx context.Context, o *Orphan) error {
		for _, p := range paths {
			if o.Path == p || strings.HasSuffix(o.Path, "."+p) || (o.Relation != nil && o.Relation.Name == p) {
				return rule.EvalOrphan(ctx, o)
			}
		}
		return Skip
	})
}

// OnKind evaluates the given rule only for orphans of the given relation kinds.
func OnKind(rule Rule, kinds ...relation.Kind) Rule {
	return RuleFunc(func(ctx context.Context, o *Orphan) error {
		if o.Relation != nil && slices.Contains(kinds, o.Relation.Kind) {
			return rule.EvalOrphan(ctx, o)
		}
		return Skip
	})
}

// OnModel evaluates the given rule only for orphans of the given models.
func OnModel(rule Rule, models ...string) Rule {
	return RuleFunc(func(ctx context.Context, o *Orphan) error {
		if o.Entity != nil && slices.Contains(models, o.Entity.Model) {
			return rule.EvalOrphan(ctx, o)
		}
		return Skip
	})
}

// DetachNullable returns a rule detaching reverse children whose foreign
// key is nullable, instead of deleting them.
func DetachNullable() Rule {
	return RuleFunc(func(_ context.Context, o *Orphan) error {
		if d := o.Relation; d != nil && d.Nullable && (d.Kind == relation.ReverseForeignKey || d.Kind == relation.ReverseOneToOne) {
			return Detach
		}
		return Skip
	})
}
