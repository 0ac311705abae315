// Package prune decides what happens to orphans: children linked to a
// node before a sync and absent from its incoming payload.
//
// # Decisions
//
// A Policy is an ordered list of rules. Each rule returns a decision:
//
//   - Delete: the orphan entity is deleted.
//   - Detach: the link is removed and the entity is kept. Reverse
//     relations clear the foreign key, which must be nullable.
//   - Keep: the orphan stays linked.
//   - Skip: the next rule decides.
//
// If every rule skips, Default applies: reverse and generic children are
// deleted, many-to-many targets are unlinked.
//
//	policy := prune.Policy{
//	    prune.OnRelation(prune.AlwaysKeep(), "profile.history"),
//	    prune.DetachNullable(),
//	}
//
// Many-to-many targets exist independently of their owner and are never
// deleted: Delete and Detach both unlink them.
//
// # Context decisions
//
// A decision attached to the context overrides the policy for every
// orphan of the call:
//
//	ctx = prune.DecisionContext(ctx, prune.Keep)
package prune
