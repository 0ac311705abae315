package graphsync

import (
	"context"
	"log/slog"
	"maps"

	"github.com/syssam/nestwrite"
	"github.com/syssam/nestwrite/dialect"
	"github.com/syssam/nestwrite/payload"
	"github.com/syssam/nestwrite/prune"
	"github.com/syssam/nestwrite/relation"
	"github.com/syssam/nestwrite/schema"
	"github.com/syssam/nestwrite/unique"
)

// Option configures a Synchronizer.
type Option func(*Synchronizer) error

// WithLogger sets the logger node actions are reported to at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) error {
		if l == nil {
			return nestwrite.NewConfigError("Logger", nil, "logger cannot be nil")
		}
		s.logger = l
		return nil
	}
}

// WithCatalog shares a relation catalog between synchronizers. The catalog
// must be built over the synchronizer's graph.
func WithCatalog(c *relation.Catalog) Option {
	return func(s *Synchronizer) error {
		if c == nil {
			return nestwrite.NewConfigError("Catalog", nil, "catalog cannot be nil")
		}
		s.catalog = c
		return nil
	}
}

// WithUniquePolicy sets when unique fields are checked. Deferred is the
// default.
func WithUniquePolicy(p unique.Policy) Option {
	return func(s *Synchronizer) error {
		if p != unique.Deferred && p != unique.Eager {
			return nestwrite.NewConfigError("UniquePolicy", p, "unknown policy")
		}
		s.guard = unique.New(p)
		return nil
	}
}

// WithPrunePolicy sets the rules deciding what happens to orphans.
func WithPrunePolicy(rules ...prune.Rule) Option {
	return func(s *Synchronizer) error {
		s.policy = append(s.policy, rules...)
		return nil
	}
}

// WithHooks adds hooks called at each stage of every node.
func WithHooks(h Hooks) Option {
	return func(s *Synchronizer) error {
		s.hooks.AfterDirect = append(s.hooks.AfterDirect, h.AfterDirect...)
		s.hooks.AfterSave = append(s.hooks.AfterSave, h.AfterSave...)
		s.hooks.AfterReverse = append(s.hooks.AfterReverse, h.AfterReverse...)
		return nil
	}
}

// WithDefaultMatch sets the match spec of nested nodes of a model whose
// relation and node schema declare none.
//
//	graphsync.WithDefaultMatch("Tag", nestwrite.MatchSpec{
//	    Fields:   []string{"name"},
//	    Strategy: nestwrite.GetOrCreate,
//	})
func WithDefaultMatch(model string, spec nestwrite.MatchSpec) Option {
	return func(s *Synchronizer) error {
		m, ok := s.graph.Model(model)
		if !ok {
			return nestwrite.NewConfigError("DefaultMatch", model, "unknown model")
		}
		for _, f := range spec.Fields {
			if f == nestwrite.PK {
				continue
			}
			if _, ok := m.Column(f); !ok {
				return nestwrite.NewConfigError("DefaultMatch", f, "model "+model+" has no such field")
			}
		}
		s.defaults[model] = spec
		return nil
	}
}

// Stage names the points of a node write hooks are called at.
type Stage uint8

// Stages, in call order.
const (
	// StageAfterDirect follows the write of the direct relations, before
	// the node itself is written. Event.Entity is nil.
	StageAfterDirect Stage = iota + 1
	// StageAfterSave follows the write of the node.
	StageAfterSave
	// StageAfterReverse follows the write and pruning of the reverse,
	// many-to-many and generic relations.
	StageAfterReverse
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageAfterDirect:
		return "after_direct"
	case StageAfterSave:
		return "after_save"
	case StageAfterReverse:
		return "after_reverse"
	}
	return "stage(?)"
}

// Event describes the node a hook is called for.
type Event struct {
	Stage Stage
	// Path is the relation path of the node, empty for the root.
	Path string
	Node *schema.Node
	// Payload is the incoming node.
	Payload payload.Node
	// Entity is the written node, nil before it is saved.
	Entity *nestwrite.Entity
	// Values holds the column values the node is written with.
	Values map[string]any
}

// Hook is called inside the transaction of the sync. An error aborts the
// sync and rolls it back.
type Hook func(ctx context.Context, tx dialect.Tx, ev *Event) error

// Hooks groups hooks by stage. Hooks of a stage run in order.
type Hooks struct {
	AfterDirect  []Hook
	AfterSave    []Hook
	AfterReverse []Hook
}

func (h Hooks) stage(s Stage) []Hook {
	switch s {
	case StageAfterDirect:
		return h.AfterDirect
	case StageAfterSave:
		return h.AfterSave
	case StageAfterReverse:
		return h.AfterReverse
	}
	return nil
}

// CallOption configures one Sync call.
type CallOption func(*call)

// WithOverrides sets values applied to every node reached through a
// relation path, with priority over the payload and field defaults. The
// empty path addresses the root. Paths omit list indexes.
//
//	graphsync.WithOverrides(map[string]map[string]any{
//	    "":        {"owner": userID},
//	    "avatars": {"source": "import"},
//	})
func WithOverrides(overrides map[string]map[string]any) CallOption {
	return func(c *call) {
		for path, values := range overrides {
			if c.overrides[path] == nil {
				c.overrides[path] = make(map[string]any, len(values))
			}
			maps.Copy(c.overrides[path], values)
		}
	}
}

// WithInstance writes the root payload to the given entity instead of
// matching it.
func WithInstance(e *nestwrite.Entity) CallOption {
	return func(c *call) {
		c.instance = e
	}
}

// Partial accepts payloads that omit required fields, for updates of
// existing entities. Creates still need them.
func Partial() CallOption {
	return func(c *call) {
		c.partial = true
	}
}

// WithReport fills r with the counters of the call when it succeeds.
func WithReport(r *Report) CallOption {
	return func(c *call) {
		c.report = r
	}
}
