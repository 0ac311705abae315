// Package graphsync writes nested payloads to a model graph.
//
// A Synchronizer walks a payload along a node schema and persists every
// node inside one transaction. Relations whose foreign key is stored on
// the owner are written first, then the owner, then the relations that
// point back at it. Reverse children and many-to-many links missing from
// the payload are pruned once all of them are written.
//
//	s, err := graphsync.New(graph, graphsync.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	profile, err := s.Sync(ctx, drv, ProfileNode, payload.Node{
//	    "bio":     "gopher",
//	    "avatars": []payload.Node{{"image": "a.png"}},
//	})
package graphsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/google/uuid"

	"github.com/syssam/nestwrite"
	"github.com/syssam/nestwrite/contrib/dataloader"
	"github.com/syssam/nestwrite/dialect"
	"github.com/syssam/nestwrite/match"
	"github.com/syssam/nestwrite/payload"
	"github.com/syssam/nestwrite/prune"
	"github.com/syssam/nestwrite/relation"
	"github.com/syssam/nestwrite/schema"
	"github.com/syssam/nestwrite/txn"
	"github.com/syssam/nestwrite/unique"
)

var (
	errNotNull      = errors.New("this field may not be null")
	errCannotDetach = errors.New("related entities require their owner and cannot be detached")
)

// Synchronizer writes payload trees. It is safe for concurrent use; each
// Sync call runs in its own transaction.
type Synchronizer struct {
	graph    *schema.Graph
	catalog  *relation.Catalog
	resolver *match.Resolver
	guard    *unique.Guard
	policy   prune.Policy
	hooks    Hooks
	defaults map[string]nestwrite.MatchSpec
	logger   *slog.Logger
}

// New returns a synchronizer over the model graph.
func New(g *schema.Graph, opts ...Option) (*Synchronizer, error) {
	if g == nil {
		return nil, nestwrite.NewConfigError("Graph", nil, "graph cannot be nil")
	}
	s := &Synchronizer{
		graph:    g,
		guard:    unique.New(unique.Deferred),
		defaults: make(map[string]nestwrite.MatchSpec),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	switch {
	case s.catalog == nil:
		s.catalog = relation.NewCatalog(g)
	case s.catalog.Graph() != g:
		return nil, nestwrite.NewConfigError("Catalog", nil, "catalog is built over another graph")
	}
	s.resolver = match.NewResolver(match.WithChecker(s.guard))
	return s, nil
}

// Report counts what a Sync call did.
type Report struct {
	// Call is the id the call is logged with.
	Call      string
	Created   int
	Updated   int
	Unchanged int
	Matched   int
	Deleted   int
	Detached  int
	Kept      int
	Linked    int
	Unlinked  int
}

// Writes returns the number of writes the call issued.
func (r Report) Writes() int {
	return r.Created + r.Updated + r.Deleted + r.Detached + r.Linked + r.Unlinked
}

// call holds the state of one Sync call.
type call struct {
	id        uuid.UUID
	tx        dialect.Tx
	overrides map[string]map[string]any
	instance  *nestwrite.Entity
	partial   bool
	report    *Report
	counts    Report
	// seen holds the identities written per relation path.
	seen map[string]map[string]bool
	log  *slog.Logger
}

func (s *Synchronizer) newCall(opts []CallOption) *call {
	c := &call{
		id:        uuid.New(),
		overrides: make(map[string]map[string]any),
		seen:      make(map[string]map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.counts.Call = c.id.String()
	c.log = s.logger.With("call", c.counts.Call)
	return c
}

func (c *call) count(a match.Action) {
	switch a {
	case match.Created:
		c.counts.Created++
	case match.Updated:
		c.counts.Updated++
	case match.Unchanged:
		c.counts.Unchanged++
	case match.Matched:
		c.counts.Matched++
	}
}

func (c *call) see(path string) map[string]bool {
	if c.seen[path] == nil {
		c.seen[path] = make(map[string]bool)
	}
	return c.seen[path]
}

// overridden reports if an override replaces the nested payload of d.
func (c *call) overridden(rel string, d *relation.Descriptor) bool {
	o := c.overrides[rel]
	_, byName := o[d.Name]
	_, bySource := o[d.Source]
	return byName || bySource
}

// Sync writes the payload p of node schema n and returns the root entity.
// The payload is validated before the transaction starts. Any error rolls
// back every write of the call.
func (s *Synchronizer) Sync(ctx context.Context, drv dialect.Driver, n *schema.Node, p payload.Node, opts ...CallOption) (*nestwrite.Entity, error) {
	if n == nil {
		return nil, nestwrite.NewConfigError("Node", nil, "node cannot be nil")
	}
	if err := s.catalog.Warm(n); err != nil {
		return nil, err
	}
	c := s.newCall(opts)
	if err := s.validate(ctx, drv, c, n, p, "", ""); err != nil {
		return nil, err
	}
	e, err := txn.Run(ctx, drv, func(tx dialect.Tx) (*nestwrite.Entity, error) {
		c.tx = tx
		return s.write(ctx, c, s.root(c, n, p))
	}, txn.WithLogger(c.log))
	if err != nil {
		c.log.DebugContext(ctx, "sync failed", "node", n.Label(), "error", err)
		return nil, err
	}
	if c.report != nil {
		*c.report = c.counts
	}
	c.log.DebugContext(ctx, "sync", "node", n.Label(), "model", e.Model, "id", e.ID, "writes", c.counts.Writes())
	return e, nil
}

// target is one node to write.
type target struct {
	node *schema.Node
	data payload.Node
	// path is the relation path with list indexes, rel the same without.
	path, rel  string
	spec       nestwrite.MatchSpec
	inject     map[string]any
	adopt      *nestwrite.Entity
	pinned     bool
	candidates map[string]*nestwrite.Entity
}

func (s *Synchronizer) root(c *call, n *schema.Node, p payload.Node) *target {
	t := &target{node: n, data: p}
	switch {
	case c.instance != nil:
		t.spec = nestwrite.MatchSpec{Strategy: nestwrite.Update}
		t.adopt, t.pinned = c.instance, true
	case n.Match != nil:
		t.spec = *n.Match
	default:
		t.spec = s.defaults[n.Model]
	}
	return t
}

// attach writes the parent link of a matched reverse child when it points
// elsewhere.
func (s *Synchronizer) attach(ctx context.Context, c *call, t *target, m *schema.Model, e *nestwrite.Entity) (*nestwrite.Entity, error) {
	changed := match.Changed(m, e, t.inject)
	if len(changed) == 0 {
		return e, nil
	}
	u, err := c.tx.Update(ctx, e, changed)
	if err != nil {
		return nil, err
	}
	c.counts.Updated++
	c.log.DebugContext(ctx, "attach", "path", t.path, "model", m.Name, "id", u.ID)
	return u, nil
}

// matchSpec returns the match spec of the nodes of d.
func (s *Synchronizer) matchSpec(d *relation.Descriptor) nestwrite.MatchSpec {
	if d.Match.ByPK() && d.Match.Strategy == nestwrite.UpdateOrCreate {
		if spec, ok := s.defaults[d.Target.Name]; ok {
			return spec
		}
	}
	return d.Match
}

func (s *Synchronizer) write(ctx context.Context, c *call, t *target) (_ *nestwrite.Entity, err error) {
	defer func() { nestwrite.SetPath(err, t.path) }()
	tbl, err := s.catalog.Classify(t.node)
	if err != nil {
		return nil, err
	}
	m := tbl.Model
	values, pk, err := s.values(c, t, tbl)
	if err != nil {
		return nil, err
	}
	before, after := relation.Order(tbl, t.data.Has)
	for _, d := range before {
		if c.overridden(t.rel, d) {
			continue
		}
		if err := s.direct(ctx, c, t, d, values); err != nil {
			return nil, err
		}
	}
	if err := s.emit(ctx, c, StageAfterDirect, t, nil, values); err != nil {
		return nil, err
	}
	maps.Copy(values, t.inject)
	if t.pinned {
		pk = nil
	}
	res, err := s.resolver.Resolve(ctx, c.tx, match.Request{
		Model:      m,
		Spec:       t.spec,
		Path:       t.path,
		PK:         pk,
		Values:     values,
		Defaults:   defaults(m, values),
		Adopt:      t.adopt,
		Candidates: t.candidates,
	})
	if err != nil {
		return nil, err
	}
	c.count(res.Action)
	c.log.DebugContext(ctx, res.Action.String(), "path", t.path, "model", m.Name, "id", res.Entity.ID)
	if err := s.emit(ctx, c, StageAfterSave, t, res.Entity, values); err != nil {
		return nil, err
	}
	// Matched entities keep their fields and relations. Only the link to
	// the parent is moved onto them.
	if res.Action == match.Matched {
		return s.attach(ctx, c, t, m, res.Entity)
	}
	queue := make([]*pending, 0, len(after))
	for _, d := range after {
		var (
			p   *pending
			err error
		)
		switch d.Kind {
		case relation.ReverseOneToOne:
			p, err = s.reverseOne(ctx, c, t, res.Entity, d)
		case relation.ManyToMany:
			p, err = s.manyToMany(ctx, c, t, res.Entity, d)
		default:
			p, err = s.reverseMany(ctx, c, t, res.Entity, d)
		}
		if err != nil {
			return nil, err
		}
		queue = append(queue, p)
	}
	for i := len(queue) - 1; i >= 0; i-- {
		if err := s.prune(ctx, c, t, res.Entity, queue[i]); err != nil {
			return nil, err
		}
	}
	if err := s.emit(ctx, c, StageAfterReverse, t, res.Entity, values); err != nil {
		return nil, err
	}
	return res.Entity, nil
}

// values collects the column values of a node from its scalar fields and
// the overrides of its relation path. The returned pk is the coerced
// primary key of the payload, if any.
func (s *Synchronizer) values(c *call, t *target, tbl *relation.Table) (map[string]any, any, error) {
	var (
		m      = tbl.Model
		pkd    = m.PK()
		pk     any
		values = make(map[string]any)
	)
	set := func(name string, raw any) error {
		fd, ok := m.FieldByName(name)
		if !ok {
			return nestwrite.NewUnknownFieldError(m.Name, name)
		}
		v, err := fd.Coerce(raw)
		if err != nil {
			return &nestwrite.ValidationError{Path: t.path, Name: fd.Name, Err: err}
		}
		if fd == pkd {
			pk = v
			if !t.node.Writable(fd.Name) {
				return nil
			}
		}
		values[fd.Column()] = v
		return nil
	}
	for _, key := range []string{nestwrite.PK, pkd.Name} {
		if raw, ok := t.data[key]; ok && raw != nil {
			if err := set(key, raw); err != nil {
				return nil, nil, err
			}
			break
		}
	}
	for _, name := range t.node.Fields {
		raw, ok := t.data[name]
		if !ok || name == pkd.Name {
			continue
		}
		if err := set(name, raw); err != nil {
			return nil, nil, err
		}
	}
	for name, raw := range c.overrides[t.rel] {
		if _, ok := m.FieldByName(name); ok {
			if err := set(name, raw); err != nil {
				return nil, nil, err
			}
			continue
		}
		col, ok := m.Column(name)
		if d, isRel := tbl.Field(name); !ok && isRel && d.Kind.Direct() {
			col, ok = d.Column, true
		}
		if !ok {
			return nil, nil, nestwrite.NewUnknownFieldError(m.Name, name)
		}
		if e, isEntity := raw.(*nestwrite.Entity); isEntity {
			raw = e.ID
		}
		values[col] = raw
	}
	return values, pk, nil
}

// defaults returns the field defaults of the columns values leaves unset.
func defaults(m *schema.Model, values map[string]any) map[string]any {
	var dv map[string]any
	for _, fd := range m.FieldList() {
		if _, ok := values[fd.Column()]; ok {
			continue
		}
		if v, ok := fd.DefaultValue(); ok {
			if dv == nil {
				dv = make(map[string]any)
			}
			dv[fd.Column()] = v
		}
	}
	return dv
}

func (s *Synchronizer) direct(ctx context.Context, c *call, t *target, d *relation.Descriptor, values map[string]any) error {
	child, _, err := t.data.One(d.Name)
	if err != nil {
		return &nestwrite.ValidationError{Path: t.path, Name: d.Name, Err: err}
	}
	if child == nil {
		if !d.Nullable {
			return &nestwrite.ValidationError{Path: t.path, Name: d.Name, Err: errNotNull}
		}
		values[d.Column] = nil
		return nil
	}
	e, err := s.write(ctx, c, &target{
		node: d.Node,
		data: child,
		path: join(t.path, d.Name),
		rel:  join(t.rel, d.Name),
		spec: s.matchSpec(d),
	})
	if err != nil {
		return err
	}
	values[d.Column] = e.ID
	return nil
}

// pending is a written relation waiting for its orphans to be pruned.
type pending struct {
	relation *relation.Descriptor
	// path locates the relation in errors and logs, rel in prune rules.
	path, rel string
	orphans   []*nestwrite.Entity
	// current and links are the link sets of many-to-many relations
	// before and after the write.
	current, links []*nestwrite.Entity
}

// backLink returns the values linking a reverse child to its owner.
func backLink(d *relation.Descriptor, owner *nestwrite.Entity) map[string]any {
	if d.Kind == relation.GenericRelation {
		return map[string]any{
			d.TypeColumn: owner.Model,
			d.IDColumn:   d.Target.GenericID(d.IDColumn, owner.ID),
		}
	}
	return map[string]any{d.Column: owner.ID}
}

func byPK(es []*nestwrite.Entity) map[string]*nestwrite.Entity {
	return dataloader.Index(es, func(e *nestwrite.Entity) string {
		return nestwrite.IDString(e.ID)
	})
}

// reverseMany writes the children of a reverse foreign key or generic
// relation. Existing children are loaded once and serve primary key
// lookups; a child of another owner is found by its key and moved.
func (s *Synchronizer) reverseMany(ctx context.Context, c *call, t *target, owner *nestwrite.Entity, d *relation.Descriptor) (*pending, error) {
	items, _, err := t.data.Many(d.Name)
	if err != nil {
		return nil, &nestwrite.ValidationError{Path: t.path, Name: d.Name, Err: err}
	}
	link := backLink(d, owner)
	existing, err := c.tx.Find(ctx, d.Target.Name, link)
	if err != nil {
		return nil, err
	}
	var (
		candidates = byPK(existing)
		spec       = s.matchSpec(d)
		base       = join(t.path, d.Name)
		seen       = c.see(base)
	)
	for i, item := range items {
		e, err := s.write(ctx, c, &target{
			node:       d.Node,
			data:       item,
			path:       fmt.Sprintf("%s[%d]", base, i),
			rel:        join(t.rel, d.Name),
			spec:       spec,
			inject:     link,
			candidates: candidates,
		})
		if err != nil {
			return nil, err
		}
		seen[e.Key()] = true
		candidates[nestwrite.IDString(e.ID)] = e
	}
	p := &pending{relation: d, path: base, rel: join(t.rel, d.Name)}
	for _, e := range existing {
		if !seen[e.Key()] {
			p.orphans = append(p.orphans, e)
		}
	}
	return p, nil
}

// reverseOne writes the child of a reverse one-to-one relation. When
// matching by primary key, a child without one is written to the entity
// already linked to the owner.
func (s *Synchronizer) reverseOne(ctx context.Context, c *call, t *target, owner *nestwrite.Entity, d *relation.Descriptor) (*pending, error) {
	child, _, err := t.data.One(d.Name)
	if err != nil {
		return nil, &nestwrite.ValidationError{Path: t.path, Name: d.Name, Err: err}
	}
	link := backLink(d, owner)
	current, err := c.tx.FindOne(ctx, d.Target.Name, link)
	if err != nil {
		return nil, err
	}
	p := &pending{relation: d, path: join(t.path, d.Name), rel: join(t.rel, d.Name)}
	if child == nil {
		if current != nil {
			p.orphans = append(p.orphans, current)
		}
		return p, nil
	}
	ct := &target{
		node:   d.Node,
		data:   child,
		path:   p.path,
		rel:    p.rel,
		spec:   s.matchSpec(d),
		inject: link,
	}
	if current != nil {
		ct.candidates = byPK([]*nestwrite.Entity{current})
		if ct.spec.ByPK() {
			ct.adopt = current
		}
	}
	e, err := s.write(ctx, c, ct)
	if err != nil {
		return nil, err
	}
	c.see(p.path)[e.Key()] = true
	if current != nil && current.Key() != e.Key() {
		p.orphans = append(p.orphans, current)
	}
	return p, nil
}

// manyToMany writes the targets of a many-to-many relation. The link set
// is replaced once orphans are decided.
func (s *Synchronizer) manyToMany(ctx context.Context, c *call, t *target, owner *nestwrite.Entity, d *relation.Descriptor) (*pending, error) {
	items, _, err := t.data.Many(d.Name)
	if err != nil {
		return nil, &nestwrite.ValidationError{Path: t.path, Name: d.Name, Err: err}
	}
	current, err := c.tx.Linked(ctx, owner, d.Join)
	if err != nil {
		return nil, err
	}
	var (
		candidates = byPK(current)
		spec       = s.matchSpec(d)
		base       = join(t.path, d.Name)
		seen       = c.see(base)
		p          = &pending{relation: d, path: base, rel: join(t.rel, d.Name), current: current}
	)
	for i, item := range items {
		e, err := s.write(ctx, c, &target{
			node:       d.Node,
			data:       item,
			path:       fmt.Sprintf("%s[%d]", base, i),
			rel:        join(t.rel, d.Name),
			spec:       spec,
			candidates: candidates,
		})
		if err != nil {
			return nil, err
		}
		if !seen[e.Key()] {
			seen[e.Key()] = true
			p.links = append(p.links, e)
		}
	}
	for _, e := range current {
		if !seen[e.Key()] {
			p.orphans = append(p.orphans, e)
		}
	}
	return p, nil
}

// prune applies the prune policy to the orphans of a relation. Orphaned
// many-to-many targets are only ever unlinked.
func (s *Synchronizer) prune(ctx context.Context, c *call, t *target, owner *nestwrite.Entity, p *pending) error {
	d := p.relation
	for _, o := range p.orphans {
		action, err := s.policy.Decide(ctx, &prune.Orphan{Path: p.rel, Relation: d, Owner: owner, Entity: o})
		if err != nil {
			return err
		}
		c.log.DebugContext(ctx, "prune", "path", p.path, "model", o.Model, "id", o.ID, "action", action.String())
		switch {
		case action == prune.ActionKeep:
			c.counts.Kept++
			if d.Kind == relation.ManyToMany {
				p.links = append(p.links, o)
			}
		case d.Kind == relation.ManyToMany:
		case action == prune.ActionDelete:
			if err := c.tx.Delete(ctx, o); err != nil {
				nestwrite.SetPath(err, p.path)
				return err
			}
			c.counts.Deleted++
		case action == prune.ActionDetach:
			if err := detach(ctx, c, t, d, o); err != nil {
				return err
			}
			c.counts.Detached++
		}
	}
	if d.Kind == relation.ManyToMany {
		return relink(ctx, c, owner, p)
	}
	return nil
}

func detach(ctx context.Context, c *call, t *target, d *relation.Descriptor, o *nestwrite.Entity) error {
	var values map[string]any
	switch {
	case d.Kind == relation.GenericRelation:
		values = map[string]any{d.TypeColumn: nil, d.IDColumn: nil}
	case d.Nullable:
		values = map[string]any{d.Column: nil}
	default:
		return &nestwrite.ValidationError{Path: t.path, Name: d.Name, Err: errCannotDetach}
	}
	_, err := c.tx.Update(ctx, o, values)
	return err
}

// relink replaces the link set of a many-to-many relation when it
// changed. Link order is not significant.
func relink(ctx context.Context, c *call, owner *nestwrite.Entity, p *pending) error {
	before := make(map[string]bool, len(p.current))
	for _, e := range p.current {
		before[e.Key()] = true
	}
	var added, kept int
	for _, e := range p.links {
		if before[e.Key()] {
			kept++
		} else {
			added++
		}
	}
	removed := len(before) - kept
	if added == 0 && removed == 0 {
		return nil
	}
	if err := c.tx.SetLinks(ctx, owner, p.relation.Join, p.links); err != nil {
		return err
	}
	c.counts.Linked += added
	c.counts.Unlinked += removed
	c.log.DebugContext(ctx, "link", "path", p.path, "model", owner.Model, "id", owner.ID, "linked", added, "unlinked", removed)
	return nil
}

func (s *Synchronizer) emit(ctx context.Context, c *call, stage Stage, t *target, e *nestwrite.Entity, values map[string]any) error {
	hooks := s.hooks.stage(stage)
	if len(hooks) == 0 {
		return nil
	}
	ev := &Event{Stage: stage, Path: t.path, Node: t.node, Payload: t.data, Entity: e, Values: values}
	for _, h := range hooks {
		if err := h(ctx, c.tx, ev); err != nil {
			return err
		}
	}
	return nil
}

func join(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}
