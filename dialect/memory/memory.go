// Package memory provides a transactional in-memory dialect.Driver.
//
// Each transaction works on a private copy of the whole state which
// replaces the shared state on commit. Transactions are serialized: a
// second Tx call blocks until the first one ends or its context is done.
// Operations outside a transaction run in their own implicit transaction.
//
// The driver enforces what a relational database with foreign keys would:
// primary key and unique field uniqueness, existence of referenced
// entities, and the OnDelete action of every edge pointing at a deleted
// entity.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/syssam/nestwrite"
	"github.com/syssam/nestwrite/dialect"
	"github.com/syssam/nestwrite/schema"
	"github.com/syssam/nestwrite/schema/edge"
	"github.com/syssam/nestwrite/schema/field"
)

// ErrClosed is returned by operations on a closed driver.
var ErrClosed = errors.New("memory: driver is closed")

// Stats counts the writes and lookups performed by a driver.
type Stats struct {
	Creates atomic.Int64
	Updates atomic.Int64
	Deletes atomic.Int64
	Links   atomic.Int64
	Unlinks atomic.Int64
	Queries atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Creates, Updates, Deletes, Links, Unlinks, Queries int64
}

// Writes returns the number of writes of any kind.
func (s StatsSnapshot) Writes() int64 {
	return s.Creates + s.Updates + s.Deletes + s.Links + s.Unlinks
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf("creates=%d updates=%d deletes=%d links=%d unlinks=%d queries=%d",
		s.Creates, s.Updates, s.Deletes, s.Links, s.Unlinks, s.Queries)
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Creates: s.Creates.Load(),
		Updates: s.Updates.Load(),
		Deletes: s.Deletes.Load(),
		Links:   s.Links.Load(),
		Unlinks: s.Unlinks.Load(),
		Queries: s.Queries.Load(),
	}
}

// Reset resets all counters to zero.
func (s *Stats) Reset() {
	s.Creates.Store(0)
	s.Updates.Store(0)
	s.Deletes.Store(0)
	s.Links.Store(0)
	s.Unlinks.Store(0)
	s.Queries.Store(0)
}

// Driver is an in-memory dialect.Driver.
type Driver struct {
	graph  *schema.Graph
	sem    chan struct{}
	state  *state
	stats  *Stats
	closed atomic.Bool
}

// New returns an empty driver storing the models of the graph.
func New(g *schema.Graph) *Driver {
	return &Driver{
		graph: g,
		sem:   make(chan struct{}, 1),
		state: newState(),
		stats: &Stats{},
	}
}

// Stats returns the driver counters. Writes of rolled back transactions
// are counted too.
func (d *Driver) Stats() *Stats {
	return d.stats
}

// Len returns the number of stored entities of a model.
func (d *Driver) Len(model string) int {
	d.sem <- struct{}{}
	defer func() { <-d.sem }()
	return len(d.state.rows[model])
}

func (d *Driver) acquire(ctx context.Context) error {
	if d.closed.Load() {
		return ErrClosed
	}
	select {
	case d.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) release() { <-d.sem }

// write runs fn on a copy of the state and keeps the copy if fn succeeds.
func (d *Driver) write(ctx context.Context, fn func(*session) error) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()
	s := &session{graph: d.graph, st: d.state.clone(), stats: d.stats}
	if err := fn(s); err != nil {
		return err
	}
	d.state = s.st
	return nil
}

// read runs fn on the shared state.
func (d *Driver) read(ctx context.Context, fn func(*session) error) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()
	return fn(&session{graph: d.graph, st: d.state, stats: d.stats})
}

// Create implements dialect.Driver.
func (d *Driver) Create(ctx context.Context, model string, values map[string]any) (e *nestwrite.Entity, err error) {
	err = d.write(ctx, func(s *session) error {
		e, err = s.Create(ctx, model, values)
		return err
	})
	return e, err
}

// Update implements dialect.Driver.
func (d *Driver) Update(ctx context.Context, e *nestwrite.Entity, values map[string]any) (u *nestwrite.Entity, err error) {
	err = d.write(ctx, func(s *session) error {
		u, err = s.Update(ctx, e, values)
		return err
	})
	return u, err
}

// Delete implements dialect.Driver.
func (d *Driver) Delete(ctx context.Context, e *nestwrite.Entity) error {
	return d.write(ctx, func(s *session) error {
		return s.Delete(ctx, e)
	})
}

// FindOne implements dialect.Driver.
func (d *Driver) FindOne(ctx context.Context, model string, filter map[string]any) (e *nestwrite.Entity, err error) {
	err = d.read(ctx, func(s *session) error {
		e, err = s.FindOne(ctx, model, filter)
		return err
	})
	return e, err
}

// Find implements dialect.Driver.
func (d *Driver) Find(ctx context.Context, model string, filter map[string]any) (es []*nestwrite.Entity, err error) {
	err = d.read(ctx, func(s *session) error {
		es, err = s.Find(ctx, model, filter)
		return err
	})
	return es, err
}

// Linked implements dialect.Driver.
func (d *Driver) Linked(ctx context.Context, owner *nestwrite.Entity, join *schema.Join) (es []*nestwrite.Entity, err error) {
	err = d.read(ctx, func(s *session) error {
		es, err = s.Linked(ctx, owner, join)
		return err
	})
	return es, err
}

// SetLinks implements dialect.Driver.
func (d *Driver) SetLinks(ctx context.Context, owner *nestwrite.Entity, join *schema.Join, targets []*nestwrite.Entity) error {
	return d.write(ctx, func(s *session) error {
		return s.SetLinks(ctx, owner, join, targets)
	})
}

// Tx implements dialect.Driver.
func (d *Driver) Tx(ctx context.Context) (dialect.Tx, error) {
	if err := d.acquire(ctx); err != nil {
		return nil, err
	}
	return &Tx{
		session: &session{graph: d.graph, st: d.state.clone(), stats: d.stats},
		drv:     d,
	}, nil
}

// Dialect implements dialect.Driver.
func (d *Driver) Dialect() string { return dialect.Memory }

// Close implements dialect.Driver.
func (d *Driver) Close() error {
	d.closed.Store(true)
	return nil
}

// Tx is a transaction of the in-memory driver.
type Tx struct {
	*session
	drv  *Driver
	done bool
}

// Tx returns the transaction itself with no-op commit and rollback.
func (tx *Tx) Tx(context.Context) (dialect.Tx, error) {
	if tx.done {
		return nil, errTxDone
	}
	return dialect.NopTx(tx), nil
}

var errTxDone = errors.New("memory: transaction has already been committed or rolled back")

// Commit publishes the transaction state.
func (tx *Tx) Commit() error {
	if tx.done {
		return errTxDone
	}
	tx.done = true
	tx.drv.state = tx.st
	tx.drv.release()
	return nil
}

// Rollback discards the transaction state.
func (tx *Tx) Rollback() error {
	if tx.done {
		return errTxDone
	}
	tx.done = true
	tx.drv.release()
	return nil
}

// Dialect implements dialect.Driver.
func (tx *Tx) Dialect() string { return dialect.Memory }

// Close implements dialect.Driver.
func (tx *Tx) Close() error { return nil }

var (
	_ dialect.Driver = (*Driver)(nil)
	_ dialect.Tx     = (*Tx)(nil)
)

type row struct {
	seq    int64
	values map[string]any
}

type state struct {
	rows   map[string]map[string]*row // model, id
	links  map[string][]map[string]any
	nextID map[string]int64
	seq    int64
}

func newState() *state {
	return &state{
		rows:   make(map[string]map[string]*row),
		links:  make(map[string][]map[string]any),
		nextID: make(map[string]int64),
	}
}

func (st *state) clone() *state {
	c := &state{
		rows:   make(map[string]map[string]*row, len(st.rows)),
		links:  make(map[string][]map[string]any, len(st.links)),
		nextID: maps.Clone(st.nextID),
		seq:    st.seq,
	}
	for m, rs := range st.rows {
		crs := make(map[string]*row, len(rs))
		for id, r := range rs {
			crs[id] = &row{seq: r.seq, values: maps.Clone(r.values)}
		}
		c.rows[m] = crs
	}
	for t, ls := range st.links {
		cls := make([]map[string]any, len(ls))
		for i, l := range ls {
			cls[i] = maps.Clone(l)
		}
		c.links[t] = cls
	}
	return c
}

// session implements the driver operations on one state.
type session struct {
	graph *schema.Graph
	st    *state
	stats *Stats
}

func (s *session) model(name string) (*schema.Model, error) {
	m, ok := s.graph.Model(name)
	if !ok {
		return nil, fmt.Errorf("memory: unknown model %q", name)
	}
	return m, nil
}

func (s *session) entity(m *schema.Model, r *row) *nestwrite.Entity {
	return &nestwrite.Entity{Model: m.Name, ID: r.values[m.PK().Column()], Fields: maps.Clone(r.values)}
}

// Create implements dialect.Driver.
func (s *session) Create(_ context.Context, model string, values map[string]any) (*nestwrite.Entity, error) {
	m, err := s.model(model)
	if err != nil {
		return nil, err
	}
	pk := m.PK()
	vs := maps.Clone(values)
	if vs == nil {
		vs = make(map[string]any)
	}
	id := vs[pk.Column()]
	if id == nil {
		if id, err = s.nextID(m); err != nil {
			return nil, err
		}
		vs[pk.Column()] = id
	} else if n, ok := id.(int64); ok && n > s.st.nextID[model] {
		s.st.nextID[model] = n
	}
	rows := s.st.rows[model]
	if rows == nil {
		rows = make(map[string]*row)
		s.st.rows[model] = rows
	}
	if _, ok := rows[nestwrite.IDString(id)]; ok {
		return nil, &nestwrite.UniqueConstraintError{Model: model, Field: pk.Name, Value: id, Err: errDuplicateKey}
	}
	if err := s.checkRow(m, "", vs); err != nil {
		return nil, err
	}
	s.st.seq++
	r := &row{seq: s.st.seq, values: vs}
	rows[nestwrite.IDString(id)] = r
	s.stats.Creates.Add(1)
	return s.entity(m, r), nil
}

var (
	errDuplicateKey = errors.New("memory: duplicate key")
	errMissingRef   = errors.New("memory: foreign key references a missing entity")
)

func (s *session) nextID(m *schema.Model) (any, error) {
	switch t := m.PK().Type; t {
	case field.TypeInt, field.TypeInt64:
		s.st.nextID[m.Name]++
		return s.st.nextID[m.Name], nil
	case field.TypeUUID, field.TypeString:
		return uuid.NewString(), nil
	default:
		return nil, fmt.Errorf("memory: model %s: cannot generate %s primary keys", m.Name, t)
	}
}

// checkRow verifies unique fields and foreign keys of a row being written.
func (s *session) checkRow(m *schema.Model, self string, vs map[string]any) error {
	for _, fd := range m.Unique() {
		if fd == m.PK() {
			continue
		}
		v, ok := vs[fd.Column()]
		if !ok || v == nil {
			continue
		}
		for id, r := range s.st.rows[m.Name] {
			if id != self && nestwrite.Equal(r.values[fd.Column()], v) {
				return &nestwrite.UniqueConstraintError{Model: m.Name, Field: fd.Name, Value: v, Message: fd.UniqueMessage, Err: errDuplicateKey}
			}
		}
	}
	for _, e := range m.EdgeList() {
		if e.Kind != edge.KindForeignKey && e.Kind != edge.KindOneToOne {
			continue
		}
		v, ok := vs[e.Column]
		if !ok || v == nil {
			continue
		}
		if _, ok := s.st.rows[e.Target][nestwrite.IDString(v)]; !ok {
			return fmt.Errorf("%w: %s.%s=%v", errMissingRef, m.Name, e.Column, v)
		}
		if e.Kind != edge.KindOneToOne {
			continue
		}
		for id, r := range s.st.rows[m.Name] {
			if id != self && nestwrite.Equal(r.values[e.Column], v) {
				return &nestwrite.UniqueConstraintError{Model: m.Name, Field: e.Name, Value: v, Err: errDuplicateKey}
			}
		}
	}
	return nil
}

// Update implements dialect.Driver.
func (s *session) Update(_ context.Context, e *nestwrite.Entity, values map[string]any) (*nestwrite.Entity, error) {
	m, err := s.model(e.Model)
	if err != nil {
		return nil, err
	}
	key := nestwrite.IDString(e.ID)
	r, ok := s.st.rows[m.Name][key]
	if !ok {
		return nil, nestwrite.NewNotFoundError(m.Name, map[string]any{m.PK().Column(): e.ID})
	}
	vs := maps.Clone(r.values)
	for k, v := range values {
		if k == m.PK().Column() && !nestwrite.Equal(v, e.ID) {
			return nil, fmt.Errorf("memory: %s: primary key cannot be changed", e)
		}
		vs[k] = v
	}
	if err := s.checkRow(m, key, vs); err != nil {
		return nil, err
	}
	r.values = vs
	s.stats.Updates.Add(1)
	return s.entity(m, r), nil
}

// Delete implements dialect.Driver.
func (s *session) Delete(_ context.Context, e *nestwrite.Entity) error {
	if _, ok := s.st.rows[e.Model][nestwrite.IDString(e.ID)]; !ok {
		return nestwrite.NewNotFoundError(e.Model, map[string]any{nestwrite.PK: e.ID})
	}
	c := &collector{s: s, deleted: make(map[string]bool)}
	c.collect(e.Model, nestwrite.IDString(e.ID))
	if len(c.protected) > 0 {
		var blocked []string
		for _, p := range c.protected {
			if !c.deleted[p] {
				blocked = append(blocked, p)
			}
		}
		if len(blocked) > 0 {
			slices.Sort(blocked)
			return &nestwrite.ProtectedDeleteError{Model: e.Model, ID: e.ID, Protected: slices.Compact(blocked)}
		}
	}
	for _, n := range c.nulls {
		if r, ok := s.st.rows[n.model][n.id]; ok && !c.deleted[nestwrite.KeyOf(n.model, n.id)] {
			r.values[n.column] = nil
		}
	}
	for _, d := range c.order {
		delete(s.st.rows[d.model], d.id)
		for _, j := range s.graph.Joins(d.model) {
			s.st.links[j.Table] = slices.DeleteFunc(s.st.links[j.Table], func(l map[string]any) bool {
				return nestwrite.IDString(l[j.OwnerColumn]) == d.id
			})
		}
		s.stats.Deletes.Add(1)
	}
	return nil
}

type ref struct{ model, id, column string }

// collector walks the entities affected by a delete.
type collector struct {
	s         *session
	deleted   map[string]bool
	order     []ref
	nulls     []ref
	protected []string
}

func (c *collector) collect(model, id string) {
	key := nestwrite.KeyOf(model, id)
	if c.deleted[key] {
		return
	}
	c.deleted[key] = true
	c.order = append(c.order, ref{model: model, id: id})
	for _, rf := range c.s.graph.References(model) {
		for rid, r := range c.s.st.rows[rf.Model.Name] {
			if nestwrite.IDString(r.values[rf.Edge.Column]) != id || r.values[rf.Edge.Column] == nil {
				continue
			}
			switch {
			case rf.Edge.OnDelete.Blocks():
				c.protected = append(c.protected, nestwrite.KeyOf(rf.Model.Name, rid))
			case rf.Edge.OnDelete == edge.Cascade:
				c.collect(rf.Model.Name, rid)
			default:
				c.nulls = append(c.nulls, ref{model: rf.Model.Name, id: rid, column: rf.Edge.Column})
			}
		}
	}
	for _, g := range c.s.graph.Generics(model) {
		for rid, r := range c.s.st.rows[g.Target] {
			if r.values[g.Columns[0]] == model && nestwrite.IDString(r.values[g.Columns[1]]) == id {
				c.collect(g.Target, rid)
			}
		}
	}
}

// Find implements dialect.Driver.
func (s *session) Find(_ context.Context, model string, filter map[string]any) ([]*nestwrite.Entity, error) {
	m, err := s.model(model)
	if err != nil {
		return nil, err
	}
	s.stats.Queries.Add(1)
	var rs []*row
	for _, r := range s.st.rows[model] {
		if matches(r.values, filter) {
			rs = append(rs, r)
		}
	}
	slices.SortFunc(rs, func(a, b *row) int { return int(a.seq - b.seq) })
	es := make([]*nestwrite.Entity, len(rs))
	for i, r := range rs {
		es[i] = s.entity(m, r)
	}
	return es, nil
}

func matches(values, filter map[string]any) bool {
	for k, v := range filter {
		if !nestwrite.Equal(values[k], v) {
			return false
		}
	}
	return true
}

// FindOne implements dialect.Driver.
func (s *session) FindOne(ctx context.Context, model string, filter map[string]any) (*nestwrite.Entity, error) {
	es, err := s.Find(ctx, model, filter)
	switch {
	case err != nil:
		return nil, err
	case len(es) == 0:
		return nil, nil
	case len(es) > 1:
		return nil, nestwrite.NewAmbiguousMatchError(model, filter, len(es))
	}
	return es[0], nil
}

// Linked implements dialect.Driver.
func (s *session) Linked(_ context.Context, owner *nestwrite.Entity, join *schema.Join) ([]*nestwrite.Entity, error) {
	m, err := s.model(join.Target)
	if err != nil {
		return nil, err
	}
	s.stats.Queries.Add(1)
	var es []*nestwrite.Entity
	id := nestwrite.IDString(owner.ID)
	for _, l := range s.st.links[join.Table] {
		if nestwrite.IDString(l[join.OwnerColumn]) != id {
			continue
		}
		if r, ok := s.st.rows[m.Name][nestwrite.IDString(l[join.TargetColumn])]; ok {
			es = append(es, s.entity(m, r))
		}
	}
	return es, nil
}

// SetLinks implements dialect.Driver.
func (s *session) SetLinks(_ context.Context, owner *nestwrite.Entity, join *schema.Join, targets []*nestwrite.Entity) error {
	id := nestwrite.IDString(owner.ID)
	if _, ok := s.st.rows[join.Owner][id]; !ok {
		return fmt.Errorf("%w: %s", errMissingRef, owner)
	}
	want := make(map[string]*nestwrite.Entity, len(targets))
	var order []string
	for _, t := range targets {
		tid := nestwrite.IDString(t.ID)
		if _, ok := s.st.rows[join.Target][tid]; !ok {
			return fmt.Errorf("%w: %s", errMissingRef, t)
		}
		if _, ok := want[tid]; !ok {
			order = append(order, tid)
		}
		want[tid] = t
	}
	have := make(map[string]bool)
	s.st.links[join.Table] = slices.DeleteFunc(s.st.links[join.Table], func(l map[string]any) bool {
		if nestwrite.IDString(l[join.OwnerColumn]) != id {
			return false
		}
		tid := nestwrite.IDString(l[join.TargetColumn])
		if _, ok := want[tid]; ok {
			have[tid] = true
			return false
		}
		s.stats.Unlinks.Add(1)
		return true
	})
	for _, tid := range order {
		if have[tid] {
			continue
		}
		s.st.links[join.Table] = append(s.st.links[join.Table], map[string]any{
			join.OwnerColumn:  owner.ID,
			join.TargetColumn: want[tid].ID,
		})
		s.stats.Links.Add(1)
	}
	return nil
}

