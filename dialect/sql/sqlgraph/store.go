// Package sqlgraph implements dialect.Driver on top of a SQL backend.
//
// Entities map to rows of their model table. Foreign key and one-to-one
// edges are columns of the owning table, many-to-many edges rows of a
// join table, and generic edges a (model name, id) column pair on the
// child table. The tables are expected to exist; ON DELETE actions are
// the database's.
package sqlgraph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/syssam/nestwrite"
	"github.com/syssam/nestwrite/dialect"
	"github.com/syssam/nestwrite/dialect/sql"
	"github.com/syssam/nestwrite/schema"
	"github.com/syssam/nestwrite/schema/edge"
	"github.com/syssam/nestwrite/schema/field"
)

// Store is a dialect.Driver over a SQL backend.
type Store struct {
	graph   *schema.Graph
	backend sql.Backend
	conn    sql.ExecQuerier
	dialect string
}

// NewStore returns a store writing the models of g through b.
func NewStore(g *schema.Graph, b sql.Backend) *Store {
	return &Store{graph: g, backend: b, conn: b, dialect: b.Dialect()}
}

// Tx starts a transaction. Stores already bound to a transaction return
// themselves with no-op Commit and Rollback.
func (s *Store) Tx(ctx context.Context) (dialect.Tx, error) {
	if s.backend == nil {
		return dialect.NopTx(s), nil
	}
	tx, err := s.backend.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{Store: &Store{graph: s.graph, conn: tx, dialect: s.dialect}, tx: tx}, nil
}

// Dialect returns the dialect of the backend.
func (s *Store) Dialect() string { return s.dialect }

// Close closes the backend. It is a no-op on transactions.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// Tx is a Store bound to a database transaction.
type Tx struct {
	*Store
	tx sql.Tx
}

// Commit commits the transaction.
func (tx *Tx) Commit() error { return tx.tx.Commit() }

// Rollback rolls back the transaction.
func (tx *Tx) Rollback() error { return tx.tx.Rollback() }

var (
	_ dialect.Driver = (*Store)(nil)
	_ dialect.Tx     = (*Tx)(nil)
)

func (s *Store) model(name string) (*schema.Model, error) {
	m, ok := s.graph.Model(name)
	if !ok {
		return nil, fmt.Errorf("sqlgraph: unknown model %q", name)
	}
	return m, nil
}

// column is a stored column of a model table.
type column struct {
	name string
	desc *field.Descriptor // Field, or primary key of the edge target.
}

// columns returns the primary key, field and foreign key columns of m.
func (s *Store) columns(m *schema.Model) []column {
	cs := []column{{name: m.PK().Column(), desc: m.PK()}}
	for _, fd := range m.FieldList() {
		cs = append(cs, column{name: fd.Column(), desc: fd})
	}
	for _, e := range m.EdgeList() {
		if e.Kind != edge.KindForeignKey && e.Kind != edge.KindOneToOne {
			continue
		}
		if t, ok := s.graph.Model(e.Target); ok {
			cs = append(cs, column{name: e.Column, desc: t.PK()})
		}
	}
	return cs
}

func columnNames(cs []column) []string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.name
	}
	return names
}

// encode returns the sorted columns and argument values of a write.
func (s *Store) encode(m *schema.Model, values map[string]any) ([]string, []any, error) {
	isJSON := make(map[string]bool)
	for _, fd := range m.FieldList() {
		if fd.Type == field.TypeJSON {
			isJSON[fd.Column()] = true
		}
	}
	cols := slices.Sorted(maps.Keys(values))
	args := make([]any, len(cols))
	for i, c := range cols {
		v := values[c]
		if isJSON[c] && v != nil {
			b, err := encodeJSON(v)
			if err != nil {
				return nil, nil, fmt.Errorf("sqlgraph: encoding %s.%s: %w", m.Name, c, err)
			}
			v = b
		}
		args[i] = v
	}
	return cols, args, nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

// scan reads the rows of a model table selected with the given columns.
func (s *Store) scan(m *schema.Model, cs []column, rows *sql.Rows) (es []*nestwrite.Entity, err error) {
	defer func() { err = errors.Join(err, rows.Close()) }()
	for rows.Next() {
		dest := make([]any, len(cs))
		ptrs := make([]any, len(cs))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sqlgraph: scanning %s: %w", m.Name, err)
		}
		fields := make(map[string]any, len(cs))
		for i, c := range cs {
			v, err := decode(c.desc, dest[i])
			if err != nil {
				return nil, fmt.Errorf("sqlgraph: decoding %s.%s: %w", m.Name, c.name, err)
			}
			fields[c.name] = v
		}
		es = append(es, &nestwrite.Entity{Model: m.Name, ID: fields[m.PK().Column()], Fields: fields})
	}
	return es, rows.Err()
}

func decode(fd *field.Descriptor, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if fd.Type == field.TypeJSON {
		var b []byte
		switch raw := v.(type) {
		case []byte:
			b = raw
		case string:
			b = []byte(raw)
		default:
			return v, nil
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	return fd.Coerce(v)
}

// Create implements dialect.Driver.
func (s *Store) Create(ctx context.Context, model string, values map[string]any) (*nestwrite.Entity, error) {
	m, err := s.model(model)
	if err != nil {
		return nil, err
	}
	pk := m.PK()
	vs := maps.Clone(values)
	if vs == nil {
		vs = make(map[string]any)
	}
	if vs[pk.Column()] == nil {
		delete(vs, pk.Column())
		if pk.Type == field.TypeUUID || pk.Type == field.TypeString {
			vs[pk.Column()] = uuid.NewString()
		}
	}
	cols, args, err := s.encode(m, vs)
	if err != nil {
		return nil, err
	}
	var returning string
	if _, ok := vs[pk.Column()]; !ok {
		returning = pk.Column()
	}
	query, args := sql.Insert(s.dialect, m.TableName(), cols, args, returning)
	switch {
	case returning == "":
		if _, err := s.conn.Exec(ctx, query, args...); err != nil {
			return nil, constraintError(m, vs, err)
		}
	case s.dialect == dialect.Postgres:
		id, err := s.returning(ctx, query, args)
		if err != nil {
			return nil, constraintError(m, vs, err)
		}
		vs[pk.Column()] = id
	default:
		res, err := s.conn.Exec(ctx, query, args...)
		if err != nil {
			return nil, constraintError(m, vs, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("sqlgraph: reading %s id: %w", m.Name, err)
		}
		vs[pk.Column()] = id
	}
	if id, err := pk.Coerce(vs[pk.Column()]); err == nil {
		vs[pk.Column()] = id
	}
	return &nestwrite.Entity{Model: m.Name, ID: vs[pk.Column()], Fields: vs}, nil
}

func (s *Store) returning(ctx context.Context, query string, args []any) (id any, err error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.Join(err, rows.Close()) }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("sqlgraph: insert returned no rows")
	}
	if err := rows.Scan(&id); err != nil {
		return nil, err
	}
	return id, rows.Err()
}

// Update implements dialect.Driver.
func (s *Store) Update(ctx context.Context, e *nestwrite.Entity, values map[string]any) (*nestwrite.Entity, error) {
	m, err := s.model(e.Model)
	if err != nil {
		return nil, err
	}
	pk := m.PK().Column()
	vs := maps.Clone(values)
	delete(vs, pk)
	if len(vs) > 0 {
		cols, args, err := s.encode(m, vs)
		if err != nil {
			return nil, err
		}
		query, args := sql.Update(s.dialect, m.TableName(), cols, args, []string{pk}, []any{e.ID})
		res, err := s.conn.Exec(ctx, query, args...)
		if err != nil {
			return nil, constraintError(m, vs, err)
		}
		// MySQL reports matched but unchanged rows as unaffected.
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			return s.merge(e, vs), nil
		}
	}
	found, err := s.FindOne(ctx, m.Name, map[string]any{pk: e.ID})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, nestwrite.NewNotFoundError(m.Name, map[string]any{pk: e.ID})
	}
	return found, nil
}

func (s *Store) merge(e *nestwrite.Entity, values map[string]any) *nestwrite.Entity {
	u := e.Clone()
	if u.Fields == nil {
		u.Fields = make(map[string]any, len(values))
	}
	maps.Copy(u.Fields, values)
	return u
}

// Delete implements dialect.Driver. Generic children and join table rows
// of the entity are deleted with it; foreign key violations raised by the
// database become ProtectedDeleteErrors.
func (s *Store) Delete(ctx context.Context, e *nestwrite.Entity) error {
	m, err := s.model(e.Model)
	if err != nil {
		return err
	}
	for _, g := range s.graph.Generics(m.Name) {
		t, err := s.model(g.Target)
		if err != nil {
			return err
		}
		children, err := s.Find(ctx, t.Name, map[string]any{g.Columns[0]: m.Name, g.Columns[1]: t.GenericID(g.Columns[1], e.ID)})
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := s.Delete(ctx, c); err != nil {
				return err
			}
		}
	}
	for _, j := range s.graph.Joins(m.Name) {
		query, args := sql.Delete(s.dialect, j.Table, []string{j.OwnerColumn}, []any{e.ID})
		if _, err := s.conn.Exec(ctx, query, args...); err != nil {
			return err
		}
	}
	pk := m.PK().Column()
	query, args := sql.Delete(s.dialect, m.TableName(), []string{pk}, []any{e.ID})
	res, err := s.conn.Exec(ctx, query, args...)
	if err != nil {
		if IsForeignKeyConstraintError(err) {
			return &nestwrite.ProtectedDeleteError{Model: m.Name, ID: e.ID, Err: err}
		}
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nestwrite.NewNotFoundError(m.Name, map[string]any{pk: e.ID})
	}
	return nil
}

// Find implements dialect.Driver.
func (s *Store) Find(ctx context.Context, model string, filter map[string]any) ([]*nestwrite.Entity, error) {
	return s.find(ctx, model, filter, 0)
}

// FindOne implements dialect.Driver.
func (s *Store) FindOne(ctx context.Context, model string, filter map[string]any) (*nestwrite.Entity, error) {
	es, err := s.find(ctx, model, filter, 2)
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

func (s *Store) find(ctx context.Context, model string, filter map[string]any, limit int) ([]*nestwrite.Entity, error) {
	m, err := s.model(model)
	if err != nil {
		return nil, err
	}
	cs := s.columns(m)
	where, args, err := s.encode(m, filter)
	if err != nil {
		return nil, err
	}
	query, args := sql.Select(s.dialect, m.TableName(), columnNames(cs), where, args, m.PK().Column(), limit)
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return s.scan(m, cs, rows)
}

// Linked implements dialect.Driver.
func (s *Store) Linked(ctx context.Context, owner *nestwrite.Entity, join *schema.Join) ([]*nestwrite.Entity, error) {
	m, err := s.model(join.Target)
	if err != nil {
		return nil, err
	}
	cs := s.columns(m)
	b := sql.Dialect(s.dialect)
	b.WriteString("SELECT ")
	for i, c := range cs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident("t." + c.name)
	}
	pk := m.PK().Column()
	b.WriteString(" FROM ").Ident(m.TableName()).WriteString(" AS ").Ident("t").
		WriteString(" JOIN ").Ident(join.Table).WriteString(" AS ").Ident("j").
		WriteString(" ON ").Ident("j." + join.TargetColumn).WriteString(" = ").Ident("t." + pk).
		WriteString(" WHERE ").Ident("j." + join.OwnerColumn).WriteString(" = ").Arg(owner.ID).
		WriteString(" ORDER BY ").Ident("t." + pk)
	query, args := b.Query()
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return s.scan(m, cs, rows)
}

// SetLinks implements dialect.Driver. Only the difference between the
// stored and the wanted link set is written.
func (s *Store) SetLinks(ctx context.Context, owner *nestwrite.Entity, join *schema.Join, targets []*nestwrite.Entity) error {
	have, err := s.Linked(ctx, owner, join)
	if err != nil {
		return err
	}
	want := make(map[string]bool, len(targets))
	var add []any
	for _, t := range targets {
		key := nestwrite.IDString(t.ID)
		if !want[key] {
			want[key] = true
			add = append(add, t.ID)
		}
	}
	var remove []any
	for _, h := range have {
		key := nestwrite.IDString(h.ID)
		if want[key] {
			add = slices.DeleteFunc(add, func(id any) bool { return nestwrite.IDString(id) == key })
			continue
		}
		remove = append(remove, h.ID)
	}
	if len(remove) > 0 {
		b := sql.Dialect(s.dialect)
		b.WriteString("DELETE FROM ").Ident(join.Table).WriteString(" WHERE ").
			Ident(join.OwnerColumn).WriteString(" = ").Arg(owner.ID).WriteString(" AND ").
			In(join.TargetColumn, remove...)
		query, args := b.Query()
		if _, err := s.conn.Exec(ctx, query, args...); err != nil {
			return err
		}
	}
	for _, id := range add {
		query, args := sql.Insert(s.dialect, join.Table, []string{join.OwnerColumn, join.TargetColumn}, []any{owner.ID, id}, "")
		if _, err := s.conn.Exec(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}
