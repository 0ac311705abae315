package graphsync

import (
	"context"

	"github.com/syssam/nestwrite"
	"github.com/syssam/nestwrite/contrib/dataloader"
	"github.com/syssam/nestwrite/dialect"
	"github.com/syssam/nestwrite/payload"
	"github.com/syssam/nestwrite/relation"
	"github.com/syssam/nestwrite/schema"
)

// Represent renders a stored entity as a payload tree of node schema n:
// the primary key, the scalar fields of the schema and its nested
// relations. A representation synced back with the same schema writes
// nothing.
func (s *Synchronizer) Represent(ctx context.Context, drv dialect.Driver, n *schema.Node, e *nestwrite.Entity) (payload.Node, error) {
	if e == nil {
		return nil, nil
	}
	r := &renderer{s: s, drv: drv, loaders: make(map[string]*dataloader.Loader[any, *nestwrite.Entity])}
	return r.render(ctx, n, e)
}

type renderer struct {
	s   *Synchronizer
	drv dialect.Driver
	// loaders memoize entities reached through direct relations, by model.
	loaders map[string]*dataloader.Loader[any, *nestwrite.Entity]
}

func (r *renderer) loader(m *schema.Model) *dataloader.Loader[any, *nestwrite.Entity] {
	l, ok := r.loaders[m.Name]
	if !ok {
		pk := m.PK().Column()
		l = dataloader.NewLoader(func(ctx context.Context, id any) (*nestwrite.Entity, error) {
			return r.drv.FindOne(ctx, m.Name, map[string]any{pk: id})
		})
		r.loaders[m.Name] = l
	}
	return l
}

func (r *renderer) render(ctx context.Context, n *schema.Node, e *nestwrite.Entity) (payload.Node, error) {
	tbl, err := r.s.catalog.Classify(n)
	if err != nil {
		return nil, err
	}
	m := tbl.Model
	r.loader(m).Prime(e.ID, e)
	out := payload.Node{m.PK().Name: e.ID}
	for _, name := range n.Fields {
		fd, ok := m.FieldByName(name)
		if !ok {
			return nil, nestwrite.NewUnknownFieldError(m.Name, name)
		}
		// Unset optional fields are left out rather than rendered null.
		if v, _ := e.Value(fd.Column()); v != nil || fd.Nillable {
			out[fd.Name] = v
		}
	}
	for _, d := range tbl.Fields {
		var (
			v   any
			err error
		)
		switch d.Kind {
		case relation.DirectOneToOne, relation.DirectForeignKey:
			v, err = r.direct(ctx, d, e)
		case relation.ReverseOneToOne:
			v, err = r.reverseOne(ctx, d, e)
		default:
			v, err = r.many(ctx, d, e)
		}
		if err != nil {
			return nil, err
		}
		out[d.Name] = v
	}
	return out, nil
}

func (r *renderer) direct(ctx context.Context, d *relation.Descriptor, e *nestwrite.Entity) (any, error) {
	id, _ := e.Value(d.Column)
	if id == nil {
		return nil, nil
	}
	related, err := r.loader(d.Target).Load(ctx, id)
	if err != nil || related == nil {
		return nil, err
	}
	return r.render(ctx, d.Node, related)
}

func (r *renderer) reverseOne(ctx context.Context, d *relation.Descriptor, e *nestwrite.Entity) (any, error) {
	related, err := r.drv.FindOne(ctx, d.Target.Name, backLink(d, e))
	if err != nil || related == nil {
		return nil, err
	}
	return r.render(ctx, d.Node, related)
}

func (r *renderer) many(ctx context.Context, d *relation.Descriptor, e *nestwrite.Entity) (any, error) {
	var (
		related []*nestwrite.Entity
		err     error
	)
	if d.Kind == relation.ManyToMany {
		related, err = r.drv.Linked(ctx, e, d.Join)
	} else {
		related, err = r.drv.Find(ctx, d.Target.Name, backLink(d, e))
	}
	if err != nil {
		return nil, err
	}
	out := make([]payload.Node, 0, len(related))
	for _, re := range related {
		node, err := r.render(ctx, d.Node, re)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}
