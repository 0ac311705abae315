package match

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/nestwrite"
	"github.com/syssam/nestwrite/dialect"
	"github.com/syssam/nestwrite/dialect/memory"
	"github.com/syssam/nestwrite/schema"
	"github.com/syssam/nestwrite/schema/edge"
	"github.com/syssam/nestwrite/schema/field"
)

func testDriver(t *testing.T) (*memory.Driver, *schema.Graph) {
	t.Helper()
	g, err := schema.NewGraph(
		&schema.Model{
			Name: "Site",
			Fields: []schema.Field{
				field.String("url"),
				field.String("title").Optional(),
				field.Int("rank").Default(1),
			},
		},
		&schema.Model{
			Name:   "Page",
			Fields: []schema.Field{field.String("slug")},
			Edges:  []schema.Edge{edge.ForeignKey("site", "Site")},
		},
	)
	require.NoError(t, err)
	return memory.New(g), g
}

func model(t *testing.T, g *schema.Graph, name string) *schema.Model {
	t.Helper()
	m, ok := g.Model(name)
	require.True(t, ok)
	return m
}

func TestResolveStrategies(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		strategy nestwrite.Strategy
		url      string
		action   Action
		title    string
		wantErr  func(error) bool
	}{
		{name: "get/found", strategy: nestwrite.Get, url: "a.io", action: Matched, title: "old"},
		{name: "get/missing", strategy: nestwrite.Get, url: "b.io", wantErr: nestwrite.IsNotFound},
		{name: "create/found", strategy: nestwrite.Create, url: "a.io", action: Created, title: "new"},
		{name: "update/found", strategy: nestwrite.Update, url: "a.io", action: Updated, title: "new"},
		{name: "update/missing", strategy: nestwrite.Update, url: "b.io", wantErr: nestwrite.IsNotFound},
		{name: "get_or_create/found", strategy: nestwrite.GetOrCreate, url: "a.io", action: Matched, title: "old"},
		{name: "get_or_create/missing", strategy: nestwrite.GetOrCreate, url: "b.io", action: Created, title: "new"},
		{name: "update_or_create/found", strategy: nestwrite.UpdateOrCreate, url: "a.io", action: Updated, title: "new"},
		{name: "update_or_create/missing", strategy: nestwrite.UpdateOrCreate, url: "b.io", action: Created, title: "new"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			drv, g := testDriver(t)
			old, err := drv.Create(ctx, "Site", map[string]any{"url": "a.io", "title": "old", "rank": int64(1)})
			require.NoError(t, err)

			res, err := NewResolver().Resolve(ctx, drv, Request{
				Model:  model(t, g, "Site"),
				Spec:   nestwrite.MatchSpec{Fields: []string{"url"}, Strategy: tt.strategy},
				Path:   "sites[0]",
				Values: map[string]any{"url": tt.url, "title": "new"},
			})
			if tt.wantErr != nil {
				require.True(t, tt.wantErr(err), "got %v", err)
				var nf *nestwrite.NotFoundError
				require.ErrorAs(t, err, &nf)
				assert.Equal(t, "sites[0]", nf.Path)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.action, res.Action)
			assert.Equal(t, tt.title, res.Entity.Fields["title"])
			if tt.action == Created {
				assert.NotEqual(t, old.ID, res.Entity.ID)
			} else {
				assert.Equal(t, old.ID, res.Entity.ID)
			}
		})
	}
}

func TestResolveByPK(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv, g := testDriver(t)
	site := model(t, g, "Site")
	old, err := drv.Create(ctx, "Site", map[string]any{"url": "a.io"})
	require.NoError(t, err)
	r := NewResolver()

	t.Run("found", func(t *testing.T) {
		res, err := r.Resolve(ctx, drv, Request{Model: site, PK: int64(1), Values: map[string]any{"url": "b.io"}})
		require.NoError(t, err)
		assert.Equal(t, Updated, res.Action)
		assert.Equal(t, old.ID, res.Entity.ID)
	})
	t.Run("unchanged", func(t *testing.T) {
		before := drv.Stats().Snapshot().Writes()
		res, err := r.Resolve(ctx, drv, Request{Model: site, PK: int64(1), Values: map[string]any{"url": "b.io"}})
		require.NoError(t, err)
		assert.Equal(t, Unchanged, res.Action)
		assert.Equal(t, before, drv.Stats().Snapshot().Writes(), "no write is issued")
	})
	t.Run("missing pk creates", func(t *testing.T) {
		res, err := r.Resolve(ctx, drv, Request{Model: site, PK: int64(42), Values: map[string]any{"url": "c.io"}})
		require.NoError(t, err)
		assert.Equal(t, Created, res.Action)
		assert.Equal(t, int64(2), res.Entity.ID, "non-writable keys are not used on create")
	})
	t.Run("no pk", func(t *testing.T) {
		res, err := r.Resolve(ctx, drv, Request{Model: site, Values: map[string]any{"url": "d.io"}})
		require.NoError(t, err)
		assert.Equal(t, Created, res.Action)

		_, err = r.Resolve(ctx, drv, Request{Model: site, Spec: nestwrite.MatchSpec{Strategy: nestwrite.Get}, Values: map[string]any{"url": "d.io"}})
		require.True(t, nestwrite.IsNotFound(err))
	})
	t.Run("adopt", func(t *testing.T) {
		res, err := r.Resolve(ctx, drv, Request{Model: site, Adopt: old, Values: map[string]any{"url": "b.io", "title": "adopted"}})
		require.NoError(t, err)
		assert.Equal(t, Updated, res.Action)
		assert.Equal(t, old.ID, res.Entity.ID)
	})
	t.Run("candidates", func(t *testing.T) {
		before := drv.Stats().Snapshot().Queries
		res, err := r.Resolve(ctx, drv, Request{
			Model:      site,
			PK:         int64(1),
			Candidates: map[string]*nestwrite.Entity{"1": old},
			Values:     map[string]any{"url": "e.io"},
		})
		require.NoError(t, err)
		assert.Equal(t, Updated, res.Action)
		assert.Equal(t, before, drv.Stats().Snapshot().Queries, "prefetched candidates are not looked up")
	})
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv, g := testDriver(t)
	site := model(t, g, "Site")
	res, err := NewResolver().Resolve(ctx, drv, Request{
		Model:    site,
		Values:   map[string]any{"url": "a.io", "rank": int64(5)},
		Defaults: map[string]any{"rank": int64(1), "title": "untitled"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Entity.Fields["rank"], "values win over defaults")
	assert.Equal(t, "untitled", res.Entity.Fields["title"])

	_, err = NewResolver().Resolve(ctx, drv, Request{Model: site, Path: "sites[1]", Values: map[string]any{"title": "x"}})
	var verr *nestwrite.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "url", verr.Name)
	assert.Equal(t, "sites[1]", verr.Path)
}

func TestResolveErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv, g := testDriver(t)
	site := model(t, g, "Site")
	for _, url := range []string{"a.io", "a.io"} {
		_, err := drv.Create(ctx, "Site", map[string]any{"url": url})
		require.NoError(t, err)
	}
	r := NewResolver()

	_, err := r.Resolve(ctx, drv, Request{
		Model:  site,
		Spec:   nestwrite.MatchSpec{Fields: []string{"url"}, Strategy: nestwrite.GetOrCreate},
		Path:   "sites[2]",
		Values: map[string]any{"url": "a.io"},
	})
	require.True(t, nestwrite.IsAmbiguousMatch(err))
	var aerr *nestwrite.AmbiguousMatchError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, 2, aerr.Count)
	assert.Equal(t, "sites[2]", aerr.Path)

	_, err = r.Resolve(ctx, drv, Request{
		Model:  site,
		Spec:   nestwrite.MatchSpec{Fields: []string{"url", "title"}, Strategy: nestwrite.GetOrCreate},
		Values: map[string]any{"url": "a.io"},
	})
	var verr *nestwrite.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Name)
}

func TestResolveRelationMatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv, g := testDriver(t)
	s, err := drv.Create(ctx, "Site", map[string]any{"url": "a.io"})
	require.NoError(t, err)
	p, err := drv.Create(ctx, "Page", map[string]any{"slug": "home", "site_id": s.ID})
	require.NoError(t, err)

	res, err := NewResolver().Resolve(ctx, drv, Request{
		Model:  model(t, g, "Page"),
		Spec:   nestwrite.MatchSpec{Fields: []string{"site", "slug"}, Strategy: nestwrite.GetOrCreate},
		Values: map[string]any{"slug": "home", "site_id": s.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, Matched, res.Action)
	assert.Equal(t, p.ID, res.Entity.ID)
}

func TestResolveChecker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv, g := testDriver(t)
	old, err := drv.Create(ctx, "Site", map[string]any{"url": "a.io"})
	require.NoError(t, err)

	var calls []*nestwrite.Entity
	denied := errors.New("denied")
	r := NewResolver(WithChecker(CheckFunc(func(_ context.Context, _ dialect.Driver, _ *schema.Model, values map[string]any, self *nestwrite.Entity) error {
		calls = append(calls, self)
		if values["url"] == "bad.io" {
			return denied
		}
		return nil
	})))
	site := model(t, g, "Site")
	_, err = r.Resolve(ctx, drv, Request{Model: site, Values: map[string]any{"url": "b.io"}})
	require.NoError(t, err)
	_, err = r.Resolve(ctx, drv, Request{Model: site, PK: old.ID, Values: map[string]any{"url": "bad.io"}})
	require.ErrorIs(t, err, denied)
	_, err = r.Resolve(ctx, drv, Request{Model: site, PK: old.ID, Values: map[string]any{"url": "a.io"}})
	require.NoError(t, err)

	require.Len(t, calls, 2, "unchanged updates are not checked")
	assert.Nil(t, calls[0])
	assert.Equal(t, old.ID, calls[1].ID)
}

func TestChanged(t *testing.T) {
	t.Parallel()
	_, g := testDriver(t)
	e := &nestwrite.Entity{Model: "Site", ID: int64(1), Fields: map[string]any{"id": int64(1), "url": "a.io", "rank": int64(1)}}
	changed := Changed(model(t, g, "Site"), e, map[string]any{
		"id":    int64(2),
		"url":   "a.io",
		"rank":  1.0,
		"title": nil,
	})
	assert.Empty(t, changed)
	changed = Changed(model(t, g, "Site"), e, map[string]any{"rank": int64(2), "title": "x"})
	assert.Equal(t, map[string]any{"rank": int64(2), "title": "x"}, changed)
}
