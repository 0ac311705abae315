package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/nestwrite"
	"github.com/syssam/nestwrite/schema"
	"github.com/syssam/nestwrite/schema/edge"
	"github.com/syssam/nestwrite/schema/field"
)

func testGraph(t *testing.T) *schema.Graph {
	t.Helper()
	g, err := schema.NewGraph(
		&schema.Model{
			Name:   "User",
			Fields: []schema.Field{field.String("username").Unique()},
		},
		&schema.Model{
			Name:   "Profile",
			Fields: []schema.Field{field.String("bio").Optional()},
			Edges: []schema.Edge{
				edge.OneToOne("user", "User").OnDelete(edge.Cascade),
				edge.ManyToMany("sites", "Site"),
				edge.Generic("tags", "Tag"),
			},
		},
		&schema.Model{
			Name:  "Avatar",
			Edges: []schema.Edge{edge.ForeignKey("profile", "Profile").OnDelete(edge.Restrict)},
		},
		&schema.Model{
			Name:  "Note",
			Edges: []schema.Edge{edge.ForeignKey("profile", "Profile").OnDelete(edge.SetNull).Optional()},
		},
		&schema.Model{
			Name: "Site",
			ID:   field.UUID("id"),
		},
		&schema.Model{
			Name:   "Tag",
			Fields: []schema.Field{field.String("content_type"), field.String("object_id"), field.String("name")},
		},
	)
	require.NoError(t, err)
	return g
}

func TestCreate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := New(testGraph(t))

	u1, err := drv.Create(ctx, "User", map[string]any{"username": "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), u1.ID)
	u2, err := drv.Create(ctx, "User", map[string]any{"id": int64(10), "username": "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), u2.ID)
	u3, err := drv.Create(ctx, "User", map[string]any{"username": "c"})
	require.NoError(t, err)
	assert.Equal(t, int64(11), u3.ID, "explicit keys bump the sequence")

	_, err = drv.Create(ctx, "User", map[string]any{"username": "a"})
	require.True(t, nestwrite.IsUniqueConstraint(err))
	var uerr *nestwrite.UniqueConstraintError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "username", uerr.Field)

	_, err = drv.Create(ctx, "User", map[string]any{"id": int64(10), "username": "d"})
	require.True(t, nestwrite.IsUniqueConstraint(err))

	site, err := drv.Create(ctx, "Site", nil)
	require.NoError(t, err)
	assert.IsType(t, "", site.ID)
	assert.Equal(t, 3, drv.Len("User"))
}

func TestCreateForeignKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := New(testGraph(t))

	_, err := drv.Create(ctx, "Profile", map[string]any{"user_id": int64(7)})
	require.ErrorIs(t, err, errMissingRef)

	u, err := drv.Create(ctx, "User", map[string]any{"username": "a"})
	require.NoError(t, err)
	_, err = drv.Create(ctx, "Profile", map[string]any{"user_id": u.ID})
	require.NoError(t, err)
	_, err = drv.Create(ctx, "Profile", map[string]any{"user_id": u.ID})
	require.True(t, nestwrite.IsUniqueConstraint(err), "one-to-one columns are unique")
	assert.Equal(t, 1, drv.Len("Profile"))
}

func TestUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := New(testGraph(t))

	a, err := drv.Create(ctx, "User", map[string]any{"username": "a"})
	require.NoError(t, err)
	_, err = drv.Create(ctx, "User", map[string]any{"username": "b"})
	require.NoError(t, err)

	a, err = drv.Update(ctx, a, map[string]any{"username": "a"})
	require.NoError(t, err, "a row does not collide with itself")
	_, err = drv.Update(ctx, a, map[string]any{"username": "b"})
	require.True(t, nestwrite.IsUniqueConstraint(err))

	a, err = drv.Update(ctx, a, map[string]any{"username": "z"})
	require.NoError(t, err)
	assert.Equal(t, "z", a.Fields["username"])

	_, err = drv.Update(ctx, &nestwrite.Entity{Model: "User", ID: int64(99)}, map[string]any{"username": "x"})
	require.True(t, nestwrite.IsNotFound(err))
}

func TestFind(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := New(testGraph(t))

	for _, name := range []string{"c", "a", "b"} {
		_, err := drv.Create(ctx, "Tag", map[string]any{"content_type": "Profile", "object_id": "1", "name": name})
		require.NoError(t, err)
	}
	tags, err := drv.Find(ctx, "Tag", map[string]any{"object_id": "1"})
	require.NoError(t, err)
	require.Len(t, tags, 3)
	assert.Equal(t, "c", tags[0].Fields["name"], "insertion order")

	tag, err := drv.FindOne(ctx, "Tag", map[string]any{"name": "b"})
	require.NoError(t, err)
	require.NotNil(t, tag)
	assert.Equal(t, int64(3), tag.ID)

	tag, err = drv.FindOne(ctx, "Tag", map[string]any{"name": "x"})
	require.NoError(t, err)
	assert.Nil(t, tag)

	_, err = drv.FindOne(ctx, "Tag", map[string]any{"content_type": "Profile"})
	require.True(t, nestwrite.IsAmbiguousMatch(err))

	byInt, err := drv.FindOne(ctx, "Tag", map[string]any{"id": 1})
	require.NoError(t, err)
	require.NotNil(t, byInt, "integer widths compare by value")

	tags[0].Fields["name"] = "mutated"
	again, err := drv.FindOne(ctx, "Tag", map[string]any{"id": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, "c", again.Fields["name"], "returned entities are copies")
}

func TestDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := New(testGraph(t))

	u, err := drv.Create(ctx, "User", map[string]any{"username": "a"})
	require.NoError(t, err)
	p, err := drv.Create(ctx, "Profile", map[string]any{"user_id": u.ID})
	require.NoError(t, err)
	av, err := drv.Create(ctx, "Avatar", map[string]any{"profile_id": p.ID})
	require.NoError(t, err)
	note, err := drv.Create(ctx, "Note", map[string]any{"profile_id": p.ID})
	require.NoError(t, err)
	_, err = drv.Create(ctx, "Tag", map[string]any{"content_type": "Profile", "object_id": nestwrite.IDString(p.ID), "name": "x"})
	require.NoError(t, err)

	err = drv.Delete(ctx, u)
	require.True(t, nestwrite.IsProtectedDelete(err))
	var perr *nestwrite.ProtectedDeleteError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []string{nestwrite.KeyOf("Avatar", av.ID)}, perr.Protected)
	assert.Equal(t, 1, drv.Len("Profile"), "failed deletes leave the state untouched")

	require.NoError(t, drv.Delete(ctx, av))
	require.NoError(t, drv.Delete(ctx, u))
	assert.Zero(t, drv.Len("User"))
	assert.Zero(t, drv.Len("Profile"), "cascade")
	assert.Zero(t, drv.Len("Tag"), "generic children")
	got, err := drv.FindOne(ctx, "Note", map[string]any{"id": note.ID})
	require.NoError(t, err)
	assert.Nil(t, got.Fields["profile_id"], "set null")

	err = drv.Delete(ctx, u)
	require.True(t, nestwrite.IsNotFound(err))
}

func TestLinks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := testGraph(t)
	drv := New(g)

	u, err := drv.Create(ctx, "User", map[string]any{"username": "a"})
	require.NoError(t, err)
	p, err := drv.Create(ctx, "Profile", map[string]any{"user_id": u.ID})
	require.NoError(t, err)
	s1, err := drv.Create(ctx, "Site", nil)
	require.NoError(t, err)
	s2, err := drv.Create(ctx, "Site", nil)
	require.NoError(t, err)
	rel, err := g.Resolve("Profile", "sites")
	require.NoError(t, err)

	require.NoError(t, drv.SetLinks(ctx, p, rel.Join, []*nestwrite.Entity{s1, s2}))
	linked, err := drv.Linked(ctx, p, rel.Join)
	require.NoError(t, err)
	assert.Len(t, linked, 2)

	drv.Stats().Reset()
	require.NoError(t, drv.SetLinks(ctx, p, rel.Join, []*nestwrite.Entity{s1, s2}))
	assert.Zero(t, drv.Stats().Snapshot().Writes(), "unchanged link sets write nothing")

	require.NoError(t, drv.SetLinks(ctx, p, rel.Join, []*nestwrite.Entity{s2}))
	snap := drv.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Unlinks)
	assert.Zero(t, snap.Links)
	assert.Equal(t, 2, drv.Len("Site"), "unlinked targets are kept")

	err = drv.SetLinks(ctx, p, rel.Join, []*nestwrite.Entity{{Model: "Site", ID: "missing"}})
	require.ErrorIs(t, err, errMissingRef)

	require.NoError(t, drv.Delete(ctx, s2))
	linked, err = drv.Linked(ctx, p, rel.Join)
	require.NoError(t, err)
	assert.Empty(t, linked, "deleting a target removes its links")
}

func TestTx(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := New(testGraph(t))

	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	_, err = tx.Create(ctx, "User", map[string]any{"username": "a"})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.Zero(t, drv.Len("User"))
	require.Error(t, tx.Commit())

	tx, err = drv.Tx(ctx)
	require.NoError(t, err)
	_, err = tx.Create(ctx, "User", map[string]any{"username": "b"})
	require.NoError(t, err)
	nested, err := tx.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, nested.Commit(), "nested transactions are no-ops")
	require.NoError(t, tx.Commit())
	assert.Equal(t, 1, drv.Len("User"))
}

func TestTxBlocks(t *testing.T) {
	t.Parallel()
	drv := New(testGraph(t))

	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = drv.Tx(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, tx.Rollback())

	tx, err = drv.Tx(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
}

func TestClose(t *testing.T) {
	t.Parallel()
	drv := New(testGraph(t))
	require.NoError(t, drv.Close())
	_, err := drv.Create(context.Background(), "User", map[string]any{"username": "a"})
	require.ErrorIs(t, err, ErrClosed)
}
