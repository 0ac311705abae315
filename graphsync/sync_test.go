package graphsync_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/nestwrite"
	"github.com/syssam/nestwrite/dialect"
	"github.com/syssam/nestwrite/dialect/memory"
	"github.com/syssam/nestwrite/graphsync"
	"github.com/syssam/nestwrite/payload"
	"github.com/syssam/nestwrite/prune"
	"github.com/syssam/nestwrite/relation"
	"github.com/syssam/nestwrite/schema"
	"github.com/syssam/nestwrite/schema/edge"
	"github.com/syssam/nestwrite/schema/field"
	"github.com/syssam/nestwrite/unique"
)

func testGraph(t *testing.T) *schema.Graph {
	t.Helper()
	g, err := schema.NewGraph(
		&schema.Model{
			Name:   "User",
			Fields: []schema.Field{field.String("username").Unique()},
			Edges:  []schema.Edge{edge.Reverse("profile", "Profile")},
		},
		&schema.Model{
			Name:   "Profile",
			Fields: []schema.Field{field.String("bio").Optional()},
			Edges: []schema.Edge{
				edge.OneToOne("user", "User").OnDelete(edge.Cascade),
				edge.ForeignKey("country", "Country").Optional(),
				edge.ManyToMany("sites", "Site"),
				edge.Generic("tags", "Tag"),
			},
		},
		&schema.Model{
			Name:   "Avatar",
			Fields: []schema.Field{field.String("image"), field.String("source").Default("upload")},
			Edges:  []schema.Edge{edge.ForeignKey("profile", "Profile").OnDelete(edge.Cascade)},
		},
		&schema.Model{
			Name:   "Badge",
			Fields: []schema.Field{field.String("label")},
			Edges:  []schema.Edge{edge.ForeignKey("avatar", "Avatar").OnDelete(edge.Restrict)},
		},
		&schema.Model{
			Name:   "Note",
			Fields: []schema.Field{field.String("text")},
			Edges:  []schema.Edge{edge.ForeignKey("profile", "Profile").OnDelete(edge.SetNull).Optional()},
		},
		&schema.Model{
			Name:   "Country",
			Fields: []schema.Field{field.String("code").Unique(), field.String("name").Optional()},
		},
		&schema.Model{
			Name: "Site",
			Fields: []schema.Field{
				field.String("url").Unique().UniqueMessage("site with this url already exists"),
				field.String("title").Optional(),
			},
		},
		&schema.Model{
			Name:   "Tag",
			Fields: []schema.Field{field.String("content_type"), field.String("object_id"), field.String("name")},
		},
	)
	require.NoError(t, err)
	return g
}

var (
	userNode    = &schema.Node{Model: "User", Fields: []string{"username"}}
	badgeNode   = &schema.Node{Model: "Badge", Fields: []string{"label"}}
	siteNode    = &schema.Node{Model: "Site", Fields: []string{"url", "title"}}
	tagNode     = &schema.Node{Model: "Tag", Fields: []string{"name"}}
	noteNode    = &schema.Node{Model: "Note", Fields: []string{"text"}}
	countryNode = &schema.Node{
		Model:  "Country",
		Fields: []string{"code", "name"},
		Match:  &nestwrite.MatchSpec{Fields: []string{"code"}, Strategy: nestwrite.GetOrCreate},
	}
	avatarNode = &schema.Node{
		Model:  "Avatar",
		Fields: []string{"image", "source"},
		Nested: []*schema.Nested{
			schema.Many("badges", badgeNode).MatchOn(nestwrite.UpdateOrCreate, "label", "avatar"),
		},
	}
	profileNode = &schema.Node{
		Name:   "ProfileNode",
		Model:  "Profile",
		Fields: []string{"bio"},
		Nested: []*schema.Nested{
			schema.One("user", userNode).MatchOn(nestwrite.UpdateOrCreate, "username"),
			schema.One("country", countryNode),
			schema.Many("avatars", avatarNode).MatchOn(nestwrite.UpdateOrCreate, "image", "profile"),
			schema.Many("sites", siteNode).MatchOn(nestwrite.UpdateOrCreate, "url"),
			schema.Many("tags", tagNode),
			schema.Many("notes", noteNode),
		},
	}
	// accountNode writes a user and the profile pointing back at it.
	accountNode = &schema.Node{
		Model:  "User",
		Fields: []string{"username"},
		Nested: []*schema.Nested{
			schema.One("profile", &schema.Node{Model: "Profile", Fields: []string{"bio"}}),
		},
	}
)

// tagMatch matches tags by name within their owner.
var tagMatch = graphsync.WithDefaultMatch("Tag", nestwrite.MatchSpec{
	Fields:   []string{"name", "content_type", "object_id"},
	Strategy: nestwrite.UpdateOrCreate,
})

func newSync(t *testing.T, opts ...graphsync.Option) (*graphsync.Synchronizer, *memory.Driver) {
	t.Helper()
	g := testGraph(t)
	s, err := graphsync.New(g, opts...)
	require.NoError(t, err)
	return s, memory.New(g)
}

func fullPayload() payload.Node {
	return payload.Node{
		"bio":     "gopher",
		"user":    payload.Node{"username": "a8m"},
		"country": payload.Node{"code": "FR", "name": "France"},
		"avatars": []payload.Node{
			{"image": "a.png", "badges": []payload.Node{{"label": "early"}}},
			{"image": "b.png", "source": "import"},
		},
		"sites": []payload.Node{{"url": "a.io"}, {"url": "b.io", "title": "B"}},
		"tags":  []payload.Node{{"name": "go"}, {"name": "db"}},
	}
}

func find(t *testing.T, drv dialect.Driver, model string, filter map[string]any) []*nestwrite.Entity {
	t.Helper()
	es, err := drv.Find(context.Background(), model, filter)
	require.NoError(t, err)
	return es
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, drv := newSync(t, tagMatch)

	profile, err := s.Sync(ctx, drv, profileNode, fullPayload())
	require.NoError(t, err)
	out, err := s.Represent(ctx, drv, profileNode, profile)
	require.NoError(t, err)

	assert.Equal(t, profile.ID, out["id"])
	assert.Equal(t, "gopher", out["bio"])
	user, ok, err := out.One("user")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a8m", user["username"])
	country, _, err := out.One("country")
	require.NoError(t, err)
	assert.Equal(t, "France", country["name"])

	avatars, _, err := out.Many("avatars")
	require.NoError(t, err)
	require.Len(t, avatars, 2)
	assert.Equal(t, "a.png", avatars[0]["image"])
	assert.Equal(t, "upload", avatars[0]["source"], "defaults apply on create")
	assert.Equal(t, "import", avatars[1]["source"])
	badges, _, err := avatars[0].Many("badges")
	require.NoError(t, err)
	require.Len(t, badges, 1)
	assert.Equal(t, "early", badges[0]["label"])

	sites, _, err := out.Many("sites")
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, "B", sites[1]["title"])
	assert.NotContains(t, sites[0], "title", "unset optional fields are omitted")
	tags, _, err := out.Many("tags")
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, []any{"go", "db"}, []any{tags[0]["name"], tags[1]["name"]})
	notes, _, err := out.Many("notes")
	require.NoError(t, err)
	assert.Empty(t, notes)

	var report graphsync.Report
	again, err := s.Sync(ctx, drv, profileNode, out, graphsync.WithReport(&report))
	require.NoError(t, err)
	assert.Equal(t, profile.Key(), again.Key())
	assert.Zero(t, report.Writes(), "syncing a representation back writes nothing")
}

func TestIdempotence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, drv := newSync(t, tagMatch)

	var first graphsync.Report
	profile, err := s.Sync(ctx, drv, profileNode, fullPayload(), graphsync.WithReport(&first))
	require.NoError(t, err)
	assert.Equal(t, 10, first.Created)
	assert.Equal(t, 2, first.Linked)
	assert.NotEmpty(t, first.Call)

	before := drv.Stats().Snapshot()
	var second graphsync.Report
	again, err := s.Sync(ctx, drv, profileNode, fullPayload().Merge(map[string]any{"id": profile.ID}), graphsync.WithReport(&second))
	require.NoError(t, err)
	assert.Equal(t, profile.Key(), again.Key())
	assert.Zero(t, second.Created)
	assert.Zero(t, second.Writes())
	assert.Equal(t, 1, second.Matched, "the country is matched")
	assert.Equal(t, 9, second.Unchanged)
	assert.NotEqual(t, first.Call, second.Call)
	assert.Equal(t, before.Writes(), drv.Stats().Snapshot().Writes())
	for model, n := range map[string]int{"Profile": 1, "User": 1, "Avatar": 2, "Badge": 1, "Site": 2, "Tag": 2, "Country": 1} {
		assert.Equal(t, n, drv.Len(model), model)
	}
}

func TestOrphanPruning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("delete", func(t *testing.T) {
		t.Parallel()
		s, drv := newSync(t, tagMatch)
		profile, err := s.Sync(ctx, drv, profileNode, payload.Node{
			"avatars": []payload.Node{{"image": "a.png"}, {"image": "b.png"}},
			"tags":    []payload.Node{{"name": "go"}},
			"notes":   []payload.Node{{"text": "n1"}},
		})
		require.NoError(t, err)

		var report graphsync.Report
		_, err = s.Sync(ctx, drv, profileNode, payload.Node{
			"id":      profile.ID,
			"avatars": []payload.Node{{"image": "a.png"}},
			"tags":    []payload.Node{},
			"notes":   []payload.Node{{"text": "n2"}},
		}, graphsync.WithReport(&report))
		require.NoError(t, err)
		assert.Equal(t, 3, report.Deleted)
		avatars := find(t, drv, "Avatar", nil)
		require.Len(t, avatars, 1)
		assert.Equal(t, "a.png", avatars[0].Fields["image"])
		assert.Zero(t, drv.Len("Tag"))
		notes := find(t, drv, "Note", nil)
		require.Len(t, notes, 1)
		assert.Equal(t, "n2", notes[0].Fields["text"])
	})

	t.Run("absent relations are not pruned", func(t *testing.T) {
		t.Parallel()
		s, drv := newSync(t)
		profile, err := s.Sync(ctx, drv, profileNode, payload.Node{
			"avatars": []payload.Node{{"image": "a.png"}},
		})
		require.NoError(t, err)
		_, err = s.Sync(ctx, drv, profileNode, payload.Node{"id": profile.ID, "bio": "changed"})
		require.NoError(t, err)
		assert.Equal(t, 1, drv.Len("Avatar"))
	})

	t.Run("reverse field order after writes", func(t *testing.T) {
		t.Parallel()
		var order []string
		record := prune.RuleFunc(func(_ context.Context, o *prune.Orphan) error {
			order = append(order, o.Path+":"+o.Entity.Model)
			return prune.Skip
		})
		s, drv := newSync(t, graphsync.WithPrunePolicy(record))
		profile, err := s.Sync(ctx, drv, profileNode, payload.Node{
			"avatars": []payload.Node{{"image": "a.png"}},
			"notes":   []payload.Node{{"text": "n1"}},
		})
		require.NoError(t, err)
		writes := 0
		hooks := graphsync.Hooks{AfterSave: []graphsync.Hook{func(context.Context, dialect.Tx, *graphsync.Event) error {
			assert.Empty(t, order, "children are written before any orphan is pruned")
			writes++
			return nil
		}}}
		s2, err := graphsync.New(testGraph(t), graphsync.WithPrunePolicy(record), graphsync.WithHooks(hooks))
		require.NoError(t, err)
		_, err = s2.Sync(ctx, drv, profileNode, payload.Node{
			"id":      profile.ID,
			"avatars": []payload.Node{{"image": "b.png"}},
			"notes":   []payload.Node{{"text": "n2"}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"notes:Note", "avatars:Avatar"}, order)
		assert.Equal(t, 3, writes)
	})

	t.Run("detach nullable", func(t *testing.T) {
		t.Parallel()
		s, drv := newSync(t, graphsync.WithPrunePolicy(prune.DetachNullable()))
		profile, err := s.Sync(ctx, drv, profileNode, payload.Node{
			"notes": []payload.Node{{"text": "n1"}},
		})
		require.NoError(t, err)
		var report graphsync.Report
		_, err = s.Sync(ctx, drv, profileNode, payload.Node{"id": profile.ID, "notes": []payload.Node{}}, graphsync.WithReport(&report))
		require.NoError(t, err)
		assert.Equal(t, 1, report.Detached)
		notes := find(t, drv, "Note", nil)
		require.Len(t, notes, 1)
		assert.Nil(t, notes[0].Fields["profile_id"])
	})

	t.Run("protected delete aborts", func(t *testing.T) {
		t.Parallel()
		s, drv := newSync(t)
		profile, err := s.Sync(ctx, drv, profileNode, payload.Node{
			"bio": "before",
			"avatars": []payload.Node{
				{"image": "a.png"},
				{"image": "b.png", "badges": []payload.Node{{"label": "early"}}},
			},
		})
		require.NoError(t, err)
		_, err = s.Sync(ctx, drv, profileNode, payload.Node{
			"id":      profile.ID,
			"bio":     "after",
			"avatars": []payload.Node{{"image": "a.png"}},
		})
		require.True(t, nestwrite.IsProtectedDelete(err))
		var perr *nestwrite.ProtectedDeleteError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "avatars", perr.Path)
		assert.Equal(t, []string{"Badge:1"}, perr.Protected)
		assert.Equal(t, 2, drv.Len("Avatar"))
		stored := find(t, drv, "Profile", nil)
		require.Len(t, stored, 1)
		assert.Equal(t, "before", stored[0].Fields["bio"], "the whole sync is rolled back")
	})
}

func TestManyToManyUnlink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, drv := newSync(t)
	profile, err := s.Sync(ctx, drv, profileNode, payload.Node{
		"sites": []payload.Node{{"url": "a.io"}, {"url": "b.io"}},
	})
	require.NoError(t, err)

	var report graphsync.Report
	_, err = s.Sync(ctx, drv, profileNode, payload.Node{
		"id":    profile.ID,
		"sites": []payload.Node{{"url": "b.io"}, {"url": "c.io"}},
	}, graphsync.WithReport(&report))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unlinked)
	assert.Equal(t, 1, report.Linked)
	assert.Zero(t, report.Deleted)
	assert.Equal(t, 3, drv.Len("Site"), "unlinked targets are not deleted")

	tbl, err := relation.Classify(testGraph(t), profileNode)
	require.NoError(t, err)
	sites, ok := tbl.Field("sites")
	require.True(t, ok)
	linked, err := drv.Linked(ctx, profile, sites.Join)
	require.NoError(t, err)
	urls := make([]any, len(linked))
	for i, e := range linked {
		urls[i] = e.Fields["url"]
	}
	assert.ElementsMatch(t, []any{"b.io", "c.io"}, urls)

	t.Run("keep", func(t *testing.T) {
		keep, err := graphsync.New(testGraph(t), graphsync.WithPrunePolicy(prune.OnRelation(prune.AlwaysKeep(), "sites")))
		require.NoError(t, err)
		var report graphsync.Report
		_, err = keep.Sync(ctx, drv, profileNode, payload.Node{"id": profile.ID, "sites": []payload.Node{}}, graphsync.WithReport(&report))
		require.NoError(t, err)
		assert.Equal(t, 2, report.Kept)
		assert.Zero(t, report.Unlinked)
		linked, err := drv.Linked(ctx, profile, sites.Join)
		require.NoError(t, err)
		assert.Len(t, linked, 2)
	})
}

func TestGetOrCreateDedup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, drv := newSync(t)

	first, err := s.Sync(ctx, drv, profileNode, payload.Node{
		"country": payload.Node{"code": "FR", "name": "France"},
	})
	require.NoError(t, err)
	var report graphsync.Report
	second, err := s.Sync(ctx, drv, profileNode, payload.Node{
		"country": payload.Node{"code": "FR", "name": "République française"},
	}, graphsync.WithReport(&report))
	require.NoError(t, err)
	assert.NotEqual(t, first.Key(), second.Key())
	assert.Equal(t, 1, report.Matched)
	assert.Equal(t, 1, report.Created, "only the profile is created")

	countries := find(t, drv, "Country", nil)
	require.Len(t, countries, 1)
	assert.Equal(t, "France", countries[0].Fields["name"], "matched entities are left untouched")
	assert.Equal(t, countries[0].ID, first.Fields["country_id"])
	assert.Equal(t, countries[0].ID, second.Fields["country_id"])
}

func TestDeferredUniqueness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, drv := newSync(t)
	profile, err := s.Sync(ctx, drv, profileNode, payload.Node{
		"sites": []payload.Node{{"url": "a.io"}},
	})
	require.NoError(t, err)
	update := payload.Node{"id": profile.ID, "sites": []payload.Node{{"url": "a.io", "title": "A"}}}

	t.Run("deferred", func(t *testing.T) {
		_, err := s.Sync(ctx, drv, profileNode, update.Clone())
		require.NoError(t, err)
		sites := find(t, drv, "Site", nil)
		require.Len(t, sites, 1)
		assert.Equal(t, "A", sites[0].Fields["title"])
	})

	t.Run("eager", func(t *testing.T) {
		eager, err := graphsync.New(testGraph(t), graphsync.WithUniquePolicy(unique.Eager))
		require.NoError(t, err)
		_, err = eager.Sync(ctx, drv, profileNode, update.Clone())
		var uerr *nestwrite.UniqueConstraintError
		require.ErrorAs(t, err, &uerr)
		assert.Equal(t, "sites[0]", uerr.Path)
		assert.Equal(t, "url", uerr.Field)
	})

	t.Run("conflict", func(t *testing.T) {
		createNode := &schema.Node{
			Model:  "Profile",
			Fields: []string{"bio"},
			Nested: []*schema.Nested{schema.Many("sites", siteNode).MatchOn(nestwrite.Create)},
		}
		_, err := s.Sync(ctx, drv, createNode, payload.Node{
			"bio":   "copy",
			"sites": []payload.Node{{"url": "b.io"}, {"url": "a.io"}},
		})
		require.True(t, nestwrite.IsUniqueConstraint(err))
		var uerr *nestwrite.UniqueConstraintError
		require.ErrorAs(t, err, &uerr)
		assert.Equal(t, "sites[1]", uerr.Path)
		assert.Equal(t, "site with this url already exists", uerr.Message)
		assert.Equal(t, 1, drv.Len("Profile"))
		assert.Equal(t, 1, drv.Len("Site"))
	})
}

func TestPassThroughPriority(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, drv := newSync(t)
	other, err := s.Sync(ctx, drv, profileNode, payload.Node{"bio": "other"})
	require.NoError(t, err)
	owner, err := s.Sync(ctx, drv, userNode, payload.Node{"username": "owner"})
	require.NoError(t, err)

	profile, err := s.Sync(ctx, drv, profileNode, payload.Node{
		"bio":  "payload",
		"user": payload.Node{"username": "ignored"},
		"avatars": []payload.Node{
			{"image": "a.png", "source": "payload"},
			{"image": "b.png"},
		},
	}, graphsync.WithOverrides(map[string]map[string]any{
		"":        {"bio": "override", "user": owner},
		"avatars": {"source": "import", "profile": other.ID},
	}))
	require.NoError(t, err)
	assert.Equal(t, "override", profile.Fields["bio"], "overrides win over the payload")
	assert.Equal(t, owner.ID, profile.Fields["user_id"])
	assert.Equal(t, 1, drv.Len("User"), "an overridden relation skips its payload")

	avatars := find(t, drv, "Avatar", map[string]any{"profile_id": profile.ID})
	require.Len(t, avatars, 2, "the parent identity wins over overrides")
	for _, a := range avatars {
		assert.Equal(t, "import", a.Fields["source"], "overrides win over defaults")
	}

	_, err = s.Sync(ctx, drv, profileNode, payload.Node{
		"id":      profile.ID,
		"avatars": []payload.Node{{"image": "a.png"}, {"image": "b.png"}},
	})
	require.NoError(t, err)
	for _, a := range find(t, drv, "Avatar", map[string]any{"profile_id": profile.ID}) {
		assert.Equal(t, "import", a.Fields["source"], "defaults do not apply on update")
	}
}

func TestReverseOneToOne(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, drv := newSync(t)

	user, err := s.Sync(ctx, drv, accountNode, payload.Node{"username": "ann", "profile": payload.Node{"bio": "x"}})
	require.NoError(t, err)
	profiles := find(t, drv, "Profile", nil)
	require.Len(t, profiles, 1)
	assert.Equal(t, user.ID, profiles[0].Fields["user_id"])

	_, err = s.Sync(ctx, drv, accountNode, payload.Node{"id": user.ID, "username": "ann", "profile": payload.Node{"bio": "y"}})
	require.NoError(t, err)
	profiles = find(t, drv, "Profile", nil)
	require.Len(t, profiles, 1, "the linked profile is adopted")
	assert.Equal(t, "y", profiles[0].Fields["bio"])

	var report graphsync.Report
	_, err = s.Sync(ctx, drv, accountNode, payload.Node{"id": user.ID, "username": "ann", "profile": nil}, graphsync.WithReport(&report))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.Zero(t, drv.Len("Profile"))
}

func TestGenericRelation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, drv := newSync(t)
	profile, err := s.Sync(ctx, drv, profileNode, payload.Node{
		"tags": []payload.Node{{"name": "go"}, {"name": "db"}},
	})
	require.NoError(t, err)
	tags := find(t, drv, "Tag", map[string]any{"content_type": "Profile", "object_id": nestwrite.IDString(profile.ID)})
	require.Len(t, tags, 2)

	_, err = s.Sync(ctx, drv, profileNode, payload.Node{
		"id":   profile.ID,
		"tags": []payload.Node{{"id": tags[0].ID, "name": "golang"}},
	})
	require.NoError(t, err)
	tags = find(t, drv, "Tag", nil)
	require.Len(t, tags, 1)
	assert.Equal(t, "golang", tags[0].Fields["name"])
	assert.Equal(t, "Profile", tags[0].Fields["content_type"])
}

func TestReverseMatch(t *testing.T) {
	t.Parallel()
	profileWith := func(nested *schema.Nested) *schema.Node {
		return &schema.Node{Model: "Profile", Fields: []string{"bio"}, Nested: []*schema.Nested{nested}}
	}
	profileLink := func(parent *nestwrite.Entity) map[string]any {
		return map[string]any{"profile_id": parent.ID}
	}
	tests := []struct {
		name      string
		node      *schema.Node
		rel       string
		model     string
		first     payload.Node
		second    payload.Node
		link      func(parent *nestwrite.Entity) map[string]any
		untouched map[string]any
	}{
		{
			name:      "reverse foreign key",
			node:      profileWith(schema.Many("avatars", &schema.Node{Model: "Avatar", Fields: []string{"image", "source"}}).MatchOn(nestwrite.GetOrCreate, "image")),
			rel:       "avatars",
			model:     "Avatar",
			first:     payload.Node{"bio": "one", "avatars": []payload.Node{{"image": "a.png"}}},
			second:    payload.Node{"bio": "two", "avatars": []payload.Node{{"image": "a.png", "source": "import"}}},
			link:      profileLink,
			untouched: map[string]any{"source": "upload"},
		},
		{
			name: "reverse one to one",
			node: &schema.Node{
				Model:  "User",
				Fields: []string{"username"},
				Nested: []*schema.Nested{
					schema.One("profile", &schema.Node{Model: "Profile", Fields: []string{"bio"}}).MatchOn(nestwrite.Get, "bio"),
				},
			},
			rel:    "profile",
			model:  "Profile",
			first:  payload.Node{"username": "ann", "profile": nil},
			second: payload.Node{"username": "bob", "profile": payload.Node{"bio": "shared"}},
			link: func(parent *nestwrite.Entity) map[string]any {
				return map[string]any{"user_id": parent.ID}
			},
		},
		{
			name:   "generic relation",
			node:   profileWith(schema.Many("tags", tagNode).MatchOn(nestwrite.GetOrCreate, "name")),
			rel:    "tags",
			model:  "Tag",
			first:  payload.Node{"bio": "one", "tags": []payload.Node{{"name": "go"}}},
			second: payload.Node{"bio": "two", "tags": []payload.Node{{"name": "go"}}},
			link: func(parent *nestwrite.Entity) map[string]any {
				return map[string]any{"content_type": "Profile", "object_id": nestwrite.IDString(parent.ID)}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s, drv := newSync(t)

			first, err := s.Sync(ctx, drv, tt.node, tt.first)
			require.NoError(t, err)
			if tt.model == "Profile" {
				// Get only matches, so the profile is created under the first user.
				_, err = s.Sync(ctx, drv, profileNode, payload.Node{"bio": "shared", "user": payload.Node{"username": "ann"}})
				require.NoError(t, err)
			}
			second, err := s.Sync(ctx, drv, tt.node, tt.second)
			require.NoError(t, err)
			require.NotEqual(t, first.Key(), second.Key())

			children := find(t, drv, tt.model, nil)
			require.Len(t, children, 1)
			for col, v := range tt.link(second) {
				assert.Equal(t, v, children[0].Fields[col], "the matched child follows the latest parent")
			}
			for col, v := range tt.untouched {
				assert.Equal(t, v, children[0].Fields[col], "matched fields are not applied")
			}
			assert.Empty(t, find(t, drv, tt.model, tt.link(first)))
			out, err := s.Represent(ctx, drv, tt.node, second)
			require.NoError(t, err)
			assert.NotEmpty(t, out[tt.rel], "the latest parent reads back with the matched child")

			again := tt.second.Clone()
			again["id"] = second.ID
			var report graphsync.Report
			_, err = s.Sync(ctx, drv, tt.node, again, graphsync.WithReport(&report))
			require.NoError(t, err)
			assert.Zero(t, report.Writes())
			assert.Equal(t, 1, report.Matched)
		})
	}
}

func TestPartial(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, drv := newSync(t)
	user, err := s.Sync(ctx, drv, accountNode, payload.Node{"username": "ann"})
	require.NoError(t, err)

	_, err = s.Sync(ctx, drv, accountNode, payload.Node{"profile": payload.Node{"bio": "z"}}, graphsync.WithInstance(user))
	var verr *nestwrite.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "username", verr.Name)

	got, err := s.Sync(ctx, drv, accountNode, payload.Node{"id": int64(99), "profile": payload.Node{"bio": "z"}}, graphsync.WithInstance(user), graphsync.Partial())
	require.NoError(t, err)
	assert.Equal(t, user.Key(), got.Key(), "the instance is written, not the payload key")
	assert.Equal(t, 1, drv.Len("User"))
	profiles := find(t, drv, "Profile", map[string]any{"user_id": user.ID})
	require.Len(t, profiles, 1)
	assert.Equal(t, "z", profiles[0].Fields["bio"])
}

func TestCustomPrimaryKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, err := schema.NewGraph(&schema.Model{
		Name:   "Language",
		ID:     field.String("code"),
		Fields: []schema.Field{field.String("name")},
	})
	require.NoError(t, err)
	n := &schema.Node{Name: "LanguageNode", Model: "Language", Fields: []string{"code", "name"}}
	s, err := graphsync.New(g)
	require.NoError(t, err)
	drv := memory.New(g)

	lang, err := s.Sync(ctx, drv, n, payload.Node{"code": "go", "name": "Go"})
	require.NoError(t, err)
	assert.Equal(t, "go", lang.ID)

	var report graphsync.Report
	again, err := s.Sync(ctx, drv, n, payload.Node{"code": "go", "name": "Golang"}, graphsync.WithReport(&report))
	require.NoError(t, err)
	assert.Equal(t, lang.Key(), again.Key())
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, drv.Len("Language"))
}

func TestSyncErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	getNode := &schema.Node{
		Model:  "Profile",
		Nested: []*schema.Nested{schema.Many("sites", siteNode).MatchOn(nestwrite.Get, "url")},
	}
	requiredUser := &schema.Node{
		Model:  "Profile",
		Nested: []*schema.Nested{schema.One("user", userNode)},
	}
	tests := []struct {
		name  string
		node  *schema.Node
		data  payload.Node
		check func(*testing.T, error)
	}{
		{
			name: "list expected",
			node: profileNode,
			data: payload.Node{"avatars": payload.Node{"image": "a.png"}},
			check: func(t *testing.T, err error) {
				var verr *nestwrite.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, "avatars", verr.Name)
				assert.Empty(t, verr.Path)
			},
		},
		{
			name: "nested required field",
			node: profileNode,
			data: payload.Node{"avatars": []payload.Node{
				{"image": "a.png"},
				{"image": "b.png", "badges": []payload.Node{{}}},
			}},
			check: func(t *testing.T, err error) {
				var verr *nestwrite.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, "avatars[1].badges[0]", verr.Path)
				assert.Equal(t, "label", verr.Name)
				assert.Contains(t, err.Error(), `"avatars[1].badges[0].label"`)
			},
		},
		{
			name: "coercion",
			node: profileNode,
			data: payload.Node{"bio": 42},
			check: func(t *testing.T, err error) {
				assert.True(t, nestwrite.IsValidationError(err))
			},
		},
		{
			name: "not found",
			node: getNode,
			data: payload.Node{"sites": []payload.Node{{"url": "missing.io"}}},
			check: func(t *testing.T, err error) {
				var nerr *nestwrite.NotFoundError
				require.ErrorAs(t, err, &nerr)
				assert.Equal(t, "sites[0]", nerr.Path)
			},
		},
		{
			name: "null required relation",
			node: requiredUser,
			data: payload.Node{"user": nil},
			check: func(t *testing.T, err error) {
				var verr *nestwrite.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, "user", verr.Name)
			},
		},
		{
			name: "unknown relation",
			node: &schema.Node{Model: "Profile", Nested: []*schema.Nested{schema.Many("widgets", siteNode)}},
			data: payload.Node{},
			check: func(t *testing.T, err error) {
				assert.True(t, nestwrite.IsUnknownField(err))
			},
		},
		{
			name: "nil node",
			check: func(t *testing.T, err error) {
				var cerr *nestwrite.ConfigError
				require.ErrorAs(t, err, &cerr)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, drv := newSync(t)
			_, err := s.Sync(ctx, drv, tt.node, tt.data)
			require.Error(t, err)
			tt.check(t, err)
			assert.Zero(t, drv.Len("Profile"))
		})
	}
}

func TestHooks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var calls []string
	record := func(_ context.Context, _ dialect.Tx, ev *graphsync.Event) error {
		calls = append(calls, ev.Stage.String()+" "+ev.Path)
		return nil
	}
	rewrite := func(_ context.Context, _ dialect.Tx, ev *graphsync.Event) error {
		if ev.Path == "" {
			ev.Values["bio"] = "hooked"
		}
		return nil
	}
	s, drv := newSync(t, graphsync.WithHooks(graphsync.Hooks{
		AfterDirect:  []graphsync.Hook{record, rewrite},
		AfterSave:    []graphsync.Hook{record},
		AfterReverse: []graphsync.Hook{record},
	}))
	profile, err := s.Sync(ctx, drv, profileNode, payload.Node{
		"bio":     "payload",
		"user":    payload.Node{"username": "a8m"},
		"avatars": []payload.Node{{"image": "a.png"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hooked", profile.Fields["bio"])
	assert.Equal(t, []string{
		"after_direct user",
		"after_save user",
		"after_reverse user",
		"after_direct ",
		"after_save ",
		"after_direct avatars[0]",
		"after_save avatars[0]",
		"after_reverse avatars[0]",
		"after_reverse ",
	}, calls)

	t.Run("error rolls back", func(t *testing.T) {
		failure := errors.New("quota exceeded")
		s, drv := newSync(t, graphsync.WithHooks(graphsync.Hooks{
			AfterReverse: []graphsync.Hook{func(_ context.Context, _ dialect.Tx, ev *graphsync.Event) error {
				if ev.Path == "" {
					return failure
				}
				return nil
			}},
		}))
		_, err := s.Sync(ctx, drv, profileNode, payload.Node{"avatars": []payload.Node{{"image": "a.png"}}})
		require.ErrorIs(t, err, failure)
		assert.Zero(t, drv.Len("Profile"))
		assert.Zero(t, drv.Len("Avatar"))
	})
}

func TestLogging(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s, drv := newSync(t, graphsync.WithLogger(logger))
	var report graphsync.Report
	_, err := s.Sync(context.Background(), drv, profileNode, payload.Node{
		"avatars": []payload.Node{{"image": "a.png"}},
	}, graphsync.WithReport(&report))
	require.NoError(t, err)

	var msgs []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.Equal(t, report.Call, rec["call"])
		path, _ := rec["path"].(string)
		msgs = append(msgs, rec["msg"].(string)+" "+path)
	}
	assert.Contains(t, msgs, "create ")
	assert.Contains(t, msgs, "create avatars[0]")
}

func TestSyncAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, drv := newSync(t)
	jobs := make([]graphsync.Job, 0, 4)
	for _, name := range []string{"a", "b", "c", "d"} {
		jobs = append(jobs, graphsync.Job{Node: accountNode, Payload: payload.Node{"username": name, "profile": payload.Node{"bio": name}}})
	}
	users, err := s.SyncAll(ctx, drv, jobs, 2)
	require.NoError(t, err)
	require.Len(t, users, 4)
	for i, u := range users {
		assert.Equal(t, jobs[i].Payload["username"], u.Fields["username"])
	}
	assert.Equal(t, 4, drv.Len("Profile"))

	_, err = s.SyncAll(ctx, drv, []graphsync.Job{{Node: accountNode, Payload: payload.Node{"profile": nil}}}, 0)
	assert.True(t, nestwrite.IsValidationError(err))
	assert.Contains(t, err.Error(), "job 0")
}

func TestNew(t *testing.T) {
	t.Parallel()
	g := testGraph(t)
	tests := []struct {
		name   string
		graph  *schema.Graph
		opts   []graphsync.Option
		option string
	}{
		{name: "nil graph", option: "Graph"},
		{name: "nil logger", graph: g, opts: []graphsync.Option{graphsync.WithLogger(nil)}, option: "Logger"},
		{name: "unknown policy", graph: g, opts: []graphsync.Option{graphsync.WithUniquePolicy(unique.Policy(9))}, option: "UniquePolicy"},
		{name: "unknown model", graph: g, opts: []graphsync.Option{graphsync.WithDefaultMatch("Widget", nestwrite.MatchSpec{})}, option: "DefaultMatch"},
		{name: "unknown match field", graph: g, opts: []graphsync.Option{graphsync.WithDefaultMatch("Tag", nestwrite.MatchSpec{Fields: []string{"slug"}})}, option: "DefaultMatch"},
		{name: "foreign catalog", graph: g, opts: []graphsync.Option{graphsync.WithCatalog(relation.NewCatalog(testGraph(t)))}, option: "Catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := graphsync.New(tt.graph, tt.opts...)
			var cerr *nestwrite.ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.option, cerr.Option)
		})
	}
}
