package relation

import (
	"sync"
	"testing"

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
			Fields: []schema.Field{field.String("username")},
			Edges:  []schema.Edge{edge.Reverse("profile", "Profile")},
		},
		&schema.Model{
			Name:   "Profile",
			Fields: []schema.Field{field.String("bio")},
			Edges: []schema.Edge{
				edge.OneToOne("user", "User").OnDelete(edge.Cascade),
				edge.ForeignKey("country", "Country").Optional(),
				edge.ManyToMany("sites", "Site"),
				edge.ManyToMany("groups", "Group").Through("Membership"),
				edge.Generic("tags", "Tag"),
			},
		},
		&schema.Model{
			Name:  "Avatar",
			Edges: []schema.Edge{edge.ForeignKey("profile", "Profile").OnDelete(edge.Restrict)},
		},
		&schema.Model{Name: "Country", Fields: []schema.Field{field.String("code").Unique()}},
		&schema.Model{Name: "Site", Fields: []schema.Field{field.String("url").Unique()}},
		&schema.Model{Name: "Group"},
		&schema.Model{
			Name:  "Membership",
			Edges: []schema.Edge{edge.ForeignKey("profile", "Profile"), edge.ForeignKey("group", "Group")},
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
	countryNode = &schema.Node{Model: "Country", Fields: []string{"code"}, Match: &nestwrite.MatchSpec{Fields: []string{"code"}, Strategy: nestwrite.GetOrCreate}}
	siteNode    = &schema.Node{Model: "Site", Fields: []string{"url"}}
	avatarNode  = &schema.Node{Model: "Avatar"}
	tagNode     = &schema.Node{Model: "Tag", Fields: []string{"name"}}
	profileNode = &schema.Node{
		Name:   "ProfileNode",
		Model:  "Profile",
		Fields: []string{"bio"},
		Nested: []*schema.Nested{
			schema.Many("avatars", avatarNode).From("avatar_set"),
			schema.Many("sites", siteNode).MatchOn(nestwrite.UpdateOrCreate, "url"),
			schema.One("user", userNode),
			schema.Many("tags", tagNode),
			schema.One("country", countryNode),
		},
	}
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tbl, err := Classify(testGraph(t), profileNode)
	require.NoError(t, err)
	require.Len(t, tbl.Fields, 5)

	tests := []struct {
		name    string
		kind    Kind
		holder  Holder
		reverse bool
		column  string
		phase   Phase
	}{
		{"avatars", ReverseForeignKey, HolderRelated, true, "profile_id", After},
		{"sites", ManyToMany, HolderJoin, false, "", After},
		{"user", DirectOneToOne, HolderSelf, false, "user_id", Before},
		{"tags", GenericRelation, HolderRelated, true, "", After},
		{"country", DirectForeignKey, HolderSelf, false, "country_id", Before},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := tbl.Field(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.kind, d.Kind)
			assert.Equal(t, tt.holder, d.Holder)
			assert.Equal(t, tt.reverse, d.Reverse)
			assert.Equal(t, tt.column, d.Column)
			assert.Equal(t, tt.phase, d.Phase())
			assert.Equal(t, i, d.Index)
		})
	}

	avatars, _ := tbl.Field("avatars")
	assert.Equal(t, "avatar_set", avatars.Source)
	assert.Equal(t, edge.Restrict, avatars.OnDelete)
	sites, _ := tbl.Field("sites")
	assert.Equal(t, "profile_sites", sites.Join.Table)
	assert.Equal(t, "profile_id", sites.Join.OwnerColumn)
	assert.Equal(t, "update_or_create(url)", sites.Match.String())
	tags, _ := tbl.Field("tags")
	assert.Equal(t, "content_type", tags.TypeColumn)
	assert.Equal(t, "object_id", tags.IDColumn)
	country, _ := tbl.Field("country")
	assert.True(t, country.Nullable)
	assert.Equal(t, nestwrite.GetOrCreate, country.Match.Strategy, "node schema default")
}

func TestClassifyReverse(t *testing.T) {
	t.Parallel()
	g := testGraph(t)
	tbl, err := Classify(g, &schema.Node{
		Model:  "User",
		Nested: []*schema.Nested{schema.One("profile", &schema.Node{Model: "Profile"})},
	})
	require.NoError(t, err)
	d, _ := tbl.Field("profile")
	assert.Equal(t, ReverseOneToOne, d.Kind)
	assert.Equal(t, "user_id", d.Column)

	tbl, err = Classify(g, &schema.Node{
		Model:  "Site",
		Nested: []*schema.Nested{schema.Many("profiles", &schema.Node{Model: "Profile"}).From("profile_set")},
	})
	require.NoError(t, err)
	d, _ = tbl.Field("profiles")
	assert.Equal(t, ManyToMany, d.Kind)
	assert.True(t, d.Reverse)
	assert.Equal(t, "site_id", d.Join.OwnerColumn)
	assert.Equal(t, "Profile", d.Join.Target)
}

func TestClassifyErrors(t *testing.T) {
	t.Parallel()
	g := testGraph(t)
	tests := []struct {
		name  string
		field *schema.Nested
		check func(*testing.T, error)
	}{
		{
			name:  "through",
			field: schema.Many("groups", &schema.Node{Model: "Group"}),
			check: func(t *testing.T, err error) {
				require.True(t, nestwrite.IsUnsupportedRelation(err))
				var uerr *nestwrite.UnsupportedRelationError
				require.ErrorAs(t, err, &uerr)
				assert.Equal(t, "Membership", uerr.Through)
			},
		},
		{
			name:  "unknown",
			field: schema.Many("followers", &schema.Node{Model: "User"}),
			check: func(t *testing.T, err error) {
				require.True(t, nestwrite.IsUnknownField(err))
			},
		},
		{
			name:  "cardinality",
			field: schema.One("sites", siteNode),
			check: func(t *testing.T, err error) {
				require.ErrorContains(t, err, "Many=false")
			},
		},
		{
			name:  "target",
			field: schema.One("user", siteNode),
			check: func(t *testing.T, err error) {
				require.ErrorContains(t, err, "relation targets User")
			},
		},
		{
			name:  "match field",
			field: schema.Many("sites", siteNode).MatchOn(nestwrite.Get, "domain"),
			check: func(t *testing.T, err error) {
				require.True(t, nestwrite.IsUnknownField(err))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Classify(g, &schema.Node{Model: "Profile", Nested: []*schema.Nested{tt.field}})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestOrder(t *testing.T) {
	t.Parallel()
	tbl, err := Classify(testGraph(t), profileNode)
	require.NoError(t, err)

	names := func(ds []*Descriptor) []string {
		var s []string
		for _, d := range ds {
			s = append(s, d.Name)
		}
		return s
	}
	before, after := Order(tbl, nil)
	assert.Equal(t, []string{"user", "country"}, names(before))
	assert.Equal(t, []string{"avatars", "sites", "tags"}, names(after))

	present := map[string]bool{"tags": true, "user": true}
	before, after = Order(tbl, func(name string) bool { return present[name] })
	assert.Equal(t, []string{"user"}, names(before))
	assert.Equal(t, []string{"tags"}, names(after))
}

func TestCatalog(t *testing.T) {
	t.Parallel()
	c := NewCatalog(testGraph(t))
	var wg sync.WaitGroup
	tables := make([]*Table, 8)
	for i := range tables {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tbl, err := c.Classify(profileNode)
			assert.NoError(t, err)
			tables[i] = tbl
		}()
	}
	wg.Wait()
	for _, tbl := range tables {
		assert.Same(t, tables[0], tbl)
	}
	require.NoError(t, c.Warm(profileNode))

	_, err := c.Classify(&schema.Node{Model: "Profile", Nested: []*schema.Nested{schema.Many("groups", &schema.Node{Model: "Group"})}})
	require.True(t, nestwrite.IsUnsupportedRelation(err))
}
