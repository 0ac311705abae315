// Package schema declares models, the relations between them, and the
// node schemas describing nested payloads.
//
// # Models
//
// A model is declared with its fields and the edges it stores:
//
//	user := &schema.Model{
//	    Name:   "User",
//	    Fields: []schema.Field{field.String("username").Unique()},
//	    Edges:  []schema.Edge{edge.Reverse("profile", "Profile").Ref("user")},
//	}
//	profile := &schema.Model{
//	    Name:   "Profile",
//	    Fields: []schema.Field{field.String("bio").Optional()},
//	    Edges: []schema.Edge{
//	        edge.OneToOne("user", "User"),
//	        edge.ManyToMany("sites", "Site"),
//	    },
//	}
//	g, err := schema.NewGraph(user, profile, site)
//
// Models without an ID field get an int64 "id" primary key. The default
// table is the snake-case plural of the name ("Profile" is "profiles").
//
// # Node Schemas
//
// A node schema names the writable fields of a payload node and its
// nested relation fields:
//
//	ProfileNode := &schema.Node{
//	    Model:  "Profile",
//	    Fields: []string{"bio"},
//	    Nested: []*schema.Nested{
//	        schema.Many("sites", SiteNode).MatchOn(nestwrite.GetOrCreate, "url"),
//	    },
//	}
//
// Nested fields are resolved against the graph by their source name. Reverse
// accessors that are not declared fall back to the inflected name of the
// model holding the foreign key, so "avatar_set" and "avatars" both reach
// Avatar's edge to the owner.
package schema
