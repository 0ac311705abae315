// Package edge provides builders for declaring relations between models.
//
// An edge is declared on the model that stores it:
//
//	// Profile stores user_id.
//	edge.ForeignKey("user", "User").Column("user_id")
//
//	// Profile stores a unique avatar_id.
//	edge.OneToOne("avatar", "Avatar").OnDelete(edge.Restrict)
//
//	// profile_tags(profile_id, tag_id).
//	edge.ManyToMany("tags", "Tag").Table("profile_tags").Columns("profile_id", "tag_id")
//
//	// TaggedItem stores (content_type, object_id) pointing back at Profile.
//	edge.Generic("tagged", "TaggedItem").Columns("content_type", "object_id")
//
// The other side of a stored edge is declared with Reverse:
//
//	// On User, the inverse of Profile.user.
//	edge.Reverse("profiles", "Profile").Ref("user")
//
// # Foreign Key Actions
//
// OnDelete controls what happens to the owner when the referenced entity
// is deleted. NoAction and Restrict refuse the delete, Cascade deletes the
// owner and SetNull clears its column.
//
// # Association Models
//
// Through marks a many-to-many edge whose join rows are entities of their
// own model. Such edges can be declared and read but are not written by
// the synchronizer.
package edge
