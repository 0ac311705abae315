// Package nestwrite synchronizes nested payload trees against a persisted
// object graph.
//
// A payload is a tree of field maps. Its shape is described by a node schema
// (package schema) that names the model of each node, the scalar fields that
// may be written, and the nested relation fields. Relation metadata lives in
// the model registry (schema.Graph) and is classified once per node schema
// by the relation catalog.
//
// # Relation kinds
//
//   - DirectOneToOne / DirectForeignKey: the node holds the foreign key,
//     the related entity is written first.
//   - ReverseOneToOne / ReverseForeignKey: the related entity holds the
//     foreign key back to the node, it is written after the node.
//   - ManyToMany: links live in a join table keyed by both identities.
//   - GenericRelation: related entities point back through a
//     (content type, object id) pair.
//
// # Matching
//
// Each nested node is matched against persisted entities with a MatchSpec:
//
//	nestwrite.MatchSpec{Fields: []string{"name"}, Strategy: nestwrite.GetOrCreate}
//
// An empty field list matches by primary key, read from the reserved "pk"
// key or from the model's primary key field.
//
// # Synchronizing
//
//	s, err := graphsync.New(graph)
//	if err != nil {
//	    return err
//	}
//	profile, err := s.Sync(ctx, drv, ProfileNode, data)
//
// The whole tree is written inside one transaction; any error rolls back
// every write of the call and is returned unchanged.
package nestwrite
