// Package mixin provides reusable sets of fields and edges for models.
//
//	&schema.Model{
//	    Name:   "Post",
//	    Mixins: []schema.Mixin{mixin.Time{}},
//	    Fields: []schema.Field{field.String("title")},
//	}
//
// Mixin fields come before the model's own fields, in mixin order.
package mixin

import (
	"time"

	"github.com/syssam/nestwrite/schema"
	"github.com/syssam/nestwrite/schema/field"
)

// Schema is the default implementation of schema.Mixin. Embed it in
// custom mixins and override the methods you need.
type Schema struct{}

// Fields returns the fields of the mixin.
func (Schema) Fields() []schema.Field { return nil }

// Edges returns the edges of the mixin.
func (Schema) Edges() []schema.Edge { return nil }

var _ schema.Mixin = (*Schema)(nil)

// Time adds created_at and updated_at fields. created_at is immutable.
type Time struct {
	Schema
}

// Fields returns the time tracking fields.
func (Time) Fields() []schema.Field {
	return append(CreateTime{}.Fields(),
		field.Time("updated_at").
			Default(time.Now).
			Comment("Timestamp when the entity was last updated"),
	)
}

// CreateTime adds only the created_at field.
type CreateTime struct {
	Schema
}

// Fields returns the created_at field.
func (CreateTime) Fields() []schema.Field {
	return []schema.Field{
		field.Time("created_at").
			Default(time.Now).
			Immutable().
			Comment("Timestamp when the entity was created"),
	}
}

// SoftDelete adds a nullable deleted_at field.
type SoftDelete struct {
	Schema
}

// Fields returns the soft delete field.
func (SoftDelete) Fields() []schema.Field {
	return []schema.Field{
		field.Time("deleted_at").
			Optional().
			Nillable().
			Comment("Timestamp when the entity was soft deleted (nil means not deleted)"),
	}
}

// TimeSoftDelete combines Time and SoftDelete.
type TimeSoftDelete struct {
	Schema
}

// Fields returns all timestamp and soft delete fields.
func (TimeSoftDelete) Fields() []schema.Field {
	return append(Time{}.Fields(), SoftDelete{}.Fields()...)
}

// Optional wraps a mixin and marks all its fields and edges optional.
//
//	mixin.Optional(AuditMixin{})
func Optional(m schema.Mixin) schema.Mixin {
	return optional{Mixin: m}
}

type optional struct {
	schema.Mixin
}

func (o optional) Fields() []schema.Field {
	fields := o.Mixin.Fields()
	for _, f := range fields {
		f.Descriptor().Optional = true
	}
	return fields
}

func (o optional) Edges() []schema.Edge {
	edges := o.Mixin.Edges()
	for _, e := range edges {
		e.Descriptor().Optional = true
	}
	return edges
}
