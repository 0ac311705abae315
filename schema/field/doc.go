// Package field provides fluent builders for declaring the scalar fields of a
// model.
//
// Field names follow database conventions (snake_case) and double as column
// names unless a storage key is set:
//
//	field.String("username")
//	field.Int64("rank").Optional().Default(0)
//	field.String("slug").StorageKey("url_slug")
//
// # Field Options
//
//	field.String("email").
//	    Unique().                          // Checked by the uniqueness guard at write time
//	    UniqueMessage("email is taken").   // Custom conflict message
//	    Optional().                        // Not required on create
//	    Nillable().                        // May be written as null
//	    Immutable().                       // Ignored on update
//	    Default("unknown")                 // Applied on create when absent
//
// # Validation
//
// Validators run during the validation pre-pass, before any write:
//
//	field.String("name").NotEmpty().MaxLen(100)
//	field.Int("age").Validate(func(v any) error { ... })
//
// Uniqueness is never checked by validators; it is deferred to the moment a
// value is written to a specific entity.
//
// # Coercion
//
// Payload decoders produce generic numbers. Coerce converts them to the
// field's Go type so stored values compare equal across round trips:
//
//	field.Int64("rank").Descriptor().Coerce(json.Number("3")) // int64(3)
package field
