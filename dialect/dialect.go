package dialect

import (
	"context"

	"github.com/syssam/nestwrite"
	"github.com/syssam/nestwrite/schema"
)

// Dialect names.
const (
	MySQL    = "mysql"
	SQLite   = "sqlite3"
	Postgres = "postgres"
	Memory   = "memory"
)

// Driver is the persistence collaborator written to by the synchronizer.
// Values and filters are keyed by column name.
type Driver interface {
	// Create persists a new entity of the model. A primary key value in
	// values is used as is; otherwise the driver assigns one.
	Create(ctx context.Context, model string, values map[string]any) (*nestwrite.Entity, error)
	// Update writes values to an existing entity and returns it refreshed.
	Update(ctx context.Context, e *nestwrite.Entity, values map[string]any) (*nestwrite.Entity, error)
	// Delete removes an entity. It fails with a ProtectedDeleteError when
	// another entity references it through a blocking relation.
	Delete(ctx context.Context, e *nestwrite.Entity) error
	// FindOne returns the single entity matching filter, nil when none
	// does, or an AmbiguousMatchError when several do.
	FindOne(ctx context.Context, model string, filter map[string]any) (*nestwrite.Entity, error)
	// Find returns all entities matching filter, ordered by primary key.
	Find(ctx context.Context, model string, filter map[string]any) ([]*nestwrite.Entity, error)
	// Linked returns the targets linked to owner through the join table.
	Linked(ctx context.Context, owner *nestwrite.Entity, join *schema.Join) ([]*nestwrite.Entity, error)
	// SetLinks replaces the link set of owner in the join table.
	SetLinks(ctx context.Context, owner *nestwrite.Entity, join *schema.Join, targets []*nestwrite.Entity) error
	// Tx starts a transaction.
	Tx(ctx context.Context) (Tx, error)
	// Dialect returns the dialect name.
	Dialect() string
	// Close releases the driver resources.
	Close() error
}

// Tx wraps the Driver interface with commit and rollback.
type Tx interface {
	Driver
	Commit() error
	Rollback() error
}

type nopTx struct {
	Driver
}

func (nopTx) Commit() error   { return nil }
func (nopTx) Rollback() error { return nil }

// NopTx returns a Tx whose Commit and Rollback do nothing, for drivers
// that are already bound to a transaction.
func NopTx(d Driver) Tx {
	return nopTx{d}
}
