// Package dialect defines the persistence interface the synchronizer writes
// through.
//
// # Supported Dialects
//
//   - Memory: transactional in-memory store (dialect/memory)
//   - Postgres, MySQL, SQLite: database/sql backed store (dialect/sql/sqlgraph)
//
// # Driver Interface
//
// A Driver creates, updates, deletes and finds entities by model name and
// column values, and maintains many-to-many link sets:
//
//	type Driver interface {
//	    Create(ctx context.Context, model string, values map[string]any) (*nestwrite.Entity, error)
//	    Update(ctx context.Context, e *nestwrite.Entity, values map[string]any) (*nestwrite.Entity, error)
//	    Delete(ctx context.Context, e *nestwrite.Entity) error
//	    FindOne(ctx context.Context, model string, filter map[string]any) (*nestwrite.Entity, error)
//	    Find(ctx context.Context, model string, filter map[string]any) ([]*nestwrite.Entity, error)
//	    Linked(ctx context.Context, owner *nestwrite.Entity, join *schema.Join) ([]*nestwrite.Entity, error)
//	    SetLinks(ctx context.Context, owner *nestwrite.Entity, join *schema.Join, targets []*nestwrite.Entity) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Dialect() string
//	    Close() error
//	}
//
// # Transaction Interface
//
// The Tx interface extends Driver with transaction methods:
//
//	type Tx interface {
//	    Driver
//	    Commit() error
//	    Rollback() error
//	}
//
// # Usage
//
//	drv := memory.New(graph)
//	defer drv.Close()
//
//	b, err := sql.Open(dialect.SQLite, "file:app.db?_pragma=foreign_keys(1)")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := sqlgraph.NewStore(graph, b)
package dialect
