// Package sql provides the database/sql plumbing of the SQL store.
//
// # Backends
//
// A Backend executes statements and starts transactions. Driver serves a
// *sql.DB; StatsDriver and DebugDriver wrap any Backend:
//
//	drv, err := sql.Open(dialect.SQLite, "file:app.db?_pragma=foreign_keys(1)")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	b := sql.NewDebugDriver(sql.NewStatsDriver(drv), logger)
//
// The sqlite3 dialect opens the pure Go modernc.org/sqlite driver, which
// the caller registers with a blank import.
//
// # Statements
//
// The statement helpers quote identifiers and number placeholders per
// dialect:
//
//	query, args := sql.Select(dialect.Postgres, "users",
//	    []string{"id", "name"}, []string{"name"}, []any{"a8m"}, "id", 2)
//	// SELECT "id", "name" FROM "users" WHERE "name" = $1 ORDER BY "id" LIMIT 2
package sql
