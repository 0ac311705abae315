package sql

import (
	"strconv"
	"strings"

	"github.com/syssam/nestwrite/dialect"
)

// Builder writes one SQL statement with dialect specific identifier
// quoting and placeholders.
type Builder struct {
	sb      strings.Builder
	args    []any
	dialect string
}

// Dialect returns a Builder for the given dialect.
func Dialect(name string) *Builder {
	return &Builder{dialect: name}
}

// Quote quotes an identifier. Dotted identifiers are quoted per part.
func (b *Builder) Quote(ident string) string {
	q := `"`
	if b.dialect == dialect.MySQL {
		q = "`"
	}
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = q + strings.ReplaceAll(p, q, q+q) + q
	}
	return strings.Join(parts, ".")
}

// WriteString appends raw SQL.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Ident appends a quoted identifier.
func (b *Builder) Ident(ident string) *Builder {
	b.sb.WriteString(b.Quote(ident))
	return b
}

// IdentList appends a comma separated list of quoted identifiers.
func (b *Builder) IdentList(idents ...string) *Builder {
	for i, ident := range idents {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Ident(ident)
	}
	return b
}

// Arg appends a placeholder bound to v.
func (b *Builder) Arg(v any) *Builder {
	b.args = append(b.args, v)
	if b.dialect == dialect.Postgres {
		b.sb.WriteString("$" + strconv.Itoa(len(b.args)))
	} else {
		b.sb.WriteString("?")
	}
	return b
}

// Args appends a comma separated list of placeholders.
func (b *Builder) Args(vs ...any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Arg(v)
	}
	return b
}

// Where appends a conjunction of column equality predicates. Nil values
// compare with IS NULL.
func (b *Builder) Where(columns []string, values []any) *Builder {
	if len(columns) == 0 {
		return b
	}
	b.sb.WriteString(" WHERE ")
	for i, c := range columns {
		if i > 0 {
			b.sb.WriteString(" AND ")
		}
		b.Ident(c)
		if values[i] == nil {
			b.sb.WriteString(" IS NULL")
			continue
		}
		b.sb.WriteString(" = ")
		b.Arg(values[i])
	}
	return b
}

// In appends "column IN (...)".
func (b *Builder) In(column string, values ...any) *Builder {
	b.Ident(column)
	b.sb.WriteString(" IN (")
	b.Args(values...)
	b.sb.WriteString(")")
	return b
}

// Query returns the statement and its arguments.
func (b *Builder) Query() (string, []any) {
	return b.sb.String(), b.args
}

// Insert returns an INSERT statement. The returning column is appended on
// Postgres only.
func Insert(d, table string, columns []string, values []any, returning string) (string, []any) {
	b := Dialect(d)
	b.WriteString("INSERT INTO ").Ident(table)
	if len(columns) == 0 {
		if d == dialect.MySQL {
			b.WriteString(" () VALUES ()")
		} else {
			b.WriteString(" DEFAULT VALUES")
		}
	} else {
		b.WriteString(" (").IdentList(columns...).WriteString(") VALUES (").Args(values...).WriteString(")")
	}
	if returning != "" && d == dialect.Postgres {
		b.WriteString(" RETURNING ").Ident(returning)
	}
	return b.Query()
}

// Update returns an UPDATE statement.
func Update(d, table string, columns []string, values []any, whereCols []string, whereVals []any) (string, []any) {
	b := Dialect(d)
	b.WriteString("UPDATE ").Ident(table).WriteString(" SET ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(c).WriteString(" = ").Arg(values[i])
	}
	b.Where(whereCols, whereVals)
	return b.Query()
}

// Delete returns a DELETE statement.
func Delete(d, table string, whereCols []string, whereVals []any) (string, []any) {
	return Dialect(d).WriteString("DELETE FROM ").Ident(table).Where(whereCols, whereVals).Query()
}

// Select returns a SELECT statement ordered by orderBy. A positive limit
// adds a LIMIT clause.
func Select(d, table string, columns, whereCols []string, whereVals []any, orderBy string, limit int) (string, []any) {
	b := Dialect(d)
	b.WriteString("SELECT ").IdentList(columns...).WriteString(" FROM ").Ident(table)
	b.Where(whereCols, whereVals)
	if orderBy != "" {
		b.WriteString(" ORDER BY ").Ident(orderBy)
	}
	if limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(limit))
	}
	return b.Query()
}
