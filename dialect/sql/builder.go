package sql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lumenmed/strata/dialect"
)

// Builder is the base query builder. It accumulates SQL text and bound
// arguments, and renders dialect-specific placeholders.
type Builder struct {
	sb      strings.Builder
	dialect string
	args    []any
}

// WriteString appends raw SQL text.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Arg appends a placeholder for the given argument and records it.
func (b *Builder) Arg(v any) *Builder {
	b.args = append(b.args, v)
	if b.dialect == dialect.Postgres {
		b.sb.WriteString("$")
		b.sb.WriteString(strconv.Itoa(len(b.args)))
	} else {
		b.sb.WriteString("?")
	}
	return b
}

// Args appends a comma-separated list of placeholders for the given arguments.
func (b *Builder) Args(vs ...any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Arg(v)
	}
	return b
}

// String returns the accumulated SQL text.
func (b *Builder) String() string { return b.sb.String() }

// Dialect returns the dialect the builder renders for.
func (b *Builder) Dialect() string { return b.dialect }

// Predicate is a where-clause fragment. Predicates compose with And, Or
// and Not, and render themselves into a Builder.
type Predicate struct {
	fns []func(*Builder)
}

// P creates a new predicate from builder functions.
func P(fns ...func(*Builder)) *Predicate {
	return &Predicate{fns: fns}
}

// Append adds a builder function to the predicate.
func (p *Predicate) Append(fn func(*Builder)) *Predicate {
	p.fns = append(p.fns, fn)
	return p
}

func (p *Predicate) render(b *Builder) {
	for _, fn := range p.fns {
		fn(b)
	}
}

// And combines the given predicates with the AND operator, wrapping the
// group in parentheses when more than one is given.
func And(preds ...*Predicate) *Predicate {
	if len(preds) == 1 {
		return preds[0]
	}
	return P(func(b *Builder) {
		b.WriteString("(")
		for i, p := range preds {
			if i > 0 {
				b.WriteString(" AND ")
			}
			p.render(b)
		}
		b.WriteString(")")
	})
}

// Or combines the given predicates with the OR operator, wrapping the
// group in parentheses when more than one is given.
func Or(preds ...*Predicate) *Predicate {
	if len(preds) == 1 {
		return preds[0]
	}
	return P(func(b *Builder) {
		b.WriteString("(")
		for i, p := range preds {
			if i > 0 {
				b.WriteString(" OR ")
			}
			p.render(b)
		}
		b.WriteString(")")
	})
}

// Not negates the given predicate.
func Not(p *Predicate) *Predicate {
	return P(func(b *Builder) {
		b.WriteString("NOT (")
		p.render(b)
		b.WriteString(")")
	})
}

func binary(col, op string, v any) *Predicate {
	return P(func(b *Builder) {
		b.WriteString(col).WriteString(" ").WriteString(op).WriteString(" ").Arg(v)
	})
}

// EQ returns a `col = v` predicate.
func EQ(col string, v any) *Predicate { return binary(col, "=", v) }

// NEQ returns a `col <> v` predicate.
func NEQ(col string, v any) *Predicate { return binary(col, "<>", v) }

// LT returns a `col < v` predicate.
func LT(col string, v any) *Predicate { return binary(col, "<", v) }

// LTE returns a `col <= v` predicate.
func LTE(col string, v any) *Predicate { return binary(col, "<=", v) }

// GT returns a `col > v` predicate.
func GT(col string, v any) *Predicate { return binary(col, ">", v) }

// GTE returns a `col >= v` predicate.
func GTE(col string, v any) *Predicate { return binary(col, ">=", v) }

// In returns a `col IN (...)` predicate. An empty value set renders a
// predicate that matches no rows, mirroring the set semantics.
func In(col string, vs ...any) *Predicate {
	return P(func(b *Builder) {
		if len(vs) == 0 {
			b.WriteString("FALSE")
			return
		}
		b.WriteString(col).WriteString(" IN (").Args(vs...).WriteString(")")
	})
}

// NotIn returns a `col NOT IN (...)` predicate.
func NotIn(col string, vs ...any) *Predicate {
	return P(func(b *Builder) {
		if len(vs) == 0 {
			b.WriteString("TRUE")
			return
		}
		b.WriteString(col).WriteString(" NOT IN (").Args(vs...).WriteString(")")
	})
}

// Between returns a `col BETWEEN lo AND hi` predicate.
func Between(col string, lo, hi any) *Predicate {
	return P(func(b *Builder) {
		b.WriteString(col).WriteString(" BETWEEN ").Arg(lo).WriteString(" AND ").Arg(hi)
	})
}

// Like returns a case-sensitive `col LIKE pattern` predicate.
func Like(col, pattern string) *Predicate {
	return P(func(b *Builder) {
		b.WriteString(col).WriteString(" LIKE ").Arg(pattern)
	})
}

// ILike returns a case-insensitive pattern predicate. Postgres has a
// native ILIKE operator; other dialects fold both sides with LOWER.
func ILike(col, pattern string) *Predicate {
	return P(func(b *Builder) {
		if b.dialect == dialect.Postgres {
			b.WriteString(col).WriteString(" ILIKE ").Arg(pattern)
			return
		}
		b.WriteString("LOWER(").WriteString(col).WriteString(") LIKE ").Arg(strings.ToLower(pattern))
	})
}

// IsNull returns a `col IS NULL` predicate.
func IsNull(col string) *Predicate {
	return P(func(b *Builder) {
		b.WriteString(col).WriteString(" IS NULL")
	})
}

// NotNull returns a `col IS NOT NULL` predicate.
func NotNull(col string) *Predicate {
	return P(func(b *Builder) {
		b.WriteString(col).WriteString(" IS NOT NULL")
	})
}

// Aggregation helpers for selected or ordered expressions.

// Min wraps the column with the MIN aggregation function.
func Min(col string) string { return "MIN(" + col + ")" }

// Max wraps the column with the MAX aggregation function.
func Max(col string) string { return "MAX(" + col + ")" }

// Count wraps the expression with the COUNT aggregation function.
func Count(expr string) string { return "COUNT(" + expr + ")" }

// CountDistinct wraps the expression with COUNT(DISTINCT ...).
func CountDistinct(expr string) string { return "COUNT(DISTINCT " + expr + ")" }

// Desc suffixes the expression with the DESC order keyword.
func Desc(expr string) string { return expr + " DESC" }

// Asc returns the expression untouched; ascending is the default order.
func Asc(expr string) string { return expr }

type join struct {
	kind  string // "JOIN" or "LEFT JOIN"
	table string
	on    string
}

// Selector builds a SELECT statement.
type Selector struct {
	dialect string
	columns []string
	from    string
	joins   []join
	where   *Predicate
	groupBy []string
	orderBy []string
	limit   *int
	offset  *int
}

// Dialect creates a statement builder bound to the given dialect.
type DialectBuilder struct {
	dialect string
}

// Dialect returns a builder factory for the given dialect name.
func Dialect(name string) *DialectBuilder {
	return &DialectBuilder{dialect: name}
}

// Select starts a SELECT statement with the given columns.
func (d *DialectBuilder) Select(columns ...string) *Selector {
	return &Selector{dialect: d.dialect, columns: columns}
}

// Insert starts an INSERT statement for the given table.
func (d *DialectBuilder) Insert(table string) *InsertBuilder {
	return &InsertBuilder{dialect: d.dialect, table: table}
}

// Update starts an UPDATE statement for the given table.
func (d *DialectBuilder) Update(table string) *UpdateBuilder {
	return &UpdateBuilder{dialect: d.dialect, table: table}
}

// Delete starts a DELETE statement for the given table.
func (d *DialectBuilder) Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{dialect: d.dialect, table: table}
}

// Select replaces the selected column list.
func (s *Selector) Select(columns ...string) *Selector {
	s.columns = columns
	return s
}

// From sets the table of the statement.
func (s *Selector) From(table string) *Selector {
	s.from = table
	return s
}

// Join appends an inner join with a raw ON clause.
func (s *Selector) Join(table, on string) *Selector {
	s.joins = append(s.joins, join{kind: "JOIN", table: table, on: on})
	return s
}

// LeftJoin appends a left outer join with a raw ON clause.
func (s *Selector) LeftJoin(table, on string) *Selector {
	s.joins = append(s.joins, join{kind: "LEFT JOIN", table: table, on: on})
	return s
}

// Where sets or conjuncts the where clause of the statement.
func (s *Selector) Where(p *Predicate) *Selector {
	if p == nil {
		return s
	}
	if s.where != nil {
		s.where = And(s.where, p)
	} else {
		s.where = p
	}
	return s
}

// GroupBy appends columns to the GROUP BY clause.
func (s *Selector) GroupBy(columns ...string) *Selector {
	s.groupBy = append(s.groupBy, columns...)
	return s
}

// OrderBy appends expressions to the ORDER BY clause.
func (s *Selector) OrderBy(exprs ...string) *Selector {
	s.orderBy = append(s.orderBy, exprs...)
	return s
}

// Limit sets the LIMIT clause.
func (s *Selector) Limit(n int) *Selector {
	s.limit = &n
	return s
}

// Offset sets the OFFSET clause.
func (s *Selector) Offset(n int) *Selector {
	s.offset = &n
	return s
}

// Query returns the SQL text and bound arguments of the statement.
func (s *Selector) Query() (string, []any) {
	b := &Builder{dialect: s.dialect}
	b.WriteString("SELECT ")
	if len(s.columns) == 0 {
		b.WriteString("*")
	} else {
		b.WriteString(strings.Join(s.columns, ", "))
	}
	b.WriteString(" FROM ").WriteString(s.from)
	for _, j := range s.joins {
		b.WriteString(" ").WriteString(j.kind).WriteString(" ").WriteString(j.table)
		b.WriteString(" ON ").WriteString(j.on)
	}
	if s.where != nil {
		b.WriteString(" WHERE ")
		s.where.render(b)
	}
	if len(s.groupBy) > 0 {
		b.WriteString(" GROUP BY ").WriteString(strings.Join(s.groupBy, ", "))
	}
	if len(s.orderBy) > 0 {
		b.WriteString(" ORDER BY ").WriteString(strings.Join(s.orderBy, ", "))
	}
	if s.limit != nil {
		b.WriteString(" LIMIT ").WriteString(strconv.Itoa(*s.limit))
	}
	if s.offset != nil {
		b.WriteString(" OFFSET ").WriteString(strconv.Itoa(*s.offset))
	}
	return b.String(), b.args
}

// InsertBuilder builds an INSERT statement.
type InsertBuilder struct {
	dialect   string
	table     string
	columns   []string
	values    []any
	returning []string
}

// Columns sets the insert column list.
func (i *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	i.columns = columns
	return i
}

// Values sets the values matching the column list.
func (i *InsertBuilder) Values(values ...any) *InsertBuilder {
	i.values = values
	return i
}

// Set appends a single column/value pair.
func (i *InsertBuilder) Set(column string, v any) *InsertBuilder {
	i.columns = append(i.columns, column)
	i.values = append(i.values, v)
	return i
}

// Returning appends a RETURNING clause (postgres only).
func (i *InsertBuilder) Returning(columns ...string) *InsertBuilder {
	i.returning = columns
	return i
}

// Query returns the SQL text and bound arguments of the statement.
func (i *InsertBuilder) Query() (string, []any) {
	b := &Builder{dialect: i.dialect}
	b.WriteString("INSERT INTO ").WriteString(i.table)
	b.WriteString(" (").WriteString(strings.Join(i.columns, ", ")).WriteString(")")
	b.WriteString(" VALUES (").Args(i.values...).WriteString(")")
	if len(i.returning) > 0 && i.dialect == dialect.Postgres {
		b.WriteString(" RETURNING ").WriteString(strings.Join(i.returning, ", "))
	}
	return b.String(), b.args
}

// UpdateBuilder builds an UPDATE statement.
type UpdateBuilder struct {
	dialect string
	table   string
	columns []string
	values  []any
	where   *Predicate
}

// Set appends a column assignment.
func (u *UpdateBuilder) Set(column string, v any) *UpdateBuilder {
	u.columns = append(u.columns, column)
	u.values = append(u.values, v)
	return u
}

// Where sets or conjuncts the where clause of the statement.
func (u *UpdateBuilder) Where(p *Predicate) *UpdateBuilder {
	if p == nil {
		return u
	}
	if u.where != nil {
		u.where = And(u.where, p)
	} else {
		u.where = p
	}
	return u
}

// Query returns the SQL text and bound arguments of the statement.
func (u *UpdateBuilder) Query() (string, []any) {
	b := &Builder{dialect: u.dialect}
	b.WriteString("UPDATE ").WriteString(u.table).WriteString(" SET ")
	for i, c := range u.columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c).WriteString(" = ").Arg(u.values[i])
	}
	if u.where != nil {
		b.WriteString(" WHERE ")
		u.where.render(b)
	}
	return b.String(), b.args
}

// DeleteBuilder builds a DELETE statement.
type DeleteBuilder struct {
	dialect string
	table   string
	where   *Predicate
}

// Where sets or conjuncts the where clause of the statement.
func (d *DeleteBuilder) Where(p *Predicate) *DeleteBuilder {
	if p == nil {
		return d
	}
	if d.where != nil {
		d.where = And(d.where, p)
	} else {
		d.where = p
	}
	return d
}

// Query returns the SQL text and bound arguments of the statement.
func (d *DeleteBuilder) Query() (string, []any) {
	b := &Builder{dialect: d.dialect}
	b.WriteString("DELETE FROM ").WriteString(d.table)
	if d.where != nil {
		b.WriteString(" WHERE ")
		d.where.render(b)
	}
	return b.String(), b.args
}

// Raw returns a predicate made of raw SQL text with bound arguments.
func Raw(text string, args ...any) *Predicate {
	return P(func(b *Builder) {
		for _, part := range strings.SplitAfter(text, "?") {
			if strings.HasSuffix(part, "?") {
				b.WriteString(strings.TrimSuffix(part, "?"))
				if len(args) == 0 {
					b.WriteString("?")
					continue
				}
				b.Arg(args[0])
				args = args[1:]
			} else {
				b.WriteString(part)
			}
		}
	})
}

// Table qualifies a column name with a table name.
func Table(table, column string) string {
	return fmt.Sprintf("%s.%s", table, column)
}
