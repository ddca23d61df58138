package sql_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lumenmed/strata/dialect"
	"github.com/lumenmed/strata/dialect/sql"
)

// TestSelectorPlaceholders checks placeholder rendering across dialects.
func TestSelectorPlaceholders(t *testing.T) {
	t.Parallel()

	query, args := sql.Dialect(dialect.MySQL).
		Select("id", "name").From("users").
		Where(sql.And(sql.EQ("name", "a8m"), sql.GT("age", 18))).
		Query()
	assert.Equal(t, "SELECT id, name FROM users WHERE (name = ? AND age > ?)", query)
	assert.Equal(t, []any{"a8m", 18}, args)

	query, args = sql.Dialect(dialect.Postgres).
		Select("id", "name").From("users").
		Where(sql.And(sql.EQ("name", "a8m"), sql.GT("age", 18))).
		Query()
	assert.Equal(t, "SELECT id, name FROM users WHERE (name = $1 AND age > $2)", query)
	assert.Equal(t, []any{"a8m", 18}, args)
}

// TestSelectorJoins checks inner and outer join rendering.
func TestSelectorJoins(t *testing.T) {
	t.Parallel()

	query, _ := sql.Dialect(dialect.MySQL).
		Select("users.id").From("users").
		Join("pets", "pets.owner_id = users.id").
		LeftJoin("groups", "groups.id = users.group_id").
		Query()
	assert.Equal(t,
		"SELECT users.id FROM users JOIN pets ON pets.owner_id = users.id LEFT JOIN groups ON groups.id = users.group_id",
		query)
}

// TestSelectorGroupOrderLimit checks clause ordering in the statement.
func TestSelectorGroupOrderLimit(t *testing.T) {
	t.Parallel()

	query, _ := sql.Dialect(dialect.MySQL).
		Select("users.id").From("users").
		GroupBy("users.id").
		OrderBy(sql.Desc(sql.Max("pets.age"))).
		Limit(10).Offset(20).
		Query()
	assert.Equal(t,
		"SELECT users.id FROM users GROUP BY users.id ORDER BY MAX(pets.age) DESC LIMIT 10 OFFSET 20",
		query)
}

// TestPredicateIn checks IN rendering, including the empty set.
func TestPredicateIn(t *testing.T) {
	t.Parallel()

	query, args := sql.Dialect(dialect.MySQL).
		Select("id").From("users").
		Where(sql.In("id", 1, 2, 3)).
		Query()
	assert.Equal(t, "SELECT id FROM users WHERE id IN (?, ?, ?)", query)
	assert.Equal(t, []any{1, 2, 3}, args)

	query, args = sql.Dialect(dialect.MySQL).
		Select("id").From("users").
		Where(sql.In("id")).
		Query()
	assert.Equal(t, "SELECT id FROM users WHERE FALSE", query)
	assert.Empty(t, args)

	query, _ = sql.Dialect(dialect.MySQL).
		Select("id").From("users").
		Where(sql.NotIn("id")).
		Query()
	assert.Equal(t, "SELECT id FROM users WHERE TRUE", query)
}

// TestPredicateBetween checks range rendering.
func TestPredicateBetween(t *testing.T) {
	t.Parallel()

	query, args := sql.Dialect(dialect.MySQL).
		Select("id").From("users").
		Where(sql.Between("age", 18, 65)).
		Query()
	assert.Equal(t, "SELECT id FROM users WHERE age BETWEEN ? AND ?", query)
	assert.Equal(t, []any{18, 65}, args)
}

// TestPredicateILike checks the case-insensitive pattern predicate:
// native ILIKE on postgres, LOWER folding elsewhere.
func TestPredicateILike(t *testing.T) {
	t.Parallel()

	query, args := sql.Dialect(dialect.Postgres).
		Select("id").From("users").
		Where(sql.ILike("name", "%Jane%")).
		Query()
	assert.Equal(t, "SELECT id FROM users WHERE name ILIKE $1", query)
	assert.Equal(t, []any{"%Jane%"}, args)

	query, args = sql.Dialect(dialect.MySQL).
		Select("id").From("users").
		Where(sql.ILike("name", "%Jane%")).
		Query()
	assert.Equal(t, "SELECT id FROM users WHERE LOWER(name) LIKE ?", query)
	assert.Equal(t, []any{"%jane%"}, args)
}

// TestPredicateComposition checks Or, Not and null predicates.
func TestPredicateComposition(t *testing.T) {
	t.Parallel()

	query, args := sql.Dialect(dialect.MySQL).
		Select("id").From("users").
		Where(sql.Or(sql.IsNull("deleted_at"), sql.Not(sql.EQ("active", false)))).
		Query()
	assert.Equal(t, "SELECT id FROM users WHERE (deleted_at IS NULL OR NOT (active = ?))", query)
	assert.Equal(t, []any{false}, args)
}

// TestInsertReturning checks that RETURNING renders on postgres only.
func TestInsertReturning(t *testing.T) {
	t.Parallel()

	query, args := sql.Dialect(dialect.Postgres).
		Insert("users").Set("name", "a8m").Returning("id").
		Query()
	assert.Equal(t, "INSERT INTO users (name) VALUES ($1) RETURNING id", query)
	assert.Equal(t, []any{"a8m"}, args)

	query, _ = sql.Dialect(dialect.MySQL).
		Insert("users").Set("name", "a8m").Returning("id").
		Query()
	assert.Equal(t, "INSERT INTO users (name) VALUES (?)", query)
}

// TestUpdateAndDelete checks the write statement builders.
func TestUpdateAndDelete(t *testing.T) {
	t.Parallel()

	query, args := sql.Dialect(dialect.MySQL).
		Update("users").Set("name", "a8m").Set("age", 30).
		Where(sql.EQ("id", 1)).
		Query()
	assert.Equal(t, "UPDATE users SET name = ?, age = ? WHERE id = ?", query)
	assert.Equal(t, []any{"a8m", 30, 1}, args)

	query, args = sql.Dialect(dialect.Postgres).
		Delete("users").Where(sql.EQ("id", 1)).
		Query()
	assert.Equal(t, "DELETE FROM users WHERE id = $1", query)
	assert.Equal(t, []any{1}, args)
}

// TestRawPredicate checks raw fragments with argument rebinding.
func TestRawPredicate(t *testing.T) {
	t.Parallel()

	query, args := sql.Dialect(dialect.Postgres).
		Select("id").From("users").
		Where(sql.Raw("age > ? AND age < ?", 18, 65)).
		Query()
	assert.Equal(t, "SELECT id FROM users WHERE age > $1 AND age < $2", query)
	assert.Equal(t, []any{18, 65}, args)
}

// TestTableQualifier checks column qualification.
func TestTableQualifier(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "users.id", sql.Table("users", "id"))
}
