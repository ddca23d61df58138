package strata

import (
	"context"
	"fmt"
	"strings"
	"time"

	dsql "github.com/lumenmed/strata/dialect/sql"
	"github.com/lumenmed/strata/schema"
)

// Querier is the statement-execute capability of a session handle. A
// session exposing it gets the statement backend: queries are compiled
// to SQL and executed directly.
type Querier interface {
	Dialect() string
	Query(ctx context.Context, query string, args []any) (*dsql.Rows, error)
}

// Cursor iterates rows produced by a cursor-capable store.
type Cursor interface {
	Next() bool
	Row() map[string]any
	Err() error
	Close() error
}

// CursorQuerier is the cursor-query capability of a session handle. A
// session exposing it receives the compiled QuerySpec and interprets it
// against its own store.
type CursorQuerier interface {
	OpenCursor(ctx context.Context, spec *QuerySpec) (Cursor, error)
}

// SelectColumn is one projected column of a query.
type SelectColumn struct {
	Ref    ColumnRef
	Column *schema.Column // descriptor of the terminal column
	Key    string         // result key: column name, alias or dotted path
}

// JoinSpec is one relation join of a query.
type JoinSpec struct {
	Rel   *schema.Relation
	From  *schema.Descriptor
	To    *schema.Descriptor
	Outer bool
}

// OrderSpec is one ordering term. Aggregate terms order by the per-group
// extremum of the column, descending terms by MAX and ascending by MIN,
// with the result grouped by the root primary key.
type OrderSpec struct {
	Ref       ColumnRef
	Desc      bool
	Aggregate bool
}

// QuerySpec is the backend-neutral form of a built query. The statement
// backend compiles it to SQL; the cursor backend hands it to the session.
type QuerySpec struct {
	Model   string
	Table   string
	Columns []SelectColumn
	Joins   []JoinSpec
	Pred    *Predicate
	Order   []OrderSpec
	GroupBy []ColumnRef
	Limit   *int
	Offset  *int

	// CountOnly requests a single row holding the match count under the
	// "count" key. Distinct counts each root row once despite fan-out.
	CountOnly bool
	Distinct  bool
}

// Query builds and executes a read query against one root schema. All
// chainable methods record the first structural error; execution methods
// return it before touching the store.
type Query struct {
	reg     *schema.Registry
	root    *schema.Descriptor
	session any
	stmt    Querier
	cursor  CursorQuerier

	projection []SelectColumn
	preds      []*Predicate
	joins      []JoinSpec
	joinKeys   map[string]struct{}
	orders     []OrderSpec
	includes   []string
	limit      *int
	offset     *int

	cache    Cache
	cacheTTL time.Duration

	err error
}

// NewQuery returns a query over root executed through the given session
// handle. The backend is selected once here: a handle exposing the
// statement capability compiles to SQL, one exposing the cursor
// capability receives QuerySpecs, and a handle with neither is a
// configuration error.
func NewQuery(session any, reg *schema.Registry, root *schema.Descriptor) *Query {
	q := &Query{
		reg:      reg,
		root:     root,
		session:  session,
		joinKeys: make(map[string]struct{}),
	}
	switch s := session.(type) {
	case Querier:
		q.stmt = s
	case CursorQuerier:
		q.cursor = s
	default:
		q.err = NewConfigurationError("session handle exposes neither statement nor cursor capability")
	}
	if root == nil && q.err == nil {
		q.err = NewConfigurationError("query requires a schema")
	}
	return q
}

// sub returns a fresh query over another root through the same session.
func (q *Query) sub(root *schema.Descriptor) *Query {
	nq := NewQuery(q.session, q.reg, root)
	nq.cache, nq.cacheTTL = q.cache, q.cacheTTL
	return nq
}

// Err returns the first structural error recorded by the builder.
func (q *Query) Err() error { return q.err }

func (q *Query) fail(err error) *Query {
	if q.err == nil {
		q.err = err
	}
	return q
}

// Project narrows the selected columns. Expressions are "field",
// "field as Alias" or dotted relation paths; relation paths register
// their joins. The root primary key is always selected so that results
// stay addressable.
func (q *Query) Project(exprs ...string) *Query {
	for _, expr := range exprs {
		path, alias := splitAlias(expr)
		rp, err := resolveColumnPath(q.reg, q.root, path)
		if err != nil {
			return q.fail(err)
		}
		for _, step := range rp.Steps {
			q.addJoin(step, true)
		}
		key := alias
		if key == "" {
			if len(rp.Steps) == 0 {
				key = rp.Col.Name
			} else {
				key = path
			}
		}
		q.projection = append(q.projection, SelectColumn{Ref: rp.Terminal(), Column: rp.Col, Key: key})
	}
	return q
}

// Where compiles a filter map and conjoins its predicates. Relation
// traversals in filter keys register their joins.
func (q *Query) Where(f Filter) *Query {
	if len(f) == 0 {
		return q
	}
	c := &predicateCompiler{reg: q.reg, root: q.root, join: func(step pathStep) {
		q.addJoin(step, false)
	}}
	preds, err := c.Compile(f)
	if err != nil {
		return q.fail(err)
	}
	q.preds = append(q.preds, preds...)
	return q
}

// WherePred conjoins pre-built predicates.
func (q *Query) WherePred(ps ...*Predicate) *Query {
	q.preds = append(q.preds, ps...)
	return q
}

// Join registers inner joins for the given relation paths.
func (q *Query) Join(paths ...string) *Query {
	return q.join(paths, false)
}

// LeftJoin registers left outer joins for the given relation paths.
func (q *Query) LeftJoin(paths ...string) *Query {
	return q.join(paths, true)
}

func (q *Query) join(paths []string, outer bool) *Query {
	for _, path := range paths {
		rp, err := resolveRelationPath(q.reg, q.root, path)
		if err != nil {
			return q.fail(err)
		}
		for _, step := range rp.Steps {
			q.addJoin(step, outer)
		}
	}
	return q
}

// addJoin registers a relation join exactly once. Re-adding the same
// join, directly or through two filters on the same relation, is a no-op.
func (q *Query) addJoin(step pathStep, outer bool) {
	key := step.From.Name + "." + step.Rel.Name
	if outer {
		key += " outer"
	}
	if _, ok := q.joinKeys[key]; ok {
		return
	}
	q.joinKeys[key] = struct{}{}
	q.joins = append(q.joins, JoinSpec{Rel: step.Rel, From: step.From, To: step.To, Outer: outer})
}

// OrderBy appends ordering terms. A leading "-" means descending. A
// dotted path whose first relation fans out becomes an aggregate term:
// the result is grouped by the root primary key and ordered by the
// per-group MIN (ascending) or MAX (descending) of the column.
func (q *Query) OrderBy(exprs ...string) *Query {
	for _, expr := range exprs {
		desc := strings.HasPrefix(expr, "-")
		path := strings.TrimPrefix(expr, "-")
		rp, err := resolveColumnPath(q.reg, q.root, path)
		if err != nil {
			return q.fail(err)
		}
		for _, step := range rp.Steps {
			q.addJoin(step, true)
		}
		q.orders = append(q.orders, OrderSpec{Ref: rp.Terminal(), Desc: desc, Aggregate: rp.ToMany()})
	}
	return q
}

// Include requests eager loading of relation paths. Loading happens
// through secondary IN queries after the base rows are fetched, one
// query per relation level.
func (q *Query) Include(paths ...string) *Query {
	for _, path := range paths {
		if _, err := resolveRelationPath(q.reg, q.root, path); err != nil {
			return q.fail(err)
		}
		q.includes = append(q.includes, path)
	}
	return q
}

// Limit caps the number of returned rows.
func (q *Query) Limit(n int) *Query {
	q.limit = &n
	return q
}

// Offset skips the first n rows.
func (q *Query) Offset(n int) *Query {
	q.offset = &n
	return q
}

// UseCache serves row sets from the given cache, keyed by the compiled
// query, and fills it on miss.
func (q *Query) UseCache(c Cache, ttl time.Duration) *Query {
	q.cache, q.cacheTTL = c, ttl
	return q
}

// Spec returns the backend-neutral form of the built query.
func (q *Query) Spec() (*QuerySpec, error) {
	if q.err != nil {
		return nil, q.err
	}
	spec := &QuerySpec{
		Model:  q.root.Name,
		Table:  q.root.Table,
		Joins:  q.joins,
		Order:  q.orders,
		Limit:  q.limit,
		Offset: q.offset,
	}
	pk := q.root.PrimaryKey()
	if len(q.projection) == 0 {
		for _, c := range q.root.Columns {
			spec.Columns = append(spec.Columns, SelectColumn{
				Ref:    ColumnRef{Table: q.root.Table, Column: c.Name},
				Column: c,
				Key:    c.Name,
			})
		}
	} else {
		spec.Columns = q.projection
		if !hasOwnColumn(spec, pk.Name) {
			spec.Columns = append([]SelectColumn{{
				Ref:    ColumnRef{Table: q.root.Table, Column: pk.Name},
				Column: pk,
				Key:    pk.Name,
			}}, spec.Columns...)
		}
	}
	if len(q.preds) > 0 {
		spec.Pred = And(q.preds...)
	}
	for _, o := range q.orders {
		if o.Aggregate {
			spec.GroupBy = []ColumnRef{{Table: q.root.Table, Column: pk.Name}}
			break
		}
	}
	return spec, nil
}

func hasOwnColumn(spec *QuerySpec, name string) bool {
	for _, c := range spec.Columns {
		if c.Ref.Table == spec.Table && c.Key == name {
			return true
		}
	}
	return false
}

// First returns the first matching record, or nil when nothing matches.
func (q *Query) First(ctx context.Context) (*Record, error) {
	spec, err := q.Spec()
	if err != nil {
		return nil, err
	}
	one := 1
	if spec.Limit == nil {
		spec.Limit = &one
	}
	recs, err := q.fetch(ctx, spec)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	if err := q.loadIncludes(ctx, q.root, recs[:1], q.includes); err != nil {
		return nil, err
	}
	return recs[0], nil
}

// All returns every matching record.
func (q *Query) All(ctx context.Context) ([]*Record, error) {
	spec, err := q.Spec()
	if err != nil {
		return nil, err
	}
	recs, err := q.fetch(ctx, spec)
	if err != nil {
		return nil, err
	}
	if err := q.loadIncludes(ctx, q.root, recs, q.includes); err != nil {
		return nil, err
	}
	return recs, nil
}

// Count returns the number of matching root rows. Joined to-many
// relations do not inflate the count.
func (q *Query) Count(ctx context.Context) (int, error) {
	spec, err := q.Spec()
	if err != nil {
		return 0, err
	}
	spec.CountOnly = true
	spec.Order, spec.GroupBy = nil, nil
	spec.Limit, spec.Offset = nil, nil
	for _, j := range spec.Joins {
		if j.Rel.ToMany() {
			spec.Distinct = true
			break
		}
	}
	if q.cursor != nil {
		return q.cursorCount(ctx, spec)
	}
	return q.sqlCount(ctx, spec)
}

// Exists reports whether any row matches.
func (q *Query) Exists(ctx context.Context) (bool, error) {
	spec, err := q.Spec()
	if err != nil {
		return false, err
	}
	pk := q.root.PrimaryKey()
	spec.Columns = []SelectColumn{{
		Ref:    ColumnRef{Table: q.root.Table, Column: pk.Name},
		Column: pk,
		Key:    pk.Name,
	}}
	one := 1
	spec.Limit = &one
	rows, err := q.rows(ctx, spec)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// fetch executes the spec and hydrates records.
func (q *Query) fetch(ctx context.Context, spec *QuerySpec) ([]*Record, error) {
	rows, err := q.rows(ctx, spec)
	if err != nil {
		return nil, err
	}
	recs := make([]*Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, hydrate(q.root, spec, row))
	}
	return recs, nil
}

// rows executes the spec through the selected backend, consulting the
// cache when one is configured.
func (q *Query) rows(ctx context.Context, spec *QuerySpec) ([]map[string]any, error) {
	key := ""
	if q.cache != nil {
		key = cacheKey(spec)
		if rows, ok := cacheFetch(ctx, q.cache, key); ok {
			return rows, nil
		}
	}
	var (
		rows []map[string]any
		err  error
	)
	if q.cursor != nil {
		rows, err = q.cursorRows(ctx, spec)
	} else {
		rows, err = q.sqlRows(ctx, spec)
	}
	if err != nil {
		return nil, err
	}
	if q.cache != nil {
		cacheStore(ctx, q.cache, key, rows, q.cacheTTL)
	}
	return rows, nil
}

// sqlRows compiles the spec and executes it through the statement
// backend.
func (q *Query) sqlRows(ctx context.Context, spec *QuerySpec) ([]map[string]any, error) {
	query, args := compileSpec(q.stmt.Dialect(), spec)
	rows, err := q.stmt.Query(ctx, query, args)
	if err != nil {
		return nil, NewStoreError("query", err)
	}
	defer rows.Close()
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(spec.Columns))
		ptrs := make([]any, len(spec.Columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, NewStoreError("scan", err)
		}
		row := make(map[string]any, len(spec.Columns))
		for i, sc := range spec.Columns {
			row[sc.Key] = coerceValue(sc.Column, vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStoreError("query", err)
	}
	return out, nil
}

func (q *Query) cursorRows(ctx context.Context, spec *QuerySpec) ([]map[string]any, error) {
	cur, err := q.cursor.OpenCursor(ctx, spec)
	if err != nil {
		return nil, NewStoreError("cursor", err)
	}
	defer cur.Close()
	var out []map[string]any
	for cur.Next() {
		src := cur.Row()
		row := make(map[string]any, len(spec.Columns))
		for _, sc := range spec.Columns {
			row[sc.Key] = coerceValue(sc.Column, src[sc.Key])
		}
		out = append(out, row)
	}
	if err := cur.Err(); err != nil {
		return nil, NewStoreError("cursor", err)
	}
	return out, nil
}

func (q *Query) sqlCount(ctx context.Context, spec *QuerySpec) (int, error) {
	query, args := compileSpec(q.stmt.Dialect(), spec)
	rows, err := q.stmt.Query(ctx, query, args)
	if err != nil {
		return 0, NewStoreError("count", err)
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, NewStoreError("count", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, NewStoreError("count", err)
	}
	return n, nil
}

func (q *Query) cursorCount(ctx context.Context, spec *QuerySpec) (int, error) {
	cur, err := q.cursor.OpenCursor(ctx, spec)
	if err != nil {
		return 0, NewStoreError("cursor", err)
	}
	defer cur.Close()
	n := 0
	if cur.Next() {
		switch v := cur.Row()["count"].(type) {
		case int:
			n = v
		case int64:
			n = int(v)
		}
	}
	if err := cur.Err(); err != nil {
		return 0, NewStoreError("cursor", err)
	}
	return n, nil
}

// hydrate builds a record from a scanned row. Own columns land in the
// record's value map, projected relation values in its extras. Values
// are re-coerced here because cached rows skip the scan path.
func hydrate(root *schema.Descriptor, spec *QuerySpec, row map[string]any) *Record {
	rec := NewRecord(root)
	for _, sc := range spec.Columns {
		v, ok := row[sc.Key]
		if !ok {
			continue
		}
		v = coerceValue(sc.Column, v)
		if sc.Ref.Table == spec.Table && sc.Key == sc.Ref.Column {
			rec.load(sc.Key, v)
		} else {
			rec.SetExtra(sc.Key, v)
		}
	}
	return rec
}

// loadIncludes resolves eager-load paths level by level. Each level
// issues one IN query per relation over the parent key set.
func (q *Query) loadIncludes(ctx context.Context, root *schema.Descriptor, recs []*Record, paths []string) error {
	if len(recs) == 0 || len(paths) == 0 {
		return nil
	}
	type group struct {
		rel   *schema.Relation
		tails []string
	}
	var order []string
	groups := make(map[string]*group)
	for _, path := range paths {
		head, tail := path, ""
		if i := strings.Index(path, "."); i >= 0 {
			head, tail = path[:i], path[i+1:]
		}
		g, ok := groups[head]
		if !ok {
			rel, found := root.Relation(head)
			if !found {
				return NewUnknownAttributeError(root.Name, head)
			}
			g = &group{rel: rel}
			groups[head] = g
			order = append(order, head)
		}
		if tail != "" {
			g.tails = append(g.tails, tail)
		}
	}
	for _, head := range order {
		g := groups[head]
		target, err := q.reg.Target(g.rel)
		if err != nil {
			return NewConfigurationError(err.Error())
		}
		children, err := q.loadRelated(ctx, recs, g.rel, target)
		if err != nil {
			return err
		}
		if err := q.loadIncludes(ctx, target, children, g.tails); err != nil {
			return err
		}
	}
	return nil
}

// loadRelated fetches and attaches one relation for a batch of parents.
func (q *Query) loadRelated(ctx context.Context, recs []*Record, rel *schema.Relation, target *schema.Descriptor) ([]*Record, error) {
	if rel.ToMany() {
		// FK lives on the target table and points at the parent pk.
		pks := distinctValues(recs, q.rootPKName(recs))
		if len(pks) == 0 {
			return nil, nil
		}
		children, err := q.sub(target).WherePred(&Predicate{
			Op:     OpIn,
			Col:    ColumnRef{Table: target.Table, Column: rel.Column},
			Values: pks,
		}).All(ctx)
		if err != nil {
			return nil, err
		}
		byFK := make(map[any][]*Record)
		for _, c := range children {
			fk, _ := c.Get(rel.Column)
			byFK[fk] = append(byFK[fk], c)
		}
		for _, r := range recs {
			pk := r.PrimaryKey()
			kids := byFK[pk]
			if kids == nil {
				kids = []*Record{}
			}
			r.SetRelated(rel.Name, kids)
		}
		return children, nil
	}
	// FK lives on the parent and points at the target pk.
	fks := distinctValues(recs, rel.Column)
	if len(fks) == 0 {
		for _, r := range recs {
			r.SetRelated(rel.Name, (*Record)(nil))
		}
		return nil, nil
	}
	pkName := target.PrimaryKey().Name
	children, err := q.sub(target).WherePred(&Predicate{
		Op:     OpIn,
		Col:    ColumnRef{Table: target.Table, Column: pkName},
		Values: fks,
	}).All(ctx)
	if err != nil {
		return nil, err
	}
	byPK := make(map[any]*Record, len(children))
	for _, c := range children {
		byPK[c.PrimaryKey()] = c
	}
	for _, r := range recs {
		fk, _ := r.Get(rel.Column)
		if child, ok := byPK[fk]; ok {
			r.SetRelated(rel.Name, child)
		} else {
			r.SetRelated(rel.Name, (*Record)(nil))
		}
	}
	return children, nil
}

func (q *Query) rootPKName(recs []*Record) string {
	if len(recs) > 0 {
		return recs[0].Schema().PrimaryKey().Name
	}
	return q.root.PrimaryKey().Name
}

func distinctValues(recs []*Record, column string) []any {
	seen := make(map[any]struct{})
	var out []any
	for _, r := range recs {
		v, ok := r.Get(column)
		if !ok || v == nil {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// compileSpec renders a QuerySpec to SQL for the given dialect.
func compileSpec(dialect string, spec *QuerySpec) (string, []any) {
	var cols []string
	if spec.CountOnly {
		if spec.Distinct {
			cols = []string{dsql.CountDistinct(dsql.Table(spec.Table, rootPKColumn(spec)))}
		} else {
			cols = []string{dsql.Count("*")}
		}
	} else {
		for _, sc := range spec.Columns {
			cols = append(cols, sc.Ref.String())
		}
	}
	sel := dsql.Dialect(dialect).Select(cols...).From(spec.Table)
	for _, j := range spec.Joins {
		on := joinOn(j)
		if j.Outer {
			sel.LeftJoin(j.To.Table, on)
		} else {
			sel.Join(j.To.Table, on)
		}
	}
	sel.Where(compilePredicate(spec.Pred))
	for _, g := range spec.GroupBy {
		sel.GroupBy(g.String())
	}
	for _, o := range spec.Order {
		expr := o.Ref.String()
		if o.Aggregate {
			if o.Desc {
				expr = dsql.Max(expr)
			} else {
				expr = dsql.Min(expr)
			}
		}
		if o.Desc {
			expr = dsql.Desc(expr)
		}
		sel.OrderBy(expr)
	}
	if spec.Limit != nil {
		sel.Limit(*spec.Limit)
	}
	if spec.Offset != nil {
		sel.Offset(*spec.Offset)
	}
	return sel.Query()
}

func rootPKColumn(spec *QuerySpec) string {
	for _, sc := range spec.Columns {
		if sc.Ref.Table == spec.Table && sc.Column != nil && sc.Column.PrimaryKey {
			return sc.Ref.Column
		}
	}
	if len(spec.Columns) > 0 {
		return spec.Columns[0].Ref.Column
	}
	return "id"
}

func joinOn(j JoinSpec) string {
	if j.Rel.ToMany() {
		return fmt.Sprintf("%s = %s",
			dsql.Table(j.To.Table, j.Rel.Column),
			dsql.Table(j.From.Table, j.From.PrimaryKey().Name))
	}
	return fmt.Sprintf("%s = %s",
		dsql.Table(j.From.Table, j.Rel.Column),
		dsql.Table(j.To.Table, j.To.PrimaryKey().Name))
}

// compilePredicate renders a predicate tree with the dialect/sql
// builders.
func compilePredicate(p *Predicate) *dsql.Predicate {
	if p == nil {
		return nil
	}
	col := p.Col.String()
	switch p.Op {
	case OpAnd, OpOr:
		kids := make([]*dsql.Predicate, 0, len(p.Kids))
		for _, k := range p.Kids {
			kids = append(kids, compilePredicate(k))
		}
		if p.Op == OpAnd {
			return dsql.And(kids...)
		}
		return dsql.Or(kids...)
	case OpEQ:
		return dsql.EQ(col, p.Value)
	case OpNEQ:
		return dsql.NEQ(col, p.Value)
	case OpLT:
		return dsql.LT(col, p.Value)
	case OpLTE:
		return dsql.LTE(col, p.Value)
	case OpGT:
		return dsql.GT(col, p.Value)
	case OpGTE:
		return dsql.GTE(col, p.Value)
	case OpIn:
		return dsql.In(col, p.Values...)
	case OpBetween:
		return dsql.Between(col, p.Lo, p.Hi)
	case OpLike:
		return dsql.Like(col, stringify(p.Value))
	case OpILike:
		return dsql.ILike(col, stringify(p.Value))
	case OpIsNull:
		return dsql.IsNull(col)
	case OpNotNull:
		return dsql.NotNull(col)
	}
	return nil
}
