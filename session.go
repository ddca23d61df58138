package strata

import (
	"context"
	"log"

	"github.com/lumenmed/strata/dialect"
	dsql "github.com/lumenmed/strata/dialect/sql"
)

type opKind uint8

const (
	opInsert opKind = iota
	opUpdate
	opDelete
)

type pendingOp struct {
	kind opKind
	rec  *Record
}

// Session binds entity work to one driver connection or transaction. It
// queues pending writes and flushes them in order, and tracks scoped
// transaction blocks with a reentrancy depth counter. A session is not
// safe for concurrent use.
type Session struct {
	drv dialect.Driver
	log dialect.Logger

	tx      dialect.Tx
	depth   int
	scoped  bool
	pending []pendingOp
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger overrides the session's logger.
func WithSessionLogger(l dialect.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// NewSession returns a session over the given driver.
func NewSession(drv dialect.Driver, opts ...SessionOption) *Session {
	s := &Session{drv: drv, log: log.Println}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dialect returns the driver's dialect name.
func (s *Session) Dialect() string { return s.drv.Dialect() }

// conn returns the active transaction when one is open, otherwise the
// driver itself.
func (s *Session) conn() dialect.ExecQuerier {
	if s.tx != nil {
		return s.tx
	}
	return s.drv
}

// Query executes a query through the session's active connection.
func (s *Session) Query(ctx context.Context, query string, args []any) (*dsql.Rows, error) {
	var rows dsql.Rows
	if err := s.conn().Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	return &rows, nil
}

// exec executes a statement through the session's active connection.
func (s *Session) exec(ctx context.Context, query string, args []any) (dsql.Result, error) {
	var res dsql.Result
	if err := s.conn().Exec(ctx, query, args, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// InTransaction reports whether a transaction is open.
func (s *Session) InTransaction() bool { return s.tx != nil }

// ScopedTx reports whether the open transaction was started by a scoped
// block, which makes lifecycle operations self-manage their commits.
func (s *Session) ScopedTx() bool { return s.scoped }

// Begin opens a transaction. Beginning inside an open transaction is an
// error; scoped nesting goes through BeginFunc.
func (s *Session) Begin(ctx context.Context) error {
	if s.tx != nil {
		return ErrTxStarted
	}
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return NewStoreError("begin", err)
	}
	s.tx = tx
	return nil
}

// BeginFunc runs fn inside a scoped transaction block. The outermost
// block opens the transaction and commits or rolls back when fn returns;
// nested blocks only bump the depth counter and reuse the open
// transaction. A panic inside fn rolls back before repanicking.
func (s *Session) BeginFunc(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx != nil {
		s.depth++
		defer func() { s.depth-- }()
		return fn(ctx)
	}
	if err := s.Begin(ctx); err != nil {
		return err
	}
	s.scoped = true
	s.depth = 1
	defer func() {
		s.depth = 0
		s.scoped = false
		if v := recover(); v != nil {
			if err := s.Rollback(); err != nil {
				s.log("strata: rollback after panic:", err)
			}
			panic(v)
		}
	}()
	if err := fn(ctx); err != nil {
		if rerr := s.Rollback(); rerr != nil {
			s.log("strata: rollback:", rerr)
		}
		return err
	}
	return s.Commit(ctx)
}

// Commit flushes pending writes and commits the open transaction.
func (s *Session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return ErrTxNotStarted
	}
	if err := s.Flush(ctx); err != nil {
		return err
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return NewStoreError("commit", err)
	}
	return nil
}

// Rollback discards pending writes and rolls back the open transaction.
func (s *Session) Rollback() error {
	if s.tx == nil {
		return ErrTxNotStarted
	}
	s.pending = nil
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil {
		return &RollbackError{Err: err}
	}
	return nil
}

// Add stages a record for insertion on the next flush.
func (s *Session) Add(rec *Record) {
	s.pending = append(s.pending, pendingOp{kind: opInsert, rec: rec})
}

// Dirty stages a record's changed columns for update on the next flush.
// Staging the same record twice is a no-op.
func (s *Session) Dirty(rec *Record) {
	for _, op := range s.pending {
		if op.kind == opUpdate && op.rec == rec {
			return
		}
	}
	s.pending = append(s.pending, pendingOp{kind: opUpdate, rec: rec})
}

// Remove stages a record for deletion on the next flush.
func (s *Session) Remove(rec *Record) {
	s.pending = append(s.pending, pendingOp{kind: opDelete, rec: rec})
}

// Flush writes pending operations to the store in staging order. The
// first failure stops the drain; remaining operations stay queued so a
// rollback can discard them.
func (s *Session) Flush(ctx context.Context) error {
	for len(s.pending) > 0 {
		op := s.pending[0]
		var err error
		switch op.kind {
		case opInsert:
			err = s.flushInsert(ctx, op.rec)
		case opUpdate:
			err = s.flushUpdate(ctx, op.rec)
		case opDelete:
			err = s.flushDelete(ctx, op.rec)
		}
		if err != nil {
			return err
		}
		s.pending = s.pending[1:]
	}
	return nil
}

func (s *Session) flushInsert(ctx context.Context, rec *Record) error {
	sc := rec.Schema()
	pk := sc.PrimaryKey()
	ins := dsql.Dialect(s.Dialect()).Insert(sc.Table)
	for _, name := range rec.Columns() {
		v, _ := rec.Get(name)
		ins.Set(name, v)
	}
	// Databases assign missing integer keys; read the value back.
	if !rec.Has(pk.Name) && pk.Type.Numeric() {
		if s.Dialect() == dialect.Postgres {
			query, args := ins.Returning(pk.Name).Query()
			rows, err := s.Query(ctx, query, args)
			if err != nil {
				return classifyStoreErr("insert", err)
			}
			defer rows.Close()
			var id int64
			if rows.Next() {
				if err := rows.Scan(&id); err != nil {
					return NewStoreError("insert", err)
				}
			}
			if err := rows.Err(); err != nil {
				return NewStoreError("insert", err)
			}
			rec.load(pk.Name, id)
			rec.clearDirty()
			return nil
		}
		query, args := ins.Query()
		res, err := s.exec(ctx, query, args)
		if err != nil {
			return classifyStoreErr("insert", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			rec.load(pk.Name, id)
		}
		rec.clearDirty()
		return nil
	}
	query, args := ins.Query()
	if _, err := s.exec(ctx, query, args); err != nil {
		return classifyStoreErr("insert", err)
	}
	rec.clearDirty()
	return nil
}

func (s *Session) flushUpdate(ctx context.Context, rec *Record) error {
	dirty := rec.Dirty()
	if len(dirty) == 0 {
		return nil
	}
	sc := rec.Schema()
	pk := sc.PrimaryKey()
	pkv := rec.PrimaryKey()
	if pkv == nil {
		return NewValidationError(pk.Name, ErrNotFound)
	}
	upd := dsql.Dialect(s.Dialect()).Update(sc.Table)
	for _, name := range dirty {
		v, _ := rec.Get(name)
		upd.Set(name, v)
	}
	upd.Where(dsql.EQ(pk.Name, pkv))
	query, args := upd.Query()
	if _, err := s.exec(ctx, query, args); err != nil {
		return classifyStoreErr("update", err)
	}
	rec.clearDirty()
	return nil
}

func (s *Session) flushDelete(ctx context.Context, rec *Record) error {
	sc := rec.Schema()
	pk := sc.PrimaryKey()
	pkv := rec.PrimaryKey()
	if pkv == nil {
		return NewValidationError(pk.Name, ErrNotFound)
	}
	del := dsql.Dialect(s.Dialect()).Delete(sc.Table)
	del.Where(dsql.EQ(pk.Name, pkv))
	query, args := del.Query()
	if _, err := s.exec(ctx, query, args); err != nil {
		return classifyStoreErr("delete", err)
	}
	return nil
}

// Refresh re-reads the record's row and overwrites its column values.
func (s *Session) Refresh(ctx context.Context, rec *Record) error {
	sc := rec.Schema()
	pk := sc.PrimaryKey()
	pkv := rec.PrimaryKey()
	if pkv == nil {
		return NewNotFoundError(sc.Name)
	}
	cols := make([]string, len(sc.Columns))
	for i, c := range sc.Columns {
		cols[i] = c.Name
	}
	sel := dsql.Dialect(s.Dialect()).Select(cols...).From(sc.Table)
	sel.Where(dsql.EQ(pk.Name, pkv)).Limit(1)
	query, args := sel.Query()
	rows, err := s.Query(ctx, query, args)
	if err != nil {
		return NewStoreError("refresh", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return NewStoreError("refresh", err)
		}
		return NewNotFoundErrorWithID(sc.Name, pkv)
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return NewStoreError("refresh", err)
	}
	for i, c := range sc.Columns {
		rec.load(c.Name, coerceValue(c, vals[i]))
	}
	rec.clearDirty()
	return nil
}

// Close closes the underlying driver.
func (s *Session) Close() error {
	return s.drv.Close()
}

// classifyStoreErr maps driver failures onto the error taxonomy,
// recognizing constraint violations across the supported dialects.
func classifyStoreErr(op string, err error) error {
	if dsql.IsConstraintViolation(err) {
		return NewConstraintError(err.Error(), err)
	}
	return NewStoreError(op, err)
}

var _ Querier = (*Session)(nil)
