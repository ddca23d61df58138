package strata

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumenmed/strata/dialect"
	"github.com/lumenmed/strata/schema"
	"github.com/lumenmed/strata/schema/field"
)

// auditColumns are always write-protected; they are maintained by the
// lifecycle and the database, never by caller input.
var auditColumns = []string{"created_at", "creator", "updated_at", "updator"}

// Lifecycle orchestrates entity operations for one model: guarded
// population, hook dispatch and transactional writes through a
// TxRunner. A lifecycle is bound to one session and one schema.
type Lifecycle struct {
	sess      *Session
	reg       *schema.Registry
	sch       *schema.Descriptor
	hooks     Hooks
	guards    map[string]struct{}
	whitelist map[string]struct{}
	manualPK  bool
	runner    *TxRunner
	log       dialect.Logger
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithHooks installs the model's lifecycle callbacks.
func WithHooks(h Hooks) LifecycleOption {
	return func(l *Lifecycle) { l.hooks = h }
}

// WithGuards write-protects additional columns beyond the audit set.
func WithGuards(names ...string) LifecycleOption {
	return func(l *Lifecycle) {
		for _, n := range names {
			l.guards[n] = struct{}{}
		}
	}
}

// WithWhitelist restricts population to the named columns. An empty
// whitelist admits every unguarded column.
func WithWhitelist(names ...string) LifecycleOption {
	return func(l *Lifecycle) {
		l.whitelist = make(map[string]struct{}, len(names))
		for _, n := range names {
			l.whitelist[n] = struct{}{}
		}
	}
}

// AllowManualPrimaryKey permits callers to supply the primary key on
// create. Without it the key is always generated.
func AllowManualPrimaryKey() LifecycleOption {
	return func(l *Lifecycle) { l.manualPK = true }
}

// Autocommit makes every operation manage its own transaction even
// outside scoped session blocks.
func Autocommit(v bool) LifecycleOption {
	return func(l *Lifecycle) {
		l.runner = NewTxRunner(l.sess, WithAutocommit(v), WithTxLogger(l.log))
	}
}

// WithLifecycleLogger overrides the lifecycle's logger.
func WithLifecycleLogger(lg dialect.Logger) LifecycleOption {
	return func(l *Lifecycle) { l.log = lg }
}

// NewLifecycle returns a lifecycle over the given session and schema.
func NewLifecycle(sess *Session, reg *schema.Registry, sch *schema.Descriptor, opts ...LifecycleOption) (*Lifecycle, error) {
	if sess == nil {
		return nil, NewConfigurationError("lifecycle requires a session")
	}
	if sch == nil {
		return nil, NewConfigurationError("lifecycle requires a schema")
	}
	if reg == nil {
		reg = schema.NewRegistry()
		if err := reg.Register(sch); err != nil {
			return nil, NewConfigurationError(err.Error())
		}
	}
	l := &Lifecycle{
		sess:   sess,
		reg:    reg,
		sch:    sch,
		guards: make(map[string]struct{}),
		log:    log.Println,
	}
	l.runner = NewTxRunner(sess, WithTxLogger(l.log))
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Query returns a fresh query builder bound to the lifecycle's schema.
func (l *Lifecycle) Query() *Query {
	return NewQuery(l.sess, l.reg, l.sch)
}

// populate assigns caller input to the record. Unknown names, guarded
// columns and names outside the whitelist are dropped silently; string
// values are trimmed. Columns are visited in schema order so repeated
// calls produce identical statements.
func (l *Lifecycle) populate(rec *Record, data map[string]any, create bool) error {
	pk := l.sch.PrimaryKey()
	for _, col := range l.sch.Columns {
		v, ok := data[col.Name]
		if !ok {
			continue
		}
		if col.Name == pk.Name && !(create && l.manualPK) {
			continue
		}
		if l.guarded(col.Name) {
			continue
		}
		if len(l.whitelist) > 0 {
			if _, ok := l.whitelist[col.Name]; !ok {
				continue
			}
		}
		if s, ok := v.(string); ok {
			v = strings.TrimSpace(s)
		}
		if err := validateEnum(col, v); err != nil {
			return err
		}
		rec.set(col.Name, v)
	}
	return nil
}

func (l *Lifecycle) guarded(name string) bool {
	if _, ok := l.guards[name]; ok {
		return true
	}
	for _, a := range auditColumns {
		if a == name {
			return true
		}
	}
	return false
}

func validateEnum(col *schema.Column, v any) error {
	if col.Type != field.TypeEnum || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return NewValidationError(col.Name, errors.New("enum value must be a string"))
	}
	for _, allowed := range col.EnumValues {
		if allowed == s {
			return nil
		}
	}
	return NewValidationError(col.Name, errors.New("value "+s+" is not in the enum set"))
}

// applyDefaults fills declared column defaults, generates UUID primary
// keys, and stamps the creation audit columns.
func (l *Lifecycle) applyDefaults(rec *Record) {
	for _, col := range l.sch.Columns {
		if rec.Has(col.Name) || col.Default == nil {
			continue
		}
		if fn, ok := col.Default.(func() any); ok {
			rec.set(col.Name, fn())
		} else {
			rec.set(col.Name, col.Default)
		}
	}
	pk := l.sch.PrimaryKey()
	if !rec.Has(pk.Name) && pk.Type == field.TypeUUID {
		rec.set(pk.Name, uuid.New())
	}
	now := time.Now().UTC()
	for _, name := range []string{"created_at", "updated_at"} {
		if _, ok := l.sch.Column(name); ok && !rec.Has(name) {
			rec.set(name, now)
		}
	}
}

// touch stamps the update audit column when the schema declares one.
func (l *Lifecycle) touch(rec *Record) {
	if _, ok := l.sch.Column("updated_at"); ok {
		rec.set("updated_at", time.Now().UTC())
	}
}

// Create populates a new record, runs the create hooks and inserts it.
func (l *Lifecycle) Create(ctx context.Context, data map[string]any) (*Record, error) {
	return l.runner.Run(ctx, func(ctx context.Context) (*Record, error) {
		rec := NewRecord(l.sch)
		if err := l.populate(rec, data, true); err != nil {
			return nil, err
		}
		l.applyDefaults(rec)
		if err := l.hooks.run(ctx, l.hooks.BeforeCreate, "before_create", rec); err != nil {
			return nil, err
		}
		if err := l.hooks.run(ctx, l.hooks.BeforeSave, "before_save", rec); err != nil {
			return nil, err
		}
		l.sess.Add(rec)
		if err := l.sess.Flush(ctx); err != nil {
			return nil, err
		}
		if err := l.hooks.run(ctx, l.hooks.AfterCreate, "after_create", rec); err != nil {
			return nil, err
		}
		if err := l.hooks.runSnapshot(ctx, l.hooks.AfterSave, "after_save", rec, nil); err != nil {
			return nil, err
		}
		return rec, nil
	})
}

// Update looks up the record named by the data's primary key, populates
// the remaining fields and writes the changed columns. A missing row
// fails with NotFoundError before any write is issued. After-hooks
// receive the snapshot taken before population.
func (l *Lifecycle) Update(ctx context.Context, data map[string]any) (*Record, error) {
	return l.runner.Run(ctx, func(ctx context.Context) (*Record, error) {
		pkName := l.sch.PrimaryKey().Name
		id, ok := data[pkName]
		if !ok || id == nil {
			return nil, NewValidationError(pkName, errors.New("update requires a primary key"))
		}
		rec, err := l.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, NewNotFoundErrorWithID(l.sch.Name, id)
		}
		prior := rec.Snapshot()
		if err := l.populate(rec, data, false); err != nil {
			return nil, err
		}
		if rec.IsDirty() {
			l.touch(rec)
		}
		if err := l.hooks.run(ctx, l.hooks.BeforeUpdate, "before_update", rec); err != nil {
			return nil, err
		}
		if err := l.hooks.run(ctx, l.hooks.BeforeSave, "before_save", rec); err != nil {
			return nil, err
		}
		l.sess.Dirty(rec)
		if err := l.sess.Flush(ctx); err != nil {
			return nil, err
		}
		if err := l.hooks.runSnapshot(ctx, l.hooks.AfterUpdate, "after_update", rec, prior); err != nil {
			return nil, err
		}
		if err := l.hooks.runSnapshot(ctx, l.hooks.AfterSave, "after_save", rec, prior); err != nil {
			return nil, err
		}
		return rec, nil
	})
}

// Save creates when the data carries no primary key and updates
// otherwise.
func (l *Lifecycle) Save(ctx context.Context, data map[string]any) (*Record, error) {
	if id, ok := data[l.sch.PrimaryKey().Name]; ok && id != nil {
		return l.Update(ctx, data)
	}
	return l.Create(ctx, data)
}

// Upsert matches on the first unique column present in the data, primary
// key first, and updates the match or creates a new record.
func (l *Lifecycle) Upsert(ctx context.Context, data map[string]any) (*Record, error) {
	pkName := l.sch.PrimaryKey().Name
	for _, name := range l.sch.UniqueColumns() {
		v, ok := data[name]
		if !ok || v == nil {
			continue
		}
		existing, err := l.Query().Where(Filter{name: v}).First(ctx)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			continue
		}
		merged := make(map[string]any, len(data)+1)
		for k, val := range data {
			merged[k] = val
		}
		merged[pkName] = existing.PrimaryKey()
		return l.Update(ctx, merged)
	}
	return l.Create(ctx, data)
}

// DeleteOption configures a delete or soft-delete call.
type DeleteOption func(*deleteOptions)

type deleteOptions struct {
	permanent bool
	by        any
	reason    string
}

// Permanently forces a hard delete on soft-deletable models.
func Permanently() DeleteOption {
	return func(o *deleteOptions) { o.permanent = true }
}

// DeletedBy records who performed the soft delete.
func DeletedBy(v any) DeleteOption {
	return func(o *deleteOptions) { o.by = v }
}

// WithReason records why the record was soft-deleted.
func WithReason(reason string) DeleteOption {
	return func(o *deleteOptions) { o.reason = reason }
}

// Delete removes the record with the given primary key. Models with a
// deletion marker column are soft-deleted unless Permanently is given.
func (l *Lifecycle) Delete(ctx context.Context, id any, opts ...DeleteOption) (bool, error) {
	var o deleteOptions
	for _, opt := range opts {
		opt(&o)
	}
	if l.sch.HasSoftDelete() && !o.permanent {
		rec, err := l.softDelete(ctx, id, o)
		return rec != nil, err
	}
	rec, err := l.runner.Run(ctx, func(ctx context.Context) (*Record, error) {
		rec, err := l.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, NewNotFoundErrorWithID(l.sch.Name, id)
		}
		if err := l.hooks.run(ctx, l.hooks.BeforeDelete, "before_delete", rec); err != nil {
			return nil, err
		}
		l.sess.Remove(rec)
		if err := l.sess.Flush(ctx); err != nil {
			return nil, err
		}
		if err := l.hooks.run(ctx, l.hooks.AfterDelete, "after_delete", rec); err != nil {
			return nil, err
		}
		return rec, nil
	})
	return rec != nil, err
}

// SoftDelete marks the record deleted without removing its row. Calling
// it on an already-deleted record is a no-op success.
func (l *Lifecycle) SoftDelete(ctx context.Context, id any, opts ...DeleteOption) (*Record, error) {
	var o deleteOptions
	for _, opt := range opts {
		opt(&o)
	}
	return l.softDelete(ctx, id, o)
}

func (l *Lifecycle) softDelete(ctx context.Context, id any, o deleteOptions) (*Record, error) {
	if !l.sch.HasSoftDelete() {
		return nil, NewConfigurationError(l.sch.Name + " has no deletion marker column")
	}
	return l.runner.Run(ctx, func(ctx context.Context) (*Record, error) {
		rec, err := l.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, NewNotFoundErrorWithID(l.sch.Name, id)
		}
		if rec.SoftDeleted() {
			return rec, nil
		}
		if err := l.hooks.run(ctx, l.hooks.BeforeSoftDelete, "before_soft_delete", rec); err != nil {
			return nil, err
		}
		rec.set(schema.SoftDeleteColumn, time.Now().UTC())
		if _, ok := l.sch.Column(schema.SoftDeleteByColumn); ok && o.by != nil {
			rec.set(schema.SoftDeleteByColumn, o.by)
		}
		if _, ok := l.sch.Column(schema.DeletionReasonColumn); ok && o.reason != "" {
			rec.set(schema.DeletionReasonColumn, o.reason)
		}
		l.sess.Dirty(rec)
		if err := l.sess.Flush(ctx); err != nil {
			return nil, err
		}
		if err := l.hooks.run(ctx, l.hooks.AfterSoftDelete, "after_soft_delete", rec); err != nil {
			return nil, err
		}
		return rec, nil
	})
}

// Restore clears the deletion marker of a soft-deleted record. Restoring
// a live record is a no-op success.
func (l *Lifecycle) Restore(ctx context.Context, id any) (*Record, error) {
	if !l.sch.HasSoftDelete() {
		return nil, NewConfigurationError(l.sch.Name + " has no deletion marker column")
	}
	return l.runner.Run(ctx, func(ctx context.Context) (*Record, error) {
		rec, err := l.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, NewNotFoundErrorWithID(l.sch.Name, id)
		}
		if !rec.SoftDeleted() {
			return rec, nil
		}
		if err := l.hooks.run(ctx, l.hooks.BeforeRestore, "before_restore", rec); err != nil {
			return nil, err
		}
		rec.set(schema.SoftDeleteColumn, nil)
		if _, ok := l.sch.Column(schema.SoftDeleteByColumn); ok {
			rec.set(schema.SoftDeleteByColumn, nil)
		}
		if _, ok := l.sch.Column(schema.DeletionReasonColumn); ok {
			rec.set(schema.DeletionReasonColumn, nil)
		}
		l.sess.Dirty(rec)
		if err := l.sess.Flush(ctx); err != nil {
			return nil, err
		}
		if err := l.hooks.run(ctx, l.hooks.AfterRestore, "after_restore", rec); err != nil {
			return nil, err
		}
		return rec, nil
	})
}

// get loads a record by primary key, or nil when it does not exist.
func (l *Lifecycle) get(ctx context.Context, id any) (*Record, error) {
	if id == nil {
		return nil, nil
	}
	return l.Query().Where(Filter{l.sch.PrimaryKey().Name: id}).First(ctx)
}

// Find returns the record with the given primary key, eager-loading the
// requested relations. A missing row is a NotFoundError.
func (l *Lifecycle) Find(ctx context.Context, id any, include ...string) (*Record, error) {
	if id == nil {
		return nil, NewNotFoundError(l.sch.Name)
	}
	rec, err := l.Query().
		Where(Filter{l.sch.PrimaryKey().Name: id}).
		Include(include...).
		First(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, NewNotFoundErrorWithID(l.sch.Name, id)
	}
	return rec, nil
}

// FindBy returns the record matching one column value. A missing row is
// a NotFoundError.
func (l *Lifecycle) FindBy(ctx context.Context, column string, v any) (*Record, error) {
	rec, err := l.Query().Where(Filter{column: v}).First(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, NewNotFoundError(l.sch.Name)
	}
	return rec, nil
}

// First returns the first record matching the filter, or nil.
func (l *Lifecycle) First(ctx context.Context, f Filter) (*Record, error) {
	return l.Query().Where(f).First(ctx)
}

// All returns every record matching the filter.
func (l *Lifecycle) All(ctx context.Context, f Filter) ([]*Record, error) {
	return l.Query().Where(f).All(ctx)
}

// Count returns the number of records matching the filter.
func (l *Lifecycle) Count(ctx context.Context, f Filter) (int, error) {
	return l.Query().Where(f).Count(ctx)
}

// Exists reports whether any record matches the filter.
func (l *Lifecycle) Exists(ctx context.Context, f Filter) (bool, error) {
	return l.Query().Where(f).Exists(ctx)
}

// GetOrCreate returns the first record matching the filter, creating one
// from data when nothing matches. A nil filter matches on the data
// itself.
func (l *Lifecycle) GetOrCreate(ctx context.Context, data map[string]any, filters Filter) (*Record, error) {
	if filters == nil {
		filters = Filter(data)
	}
	rec, err := l.First(ctx, filters)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}
	return l.Create(ctx, data)
}

// CreateOrUpdate updates the first record matching the filter with data,
// creating one when nothing matches. A nil filter matches on the data
// itself.
func (l *Lifecycle) CreateOrUpdate(ctx context.Context, data map[string]any, filters Filter) (*Record, error) {
	if filters == nil {
		filters = Filter(data)
	}
	rec, err := l.First(ctx, filters)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return l.Create(ctx, data)
	}
	merged := make(map[string]any, len(data)+1)
	for k, v := range data {
		merged[k] = v
	}
	merged[l.sch.PrimaryKey().Name] = rec.PrimaryKey()
	return l.Update(ctx, merged)
}
