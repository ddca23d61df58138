package strata

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lumenmed/strata/schema"
	"github.com/lumenmed/strata/schema/field"
)

// Record is a schema-bound entity instance. Column values live in a flat
// map keyed by column name; values projected through relation paths and
// eager-loaded relations are carried separately so that own columns never
// collide with joined data.
type Record struct {
	schema  *schema.Descriptor
	values  map[string]any
	extras  map[string]any
	related map[string]any // *Record for to-one, []*Record for to-many

	dirty    []string
	dirtySet map[string]struct{}
}

// NewRecord returns an empty record bound to the given schema.
func NewRecord(sc *schema.Descriptor) *Record {
	return &Record{
		schema:   sc,
		values:   make(map[string]any),
		extras:   make(map[string]any),
		related:  make(map[string]any),
		dirtySet: make(map[string]struct{}),
	}
}

// Schema returns the descriptor the record is bound to.
func (r *Record) Schema() *schema.Descriptor {
	return r.schema
}

// Get returns the value of an own column. The second return reports
// whether the column has been assigned or loaded.
func (r *Record) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Set assigns an own column value and marks the column dirty. Assigning
// a name the schema does not declare is an UnknownAttributeError.
func (r *Record) Set(name string, v any) error {
	if _, ok := r.schema.Column(name); !ok {
		return NewUnknownAttributeError(r.schema.Name, name)
	}
	r.set(name, v)
	return nil
}

// set assigns without a schema check and tracks dirtiness in assignment
// order so that flushed statements are deterministic.
func (r *Record) set(name string, v any) {
	r.values[name] = v
	if _, seen := r.dirtySet[name]; !seen {
		r.dirtySet[name] = struct{}{}
		r.dirty = append(r.dirty, name)
	}
}

// load assigns a column value without marking it dirty. Used when
// hydrating from the store.
func (r *Record) load(name string, v any) {
	r.values[name] = v
}

// PrimaryKey returns the primary key value, or nil when unset.
func (r *Record) PrimaryKey() any {
	return r.values[r.schema.PrimaryKey().Name]
}

// Has reports whether the column has an assigned or loaded value.
func (r *Record) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// Extra returns a value projected through a relation path, keyed by its
// alias or dotted path.
func (r *Record) Extra(key string) (any, bool) {
	v, ok := r.extras[key]
	return v, ok
}

// SetExtra stores a value projected through a relation path under its
// alias or dotted path.
func (r *Record) SetExtra(key string, v any) {
	r.extras[key] = v
}

// Related returns an eager-loaded relation: a *Record for to-one
// relations, a []*Record for to-many. The second return reports whether
// the relation was loaded.
func (r *Record) Related(name string) (any, bool) {
	v, ok := r.related[name]
	return v, ok
}

// SetRelated attaches a loaded relation value.
func (r *Record) SetRelated(name string, v any) {
	r.related[name] = v
}

// Dirty returns the names of columns assigned since the record was
// loaded or last flushed, in assignment order.
func (r *Record) Dirty() []string {
	out := make([]string, len(r.dirty))
	copy(out, r.dirty)
	return out
}

// IsDirty reports whether any column has an unflushed assignment.
func (r *Record) IsDirty() bool {
	return len(r.dirty) > 0
}

func (r *Record) clearDirty() {
	r.dirty = r.dirty[:0]
	r.dirtySet = make(map[string]struct{})
}

// Values returns a copy of the own column values.
func (r *Record) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Columns returns the names of assigned columns in schema declaration
// order.
func (r *Record) Columns() []string {
	var out []string
	for _, c := range r.schema.Columns {
		if _, ok := r.values[c.Name]; ok {
			out = append(out, c.Name)
		}
	}
	return out
}

// Snapshot returns a copy of the record's current column values, used as
// the prior state handed to after-hooks. Relations and extras are shared,
// not copied.
func (r *Record) Snapshot() *Record {
	prior := NewRecord(r.schema)
	for k, v := range r.values {
		prior.values[k] = v
	}
	prior.extras = r.extras
	prior.related = r.related
	return prior
}

// SoftDeleted reports whether the record carries a soft-delete timestamp.
func (r *Record) SoftDeleted() bool {
	if !r.schema.HasSoftDelete() {
		return false
	}
	v, ok := r.values[schema.SoftDeleteColumn]
	return ok && v != nil
}

// Label returns a short human-readable identity for the record, preferring
// a name-like column over the primary key.
func (r *Record) Label() string {
	for _, name := range []string{"label", "name", "title"} {
		if v, ok := r.values[name]; ok && v != nil {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	if pk := r.PrimaryKey(); pk != nil {
		return fmt.Sprintf("%s(%v)", r.schema.Name, pk)
	}
	return r.schema.Name
}

// String implements fmt.Stringer.
func (r *Record) String() string {
	keys := make([]string, 0, len(r.values))
	for k := range r.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := r.schema.Name + "("
	for i, k := range keys {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s=%v", k, r.values[k])
	}
	return s + ")"
}

// coerceValue normalizes a scanned database value to the Go type the
// column declares. Drivers disagree on the wire representation of
// booleans, UUIDs and decimals, so hydration funnels through here.
func coerceValue(col *schema.Column, raw any) any {
	if raw == nil || col == nil {
		return raw
	}
	switch col.Type {
	case field.TypeBool:
		switch v := raw.(type) {
		case bool:
			return v
		case int64:
			return v != 0
		}
	case field.TypeInt, field.TypeInt64:
		if v, ok := raw.([]byte); ok {
			var n int64
			fmt.Sscan(string(v), &n)
			return n
		}
		rv := reflect.ValueOf(raw)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return rv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return int64(rv.Uint())
		}
	case field.TypeFloat64:
		if v, ok := raw.([]byte); ok {
			var f float64
			fmt.Sscan(string(v), &f)
			return f
		}
		rv := reflect.ValueOf(raw)
		switch rv.Kind() {
		case reflect.Float32, reflect.Float64:
			return rv.Float()
		}
	case field.TypeString, field.TypeEnum, field.TypeDecimal:
		switch v := raw.(type) {
		case string:
			return v
		case []byte:
			return string(v)
		}
	case field.TypeTime:
		switch v := raw.(type) {
		case time.Time:
			return v
		case string:
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t
			}
			if t, err := time.Parse("2006-01-02 15:04:05", v); err == nil {
				return t
			}
		}
	case field.TypeUUID:
		switch v := raw.(type) {
		case uuid.UUID:
			return v
		case string:
			if u, err := uuid.Parse(v); err == nil {
				return u
			}
		case []byte:
			if u, err := uuid.Parse(string(v)); err == nil {
				return u
			}
		}
	}
	return raw
}
