// Package schema holds the runtime model descriptors the query compiler
// and the entity lifecycle operate on: per model, an ordered set of named
// columns and named relations, immutable after registration.
package schema

import (
	"fmt"

	"github.com/go-openapi/inflect"

	"github.com/lumenmed/strata/schema/edge"
	"github.com/lumenmed/strata/schema/field"
)

// Conventional column names recognized across schemas.
const (
	SoftDeleteColumn     = "deleted_at"
	SoftDeleteByColumn   = "deleted_by"
	DeletionReasonColumn = "deletion_reason"
)

// Column is a schema column. It aliases the field descriptor; columns are
// built with the schema/field package.
type Column = field.Descriptor

// Relation is a schema relation. To-one relations hold their foreign key
// on the owning table, to-many relations on the target table.
type Relation struct {
	Name   string
	Target string
	Unique bool
	Column string
}

// ToMany reports whether the relation points at a collection.
func (r *Relation) ToMany() bool { return !r.Unique }

// Descriptor describes one model: its table, ordered columns and
// relations. Descriptors are immutable once built.
type Descriptor struct {
	Name      string
	Table     string
	Columns   []*Column
	Relations []*Relation

	pk       *Column
	colIndex map[string]*Column
	relIndex map[string]*Relation
}

// Option configures a Descriptor under construction.
type Option func(*Descriptor)

// Table overrides the table name. The default is the underscored plural
// of the model name.
func Table(name string) Option {
	return func(d *Descriptor) { d.Table = name }
}

// Fields adds columns to the schema.
func Fields(builders ...*field.Builder) Option {
	return func(d *Descriptor) {
		for _, b := range builders {
			d.Columns = append(d.Columns, b.Descriptor())
		}
	}
}

// Edges adds relations to the schema.
func Edges(builders ...*edge.Builder) Option {
	return func(d *Descriptor) {
		for _, b := range builders {
			ed := b.Descriptor()
			d.Relations = append(d.Relations, &Relation{
				Name:   ed.Name,
				Target: ed.Target,
				Unique: ed.Unique,
				Column: ed.Column,
			})
		}
	}
}

// New builds a model descriptor. The primary key is the column flagged
// PrimaryKey, falling back to a column named "id".
func New(name string, opts ...Option) (*Descriptor, error) {
	if name == "" {
		return nil, fmt.Errorf("schema: model name is required")
	}
	d := &Descriptor{Name: name}
	for _, opt := range opts {
		opt(d)
	}
	if d.Table == "" {
		d.Table = inflect.Pluralize(inflect.Underscore(name))
	}
	d.colIndex = make(map[string]*Column, len(d.Columns))
	for _, c := range d.Columns {
		if c.Name == "" {
			return nil, fmt.Errorf("schema: %s has a column without a name", name)
		}
		if _, ok := d.colIndex[c.Name]; ok {
			return nil, fmt.Errorf("schema: %s declares column %q twice", name, c.Name)
		}
		d.colIndex[c.Name] = c
		if c.PrimaryKey {
			if d.pk != nil {
				return nil, fmt.Errorf("schema: %s declares multiple primary keys", name)
			}
			d.pk = c
		}
	}
	if d.pk == nil {
		if c, ok := d.colIndex["id"]; ok {
			d.pk = c
		} else {
			return nil, fmt.Errorf("schema: %s has no primary key and no id column", name)
		}
	}
	d.relIndex = make(map[string]*Relation, len(d.Relations))
	for _, r := range d.Relations {
		if r.Name == "" || r.Target == "" {
			return nil, fmt.Errorf("schema: %s has a relation without a name or target", name)
		}
		if _, ok := d.colIndex[r.Name]; ok {
			return nil, fmt.Errorf("schema: %s relation %q collides with a column", name, r.Name)
		}
		if _, ok := d.relIndex[r.Name]; ok {
			return nil, fmt.Errorf("schema: %s declares relation %q twice", name, r.Name)
		}
		if r.Column == "" {
			return nil, fmt.Errorf("schema: %s relation %q has no foreign-key column", name, r.Name)
		}
		if r.Unique {
			// To-one keeps its FK on the owning table.
			if _, ok := d.colIndex[r.Column]; !ok {
				return nil, fmt.Errorf("schema: %s relation %q references unknown column %q", name, r.Name, r.Column)
			}
		}
		d.relIndex[r.Name] = r
	}
	return d, nil
}

// MustNew is like New but panics on error. Intended for package-level
// schema variables.
func MustNew(name string, opts ...Option) *Descriptor {
	d, err := New(name, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// PrimaryKey returns the primary-key column.
func (d *Descriptor) PrimaryKey() *Column { return d.pk }

// Column returns the named column.
func (d *Descriptor) Column(name string) (*Column, bool) {
	c, ok := d.colIndex[name]
	return c, ok
}

// Relation returns the named relation.
func (d *Descriptor) Relation(name string) (*Relation, bool) {
	r, ok := d.relIndex[name]
	return r, ok
}

// UniqueColumns returns the names of all unique columns, primary key
// first. Used by upsert lookups.
func (d *Descriptor) UniqueColumns() []string {
	names := []string{d.pk.Name}
	for _, c := range d.Columns {
		if c.Unique && c != d.pk {
			names = append(names, c.Name)
		}
	}
	return names
}

// HasSoftDelete reports whether the schema carries a deletion marker
// column.
func (d *Descriptor) HasSoftDelete() bool {
	_, ok := d.colIndex[SoftDeleteColumn]
	return ok
}

// Registry resolves relation targets by schema name. Registration is not
// safe for concurrent use; register all schemas during setup.
type Registry struct {
	schemas map[string]*Descriptor
}

// NewRegistry returns an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Descriptor)}
}

// Register adds a descriptor to the registry.
func (r *Registry) Register(ds ...*Descriptor) error {
	for _, d := range ds {
		if _, ok := r.schemas[d.Name]; ok {
			return fmt.Errorf("schema: %q already registered", d.Name)
		}
		r.schemas[d.Name] = d
	}
	return nil
}

// Lookup returns the descriptor registered under the given model name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	d, ok := r.schemas[name]
	return d, ok
}

// Target resolves the target descriptor of a relation.
func (r *Registry) Target(rel *Relation) (*Descriptor, error) {
	d, ok := r.schemas[rel.Target]
	if !ok {
		return nil, fmt.Errorf("schema: relation %q targets unregistered schema %q", rel.Name, rel.Target)
	}
	return d, nil
}
