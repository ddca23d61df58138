// Package edge provides fluent builders for the relation descriptors of a
// schema. Cardinality follows the Unique modifier: a unique edge is
// to-one, everything else is to-many.
//
//	// Study belongs to one Patient through studies.patient_id.
//	edge.To("patient", "Patient").Unique().Field("patient_id")
//
//	// Study has many Series through series.study_id.
//	edge.To("series", "Series").Ref("study_id")
package edge

// Descriptor holds the configuration of a single relation.
type Descriptor struct {
	Name   string
	Target string // target schema name, resolved through the registry
	Unique bool   // to-one when set
	Column string // FK column: on the owner for to-one, on the target for to-many
}

// Builder wraps a Descriptor with chainable modifiers.
type Builder struct {
	desc *Descriptor
}

// To returns a new relation builder from the owning schema to the named
// target schema.
func To(name, target string) *Builder {
	return &Builder{desc: &Descriptor{Name: name, Target: target}}
}

// Unique makes the relation to-one.
func (b *Builder) Unique() *Builder {
	b.desc.Unique = true
	return b
}

// Field binds a to-one relation to the foreign-key column on the owning
// schema.
func (b *Builder) Field(column string) *Builder {
	b.desc.Column = column
	return b
}

// Ref binds a to-many relation to the foreign-key column on the target
// schema that points back at the owner.
func (b *Builder) Ref(column string) *Builder {
	b.desc.Column = column
	return b
}

// Descriptor returns the built relation descriptor.
func (b *Builder) Descriptor() *Descriptor { return b.desc }
