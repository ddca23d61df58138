// Package field provides fluent builders for the column descriptors that
// make up a schema. Builders are consumed once by schema.New; descriptors
// are immutable afterwards.
//
//	field.Int64("id").PrimaryKey()
//	field.String("study_instance_uid").Unique()
//	field.Time("deleted_at").Optional().Nillable()
//	field.Enum("modality").Values("CT", "MR", "US")
package field

// A Type represents the storage type of a column.
type Type uint8

// Column storage types.
const (
	TypeInvalid Type = iota
	TypeBool
	TypeInt
	TypeInt64
	TypeFloat64
	TypeString
	TypeTime
	TypeUUID
	TypeEnum
	TypeDecimal
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeBool:    "bool",
	TypeInt:     "int",
	TypeInt64:   "int64",
	TypeFloat64: "float64",
	TypeString:  "string",
	TypeTime:    "time",
	TypeUUID:    "uuid",
	TypeEnum:    "enum",
	TypeDecimal: "decimal",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return typeNames[TypeInvalid]
}

// Numeric reports whether the type is ordered-numeric.
func (t Type) Numeric() bool {
	switch t {
	case TypeInt, TypeInt64, TypeFloat64, TypeDecimal:
		return true
	}
	return false
}

// Descriptor holds the configuration of a single column.
type Descriptor struct {
	Name          string
	Type          Type
	Unique        bool
	Nillable      bool
	Optional      bool
	Immutable     bool
	PrimaryKey    bool
	EnumValues    []string
	Default       any // literal value or func() any
	UpdateDefault func() any
}

// Builder wraps a Descriptor with chainable modifiers.
type Builder struct {
	desc *Descriptor
}

func newBuilder(name string, t Type) *Builder {
	return &Builder{desc: &Descriptor{Name: name, Type: t}}
}

// Bool returns a new boolean column builder.
func Bool(name string) *Builder { return newBuilder(name, TypeBool) }

// Int returns a new int column builder.
func Int(name string) *Builder { return newBuilder(name, TypeInt) }

// Int64 returns a new int64 column builder.
func Int64(name string) *Builder { return newBuilder(name, TypeInt64) }

// Float64 returns a new float64 column builder.
func Float64(name string) *Builder { return newBuilder(name, TypeFloat64) }

// String returns a new string column builder.
func String(name string) *Builder { return newBuilder(name, TypeString) }

// Time returns a new time column builder.
func Time(name string) *Builder { return newBuilder(name, TypeTime) }

// UUID returns a new UUID column builder.
func UUID(name string) *Builder { return newBuilder(name, TypeUUID) }

// Enum returns a new enum column builder. Its allowed values are set
// with Values.
func Enum(name string) *Builder { return newBuilder(name, TypeEnum) }

// Decimal returns a new fixed-point numeric column builder.
func Decimal(name string) *Builder { return newBuilder(name, TypeDecimal) }

// Values sets the allowed values of an enum column.
func (b *Builder) Values(values ...string) *Builder {
	b.desc.EnumValues = values
	return b
}

// Unique marks the column as unique.
func (b *Builder) Unique() *Builder {
	b.desc.Unique = true
	return b
}

// Nillable marks the column as nullable in the store.
func (b *Builder) Nillable() *Builder {
	b.desc.Nillable = true
	return b
}

// Optional marks the column as not required on create.
func (b *Builder) Optional() *Builder {
	b.desc.Optional = true
	return b
}

// Immutable marks the column as write-once.
func (b *Builder) Immutable() *Builder {
	b.desc.Immutable = true
	return b
}

// PrimaryKey marks the column as the primary key of its schema.
func (b *Builder) PrimaryKey() *Builder {
	b.desc.PrimaryKey = true
	return b
}

// Default sets the default value of the column. The value may be a
// literal or a niladic function returning the value, evaluated on create.
func (b *Builder) Default(v any) *Builder {
	b.desc.Default = v
	return b
}

// UpdateDefault sets a function whose value is applied on every update.
func (b *Builder) UpdateDefault(fn func() any) *Builder {
	b.desc.UpdateDefault = fn
	return b
}

// Descriptor returns the built column descriptor.
func (b *Builder) Descriptor() *Descriptor { return b.desc }
