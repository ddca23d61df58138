// Package load reads declarative schema sets from YAML documents and
// turns them into registered schema descriptors. It exists for
// deployments that describe their models in configuration rather than
// code; programmatic schema.New remains the primary path.
package load

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lumenmed/strata/schema"
	"github.com/lumenmed/strata/schema/edge"
	"github.com/lumenmed/strata/schema/field"
)

// Document is the root of a YAML schema set.
type Document struct {
	Schemas []Schema `yaml:"schemas"`
}

// Schema is one declarative model description.
type Schema struct {
	Name   string  `yaml:"name"`
	Table  string  `yaml:"table,omitempty"`
	Fields []Field `yaml:"fields"`
	Edges  []Edge  `yaml:"edges,omitempty"`
}

// Field is one declarative column description.
type Field struct {
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"`
	PrimaryKey bool     `yaml:"primary_key,omitempty"`
	Unique     bool     `yaml:"unique,omitempty"`
	Nillable   bool     `yaml:"nillable,omitempty"`
	Optional   bool     `yaml:"optional,omitempty"`
	Immutable  bool     `yaml:"immutable,omitempty"`
	Values     []string `yaml:"values,omitempty"`
}

// Edge is one declarative relation description.
type Edge struct {
	Name   string `yaml:"name"`
	Target string `yaml:"target"`
	Unique bool   `yaml:"unique,omitempty"`
	Field  string `yaml:"field,omitempty"` // to-one FK column on the owner
	Ref    string `yaml:"ref,omitempty"`   // to-many FK column on the target
}

var fieldTypes = map[string]func(string) *field.Builder{
	"bool":    field.Bool,
	"int":     field.Int,
	"int64":   field.Int64,
	"float64": field.Float64,
	"string":  field.String,
	"time":    field.Time,
	"uuid":    field.UUID,
	"enum":    field.Enum,
	"decimal": field.Decimal,
}

// Read parses a YAML schema set from r and registers every schema it
// declares into a fresh registry.
func Read(r io.Reader) (*schema.Registry, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("load: decode schema set: %w", err)
	}
	reg := schema.NewRegistry()
	for _, s := range doc.Schemas {
		d, err := build(s)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// ReadFile is like Read for a file path.
func ReadFile(path string) (*schema.Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	defer f.Close()
	return Read(f)
}

func build(s Schema) (*schema.Descriptor, error) {
	var fields []*field.Builder
	for _, f := range s.Fields {
		ctor, ok := fieldTypes[f.Type]
		if !ok {
			return nil, fmt.Errorf("load: schema %s field %s: unknown type %q", s.Name, f.Name, f.Type)
		}
		b := ctor(f.Name)
		if f.PrimaryKey {
			b.PrimaryKey()
		}
		if f.Unique {
			b.Unique()
		}
		if f.Nillable {
			b.Nillable()
		}
		if f.Optional {
			b.Optional()
		}
		if f.Immutable {
			b.Immutable()
		}
		if len(f.Values) > 0 {
			b.Values(f.Values...)
		}
		fields = append(fields, b)
	}
	var edges []*edge.Builder
	for _, e := range s.Edges {
		b := edge.To(e.Name, e.Target)
		switch {
		case e.Field != "" && e.Ref != "":
			return nil, fmt.Errorf("load: schema %s edge %s: field and ref are mutually exclusive", s.Name, e.Name)
		case e.Field != "":
			b.Unique().Field(e.Field)
		case e.Ref != "":
			b.Ref(e.Ref)
		default:
			return nil, fmt.Errorf("load: schema %s edge %s: field or ref is required", s.Name, e.Name)
		}
		if e.Unique {
			b.Unique()
		}
		edges = append(edges, b)
	}
	opts := []schema.Option{schema.Fields(fields...), schema.Edges(edges...)}
	if s.Table != "" {
		opts = append(opts, schema.Table(s.Table))
	}
	return schema.New(s.Name, opts...)
}
