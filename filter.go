package strata

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/lumenmed/strata/schema"
)

// Filter is the map-based filter DSL. Keys are "field", "field__op" or
// "relpath.field__op"; the reserved keys "__or" and "__and" group nested
// filters or pre-built predicates.
type Filter map[string]any

const (
	groupOrKey  = "__or"
	groupAndKey = "__and"
)

// filterOps maps operator suffixes to predicate operators. The wrapping
// operators (contains, startswith, endswith and their case-insensitive
// variants) delegate to like/ilike after pattern wrapping.
var filterOps = map[string]Op{
	"eq":      OpEQ,
	"ne":      OpNEQ,
	"lt":      OpLT,
	"lte":     OpLTE,
	"gt":      OpGT,
	"gte":     OpGTE,
	"in":      OpIn,
	"between": OpBetween,
	"like":    OpLike,
	"ilike":   OpILike,
	"isnull":  OpIsNull,
	"notnull": OpNotNull,
}

// predicateCompiler translates Filter maps into predicate trees against
// one root schema. Relation traversals encountered in dotted keys are
// reported through the join callback so the owning query can register
// them exactly once.
type predicateCompiler struct {
	reg  *schema.Registry
	root *schema.Descriptor
	join func(step pathStep)
}

// Compile returns the filter's predicates in deterministic order: plain
// field keys sorted lexically, then grouped predicates. The caller
// AND-combines the result.
func (c *predicateCompiler) Compile(f Filter) ([]*Predicate, error) {
	plain := make([]string, 0, len(f))
	groups := make([]string, 0, 2)
	for k := range f {
		switch k {
		case groupOrKey, groupAndKey:
			groups = append(groups, k)
		default:
			plain = append(plain, k)
		}
	}
	sort.Strings(plain)
	sort.Strings(groups)

	preds := make([]*Predicate, 0, len(plain)+len(groups))
	for _, key := range plain {
		p, err := c.compileEntry(key, f[key])
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	for _, key := range groups {
		p, err := c.compileGroup(key, f[key])
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// compileEntry compiles one "field" or "path__op" key. The first "__"
// separates field from operator; a missing operator means equality.
func (c *predicateCompiler) compileEntry(key string, value any) (*Predicate, error) {
	fieldPath, op := key, "eq"
	if i := strings.Index(key, "__"); i >= 0 {
		fieldPath, op = key[:i], key[i+2:]
	}
	rp, err := resolveColumnPath(c.reg, c.root, fieldPath)
	if err != nil {
		return nil, err
	}
	if c.join != nil {
		for _, step := range rp.Steps {
			c.join(step)
		}
	}
	return c.compileOp(rp.Terminal(), fieldPath, op, value)
}

func (c *predicateCompiler) compileOp(col ColumnRef, fieldPath, op string, value any) (*Predicate, error) {
	switch op {
	case "eq":
		if value == nil {
			return &Predicate{Op: OpIsNull, Col: col}, nil
		}
	case "ne":
		if value == nil {
			return &Predicate{Op: OpNotNull, Col: col}, nil
		}
	case "in":
		vals, ok := toSlice(value)
		if !ok {
			return nil, NewInvalidOperandError(fieldPath, op, "operand must be a slice or array")
		}
		return &Predicate{Op: OpIn, Col: col, Values: vals}, nil
	case "between":
		vals, ok := toSlice(value)
		if !ok || len(vals) != 2 {
			return nil, NewInvalidOperandError(fieldPath, op, "operand must hold exactly two values (low, high)")
		}
		return &Predicate{Op: OpBetween, Col: col, Lo: vals[0], Hi: vals[1]}, nil
	case "contains", "icontains":
		return likePred(col, op == "icontains", "%"+stringify(value)+"%"), nil
	case "startswith", "istartswith":
		return likePred(col, op == "istartswith", stringify(value)+"%"), nil
	case "endswith", "iendswith":
		return likePred(col, op == "iendswith", "%"+stringify(value)), nil
	case "isnull":
		if b, ok := value.(bool); ok && !b {
			return &Predicate{Op: OpNotNull, Col: col}, nil
		}
		return &Predicate{Op: OpIsNull, Col: col}, nil
	case "notnull":
		return &Predicate{Op: OpNotNull, Col: col}, nil
	}
	ir, ok := filterOps[op]
	if !ok {
		return nil, NewUnsupportedOperatorError(op, fieldPath)
	}
	return &Predicate{Op: ir, Col: col, Value: value}, nil
}

// compileGroup compiles a "__or"/"__and" entry. Elements are nested
// Filter maps (each AND-combined internally) or pre-built predicates.
func (c *predicateCompiler) compileGroup(key string, value any) (*Predicate, error) {
	elems, ok := toSlice(value)
	if !ok {
		return nil, NewInvalidOperandError(key, "group", "group value must be a slice of filters or predicates")
	}
	kids := make([]*Predicate, 0, len(elems))
	for _, el := range elems {
		switch v := el.(type) {
		case *Predicate:
			kids = append(kids, v)
		case Filter:
			sub, err := c.Compile(v)
			if err != nil {
				return nil, err
			}
			kids = append(kids, And(sub...))
		case map[string]any:
			sub, err := c.Compile(Filter(v))
			if err != nil {
				return nil, err
			}
			kids = append(kids, And(sub...))
		default:
			return nil, NewInvalidOperandError(key, "group", fmt.Sprintf("unsupported group element %T", el))
		}
	}
	if key == groupOrKey {
		return Or(kids...), nil
	}
	return And(kids...), nil
}

func likePred(col ColumnRef, insensitive bool, pattern string) *Predicate {
	op := OpLike
	if insensitive {
		op = OpILike
	}
	return &Predicate{Op: op, Col: col, Value: pattern}
}

// toSlice normalizes slice and array operands to []any. Strings are not
// collections here.
func toSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if vals, ok := v.([]any); ok {
		return vals, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
