package strata

import "fmt"

// Op is a comparison or grouping operator in a compiled predicate tree.
type Op uint8

const (
	OpEQ Op = iota
	OpNEQ
	OpLT
	OpLTE
	OpGT
	OpGTE
	OpIn
	OpBetween
	OpLike
	OpILike
	OpIsNull
	OpNotNull
	OpAnd
	OpOr
)

var opNames = [...]string{
	OpEQ:      "eq",
	OpNEQ:     "ne",
	OpLT:      "lt",
	OpLTE:     "lte",
	OpGT:      "gt",
	OpGTE:     "gte",
	OpIn:      "in",
	OpBetween: "between",
	OpLike:    "like",
	OpILike:   "ilike",
	OpIsNull:  "isnull",
	OpNotNull: "notnull",
	OpAnd:     "and",
	OpOr:      "or",
}

// String returns the operator's filter-suffix spelling.
func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", op)
}

// ColumnRef identifies a column by its table and name.
type ColumnRef struct {
	Table  string
	Column string
}

// String returns the qualified "table.column" form.
func (c ColumnRef) String() string {
	if c.Table == "" {
		return c.Column
	}
	return c.Table + "." + c.Column
}

// Predicate is a node in a compiled filter tree. Leaf nodes compare a
// column against operands; OpAnd and OpOr nodes group child predicates.
// The tree is backend-neutral: the statement backend renders it to SQL
// while the cursor backend receives it inside a QuerySpec.
type Predicate struct {
	Op     Op
	Col    ColumnRef // leaf nodes only
	Value  any       // eq, ne, lt, lte, gt, gte, like, ilike
	Values []any     // in
	Lo, Hi any       // between
	Kids   []*Predicate
}

// And groups predicates conjunctively. A single child is returned as-is.
func And(ps ...*Predicate) *Predicate {
	if len(ps) == 1 {
		return ps[0]
	}
	return &Predicate{Op: OpAnd, Kids: ps}
}

// Or groups predicates disjunctively. A single child is returned as-is.
func Or(ps ...*Predicate) *Predicate {
	if len(ps) == 1 {
		return ps[0]
	}
	return &Predicate{Op: OpOr, Kids: ps}
}

// String renders the tree for logs and tests.
func (p *Predicate) String() string {
	switch p.Op {
	case OpAnd, OpOr:
		s := "("
		for i, k := range p.Kids {
			if i > 0 {
				s += " " + p.Op.String() + " "
			}
			s += k.String()
		}
		return s + ")"
	case OpIsNull, OpNotNull:
		return fmt.Sprintf("%s %s", p.Col, p.Op)
	case OpIn:
		return fmt.Sprintf("%s in %v", p.Col, p.Values)
	case OpBetween:
		return fmt.Sprintf("%s between [%v, %v]", p.Col, p.Lo, p.Hi)
	default:
		return fmt.Sprintf("%s %s %v", p.Col, p.Op, p.Value)
	}
}
