package strata

import (
	"regexp"
	"strings"

	"github.com/lumenmed/strata/schema"
)

// aliasRE splits a projection expression into its path and alias parts.
// The separator keyword is case-insensitive.
var aliasRE = regexp.MustCompile(`(?i)\s+as\s+`)

// splitAlias separates an optional " as Alias" suffix from a field
// expression. When no alias is present the returned alias is empty.
func splitAlias(expr string) (path, alias string) {
	parts := aliasRE.Split(expr, 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(expr), ""
}

// pathStep is one relation traversal in a resolved path.
type pathStep struct {
	Rel  *schema.Relation
	From *schema.Descriptor
	To   *schema.Descriptor
}

// resolvedPath is the outcome of resolving a dotted attribute path against
// a root schema. Column is nil when the path terminates on a relation.
type resolvedPath struct {
	Root  *schema.Descriptor
	Steps []pathStep
	Owner *schema.Descriptor // schema holding the terminal attribute
	Col   *schema.Column     // nil for a bare relation path
}

// Terminal returns the table-qualified reference of the resolved column.
func (p *resolvedPath) Terminal() ColumnRef {
	return ColumnRef{Table: p.Owner.Table, Column: p.Col.Name}
}

// ToMany reports whether the first traversed relation fans out.
func (p *resolvedPath) ToMany() bool {
	return len(p.Steps) > 0 && p.Steps[0].Rel.ToMany()
}

// resolvePath walks a dotted path from root, traversing declared relations
// segment by segment. An optional leading segment equal to the root schema
// name is stripped, so "Study.series.modality" and "series.modality" are
// equivalent. Any segment that is neither a relation nor the terminal
// column yields an UnknownAttributeError.
func resolvePath(reg *schema.Registry, root *schema.Descriptor, path string) (*resolvedPath, error) {
	segs := strings.Split(path, ".")
	if len(segs) > 1 && segs[0] == root.Name {
		segs = segs[1:]
	}
	rp := &resolvedPath{Root: root, Owner: root}
	cur := root
	for i, seg := range segs {
		if seg == "" {
			return nil, NewUnknownAttributeError(cur.Name, path)
		}
		if rel, ok := cur.Relation(seg); ok {
			target, err := reg.Target(rel)
			if err != nil {
				return nil, NewConfigurationError(err.Error())
			}
			rp.Steps = append(rp.Steps, pathStep{Rel: rel, From: cur, To: target})
			cur = target
			rp.Owner = target
			continue
		}
		col, ok := cur.Column(seg)
		if !ok || i != len(segs)-1 {
			return nil, NewUnknownAttributeError(cur.Name, seg)
		}
		rp.Col = col
	}
	return rp, nil
}

// resolveColumnPath resolves a path that must terminate on a column.
func resolveColumnPath(reg *schema.Registry, root *schema.Descriptor, path string) (*resolvedPath, error) {
	rp, err := resolvePath(reg, root, path)
	if err != nil {
		return nil, err
	}
	if rp.Col == nil {
		return nil, NewUnknownAttributeError(rp.Owner.Name, path)
	}
	return rp, nil
}

// resolveRelationPath resolves a path whose every segment is a relation,
// as used by includes and explicit joins.
func resolveRelationPath(reg *schema.Registry, root *schema.Descriptor, path string) (*resolvedPath, error) {
	rp, err := resolvePath(reg, root, path)
	if err != nil {
		return nil, err
	}
	if rp.Col != nil || len(rp.Steps) == 0 {
		return nil, NewUnknownAttributeError(root.Name, path)
	}
	return rp, nil
}
