package strata

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"

	"github.com/lumenmed/strata/schema"
	"github.com/lumenmed/strata/schema/field"
)

// SerializeMany serializes a batch of records with the same field and
// include requests.
func SerializeMany(recs []*Record, fields, includes []string) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		m, err := Serialize(rec, fields, includes)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Serialize renders a record as a JSON-friendly map.
//
// fields are "field", "field as Alias" or dotted relation paths; dotted
// values land flattened under the alias or full path, and walking
// through a to-many relation fans the leaf out into a slice. An empty
// field list renders every own column.
//
// includes name relations to nest. A relation whose fields were
// requested nests those fields; otherwise it nests a slim map of the
// target's primary key and label.
func Serialize(rec *Record, fields, includes []string) (map[string]any, error) {
	result := make(map[string]any)
	relFields := make(map[string]map[string]string) // rel -> leaf path -> out name

	if len(fields) == 0 {
		for _, col := range rec.Schema().Columns {
			fields = append(fields, col.Name)
		}
	}
	for _, f := range fields {
		base, alias := splitAlias(f)
		if i := strings.Index(base, "."); i >= 0 && base[:i] == rec.Schema().Name {
			base = base[i+1:]
		}
		if i := strings.Index(base, "."); i >= 0 {
			rel, leaf := base[:i], base[i+1:]
			val, err := walkPath(rec, strings.Split(base, "."))
			if err != nil {
				return nil, err
			}
			out := alias
			if out == "" {
				out = leaf
			}
			if relFields[rel] == nil {
				relFields[rel] = make(map[string]string)
			}
			relFields[rel][leaf] = out
			key := alias
			if key == "" {
				key = base
			}
			result[key] = val
			continue
		}
		val, err := walkPath(rec, []string{base})
		if err != nil {
			return nil, err
		}
		key := alias
		if key == "" {
			key = base
		}
		result[key] = val
	}

	for _, rel := range includes {
		relv, loaded := rec.Related(rel)
		if !loaded {
			result[rel] = nil
			continue
		}
		req := relFields[rel]
		switch v := relv.(type) {
		case *Record:
			if v == nil {
				result[rel] = nil
				continue
			}
			m, err := serializeRelated(v, req)
			if err != nil {
				return nil, err
			}
			result[rel] = m
		case []*Record:
			items := make([]map[string]any, 0, len(v))
			for _, child := range v {
				m, err := serializeRelated(child, req)
				if err != nil {
					return nil, err
				}
				items = append(items, m)
			}
			result[rel] = items
		default:
			result[rel] = nil
		}
	}
	return result, nil
}

// serializeRelated renders one related record: the requested leaves when
// any were named, otherwise a slim identity map.
func serializeRelated(rec *Record, req map[string]string) (map[string]any, error) {
	if len(req) == 0 {
		pk := rec.Schema().PrimaryKey()
		d := make(map[string]any, 2)
		v, _ := rec.Get(pk.Name)
		d[pk.Name] = primitive(pk, v)
		d["label"] = rec.Label()
		return d, nil
	}
	leaves := make([]string, 0, len(req))
	for leaf := range req {
		leaves = append(leaves, leaf)
	}
	sort.Strings(leaves)
	d := make(map[string]any, len(leaves))
	for _, leaf := range leaves {
		val, err := walkPath(rec, strings.Split(leaf, "."))
		if err != nil {
			return nil, err
		}
		d[req[leaf]] = val
	}
	return d, nil
}

// walkPath resolves a dotted path over a record, fanning out over
// to-many relations. Values projected through joins satisfy paths whose
// relations were never loaded.
func walkPath(rec *Record, segs []string) (any, error) {
	seg := segs[0]
	sc := rec.Schema()
	if len(segs) == 1 {
		if col, ok := sc.Column(seg); ok {
			if v, ok := rec.Get(seg); ok {
				return primitive(col, v), nil
			}
			if v, ok := rec.Extra(seg); ok {
				return primitive(col, v), nil
			}
			return nil, nil
		}
		if v, ok := rec.Extra(seg); ok {
			return toPrimitive(v), nil
		}
		return nil, NewUnknownAttributeError(sc.Name, seg)
	}
	if _, ok := sc.Relation(seg); ok {
		relv, loaded := rec.Related(seg)
		if !loaded {
			if v, ok := rec.Extra(strings.Join(segs, ".")); ok {
				return toPrimitive(v), nil
			}
			return nil, NewNotLoadedError(seg)
		}
		switch child := relv.(type) {
		case *Record:
			if child == nil {
				return nil, nil
			}
			return walkPath(child, segs[1:])
		case []*Record:
			out := make([]any, 0, len(child))
			for _, item := range child {
				v, err := walkPath(item, segs[1:])
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
			return out, nil
		}
		return nil, nil
	}
	return nil, NewUnknownAttributeError(sc.Name, seg)
}

// primitive renders a column value with its declared type: fixed-point
// values as floats, everything temporal in RFC 3339.
func primitive(col *schema.Column, v any) any {
	if v == nil {
		return nil
	}
	if col != nil && col.Type == field.TypeDecimal {
		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		}
	}
	return toPrimitive(v)
}

// toPrimitive renders any value as a JSON-friendly scalar, falling back
// to text for unrecognized types.
func toPrimitive(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64:
		return v
	case time.Time:
		return strfmt.DateTime(t).String()
	case uuid.UUID:
		return t.String()
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = toPrimitive(x)
		}
		return out
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", v)
	}
}
