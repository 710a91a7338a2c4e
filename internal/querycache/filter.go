// Package querycache caches channel queries. A query is a filter plus a
// sort; the cache maps each query to the ordered cids it resolved to and
// keeps those lists current as channels change.
package querycache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	chaterrors "github.com/alexjbarnes/chat-sync/internal/errors"
)

// Op is a filter operator.
type Op string

const (
	OpNeutral      Op = "neutral"
	OpDistinct     Op = "distinct"
	OpContains     Op = "contains"
	OpAutocomplete Op = "autocomplete"
	OpExists       Op = "exists"
	OpNotExists    Op = "notExists"
	OpEq           Op = "eq"
	OpNe           Op = "ne"
	OpGt           Op = "gt"
	OpGte          Op = "gte"
	OpLt           Op = "lt"
	OpLte          Op = "lte"
	OpIn           Op = "in"
	OpNin          Op = "nin"
	OpAnd          Op = "and"
	OpOr           Op = "or"
	OpNor          Op = "nor"
)

// fieldOps are the operators written as {"field": {"$op": value}}.
var fieldOps = map[string]Op{
	"$eq":           OpEq,
	"$ne":           OpNe,
	"$gt":           OpGt,
	"$gte":          OpGte,
	"$lt":           OpLt,
	"$lte":          OpLte,
	"$in":           OpIn,
	"$nin":          OpNin,
	"$contains":     OpContains,
	"$autocomplete": OpAutocomplete,
}

// Filter is a node of a channel filter tree. Logical nodes (and, or, nor)
// use Children; every other operator uses Field and Value.
type Filter struct {
	Op       Op
	Field    string
	Value    any
	Children []Filter
}

func Neutral() Filter { return Filter{Op: OpNeutral} }

// Distinct matches the channel whose member set is exactly memberIDs.
func Distinct(memberIDs ...string) Filter {
	return Filter{Op: OpDistinct, Field: "members", Value: stringsToAny(memberIDs)}
}

func Contains(field string, v any) Filter { return Filter{Op: OpContains, Field: field, Value: v} }
func Autocomplete(field, prefix string) Filter { return Filter{Op: OpAutocomplete, Field: field, Value: prefix} }
func Exists(field string) Filter { return Filter{Op: OpExists, Field: field} }
func NotExists(field string) Filter { return Filter{Op: OpNotExists, Field: field} }
func Eq(field string, v any) Filter { return Filter{Op: OpEq, Field: field, Value: v} }
func Ne(field string, v any) Filter { return Filter{Op: OpNe, Field: field, Value: v} }
func Gt(field string, v any) Filter { return Filter{Op: OpGt, Field: field, Value: v} }
func Gte(field string, v any) Filter { return Filter{Op: OpGte, Field: field, Value: v} }
func Lt(field string, v any) Filter { return Filter{Op: OpLt, Field: field, Value: v} }
func Lte(field string, v any) Filter { return Filter{Op: OpLte, Field: field, Value: v} }
func In(field string, vs ...any) Filter { return Filter{Op: OpIn, Field: field, Value: vs} }
func Nin(field string, vs ...any) Filter { return Filter{Op: OpNin, Field: field, Value: vs} }
func And(fs ...Filter) Filter { return Filter{Op: OpAnd, Children: fs} }
func Or(fs ...Filter) Filter { return Filter{Op: OpOr, Children: fs} }
func Nor(fs ...Filter) Filter { return Filter{Op: OpNor, Children: fs} }

func (f Filter) logical() bool {
	return f.Op == OpAnd || f.Op == OpOr || f.Op == OpNor
}

// MarshalJSON writes the wire form, e.g.
// {"type":{"$eq":"messaging"},"$or":[...]}.
func (f Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.wire())
}

// UnmarshalJSON reads the wire form.
func (f *Filter) UnmarshalJSON(data []byte) error {
	parsed, err := ParseFilter(data)
	if err != nil {
		return err
	}

	*f = parsed

	return nil
}

func (f Filter) wire() map[string]any {
	switch {
	case f.Op == OpNeutral || f.Op == "":
		return map[string]any{}
	case f.Op == OpDistinct:
		return map[string]any{"distinct": true, "members": f.Value}
	case f.logical():
		children := make([]any, len(f.Children))
		for i := range f.Children {
			children[i] = f.Children[i].wire()
		}

		return map[string]any{"$" + string(f.Op): children}
	case f.Op == OpExists:
		return map[string]any{f.Field: map[string]any{"$exists": true}}
	case f.Op == OpNotExists:
		return map[string]any{f.Field: map[string]any{"$exists": false}}
	}

	return map[string]any{f.Field: map[string]any{"$" + string(f.Op): f.Value}}
}

// ParseFilter reads a filter in wire form. Several keys in one object are
// an implicit and; a bare value is an implicit eq.
func ParseFilter(data []byte) (Filter, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Filter{}, fmt.Errorf("%w: %w", chaterrors.ErrInvalidFilter, err)
	}

	return parseObject(m)
}

func parseObject(m map[string]any) (Filter, error) {
	if len(m) == 0 {
		return Neutral(), nil
	}

	if d, ok := m["distinct"].(bool); ok && d {
		members, ok := m["members"].([]any)
		if !ok {
			return Filter{}, fmt.Errorf("%w: distinct without members", chaterrors.ErrInvalidFilter)
		}

		return Filter{Op: OpDistinct, Field: "members", Value: members}, nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	parts := make([]Filter, 0, len(keys))

	for _, k := range keys {
		part, err := parseKey(k, m[k])
		if err != nil {
			return Filter{}, err
		}

		parts = append(parts, part)
	}

	if len(parts) == 1 {
		return parts[0], nil
	}

	return And(parts...), nil
}

func parseKey(key string, v any) (Filter, error) {
	switch key {
	case "$and", "$or", "$nor":
		list, ok := v.([]any)
		if !ok {
			return Filter{}, fmt.Errorf("%w: %s expects a list", chaterrors.ErrInvalidFilter, key)
		}

		children := make([]Filter, 0, len(list))

		for _, item := range list {
			obj, ok := item.(map[string]any)
			if !ok {
				return Filter{}, fmt.Errorf("%w: %s expects objects", chaterrors.ErrInvalidFilter, key)
			}

			child, err := parseObject(obj)
			if err != nil {
				return Filter{}, err
			}

			children = append(children, child)
		}

		return Filter{Op: Op(strings.TrimPrefix(key, "$")), Children: children}, nil
	}

	if strings.HasPrefix(key, "$") {
		return Filter{}, fmt.Errorf("%w: unknown operator %s", chaterrors.ErrInvalidFilter, key)
	}

	cond, ok := v.(map[string]any)
	if !ok {
		return Eq(key, v), nil
	}

	if len(cond) != 1 {
		return Filter{}, fmt.Errorf("%w: field %s needs exactly one operator", chaterrors.ErrInvalidFilter, key)
	}

	for opKey, val := range cond {
		if opKey == "$exists" {
			exists, ok := val.(bool)
			if !ok {
				return Filter{}, fmt.Errorf("%w: $exists expects a bool", chaterrors.ErrInvalidFilter)
			}

			if exists {
				return Exists(key), nil
			}

			return NotExists(key), nil
		}

		op, ok := fieldOps[opKey]
		if !ok {
			return Filter{}, fmt.Errorf("%w: unknown operator %s", chaterrors.ErrInvalidFilter, opKey)
		}

		if (op == OpIn || op == OpNin) && !isList(val) {
			return Filter{}, fmt.Errorf("%w: %s expects a list", chaterrors.ErrInvalidFilter, opKey)
		}

		return Filter{Op: op, Field: key, Value: val}, nil
	}

	return Filter{}, nil
}

// canonical returns a copy with set-like parts sorted, so that filters
// built in a different order compare and hash equal. Nested and/or nodes
// with the same operator are flattened, and an and/or with one child is
// replaced by that child.
func (f Filter) canonical() Filter {
	if f.logical() {
		children := make([]Filter, 0, len(f.Children))
		for i := range f.Children {
			child := f.Children[i].canonical()

			if f.Op != OpNor && child.Op == f.Op {
				children = append(children, child.Children...)
				continue
			}

			children = append(children, child)
		}

		if len(children) == 1 && f.Op != OpNor {
			return children[0]
		}

		sort.Slice(children, func(i, j int) bool {
			return encode(children[i]) < encode(children[j])
		})

		f.Children = children

		return f
	}

	switch f.Op {
	case OpIn, OpNin, OpDistinct:
		vals := listValues(f.Value)
		sort.Slice(vals, func(i, j int) bool { return encode(vals[i]) < encode(vals[j]) })
		f.Value = vals
	}

	return f
}

func encode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}

	return string(b)
}

// Key identifies a (filter, sort) pair: the hex blake2b-256 digest of
// their canonical encoding.
func Key(f Filter, s Sort) string {
	h := blake2b.Sum256([]byte(encode(f.canonical()) + "|" + encode(s)))
	return hex.EncodeToString(h[:])
}

func isList(v any) bool {
	switch v.(type) {
	case []any, []string:
		return true
	}

	return false
}

func listValues(v any) []any {
	switch t := v.(type) {
	case []any:
		return append([]any(nil), t...)
	case []string:
		return stringsToAny(t)
	case nil:
		return nil
	}

	return []any{v}
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}

	return out
}
