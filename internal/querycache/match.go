package querycache

import (
	"reflect"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/alexjbarnes/chat-sync/internal/models"
)

// Match reports whether ch satisfies f. Unknown fields never match,
// except under notExists.
func Match(ch *models.Channel, f Filter) bool {
	switch f.Op {
	case OpNeutral, "":
		return true
	case OpAnd:
		for i := range f.Children {
			if !Match(ch, f.Children[i]) {
				return false
			}
		}

		return true
	case OpOr:
		for i := range f.Children {
			if Match(ch, f.Children[i]) {
				return true
			}
		}

		return false
	case OpNor:
		for i := range f.Children {
			if Match(ch, f.Children[i]) {
				return false
			}
		}

		return true
	case OpDistinct:
		return sameMembers(ch.MemberIDs(), listValues(f.Value))
	}

	v, ok := fieldValue(ch, f.Field)

	switch f.Op {
	case OpExists:
		return ok
	case OpNotExists:
		return !ok
	}

	if !ok {
		return false
	}

	switch f.Op {
	case OpEq:
		return matchEq(v, f.Value)
	case OpNe:
		return !matchEq(v, f.Value)
	case OpIn:
		return matchIn(v, listValues(f.Value))
	case OpNin:
		return !matchIn(v, listValues(f.Value))
	case OpContains:
		return matchContains(v, f.Value)
	case OpAutocomplete:
		s, ok1 := v.(string)
		prefix, ok2 := f.Value.(string)

		return ok1 && ok2 && autocomplete(s, prefix)
	case OpGt, OpGte, OpLt, OpLte:
		c, ok := compare(v, f.Value)
		if !ok {
			return false
		}

		switch f.Op {
		case OpGt:
			return c > 0
		case OpGte:
			return c >= 0
		case OpLt:
			return c < 0
		default:
			return c <= 0
		}
	}

	return false
}

// fieldValue resolves a filter field on a channel. Zero timestamps and
// absent extra_data keys report ok=false.
func fieldValue(ch *models.Channel, field string) (any, bool) {
	switch field {
	case "cid":
		return ch.CID, true
	case "type":
		return ch.Type, true
	case "id":
		return ch.ID, true
	case "name":
		return ch.Name, ch.Name != ""
	case "members":
		return ch.MemberIDs(), true
	case "frozen":
		return ch.Frozen, true
	case "hidden":
		return ch.Hidden, true
	case "muted":
		return ch.Muted, true
	case "member_count":
		return float64(ch.MemberCount), true
	case "unread_count":
		return float64(ch.UnreadCount), true
	case "created_by_id":
		return ch.CreatedBy.ID, ch.CreatedBy.ID != ""
	case "created_at":
		return timeField(ch.CreatedAt)
	case "updated_at":
		return timeField(ch.UpdatedAt)
	case "last_message_at":
		return timeField(ch.LastMessageAt)
	case "last_updated":
		return timeField(ch.LastUpdated())
	}

	key := strings.TrimPrefix(field, "extra_data.")

	v, ok := ch.ExtraData[key]

	return v, ok
}

func timeField(t time.Time) (any, bool) {
	return t, !t.IsZero()
}

func matchEq(v, want any) bool {
	if ids, ok := v.([]string); ok {
		return sameMembers(ids, listValues(want))
	}

	if c, ok := compare(v, want); ok {
		return c == 0
	}

	return reflect.DeepEqual(v, want)
}

func matchIn(v any, wants []any) bool {
	if ids, ok := v.([]string); ok {
		for _, id := range ids {
			for _, w := range wants {
				if s, ok := w.(string); ok && s == id {
					return true
				}
			}
		}

		return false
	}

	for _, w := range wants {
		if matchEq(v, w) {
			return true
		}
	}

	return false
}

func matchContains(v, want any) bool {
	switch t := v.(type) {
	case []string:
		s, ok := want.(string)
		if !ok {
			return false
		}

		for _, id := range t {
			if id == s {
				return true
			}
		}
	case []any:
		for _, item := range t {
			if matchEq(item, want) {
				return true
			}
		}
	case string:
		s, ok := want.(string)
		return ok && strings.Contains(t, s)
	}

	return false
}

// compare orders two scalar values. Numbers compare numerically, times
// chronologically (a string operand is parsed as RFC 3339), strings
// lexically, bools only for equality.
func compare(a, b any) (int, bool) {
	if ta, ok := a.(time.Time); ok {
		tb, ok := toTime(b)
		if !ok {
			return 0, false
		}

		return ta.Compare(tb), true
	}

	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}

		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}

		return 0, true
	}

	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, false
		}

		return strings.Compare(sa, sb), true
	}

	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok && ba == bb {
			return 0, true
		}
	}

	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}

	return time.Time{}, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}

	return 0, false
}

func sameMembers(ids []string, want []any) bool {
	if len(ids) != len(want) {
		return false
	}

	set := make(map[string]int, len(ids))
	for _, id := range ids {
		set[id]++
	}

	for _, w := range want {
		s, ok := w.(string)
		if !ok || set[s] == 0 {
			return false
		}

		set[s]--
	}

	return true
}

// autocomplete reports whether any word of value starts with prefix,
// ignoring case and Unicode normalization differences.
func autocomplete(value, prefix string) bool {
	p := fold(prefix)
	if p == "" {
		return true
	}

	words := strings.FieldsFunc(fold(value), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && !unicode.Is(unicode.Mn, r)
	})

	for _, w := range words {
		if strings.HasPrefix(w, p) {
			return true
		}
	}

	return false
}

func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}
