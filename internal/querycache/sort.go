package querycache

import (
	"cmp"
	"slices"
	"strings"

	"github.com/alexjbarnes/chat-sync/internal/models"
)

// Direction is a sort direction in wire form.
type Direction int

const (
	Ascending  Direction = 1
	Descending Direction = -1
)

// SortField is one sort key.
type SortField struct {
	Field     string    `json:"field" yaml:"field"`
	Direction Direction `json:"direction" yaml:"direction"`
}

// Sort is an ordered list of sort keys. The first is primary, later ones
// break ties.
type Sort []SortField

// PaginationRequest selects a window of a sorted channel list. A Limit of
// zero or less means no limit.
type PaginationRequest struct {
	Sort   Sort
	Offset int
	Limit  int
}

type channelCmp func(a, b *models.Channel) int

// comparators accepts both the camelCase and snake_case field names.
var comparators = map[string]channelCmp{
	"lastupdated": func(a, b *models.Channel) int {
		return a.LastUpdated().Compare(b.LastUpdated())
	},
	"lastmessageat": func(a, b *models.Channel) int {
		return a.LastMessageAt.Compare(b.LastMessageAt)
	},
	"updatedat": func(a, b *models.Channel) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	},
	"createdat": func(a, b *models.Channel) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	},
	"membercount": func(a, b *models.Channel) int {
		return cmp.Compare(a.MemberCount, b.MemberCount)
	},
	"unreadcount": func(a, b *models.Channel) int {
		return cmp.Compare(a.UnreadCount, b.UnreadCount)
	},
	"hasunread": func(a, b *models.Channel) int {
		return cmp.Compare(boolInt(a.UnreadCount > 0), boolInt(b.UnreadCount > 0))
	},
	"name": func(a, b *models.Channel) int {
		return strings.Compare(a.Name, b.Name)
	},
	"cid": func(a, b *models.Channel) int {
		return strings.Compare(a.CID, b.CID)
	},
}

func comparatorFor(field string) (channelCmp, bool) {
	c, ok := comparators[strings.ToLower(strings.ReplaceAll(field, "_", ""))]
	return c, ok
}

// KnownSortField reports whether field can be sorted on locally.
func KnownSortField(field string) bool {
	_, ok := comparatorFor(field)
	return ok
}

// ApplyPagination sorts channels stably by req.Sort, skipping unknown
// fields, then applies the offset and limit. The input is not modified.
func ApplyPagination(channels []models.Channel, req PaginationRequest) []models.Channel {
	out := slices.Clone(channels)

	var cmps []channelCmp

	for _, sf := range req.Sort {
		c, ok := comparatorFor(sf.Field)
		if !ok {
			continue
		}

		if sf.Direction == Descending {
			asc := c
			c = func(a, b *models.Channel) int { return asc(b, a) }
		}

		cmps = append(cmps, c)
	}

	if len(cmps) > 0 {
		slices.SortStableFunc(out, func(a, b models.Channel) int {
			for _, c := range cmps {
				if r := c(&a, &b); r != 0 {
					return r
				}
			}

			return 0
		})
	}

	if req.Offset > 0 {
		if req.Offset >= len(out) {
			return []models.Channel{}
		}

		out = out[req.Offset:]
	}

	if req.Limit > 0 && req.Limit < len(out) {
		out = out[:req.Limit]
	}

	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
