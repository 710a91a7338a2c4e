package querycache

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chaterrors "github.com/alexjbarnes/chat-sync/internal/errors"
	"github.com/alexjbarnes/chat-sync/internal/events"
	"github.com/alexjbarnes/chat-sync/internal/models"
	"github.com/alexjbarnes/chat-sync/internal/state"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func channel(cid string, members ...string) models.Channel {
	ch := models.Channel{CID: cid}
	ch.EnsureCID()

	for _, m := range members {
		ch.Members = append(ch.Members, models.Member{User: models.User{ID: m}})
	}

	ch.MemberCount = len(members)

	return ch
}

func cids(chs []models.Channel) []string {
	out := make([]string, len(chs))
	for i := range chs {
		out[i] = chs[i].CID
	}

	return out
}

// --- filter encoding ---

func TestKey_OrderIndependent(t *testing.T) {
	a := And(Eq("type", "messaging"), In("members", "alice", "bob"))
	b := And(In("members", "bob", "alice"), Eq("type", "messaging"))

	assert.Equal(t, Key(a, nil), Key(b, nil))
	assert.Len(t, Key(a, nil), 64)

	sorted := Sort{{Field: "last_message_at", Direction: Descending}}
	assert.NotEqual(t, Key(a, nil), Key(a, sorted), "sort is part of the key")
	assert.NotEqual(t, Key(a, nil), Key(Or(a.Children...), nil))
}

func TestKey_EquivalentShapes(t *testing.T) {
	typ := Eq("type", "messaging")
	members := In("members", "alice")
	frozen := Eq("frozen", false)

	assert.Equal(t, Key(typ, nil), Key(And(typ), nil), "single child")
	assert.Equal(t, Key(typ, nil), Key(Or(typ), nil))
	assert.Equal(t, Key(And(typ, members, frozen), nil), Key(And(typ, And(members, frozen)), nil), "nested and")
	assert.Equal(t, Key(Or(typ, members, frozen), nil), Key(Or(Or(typ, members), frozen), nil), "nested or")

	assert.NotEqual(t, Key(typ, nil), Key(Nor(typ), nil), "nor negates its child")
	assert.NotEqual(t, Key(And(typ, Or(members, frozen)), nil), Key(And(typ, members, frozen), nil))
}

func TestParseFilter_WireForm(t *testing.T) {
	f, err := ParseFilter([]byte(`{
		"type": "messaging",
		"members": {"$in": ["alice"]},
		"$or": [{"frozen": {"$eq": true}}, {"name": {"$autocomplete": "gen"}}]
	}`))
	require.NoError(t, err)

	want := And(
		Or(Eq("frozen", true), Autocomplete("name", "gen")),
		In("members", "alice"),
		Eq("type", "messaging"),
	)
	assert.Equal(t, Key(want, nil), Key(f, nil))
}

func TestParseFilter_RoundTrip(t *testing.T) {
	filters := []Filter{
		Neutral(),
		Distinct("alice", "bob"),
		Exists("color"),
		NotExists("color"),
		Nor(Eq("hidden", true), Gt("member_count", 10)),
	}

	for _, f := range filters {
		data, err := json.Marshal(f)
		require.NoError(t, err)

		parsed, err := ParseFilter(data)
		require.NoError(t, err, string(data))
		assert.Equal(t, Key(f, nil), Key(parsed, nil), string(data))
	}
}

func TestParseFilter_Errors(t *testing.T) {
	inputs := []string{
		`not json`,
		`{"$xor": []}`,
		`{"type": {"$like": "x"}}`,
		`{"type": {"$eq": "a", "$ne": "b"}}`,
		`{"members": {"$in": "alice"}}`,
		`{"$and": {"type": "x"}}`,
		`{"distinct": true}`,
		`{"color": {"$exists": "yes"}}`,
	}

	for _, in := range inputs {
		_, err := ParseFilter([]byte(in))
		assert.ErrorIs(t, err, chaterrors.ErrInvalidFilter, in)
	}
}

// --- matching ---

func TestMatch(t *testing.T) {
	ch := channel("messaging:general", "alice", "bob")
	ch.Name = "General Discussion"
	ch.CreatedAt = t0
	ch.LastMessageAt = t0.Add(time.Hour)
	ch.ExtraData = map[string]any{"color": "blue"}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"neutral", Neutral(), true},
		{"eq type", Eq("type", "messaging"), true},
		{"ne type", Ne("type", "messaging"), false},
		{"in members", In("members", "carol", "bob"), true},
		{"nin members", Nin("members", "carol"), true},
		{"contains member", Contains("members", "alice"), true},
		{"distinct exact", Distinct("bob", "alice"), true},
		{"distinct subset", Distinct("alice"), false},
		{"gt member count", Gt("member_count", 1), true},
		{"lte member count json number", Lte("member_count", float64(1)), false},
		{"last message after", Gt("last_message_at", t0.Format(time.RFC3339)), true},
		{"created before", Lt("created_at", t0), false},
		{"last updated derived", Gte("last_updated", t0.Add(time.Hour)), true},
		{"autocomplete word prefix", Autocomplete("name", "disc"), true},
		{"autocomplete case folded", Autocomplete("name", "GEN"), true},
		{"autocomplete mid word", Autocomplete("name", "cuss"), false},
		{"extra data eq", Eq("color", "blue"), true},
		{"extra data prefixed", Eq("extra_data.color", "blue"), true},
		{"exists extra", Exists("color"), true},
		{"not exists extra", NotExists("size"), true},
		{"unknown field", Eq("size", 3), false},
		{"and", And(Eq("type", "messaging"), Eq("frozen", true)), false},
		{"or", Or(Eq("frozen", true), Eq("hidden", false)), true},
		{"nor", Nor(Eq("frozen", true), Eq("hidden", true)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(&ch, tt.filter))
		})
	}
}

func TestAutocomplete_Normalization(t *testing.T) {
	// "é" as a single code point vs "e" plus a combining acute accent.
	assert.True(t, autocomplete("Café Society", "café"))
	assert.True(t, autocomplete("STRASSE", "straße"))
	assert.True(t, autocomplete("anything", ""))
	assert.False(t, autocomplete("", "x"))
}

// --- pagination ---

func TestApplyPagination_SortsByCID(t *testing.T) {
	in := []models.Channel{channel("messaging:c"), channel("messaging:a"), channel("messaging:b")}

	out := ApplyPagination(in, PaginationRequest{Sort: Sort{{Field: "cid", Direction: Ascending}}})
	assert.Equal(t, []string{"messaging:a", "messaging:b", "messaging:c"}, cids(out))
	assert.Equal(t, []string{"messaging:c", "messaging:a", "messaging:b"}, cids(in), "input untouched")
}

func TestApplyPagination_UnknownFieldIsNoop(t *testing.T) {
	in := []models.Channel{channel("messaging:c"), channel("messaging:a"), channel("messaging:b")}

	out := ApplyPagination(in, PaginationRequest{Sort: Sort{{Field: "favourite_colour", Direction: Ascending}}})
	assert.Equal(t, cids(in), cids(out))
}

func TestApplyPagination_TieBreakAndWindow(t *testing.T) {
	a := channel("messaging:a")
	a.LastMessageAt = t0
	b := channel("messaging:b")
	b.LastMessageAt = t0.Add(time.Hour)
	c := channel("messaging:c")
	c.LastMessageAt = t0
	d := channel("messaging:d")
	d.CreatedAt = t0.Add(2 * time.Hour)

	req := PaginationRequest{Sort: Sort{
		{Field: "lastUpdated", Direction: Descending},
		{Field: "cid", Direction: Descending},
	}}

	out := ApplyPagination([]models.Channel{a, b, c, d}, req)
	assert.Equal(t, []string{"messaging:d", "messaging:b", "messaging:c", "messaging:a"}, cids(out))

	req.Offset, req.Limit = 1, 2
	assert.Equal(t, []string{"messaging:b", "messaging:c"}, cids(ApplyPagination([]models.Channel{a, b, c, d}, req)))

	req.Offset = 10
	assert.Empty(t, ApplyPagination([]models.Channel{a, b}, req))
}

func TestKnownSortField(t *testing.T) {
	for _, f := range []string{"lastUpdated", "last_updated", "memberCount", "has_unread", "cid"} {
		assert.True(t, KnownSortField(f), f)
	}

	assert.False(t, KnownSortField("color"))
}

// --- cache ---

func newStore(t *testing.T) *state.Store {
	t.Helper()

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	s, err := st.User("alice")
	require.NoError(t, err)

	return s
}

func TestCache_SetResultAndLookup(t *testing.T) {
	c := New(nil, nil)
	f := Eq("type", "messaging")

	e := c.Spec(f, nil)
	assert.Empty(t, e.CIDs)

	e = c.SetResult(f, nil, []string{"messaging:a", "messaging:b", "messaging:a"}, 2, false)
	assert.Equal(t, []string{"messaging:a", "messaging:b"}, e.CIDs)

	e = c.SetResult(f, nil, []string{"messaging:b", "messaging:c"}, 4, true)
	assert.Equal(t, []string{"messaging:a", "messaging:b", "messaging:c"}, e.CIDs)
	assert.Equal(t, 4, e.Cursor)

	got, ok := c.Lookup(Key(f, nil))
	require.True(t, ok)
	assert.Equal(t, e.CIDs, got.CIDs)

	got.CIDs[0] = "mutated"
	again, _ := c.Lookup(Key(f, nil))
	assert.Equal(t, "messaging:a", again.CIDs[0])
}

func TestCache_NewChannelJoinsMatchingQueries(t *testing.T) {
	c := New(nil, nil)
	mine := In("members", "alice")
	teams := Eq("type", "team")

	c.SetResult(mine, nil, []string{"messaging:a"}, 1, false)
	c.SetResult(teams, nil, nil, 0, false)

	changed := c.UpdateQueryChannelCollectionByNewChannel(channel("messaging:new", "alice"))
	assert.Equal(t, []string{Key(mine, nil)}, changed)

	e, _ := c.Lookup(Key(mine, nil))
	assert.Equal(t, []string{"messaging:a", "messaging:new"}, e.CIDs)

	assert.Empty(t, c.UpdateQueryChannelCollectionByNewChannel(channel("messaging:new", "alice")), "already present")
}

func TestCache_HandleEvent(t *testing.T) {
	c := New(nil, nil)
	mine := In("members", "alice")
	c.SetResult(mine, nil, []string{"messaging:a", "messaging:b"}, 2, false)

	added := channel("messaging:c", "alice")
	c.HandleEvent(events.MemberAdded{Header: events.Header{Type: events.TypeNotificationAddedToChannel}, Channel: &added})

	c.HandleEvent(events.ChannelDeleted{Header: events.Header{Type: events.TypeChannelDeleted, CID: "messaging:a"}})

	c.HandleEvent(events.MemberRemoved{Header: events.Header{Type: events.TypeMemberRemoved, CID: "messaging:b"}})

	e, _ := c.Lookup(Key(mine, nil))
	assert.Equal(t, []string{"messaging:b", "messaging:c"}, e.CIDs, "plain member.removed keeps the channel")

	c.HandleEvent(events.MemberRemoved{Header: events.Header{Type: events.TypeNotificationRemovedFromChannel, CID: "messaging:b"}})
	c.HandleEvent(events.ChannelUpdated{Header: events.Header{Type: events.TypeChannelUpdated}, Channel: channel("messaging:c", "bob")})

	e, _ = c.Lookup(Key(mine, nil))
	assert.Empty(t, e.CIDs)
}

func TestCache_PersistAndLoad(t *testing.T) {
	store := newStore(t)
	f := And(Eq("type", "messaging"), In("members", "alice"))
	s := Sort{{Field: "last_message_at", Direction: Descending}}

	c := New(store, nil)
	c.SetResult(f, s, []string{"messaging:a"}, 1, false)
	c.UpdateQueryChannelCollectionByNewChannel(channel("messaging:b", "alice"))

	reloaded := New(store, nil)
	require.NoError(t, reloaded.Load())

	specs := reloaded.Specs()
	require.Len(t, specs, 1)
	assert.Equal(t, Key(f, s), specs[0].Key)
	assert.Equal(t, []string{"messaging:a", "messaging:b"}, specs[0].CIDs)
	assert.Equal(t, s, specs[0].Sort)
	assert.True(t, Match(&models.Channel{Type: "messaging", Members: []models.Member{{User: models.User{ID: "alice"}}}}, specs[0].Filter))

	reloaded.Reset()
	assert.Empty(t, reloaded.Specs())
}

// --- presets ---

func TestParsePresets(t *testing.T) {
	presets, err := ParsePresets([]byte(`
queries:
  - name: inbox
    filter:
      type: messaging
      members: {$in: [alice]}
    sort:
      - {field: last_message_at, direction: -1}
    limit: 30
  - name: everything
`))
	require.NoError(t, err)
	require.Len(t, presets, 2)

	assert.Equal(t, "inbox", presets[0].Name)
	assert.Equal(t, Key(And(In("members", "alice"), Eq("type", "messaging")), nil), Key(presets[0].Filter, nil))
	assert.Equal(t, Sort{{Field: "last_message_at", Direction: Descending}}, presets[0].Sort)
	assert.Equal(t, 30, presets[0].Limit)

	assert.Equal(t, OpNeutral, presets[1].Filter.Op)
}

func TestParsePresets_Errors(t *testing.T) {
	_, err := ParsePresets([]byte("queries:\n  - filter: {type: x}\n"))
	require.Error(t, err)

	_, err = ParsePresets([]byte("queries:\n  - name: bad\n    filter: {type: {$like: x}}\n"))
	require.ErrorIs(t, err, chaterrors.ErrInvalidFilter)

	_, err = LoadPresets(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
