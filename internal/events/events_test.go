package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chaterrors "github.com/alexjbarnes/chat-sync/internal/errors"
)

// --- Decode ---

func TestDecode_MessageNew(t *testing.T) {
	data := []byte(`{
		"type": "message.new",
		"created_at": "2024-03-01T12:00:00.123Z",
		"cid": "messaging:general",
		"channel_type": "messaging",
		"channel_id": "general",
		"user": {"id": "bob"},
		"message": {"id": "m1", "cid": "messaging:general", "text": "hi", "user": {"id": "bob"},
			"created_at": "2024-03-01T12:00:00Z", "sync_status": "completed"},
		"watcher_count": 3
	}`)

	ev, err := Decode(data)
	require.NoError(t, err)

	mn, ok := ev.(MessageNew)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "m1", mn.Message.ID)
	assert.Equal(t, "hi", mn.Message.Text)
	assert.Equal(t, "bob", mn.User.ID)
	assert.Equal(t, 3, mn.WatcherCount)
	assert.Equal(t, TypeMessageNew, ev.EventType())
	assert.Equal(t, 2024, ev.EventTime().Year())
}

func TestDecode_AliasesShareVariant(t *testing.T) {
	tests := []struct {
		typ  string
		want any
	}{
		{TypeNotificationMessageNew, MessageNew{}},
		{TypeNotificationAddedToChannel, MemberAdded{}},
		{TypeNotificationRemovedFromChannel, MemberRemoved{}},
		{TypeNotificationMarkRead, MessageRead{}},
		{TypeNotificationChannelDeleted, ChannelDeleted{}},
		{TypeNotificationChannelTruncated, ChannelTruncated{}},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			ev, err := Decode([]byte(`{"type":"` + tt.typ + `","cid":"messaging:x"}`))
			require.NoError(t, err)
			assert.IsType(t, tt.want, ev)
			assert.Equal(t, tt.typ, ev.EventType(), "original type kept")
		})
	}
}

func TestDecode_MessageDeletedHard(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"message.deleted","cid":"messaging:x","hard_delete":true,"message":{"id":"m1"}}`))
	require.NoError(t, err)

	md := ev.(MessageDeleted)
	assert.True(t, md.HardDelete)
	assert.Equal(t, "m1", md.Message.ID)
}

func TestDecode_ReactionWithoutMessage(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"reaction.new","cid":"messaging:x","reaction":{"message_id":"m1","user_id":"u","type":"like","score":1}}`))
	require.NoError(t, err)

	rn := ev.(ReactionNew)
	assert.Nil(t, rn.Message)
	assert.Equal(t, "like", rn.Reaction.Type)
}

func TestDecode_ChannelMutes(t *testing.T) {
	data := []byte(`{
		"type": "notification.channel_mutes_updated",
		"me": {"id": "alice", "channel_mutes": [
			{"channel": {"cid": "messaging:a"}},
			{"channel": {"cid": "messaging:b"}}
		]}
	}`)

	ev, err := Decode(data)
	require.NoError(t, err)

	cm := ev.(ChannelMuted)
	assert.Equal(t, []string{"messaging:a", "messaging:b"}, cm.MutedCIDs)
}

func TestDecode_HealthCheck(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"health.check","connection_id":"conn-1","me":{"id":"alice"}}`))
	require.NoError(t, err)

	hc := ev.(HealthCheck)
	assert.Equal(t, "conn-1", hc.ConnectionID)
	require.NotNil(t, hc.Me)
	assert.Equal(t, "alice", hc.Me.ID)
	assert.True(t, IsConnectionEvent(ev))
}

func TestDecode_Unknown(t *testing.T) {
	raw := []byte(`{"type":"poll.vote_casted","cid":"messaging:x","poll":{"id":"p"}}`)

	ev, err := Decode(raw)
	require.NoError(t, err)

	u, ok := ev.(Unknown)
	require.True(t, ok)
	assert.Equal(t, "poll.vote_casted", u.Type)
	assert.JSONEq(t, string(raw), string(u.Raw))
	assert.Equal(t, "messaging:x", ResolveCID(ev))
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, chaterrors.ErrAPIResponse))

	_, err = Decode([]byte(`{"cid":"messaging:x"}`))
	require.Error(t, err)

	_, err = Decode([]byte(`{"type":"message.new","message":"not an object"}`))
	require.Error(t, err)
}

// --- ResolveCID ---

func TestResolveCID_Fallbacks(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{
			name: "cid field",
			ev:   MessageNew{Header: Header{CID: "messaging:a", ChannelType: "team", ChannelID: "b"}},
			want: "messaging:a",
		},
		{
			name: "type and id",
			ev:   TypingStart{Header: Header{ChannelType: "team", ChannelID: "b"}},
			want: "team:b",
		},
		{
			name: "embedded channel cid",
			ev:   ChannelDeleted{Channel: channelWith("messaging:c", "", "")},
			want: "messaging:c",
		},
		{
			name: "embedded channel type and id",
			ev:   ChannelTruncated{Channel: channelWith("", "livestream", "d")},
			want: "livestream:d",
		},
		{
			name: "notification added to channel",
			ev:   MemberAdded{Channel: ptr(channelWith("messaging:e", "", ""))},
			want: "messaging:e",
		},
		{
			name: "no channel",
			ev:   NewConnected(time.Now(), "c1"),
			want: "",
		},
		{
			name: "nil event",
			ev:   nil,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveCID(tt.ev))
		})
	}
}

// --- synthesized events ---

func TestConnectionConstructors(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, TypeConnecting, NewConnecting(now).EventType())
	assert.Equal(t, "c1", NewConnected(now, "c1").ConnectionID)
	assert.Equal(t, "eof", NewDisconnected(now, "eof").Reason)

	ce := NewConnectionError(now, errors.New("dial failed"))
	assert.EqualError(t, ce.Err, "dial failed")
	assert.True(t, now.Equal(ce.EventTime()))

	assert.True(t, IsConnectionEvent(ce))
	assert.False(t, IsConnectionEvent(TypingStart{}))
}
