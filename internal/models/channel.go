// Package models defines the chat entities shared across internal
// packages: channels, messages, reactions, attachments and their sync
// status.
package models

import "time"

// User is a chat user.
type User struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Role      string         `json:"role,omitempty"`
	Online    bool           `json:"online,omitempty"`
	Banned    bool           `json:"banned,omitempty"`
	ExtraData map[string]any `json:"extra_data,omitempty"`
}

// Clone returns a deep copy.
func (u User) Clone() User {
	u.ExtraData = cloneExtra(u.ExtraData)
	return u
}

// Member is a user's membership in a channel.
type Member struct {
	User         User      `json:"user"`
	Role         string    `json:"channel_role,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
	Banned       bool      `json:"banned,omitempty"`
	ShadowBanned bool      `json:"shadow_banned,omitempty"`
}

// ChannelUserRead is one member's read marker in a channel.
type ChannelUserRead struct {
	User              User      `json:"user"`
	LastRead          time.Time `json:"last_read,omitzero"`
	UnreadMessages    int       `json:"unread_messages"`
	LastReadMessageID string    `json:"last_read_message_id,omitempty"`
}

// Channel is a conversation. Messages is only populated on transport
// responses and persisted snapshots; the live list is owned by the
// channel's controller.
type Channel struct {
	CID           string            `json:"cid"`
	Type          string            `json:"type"`
	ID            string            `json:"id"`
	Name          string            `json:"name,omitempty"`
	CreatedBy     User              `json:"created_by,omitzero"`
	CreatedAt     time.Time         `json:"created_at,omitzero"`
	UpdatedAt     time.Time         `json:"updated_at,omitzero"`
	DeletedAt     time.Time         `json:"deleted_at,omitzero"`
	LastMessageAt time.Time         `json:"last_message_at,omitzero"`
	MemberCount   int               `json:"member_count"`
	Members       []Member          `json:"members,omitempty"`
	Watchers      []User            `json:"watchers,omitempty"`
	WatcherCount  int               `json:"watcher_count,omitempty"`
	Reads         []ChannelUserRead `json:"read,omitempty"`
	Cooldown      int               `json:"cooldown,omitempty"`
	Frozen        bool              `json:"frozen,omitempty"`
	Hidden        bool              `json:"hidden,omitempty"`
	Muted         bool              `json:"muted,omitempty"`
	UnreadCount   int               `json:"unread_count,omitempty"`
	ExtraData     map[string]any    `json:"extra_data,omitempty"`
	Messages      []Message         `json:"messages,omitempty"`

	SyncStatus SyncStatus `json:"sync_status"`
}

// LastUpdated is max(CreatedAt, LastMessageAt). Derived, never stored.
func (c Channel) LastUpdated() time.Time {
	return maxTime(c.CreatedAt, c.LastMessageAt)
}

// MemberIDs returns the user ids of all members in order.
func (c Channel) MemberIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for i := range c.Members {
		ids = append(ids, c.Members[i].User.ID)
	}

	return ids
}

// ReadFor returns the read marker of userID, if any.
func (c Channel) ReadFor(userID string) (ChannelUserRead, bool) {
	for _, r := range c.Reads {
		if r.User.ID == userID {
			return r, true
		}
	}

	return ChannelUserRead{}, false
}

// EnsureCID fills CID from Type and ID, or Type and ID from CID,
// whichever is missing.
func (c *Channel) EnsureCID() {
	if c.CID == "" && c.Type != "" && c.ID != "" {
		c.CID = CID(c.Type, c.ID)
		return
	}

	if c.CID != "" && (c.Type == "" || c.ID == "") {
		if typ, id, err := SplitCID(c.CID); err == nil {
			c.Type, c.ID = typ, id
		}
	}
}

// Clone returns a deep copy.
func (c Channel) Clone() Channel {
	c.CreatedBy = c.CreatedBy.Clone()
	c.Members = append([]Member(nil), c.Members...)
	c.Watchers = append([]User(nil), c.Watchers...)
	c.Reads = append([]ChannelUserRead(nil), c.Reads...)
	c.ExtraData = cloneExtra(c.ExtraData)

	if c.Messages != nil {
		msgs := make([]Message, len(c.Messages))
		for i := range c.Messages {
			msgs[i] = c.Messages[i].Clone()
		}

		c.Messages = msgs
	}

	return c
}
