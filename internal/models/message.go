package models

import "time"

// Message types.
const (
	MessageTypeRegular   = "regular"
	MessageTypeEphemeral = "ephemeral"
	MessageTypeError     = "error"
	MessageTypeReply     = "reply"
	MessageTypeSystem    = "system"
	MessageTypeDeleted   = "deleted"
)

// Message is a chat message. Server timestamps and local timestamps are
// tracked separately: the local ones are set by optimistic mutations, the
// server ones arrive with acknowledgements and events. A zero time means
// unknown.
type Message struct {
	ID       string `json:"id"`
	CID      string `json:"cid"`
	Text     string `json:"text"`
	Type     string `json:"type,omitempty"`
	User     User   `json:"user"`
	ParentID string `json:"parent_id,omitempty"`

	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
	DeletedAt time.Time `json:"deleted_at,omitzero"`

	CreatedLocallyAt time.Time `json:"created_locally_at,omitzero"`
	UpdatedLocallyAt time.Time `json:"updated_locally_at,omitzero"`
	DeletedLocallyAt time.Time `json:"deleted_locally_at,omitzero"`

	Attachments     []Attachment   `json:"attachments,omitempty"`
	ReactionCounts  map[string]int `json:"reaction_counts,omitempty"`
	ReactionScores  map[string]int `json:"reaction_scores,omitempty"`
	LatestReactions []Reaction     `json:"latest_reactions,omitempty"`
	OwnReactions    []Reaction     `json:"own_reactions,omitempty"`
	ReplyCount      int            `json:"reply_count,omitempty"`
	ShowInChannel   bool           `json:"show_in_channel,omitempty"`
	Silent          bool           `json:"silent,omitempty"`
	ExtraData       map[string]any `json:"extra_data,omitempty"`

	SyncStatus SyncStatus `json:"sync_status"`
}

// SortTime is the ordering key: server creation time once known, local
// creation time until then.
func (m Message) SortTime() time.Time {
	if !m.CreatedAt.IsZero() {
		return m.CreatedAt
	}

	return m.CreatedLocallyAt
}

// IsDeleted reports whether the message is soft-deleted on either side.
func (m Message) IsDeleted() bool {
	return !m.DeletedAt.IsZero() || !m.DeletedLocallyAt.IsZero()
}

// IsThreadOnlyReply reports whether the message lives only in a thread.
func (m Message) IsThreadOnlyReply() bool {
	return m.ParentID != "" && !m.ShowInChannel
}

// ServerUpdateTime is the latest server-side timestamp on the message.
func (m Message) ServerUpdateTime() time.Time {
	return maxTime(m.CreatedAt, m.UpdatedAt, m.DeletedAt)
}

// LocalUpdateTime is the latest local timestamp on the message.
func (m Message) LocalUpdateTime() time.Time {
	return maxTime(m.CreatedLocallyAt, m.UpdatedLocallyAt, m.DeletedLocallyAt)
}

// HasPendingAttachments reports whether any attachment still needs to be
// uploaded.
func (m Message) HasPendingAttachments() bool {
	for i := range m.Attachments {
		if m.Attachments[i].NeedsUpload() {
			return true
		}
	}

	return false
}

// HasFailedAttachments reports whether any attachment ended Failed.
func (m Message) HasFailedAttachments() bool {
	for i := range m.Attachments {
		if m.Attachments[i].UploadState.Kind == UploadFailed {
			return true
		}
	}

	return false
}

// SameVersion reports whether m and other are the same revision of the
// same message: same id and the same latest server and local times. A
// soft delete counts as a new revision.
func (m Message) SameVersion(other *Message) bool {
	return m.ID == other.ID &&
		m.ServerUpdateTime().Equal(other.ServerUpdateTime()) &&
		m.LocalUpdateTime().Equal(other.LocalUpdateTime())
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		atts := make([]Attachment, len(m.Attachments))
		for i := range m.Attachments {
			atts[i] = m.Attachments[i].Clone()
		}

		m.Attachments = atts
	}

	m.ReactionCounts = cloneCounts(m.ReactionCounts)
	m.ReactionScores = cloneCounts(m.ReactionScores)
	m.LatestReactions = append([]Reaction(nil), m.LatestReactions...)
	m.OwnReactions = append([]Reaction(nil), m.OwnReactions...)
	m.ExtraData = cloneExtra(m.ExtraData)
	m.User = m.User.Clone()

	return m
}

// IsMessageNewer decides whether incoming should replace current.
//
// A completed incoming message is compared on server time, anything else
// on local time. A completed copy always replaces a pending one with the
// same timestamps, since it is the server acknowledging the local state.
// Equal timestamps on two completed copies are a replay and lose.
func IsMessageNewer(current, incoming *Message) bool {
	if current == nil {
		return true
	}

	var curTime, inTime time.Time
	if incoming.SyncStatus == SyncCompleted {
		curTime, inTime = current.ServerUpdateTime(), incoming.ServerUpdateTime()
	} else {
		curTime, inTime = current.LocalUpdateTime(), incoming.LocalUpdateTime()
	}

	if inTime.After(curTime) {
		return true
	}

	if inTime.Equal(curTime) && incoming.SyncStatus == SyncCompleted && current.SyncStatus != SyncCompleted {
		return true
	}

	return false
}
