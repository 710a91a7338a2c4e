// Package events defines the live events delivered by the chat event
// stream. Event is sealed: every variant is declared in this package and
// consumers handle them with a type switch.
package events

import (
	"encoding/json"
	"time"

	"github.com/alexjbarnes/chat-sync/internal/models"
)

// Wire event types.
const (
	TypeMessageNew             = "message.new"
	TypeNotificationMessageNew = "notification.message_new"
	TypeMessageUpdated         = "message.updated"
	TypeMessageDeleted         = "message.deleted"

	TypeReactionNew     = "reaction.new"
	TypeReactionUpdated = "reaction.updated"
	TypeReactionDeleted = "reaction.deleted"

	TypeMemberAdded                    = "member.added"
	TypeNotificationAddedToChannel     = "notification.added_to_channel"
	TypeMemberUpdated                  = "member.updated"
	TypeMemberRemoved                  = "member.removed"
	TypeNotificationRemovedFromChannel = "notification.removed_from_channel"

	TypeMessageRead          = "message.read"
	TypeNotificationMarkRead = "notification.mark_read"

	TypeTypingStart = "typing.start"
	TypeTypingStop  = "typing.stop"

	TypeChannelUpdated                  = "channel.updated"
	TypeChannelDeleted                  = "channel.deleted"
	TypeNotificationChannelDeleted      = "notification.channel_deleted"
	TypeChannelTruncated                = "channel.truncated"
	TypeNotificationChannelTruncated    = "notification.channel_truncated"
	TypeChannelHidden                   = "channel.hidden"
	TypeChannelVisible                  = "channel.visible"
	TypeNotificationChannelMutesUpdated = "notification.channel_mutes_updated"

	TypeUserBanned        = "user.banned"
	TypeUserUnbanned      = "user.unbanned"
	TypeUserWatchingStart = "user.watching.start"
	TypeUserWatchingStop  = "user.watching.stop"

	TypeHealthCheck = "health.check"

	// Connection lifecycle events are synthesized by the event stream.
	TypeConnecting      = "connection.connecting"
	TypeConnected       = "connection.connected"
	TypeDisconnected    = "connection.disconnected"
	TypeConnectionError = "connection.error"
)

// Event is one live event. Only types in this package implement it.
type Event interface {
	EventType() string
	EventTime() time.Time
	header() Header
	isEvent()
}

// Header carries the fields shared by every event.
type Header struct {
	Type        string    `json:"type"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	CID         string    `json:"cid,omitempty"`
	ChannelType string    `json:"channel_type,omitempty"`
	ChannelID   string    `json:"channel_id,omitempty"`
}

// EventType returns the wire type.
func (h Header) EventType() string { return h.Type }

// EventTime returns the server creation time of the event.
func (h Header) EventTime() time.Time { return h.CreatedAt }

func (h Header) header() Header { return h }

// --- messages ---

// MessageNew is a new message in a channel.
type MessageNew struct {
	Header
	User             models.User    `json:"user"`
	Message          models.Message `json:"message"`
	WatcherCount     int            `json:"watcher_count,omitempty"`
	TotalUnreadCount int            `json:"total_unread_count,omitempty"`
	UnreadChannels   int            `json:"unread_channels,omitempty"`
}

// MessageUpdated is an edit of an existing message.
type MessageUpdated struct {
	Header
	User    models.User    `json:"user"`
	Message models.Message `json:"message"`
}

// MessageDeleted is a soft or hard delete of a message.
type MessageDeleted struct {
	Header
	User       models.User    `json:"user"`
	Message    models.Message `json:"message"`
	HardDelete bool           `json:"hard_delete,omitempty"`
}

// --- reactions ---

// ReactionNew adds a reaction. Message carries the updated aggregates
// when the server includes it.
type ReactionNew struct {
	Header
	User     models.User     `json:"user"`
	Message  *models.Message `json:"message,omitempty"`
	Reaction models.Reaction `json:"reaction"`
}

// ReactionUpdated replaces a reaction's score.
type ReactionUpdated struct {
	Header
	User     models.User     `json:"user"`
	Message  *models.Message `json:"message,omitempty"`
	Reaction models.Reaction `json:"reaction"`
}

// ReactionDeleted removes a reaction.
type ReactionDeleted struct {
	Header
	User     models.User     `json:"user"`
	Message  *models.Message `json:"message,omitempty"`
	Reaction models.Reaction `json:"reaction"`
}

// --- members ---

// MemberAdded adds a member. The notification form carries only the
// channel the current user was added to.
type MemberAdded struct {
	Header
	User    models.User     `json:"user"`
	Member  models.Member   `json:"member"`
	Channel *models.Channel `json:"channel,omitempty"`
}

// MemberUpdated changes a member's role or ban state.
type MemberUpdated struct {
	Header
	User   models.User   `json:"user"`
	Member models.Member `json:"member"`
}

// MemberRemoved removes a member.
type MemberRemoved struct {
	Header
	User    models.User     `json:"user"`
	Member  *models.Member  `json:"member,omitempty"`
	Channel *models.Channel `json:"channel,omitempty"`
}

// --- reads and typing ---

// MessageRead moves a user's read marker to the event time.
type MessageRead struct {
	Header
	User              models.User `json:"user"`
	LastReadMessageID string      `json:"last_read_message_id,omitempty"`
}

// TypingStart reports that a user started typing.
type TypingStart struct {
	Header
	User     models.User `json:"user"`
	ParentID string      `json:"parent_id,omitempty"`
}

// TypingStop reports that a user stopped typing.
type TypingStop struct {
	Header
	User     models.User `json:"user"`
	ParentID string      `json:"parent_id,omitempty"`
}

// --- channels ---

// ChannelUpdated replaces channel metadata.
type ChannelUpdated struct {
	Header
	User    models.User     `json:"user"`
	Channel models.Channel  `json:"channel"`
	Message *models.Message `json:"message,omitempty"`
}

// ChannelDeleted removes a channel and its history.
type ChannelDeleted struct {
	Header
	Channel models.Channel `json:"channel"`
}

// ChannelTruncated removes messages created before the event time.
// Message is the optional system message announcing the truncation.
type ChannelTruncated struct {
	Header
	User    models.User     `json:"user"`
	Message *models.Message `json:"message,omitempty"`
	Channel models.Channel  `json:"channel"`
}

// ChannelHidden hides a channel for the user, optionally clearing history.
type ChannelHidden struct {
	Header
	User         models.User `json:"user"`
	ClearHistory bool        `json:"clear_history,omitempty"`
}

// ChannelVisible shows a previously hidden channel.
type ChannelVisible struct {
	Header
	User models.User `json:"user"`
}

// ChannelMuted carries the full set of channels muted by the current user.
type ChannelMuted struct {
	Header
	MutedCIDs []string `json:"muted_cids"`
}

// --- users ---

// UserBanned bans a user in a channel.
type UserBanned struct {
	Header
	User       models.User `json:"user"`
	Expiration time.Time   `json:"expiration,omitzero"`
}

// UserUnbanned lifts a channel ban.
type UserUnbanned struct {
	Header
	User models.User `json:"user"`
}

// UserWatchingStart adds a watcher.
type UserWatchingStart struct {
	Header
	User         models.User `json:"user"`
	WatcherCount int         `json:"watcher_count"`
}

// UserWatchingStop removes a watcher.
type UserWatchingStop struct {
	Header
	User         models.User `json:"user"`
	WatcherCount int         `json:"watcher_count"`
}

// --- connection ---

// HealthCheck is the server heartbeat. The first one after connecting
// carries the connection id.
type HealthCheck struct {
	Header
	ConnectionID string       `json:"connection_id,omitempty"`
	Me           *models.User `json:"me,omitempty"`
}

// Connecting is emitted before every dial attempt.
type Connecting struct {
	Header
}

// Connected is emitted once the socket is established and the first
// health check arrived.
type Connected struct {
	Header
	ConnectionID string `json:"connection_id,omitempty"`
}

// Disconnected is emitted when the socket closes.
type Disconnected struct {
	Header
	Reason string `json:"reason,omitempty"`
}

// ConnectionError is emitted when a dial attempt fails.
type ConnectionError struct {
	Header
	Err error `json:"-"`
}

// Unknown is any event type this package does not model.
type Unknown struct {
	Header
	Raw json.RawMessage `json:"-"`
}

func (MessageNew) isEvent() {}
func (MessageUpdated) isEvent() {}
func (MessageDeleted) isEvent() {}
func (ReactionNew) isEvent() {}
func (ReactionUpdated) isEvent() {}
func (ReactionDeleted) isEvent() {}
func (MemberAdded) isEvent() {}
func (MemberUpdated) isEvent() {}
func (MemberRemoved) isEvent() {}
func (MessageRead) isEvent() {}
func (TypingStart) isEvent() {}
func (TypingStop) isEvent() {}
func (ChannelUpdated) isEvent() {}
func (ChannelDeleted) isEvent() {}
func (ChannelTruncated) isEvent() {}
func (ChannelHidden) isEvent() {}
func (ChannelVisible) isEvent() {}
func (ChannelMuted) isEvent() {}
func (UserBanned) isEvent() {}
func (UserUnbanned) isEvent() {}
func (UserWatchingStart) isEvent() {}
func (UserWatchingStop) isEvent() {}
func (HealthCheck) isEvent() {}
func (Connecting) isEvent() {}
func (Connected) isEvent() {}
func (Disconnected) isEvent() {}
func (ConnectionError) isEvent() {}
func (Unknown) isEvent() {}

// IsConnectionEvent reports whether ev is a connection lifecycle event.
func IsConnectionEvent(ev Event) bool {
	switch ev.(type) {
	case Connecting, Connected, Disconnected, ConnectionError, HealthCheck:
		return true
	}

	return false
}

// NewConnecting builds a Connecting event stamped at now.
func NewConnecting(now time.Time) Connecting {
	return Connecting{Header: Header{Type: TypeConnecting, CreatedAt: now}}
}

// NewConnected builds a Connected event.
func NewConnected(now time.Time, connectionID string) Connected {
	return Connected{Header: Header{Type: TypeConnected, CreatedAt: now}, ConnectionID: connectionID}
}

// NewDisconnected builds a Disconnected event.
func NewDisconnected(now time.Time, reason string) Disconnected {
	return Disconnected{Header: Header{Type: TypeDisconnected, CreatedAt: now}, Reason: reason}
}

// NewConnectionError builds a ConnectionError event.
func NewConnectionError(now time.Time, err error) ConnectionError {
	return ConnectionError{Header: Header{Type: TypeConnectionError, CreatedAt: now}, Err: err}
}
