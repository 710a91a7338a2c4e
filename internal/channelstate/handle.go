package channelstate

import (
	"log/slog"
	"slices"
	"time"

	"github.com/alexjbarnes/chat-sync/internal/events"
	"github.com/alexjbarnes/chat-sync/internal/models"
)

// HandleEvent applies one live event to the channel. Events for other
// channels and connection events are ignored.
func (c *Controller) HandleEvent(ev events.Event) {
	_ = c.do(func() {
		c.handle(ev)
	})
}

// HandleEvents applies events in order in a single queue slot.
func (c *Controller) HandleEvents(evs []events.Event) {
	_ = c.do(func() {
		for _, ev := range evs {
			c.handle(ev)
		}
	})
}

func (c *Controller) handle(ev events.Event) {
	switch e := ev.(type) {
	case events.MessageNew:
		c.onMessageNew(e)
	case events.MessageUpdated:
		c.upsert(e.Message)
	case events.MessageDeleted:
		if e.HardDelete {
			delete(c.messages, e.Message.ID)
			return
		}

		c.upsert(e.Message)
	case events.ReactionNew:
		c.applyReaction(reactionAdded, e.Reaction, e.Message)
	case events.ReactionUpdated:
		c.applyReaction(reactionUpdated, e.Reaction, e.Message)
	case events.ReactionDeleted:
		c.applyReaction(reactionRemoved, e.Reaction, e.Message)
	case events.MemberAdded:
		if e.Channel != nil && e.Member.User.ID == "" {
			c.applyChannelUpdate(*e.Channel)
			return
		}

		c.upsertMember(e.Member)
	case events.MemberUpdated:
		c.upsertMember(e.Member)
	case events.MemberRemoved:
		id := e.User.ID
		if e.Member != nil && e.Member.User.ID != "" {
			id = e.Member.User.ID
		}

		c.removeMember(id)
	case events.MessageRead:
		c.markRead(e.User, e.EventTime(), e.LastReadMessageID)
	case events.TypingStart:
		if e.User.ID == c.opts.CurrentUserID {
			return
		}

		c.typing[e.User.ID] = TypingUser{User: e.User, StartedAt: c.eventTime(e.EventTime()), ParentID: e.ParentID}
	case events.TypingStop:
		delete(c.typing, e.User.ID)
	case events.ChannelUpdated:
		c.applyChannelUpdate(e.Channel)

		if e.Message != nil {
			c.upsert(*e.Message)
		}
	case events.ChannelDeleted:
		c.channel.DeletedAt = c.eventTime(e.EventTime())
		c.truncate(c.channel.DeletedAt, nil)
	case events.ChannelTruncated:
		c.truncate(c.eventTime(e.EventTime()), e.Message)
	case events.ChannelHidden:
		c.channel.Hidden = true

		if e.ClearHistory {
			c.truncate(c.eventTime(e.EventTime()), nil)
		}
	case events.ChannelVisible:
		c.channel.Hidden = false
	case events.ChannelMuted:
		c.channel.Muted = slices.Contains(e.MutedCIDs, c.cid)
	case events.UserBanned:
		c.setBanned(e.User.ID, true)
	case events.UserUnbanned:
		c.setBanned(e.User.ID, false)
	case events.UserWatchingStart:
		if !slices.ContainsFunc(c.channel.Watchers, func(u models.User) bool { return u.ID == e.User.ID }) {
			c.channel.Watchers = append(c.channel.Watchers, e.User)
		}

		c.channel.WatcherCount = max(e.WatcherCount, len(c.channel.Watchers))
	case events.UserWatchingStop:
		c.channel.Watchers = slices.DeleteFunc(c.channel.Watchers, func(u models.User) bool { return u.ID == e.User.ID })
		c.channel.WatcherCount = e.WatcherCount
	case events.HealthCheck, events.Connecting, events.Connected, events.Disconnected,
		events.ConnectionError, events.Unknown:
	default:
		c.logger.Debug("unhandled event", slog.String("type", ev.EventType()))
	}
}

func (c *Controller) onMessageNew(e events.MessageNew) {
	_, existed := c.messages[e.Message.ID]

	if !c.upsert(e.Message) {
		return
	}

	if e.WatcherCount > 0 {
		c.channel.WatcherCount = e.WatcherCount
	}

	if !e.Message.IsThreadOnlyReply() {
		c.channel.Hidden = false
	}

	if existed || !c.countsAsUnread(&e.Message) {
		return
	}

	c.channel.UnreadCount++

	for i := range c.channel.Reads {
		if c.channel.Reads[i].User.ID == c.opts.CurrentUserID {
			c.channel.Reads[i].UnreadMessages++
			return
		}
	}

	c.channel.Reads = append(c.channel.Reads, models.ChannelUserRead{
		User:           models.User{ID: c.opts.CurrentUserID},
		UnreadMessages: 1,
	})
}

// countsAsUnread reports whether a new message from someone else bumps
// the current user's unread count.
func (c *Controller) countsAsUnread(m *models.Message) bool {
	if m.User.ID == c.opts.CurrentUserID || m.IsThreadOnlyReply() || m.Silent {
		return false
	}

	if read, ok := c.channel.ReadFor(c.opts.CurrentUserID); ok && !m.CreatedAt.After(read.LastRead) {
		return false
	}

	return c.lastMarkRead.IsZero() || m.CreatedAt.After(c.lastMarkRead)
}

func (c *Controller) upsertMember(m models.Member) {
	if m.User.ID == "" {
		return
	}

	for i := range c.channel.Members {
		if c.channel.Members[i].User.ID == m.User.ID {
			c.channel.Members[i] = m
			return
		}
	}

	c.channel.Members = append(c.channel.Members, m)
	c.channel.MemberCount++
}

func (c *Controller) removeMember(userID string) {
	before := len(c.channel.Members)

	c.channel.Members = slices.DeleteFunc(c.channel.Members, func(m models.Member) bool {
		return m.User.ID == userID
	})

	if len(c.channel.Members) < before && c.channel.MemberCount > 0 {
		c.channel.MemberCount--
	}
}

func (c *Controller) setBanned(userID string, banned bool) {
	for i := range c.channel.Members {
		if c.channel.Members[i].User.ID == userID {
			c.channel.Members[i].Banned = banned
		}
	}
}

// eventTime falls back to the local clock for events without a time.
func (c *Controller) eventTime(t time.Time) time.Time {
	if t.IsZero() {
		return c.opts.Now()
	}

	return t
}

// ApplyEvent applies ev to a channel that has no active controller and
// returns the updated metadata. The current user's stored read seeds the
// read marker, so older reads are ignored as they are on a live
// controller. Message bookkeeping is left to the caller.
func ApplyEvent(ch models.Channel, ev events.Event, opts Options) models.Channel {
	ch.EnsureCID()
	opts = opts.withDefaults()

	c := &Controller{
		cid:      ch.CID,
		opts:     opts,
		logger:   opts.Logger,
		channel:  ch.Clone(),
		messages: make(map[string]*models.Message),
		typing:   make(map[string]TypingUser),
	}

	if read, ok := ch.ReadFor(opts.CurrentUserID); ok {
		c.lastMarkRead = read.LastRead
	}

	c.handle(ev)

	return c.channel
}
