// Package channelstate holds the authoritative in-memory view of active
// channels. Each Controller owns one channel and applies every mutation
// on its own goroutine, so local mutations and live events for the same
// cid never interleave.
package channelstate

import (
	"log/slog"
	"sort"
	"time"

	chaterrors "github.com/alexjbarnes/chat-sync/internal/errors"
	"github.com/alexjbarnes/chat-sync/internal/lifecycle"
	"github.com/alexjbarnes/chat-sync/internal/logging"
	"github.com/alexjbarnes/chat-sync/internal/models"
)

const (
	// opBuffer is the depth of a controller's op queue.
	opBuffer = 64

	// TypingStaleAfter is how long a remote typing indicator lives
	// without a refresh.
	TypingStaleAfter = 15 * time.Second

	// TypingIdleAfter is how long after the last keystroke the user's own
	// typing indicator is stopped.
	TypingIdleAfter = 5 * time.Second

	// TypingThrottle is the minimum interval between typing.start sends.
	TypingThrottle = 3 * time.Second
)

// MergeMode selects how MergeRemoteMessages treats the current list.
type MergeMode int

const (
	// ModeReplacePage replaces the acknowledged messages with the page.
	// Locally pending messages stay visible.
	ModeReplacePage MergeMode = iota

	// ModeAppendOlder adds a page before the oldest loaded message.
	ModeAppendOlder

	// ModeAppendNewer adds a page after the newest loaded message.
	ModeAppendNewer
)

// Options configure a controller. Zero values select defaults.
type Options struct {
	// CurrentUserID is the logged-in user.
	CurrentUserID string

	// Online reports whether the event stream is connected. Local
	// mutations use it to pick IN_PROGRESS or SYNC_NEEDED.
	Online func() bool

	// Now is the clock used for local timestamps.
	Now func() time.Time

	// ValidURL decides whether a known attachment URL is still usable.
	ValidURL URLValidator

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Online == nil {
		o.Online = func() bool { return false }
	}

	if o.Now == nil {
		o.Now = time.Now
	}

	if o.ValidURL == nil {
		o.ValidURL = ValidURL
	}

	if o.Logger == nil {
		o.Logger = logging.Discard()
	}

	return o
}

// TypingUser is a user currently typing in the channel.
type TypingUser struct {
	User      models.User
	StartedAt time.Time
	ParentID  string
}

// Snapshot is a deep copy of a controller's state.
type Snapshot struct {
	Channel      models.Channel
	Messages     []models.Message
	Typing       []TypingUser
	EndOfOlder   bool
	EndOfNewer   bool
	LastMarkRead time.Time
}

type op struct {
	fn   func()
	done chan struct{}
}

// Controller is the single owner of one channel's state. All fields
// below the queue are only touched on the loop goroutine.
type Controller struct {
	cid    string
	opts   Options
	logger *slog.Logger

	ops     chan op
	quit    chan struct{}
	stopped chan struct{}

	channel      models.Channel
	messages     map[string]*models.Message
	endOfOlder   bool
	endOfNewer   bool
	lastMarkRead time.Time
	typing       map[string]TypingUser
	own          ownTyping
}

type ownTyping struct {
	active        bool
	lastKeystroke time.Time
	lastStartSent time.Time
}

// NewController starts a controller for cid. The cid must be valid.
func NewController(cid string, opts Options) (*Controller, error) {
	typ, id, err := models.SplitCID(cid)
	if err != nil {
		return nil, err
	}

	opts = opts.withDefaults()

	c := &Controller{
		cid:      cid,
		opts:     opts,
		logger:   opts.Logger.With(slog.String("cid", cid)),
		ops:      make(chan op, opBuffer),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		channel:  models.Channel{CID: cid, Type: typ, ID: id},
		messages: make(map[string]*models.Message),
		typing:   make(map[string]TypingUser),
	}

	go c.loop()

	return c, nil
}

// CID returns the channel this controller owns.
func (c *Controller) CID() string { return c.cid }

func (c *Controller) loop() {
	defer close(c.stopped)

	for {
		select {
		case o := <-c.ops:
			o.fn()
			close(o.done)
		case <-c.quit:
			return
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (c *Controller) do(fn func()) error {
	o := op{fn: fn, done: make(chan struct{})}

	select {
	case c.ops <- o:
	case <-c.quit:
		return chaterrors.ErrControllerClosed
	}

	select {
	case <-o.done:
		return nil
	case <-c.stopped:
		select {
		case <-o.done:
			return nil
		default:
			return chaterrors.ErrControllerClosed
		}
	}
}

// Close stops the loop. Pending ops that have not started are dropped.
func (c *Controller) Close() {
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}

	<-c.stopped
}

// --- local mutations ---

// ApplyLocalMessage inserts or updates msg optimistically. A new message
// gets CreatedLocallyAt, an existing one UpdatedLocallyAt. The status
// follows the lifecycle rules for a local mutation. It never blocks on
// the network and never fails; on a closed controller msg is returned
// unchanged.
func (c *Controller) ApplyLocalMessage(msg models.Message) models.Message {
	out := msg

	_ = c.do(func() {
		now := c.opts.Now()
		msg.CID = c.cid

		current, exists := c.messages[msg.ID]
		status := models.SyncCompleted

		if exists {
			status = current.SyncStatus
			msg.UpdatedLocallyAt = now

			if msg.CreatedLocallyAt.IsZero() {
				msg.CreatedLocallyAt = current.CreatedLocallyAt
			}

			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = current.CreatedAt
			}
		} else if msg.CreatedLocallyAt.IsZero() {
			msg.CreatedLocallyAt = now
		}

		next, err := lifecycle.Next(status, lifecycle.Mutation(c.opts.Online(), msg.HasPendingAttachments()))
		if err != nil {
			c.logger.Debug("local mutation on failed message keeps status",
				slog.String("message_id", msg.ID),
				slog.String("status", status.String()),
			)
		}

		msg.SyncStatus = next

		stored := msg.Clone()
		c.messages[msg.ID] = &stored

		if !msg.IsThreadOnlyReply() && now.After(c.channel.LastMessageAt) && !exists {
			c.channel.LastMessageAt = now
		}

		out = msg.Clone()
	})

	return out
}

// PutMessage stores msg as given, bypassing the newer-than rule. Used to
// fold remote call results and status changes back in.
func (c *Controller) PutMessage(msg models.Message) {
	_ = c.do(func() {
		msg.CID = c.cid
		stored := msg.Clone()
		c.messages[msg.ID] = &stored
	})
}

// SetMessageSyncStatus changes one message's status. Returns false if
// the message is not loaded.
func (c *Controller) SetMessageSyncStatus(id string, status models.SyncStatus) bool {
	ok := false

	_ = c.do(func() {
		m, exists := c.messages[id]
		if !exists {
			return
		}

		m.SyncStatus = status
		ok = true
	})

	return ok
}

// UpdateAttachment replaces attachment index of a message, enforcing the
// upload state invariants. Returns false when the message or index is
// unknown or the transition was rejected.
func (c *Controller) UpdateAttachment(messageID string, index int, att models.Attachment) bool {
	ok := false

	_ = c.do(func() {
		m, exists := c.messages[messageID]
		if !exists || index < 0 || index >= len(m.Attachments) {
			return
		}

		current := m.Attachments[index]
		next := att.Clone()
		state := next.UploadState
		next.UploadState = current.UploadState

		if !next.SetUploadState(state) {
			return
		}

		m.Attachments[index] = next
		ok = true
	})

	return ok
}

// RemoveMessage drops a message from memory.
func (c *Controller) RemoveMessage(id string) bool {
	ok := false

	_ = c.do(func() {
		if _, exists := c.messages[id]; exists {
			delete(c.messages, id)
			ok = true
		}
	})

	return ok
}

// --- remote merges ---

// MergeRemoteMessages folds a page of server messages in. Each message
// is upserted under the newer-than rule with attachment URL preference.
func (c *Controller) MergeRemoteMessages(msgs []models.Message, mode MergeMode) {
	_ = c.do(func() {
		switch mode {
		case ModeReplacePage:
			keep := make(map[string]struct{}, len(msgs))
			for i := range msgs {
				keep[msgs[i].ID] = struct{}{}
			}

			for id, m := range c.messages {
				if _, ok := keep[id]; !ok && m.SyncStatus == models.SyncCompleted {
					delete(c.messages, id)
				}
			}
		case ModeAppendOlder:
			if len(msgs) == 0 {
				c.endOfOlder = true
			}
		case ModeAppendNewer:
			if len(msgs) == 0 {
				c.endOfNewer = true
			}
		}

		for i := range msgs {
			c.upsert(msgs[i])
		}
	})
}

// UpsertMessage applies one remote message. Returns false when the same
// revision is already present or the incoming copy is not newer.
func (c *Controller) UpsertMessage(msg models.Message) bool {
	changed := false

	_ = c.do(func() {
		changed = c.upsert(msg)
	})

	return changed
}

func (c *Controller) upsert(incoming models.Message) bool {
	if incoming.ID == "" {
		return false
	}

	incoming.CID = c.cid

	current, exists := c.messages[incoming.ID]
	if exists {
		if current.SameVersion(&incoming) && current.SyncStatus == incoming.SyncStatus {
			return false
		}

		if !models.IsMessageNewer(current, &incoming) {
			return false
		}

		incoming.Attachments = mergeAttachments(current.Attachments, incoming.Attachments, c.opts.ValidURL, c.opts.Now())

		if incoming.CreatedLocallyAt.IsZero() {
			incoming.CreatedLocallyAt = current.CreatedLocallyAt
		}
	}

	stored := incoming.Clone()
	c.messages[stored.ID] = &stored

	if !stored.IsThreadOnlyReply() && stored.CreatedAt.After(c.channel.LastMessageAt) {
		c.channel.LastMessageAt = stored.CreatedAt
	}

	return true
}

// SetChannel merges channel metadata from a query response. Membership,
// reads and watchers are replaced when the incoming channel carries them.
func (c *Controller) SetChannel(ch models.Channel) {
	_ = c.do(func() {
		c.setChannel(ch)
	})
}

func (c *Controller) setChannel(ch models.Channel) {
	ch.EnsureCID()
	next := ch.Clone()
	next.CID, next.Type, next.ID = c.channel.CID, c.channel.Type, c.channel.ID
	next.Messages = nil

	if next.Members == nil {
		next.Members = c.channel.Members
	}

	if next.Reads == nil {
		next.Reads = c.channel.Reads
	}

	if next.Watchers == nil {
		next.Watchers = c.channel.Watchers
	}

	if c.channel.LastMessageAt.After(next.LastMessageAt) {
		next.LastMessageAt = c.channel.LastMessageAt
	}

	c.channel = next
}

// applyChannelUpdate merges the server-owned metadata carried by a
// channel event. Unread counts, mute and hidden flags and the sync status
// are local and stay as they are.
func (c *Controller) applyChannelUpdate(ch models.Channel) {
	ch = ch.Clone()
	next := c.channel

	next.Name = ch.Name
	next.Frozen = ch.Frozen
	next.Cooldown = ch.Cooldown
	next.ExtraData = ch.ExtraData

	if ch.CreatedBy.ID != "" {
		next.CreatedBy = ch.CreatedBy
	}

	if !ch.CreatedAt.IsZero() {
		next.CreatedAt = ch.CreatedAt
	}

	if ch.UpdatedAt.After(next.UpdatedAt) {
		next.UpdatedAt = ch.UpdatedAt
	}

	if ch.LastMessageAt.After(next.LastMessageAt) {
		next.LastMessageAt = ch.LastMessageAt
	}

	if ch.MemberCount > 0 {
		next.MemberCount = ch.MemberCount
	}

	if ch.Members != nil {
		next.Members = ch.Members
	}

	c.channel = next
}

// SetChannelSyncStatus changes the channel's own status.
func (c *Controller) SetChannelSyncStatus(status models.SyncStatus) {
	_ = c.do(func() {
		c.channel.SyncStatus = status
	})
}

// --- reads ---

// MarkChannelRead moves userID's read marker to at. For the current user
// the marker is monotonic: an at not after the last mark is a no-op.
// Other users' markers advance when at is after the stored LastRead.
// Returns whether anything changed.
func (c *Controller) MarkChannelRead(userID string, at time.Time) bool {
	changed := false

	_ = c.do(func() {
		changed = c.markRead(models.User{ID: userID}, at, "")
	})

	return changed
}

func (c *Controller) markRead(user models.User, at time.Time, lastReadMessageID string) bool {
	idx := -1

	for i := range c.channel.Reads {
		if c.channel.Reads[i].User.ID == user.ID {
			idx = i
			break
		}
	}

	if user.ID == c.opts.CurrentUserID {
		if !at.After(c.lastMarkRead) {
			return false
		}

		c.lastMarkRead = at
		c.channel.UnreadCount = 0
	} else if idx >= 0 && !at.After(c.channel.Reads[idx].LastRead) {
		return false
	}

	read := models.ChannelUserRead{User: user, LastRead: at, LastReadMessageID: lastReadMessageID}

	if idx < 0 {
		c.channel.Reads = append(c.channel.Reads, read)
		return true
	}

	if read.User.Name == "" {
		read.User = c.channel.Reads[idx].User
	}

	c.channel.Reads[idx] = read

	return true
}

// --- truncation and visibility ---

// Truncate removes every message created at or before at. The optional
// system message announcing the truncation is inserted afterwards.
func (c *Controller) Truncate(at time.Time, systemMessage *models.Message) int {
	removed := 0

	_ = c.do(func() {
		removed = c.truncate(at, systemMessage)
	})

	return removed
}

func (c *Controller) truncate(at time.Time, systemMessage *models.Message) int {
	removed := 0

	for id, m := range c.messages {
		if !m.SortTime().After(at) {
			delete(c.messages, id)
			removed++
		}
	}

	for i := range c.channel.Reads {
		c.channel.Reads[i].UnreadMessages = 0
	}

	c.channel.UnreadCount = 0

	if systemMessage != nil {
		c.upsert(*systemMessage)
	}

	return removed
}

// Hide marks the channel hidden. A non-zero clearHistoryAt also removes
// the history up to that time.
func (c *Controller) Hide(clearHistoryAt time.Time) {
	_ = c.do(func() {
		c.channel.Hidden = true

		if !clearHistoryAt.IsZero() {
			c.truncate(clearHistoryAt, nil)
		}
	})
}

// Show clears the hidden flag.
func (c *Controller) Show() {
	_ = c.do(func() {
		c.channel.Hidden = false
	})
}

// --- reads of state ---

// Snapshot returns a deep copy of the channel state with messages in
// SortTime order.
func (c *Controller) Snapshot() Snapshot {
	var s Snapshot

	err := c.do(func() {
		s = Snapshot{
			Channel:      c.channel.Clone(),
			Messages:     c.sortedMessages(),
			EndOfOlder:   c.endOfOlder,
			EndOfNewer:   c.endOfNewer,
			LastMarkRead: c.lastMarkRead,
		}

		for _, t := range c.typing {
			s.Typing = append(s.Typing, t)
		}

		sort.Slice(s.Typing, func(i, j int) bool { return s.Typing[i].User.ID < s.Typing[j].User.ID })
	})
	if err != nil {
		c.logger.Debug("snapshot on closed controller")
	}

	return s
}

// Message returns a copy of one message.
func (c *Controller) Message(id string) (models.Message, bool) {
	var (
		out models.Message
		ok  bool
	)

	_ = c.do(func() {
		if m, exists := c.messages[id]; exists {
			out, ok = m.Clone(), true
		}
	})

	return out, ok
}

// Bounds returns the ids of the oldest and newest loaded messages.
func (c *Controller) Bounds() (oldest, newest string) {
	_ = c.do(func() {
		msgs := c.sortedMessages()
		if len(msgs) == 0 {
			return
		}

		oldest, newest = msgs[0].ID, msgs[len(msgs)-1].ID
	})

	return oldest, newest
}

// MessagesAround returns up to limit messages centred on id. A missing
// id is a local-only failure: ErrMessageNotFound, no status change.
func (c *Controller) MessagesAround(id string, limit int) ([]models.Message, error) {
	var (
		out   []models.Message
		found bool
	)

	err := c.do(func() {
		msgs := c.sortedMessages()

		idx := -1
		for i := range msgs {
			if msgs[i].ID == id {
				idx = i
				break
			}
		}

		if idx < 0 {
			return
		}

		found = true

		if limit <= 0 {
			limit = len(msgs)
		}

		start := max(idx-limit/2, 0)
		end := min(start+limit, len(msgs))
		out = msgs[start:end]
	})
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, chaterrors.ErrMessageNotFound
	}

	return out, nil
}

func (c *Controller) sortedMessages() []models.Message {
	out := make([]models.Message, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, m.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].SortTime(), out[j].SortTime()
		if ti.Equal(tj) {
			return out[i].ID < out[j].ID
		}

		return ti.Before(tj)
	})

	return out
}
