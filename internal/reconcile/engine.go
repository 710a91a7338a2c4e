// Package reconcile merges the live event stream into local state. Every
// event is persisted, routed to the channel's controller when one is
// active, and folded into the channel query cache.
package reconcile

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/alexjbarnes/chat-sync/internal/channelstate"
	"github.com/alexjbarnes/chat-sync/internal/events"
	"github.com/alexjbarnes/chat-sync/internal/logging"
	"github.com/alexjbarnes/chat-sync/internal/metrics"
	"github.com/alexjbarnes/chat-sync/internal/models"
)

// Store is the persistence the engine writes through. *state.Store
// satisfies it.
type Store interface {
	GetChannel(cid string) (*models.Channel, error)
	UpsertChannel(ch models.Channel) error
	AllChannels() ([]models.Channel, error)
	GetMessage(id string) (*models.Message, error)
	UpsertMessage(msg models.Message) (bool, error)
	PutMessage(msg models.Message) error
	DeleteMessage(id string) error
	DeleteMessagesBefore(cid string, at time.Time) (int, error)
	UpsertReaction(r models.Reaction) error
	DeleteReaction(key string) error
}

// Controllers looks up active channel controllers.
// *channelstate.Registry satisfies it.
type Controllers interface {
	Get(cid string) (*channelstate.Controller, bool)
	Active() []string
}

// Cache is the channel query cache. *querycache.Cache satisfies it.
type Cache interface {
	HandleEvent(ev events.Event) []string
	UpdateQueryChannelCollectionByNewChannel(ch models.Channel) []string
}

// Options configure an engine.
type Options struct {
	CurrentUserID string
	Now           func() time.Time
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Engine applies live events. It is the stream's single handler entry
// point.
type Engine struct {
	store       Store
	controllers Controllers
	cache       Cache
	opts        Options
	logger      *slog.Logger

	listener ConnectionListener
	typing   TypingSender
}

// New creates an engine.
func New(store Store, controllers Controllers, cache Cache, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	return &Engine{
		store:       store,
		controllers: controllers,
		cache:       cache,
		opts:        opts,
		logger:      logging.Component(opts.Logger, "reconcile"),
	}
}

// SetConnectionListener registers the receiver of connection events.
// Must be called before the stream starts.
func (e *Engine) SetConnectionListener(l ConnectionListener) { e.listener = l }

// SetTypingSender registers the sender used by Housekeep.
func (e *Engine) SetTypingSender(s TypingSender) { e.typing = s }

// HandleEvents applies evs in arrival order.
func (e *Engine) HandleEvents(ctx context.Context, evs []events.Event) {
	for _, ev := range evs {
		e.handle(ctx, ev)
	}
}

func (e *Engine) handle(ctx context.Context, ev events.Event) {
	e.opts.Metrics.Event(ev.EventType())

	if events.IsConnectionEvent(ev) {
		e.onConnection(ctx, ev)
		return
	}

	if muted, ok := ev.(events.ChannelMuted); ok {
		e.onMuted(muted)
		return
	}

	cid := events.ResolveCID(ev)
	if cid == "" {
		e.logger.Debug("event without channel", slog.String("type", ev.EventType()))
		return
	}

	fresh := e.persistMessages(cid, ev)

	c, active := e.controllers.Get(cid)
	if active {
		c.HandleEvent(ev)
	}

	e.persistChannel(cid, ev, c, fresh)
	e.persistReaction(ev, c)
	e.updateCache(cid, ev, c)
}

func (e *Engine) onConnection(ctx context.Context, ev events.Event) {
	switch ev.(type) {
	case events.HealthCheck:
		return
	case events.Connected:
		e.opts.Metrics.Connected()
	}

	e.logger.Debug("connection event", slog.String("type", ev.EventType()))

	if e.listener != nil {
		e.listener.HandleConnection(ctx, ev)
	}
}

// onMuted applies the full muted set to every active controller and
// every stored channel.
func (e *Engine) onMuted(ev events.ChannelMuted) {
	for _, cid := range e.controllers.Active() {
		if c, ok := e.controllers.Get(cid); ok {
			c.HandleEvent(ev)
		}
	}

	stored, err := e.store.AllChannels()
	if err != nil {
		e.warn("loading channels", "", err)
		return
	}

	for _, ch := range stored {
		muted := slices.Contains(ev.MutedCIDs, ch.CID)
		if ch.Muted == muted {
			continue
		}

		ch.Muted = muted
		if err := e.store.UpsertChannel(ch); err != nil {
			e.warn("persisting channel", ch.CID, err)
		}
	}
}

// persistMessages writes the message effects of ev. Returns true when a
// message.new carried a message the store did not have yet.
func (e *Engine) persistMessages(cid string, ev events.Event) bool {
	switch x := ev.(type) {
	case events.MessageNew:
		existing, err := e.store.GetMessage(x.Message.ID)
		if err != nil {
			e.warn("loading message", cid, err)
		}

		e.upsertMessage(cid, x.Message)

		return existing == nil
	case events.MessageUpdated:
		e.upsertMessage(cid, x.Message)
	case events.MessageDeleted:
		if x.HardDelete {
			if err := e.store.DeleteMessage(x.Message.ID); err != nil {
				e.warn("deleting message", cid, err)
			}

			return false
		}

		e.upsertMessage(cid, x.Message)
	case events.ChannelUpdated:
		if x.Message != nil {
			e.upsertMessage(cid, *x.Message)
		}
	case events.ChannelTruncated:
		e.deleteBefore(cid, e.at(ev))

		if x.Message != nil {
			e.upsertMessage(cid, *x.Message)
		}
	case events.ChannelDeleted:
		e.deleteBefore(cid, e.at(ev))
	case events.ChannelHidden:
		if x.ClearHistory {
			e.deleteBefore(cid, e.at(ev))
		}
	}

	return false
}

func (e *Engine) upsertMessage(cid string, msg models.Message) {
	if msg.ID == "" {
		return
	}

	msg.CID = cid

	if _, err := e.store.UpsertMessage(msg); err != nil {
		e.warn("persisting message", cid, err)
	}
}

func (e *Engine) deleteBefore(cid string, at time.Time) {
	n, err := e.store.DeleteMessagesBefore(cid, at)
	if err != nil {
		e.warn("truncating messages", cid, err)
		return
	}

	e.logger.Debug("messages truncated", slog.String("cid", cid), slog.Int("removed", n))
}

func (e *Engine) at(ev events.Event) time.Time {
	if t := ev.EventTime(); !t.IsZero() {
		return t
	}

	return e.opts.Now()
}

// persistChannel writes the channel metadata after ev. An active
// controller already holds the result. Otherwise the event is applied to
// the stored channel with the same rules.
func (e *Engine) persistChannel(cid string, ev events.Event, c *channelstate.Controller, fresh bool) {
	if !affectsChannel(ev) {
		return
	}

	if c != nil {
		if err := e.store.UpsertChannel(c.Snapshot().Channel); err != nil {
			e.warn("persisting channel", cid, err)
		}

		return
	}

	// A replayed message.new must not bump the unread counters again.
	if _, ok := ev.(events.MessageNew); ok && !fresh {
		return
	}

	base, err := e.store.GetChannel(cid)
	if err != nil {
		e.warn("loading channel", cid, err)
		return
	}

	if base == nil {
		embedded := embeddedChannel(ev)
		if embedded == nil {
			return
		}

		base = embedded
	}

	next := channelstate.ApplyEvent(*base, ev, channelstate.Options{
		CurrentUserID: e.opts.CurrentUserID,
		Now:           e.opts.Now,
		Logger:        e.logger,
	})

	if err := e.store.UpsertChannel(next); err != nil {
		e.warn("persisting channel", cid, err)
	}
}

func affectsChannel(ev events.Event) bool {
	switch ev.(type) {
	case events.MessageNew, events.MemberAdded, events.MemberUpdated, events.MemberRemoved,
		events.MessageRead, events.ChannelUpdated, events.ChannelDeleted, events.ChannelTruncated,
		events.ChannelHidden, events.ChannelVisible, events.UserBanned, events.UserUnbanned,
		events.UserWatchingStart, events.UserWatchingStop:
		return true
	}

	return false
}

func embeddedChannel(ev events.Event) *models.Channel {
	var ch models.Channel

	switch x := ev.(type) {
	case events.ChannelUpdated:
		ch = x.Channel
	case events.MemberAdded:
		if x.Channel == nil {
			return nil
		}

		ch = *x.Channel
	default:
		return nil
	}

	ch.EnsureCID()

	return &ch
}

// persistReaction writes the reaction record and the message aggregates.
func (e *Engine) persistReaction(ev events.Event, c *channelstate.Controller) {
	var (
		r       models.Reaction
		carried *models.Message
		removed bool
	)

	switch x := ev.(type) {
	case events.ReactionNew:
		r, carried = x.Reaction, x.Message
	case events.ReactionUpdated:
		r, carried = x.Reaction, x.Message
	case events.ReactionDeleted:
		r, carried, removed = x.Reaction, x.Message, true
	default:
		return
	}

	if r.MessageID == "" && carried != nil {
		r.MessageID = carried.ID
	}

	if removed {
		if err := e.store.DeleteReaction(r.Key()); err != nil {
			e.warn("deleting reaction", "", err)
		}
	} else {
		r.SyncStatus = models.SyncCompleted
		if err := e.store.UpsertReaction(r); err != nil {
			e.warn("persisting reaction", "", err)
		}
	}

	if c != nil {
		if m, ok := c.Message(r.MessageID); ok {
			if err := e.store.PutMessage(m); err != nil {
				e.warn("persisting message", m.CID, err)
			}

			return
		}
	}

	if carried == nil {
		return
	}

	stored, err := e.store.GetMessage(r.MessageID)
	if err != nil || stored == nil {
		return
	}

	stored.ReactionCounts = carried.ReactionCounts
	stored.ReactionScores = carried.ReactionScores
	stored.LatestReactions = carried.LatestReactions

	if r.UserID == e.opts.CurrentUserID {
		stored.OwnReactions = slices.DeleteFunc(stored.OwnReactions, func(own models.Reaction) bool {
			return own.Type == r.Type
		})

		if !removed {
			stored.OwnReactions = append(stored.OwnReactions, r)
		}
	}

	if err := e.store.PutMessage(*stored); err != nil {
		e.warn("persisting message", stored.CID, err)
	}
}

// updateCache forwards ev to the query cache. New messages and visible
// channels are re-tested against every cached filter.
func (e *Engine) updateCache(cid string, ev events.Event, c *channelstate.Controller) {
	if e.cache == nil {
		return
	}

	e.cache.HandleEvent(ev)

	switch x := ev.(type) {
	case events.MessageNew:
		if x.Message.IsThreadOnlyReply() {
			return
		}
	case events.ChannelVisible:
	default:
		return
	}

	if ch, ok := e.channel(cid, c); ok {
		e.cache.UpdateQueryChannelCollectionByNewChannel(ch)
	}
}

func (e *Engine) channel(cid string, c *channelstate.Controller) (models.Channel, bool) {
	if c != nil {
		return c.Snapshot().Channel, true
	}

	ch, err := e.store.GetChannel(cid)
	if err != nil || ch == nil {
		return models.Channel{}, false
	}

	return *ch, true
}

func (e *Engine) warn(msg, cid string, err error) {
	e.logger.Warn(msg, slog.String("cid", cid), slog.String("error", err.Error()))
}

// Housekeep prunes stale typing indicators on every active controller
// and stops the user's own indicator once idle.
func (e *Engine) Housekeep(ctx context.Context, now time.Time) {
	for _, cid := range e.controllers.Active() {
		c, ok := e.controllers.Get(cid)
		if !ok {
			continue
		}

		if pruned := c.PruneTyping(now); len(pruned) > 0 {
			e.logger.Debug("typing pruned", slog.String("cid", cid), slog.Int("users", len(pruned)))
		}

		if !c.StopTypingIfIdle(now) || e.typing == nil {
			continue
		}

		typ, id, err := models.SplitCID(cid)
		if err != nil {
			continue
		}

		if err := e.typing.SendEvent(ctx, typ, id, events.TypeTypingStop, ""); err != nil {
			e.warn("sending typing.stop", cid, err)
		}
	}
}

// RunHousekeeping calls Housekeep every interval until ctx is done.
func (e *Engine) RunHousekeeping(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Housekeep(ctx, e.opts.Now())
		}
	}
}
