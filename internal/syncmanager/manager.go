// Package syncmanager drives local mutations to the server. Every
// operation applies optimistically through the channel controller first,
// then calls the API under the retry policy and folds the result back.
// Failures become lifecycle transitions; FAILED_PERMANENTLY entities stay
// visible until the user resends or deletes them.
package syncmanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alexjbarnes/chat-sync/internal/channelstate"
	chaterrors "github.com/alexjbarnes/chat-sync/internal/errors"
	"github.com/alexjbarnes/chat-sync/internal/events"
	"github.com/alexjbarnes/chat-sync/internal/logging"
	"github.com/alexjbarnes/chat-sync/internal/metrics"
	"github.com/alexjbarnes/chat-sync/internal/models"
	"github.com/alexjbarnes/chat-sync/internal/querycache"
	"github.com/alexjbarnes/chat-sync/internal/retry"
)

// defaultSyncThreshold is the age past which pending entities are no
// longer retried automatically.
const defaultSyncThreshold = 72 * time.Hour

// Store is the persistence the manager reads and writes. *state.Store
// satisfies it.
type Store interface {
	GetChannel(cid string) (*models.Channel, error)
	GetChannels(cids []string) ([]models.Channel, error)
	UpsertChannel(ch models.Channel) error
	ChannelsBySyncStatus(statuses ...models.SyncStatus) ([]models.Channel, error)

	GetMessage(id string) (*models.Message, error)
	PutMessage(msg models.Message) error
	UpsertMessage(msg models.Message) (bool, error)
	UpsertMessages(msgs []models.Message) error
	DeleteMessage(id string) error
	MessagesForChannel(cid string) ([]models.Message, error)
	MessagesBySyncStatus(statuses ...models.SyncStatus) ([]models.Message, error)

	UpsertReaction(r models.Reaction) error
	DeleteReaction(key string) error
	ReactionsBySyncStatus(statuses ...models.SyncStatus) ([]models.Reaction, error)
}

// Options configure a manager. Zero values select defaults.
type Options struct {
	CurrentUser models.User

	// Policy retries transient failures of a single call.
	Policy retry.Policy

	// SyncThreshold bounds the age of entities retried on reconnect.
	SyncThreshold time.Duration

	// Online reports whether the event stream is connected.
	Online func() bool

	Now   func() time.Time
	NewID func() string

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type editJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager is the per-session sync orchestrator.
type Manager struct {
	api      API
	store    Store
	registry *channelstate.Registry
	cache    *querycache.Cache
	uploads  UploadQueue
	opts     Options
	logger   *slog.Logger
	tracker  *retry.Tracker

	retryMu sync.Mutex

	editMu sync.Mutex
	edits  map[string]*editJob

	wg sync.WaitGroup
}

// New creates a manager. uploads may be nil, in which case messages with
// attachments stay AWAITING_ATTACHMENTS.
func New(api API, store Store, registry *channelstate.Registry, cache *querycache.Cache, uploads UploadQueue, opts Options) *Manager {
	if opts.Policy == nil {
		opts.Policy = retry.DefaultPolicy()
	}

	if opts.SyncThreshold <= 0 {
		opts.SyncThreshold = defaultSyncThreshold
	}

	if opts.Online == nil {
		opts.Online = func() bool { return false }
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	return &Manager{
		api:      api,
		store:    store,
		registry: registry,
		cache:    cache,
		uploads:  uploads,
		opts:     opts,
		logger:   logging.Component(opts.Logger, "sync"),
		tracker:  retry.NewTracker(),
		edits:    make(map[string]*editJob),
	}
}

// SetUploadQueue registers the attachment upload queue. Must be called
// before the first send.
func (m *Manager) SetUploadQueue(q UploadQueue) { m.uploads = q }

// HandleConnection reacts to stream lifecycle events. On every connect
// the per-entity backoff is reset and pending entities are resubmitted
// in the background.
func (m *Manager) HandleConnection(ctx context.Context, ev events.Event) {
	switch e := ev.(type) {
	case events.Connected:
		m.logger.Info("connected, retrying pending entities", slog.String("connection_id", e.ConnectionID))
		m.tracker.Reset()

		m.wg.Add(1)

		go func() {
			defer m.wg.Done()

			if err := m.RetryFailedEntities(ctx); err != nil {
				m.logger.Warn("retrying pending entities", slog.String("error", err.Error()))
			}
		}()
	case events.Disconnected:
		m.logger.Info("disconnected", slog.String("reason", e.Reason))
	case events.ConnectionError:
		if e.Err != nil {
			m.logger.Debug("connection attempt failed", slog.String("error", e.Err.Error()))
		}
	}
}

// Wait blocks until background resubmissions have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) online() bool {
	return m.opts.Online()
}

// --- storage helpers ---

// controller returns the active controller for cid, activating one.
func (m *Manager) controller(cid string) (*channelstate.Controller, error) {
	if _, _, err := models.SplitCID(cid); err != nil {
		return nil, err
	}

	return m.registry.Activate(cid)
}

// loadMessage prefers the controller copy and falls back to the store.
func (m *Manager) loadMessage(id string) (models.Message, error) {
	stored, err := m.store.GetMessage(id)
	if err != nil {
		return models.Message{}, fmt.Errorf("loading message %s: %w", id, err)
	}

	if stored == nil {
		for _, cid := range m.registry.Active() {
			if c, ok := m.registry.Get(cid); ok {
				if msg, found := c.Message(id); found {
					return msg, nil
				}
			}
		}

		return models.Message{}, fmt.Errorf("%w: %s", chaterrors.ErrMessageNotFound, id)
	}

	if c, ok := m.registry.Get(stored.CID); ok {
		if msg, found := c.Message(id); found {
			return msg, nil
		}
	}

	return *stored, nil
}

// saveMessage writes msg to the active controller and the store.
func (m *Manager) saveMessage(msg models.Message) {
	if c, ok := m.registry.Get(msg.CID); ok {
		c.PutMessage(msg)
	}

	if err := m.store.PutMessage(msg); err != nil {
		m.logger.Warn("persisting message",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
	}
}

// foldMessage merges a server copy under the newer-than rule and returns
// the merged result.
func (m *Manager) foldMessage(ack models.Message) models.Message {
	c, ok := m.registry.Get(ack.CID)
	if !ok {
		if _, err := m.store.UpsertMessage(ack); err != nil {
			m.logger.Warn("persisting message", slog.String("message_id", ack.ID), slog.String("error", err.Error()))
		}

		return ack
	}

	c.UpsertMessage(ack)

	merged, found := c.Message(ack.ID)
	if !found {
		merged = ack
	}

	if err := m.store.PutMessage(merged); err != nil {
		m.logger.Warn("persisting message", slog.String("message_id", ack.ID), slog.String("error", err.Error()))
	}

	return merged
}

func (m *Manager) saveChannel(ch models.Channel) {
	if err := m.store.UpsertChannel(ch); err != nil {
		m.logger.Warn("persisting channel", slog.String("cid", ch.CID), slog.String("error", err.Error()))
	}
}

// --- edit serialization ---

// beginEdit registers an edit of id. A previous edit of the same message
// is cancelled and awaited first.
func (m *Manager) beginEdit(ctx context.Context, id string) (context.Context, *editJob) {
	for {
		m.editMu.Lock()
		prev, ok := m.edits[id]

		if !ok {
			jobCtx, cancel := context.WithCancel(ctx)
			j := &editJob{cancel: cancel, done: make(chan struct{})}
			m.edits[id] = j
			m.editMu.Unlock()

			return jobCtx, j
		}

		m.editMu.Unlock()

		prev.cancel()
		<-prev.done
	}
}

func (m *Manager) endEdit(id string, j *editJob) {
	m.editMu.Lock()
	if m.edits[id] == j {
		delete(m.edits, id)
	}
	m.editMu.Unlock()

	j.cancel()
	close(j.done)
}
