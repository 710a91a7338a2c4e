// Package session owns everything scoped to one logged-in user: the
// controller registry, the query cache, the event stream and the sync
// and upload machinery. A login builds a fresh set; logout tears it down.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/chat-sync/internal/channelstate"
	chaterrors "github.com/alexjbarnes/chat-sync/internal/errors"
	"github.com/alexjbarnes/chat-sync/internal/events"
	"github.com/alexjbarnes/chat-sync/internal/logging"
	"github.com/alexjbarnes/chat-sync/internal/metrics"
	"github.com/alexjbarnes/chat-sync/internal/models"
	"github.com/alexjbarnes/chat-sync/internal/querycache"
	"github.com/alexjbarnes/chat-sync/internal/reconcile"
	"github.com/alexjbarnes/chat-sync/internal/retry"
	"github.com/alexjbarnes/chat-sync/internal/state"
	"github.com/alexjbarnes/chat-sync/internal/syncmanager"
	"github.com/alexjbarnes/chat-sync/internal/transport"
	"github.com/alexjbarnes/chat-sync/internal/upload"
)

const housekeepingInterval = time.Second

// Config is shared by every session a manager starts.
type Config struct {
	// Client is the REST client. Its token is swapped on login and
	// cleared on logout.
	Client *transport.Client

	// StreamURL and APIKey address the event stream.
	StreamURL string
	APIKey    string

	Policy        retry.Policy
	SyncThreshold time.Duration

	UploadConcurrency     int
	UploadRatePerSecond   int
	ThumbnailMaxDim       uint
	UploadUnmeteredOnly   bool
	UploadRecheckInterval time.Duration

	// NetworkMetered marks the host's link as metered. With
	// UploadUnmeteredOnly set, uploads wait until it is cleared.
	NetworkMetered bool

	// Presets are channel queries registered in the cache on login.
	Presets []querycache.Preset

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Session is one user's live sync state.
type Session struct {
	User      models.User
	Store     *state.Store
	Registry  *channelstate.Registry
	Cache     *querycache.Cache
	Engine    *reconcile.Engine
	Sync      *syncmanager.Manager
	Stream    *transport.EventStream
	Scheduler *upload.Scheduler
	Links     *upload.LinkMonitor

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Online reports whether the event stream is connected.
func (s *Session) Online() bool {
	return s.Stream != nil && s.Stream.Connected()
}

// Manager starts and stops sessions. At most one is active.
type Manager struct {
	state  *state.State
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	current *Session
}

// NewManager creates a manager over the shared state database.
func NewManager(st *state.State, cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	return &Manager{
		state:  st,
		cfg:    cfg,
		logger: logging.Component(cfg.Logger, "session"),
	}
}

// Current returns the active session.
func (m *Manager) Current() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil, chaterrors.ErrNotLoggedIn
	}

	return m.current, nil
}

// ActiveControllers counts the active channel controllers of the current
// session, or zero when logged out.
func (m *Manager) ActiveControllers() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return 0
	}

	return m.current.Registry.Len()
}

// Login tears down any previous session and starts a new one for user.
// Background work runs until Logout or until ctx ends.
func (m *Manager) Login(ctx context.Context, user models.User, token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		if err := m.stop(m.current); err != nil {
			m.logger.Warn("previous session stopped with error", slog.String("error", err.Error()))
		}

		m.current = nil
	}

	s, err := m.build(user, token)
	if err != nil {
		return nil, err
	}

	if err := m.state.SetCurrentUser(user.ID); err != nil {
		return nil, fmt.Errorf("recording current user: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(sessCtx)

	s.cancel = cancel
	s.group = g

	g.Go(func() error { return s.Stream.Run(gctx) })
	g.Go(func() error { return s.Scheduler.Run(gctx) })
	g.Go(func() error { return s.Engine.RunHousekeeping(gctx, housekeepingInterval) })

	m.current = s
	m.logger.Info("logged in", slog.String("user_id", user.ID))

	return s, nil
}

func (m *Manager) build(user models.User, token string) (*Session, error) {
	store, err := m.state.User(user.ID)
	if err != nil {
		return nil, err
	}

	logger := m.cfg.Logger.With(slog.String("user_id", user.ID))
	s := &Session{User: user, Store: store}

	m.cfg.Client.SetToken(token)

	s.Registry = channelstate.NewRegistry(channelstate.Options{
		CurrentUserID: user.ID,
		Online:        s.Online,
		Logger:        logger,
	})

	s.Cache = querycache.New(store, logging.Component(logger, "querycache"))
	if err := s.Cache.Load(); err != nil {
		m.logger.Warn("loading query cache", slog.String("error", err.Error()))
	}

	for _, p := range m.cfg.Presets {
		s.Cache.Spec(p.Filter, p.Sort)
	}

	s.Engine = reconcile.New(store, s.Registry, s.Cache, reconcile.Options{
		CurrentUserID: user.ID,
		Metrics:       m.cfg.Metrics,
		Logger:        logger,
	})

	s.Sync = syncmanager.New(m.cfg.Client, store, s.Registry, s.Cache, nil, syncmanager.Options{
		CurrentUser:   user,
		Policy:        m.cfg.Policy,
		SyncThreshold: m.cfg.SyncThreshold,
		Online:        s.Online,
		Metrics:       m.cfg.Metrics,
		Logger:        logger,
	})

	worker := upload.NewWorker(m.cfg.Client, s.Sync, store, s.Registry, upload.Options{
		Concurrency:     m.cfg.UploadConcurrency,
		RatePerSecond:   m.cfg.UploadRatePerSecond,
		ThumbnailMaxDim: m.cfg.ThumbnailMaxDim,
		Online:          s.Online,
		Metrics:         m.cfg.Metrics,
		Logger:          logger,
	})

	s.Links = upload.NewLinkMonitor(s.Online)
	s.Links.SetMetered(m.cfg.NetworkMetered)
	s.Scheduler = upload.NewScheduler(worker, s.Links, upload.SchedulerOptions{
		UnmeteredOnly:   m.cfg.UploadUnmeteredOnly,
		RecheckInterval: m.cfg.UploadRecheckInterval,
		Logger:          logger,
	})
	s.Sync.SetUploadQueue(s.Scheduler)

	s.Engine.SetConnectionListener(&connectionHook{store: store, next: s.Sync, logger: logger})
	s.Engine.SetTypingSender(m.cfg.Client)

	s.Stream = transport.NewEventStream(transport.StreamConfig{
		URL:    m.cfg.StreamURL,
		APIKey: m.cfg.APIKey,
		UserID: user.ID,
		Token:  token,
	}, s.Engine.HandleEvents, logging.Component(logger, "stream"))

	return s, nil
}

// Logout stops the current session. Local data stays in the state
// database for the next login of the same user.
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return chaterrors.ErrNotLoggedIn
	}

	err := m.stop(m.current)
	m.current = nil

	if clearErr := m.state.SetCurrentUser(""); clearErr != nil {
		err = errors.Join(err, fmt.Errorf("clearing current user: %w", clearErr))
	}

	return err
}

// Wait blocks until the current session's background work stops and
// returns its first error. Shutdown by cancellation is not an error.
func (m *Manager) Wait() error {
	s, err := m.Current()
	if err != nil {
		return err
	}

	return ignoreCancel(s.group.Wait())
}

func (m *Manager) stop(s *Session) error {
	s.cancel()
	err := ignoreCancel(s.group.Wait())

	s.Sync.Wait()
	s.Registry.Close()
	s.Cache.Reset()
	m.cfg.Client.SetToken("")

	m.logger.Info("logged out", slog.String("user_id", s.User.ID))

	return err
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// connectionHook records the connection in the sync state before
// passing the event on.
type connectionHook struct {
	store  *state.Store
	next   reconcile.ConnectionListener
	logger *slog.Logger
}

func (h *connectionHook) HandleConnection(ctx context.Context, ev events.Event) {
	if c, ok := ev.(events.Connected); ok {
		if err := h.store.SetSyncState(state.SyncState{
			LastSyncedAt: c.EventTime(),
			ConnectionID: c.ConnectionID,
		}); err != nil {
			h.logger.Warn("saving sync state", slog.String("error", err.Error()))
		}
	}

	h.next.HandleConnection(ctx, ev)
}
