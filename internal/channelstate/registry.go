package channelstate

import (
	"log/slog"
	"sort"
	"sync"

	chaterrors "github.com/alexjbarnes/chat-sync/internal/errors"
	"github.com/alexjbarnes/chat-sync/internal/models"
)

// Registry holds the active controllers of one session. It is created on
// login and closed on logout.
type Registry struct {
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	controllers map[string]*Controller
	closed      bool
}

// NewRegistry creates an empty registry. Every controller it starts
// shares opts.
func NewRegistry(opts Options) *Registry {
	opts = opts.withDefaults()

	return &Registry{
		opts:        opts,
		logger:      opts.Logger,
		controllers: make(map[string]*Controller),
	}
}

// Activate returns the controller for cid, starting one if needed.
func (r *Registry) Activate(cid string) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, chaterrors.ErrSessionClosed
	}

	if c, ok := r.controllers[cid]; ok {
		return c, nil
	}

	c, err := NewController(cid, r.opts)
	if err != nil {
		return nil, err
	}

	r.controllers[cid] = c
	r.logger.Debug("channel activated", slog.String("cid", cid))

	return c, nil
}

// ActivateChannel activates ch.CID and seeds it with the channel's
// metadata and any messages it carries.
func (r *Registry) ActivateChannel(ch models.Channel) (*Controller, error) {
	ch.EnsureCID()

	c, err := r.Activate(ch.CID)
	if err != nil {
		return nil, err
	}

	c.SetChannel(ch)

	if len(ch.Messages) > 0 {
		c.MergeRemoteMessages(ch.Messages, ModeReplacePage)
	}

	return c, nil
}

// Get returns the active controller for cid.
func (r *Registry) Get(cid string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.controllers[cid]

	return c, ok
}

// Deactivate stops and forgets the controller for cid.
func (r *Registry) Deactivate(cid string) {
	r.mu.Lock()
	c, ok := r.controllers[cid]
	delete(r.controllers, cid)
	r.mu.Unlock()

	if ok {
		c.Close()
	}
}

// Active returns the active cids in sorted order.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cids := make([]string, 0, len(r.controllers))
	for cid := range r.controllers {
		cids = append(cids, cid)
	}

	sort.Strings(cids)

	return cids
}

// Len returns the number of active controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.controllers)
}

// Close stops every controller. Later activations fail.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	controllers := r.controllers
	r.controllers = make(map[string]*Controller)
	r.mu.Unlock()

	for _, c := range controllers {
		c.Close()
	}
}
