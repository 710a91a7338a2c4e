package upload

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	chaterrors "github.com/alexjbarnes/chat-sync/internal/errors"
	"github.com/alexjbarnes/chat-sync/internal/logging"
)

const defaultRecheckInterval = 30 * time.Second

//go:generate mockgen -source=scheduler.go -destination=mock_scheduler_test.go -package=upload

// NetworkMonitor reports the link the scheduler uploads over.
type NetworkMonitor interface {
	Online() bool
	Metered() bool
}

// Runner runs one upload job. *Worker satisfies it.
type Runner interface {
	Run(ctx context.Context, channelType, channelID, messageID string) (Result, error)
}

// Job identifies a message whose attachments need uploading.
type Job struct {
	ChannelType string
	ChannelID   string
	MessageID   string
}

// SchedulerOptions configure the scheduler.
type SchedulerOptions struct {
	// UnmeteredOnly defers uploads while the link is metered.
	UnmeteredOnly bool

	// RecheckInterval is how often deferred jobs re-test the network.
	RecheckInterval time.Duration

	Logger *slog.Logger
}

// Scheduler queues upload jobs and runs them one at a time on its own
// goroutine, as network conditions allow.
type Scheduler struct {
	runner  Runner
	monitor NetworkMonitor
	opts    SchedulerOptions
	logger  *slog.Logger

	mu      sync.Mutex
	queue   []Job
	queued  map[string]struct{}
	running   string
	cancelRun context.CancelFunc
	runDone   chan struct{}
	wake      chan struct{}
}

// NewScheduler creates a scheduler. A nil monitor means always online
// and unmetered.
func NewScheduler(runner Runner, monitor NetworkMonitor, opts SchedulerOptions) *Scheduler {
	if opts.RecheckInterval <= 0 {
		opts.RecheckInterval = defaultRecheckInterval
	}

	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	return &Scheduler{
		runner:  runner,
		monitor: monitor,
		opts:    opts,
		logger:  logging.Component(opts.Logger, "upload-scheduler"),
		queued:  make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue adds a job. A message already queued is not added twice. A
// message whose upload is running is cancelled and queued again, so the
// new run sees the latest attachment states.
func (s *Scheduler) Enqueue(channelType, channelID, messageID string) {
	s.mu.Lock()

	if _, ok := s.queued[messageID]; !ok {
		s.queued[messageID] = struct{}{}
		s.queue = append(s.queue, Job{ChannelType: channelType, ChannelID: channelID, MessageID: messageID})
	}

	if messageID != "" && s.running == messageID {
		s.logger.Debug("restarting upload", slog.String("message_id", messageID))
		s.cancelRun()
	}

	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel drops messageID from the queue and stops its upload if it is
// running, waiting until the run has returned. Returns whether anything
// was dropped or stopped.
func (s *Scheduler) Cancel(messageID string) bool {
	s.mu.Lock()

	_, queued := s.queued[messageID]
	if queued {
		delete(s.queued, messageID)
		s.queue = slices.DeleteFunc(s.queue, func(j Job) bool { return j.MessageID == messageID })
	}

	running := messageID != "" && s.running == messageID
	done := s.runDone

	if running {
		s.cancelRun()
	}

	s.mu.Unlock()

	if running {
		<-done
	}

	return queued || running
}

// Pending returns the number of queued jobs.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.queue)
}

// pop takes the next job and marks it running under a context that
// Enqueue and Cancel can cancel.
func (s *Scheduler) pop(ctx context.Context) (context.Context, Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil, Job{}, false
	}

	j := s.queue[0]
	s.queue = s.queue[1:]
	delete(s.queued, j.MessageID)

	jobCtx, cancel := context.WithCancel(ctx)
	s.running = j.MessageID
	s.cancelRun = cancel
	s.runDone = make(chan struct{})

	return jobCtx, j, true
}

func (s *Scheduler) allowed() bool {
	if s.monitor == nil {
		return true
	}

	if !s.monitor.Online() {
		return false
	}

	return !s.opts.UnmeteredOnly || !s.monitor.Metered()
}

// Run drains the queue until ctx is cancelled. Jobs wait while the
// network constraint does not hold.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if s.Pending() == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
			}

			continue
		}

		if !s.allowed() {
			s.logger.Debug("deferring uploads", slog.Int("pending", s.Pending()))

			timer := time.NewTimer(s.opts.RecheckInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}

			continue
		}

		jobCtx, j, ok := s.pop(ctx)
		if !ok {
			continue
		}

		s.run(jobCtx, j)
	}
}

func (s *Scheduler) run(ctx context.Context, j Job) {
	res, err := s.runner.Run(ctx, j.ChannelType, j.ChannelID, j.MessageID)

	s.mu.Lock()
	s.cancelRun()
	s.running = ""
	s.cancelRun = nil
	close(s.runDone)
	s.mu.Unlock()

	switch {
	case err == nil:
		s.logger.Debug("upload job done",
			slog.String("message_id", j.MessageID),
			slog.Int("uploaded", res.Uploaded),
		)
	case errors.Is(err, chaterrors.ErrUploadCancelled), errors.Is(err, chaterrors.ErrNothingToUpload):
		s.logger.Debug("upload job skipped",
			slog.String("message_id", j.MessageID),
			slog.String("reason", err.Error()),
		)
	default:
		s.logger.Warn("upload job failed",
			slog.String("message_id", j.MessageID),
			slog.String("error", err.Error()),
		)
	}
}

// LinkMonitor is a NetworkMonitor backed by a connectivity callback and
// a metered flag set by the host.
type LinkMonitor struct {
	online  func() bool
	metered atomic.Bool
}

// NewLinkMonitor creates a monitor. A nil online func reports online.
func NewLinkMonitor(online func() bool) *LinkMonitor {
	if online == nil {
		online = func() bool { return true }
	}

	return &LinkMonitor{online: online}
}

// Online implements NetworkMonitor.
func (m *LinkMonitor) Online() bool { return m.online() }

// Metered implements NetworkMonitor.
func (m *LinkMonitor) Metered() bool { return m.metered.Load() }

// SetMetered records whether the link is metered.
func (m *LinkMonitor) SetMetered(metered bool) { m.metered.Store(metered) }
