package syncmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexjbarnes/chat-sync/internal/lifecycle"
	"github.com/alexjbarnes/chat-sync/internal/models"
)

// errStale marks entities that waited longer than the sync threshold. It
// classifies as permanent.
var errStale = errors.New("pending longer than the sync threshold")

// RetryFailedEntities resubmits everything still pending, in the order
// channels, messages, reactions. Entities in backoff are skipped, entities
// older than the sync threshold become FAILED_PERMANENTLY, and awaiting
// messages go back to the upload queue unless an attachment already
// failed. Only one run is active at a time.
func (m *Manager) RetryFailedEntities(ctx context.Context) error {
	m.retryMu.Lock()
	defer m.retryMu.Unlock()

	var errs []error

	if err := m.retryChannels(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := m.retryMessages(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := m.retryReactions(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (m *Manager) stale(t time.Time) bool {
	return !t.IsZero() && m.opts.Now().Sub(t) > m.opts.SyncThreshold
}

// inBackoff reports whether key should be skipped this round.
func (m *Manager) inBackoff(key string) bool {
	if until, waiting := m.tracker.Check(key); waiting {
		m.logger.Debug("entity in backoff", slog.String("key", key), slog.Time("until", until))
		return true
	}

	return false
}

// resubmitted moves a pending status to IN_PROGRESS. A stuck IN_PROGRESS
// from an interrupted run is cancelled first.
func resubmitted(status models.SyncStatus) models.SyncStatus {
	status = lifecycle.MustNext(status, lifecycle.Input{Kind: lifecycle.Cancelled})
	return lifecycle.MustNext(status, lifecycle.Input{Kind: lifecycle.Submitted})
}

func (m *Manager) retryChannels(ctx context.Context) error {
	channels, err := m.store.ChannelsBySyncStatus(models.SyncNeeded, models.SyncInProgress)
	if err != nil {
		return fmt.Errorf("listing pending channels: %w", err)
	}

	for _, ch := range channels {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if m.stale(ch.CreatedAt) {
			ch.SyncStatus = lifecycle.MustNext(ch.SyncStatus, lifecycle.Failure(errStale))

			if c, ok := m.registry.Get(ch.CID); ok {
				c.SetChannelSyncStatus(ch.SyncStatus)
			}

			m.saveChannel(ch)

			continue
		}

		if m.inBackoff(ch.CID) {
			continue
		}

		ch.SyncStatus = resubmitted(ch.SyncStatus)

		c, err := m.controller(ch.CID)
		if err != nil {
			return err
		}

		c.SetChannelSyncStatus(ch.SyncStatus)
		m.opts.Metrics.Retry("channel")

		if _, err := m.createRemote(ctx, ch); err != nil {
			m.logger.Debug("channel retry failed", slog.String("cid", ch.CID), slog.String("error", err.Error()))
		}
	}

	return nil
}

func (m *Manager) retryMessages(ctx context.Context) error {
	pending, err := m.store.MessagesBySyncStatus(models.SyncNeeded, models.SyncInProgress, models.SyncAwaitingAttachments)
	if err != nil {
		return fmt.Errorf("listing pending messages: %w", err)
	}

	for _, stored := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msg, err := m.loadMessage(stored.ID)
		if err != nil {
			msg = stored
		}

		if !msg.SyncStatus.Pending() || msg.SyncStatus == models.SyncFailedPermanently {
			continue
		}

		if m.stale(msg.LocalUpdateTime()) {
			msg.SyncStatus = lifecycle.MustNext(msg.SyncStatus, lifecycle.Failure(errStale))
			m.saveMessage(msg)

			m.logger.Info("message too old to retry",
				slog.String("message_id", msg.ID),
				slog.Time("updated_locally_at", msg.LocalUpdateTime()),
			)

			continue
		}

		if msg.SyncStatus == models.SyncAwaitingAttachments {
			if msg.HasFailedAttachments() {
				msg.SyncStatus = lifecycle.MustNext(msg.SyncStatus, lifecycle.Input{Kind: lifecycle.AttachmentsFailed})
				m.saveMessage(msg)

				continue
			}

			if _, err := m.dispatch(ctx, msg); err != nil {
				return err
			}

			continue
		}

		if m.inBackoff(msg.ID) {
			continue
		}

		msg.SyncStatus = resubmitted(msg.SyncStatus)
		m.saveMessage(msg)
		m.opts.Metrics.Retry("message")

		if _, err := m.dispatch(ctx, msg); err != nil {
			m.logger.Debug("message retry failed", slog.String("message_id", msg.ID), slog.String("error", err.Error()))
		}
	}

	return nil
}

func (m *Manager) retryReactions(ctx context.Context) error {
	pending, err := m.store.ReactionsBySyncStatus(models.SyncNeeded, models.SyncInProgress)
	if err != nil {
		return fmt.Errorf("listing pending reactions: %w", err)
	}

	for _, r := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		key := r.Key()

		if m.stale(latest(r.CreatedAt, r.UpdatedAt, r.DeletedAt)) {
			r.SyncStatus = lifecycle.MustNext(r.SyncStatus, lifecycle.Failure(errStale))
			m.saveReaction(r)

			continue
		}

		if m.inBackoff(key) {
			continue
		}

		msg, err := m.loadMessage(r.MessageID)
		if err != nil {
			m.logger.Debug("reaction on unknown message", slog.String("reaction", key))
			continue
		}

		r.SyncStatus = resubmitted(r.SyncStatus)
		m.opts.Metrics.Retry("reaction")

		if r.DeletedAt.IsZero() {
			_, err = m.sendReactionRemote(ctx, msg.CID, r)
		} else {
			_, err = m.deleteReactionRemote(ctx, msg.CID, r)
		}

		if err != nil {
			m.logger.Debug("reaction retry failed", slog.String("reaction", key), slog.String("error", err.Error()))
		}
	}

	return nil
}

func latest(ts ...time.Time) time.Time {
	var out time.Time

	for _, t := range ts {
		if t.After(out) {
			out = t
		}
	}

	return out
}
