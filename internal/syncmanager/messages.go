package syncmanager

import (
	"context"
	"fmt"
	"log/slog"

	chaterrors "github.com/alexjbarnes/chat-sync/internal/errors"
	"github.com/alexjbarnes/chat-sync/internal/events"
	"github.com/alexjbarnes/chat-sync/internal/lifecycle"
	"github.com/alexjbarnes/chat-sync/internal/metrics"
	"github.com/alexjbarnes/chat-sync/internal/models"
	"github.com/alexjbarnes/chat-sync/internal/retry"
)

// SendMessage creates msg in cid. The message is applied locally first and
// returned as soon as it is dispatched: with attachments it is queued for
// upload, offline it waits for the next connect. A remote failure is
// returned together with the message in its new status.
func (m *Manager) SendMessage(ctx context.Context, cid string, msg models.Message) (models.Message, error) {
	c, err := m.controller(cid)
	if err != nil {
		return models.Message{}, err
	}

	if msg.ID == "" {
		msg.ID = m.opts.NewID()
	}

	if msg.User.ID == "" {
		msg.User = m.opts.CurrentUser.Clone()
	}

	if msg.Type == "" {
		msg.Type = models.MessageTypeRegular
	}

	local := c.ApplyLocalMessage(msg)
	m.saveMessage(local)

	m.logger.Debug("message applied locally",
		slog.String("message_id", local.ID),
		slog.String("cid", cid),
		slog.String("status", local.SyncStatus.String()),
	)

	return m.dispatch(ctx, local)
}

// SubmitMessage sends a message whose attachments are all uploaded. The
// upload worker calls it once the message leaves AWAITING_ATTACHMENTS.
func (m *Manager) SubmitMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	return m.dispatch(ctx, msg)
}

// EditMessage replaces the text, attachments and extra data of a message.
// An edit still in flight for the same message is cancelled and awaited
// before this one is applied.
func (m *Manager) EditMessage(ctx context.Context, edit models.Message) (models.Message, error) {
	if _, err := m.loadMessage(edit.ID); err != nil {
		return models.Message{}, err
	}

	jobCtx, j := m.beginEdit(ctx, edit.ID)
	defer m.endEdit(edit.ID, j)

	current, err := m.loadMessage(edit.ID)
	if err != nil {
		return models.Message{}, err
	}

	c, err := m.controller(current.CID)
	if err != nil {
		return models.Message{}, err
	}

	next := current.Clone()
	next.Text = edit.Text
	next.Silent = edit.Silent

	if edit.Attachments != nil {
		next.Attachments = edit.Attachments
	}

	if edit.ExtraData != nil {
		next.ExtraData = edit.ExtraData
	}

	local := c.ApplyLocalMessage(next)
	m.saveMessage(local)

	out, err := m.dispatch(jobCtx, local)
	if err != nil && jobCtx.Err() != nil && ctx.Err() == nil {
		return m.cancelled(local.ID, out)
	}

	return out, err
}

// cancelled moves a superseded edit out of IN_PROGRESS.
func (m *Manager) cancelled(id string, fallback models.Message) (models.Message, error) {
	cur, err := m.loadMessage(id)
	if err != nil {
		cur = fallback
	}

	cur.SyncStatus = lifecycle.MustNext(cur.SyncStatus, lifecycle.Input{Kind: lifecycle.Cancelled})
	m.saveMessage(cur)
	m.opts.Metrics.MessageSent(metrics.OutcomeCancelled)

	return cur, fmt.Errorf("editing message %s: %w", id, chaterrors.ErrEditSuperseded)
}

// DeleteMessage soft deletes a message, or hard deletes it when hard is
// set. A message the server never acknowledged is only removed locally.
func (m *Manager) DeleteMessage(ctx context.Context, id string, hard bool) (models.Message, error) {
	cur, err := m.loadMessage(id)
	if err != nil {
		return models.Message{}, err
	}

	now := m.opts.Now()

	if cur.CreatedAt.IsZero() {
		if cur.SyncStatus == models.SyncAwaitingAttachments && m.uploads != nil {
			m.uploads.Cancel(id)
		}

		if c, ok := m.registry.Get(cur.CID); ok {
			c.RemoveMessage(id)
		}

		if err := m.store.DeleteMessage(id); err != nil {
			return models.Message{}, fmt.Errorf("deleting message %s: %w", id, err)
		}

		cur.DeletedLocallyAt = now

		return cur, nil
	}

	cur.DeletedLocallyAt = now

	if cur.SyncStatus == models.SyncFailedPermanently {
		cur.SyncStatus = lifecycle.MustNext(cur.SyncStatus, lifecycle.Retry(m.online(), false))
	} else {
		cur.SyncStatus = lifecycle.MustNext(cur.SyncStatus, lifecycle.Mutation(m.online(), false))
	}

	m.saveMessage(cur)

	if cur.SyncStatus != models.SyncInProgress {
		return cur, nil
	}

	return m.deleteRemote(ctx, cur, hard)
}

// Resend is the user-initiated retry of a message. Failed attachments go
// back to Idle so the worker uploads them again; successful ones keep
// their URLs.
func (m *Manager) Resend(ctx context.Context, id string) (models.Message, error) {
	cur, err := m.loadMessage(id)
	if err != nil {
		return models.Message{}, err
	}

	switch cur.SyncStatus {
	case models.SyncCompleted, models.SyncInProgress:
		return cur, fmt.Errorf("%w: resend on %s", chaterrors.ErrInvalidTransition, cur.SyncStatus)
	}

	for i := range cur.Attachments {
		if cur.Attachments[i].UploadState.Kind == models.UploadFailed {
			cur.Attachments[i].SetUploadState(models.Idle())
		}
	}

	cur.SyncStatus = lifecycle.MustNext(cur.SyncStatus, lifecycle.Retry(m.online(), cur.HasPendingAttachments()))
	m.saveMessage(cur)
	m.tracker.Clear(id)
	m.opts.Metrics.Retry("message")

	m.logger.Info("resending message",
		slog.String("message_id", id),
		slog.String("status", cur.SyncStatus.String()),
	)

	return m.dispatch(ctx, cur)
}

// dispatch routes a message by status: queued for upload, left for the
// next connect, or sent as a create, update or delete.
func (m *Manager) dispatch(ctx context.Context, msg models.Message) (models.Message, error) {
	switch msg.SyncStatus {
	case models.SyncAwaitingAttachments:
		if m.uploads != nil {
			typ, id, err := models.SplitCID(msg.CID)
			if err != nil {
				return msg, err
			}

			m.uploads.Enqueue(typ, id, msg.ID)
		}

		return msg, nil
	case models.SyncInProgress:
	default:
		return msg, nil
	}

	switch {
	case !msg.DeletedLocallyAt.IsZero() && msg.DeletedAt.IsZero():
		return m.deleteRemote(ctx, msg, false)
	case msg.CreatedAt.IsZero():
		return m.sendRemote(ctx, msg)
	default:
		return m.updateRemote(ctx, msg)
	}
}

func (m *Manager) sendRemote(ctx context.Context, msg models.Message) (models.Message, error) {
	typ, id, err := models.SplitCID(msg.CID)
	if err != nil {
		return msg, err
	}

	var ack models.Message

	err = retry.Do(ctx, m.opts.Policy, func(ctx context.Context) error {
		var callErr error
		ack, callErr = m.api.SendMessage(ctx, typ, id, msg)

		return callErr
	})
	if err != nil {
		return m.failMessage(msg, "sending", err)
	}

	return m.acknowledge(msg, ack), nil
}

func (m *Manager) updateRemote(ctx context.Context, msg models.Message) (models.Message, error) {
	var ack models.Message

	err := retry.Do(ctx, m.opts.Policy, func(ctx context.Context) error {
		var callErr error
		ack, callErr = m.api.UpdateMessage(ctx, msg)

		return callErr
	})
	if err != nil {
		return m.failMessage(msg, "updating", err)
	}

	return m.acknowledge(msg, ack), nil
}

func (m *Manager) deleteRemote(ctx context.Context, msg models.Message, hard bool) (models.Message, error) {
	var ack models.Message

	err := retry.Do(ctx, m.opts.Policy, func(ctx context.Context) error {
		var callErr error
		ack, callErr = m.api.DeleteMessage(ctx, msg.ID, hard)

		return callErr
	})
	if err != nil {
		return m.failMessage(msg, "deleting", err)
	}

	m.tracker.Clear(msg.ID)

	if hard {
		if c, ok := m.registry.Get(msg.CID); ok {
			c.RemoveMessage(msg.ID)
		}

		if err := m.store.DeleteMessage(msg.ID); err != nil {
			return msg, fmt.Errorf("deleting message %s: %w", msg.ID, err)
		}

		return msg, nil
	}

	return m.acknowledge(msg, ack), nil
}

// acknowledge folds the server copy of msg back in.
func (m *Manager) acknowledge(msg, ack models.Message) models.Message {
	if ack.ID == "" {
		ack.ID = msg.ID
	}

	ack.CID = msg.CID
	ack.SyncStatus = models.SyncCompleted

	if ack.DeletedAt.IsZero() && !msg.DeletedLocallyAt.IsZero() {
		ack.DeletedAt = m.opts.Now()
	}

	merged := m.foldMessage(ack)
	if merged.SyncStatus != models.SyncCompleted {
		// The server copy lost the newer-than check; the request still
		// succeeded, so only the status changes.
		merged.SyncStatus = lifecycle.MustNext(merged.SyncStatus, lifecycle.Input{Kind: lifecycle.Succeeded})
		m.saveMessage(merged)
	}

	m.tracker.Clear(msg.ID)
	m.opts.Metrics.MessageSent(metrics.OutcomeSuccess)

	return merged
}

// failMessage applies the lifecycle outcome of a failed call. Local
// failures leave the status alone, except that nothing stays IN_PROGRESS.
func (m *Manager) failMessage(msg models.Message, verb string, err error) (models.Message, error) {
	cur, loadErr := m.loadMessage(msg.ID)
	if loadErr != nil {
		cur = msg
	}

	next := lifecycle.MustNext(cur.SyncStatus, lifecycle.Failure(err))
	if next == models.SyncInProgress {
		next = lifecycle.MustNext(next, lifecycle.Input{Kind: lifecycle.Cancelled})
	}

	cur.SyncStatus = next
	m.saveMessage(cur)

	if retry.IsTransient(err) {
		m.tracker.Record(msg.ID)
	}

	m.opts.Metrics.MessageSent(metrics.OutcomeFailed)

	m.logger.Warn("message sync failed",
		slog.String("message_id", msg.ID),
		slog.String("op", verb),
		slog.String("status", next.String()),
		slog.String("error", err.Error()),
	)

	return cur, fmt.Errorf("%s message %s: %w", verb, msg.ID, err)
}

// --- reactions ---

// SendReaction adds the current user's reaction to a message.
func (m *Manager) SendReaction(ctx context.Context, messageID, reactionType string, score int) (models.Reaction, error) {
	if err := models.ValidateReactionType(reactionType); err != nil {
		return models.Reaction{}, err
	}

	msg, err := m.loadMessage(messageID)
	if err != nil {
		return models.Reaction{}, err
	}

	if score <= 0 {
		score = 1
	}

	r := models.Reaction{
		MessageID: messageID,
		UserID:    m.opts.CurrentUser.ID,
		Type:      reactionType,
		Score:     score,
		CreatedAt: m.opts.Now(),
	}
	r.SyncStatus = lifecycle.MustNext(models.SyncCompleted, lifecycle.Mutation(m.online(), false))

	m.applyLocalReaction(msg.CID, r, false)

	if r.SyncStatus != models.SyncInProgress {
		return r, nil
	}

	return m.sendReactionRemote(ctx, msg.CID, r)
}

// DeleteReaction removes the current user's reaction. The reaction is
// kept with DeletedAt set until the server confirms.
func (m *Manager) DeleteReaction(ctx context.Context, messageID, reactionType string) (models.Reaction, error) {
	if err := models.ValidateReactionType(reactionType); err != nil {
		return models.Reaction{}, err
	}

	msg, err := m.loadMessage(messageID)
	if err != nil {
		return models.Reaction{}, err
	}

	r := models.Reaction{
		MessageID: messageID,
		UserID:    m.opts.CurrentUser.ID,
		Type:      reactionType,
		DeletedAt: m.opts.Now(),
	}
	r.SyncStatus = lifecycle.MustNext(models.SyncCompleted, lifecycle.Mutation(m.online(), false))

	m.applyLocalReaction(msg.CID, r, true)

	if r.SyncStatus != models.SyncInProgress {
		return r, nil
	}

	return m.deleteReactionRemote(ctx, msg.CID, r)
}

func (m *Manager) applyLocalReaction(cid string, r models.Reaction, remove bool) {
	if c, err := m.controller(cid); err == nil {
		c.ApplyLocalReaction(r, remove)

		if msg, ok := c.Message(r.MessageID); ok {
			m.saveMessage(msg)
		}
	}

	m.saveReaction(r)
}

func (m *Manager) sendReactionRemote(ctx context.Context, cid string, r models.Reaction) (models.Reaction, error) {
	var ack models.Message

	err := retry.Do(ctx, m.opts.Policy, func(ctx context.Context) error {
		var callErr error
		ack, callErr = m.api.SendReaction(ctx, r)

		return callErr
	})
	if err != nil {
		return m.failReaction(cid, r, "sending", err)
	}

	r.SyncStatus = models.SyncCompleted
	m.reactionAcknowledged(cid, r, ack)
	m.saveReaction(r)

	return r, nil
}

func (m *Manager) deleteReactionRemote(ctx context.Context, cid string, r models.Reaction) (models.Reaction, error) {
	var ack models.Message

	err := retry.Do(ctx, m.opts.Policy, func(ctx context.Context) error {
		var callErr error
		ack, callErr = m.api.DeleteReaction(ctx, r.MessageID, r.Type)

		return callErr
	})
	if err != nil {
		return m.failReaction(cid, r, "deleting", err)
	}

	r.SyncStatus = models.SyncCompleted
	m.reactionAcknowledged(cid, r, ack)

	if err := m.store.DeleteReaction(r.Key()); err != nil {
		return r, fmt.Errorf("deleting reaction %s: %w", r.Key(), err)
	}

	return r, nil
}

func (m *Manager) reactionAcknowledged(cid string, r models.Reaction, ack models.Message) {
	if c, ok := m.registry.Get(cid); ok {
		c.SetReactionSyncStatus(r.Key(), models.SyncCompleted)
	}

	if ack.ID != "" {
		ack.CID = cid
		ack.SyncStatus = models.SyncCompleted
		m.foldMessage(ack)
	}

	m.tracker.Clear(r.Key())
}

func (m *Manager) failReaction(cid string, r models.Reaction, verb string, err error) (models.Reaction, error) {
	next := lifecycle.MustNext(r.SyncStatus, lifecycle.Failure(err))
	if next == models.SyncInProgress {
		next = lifecycle.MustNext(next, lifecycle.Input{Kind: lifecycle.Cancelled})
	}

	r.SyncStatus = next

	if c, ok := m.registry.Get(cid); ok {
		c.SetReactionSyncStatus(r.Key(), next)
	}

	m.saveReaction(r)

	if retry.IsTransient(err) {
		m.tracker.Record(r.Key())
	}

	m.logger.Warn("reaction sync failed",
		slog.String("reaction", r.Key()),
		slog.String("op", verb),
		slog.String("status", next.String()),
		slog.String("error", err.Error()),
	)

	return r, fmt.Errorf("%s reaction %s: %w", verb, r.Key(), err)
}

func (m *Manager) saveReaction(r models.Reaction) {
	if err := m.store.UpsertReaction(r); err != nil {
		m.logger.Warn("persisting reaction", slog.String("reaction", r.Key()), slog.String("error", err.Error()))
	}
}

// --- reads and typing ---

// MarkRead moves the current user's read marker in cid to now and tells
// the server when connected. The local marker only moves forward.
func (m *Manager) MarkRead(ctx context.Context, cid string) error {
	c, err := m.controller(cid)
	if err != nil {
		return err
	}

	if !c.MarkChannelRead(m.opts.CurrentUser.ID, m.opts.Now()) {
		return nil
	}

	m.saveChannel(c.Snapshot().Channel)

	if !m.online() {
		return nil
	}

	typ, id, _ := models.SplitCID(cid)
	_, newest := c.Bounds()

	err = retry.Do(ctx, m.opts.Policy, func(ctx context.Context) error {
		return m.api.MarkRead(ctx, typ, id, newest)
	})
	if err != nil {
		return fmt.Errorf("marking %s read: %w", cid, err)
	}

	return nil
}

// Keystroke reports typing by the current user in cid, or in the thread
// of parentID. typing.start goes out at most once per throttle window.
func (m *Manager) Keystroke(ctx context.Context, cid, parentID string) error {
	c, err := m.controller(cid)
	if err != nil {
		return err
	}

	if !c.Keystroke(m.opts.Now()) || !m.online() {
		return nil
	}

	return m.sendTyping(ctx, cid, events.TypeTypingStart, parentID)
}

// StopTyping ends the current user's typing indicator in cid.
func (m *Manager) StopTyping(ctx context.Context, cid, parentID string) error {
	c, err := m.controller(cid)
	if err != nil {
		return err
	}

	if !c.StopTyping() || !m.online() {
		return nil
	}

	return m.sendTyping(ctx, cid, events.TypeTypingStop, parentID)
}

func (m *Manager) sendTyping(ctx context.Context, cid, eventType, parentID string) error {
	typ, id, err := models.SplitCID(cid)
	if err != nil {
		return err
	}

	if err := m.api.SendEvent(ctx, typ, id, eventType, parentID); err != nil {
		return fmt.Errorf("sending %s: %w", eventType, err)
	}

	return nil
}
