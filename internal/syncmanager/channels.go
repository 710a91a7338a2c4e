package syncmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/alexjbarnes/chat-sync/internal/channelstate"
	chaterrors "github.com/alexjbarnes/chat-sync/internal/errors"
	"github.com/alexjbarnes/chat-sync/internal/lifecycle"
	"github.com/alexjbarnes/chat-sync/internal/models"
	"github.com/alexjbarnes/chat-sync/internal/querycache"
	"github.com/alexjbarnes/chat-sync/internal/retry"
	"github.com/alexjbarnes/chat-sync/internal/transport"
)

const (
	defaultPageSize     = 30
	defaultMessageLimit = 25
)

// ChannelQuery is one page of a channel list query.
type ChannelQuery struct {
	Filter querycache.Filter
	Sort   querycache.Sort
	Limit  int
	Offset int
}

// CreateChannel creates ch optimistically. It joins every cached query it
// matches right away and is sent now or on the next connect.
func (m *Manager) CreateChannel(ctx context.Context, ch models.Channel) (models.Channel, error) {
	if ch.Type == "" {
		return models.Channel{}, fmt.Errorf("%w: channel type is required", chaterrors.ErrInvalidCID)
	}

	if ch.ID == "" {
		ch.ID = m.opts.NewID()
	}

	ch.CID = ""
	ch.EnsureCID()

	if ch.CreatedBy.ID == "" {
		ch.CreatedBy = m.opts.CurrentUser.Clone()
	}

	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = m.opts.Now()
	}

	if !slices.ContainsFunc(ch.Members, func(mem models.Member) bool { return mem.User.ID == m.opts.CurrentUser.ID }) {
		ch.Members = append(ch.Members, models.Member{User: m.opts.CurrentUser.Clone(), CreatedAt: ch.CreatedAt})
	}

	ch.MemberCount = max(ch.MemberCount, len(ch.Members))
	ch.SyncStatus = lifecycle.MustNext(models.SyncCompleted, lifecycle.Mutation(m.online(), false))

	if _, err := m.registry.ActivateChannel(ch); err != nil {
		return models.Channel{}, err
	}

	m.saveChannel(ch)
	m.cache.UpdateQueryChannelCollectionByNewChannel(ch)

	if ch.SyncStatus != models.SyncInProgress {
		return ch, nil
	}

	return m.createRemote(ctx, ch)
}

func (m *Manager) createRemote(ctx context.Context, ch models.Channel) (models.Channel, error) {
	c, err := m.controller(ch.CID)
	if err != nil {
		return ch, err
	}

	var ack models.Channel

	err = retry.Do(ctx, m.opts.Policy, func(ctx context.Context) error {
		var callErr error
		ack, callErr = m.api.CreateChannel(ctx, ch)

		return callErr
	})
	if err != nil {
		next := lifecycle.MustNext(ch.SyncStatus, lifecycle.Failure(err))
		if next == models.SyncInProgress {
			next = lifecycle.MustNext(next, lifecycle.Input{Kind: lifecycle.Cancelled})
		}

		ch.SyncStatus = next
		c.SetChannelSyncStatus(next)
		m.saveChannel(ch)

		if retry.IsTransient(err) {
			m.tracker.Record(ch.CID)
		}

		m.logger.Warn("channel sync failed",
			slog.String("cid", ch.CID),
			slog.String("status", next.String()),
			slog.String("error", err.Error()),
		)

		return ch, fmt.Errorf("creating channel %s: %w", ch.CID, err)
	}

	ack.CID = ""
	ack.EnsureCID()

	if ack.CID != ch.CID {
		// The server keeps the id we chose; anything else is a protocol
		// error we cannot fold back.
		return ch, fmt.Errorf("%w: created %s, got %s", chaterrors.ErrAPIResponse, ch.CID, ack.CID)
	}

	ack.SyncStatus = models.SyncCompleted
	c.SetChannel(ack)

	if len(ack.Messages) > 0 {
		c.MergeRemoteMessages(ack.Messages, channelstate.ModeAppendNewer)
	}

	merged := c.Snapshot().Channel
	m.saveChannel(merged)
	m.cache.RefreshChannel(merged)
	m.tracker.Clear(ch.CID)

	return merged, nil
}

// QueryChannels resolves one page of a channel query. Connected, it asks
// the server and records the result in state, the controllers and the
// query cache. Offline, or when the server is unreachable, it serves the
// page from the cached cids.
func (m *Manager) QueryChannels(ctx context.Context, q ChannelQuery) ([]models.Channel, error) {
	if q.Limit <= 0 {
		q.Limit = defaultPageSize
	}

	if !m.online() {
		return m.queryChannelsOffline(q)
	}

	req := transport.QueryChannelsRequest{
		Filter:       q.Filter,
		Sort:         q.Sort,
		Limit:        q.Limit,
		Offset:       q.Offset,
		MessageLimit: defaultMessageLimit,
		State:        true,
		Watch:        true,
	}

	var channels []models.Channel

	err := retry.Do(ctx, m.opts.Policy, func(ctx context.Context) error {
		var callErr error
		channels, callErr = m.api.QueryChannels(ctx, req)

		return callErr
	})
	if err != nil {
		if retry.IsTransient(err) {
			m.logger.Info("query channels unreachable, serving cache", slog.String("error", err.Error()))
			return m.queryChannelsOffline(q)
		}

		return nil, fmt.Errorf("querying channels: %w", err)
	}

	cids := make([]string, 0, len(channels))

	for i := range channels {
		channels[i].EnsureCID()
		cids = append(cids, channels[i].CID)

		if err := m.store.UpsertChannel(channels[i]); err != nil {
			m.logger.Warn("persisting channel", slog.String("cid", channels[i].CID), slog.String("error", err.Error()))
		}

		if _, err := m.registry.ActivateChannel(channels[i]); err != nil {
			return nil, err
		}
	}

	m.cache.SetResult(q.Filter, q.Sort, cids, q.Offset+len(channels), q.Offset > 0)

	return channels, nil
}

func (m *Manager) queryChannelsOffline(q ChannelQuery) ([]models.Channel, error) {
	entry := m.cache.Spec(q.Filter, q.Sort)

	channels, err := m.store.GetChannels(entry.CIDs)
	if err != nil {
		return nil, fmt.Errorf("loading cached channels: %w", err)
	}

	return querycache.ApplyPagination(channels, querycache.PaginationRequest{
		Sort:   q.Sort,
		Offset: q.Offset,
		Limit:  q.Limit,
	}), nil
}

// WatchChannel activates cid with its latest page of messages. Connected,
// the page comes from the server; otherwise from state.
func (m *Manager) WatchChannel(ctx context.Context, cid string, limit int) (channelstate.Snapshot, error) {
	typ, id, err := models.SplitCID(cid)
	if err != nil {
		return channelstate.Snapshot{}, err
	}

	if limit <= 0 {
		limit = defaultMessageLimit
	}

	if m.online() {
		ch, err := m.api.QueryChannel(ctx, typ, id, transport.MessagePagination{Limit: limit}, true)

		switch {
		case err == nil:
			ch.EnsureCID()

			if err := m.store.UpsertChannel(ch); err != nil {
				m.logger.Warn("persisting channel", slog.String("cid", cid), slog.String("error", err.Error()))
			}

			c, err := m.registry.ActivateChannel(ch)
			if err != nil {
				return channelstate.Snapshot{}, err
			}

			return c.Snapshot(), nil
		case !retry.IsTransient(err):
			return channelstate.Snapshot{}, fmt.Errorf("watching %s: %w", cid, err)
		}

		m.logger.Info("watch unreachable, serving state", slog.String("cid", cid), slog.String("error", err.Error()))
	}

	return m.watchFromState(cid)
}

func (m *Manager) watchFromState(cid string) (channelstate.Snapshot, error) {
	c, err := m.controller(cid)
	if err != nil {
		return channelstate.Snapshot{}, err
	}

	stored, err := m.store.GetChannel(cid)
	if err != nil {
		return channelstate.Snapshot{}, fmt.Errorf("loading channel %s: %w", cid, err)
	}

	if stored == nil {
		return c.Snapshot(), fmt.Errorf("%w: %s", chaterrors.ErrChannelNotFound, cid)
	}

	c.SetChannel(*stored)

	msgs, err := m.store.MessagesForChannel(cid)
	if err != nil {
		return channelstate.Snapshot{}, fmt.Errorf("loading messages of %s: %w", cid, err)
	}

	for i := range msgs {
		c.UpsertMessage(msgs[i])
	}

	return c.Snapshot(), nil
}

// LoadOlder fetches the page before the oldest loaded message.
func (m *Manager) LoadOlder(ctx context.Context, cid string, limit int) ([]models.Message, error) {
	return m.loadPage(ctx, cid, limit, channelstate.ModeAppendOlder)
}

// LoadNewer fetches the page after the newest loaded message.
func (m *Manager) LoadNewer(ctx context.Context, cid string, limit int) ([]models.Message, error) {
	return m.loadPage(ctx, cid, limit, channelstate.ModeAppendNewer)
}

func (m *Manager) loadPage(ctx context.Context, cid string, limit int, mode channelstate.MergeMode) ([]models.Message, error) {
	c, err := m.controller(cid)
	if err != nil {
		return nil, err
	}

	if !m.online() {
		return nil, retry.Transient(chaterrors.ErrOffline)
	}

	if limit <= 0 {
		limit = defaultMessageLimit
	}

	oldest, newest := c.Bounds()
	page := transport.MessagePagination{Limit: limit}

	if mode == channelstate.ModeAppendOlder {
		page.IDLT = oldest
	} else {
		page.IDGT = newest
	}

	msgs, err := m.fetchPage(ctx, cid, page)
	if err != nil {
		return nil, err
	}

	c.MergeRemoteMessages(msgs, mode)

	return msgs, nil
}

// LoadAround returns up to limit messages centred on id. Loaded messages
// are served locally; otherwise the page is fetched when connected. A
// message that is still missing is a local failure.
func (m *Manager) LoadAround(ctx context.Context, cid, id string, limit int) ([]models.Message, error) {
	c, err := m.controller(cid)
	if err != nil {
		return nil, err
	}

	msgs, err := c.MessagesAround(id, limit)
	if err == nil || !errors.Is(err, chaterrors.ErrMessageNotFound) || !m.online() {
		return msgs, err
	}

	fetched, err := m.fetchPage(ctx, cid, transport.MessagePagination{Limit: limit, IDAround: id})
	if err != nil {
		return nil, err
	}

	for i := range fetched {
		c.UpsertMessage(fetched[i])
	}

	return c.MessagesAround(id, limit)
}

func (m *Manager) fetchPage(ctx context.Context, cid string, page transport.MessagePagination) ([]models.Message, error) {
	typ, id, err := models.SplitCID(cid)
	if err != nil {
		return nil, err
	}

	var ch models.Channel

	err = retry.Do(ctx, m.opts.Policy, func(ctx context.Context) error {
		var callErr error
		ch, callErr = m.api.QueryChannel(ctx, typ, id, page, false)

		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("loading messages of %s: %w", cid, err)
	}

	for i := range ch.Messages {
		ch.Messages[i].CID = cid
	}

	if err := m.store.UpsertMessages(ch.Messages); err != nil {
		m.logger.Warn("persisting page", slog.String("cid", cid), slog.String("error", err.Error()))
	}

	return ch.Messages, nil
}
