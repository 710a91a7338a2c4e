package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/alexjbarnes/chat-sync/internal/models"
)

// channelState is a channel as returned by query endpoints: metadata plus
// the state lists the server sends alongside it.
type channelState struct {
	Channel      models.Channel           `json:"channel"`
	Messages     []models.Message         `json:"messages"`
	Members      []models.Member          `json:"members"`
	Read         []models.ChannelUserRead `json:"read"`
	Watchers     []models.User            `json:"watchers"`
	WatcherCount int                      `json:"watcher_count"`
	Hidden       bool                     `json:"hidden"`
}

func (cs *channelState) flatten() models.Channel {
	ch := cs.Channel
	ch.EnsureCID()

	ch.Messages = cs.Messages
	for i := range ch.Messages {
		ch.Messages[i].CID = ch.CID
	}

	if cs.Members != nil {
		ch.Members = cs.Members
	}

	if cs.Read != nil {
		ch.Reads = cs.Read
	}

	if cs.Watchers != nil {
		ch.Watchers = cs.Watchers
	}

	if cs.WatcherCount > ch.WatcherCount {
		ch.WatcherCount = cs.WatcherCount
	}

	ch.Hidden = ch.Hidden || cs.Hidden
	ch.SyncStatus = models.SyncCompleted

	return ch
}

// QueryChannelsRequest is a channel list query. Filter and Sort are sent
// as given; callers pass querycache values, which marshal to wire form.
type QueryChannelsRequest struct {
	Filter       any  `json:"filter_conditions"`
	Sort         any  `json:"sort,omitempty"`
	Limit        int  `json:"limit,omitempty"`
	Offset       int  `json:"offset,omitempty"`
	MessageLimit int  `json:"message_limit,omitempty"`
	State        bool `json:"state"`
	Watch        bool `json:"watch"`
	Presence     bool `json:"presence"`
}

// MessagePagination selects a page of channel history. At most one of
// the id bounds should be set.
type MessagePagination struct {
	Limit    int    `json:"limit,omitempty"`
	IDLT     string `json:"id_lt,omitempty"`
	IDGT     string `json:"id_gt,omitempty"`
	IDAround string `json:"id_around,omitempty"`
}

// UploadResult is the response of an image or file upload.
type UploadResult struct {
	File     string `json:"file"`
	ThumbURL string `json:"thumb_url,omitempty"`
}

// CreateChannel creates the channel or returns the existing one with the
// same type and id. Members are sent as ids.
func (c *Client) CreateChannel(ctx context.Context, ch models.Channel) (models.Channel, error) {
	data := map[string]any{"members": ch.MemberIDs()}
	if ch.Name != "" {
		data["name"] = ch.Name
	}

	for k, v := range ch.ExtraData {
		data[k] = v
	}

	body := map[string]any{"data": data, "state": true, "watch": true}

	var resp channelState
	if err := c.doJSON(ctx, http.MethodPost, channelPath(ch.Type, ch.ID)+"/query", nil, body, &resp); err != nil {
		return models.Channel{}, fmt.Errorf("creating channel %s: %w", ch.CID, err)
	}

	return resp.flatten(), nil
}

// QueryChannels runs a channel list query.
func (c *Client) QueryChannels(ctx context.Context, req QueryChannelsRequest) ([]models.Channel, error) {
	var resp struct {
		Channels []channelState `json:"channels"`
	}

	if err := c.doJSON(ctx, http.MethodPost, "/channels", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("querying channels: %w", err)
	}

	out := make([]models.Channel, len(resp.Channels))
	for i := range resp.Channels {
		out[i] = resp.Channels[i].flatten()
	}

	return out, nil
}

// QueryChannel loads one channel with a page of messages. With watch set
// the connection subscribes to the channel's events.
func (c *Client) QueryChannel(ctx context.Context, channelType, channelID string, page MessagePagination, watch bool) (models.Channel, error) {
	body := map[string]any{"state": true, "watch": watch, "messages": page}

	var resp channelState
	if err := c.doJSON(ctx, http.MethodPost, channelPath(channelType, channelID)+"/query", nil, body, &resp); err != nil {
		return models.Channel{}, fmt.Errorf("querying channel %s: %w", models.CID(channelType, channelID), err)
	}

	return resp.flatten(), nil
}

type messageResponse struct {
	Message models.Message `json:"message"`
}

// SendMessage sends a new message. The client-generated id makes the
// request idempotent: a resend of an acknowledged message returns it.
func (c *Client) SendMessage(ctx context.Context, channelType, channelID string, msg models.Message) (models.Message, error) {
	var resp messageResponse

	body := map[string]any{"message": wireMessage(msg)}
	if err := c.doJSON(ctx, http.MethodPost, channelPath(channelType, channelID)+"/message", nil, body, &resp); err != nil {
		return models.Message{}, fmt.Errorf("sending message %s: %w", msg.ID, err)
	}

	return ackMessage(resp.Message, msg.CID), nil
}

// UpdateMessage replaces the text, attachments and extra data of a
// message.
func (c *Client) UpdateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var resp messageResponse

	body := map[string]any{"message": wireMessage(msg)}
	if err := c.doJSON(ctx, http.MethodPost, "/messages/"+url.PathEscape(msg.ID), nil, body, &resp); err != nil {
		return models.Message{}, fmt.Errorf("updating message %s: %w", msg.ID, err)
	}

	return ackMessage(resp.Message, msg.CID), nil
}

// DeleteMessage deletes a message. A soft delete keeps the record with
// DeletedAt set.
func (c *Client) DeleteMessage(ctx context.Context, messageID string, hard bool) (models.Message, error) {
	q := url.Values{}
	if hard {
		q.Set("hard", "true")
	}

	var resp messageResponse
	if err := c.doJSON(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), q, nil, &resp); err != nil {
		return models.Message{}, fmt.Errorf("deleting message %s: %w", messageID, err)
	}

	return ackMessage(resp.Message, ""), nil
}

// SendReaction adds a reaction and returns the updated message.
func (c *Client) SendReaction(ctx context.Context, r models.Reaction) (models.Message, error) {
	body := map[string]any{
		"reaction": map[string]any{
			"type":  r.Type,
			"score": max(r.Score, 1),
		},
		"enforce_unique": r.EnforceUnique,
	}

	var resp messageResponse
	if err := c.doJSON(ctx, http.MethodPost, "/messages/"+url.PathEscape(r.MessageID)+"/reaction", nil, body, &resp); err != nil {
		return models.Message{}, fmt.Errorf("sending reaction %s: %w", r.Key(), err)
	}

	return ackMessage(resp.Message, ""), nil
}

// DeleteReaction removes the user's reaction of reactionType.
func (c *Client) DeleteReaction(ctx context.Context, messageID, reactionType string) (models.Message, error) {
	endpoint := "/messages/" + url.PathEscape(messageID) + "/reaction/" + url.PathEscape(reactionType)

	var resp messageResponse
	if err := c.doJSON(ctx, http.MethodDelete, endpoint, nil, nil, &resp); err != nil {
		return models.Message{}, fmt.Errorf("deleting reaction %s on %s: %w", reactionType, messageID, err)
	}

	return ackMessage(resp.Message, ""), nil
}

// MarkRead marks the channel read up to messageID, or entirely when
// messageID is empty.
func (c *Client) MarkRead(ctx context.Context, channelType, channelID, messageID string) error {
	body := map[string]any{}
	if messageID != "" {
		body["message_id"] = messageID
	}

	if err := c.doJSON(ctx, http.MethodPost, channelPath(channelType, channelID)+"/read", nil, body, nil); err != nil {
		return fmt.Errorf("marking %s read: %w", models.CID(channelType, channelID), err)
	}

	return nil
}

// SendEvent sends a custom channel event such as typing.start.
func (c *Client) SendEvent(ctx context.Context, channelType, channelID, eventType, parentID string) error {
	event := map[string]any{"type": eventType}
	if parentID != "" {
		event["parent_id"] = parentID
	}

	if err := c.doJSON(ctx, http.MethodPost, channelPath(channelType, channelID)+"/event", nil, map[string]any{"event": event}, nil); err != nil {
		return fmt.Errorf("sending %s: %w", eventType, err)
	}

	return nil
}

// wireMessage is the subset of a message the server accepts on send and
// update. Local bookkeeping fields stay on the client.
func wireMessage(m models.Message) map[string]any {
	out := map[string]any{
		"id":   m.ID,
		"text": m.Text,
	}

	if m.ParentID != "" {
		out["parent_id"] = m.ParentID
		out["show_in_channel"] = m.ShowInChannel
	}

	if m.Silent {
		out["silent"] = true
	}

	if len(m.Attachments) > 0 {
		atts := make([]map[string]any, len(m.Attachments))
		for i := range m.Attachments {
			atts[i] = wireAttachment(&m.Attachments[i])
		}

		out["attachments"] = atts
	}

	for k, v := range m.ExtraData {
		if _, taken := out[k]; !taken {
			out[k] = v
		}
	}

	return out
}

func wireAttachment(a *models.Attachment) map[string]any {
	out := map[string]any{"type": a.Type}

	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}

	set("name", a.Name)
	set("title", a.Title)
	set("mime_type", a.MimeType)
	set("image_url", a.ImageURL)
	set("asset_url", a.AssetURL)
	set("thumb_url", a.ThumbURL)

	if a.FileSize > 0 {
		out["file_size"] = a.FileSize
	}

	for k, v := range a.ExtraData {
		if _, taken := out[k]; !taken {
			out[k] = v
		}
	}

	return out
}

// ackMessage marks a server copy as acknowledged and fills its cid when
// the response left it out.
func ackMessage(m models.Message, cid string) models.Message {
	if m.CID == "" {
		m.CID = cid
	}

	m.SyncStatus = models.SyncCompleted

	return m
}
