// Package mcpserver registers MCP tools that expose the local chat cache.
// It adapts the current session to the MCP SDK's tool handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/alexjbarnes/chat-sync/internal/models"
	"github.com/alexjbarnes/chat-sync/internal/querycache"
	"github.com/alexjbarnes/chat-sync/internal/session"
	"github.com/alexjbarnes/chat-sync/internal/syncmanager"
)

const defaultMessageLimit = 25

// Sessions returns the logged-in session. *session.Manager satisfies it.
type Sessions interface {
	Current() (*session.Session, error)
}

// RegisterTools adds all chat tools to the given MCP server.
func RegisterTools(server *mcp.Server, sessions Sessions) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_list_channels",
		Description: "List channels matching a filter, sorted and paginated. Served from the server when connected and from the local cache otherwise.",
	}, listChannelsHandler(sessions))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_list_messages",
		Description: "Watch a channel and return its latest messages, oldest first, including local messages that have not synced yet.",
	}, listMessagesHandler(sessions))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_send_message",
		Description: "Send a text message to a channel, optionally as a thread reply. Offline messages are queued and sent on reconnect.",
	}, sendMessageHandler(sessions))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_mark_read",
		Description: "Mark a channel read for the logged-in user.",
	}, markReadHandler(sessions))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_retry_failed",
		Description: "Resend one failed message by id, or retry every pending channel, message and reaction when no id is given.",
	}, retryFailedHandler(sessions))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// ListChannelsInput holds parameters for chat_list_channels.
type ListChannelsInput struct {
	Filter        string `json:"filter,omitempty" jsonschema:"channel filter as a JSON object, e.g. {\"type\":\"messaging\"}; empty matches every channel"`
	SortField     string `json:"sort_field,omitempty" jsonschema:"field to sort by, e.g. last_message_at"`
	SortDirection int    `json:"sort_direction,omitempty" jsonschema:"1 ascending, -1 descending, defaults to -1"`
	Limit         int    `json:"limit,omitempty" jsonschema:"page size, 0 means the default"`
	Offset        int    `json:"offset,omitempty" jsonschema:"number of channels to skip"`
}

// ListMessagesInput holds parameters for chat_list_messages.
type ListMessagesInput struct {
	CID   string `json:"cid" jsonschema:"channel id in type:id form"`
	Limit int    `json:"limit,omitempty" jsonschema:"number of messages, defaults to 25"`
}

// SendMessageInput holds parameters for chat_send_message.
type SendMessageInput struct {
	CID      string `json:"cid" jsonschema:"channel id in type:id form"`
	Text     string `json:"text" jsonschema:"message text"`
	ParentID string `json:"parent_id,omitempty" jsonschema:"id of the thread parent message"`
}

// MarkReadInput holds parameters for chat_mark_read.
type MarkReadInput struct {
	CID string `json:"cid" jsonschema:"channel id in type:id form"`
}

// RetryFailedInput holds parameters for chat_retry_failed.
type RetryFailedInput struct {
	MessageID string `json:"message_id,omitempty" jsonschema:"message to resend; empty retries everything pending"`
}

// --- Output types ---

// ChannelSummary is a channel without its members and messages.
type ChannelSummary struct {
	CID           string `json:"cid"`
	Name          string `json:"name,omitempty"`
	MemberCount   int    `json:"member_count"`
	UnreadCount   int    `json:"unread_count"`
	LastMessageAt string `json:"last_message_at,omitempty"`
	SyncStatus    string `json:"sync_status"`
}

// ListChannelsResult is the output of chat_list_channels.
type ListChannelsResult struct {
	Channels []ChannelSummary `json:"channels"`
}

// MessageSummary is the text-level view of a message.
type MessageSummary struct {
	ID          string `json:"id"`
	CID         string `json:"cid"`
	UserID      string `json:"user_id"`
	Text        string `json:"text"`
	ParentID    string `json:"parent_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	Attachments int    `json:"attachments,omitempty"`
	Deleted     bool   `json:"deleted,omitempty"`
	SyncStatus  string `json:"sync_status"`
}

// ListMessagesResult is the output of chat_list_messages.
type ListMessagesResult struct {
	CID        string           `json:"cid"`
	Messages   []MessageSummary `json:"messages"`
	EndOfOlder bool             `json:"end_of_older"`
}

// SendMessageResult is the output of chat_send_message.
type SendMessageResult struct {
	Message MessageSummary `json:"message"`
}

// MarkReadResult is the output of chat_mark_read.
type MarkReadResult struct {
	CID string `json:"cid"`
}

// RetryFailedResult is the output of chat_retry_failed.
type RetryFailedResult struct {
	Message *MessageSummary `json:"message,omitempty"`
	All     bool            `json:"all,omitempty"`
}

// --- Handlers ---

func listChannelsHandler(sessions Sessions) mcp.ToolHandlerFor[ListChannelsInput, *ListChannelsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ListChannelsInput) (*mcp.CallToolResult, *ListChannelsResult, error) {
		s, err := sessions.Current()
		if err != nil {
			return nil, nil, err
		}

		q, err := channelQuery(input)
		if err != nil {
			return nil, nil, err
		}

		channels, err := s.Sync.QueryChannels(ctx, q)
		if err != nil {
			return nil, nil, err
		}

		result := &ListChannelsResult{Channels: make([]ChannelSummary, 0, len(channels))}
		for i := range channels {
			result.Channels = append(result.Channels, channelSummary(&channels[i]))
		}

		return textResult(result), result, nil
	}
}

func channelQuery(input ListChannelsInput) (syncmanager.ChannelQuery, error) {
	q := syncmanager.ChannelQuery{
		Filter: querycache.Neutral(),
		Limit:  input.Limit,
		Offset: input.Offset,
	}

	if input.Filter != "" {
		f, err := querycache.ParseFilter([]byte(input.Filter))
		if err != nil {
			return q, err
		}

		q.Filter = f
	}

	if input.SortField != "" {
		if !querycache.KnownSortField(input.SortField) {
			return q, fmt.Errorf("unknown sort field %q", input.SortField)
		}

		dir := querycache.Direction(-1)
		if input.SortDirection > 0 {
			dir = 1
		}

		q.Sort = querycache.Sort{{Field: input.SortField, Direction: dir}}
	}

	return q, nil
}

func listMessagesHandler(sessions Sessions) mcp.ToolHandlerFor[ListMessagesInput, *ListMessagesResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ListMessagesInput) (*mcp.CallToolResult, *ListMessagesResult, error) {
		s, err := sessions.Current()
		if err != nil {
			return nil, nil, err
		}

		limit := input.Limit
		if limit <= 0 {
			limit = defaultMessageLimit
		}

		snap, err := s.Sync.WatchChannel(ctx, input.CID, limit)
		if err != nil {
			return nil, nil, err
		}

		msgs := snap.Messages
		if len(msgs) > limit {
			msgs = msgs[len(msgs)-limit:]
		}

		result := &ListMessagesResult{
			CID:        input.CID,
			Messages:   make([]MessageSummary, 0, len(msgs)),
			EndOfOlder: snap.EndOfOlder,
		}

		for i := range msgs {
			result.Messages = append(result.Messages, messageSummary(&msgs[i]))
		}

		return textResult(result), result, nil
	}
}

func sendMessageHandler(sessions Sessions) mcp.ToolHandlerFor[SendMessageInput, *SendMessageResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SendMessageInput) (*mcp.CallToolResult, *SendMessageResult, error) {
		s, err := sessions.Current()
		if err != nil {
			return nil, nil, err
		}

		if input.Text == "" {
			return nil, nil, fmt.Errorf("text is required")
		}

		msg, err := s.Sync.SendMessage(ctx, input.CID, models.Message{
			Text:     input.Text,
			ParentID: input.ParentID,
		})
		if err != nil {
			return nil, nil, err
		}

		result := &SendMessageResult{Message: messageSummary(&msg)}

		return textResult(result), result, nil
	}
}

func markReadHandler(sessions Sessions) mcp.ToolHandlerFor[MarkReadInput, *MarkReadResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input MarkReadInput) (*mcp.CallToolResult, *MarkReadResult, error) {
		s, err := sessions.Current()
		if err != nil {
			return nil, nil, err
		}

		if err := s.Sync.MarkRead(ctx, input.CID); err != nil {
			return nil, nil, err
		}

		result := &MarkReadResult{CID: input.CID}

		return textResult(result), result, nil
	}
}

func retryFailedHandler(sessions Sessions) mcp.ToolHandlerFor[RetryFailedInput, *RetryFailedResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input RetryFailedInput) (*mcp.CallToolResult, *RetryFailedResult, error) {
		s, err := sessions.Current()
		if err != nil {
			return nil, nil, err
		}

		if input.MessageID == "" {
			if err := s.Sync.RetryFailedEntities(ctx); err != nil {
				return nil, nil, err
			}

			result := &RetryFailedResult{All: true}

			return textResult(result), result, nil
		}

		msg, err := s.Sync.Resend(ctx, input.MessageID)
		if err != nil {
			return nil, nil, err
		}

		summary := messageSummary(&msg)
		result := &RetryFailedResult{Message: &summary}

		return textResult(result), result, nil
	}
}

func channelSummary(ch *models.Channel) ChannelSummary {
	return ChannelSummary{
		CID:           ch.CID,
		Name:          ch.Name,
		MemberCount:   ch.MemberCount,
		UnreadCount:   ch.UnreadCount,
		LastMessageAt: formatTime(ch.LastMessageAt),
		SyncStatus:    ch.SyncStatus.String(),
	}
}

func messageSummary(m *models.Message) MessageSummary {
	return MessageSummary{
		ID:          m.ID,
		CID:         m.CID,
		UserID:      m.User.ID,
		Text:        m.Text,
		ParentID:    m.ParentID,
		CreatedAt:   formatTime(m.SortTime()),
		Attachments: len(m.Attachments),
		Deleted:     !m.DeletedAt.IsZero() || !m.DeletedLocallyAt.IsZero(),
		SyncStatus:  m.SyncStatus.String(),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339)
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
