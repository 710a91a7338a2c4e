package syncmanager

import (
	"context"

	"github.com/alexjbarnes/chat-sync/internal/models"
	"github.com/alexjbarnes/chat-sync/internal/transport"
)

//go:generate mockgen -source=api.go -destination=mock_api_test.go -package=syncmanager

// API is the slice of the REST client the manager calls.
// *transport.Client satisfies it.
type API interface {
	CreateChannel(ctx context.Context, ch models.Channel) (models.Channel, error)
	QueryChannels(ctx context.Context, req transport.QueryChannelsRequest) ([]models.Channel, error)
	QueryChannel(ctx context.Context, channelType, channelID string, page transport.MessagePagination, watch bool) (models.Channel, error)
	SendMessage(ctx context.Context, channelType, channelID string, msg models.Message) (models.Message, error)
	UpdateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID string, hard bool) (models.Message, error)
	SendReaction(ctx context.Context, r models.Reaction) (models.Message, error)
	DeleteReaction(ctx context.Context, messageID, reactionType string) (models.Message, error)
	MarkRead(ctx context.Context, channelType, channelID, messageID string) error
	SendEvent(ctx context.Context, channelType, channelID, eventType, parentID string) error
}

// UploadQueue schedules attachment uploads. *upload.Scheduler satisfies
// it.
type UploadQueue interface {
	Enqueue(channelType, channelID, messageID string)
	Cancel(messageID string) bool
}
