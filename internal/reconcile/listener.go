package reconcile

import (
	"context"

	"github.com/alexjbarnes/chat-sync/internal/events"
)

//go:generate mockgen -source=listener.go -destination=mock_listener_test.go -package=reconcile

// ConnectionListener receives connection lifecycle events.
type ConnectionListener interface {
	HandleConnection(ctx context.Context, ev events.Event)
}

// TypingSender sends the user's own typing events. *transport.Client
// satisfies it.
type TypingSender interface {
	SendEvent(ctx context.Context, channelType, channelID, eventType, parentID string) error
}
