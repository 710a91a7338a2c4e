package events

import "github.com/alexjbarnes/chat-sync/internal/models"

func channelWith(cid, typ, id string) models.Channel {
	return models.Channel{CID: cid, Type: typ, ID: id}
}

func ptr[T any](v T) *T { return &v }
