package events

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	chaterrors "github.com/alexjbarnes/chat-sync/internal/errors"
	"github.com/alexjbarnes/chat-sync/internal/models"
)

// Decode parses one wire event. The type is peeked with gjson before the
// full unmarshal; types without a variant decode to Unknown.
func Decode(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: event is not valid JSON", chaterrors.ErrAPIResponse)
	}

	typ := gjson.GetBytes(data, "type").String()
	if typ == "" {
		return nil, fmt.Errorf("%w: event without type", chaterrors.ErrAPIResponse)
	}

	switch typ {
	case TypeMessageNew, TypeNotificationMessageNew:
		return decodeAs[MessageNew](data)
	case TypeMessageUpdated:
		return decodeAs[MessageUpdated](data)
	case TypeMessageDeleted:
		return decodeAs[MessageDeleted](data)
	case TypeReactionNew:
		return decodeAs[ReactionNew](data)
	case TypeReactionUpdated:
		return decodeAs[ReactionUpdated](data)
	case TypeReactionDeleted:
		return decodeAs[ReactionDeleted](data)
	case TypeMemberAdded, TypeNotificationAddedToChannel:
		return decodeAs[MemberAdded](data)
	case TypeMemberUpdated:
		return decodeAs[MemberUpdated](data)
	case TypeMemberRemoved, TypeNotificationRemovedFromChannel:
		return decodeAs[MemberRemoved](data)
	case TypeMessageRead, TypeNotificationMarkRead:
		return decodeAs[MessageRead](data)
	case TypeTypingStart:
		return decodeAs[TypingStart](data)
	case TypeTypingStop:
		return decodeAs[TypingStop](data)
	case TypeChannelUpdated:
		return decodeAs[ChannelUpdated](data)
	case TypeChannelDeleted, TypeNotificationChannelDeleted:
		return decodeAs[ChannelDeleted](data)
	case TypeChannelTruncated, TypeNotificationChannelTruncated:
		return decodeAs[ChannelTruncated](data)
	case TypeChannelHidden:
		return decodeAs[ChannelHidden](data)
	case TypeChannelVisible:
		return decodeAs[ChannelVisible](data)
	case TypeNotificationChannelMutesUpdated:
		return decodeMutes(data)
	case TypeUserBanned:
		return decodeAs[UserBanned](data)
	case TypeUserUnbanned:
		return decodeAs[UserUnbanned](data)
	case TypeUserWatchingStart:
		return decodeAs[UserWatchingStart](data)
	case TypeUserWatchingStop:
		return decodeAs[UserWatchingStop](data)
	case TypeHealthCheck:
		return decodeAs[HealthCheck](data)
	}

	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decoding %s header: %w", typ, err)
	}

	return Unknown{Header: h, Raw: append(json.RawMessage(nil), data...)}, nil
}

func decodeAs[T Event](data []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", gjson.GetBytes(data, "type").String(), err)
	}

	return ev, nil
}

// decodeMutes flattens me.channel_mutes into the muted cid list.
func decodeMutes(data []byte) (Event, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", h.Type, err)
	}

	ev := ChannelMuted{Header: h}
	for _, cid := range gjson.GetBytes(data, "me.channel_mutes.#.channel.cid").Array() {
		ev.MutedCIDs = append(ev.MutedCIDs, cid.String())
	}

	return ev, nil
}

// ResolveCID returns the channel an event belongs to: the cid field,
// then channel_type:channel_id, then the embedded channel's cid. Empty
// for events not bound to a channel.
func ResolveCID(ev Event) string {
	if ev == nil {
		return ""
	}

	h := ev.header()
	if h.CID != "" {
		return h.CID
	}

	if h.ChannelType != "" && h.ChannelID != "" {
		return models.CID(h.ChannelType, h.ChannelID)
	}

	if ch := embeddedChannel(ev); ch != nil {
		if ch.CID != "" {
			return ch.CID
		}

		if ch.Type != "" && ch.ID != "" {
			return models.CID(ch.Type, ch.ID)
		}
	}

	return ""
}

func embeddedChannel(ev Event) *models.Channel {
	switch e := ev.(type) {
	case MemberAdded:
		return e.Channel
	case MemberRemoved:
		return e.Channel
	case ChannelUpdated:
		return &e.Channel
	case ChannelDeleted:
		return &e.Channel
	case ChannelTruncated:
		return &e.Channel
	}

	return nil
}
