package models

import (
	"fmt"
	"regexp"
	"time"

	"github.com/forPelevin/gomoji"

	chaterrors "github.com/alexjbarnes/chat-sync/internal/errors"
)

// maxReactionTypeLen bounds identifier-style reaction types.
const maxReactionTypeLen = 64

var reactionIdentPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]*$`)

// Reaction is one user's reaction on a message.
type Reaction struct {
	MessageID     string    `json:"message_id"`
	UserID        string    `json:"user_id"`
	Type          string    `json:"type"`
	Score         int       `json:"score"`
	CreatedAt     time.Time `json:"created_at,omitzero"`
	UpdatedAt     time.Time `json:"updated_at,omitzero"`
	DeletedAt     time.Time `json:"deleted_at,omitzero"`
	EnforceUnique bool      `json:"enforce_unique,omitempty"`

	SyncStatus SyncStatus `json:"sync_status"`
}

// Key identifies a reaction: one per (message, user, type).
func (r *Reaction) Key() string {
	return r.MessageID + "/" + r.UserID + "/" + r.Type
}

// ValidateReactionType accepts either a short lowercase identifier
// ("like", "thumbs_up") or exactly one emoji.
func ValidateReactionType(t string) error {
	if t == "" {
		return fmt.Errorf("%w: empty", chaterrors.ErrInvalidReaction)
	}

	if reactionIdentPattern.MatchString(t) {
		if len(t) > maxReactionTypeLen {
			return fmt.Errorf("%w: %q longer than %d", chaterrors.ErrInvalidReaction, t, maxReactionTypeLen)
		}

		return nil
	}

	if len(gomoji.RemoveEmojis(t)) > 0 {
		return fmt.Errorf("%w: %q is neither an identifier nor an emoji", chaterrors.ErrInvalidReaction, t)
	}

	if len(gomoji.CollectAll(t)) != 1 {
		return fmt.Errorf("%w: %q must be a single emoji", chaterrors.ErrInvalidReaction, t)
	}

	return nil
}
