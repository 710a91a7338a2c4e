package channelstate

import (
	"time"

	"github.com/alexjbarnes/chat-sync/internal/models"
)

// PruneTyping drops typing entries older than TypingStaleAfter and
// returns the users that were removed.
func (c *Controller) PruneTyping(now time.Time) []models.User {
	var pruned []models.User

	_ = c.do(func() {
		for id, t := range c.typing {
			if now.Sub(t.StartedAt) >= TypingStaleAfter {
				pruned = append(pruned, t.User)
				delete(c.typing, id)
			}
		}
	})

	return pruned
}

// Keystroke records a keystroke by the current user. Returns true when a
// typing.start should be sent: the first keystroke, and then at most one
// every TypingThrottle while typing continues.
func (c *Controller) Keystroke(now time.Time) bool {
	send := false

	_ = c.do(func() {
		c.own.lastKeystroke = now

		if c.own.active && now.Sub(c.own.lastStartSent) < TypingThrottle {
			return
		}

		c.own.active = true
		c.own.lastStartSent = now
		send = true
	})

	return send
}

// StopTypingIfIdle ends the user's own typing indicator once
// TypingIdleAfter has passed since the last keystroke. Returns true when
// a typing.stop should be sent.
func (c *Controller) StopTypingIfIdle(now time.Time) bool {
	send := false

	_ = c.do(func() {
		if c.own.active && now.Sub(c.own.lastKeystroke) >= TypingIdleAfter {
			c.own = ownTyping{}
			send = true
		}
	})

	return send
}

// StopTyping ends the user's own typing indicator. Returns true when a
// typing.stop should be sent.
func (c *Controller) StopTyping() bool {
	send := false

	_ = c.do(func() {
		if c.own.active {
			c.own = ownTyping{}
			send = true
		}
	})

	return send
}
