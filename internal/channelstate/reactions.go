package channelstate

import (
	"maps"
	"slices"

	"github.com/alexjbarnes/chat-sync/internal/models"
)

type reactionChange int

const (
	reactionAdded reactionChange = iota
	reactionUpdated
	reactionRemoved
)

// ApplyLocalReaction optimistically adds or removes one of the current
// user's reactions. Returns false if the message is not loaded.
func (c *Controller) ApplyLocalReaction(r models.Reaction, remove bool) bool {
	ok := false

	_ = c.do(func() {
		change := reactionAdded
		if remove {
			change = reactionRemoved
		}

		ok = c.applyReaction(change, r, nil)
	})

	return ok
}

// SetReactionSyncStatus updates the status of an own reaction.
func (c *Controller) SetReactionSyncStatus(key string, status models.SyncStatus) bool {
	ok := false

	_ = c.do(func() {
		for _, m := range c.messages {
			for i := range m.OwnReactions {
				if m.OwnReactions[i].Key() == key {
					m.OwnReactions[i].SyncStatus = status
					ok = true
				}
			}
		}
	})

	return ok
}

// applyReaction updates the aggregates of the reacted message. When the
// server sent the message along, its aggregates replace ours; otherwise
// the change is applied as a delta.
func (c *Controller) applyReaction(change reactionChange, r models.Reaction, carried *models.Message) bool {
	m, ok := c.messages[r.MessageID]
	if !ok {
		return false
	}

	own := r.UserID == c.opts.CurrentUserID

	if carried != nil {
		m.ReactionCounts = maps.Clone(carried.ReactionCounts)
		m.ReactionScores = maps.Clone(carried.ReactionScores)
		m.LatestReactions = slices.Clone(carried.LatestReactions)
	} else {
		applyDelta(m, change, r, own)
	}

	if own {
		m.OwnReactions = slices.DeleteFunc(m.OwnReactions, func(x models.Reaction) bool {
			return x.Key() == r.Key() || (change == reactionAdded && r.EnforceUnique)
		})

		if change != reactionRemoved {
			m.OwnReactions = append(m.OwnReactions, r)
		}
	}

	return true
}

func applyDelta(m *models.Message, change reactionChange, r models.Reaction, own bool) {
	score := max(r.Score, 1)

	prev, known := findReaction(m, r.Key())

	switch change {
	case reactionAdded:
		if known {
			return
		}

		if own && r.EnforceUnique {
			for _, old := range m.OwnReactions {
				if old.Type != r.Type {
					decrement(m, old)
				}
			}

			m.LatestReactions = slices.DeleteFunc(m.LatestReactions, func(x models.Reaction) bool {
				return x.UserID == r.UserID
			})
		}

		if m.ReactionCounts == nil {
			m.ReactionCounts = make(map[string]int)
		}

		if m.ReactionScores == nil {
			m.ReactionScores = make(map[string]int)
		}

		m.ReactionCounts[r.Type]++
		m.ReactionScores[r.Type] += score
		m.LatestReactions = append([]models.Reaction{r}, m.LatestReactions...)

	case reactionUpdated:
		if !known {
			return
		}

		if m.ReactionScores != nil {
			m.ReactionScores[r.Type] += score - max(prev.Score, 1)
		}

		replaceReaction(m, r)

	case reactionRemoved:
		if !known {
			return
		}

		decrement(m, prev)

		m.LatestReactions = slices.DeleteFunc(m.LatestReactions, func(x models.Reaction) bool {
			return x.Key() == r.Key()
		})
	}
}

func decrement(m *models.Message, r models.Reaction) {
	if m.ReactionCounts[r.Type] <= 1 {
		delete(m.ReactionCounts, r.Type)
		delete(m.ReactionScores, r.Type)

		return
	}

	m.ReactionCounts[r.Type]--
	m.ReactionScores[r.Type] -= max(r.Score, 1)
}

func findReaction(m *models.Message, key string) (models.Reaction, bool) {
	for _, list := range [][]models.Reaction{m.OwnReactions, m.LatestReactions} {
		for _, r := range list {
			if r.Key() == key {
				return r, true
			}
		}
	}

	return models.Reaction{}, false
}

func replaceReaction(m *models.Message, r models.Reaction) {
	for i := range m.LatestReactions {
		if m.LatestReactions[i].Key() == r.Key() {
			m.LatestReactions[i] = r
		}
	}
}
