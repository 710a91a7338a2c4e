package state

import (
	"encoding/json"
	"slices"

	bolt "go.etcd.io/bbolt"

	"github.com/alexjbarnes/chat-sync/internal/models"
)

// UpsertReaction persists a reaction keyed by message, user and type.
func (st *Store) UpsertReaction(r models.Reaction) error {
	return st.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(st.reactBucket), []byte(r.Key()), r)
	})
}

// GetReaction returns the reaction with key, or nil if not found.
func (st *Store) GetReaction(key string) (*models.Reaction, error) {
	var r *models.Reaction

	err := st.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(st.reactBucket).Get([]byte(key))
		if v == nil {
			return nil
		}

		r = &models.Reaction{}

		return json.Unmarshal(v, r)
	})

	return r, err
}

// DeleteReaction removes the reaction with key.
func (st *Store) DeleteReaction(key string) error {
	return st.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(st.reactBucket).Delete([]byte(key))
	})
}

// ReactionsForMessage returns every stored reaction on messageID.
func (st *Store) ReactionsForMessage(messageID string) ([]models.Reaction, error) {
	var out []models.Reaction

	prefix := []byte(messageID + "/")

	err := st.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(st.reactBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var r models.Reaction
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}

			out = append(out, r)
		}

		return nil
	})

	return out, err
}

// ReactionsBySyncStatus returns the reactions in any of the given states.
func (st *Store) ReactionsBySyncStatus(statuses ...models.SyncStatus) ([]models.Reaction, error) {
	var out []models.Reaction

	err := st.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(st.reactBucket).ForEach(func(_, v []byte) error {
			var r models.Reaction
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}

			if slices.Contains(statuses, r.SyncStatus) {
				out = append(out, r)
			}

			return nil
		})
	})

	return out, err
}
