package state

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/alexjbarnes/chat-sync/internal/models"
)

// PutMessage writes msg unconditionally. Used for local mutations and
// status changes that the caller has already decided on.
func (st *Store) PutMessage(msg models.Message) error {
	return st.db.Update(func(tx *bolt.Tx) error {
		_, err := st.upsertMessageTx(tx, msg, true)
		return err
	})
}

// UpsertMessage writes msg only if it is newer than the stored copy
// (models.IsMessageNewer). Returns whether it was written.
func (st *Store) UpsertMessage(msg models.Message) (bool, error) {
	var written bool

	err := st.db.Update(func(tx *bolt.Tx) error {
		var err error
		written, err = st.upsertMessageTx(tx, msg, false)

		return err
	})

	return written, err
}

// UpsertMessages applies UpsertMessage to each message in one transaction.
func (st *Store) UpsertMessages(msgs []models.Message) error {
	return st.db.Update(func(tx *bolt.Tx) error {
		for i := range msgs {
			if _, err := st.upsertMessageTx(tx, msgs[i], false); err != nil {
				return err
			}
		}

		return nil
	})
}

func (st *Store) upsertMessageTx(tx *bolt.Tx, msg models.Message, force bool) (bool, error) {
	if msg.ID == "" || msg.CID == "" {
		return false, fmt.Errorf("message requires id and cid")
	}

	nested, err := tx.Bucket(st.messageBucket).CreateBucketIfNotExists([]byte(msg.CID))
	if err != nil {
		return false, err
	}

	if !force {
		if v := nested.Get([]byte(msg.ID)); v != nil {
			var current models.Message
			if err := json.Unmarshal(v, &current); err != nil {
				return false, err
			}

			if !models.IsMessageNewer(&current, &msg) {
				return false, nil
			}
		}
	}

	if err := putJSON(nested, []byte(msg.ID), msg); err != nil {
		return false, err
	}

	if err := tx.Bucket(st.indexBucket).Put([]byte(msg.ID), []byte(msg.CID)); err != nil {
		return false, err
	}

	return true, nil
}

// GetMessage returns the message with id, or nil if not found.
func (st *Store) GetMessage(id string) (*models.Message, error) {
	var msg *models.Message

	err := st.db.View(func(tx *bolt.Tx) error {
		cid := tx.Bucket(st.indexBucket).Get([]byte(id))
		if cid == nil {
			return nil
		}

		nested := tx.Bucket(st.messageBucket).Bucket(cid)
		if nested == nil {
			return nil
		}

		v := nested.Get([]byte(id))
		if v == nil {
			return nil
		}

		msg = &models.Message{}

		return json.Unmarshal(v, msg)
	})

	return msg, err
}

// MessagesForChannel returns the stored messages of cid sorted by
// SortTime, oldest first.
func (st *Store) MessagesForChannel(cid string) ([]models.Message, error) {
	var out []models.Message

	err := st.db.View(func(tx *bolt.Tx) error {
		nested := tx.Bucket(st.messageBucket).Bucket([]byte(cid))
		if nested == nil {
			return nil
		}

		return nested.ForEach(func(_, v []byte) error {
			var m models.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}

			out = append(out, m)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortMessages(out)

	return out, nil
}

// MessagesBySyncStatus returns the messages in any of the given states
// across all channels, sorted by SortTime.
func (st *Store) MessagesBySyncStatus(statuses ...models.SyncStatus) ([]models.Message, error) {
	var out []models.Message

	err := st.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(st.messageBucket).ForEachBucket(func(cid []byte) error {
			nested := tx.Bucket(st.messageBucket).Bucket(cid)

			return nested.ForEach(func(_, v []byte) error {
				var m models.Message
				if err := json.Unmarshal(v, &m); err != nil {
					return err
				}

				if slices.Contains(statuses, m.SyncStatus) {
					out = append(out, m)
				}

				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}

	sortMessages(out)

	return out, nil
}

// DeleteMessage hard-deletes a message and its reactions.
func (st *Store) DeleteMessage(id string) error {
	return st.db.Update(func(tx *bolt.Tx) error {
		cid := tx.Bucket(st.indexBucket).Get([]byte(id))
		if cid == nil {
			return nil
		}

		if nested := tx.Bucket(st.messageBucket).Bucket(slices.Clone(cid)); nested != nil {
			if err := nested.Delete([]byte(id)); err != nil {
				return err
			}
		}

		return st.removeMessageRefsTx(tx, id)
	})
}

// DeleteMessagesBefore removes every message in cid created at or
// before at and returns how many were removed.
func (st *Store) DeleteMessagesBefore(cid string, at time.Time) (int, error) {
	removed := 0

	err := st.db.Update(func(tx *bolt.Tx) error {
		nested := tx.Bucket(st.messageBucket).Bucket([]byte(cid))
		if nested == nil {
			return nil
		}

		var ids []string

		if err := nested.ForEach(func(k, v []byte) error {
			var m models.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}

			if !m.SortTime().After(at) {
				ids = append(ids, string(k))
			}

			return nil
		}); err != nil {
			return err
		}

		for _, id := range ids {
			if err := nested.Delete([]byte(id)); err != nil {
				return err
			}

			if err := st.removeMessageRefsTx(tx, id); err != nil {
				return err
			}
		}

		removed = len(ids)

		return nil
	})

	return removed, err
}

// removeMessageRefsTx drops the index entry and reactions of a message.
func (st *Store) removeMessageRefsTx(tx *bolt.Tx, id string) error {
	if err := tx.Bucket(st.indexBucket).Delete([]byte(id)); err != nil {
		return err
	}

	prefix := []byte(id + "/")
	c := tx.Bucket(st.reactBucket).Cursor()

	var keys [][]byte
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, slices.Clone(k))
	}

	for _, k := range keys {
		if err := tx.Bucket(st.reactBucket).Delete(k); err != nil {
			return err
		}
	}

	return nil
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}

func sortMessages(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		ti, tj := msgs[i].SortTime(), msgs[j].SortTime()
		if ti.Equal(tj) {
			return msgs[i].ID < msgs[j].ID
		}

		return ti.Before(tj)
	})
}
