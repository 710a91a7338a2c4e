package state

import (
	"encoding/json"
	"fmt"
	"slices"

	bolt "go.etcd.io/bbolt"

	"github.com/alexjbarnes/chat-sync/internal/models"
)

// UpsertChannel persists channel metadata. Any messages carried on the
// channel are upserted separately under the newer-than rule.
func (st *Store) UpsertChannel(ch models.Channel) error {
	ch.EnsureCID()
	if ch.CID == "" {
		return fmt.Errorf("channel without cid")
	}

	msgs := ch.Messages
	ch.Messages = nil

	return st.db.Update(func(tx *bolt.Tx) error {
		if err := putJSON(tx.Bucket(st.channelBucket), []byte(ch.CID), ch); err != nil {
			return err
		}

		for i := range msgs {
			msgs[i].CID = ch.CID
			if _, err := st.upsertMessageTx(tx, msgs[i], false); err != nil {
				return err
			}
		}

		return nil
	})
}

// GetChannel returns the channel for cid, or nil if not found.
func (st *Store) GetChannel(cid string) (*models.Channel, error) {
	var ch *models.Channel

	err := st.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(st.channelBucket).Get([]byte(cid))
		if v == nil {
			return nil
		}

		ch = &models.Channel{}

		return json.Unmarshal(v, ch)
	})

	return ch, err
}

// GetChannels returns the stored channels among cids, in cids order.
// Missing cids are skipped.
func (st *Store) GetChannels(cids []string) ([]models.Channel, error) {
	out := make([]models.Channel, 0, len(cids))

	err := st.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(st.channelBucket)

		for _, cid := range cids {
			v := b.Get([]byte(cid))
			if v == nil {
				continue
			}

			var ch models.Channel
			if err := json.Unmarshal(v, &ch); err != nil {
				return err
			}

			out = append(out, ch)
		}

		return nil
	})

	return out, err
}

// AllChannels returns every stored channel ordered by cid.
func (st *Store) AllChannels() ([]models.Channel, error) {
	return st.channelsWhere(func(*models.Channel) bool { return true })
}

// ChannelsBySyncStatus returns the channels in any of the given states.
func (st *Store) ChannelsBySyncStatus(statuses ...models.SyncStatus) ([]models.Channel, error) {
	return st.channelsWhere(func(ch *models.Channel) bool {
		return slices.Contains(statuses, ch.SyncStatus)
	})
}

func (st *Store) channelsWhere(keep func(*models.Channel) bool) ([]models.Channel, error) {
	var out []models.Channel

	err := st.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(st.channelBucket).ForEach(func(_, v []byte) error {
			var ch models.Channel
			if err := json.Unmarshal(v, &ch); err != nil {
				return err
			}

			if keep(&ch) {
				out = append(out, ch)
			}

			return nil
		})
	})

	return out, err
}

// DeleteChannel removes the channel, its messages and their reactions.
func (st *Store) DeleteChannel(cid string) error {
	return st.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(st.channelBucket).Delete([]byte(cid)); err != nil {
			return err
		}

		msgs := tx.Bucket(st.messageBucket)

		nested := msgs.Bucket([]byte(cid))
		if nested == nil {
			return nil
		}

		var ids [][]byte

		if err := nested.ForEach(func(k, _ []byte) error {
			ids = append(ids, slices.Clone(k))
			return nil
		}); err != nil {
			return err
		}

		for _, id := range ids {
			if err := st.removeMessageRefsTx(tx, string(id)); err != nil {
				return err
			}
		}

		return msgs.DeleteBucket([]byte(cid))
	})
}
