package state

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"
)

// QueryRecord is a persisted channel query: its filter and sort in wire
// form and the ordered cids it resolved to.
type QueryRecord struct {
	Key    string          `json:"key"`
	Filter json.RawMessage `json:"filter"`
	Sort   json.RawMessage `json:"sort,omitempty"`
	CIDs   []string        `json:"cids"`
	Cursor int             `json:"cursor"`
}

// SaveQuery upserts a query record.
func (st *Store) SaveQuery(q QueryRecord) error {
	return st.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(st.queryBucket), []byte(q.Key), q)
	})
}

// GetQuery returns the query record with key, or nil if not found.
func (st *Store) GetQuery(key string) (*QueryRecord, error) {
	var q *QueryRecord

	err := st.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(st.queryBucket).Get([]byte(key))
		if v == nil {
			return nil
		}

		q = &QueryRecord{}

		return json.Unmarshal(v, q)
	})

	return q, err
}

// AllQueries returns every stored query record.
func (st *Store) AllQueries() ([]QueryRecord, error) {
	var out []QueryRecord

	err := st.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(st.queryBucket).ForEach(func(_, v []byte) error {
			var q QueryRecord
			if err := json.Unmarshal(v, &q); err != nil {
				return err
			}

			out = append(out, q)

			return nil
		})
	})

	return out, err
}
