// Package state persists the local chat mirror in a bbolt database.
// All chat data is partitioned per user: a Store returned by State.User
// only sees the buckets of that user.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.chat-sync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket      = []byte("app")
	currentUserKey = []byte("current_user")
	syncStateKey   = []byte("sync")
)

func userBucket(userID, name string) []byte {
	return []byte("user:" + userID + ":" + name)
}

// SyncState is the per-user sync cursor.
type SyncState struct {
	LastSyncedAt time.Time `json:"last_synced_at,omitzero"`
	ConnectionID string    `json:"connection_id,omitempty"`
}

// State wraps a bbolt database for all persistent application state.
type State struct {
	db *bolt.DB
}

// Load opens the state database at ~/.chat-sync/state.db, creating it
// if it does not exist.
func Load() (*State, error) {
	return LoadAt(DefaultPath())
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(appBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// CurrentUser returns the id of the last logged-in user, or empty string.
func (s *State) CurrentUser() string {
	var uid string

	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(appBucket).Get(currentUserKey); v != nil {
			uid = string(v)
		}

		return nil
	})

	return uid
}

// SetCurrentUser records the logged-in user. Empty clears it.
func (s *State) SetCurrentUser(userID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(appBucket)
		if userID == "" {
			return b.Delete(currentUserKey)
		}

		return b.Put(currentUserKey, []byte(userID))
	})
}

// User returns the store scoped to userID, creating its buckets.
func (s *State) User(userID string) (*Store, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	st := &Store{
		db:            s.db,
		userID:        userID,
		metaBucket:    userBucket(userID, "meta"),
		channelBucket: userBucket(userID, "channels"),
		messageBucket: userBucket(userID, "messages"),
		indexBucket:   userBucket(userID, "message_index"),
		reactBucket:   userBucket(userID, "reactions"),
		queryBucket:   userBucket(userID, "queries"),
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			st.metaBucket, st.channelBucket, st.messageBucket,
			st.indexBucket, st.reactBucket, st.queryBucket,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("initializing buckets for user %s: %w", userID, err)
	}

	return st, nil
}

// Store is the persistence view of one user's chat data.
type Store struct {
	db     *bolt.DB
	userID string

	metaBucket    []byte
	channelBucket []byte
	messageBucket []byte
	indexBucket   []byte
	reactBucket   []byte
	queryBucket   []byte
}

// UserID returns the owner of this store.
func (st *Store) UserID() string { return st.userID }

// SyncState returns the sync cursor, zero if never set.
func (st *Store) SyncState() (SyncState, error) {
	var ss SyncState

	err := st.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(st.metaBucket).Get(syncStateKey)
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &ss)
	})

	return ss, err
}

// SetSyncState updates the sync cursor.
func (st *Store) SetSyncState(ss SyncState) error {
	return st.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(st.metaBucket), syncStateKey, ss)
	})
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return b.Put(key, data)
}

// DefaultPath returns ~/.chat-sync/state.db.
func DefaultPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		// Fail loudly rather than silently writing to the current directory
		// where the database (containing message history) might end up with
		// wrong permissions or inside a source-controlled tree.
		fmt.Fprintf(os.Stderr, "fatal: cannot determine home directory: %v\n", err)
		os.Exit(1)
	}

	return filepath.Join(dir, ".chat-sync", "state.db")
}
