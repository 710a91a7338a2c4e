// Package auth guards the ops HTTP server with static API keys. Keys are
// configured through MCP_API_KEYS and held in memory by their hash.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sync"
)

const (
	// APIKeyPrefix marks chat-sync API keys.
	APIKeyPrefix = "cs_"

	// APIKeyMinLen is the prefix plus 32 hex characters.
	APIKeyMinLen = len(APIKeyPrefix) + 32
)

// APIKey is one configured key and the user it authenticates.
type APIKey struct {
	UserID string
	Key    string
}

// Store holds the configured API keys.
type Store struct {
	mu   sync.RWMutex
	keys map[string]string // key hash -> user id
}

// NewStore creates a store holding keys.
func NewStore(keys []APIKey) *Store {
	s := &Store{keys: make(map[string]string, len(keys))}

	for _, k := range keys {
		s.Add(k)
	}

	return s
}

// Add registers a key, replacing any earlier entry for the same key.
func (s *Store) Add(k APIKey) {
	s.mu.Lock()
	s.keys[HashKey(k.Key)] = k.UserID
	s.mu.Unlock()
}

// Len returns the number of configured keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.keys)
}

// Validate returns the user a key belongs to.
func (s *Store) Validate(key string) (string, bool) {
	if len(key) < APIKeyMinLen {
		return "", false
	}

	want := HashKey(key)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for h, userID := range s.keys {
		if subtle.ConstantTimeCompare([]byte(h), []byte(want)) == 1 {
			return userID, true
		}
	}

	return "", false
}

// HashKey returns the hex SHA-256 of key.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// GenerateKey returns a fresh random API key.
func GenerateKey() string {
	return APIKeyPrefix + RandomHex(16)
}

// RandomHex generates a cryptographically random hex string of the given byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}
