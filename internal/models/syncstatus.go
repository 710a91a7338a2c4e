package models

import (
	"encoding/json"
	"fmt"
)

// SyncStatus tags an entity that can be mutated offline with whether the
// server has acknowledged its latest local state.
type SyncStatus int

const (
	// SyncCompleted means the entity matches the server.
	SyncCompleted SyncStatus = iota

	// SyncInProgress means a request for the entity is in flight.
	SyncInProgress

	// SyncNeeded means the entity has local changes that still need to be
	// sent. Retried automatically on reconnect.
	SyncNeeded

	// SyncAwaitingAttachments means the entity is waiting for its
	// attachment uploads to finish before it can be submitted.
	SyncAwaitingAttachments

	// SyncFailedPermanently is terminal. Only a user-initiated resend
	// leaves this state.
	SyncFailedPermanently
)

var syncStatusNames = map[SyncStatus]string{
	SyncCompleted:           "completed",
	SyncInProgress:          "in_progress",
	SyncNeeded:              "sync_needed",
	SyncAwaitingAttachments: "awaiting_attachments",
	SyncFailedPermanently:   "failed_permanently",
}

func (s SyncStatus) String() string {
	if name, ok := syncStatusNames[s]; ok {
		return name
	}

	return fmt.Sprintf("sync_status(%d)", int(s))
}

// Pending reports whether the entity still carries local changes the
// server has not acknowledged, including permanently failed ones.
func (s SyncStatus) Pending() bool {
	return s != SyncCompleted
}

// MarshalJSON encodes the status by name so persisted records stay
// readable and survive reordering of the constants.
func (s SyncStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the name form. Unknown names decode as completed.
func (s *SyncStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("decoding sync status: %w", err)
	}

	for status, n := range syncStatusNames {
		if n == name {
			*s = status
			return nil
		}
	}

	*s = SyncCompleted

	return nil
}
