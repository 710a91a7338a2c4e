package models

import (
	"fmt"
	"strings"

	chaterrors "github.com/alexjbarnes/chat-sync/internal/errors"
)

// CID builds the composite channel identifier "{type}:{id}".
func CID(channelType, channelID string) string {
	return channelType + ":" + channelID
}

// SplitCID splits a cid into its type and id parts.
func SplitCID(cid string) (string, string, error) {
	typ, id, ok := strings.Cut(cid, ":")
	if !ok || typ == "" || id == "" {
		return "", "", fmt.Errorf("%w: %q", chaterrors.ErrInvalidCID, cid)
	}

	return typ, id, nil
}
