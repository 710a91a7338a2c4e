package upload

import (
	"mime"
	"path/filepath"
	"strings"
)

// Kind selects the upload endpoint for an attachment.
type Kind int

const (
	// KindFile goes to the file endpoint.
	KindFile Kind = iota

	// KindImage goes to the image endpoint and gets a thumbnail.
	KindImage
)

func (k Kind) String() string {
	if k == KindImage {
		return "image"
	}

	return "file"
}

// Classify picks the upload kind from the MIME type, falling back to the
// file extension when the MIME type is empty or generic.
func Classify(mimeType, name string) Kind {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))

	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	}

	if strings.HasPrefix(mimeType, "image/") {
		return KindImage
	}

	return KindFile
}

// detectMime returns mimeType, or the type implied by name when empty.
func detectMime(mimeType, name string) string {
	if mimeType != "" {
		return mimeType
	}

	return mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
}
