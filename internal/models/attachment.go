package models

// UploadKind is the tag of an UploadState.
type UploadKind int

const (
	UploadIdle UploadKind = iota
	UploadInProgress
	UploadSuccess
	UploadFailed
)

func (k UploadKind) String() string {
	switch k {
	case UploadIdle:
		return "idle"
	case UploadInProgress:
		return "in_progress"
	case UploadSuccess:
		return "success"
	case UploadFailed:
		return "failed"
	}

	return "unknown"
}

// UploadState tracks one attachment's upload. BytesSent and TotalBytes
// are meaningful for InProgress, Error for Failed.
type UploadState struct {
	Kind       UploadKind `json:"kind"`
	BytesSent  int64      `json:"bytes_sent,omitempty"`
	TotalBytes int64      `json:"total_bytes,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Idle returns the initial upload state.
func Idle() UploadState { return UploadState{Kind: UploadIdle} }

// InProgress returns a progress state.
func InProgress(sent, total int64) UploadState {
	return UploadState{Kind: UploadInProgress, BytesSent: sent, TotalBytes: total}
}

// Success returns the terminal success state.
func Success() UploadState { return UploadState{Kind: UploadSuccess} }

// Failed returns a failure state carrying the error text.
func Failed(err error) UploadState {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	return UploadState{Kind: UploadFailed, Error: msg}
}

// Attachment is a file or media item on a message. An attachment carries
// either a local upload reference (LocalPath) or remote URLs.
type Attachment struct {
	Type        string         `json:"type,omitempty"`
	Name        string         `json:"name,omitempty"`
	Title       string         `json:"title,omitempty"`
	MimeType    string         `json:"mime_type,omitempty"`
	FileSize    int64          `json:"file_size,omitempty"`
	LocalPath   string         `json:"local_path,omitempty"`
	ImageURL    string         `json:"image_url,omitempty"`
	AssetURL    string         `json:"asset_url,omitempty"`
	ThumbURL    string         `json:"thumb_url,omitempty"`
	UploadState UploadState    `json:"upload_state"`
	ExtraData   map[string]any `json:"extra_data,omitempty"`
}

// URL returns the primary remote URL: the image URL for images, the
// asset URL otherwise.
func (a *Attachment) URL() string {
	if a.ImageURL != "" {
		return a.ImageURL
	}

	return a.AssetURL
}

// Uploaded reports whether the attachment reached Success.
func (a *Attachment) Uploaded() bool {
	return a.UploadState.Kind == UploadSuccess
}

// NeedsUpload reports whether the attachment still has to be uploaded:
// it has a local file and has not succeeded. Attachments without a
// local file (links, giphy) never need uploading.
func (a *Attachment) NeedsUpload() bool {
	return a.LocalPath != "" && a.UploadState.Kind != UploadSuccess
}

// SetUploadState applies next unless it would break the attachment
// invariants: a successful upload never goes back to InProgress, and
// Success requires a remote URL. Returns false when next was rejected.
func (a *Attachment) SetUploadState(next UploadState) bool {
	if a.UploadState.Kind == UploadSuccess && next.Kind == UploadInProgress {
		return false
	}

	if next.Kind == UploadSuccess && a.URL() == "" {
		return false
	}

	a.UploadState = next

	return true
}

// Clone returns a deep copy.
func (a Attachment) Clone() Attachment {
	a.ExtraData = cloneExtra(a.ExtraData)
	return a
}

// SameExceptURLs reports whether a and b are equal in every field other
// than the remote URLs and the upload state.
func (a *Attachment) SameExceptURLs(b *Attachment) bool {
	return a.Type == b.Type &&
		a.Name == b.Name &&
		a.Title == b.Title &&
		a.MimeType == b.MimeType &&
		a.FileSize == b.FileSize &&
		a.LocalPath == b.LocalPath &&
		extraEqual(a.ExtraData, b.ExtraData)
}

// SameURLs reports whether a and b carry identical remote URLs.
func (a *Attachment) SameURLs(b *Attachment) bool {
	return a.ImageURL == b.ImageURL && a.AssetURL == b.AssetURL && a.ThumbURL == b.ThumbURL
}
