package errors

import "errors"

// Local errors. Returned to the caller, never change a SyncStatus.
var (
	ErrInvalidCID      = errors.New("invalid channel cid")
	ErrMessageNotFound = errors.New("message not found")
	ErrChannelNotFound = errors.New("channel not found")
	ErrInvalidReaction = errors.New("invalid reaction type")
	ErrInvalidFilter   = errors.New("invalid channel filter")
)

// State machine errors.
var (
	ErrInvalidTransition = errors.New("invalid sync status transition")
)

// Session errors.
var (
	ErrNotLoggedIn      = errors.New("no active session")
	ErrSessionClosed    = errors.New("session closed")
	ErrControllerClosed = errors.New("channel controller closed")
	ErrOffline          = errors.New("not connected")
	ErrEditSuperseded   = errors.New("edit superseded by a newer edit")
)

// Upload errors.
var (
	ErrAttachmentsFailed = errors.New("one or more attachments failed to upload")
	ErrUploadCancelled   = errors.New("attachment upload cancelled")
	ErrNothingToUpload   = errors.New("message has no pending attachments")
)

// Server/transport errors.
var (
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")
)
