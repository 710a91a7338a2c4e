// Package lifecycle is the SyncStatus state machine shared by messages,
// channels and reactions. Next is a pure decision function: callers apply
// the returned status and perform any I/O themselves.
package lifecycle

import (
	"fmt"

	chaterrors "github.com/alexjbarnes/chat-sync/internal/errors"
	"github.com/alexjbarnes/chat-sync/internal/models"
	"github.com/alexjbarnes/chat-sync/internal/retry"
)

// InputKind names the event driving a transition.
type InputKind int

const (
	// LocalMutation is an optimistic local create, edit or delete.
	LocalMutation InputKind = iota

	// Submitted means a queued entity is being dispatched to the server.
	Submitted

	// Succeeded means the server acknowledged the entity.
	Succeeded

	// Failed means a remote call returned Err.
	Failed

	// AttachmentsUploaded means every attachment reached Success.
	AttachmentsUploaded

	// AttachmentsFailed means at least one attachment ended Failed.
	AttachmentsFailed

	// Resend is the user-initiated retry of a permanently failed entity.
	Resend

	// Cancelled means an in-flight job was cancelled before it finished.
	Cancelled
)

func (k InputKind) String() string {
	switch k {
	case LocalMutation:
		return "local_mutation"
	case Submitted:
		return "submitted"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case AttachmentsUploaded:
		return "attachments_uploaded"
	case AttachmentsFailed:
		return "attachments_failed"
	case Resend:
		return "resend"
	case Cancelled:
		return "cancelled"
	}

	return fmt.Sprintf("input(%d)", int(k))
}

// Input is one event fed to Next. Only the fields relevant to Kind are read.
type Input struct {
	Kind               InputKind
	Online             bool
	PendingAttachments bool
	Err                error
}

// Mutation builds a LocalMutation input.
func Mutation(online, pendingAttachments bool) Input {
	return Input{Kind: LocalMutation, Online: online, PendingAttachments: pendingAttachments}
}

// Failure builds a Failed input.
func Failure(err error) Input {
	return Input{Kind: Failed, Err: err}
}

// Uploaded builds an AttachmentsUploaded input.
func Uploaded(online bool) Input {
	return Input{Kind: AttachmentsUploaded, Online: online}
}

// Retry builds a Resend input.
func Retry(online, pendingAttachments bool) Input {
	return Input{Kind: Resend, Online: online, PendingAttachments: pendingAttachments}
}

// Next returns the status that follows current on input in. Disallowed
// transitions return current unchanged together with ErrInvalidTransition.
func Next(current models.SyncStatus, in Input) (models.SyncStatus, error) {
	switch in.Kind {
	case LocalMutation:
		// Step 1: a failed entity only leaves FAILED_PERMANENTLY through Resend.
		if current == models.SyncFailedPermanently {
			return current, invalid(current, in)
		}

		return target(in), nil

	case Submitted:
		switch current {
		case models.SyncNeeded, models.SyncAwaitingAttachments, models.SyncInProgress:
			return models.SyncInProgress, nil
		}

		return current, invalid(current, in)

	case Succeeded:
		switch current {
		case models.SyncInProgress, models.SyncNeeded, models.SyncCompleted:
			return models.SyncCompleted, nil
		}

		return current, invalid(current, in)

	case Failed:
		// Step 2: the error class picks the target. Local failures never
		// touch the status.
		switch retry.Classify(in.Err) {
		case retry.ClassTransient:
			if current == models.SyncFailedPermanently {
				return current, nil
			}

			return models.SyncNeeded, nil
		case retry.ClassPermanent:
			return models.SyncFailedPermanently, nil
		}

		return current, nil

	case AttachmentsUploaded:
		if current != models.SyncAwaitingAttachments {
			return current, invalid(current, in)
		}

		if in.Online {
			return models.SyncInProgress, nil
		}

		return models.SyncNeeded, nil

	case AttachmentsFailed:
		if current == models.SyncCompleted {
			return current, invalid(current, in)
		}

		return models.SyncFailedPermanently, nil

	case Resend:
		return target(in), nil

	case Cancelled:
		// Step 3: never leave an entity stuck in IN_PROGRESS.
		if current == models.SyncInProgress {
			return models.SyncNeeded, nil
		}

		return current, nil
	}

	return current, invalid(current, in)
}

// MustNext is Next for transitions the caller knows are allowed. On an
// invalid transition the current status is kept.
func MustNext(current models.SyncStatus, in Input) models.SyncStatus {
	next, _ := Next(current, in)
	return next
}

func target(in Input) models.SyncStatus {
	switch {
	case in.PendingAttachments:
		return models.SyncAwaitingAttachments
	case in.Online:
		return models.SyncInProgress
	default:
		return models.SyncNeeded
	}
}

func invalid(current models.SyncStatus, in Input) error {
	return fmt.Errorf("%w: %s on %s", chaterrors.ErrInvalidTransition, in.Kind, current)
}
