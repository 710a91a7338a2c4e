// Package upload sends a message's local attachments to the CDN before
// the message itself is submitted. Uploads run off the controller queues
// and report progress back through the channel's controller.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/ratelimit"
	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/chat-sync/internal/channelstate"
	chaterrors "github.com/alexjbarnes/chat-sync/internal/errors"
	"github.com/alexjbarnes/chat-sync/internal/lifecycle"
	"github.com/alexjbarnes/chat-sync/internal/logging"
	"github.com/alexjbarnes/chat-sync/internal/metrics"
	"github.com/alexjbarnes/chat-sync/internal/models"
	"github.com/alexjbarnes/chat-sync/internal/transport"
)

const (
	defaultConcurrency     = 3
	defaultThumbnailMaxDim = 320
)

//go:generate mockgen -source=worker.go -destination=mock_worker_test.go -package=upload

// Uploader sends one file to the CDN.
type Uploader interface {
	UploadImage(ctx context.Context, channelType, channelID string, up transport.Upload, progress transport.ProgressFunc) (transport.UploadResult, error)
	UploadFile(ctx context.Context, channelType, channelID string, up transport.Upload, progress transport.ProgressFunc) (transport.UploadResult, error)
}

// Submitter sends a message whose attachments are all uploaded.
type Submitter interface {
	SubmitMessage(ctx context.Context, msg models.Message) (models.Message, error)
}

// MessageStore is the persistence the worker reads and writes.
type MessageStore interface {
	GetMessage(id string) (*models.Message, error)
	PutMessage(msg models.Message) error
}

// Controllers looks up the active controller of a channel.
type Controllers interface {
	Get(cid string) (*channelstate.Controller, bool)
}

// Options tune the worker. Zero values select defaults.
type Options struct {
	Concurrency     int
	RatePerSecond   int
	ThumbnailMaxDim uint

	// Online reports whether the event stream is connected.
	Online func() bool

	// ReadFile loads an attachment's local file.
	ReadFile func(path string) ([]byte, error)

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Result summarises one Run.
type Result struct {
	Message  models.Message
	Uploaded int
	Failed   int
}

// Worker uploads the pending attachments of a message. Runs are
// cancelled through their context; the Scheduler owns that context.
type Worker struct {
	uploader    Uploader
	submitter   Submitter
	store       MessageStore
	controllers Controllers
	opts        Options
	limiter     ratelimit.Limiter
	logger      *slog.Logger
}

// NewWorker creates a worker.
func NewWorker(uploader Uploader, submitter Submitter, store MessageStore, controllers Controllers, opts Options) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	if opts.ThumbnailMaxDim == 0 {
		opts.ThumbnailMaxDim = defaultThumbnailMaxDim
	}

	if opts.Online == nil {
		opts.Online = func() bool { return true }
	}

	if opts.ReadFile == nil {
		opts.ReadFile = os.ReadFile
	}

	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	limiter := ratelimit.NewUnlimited()
	if opts.RatePerSecond > 0 {
		limiter = ratelimit.New(opts.RatePerSecond, ratelimit.WithoutSlack)
	}

	return &Worker{
		uploader:    uploader,
		submitter:   submitter,
		store:       store,
		controllers: controllers,
		opts:        opts,
		limiter:     limiter,
		logger:      logging.Component(opts.Logger, "upload"),
	}
}

// Run uploads every attachment of the message that still needs it and,
// when all succeeded, hands the message to the submitter.
//
// Attachments fail independently. When any ended Failed the message
// becomes FAILED_PERMANENTLY and ErrAttachmentsFailed is returned. A
// cancelled run puts in-flight attachments back to Idle and the message
// back to AWAITING_ATTACHMENTS, and returns ErrUploadCancelled.
func (w *Worker) Run(ctx context.Context, channelType, channelID, messageID string) (Result, error) {
	cid := models.CID(channelType, channelID)

	msg, err := w.load(cid, messageID)
	if err != nil {
		return Result{}, err
	}

	var pending []int

	for i := range msg.Attachments {
		if msg.Attachments[i].NeedsUpload() {
			pending = append(pending, i)
		}
	}

	if len(pending) == 0 && msg.SyncStatus != models.SyncAwaitingAttachments {
		return Result{Message: msg}, chaterrors.ErrNothingToUpload
	}

	w.logger.Debug("uploading attachments",
		slog.String("message_id", messageID),
		slog.Int("pending", len(pending)),
	)

	var (
		resMu sync.Mutex
		res   = Result{}
	)

	g := new(errgroup.Group)
	g.SetLimit(w.opts.Concurrency)

	for _, idx := range pending {
		att := msg.Attachments[idx].Clone()

		g.Go(func() error {
			w.limiter.Take()

			done := w.uploadOne(ctx, channelType, channelID, cid, messageID, idx, att)

			resMu.Lock()
			msg.Attachments[idx] = done

			switch done.UploadState.Kind {
			case models.UploadSuccess:
				res.Uploaded++
			case models.UploadFailed:
				res.Failed++
			}
			resMu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	if ctx.Err() != nil {
		return w.cancelled(cid, msg)
	}

	if msg.HasFailedAttachments() {
		msg.SyncStatus = lifecycle.MustNext(msg.SyncStatus, lifecycle.Input{Kind: lifecycle.AttachmentsFailed})
		w.save(cid, msg)

		res.Message = msg

		w.logger.Warn("attachment upload failed",
			slog.String("message_id", messageID),
			slog.Int("failed", res.Failed),
		)

		return res, chaterrors.ErrAttachmentsFailed
	}

	msg.SyncStatus = lifecycle.MustNext(msg.SyncStatus, lifecycle.Uploaded(w.opts.Online()))
	w.save(cid, msg)

	sent, err := w.submitter.SubmitMessage(ctx, msg)
	if err != nil {
		res.Message = msg
		return res, fmt.Errorf("submitting message %s: %w", messageID, err)
	}

	res.Message = sent

	return res, nil
}

// load prefers the controller's copy, which carries the latest local
// edits, and falls back to the store.
func (w *Worker) load(cid, messageID string) (models.Message, error) {
	if c, ok := w.controllers.Get(cid); ok {
		if m, found := c.Message(messageID); found {
			return m, nil
		}
	}

	stored, err := w.store.GetMessage(messageID)
	if err != nil {
		return models.Message{}, fmt.Errorf("loading message %s: %w", messageID, err)
	}

	if stored == nil {
		return models.Message{}, fmt.Errorf("%w: %s", chaterrors.ErrMessageNotFound, messageID)
	}

	return *stored, nil
}

// uploadOne uploads attachment idx and returns it in its final state.
// On cancellation the attachment is returned Idle.
func (w *Worker) uploadOne(ctx context.Context, channelType, channelID, cid, messageID string, idx int, att models.Attachment) models.Attachment {
	kind := Classify(att.MimeType, att.Name)

	if ctx.Err() != nil {
		att.UploadState = models.Idle()
		return att
	}

	data, err := w.opts.ReadFile(att.LocalPath)
	if err != nil {
		att.UploadState = models.Failed(err)
		w.opts.Metrics.Upload(kind.String(), metrics.OutcomeFailed)
		w.report(cid, messageID, idx, att)

		return att
	}

	att.FileSize = int64(len(data))
	att.MimeType = detectMime(att.MimeType, att.Name)

	if att.Name == "" {
		att.Name = filepath.Base(att.LocalPath)
	}

	att.UploadState = models.InProgress(0, att.FileSize)
	w.report(cid, messageID, idx, att)

	up := transport.Upload{Name: att.Name, MimeType: att.MimeType, Content: bytes.NewReader(data)}

	if kind == KindImage {
		thumb, err := Thumbnail(data, w.opts.ThumbnailMaxDim)
		if err != nil {
			w.logger.Debug("no thumbnail", slog.String("name", att.Name), slog.String("error", err.Error()))
		} else {
			up.Thumbnail = thumb
		}
	}

	progress := func(sent, total int64) {
		p := att
		p.UploadState = models.InProgress(sent, total)
		w.report(cid, messageID, idx, p)
	}

	var result transport.UploadResult
	if kind == KindImage {
		result, err = w.uploader.UploadImage(ctx, channelType, channelID, up, progress)
	} else {
		result, err = w.uploader.UploadFile(ctx, channelType, channelID, up, progress)
	}

	switch {
	case err != nil && ctx.Err() != nil:
		att.UploadState = models.Idle()
		w.opts.Metrics.Upload(kind.String(), metrics.OutcomeCancelled)

	case err != nil:
		att.UploadState = models.Failed(err)
		w.opts.Metrics.Upload(kind.String(), metrics.OutcomeFailed)

	default:
		if kind == KindImage {
			att.ImageURL = result.File
			if att.Type == "" {
				att.Type = "image"
			}
		} else {
			att.AssetURL = result.File
			if att.Type == "" {
				att.Type = "file"
			}
		}

		if result.ThumbURL != "" {
			att.ThumbURL = result.ThumbURL
		}

		if !att.SetUploadState(models.Success()) {
			att.UploadState = models.Failed(errors.New("upload returned no URL"))
			w.opts.Metrics.Upload(kind.String(), metrics.OutcomeFailed)
		} else {
			w.opts.Metrics.Upload(kind.String(), metrics.OutcomeSuccess)
		}
	}

	w.report(cid, messageID, idx, att)

	return att
}

// report mirrors an attachment change into the controller, if active.
func (w *Worker) report(cid, messageID string, idx int, att models.Attachment) {
	if c, ok := w.controllers.Get(cid); ok {
		c.UpdateAttachment(messageID, idx, att)
	}
}

func (w *Worker) cancelled(cid string, msg models.Message) (Result, error) {
	for i := range msg.Attachments {
		if msg.Attachments[i].UploadState.Kind == models.UploadInProgress {
			msg.Attachments[i].UploadState = models.Idle()
		}
	}

	msg.SyncStatus = models.SyncAwaitingAttachments
	w.save(cid, msg)

	w.logger.Info("attachment upload cancelled", slog.String("message_id", msg.ID))

	return Result{Message: msg}, chaterrors.ErrUploadCancelled
}

// save persists msg and folds it into the controller.
func (w *Worker) save(cid string, msg models.Message) {
	if err := w.store.PutMessage(msg); err != nil {
		w.logger.Warn("persisting message failed",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
	}

	if c, ok := w.controllers.Get(cid); ok {
		c.PutMessage(msg)
	}
}
