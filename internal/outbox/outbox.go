// Package outbox sends files dropped into a folder as attachment
// messages. A file placed in <dir>/<channel type>/<channel id>/ joins the
// next message to that channel once the folder has been quiet for a
// while. Sent files move to <dir>/.sent/<message id>/, where the upload
// worker reads them.
package outbox

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/alexjbarnes/chat-sync/internal/logging"
	"github.com/alexjbarnes/chat-sync/internal/models"
	"github.com/alexjbarnes/chat-sync/internal/upload"
)

const (
	dirPerm = fs.FileMode(0o755)

	// debounceInterval is how often pending channel folders are checked.
	debounceInterval = 500 * time.Millisecond

	defaultQuietPeriod = 2 * time.Second

	sentDir = ".sent"

	// textFile holds the message text instead of being attached.
	textFile = "message.txt"
)

//go:generate mockgen -source=outbox.go -destination=mock_sender_test.go -package=outbox

// Sender sends one message. *syncmanager.Manager satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, cid string, msg models.Message) (models.Message, error)
}

// Options configure a watcher. Zero values select defaults.
type Options struct {
	// QuietPeriod is how long a channel folder must see no writes before
	// its files are sent.
	QuietPeriod time.Duration

	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger
}

// Watcher watches the outbox folder.
type Watcher struct {
	dir    string
	sender Sender
	opts   Options
	logger *slog.Logger
	remove func(string) error
}

// New creates a watcher for dir. Nothing is watched until Watch.
func New(dir string, sender Sender, opts Options) *Watcher {
	if opts.QuietPeriod <= 0 {
		opts.QuietPeriod = defaultQuietPeriod
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	return &Watcher{
		dir:    dir,
		sender: sender,
		opts:   opts,
		logger: logging.Component(opts.Logger, "outbox"),
		remove: os.Remove,
	}
}

// Watch blocks until ctx is cancelled. Files already waiting in the
// outbox are sent after the first quiet period.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(filepath.Join(w.dir, sentDir), dirPerm); err != nil {
		return fmt.Errorf("creating outbox dir: %w", err)
	}

	pending := make(map[string]time.Time)

	if err := w.addRecursive(watcher, w.dir, pending); err != nil {
		return fmt.Errorf("watching outbox dir: %w", err)
	}

	w.logger.Info("outbox watcher started", slog.String("dir", w.dir))

	ticker := time.NewTicker(debounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			w.handleEvent(watcher, event, pending)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			now := w.opts.Now()

			for channelDir, t := range pending {
				if now.Sub(t) < w.opts.QuietPeriod {
					continue
				}

				delete(pending, channelDir)

				if _, err := w.Flush(ctx, channelDir); err != nil {
					w.logger.Warn("sending outbox folder",
						slog.String("dir", channelDir),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

func (w *Watcher) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event, pending map[string]time.Time) {
	if ignored(filepath.Base(event.Name)) {
		return
	}

	depth := w.depth(event.Name)

	if event.Has(fsnotify.Create) {
		info, err := os.Lstat(event.Name)
		if err == nil && info.IsDir() && info.Mode()&os.ModeSymlink == 0 && depth <= 2 {
			if err := w.addRecursive(watcher, event.Name, pending); err != nil {
				w.logger.Warn("watching new folder", slog.String("dir", event.Name), slog.String("error", err.Error()))
			}

			return
		}
	}

	if depth != 3 {
		return
	}

	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
		pending[filepath.Dir(event.Name)] = w.opts.Now()
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		_ = watcher.Remove(event.Name)
	}
}

// addRecursive watches root and the channel folders below it. Files
// found on the way are marked pending.
func (w *Watcher) addRecursive(watcher *fsnotify.Watcher, root string, pending map[string]time.Time) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path != w.dir && ignored(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		depth := w.depth(path)

		if !d.IsDir() {
			if depth == 3 {
				pending[filepath.Dir(path)] = w.opts.Now()
			}

			return nil
		}

		if depth > 2 {
			return filepath.SkipDir
		}

		return watcher.Add(path)
	})
}

// depth is the number of path elements of path below the outbox root.
func (w *Watcher) depth(path string) int {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil || rel == "." {
		return 0
	}

	return len(strings.Split(filepath.ToSlash(rel), "/"))
}

// Flush sends the files in channelDir as one message and returns it. An
// empty folder sends nothing.
func (w *Watcher) Flush(ctx context.Context, channelDir string) (models.Message, error) {
	cid, err := w.channelOf(channelDir)
	if err != nil {
		return models.Message{}, err
	}

	entries, err := os.ReadDir(channelDir)
	if err != nil {
		return models.Message{}, fmt.Errorf("reading %s: %w", channelDir, err)
	}

	var names []string

	for _, e := range entries {
		if e.Type().IsRegular() && !ignored(e.Name()) {
			names = append(names, e.Name())
		}
	}

	if len(names) == 0 {
		return models.Message{}, nil
	}

	sort.Strings(names)

	msg := models.Message{ID: w.opts.NewID()}
	dest := filepath.Join(w.dir, sentDir, msg.ID)

	if err := os.MkdirAll(dest, dirPerm); err != nil {
		return models.Message{}, fmt.Errorf("creating %s: %w", dest, err)
	}

	for _, name := range names {
		src := filepath.Join(channelDir, name)

		if name == textFile {
			text, err := os.ReadFile(src)
			if err != nil {
				return models.Message{}, fmt.Errorf("reading message text: %w", err)
			}

			msg.Text = strings.TrimSpace(string(text))

			if err := w.remove(src); err != nil {
				w.logger.Warn("removing message text",
					slog.String("path", src),
					slog.String("error", err.Error()),
				)
			}

			continue
		}

		info, err := os.Stat(src)
		if err != nil {
			return models.Message{}, fmt.Errorf("stat %s: %w", src, err)
		}

		target := filepath.Join(dest, name)
		if err := os.Rename(src, target); err != nil {
			return models.Message{}, fmt.Errorf("moving %s: %w", name, err)
		}

		mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))

		msg.Attachments = append(msg.Attachments, models.Attachment{
			Type:      upload.Classify(mimeType, name).String(),
			Name:      name,
			Title:     name,
			MimeType:  mimeType,
			FileSize:  info.Size(),
			LocalPath: target,
		})
	}

	sent, err := w.sender.SendMessage(ctx, cid, msg)
	if err != nil {
		return sent, fmt.Errorf("sending to %s: %w", cid, err)
	}

	w.logger.Info("outbox message queued",
		slog.String("cid", cid),
		slog.String("message_id", sent.ID),
		slog.Int("attachments", len(msg.Attachments)),
		slog.String("status", sent.SyncStatus.String()),
	)

	return sent, nil
}

func (w *Watcher) channelOf(channelDir string) (string, error) {
	rel, err := filepath.Rel(w.dir, channelDir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", channelDir, err)
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return "", fmt.Errorf("%s is not a <type>/<id> folder", rel)
	}

	cid := parts[0] + ":" + parts[1]
	if _, _, err := models.SplitCID(cid); err != nil {
		return "", err
	}

	return cid, nil
}

// ignored reports hidden and editor temp files.
func ignored(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") ||
		strings.HasSuffix(name, ".part")
}
