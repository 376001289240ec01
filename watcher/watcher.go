// Package watcher is the drop-directory trigger adapter: normalized batch
// files landing in the inbox directory are handed to the batch processor.
// Upstream transport (email fetch, spreadsheet extraction) writes the
// files; this package only reacts to them.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/segurotech/emisor/errors"
	"github.com/segurotech/emisor/logger"
)

// Processor consumes one dropped batch file.
type Processor interface {
	ProcessBatchFile(ctx context.Context, path string) error
}

// InboxWatcher watches the inbox directory and processes each new batch
// file once. Writers are expected to move or rename complete files into
// the inbox; a short settle delay covers direct writes.
type InboxWatcher struct {
	dir       string
	processor Processor
	log       *zap.SugaredLogger

	settleDelay time.Duration

	mu        sync.Mutex
	processed map[string]struct{}
	watcher   *fsnotify.Watcher
	wg        sync.WaitGroup
}

// New creates a watcher over the inbox directory.
func New(dir string, processor Processor, log *zap.SugaredLogger) (*InboxWatcher, error) {
	if log == nil {
		log = logger.Logger
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create inbox directory %s", dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "failed to watch inbox directory %s", dir)
	}

	return &InboxWatcher{
		dir:         dir,
		processor:   processor,
		log:         log,
		settleDelay: 500 * time.Millisecond,
		processed:   make(map[string]struct{}),
		watcher:     fsw,
	}, nil
}

// Start drains files already sitting in the inbox, then watches for new
// ones until the context is cancelled.
func (w *InboxWatcher) Start(ctx context.Context) error {
	if err := w.drainExisting(ctx); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.watchLoop(ctx)

	w.log.Infow("inbox watcher started", "dir", w.dir)
	return nil
}

// Stop closes the watcher and waits for the loop to exit.
func (w *InboxWatcher) Stop() error {
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *InboxWatcher) drainExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return errors.Wrapf(err, "failed to read inbox directory %s", w.dir)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isBatchFile(entry.Name()) {
			continue
		}
		w.process(ctx, filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

func (w *InboxWatcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !isBatchFile(event.Name) {
				continue
			}

			// Let the writer finish before reading
			time.Sleep(w.settleDelay)
			w.process(ctx, event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warnw("inbox watcher error", logger.FieldError, err)
		}
	}
}

// process hands one file to the processor, at most once per path.
func (w *InboxWatcher) process(ctx context.Context, path string) {
	w.mu.Lock()
	if _, done := w.processed[path]; done {
		w.mu.Unlock()
		return
	}
	w.processed[path] = struct{}{}
	w.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		// Gone before we got to it (partial write moved away, cleanup)
		w.forget(path)
		return
	}

	w.log.Infow("processing dropped batch file", "file", path)
	if err := w.processor.ProcessBatchFile(ctx, path); err != nil {
		w.log.Errorw("failed to process batch file",
			"file", path,
			logger.FieldError, err,
		)
		// Move it aside too: a failed file left claimed in the inbox would
		// block a corrected re-drop under the same name forever
		w.archive(path, "failed")
		return
	}

	w.archive(path, "processed")
}

// archive moves a consumed file out of the inbox and releases its claim so
// re-drops with the same name work. On move failure the claim is kept; a
// file stuck in the inbox must not be reprocessed in a loop.
func (w *InboxWatcher) archive(path, subdir string) {
	dest := filepath.Join(w.dir, subdir, filepath.Base(path))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		w.log.Warnw("failed to create archive directory",
			"dir", filepath.Dir(dest),
			logger.FieldError, err,
		)
		return
	}
	if err := os.Rename(path, dest); err != nil {
		w.log.Warnw("failed to archive batch file",
			"file", path,
			logger.FieldError, err,
		)
		return
	}
	w.forget(path)
}

func (w *InboxWatcher) forget(path string) {
	w.mu.Lock()
	delete(w.processed, path)
	w.mu.Unlock()
}

func isBatchFile(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.HasSuffix(name, ".json")
}
