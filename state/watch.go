package state

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reports changes made to a FileStorage by other processes, such as
// a second client instance logging out.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	mu       sync.Mutex
	pending  *time.Timer
	closed   bool
	logger   *logrus.Entry
	onChange func()
}

// NewWatcher watches the directory holding the storage file. fsnotify loses
// track of a file replaced by rename, so the parent directory is watched and
// events are filtered by name.
func NewWatcher(f *FileStorage, debounce time.Duration, logger *logrus.Entry, onChange func()) (*Watcher, error) {
	dir := filepath.Dir(f.Path())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Watcher{
		watcher:  watcher,
		path:     filepath.Clean(f.Path()),
		debounce: debounce,
		logger:   logger,
		onChange: onChange,
	}, nil
}

// Start processes events until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			w.logger.Debugf("fsnotify event: %s op=%v", event.Name, event.Op)
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.handleChange()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("Watcher error: %v", err)
		case <-ctx.Done():
			_ = w.Close()
			return
		}
	}
}

// handleChange (re)arms the callback so it runs once, debounce after the
// last event of a burst.
func (w *Watcher) handleChange() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.pending != nil {
		w.pending.Stop()
		w.logger.Debug("Debounced state change")
	}
	w.pending = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.pending = nil
	w.mu.Unlock()

	w.logger.Debug("State file changed on disk")
	if w.onChange != nil {
		w.onChange()
	}
}

// Close stops the watcher and drops a pending callback.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
