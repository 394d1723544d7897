package watcher

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the state directory for out-of-process edits to
// the store's bucket files. A one-shot CLI invocation and a running
// daemon share the same JSON files on disk; the daemon uses these
// events to reload the store and kick a drain.
type Watcher struct {
	dir       string
	files     map[string]struct{}
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	stopCh    chan struct{}
}

// NewWatcher creates a watcher over dir that reports changes to the
// named files only. Everything else in the directory is ignored.
func NewWatcher(dir string, debounceMs int, files ...string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(files))
	for _, f := range files {
		set[f] = struct{}{}
	}

	return &Watcher{
		dir:       dir,
		files:     set,
		watcher:   fsWatcher,
		debouncer: NewDebouncer(debounceMs),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start begins watching the state directory.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	go w.processEvents(ctx)

	slog.Info("state watcher started", "path", w.dir, "files", len(w.files))
	return nil
}

// Events returns the channel of debounced change events.
func (w *Watcher) Events() <-chan FileEvent {
	return w.debouncer.Events()
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	w.debouncer.Stop()
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if _, tracked := w.files[name]; !tracked {
				continue
			}
			w.handleEvent(event, name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("state watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, name string) {
	switch {
	case event.Has(fsnotify.Create):
		w.debouncer.Add(name, EventCreate)
	case event.Has(fsnotify.Write):
		w.debouncer.Add(name, EventModify)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// Atomic replace shows up as remove+create on some
		// platforms; treat either half as a modification.
		w.debouncer.Add(name, EventModify)
	case event.Has(fsnotify.Chmod):
		// Ignore chmod events
	}
}

// Flush flushes all pending debounced events.
func (w *Watcher) Flush() {
	w.debouncer.Flush()
}
