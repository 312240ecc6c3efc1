package library

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultSettle is how long a watched file must stay quiet before its
// change is reported.
const DefaultSettle = 200 * time.Millisecond

// Watcher reports writes to library files. Editors often save in several
// steps, so changes are batched until the files settle.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
	settle  time.Duration
	files   map[string]bool
	changes chan []string
	errors  chan error

	mu      sync.Mutex
	running bool
}

// NewWatcher watches the directories holding paths. Only events on paths
// themselves are reported.
func NewWatcher(logger zerolog.Logger, settle time.Duration, paths ...string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("library: create watcher: %w", err)
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	w := &Watcher{
		watcher: fw,
		logger:  logger,
		settle:  settle,
		files:   make(map[string]bool, len(paths)),
		changes: make(chan []string, 16),
		errors:  make(chan error, 4),
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("library: watch %s: %w", p, err)
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("library: watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Changes emits the absolute paths of the library files that changed
// since the previous batch.
func (w *Watcher) Changes() <-chan []string { return w.changes }

func (w *Watcher) Errors() <-chan error { return w.errors }

// Run processes file system events until ctx is done. It closes the
// underlying watcher and both channels on return.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("library: watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.watcher.Close()
		close(w.changes)
		close(w.errors)
	}()

	pending := make(map[string]bool)
	timer := time.NewTimer(w.settle)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			path := filepath.Clean(event.Name)
			if !w.files[path] || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			w.logger.Debug().Str("file", path).Str("op", event.Op.String()).Msg("library file event")
			pending[path] = true
			timer.Reset(w.settle)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			select {
			case w.errors <- err:
			default:
				w.logger.Warn().Err(err).Msg("watcher error dropped")
			}

		case <-timer.C:
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			clear(pending)
			select {
			case w.changes <- batch:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
