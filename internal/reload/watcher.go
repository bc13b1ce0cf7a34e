// Package reload watches the configuration directory and turns file
// changes or SIGHUP into the same cooldown-respecting registry refresh
// POST /refresh performs. It never reloads the module graph itself —
// the global config file has no hot reload path in this revision.
package reload

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// EventType describes the kind of change that triggered a refresh.
type EventType string

const (
	EventModified EventType = "modified"
)

// Event is a single refresh trigger, carrying the path that changed
// (empty for a signal-driven trigger).
type Event struct {
	Type EventType
	Path string
}

// Watcher watches a config directory tree (the global file, providers/,
// routes.yaml, models.yaml) for writes, creates and renames and emits an
// Event for each. There is no timed debounce: the events channel holds one
// Event, and changes seen while it is still unread are dropped into it.
type Watcher struct {
	dir    string
	logger *slog.Logger
	events chan Event
	stop   chan struct{}
	stopped chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWatcher creates a Watcher over dir. Call Start to begin watching.
func NewWatcher(dir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:     dir,
		logger:  logger,
		events:  make(chan Event, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Events returns the channel of change notifications; at most one is
// pending at a time.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start begins watching in the background. Safe to call multiple times —
// only the first call starts the goroutine. A watch setup failure is
// logged and leaves the watcher permanently idle; the gateway still
// serves requests and explicit POST /refresh still works.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.run(ctx)
	})
}

// Stop stops the watcher and waits for its goroutine to exit. Safe to
// call multiple times and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	if w.started.Load() {
		<-w.stopped
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.stopped)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("reload: creating fsnotify watcher failed", "error", err)
		return
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		w.logger.Error("reload: watching config dir failed", "dir", w.dir, "error", err)
		return
	}
	_ = fw.Add(w.dir + "/providers")

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case w.events <- Event{Type: EventModified, Path: ev.Name}:
			default:
				// A refresh is already pending; this burst collapses into it.
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("reload: fsnotify error", "error", err)
		}
	}
}
