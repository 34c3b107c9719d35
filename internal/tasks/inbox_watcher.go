package tasks

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"senhts/internal/fsutil"
)

// InboxEvent reports a bundle that appeared or changed in a watched directory.
type InboxEvent struct {
	Path string    `json:"path"`
	Time time.Time `json:"time"`
}

// InboxWatcher monitors directories for new observation bundles. A bundle is
// reported once no write to it has been seen for Settle.
type InboxWatcher struct {
	watcher   *fsnotify.Watcher
	Events    chan InboxEvent
	Settle    time.Duration
	watchDirs []string
	log       *slog.Logger
	done      chan struct{}

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
}

// NewInboxWatcher creates a watcher for dirs.
func NewInboxWatcher(dirs []string, logger *slog.Logger) (*InboxWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InboxWatcher{
		watcher:   watcher,
		Events:    make(chan InboxEvent, 100),
		Settle:    500 * time.Millisecond,
		watchDirs: dirs,
		log:       logger,
		done:      make(chan struct{}),
		pending:   make(map[string]*time.Timer),
	}, nil
}

// Start begins monitoring the configured directories.
func (w *InboxWatcher) Start() error {
	for _, dir := range w.watchDirs {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		w.log.Info("Watching inbox", slog.String("dir", dir))
	}
	go w.processEvents()
	return nil
}

// Stop stops the watcher and closes Events.
func (w *InboxWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	close(w.done)
	close(w.Events)
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *InboxWatcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !fsutil.IsBundleFile(event.Name) {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("Inbox watcher error", slog.String("error", err.Error()))

		case <-w.done:
			return
		}
	}
}

func (w *InboxWatcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.Settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.Settle, func() { w.emit(path) })
}

func (w *InboxWatcher) emit(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	delete(w.pending, path)
	select {
	case w.Events <- InboxEvent{Path: path, Time: time.Now()}:
	default:
		w.log.Warn("Inbox event buffer full, dropping bundle", slog.String("path", path))
	}
}
