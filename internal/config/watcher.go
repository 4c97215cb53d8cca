package config

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeEvent describes one observed file change.
type ChangeEvent struct {
	Path      string
	Action    string // create, modify, delete, rename
	Timestamp time.Time
}

// ChangeHandler is invoked for every matching change. Handlers run on the
// watch goroutine and must not block.
type ChangeHandler func(event ChangeEvent)

// Watcher observes a directory for changes to files matching a set of
// extensions and notifies registered handlers. A polling fallback covers
// filesystems where fsnotify is unreliable (network mounts, some containers).
type Watcher struct {
	dir     string
	exts    map[string]struct{}
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu       sync.Mutex
	handlers []ChangeHandler
	started  bool
	stopCh   chan struct{}

	pollInterval time.Duration
}

// NewWatcher creates a watcher over dir for the given extensions
// (e.g. ".yaml", ".rego"). Poll interval 0 disables the polling fallback.
func NewWatcher(dir string, exts []string, pollInterval time.Duration, logger *zap.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("watch directory cannot be empty")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	extSet := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		extSet[e] = struct{}{}
	}
	return &Watcher{
		dir:          dir,
		exts:         extSet,
		watcher:      fsw,
		logger:       logger,
		stopCh:       make(chan struct{}),
		pollInterval: pollInterval,
	}, nil
}

// OnChange registers a handler. Must be called before Start.
func (w *Watcher) OnChange(h ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Start begins watching. Safe to call once.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	go w.watchLoop()
	if w.pollInterval > 0 {
		go w.pollLoop()
	}
	w.logger.Info("File watcher started",
		zap.String("dir", w.dir),
		zap.Duration("poll_interval", w.pollInterval),
	)
	return nil
}

// Stop terminates the watch and poll loops.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.started = false
	close(w.stopCh)
	if err := w.watcher.Close(); err != nil {
		w.logger.Error("Error closing file watcher", zap.Error(err))
	}
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) pollLoop() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	lastMod := make(map[string]time.Time)
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.pollOnce(lastMod)
		}
	}
}

func (w *Watcher) pollOnce(lastMod map[string]time.Time) {
	err := filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !w.matches(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if prev, seen := lastMod[path]; !seen {
			lastMod[path] = info.ModTime()
		} else if info.ModTime().After(prev) {
			lastMod[path] = info.ModTime()
			w.notify(ChangeEvent{Path: path, Action: "modify", Timestamp: time.Now()})
		}
		return nil
	})
	if err != nil {
		w.logger.Error("Polling check failed", zap.Error(err))
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !w.matches(event.Name) {
		return
	}

	var action string
	switch {
	case event.Op&fsnotify.Create != 0:
		action = "create"
	case event.Op&fsnotify.Write != 0:
		action = "modify"
	case event.Op&fsnotify.Remove != 0:
		action = "delete"
	case event.Op&fsnotify.Rename != 0:
		action = "rename"
	default:
		// chmod and friends carry no content change
		return
	}

	if action == "create" || action == "modify" {
		// Editors often fire several writes in quick succession.
		time.Sleep(50 * time.Millisecond)
	}

	w.logger.Debug("File change observed",
		zap.String("path", event.Name),
		zap.String("action", action),
	)
	w.notify(ChangeEvent{Path: event.Name, Action: action, Timestamp: time.Now()})
}

func (w *Watcher) notify(event ChangeEvent) {
	w.mu.Lock()
	handlers := make([]ChangeHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

func (w *Watcher) matches(path string) bool {
	if len(w.exts) == 0 {
		return true
	}
	_, ok := w.exts[filepath.Ext(path)]
	return ok
}
