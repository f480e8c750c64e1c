package grl

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/KSD-CO/rule-engine-go/internal/kb"
	"github.com/KSD-CO/rule-engine-go/internal/rlog"
)

// WatcherStats tracks watcher activity, mirroring the teacher's
// MangleWatcherStats.
type WatcherStats struct {
	FilesCreated  int
	FilesModified int
	FilesDeleted  int
	ReloadsOK     int
	ReloadsFailed int
	LastEventTime time.Time
	LastEventPath string
	LastEventType string
}

// OnReload is called after a .grl file is (re)loaded, with the queries it
// declared, or with a non-nil err if loading failed.
type OnReload func(path string, queries []QueryDecl, err error)

// Watcher watches a directory of .grl files and reloads them into a
// KnowledgeBase/ModuleManager on change, debouncing rapid saves the way the
// teacher's MangleWatcher does for .mg files.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	dir         string
	base        *kb.KnowledgeBase
	modules     *kb.ModuleManager
	onReload    OnReload
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       WatcherStats
}

// NewWatcher creates a Watcher over dir, installing rules into base and
// modules on every settled change.
func NewWatcher(dir string, base *kb.KnowledgeBase, modules *kb.ModuleManager, onReload OnReload) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		dir:         dir,
		base:        base,
		modules:     modules,
		onReload:    onReload,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching dir for .grl changes. Non-blocking; runs in a
// goroutine until Stop is called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	log := rlog.Get(rlog.CategoryGRL)

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		log.Warnw("failed to create watch dir, continuing anyway", "dir", w.dir, "error", err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		log.Warnw("initial watch failed, dir may not exist yet", "dir", w.dir, "error", err)
	} else {
		log.Infow("watching directory", "dir", w.dir)
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		rlog.Get(rlog.CategoryGRL).Errorw("error closing watcher", "error", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	log := rlog.Get(rlog.CategoryGRL)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

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
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorw("watcher error", "error", err)

		case <-debounceTicker.C:
			w.processDebounced()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".grl") {
		return
	}

	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0:
		eventType = "delete"
	case event.Op&fsnotify.Rename != 0:
		eventType = "rename"
	default:
		return
	}

	rlog.Get(rlog.CategoryGRL).Debugw("fs event", "type", eventType, "path", event.Name)

	w.mu.Lock()
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.stats.LastEventType = eventType
	switch eventType {
	case "create":
		w.stats.FilesCreated++
	case "modify":
		w.stats.FilesModified++
	case "delete", "rename":
		w.stats.FilesDeleted++
	}
	if eventType != "delete" && eventType != "rename" {
		w.debounceMap[event.Name] = time.Now()
	}
	w.mu.Unlock()
}

func (w *Watcher) processDebounced() {
	w.mu.Lock()
	now := time.Now()
	var toProcess []string
	for path, t := range w.debounceMap {
		if now.Sub(t) >= w.debounceDur {
			toProcess = append(toProcess, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range toProcess {
		w.reload(path)
	}
}

func (w *Watcher) reload(path string) {
	log := rlog.Get(rlog.CategoryGRL)
	queries, err := LoadFile(path, w.base, w.modules)

	w.mu.Lock()
	if err != nil {
		w.stats.ReloadsFailed++
	} else {
		w.stats.ReloadsOK++
	}
	w.mu.Unlock()

	if err != nil {
		log.Errorw("reload failed", "path", path, "error", err)
	} else {
		log.Infow("reload ok", "path", filepath.Base(path), "queries", len(queries))
	}
	if w.onReload != nil {
		w.onReload(path, queries, err)
	}
}

// Stats returns a snapshot of the watcher's activity counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}
