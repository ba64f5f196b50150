package monitor

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/safing/extender/service/mgr"
)

// DefaultDebounce is the time to wait for more changes of a location before
// reloading it.
const DefaultDebounce = 500 * time.Millisecond

// ReloadFunc reloads a changed location.
type ReloadFunc func(w *mgr.WorkerCtx, location string) error

// Watcher watches the locations of a registry and calls a reload function
// when one of them changes. Reloads are run one at a time by the worker
// running Run.
type Watcher struct {
	registry *Registry
	reload   ReloadFunc
	debounce time.Duration

	fsw *fsnotify.Watcher

	lock    sync.Mutex
	dirs    map[string]struct{}
	pending map[string]*time.Timer
	due     chan string
	resync  chan struct{}

	stopped  chan struct{}
	stopOnce sync.Once
}

// NewWatcher returns a watcher for the locations of registry.
// A debounce of zero uses DefaultDebounce.
func NewWatcher(registry *Registry, reload ReloadFunc, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		registry: registry,
		reload:   reload,
		debounce: debounce,
		fsw:      fsw,
		dirs:     make(map[string]struct{}),
		pending:  make(map[string]*time.Timer),
		due:      make(chan string, 16),
		resync:   make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}, nil
}

// Resync asks the watcher to pick up new locations of the registry.
func (w *Watcher) Resync() {
	select {
	case w.resync <- struct{}{}:
	default:
	}
}

// Run watches until the worker context is canceled. It is meant to run as a
// manager worker.
func (w *Watcher) Run(wc *mgr.WorkerCtx) error {
	defer w.stopOnce.Do(func() {
		close(w.stopped)
		w.stopTimers()
	})

	w.sync(wc)

	for {
		select {
		case <-wc.Done():
			return nil

		case <-w.resync:
			w.sync(wc)

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			wc.Warn("file watcher error", "err", err)

		case location := <-w.due:
			wc.Info("reloading changed location", "location", location)
			if err := w.reload(wc, location); err != nil {
				wc.Error("failed to reload location", "location", location, "err", err)
			}
			// A reload may have tracked new locations.
			w.sync(wc)
		}
	}
}

// Close stops watching the file system. Run returns afterwards.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Watched returns whether the directory of location is being watched.
func (w *Watcher) Watched(location string) bool {
	w.lock.Lock()
	defer w.lock.Unlock()

	_, ok := w.dirs[filepath.Dir(location)]
	return ok
}

// sync adds the parent directories of all tracked locations. Editors often
// replace files instead of writing them, so watching the file itself would
// lose track of it.
func (w *Watcher) sync(wc *mgr.WorkerCtx) {
	w.lock.Lock()
	defer w.lock.Unlock()

	for _, location := range w.registry.Locations() {
		dir := filepath.Dir(location)
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			wc.Warn("failed to watch directory", "dir", dir, "err", err)
			continue
		}
		w.dirs[dir] = struct{}{}
		wc.Debug("watching directory", "dir", dir)
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	location := filepath.Clean(event.Name)
	if len(w.registry.Entry(location)) == 0 {
		return
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	// Restart the debounce timer on every change.
	if timer, ok := w.pending[location]; ok {
		timer.Stop()
	}
	w.pending[location] = time.AfterFunc(w.debounce, func() {
		w.lock.Lock()
		delete(w.pending, location)
		w.lock.Unlock()

		select {
		case w.due <- location:
		case <-w.stopped:
		}
	})
}

func (w *Watcher) stopTimers() {
	w.lock.Lock()
	defer w.lock.Unlock()

	for location, timer := range w.pending {
		timer.Stop()
		delete(w.pending, location)
	}
}
