// Package watcher turns fsnotify events for individual files into plain
// "this file changed" callbacks.
//
// The parent directory is watched rather than the file itself, so editors
// and tools that replace a file by rename keep being observed.
package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"clockcal/internal/log"
	"clockcal/internal/loop"
)

// Handle releases a watch registration.
type Handle interface {
	Close() error
}

// Service watches single files for modification.
type Service interface {
	Watch(path string, callback func()) (Handle, error)
}

// Options controls watcher behavior.
type Options struct {
	// Dispatch runs callbacks. When nil, callbacks run on the watcher's
	// own goroutine.
	Dispatch loop.Poster
	// Debounce coalesces bursts of events per path. Zero delivers every event.
	Debounce time.Duration
}

// Watcher is the fsnotify-backed Service.
type Watcher struct {
	fs       *fsnotify.Watcher
	dispatch loop.Poster
	log      zerolog.Logger

	// regMu serializes registration so a directory is never reported as
	// watched before its fsnotify Add has succeeded.
	regMu  sync.Mutex
	addDir func(string) error

	mu        sync.Mutex
	callbacks map[string][]*watchHandle
	dirs      map[string]int
	debouncer *debouncer
	closed    bool
	nextID    uint64
	done      chan struct{}
}

// New starts a Watcher.
func New(opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fs:        fsw,
		dispatch:  opts.Dispatch,
		log:       log.Component("watcher"),
		callbacks: make(map[string][]*watchHandle),
		dirs:      make(map[string]int),
		done:      make(chan struct{}),
	}
	w.addDir = fsw.Add
	if opts.Debounce > 0 {
		w.debouncer = newDebouncer(opts.Debounce)
	}

	go w.run()
	return w, nil
}

// Close stops event processing and releases every watch.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.debouncer.stop()
	for _, handles := range w.callbacks {
		for _, h := range handles {
			h.closed.Store(true)
		}
	}
	w.callbacks = nil
	w.mu.Unlock()

	close(w.done)
	return w.fs.Close()
}

// Watch registers callback for changes to path. The file itself may be
// missing, but its directory must exist.
func (w *Watcher) Watch(path string, callback func()) (Handle, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}

	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("parent of watched path is not a directory")
	}

	w.regMu.Lock()
	defer w.regMu.Unlock()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, errors.New("watcher is closed")
	}
	w.nextID++
	h := &watchHandle{watcher: w, path: path, id: w.nextID, callback: callback}
	needsAdd := w.dirs[dir] == 0
	w.dirs[dir]++
	w.callbacks[path] = append(w.callbacks[path], h)
	w.mu.Unlock()

	if needsAdd {
		if err := w.addDir(dir); err != nil {
			w.unregister(h)
			w.log.Warn().Err(err).Str("dir", dir).Msg("watch add failed")
			return nil, err
		}
		w.log.Debug().Str("dir", dir).Msg("watch added")
	}
	w.log.Debug().Str("path", path).Msg("watching file")

	return h, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watcher error")
		case <-w.done:
			return
		}
	}
}

// isChange filters out attribute-only notifications.
func isChange(op fsnotify.Op) bool {
	return op.Has(fsnotify.Write) || op.Has(fsnotify.Create) ||
		op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename)
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !isChange(event.Op) {
		return
	}
	path := filepath.Clean(event.Name)

	w.mu.Lock()
	if w.closed || len(w.callbacks[path]) == 0 {
		w.mu.Unlock()
		return
	}
	w.log.Debug().Str("path", path).Str("op", event.Op.String()).Msg("file system event")
	if w.debouncer != nil {
		w.debouncer.schedule(path, w.flush)
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.flush(path)
}

func (w *Watcher) flush(path string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.debouncer.pop(path)
	handles := append([]*watchHandle(nil), w.callbacks[path]...)
	w.mu.Unlock()

	for _, h := range handles {
		w.deliver(h)
	}
}

// deliver runs the callback through the dispatcher. The closed flag is checked
// where the callback runs, so a handle closed on the dispatch goroutine never
// sees a late event.
func (w *Watcher) deliver(h *watchHandle) {
	run := func() {
		if h.closed.Load() {
			return
		}
		h.callback()
	}
	if w.dispatch == nil {
		run()
		return
	}
	w.dispatch.Post(run)
}

func (w *Watcher) remove(h *watchHandle) {
	w.regMu.Lock()
	defer w.regMu.Unlock()
	w.unregister(h)
}

// unregister drops h and releases its directory. Callers hold regMu.
func (w *Watcher) unregister(h *watchHandle) {
	dir := filepath.Dir(h.path)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	handles := w.callbacks[h.path]
	for i, candidate := range handles {
		if candidate.id == h.id {
			handles = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(handles) == 0 {
		delete(w.callbacks, h.path)
	} else {
		w.callbacks[h.path] = handles
	}
	w.dirs[dir]--
	shouldRemove := w.dirs[dir] <= 0
	if shouldRemove {
		delete(w.dirs, dir)
	}
	w.mu.Unlock()

	if shouldRemove {
		if err := w.fs.Remove(dir); err != nil {
			w.log.Debug().Err(err).Str("dir", dir).Msg("watch remove failed")
		}
	}
}

type watchHandle struct {
	watcher  *Watcher
	path     string
	id       uint64
	callback func()
	closed   atomic.Bool
	once     sync.Once
}

func (h *watchHandle) Close() error {
	h.once.Do(func() {
		h.closed.Store(true)
		h.watcher.remove(h)
	})
	return nil
}
