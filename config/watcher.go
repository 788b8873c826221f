package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow absorbs editors that emit multiple write events for a
// single save (truncate+write, or atomic rename-into-place).
const debounceWindow = 100 * time.Millisecond

// watcher observes the store's config directory and debounce-reloads the
// affected typed config on modify events, grounded on the teacher's
// HotReloadSystem in engine/internal/runtime/runtime.go.
type watcher struct {
	store *Store
	fsw   *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

func newWatcher(s *Store) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(s.dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &watcher{
		store:   s,
		fsw:     fsw,
		pending: make(map[string]*time.Timer),
		ctx:     ctx,
		cancel:  cancel,
		doneCh:  make(chan struct{}),
	}, nil
}

func (w *watcher) start() error {
	go w.run()
	return nil
}

func (w *watcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			id := idFromPath(ev.Name)
			if id == "" {
				continue
			}
			w.store.mu.RLock()
			_, registered := w.store.holders[id]
			w.store.mu.RUnlock()
			if !registered {
				continue
			}
			w.scheduleReload(id)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		case <-w.ctx.Done():
			return
		}
	}
}

// scheduleReload debounces bursts of filesystem events for the same id
// into a single Reload call ~debounceWindow after the last event.
func (w *watcher) scheduleReload(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[id]; ok {
		t.Stop()
	}
	w.pending[id] = time.AfterFunc(debounceWindow, func() {
		_ = w.store.Reload(id)
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
	})
}

func (w *watcher) stop() {
	w.cancel()
	_ = w.fsw.Close()
	<-w.doneCh
	w.mu.Lock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.pending = nil
	w.mu.Unlock()
}

func idFromPath(path string) string {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".properties") {
		return ""
	}
	return strings.TrimSuffix(base, ".properties")
}
