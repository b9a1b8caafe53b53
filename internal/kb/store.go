package kb

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"onboard/internal/logging"
)

// Store serves the current knowledge base and, when watching, swaps it in
// place whenever the backing file changes. A reload that fails to parse keeps
// the previous catalog.
type Store struct {
	path string

	mu sync.RWMutex
	kb *KB

	watchMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// OpenStore loads the catalog at path.
func OpenStore(path string) (*Store, error) {
	kb, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, kb: kb}, nil
}

// Current returns the live catalog.
func (s *Store) Current() *KB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kb
}

// reloadDebounce absorbs the write bursts editors produce on save.
const reloadDebounce = 200 * time.Millisecond

// Watch reloads the catalog on file changes until the context ends or Close
// is called. Watching twice is a no-op.
func (s *Store) Watch(ctx context.Context) error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.cancel != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors replace files on save, which drops a
	// watch held on the file itself.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		defer watcher.Close()

		var pending *time.Timer
		var pendingC <-chan time.Time
		base := filepath.Base(s.path)

		for {
			select {
			case <-runCtx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if pending == nil {
					pending = time.NewTimer(reloadDebounce)
					pendingC = pending.C
				} else {
					pending.Reset(reloadDebounce)
				}
			case <-pendingC:
				pending = nil
				pendingC = nil
				s.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.KBDebug("watch error: %v", err)
			}
		}
	}()

	logging.KB("watching %s for changes", s.path)
	return nil
}

func (s *Store) reload() {
	kb, err := Load(s.path)
	if err != nil {
		logging.KB("reload failed, keeping previous catalog: %v", err)
		return
	}
	s.mu.Lock()
	s.kb = kb
	s.mu.Unlock()
	logging.KB("reloaded catalog: %d platforms", len(kb.Platforms))
}

// Close stops watching. Safe to call without Watch.
func (s *Store) Close() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}
