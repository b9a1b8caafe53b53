// Package navwatch detects page transitions in the tracked browser tab and
// reports them after the new document has settled. Two modes are supported:
// events, which listens to frame navigations plus the injected history hooks,
// and poll, which compares the page URL on a timer. Both converge on the same
// settle-then-announce path so downstream consumers never see a half-loaded
// page.
package navwatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"onboard/internal/config"
	"onboard/internal/logging"
)

// PageSource is the slice of the browser session the watcher needs.
// *browser.Session satisfies it. The watcher never drains the in-page event
// buffer itself; history-hook navigations arrive through NoteURL from
// whoever owns the drain.
type PageSource interface {
	CurrentURL(ctx context.Context) (string, error)
	OnFrameNavigated(ctx context.Context, fn func(url string)) (stop func(), err error)
	InstallHooks(ctx context.Context) error
}

// Change is one settled navigation: the page left From and came to rest at To.
type Change struct {
	From string
	To   string
	At   time.Time
}

// eventCheckInterval bounds how stale a subscribed or noted navigation can
// get in events mode.
const eventCheckInterval = 250 * time.Millisecond

type Watcher struct {
	src PageSource
	cfg config.NavigationConfig

	changes chan Change

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	frameMu  sync.Mutex
	frameURL string
}

func New(src PageSource, cfg config.NavigationConfig) *Watcher {
	return &Watcher{
		src:     src,
		cfg:     cfg,
		changes: make(chan Change, 8),
	}
}

// Changes delivers settled navigations. The channel is never closed while the
// watcher can be restarted; rely on Stop and context instead.
func (w *Watcher) Changes() <-chan Change { return w.changes }

// Start begins watching from the page's current URL. Calling Start on a
// running watcher is an error.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("navwatch already running")
	}

	initial, err := w.src.CurrentURL(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)

	var stopFrames func()
	if w.cfg.WatchMode == config.WatchModeEvents {
		if err := w.src.InstallHooks(runCtx); err != nil {
			cancel()
			return err
		}
		stopFrames, err = w.src.OnFrameNavigated(runCtx, func(url string) {
			w.frameMu.Lock()
			w.frameURL = url
			w.frameMu.Unlock()
		})
		if err != nil {
			cancel()
			return err
		}
	}

	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		if stopFrames != nil {
			defer stopFrames()
		}
		w.run(runCtx, initial)
	}()

	logging.Navwatch("watching from %s (mode=%s)", initial, w.cfg.WatchMode)
	return nil
}

// Stop halts the watcher and waits for its goroutine to exit. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
}

// NoteURL records a history-hook navigation reported by the event drain.
// No-op in poll mode.
func (w *Watcher) NoteURL(url string) {
	if url == "" {
		return
	}
	w.frameMu.Lock()
	w.frameURL = url
	w.frameMu.Unlock()
}

func (w *Watcher) run(ctx context.Context, lastURL string) {
	interval := eventCheckInterval
	if w.cfg.WatchMode == config.WatchModePoll {
		interval = w.PollInterval()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingURL string
	var pendingAt time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		candidate := w.detect(ctx)
		if candidate != "" && candidate != lastURL && candidate != pendingURL {
			pendingURL = candidate
			pendingAt = time.Now()
			logging.NavwatchDebug("navigation candidate %s", candidate)
		}

		if pendingURL == "" || time.Since(pendingAt) < w.SettleDelay() {
			continue
		}

		// Re-read after the settle window so redirect chains collapse into
		// one announcement.
		settled, err := w.src.CurrentURL(ctx)
		if err != nil || settled == "" {
			settled = pendingURL
		}
		pendingURL = ""

		if settled == lastURL {
			continue
		}

		if w.cfg.WatchMode == config.WatchModeEvents {
			// The new document lost the injected hooks.
			if err := w.src.InstallHooks(ctx); err != nil {
				logging.NavwatchDebug("reinstall hooks: %v", err)
			}
		}

		change := Change{From: lastURL, To: settled, At: time.Now()}
		lastURL = settled
		logging.Navwatch("navigated %s -> %s", change.From, change.To)

		select {
		case w.changes <- change:
		case <-ctx.Done():
			return
		}
	}
}

// detect returns the most recent URL the mode's signal reports, or "" when
// nothing moved.
func (w *Watcher) detect(ctx context.Context) string {
	if w.cfg.WatchMode == config.WatchModePoll {
		url, err := w.src.CurrentURL(ctx)
		if err != nil {
			logging.NavwatchDebug("poll url: %v", err)
			return ""
		}
		return url
	}

	w.frameMu.Lock()
	latest := w.frameURL
	w.frameURL = ""
	w.frameMu.Unlock()
	return latest
}

func (w *Watcher) PollInterval() time.Duration {
	if w.cfg.PollIntervalMs <= 0 {
		return 800 * time.Millisecond
	}
	return time.Duration(w.cfg.PollIntervalMs) * time.Millisecond
}

func (w *Watcher) SettleDelay() time.Duration {
	if w.cfg.SettleDelayMs <= 0 {
		return 0
	}
	return time.Duration(w.cfg.SettleDelayMs) * time.Millisecond
}
