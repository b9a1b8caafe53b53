// Package browser owns the Chrome attachment for guidance sessions: one
// tracked page driven over CDP, safe in-page evaluation, an injected event
// buffer, and frame-navigation subscriptions.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"onboard/internal/logging"
)

// ErrEval is returned when an injected script throws inside the page. The
// exception never propagates into the host page's own scripts: every eval is
// wrapped and resolved to this error value in Go.
var ErrEval = errors.New("page evaluation failed")

// ErrNoPage is returned when no page is attached.
var ErrNoPage = errors.New("no page attached")

// Config holds browser attachment configuration.
type Config struct {
	DebuggerURL         string
	Launch              []string
	Headless            bool
	ViewportWidth       int
	ViewportHeight      int
	NavigationTimeoutMs int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:            false,
		ViewportWidth:       1920,
		ViewportHeight:      1080,
		NavigationTimeoutMs: 30000,
	}
}

// NavigationTimeout returns the navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// PageEvent is one entry drained from the injected in-page buffer.
type PageEvent struct {
	Type  string  `json:"type"`  // nav, advance, input, activity
	URL   string  `json:"url,omitempty"`
	Token string  `json:"token,omitempty"`
	ID    string  `json:"id,omitempty"`
	TS    float64 `json:"ts"`
}

// Session owns one browser connection and one tracked page.
type Session struct {
	cfg Config

	mu         sync.RWMutex
	browser    *rod.Browser
	page       *rod.Page
	controlURL string
	id         string
	ownsChrome bool
}

// NewSession creates an unconnected session.
func NewSession(cfg Config) *Session {
	return &Session{cfg: cfg, id: uuid.NewString()}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start connects to an existing Chrome or launches a new one.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		if _, err := s.browser.Version(); err == nil {
			return nil
		}
		logging.Browser("stale browser connection, reconnecting")
		_ = s.browser.Close()
		s.browser = nil
		s.page = nil
	}

	controlURL := s.cfg.DebuggerURL
	if controlURL == "" && len(s.cfg.Launch) > 0 {
		bin := s.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(s.cfg.Headless)
		for _, rawFlag := range s.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		url, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
		s.ownsChrome = true
	}

	if controlURL == "" {
		url, err := launcher.New().Headless(s.cfg.Headless).Launch()
		if err != nil {
			return fmt.Errorf("no debugger_url and failed to launch: %w", err)
		}
		controlURL = url
		s.ownsChrome = true
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	s.browser = browser
	s.controlURL = controlURL
	logging.Browser("connected to chrome (session %s)", s.id)
	return nil
}

// OpenPage opens and tracks a new page at url.
func (s *Session) OpenPage(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser == nil {
		return errors.New("browser not connected")
	}

	page, err := s.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             s.viewportWidth(),
		Height:            s.viewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.Browser("warning: failed to set viewport: %v", err)
	}

	if url != "" {
		if err := page.Context(ctx).Timeout(s.cfg.NavigationTimeout()).Navigate(url); err != nil {
			return fmt.Errorf("navigate: %w", err)
		}
	}

	s.page = page
	return nil
}

// AttachPage binds to the browser tab whose URL contains urlFragment, or the
// first page when the fragment is empty.
func (s *Session) AttachPage(ctx context.Context, urlFragment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser == nil {
		return errors.New("browser not connected")
	}

	pages, err := s.browser.Pages()
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}
	if len(pages) == 0 {
		return errors.New("no open pages to attach to")
	}

	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if urlFragment == "" || strings.Contains(strings.ToLower(info.URL), strings.ToLower(urlFragment)) {
			s.page = p
			logging.Browser("attached to page %s", info.URL)
			return nil
		}
	}
	return fmt.Errorf("no page matching %q", urlFragment)
}

func (s *Session) viewportWidth() int {
	if s.cfg.ViewportWidth <= 0 {
		return 1920
	}
	return s.cfg.ViewportWidth
}

func (s *Session) viewportHeight() int {
	if s.cfg.ViewportHeight <= 0 {
		return 1080
	}
	return s.cfg.ViewportHeight
}

func (s *Session) activePage() (*rod.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.page == nil {
		return nil, ErrNoPage
	}
	return s.page, nil
}

// evalEnvelope is the wrapper result of every injected script.
type evalEnvelope struct {
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value"`
	Error string          `json:"error"`
}

// EvalJSON evaluates fnJS (a JS function expression) in the page with args
// and returns the JSON-encoded result. A JS exception becomes an ErrEval in
// Go; it is never left to throw inside the page.
func (s *Session) EvalJSON(ctx context.Context, fnJS string, args ...any) (json.RawMessage, error) {
	page, err := s.activePage()
	if err != nil {
		return nil, err
	}

	wrapped := `(...args) => {
		try {
			return { ok: true, value: (` + fnJS + `)(...args) };
		} catch (e) {
			return { ok: false, error: String(e) };
		}
	}`

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           wrapped,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	if res == nil || res.Value.Nil() {
		return nil, fmt.Errorf("%w: empty result", ErrEval)
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal eval result: %w", err)
	}

	var env evalEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode eval envelope: %w", err)
	}
	if !env.OK {
		return nil, fmt.Errorf("%w: %s", ErrEval, env.Error)
	}
	return env.Value, nil
}

// CurrentURL returns the page's current location.href.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	raw, err := s.EvalJSON(ctx, `() => location.href`)
	if err != nil {
		return "", err
	}
	var url string
	if err := json.Unmarshal(raw, &url); err != nil {
		return "", fmt.Errorf("decode url: %w", err)
	}
	return url, nil
}

// Title returns the page's document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	raw, err := s.EvalJSON(ctx, `() => document.title`)
	if err != nil {
		return "", err
	}
	var title string
	if err := json.Unmarshal(raw, &title); err != nil {
		return "", fmt.Errorf("decode title: %w", err)
	}
	return title, nil
}

// InstallHooks installs the in-page event buffer plus history hooks so SPA
// route changes and armed-control activations surface through DrainEvents.
// Idempotent per document: a re-run on the same document is a no-op.
func (s *Session) InstallHooks(ctx context.Context) error {
	_, err := s.EvalJSON(ctx, `() => {
		const w = window;
		if (w.__onboardHooked) return true;
		w.__onboardHooked = true;
		w.__onboardEvents = [];

		const push = (ev) => {
			try { w.__onboardEvents.push(ev); } catch (e) {}
		};

		const origPush = history.pushState.bind(history);
		history.pushState = function (...a) {
			const r = origPush(...a);
			push({ type: 'nav', url: location.href, ts: Date.now() });
			return r;
		};
		const origReplace = history.replaceState.bind(history);
		history.replaceState = function (...a) {
			const r = origReplace(...a);
			push({ type: 'nav', url: location.href, ts: Date.now() });
			return r;
		};
		w.addEventListener('popstate', () => {
			push({ type: 'nav', url: location.href, ts: Date.now() });
		});

		['click', 'keydown', 'scroll'].forEach((name) => {
			document.addEventListener(name, () => {
				push({ type: 'activity', ts: Date.now() });
			}, { capture: true, passive: true });
		});

		return true;
	}`)
	if err != nil {
		return fmt.Errorf("install hooks: %w", err)
	}
	return nil
}

// DrainEvents atomically takes and clears the in-page event buffer.
func (s *Session) DrainEvents(ctx context.Context) ([]PageEvent, error) {
	raw, err := s.EvalJSON(ctx, `() => {
		const buf = Array.isArray(window.__onboardEvents) ? window.__onboardEvents : [];
		window.__onboardEvents = [];
		return buf;
	}`)
	if err != nil {
		return nil, err
	}
	var events []PageEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

// OnFrameNavigated subscribes to CDP frame navigation on the tracked page.
// The returned stop function releases the event stream; it must be called
// when the subscription is no longer needed.
func (s *Session) OnFrameNavigated(ctx context.Context, fn func(url string)) (stop func(), err error) {
	page, err := s.activePage()
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	wait := page.Context(subCtx).EachEvent(func(ev *proto.PageFrameNavigated) {
		if ev.Frame.ParentID != "" {
			return // subframes are not navigations of the guided page
		}
		fn(ev.Frame.URL)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		wait()
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

// Stop closes the tracked page (when we opened it) and the browser (when we
// launched it). Safe to call twice.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.browser != nil {
		if s.ownsChrome {
			err = s.browser.Close()
		}
		s.browser = nil
	}
	s.page = nil
	s.controlURL = ""
	logging.Browser("session %s stopped", s.id)
	return err
}
