// Package progress owns the advance side of a guidance session: arming the
// step's terminal control so a single interaction reports completion, and the
// suppression window that keeps the optimistic step bump from being clobbered
// by an in-flight guidance fetch.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"onboard/internal/logging"
)

// ErrTargetGone reports that the token to arm no longer exists in the page.
var ErrTargetGone = errors.New("arm target no longer in document")

// Evaluator runs a JS function in the current page. *browser.Session
// satisfies it.
type Evaluator interface {
	EvalJSON(ctx context.Context, fnJS string, args ...any) (json.RawMessage, error)
}

// armJS binds a one-shot listener on the stamped element. The armed attribute
// guards against double binding when a step is re-rendered without a
// navigation in between; the listener reports through the page event buffer.
const armJS = `(token) => {
	const el = document.querySelector('[data-onboard-el="' + token + '"]');
	if (!el) { return { missing: true }; }
	if (el.getAttribute('data-onboard-armed') === token) { return { armed: true, already: true }; }
	el.setAttribute('data-onboard-armed', token);
	el.addEventListener('click', () => {
		try {
			(window.__onboardEvents = window.__onboardEvents || []).push(
				{ type: 'advance', token: token, url: location.href, ts: Date.now() });
		} catch (e) {}
	}, { once: true, capture: true });
	return { armed: true };
}`

type armResult struct {
	Armed   bool `json:"armed"`
	Already bool `json:"already"`
	Missing bool `json:"missing"`
}

// Trigger arms terminal controls. One Trigger serves one page session.
type Trigger struct {
	eval Evaluator

	mu    sync.Mutex
	token string
}

func NewTrigger(eval Evaluator) *Trigger {
	return &Trigger{eval: eval}
}

// Arm binds a one-shot advance listener to the element carrying token.
// Arming the same token twice is a no-op; arming a new token supersedes the
// previous one on the Go side (the old page listener fires into the void
// because the controller ignores stale tokens).
func (t *Trigger) Arm(ctx context.Context, token string) error {
	raw, err := t.eval.EvalJSON(ctx, armJS, token)
	if err != nil {
		return err
	}
	var res armResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("decode arm result: %w", err)
	}
	if res.Missing {
		return fmt.Errorf("%w: token %s", ErrTargetGone, token)
	}

	t.mu.Lock()
	t.token = token
	t.mu.Unlock()

	if res.Already {
		logging.ProgressDebug("trigger already armed on %s", token)
	} else {
		logging.Progress("armed advance trigger on %s", token)
	}
	return nil
}

// Disarm forgets the armed token. The page-side listener stays bound but its
// events no longer match.
func (t *Trigger) Disarm() {
	t.mu.Lock()
	t.token = ""
	t.mu.Unlock()
}

// Matches reports whether an advance event token belongs to the currently
// armed control.
func (t *Trigger) Matches(token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token != "" && t.token == token
}

// Armed reports whether a trigger is currently live.
func (t *Trigger) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token != ""
}

// Suppressor is a deadline window. While it is open the controller skips
// guidance fetches so the optimistic local step count is not overwritten by
// a response computed from pre-advance backend state.
type Suppressor struct {
	mu    sync.Mutex
	until time.Time
}

// Open starts or extends the window to d from now.
func (s *Suppressor) Open(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline := time.Now().Add(d)
	if deadline.After(s.until) {
		s.until = deadline
	}
}

// Active reports whether the window is still open.
func (s *Suppressor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Before(s.until)
}

// Clear closes the window immediately.
func (s *Suppressor) Clear() {
	s.mu.Lock()
	s.until = time.Time{}
	s.mu.Unlock()
}

// Remaining returns how long the window stays open, zero when closed.
func (s *Suppressor) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := time.Until(s.until); d > 0 {
		return d
	}
	return 0
}
