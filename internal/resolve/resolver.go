// Package resolve locates the live, visible DOM element a guidance action
// targets, using a prioritized strategy chain: primary selector (with
// text-pseudo extraction), alternative selectors, clickable-role text scan,
// then narrow platform heuristics.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"onboard/internal/logging"
	"onboard/internal/model"
)

// ErrNotFound reports that every strategy failed. Callers log and skip the
// action; they never treat this as a hard error.
var ErrNotFound = errors.New("resolve: element not found")

// Evaluator runs a JS function expression inside the guided page. Implemented
// by browser.Session; tests substitute fakes.
type Evaluator interface {
	EvalJSON(ctx context.Context, fnJS string, args ...any) (json.RawMessage, error)
}

// Rect is an element's viewport rectangle.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Match is a resolved element. Token is the value of the marker attribute the
// query stamped onto the element, so later evals (overlay anchoring, trigger
// arming) can address it without re-running the strategy chain.
type Match struct {
	Token    string `json:"token"`
	Tag      string `json:"tag"`
	Strategy string `json:"-"`
	Rect     Rect   `json:"rect"`
}

// Resolver applies the strategy chain against one page.
type Resolver struct {
	eval Evaluator
}

// New creates a resolver over the given page evaluator.
func New(eval Evaluator) *Resolver {
	return &Resolver{eval: eval}
}

// queryVisibleJS finds the first visible element for a selector, optionally
// filtered by contained text. An invalid selector resolves to
// {invalid: true} rather than throwing. A found element is stamped with
// data-onboard-el so later evaluations can address it directly.
const queryVisibleJS = `(selector, text) => {
	let nodes;
	try {
		nodes = document.querySelectorAll(selector);
	} catch (e) {
		return { invalid: true };
	}
	const visible = (el) => {
		if (!el.getClientRects || el.getClientRects().length === 0) return false;
		const rect = el.getBoundingClientRect();
		if (rect.width <= 0 || rect.height <= 0) return false;
		const style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden' || style.opacity === '0') return false;
		if (el.offsetParent === null && style.position !== 'fixed') return false;
		return true;
	};
	for (const el of nodes) {
		if (!visible(el)) continue;
		if (text && !(el.innerText || el.textContent || '').includes(text)) continue;
		const token = 'onb-' + Math.random().toString(36).slice(2, 10);
		el.setAttribute('data-onboard-el', token);
		const rect = el.getBoundingClientRect();
		return {
			found: true,
			token: token,
			tag: el.tagName.toLowerCase(),
			rect: { x: rect.x, y: rect.y, width: rect.width, height: rect.height }
		};
	}
	return { found: false };
}`

// clickableScanJS scans clickable-role elements for one whose text or
// accessible label contains the search string, case-insensitively.
const clickableScanJS = `(needle) => {
	const roles = 'button, a, summary, input[type="submit"], input[type="button"], [role="button"], [role="link"]';
	const want = String(needle).toLowerCase();
	const visible = (el) => {
		if (!el.getClientRects || el.getClientRects().length === 0) return false;
		const rect = el.getBoundingClientRect();
		if (rect.width <= 0 || rect.height <= 0) return false;
		const style = window.getComputedStyle(el);
		return style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
	};
	for (const el of document.querySelectorAll(roles)) {
		if (!visible(el)) continue;
		const label = (el.innerText || el.textContent || '') + ' ' +
			(el.getAttribute('aria-label') || '') + ' ' +
			(el.value || '');
		if (!label.toLowerCase().includes(want)) continue;
		const token = 'onb-' + Math.random().toString(36).slice(2, 10);
		el.setAttribute('data-onboard-el', token);
		const rect = el.getBoundingClientRect();
		return {
			found: true,
			token: token,
			tag: el.tagName.toLowerCase(),
			rect: { x: rect.x, y: rect.y, width: rect.width, height: rect.height }
		};
	}
	return { found: false };
}`

type queryResult struct {
	Found   bool   `json:"found"`
	Invalid bool   `json:"invalid"`
	Token   string `json:"token"`
	Tag     string `json:"tag"`
	Rect    Rect   `json:"rect"`
}

func (r *Resolver) query(ctx context.Context, fnJS string, args ...any) (*queryResult, error) {
	raw, err := r.eval.EvalJSON(ctx, fnJS, args...)
	if err != nil {
		// A throw inside the page counts as this-strategy-failed, never a
		// hard error for the caller.
		logging.ResolveDebug("query eval failed: %v", err)
		return &queryResult{}, nil
	}
	var res queryResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode query result: %w", err)
	}
	if res.Invalid {
		logging.ResolveDebug("invalid selector, falling through")
		res.Found = false
	}
	return &res, nil
}

// Resolve runs the strategy chain for one action on the page currently at
// pageURL. First success wins; exhaustion returns ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, action model.GuidanceAction, pageURL string) (*Match, error) {
	base, text, hasText := SplitTextSelector(action.TargetSelector)

	// 1. Primary selector, with extracted text filter when present.
	if hasText || strings.TrimSpace(base) != "" {
		res, err := r.query(ctx, queryVisibleJS, base, text)
		if err != nil {
			return nil, err
		}
		if res.Found {
			return &Match{Token: res.Token, Tag: res.Tag, Strategy: "selector", Rect: res.Rect}, nil
		}
	}

	// 2. Alternative selectors, verbatim.
	for _, alt := range action.Alternatives {
		if alt == "" {
			continue
		}
		res, err := r.query(ctx, queryVisibleJS, alt, "")
		if err != nil {
			return nil, err
		}
		if res.Found {
			return &Match{Token: res.Token, Tag: res.Tag, Strategy: "alternative", Rect: res.Rect}, nil
		}
	}

	// 3. Text-content fallback over clickable roles, for interactive kinds.
	if action.ActionType.Interactive() {
		needle := text
		if needle == "" {
			needle = QuotedFragment(action.Message)
		}
		if needle != "" {
			res, err := r.query(ctx, clickableScanJS, needle)
			if err != nil {
				return nil, err
			}
			if res.Found {
				return &Match{Token: res.Token, Tag: res.Tag, Strategy: "text", Rect: res.Rect}, nil
			}
		}
	}

	// 4. Platform heuristics, last resort.
	for _, sel := range heuristicSelectors(pageURL, action.Message) {
		res, err := r.query(ctx, queryVisibleJS, sel, "")
		if err != nil {
			return nil, err
		}
		if res.Found {
			return &Match{Token: res.Token, Tag: res.Tag, Strategy: "heuristic", Rect: res.Rect}, nil
		}
	}

	return nil, fmt.Errorf("%w: selector %q", ErrNotFound, action.TargetSelector)
}
