// Package overlay paints guidance cues into the live page: highlight boxes
// around resolved targets, tooltips beside them, and a degraded text panel
// when no target can be anchored. Every node it creates carries a marker
// attribute so a single sweep removes them all.
package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"onboard/internal/config"
	"onboard/internal/logging"
	"onboard/internal/model"
	"onboard/internal/resolve"
)

// ErrTargetGone reports that the element token resolved earlier no longer
// exists in the document, usually after a re-render or navigation.
var ErrTargetGone = errors.New("overlay target no longer in document")

// Evaluator runs a JS function in the current page. *browser.Session
// satisfies it.
type Evaluator interface {
	EvalJSON(ctx context.Context, fnJS string, args ...any) (json.RawMessage, error)
}

// Item pairs a resolved target with the action describing how to decorate it.
type Item struct {
	Match  *resolve.Match
	Action model.GuidanceAction
}

type Renderer struct {
	eval Evaluator
	cfg  config.OverlayConfig
}

func New(eval Evaluator, cfg config.OverlayConfig) *Renderer {
	return &Renderer{eval: eval, cfg: cfg}
}

// renderJS locates the stamped element, recomputes its document-coordinate
// rect, and appends a highlight box plus optional tooltip. Positions are
// absolute in document space so the cues scroll with the content.
const renderJS = `(token, o) => {
	const el = document.querySelector('[data-onboard-el="' + token + '"]');
	if (!el) { return { missing: true }; }
	const r = el.getBoundingClientRect();
	const sx = window.scrollX, sy = window.scrollY;
	const m = o.margin;

	const box = document.createElement('div');
	box.setAttribute('data-onboard-overlay', 'highlight');
	box.style.cssText =
		'position:absolute;pointer-events:none;z-index:2147483600;' +
		'border:2px solid #4f8ef7;border-radius:6px;' +
		'box-shadow:0 0 0 4px rgba(79,142,247,0.25);' +
		'left:' + (r.left + sx - m) + 'px;top:' + (r.top + sy - m) + 'px;' +
		'width:' + (r.width + 2 * m) + 'px;height:' + (r.height + 2 * m) + 'px;';
	if (o.animation === 'pulse') {
		box.animate(
			[{ boxShadow: '0 0 0 4px rgba(79,142,247,0.25)' },
			 { boxShadow: '0 0 0 10px rgba(79,142,247,0.05)' }],
			{ duration: 1200, iterations: Infinity, direction: 'alternate' });
	}
	document.body.appendChild(box);

	if (o.message) {
		const tip = document.createElement('div');
		tip.setAttribute('data-onboard-overlay', 'tooltip');
		tip.textContent = o.message;
		tip.style.cssText =
			'position:absolute;z-index:2147483601;pointer-events:none;' +
			'max-width:' + o.width + 'px;padding:8px 12px;' +
			'background:#1f2937;color:#f9fafb;font:13px/1.4 system-ui,sans-serif;' +
			'border-radius:8px;box-shadow:0 4px 12px rgba(0,0,0,0.3);';
		document.body.appendChild(tip);

		const tw = tip.offsetWidth, th = tip.offsetHeight, gap = m + 8;
		let left, top;
		switch (o.side) {
		case 'top':
			left = r.left + sx + r.width / 2 - tw / 2;
			top = r.top + sy - th - gap;
			break;
		case 'left':
			left = r.left + sx - tw - gap;
			top = r.top + sy + r.height / 2 - th / 2;
			break;
		case 'right':
			left = r.right + sx + gap;
			top = r.top + sy + r.height / 2 - th / 2;
			break;
		default:
			left = r.left + sx + r.width / 2 - tw / 2;
			top = r.bottom + sy + gap;
		}
		const inset = o.inset;
		const maxLeft = sx + document.documentElement.clientWidth - tw - inset;
		left = Math.min(Math.max(left, sx + inset), Math.max(maxLeft, sx + inset));
		top = Math.max(top, sy + inset);
		tip.style.left = left + 'px';
		tip.style.top = top + 'px';
	}
	return { rendered: true };
}`

const panelJS = `(text) => {
	const old = document.querySelector('[data-onboard-overlay="panel"]');
	if (old) { old.remove(); }
	const panel = document.createElement('div');
	panel.setAttribute('data-onboard-overlay', 'panel');
	panel.style.cssText =
		'position:fixed;right:20px;bottom:20px;z-index:2147483602;' +
		'max-width:340px;padding:14px 16px;' +
		'background:#1f2937;color:#f9fafb;font:14px/1.5 system-ui,sans-serif;' +
		'border-radius:10px;box-shadow:0 6px 20px rgba(0,0,0,0.35);';
	const body = document.createElement('div');
	body.textContent = text;
	const close = document.createElement('button');
	close.textContent = '×';
	close.style.cssText =
		'position:absolute;top:4px;right:8px;border:none;background:none;' +
		'color:#9ca3af;font-size:16px;cursor:pointer;';
	close.addEventListener('click', () => panel.remove());
	panel.appendChild(close);
	panel.appendChild(body);
	document.body.appendChild(panel);
	return { rendered: true };
}`

const clearJS = `() => {
	const nodes = document.querySelectorAll('[data-onboard-overlay]');
	nodes.forEach(n => n.remove());
	return { cleared: nodes.length };
}`

type renderResult struct {
	Rendered bool `json:"rendered"`
	Missing  bool `json:"missing"`
	Cleared  int  `json:"cleared"`
}

func (r *Renderer) do(ctx context.Context, fnJS string, args ...any) (*renderResult, error) {
	raw, err := r.eval.EvalJSON(ctx, fnJS, args...)
	if err != nil {
		return nil, err
	}
	var res renderResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode overlay result: %w", err)
	}
	return &res, nil
}

// Render paints one highlight box, and a tooltip when the action carries a
// message, anchored to the resolved element.
func (r *Renderer) Render(ctx context.Context, item Item) error {
	opts := map[string]any{
		"margin":    r.cfg.MarginPx,
		"inset":     r.cfg.EdgeInsetPx,
		"width":     r.cfg.TooltipWidth,
		"message":   item.Action.Message,
		"side":      string(item.Action.TooltipSide()),
		"animation": item.Action.Animation,
	}
	res, err := r.do(ctx, renderJS, item.Match.Token, opts)
	if err != nil {
		return err
	}
	if res.Missing {
		return fmt.Errorf("%w: token %s", ErrTargetGone, item.Match.Token)
	}
	logging.OverlayDebug("rendered %s on %s (%s)", item.Action.ActionType, item.Match.Tag, item.Match.Strategy)
	return nil
}

// RenderSequence paints the items in order with a stagger between them so
// multi-cue steps read as a progression. A cancelled context stops mid-run;
// a vanished target is logged and skipped.
func (r *Renderer) RenderSequence(ctx context.Context, items []Item) error {
	stagger := time.Duration(r.cfg.StaggerMs) * time.Millisecond
	for i, item := range items {
		if i > 0 && stagger > 0 {
			t := time.NewTimer(stagger)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err := r.Render(ctx, item); err != nil {
			if errors.Is(err, ErrTargetGone) {
				logging.Overlay("skipping vanished target %s", item.Match.Token)
				continue
			}
			return err
		}
	}
	return nil
}

// RenderPanel shows the degraded guidance panel in the page corner. Used when
// no action in a step names a concrete element.
func (r *Renderer) RenderPanel(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	_, err := r.do(ctx, panelJS, text)
	if err == nil {
		logging.OverlayDebug("rendered text panel (%d chars)", len(text))
	}
	return err
}

// ClearAll removes every overlay node in one sweep. Safe to call when nothing
// is rendered.
func (r *Renderer) ClearAll(ctx context.Context) error {
	res, err := r.do(ctx, clearJS)
	if err != nil {
		return err
	}
	if res.Cleared > 0 {
		logging.OverlayDebug("cleared %d overlay nodes", res.Cleared)
	}
	return nil
}
