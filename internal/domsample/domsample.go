// Package domsample captures the page context sent with backend requests:
// a bounded list of salient elements in document order plus a clipped run of
// visible text. The live path samples through the browser session; the static
// path parses raw HTML for offline inspection and shares the same formatting,
// so backend-side matching sees identical shapes either way.
package domsample

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	xhtml "golang.org/x/net/html"

	"onboard/internal/model"
)

// Evaluator runs a JS function in the current page. *browser.Session
// satisfies it.
type Evaluator interface {
	EvalJSON(ctx context.Context, fnJS string, args ...any) (json.RawMessage, error)
}

// elementTextLimit bounds the text fragment kept per element line.
const elementTextLimit = 64

// salientTags are the element kinds worth reporting, matched in both the
// live and static samplers.
var salientTags = map[string]bool{
	"a": true, "button": true, "input": true, "select": true,
	"textarea": true, "form": true, "label": true,
	"h1": true, "h2": true, "h3": true,
}

// collectJS walks the document once, keeping visible salient elements in
// order up to the cap, and clips body text to the configured length.
const collectJS = `(maxElems, maxChars) => {
	const salient = 'a,button,input,select,textarea,form,label,h1,h2,h3,[role="button"],[role="link"]';
	const out = [];
	for (const el of document.querySelectorAll(salient)) {
		if (out.length >= maxElems) break;
		const r = el.getBoundingClientRect();
		if (r.width === 0 && r.height === 0) continue;
		const style = getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden') continue;
		let desc = el.tagName.toLowerCase();
		if (el.id) desc += '#' + el.id;
		if (el.classList.length) desc += '.' + [...el.classList].slice(0, 3).join('.');
		const text = (el.innerText || el.value || el.getAttribute('aria-label') ||
			el.getAttribute('placeholder') || '').trim().replace(/\s+/g, ' ');
		if (text) desc += ' "' + text.slice(0, 64) + '"';
		out.push(desc);
	}
	const body = (document.body && document.body.innerText || '')
		.replace(/\s+/g, ' ').trim().slice(0, maxChars);
	return {
		url: location.href,
		page_title: document.title,
		dom_elements: out,
		visible_text: body
	};
}`

// Collect samples the live page into a PageContext ready to send.
func Collect(ctx context.Context, eval Evaluator, maxElems, maxChars int) (*model.PageContext, error) {
	raw, err := eval.EvalJSON(ctx, collectJS, maxElems, maxChars)
	if err != nil {
		return nil, err
	}
	var pc model.PageContext
	if err := json.Unmarshal(raw, &pc); err != nil {
		return nil, fmt.Errorf("decode page sample: %w", err)
	}
	return &pc, nil
}

// FromHTML builds the same sample shape from raw HTML. Visibility cannot be
// judged without layout, so every salient element counts.
func FromHTML(r io.Reader, maxElems, maxChars int) (*model.PageContext, error) {
	doc, err := xhtml.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	pc := &model.PageContext{}
	var textParts []string

	var walk func(n *xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			case "title":
				pc.PageTitle = strings.TrimSpace(nodeText(n))
				return
			}
			if salientTags[n.Data] && len(pc.DOMElements) < maxElems {
				pc.DOMElements = append(pc.DOMElements, describeNode(n))
			}
		}
		if n.Type == xhtml.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				textParts = append(textParts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	pc.VisibleText = clip(strings.Join(textParts, " "), maxChars)
	return pc, nil
}

// describeNode formats one element the way the live sampler does:
// tag, optional #id, up to three classes, and a quoted text fragment.
func describeNode(n *xhtml.Node) string {
	var b strings.Builder
	b.WriteString(n.Data)

	var classes, label string
	for _, a := range n.Attr {
		switch a.Key {
		case "id":
			if a.Val != "" {
				b.WriteString("#" + a.Val)
			}
		case "class":
			classes = a.Val
		case "aria-label", "placeholder", "value":
			if label == "" {
				label = a.Val
			}
		}
	}
	if classes != "" {
		parts := strings.Fields(classes)
		if len(parts) > 3 {
			parts = parts[:3]
		}
		b.WriteString("." + strings.Join(parts, "."))
	}

	text := strings.Join(strings.Fields(nodeText(n)), " ")
	if text == "" {
		text = strings.TrimSpace(label)
	}
	if text != "" {
		b.WriteString(` "` + clip(text, elementTextLimit) + `"`)
	}
	return b.String()
}

func nodeText(n *xhtml.Node) string {
	var b strings.Builder
	var walk func(c *xhtml.Node)
	walk = func(c *xhtml.Node) {
		if c.Type == xhtml.TextNode {
			b.WriteString(c.Data)
		}
		for gc := c.FirstChild; gc != nil; gc = gc.NextSibling {
			walk(gc)
		}
	}
	walk(n)
	return b.String()
}

func clip(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	// Back off to a rune boundary so the cap never splits a character.
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
