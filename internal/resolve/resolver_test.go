package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"onboard/internal/model"
)

func TestSplitTextSelector(t *testing.T) {
	tests := []struct {
		name     string
		selector string
		wantBase string
		wantText string
		wantOK   bool
	}{
		{"has-text single quotes", "button:has-text('Create repository')", "button", "Create repository", true},
		{"contains", "a:contains('New')", "a", "New", true},
		{"double quotes", `button:has-text("Create repository")`, "button", "Create repository", true},
		{"no pseudo", "button[type=submit]", "button[type=submit]", "", false},
		{"empty base defaults to any", ":has-text('Start')", "*", "Start", true},
		{"plain selector with colon", "input:focus", "input:focus", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, text, ok := SplitTextSelector(tt.selector)
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.wantBase, base)
			require.Equal(t, tt.wantText, text)
		})
	}
}

func TestQuotedFragment(t *testing.T) {
	require.Equal(t, "Create repository", QuotedFragment(`Click the 'Create repository' button`))
	require.Equal(t, "New", QuotedFragment(`Press "New" in the top bar`))
	require.Equal(t, "Create repository", QuotedFragment("Click “Create repository” to finish"))
	require.Equal(t, "", QuotedFragment("No quotes here"))
}

func TestHeuristicSelectors(t *testing.T) {
	sels := heuristicSelectors("https://github.com/new", "Enter a name for your repository name")
	require.NotEmpty(t, sels)
	require.Contains(t, sels, "input#repository_name")

	// Wrong domain: no heuristics apply.
	require.Empty(t, heuristicSelectors("https://gitlab.com/new", "repository name"))

	// Right domain, unrelated message: no heuristics apply.
	require.Empty(t, heuristicSelectors("https://github.com/new", "look at the sidebar"))
}

// scriptedEval replays a queue of query results, one per EvalJSON call.
type scriptedEval struct {
	results []queryResult
	errs    []error
	calls   int
	args    [][]any
}

func (s *scriptedEval) EvalJSON(ctx context.Context, fnJS string, args ...any) (json.RawMessage, error) {
	i := s.calls
	s.calls++
	s.args = append(s.args, args)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	res := queryResult{}
	if i < len(s.results) {
		res = s.results[i]
	}
	return json.Marshal(res)
}

func found(token, tag string) queryResult {
	return queryResult{Found: true, Token: token, Tag: tag, Rect: Rect{X: 10, Y: 20, Width: 100, Height: 30}}
}

func TestResolvePrimarySelectorWins(t *testing.T) {
	eval := &scriptedEval{results: []queryResult{found("onb-1", "button")}}
	r := New(eval)

	m, err := r.Resolve(context.Background(), model.GuidanceAction{
		TargetSelector: "button:has-text('Create repository')",
		ActionType:     model.ActionSubmit,
	}, "https://github.com/new")
	require.NoError(t, err)
	require.Equal(t, "onb-1", m.Token)
	require.Equal(t, "selector", m.Strategy)
	require.Equal(t, 1, eval.calls)

	// The text literal was extracted and passed as a filter.
	require.Equal(t, []any{"button", "Create repository"}, eval.args[0])
}

func TestResolveFallsThroughToAlternatives(t *testing.T) {
	eval := &scriptedEval{results: []queryResult{
		{Found: false},          // primary
		{Found: false},          // alt 1
		found("onb-2", "input"), // alt 2
	}}
	r := New(eval)

	m, err := r.Resolve(context.Background(), model.GuidanceAction{
		TargetSelector: "#stale-id",
		Alternatives:   []string{".also-stale", `input[name="repository[name]"]`},
		ActionType:     model.ActionHighlight,
	}, "https://github.com/new")
	require.NoError(t, err)
	require.Equal(t, "onb-2", m.Token)
	require.Equal(t, "alternative", m.Strategy)
	require.Equal(t, 3, eval.calls)
}

func TestResolveTextScanForInteractiveActions(t *testing.T) {
	eval := &scriptedEval{results: []queryResult{
		{Found: false}, // primary
		found("onb-3", "button"),
	}}
	r := New(eval)

	m, err := r.Resolve(context.Background(), model.GuidanceAction{
		TargetSelector: "#gone",
		ActionType:     model.ActionClick,
		Message:        `Click the 'Create repository' button at the bottom`,
	}, "https://github.com/new")
	require.NoError(t, err)
	require.Equal(t, "text", m.Strategy)
	// Search string came from the quoted message fragment.
	require.Equal(t, []any{"Create repository"}, eval.args[1])
}

func TestResolveNoTextScanForHighlight(t *testing.T) {
	// highlight is not interactive and the message quote must not trigger a
	// clickable scan; with no heuristic match either, resolution fails after
	// the primary attempt alone.
	eval := &scriptedEval{results: []queryResult{{Found: false}}}
	r := New(eval)

	_, err := r.Resolve(context.Background(), model.GuidanceAction{
		TargetSelector: "#gone",
		ActionType:     model.ActionHighlight,
		Message:        `Look at the 'Settings' panel`,
	}, "https://example.com")
	require.True(t, errors.Is(err, ErrNotFound))
	require.Equal(t, 1, eval.calls)
}

func TestResolveHeuristicLastResort(t *testing.T) {
	eval := &scriptedEval{results: []queryResult{
		{Found: false},          // primary
		{Found: false},          // text scan (quoted fragment)
		found("onb-4", "input"), // first heuristic selector
	}}
	r := New(eval)

	m, err := r.Resolve(context.Background(), model.GuidanceAction{
		TargetSelector: "#stale",
		ActionType:     model.ActionClick,
		Message:        `Type the "repository name" you want`,
	}, "https://github.com/new")
	require.NoError(t, err)
	require.Equal(t, "heuristic", m.Strategy)
	require.Equal(t, []any{"input#repository_name", ""}, eval.args[2])
}

func TestResolveInvalidSelectorFallsThrough(t *testing.T) {
	eval := &scriptedEval{results: []queryResult{
		{Invalid: true}, // malformed primary selector, caught in-page
		found("onb-5", "button"),
	}}
	r := New(eval)

	m, err := r.Resolve(context.Background(), model.GuidanceAction{
		TargetSelector: "button[unclosed",
		Alternatives:   []string{"button.primary"},
		ActionType:     model.ActionClick,
	}, "https://github.com")
	require.NoError(t, err)
	require.Equal(t, "alternative", m.Strategy)
}

func TestResolveEvalErrorIsStrategyFailure(t *testing.T) {
	// A throw inside the page must not abort the chain.
	eval := &scriptedEval{
		errs:    []error{errors.New("page eval blew up"), nil},
		results: []queryResult{{}, found("onb-6", "a")},
	}
	r := New(eval)

	m, err := r.Resolve(context.Background(), model.GuidanceAction{
		TargetSelector: "#primary",
		Alternatives:   []string{"a.next"},
		ActionType:     model.ActionClick,
	}, "https://github.com")
	require.NoError(t, err)
	require.Equal(t, "onb-6", m.Token)
}

func TestResolveExhaustionReturnsNotFound(t *testing.T) {
	eval := &scriptedEval{}
	r := New(eval)

	_, err := r.Resolve(context.Background(), model.GuidanceAction{
		TargetSelector: "#nope",
		Alternatives:   []string{".nope"},
		ActionType:     model.ActionNone,
	}, "https://example.com")
	require.True(t, errors.Is(err, ErrNotFound))
}
