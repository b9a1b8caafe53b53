package kb

import (
	"regexp"
	"sort"
	"strings"

	"onboard/internal/config"
)

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range tokenRe.FindAllString(strings.ToLower(s), -1) {
		out[tok] = true
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// MatchResult is one scored catalog entry.
type MatchResult struct {
	Platform string
	Key      string
	Action   Action
	Score    float64
}

// Matcher scores task titles against the catalog. Scores are Jaccard overlap
// between the title tokens and the action's title plus keywords, boosted when
// the current URL fits the action's platform, with exact title matches held
// at a floor so token-sparse titles still win outright.
type Matcher struct {
	kb  *KB
	cfg config.MatcherConfig
}

func NewMatcher(kb *KB, cfg config.MatcherConfig) *Matcher {
	return &Matcher{kb: kb, cfg: cfg}
}

func (m *Matcher) score(taskTitle, currentURL string, a Action) float64 {
	titleToks := tokenize(taskTitle)

	vocab := tokenize(a.Title)
	for _, kw := range a.Keywords {
		for tok := range tokenize(kw) {
			vocab[tok] = true
		}
	}

	score := jaccard(titleToks, vocab)
	if currentURL != "" && a.MatchesURL(currentURL) {
		score += m.cfg.URLPlatformBonus
	}
	if strings.EqualFold(strings.TrimSpace(taskTitle), strings.TrimSpace(a.Title)) &&
		score < m.cfg.ExactTitleFloor {
		score = m.cfg.ExactTitleFloor
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// Rank returns up to TopK positive-scoring catalog entries, best first.
// Ties break on platform/key order so results are stable.
func (m *Matcher) Rank(taskTitle, currentURL string) []MatchResult {
	var out []MatchResult
	for pname, p := range m.kb.Platforms {
		for aname, a := range p.Actions {
			s := m.score(taskTitle, currentURL, a)
			if s <= 0 {
				continue
			}
			out = append(out, MatchResult{Platform: pname, Key: aname, Action: a, Score: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].Key < out[j].Key
	})
	if k := m.cfg.TopK; k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// Best returns the top match when it clears the confidence threshold.
// Below the threshold the caller falls back to non-catalog guidance.
func (m *Matcher) Best(taskTitle, currentURL string) (MatchResult, bool) {
	ranked := m.Rank(taskTitle, currentURL)
	if len(ranked) == 0 || ranked[0].Score < m.cfg.AIFallbackThreshold {
		return MatchResult{}, false
	}
	return ranked[0], true
}
