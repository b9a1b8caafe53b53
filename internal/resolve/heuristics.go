package resolve

import "strings"

// heuristic is one last-resort platform rule: when the page is on domain and
// the action message mentions any of keywords, try selectors in order.
type heuristic struct {
	domain    string
	keywords  []string
	selectors []string
}

// platformHeuristics covers the known high-value targets of the GitHub
// repository-creation flow.
var platformHeuristics = []heuristic{
	{
		domain:   "github.com",
		keywords: []string{"repository name", "name your", "enter a name"},
		selectors: []string{
			`input#repository_name`,
			`input[name="repository[name]"]`,
			`input[data-testid="repository-name-input"]`,
			`input[aria-label*="Repository name"]`,
		},
	},
	{
		domain:   "github.com",
		keywords: []string{"description"},
		selectors: []string{
			`input#repository_description`,
			`input[name="repository[description]"]`,
			`input[aria-label*="Description"]`,
		},
	},
	{
		domain:   "github.com",
		keywords: []string{"readme"},
		selectors: []string{
			`input#repository_auto_init`,
			`input[name="repository[auto_init]"]`,
			`input[type="checkbox"][aria-label*="README"]`,
		},
	},
	{
		domain:   "github.com",
		keywords: []string{"create repository", "create the repository", "finish", "submit"},
		selectors: []string{
			`button[type="submit"][data-disable-with]`,
			`form[action="/repositories"] button[type="submit"]`,
			`button[type="submit"]`,
		},
	},
}

// heuristicSelectors returns the candidate selectors whose platform rule
// matches the page URL and the action message, preserving table order.
func heuristicSelectors(pageURL, message string) []string {
	url := strings.ToLower(pageURL)
	msg := strings.ToLower(message)

	var out []string
	for _, h := range platformHeuristics {
		if !strings.Contains(url, h.domain) {
			continue
		}
		for _, kw := range h.keywords {
			if strings.Contains(msg, kw) {
				out = append(out, h.selectors...)
				break
			}
		}
	}
	return out
}
