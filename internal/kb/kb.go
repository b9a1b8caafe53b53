// Package kb holds the action knowledge base: curated step-by-step flows for
// known platforms, loaded from YAML. The guidance generator turns one step of
// a flow into concrete overlay actions, and the matcher scores free-form task
// titles against the catalog.
package kb

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"onboard/internal/model"
)

// Step is one stage of a flow. Targets may be bare selector strings or full
// target entries; both decode into Target.
type Step struct {
	Description string   `yaml:"description"`
	Tip         string   `yaml:"tip,omitempty"`
	URLHint     string   `yaml:"url_hint,omitempty"`
	Targets     []Target `yaml:"targets,omitempty"`
}

// Target names one element to decorate during a step.
type Target struct {
	Selector     string   `yaml:"selector"`
	Message      string   `yaml:"message,omitempty"`
	Required     bool     `yaml:"required,omitempty"`
	Action       string   `yaml:"action,omitempty"`
	Alternatives []string `yaml:"alternatives,omitempty"`
}

// UnmarshalYAML accepts either a plain selector string or a full mapping.
func (t *Target) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		t.Selector = value.Value
		return nil
	}
	type raw Target
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	*t = Target(r)
	return nil
}

// Action is one complete flow, e.g. creating a repository.
type Action struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description,omitempty"`
	Keywords    []string `yaml:"keywords,omitempty"`
	URLPatterns []string `yaml:"url_patterns,omitempty"`
	Steps       []Step   `yaml:"steps"`
}

// Platform groups the flows of one site.
type Platform struct {
	Domain  string            `yaml:"domain"`
	Actions map[string]Action `yaml:"actions"`
}

// KB is the loaded catalog.
type KB struct {
	Platforms map[string]Platform `yaml:"platforms"`
}

// Load reads and validates a knowledge base file.
func Load(path string) (*KB, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read kb: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates knowledge base YAML.
func Parse(data []byte) (*KB, error) {
	var kb KB
	if err := yaml.Unmarshal(data, &kb); err != nil {
		return nil, fmt.Errorf("decode kb: %w", err)
	}
	if err := kb.Validate(); err != nil {
		return nil, err
	}
	return &kb, nil
}

// Validate rejects catalogs a generator could not serve.
func (kb *KB) Validate() error {
	if len(kb.Platforms) == 0 {
		return fmt.Errorf("kb has no platforms")
	}
	for pname, p := range kb.Platforms {
		if p.Domain == "" {
			return fmt.Errorf("platform %q missing domain", pname)
		}
		for aname, a := range p.Actions {
			if a.Title == "" {
				return fmt.Errorf("action %s/%s missing title", pname, aname)
			}
			if len(a.Steps) == 0 {
				return fmt.Errorf("action %s/%s has no steps", pname, aname)
			}
			for i, s := range a.Steps {
				if s.Description == "" {
					return fmt.Errorf("action %s/%s step %d missing description", pname, aname, i)
				}
			}
		}
	}
	return nil
}

// Current returns the catalog itself, so a fixed *KB can stand in wherever a
// hot-reloading Store is accepted.
func (kb *KB) Current() *KB { return kb }

// Lookup returns an action by platform and key.
func (kb *KB) Lookup(platform, action string) (Action, bool) {
	p, ok := kb.Platforms[platform]
	if !ok {
		return Action{}, false
	}
	a, ok := p.Actions[action]
	return a, ok
}

// ActionKeys lists platform/action pairs in stable order, for inspection
// surfaces.
func (kb *KB) ActionKeys() []string {
	var keys []string
	for pname, p := range kb.Platforms {
		for aname := range p.Actions {
			keys = append(keys, pname+"/"+aname)
		}
	}
	sort.Strings(keys)
	return keys
}

// Generate builds the overlay payload for one step of an action. stepIndex is
// clamped into the valid range, so a caller racing past the end still gets
// the final step instead of nothing. Steps with no concrete targets degrade
// to a body-anchored tooltip carrying the step description.
func (a Action) Generate(stepIndex int) model.GuidanceResponse {
	if stepIndex < 0 {
		stepIndex = 0
	}
	if stepIndex >= len(a.Steps) {
		stepIndex = len(a.Steps) - 1
	}
	step := a.Steps[stepIndex]

	var actions []model.GuidanceAction
	for _, t := range step.Targets {
		kind := model.ActionKind(t.Action)
		if kind == "" {
			kind = model.ActionHighlight
		}
		priority := 3
		if t.Required {
			priority = 4
		}
		msg := t.Message
		if msg == "" {
			msg = step.Description
		}
		actions = append(actions, model.GuidanceAction{
			TargetSelector: t.Selector,
			ActionType:     kind,
			Message:        msg,
			Animation:      "pulse",
			Priority:       priority,
			Alternatives:   t.Alternatives,
		})
	}
	if len(actions) == 0 {
		actions = append(actions, model.GuidanceAction{
			TargetSelector: "body",
			ActionType:     model.ActionTooltip,
			Message:        step.Description,
			Priority:       2,
		})
	}

	return model.GuidanceResponse{
		Actions:         actions,
		Tip:             step.Tip,
		StepNumber:      stepIndex + 1,
		TotalSteps:      len(a.Steps),
		StepDescription: step.Description,
		GuidanceText:    fmt.Sprintf("Step %d of %d: %s", stepIndex+1, len(a.Steps), step.Description),
		Confidence:      1.0,
	}
}

// MatchesURL reports whether any of the action's URL patterns appears in url.
func (a Action) MatchesURL(url string) bool {
	lower := strings.ToLower(url)
	for _, p := range a.URLPatterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
