package model

import "strings"

// ActionKind is the kind of cue a guidance action asks for.
type ActionKind string

const (
	ActionHighlight ActionKind = "highlight"
	ActionClick     ActionKind = "click"
	ActionSubmit    ActionKind = "submit"
	ActionTooltip   ActionKind = "tooltip"
	ActionNone      ActionKind = "none"
)

// Interactive reports whether the action targets a control the user is
// expected to activate.
func (k ActionKind) Interactive() bool {
	return k == ActionClick || k == ActionSubmit
}

// TooltipPosition is the preferred side for the message callout.
type TooltipPosition string

const (
	PositionTop    TooltipPosition = "top"
	PositionBottom TooltipPosition = "bottom"
	PositionLeft   TooltipPosition = "left"
	PositionRight  TooltipPosition = "right"
)

// GuidanceAction is one instruction for the current step. Produced fresh per
// guidance fetch, consumed immediately, discarded.
type GuidanceAction struct {
	TargetSelector string          `json:"target_selector"`
	ActionType     ActionKind      `json:"action_type"`
	Message        string          `json:"message"`
	Position       TooltipPosition `json:"position,omitempty"`
	Animation      string          `json:"animation,omitempty"`
	Priority       int             `json:"priority,omitempty"`
	Alternatives   []string        `json:"alternatives,omitempty"`
}

// TooltipSide returns the requested callout side, defaulting to bottom.
func (a *GuidanceAction) TooltipSide() TooltipPosition {
	switch a.Position {
	case PositionTop, PositionBottom, PositionLeft, PositionRight:
		return a.Position
	}
	return PositionBottom
}

// Generic reports whether the action has no usable element target.
func (a *GuidanceAction) Generic() bool {
	sel := strings.TrimSpace(strings.ToLower(a.TargetSelector))
	return sel == "" || sel == "body" || sel == "html"
}

// GuidanceResponse is the result of one guidance fetch for the current page
// context. StepNumber, when positive, is the authoritative source for the
// task's steps_completed.
type GuidanceResponse struct {
	Actions            []GuidanceAction `json:"actions"`
	Tip                string           `json:"tip,omitempty"`
	Explanation        string           `json:"explanation,omitempty"`
	StepNumber         int              `json:"step_number,omitempty"`
	TotalSteps         int              `json:"total_steps,omitempty"`
	TaskComplete       bool             `json:"task_complete,omitempty"`
	Confidence         float64          `json:"confidence,omitempty"`
	NextStepPrediction string           `json:"next_step_prediction,omitempty"`
	AIGenerated        bool             `json:"ai_generated,omitempty"`
	StepDescription    string           `json:"step_description,omitempty"`
	GuidanceText       string           `json:"guidance_text,omitempty"`
}

// AllGeneric reports whether every action targets the whole page, in which
// case element anchoring is pointless and the text panel should be used.
func (r *GuidanceResponse) AllGeneric() bool {
	if len(r.Actions) == 0 {
		return true
	}
	for i := range r.Actions {
		if !r.Actions[i].Generic() {
			return false
		}
	}
	return true
}

// PanelText assembles the degraded-guidance panel text: the step description
// when present, else the concatenated action messages, else the guidance text.
func (r *GuidanceResponse) PanelText() string {
	if r.StepDescription != "" {
		return r.StepDescription
	}
	var parts []string
	for i := range r.Actions {
		if m := strings.TrimSpace(r.Actions[i].Message); m != "" {
			parts = append(parts, m)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}
	if r.GuidanceText != "" {
		return r.GuidanceText
	}
	return ""
}
