// Package model defines the wire and domain types shared by the guidance
// controller, the backend client, and the dev server.
package model

import (
	"fmt"
	"strings"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusAssigned   TaskStatus = "assigned"
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// Active reports whether a task in this status should receive guidance.
func (s TaskStatus) Active() bool {
	switch s {
	case TaskStatusAssigned, TaskStatusPending, TaskStatusInProgress:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status machine allows moving to next.
// Progress is monotone: assigned/pending -> in_progress -> completed.
// Cancellation is reachable from any non-terminal state.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	if next == TaskStatusCancelled {
		return true
	}
	switch s {
	case TaskStatusAssigned, TaskStatusPending:
		return next == TaskStatusInProgress || next == TaskStatusCompleted
	case TaskStatusInProgress:
		return next == TaskStatusCompleted
	}
	return false
}

// Task is one assigned unit of work, owned by the external system of record.
type Task struct {
	ID             string     `json:"id"`
	EmployeeID     string     `json:"employee_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Type           string     `json:"type"`
	Platform       string     `json:"platform"`
	Status         TaskStatus `json:"status"`
	StepsCompleted int        `json:"steps_completed"`
	TotalSteps     int        `json:"total_steps"`
	Priority       int        `json:"priority"`
	CreatedAt      string     `json:"created_at,omitempty"`
}

// Validate checks the task invariants.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task missing id")
	}
	if t.TotalSteps <= 0 {
		return fmt.Errorf("task %s: total_steps must be positive, got %d", t.ID, t.TotalSteps)
	}
	if t.StepsCompleted < 0 || t.StepsCompleted > t.TotalSteps {
		return fmt.Errorf("task %s: steps_completed %d out of range [0, %d]", t.ID, t.StepsCompleted, t.TotalSteps)
	}
	return nil
}

// ClampSteps forces n into [0, TotalSteps].
func (t *Task) ClampSteps(n int) int {
	if n < 0 {
		return 0
	}
	if n > t.TotalSteps {
		return t.TotalSteps
	}
	return n
}

// MatchesURL reports whether the task's platform domain appears in url.
func (t *Task) MatchesURL(url string) bool {
	if t.Platform == "" {
		return false
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(t.Platform))
}

// Employee identifies who the guidance is for.
type Employee struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}
