package model

// PageContext is the request body for POST /api/guidance. DOMElements is the
// bounded interactive-element summary produced by the page sampler.
type PageContext struct {
	URL             string   `json:"url"`
	PageTitle       string   `json:"page_title"`
	VisibleText     string   `json:"visible_text"`
	DOMElements     []string `json:"dom_elements"`
	EmployeeID      string   `json:"employee_id"`
	TaskID          string   `json:"task_id,omitempty"`
	PreviousActions []string `json:"previous_actions,omitempty"`
	CurrentStep     *int     `json:"current_step,omitempty"`
}

// TaskLookupRequest is the request body for POST /api/employee/task.
type TaskLookupRequest struct {
	EmployeeID string `json:"employee_id"`
	CurrentURL string `json:"current_url"`
}

// TaskLookup is the response of POST /api/employee/task.
type TaskLookup struct {
	HasActiveTask bool      `json:"has_active_task"`
	Message       string    `json:"message,omitempty"`
	Employee      *Employee `json:"employee,omitempty"`
	Task          *Task     `json:"task,omitempty"`
}

// ProgressRequest is the request body for POST /api/task/progress.
type ProgressRequest struct {
	EmployeeID    string `json:"employee_id"`
	TaskID        string `json:"task_id"`
	StepCompleted int    `json:"step_completed"`
	ActionTaken   string `json:"action_taken,omitempty"`
}

// ProgressResult is the response of POST /api/task/progress.
type ProgressResult struct {
	Status         string     `json:"status"`
	StepsCompleted int        `json:"steps_completed"`
	TaskStatus     TaskStatus `json:"task_status"`
	Note           string     `json:"note,omitempty"`
}
