// Package devserver is a self-contained demo backend: an in-memory CRM of
// employees and onboarding tasks plus the guidance API the client speaks. It
// exists so the whole pipeline can be exercised without a production backend.
package devserver

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"onboard/internal/config"
	"onboard/internal/kb"
	"onboard/internal/logging"
	"onboard/internal/model"
)

// analyticsEvent records a task that left the board.
type analyticsEvent struct {
	At       time.Time `json:"at"`
	TaskID   string    `json:"task_id"`
	Employee string    `json:"employee_id"`
	Title    string    `json:"title"`
	Outcome  string    `json:"outcome"`
}

// CatalogSource yields the knowledge base to generate guidance from. A
// hot-reloading *kb.Store satisfies it, as does a fixed *kb.KB.
type CatalogSource interface {
	Current() *kb.KB
}

type Server struct {
	catalog    CatalogSource
	matcherCfg config.MatcherConfig

	mu        sync.Mutex
	employees map[string]*model.Employee
	tasks     map[string]*model.Task
	nextTask  int
	analytics []analyticsEvent

	srv *http.Server
	ln  net.Listener
}

func New(catalog CatalogSource, matcherCfg config.MatcherConfig) *Server {
	s := &Server{
		catalog:    catalog,
		matcherCfg: matcherCfg,
	}
	s.seed()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/employee/task", s.handleEmployeeTask)
	mux.HandleFunc("POST /api/guidance", s.handleGuidance)
	mux.HandleFunc("POST /api/task/progress", s.handleProgress)
	mux.HandleFunc("POST /api/chat/parse-task", s.handleParseTask)
	mux.HandleFunc("GET /api/employees", s.handleEmployees)
	mux.HandleFunc("GET /api/employees/{id}/tasks", s.handleEmployeeTasks)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("PATCH /api/tasks/{id}", s.handlePatchTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	mux.HandleFunc("GET /api/analytics/completions", s.handleAnalytics)
	mux.HandleFunc("GET /api/kb/actions", s.handleKBActions)
	mux.HandleFunc("GET /api/ai/status", s.handleAIStatus)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.srv = &http.Server{Handler: mux}
	return s
}

// Handler exposes the mux, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Listen serves on addr until Close.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	logging.Devserver("demo backend on http://%s", ln.Addr())
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Devserver("serve: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, empty before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Close() error {
	return s.srv.Close()
}

// seed loads the demo fixtures: two employees and a spread of tasks.
func (s *Server) seed() {
	s.employees = map[string]*model.Employee{
		"emp_001": {ID: "emp_001", Name: "John Doe", Email: "john@company.com", Role: "Software Engineer"},
		"emp_002": {ID: "emp_002", Name: "Jane Smith", Email: "jane@company.com", Role: "DevOps Engineer"},
	}
	s.tasks = make(map[string]*model.Task)
	s.nextTask = 1
	s.analytics = nil

	now := time.Now().UTC().Format(time.RFC3339)
	seedTasks := []*model.Task{
		{EmployeeID: "emp_001", Title: "Create a new repository", Type: "create_repo",
			Platform: "github.com", Status: model.TaskStatusInProgress, TotalSteps: 4, Priority: 1},
		{EmployeeID: "emp_001", Title: "Edit the README file", Type: "edit_readme",
			Platform: "github.com", Status: model.TaskStatusAssigned, TotalSteps: 7, Priority: 2},
		{EmployeeID: "emp_001", Title: "Open a new issue", Type: "create_issue",
			Platform: "github.com", Status: model.TaskStatusPending, TotalSteps: 5, Priority: 3},
		{EmployeeID: "emp_002", Title: "Fork a repository", Type: "fork",
			Platform: "github.com", Status: model.TaskStatusAssigned, TotalSteps: 3, Priority: 1},
		{EmployeeID: "emp_002", Title: "Create a new file", Type: "create_file",
			Platform: "github.com", Status: model.TaskStatusPending, TotalSteps: 6, Priority: 2},
		{EmployeeID: "emp_002", Title: "Create a new repository", Type: "create_repo",
			Platform: "github.com", Status: model.TaskStatusCancelled, TotalSteps: 4, Priority: 3},
	}
	for _, t := range seedTasks {
		t.ID = fmt.Sprintf("task_%03d", s.nextTask)
		t.CreatedAt = now
		s.nextTask++
		s.tasks[t.ID] = t
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

// activeTasks returns the employee's workable tasks, in-progress first, then
// by priority.
func (s *Server) activeTasks(employeeID string) []*model.Task {
	var out []*model.Task
	for _, t := range s.tasks {
		if t.EmployeeID == employeeID && t.Status.Active() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ip := out[i].Status != model.TaskStatusInProgress
		jp := out[j].Status != model.TaskStatusInProgress
		if ip != jp {
			return !ip
		}
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Server) handleEmployeeTask(w http.ResponseWriter, r *http.Request) {
	var req model.TaskLookupRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	emp, ok := s.employees[req.EmployeeID]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown employee: "+req.EmployeeID)
		return
	}

	tasks := s.activeTasks(req.EmployeeID)
	if len(tasks) == 0 {
		writeJSON(w, http.StatusOK, model.TaskLookup{
			HasActiveTask: false,
			Message:       "No pending tasks. Great job!",
			Employee:      emp,
		})
		return
	}

	task := tasks[0]
	if task.Status != model.TaskStatusInProgress {
		task.Status = model.TaskStatusInProgress
	}
	writeJSON(w, http.StatusOK, model.TaskLookup{
		HasActiveTask: true,
		Employee:      emp,
		Task:          task,
	})
}

func (s *Server) handleGuidance(w http.ResponseWriter, r *http.Request) {
	var pc model.PageContext
	if !decode(w, r, &pc) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task := s.taskForContext(&pc)
	if task == nil {
		writeJSON(w, http.StatusOK, model.GuidanceResponse{
			GuidanceText: "No active task for this page.",
		})
		return
	}

	action, ok := s.actionForTask(task)
	if !ok {
		writeJSON(w, http.StatusOK, model.GuidanceResponse{
			StepNumber:   task.StepsCompleted + 1,
			TotalSteps:   task.TotalSteps,
			GuidanceText: "Follow your onboarding checklist for: " + task.Title,
		})
		return
	}

	step := detectStep(task, pc.URL)
	if step >= len(action.Steps) {
		task.StepsCompleted = task.TotalSteps
		task.Status = model.TaskStatusCompleted
		writeJSON(w, http.StatusOK, model.GuidanceResponse{
			TaskComplete: true,
			StepNumber:   len(action.Steps) + 1,
			TotalSteps:   len(action.Steps),
			GuidanceText: "Task complete: " + task.Title,
		})
		return
	}

	resp := action.Generate(step)
	writeJSON(w, http.StatusOK, resp)
}

// taskForContext picks the task the page context belongs to: the named one
// when present, otherwise the employee's top active task.
func (s *Server) taskForContext(pc *model.PageContext) *model.Task {
	if pc.TaskID != "" {
		if t, ok := s.tasks[pc.TaskID]; ok && t.Status.Active() {
			return t
		}
	}
	tasks := s.activeTasks(pc.EmployeeID)
	if len(tasks) == 0 {
		return nil
	}
	return tasks[0]
}

// actionForTask resolves the catalog flow for a task, by type first, then by
// title match.
func (s *Server) actionForTask(task *model.Task) (kb.Action, bool) {
	cat := s.catalog.Current()
	for pname, p := range cat.Platforms {
		if !strings.Contains(strings.ToLower(task.Platform), strings.ToLower(p.Domain)) &&
			!strings.Contains(strings.ToLower(p.Domain), strings.ToLower(task.Platform)) {
			continue
		}
		if a, ok := cat.Lookup(pname, task.Type); ok {
			return a, true
		}
	}
	matcher := kb.NewMatcher(cat, s.matcherCfg)
	if best, ok := matcher.Best(task.Title, "https://"+task.Platform); ok {
		return best.Action, true
	}
	return kb.Action{}, false
}

// detectStep infers how far through a GitHub repository-creation flow the
// page URL says the user is, falling back to the recorded count for flows
// the URL cannot place.
func detectStep(task *model.Task, url string) int {
	recorded := task.StepsCompleted
	if task.Type != "create_repo" || !strings.Contains(url, "github.com") {
		return recorded
	}

	path := strings.TrimPrefix(url, "https://")
	path = strings.TrimPrefix(path, "http://")
	path = strings.TrimPrefix(path, "github.com")
	path = strings.Trim(path, "/")

	switch {
	case path == "":
		// Homepage: the flow has not started.
		return 0
	case path == "new" || strings.HasPrefix(path, "new?"):
		if recorded < 1 {
			return 1
		}
		return recorded
	case len(strings.Split(path, "/")) == 2 && !strings.Contains(path, "?"):
		// owner/repo: the repository exists, so the flow is done.
		return task.TotalSteps
	default:
		return recorded
	}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	var req model.ProgressRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[req.TaskID]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown task: "+req.TaskID)
		return
	}
	if task.EmployeeID != req.EmployeeID {
		writeError(w, http.StatusForbidden, "task belongs to another employee")
		return
	}

	if req.StepCompleted > task.StepsCompleted {
		task.StepsCompleted = task.ClampSteps(req.StepCompleted)
	}
	logging.Devserver("progress %s: %d/%d", task.ID, task.StepsCompleted, task.TotalSteps)

	if task.StepsCompleted >= task.TotalSteps {
		s.finishTask(task, "completed")
		writeJSON(w, http.StatusOK, model.ProgressResult{
			Status:         "completed",
			StepsCompleted: task.TotalSteps,
			TaskStatus:     model.TaskStatusCompleted,
			Note:           "Task completed and archived",
		})
		return
	}

	writeJSON(w, http.StatusOK, model.ProgressResult{
		Status:         "updated",
		StepsCompleted: task.StepsCompleted,
		TaskStatus:     task.Status,
	})
}

// finishTask archives a finished task: it leaves the board and lands in the
// analytics log.
func (s *Server) finishTask(task *model.Task, outcome string) {
	task.Status = model.TaskStatusCompleted
	s.analytics = append(s.analytics, analyticsEvent{
		At:       time.Now().UTC(),
		TaskID:   task.ID,
		Employee: task.EmployeeID,
		Title:    task.Title,
		Outcome:  outcome,
	})
	delete(s.tasks, task.ID)
	logging.Devserver("task %s %s, removed from board", task.ID, outcome)
}

func (s *Server) handleParseTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EmployeeID string `json:"employee_id"`
		Text       string `json:"text"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cat := s.catalog.Current()
	matcher := kb.NewMatcher(cat, s.matcherCfg)
	best, ok := matcher.Best(req.Text, "")
	if !ok {
		ranked := matcher.Rank(req.Text, "")
		writeJSON(w, http.StatusOK, map[string]any{
			"matched":    false,
			"message":    "No catalog action matches; rephrase or pick one manually.",
			"candidates": rankedKeys(ranked),
		})
		return
	}

	platform := cat.Platforms[best.Platform]
	task := s.createTaskLocked(req.EmployeeID, best.Action.Title, best.Key,
		platform.Domain, len(best.Action.Steps), 5)
	writeJSON(w, http.StatusOK, map[string]any{
		"matched": true,
		"score":   best.Score,
		"task":    task,
	})
}

func rankedKeys(rs []kb.MatchResult) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, fmt.Sprintf("%s/%s (%.2f)", r.Platform, r.Key, r.Score))
	}
	return out
}

func (s *Server) handleEmployees(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEmployeeTasks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.employees[id]; !ok {
		writeError(w, http.StatusNotFound, "unknown employee: "+id)
		return
	}
	tasks := s.activeTasks(id)
	if tasks == nil {
		tasks = []*model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EmployeeID string `json:"employee_id"`
		Title      string `json:"title"`
		Type       string `json:"type"`
		Platform   string `json:"platform"`
		TotalSteps int    `json:"total_steps"`
		Priority   int    `json:"priority"`
	}
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.employees[req.EmployeeID]; !ok {
		writeError(w, http.StatusNotFound, "unknown employee: "+req.EmployeeID)
		return
	}
	if req.Title == "" || req.TotalSteps <= 0 {
		writeError(w, http.StatusBadRequest, "title and positive total_steps are required")
		return
	}

	task := s.createTaskLocked(req.EmployeeID, req.Title, req.Type,
		req.Platform, req.TotalSteps, req.Priority)
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) createTaskLocked(employeeID, title, taskType, platform string, totalSteps, priority int) *model.Task {
	task := &model.Task{
		ID:         fmt.Sprintf("task_%03d", s.nextTask),
		EmployeeID: employeeID,
		Title:      title,
		Type:       taskType,
		Platform:   platform,
		Status:     model.TaskStatusAssigned,
		TotalSteps: totalSteps,
		Priority:   priority,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	s.nextTask++
	s.tasks[task.ID] = task
	return task
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Status         *model.TaskStatus `json:"status"`
		StepsCompleted *int              `json:"steps_completed"`
		Priority       *int              `json:"priority"`
	}
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown task: "+id)
		return
	}

	if req.Status != nil {
		if !task.Status.CanTransitionTo(*req.Status) {
			writeError(w, http.StatusConflict,
				fmt.Sprintf("cannot transition %s from %s to %s", id, task.Status, *req.Status))
			return
		}
		task.Status = *req.Status
	}
	if req.StepsCompleted != nil {
		task.StepsCompleted = task.ClampSteps(*req.StepsCompleted)
	}
	if req.Priority != nil {
		task.Priority = *req.Priority
	}

	if task.Status == model.TaskStatusCompleted || task.StepsCompleted >= task.TotalSteps {
		s.finishTask(task, "completed")
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown task: "+id)
		return
	}
	s.finishTask(task, "removed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "task_id": id})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]analyticsEvent{}, s.analytics...)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleKBActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"actions": s.catalog.Current().ActionKeys()})
}

func (s *Server) handleAIStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": false,
		"reason":  "demo backend serves catalog guidance only",
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.seed()
	s.mu.Unlock()
	logging.Devserver("fixtures reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
