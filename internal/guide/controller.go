// Package guide runs the guidance session: it looks up the employee's active
// task, fetches step guidance for the page the browser is on, paints overlays,
// arms the advance trigger, and reports progress. All session state is owned
// by a single event-loop goroutine; the rest of the program talks to it
// through commands and the status feed.
package guide

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"onboard/internal/browser"
	"onboard/internal/config"
	"onboard/internal/logging"
	"onboard/internal/model"
	"onboard/internal/navwatch"
	"onboard/internal/overlay"
	"onboard/internal/progress"
	"onboard/internal/resolve"
)

// State is the controller's lifecycle phase.
type State string

const (
	StateIdle     State = "idle"
	StateChecking State = "checking"
	StateActive   State = "active"
	StateComplete State = "complete"
)

// Backend is the slice of the API client the controller uses.
// *backend.Client satisfies it.
type Backend interface {
	LookupTask(ctx context.Context, employeeID, currentURL string) (*model.TaskLookup, error)
	FetchGuidance(ctx context.Context, pageCtx model.PageContext) (*model.GuidanceResponse, error)
	PushProgress(ctx context.Context, req model.ProgressRequest) (*model.ProgressResult, error)
}

// Page is the browser surface the controller samples and drains.
// *browser.Session satisfies it.
type Page interface {
	EvalJSON(ctx context.Context, fnJS string, args ...any) (json.RawMessage, error)
	CurrentURL(ctx context.Context) (string, error)
	DrainEvents(ctx context.Context) ([]browser.PageEvent, error)
}

// Resolver finds guidance targets. *resolve.Resolver satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, action model.GuidanceAction, pageURL string) (*resolve.Match, error)
}

// Renderer paints and clears overlays. *overlay.Renderer satisfies it.
type Renderer interface {
	RenderSequence(ctx context.Context, items []overlay.Item) error
	RenderPanel(ctx context.Context, text string) error
	ClearAll(ctx context.Context) error
}

// Trigger arms the advance control. *progress.Trigger satisfies it.
type Trigger interface {
	Arm(ctx context.Context, token string) error
	Disarm()
	Matches(token string) bool
	Armed() bool
}

// Recorder receives session events for the history journal. Optional.
type Recorder interface {
	Record(ctx context.Context, kind, taskID, detail string) error
}

// Sampler captures the page context for a guidance fetch.
type Sampler func(ctx context.Context, page Page, maxElems, maxChars int) (*model.PageContext, error)

// Status is a snapshot of the session, safe to share.
type Status struct {
	State          State           `json:"state"`
	URL            string          `json:"url,omitempty"`
	Employee       *model.Employee `json:"employee,omitempty"`
	Task           *model.Task     `json:"task,omitempty"`
	StepNumber     int             `json:"step_number,omitempty"`
	TotalSteps     int             `json:"total_steps,omitempty"`
	StepText       string          `json:"step_text,omitempty"`
	Prompt         string          `json:"prompt,omitempty"`
	LastGuidanceAt time.Time       `json:"last_guidance_at,omitempty"`
}

// Deps wires the controller's collaborators.
type Deps struct {
	Backend  Backend
	Page     Page
	Resolver Resolver
	Renderer Renderer
	Trigger  Trigger
	Nav      <-chan navwatch.Change
	// NavSink receives history-hook navigation URLs from the event drain.
	// The controller is the only consumer of the in-page buffer; the
	// navigation watcher gets its share through this hand-off.
	NavSink  func(url string)
	Sampler  Sampler
	Recorder Recorder
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdRefresh
	cmdStatus
)

type command struct {
	kind  cmdKind
	reply chan Status
}

type lookupResult struct {
	lookup *model.TaskLookup
	url    string
	err    error
}

type fetchResult struct {
	seq  int
	url  string
	resp *model.GuidanceResponse
	err  error
}

type Controller struct {
	cfg  *config.Config
	deps Deps

	cmds    chan command
	lookups chan lookupResult
	fetches chan fetchResult

	subMu sync.Mutex
	subs  []func(Status)

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// Everything below is owned by the event loop.
	state      State
	task       *model.Task
	employee   *model.Employee
	currentURL string
	fetchSeq   int
	stepText   string
	prompt     string
	lastFetch  time.Time
	idleSince  time.Time
	suppressor progress.Suppressor
}

func New(cfg *config.Config, deps Deps) *Controller {
	if deps.Sampler == nil {
		deps.Sampler = defaultSampler
	}
	return &Controller{
		cfg:     cfg,
		deps:    deps,
		cmds:    make(chan command),
		lookups: make(chan lookupResult, 1),
		fetches: make(chan fetchResult, 4),
		state:   StateIdle,
	}
}

// Run starts the event loop. Call once; Stop the controller with Close or by
// cancelling ctx.
func (c *Controller) Run(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return errors.New("controller already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.idleSince = time.Now()
	go c.loop(runCtx)
	return nil
}

// Close stops the event loop and waits for it to exit. Idempotent.
func (c *Controller) Close() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
}

// Subscribe registers a status listener. Listeners are called from the event
// loop and must return quickly.
func (c *Controller) Subscribe(fn func(Status)) {
	c.subMu.Lock()
	c.subs = append(c.subs, fn)
	c.subMu.Unlock()
}

// Start asks the controller to look up the active task and begin guiding.
func (c *Controller) Start() Status { return c.send(cmdStart) }

// Stop ends guidance, clears overlays, and returns to idle. Stopping an idle
// controller is a no-op.
func (c *Controller) Stop() Status { return c.send(cmdStop) }

// Refresh forces a guidance re-fetch for the current page.
func (c *Controller) Refresh() Status { return c.send(cmdRefresh) }

// Status returns the current session snapshot.
func (c *Controller) Status() Status { return c.send(cmdStatus) }

// HasActiveTask reports whether a task is being guided.
func (c *Controller) HasActiveTask() bool {
	s := c.Status()
	return s.State == StateActive && s.Task != nil
}

func (c *Controller) send(kind cmdKind) Status {
	cmd := command{kind: kind, reply: make(chan Status, 1)}
	c.runMu.Lock()
	done := c.done
	c.runMu.Unlock()
	if done == nil {
		return Status{State: StateIdle}
	}
	select {
	case c.cmds <- cmd:
		return <-cmd.reply
	case <-done:
		return Status{State: StateIdle}
	}
}

func (c *Controller) loop(ctx context.Context) {
	defer close(c.done)

	drain := time.NewTicker(c.cfg.DrainInterval())
	defer drain.Stop()
	idle := time.NewTicker(c.cfg.IdleRecheck())
	defer idle.Stop()

	if c.cfg.Guide.AutoStart {
		c.beginLookup(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return

		case cmd := <-c.cmds:
			c.handleCommand(ctx, cmd)

		case res := <-c.lookups:
			c.handleLookup(ctx, res)

		case res := <-c.fetches:
			c.handleFetch(ctx, res)

		case change, ok := <-c.navChanges():
			if !ok {
				continue
			}
			c.handleNavigation(ctx, change)

		case <-drain.C:
			c.drainPageEvents(ctx)

		case <-idle.C:
			c.handleIdleTick(ctx)
		}
	}
}

func (c *Controller) navChanges() <-chan navwatch.Change {
	if c.deps.Nav == nil {
		return nil
	}
	return c.deps.Nav
}

func (c *Controller) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdStart:
		if c.state == StateIdle || c.state == StateComplete {
			c.beginLookup(ctx)
		}
	case cmdStop:
		c.stopGuidance(ctx, "stopped")
	case cmdRefresh:
		if c.state == StateActive {
			c.suppressor.Clear()
			c.beginFetch(ctx)
		}
	case cmdStatus:
		// Snapshot only.
	}
	cmd.reply <- c.snapshot()
}

// beginLookup moves to checking and asks the backend whether a task is
// assigned.
func (c *Controller) beginLookup(ctx context.Context) {
	c.setState(StateChecking)
	go func() {
		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout())
		defer cancel()

		url, err := c.deps.Page.CurrentURL(fetchCtx)
		if err != nil {
			logging.GuideWarn("task lookup: current url: %v", err)
		}
		lookup, err := c.deps.Backend.LookupTask(fetchCtx, c.cfg.Backend.EmployeeID, url)
		select {
		case c.lookups <- lookupResult{lookup: lookup, url: url, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) handleLookup(ctx context.Context, res lookupResult) {
	if c.state != StateChecking {
		return
	}
	if res.err != nil {
		logging.GuideError("task lookup failed: %v", res.err)
		c.setState(StateIdle)
		return
	}
	c.currentURL = res.url
	if !res.lookup.HasActiveTask || res.lookup.Task == nil {
		logging.Guide("no active task for %s", c.cfg.Backend.EmployeeID)
		c.setState(StateIdle)
		return
	}

	c.task = res.lookup.Task
	c.employee = res.lookup.Employee
	c.record(ctx, "task_started", c.task.ID, c.task.Title)
	logging.Guide("guiding task %s: %s (%d/%d)",
		c.task.ID, c.task.Title, c.task.StepsCompleted, c.task.TotalSteps)
	c.setState(StateActive)
	c.beginFetch(ctx)
}

// beginFetch samples the page and requests guidance, tagged with the URL and
// sequence at issue time so stale responses can be discarded.
func (c *Controller) beginFetch(ctx context.Context) {
	if c.suppressor.Active() {
		logging.GuideDebug("fetch suppressed for %s", c.suppressor.Remaining())
		c.scheduleRetry(ctx)
		return
	}

	c.fetchSeq++
	seq := c.fetchSeq
	url := c.currentURL
	task := *c.task

	go func() {
		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout())
		defer cancel()

		pc, err := c.deps.Sampler(fetchCtx, c.deps.Page,
			c.cfg.Guide.MaxDOMElements, c.cfg.Guide.MaxVisibleChars)
		if err != nil {
			c.deliverFetch(ctx, fetchResult{seq: seq, url: url, err: err})
			return
		}
		pc.EmployeeID = c.cfg.Backend.EmployeeID
		pc.TaskID = task.ID
		step := task.StepsCompleted
		pc.CurrentStep = &step
		if pc.URL == "" {
			pc.URL = url
		}

		resp, err := c.deps.Backend.FetchGuidance(fetchCtx, *pc)
		c.deliverFetch(ctx, fetchResult{seq: seq, url: url, resp: resp, err: err})
	}()
}

func (c *Controller) deliverFetch(ctx context.Context, res fetchResult) {
	select {
	case c.fetches <- res:
	case <-ctx.Done():
	}
}

// scheduleRetry re-issues the fetch once the suppression window closes.
func (c *Controller) scheduleRetry(ctx context.Context) {
	seq := c.fetchSeq
	url := c.currentURL
	wait := c.suppressor.Remaining()
	go func() {
		select {
		case <-time.After(wait):
			c.deliverFetch(ctx, fetchResult{seq: seq, url: url, resp: nil, err: errRetry})
		case <-ctx.Done():
		}
	}()
}

var errRetry = errors.New("suppression window closed")

func (c *Controller) handleFetch(ctx context.Context, res fetchResult) {
	if c.state != StateActive || c.task == nil {
		return
	}
	if res.url != c.currentURL || res.seq != c.fetchSeq {
		logging.GuideDebug("discarding stale guidance for %s", res.url)
		return
	}
	if errors.Is(res.err, errRetry) {
		c.beginFetch(ctx)
		return
	}
	if res.err != nil {
		logging.GuideError("guidance fetch failed: %v", res.err)
		return
	}

	resp := res.resp
	c.lastFetch = time.Now()

	// The backend's step number is authoritative for progress already made.
	if resp.StepNumber > 0 {
		c.task.StepsCompleted = c.task.ClampSteps(resp.StepNumber - 1)
	}
	if resp.TaskComplete || c.task.StepsCompleted >= c.task.TotalSteps {
		c.completeTask(ctx)
		return
	}

	c.stepText = resp.PanelText()
	c.record(ctx, "guidance_shown", c.task.ID, c.stepText)
	c.renderStep(ctx, resp)
	c.setState(StateActive)
}

// renderStep clears old cues and paints the step. Generic-only steps degrade
// to the text panel; otherwise each action is resolved and rendered, and the
// first interactive match is armed as the advance trigger.
func (c *Controller) renderStep(ctx context.Context, resp *model.GuidanceResponse) {
	renderCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout())
	defer cancel()

	if err := c.deps.Renderer.ClearAll(renderCtx); err != nil {
		logging.GuideWarn("clear overlays: %v", err)
	}
	c.deps.Trigger.Disarm()

	if resp.AllGeneric() {
		if err := c.deps.Renderer.RenderPanel(renderCtx, resp.PanelText()); err != nil {
			logging.GuideWarn("render panel: %v", err)
		}
		return
	}

	var items []overlay.Item
	var armToken string
	for _, action := range resp.Actions {
		if action.ActionType == model.ActionNone {
			continue
		}
		match, err := c.deps.Resolver.Resolve(renderCtx, action, c.currentURL)
		if err != nil {
			logging.Guide("no target for %q: %v", action.TargetSelector, err)
			continue
		}
		items = append(items, overlay.Item{Match: match, Action: action})
		if armToken == "" && action.ActionType.Interactive() {
			armToken = match.Token
		}
	}

	if len(items) == 0 {
		if err := c.deps.Renderer.RenderPanel(renderCtx, resp.PanelText()); err != nil {
			logging.GuideWarn("render panel: %v", err)
		}
		return
	}

	if err := c.deps.Renderer.RenderSequence(renderCtx, items); err != nil {
		logging.GuideWarn("render step: %v", err)
	}
	if resp.Tip != "" {
		if err := c.deps.Renderer.RenderPanel(renderCtx, resp.Tip); err != nil {
			logging.GuideWarn("render tip: %v", err)
		}
	}
	if armToken != "" {
		if err := c.deps.Trigger.Arm(renderCtx, armToken); err != nil {
			logging.GuideWarn("arm trigger: %v", err)
		}
	}
}

// drainPageEvents pulls buffered page events and reacts to advance clicks on
// the armed control.
// drainPageEvents empties the in-page buffer and routes each event to its
// consumer. The controller is the sole drainer in every state so no event
// type can starve another.
func (c *Controller) drainPageEvents(ctx context.Context) {
	drainCtx, cancel := context.WithTimeout(ctx, c.cfg.DrainInterval())
	defer cancel()

	events, err := c.deps.Page.DrainEvents(drainCtx)
	if err != nil {
		logging.GuideDebug("drain events: %v", err)
		return
	}
	for _, ev := range events {
		switch ev.Type {
		case "nav":
			if c.deps.NavSink != nil {
				c.deps.NavSink(ev.URL)
			}
		case "activity", "input":
			c.idleSince = time.Now()
		case "advance":
			if c.state == StateActive && c.deps.Trigger.Matches(ev.Token) {
				c.handleAdvance(ctx)
			}
		}
	}
}

// handleAdvance runs the optimistic step bump: progress is counted locally,
// pushed to the backend without waiting, and guidance fetches are suppressed
// so the next response cannot roll the count back. A failed push is only
// logged; the next unsuppressed fetch reconciles.
func (c *Controller) handleAdvance(ctx context.Context) {
	if c.task == nil {
		return
	}
	c.deps.Trigger.Disarm()
	completed := c.task.ClampSteps(c.task.StepsCompleted + 1)
	if completed == c.task.StepsCompleted {
		return
	}
	c.task.StepsCompleted = completed
	c.suppressor.Open(c.cfg.SuppressionWindow())
	logging.Progress("step %d/%d completed on %s",
		completed, c.task.TotalSteps, c.currentURL)
	c.record(ctx, "step_completed", c.task.ID, c.stepText)

	req := model.ProgressRequest{
		EmployeeID:    c.cfg.Backend.EmployeeID,
		TaskID:        c.task.ID,
		StepCompleted: completed,
		ActionTaken:   c.stepText,
	}
	go func() {
		pushCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout())
		defer cancel()
		if _, err := c.deps.Backend.PushProgress(pushCtx, req); err != nil {
			logging.GuideWarn("progress push failed, reconciling on next fetch: %v", err)
		}
	}()

	if completed >= c.task.TotalSteps {
		c.completeTask(ctx)
		return
	}
	c.setState(StateActive)
}

func (c *Controller) completeTask(ctx context.Context) {
	if c.task == nil {
		return
	}
	logging.Guide("task %s complete", c.task.ID)
	c.record(ctx, "task_completed", c.task.ID, c.task.Title)

	// Backend-reported completions still get a final push with the full
	// step count so the task record closes out.
	if c.task.StepsCompleted < c.task.TotalSteps {
		c.task.StepsCompleted = c.task.TotalSteps
		req := model.ProgressRequest{
			EmployeeID:    c.cfg.Backend.EmployeeID,
			TaskID:        c.task.ID,
			StepCompleted: c.task.TotalSteps,
			ActionTaken:   "task complete",
		}
		go func() {
			pushCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout())
			defer cancel()
			if _, err := c.deps.Backend.PushProgress(pushCtx, req); err != nil {
				logging.GuideWarn("final progress push failed: %v", err)
			}
		}()
	}

	doneCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout())
	defer cancel()
	if err := c.deps.Renderer.ClearAll(doneCtx); err != nil {
		logging.GuideWarn("clear overlays: %v", err)
	}
	if err := c.deps.Renderer.RenderPanel(doneCtx, "Task complete: "+c.task.Title); err != nil {
		logging.GuideWarn("render completion: %v", err)
	}
	c.deps.Trigger.Disarm()
	c.suppressor.Clear()
	c.setState(StateComplete)
}

func (c *Controller) handleNavigation(ctx context.Context, change navwatch.Change) {
	c.currentURL = change.To
	if c.state != StateActive {
		return
	}
	navCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout())
	if err := c.deps.Renderer.ClearAll(navCtx); err != nil {
		logging.GuideDebug("clear on navigation: %v", err)
	}
	cancel()
	c.deps.Trigger.Disarm()
	c.beginFetch(ctx)
}

// handleIdleTick folds a finished session back to idle and re-checks for
// newly assigned tasks.
func (c *Controller) handleIdleTick(ctx context.Context) {
	if c.state == StateComplete {
		c.stopGuidance(ctx, "completion acknowledged")
		return
	}
	if c.state != StateIdle {
		return
	}
	// A zero prompt interval disables the nudge; the recheck runs either way.
	if p := c.cfg.IdlePrompt(); p > 0 && time.Since(c.idleSince) >= p && c.prompt == "" {
		c.prompt = "No guidance running. Say the word and I'll check for your next task."
		c.broadcast()
	}
	logging.GuideDebug("idle recheck for new tasks")
	c.beginLookup(ctx)
}

// stopGuidance tears the session down to idle.
func (c *Controller) stopGuidance(ctx context.Context, reason string) {
	if c.state == StateIdle {
		return
	}
	stopCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout())
	if err := c.deps.Renderer.ClearAll(stopCtx); err != nil {
		logging.GuideDebug("clear on stop: %v", err)
	}
	cancel()
	c.deps.Trigger.Disarm()
	c.suppressor.Clear()
	if c.task != nil {
		c.record(ctx, "guidance_stopped", c.task.ID, reason)
	}
	c.task = nil
	c.employee = nil
	c.stepText = ""
	c.setState(StateIdle)
}

func (c *Controller) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.deps.Renderer.ClearAll(ctx); err != nil {
		logging.GuideDebug("clear on shutdown: %v", err)
	}
	c.deps.Trigger.Disarm()
}

func (c *Controller) setState(s State) {
	prev := c.state
	if prev != s {
		logging.Guide("session %s -> %s", prev, s)
	}
	c.state = s
	// A failed recheck bouncing Checking -> Idle keeps the idle clock; it
	// only restarts when a guidance session actually ends.
	if s == StateIdle && prev != StateChecking {
		c.idleSince = time.Now()
	}
	if s == StateActive || s == StateComplete {
		c.prompt = ""
	}
	c.broadcast()
}

func (c *Controller) broadcast() {
	snap := c.snapshot()
	c.subMu.Lock()
	subs := append([]func(Status){}, c.subs...)
	c.subMu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

func (c *Controller) snapshot() Status {
	s := Status{
		State:          c.state,
		URL:            c.currentURL,
		StepText:       c.stepText,
		Prompt:         c.prompt,
		LastGuidanceAt: c.lastFetch,
	}
	if c.employee != nil {
		emp := *c.employee
		s.Employee = &emp
	}
	if c.task != nil {
		task := *c.task
		s.Task = &task
		s.StepNumber = task.StepsCompleted + 1
		s.TotalSteps = task.TotalSteps
		if s.StepNumber > task.TotalSteps {
			s.StepNumber = task.TotalSteps
		}
	}
	return s
}

func (c *Controller) record(ctx context.Context, kind, taskID, detail string) {
	if c.deps.Recorder == nil {
		return
	}
	if err := c.deps.Recorder.Record(ctx, kind, taskID, detail); err != nil {
		logging.GuideDebug("journal %s: %v", kind, err)
	}
}
