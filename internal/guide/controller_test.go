package guide

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"onboard/internal/browser"
	"onboard/internal/config"
	"onboard/internal/model"
	"onboard/internal/navwatch"
	"onboard/internal/overlay"
	"onboard/internal/resolve"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeBackend struct {
	mu         sync.Mutex
	lookup      *model.TaskLookup
	lookupErr   error
	lookupCalls int
	guidanceFn  func(pc model.PageContext) (*model.GuidanceResponse, error)
	fetchCalls  int
	pushes      []model.ProgressRequest
	pushErr     error
}

func (f *fakeBackend) LookupTask(ctx context.Context, employeeID, currentURL string) (*model.TaskLookup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupCalls++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.lookup, nil
}

func (f *fakeBackend) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookupCalls
}

func (f *fakeBackend) FetchGuidance(ctx context.Context, pc model.PageContext) (*model.GuidanceResponse, error) {
	f.mu.Lock()
	f.fetchCalls++
	fn := f.guidanceFn
	f.mu.Unlock()
	if fn == nil {
		return &model.GuidanceResponse{}, nil
	}
	return fn(pc)
}

func (f *fakeBackend) PushProgress(ctx context.Context, req model.ProgressRequest) (*model.ProgressResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, req)
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	return &model.ProgressResult{Status: "updated", StepsCompleted: req.StepCompleted}, nil
}

func (f *fakeBackend) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

func (f *fakeBackend) pushed() []model.ProgressRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ProgressRequest{}, f.pushes...)
}

type fakePage struct {
	mu     sync.Mutex
	url    string
	events []browser.PageEvent
}

func (f *fakePage) EvalJSON(ctx context.Context, fnJS string, args ...any) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (f *fakePage) CurrentURL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakePage) DrainEvents(ctx context.Context) ([]browser.PageEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.events
	f.events = nil
	return out, nil
}

func (f *fakePage) setURL(u string) {
	f.mu.Lock()
	f.url = u
	f.mu.Unlock()
}

func (f *fakePage) click(token string) {
	f.pushEvent(browser.PageEvent{Type: "advance", Token: token})
}

func (f *fakePage) pushEvent(ev browser.PageEvent) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

type fakeResolver struct {
	mu    sync.Mutex
	fail  map[string]bool
	seen  []string
	count int
}

func (f *fakeResolver) Resolve(ctx context.Context, action model.GuidanceAction, pageURL string) (*resolve.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, action.TargetSelector)
	if f.fail[action.TargetSelector] {
		return nil, resolve.ErrNotFound
	}
	f.count++
	return &resolve.Match{
		Token:    fmt.Sprintf("onb-%d", f.count),
		Tag:      "button",
		Strategy: "selector",
	}, nil
}

type fakeRenderer struct {
	mu        sync.Mutex
	clears    int
	panels    []string
	sequences [][]overlay.Item
}

func (f *fakeRenderer) RenderSequence(ctx context.Context, items []overlay.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sequences = append(f.sequences, items)
	return nil
}

func (f *fakeRenderer) RenderPanel(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panels = append(f.panels, text)
	return nil
}

func (f *fakeRenderer) ClearAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeRenderer) lastPanel() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.panels) == 0 {
		return ""
	}
	return f.panels[len(f.panels)-1]
}

type fakeTrigger struct {
	mu    sync.Mutex
	token string
	armed []string
}

func (f *fakeTrigger) Arm(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
	f.armed = append(f.armed, token)
	return nil
}

func (f *fakeTrigger) Disarm() {
	f.mu.Lock()
	f.token = ""
	f.mu.Unlock()
}

func (f *fakeTrigger) Matches(token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token != "" && f.token == token
}

func (f *fakeTrigger) Armed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token != ""
}

func (f *fakeTrigger) current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

type fixture struct {
	backend  *fakeBackend
	page     *fakePage
	resolver *fakeResolver
	renderer *fakeRenderer
	trigger  *fakeTrigger
	nav      chan navwatch.Change
	ctl      *Controller

	navMu   sync.Mutex
	navSeen []string
}

func (f *fixture) noteNav(url string) {
	f.navMu.Lock()
	f.navSeen = append(f.navSeen, url)
	f.navMu.Unlock()
}

func (f *fixture) navURLs() []string {
	f.navMu.Lock()
	defer f.navMu.Unlock()
	return append([]string{}, f.navSeen...)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Guide.AutoStart = false
	cfg.Guide.FetchTimeout = "2s"
	cfg.Guide.IdleRecheck = "1h"
	cfg.Progress.DrainIntervalMs = 10
	cfg.Progress.SuppressAfterPush = "80ms"
	return cfg
}

func newFixture(t *testing.T, cfg *config.Config, fb *fakeBackend) *fixture {
	t.Helper()
	f := &fixture{
		backend:  fb,
		page:     &fakePage{url: "https://github.com"},
		resolver: &fakeResolver{},
		renderer: &fakeRenderer{},
		trigger:  &fakeTrigger{},
		nav:      make(chan navwatch.Change, 4),
	}
	sampler := func(ctx context.Context, page Page, maxElems, maxChars int) (*model.PageContext, error) {
		url, _ := page.CurrentURL(ctx)
		return &model.PageContext{URL: url, PageTitle: "GitHub"}, nil
	}
	f.ctl = New(cfg, Deps{
		Backend:  f.backend,
		Page:     f.page,
		Resolver: f.resolver,
		Renderer: f.renderer,
		Trigger:  f.trigger,
		Nav:      f.nav,
		NavSink:  f.noteNav,
		Sampler:  sampler,
	})
	require.NoError(t, f.ctl.Run(context.Background()))
	t.Cleanup(f.ctl.Close)
	return f
}

func demoTask(completed, total int) *model.Task {
	return &model.Task{
		ID:             "task_001",
		EmployeeID:     "emp_001",
		Title:          "Create a new repository",
		Type:           "create_repo",
		Platform:       "github.com",
		Status:         model.TaskStatusInProgress,
		StepsCompleted: completed,
		TotalSteps:     total,
		Priority:       1,
	}
}

func activeLookup(task *model.Task) *model.TaskLookup {
	return &model.TaskLookup{
		HasActiveTask: true,
		Employee:      &model.Employee{ID: "emp_001", Name: "John Doe", Role: "Engineer"},
		Task:          task,
	}
}

func stepGuidance(step, total int) *model.GuidanceResponse {
	return &model.GuidanceResponse{
		Actions: []model.GuidanceAction{{
			TargetSelector: fmt.Sprintf("#step-%d", step),
			ActionType:     model.ActionClick,
			Message:        fmt.Sprintf("Do step %d", step),
		}},
		StepNumber:      step,
		TotalSteps:      total,
		StepDescription: fmt.Sprintf("Step %d", step),
	}
}

func waitState(t *testing.T, c *Controller, want State) Status {
	t.Helper()
	var last Status
	require.Eventually(t, func() bool {
		last = c.Status()
		return last.State == want
	}, 3*time.Second, 10*time.Millisecond, "never reached state %s", want)
	return last
}

func TestStartWithoutActiveTaskGoesIdle(t *testing.T) {
	fb := &fakeBackend{lookup: &model.TaskLookup{HasActiveTask: false, Message: "no tasks"}}
	f := newFixture(t, testConfig(), fb)

	f.ctl.Start()
	waitState(t, f.ctl, StateIdle)
	require.False(t, f.ctl.HasActiveTask())
	require.Zero(t, fb.fetchCount())
}

func TestStartLookupErrorGoesIdle(t *testing.T) {
	fb := &fakeBackend{lookupErr: errors.New("backend down")}
	f := newFixture(t, testConfig(), fb)

	f.ctl.Start()
	waitState(t, f.ctl, StateIdle)
}

func TestIdlePromptSurfacesToSubscribers(t *testing.T) {
	cfg := testConfig()
	cfg.Guide.IdleRecheck = "20ms"
	cfg.Guide.IdlePrompt = "10ms"
	fb := &fakeBackend{lookup: &model.TaskLookup{HasActiveTask: false}}
	f := newFixture(t, cfg, fb)

	var mu sync.Mutex
	var prompt string
	f.ctl.Subscribe(func(s Status) {
		if s.Prompt != "" {
			mu.Lock()
			prompt = s.Prompt
			mu.Unlock()
		}
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return prompt != ""
	}, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, StateIdle, waitState(t, f.ctl, StateIdle).State)
}

func TestIdlePromptDisabledByZeroInterval(t *testing.T) {
	cfg := testConfig()
	cfg.Guide.IdleRecheck = "20ms"
	cfg.Guide.IdlePrompt = "0"
	fb := &fakeBackend{lookup: &model.TaskLookup{HasActiveTask: false}}
	f := newFixture(t, cfg, fb)

	var mu sync.Mutex
	var prompted bool
	f.ctl.Subscribe(func(s Status) {
		if s.Prompt != "" {
			mu.Lock()
			prompted = true
			mu.Unlock()
		}
	})

	// Rechecks keep running with the prompt off.
	require.Eventually(t, func() bool {
		return fb.lookupCount() >= 2
	}, 3*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.False(t, prompted)
}

func TestActivityEventsHoldOffIdlePrompt(t *testing.T) {
	cfg := testConfig()
	cfg.Guide.IdleRecheck = "20ms"
	cfg.Guide.IdlePrompt = "500ms"
	fb := &fakeBackend{lookup: &model.TaskLookup{HasActiveTask: false}}
	f := newFixture(t, cfg, fb)

	var mu sync.Mutex
	var prompted bool
	f.ctl.Subscribe(func(s Status) {
		if s.Prompt != "" {
			mu.Lock()
			prompted = true
			mu.Unlock()
		}
	})

	// A steady trickle of user input keeps resetting the idle clock.
	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		f.page.pushEvent(browser.PageEvent{Type: "activity"})
		time.Sleep(50 * time.Millisecond)
	}
	mu.Lock()
	quiet := !prompted
	mu.Unlock()
	require.True(t, quiet, "prompt fired while the user was active")

	// Input stops; the prompt follows once the quiet period elapses.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return prompted
	}, 3*time.Second, 10*time.Millisecond)
}

func TestActiveTaskRendersAndArms(t *testing.T) {
	fb := &fakeBackend{lookup: activeLookup(demoTask(0, 3))}
	fb.guidanceFn = func(pc model.PageContext) (*model.GuidanceResponse, error) {
		return stepGuidance(1, 3), nil
	}
	f := newFixture(t, testConfig(), fb)

	f.ctl.Start()
	s := waitState(t, f.ctl, StateActive)
	require.Equal(t, 1, s.StepNumber)
	require.Equal(t, 3, s.TotalSteps)

	require.Eventually(t, func() bool { return f.trigger.Armed() },
		time.Second, 10*time.Millisecond)

	f.renderer.mu.Lock()
	sequences := len(f.renderer.sequences)
	f.renderer.mu.Unlock()
	require.Equal(t, 1, sequences)
}

func TestGenericGuidanceDegradesToPanel(t *testing.T) {
	fb := &fakeBackend{lookup: activeLookup(demoTask(0, 3))}
	fb.guidanceFn = func(pc model.PageContext) (*model.GuidanceResponse, error) {
		return &model.GuidanceResponse{
			Actions:         []model.GuidanceAction{{TargetSelector: "body", ActionType: model.ActionTooltip, Message: "Open GitHub"}},
			StepNumber:      1,
			TotalSteps:      3,
			StepDescription: "Open GitHub first",
		}, nil
	}
	f := newFixture(t, testConfig(), fb)

	f.ctl.Start()
	waitState(t, f.ctl, StateActive)

	require.Eventually(t, func() bool {
		return f.renderer.lastPanel() == "Open GitHub first"
	}, time.Second, 10*time.Millisecond)

	// Nothing to resolve, nothing to arm.
	f.resolver.mu.Lock()
	resolved := len(f.resolver.seen)
	f.resolver.mu.Unlock()
	require.Zero(t, resolved)
	require.False(t, f.trigger.Armed())
}

func TestUnresolvableTargetsFallBackToPanel(t *testing.T) {
	fb := &fakeBackend{lookup: activeLookup(demoTask(0, 3))}
	fb.guidanceFn = func(pc model.PageContext) (*model.GuidanceResponse, error) {
		return stepGuidance(1, 3), nil
	}
	f := newFixture(t, testConfig(), fb)
	f.resolver.fail = map[string]bool{"#step-1": true}

	f.ctl.Start()
	waitState(t, f.ctl, StateActive)

	require.Eventually(t, func() bool {
		return f.renderer.lastPanel() == "Step 1"
	}, time.Second, 10*time.Millisecond)
	require.False(t, f.trigger.Armed())
}

func TestAdvancePushesOptimisticProgress(t *testing.T) {
	fb := &fakeBackend{lookup: activeLookup(demoTask(0, 3))}
	fb.guidanceFn = func(pc model.PageContext) (*model.GuidanceResponse, error) {
		return stepGuidance(1, 3), nil
	}
	f := newFixture(t, testConfig(), fb)

	f.ctl.Start()
	waitState(t, f.ctl, StateActive)
	require.Eventually(t, func() bool { return f.trigger.Armed() },
		time.Second, 10*time.Millisecond)

	f.page.click(f.trigger.current())

	require.Eventually(t, func() bool {
		s := f.ctl.Status()
		return s.Task != nil && s.Task.StepsCompleted == 1
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return len(fb.pushed()) == 1 },
		time.Second, 10*time.Millisecond)
	push := fb.pushed()[0]
	require.Equal(t, "task_001", push.TaskID)
	require.Equal(t, 1, push.StepCompleted)
	require.False(t, f.trigger.Armed())
}

func TestDrainRoutesNavAndAdvanceFromOneBuffer(t *testing.T) {
	fb := &fakeBackend{lookup: activeLookup(demoTask(0, 3))}
	fb.guidanceFn = func(pc model.PageContext) (*model.GuidanceResponse, error) {
		return stepGuidance(1, 3), nil
	}
	f := newFixture(t, testConfig(), fb)

	f.ctl.Start()
	waitState(t, f.ctl, StateActive)
	require.Eventually(t, func() bool { return f.trigger.Armed() },
		time.Second, 10*time.Millisecond)

	// A hook navigation and the user's click land in the same buffer;
	// one drain must deliver both to their consumers.
	f.page.pushEvent(browser.PageEvent{Type: "nav", URL: "https://github.com/new"})
	f.page.click(f.trigger.current())

	require.Eventually(t, func() bool { return len(fb.pushed()) == 1 },
		time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		urls := f.navURLs()
		return len(urls) == 1 && urls[0] == "https://github.com/new"
	}, time.Second, 10*time.Millisecond)
}

func TestAdvanceIgnoresStaleTokens(t *testing.T) {
	fb := &fakeBackend{lookup: activeLookup(demoTask(0, 3))}
	fb.guidanceFn = func(pc model.PageContext) (*model.GuidanceResponse, error) {
		return stepGuidance(1, 3), nil
	}
	f := newFixture(t, testConfig(), fb)

	f.ctl.Start()
	waitState(t, f.ctl, StateActive)
	require.Eventually(t, func() bool { return f.trigger.Armed() },
		time.Second, 10*time.Millisecond)

	f.page.click("onb-not-armed")

	time.Sleep(100 * time.Millisecond)
	require.Empty(t, fb.pushed())
	s := f.ctl.Status()
	require.Equal(t, 0, s.Task.StepsCompleted)
}

func TestPushFailureDoesNotRollBack(t *testing.T) {
	fb := &fakeBackend{lookup: activeLookup(demoTask(0, 3)), pushErr: errors.New("503")}
	fb.guidanceFn = func(pc model.PageContext) (*model.GuidanceResponse, error) {
		return stepGuidance(1, 3), nil
	}
	f := newFixture(t, testConfig(), fb)

	f.ctl.Start()
	waitState(t, f.ctl, StateActive)
	require.Eventually(t, func() bool { return f.trigger.Armed() },
		time.Second, 10*time.Millisecond)

	f.page.click(f.trigger.current())

	require.Eventually(t, func() bool {
		s := f.ctl.Status()
		return s.Task != nil && s.Task.StepsCompleted == 1
	}, time.Second, 10*time.Millisecond)

	// The optimistic count stays; reconciliation happens on the next fetch.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, f.ctl.Status().Task.StepsCompleted)
}

func TestNavigationSuppressedAfterAdvanceThenFetches(t *testing.T) {
	fb := &fakeBackend{lookup: activeLookup(demoTask(0, 3))}
	fb.guidanceFn = func(pc model.PageContext) (*model.GuidanceResponse, error) {
		step := 1
		if pc.CurrentStep != nil {
			step = *pc.CurrentStep + 1
		}
		return stepGuidance(step, 3), nil
	}
	cfg := testConfig()
	cfg.Progress.SuppressAfterPush = "250ms"
	f := newFixture(t, cfg, fb)

	f.ctl.Start()
	waitState(t, f.ctl, StateActive)
	require.Eventually(t, func() bool { return f.trigger.Armed() },
		time.Second, 10*time.Millisecond)
	baseline := fb.fetchCount()

	f.page.click(f.trigger.current())
	require.Eventually(t, func() bool {
		s := f.ctl.Status()
		return s.Task != nil && s.Task.StepsCompleted == 1
	}, time.Second, 10*time.Millisecond)

	// Navigation lands inside the suppression window: no immediate fetch.
	f.page.setURL("https://github.com/new")
	f.nav <- navwatch.Change{From: "https://github.com", To: "https://github.com/new"}
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, baseline, fb.fetchCount())

	// After the window closes the fetch goes out and reflects the bump.
	require.Eventually(t, func() bool { return fb.fetchCount() > baseline },
		2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return f.ctl.Status().StepNumber == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStaleGuidanceDiscardedAfterNavigation(t *testing.T) {
	release := make(chan struct{})
	fb := &fakeBackend{lookup: activeLookup(demoTask(0, 5))}
	fb.guidanceFn = func(pc model.PageContext) (*model.GuidanceResponse, error) {
		if pc.URL == "https://github.com" {
			<-release
			return stepGuidance(2, 5), nil
		}
		return stepGuidance(4, 5), nil
	}
	cfg := testConfig()
	cfg.Progress.SuppressAfterPush = "1ms"
	f := newFixture(t, cfg, fb)

	f.ctl.Start()
	waitState(t, f.ctl, StateActive)

	// Navigate away while the first fetch is stuck in flight.
	f.page.setURL("https://github.com/new")
	f.nav <- navwatch.Change{From: "https://github.com", To: "https://github.com/new"}

	require.Eventually(t, func() bool {
		return f.ctl.Status().StepNumber == 4
	}, 2*time.Second, 10*time.Millisecond)

	// The superseded response must not rewind progress.
	close(release)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 4, f.ctl.Status().StepNumber)
}

func TestBackendStepNumberReconciles(t *testing.T) {
	fb := &fakeBackend{lookup: activeLookup(demoTask(0, 4))}
	fb.guidanceFn = func(pc model.PageContext) (*model.GuidanceResponse, error) {
		return stepGuidance(3, 4), nil
	}
	f := newFixture(t, testConfig(), fb)

	f.ctl.Start()
	s := waitState(t, f.ctl, StateActive)
	require.Eventually(t, func() bool {
		s = f.ctl.Status()
		return s.Task != nil && s.Task.StepsCompleted == 2
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, 3, s.StepNumber)
}

func TestTaskCompleteFromGuidance(t *testing.T) {
	fb := &fakeBackend{lookup: activeLookup(demoTask(2, 3))}
	fb.guidanceFn = func(pc model.PageContext) (*model.GuidanceResponse, error) {
		return &model.GuidanceResponse{TaskComplete: true, StepNumber: 4, TotalSteps: 3}, nil
	}
	f := newFixture(t, testConfig(), fb)

	f.ctl.Start()
	waitState(t, f.ctl, StateComplete)
	require.Contains(t, f.renderer.lastPanel(), "Task complete")
	require.False(t, f.trigger.Armed())
}

func TestBackendReportedCompletionPushesFullCount(t *testing.T) {
	fb := &fakeBackend{lookup: activeLookup(demoTask(1, 4))}
	fb.guidanceFn = func(pc model.PageContext) (*model.GuidanceResponse, error) {
		return &model.GuidanceResponse{TaskComplete: true}, nil
	}
	f := newFixture(t, testConfig(), fb)

	f.ctl.Start()
	waitState(t, f.ctl, StateComplete)
	require.Eventually(t, func() bool {
		pushes := fb.pushed()
		return len(pushes) == 1 && pushes[0].StepCompleted == 4
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStopClearsAndGoesIdle(t *testing.T) {
	fb := &fakeBackend{lookup: activeLookup(demoTask(0, 3))}
	fb.guidanceFn = func(pc model.PageContext) (*model.GuidanceResponse, error) {
		return stepGuidance(1, 3), nil
	}
	f := newFixture(t, testConfig(), fb)

	f.ctl.Start()
	waitState(t, f.ctl, StateActive)

	s := f.ctl.Stop()
	require.Equal(t, StateIdle, s.State)
	require.Nil(t, s.Task)
	require.False(t, f.trigger.Armed())

	// Stopping again stays idle without side effects.
	f.renderer.mu.Lock()
	clears := f.renderer.clears
	f.renderer.mu.Unlock()
	require.Equal(t, StateIdle, f.ctl.Stop().State)
	f.renderer.mu.Lock()
	require.Equal(t, clears, f.renderer.clears)
	f.renderer.mu.Unlock()
}

func TestStatusSubscribersSeeTransitions(t *testing.T) {
	fb := &fakeBackend{lookup: &model.TaskLookup{HasActiveTask: false}}
	f := newFixture(t, testConfig(), fb)

	var mu sync.Mutex
	var states []State
	f.ctl.Subscribe(func(s Status) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})

	f.ctl.Start()
	waitState(t, f.ctl, StateIdle)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 2 && states[0] == StateChecking
	}, time.Second, 10*time.Millisecond)
}

// TestThreeStepWalkthrough drives a complete session: three steps, three
// advance clicks with a navigation between each, ending complete with every
// step pushed.
func TestThreeStepWalkthrough(t *testing.T) {
	fb := &fakeBackend{lookup: activeLookup(demoTask(0, 3))}
	fb.guidanceFn = func(pc model.PageContext) (*model.GuidanceResponse, error) {
		step := 1
		if pc.CurrentStep != nil {
			step = *pc.CurrentStep + 1
		}
		if step > 3 {
			return &model.GuidanceResponse{TaskComplete: true}, nil
		}
		return stepGuidance(step, 3), nil
	}
	cfg := testConfig()
	cfg.Progress.SuppressAfterPush = "20ms"
	f := newFixture(t, cfg, fb)

	f.ctl.Start()
	waitState(t, f.ctl, StateActive)

	urls := []string{"https://github.com/new", "https://github.com/johndoe/demo"}
	for step := 1; step <= 3; step++ {
		require.Eventually(t, func() bool {
			return f.ctl.Status().StepNumber == step && f.trigger.Armed()
		}, 2*time.Second, 10*time.Millisecond, "step %d never armed", step)

		f.page.click(f.trigger.current())
		require.Eventually(t, func() bool {
			s := f.ctl.Status()
			return s.Task != nil && s.Task.StepsCompleted == step
		}, 2*time.Second, 10*time.Millisecond)

		if step < 3 {
			next := urls[step-1]
			f.page.setURL(next)
			f.nav <- navwatch.Change{To: next}
		}
	}

	waitState(t, f.ctl, StateComplete)
	pushes := fb.pushed()
	require.Len(t, pushes, 3)
	for i, p := range pushes {
		require.Equal(t, i+1, p.StepCompleted)
		require.Equal(t, "emp_001", p.EmployeeID)
	}
}
