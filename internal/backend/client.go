// Package backend is the typed client for the guidance backend API. It issues
// every request through a bridge.Bridge so it works in restricted execution
// contexts and is testable with fakes.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"onboard/internal/bridge"
	"onboard/internal/logging"
	"onboard/internal/model"
)

// ErrNotFound is returned when the backend reports a missing employee or task.
var ErrNotFound = errors.New("backend: not found")

// Client is the typed surface over the onboarding backend's JSON API.
type Client struct {
	bridge  bridge.Bridge
	baseURL string
}

// NewClient creates a client. baseURL has no trailing slash requirements.
func NewClient(b bridge.Bridge, baseURL string) *Client {
	return &Client{bridge: b, baseURL: strings.TrimRight(baseURL, "/")}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	url := c.baseURL + path
	resp, err := c.bridge.Do(ctx, http.MethodPost, url, body)
	if err != nil {
		logging.BackendError("POST %s: %v", path, err)
		return fmt.Errorf("POST %s: %w", path, err)
	}
	if resp.Status == http.StatusNotFound {
		return fmt.Errorf("POST %s: %w", path, ErrNotFound)
	}
	if !resp.OK {
		return fmt.Errorf("POST %s: backend status %d", path, resp.Status)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return fmt.Errorf("POST %s: decode response: %w", path, err)
		}
	}
	return nil
}

// LookupTask asks whether the employee has an active task matching the
// current page.
func (c *Client) LookupTask(ctx context.Context, employeeID, currentURL string) (*model.TaskLookup, error) {
	timer := logging.StartTimer(logging.CategoryBackend, "task lookup")
	defer timer.Stop()

	var out model.TaskLookup
	err := c.post(ctx, "/api/employee/task", model.TaskLookupRequest{
		EmployeeID: employeeID,
		CurrentURL: currentURL,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.HasActiveTask && out.Task != nil {
		if verr := out.Task.Validate(); verr != nil {
			return nil, fmt.Errorf("task lookup: %w", verr)
		}
	}
	return &out, nil
}

// FetchGuidance requests a guidance frame for the sampled page context.
func (c *Client) FetchGuidance(ctx context.Context, pageCtx model.PageContext) (*model.GuidanceResponse, error) {
	timer := logging.StartTimer(logging.CategoryBackend, "guidance fetch")
	defer timer.Stop()

	var out model.GuidanceResponse
	if err := c.post(ctx, "/api/guidance", pageCtx, &out); err != nil {
		return nil, err
	}
	logging.BackendDebug("guidance: %d actions, step %d/%d, complete=%v",
		len(out.Actions), out.StepNumber, out.TotalSteps, out.TaskComplete)
	return &out, nil
}

// PushProgress reports an optimistic step advance. Failure is non-fatal to
// callers; the authoritative correction comes from the next guidance fetch.
func (c *Client) PushProgress(ctx context.Context, req model.ProgressRequest) (*model.ProgressResult, error) {
	var out model.ProgressResult
	if err := c.post(ctx, "/api/task/progress", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
