// Package bridge abstracts the network path to the backend API. The core
// never touches net/http directly: it may run in contexts without direct
// network access, so every request goes through this interface and tests
// substitute fakes.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrTransport marks failures where the bridge itself is unreachable or the
// execution context is gone. Callers show a reload affordance and do not
// retry automatically.
var ErrTransport = errors.New("bridge transport failure")

// Response is the outcome of one bridge request. Exactly one Response (or
// error) is produced per Do call.
type Response struct {
	OK     bool
	Status int
	Body   []byte
}

// Bridge proxies one HTTP request to the backend.
type Bridge interface {
	Do(ctx context.Context, method, url string, body any) (*Response, error)
}

// HTTPBridge is the production bridge over net/http.
type HTTPBridge struct {
	client *http.Client
	apiKey string
}

// NewHTTPBridge creates a bridge with a per-request timeout. An empty apiKey
// omits the Authorization header.
func NewHTTPBridge(timeout time.Duration, apiKey string) *HTTPBridge {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPBridge{
		client: &http.Client{Timeout: timeout},
		apiKey: apiKey,
	}
}

// Do executes the request. A non-2xx status is not an error: it is reported
// through Response.OK so callers can branch on application-level failures
// separately from transport ones.
func (b *HTTPBridge) Do(ctx context.Context, method, url string, body any) (*Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}

	return &Response{
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status: resp.StatusCode,
		Body:   data,
	}, nil
}
