package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPBridgePostsJSON(t *testing.T) {
	var gotAuth, gotContentType string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	b := NewHTTPBridge(5*time.Second, "secret")
	resp, err := b.Do(context.Background(), http.MethodPost, srv.URL+"/api/task/progress",
		map[string]any{"employee_id": "emp_001", "step_completed": 1})
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Equal(t, http.StatusOK, resp.Status)
	require.JSONEq(t, `{"status":"success"}`, string(resp.Body))

	require.Equal(t, "Bearer secret", gotAuth)
	require.Equal(t, "application/json", gotContentType)
	require.Equal(t, "emp_001", gotBody["employee_id"])
}

func TestHTTPBridgeNon2xxIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Employee not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	b := NewHTTPBridge(5*time.Second, "")
	resp, err := b.Do(context.Background(), http.MethodPost, srv.URL+"/api/employee/task", nil)
	require.NoError(t, err)
	require.False(t, resp.OK)
	require.Equal(t, http.StatusNotFound, resp.Status)
}

func TestHTTPBridgeUnreachableIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	b := NewHTTPBridge(time.Second, "")
	_, err := b.Do(context.Background(), http.MethodPost, url, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrTransport))
}

func TestHTTPBridgeHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	b := NewHTTPBridge(10*time.Second, "")
	_, err := b.Do(ctx, http.MethodPost, srv.URL, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrTransport))
}

func TestHTTPBridgeOmitsAuthWhenNoKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := NewHTTPBridge(time.Second, "")
	resp, err := b.Do(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	require.True(t, resp.OK)
}
