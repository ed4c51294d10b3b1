package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient_Options(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	hc := &http.Client{Timeout: 7 * time.Second}

	tests := []struct {
		name  string
		opts  []ClientOption
		check func(t *testing.T, c *Client)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, c *Client) {
				if c.httpClient.Timeout != 30*time.Second {
					t.Errorf("Timeout = %v, want 30s", c.httpClient.Timeout)
				}
				if c.maxRetries != 3 || c.retryBackoff != time.Second {
					t.Errorf("retries = %d/%v, want 3/1s", c.maxRetries, c.retryBackoff)
				}
				if c.limiter != nil {
					t.Error("limiter set without WithRateLimit")
				}
				if c.logger == nil {
					t.Error("logger is nil")
				}
			},
		},
		{
			name: "timeout and retries",
			opts: []ClientOption{WithTimeout(5 * time.Second), WithRetries(5, 2*time.Second)},
			check: func(t *testing.T, c *Client) {
				if c.httpClient.Timeout != 5*time.Second {
					t.Errorf("Timeout = %v, want 5s", c.httpClient.Timeout)
				}
				if c.maxRetries != 5 || c.retryBackoff != 2*time.Second {
					t.Errorf("retries = %d/%v, want 5/2s", c.maxRetries, c.retryBackoff)
				}
			},
		},
		{
			name: "rate limit",
			opts: []ClientOption{WithRateLimit(20, 0)},
			check: func(t *testing.T, c *Client) {
				if c.limiter == nil {
					t.Fatal("limiter is nil")
				}
				if c.limiter.Burst() != 1 {
					t.Errorf("Burst = %d, want 1 for a zero burst", c.limiter.Burst())
				}
			},
		},
		{
			name: "zero rate disables limiter",
			opts: []ClientOption{WithRateLimit(20, 5), WithRateLimit(0, 5)},
			check: func(t *testing.T, c *Client) {
				if c.limiter != nil {
					t.Error("limiter still set")
				}
			},
		},
		{
			name: "logger and http client",
			opts: []ClientOption{WithLogger(logger), WithHTTPClient(hc)},
			check: func(t *testing.T, c *Client) {
				if c.logger != logger {
					t.Error("logger not applied")
				}
				if c.httpClient != hc {
					t.Error("http client not applied")
				}
			},
		},
		{
			name: "nil logger keeps default",
			opts: []ClientOption{WithLogger(nil)},
			check: func(t *testing.T, c *Client) {
				if c.logger == nil {
					t.Error("logger is nil")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, NewClient("https://api.example.com", "tok", tt.opts...))
		})
	}
}

func TestAPIError_Classification(t *testing.T) {
	tests := []struct {
		code         int
		retryable    bool
		unauthorized bool
	}{
		{200, false, false},
		{400, false, false},
		{401, false, true},
		{403, false, false},
		{404, false, false},
		{429, true, false},
		{499, false, false},
		{500, true, false},
		{503, true, false},
	}

	for _, tt := range tests {
		err := &APIError{StatusCode: tt.code}
		if got := err.IsRetryable(); got != tt.retryable {
			t.Errorf("IsRetryable(%d) = %v, want %v", tt.code, got, tt.retryable)
		}
		if got := err.IsUnauthorized(); got != tt.unauthorized {
			t.Errorf("IsUnauthorized(%d) = %v, want %v", tt.code, got, tt.unauthorized)
		}
	}

	if !IsUnauthorized(fmt.Errorf("get me: %w", &APIError{StatusCode: 401})) {
		t.Error("IsUnauthorized does not see through wrapping")
	}
	if IsUnauthorized(errors.New("boom")) {
		t.Error("plain error reported as unauthorized")
	}
}

func TestSend_Headers(t *testing.T) {
	var gotAuth, gotAccept, gotRequestID, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotRequestID = r.Header.Get("X-Request-ID")
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok")
	body, err := c.send(context.Background(), http.MethodGet, "/test", map[string][]string{"limit": {"10"}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %q", body)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok")
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q", gotAccept)
	}
	if gotRequestID == "" {
		t.Error("X-Request-ID not set")
	}
	if gotQuery != "limit=10" {
		t.Errorf("query = %q, want limit=10", gotQuery)
	}

	anon := NewClient(server.URL, "")
	if _, err := anon.send(context.Background(), http.MethodGet, "/test", nil); err != nil {
		t.Fatalf("anonymous send: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("anonymous Authorization = %q, want empty", gotAuth)
	}
}

func TestSend_ErrorResponses(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		retryAfter  string
		wantMessage string
		wantWait    time.Duration
	}{
		{"error field", 404, `{"error":"market not found"}`, "", "market not found", 0},
		{"message field", 400, `{"message":"bad limit"}`, "", "bad limit", 0},
		{"plain body", 500, `internal error`, "", "Internal Server Error", 0},
		{"retry after", 429, `{}`, "3", "Too Many Requests", 3 * time.Second},
		{"bad retry after", 503, ``, "soon", "Service Unavailable", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(server.URL, "").send(context.Background(), http.MethodGet, "/x", nil)
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMessage)
			}
			if apiErr.RetryAfter != tt.wantWait {
				t.Errorf("RetryAfter = %v, want %v", apiErr.RetryAfter, tt.wantWait)
			}
			if string(apiErr.Body) != tt.body {
				t.Errorf("Body = %q, want %q", apiErr.Body, tt.body)
			}
		})
	}
}

func TestSend_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(server.URL, "").send(ctx, http.MethodGet, "/x", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

// flakyServer fails the first n requests with status, then returns {}.
func flakyServer(t *testing.T, n int32, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= n {
			w.WriteHeader(status)
			return
		}
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func TestFetch_Retries(t *testing.T) {
	tests := []struct {
		name     string
		failures int32
		status   int
		retries  int
		wantErr  bool
		wantHits int32
	}{
		{"first try", 0, 500, 3, false, 1},
		{"recovers from 5xx", 2, 500, 3, false, 3},
		{"recovers from 429", 1, 429, 3, false, 2},
		{"no retry on 4xx", 5, 400, 3, true, 1},
		{"no retry on 401", 5, 401, 3, true, 1},
		{"gives up", 10, 502, 2, true, 3},
		{"retries disabled", 10, 500, 0, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, hits := flakyServer(t, tt.failures, tt.status)
			c := NewClient(server.URL, "", WithRetries(tt.retries, time.Millisecond))

			_, err := c.fetch(context.Background(), http.MethodGet, "/x", nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("fetch error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := hits.Load(); got != tt.wantHits {
				t.Errorf("hits = %d, want %d", got, tt.wantHits)
			}
		})
	}
}

func TestFetch_GiveUpWrapsLastError(t *testing.T) {
	server, _ := flakyServer(t, 10, http.StatusBadGateway)
	c := NewClient(server.URL, "", WithRetries(1, time.Millisecond))

	_, err := c.fetch(context.Background(), http.MethodGet, "/x", nil)
	if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
		t.Fatalf("error = %v, want max retries exceeded", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("wrapped error = %v, want 502 APIError", err)
	}
}

func TestFetch_ContextCancelledDuringWait(t *testing.T) {
	server, hits := flakyServer(t, 100, http.StatusInternalServerError)
	c := NewClient(server.URL, "", WithRetries(10, 200*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.fetch(ctx, http.MethodGet, "/x", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("hits = %d, want 1", got)
	}
}

func TestRateLimiter(t *testing.T) {
	server, hits := flakyServer(t, 0, 0)
	c := NewClient(server.URL, "", WithRateLimit(10, 1))

	start := time.Now()
	for i := range 3 {
		if _, err := c.send(context.Background(), http.MethodGet, "/x", nil); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	// Burst 1 at 10 rps: the 2nd and 3rd requests wait ~100ms each.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("3 requests took %v, expected throttling", elapsed)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("hits = %d, want 3", got)
	}
}

func TestRateLimiter_ContextCancelled(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", WithRateLimit(0.001, 1))
	c.limiter.Allow() // consume the only token

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.send(ctx, http.MethodGet, "/x", nil)
	if err == nil || !strings.Contains(err.Error(), "rate limit") {
		t.Errorf("error = %v, want rate limit error", err)
	}
}
