package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// staticAuth sets a fixed bearer token.
type staticAuth string

func (a staticAuth) AuthorizeRequest(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+string(a))
}

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://api.example.com/", staticAuth("test-key"))

		if c.baseURL != "https://api.example.com" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "https://api.example.com")
		}
		if c.auth == nil {
			t.Error("auth should not be nil")
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.retry.attempts != 3 {
			t.Errorf("retry.attempts = %d, want %d", c.retry.attempts, 3)
		}
		if c.retry.base != time.Second {
			t.Errorf("retry.base = %v, want %v", c.retry.base, time.Second)
		}
		if c.retry.maxWait != 30*time.Second {
			t.Errorf("retry.maxWait = %v, want %v", c.retry.maxWait, 30*time.Second)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with multiple options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		c := NewClient("https://api.example.com", nil,
			WithTimeout(15*time.Second),
			WithRetries(10, 500*time.Millisecond),
			WithMaxRetryWait(5*time.Second),
			WithLogger(logger),
		)
		if c.httpClient.Timeout != 15*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 15*time.Second)
		}
		if c.retry.attempts != 10 {
			t.Errorf("retry.attempts = %d, want %d", c.retry.attempts, 10)
		}
		if c.retry.base != 500*time.Millisecond {
			t.Errorf("retry.base = %v, want %v", c.retry.base, 500*time.Millisecond)
		}
		if c.retry.maxWait != 5*time.Second {
			t.Errorf("retry.maxWait = %v, want %v", c.retry.maxWait, 5*time.Second)
		}
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
	})

	t.Run("with custom HTTP client", func(t *testing.T) {
		customClient := &http.Client{Timeout: 10 * time.Second}
		c := NewClient("https://api.example.com", nil, WithHTTPClient(customClient))
		if c.httpClient != customClient {
			t.Error("custom HTTP client not set")
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{StatusCode: 404, Message: "Session not found"}
		expected := "session api error 404: Session not found"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("IsRetryable", func(t *testing.T) {
		tests := []struct {
			code     int
			expected bool
		}{
			{500, true},
			{502, true},
			{503, true},
			{429, true},
			{400, false},
			{401, false},
			{404, false},
			{499, false},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.expected {
				t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.expected)
			}
		}
	})

	t.Run("IsNotFound through wrapping", func(t *testing.T) {
		err := errors.Join(errors.New("context"), &APIError{StatusCode: 404})
		if !IsNotFound(err) {
			t.Error("IsNotFound = false for wrapped 404")
		}
		if IsNotFound(&APIError{StatusCode: 500}) {
			t.Error("IsNotFound = true for 500")
		}
	})
}

// TestDoRequest tests the HTTP request functionality.
func TestDoRequest(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept header = %q, want %q", r.Header.Get("Accept"), "application/json")
			}
			if r.Header.Get("Authorization") != "Bearer test-key" {
				t.Errorf("Authorization header = %q, want %q", r.Header.Get("Authorization"), "Bearer test-key")
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status": "ok"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, staticAuth("test-key"))
		body, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"status": "ok"}` {
			t.Errorf("body = %q, want %q", string(body), `{"status": "ok"}`)
		}
	})

	t.Run("request without credential", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Errorf("Authorization header should be empty, got %q", r.Header.Get("Authorization"))
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		if _, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("4xx error carries detail", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail": "Session not found"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 404 {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, 404)
		}
		if apiErr.Message != "Session not found" {
			t.Errorf("Message = %q, want %q", apiErr.Message, "Session not found")
		}
	})

	t.Run("5xx without json body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`internal error`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.Message != "Internal Server Error" {
			t.Errorf("Message = %q", apiErr.Message)
		}
	})

	t.Run("validation detail list", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"detail": [{"loc": ["path", "id"], "msg": "field required"}, {"msg": "bad id"}]}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.Message != "field required; bad id" {
			t.Errorf("Message = %q, want %q", apiErr.Message, "field required; bad id")
		}
	})

	t.Run("retry-after header", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.RetryAfter != 7*time.Second {
			t.Errorf("RetryAfter = %v, want %v", apiErr.RetryAfter, 7*time.Second)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.doRequest(ctx, http.MethodGet, "/test", nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "context canceled") {
			t.Errorf("error should contain 'context canceled', got %v", err)
		}
	})
}

// TestDoWithRetry tests the retry logic.
func TestDoWithRetry(t *testing.T) {
	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(3, 10*time.Millisecond))
		body, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"ok": true}` {
			t.Errorf("body = %q, want %q", string(body), `{"ok": true}`)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("retries on 429 and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 2 {
			t.Errorf("attempts = %d, want 2", attempts)
		}
	})

	t.Run("does not retry on 401", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil); err == nil {
			t.Fatal("expected error, got nil")
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(2, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "max retries exceeded") {
			t.Errorf("error should contain 'max retries exceeded', got %v", err)
		}
		// 1 initial + 2 retries = 3 attempts
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("honors retry-after", func(t *testing.T) {
		var (
			mu   sync.Mutex
			hits []time.Time
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			hits = append(hits, time.Now())
			n := len(hits)
			mu.Unlock()
			if n == 1 {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"detail": "Rate limit exceeded"}`))
				return
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		// Base backoff alone would retry within a few milliseconds.
		c := NewClient(server.URL, nil, WithRetries(3, time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		mu.Lock()
		defer mu.Unlock()
		if len(hits) != 2 {
			t.Fatalf("attempts = %d, want 2", len(hits))
		}
		if gap := hits[1].Sub(hits[0]); gap < 900*time.Millisecond {
			t.Errorf("retry came after %v, want about 1s", gap)
		}
	})

	t.Run("final error keeps detail", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"detail": "Database unavailable"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(1, time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected wrapped *APIError, got %v", err)
		}
		if apiErr.Message != "Database unavailable" {
			t.Errorf("Message = %q, want %q", apiErr.Message, "Database unavailable")
		}
	})

	t.Run("context cancellation during retry", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(5, 50*time.Millisecond))
		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		_, err := c.doWithRetry(ctx, http.MethodGet, "/test", nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "context") {
			t.Errorf("error should be context-related, got %v", err)
		}
	})
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "120", 2 * time.Minute},
		{"padded seconds", " 3 ", 3 * time.Second},
		{"zero", "0", 0},
		{"negative", "-5", 0},
		{"http date", "Mon, 15 Jan 2024 10:00:30 GMT", 30 * time.Second},
		{"past date", "Mon, 15 Jan 2024 09:59:00 GMT", 0},
		{"garbage", "soon", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.value, now); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestRetryDelay(t *testing.T) {
	r := retryPolicy{attempts: 5, base: 100 * time.Millisecond, maxWait: time.Second}

	if got := r.retryDelay(1, &APIError{StatusCode: 429, RetryAfter: 400 * time.Millisecond}); got != 400*time.Millisecond {
		t.Errorf("retry-after delay = %v, want 400ms", got)
	}
	if got := r.retryDelay(1, &APIError{StatusCode: 503, RetryAfter: time.Hour}); got != time.Second {
		t.Errorf("capped retry-after = %v, want 1s", got)
	}

	for n := 1; n <= 3; n++ {
		d := r.base << (n - 1)
		got := r.retryDelay(n, &APIError{StatusCode: 500})
		if got < d/2 || got >= d/2+d {
			t.Errorf("retryDelay(%d) = %v, want in [%v, %v)", n, got, d/2, d/2+d)
		}
	}
	if got := r.retryDelay(40, &APIError{StatusCode: 500}); got < 500*time.Millisecond || got >= 1500*time.Millisecond {
		t.Errorf("retryDelay(40) = %v, want capped around 1s", got)
	}
}

func TestListUserSessions(t *testing.T) {
	t.Run("successful response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/user/sessions/" {
				t.Errorf("path = %q, want %q", r.URL.Path, "/user/sessions/")
			}
			if r.Header.Get("Authorization") != "Bearer tok" {
				t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
			}
			w.Write([]byte(`[
				{"_id": "65a1", "session_id": "abc", "photo_count": 2, "is_active": true,
				 "created_at": "2024-01-15T10:00:00.123456", "expires_at": null},
				{"id": "65a2", "session_id": "def", "photo_count": 0, "is_active": false,
				 "created_at": "2024-01-14T10:00:00Z", "expires_at": "2024-01-15T10:00:00Z"}
			]`))
		}))
		defer server.Close()

		c := NewClient(server.URL, staticAuth("tok"))
		sessions, err := c.ListUserSessions(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(sessions) != 2 {
			t.Fatalf("len(sessions) = %d, want 2", len(sessions))
		}
		if sessions[0].StoreID != "65a1" || sessions[0].SessionID != "abc" || sessions[0].PhotoCount != 2 {
			t.Errorf("sessions[0] = %+v", sessions[0])
		}
		if sessions[0].ExpiresAt != nil {
			t.Errorf("sessions[0].ExpiresAt = %v, want nil", *sessions[0].ExpiresAt)
		}
		if sessions[1].IsActive == nil || *sessions[1].IsActive {
			t.Errorf("sessions[1].IsActive = %v, want false", sessions[1].IsActive)
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail": "Not authenticated"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(0, time.Millisecond))
		_, err := c.ListUserSessions(context.Background())
		if err == nil || !strings.Contains(err.Error(), "list user sessions") {
			t.Fatalf("error = %v, want wrapped list error", err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
			t.Errorf("error = %v, want 401 APIError", err)
		}
	})
}

func TestGetSessionPhotos(t *testing.T) {
	t.Run("successful response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.EscapedPath() != "/sessions/a%2Fb/photos" {
				t.Errorf("path = %q, want escaped session id", r.URL.EscapedPath())
			}
			json.NewEncoder(w).Encode([]APIPhoto{
				{ID: "p1", Filename: "one.jpg", URL: "https://cdn/one.jpg", UploadedAt: "2024-01-15T10:00:00"},
				{ID: "p2", Filename: "two.jpg", URL: "https://cdn/two.jpg", UploadedAt: "2024-01-15T10:01:00"},
			})
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		photos, err := c.GetSessionPhotos(context.Background(), "a/b")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(photos) != 2 || photos[1].Filename != "two.jpg" {
			t.Errorf("photos = %+v", photos)
		}
	})

	t.Run("session not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail": "Session not found"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		_, err := c.GetSessionPhotos(context.Background(), "gone")
		if !IsNotFound(err) {
			t.Errorf("IsNotFound(%v) = false", err)
		}
	})
}
