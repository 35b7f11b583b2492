package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("http://localhost:8080/api/1/")

		if c.baseURL != "http://localhost:8080/api/1" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "http://localhost:8080/api/1")
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 3)
		}
		if c.retryBackoff != time.Second {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, time.Second)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
		if c.Jar() == nil {
			t.Error("default client should have a cookie jar")
		}
	})

	t.Run("with timeout option", func(t *testing.T) {
		c := NewClient("http://localhost", WithTimeout(5*time.Second))
		if c.httpClient.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 5*time.Second)
		}
	})

	t.Run("with retries option", func(t *testing.T) {
		c := NewClient("http://localhost", WithRetries(5, 2*time.Second))
		if c.maxRetries != 5 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 5)
		}
		if c.retryBackoff != 2*time.Second {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, 2*time.Second)
		}
	})

	t.Run("with logger option", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		c := NewClient("http://localhost", WithLogger(logger))
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
	})

	t.Run("with custom HTTP client", func(t *testing.T) {
		customClient := &http.Client{Timeout: 10 * time.Second}
		c := NewClient("http://localhost", WithHTTPClient(customClient))
		if c.httpClient != customClient {
			t.Error("custom HTTP client not set")
		}
		if c.Jar() != nil {
			t.Error("custom client without jar should report nil jar")
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{
			StatusCode: 401,
			Message:    "invalid credentials",
		}
		expected := "chat api error 401: invalid credentials"
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
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.expected {
				t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.expected)
			}
		}
	})

	t.Run("status helpers see through wrapping", func(t *testing.T) {
		err := errors.Join(errors.New("context"), &APIError{StatusCode: 404})
		if !IsNotFound(err) {
			t.Error("IsNotFound = false, want true")
		}
		if IsUnauthorized(err) {
			t.Error("IsUnauthorized = true, want false")
		}
	})
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"json error field", 400, `{"error":"user exists"}`, "user exists"},
		{"json message field", 400, `{"message":"bad input"}`, "bad input"},
		{"plain text", 401, "invalid credentials\n", "invalid credentials"},
		{"html page", 500, `<!DOCTYPE html><html><p class="x">Message: db down</p></html>`, "db down"},
		{"html without message", 502, `<html><body>oops</body></html>`, "Bad Gateway"},
		{"empty body", 503, "", "Service Unavailable"},
		{"unknown status", 599, "", "server error (599)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorMessage(tt.status, []byte(tt.body)); got != tt.want {
				t.Errorf("errorMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestDoRequest tests the HTTP request functionality.
func TestDoRequest(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept header = %q, want %q", r.Header.Get("Accept"), "application/json")
			}
			if r.Header.Get("User-Agent") != "lilychat/test" {
				t.Errorf("User-Agent = %q, want %q", r.Header.Get("User-Agent"), "lilychat/test")
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status": "ok"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithUserAgent("lilychat/test"))
		body, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"status": "ok"}` {
			t.Errorf("body = %q, want %q", string(body), `{"status": "ok"}`)
		}
	})

	t.Run("json payload", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", r.Header.Get("Content-Type"))
			}
			var creds Credentials
			if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
				t.Errorf("decode body: %v", err)
			}
			if creds.Username != "lily" {
				t.Errorf("username = %q, want %q", creds.Username, "lily")
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		if _, err := c.doRequest(context.Background(), http.MethodPost, "/test", Credentials{Username: "lily"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("4xx error returns APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": "not found"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 404 {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, 404)
		}
		if apiErr.Message != "not found" {
			t.Errorf("Message = %q, want %q", apiErr.Message, "not found")
		}
		if !strings.Contains(string(apiErr.Body), "not found") {
			t.Errorf("Body should contain 'not found', got %q", string(apiErr.Body))
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c := NewClient(server.URL)
		ctx, cancel := context.WithCancel(context.Background())
		cancel() // Cancel immediately

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
				w.Write([]byte(`error`))
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
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

	t.Run("does not retry on 4xx (except 429)", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`bad request`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err == nil {
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
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(2, 10*time.Millisecond))
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

	t.Run("context cancellation during retry", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(5, 50*time.Millisecond))
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

func TestLogin(t *testing.T) {
	t.Run("stores session cookie", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
			var creds Credentials
			json.NewDecoder(r.Body).Decode(&creds)
			if creds.Username != "lily" || creds.Password != "pw" {
				http.Error(w, "invalid credentials", http.StatusUnauthorized)
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "tok", Path: "/"})
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"user_id": 42}`))
		})
		mux.HandleFunc("GET /messages/{id}", func(w http.ResponseWriter, r *http.Request) {
			if c, err := r.Cookie("session"); err != nil || c.Value != "tok" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`[]`))
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		c := NewClient(server.URL)
		resp, err := c.Login(context.Background(), "lily", "pw")
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if resp.UserID != 42 {
			t.Errorf("UserID = %d, want 42", resp.UserID)
		}

		u, _ := url.Parse(server.URL)
		cookies := c.Jar().Cookies(u)
		if len(cookies) != 1 || cookies[0].Value != "tok" {
			t.Errorf("jar cookies = %v, want session=tok", cookies)
		}

		if _, err := c.GetMessages(context.Background(), 7); err != nil {
			t.Errorf("authenticated request failed: %v", err)
		}
	})

	t.Run("invalid credentials", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.Login(context.Background(), "lily", "wrong")
		if !IsUnauthorized(err) {
			t.Fatalf("error = %v, want 401 APIError", err)
		}
		var apiErr *APIError
		errors.As(err, &apiErr)
		if apiErr.Message != "invalid credentials" {
			t.Errorf("Message = %q, want %q", apiErr.Message, "invalid credentials")
		}
	})

	t.Run("missing credentials", func(t *testing.T) {
		c := NewClient("http://localhost")
		if _, err := c.Login(context.Background(), "", "pw"); !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("error = %v, want ErrMissingCredentials", err)
		}
	})
}

func TestRegister(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/register" {
			t.Errorf("request = %s %s, want POST /auth/register", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"message":"registration successful"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	resp, err := c.Register(context.Background(), "lily", "pw")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if resp.Message != "registration successful" {
		t.Errorf("Message = %q, want %q", resp.Message, "registration successful")
	}
}

func TestLogout(t *testing.T) {
	var called int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/logout" {
			t.Errorf("request = %s %s, want POST /auth/logout", r.Method, r.URL.Path)
		}
		atomic.AddInt32(&called, 1)
		// Empty body is fine
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if called != 1 {
		t.Errorf("logout called %d times, want 1", called)
	}
}

func TestSearchUsers(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantNames []string
	}{
		{"array", 200, `[{"id":1,"username":"ann"},{"id":2,"username":"anna"}]`, []string{"ann", "anna"}},
		{"single object", 200, `{"id":3,"username":"bob"}`, []string{"bob"}},
		{"null", 200, `null`, []string{}},
		{"empty array", 200, `[]`, []string{}},
		{"not found", 404, `{"error":"user not found"}`, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClient(server.URL)
			users, err := c.SearchUsers(context.Background(), "an")
			if err != nil {
				t.Fatalf("SearchUsers failed: %v", err)
			}
			if users == nil {
				t.Fatal("users should be non-nil")
			}
			if len(users) != len(tt.wantNames) {
				t.Fatalf("len(users) = %d, want %d", len(users), len(tt.wantNames))
			}
			for i, name := range tt.wantNames {
				if users[i].Username != name {
					t.Errorf("users[%d].Username = %q, want %q", i, users[i].Username, name)
				}
			}
		})
	}

	t.Run("query is path escaped", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.EscapedPath() != "/users/a%20b%2Fc" {
				t.Errorf("path = %q, want %q", r.URL.EscapedPath(), "/users/a%20b%2Fc")
			}
			w.Write([]byte(`[]`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		if _, err := c.SearchUsers(context.Background(), "a b/c"); err != nil {
			t.Fatalf("SearchUsers failed: %v", err)
		}
	})

	t.Run("empty query", func(t *testing.T) {
		c := NewClient("http://localhost")
		if _, err := c.SearchUsers(context.Background(), ""); !errors.Is(err, ErrEmptyQuery) {
			t.Errorf("error = %v, want ErrEmptyQuery", err)
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}))
		defer server.Close()

		c := NewClient(server.URL)
		if _, err := c.SearchUsers(context.Background(), "x"); !IsUnauthorized(err) {
			t.Errorf("error = %v, want 401", err)
		}
	})
}

func TestGetMessages(t *testing.T) {
	t.Run("history", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/messages/7" {
				t.Errorf("path = %q, want /messages/7", r.URL.Path)
			}
			w.Write([]byte(`[
				{"id":1,"sender_id":42,"receiver_id":7,"text":"hi","created_at":1705328200},
				{"id":2,"sender_id":7,"receiver_id":42,"text":"hey","created_at":"2024-01-15T14:20:00Z"}
			]`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		msgs, err := c.GetMessages(context.Background(), 7)
		if err != nil {
			t.Fatalf("GetMessages failed: %v", err)
		}
		if len(msgs) != 2 {
			t.Fatalf("len(msgs) = %d, want 2", len(msgs))
		}
		if msgs[0].Text != "hi" || msgs[1].SenderID != 7 {
			t.Errorf("unexpected messages: %+v", msgs)
		}
		if msgs[0].CreatedAt.Unix() != 1705328200 {
			t.Errorf("msgs[0].CreatedAt = %v", msgs[0].CreatedAt)
		}
		want := time.Date(2024, 1, 15, 14, 20, 0, 0, time.UTC)
		if !msgs[1].CreatedAt.Equal(want) {
			t.Errorf("msgs[1].CreatedAt = %v, want %v", msgs[1].CreatedAt, want)
		}
	})

	t.Run("404 means empty", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer server.Close()

		c := NewClient(server.URL)
		msgs, err := c.GetMessages(context.Background(), 7)
		if err != nil {
			t.Fatalf("GetMessages failed: %v", err)
		}
		if msgs == nil || len(msgs) != 0 {
			t.Errorf("msgs = %v, want empty slice", msgs)
		}
	})

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		c := NewClient(server.URL)
		if _, err := c.GetMessages(context.Background(), 7); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{"integer seconds", `1705328200`, time.Unix(1705328200, 0).UTC(), false},
		{"fractional seconds", `1705328200.25`, time.Unix(1705328200, 250000000).UTC(), false},
		{"numeric string", `"1705328200"`, time.Unix(1705328200, 0).UTC(), false},
		{"rfc3339", `"2024-01-15T14:20:00Z"`, time.Date(2024, 1, 15, 14, 20, 0, 0, time.UTC), false},
		{"null", `null`, time.Time{}, false},
		{"empty string", `""`, time.Time{}, false},
		{"garbage", `"yesterday"`, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			err := json.Unmarshal([]byte(tt.input), &ts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !ts.Equal(tt.want) {
				t.Errorf("time = %v, want %v", ts.Time, tt.want)
			}
		})
	}
}
