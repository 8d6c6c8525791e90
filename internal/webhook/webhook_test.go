package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/schaermu/nbpuller/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestConfig(t *testing.T) (*config.Config, string) {
	t.Helper()

	tmpDir := t.TempDir()
	secretPath := filepath.Join(tmpDir, "webhook_secret")
	secret := "test-secret-key"
	if err := os.WriteFile(secretPath, []byte(secret+"\n"), 0600); err != nil {
		t.Fatalf("failed to write secret file: %v", err)
	}

	cfg := &config.Config{
		Serve: config.ServeConfig{
			GitHubWebhookSecretFile: secretPath,
			AllowedEventTypes:       []string{"push"},
			AllowedRefs:             []string{"refs/heads/gh-pages"},
		},
	}
	return cfg, secret
}

func computeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// newTestHandler returns a handler whose trigger increments the returned
// counter without debouncing delay
func newTestHandler(t *testing.T, cfg *config.Config) (*Handler, *atomic.Int32, *[]string) {
	t.Helper()
	var triggered atomic.Int32
	h, err := NewHandler(cfg, func() { triggered.Add(1) }, testLogger())
	if err != nil {
		t.Fatalf("NewHandler() failed: %v", err)
	}
	h.debounce.delay = time.Millisecond

	var events []string
	h.OnEvent(func(outcome string) { events = append(events, outcome) })
	return h, &triggered, &events
}

func newDelivery(body []byte, event, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-Hub-Signature-256", signature)
	return req
}

func waitForTrigger(t *testing.T, triggered *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for triggered.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d trigger(s), got %d", want, triggered.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewHandler(t *testing.T) {
	cfg, _ := setupTestConfig(t)
	h, _, _ := newTestHandler(t, cfg)

	if string(h.secret) != "test-secret-key" {
		t.Errorf("expected trimmed secret, got %q", string(h.secret))
	}
}

func TestNewHandler_SecretErrors(t *testing.T) {
	cfg, _ := setupTestConfig(t)

	cfg.Serve.GitHubWebhookSecretFile = "/nonexistent/secret"
	if _, err := NewHandler(cfg, func() {}, testLogger()); err == nil {
		t.Error("expected error for missing secret file")
	}

	empty := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(empty, []byte("  \n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg.Serve.GitHubWebhookSecretFile = empty
	if _, err := NewHandler(cfg, func() {}, testLogger()); err == nil {
		t.Error("expected error for empty secret file")
	}
}

func TestVerifySignature(t *testing.T) {
	cfg, secret := setupTestConfig(t)
	h, _, _ := newTestHandler(t, cfg)
	body := []byte(`{"ref":"refs/heads/gh-pages"}`)

	tests := []struct {
		name      string
		body      []byte
		signature string
		want      bool
	}{
		{"valid signature", body, computeSignature(body, secret), true},
		{"invalid signature", body, "sha256=invalid", false},
		{"missing sha256 prefix", body, "notsha256", false},
		{"empty signature", body, "", false},
		{"wrong body", []byte(`{"ref":"refs/heads/other"}`), computeSignature(body, secret), false},
		{"wrong secret", body, computeSignature(body, "other-secret"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.verifySignature(tt.body, tt.signature); got != tt.want {
				t.Errorf("verifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsEventTypeAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		event   string
		want    bool
	}{
		{"default allows push", nil, "push", true},
		{"default rejects release", nil, "release", false},
		{"configured match", []string{"push", "release"}, "release", true},
		{"configured mismatch", []string{"release"}, "push", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := setupTestConfig(t)
			cfg.Serve.AllowedEventTypes = tt.allowed
			h, _, _ := newTestHandler(t, cfg)
			if got := h.isEventTypeAllowed(tt.event); got != tt.want {
				t.Errorf("isEventTypeAllowed(%q) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestIsRefAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		ref     string
		want    bool
	}{
		{"no filter", nil, "refs/heads/anything", true},
		{"match", []string{"refs/heads/main", "refs/heads/gh-pages"}, "refs/heads/gh-pages", true},
		{"mismatch", []string{"refs/heads/main"}, "refs/heads/dev", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := setupTestConfig(t)
			cfg.Serve.AllowedRefs = tt.allowed
			h, _, _ := newTestHandler(t, cfg)
			if got := h.isRefAllowed(tt.ref); got != tt.want {
				t.Errorf("isRefAllowed(%q) = %v, want %v", tt.ref, got, tt.want)
			}
		})
	}
}

func TestServeHTTP_ValidPushTriggers(t *testing.T) {
	cfg, secret := setupTestConfig(t)
	h, triggered, events := newTestHandler(t, cfg)

	body := []byte(`{"ref":"refs/heads/gh-pages","after":"abc123","repository":{"name":"materials","full_name":"data-8/materials"}}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newDelivery(body, "push", computeSignature(body, secret)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("Auto-pull triggered")) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
	waitForTrigger(t, triggered, 1)
	if diff := cmp.Diff([]string{EventAccepted}, *events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestServeHTTP_Rejections(t *testing.T) {
	cfg, secret := setupTestConfig(t)
	body := []byte(`{"ref":"refs/heads/gh-pages"}`)

	tests := []struct {
		name     string
		request  func() *http.Request
		wantCode int
		wantBody string
		want     string
	}{
		{
			name:     "invalid method",
			request:  func() *http.Request { return httptest.NewRequest(http.MethodGet, "/webhook", nil) },
			wantCode: http.StatusMethodNotAllowed,
			want:     EventRejected,
		},
		{
			name: "invalid content type",
			request: func() *http.Request {
				req := newDelivery(body, "push", computeSignature(body, secret))
				req.Header.Set("Content-Type", "text/plain")
				return req
			},
			wantCode: http.StatusBadRequest,
			want:     EventRejected,
		},
		{
			name:     "invalid signature",
			request:  func() *http.Request { return newDelivery(body, "push", "sha256=deadbeef") },
			wantCode: http.StatusForbidden,
			want:     EventRejected,
		},
		{
			name: "invalid payload",
			request: func() *http.Request {
				bad := []byte(`{not json`)
				return newDelivery(bad, "push", computeSignature(bad, secret))
			},
			wantCode: http.StatusBadRequest,
			want:     EventRejected,
		},
		{
			name:     "ping",
			request:  func() *http.Request { return newDelivery(body, "ping", computeSignature(body, secret)) },
			wantCode: http.StatusOK,
			wantBody: "pong",
			want:     EventIgnored,
		},
		{
			name:     "disallowed event type",
			request:  func() *http.Request { return newDelivery(body, "release", computeSignature(body, secret)) },
			wantCode: http.StatusOK,
			wantBody: "Event type not configured",
			want:     EventIgnored,
		},
		{
			name: "disallowed ref",
			request: func() *http.Request {
				other := []byte(`{"ref":"refs/heads/dev"}`)
				return newDelivery(other, "push", computeSignature(other, secret))
			},
			wantCode: http.StatusOK,
			wantBody: "Ref not configured",
			want:     EventIgnored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, triggered, events := newTestHandler(t, cfg)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.request())

			if rec.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if tt.wantBody != "" && !bytes.Contains(rec.Body.Bytes(), []byte(tt.wantBody)) {
				t.Errorf("expected body containing %q, got %q", tt.wantBody, rec.Body.String())
			}
			if diff := cmp.Diff([]string{tt.want}, *events); diff != "" {
				t.Errorf("events mismatch (-want +got):\n%s", diff)
			}
			time.Sleep(10 * time.Millisecond)
			if n := triggered.Load(); n != 0 {
				t.Errorf("expected no trigger, got %d", n)
			}
		})
	}
}

func TestDebouncer(t *testing.T) {
	var callCount int
	var mu sync.Mutex
	d := &debouncer{delay: 50 * time.Millisecond}

	// Trigger multiple times rapidly
	for i := 0; i < 5; i++ {
		d.trigger(func() {
			mu.Lock()
			callCount++
			mu.Unlock()
		})
		time.Sleep(10 * time.Millisecond)
	}

	// Wait for debounce to complete
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	count := callCount
	mu.Unlock()

	if count != 1 {
		t.Errorf("expected callback to be called once, got %d", count)
	}
}
