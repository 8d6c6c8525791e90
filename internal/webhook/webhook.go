// Package webhook turns verified GitHub push deliveries into auto-pull runs.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schaermu/nbpuller/internal/config"
)

// DefaultDebounceDelay collapses bursts of pushes into one run
const DefaultDebounceDelay = 2 * time.Second

// Delivery outcomes reported to OnEvent
const (
	EventAccepted = "accepted"
	EventIgnored  = "ignored"
	EventRejected = "rejected"
)

// GitHubPushEvent represents the relevant fields from a GitHub push webhook
type GitHubPushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Handler verifies GitHub webhook deliveries and fires a debounced trigger
// for every accepted push
type Handler struct {
	cfg      *config.Config
	logger   *slog.Logger
	secret   []byte
	trigger  func()
	onEvent  func(outcome string)
	debounce *debouncer
}

// debouncer implements debouncing for webhook events
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

// NewHandler creates a webhook handler. trigger runs at most once per
// debounce window.
func NewHandler(cfg *config.Config, trigger func(), logger *slog.Logger) (*Handler, error) {
	secret, err := os.ReadFile(cfg.Serve.GitHubWebhookSecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook secret: %w", err)
	}

	// Trim any whitespace/newlines from secret
	secret = []byte(strings.TrimSpace(string(secret)))
	if len(secret) == 0 {
		return nil, fmt.Errorf("webhook secret file %s is empty", cfg.Serve.GitHubWebhookSecretFile)
	}

	return &Handler{
		cfg:      cfg,
		logger:   logger,
		secret:   secret,
		trigger:  trigger,
		debounce: &debouncer{delay: DefaultDebounceDelay},
	}, nil
}

// OnEvent registers fn to be told the outcome of every delivery
func (h *Handler) OnEvent(fn func(outcome string)) {
	h.onEvent = fn
}

func (h *Handler) record(outcome string) {
	if h.onEvent != nil {
		h.onEvent(outcome)
	}
}

// ServeHTTP handles incoming GitHub webhook requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.logger.Warn("rejecting non-POST request", "method", r.Method)
		h.record(EventRejected)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" {
		h.logger.Warn("rejecting request with invalid content type", "content_type", contentType)
		h.record(EventRejected)
		http.Error(w, "Invalid content type", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MB limit
	if err != nil {
		h.logger.Error("failed to read request body", "error", err)
		h.record(EventRejected)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	if !h.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		h.logger.Warn("rejecting request with invalid signature")
		h.record(EventRejected)
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	h.logger.Info("received webhook", "event", eventType)

	if eventType == "ping" {
		h.record(EventIgnored)
		_, _ = fmt.Fprintf(w, "pong\n")
		return
	}

	if !h.isEventTypeAllowed(eventType) {
		h.logger.Info("ignoring disallowed event type", "event", eventType)
		h.record(EventIgnored)
		_, _ = fmt.Fprintf(w, "Event type not configured for auto-pull\n")
		return
	}

	var event GitHubPushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("failed to parse webhook payload", "error", err)
		h.record(EventRejected)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	if !h.isRefAllowed(event.Ref) {
		h.logger.Info("ignoring disallowed ref", "ref", event.Ref)
		h.record(EventIgnored)
		_, _ = fmt.Fprintf(w, "Ref not configured for auto-pull\n")
		return
	}

	h.logger.Info("webhook accepted",
		"event", eventType,
		"ref", event.Ref,
		"commit", event.After,
		"repo", event.Repository.FullName)
	h.record(EventAccepted)

	h.debounce.trigger(h.trigger)

	_, _ = fmt.Fprintf(w, "Auto-pull triggered\n")
}

// verifySignature verifies the GitHub webhook signature
func (h *Handler) verifySignature(body []byte, signature string) bool {
	// GitHub signature format: sha256=<hex>
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

// isEventTypeAllowed checks the event against serve.allowed_event_types,
// defaulting to push only
func (h *Handler) isEventTypeAllowed(eventType string) bool {
	if len(h.cfg.Serve.AllowedEventTypes) == 0 {
		return eventType == "push"
	}
	for _, allowed := range h.cfg.Serve.AllowedEventTypes {
		if eventType == allowed {
			return true
		}
	}
	return false
}

// isRefAllowed checks if the ref is in the allowed list
func (h *Handler) isRefAllowed(ref string) bool {
	if len(h.cfg.Serve.AllowedRefs) == 0 {
		return true
	}
	for _, allowed := range h.cfg.Serve.AllowedRefs {
		if ref == allowed {
			return true
		}
	}
	return false
}

// trigger schedules the callback to run after the debounce delay
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}
