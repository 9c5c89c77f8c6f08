// Package webhook runs the daily pipeline in response to GitHub push
// events, as an alternative trigger to the scheduled run.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bohdan6992/orion-daily/internal/activation"
	"github.com/bohdan6992/orion-daily/internal/config"
)

// GitHubPushEvent represents the relevant fields from a GitHub push webhook
type GitHubPushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// RunFunc executes one daily run and returns its exit code.
type RunFunc func(ctx context.Context) int

// Server triggers daily runs on accepted webhook events.
type Server struct {
	serve      config.ServeConfig
	runFn      RunFunc
	logger     *slog.Logger
	secret     []byte
	runMu      sync.Mutex // guards runActive and runPending
	runActive  bool       // whether a run is currently in progress
	runPending bool       // whether another run is needed after the current one
	debounce   *debouncer
}

// debouncer implements debouncing for webhook events
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

// NewServer creates a new webhook server
func NewServer(serve config.ServeConfig, runFn RunFunc, logger *slog.Logger) (*Server, error) {
	secret, err := os.ReadFile(serve.WebhookSecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook secret: %w", err)
	}
	secret = []byte(strings.TrimSpace(string(secret)))

	s := &Server{
		serve:  serve,
		runFn:  runFn,
		logger: logger,
		secret: secret,
	}

	// Pushes often arrive in quick bursts; coalesce them.
	s.debounce = &debouncer{
		delay: 2 * time.Second,
	}

	return s, nil
}

// Start starts the webhook HTTP server. The listener comes from systemd
// socket activation when present, else a plain TCP listen on the
// configured address.
func (s *Server) Start(ctx context.Context) error {
	listener, err := activation.Listener()
	if err != nil {
		return fmt.Errorf("failed to check socket activation: %w", err)
	}
	if listener == nil {
		listener, err = net.Listen("tcp", s.serve.ListenAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.serve.ListenAddr, err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebhook)

	server := &http.Server{
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook server starting", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down webhook server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleWebhook handles incoming GitHub webhook requests
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.logger.Warn("rejecting non-POST request", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if contentType := r.Header.Get("Content-Type"); contentType != "application/json" {
		s.logger.Warn("rejecting request with invalid content type", "content_type", contentType)
		http.Error(w, "Invalid content type", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MB limit
	if err != nil {
		s.logger.Error("failed to read request body", "error", err)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	signature := r.Header.Get("X-Hub-Signature-256")
	if !s.verifySignature(body, signature) {
		s.logger.Warn("rejecting request with invalid signature")
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	s.logger.Info("received webhook", "event", eventType)

	if !s.isEventTypeAllowed(eventType) {
		s.logger.Info("ignoring disallowed event type", "event", eventType)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "Event type not configured for runs\n")
		return
	}

	var event GitHubPushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.logger.Error("failed to parse webhook payload", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	if !s.isRefAllowed(event.Ref) {
		s.logger.Info("ignoring disallowed ref", "ref", event.Ref)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "Ref not configured for runs\n")
		return
	}

	s.logger.Info("webhook accepted",
		"event", eventType,
		"ref", event.Ref,
		"commit", event.After,
		"repo", event.Repository.FullName)

	s.debounce.trigger(func() {
		s.performRun(context.Background())
	})

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "Run triggered\n")
}

// verifySignature verifies the GitHub webhook signature
func (s *Server) verifySignature(body []byte, signature string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Constant-time comparison
	return hmac.Equal([]byte(signature), []byte(expected))
}

// isEventTypeAllowed checks if the event type is in the allowed list
func (s *Server) isEventTypeAllowed(eventType string) bool {
	if len(s.serve.AllowedEventTypes) == 0 {
		return true // no filter configured
	}
	for _, allowed := range s.serve.AllowedEventTypes {
		if eventType == allowed {
			return true
		}
	}
	return false
}

// isRefAllowed checks if the ref is in the allowed list
func (s *Server) isRefAllowed(ref string) bool {
	if len(s.serve.AllowedRefs) == 0 {
		return true // no filter configured
	}
	for _, allowed := range s.serve.AllowedRefs {
		if ref == allowed {
			return true
		}
	}
	return false
}

// performRun executes the daily pipeline with single-flight semantics.
// If a run is already in progress, at most one additional run is queued;
// further concurrent requests are dropped. Runs share the checkout and the
// staged secrets, so they must never overlap.
func (s *Server) performRun(ctx context.Context) {
	s.runMu.Lock()
	if s.runActive {
		s.runPending = true
		s.runMu.Unlock()
		s.logger.Info("run already in progress, queuing pending re-run")
		return
	}
	s.runActive = true
	s.runMu.Unlock()

	for {
		s.logger.Info("performing daily run")

		if code := s.runFn(ctx); code != 0 {
			s.logger.Error("daily run finished with failures", "exit_code", code)
		} else {
			s.logger.Info("daily run completed successfully")
		}

		// Atomically check whether another run was requested while we were
		// busy. If not, release the slot and stop; if yes, clear the flag
		// and loop to service that one pending request.
		s.runMu.Lock()
		if !s.runPending {
			s.runActive = false
			s.runMu.Unlock()
			break
		}
		s.runPending = false
		s.runMu.Unlock()

		s.logger.Info("re-running due to pending request")
	}
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
