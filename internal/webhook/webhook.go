package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/go-github/v48/github"

	"github.com/sporkfed/sporkfed-bot/internal/config"
	sporkfed "github.com/sporkfed/sporkfed-bot/internal/sync"
)

// PushHandler evaluates the sync rules of the repository a push delivery
// points at.
type PushHandler interface {
	HandlePush(ctx context.Context, ev sporkfed.PushEvent) error
}

// Server implements the webhook HTTP server
type Server struct {
	cfg     *config.Config
	handler PushHandler
	logger  *slog.Logger
	secret  []byte
}

// NewServer creates a new webhook server
func NewServer(cfg *config.Config, handler PushHandler, logger *slog.Logger) (*Server, error) {
	// Load webhook secret from file
	secret, err := os.ReadFile(cfg.Serve.WebhookSecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook secret: %w", err)
	}

	// Trim any whitespace/newlines from secret
	secret = []byte(strings.TrimSpace(string(secret)))

	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		secret:  secret,
	}, nil
}

// Start runs the webhook HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.listener()
	if err != nil {
		return err
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

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook server starting", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
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
	// Only accept POST requests
	if r.Method != http.MethodPost {
		s.logger.Warn("rejecting non-POST request", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	payload, err := github.ValidatePayload(r, s.secret)
	if err != nil {
		s.logger.Warn("rejecting request with invalid signature", "error", err)
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	eventType := github.WebHookType(r)
	s.logger.Info("received webhook", "event", eventType)

	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		s.logger.Error("failed to parse webhook payload", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	switch event := event.(type) {
	case *github.PingEvent:
		s.logger.Info("answering ping", "hook_id", event.GetHookID())
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "pong\n")
	case *github.PushEvent:
		ev := pushEventFrom(event)
		s.logger.Info("webhook accepted",
			"event", eventType,
			"ref", ev.Ref,
			"commit", ev.HeadCommit,
			"repo", ev.Owner+"/"+ev.Repo)

		// An accepted delivery is evaluated on a background context: the
		// HTTP exchange ends with the acknowledgement below, and overlapping
		// deliveries run independently of each other.
		go func() {
			if err := s.handler.HandlePush(context.Background(), ev); err != nil {
				s.logger.Error("push evaluation failed", "error", err)
			}
		}()

		w.WriteHeader(http.StatusAccepted)
		_, _ = fmt.Fprintf(w, "Sync triggered\n")
	default:
		s.logger.Info("ignoring event type without sync semantics", "event", eventType)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "Event type not configured for sync\n")
	}
}

// pushEventFrom maps a push delivery onto the engine's event type. Push
// payloads carry the repository owner as a committer-style object, so the
// login may be empty and the name field stands in for it.
func pushEventFrom(ev *github.PushEvent) sporkfed.PushEvent {
	repo := ev.GetRepo()
	owner := repo.GetOwner().GetLogin()
	if owner == "" {
		owner = repo.GetOwner().GetName()
	}
	return sporkfed.PushEvent{
		Owner:         owner,
		Repo:          repo.GetName(),
		Ref:           ev.GetRef(),
		DefaultBranch: repo.GetDefaultBranch(),
		HeadCommit:    ev.GetHeadCommit().GetID(),
	}
}
