//go:build e2e

// Package harness boots the whole bot in-process for end-to-end tests: a
// fake GitHub API, the webhook server on a loopback port, and helpers to
// deliver hook payloads signed the way GitHub signs them.
package harness

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sporkfed/sporkfed-bot/internal/config"
	"github.com/sporkfed/sporkfed-bot/internal/gh"
	sporkfed "github.com/sporkfed/sporkfed-bot/internal/sync"
	"github.com/sporkfed/sporkfed-bot/internal/testutil"
	"github.com/sporkfed/sporkfed-bot/internal/webhook"
)

// Rule path and branch prefix the suite configures the daemon with; tests
// build their fixtures and assertions against the same values.
const (
	RulesPath    = ".github/sporkfed.yaml"
	BranchPrefix = "sporkfed/"
)

const (
	defaultTimeout = 10 * time.Second
	defaultSecret  = "e2e-webhook-secret"
	logTailLines   = 300
)

// Suite orchestrates one end-to-end bot instance
type Suite struct {
	// immutable config
	Name    string
	Timeout time.Duration
	Secret  string

	// runtime state
	GitHub  *testutil.FakeGitHub
	BaseURL string

	// optional logger hook
	Logf func(format string, args ...any)

	repos  []*testutil.FakeRepo
	logs   *logBuffer
	cancel context.CancelFunc
	done   chan error

	// test reference
	t *testing.T
}

// SuiteOption configures a Suite
type SuiteOption func(*Suite)

// WithTimeout sets how long asynchronous assertions wait
func WithTimeout(d time.Duration) SuiteOption {
	return func(s *Suite) { s.Timeout = d }
}

// WithSecret sets a custom webhook secret
func WithSecret(secret string) SuiteOption {
	return func(s *Suite) { s.Secret = secret }
}

// WithLogf sets a custom logger
func WithLogf(logf func(string, ...any)) SuiteOption {
	return func(s *Suite) { s.Logf = logf }
}

// NewSuite creates a new end-to-end test suite
func NewSuite(name string, t *testing.T, opts ...SuiteOption) *Suite {
	s := &Suite{
		Name:    name,
		Timeout: defaultTimeout,
		Secret:  defaultSecret,
		logs:    newLogBuffer(logTailLines),
		t:       t,
		Logf:    t.Logf,
	}

	for _, opt := range opts {
		opt(s)
	}

	// Check for env overrides
	if timeout := os.Getenv("E2E_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			s.Timeout = d
		}
	}

	return s
}

// Start boots the fake GitHub API and the webhook server wired to it. The
// daemon logs into the suite's diagnostics buffer, not the test log, because
// push evaluation outlives the HTTP exchange that triggered it.
func (s *Suite) Start(ctx context.Context) error {
	s.Logf("Starting fake GitHub API")
	s.GitHub = testutil.NewFakeGitHub(s.t)

	secretFile := filepath.Join(s.t.TempDir(), "webhook-secret")
	if err := os.WriteFile(secretFile, []byte(s.Secret+"\n"), 0o600); err != nil {
		return fmt.Errorf("write secret file: %w", err)
	}

	addr, err := freeLoopbackAddr()
	if err != nil {
		return fmt.Errorf("pick listen address: %w", err)
	}

	cfg := &config.Config{
		GitHub: config.GitHubConfig{BaseURL: s.GitHub.BaseURL()},
		Rules:  config.RulesConfig{Path: RulesPath},
		Sync:   config.SyncConfig{BranchPrefix: BranchPrefix},
		Serve: config.ServeConfig{
			ListenAddr:        addr,
			WebhookSecretFile: secretFile,
		},
	}

	client, err := gh.NewRESTClient(ctx, "", cfg.GitHub.BaseURL)
	if err != nil {
		return fmt.Errorf("create REST client: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(s.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	engine := sporkfed.NewEngine(cfg, client, logger, false)

	server, err := webhook.NewServer(cfg, engine, logger)
	if err != nil {
		return fmt.Errorf("create webhook server: %w", err)
	}

	serveCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() {
		s.done <- server.Start(serveCtx)
	}()

	s.BaseURL = "http://" + addr
	s.Logf("Webhook server starting on %s", s.BaseURL)
	return nil
}

// Stop shuts the webhook server down and waits for it to exit
func (s *Suite) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}

	s.Logf("Stopping webhook server")
	s.cancel()

	select {
	case err := <-s.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready probes the webhook endpoint until the server answers. The definitive
// probe is a plain GET, which the server rejects with 405 once it is serving.
func (s *Suite) Ready(ctx context.Context) error {
	s.Logf("Running readiness probe")

	deadline := time.After(s.Timeout)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-s.done:
			if err == nil {
				err = errors.New("server closed")
			}
			s.DumpDiagnostics()
			return fmt.Errorf("webhook server exited during startup: %w", err)
		case <-deadline:
			s.DumpDiagnostics()
			return fmt.Errorf("timeout waiting for webhook server on %s", s.BaseURL)
		case <-ticker.C:
			resp, err := http.Get(s.BaseURL + "/")
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusMethodNotAllowed {
				s.Logf("Readiness probe passed")
				return nil
			}
		}
	}
}

// AddRepo registers a repository on the fake API and tracks it for
// diagnostics.
func (s *Suite) AddRepo(owner, name, defaultBranch string) *testutil.FakeRepo {
	repo := s.GitHub.AddRepo(owner, name, defaultBranch)
	s.repos = append(s.repos, repo)
	return repo
}

// Deliver posts a correctly signed webhook delivery and returns the response
// status and body.
func (s *Suite) Deliver(ctx context.Context, event string, payload []byte) (int, string, error) {
	return s.DeliverWithSignature(ctx, event, payload, SignPayload(s.Secret, payload))
}

// DeliverWithSignature posts a webhook delivery carrying the given signature
// header value.
func (s *Suite) DeliverWithSignature(ctx context.Context, event string, payload []byte, signature string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/", bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", fmt.Sprintf("%s-%d", s.Name, time.Now().UnixNano()))
	req.Header.Set("X-Hub-Signature-256", signature)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode, string(body), nil
}

// WaitForPullRequest polls the repository until a pull request appears.
// Deliveries are acknowledged before evaluation starts, so pull requests
// register asynchronously; on timeout the suite diagnostics are dumped.
func (s *Suite) WaitForPullRequest(ctx context.Context, repo *testutil.FakeRepo) (testutil.FakePullRequest, error) {
	deadline := time.After(s.Timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return testutil.FakePullRequest{}, ctx.Err()
		case <-deadline:
			s.DumpDiagnostics()
			return testutil.FakePullRequest{}, fmt.Errorf("timeout waiting for a pull request on %s/%s", repo.Owner(), repo.Name())
		case <-ticker.C:
			if prs := repo.PullRequests(); len(prs) > 0 {
				return prs[0], nil
			}
		}
	}
}

// Settle gives asynchronous evaluation a bounded moment to run. Scenarios
// asserting that nothing happened cannot poll for a state change, so they
// wait this long before reading counters.
func (s *Suite) Settle(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// SignPayload computes the signature header value GitHub sends for a hook
// payload signed with the given secret.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// PushPayload renders the delivery body GitHub sends for a push to the given
// ref of the repository, with the head commit at the repository's tip.
func PushPayload(repo *testutil.FakeRepo, ref string) []byte {
	payload := map[string]any{
		"ref":         ref,
		"head_commit": map[string]any{"id": repo.HeadSHA()},
		"repository": map[string]any{
			"name":           repo.Name(),
			"full_name":      repo.Owner() + "/" + repo.Name(),
			"default_branch": repo.DefaultBranch(),
			"owner": map[string]any{
				"name":  repo.Owner(),
				"login": repo.Owner(),
			},
		},
	}
	body, _ := json.Marshal(payload)
	return body
}

// freeLoopbackAddr reserves an ephemeral loopback port and releases it for
// the webhook server to claim.
func freeLoopbackAddr() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		return "", err
	}
	return addr, nil
}
