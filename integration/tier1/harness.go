//go:build integration

package tier1

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/sporkfed/sporkfed-bot/internal/config"
	"github.com/sporkfed/sporkfed-bot/internal/gh"
	"github.com/sporkfed/sporkfed-bot/internal/sync"
	"github.com/sporkfed/sporkfed-bot/internal/testutil"
)

const (
	rulesPath      = ".github/sporkfed.yaml"
	branchPrefix   = "sporkfed/"
	defaultTimeout = 2 * time.Minute
)

// Harness provides a fully wired bot core for Tier 1 integration tests: a
// fake GitHub API with a real REST client and engine talking to it over HTTP.
type Harness struct {
	t      *testing.T
	GitHub *testutil.FakeGitHub
	Client *gh.RESTClient
}

// NewHarness starts a fake GitHub API and a client pointed at it. The fake
// is shut down when the test finishes.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	github := testutil.NewFakeGitHub(t)
	client, err := gh.NewRESTClient(context.Background(), "", github.BaseURL())
	if err != nil {
		t.Fatalf("create REST client: %v", err)
	}

	return &Harness{
		t:      t,
		GitHub: github,
		Client: client,
	}
}

// Engine builds a sync engine using the harness defaults for rule path and
// branch prefix. Engine logs are routed into the test log.
func (h *Harness) Engine(dryRun bool) *sync.Engine {
	h.t.Helper()

	cfg := &config.Config{
		GitHub: config.GitHubConfig{BaseURL: h.GitHub.BaseURL()},
		Rules:  config.RulesConfig{Path: rulesPath},
		Sync:   config.SyncConfig{BranchPrefix: branchPrefix},
	}

	logger := slog.New(slog.NewTextHandler(
		&testWriter{t: h.t, prefix: "[engine] "},
		&slog.HandlerOptions{Level: slog.LevelDebug},
	))

	return sync.NewEngine(cfg, h.Client, logger, dryRun)
}

// MustHandlePush runs one push notification through the engine and fails the
// test if evaluation reports an error.
func (h *Harness) MustHandlePush(ctx context.Context, engine *sync.Engine, ev sync.PushEvent) {
	h.t.Helper()
	if err := engine.HandlePush(ctx, ev); err != nil {
		h.t.Fatalf("handle push: %v", err)
	}
}

// pushFor synthesizes the push notification GitHub would deliver for a
// commit on the repository's default branch.
func pushFor(repo *testutil.FakeRepo) sync.PushEvent {
	return sync.PushEvent{
		Owner:         repo.Owner(),
		Repo:          repo.Name(),
		Ref:           "refs/heads/" + repo.DefaultBranch(),
		DefaultBranch: repo.DefaultBranch(),
		HeadCommit:    repo.HeadSHA(),
	}
}

// testWriter wraps test logging for engine output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
