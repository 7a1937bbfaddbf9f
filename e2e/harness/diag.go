//go:build e2e

package harness

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Diagnostics represents collected diagnostic information
type Diagnostics struct {
	CollectedAt time.Time
	Items       []DiagItem
}

// DiagItem represents a single named state dump
type DiagItem struct {
	Name   string
	Output string
}

// CollectDiagnostics gathers the daemon log tail and the observable state of
// the fake GitHub API.
func (s *Suite) CollectDiagnostics() *Diagnostics {
	diag := &Diagnostics{CollectedAt: time.Now()}

	diag.Items = append(diag.Items, DiagItem{
		Name:   "daemon-log",
		Output: strings.Join(s.logs.Tail(logTailLines), "\n"),
	})

	if s.GitHub == nil {
		return diag
	}

	diag.Items = append(diag.Items, DiagItem{
		Name:   "api-counters",
		Output: fmt.Sprintf("requests=%d mutations=%d", s.GitHub.Requests(), s.GitHub.Mutations()),
	})

	for _, repo := range s.repos {
		var b strings.Builder
		for _, branch := range repo.Branches() {
			sha, _ := repo.BranchSHA(branch)
			fmt.Fprintf(&b, "branch %s at %s\n", branch, sha)
		}
		for _, pr := range repo.PullRequests() {
			fmt.Fprintf(&b, "pull request #%d [%s] %s <- %s: %s\n",
				pr.Number, pr.State, pr.Base, pr.Head, pr.Title)
		}
		diag.Items = append(diag.Items, DiagItem{
			Name:   "repo-" + repo.Owner() + "-" + repo.Name(),
			Output: b.String(),
		})
	}

	return diag
}

// DumpDiagnostics collects and logs diagnostic information
func (s *Suite) DumpDiagnostics() {
	s.Logf("=== Collecting diagnostics ===")

	for _, item := range s.CollectDiagnostics().Items {
		s.Logf("--- %s ---", item.Name)
		if item.Output != "" {
			s.Logf("%s", item.Output)
		} else {
			s.Logf("(no output)")
		}
	}

	s.Logf("=== End diagnostics ===")
}

// logBuffer retains the daemon's most recent log lines. It outlives the
// test, so unlike a testing.T writer it stays safe for goroutines that are
// still logging after a scenario finished.
type logBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newLogBuffer(max int) *logBuffer {
	return &logBuffer{max: max}
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		b.lines = append(b.lines, line)
	}
	if over := len(b.lines) - b.max; over > 0 {
		b.lines = append([]string(nil), b.lines[over:]...)
	}
	return len(p), nil
}

// Tail returns up to n retained lines, oldest first.
func (b *logBuffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := 0
	if len(b.lines) > n {
		start = len(b.lines) - n
	}
	return append([]string(nil), b.lines[start:]...)
}

var _ io.Writer = (*logBuffer)(nil)
