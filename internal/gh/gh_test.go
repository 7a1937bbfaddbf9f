package gh

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sporkfed/sporkfed-bot/internal/testutil"
)

func testClient(t *testing.T, f *testutil.FakeGitHub) *RESTClient {
	t.Helper()

	client, err := NewRESTClient(context.Background(), "", f.BaseURL())
	if err != nil {
		t.Fatalf("NewRESTClient() failed: %v", err)
	}
	return client
}

func TestGetContents_File(t *testing.T) {
	f := testutil.NewFakeGitHub(t)
	repo := f.AddRepo("acme", "templates", "main")
	repo.AddFile("docs/README.md", "hello\n")

	client := testClient(t, f)

	file, dir, err := client.GetContents(context.Background(), "acme", "templates", "docs/README.md", "")
	if err != nil {
		t.Fatalf("GetContents() failed: %v", err)
	}
	if dir != nil {
		t.Fatalf("expected a file response, got directory %v", dir)
	}
	if file.Type != "file" {
		t.Errorf("type = %q, want file", file.Type)
	}
	if file.Name != "README.md" {
		t.Errorf("name = %q, want README.md", file.Name)
	}
	if file.Path != "docs/README.md" {
		t.Errorf("path = %q, want docs/README.md", file.Path)
	}
	if file.Content != "hello\n" {
		t.Errorf("content = %q, want the decoded body", file.Content)
	}

	stored, _ := repo.FileAt("main", "docs/README.md")
	if file.SHA != stored.SHA {
		t.Errorf("sha = %q, want the stored blob sha %q", file.SHA, stored.SHA)
	}
}

func TestGetContents_Directory(t *testing.T) {
	f := testutil.NewFakeGitHub(t)
	repo := f.AddRepo("acme", "templates", "main")
	repo.AddFile("docs/a.md", "a\n")
	repo.AddFile("docs/guide/b.md", "b\n")

	client := testClient(t, f)

	file, dir, err := client.GetContents(context.Background(), "acme", "templates", "docs", "")
	if err != nil {
		t.Fatalf("GetContents() failed: %v", err)
	}
	if file != nil {
		t.Fatalf("expected a directory response, got file %v", file)
	}
	if len(dir) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(dir), dir)
	}

	if dir[0].Name != "a.md" || dir[0].Type != "file" {
		t.Errorf("first entry = %+v, want file a.md", dir[0])
	}
	if dir[0].Content != "" {
		t.Error("directory listings must not carry file bodies")
	}
	if dir[1].Name != "guide" || dir[1].Type != "dir" {
		t.Errorf("second entry = %+v, want dir guide", dir[1])
	}
}

func TestGetContents_Symlink(t *testing.T) {
	f := testutil.NewFakeGitHub(t)
	f.AddRepo("acme", "templates", "main").AddSymlink("link.md", "docs/a.md")

	client := testClient(t, f)

	file, _, err := client.GetContents(context.Background(), "acme", "templates", "link.md", "")
	if err != nil {
		t.Fatalf("GetContents() failed: %v", err)
	}
	if file.Type != "symlink" {
		t.Errorf("type = %q, want symlink", file.Type)
	}
	if file.Content != "" {
		t.Errorf("content = %q, want empty for a non-file entry", file.Content)
	}
}

func TestGetContents_NotFound(t *testing.T) {
	f := testutil.NewFakeGitHub(t)
	f.AddRepo("acme", "templates", "main")

	client := testClient(t, f)

	_, _, err := client.GetContents(context.Background(), "acme", "templates", "missing.md", "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetContents_UnknownRef(t *testing.T) {
	f := testutil.NewFakeGitHub(t)
	f.AddRepo("acme", "templates", "main").AddFile("README.md", "hello\n")

	client := testClient(t, f)

	_, _, err := client.GetContents(context.Background(), "acme", "templates", "README.md", "gone")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for an unknown ref, got %v", err)
	}
}

func TestGetRef(t *testing.T) {
	f := testutil.NewFakeGitHub(t)
	repo := f.AddRepo("acme", "service", "main")
	repo.AddFile("README.md", "hello\n")

	client := testClient(t, f)

	sha, err := client.GetRef(context.Background(), "acme", "service", "heads/main")
	if err != nil {
		t.Fatalf("GetRef() failed: %v", err)
	}
	if sha != repo.HeadSHA() {
		t.Errorf("sha = %q, want the branch tip %q", sha, repo.HeadSHA())
	}

	_, err = client.GetRef(context.Background(), "acme", "service", "heads/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing ref, got %v", err)
	}
}

func TestCreateRefRoundtrip(t *testing.T) {
	f := testutil.NewFakeGitHub(t)
	repo := f.AddRepo("acme", "service", "main")
	repo.AddFile("README.md", "hello\n")

	client := testClient(t, f)
	tip := repo.HeadSHA()

	if err := client.CreateRef(context.Background(), "acme", "service", "heads/sporkfed/README.md", tip); err != nil {
		t.Fatalf("CreateRef() failed: %v", err)
	}

	sha, err := client.GetRef(context.Background(), "acme", "service", "heads/sporkfed/README.md")
	if err != nil {
		t.Fatalf("GetRef() after create failed: %v", err)
	}
	if sha != tip {
		t.Errorf("new branch sha = %q, want %q", sha, tip)
	}
}

func TestDeleteRef(t *testing.T) {
	f := testutil.NewFakeGitHub(t)
	repo := f.AddRepo("acme", "service", "main")
	repo.AddFile("README.md", "hello\n")

	client := testClient(t, f)

	if err := client.CreateRef(context.Background(), "acme", "service", "heads/scratch", repo.HeadSHA()); err != nil {
		t.Fatalf("CreateRef() failed: %v", err)
	}
	if err := client.DeleteRef(context.Background(), "acme", "service", "heads/scratch"); err != nil {
		t.Fatalf("DeleteRef() failed: %v", err)
	}

	if _, ok := repo.BranchSHA("scratch"); ok {
		t.Error("branch still exists after deletion")
	}

	if err := client.DeleteRef(context.Background(), "acme", "service", "heads/scratch"); err == nil {
		t.Error("expected error deleting a missing ref, got nil")
	}
}

func TestCreateOrUpdateFile(t *testing.T) {
	f := testutil.NewFakeGitHub(t)
	repo := f.AddRepo("acme", "service", "main")
	repo.AddFile("README.md", "hello\n")

	client := testClient(t, f)
	ctx := context.Background()

	if err := client.CreateRef(ctx, "acme", "service", "heads/work", repo.HeadSHA()); err != nil {
		t.Fatalf("CreateRef() failed: %v", err)
	}

	// Create: no expected identity.
	createdSHA, err := client.CreateOrUpdateFile(ctx, "acme", "service", "NOTICE", "work", "add notice", []byte("notice v1\n"), "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if createdSHA == "" {
		t.Fatal("create returned an empty blob sha")
	}
	if fc, ok := repo.FileAt("work", "NOTICE"); !ok || fc.Content != "notice v1\n" {
		t.Errorf("branch content = %+v (exists=%v), want notice v1", fc, ok)
	}

	// Update: passes the current identity.
	updatedSHA, err := client.CreateOrUpdateFile(ctx, "acme", "service", "NOTICE", "work", "bump notice", []byte("notice v2\n"), createdSHA)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updatedSHA == createdSHA {
		t.Error("update returned the old blob sha")
	}
	if fc, _ := repo.FileAt("work", "NOTICE"); fc.Content != "notice v2\n" {
		t.Errorf("branch content = %q, want notice v2", fc.Content)
	}

	// Stale identity is rejected remotely.
	if _, err := client.CreateOrUpdateFile(ctx, "acme", "service", "NOTICE", "work", "stale", []byte("notice v3\n"), createdSHA); err == nil {
		t.Error("expected error for a stale expected sha, got nil")
	}
}

func TestPullRequests(t *testing.T) {
	f := testutil.NewFakeGitHub(t)
	f.AddRepo("acme", "service", "main").AddFile("README.md", "hello\n")

	client := testClient(t, f)
	ctx := context.Background()

	first, err := client.CreatePullRequest(ctx, "acme", "service", "sync README", "main", "sporkfed/README.md")
	if err != nil {
		t.Fatalf("CreatePullRequest() failed: %v", err)
	}
	if first.Number == 0 {
		t.Error("expected a pull request number")
	}
	if first.HTMLURL == "" {
		t.Error("expected a pull request URL")
	}

	if _, err := client.CreatePullRequest(ctx, "acme", "service", "sync LICENSE", "main", "sporkfed/LICENSE"); err != nil {
		t.Fatalf("second CreatePullRequest() failed: %v", err)
	}

	prs, err := client.ListPullRequests(ctx, "acme", "service", "open", "main", "acme:sporkfed/README.md")
	if err != nil {
		t.Fatalf("ListPullRequests() failed: %v", err)
	}
	if len(prs) != 1 {
		t.Fatalf("expected 1 pull request for the head filter, got %d", len(prs))
	}
	if prs[0].Number != first.Number || prs[0].Title != "sync README" {
		t.Errorf("listed pull request = %+v, want number %d titled 'sync README'", prs[0], first.Number)
	}

	all, err := client.ListPullRequests(ctx, "acme", "service", "open", "main", "")
	if err != nil {
		t.Fatalf("ListPullRequests() without head filter failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 open pull requests, got %d", len(all))
	}
}

func TestCreatePullRequest_Duplicate(t *testing.T) {
	f := testutil.NewFakeGitHub(t)
	f.AddRepo("acme", "service", "main")

	client := testClient(t, f)
	ctx := context.Background()

	if _, err := client.CreatePullRequest(ctx, "acme", "service", "sync README", "main", "sporkfed/README.md"); err != nil {
		t.Fatalf("CreatePullRequest() failed: %v", err)
	}
	if _, err := client.CreatePullRequest(ctx, "acme", "service", "sync README", "main", "sporkfed/README.md"); err == nil {
		t.Error("expected error for a duplicate open pull request, got nil")
	}
}

func TestNewRESTClient_BaseURLWithoutTrailingSlash(t *testing.T) {
	f := testutil.NewFakeGitHub(t)
	repo := f.AddRepo("acme", "service", "main")
	repo.AddFile("README.md", "hello\n")

	client, err := NewRESTClient(context.Background(), "token123", strings.TrimSuffix(f.BaseURL(), "/"))
	if err != nil {
		t.Fatalf("NewRESTClient() failed: %v", err)
	}

	sha, err := client.GetRef(context.Background(), "acme", "service", "heads/main")
	if err != nil {
		t.Fatalf("GetRef() failed: %v", err)
	}
	if sha != repo.HeadSHA() {
		t.Errorf("sha = %q, want %q", sha, repo.HeadSHA())
	}
}

func TestTokenFromFile(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenPath, []byte("  ghp_sporkfed123\n"), 0600); err != nil {
		t.Fatalf("failed to write token file: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "token trimmed", path: tokenPath, want: "ghp_sporkfed123"},
		{name: "empty path means unauthenticated", path: "", want: ""},
		{name: "missing file", path: "/nonexistent/token", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TokenFromFile(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("TokenFromFile() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("TokenFromFile() = %q, want %q", got, tt.want)
			}
		})
	}
}
