// Package testutil provides an in-memory GitHub API fake for exercising the
// REST client, the engine and the webhook server over real HTTP.
package testutil

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
)

// FakeGitHub serves the subset of the GitHub REST API the bot talks to:
// contents, git refs and pull requests. Repositories are plain in-memory
// maps; branches snapshot the file tree they were created from.
type FakeGitHub struct {
	mu    sync.Mutex
	srv   *httptest.Server
	repos map[string]*FakeRepo

	requests  int
	mutations int
}

// FakeRepo is one hosted repository inside the fake.
type FakeRepo struct {
	f             *FakeGitHub
	owner         string
	name          string
	defaultBranch string
	branches      map[string]*fakeBranch
	pulls         []FakePullRequest
	nextPR        int
}

type fakeBranch struct {
	headSHA string
	files   map[string]FakeContent
}

// FakeContent is a stored repository entry. Content holds the file body, or
// the link target for symlinks.
type FakeContent struct {
	Type    string
	Content string
	SHA     string
}

// FakePullRequest mirrors the pull request fields the fake tracks.
type FakePullRequest struct {
	Number  int
	Title   string
	State   string
	Base    string
	Head    string
	HTMLURL string
}

// NewFakeGitHub starts the fake API server; it is shut down via t.Cleanup.
func NewFakeGitHub(t *testing.T) *FakeGitHub {
	t.Helper()

	f := &FakeGitHub{repos: make(map[string]*FakeRepo)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/{path...}", f.handleGetContents)
	mux.HandleFunc("PUT /repos/{owner}/{repo}/contents/{path...}", f.handlePutContents)
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/ref/{ref...}", f.handleGetRef)
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/refs", f.handleCreateRef)
	mux.HandleFunc("DELETE /repos/{owner}/{repo}/git/refs/{ref...}", f.handleDeleteRef)
	mux.HandleFunc("GET /repos/{owner}/{repo}/pulls", f.handleListPulls)
	mux.HandleFunc("POST /repos/{owner}/{repo}/pulls", f.handleCreatePull)

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests++
		if r.Method != http.MethodGet {
			f.mutations++
		}
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)

	return f
}

// BaseURL is the address to point the REST client at.
func (f *FakeGitHub) BaseURL() string {
	return f.srv.URL + "/"
}

// Requests returns the total number of API calls received.
func (f *FakeGitHub) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

// Mutations returns the number of non-GET API calls received.
func (f *FakeGitHub) Mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutations
}

// AddRepo registers an empty repository with the given default branch.
func (f *FakeGitHub) AddRepo(owner, repo, defaultBranch string) *FakeRepo {
	f.mu.Lock()
	defer f.mu.Unlock()

	r := &FakeRepo{
		f:             f,
		owner:         owner,
		name:          repo,
		defaultBranch: defaultBranch,
		branches: map[string]*fakeBranch{
			defaultBranch: {
				headSHA: hashOf("commit", owner+"/"+repo),
				files:   make(map[string]FakeContent),
			},
		},
		nextPR: 1,
	}
	f.repos[owner+"/"+repo] = r
	return r
}

func (f *FakeGitHub) repo(owner, repo string) *FakeRepo {
	return f.repos[owner+"/"+repo]
}

// AddFile puts a file on the repository's default branch and advances its
// head commit.
func (r *FakeRepo) AddFile(p, content string) *FakeRepo {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()

	br := r.branches[r.defaultBranch]
	sha := hashOf("blob", content)
	br.files[p] = FakeContent{Type: "file", Content: content, SHA: sha}
	br.headSHA = hashOf("commit", br.headSHA+p+sha)
	return r
}

// AddSymlink puts a symlink entry on the default branch.
func (r *FakeRepo) AddSymlink(p, target string) *FakeRepo {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()

	br := r.branches[r.defaultBranch]
	sha := hashOf("blob", target)
	br.files[p] = FakeContent{Type: "symlink", Content: target, SHA: sha}
	br.headSHA = hashOf("commit", br.headSHA+p+sha)
	return r
}

// AddSubmodule puts a submodule entry on the default branch, pinned at sha.
func (r *FakeRepo) AddSubmodule(p, sha string) *FakeRepo {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()

	br := r.branches[r.defaultBranch]
	br.files[p] = FakeContent{Type: "submodule", SHA: sha}
	br.headSHA = hashOf("commit", br.headSHA+p+sha)
	return r
}

// Owner returns the repository owner login.
func (r *FakeRepo) Owner() string { return r.owner }

// Name returns the repository name.
func (r *FakeRepo) Name() string { return r.name }

// DefaultBranch returns the name of the repository's default branch.
func (r *FakeRepo) DefaultBranch() string { return r.defaultBranch }

// HeadSHA returns the default branch tip.
func (r *FakeRepo) HeadSHA() string {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	return r.branches[r.defaultBranch].headSHA
}

// Branches returns the names of all branches, sorted.
func (r *FakeRepo) Branches() []string {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()

	names := make([]string, 0, len(r.branches))
	for name := range r.branches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BranchSHA returns the tip of the named branch.
func (r *FakeRepo) BranchSHA(branch string) (string, bool) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()

	br, ok := r.branches[branch]
	if !ok {
		return "", false
	}
	return br.headSHA, true
}

// FileAt returns the entry stored at path on the named branch.
func (r *FakeRepo) FileAt(branch, p string) (FakeContent, bool) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()

	br, ok := r.branches[branch]
	if !ok {
		return FakeContent{}, false
	}
	fc, ok := br.files[p]
	return fc, ok
}

// PullRequests returns a copy of every pull request ever opened.
func (r *FakeRepo) PullRequests() []FakePullRequest {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	return append([]FakePullRequest(nil), r.pulls...)
}

func hashOf(kind, data string) string {
	h := sha1.Sum([]byte(kind + " " + data))
	return hex.EncodeToString(h[:])
}

type refJSON struct {
	Ref string `json:"ref"`
}

type pullJSON struct {
	Number  int     `json:"number"`
	State   string  `json:"state"`
	Title   string  `json:"title"`
	HTMLURL string  `json:"html_url"`
	Head    refJSON `json:"head"`
	Base    refJSON `json:"base"`
}

type contentJSON struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding,omitempty"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Size     int    `json:"size,omitempty"`
	Content  string `json:"content,omitempty"`
	Target   string `json:"target,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func (f *FakeGitHub) handleGetContents(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	repo := f.repo(r.PathValue("owner"), r.PathValue("repo"))
	if repo == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	branch := r.URL.Query().Get("ref")
	if branch == "" {
		branch = repo.defaultBranch
	}
	br, ok := repo.branches[branch]
	if !ok {
		writeError(w, http.StatusNotFound, "No commit found for the ref "+branch)
		return
	}

	p := strings.Trim(r.PathValue("path"), "/")
	if fc, ok := br.files[p]; ok {
		item := contentJSON{
			Type: fc.Type,
			Name: path.Base(p),
			Path: p,
			SHA:  fc.SHA,
		}
		switch fc.Type {
		case "file":
			item.Encoding = "base64"
			item.Size = len(fc.Content)
			item.Content = base64.StdEncoding.EncodeToString([]byte(fc.Content))
		case "symlink":
			item.Target = fc.Content
		}
		writeJSON(w, http.StatusOK, item)
		return
	}

	items := br.list(p)
	if items == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// list builds a directory listing of p's immediate children, or nil when
// nothing lives under p.
func (br *fakeBranch) list(p string) []contentJSON {
	prefix := ""
	if p != "" {
		prefix = p + "/"
	}

	seen := make(map[string]contentJSON)
	for fp, fc := range br.files {
		if !strings.HasPrefix(fp, prefix) {
			continue
		}
		rest := fp[len(prefix):]
		if rest == "" {
			continue
		}
		seg, _, nested := strings.Cut(rest, "/")
		if nested {
			seen[seg] = contentJSON{
				Type: "dir",
				Name: seg,
				Path: prefix + seg,
				SHA:  hashOf("tree", prefix+seg),
			}
			continue
		}
		seen[seg] = contentJSON{
			Type: fc.Type,
			Name: seg,
			Path: fp,
			SHA:  fc.SHA,
		}
	}
	if len(seen) == 0 {
		return nil
	}

	items := make([]contentJSON, 0, len(seen))
	for _, item := range seen {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}

func (f *FakeGitHub) handlePutContents(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	repo := f.repo(r.PathValue("owner"), r.PathValue("repo"))
	if repo == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	var req struct {
		Message string `json:"message"`
		Content []byte `json:"content"`
		Branch  string `json:"branch"`
		SHA     string `json:"sha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}

	branch := req.Branch
	if branch == "" {
		branch = repo.defaultBranch
	}
	br, ok := repo.branches[branch]
	if !ok {
		writeError(w, http.StatusNotFound, "Branch not found")
		return
	}

	p := strings.Trim(r.PathValue("path"), "/")
	existing, exists := br.files[p]
	status := http.StatusCreated
	switch {
	case exists && req.SHA == "":
		writeError(w, http.StatusUnprocessableEntity, `"sha" wasn't supplied`)
		return
	case exists && req.SHA != existing.SHA:
		writeError(w, http.StatusConflict, p+" does not match "+req.SHA)
		return
	case !exists && req.SHA != "":
		writeError(w, http.StatusUnprocessableEntity, "No file found at "+p)
		return
	case exists:
		status = http.StatusOK
	}

	sha := hashOf("blob", string(req.Content))
	br.files[p] = FakeContent{Type: "file", Content: string(req.Content), SHA: sha}
	br.headSHA = hashOf("commit", br.headSHA+p+sha)

	writeJSON(w, status, map[string]any{
		"content": contentJSON{Type: "file", Name: path.Base(p), Path: p, SHA: sha},
		"commit":  map[string]string{"sha": br.headSHA, "message": req.Message},
	})
}

func (f *FakeGitHub) handleGetRef(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	repo := f.repo(r.PathValue("owner"), r.PathValue("repo"))
	if repo == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	ref := r.PathValue("ref")
	branch, ok := strings.CutPrefix(ref, "heads/")
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	br, ok := repo.branches[branch]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ref":    "refs/" + ref,
		"object": map[string]string{"type": "commit", "sha": br.headSHA},
	})
}

func (f *FakeGitHub) handleCreateRef(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	repo := f.repo(r.PathValue("owner"), r.PathValue("repo"))
	if repo == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	var req struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}

	branch, ok := strings.CutPrefix(req.Ref, "refs/heads/")
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "Reference name is not well-formed")
		return
	}
	if _, exists := repo.branches[branch]; exists {
		writeError(w, http.StatusUnprocessableEntity, "Reference already exists")
		return
	}

	// The new branch snapshots the tree of whichever branch sits at the
	// given commit.
	files := make(map[string]FakeContent)
	for _, other := range repo.branches {
		if other.headSHA == req.SHA {
			for fp, fc := range other.files {
				files[fp] = fc
			}
			break
		}
	}
	repo.branches[branch] = &fakeBranch{headSHA: req.SHA, files: files}

	writeJSON(w, http.StatusCreated, map[string]any{
		"ref":    req.Ref,
		"object": map[string]string{"type": "commit", "sha": req.SHA},
	})
}

func (f *FakeGitHub) handleDeleteRef(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	repo := f.repo(r.PathValue("owner"), r.PathValue("repo"))
	if repo == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	branch, ok := strings.CutPrefix(r.PathValue("ref"), "heads/")
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "Reference name is not well-formed")
		return
	}
	if _, exists := repo.branches[branch]; !exists {
		writeError(w, http.StatusUnprocessableEntity, "Reference does not exist")
		return
	}

	delete(repo.branches, branch)
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeGitHub) handleListPulls(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	repo := f.repo(r.PathValue("owner"), r.PathValue("repo"))
	if repo == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	q := r.URL.Query()
	state, base, head := q.Get("state"), q.Get("base"), q.Get("head")
	// The head filter arrives qualified as "owner:branch".
	if _, branch, ok := strings.Cut(head, ":"); ok {
		head = branch
	}

	items := make([]pullJSON, 0)
	for _, pr := range repo.pulls {
		if state != "" && state != "all" && pr.State != state {
			continue
		}
		if base != "" && pr.Base != base {
			continue
		}
		if head != "" && pr.Head != head {
			continue
		}
		items = append(items, pullJSON{
			Number:  pr.Number,
			State:   pr.State,
			Title:   pr.Title,
			HTMLURL: pr.HTMLURL,
			Head:    refJSON{Ref: pr.Head},
			Base:    refJSON{Ref: pr.Base},
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (f *FakeGitHub) handleCreatePull(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	repo := f.repo(r.PathValue("owner"), r.PathValue("repo"))
	if repo == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	var req struct {
		Title string `json:"title"`
		Head  string `json:"head"`
		Base  string `json:"base"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}

	for _, pr := range repo.pulls {
		if pr.State == "open" && pr.Head == req.Head && pr.Base == req.Base {
			writeError(w, http.StatusUnprocessableEntity,
				fmt.Sprintf("A pull request already exists for %s:%s", repo.owner, req.Head))
			return
		}
	}

	pr := FakePullRequest{
		Number:  repo.nextPR,
		Title:   req.Title,
		State:   "open",
		Base:    req.Base,
		Head:    req.Head,
		HTMLURL: fmt.Sprintf("%s/%s/%s/pull/%d", f.srv.URL, repo.owner, repo.name, repo.nextPR),
	}
	repo.nextPR++
	repo.pulls = append(repo.pulls, pr)

	writeJSON(w, http.StatusCreated, pullJSON{
		Number:  pr.Number,
		State:   pr.State,
		Title:   pr.Title,
		HTMLURL: pr.HTMLURL,
		Head:    refJSON{Ref: pr.Head},
		Base:    refJSON{Ref: pr.Base},
	})
}
