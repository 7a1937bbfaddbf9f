package gh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/google/go-github/v48/github"
	"golang.org/x/oauth2"

	"github.com/sporkfed/sporkfed-bot/internal/entry"
)

// ErrNotFound marks remote responses that said the resource does not exist,
// as opposed to transport or permission failures.
var ErrNotFound = errors.New("resource not found")

// Client provides the hosting API operations the sync engine depends on.
// Refs use the short "heads/<branch>" form throughout.
type Client interface {
	// GetContents fetches the entry at path on ref (empty ref means the
	// repository default branch). Exactly one of file and dir is non-nil on
	// success: file for file, symlink and submodule responses, dir when the
	// path names a directory. dir may be empty but is never nil for a
	// directory.
	GetContents(ctx context.Context, owner, repo, path, ref string) (file *entry.Raw, dir []entry.Raw, err error)

	// GetRef returns the commit SHA the ref points at.
	GetRef(ctx context.Context, owner, repo, ref string) (string, error)

	// CreateRef creates the ref pointing at the given commit SHA.
	CreateRef(ctx context.Context, owner, repo, ref, sha string) error

	// DeleteRef deletes the ref. Deleting a ref that does not exist is an
	// error.
	DeleteRef(ctx context.Context, owner, repo, ref string) error

	// CreateOrUpdateFile commits content to path on branch. sha is the blob
	// SHA the file is expected to have for an update, or empty to create the
	// file. It returns the blob SHA of the written file.
	CreateOrUpdateFile(ctx context.Context, owner, repo, path, branch, message string, content []byte, sha string) (string, error)

	// ListPullRequests lists pull requests filtered by state, base branch and
	// head ("owner:branch" form). Empty filters match everything.
	ListPullRequests(ctx context.Context, owner, repo, state, base, head string) ([]PullRequest, error)

	// CreatePullRequest opens a pull request merging head into base.
	CreatePullRequest(ctx context.Context, owner, repo, title, base, head string) (PullRequest, error)
}

// PullRequest is the subset of pull request data the engine reports on.
type PullRequest struct {
	Number  int
	Title   string
	HTMLURL string
}

// RESTClient implements Client against the GitHub REST API.
type RESTClient struct {
	gh *github.Client
}

// NewRESTClient creates a client for the GitHub REST API. An empty token
// yields an unauthenticated client; an empty baseURL targets the public API.
func NewRESTClient(ctx context.Context, token, baseURL string) (*RESTClient, error) {
	httpClient := http.DefaultClient
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
	}

	client := github.NewClient(httpClient)
	if baseURL != "" {
		// The underlying client requires a trailing slash on the base URL.
		parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid API base URL %q: %w", baseURL, err)
		}
		client.BaseURL = parsed
	}

	return &RESTClient{gh: client}, nil
}

// TokenFromFile reads an access token from path, trimming surrounding
// whitespace. An empty path yields an empty token for unauthenticated use.
func TokenFromFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// GetContents fetches and decodes the entry at path.
func (c *RESTClient) GetContents(ctx context.Context, owner, repo, path, ref string) (*entry.Raw, []entry.Raw, error) {
	opts := &github.RepositoryContentGetOptions{Ref: ref}
	file, dir, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		return nil, nil, wrapErr(resp, fmt.Errorf("get contents %s/%s %q: %w", owner, repo, path, err))
	}

	if dir != nil {
		raws := make([]entry.Raw, 0, len(dir))
		for _, item := range dir {
			raws = append(raws, entry.Raw{
				Type: item.GetType(),
				Name: item.GetName(),
				Path: item.GetPath(),
				SHA:  item.GetSHA(),
			})
		}
		return nil, raws, nil
	}

	if file == nil {
		return nil, nil, fmt.Errorf("get contents %s/%s %q: empty response", owner, repo, path)
	}

	raw := entry.Raw{
		Type: file.GetType(),
		Name: file.GetName(),
		Path: file.GetPath(),
		SHA:  file.GetSHA(),
	}
	if raw.Type == "file" {
		content, err := file.GetContent()
		if err != nil {
			return nil, nil, fmt.Errorf("decode contents %s/%s %q: %w", owner, repo, path, err)
		}
		raw.Content = content
	}
	return &raw, nil, nil
}

// GetRef returns the commit SHA the ref points at.
func (c *RESTClient) GetRef(ctx context.Context, owner, repo, ref string) (string, error) {
	reference, resp, err := c.gh.Git.GetRef(ctx, owner, repo, ref)
	if err != nil {
		return "", wrapErr(resp, fmt.Errorf("get ref %s/%s %q: %w", owner, repo, ref, err))
	}
	return reference.GetObject().GetSHA(), nil
}

// CreateRef creates the ref pointing at the given commit SHA.
func (c *RESTClient) CreateRef(ctx context.Context, owner, repo, ref, sha string) error {
	_, _, err := c.gh.Git.CreateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String("refs/" + ref),
		Object: &github.GitObject{SHA: github.String(sha)},
	})
	if err != nil {
		return fmt.Errorf("create ref %s/%s %q: %w", owner, repo, ref, err)
	}
	return nil
}

// DeleteRef deletes the ref.
func (c *RESTClient) DeleteRef(ctx context.Context, owner, repo, ref string) error {
	resp, err := c.gh.Git.DeleteRef(ctx, owner, repo, ref)
	if err != nil {
		return wrapErr(resp, fmt.Errorf("delete ref %s/%s %q: %w", owner, repo, ref, err))
	}
	return nil
}

// CreateOrUpdateFile commits content to path on branch.
func (c *RESTClient) CreateOrUpdateFile(ctx context.Context, owner, repo, path, branch, message string, content []byte, sha string) (string, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
		Branch:  github.String(branch),
	}

	var written *github.RepositoryContentResponse
	var err error
	if sha != "" {
		opts.SHA = github.String(sha)
		written, _, err = c.gh.Repositories.UpdateFile(ctx, owner, repo, path, opts)
	} else {
		written, _, err = c.gh.Repositories.CreateFile(ctx, owner, repo, path, opts)
	}
	if err != nil {
		return "", fmt.Errorf("write contents %s/%s %q on %q: %w", owner, repo, path, branch, err)
	}
	return written.GetContent().GetSHA(), nil
}

// ListPullRequests lists pull requests filtered by state, base and head.
func (c *RESTClient) ListPullRequests(ctx context.Context, owner, repo, state, base, head string) ([]PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State: state,
		Base:  base,
		Head:  head,
	}
	prs, _, err := c.gh.PullRequests.List(ctx, owner, repo, opts)
	if err != nil {
		return nil, fmt.Errorf("list pull requests %s/%s: %w", owner, repo, err)
	}

	result := make([]PullRequest, 0, len(prs))
	for _, pr := range prs {
		result = append(result, PullRequest{
			Number:  pr.GetNumber(),
			Title:   pr.GetTitle(),
			HTMLURL: pr.GetHTMLURL(),
		})
	}
	return result, nil
}

// CreatePullRequest opens a pull request merging head into base.
func (c *RESTClient) CreatePullRequest(ctx context.Context, owner, repo, title, base, head string) (PullRequest, error) {
	pr, _, err := c.gh.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(head),
		Base:  github.String(base),
	})
	if err != nil {
		return PullRequest{}, fmt.Errorf("create pull request %s/%s %q -> %q: %w", owner, repo, head, base, err)
	}
	return PullRequest{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		HTMLURL: pr.GetHTMLURL(),
	}, nil
}

// wrapErr tags 404 responses with ErrNotFound so callers can tell a missing
// resource apart from a broken call.
func wrapErr(resp *github.Response, err error) error {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
