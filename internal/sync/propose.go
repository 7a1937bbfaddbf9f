package sync

import (
	"context"
	"fmt"

	"github.com/sporkfed/sporkfed-bot/internal/entry"
)

const botName = "sporkfed[bot]"

// commitMessage builds the message used for both the file commit and the
// pull request title. The wording is stable; operators grep for it.
func commitMessage(action Action, path string) string {
	verb := "update"
	if action == ActionCreate {
		verb = "create"
	}
	return fmt.Sprintf("%s %s file at '%s'", botName, verb, path)
}

// resetBranch makes the sync branch a disposable branch at the tip of the
// default branch: any previous branch of the same name is deleted and the
// ref recreated from the current default branch commit. Re-evaluating a rule
// therefore never merges with an earlier attempt, at the cost of discarding
// commits a reviewer may have pushed to the old sync branch.
//
// Deleting a branch that does not exist fails remotely; that failure is
// expected and swallowed. Only the default branch tip lookup is fatal, since
// without a base commit there is nothing to branch from.
func (e *Engine) resetBranch(ctx context.Context, owner, repo, branch, defaultBranch string) (string, error) {
	if err := e.gh.DeleteRef(ctx, owner, repo, "heads/"+branch); err != nil {
		e.logger.Info("sync branch not deleted",
			"tag", TagDeleteBranchError,
			"repo", owner+"/"+repo,
			"branch", branch,
			"error", err)
	}

	baseSHA, err := e.gh.GetRef(ctx, owner, repo, "heads/"+defaultBranch)
	if err != nil {
		e.logger.Error("cannot read default branch tip",
			"tag", TagFetchBaseRefError,
			"repo", owner+"/"+repo,
			"branch", defaultBranch,
			"error", err)
		return "", fmt.Errorf("get ref heads/%s: %w", defaultBranch, err)
	}

	if err := e.gh.CreateRef(ctx, owner, repo, "heads/"+branch, baseSHA); err != nil {
		e.logger.Error("cannot create sync branch",
			"tag", TagCreateBranchError,
			"repo", owner+"/"+repo,
			"branch", branch,
			"base_sha", baseSHA,
			"error", err)
		return baseSHA, nil
	}

	e.logger.Info("sync branch reset",
		"repo", owner+"/"+repo,
		"branch", branch,
		"base_sha", baseSHA)
	return baseSHA, nil
}

// writeAndPropose commits the source content onto the sync branch and opens
// a pull request into the default branch. The steps run unconditionally in
// order; each failure is logged and swallowed so the remaining steps still
// get their attempt, and nothing is rolled back. The open pull request
// listing is observational: an already-open pull request is reported, and
// the create call is made regardless, leaving duplicate rejection to the
// remote.
func (e *Engine) writeAndPropose(ctx context.Context, ev PushEvent, res Resolution, source entry.RemoteEntry, branch string, decision Decision) {
	logger := e.logger.With("repo", ev.Owner+"/"+ev.Repo, "branch", branch, "path", res.Path)
	message := commitMessage(decision.Action, res.Path)

	existingSHA := ""
	if decision.Action == ActionUpdate {
		existingSHA = res.Entry.SHA
	}

	logger.Info("writing target content",
		"tag", TagUpdateTargetContent,
		"action", string(decision.Action),
		"source_sha", source.SHA)
	newSHA, err := e.gh.CreateOrUpdateFile(ctx, ev.Owner, ev.Repo, res.Path, branch, message, []byte(source.Content), existingSHA)
	if err != nil {
		logger.Error("failed to write target content", "tag", TagWriteFileError, "error", err)
	} else {
		logger.Info("target content written", "new_sha", newSHA)
	}

	open, err := e.gh.ListPullRequests(ctx, ev.Owner, ev.Repo, "open", ev.DefaultBranch, ev.Owner+":"+branch)
	switch {
	case err != nil:
		logger.Error("failed to list open pull requests", "error", err)
	case len(open) > 0:
		numbers := make([]int, 0, len(open))
		for _, pr := range open {
			numbers = append(numbers, pr.Number)
		}
		logger.Info("open pull requests already exist for this branch",
			"tag", TagExistingPullRequests,
			"numbers", numbers)
	}

	pr, err := e.gh.CreatePullRequest(ctx, ev.Owner, ev.Repo, message, ev.DefaultBranch, branch)
	if err != nil {
		logger.Error("failed to create pull request", "tag", TagCreatePullRequestError, "error", err)
		return
	}
	logger.Info("pull request created",
		"tag", TagCreatePullRequestOK,
		"number", pr.Number,
		"url", pr.HTMLURL)
}
