package sync

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/sporkfed/sporkfed-bot/internal/config"
	"github.com/sporkfed/sporkfed-bot/internal/gh"
	"github.com/sporkfed/sporkfed-bot/internal/rules"
)

// PushEvent carries the fields of a push notification the engine acts on.
// An empty HeadCommit means the push carried no head commit (for example a
// branch deletion).
type PushEvent struct {
	Owner         string
	Repo          string
	Ref           string
	DefaultBranch string
	HeadCommit    string
}

// Engine evaluates a repository's sync rules against the hosting API.
type Engine struct {
	cfg    *config.Config
	gh     gh.Client
	logger *slog.Logger
	dryRun bool
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, client gh.Client, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:    cfg,
		gh:     client,
		logger: logger,
		dryRun: dryRun,
	}
}

// HandlePush runs the full reconciliation for one push notification. Pushes
// outside the repository's default branch and pushes without a head commit
// are ignored before any remote call is made.
func (e *Engine) HandlePush(ctx context.Context, ev PushEvent) error {
	if ev.Ref != "refs/heads/"+ev.DefaultBranch {
		e.logger.Info("ignoring push outside the default branch",
			"tag", TagIgnoreNonDefaultBranch,
			"repo", ev.Owner+"/"+ev.Repo,
			"ref", ev.Ref,
			"default_branch", ev.DefaultBranch)
		return nil
	}

	if ev.HeadCommit == "" {
		e.logger.Info("ignoring push without a head commit",
			"tag", TagIgnoreNoHeadCommit,
			"repo", ev.Owner+"/"+ev.Repo,
			"ref", ev.Ref)
		return nil
	}

	return e.Evaluate(ctx, ev)
}

// Evaluate loads the repository's rule file and runs every rule. Rules run
// concurrently and are isolated from each other: one rule's failure never
// stops a sibling, and Evaluate returns only after every rule has settled.
// The returned error is the first rule failure, reported for exit codes
// after all rules finished.
func (e *Engine) Evaluate(ctx context.Context, ev PushEvent) error {
	ruleFile := e.loadRules(ctx, ev)
	if len(ruleFile.Rules) == 0 {
		e.logger.Info("no sync rules to evaluate", "repo", ev.Owner+"/"+ev.Repo)
		return nil
	}

	e.logger.Info("evaluating sync rules",
		"repo", ev.Owner+"/"+ev.Repo,
		"rules", len(ruleFile.Rules),
		"dry_run", e.dryRun)

	// A plain group, not errgroup.WithContext: a failing rule must not
	// cancel the context its siblings are still using.
	var g errgroup.Group
	for _, rule := range ruleFile.Rules {
		g.Go(func() error {
			if err := e.runRule(ctx, ev, rule); err != nil {
				e.logger.Error("rule evaluation failed",
					"repo", ev.Owner+"/"+ev.Repo,
					"rule", rule.String(),
					"error", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// loadRules fetches and parses the repository's rule file. A repository
// without a readable, well-formed rule file of the supported version has no
// rules; nothing here is fatal.
func (e *Engine) loadRules(ctx context.Context, ev PushEvent) *rules.File {
	raw, _, err := e.gh.GetContents(ctx, ev.Owner, ev.Repo, e.cfg.Rules.Path, "")
	if err != nil {
		if errors.Is(err, gh.ErrNotFound) {
			e.logger.Info("repository carries no rule file",
				"tag", TagRulesFileNotFound,
				"repo", ev.Owner+"/"+ev.Repo,
				"path", e.cfg.Rules.Path)
		} else {
			e.logger.Error("failed to fetch rule file",
				"tag", TagRulesFileNotFound,
				"repo", ev.Owner+"/"+ev.Repo,
				"path", e.cfg.Rules.Path,
				"error", err)
		}
		return rules.Empty()
	}

	if raw == nil {
		e.logger.Warn("rule file path is not a file",
			"tag", TagRulesFileInvalid,
			"repo", ev.Owner+"/"+ev.Repo,
			"path", e.cfg.Rules.Path)
		return rules.Empty()
	}

	ruleFile, err := rules.Parse([]byte(raw.Content))
	if err != nil {
		e.logger.Warn("rule file is invalid",
			"tag", TagRulesFileInvalid,
			"repo", ev.Owner+"/"+ev.Repo,
			"path", e.cfg.Rules.Path,
			"error", err)
		return rules.Empty()
	}

	return ruleFile
}

// runRule drives one rule from fetch through pull request. Failures are
// rule-local and logged where they occur; the only error returned is a
// missing default branch tip, which leaves nothing to branch from.
func (e *Engine) runRule(ctx context.Context, ev PushEvent, rule rules.Rule) error {
	logger := e.logger.With("repo", ev.Owner+"/"+ev.Repo, "rule", rule.String())

	if err := rule.Validate(); err != nil {
		logger.Warn("skipping invalid rule", "tag", TagRulesFileInvalid, "error", err)
		return nil
	}

	source := e.fetchEntry(ctx, sideSource, rule.Upstream.RepoOwner, rule.Upstream.RepoName, rule.Upstream.Path, rule.Upstream.Branch)
	switch {
	case source.IsAbsent():
		logger.Warn("source path not found", "tag", TagSourcePathNotFound, "source_path", rule.Upstream.Path)
		return nil
	case !source.IsFile():
		logger.Warn("source is not a regular file",
			"tag", TagUnsupportedSourceType,
			"source_path", rule.Upstream.Path,
			"type", string(source.Kind))
		return nil
	}

	target := e.fetchEntry(ctx, sideTarget, ev.Owner, ev.Repo, rule.Target.Path, "")
	res := resolveTarget(source, target, rule.Target.Path)

	decision := decide(source, res.Entry)
	switch decision.Action {
	case ActionReject:
		logger.Warn("target cannot be replaced",
			"tag", TagUnsupportedTargetType,
			"target_path", res.Path,
			"reason", decision.Reason)
		return nil
	case ActionNoop:
		logger.Info("target already matches source",
			"tag", TagIgnoreNoChanges,
			"target_path", res.Path,
			"sha", source.SHA)
		return nil
	}

	if e.dryRun {
		logger.Info("dry-run, skipping changes",
			"tag", TagDryRunSkip,
			"action", string(decision.Action),
			"target_path", res.Path)
		return nil
	}

	branch := e.syncBranch(rule, res)
	if _, err := e.resetBranch(ctx, ev.Owner, ev.Repo, branch, ev.DefaultBranch); err != nil {
		return err
	}

	e.writeAndPropose(ctx, ev, res, source, branch, decision)
	return nil
}

// syncBranch names the branch a rule stages its change on. Rules may pin a
// branch explicitly; otherwise the name derives from the resolved target
// path under the configured prefix, so distinct targets stay on distinct
// branches.
func (e *Engine) syncBranch(rule rules.Rule, res Resolution) string {
	if rule.Target.Branch != "" {
		return rule.Target.Branch
	}
	return e.cfg.Sync.BranchPrefix + res.Path
}
