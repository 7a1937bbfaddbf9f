package sync

import (
	"context"
	"fmt"

	"github.com/sporkfed/sporkfed-bot/internal/entry"
)

// Sides of a rule, used to label fetch logs.
const (
	sideSource = "source"
	sideTarget = "target"
)

// Resolution is the effective write target of a rule: the concrete path and
// whatever currently sits there.
type Resolution struct {
	Path  string
	Entry entry.RemoteEntry
}

// Action classifies what a rule evaluation decided to do.
type Action string

const (
	ActionNoop   Action = "noop"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionReject Action = "reject"
)

// Decision is the outcome of comparing a source file against its resolved
// target.
type Decision struct {
	Action Action
	Reason string
}

// fetchEntry retrieves and classifies the entry at path. Every failure mode
// collapses into Absent: a path that cannot be fetched holds nothing the
// engine needs to preserve, so later stages may treat it as empty.
func (e *Engine) fetchEntry(ctx context.Context, side, owner, repo, path, ref string) entry.RemoteEntry {
	file, dir, err := e.gh.GetContents(ctx, owner, repo, path, ref)
	if err != nil {
		e.logger.Error("failed to fetch file contents",
			"tag", TagFetchContentsError,
			"side", side,
			"repo", owner+"/"+repo,
			"path", path,
			"error", err)
		return entry.Absent()
	}

	classified := entry.Classify(path, file, dir)
	e.logger.Info("fetched file contents",
		"tag", TagFetchContentsSuccess,
		"side", side,
		"repo", owner+"/"+repo,
		"path", path,
		"type", string(classified.Kind))
	return classified
}

// resolveTarget determines the concrete file a rule writes to. A rule may
// point its target path at a directory, in which case the source file's own
// name selects the file inside it; the lookup goes one level deep and never
// descends into nested directories. Any non-directory target is used as
// configured.
func resolveTarget(source entry.RemoteEntry, target entry.RemoteEntry, configuredPath string) Resolution {
	if target.Kind != entry.KindDirectory {
		return Resolution{Path: configuredPath, Entry: target}
	}

	effective := configuredPath + "/" + source.Name
	for _, item := range target.Entries {
		if item.Path == effective {
			return Resolution{Path: effective, Entry: item}
		}
	}
	return Resolution{Path: effective, Entry: entry.Absent()}
}

// decide compares the source file against the resolved target entry. Equal
// blob SHAs mean equal content, so the comparison never looks at bytes.
func decide(source, target entry.RemoteEntry) Decision {
	switch target.Kind {
	case entry.KindSymlink, entry.KindSubmodule, entry.KindDirectory:
		return Decision{
			Action: ActionReject,
			Reason: fmt.Sprintf("target is a %s, expected a file", target.Kind),
		}
	case entry.KindAbsent:
		return Decision{Action: ActionCreate, Reason: "target does not exist"}
	}

	if target.SHA == source.SHA {
		return Decision{Action: ActionNoop, Reason: "content identities match"}
	}
	return Decision{Action: ActionUpdate, Reason: "content identities differ"}
}
