package rules

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// SupportedVersion is the rule file schema version this build understands.
const SupportedVersion = "1"

// File is the declarative rule list a repository carries at its well-known
// rules path.
type File struct {
	Version string `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// Rule declares one mirroring relation: a file in an upstream repository
// propagated into the repository carrying the rule file.
type Rule struct {
	Upstream Upstream `yaml:"upstream"`
	Target   Target   `yaml:"target"`
}

// Upstream addresses the file to mirror from.
type Upstream struct {
	RepoOwner string `yaml:"repo_owner"`
	RepoName  string `yaml:"repo_name"`
	Branch    string `yaml:"branch"` // empty means the upstream default branch
	Path      string `yaml:"path"`
}

// Target addresses where the mirrored file lands.
type Target struct {
	Path   string `yaml:"path"`
	Branch string `yaml:"branch"` // empty derives a branch name from the resolved path
}

// Empty returns a rule file with no rules, used when a repository carries no
// usable rule file.
func Empty() *File {
	return &File{Version: SupportedVersion}
}

// Parse decodes a rule file. It rejects YAML that does not decode and files
// declaring a schema version other than SupportedVersion; per-rule field
// validation is left to Rule.Validate so one bad rule cannot take down the
// rest of the file.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}

	if f.Version != SupportedVersion {
		return nil, fmt.Errorf("unsupported rule file version %q (supported: %s)", f.Version, SupportedVersion)
	}

	return &f, nil
}

// Validate checks a rule for the fields sync cannot work without.
func (r Rule) Validate() error {
	if r.Upstream.RepoOwner == "" {
		return fmt.Errorf("upstream.repo_owner is required")
	}
	if r.Upstream.RepoName == "" {
		return fmt.Errorf("upstream.repo_name is required")
	}
	if r.Upstream.Path == "" {
		return fmt.Errorf("upstream.path is required")
	}
	if r.Target.Path == "" {
		return fmt.Errorf("target.path is required")
	}
	return nil
}

// String renders the rule's mirroring relation for log output.
func (r Rule) String() string {
	return fmt.Sprintf("%s/%s:%s -> %s", r.Upstream.RepoOwner, r.Upstream.RepoName, r.Upstream.Path, r.Target.Path)
}
