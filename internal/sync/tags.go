package sync

// Log tags attached to engine decision points. Alerting and dashboards key
// on these values, so they are part of the operational contract: never
// rename one.
const (
	TagIgnoreNonDefaultBranch = "ignore_non_default_branch"
	TagIgnoreNoHeadCommit     = "ignore_no_head_commit"
	TagRulesFileNotFound      = "rules_file_not_found"
	TagRulesFileInvalid       = "rules_file_invalid"
	TagFetchContentsSuccess   = "fetch_file_contents_success"
	TagFetchContentsError     = "fetch_file_contents_error"
	TagSourcePathNotFound     = "source_path_not_found"
	TagUnsupportedSourceType  = "unsupported_source_type"
	TagUnsupportedTargetType  = "unsupported_target_type"
	TagIgnoreNoChanges        = "ignore_no_changes"
	TagDryRunSkip             = "dry_run_skip"
	TagDeleteBranchError      = "delete_branch_error"
	TagFetchBaseRefError      = "fetch_base_ref_error"
	TagCreateBranchError      = "create_branch_error"
	TagUpdateTargetContent    = "update_target_content"
	TagWriteFileError         = "write_file_error"
	TagExistingPullRequests   = "existing_pull_requests"
	TagCreatePullRequestOK    = "create_pull_request_success"
	TagCreatePullRequestError = "create_pull_request_error"
)
