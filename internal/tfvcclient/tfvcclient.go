// Package tfvcclient declares the boundary between the sync engine and a
// TFVC server. The wire protocol itself is out of scope for this module;
// what matters here is the contract CheckinDriver and SyncOrchestrator
// depend on, so any transport (SOAP client, REST shim, process wrapping
// tf.exe) can implement it.
package tfvcclient

// ParentBinding is the minimal binding information a client needs to
// materialize a check-in's TFVC parent changeset.
type ParentBinding struct {
	ChangesetID int
	TFSPath     string
}

// CheckinOptions carries operator-supplied metadata forwarded to the
// server on each check-in: author identity, no-merge policy, and any
// comment templates a real client might apply.
type CheckinOptions struct {
	Author      string
	IgnoreMerge bool
	Comment     string
}

// FetchResult reports what a Fetch call materialized locally.
type FetchResult struct {
	MaxChangesetID int
	MaxCommitHash  string
	Bound          int
}

// Client is the contract the sync engine depends on. Fetch must be
// idempotent when there is nothing new (returning the caller's own
// high-watermark unchanged is a valid no-op result). Checkin must be
// idempotent at the granularity of a single call attempt: retrying an
// already-accepted attempt must not create a second changeset.
type Client interface {
	// Fetch materializes any TFVC changesets newer than remoteID's current
	// watermark as local commits bound via the caller-supplied bind
	// callback, and returns the resulting watermark.
	Fetch(remoteID string, bind func(commitHash, tfsURL, tfsPath string, changesetID int) error) (FetchResult, error)

	// MaxChangesetId reports the server's current highest changeset id for
	// remoteID without materializing anything locally, used by
	// CheckinDriver to detect the caller's cached watermark going stale.
	MaxChangesetId(remoteID string) (int, error)

	// Checkin submits commitHash's tree as a new changeset with parent
	// context parentCommit/parentBinding. mergedBranchPath, when non-empty,
	// asks the server to record commitHash as a merge from that TFVC path.
	Checkin(commitHash, parentCommit string, parentBinding ParentBinding, opts CheckinOptions, mergedBranchPath string) (changesetID int, err error)
}
