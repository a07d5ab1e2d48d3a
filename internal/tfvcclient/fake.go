package tfvcclient

import (
	"fmt"
	"sync"
)

// Fake is an in-memory Client used by CheckinDriver and SyncOrchestrator
// tests in place of a real TFVC server.
type Fake struct {
	mu sync.Mutex

	NextChangesetID int
	MaxChangeset    int

	// FailCheckinForCommit, when non-empty, makes Checkin return err for
	// that one commit hash - used to exercise CheckinDriver's best-effort
	// cleanup path.
	FailCheckinForCommit string

	// FetchBindings, when set, is what Fetch reports as newly materialized
	// on the next call, in order, via the caller's bind callback - used to
	// simulate the server's watermark having advanced between a caller's
	// cached state and a Checkin or Fetch call.
	FetchBindings []FetchBinding

	Checkins []FakeCheckin
}

// FetchBinding is one commit Fetch reports as newly bound.
type FetchBinding struct {
	CommitHash  string
	TFSURL      string
	TFSPath     string
	ChangesetID int
}

// FakeCheckin records one accepted check-in call for test assertions.
type FakeCheckin struct {
	CommitHash       string
	ParentCommit     string
	ChangesetID      int
	MergedBranchPath string
	Author           string
	Comment          string
}

// NewFake returns a Fake whose first assigned changeset id is startID.
func NewFake(startID int) *Fake {
	return &Fake{NextChangesetID: startID, MaxChangeset: startID - 1}
}

func (f *Fake) Fetch(remoteID string, bind func(commitHash, tfsURL, tfsPath string, changesetID int) error) (FetchResult, error) {
	f.mu.Lock()
	bindings := f.FetchBindings
	f.FetchBindings = nil
	f.mu.Unlock()

	bound := 0
	for _, b := range bindings {
		if err := bind(b.CommitHash, b.TFSURL, b.TFSPath, b.ChangesetID); err != nil {
			return FetchResult{}, err
		}
		bound++
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return FetchResult{MaxChangesetID: f.MaxChangeset, MaxCommitHash: lastBindingHash(bindings), Bound: bound}, nil
}

func lastBindingHash(bindings []FetchBinding) string {
	if len(bindings) == 0 {
		return ""
	}
	return bindings[len(bindings)-1].CommitHash
}

func (f *Fake) MaxChangesetId(remoteID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.MaxChangeset, nil
}

func (f *Fake) Checkin(commitHash, parentCommit string, parentBinding ParentBinding, opts CheckinOptions, mergedBranchPath string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailCheckinForCommit != "" && f.FailCheckinForCommit == commitHash {
		return 0, fmt.Errorf("fake: server rejected commit %s", commitHash)
	}

	id := f.NextChangesetID
	f.NextChangesetID++
	f.MaxChangeset = id

	f.Checkins = append(f.Checkins, FakeCheckin{
		CommitHash:       commitHash,
		ParentCommit:     parentCommit,
		ChangesetID:      id,
		MergedBranchPath: mergedBranchPath,
		Author:           opts.Author,
		Comment:          opts.Comment,
	})
	return id, nil
}
