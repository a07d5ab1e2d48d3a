// Package notesstore persists ChangesetBindings in the git notes namespace,
// out of band from commit identity. It is the single writer of the binding
// namespace; every other component (ChangesetIndex, AncestorWalker,
// CheckinDriver) reads through it rather than touching notes directly.
package notesstore

import (
	"errors"
	"time"

	"github.com/LorenDorez/git-tfs/internal/binding"
	"github.com/LorenDorez/git-tfs/internal/gitrepo"
)

// ErrBindingNotFound is non-fatal: callers fall back to legacy commit
// message parsing when a commit has no note.
var ErrBindingNotFound = errors.New("notesstore: no binding for commit")

// ErrBindingWriteFailed is fatal to the current operation; the caller
// (typically CheckinDriver) must leave clear diagnostics because recovery
// requires the full-scan fallback path.
var ErrBindingWriteFailed = errors.New("notesstore: failed to write binding")

// Store persists bindings in ref (normally gitrepo.NotesRef) within repo.
type Store struct {
	repo *gitrepo.Repository
	ref  string
}

// New returns a Store writing to the default tracking-metadata namespace.
func New(repo *gitrepo.Repository) *Store {
	return &Store{repo: repo, ref: gitrepo.NotesRef}
}

// NewWithRef returns a Store writing to a caller-chosen namespace, used by
// tests and by repair tooling that needs to inspect an alternate ref.
func NewWithRef(repo *gitrepo.Repository, ref string) *Store {
	return &Store{repo: repo, ref: ref}
}

// Put writes or replaces the binding for commitHash. If a binding already
// exists for that commit it is overwritten - Put does not merge.
func (s *Store) Put(commitHash, tfsURL, tfsPath string, changesetID int) error {
	b := binding.Binding{
		ChangesetID: changesetID,
		TFSURL:      tfsURL,
		TFSPath:     tfsPath,
		CommitHash:  commitHash,
		BoundAt:     time.Now(),
	}

	if err := s.repo.WriteNote(s.ref, commitHash, b.Serialize()); err != nil {
		return errors.Join(ErrBindingWriteFailed, err)
	}
	return nil
}

// Get reads the binding for commitHash, returning ErrBindingNotFound if
// none exists (no note, or a note present but unparseable - both mean the
// binding namespace has nothing usable for this commit).
func (s *Store) Get(commitHash string) (binding.Binding, error) {
	body, err := s.repo.ReadNote(s.ref, commitHash)
	if err != nil {
		if errors.Is(err, gitrepo.ErrNoteNotFound) {
			return binding.Binding{}, ErrBindingNotFound
		}
		return binding.Binding{}, err
	}

	b, err := binding.Parse(commitHash, body)
	if err != nil {
		return binding.Binding{}, ErrBindingNotFound
	}
	return b, nil
}

// ConfigureRemoteToSync wires the metadata namespace into remote's fetch
// and push refspec lists if not already present. Idempotent: calling it
// every run is the expected usage (SyncOrchestrator does so as a
// precondition before any sync mode).
func (s *Store) ConfigureRemoteToSync(remote string) error {
	return s.repo.ConfigureFetchPushRefspec(remote, s.ref)
}

// Enabled reports whether the metadata namespace is wired into remote's
// refspecs - the precondition SyncOrchestrator checks before any sync mode.
func (s *Store) Enabled(remote string) (bool, error) {
	fetchValues, err := s.repo.ConfigGetAll("remote." + remote + ".fetch")
	if err != nil {
		return false, err
	}
	want := "+" + s.ref + ":" + s.ref
	for _, v := range fetchValues {
		if v == want {
			return true, nil
		}
	}
	return false, nil
}
