// Package gitrepo wraps a single git repository handle shared by every
// component of the sync engine (NotesStore, ChangesetIndex, AncestorWalker,
// CheckinDriver, MergeArbiter, SyncOrchestrator). go-git/v5 is used for
// read-mostly plumbing (opening the repository, resolving refs, enumerating
// references); everything else - commit logs, notes, merges, pulls,
// force-with-lease pushes, config - shells out to the git binary through Run.
package gitrepo

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Errors returned by Repository operations.
var (
	ErrNotGitRepository = errors.New("gitrepo: not a git repository")
	ErrEmptyPath        = errors.New("gitrepo: repository path cannot be empty")
	ErrNoHead           = errors.New("gitrepo: repository has no HEAD reference")
	ErrInvalidCommit    = errors.New("gitrepo: invalid commit reference")
	ErrGitNotInstalled  = errors.New("gitrepo: git is not installed or not in PATH")
)

// Repository is the one repository handle a sync run threads through every
// component that needs it. It is safe for concurrent read access; the sync
// engine itself is single-threaded per run, but the handle outlives any one
// component's use of it.
type Repository struct {
	path string
	repo *gogit.Repository
	mu   sync.RWMutex
}

// Open opens the repository at path, returning ErrNotGitRepository if go-git
// cannot open a repository there. It does not check that HEAD resolves;
// Head reports ErrNoHead for a repository with no commits.
func Open(path string) (*Repository, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("gitrepo: resolve path: %w", err)
	}

	r := &Repository{path: abs}
	repo, err := gogit.PlainOpen(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotGitRepository, abs)
	}
	r.repo = repo

	return r, nil
}

// Path returns the absolute repository root.
func (r *Repository) Path() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.path
}

// Handle returns the underlying go-git repository for callers that need
// plumbing not exposed by Repository.
func (r *Repository) Handle() *gogit.Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.repo
}

// Close releases the go-git handle. The repository can be reopened with
// Rebind after an operation (e.g. `git pull`) has mutated refs the handle
// may have cached.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repo = nil
	return nil
}

// Rebind reopens the repository handle. Callers invoke this between major
// phases of a sync run after external mutation (a subprocess pull, a
// checkin) to avoid working from a stale go-git object cache.
func (r *Repository) Rebind() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	repo, err := gogit.PlainOpen(r.path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotGitRepository, r.path)
	}
	r.repo = repo
	return nil
}

// Head returns the current HEAD commit hash.
func (r *Repository) Head() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", ErrNoHead
		}
		return "", err
	}
	return ref.Hash().String(), nil
}

// ResolveRef resolves a ref name (branch, tag, remote-tracking ref, or bare
// hash) to a commit hash.
func (r *Repository) ResolveRef(ref string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, err := r.repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidCommit, ref)
	}
	return h.String(), nil
}

// RefsMatchingSuffix returns the full names of refs whose name ends with
// suffix, used by ChangesetIndex to scope a scan to refs under a given
// remote-tracking namespace.
func (r *Repository) RefsMatchingSuffix(suffix string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	iter, err := r.repo.References()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var matches []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().String()
		if strings.HasSuffix(name, suffix) {
			matches = append(matches, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// Run executes a git subcommand against this repository and returns its
// trimmed stdout. Stderr is captured for error reporting only. This is the
// single free operation the rest of the sync engine uses for anything
// go-git does not expose directly: merges, pulls, pushes, notes, and config.
func (r *Repository) Run(args ...string) (string, error) {
	return r.RunWithEnv(nil, args...)
}

// RunWithEnv is Run with additional environment variables appended to the
// subprocess environment (used to pass GIT_TFS_SKIP_PRECHECKIN_FETCH and
// similar signaling down to helper processes, and to avoid mutating global
// process state for concurrency reasons).
func (r *Repository) RunWithEnv(extraEnv []string, args ...string) (string, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return "", ErrGitNotInstalled
	}

	cmd := exec.Command("git", args...)
	cmd.Dir = r.Path()
	cmd.Env = append(os.Environ(), extraEnv...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &RunError{
			Args:   args,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}

	return strings.TrimSpace(stdout.String()), nil
}

// RunError wraps a failed git subprocess invocation with enough context to
// build a diagnostic message without callers re-parsing stderr themselves.
type RunError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *RunError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), e.Stderr)
	}
	return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
