package gitrepo

import (
	"errors"
	"strings"
)

// ErrMergeConflict is returned by MergeNoFF and Pull when the merge leaves
// unmerged entries in the index. Callers hand the repository to MergeArbiter
// for diagnosis rather than inspecting this error further.
var ErrMergeConflict = errors.New("gitrepo: merge produced conflicts")

// CanFastForward reports whether `ref` can be merged into HEAD with
// --ff-only, i.e. HEAD is an ancestor of ref (or ref already equals HEAD).
func (r *Repository) CanFastForward(ref string) (bool, error) {
	_, err := r.Run("merge-base", "--is-ancestor", "HEAD", ref)
	if err == nil {
		return true, nil
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		return false, nil
	}
	return false, err
}

// MergeFastForward runs `git merge --ff-only <ref>`.
func (r *Repository) MergeFastForward(ref string) error {
	_, err := r.Run("merge", "--ff-only", ref)
	return err
}

// MergeNoFF runs `git merge --no-ff -m <message> <ref>`, creating a merge
// commit on HEAD. The merge commit's parents are (HEAD, ref); this is the
// operation that preserves existing commit hashes as merge parents, the
// central invariant of the bidirectional sync path.
func (r *Repository) MergeNoFF(ref, message string) error {
	_, err := r.Run("merge", "--no-ff", "-m", message, ref)
	if err != nil {
		if r.hasConflicts() {
			return ErrMergeConflict
		}
		return err
	}
	return nil
}

// Pull runs `git pull --no-rebase` against the given remote/branch, never
// rebasing - a rebase would rewrite hashes and invalidate bindings.
func (r *Repository) Pull(remote, branch string) error {
	args := []string{"pull", "--no-rebase"}
	if remote != "" {
		args = append(args, remote)
		if branch != "" {
			args = append(args, branch)
		}
	}
	_, err := r.Run(args...)
	if err != nil {
		if r.hasConflicts() {
			return ErrMergeConflict
		}
		return err
	}
	return nil
}

// hasConflicts reports whether the index currently has unmerged entries.
func (r *Repository) hasConflicts() bool {
	paths, err := r.ConflictedPaths()
	return err == nil && len(paths) > 0
}

// ConflictedPaths lists paths with unmerged index entries.
func (r *Repository) ConflictedPaths() ([]string, error) {
	out, err := r.Run("diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// RebaseWithMerges runs `git rebase --rebase-merges <upstream> [<branch>]`,
// replaying branch's commits (HEAD's, if branch is empty) onto upstream
// while preserving any merge commits among them rather than flattening them.
// CheckinDriver uses this both to catch a target ref up to a refreshed TFVC
// watermark and, afterward, as best-effort cleanup of the working tree left
// behind by a failed check-in attempt.
func (r *Repository) RebaseWithMerges(upstream, branch string) error {
	args := []string{"rebase", "--rebase-merges", upstream}
	if branch != "" {
		args = append(args, branch)
	}
	_, err := r.Run(args...)
	if err != nil {
		if r.hasConflicts() {
			return ErrMergeConflict
		}
		return err
	}
	return nil
}

// Push pushes the given refspecs to remote with a plain push.
func (r *Repository) Push(remote string, refspecs ...string) error {
	args := append([]string{"push", remote}, refspecs...)
	_, err := r.Run(args...)
	return err
}

// PushForceWithLease retries a push using --force-with-lease, used only
// after a plain push has been rejected.
func (r *Repository) PushForceWithLease(remote string, refspecs ...string) error {
	args := append([]string{"push", "--force-with-lease", remote}, refspecs...)
	_, err := r.Run(args...)
	return err
}

// Fetch fetches a single refspec, e.g. a notes namespace.
func (r *Repository) Fetch(remote, refspec string) error {
	_, err := r.Run("fetch", remote, refspec)
	return err
}

// ConfigGet reads a git config key, returning ("", nil) if unset.
func (r *Repository) ConfigGet(key string) (string, error) {
	out, err := r.Run("config", "--get", key)
	if err != nil {
		var runErr *RunError
		if errors.As(err, &runErr) {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

// ConfigSet writes a git config key.
func (r *Repository) ConfigSet(key, value string) error {
	_, err := r.Run("config", key, value)
	return err
}

// ConfigGetAll reads all values for a multi-valued git config key.
func (r *Repository) ConfigGetAll(key string) ([]string, error) {
	out, err := r.Run("config", "--get-all", key)
	if err != nil {
		var runErr *RunError
		if errors.As(err, &runErr) {
			return nil, nil
		}
		return nil, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// ConfigAddValue appends a value to a multi-valued git config key, skipping
// the write if the value is already present (idempotent refspec addition).
func (r *Repository) ConfigAddValue(key, value string) error {
	existing, err := r.ConfigGetAll(key)
	if err != nil {
		return err
	}
	for _, v := range existing {
		if v == value {
			return nil
		}
	}
	_, err = r.Run("config", "--add", key, value)
	return err
}
