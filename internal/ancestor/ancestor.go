// Package ancestor walks the commit DAG upward from a starting commit to
// find the nearest ancestor(s) carrying a ChangesetBinding, stopping each
// branch of the walk as soon as a binding is found on it.
package ancestor

import (
	"sort"

	"github.com/LorenDorez/git-tfs/internal/binding"
	"github.com/LorenDorez/git-tfs/internal/gitrepo"
	"github.com/LorenDorez/git-tfs/internal/notesstore"
	"github.com/LorenDorez/git-tfs/internal/remoteresolver"
)

// Walker finds the nearest bound ancestors of a commit.
type Walker struct {
	repo  *gitrepo.Repository
	notes *notesstore.Store
}

// New returns a Walker backed by repo and notes.
func New(repo *gitrepo.Repository, notes *notesstore.Store) *Walker {
	return &Walker{repo: repo, notes: notes}
}

// FindLastParentBindings implements the spec's LIFO-stack ancestor walk:
// pushing a commit's parents in reverse order before popping means the
// first parent is always explored next, so the main line's binding is
// discovered before any side-branch's, whatever order bindings end up in
// the returned slice.
func (w *Walker) FindLastParentBindings(head string) ([]binding.Binding, error) {
	stack := []string{head}
	visited := make(map[string]bool)
	var found []binding.Binding

	for len(stack) > 0 {
		hash := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[hash] {
			continue
		}
		visited[hash] = true

		b, err := w.notes.Get(hash)
		if err == nil {
			found = append(found, b)
			continue
		}

		meta, err := w.repo.CommitByHash(hash)
		if err != nil {
			return nil, err
		}

		for i := len(meta.ParentHashes) - 1; i >= 0; i-- {
			stack = append(stack, meta.ParentHashes[i])
		}
	}

	return found, nil
}

// MoveRemoteForwardIfNeeded advances remote's high-watermark using ancestor
// bindings discovered from head that belong to remote and are newer than
// its current watermark, applied in ascending changeset order so the final
// watermark is the true maximum even when bindings arrive out of order.
func (w *Walker) MoveRemoteForwardIfNeeded(remote *remoteresolver.Descriptor, head string) error {
	bindings, err := w.FindLastParentBindings(head)
	if err != nil {
		return err
	}

	var candidates []binding.Binding
	for _, b := range bindings {
		if b.TFSURL == remote.TFSURL && b.TFSPath == remote.TFSRepositoryPath && b.ChangesetID > remote.MaxChangesetID {
			candidates = append(candidates, b)
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ChangesetID < candidates[j].ChangesetID })

	for _, c := range candidates {
		remote.MaxChangesetID = c.ChangesetID
		remote.MaxCommitHash = c.CommitHash
	}
	return nil
}
