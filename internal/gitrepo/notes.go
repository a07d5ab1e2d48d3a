package gitrepo

import (
	"errors"
	"strings"
)

// NotesRef is the namespace NotesStore binds ChangesetBindings into. It is a
// region of the object store that does not participate in commit identity:
// adding, changing, or removing a note never alters the hash of the commit
// it annotates.
const NotesRef = "refs/notes/tfvc-sync"

// ErrNoteNotFound is returned by ReadNote when commit has no note in ref.
var ErrNoteNotFound = errors.New("gitrepo: no note for commit")

// ReadNote returns the raw body of the note attached to commit under ref.
func (r *Repository) ReadNote(ref, commit string) (string, error) {
	out, err := r.Run("notes", "--ref="+ref, "show", commit)
	if err != nil {
		var runErr *RunError
		if errors.As(err, &runErr) && strings.Contains(runErr.Stderr, "no note found") {
			return "", ErrNoteNotFound
		}
		return "", err
	}
	return out, nil
}

// WriteNote creates or replaces the note attached to commit under ref with
// body. go-git/v5 has no notes API, so this shells out like git-tfs itself
// does for anything outside plumbing go-git covers.
func (r *Repository) WriteNote(ref, commit, body string) error {
	_, err := r.Run("notes", "--ref="+ref, "add", "-f", "-m", body, commit)
	return err
}

// ConfigureFetchPushRefspec wires ref into remote's fetch refspec list as
// `+ref:ref` and its push refspec list as `ref:ref`, if not already
// present. Adding the same refspec twice
// is a no-op; this lets ConfigureRemoteToSync be called on every run.
func (r *Repository) ConfigureFetchPushRefspec(remote, ref string) error {
	refspec := ref + ":" + ref
	if err := r.ConfigAddValue("remote."+remote+".fetch", "+"+refspec); err != nil {
		return err
	}
	return r.ConfigAddValue("remote."+remote+".push", refspec)
}
