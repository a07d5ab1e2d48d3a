// Package changesetindex maintains a changeset_id -> commit_hash lookup over
// bindings; the reverse direction (commit -> changeset) is not indexed
// here. The in-process cache is populated lazily: most
// lookups are satisfied by a binding CheckinDriver itself just wrote via
// RecordPair, so the costly full-history scan is a fallback, not the
// common path.
package changesetindex

import (
	"errors"
	"fmt"
	"sync"

	"github.com/LorenDorez/git-tfs/internal/binding"
	"github.com/LorenDorez/git-tfs/internal/gitrepo"
	"github.com/LorenDorez/git-tfs/internal/notesstore"
)

// Logger is the minimal surface ChangesetIndex needs for its duplicate
// changeset id warning. It is
// satisfied by *slog.Logger without an import dependency in this package.
type Logger interface {
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Warn(string, ...any) {}

// Index caches changeset_id -> commit_hash pairs derived from bindings
// reachable from a repository's refs. It is safe for concurrent use.
type Index struct {
	repo  *gitrepo.Repository
	notes *notesstore.Store
	log   Logger

	mu       sync.RWMutex
	pairs    map[int]string
	complete bool
}

// New returns an Index backed by repo and notes. If log is nil, warnings
// are discarded.
func New(repo *gitrepo.Repository, notes *notesstore.Store, log Logger) *Index {
	if log == nil {
		log = nopLogger{}
	}
	return &Index{
		repo:  repo,
		notes: notes,
		log:   log,
		pairs: make(map[int]string),
	}
}

// RecordPair cache-fills a known pair, invoked by CheckinDriver immediately
// after a successful NotesStore.Put so subsequent lookups in the same run
// never need to scan.
func (idx *Index) RecordPair(changesetID int, commitHash string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.pairs[changesetID] = commitHash
}

// GetPairs returns a snapshot copy of the current cache.
func (idx *Index) GetPairs() map[int]string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[int]string, len(idx.pairs))
	for k, v := range idx.pairs {
		out[k] = v
	}
	return out
}

// FindCommitByChangeset returns the commit hash bound to changesetID, or
// ok=false if none is found. When scopeRef is non-empty, a cache miss
// triggers a scan restricted to refs whose canonical name ends with
// scopeRef rather than the full ref set, and that scan's outcome is never
// used to mark the cache complete (a scoped miss says nothing about the
// unscoped world).
func (idx *Index) FindCommitByChangeset(changesetID int, scopeRef string) (string, bool, error) {
	idx.mu.RLock()
	if hash, ok := idx.pairs[changesetID]; ok {
		idx.mu.RUnlock()
		return hash, true, nil
	}
	complete := idx.complete
	idx.mu.RUnlock()

	if complete && scopeRef == "" {
		return "", false, nil
	}

	refs, err := idx.scanRefs(scopeRef)
	if err != nil {
		return "", false, err
	}

	found := ""
	for _, ref := range refs {
		commits, err := idx.repo.LogDescending(ref)
		if err != nil {
			return "", false, fmt.Errorf("changesetindex: scan %s: %w", ref, err)
		}
		for _, c := range commits {
			id, hash, ok := idx.resolveBinding(c)
			if !ok {
				continue
			}

			idx.mu.Lock()
			if existing, already := idx.pairs[id]; already && existing != hash {
				idx.log.Warn("duplicate changeset binding, keeping first enumerated",
					"changeset_id", id, "kept_commit", existing, "ignored_commit", hash)
			} else {
				idx.pairs[id] = hash
			}
			idx.mu.Unlock()

			if id == changesetID {
				found = hash
			}
		}
	}

	if found != "" {
		return found, true, nil
	}

	if scopeRef == "" {
		idx.mu.Lock()
		idx.complete = true
		idx.mu.Unlock()
	}
	return "", false, nil
}

// resolveBinding tries NotesStore.Get first, falling back to the legacy
// git-tfs-id trailer embedded in the commit message.
func (idx *Index) resolveBinding(c *gitrepo.CommitMeta) (changesetID int, commitHash string, ok bool) {
	b, err := idx.notes.Get(c.Hash)
	if err == nil {
		return b.ChangesetID, c.Hash, true
	}
	if !errors.Is(err, notesstore.ErrBindingNotFound) {
		return 0, "", false
	}

	id, _, _, legacyOK := binding.ParseLegacyTrailer(c.Message)
	if !legacyOK {
		return 0, "", false
	}
	return id, c.Hash, true
}

// scanRefs resolves the refs to enumerate: every ref whose name ends with
// scopeRef, or, when scopeRef is empty, every ref in the repository
// (local branches included, not only remote-tracking refs).
func (idx *Index) scanRefs(scopeRef string) ([]string, error) {
	if scopeRef != "" {
		return idx.repo.RefsMatchingSuffix(scopeRef)
	}
	return idx.repo.RefsMatchingSuffix("")
}

