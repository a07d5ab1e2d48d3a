// Package reconcile implements the repair-notes path referenced but left
// unspecified by the check-in driver's crash-window hazard: a commit whose
// TFVC check-in the server accepted but whose local binding write never
// landed. Only the legacy-trailer recovery case is addressed here - a
// commit carrying an old-style git-tfs-id trailer but no notes binding gets
// one backfilled. A commit with neither a binding nor a trailer (the true
// crash window between a server Checkin reply and NotesStore.Put) cannot be
// distinguished from a commit TFVC has simply never seen; recovering that
// case requires cross-referencing TFVC's own changeset history and is left
// to operator intervention.
package reconcile

import (
	"github.com/LorenDorez/git-tfs/internal/binding"
	"github.com/LorenDorez/git-tfs/internal/gitrepo"
	"github.com/LorenDorez/git-tfs/internal/notesstore"
	"github.com/LorenDorez/git-tfs/internal/remoteresolver"
)

// Logger is the minimal surface Reconciler needs for progress reporting.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}

// Report summarizes one RepairNotes run.
type Report struct {
	Scanned      int
	AlreadyBound int
	Repaired     []string
	Ambiguous    []string
}

// Reconciler backfills missing bindings from the legacy commit-message
// trailer, the one recovery path the notes namespace's own history can
// support without consulting TFVC.
type Reconciler struct {
	repo  *gitrepo.Repository
	notes *notesstore.Store
	log   Logger
}

// New returns a Reconciler operating against repo's notes namespace.
func New(repo *gitrepo.Repository, notes *notesstore.Store, log Logger) *Reconciler {
	if log == nil {
		log = nopLogger{}
	}
	return &Reconciler{repo: repo, notes: notes, log: log}
}

// RepairNotes scans every commit reachable from scopeRef. A commit already
// carrying a notes binding is left untouched. A commit with no binding but a
// legacy git-tfs-id trailer naming remote's (tfs_url, tfs_path) - or with an
// empty url field ("[]"), whatever path it names - gets a binding written
// from the trailer's changeset id. A commit whose trailer names a non-empty
// url and a (tfs_url, tfs_path) different from remote's is left alone and
// reported as ambiguous rather than guessed at.
func (r *Reconciler) RepairNotes(remote *remoteresolver.Descriptor, scopeRef string) (Report, error) {
	commits, err := r.repo.LogDescending(scopeRef)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, c := range commits {
		report.Scanned++

		if _, err := r.notes.Get(c.Hash); err == nil {
			report.AlreadyBound++
			continue
		}

		changesetID, tfsURL, tfsPath, ok := binding.ParseLegacyTrailer(c.Message)
		if !ok {
			continue
		}

		if tfsURL != "" && tfsPath != "" && (tfsURL != remote.TFSURL || tfsPath != remote.TFSRepositoryPath) {
			r.log.Warn("repair-notes: trailer names a different remote, skipping", "commit", c.Hash, "tfs_url", tfsURL, "tfs_path", tfsPath)
			report.Ambiguous = append(report.Ambiguous, c.Hash)
			continue
		}

		if err := r.notes.Put(c.Hash, remote.TFSURL, remote.TFSRepositoryPath, changesetID); err != nil {
			return report, err
		}
		r.log.Info("repair-notes: backfilled binding from legacy trailer", "commit", c.Hash, "changeset", changesetID)
		report.Repaired = append(report.Repaired, c.Hash)
	}

	return report, nil
}
