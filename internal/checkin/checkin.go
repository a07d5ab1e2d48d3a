// Package checkin implements CheckinDriver, the hardest subsystem in the
// sync engine: replaying unbound git commits onto TFVC one at a time while
// binding each server-assigned changeset id back onto the existing commit
// hash. No commit is ever rewritten by this package in its normal path -
// that is what makes the binding's hash-preservation invariant hold.
package checkin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/LorenDorez/git-tfs/internal/ancestor"
	"github.com/LorenDorez/git-tfs/internal/binding"
	"github.com/LorenDorez/git-tfs/internal/changesetindex"
	"github.com/LorenDorez/git-tfs/internal/errs"
	"github.com/LorenDorez/git-tfs/internal/gitrepo"
	"github.com/LorenDorez/git-tfs/internal/notesstore"
	"github.com/LorenDorez/git-tfs/internal/remoteresolver"
	"github.com/LorenDorez/git-tfs/internal/tfvcclient"
)

// Logger is the minimal surface CheckinDriver needs for progress and
// warning lines.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}

// Options configures one Checkin invocation.
type Options struct {
	// SkipPrecheckinFetch is set by SyncOrchestrator's to-tfvc and
	// bidirectional flows, which have already fetched, to avoid a
	// redundant re-fetch that could overwrite just-pulled bindings.
	SkipPrecheckinFetch bool

	// AutoRebase permits CheckinDriver to rebase the target ref onto newly
	// fetched TFVC commits when the server's watermark has advanced past
	// our cached value, rather than failing with remote_advanced.
	AutoRebase bool

	// IgnoreMerge suppresses unmerged_branch_has_unbound_commits: the
	// merge's non-first-parent branches are simply not offered to the
	// server as a merge hint.
	IgnoreMerge bool

	Author         string
	AuthorsFile    map[string]string
	CallerIdentity string
	Comment        string
}

// Driver implements the Checkin algorithm.
type Driver struct {
	repo   *gitrepo.Repository
	notes  *notesstore.Store
	index  *changesetindex.Index
	walker *ancestor.Walker
	client tfvcclient.Client
	log    Logger
}

// New returns a Driver wiring together the components Checkin depends on.
func New(repo *gitrepo.Repository, notes *notesstore.Store, index *changesetindex.Index, walker *ancestor.Walker, client tfvcclient.Client, log Logger) *Driver {
	if log == nil {
		log = nopLogger{}
	}
	return &Driver{repo: repo, notes: notes, index: index, walker: walker, client: client, log: log}
}

// Checkin replays the unbound commits between remote's high-watermark and
// targetRef onto TFVC, mutating remote's watermark in place and returning
// the bindings created during this call (not including ones skipped by the
// idempotency gate).
func (d *Driver) Checkin(targetRef string, remote *remoteresolver.Descriptor, opts Options) ([]binding.Binding, error) {
	if !opts.SkipPrecheckinFetch {
		if err := d.checkRemoteAdvanced(remote, targetRef, opts); err != nil {
			return nil, err
		}
	}

	commits, err := d.repo.FirstParentPath(targetRef, remote.MaxCommitHash)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnknownFatal, "walk first-parent path", err)
	}
	if len(commits) == 0 {
		return nil, errs.New(errs.KindNothingToCheckin, "no commits between watermark and target ref")
	}

	runningParent := remote.MaxCommitHash
	var created []binding.Binding

	for _, c := range commits {
		existing, getErr := d.notes.Get(c.Hash)
		if getErr == nil {
			d.log.Info("already synced, skipping", "commit", c.Hash, "changeset_id", existing.ChangesetID)
			runningParent = c.Hash
			continue
		}
		if !errors.Is(getErr, notesstore.ErrBindingNotFound) {
			return created, errs.Wrap(errs.KindUnknownFatal, "check idempotency gate", getErr)
		}

		mergedBranchPath, mergedParentMeta, err := d.resolveMergeParent(c, runningParent, remote, opts)
		if err != nil {
			return created, err
		}

		message, err := buildCheckinMessage(d.repo, runningParent, c)
		if err != nil {
			return created, errs.Wrap(errs.KindUnknownFatal, "build checkin message", err)
		}
		parentBinding := tfvcclient.ParentBinding{}
		if runningParent != "" {
			if pb, err := d.notes.Get(runningParent); err == nil {
				parentBinding = tfvcclient.ParentBinding{ChangesetID: pb.ChangesetID, TFSPath: pb.TFSPath}
			}
		}

		author := resolveAuthor(c, mergedParentMeta, opts)
		changesetID, checkinErr := d.client.Checkin(c.Hash, runningParent, parentBinding,
			tfvcclient.CheckinOptions{Author: author, IgnoreMerge: opts.IgnoreMerge, Comment: message},
			mergedBranchPath)
		if checkinErr != nil {
			d.cleanupAfterFailure(created, targetRef)
			return created, errs.Wrap(errs.KindCheckinFailure,
				fmt.Sprintf("tfvc rejected commit %s", c.Hash), checkinErr).
				WithRecommendations("inspect the server error, fix the offending change, and re-run sync - already-bound commits will be skipped")
		}

		if err := d.notes.Put(c.Hash, remote.TFSURL, remote.TFSRepositoryPath, changesetID); err != nil {
			return created, errs.Wrap(errs.KindBindingWriteFail,
				fmt.Sprintf("changeset %d accepted by server but binding write failed for commit %s", changesetID, c.Hash), err).
				WithRecommendations("server changeset " + fmt.Sprint(changesetID) + " exists without a local binding - run the full-scan repair path before retrying")
		}

		d.index.RecordPair(changesetID, c.Hash)
		remote.MaxCommitHash = c.Hash
		remote.MaxChangesetID = changesetID
		runningParent = c.Hash

		created = append(created, binding.Binding{
			ChangesetID: changesetID,
			TFSURL:      remote.TFSURL,
			TFSPath:     remote.TFSRepositoryPath,
			CommitHash:  c.Hash,
		})
	}

	return created, nil
}

// checkRemoteAdvanced detects the server's watermark moving past our
// cached value before we start checking anything in. With auto_rebase
// enabled it fetches the newly materialized TFVC commits and then rebases
// targetRef onto the refreshed watermark, refreshing the parent binding
// rather than failing outright.
func (d *Driver) checkRemoteAdvanced(remote *remoteresolver.Descriptor, targetRef string, opts Options) error {
	serverMax, err := d.client.MaxChangesetId(remote.ID)
	if err != nil {
		return errs.Wrap(errs.KindUnknownFatal, "query server max changeset", err)
	}
	if serverMax <= remote.MaxChangesetID {
		return nil
	}

	if !opts.AutoRebase {
		return errs.New(errs.KindRemoteAdvanced,
			fmt.Sprintf("server changeset %d is ahead of cached watermark %d", serverMax, remote.MaxChangesetID)).
			WithRecommendations("rebase and retry")
	}

	_, err = d.client.Fetch(remote.ID, func(commitHash, tfsURL, tfsPath string, changesetID int) error {
		if err := d.notes.Put(commitHash, tfsURL, tfsPath, changesetID); err != nil {
			return err
		}
		d.index.RecordPair(changesetID, commitHash)
		remote.MaxCommitHash = commitHash
		remote.MaxChangesetID = changesetID
		return nil
	})
	if err != nil {
		return errs.Wrap(errs.KindUnknownFatal, "auto-rebase fetch", err)
	}

	if err := d.repo.RebaseWithMerges(remote.MaxCommitHash, targetRef); err != nil {
		if errors.Is(err, gitrepo.ErrMergeConflict) {
			return errs.New(errs.KindMergeConflict,
				fmt.Sprintf("rebasing %s onto refreshed watermark %s produced conflicts", targetRef, remote.MaxCommitHash)).
				WithRecommendations("resolve the conflicts, commit, and re-run sync")
		}
		return errs.Wrap(errs.KindUnknownFatal, "rebase onto refreshed watermark", err)
	}
	return nil
}

// cleanupAfterFailure implements step 4's best-effort recovery: once at
// least one changeset has been created this run, rebase targetRef's
// remaining history back onto the last commit that was actually bound, so
// a retried run starts from clean working-tree state rather than whatever
// the failed check-in attempt left behind. This is itself best-effort - a
// failure here is logged, not escalated, since the caller already has the
// original check-in error to re-raise.
func (d *Driver) cleanupAfterFailure(created []binding.Binding, targetRef string) {
	if len(created) == 0 {
		return
	}
	lastBound := created[len(created)-1].CommitHash
	if err := d.repo.RebaseWithMerges(lastBound, targetRef); err != nil {
		d.log.Warn("best-effort cleanup rebase after checkin failure also failed", "last_bound_commit", lastBound, "error", err)
	}
}

// resolveMergeParent identifies, for a merge commit, the non-running-parent
// whose own ancestor chain carries the most recent binding on this remote,
// returning its TFVC path to pass as the server's merged-branch hint.
func (d *Driver) resolveMergeParent(c *gitrepo.CommitMeta, runningParent string, remote *remoteresolver.Descriptor, opts Options) (string, *gitrepo.CommitMeta, error) {
	if !c.IsMerge() {
		return "", nil, nil
	}

	var matches []binding.Binding
	var matchMeta []*gitrepo.CommitMeta
	for _, p := range c.ParentHashes {
		if p == runningParent {
			continue
		}
		bindings, err := d.walker.FindLastParentBindings(p)
		if err != nil {
			return "", nil, errs.Wrap(errs.KindUnknownFatal, "resolve merge parent binding", err)
		}
		for _, b := range bindings {
			if b.TFSURL == remote.TFSURL && b.TFSPath == remote.TFSRepositoryPath {
				matches = append(matches, b)
				meta, err := d.repo.CommitByHash(p)
				if err != nil {
					return "", nil, errs.Wrap(errs.KindUnknownFatal, "load merge parent commit", err)
				}
				matchMeta = append(matchMeta, meta)
			}
		}
	}

	if len(matches) == 0 {
		if opts.IgnoreMerge {
			return "", nil, nil
		}
		return "", nil, errs.New(errs.KindUnmergedUnbound,
			fmt.Sprintf("merge commit %s has no bound ancestor on remote %s", c.Hash, remote.ID)).
			WithRecommendations("unmerged_branch_has_unbound_commits: check in the merged branch first, or pass --ignore-merge")
	}

	if len(matches) > 1 {
		d.log.Warn("merge commit has multiple bound parent branches, using last", "commit", c.Hash)
	}

	last := matches[len(matches)-1]
	lastMeta := matchMeta[len(matchMeta)-1]
	return last.TFSPath, lastMeta, nil
}

// buildCheckinMessage assembles the message sent to the server for commit
// c: the messages of every commit reachable between runningParent and c -
// which, for a plain first-parent commit, is just c itself, but for a merge
// commit also picks up whatever was merged in on the side branches that
// never get their own check-in - concatenated in oldest-first order, line
// endings normalized to CRLF, with any legacy git-tfs-id trailers stripped
// so the server never sees our own bookkeeping trailers, and with no
// trailing line ending.
func buildCheckinMessage(repo *gitrepo.Repository, runningParent string, c *gitrepo.CommitMeta) (string, error) {
	between := []*gitrepo.CommitMeta{c}
	if runningParent != "" {
		reachable, err := repo.LogRange(c.Hash, runningParent)
		if err != nil {
			return "", err
		}
		if len(reachable) > 0 {
			between = reachable
		}
	}

	messages := make([]string, len(between))
	for i, bc := range between {
		messages[i] = bc.Message
	}

	stripped := strings.TrimRight(binding.StripLegacyTrailers(strings.Join(messages, "\n\n")), "\n")
	normalized := strings.ReplaceAll(stripped, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\n", "\r\n")
	return normalized, nil
}
