// Package syncengine composes LockCoordinator, NotesStore, ChangesetIndex,
// AncestorWalker, CheckinDriver and MergeArbiter into the three sync modes
// SyncOrchestrator exposes. Each exported method is one state-machine run:
// acquire lock, act, release lock, always - even on a halt.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LorenDorez/git-tfs/internal/ancestor"
	"github.com/LorenDorez/git-tfs/internal/checkin"
	"github.com/LorenDorez/git-tfs/internal/errs"
	"github.com/LorenDorez/git-tfs/internal/gitrepo"
	"github.com/LorenDorez/git-tfs/internal/lockcoord"
	"github.com/LorenDorez/git-tfs/internal/mergearbiter"
	"github.com/LorenDorez/git-tfs/internal/notesstore"
	"github.com/LorenDorez/git-tfs/internal/remoteresolver"
	"github.com/LorenDorez/git-tfs/internal/tfvcclient"
)

// Direction selects which side of the sync is authoritative for a run.
type Direction string

const (
	DirectionFromTfvc      Direction = "tfvc-to-git"
	DirectionToTfvc        Direction = "git-to-tfvc"
	DirectionBidirectional Direction = "bidirectional"
)

// Logger is the minimal surface the orchestrator needs for state-transition
// and informational logging.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}

// Config captures the caller-supplied policy knobs for one orchestrator:
// which git remote to push/pull against, which branch is the target ref,
// and the lock budget.
type Config struct {
	WorkspaceName string
	GitRemoteName string
	TargetRef     string
	LockTimeout   time.Duration
	MaxLockAge    time.Duration
	NoLock        bool
	DryRun        bool

	// MultiAgentWorkspace declares that WorkspaceName's lock domain is
	// shared by more than one sync agent, so a conflict halt's guidance
	// should mention coordinating with them. Sourced from configuration,
	// not inferred.
	MultiAgentWorkspace bool
}

// Orchestrator wires every leaf component together for one workspace.
type Orchestrator struct {
	cfg     Config
	repo    *gitrepo.Repository
	locks   *lockcoord.Coordinator
	notes   *notesstore.Store
	walker  *ancestor.Walker
	driver  *checkin.Driver
	arbiter *mergearbiter.Arbiter
	client  tfvcclient.Client
	log     Logger
}

// New returns an Orchestrator over the given components. Each run builds
// its own LockRecord (caller label, direction, CI identifiers) that
// TryAcquire stamps with the process id and timestamp at acquisition time.
func New(cfg Config, repo *gitrepo.Repository, locks *lockcoord.Coordinator, notes *notesstore.Store,
	walker *ancestor.Walker, driver *checkin.Driver, arbiter *mergearbiter.Arbiter, client tfvcclient.Client, log Logger) *Orchestrator {
	if log == nil {
		log = nopLogger{}
	}
	return &Orchestrator{cfg: cfg, repo: repo, locks: locks, notes: notes, walker: walker, driver: driver, arbiter: arbiter, client: client, log: log}
}

// withLock acquires the workspace lock (unless NoLock), invokes fn, and
// always releases before returning - the Done|Halted -> Idle transition in
// every run of the state machine.
func (o *Orchestrator) withLock(direction Direction, fn func() error) error {
	if o.cfg.NoLock {
		return fn()
	}

	if err := o.locks.TryAcquire(o.cfg.WorkspaceName, o.cfg.LockTimeout, o.cfg.MaxLockAge, lockcoord.Record{
		AcquiredBy:  "git-tfs sync",
		Direction:   string(direction),
		PipelineID:  lockcoord.CIInfoFromEnv().PipelineID,
		BuildNumber: lockcoord.CIInfoFromEnv().BuildNumber,
	}); err != nil {
		return err
	}
	defer o.locks.Release(o.cfg.WorkspaceName)

	return fn()
}

// checkPrecondition enforces the "metadata namespace enabled" precondition
// shared by all three entry points.
func (o *Orchestrator) checkPrecondition() error {
	enabled, err := o.notes.Enabled(o.cfg.GitRemoteName)
	if err != nil {
		return errs.Wrap(errs.KindUnknownFatal, "check metadata namespace precondition", err)
	}
	if !enabled {
		return errs.New(errs.KindPreconditionFail,
			fmt.Sprintf("metadata namespace not wired into remote %q refspecs", o.cfg.GitRemoteName)).
			WithRecommendations("call NotesStore.ConfigureRemoteToSync for this remote before syncing")
	}
	return nil
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.KindUnknownFatal, "cancelled", err)
	}
	return nil
}

// isTransientNetworkError classifies whether a failed git/TFVC network
// operation is worth retrying. A merge conflict is an outcome, not a
// transient failure - retrying it would just reproduce the same conflict.
func isTransientNetworkError(err error) bool {
	return !errors.Is(err, gitrepo.ErrMergeConflict)
}

// SyncFromTfvc fetches newly materialized TFVC changesets into git. The
// TFVC client binds each new commit as it fetches, so this method is a
// thin lock+precondition wrapper around Fetch.
func (o *Orchestrator) SyncFromTfvc(ctx context.Context, remote *remoteresolver.Descriptor) error {
	return o.withLock(DirectionFromTfvc, func() error {
		if err := o.checkPrecondition(); err != nil {
			return err
		}
		if err := cancelled(ctx); err != nil {
			return err
		}

		if o.cfg.DryRun {
			o.log.Info("dry-run: would fetch from tfvc", "remote", remote.ID)
			return nil
		}

		var result tfvcclient.FetchResult
		err := errs.Do(ctx, errs.DefaultRetryPolicy(), isTransientNetworkError, func() error {
			r, err := o.client.Fetch(remote.ID, func(commitHash, tfsURL, tfsPath string, changesetID int) error {
				if err := o.notes.Put(commitHash, tfsURL, tfsPath, changesetID); err != nil {
					return err
				}
				remote.MaxCommitHash = commitHash
				remote.MaxChangesetID = changesetID
				return nil
			})
			result = r
			return err
		})
		if err != nil {
			return errs.Wrap(errs.KindUnknownFatal, "fetch from tfvc", err)
		}

		o.log.Info("fetch complete", "bound", result.Bound, "max_changeset_id", remote.MaxChangesetID)
		return nil
	})
}

// SyncToTfvc pulls the git remote, replays unbound local commits onto
// TFVC, then pushes commits and the metadata namespace.
func (o *Orchestrator) SyncToTfvc(ctx context.Context, remote *remoteresolver.Descriptor, opts checkin.Options) error {
	return o.withLock(DirectionToTfvc, func() error {
		if err := o.checkPrecondition(); err != nil {
			return err
		}
		if err := cancelled(ctx); err != nil {
			return err
		}

		if o.cfg.DryRun {
			o.log.Info("dry-run: would pull, checkin, and push", "remote", remote.ID)
			return nil
		}

		branch, err := currentBranch(o.repo)
		if err != nil {
			return errs.Wrap(errs.KindUnknownFatal, "resolve current branch", err)
		}
		if err := errs.Do(ctx, errs.DefaultRetryPolicy(), isTransientNetworkError, func() error {
			return o.repo.Pull(o.cfg.GitRemoteName, branch)
		}); err != nil {
			if errors.Is(err, gitrepo.ErrMergeConflict) {
				return o.haltOnConflict(remote)
			}
			return errs.Wrap(errs.KindUnknownFatal, "pull before checkin", err)
		}

		if err := cancelled(ctx); err != nil {
			return err
		}

		opts.SkipPrecheckinFetch = true
		if _, err := o.driver.Checkin(o.cfg.TargetRef, remote, opts); err != nil {
			if errs.RecoveredLocally(errs.KindOf(err)) {
				o.log.Info("nothing to checkin", "remote", remote.ID)
			} else {
				return err
			}
		}

		return o.pushCommitsAndNotes(ctx)
	})
}

// SyncBidirectional fetches from TFVC, integrates the TFVC tracking ref
// into HEAD (fast-forward or merge commit), pulls the git remote, replays
// any still-unbound local commits onto TFVC, then pushes.
func (o *Orchestrator) SyncBidirectional(ctx context.Context, remote *remoteresolver.Descriptor, opts checkin.Options) error {
	return o.withLock(DirectionBidirectional, func() error {
		if err := o.checkPrecondition(); err != nil {
			return err
		}
		if err := cancelled(ctx); err != nil {
			return err
		}

		if o.cfg.DryRun {
			o.log.Info("dry-run: would fetch, merge, checkin, and push", "remote", remote.ID)
			return nil
		}

		if err := errs.Do(ctx, errs.DefaultRetryPolicy(), isTransientNetworkError, func() error {
			_, err := o.client.Fetch(remote.ID, func(commitHash, tfsURL, tfsPath string, changesetID int) error {
				if err := o.notes.Put(commitHash, tfsURL, tfsPath, changesetID); err != nil {
					return err
				}
				remote.MaxCommitHash = commitHash
				remote.MaxChangesetID = changesetID
				return nil
			})
			return err
		}); err != nil {
			return errs.Wrap(errs.KindUnknownFatal, "fetch from tfvc", err)
		}

		if err := cancelled(ctx); err != nil {
			return err
		}

		if remote.RemoteRef != "" {
			if err := o.integrate(remote.RemoteRef); err != nil {
				if errors.Is(err, gitrepo.ErrMergeConflict) {
					return o.haltOnConflict(remote)
				}
				return err
			}
		}

		branch, err := currentBranch(o.repo)
		if err != nil {
			return errs.Wrap(errs.KindUnknownFatal, "resolve current branch", err)
		}
		if err := errs.Do(ctx, errs.DefaultRetryPolicy(), isTransientNetworkError, func() error {
			return o.repo.Pull(o.cfg.GitRemoteName, branch)
		}); err != nil {
			if errors.Is(err, gitrepo.ErrMergeConflict) {
				return o.haltOnConflict(remote)
			}
			return errs.Wrap(errs.KindUnknownFatal, "pull git remote", err)
		}

		head, err := o.repo.Head()
		if err != nil {
			return errs.Wrap(errs.KindUnknownFatal, "resolve head after pull", err)
		}
		if err := o.walker.MoveRemoteForwardIfNeeded(remote, head); err != nil {
			return errs.Wrap(errs.KindUnknownFatal, "refresh remote watermark after pull", err)
		}

		if err := cancelled(ctx); err != nil {
			return err
		}

		opts.SkipPrecheckinFetch = true
		if _, err := o.driver.Checkin(o.cfg.TargetRef, remote, opts); err != nil {
			if errs.RecoveredLocally(errs.KindOf(err)) {
				o.log.Info("nothing to checkin", "remote", remote.ID)
			} else {
				return err
			}
		}

		return o.pushCommitsAndNotes(ctx)
	})
}

// integrate attempts a fast-forward merge of ref into HEAD, falling back to
// an explicit --no-ff merge commit when a fast-forward is impossible - the
// merge commit is created on HEAD so existing hashes (and their bindings)
// remain intact as merge parents.
func (o *Orchestrator) integrate(ref string) error {
	canFF, err := o.repo.CanFastForward(ref)
	if err != nil {
		return errs.Wrap(errs.KindUnknownFatal, "check fast-forward eligibility", err)
	}
	if canFF {
		return o.repo.MergeFastForward(ref)
	}
	return o.repo.MergeNoFF(ref, fmt.Sprintf("Merge tracked tfvc ref %s", ref))
}

// haltOnConflict composes the MergeArbiter report and returns a halting
// merge_conflict error, leaving the working tree as-is for the operator.
func (o *Orchestrator) haltOnConflict(remote *remoteresolver.Descriptor) error {
	report, err := o.arbiter.BuildReport(mergearbiter.Context{MultiAgentWorkspace: o.cfg.MultiAgentWorkspace})
	if err != nil {
		return errs.Wrap(errs.KindUnknownFatal, "build merge conflict report", err)
	}
	return errs.New(errs.KindMergeConflict, report).
		WithRecommendations("resolve conflicts, commit, and re-run sync; the idempotency gate makes re-running safe")
}

// pushCommitsAndNotes pushes the target branch then the metadata
// namespace, preferring a plain push and falling back once to a
// lease-based force push if the plain push is rejected (e.g. the remote
// advanced between pull and push).
func (o *Orchestrator) pushCommitsAndNotes(ctx context.Context) error {
	if err := o.pushWithFallback(ctx, o.cfg.TargetRef); err != nil {
		return errs.Wrap(errs.KindUnknownFatal, "push commits", err)
	}
	if err := o.pushWithFallback(ctx, notesRefspec()); err != nil {
		return errs.Wrap(errs.KindUnknownFatal, "push metadata namespace", err)
	}
	return nil
}

func (o *Orchestrator) pushWithFallback(ctx context.Context, refspec string) error {
	return errs.Do(ctx, errs.DefaultRetryPolicy(), isTransientNetworkError, func() error {
		if err := o.repo.Push(o.cfg.GitRemoteName, refspec); err != nil {
			return o.repo.PushForceWithLease(o.cfg.GitRemoteName, refspec)
		}
		return nil
	})
}

func notesRefspec() string {
	return gitrepo.NotesRef + ":" + gitrepo.NotesRef
}

func currentBranch(repo *gitrepo.Repository) (string, error) {
	out, err := repo.Run("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return out, nil
}
