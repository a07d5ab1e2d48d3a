// Package mergearbiter reports on conflicted merges left behind by
// SyncOrchestrator. It never resolves a conflict itself - resolution is an
// operator action; this package only inspects state and composes guidance.
package mergearbiter

import (
	"fmt"
	"os"
	"strings"

	"github.com/LorenDorez/git-tfs/internal/gitrepo"
)

// Arbiter inspects repo's working tree for unmerged entries left by a
// failed merge or pull.
type Arbiter struct {
	repo *gitrepo.Repository
}

// New returns an Arbiter over repo.
func New(repo *gitrepo.Repository) *Arbiter {
	return &Arbiter{repo: repo}
}

// HasConflicts reports whether the index currently has unmerged entries.
func (a *Arbiter) HasConflicts() (bool, error) {
	paths, err := a.GetConflictedPaths()
	if err != nil {
		return false, err
	}
	return len(paths) > 0, nil
}

// GetConflictedPaths returns the ordered list of paths with unmerged index
// entries.
func (a *Arbiter) GetConflictedPaths() ([]string, error) {
	return a.repo.ConflictedPaths()
}

// Context carries the caller-supplied signal BuildReport uses to tailor its
// guidance: whether the workspace is one of several agent-managed repos
// sharing a lock domain. Whether the run is CI-driven is read from the
// environment by IsCI, not from Context.
type Context struct {
	MultiAgentWorkspace bool
}

// IsCI reports whether a recognized CI build-id environment variable is
// set, matching the spec's "some environment variable signaling a build
// id" detection rule.
func IsCI() bool {
	return os.Getenv("BUILD_BUILDID") != "" || os.Getenv("CI") != ""
}

// BuildReport composes human-readable guidance for a conflicted merge,
// varying its phrasing by whether the run is CI-driven or interactive and
// whether the workspace is shared across agents.
func (a *Arbiter) BuildReport(ctx Context) (string, error) {
	paths, err := a.GetConflictedPaths()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Merge halted with %d conflicted path(s):\n", len(paths))
	for _, p := range paths {
		fmt.Fprintf(&sb, "  - %s\n", p)
	}

	sb.WriteString("\n")
	if IsCI() {
		sb.WriteString("This run is executing under CI. The pipeline will not resolve conflicts automatically:\n")
		sb.WriteString("  1. Fail this build.\n")
		sb.WriteString("  2. An operator must resolve the conflict on a local clone of this workspace,\n")
		sb.WriteString("     commit the resolution, and push before re-triggering the pipeline.\n")
	} else {
		sb.WriteString("Resolve the conflicts in your working tree, then:\n")
		sb.WriteString("  1. git add <resolved paths>\n")
		sb.WriteString("  2. git commit\n")
		sb.WriteString("  3. re-run sync - the idempotency gate makes re-running safe.\n")
	}

	if ctx.MultiAgentWorkspace {
		sb.WriteString("\nThis workspace is shared with other sync agents. Before resolving, confirm no\n")
		sb.WriteString("other agent is mid-run against the same workspace name (check the lock file),\n")
		sb.WriteString("and push your resolution promptly so other agents observe the resolved state.\n")
	} else {
		sb.WriteString("\nThis is a single-repo workspace; no coordination with other agents is needed.\n")
	}

	return sb.String(), nil
}
