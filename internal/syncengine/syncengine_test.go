package syncengine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LorenDorez/git-tfs/internal/ancestor"
	"github.com/LorenDorez/git-tfs/internal/checkin"
	"github.com/LorenDorez/git-tfs/internal/changesetindex"
	"github.com/LorenDorez/git-tfs/internal/errs"
	"github.com/LorenDorez/git-tfs/internal/gitrepo"
	"github.com/LorenDorez/git-tfs/internal/lockcoord"
	"github.com/LorenDorez/git-tfs/internal/mergearbiter"
	"github.com/LorenDorez/git-tfs/internal/notesstore"
	"github.com/LorenDorez/git-tfs/internal/remoteresolver"
	"github.com/LorenDorez/git-tfs/internal/tfvcclient"
)

func setupRepoPair(t *testing.T) (localDir, remoteDir string) {
	t.Helper()
	base, err := os.MkdirTemp("", "syncengine-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(base) })

	remoteDir = filepath.Join(base, "remote.git")
	run(t, base, "init", "--bare", "-b", "main", remoteDir)

	localDir = filepath.Join(base, "local")
	run(t, base, "init", "-b", "main", localDir)
	run(t, localDir, "config", "user.email", "dev@example.com")
	run(t, localDir, "config", "user.name", "Dev User")
	run(t, localDir, "remote", "add", "origin", remoteDir)

	require.NoError(t, os.WriteFile(filepath.Join(localDir, "a.txt"), []byte("one"), 0644))
	run(t, localDir, "add", "a.txt")
	run(t, localDir, "commit", "-m", "first")
	run(t, localDir, "push", "origin", "main")

	return localDir, remoteDir
}

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, string(out))
	return strings.TrimSpace(string(out))
}

func buildOrchestrator(t *testing.T, dir string, client tfvcclient.Client) (*Orchestrator, *gitrepo.Repository) {
	t.Helper()
	repo, err := gitrepo.Open(dir)
	require.NoError(t, err)

	locksDir, err := os.MkdirTemp("", "syncengine-locks-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(locksDir) })
	locks, err := lockcoord.New(locksDir)
	require.NoError(t, err)

	store := notesstore.New(repo)
	index := changesetindex.New(repo, store, nil)
	walker := ancestor.New(repo, store)
	driver := checkin.New(repo, store, index, walker, client, nil)
	arbiter := mergearbiter.New(repo)

	cfg := Config{
		WorkspaceName: "ws",
		GitRemoteName: "origin",
		TargetRef:     "main",
		LockTimeout:   time.Second,
		MaxLockAge:    time.Hour,
	}
	return New(cfg, repo, locks, store, walker, driver, arbiter, client, nil), repo
}

func TestSyncToTfvcFailsPreconditionWhenNamespaceNotWired(t *testing.T) {
	localDir, _ := setupRepoPair(t)
	client := tfvcclient.NewFake(1)
	o, _ := buildOrchestrator(t, localDir, client)

	remote := &remoteresolver.Descriptor{ID: "default", TFSURL: "https://tfs.example/tfs", TFSRepositoryPath: "$/Proj"}
	err := o.SyncToTfvc(context.Background(), remote, checkin.Options{})
	require.Error(t, err)
	assert.Equal(t, errs.KindPreconditionFail, errs.KindOf(err))
}

func TestSyncToTfvcChecksInAndPushes(t *testing.T) {
	localDir, remoteDir := setupRepoPair(t)
	client := tfvcclient.NewFake(6)
	o, repo := buildOrchestrator(t, localDir, client)

	require.NoError(t, repo.ConfigureFetchPushRefspec("origin", gitrepo.NotesRef))

	remote := &remoteresolver.Descriptor{ID: "default", TFSURL: "https://tfs.example/tfs", TFSRepositoryPath: "$/Proj"}
	err := o.SyncToTfvc(context.Background(), remote, checkin.Options{})
	require.NoError(t, err)

	assert.Equal(t, 6, remote.MaxChangesetID)
	assert.Len(t, client.Checkins, 1)

	// Verify the commit landed on the bare remote.
	out := run(t, remoteDir, "log", "-1", "--format=%H", "main")
	assert.NotEmpty(t, out)
}

func TestSyncToTfvcSecondRunIsNothingToCheckin(t *testing.T) {
	localDir, _ := setupRepoPair(t)
	client := tfvcclient.NewFake(6)
	o, repo := buildOrchestrator(t, localDir, client)
	require.NoError(t, repo.ConfigureFetchPushRefspec("origin", gitrepo.NotesRef))

	remote := &remoteresolver.Descriptor{ID: "default", TFSURL: "https://tfs.example/tfs", TFSRepositoryPath: "$/Proj"}
	require.NoError(t, o.SyncToTfvc(context.Background(), remote, checkin.Options{}))

	err := o.SyncToTfvc(context.Background(), remote, checkin.Options{})
	require.NoError(t, err)
	assert.Len(t, client.Checkins, 1)
}

func TestSyncFromTfvcDryRunDoesNotMutate(t *testing.T) {
	localDir, _ := setupRepoPair(t)
	client := tfvcclient.NewFake(6)
	o, repo := buildOrchestrator(t, localDir, client)
	require.NoError(t, repo.ConfigureFetchPushRefspec("origin", gitrepo.NotesRef))
	o.cfg.DryRun = true

	remote := &remoteresolver.Descriptor{ID: "default"}
	err := o.SyncFromTfvc(context.Background(), remote)
	require.NoError(t, err)
	assert.Equal(t, 0, remote.MaxChangesetID)
}
