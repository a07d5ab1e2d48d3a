package ancestor

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LorenDorez/git-tfs/internal/gitrepo"
	"github.com/LorenDorez/git-tfs/internal/notesstore"
	"github.com/LorenDorez/git-tfs/internal/remoteresolver"
)

func setupRepo(t *testing.T) *gitrepo.Repository {
	t.Helper()
	dir, err := os.MkdirTemp("", "ancestor-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	run(t, dir, "init", "-b", "main")
	run(t, dir, "config", "user.email", "test@example.com")
	run(t, dir, "config", "user.name", "Test User")

	repo, err := gitrepo.Open(dir)
	require.NoError(t, err)
	return repo
}

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, string(out))
	return strings.TrimSpace(string(out))
}

func commitFile(t *testing.T, dir, name, content, message string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	run(t, dir, "add", name)
	run(t, dir, "commit", "-m", message)
	return run(t, dir, "rev-parse", "HEAD")
}

func TestFindLastParentBindingsSkipsUnboundCommit(t *testing.T) {
	repo := setupRepo(t)
	store := notesstore.New(repo)
	w := New(repo, store)

	bound := commitFile(t, repo.Path(), "a.txt", "one", "bound commit")
	require.NoError(t, store.Put(bound, "https://tfs.example/tfs", "$/Proj", 5))

	unbound := commitFile(t, repo.Path(), "b.txt", "two", "unbound gitignore-style commit")

	bindings, err := w.FindLastParentBindings(unbound)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, bound, bindings[0].CommitHash)
	assert.Equal(t, 5, bindings[0].ChangesetID)
}

func TestFindLastParentBindingsOnBoundHeadReturnsItself(t *testing.T) {
	repo := setupRepo(t)
	store := notesstore.New(repo)
	w := New(repo, store)

	bound := commitFile(t, repo.Path(), "a.txt", "one", "bound commit")
	require.NoError(t, store.Put(bound, "https://tfs.example/tfs", "$/Proj", 5))

	bindings, err := w.FindLastParentBindings(bound)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, bound, bindings[0].CommitHash)
}

func TestMoveRemoteForwardIfNeededAdvancesWatermark(t *testing.T) {
	repo := setupRepo(t)
	store := notesstore.New(repo)
	w := New(repo, store)

	c1 := commitFile(t, repo.Path(), "a.txt", "one", "first")
	require.NoError(t, store.Put(c1, "https://tfs.example/tfs", "$/Proj", 5))

	remote := &remoteresolver.Descriptor{
		ID: "default", TFSURL: "https://tfs.example/tfs", TFSRepositoryPath: "$/Proj",
		MaxChangesetID: 3,
	}

	require.NoError(t, w.MoveRemoteForwardIfNeeded(remote, c1))
	assert.Equal(t, 5, remote.MaxChangesetID)
	assert.Equal(t, c1, remote.MaxCommitHash)
}

func TestMoveRemoteForwardIfNeededIgnoresOlderBindings(t *testing.T) {
	repo := setupRepo(t)
	store := notesstore.New(repo)
	w := New(repo, store)

	c1 := commitFile(t, repo.Path(), "a.txt", "one", "first")
	require.NoError(t, store.Put(c1, "https://tfs.example/tfs", "$/Proj", 2))

	remote := &remoteresolver.Descriptor{
		ID: "default", TFSURL: "https://tfs.example/tfs", TFSRepositoryPath: "$/Proj",
		MaxChangesetID: 10, MaxCommitHash: "existing",
	}

	require.NoError(t, w.MoveRemoteForwardIfNeeded(remote, c1))
	assert.Equal(t, 10, remote.MaxChangesetID)
	assert.Equal(t, "existing", remote.MaxCommitHash)
}
