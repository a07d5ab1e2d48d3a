package notesstore

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LorenDorez/git-tfs/internal/gitrepo"
)

func setupRepo(t *testing.T) (*gitrepo.Repository, string) {
	t.Helper()

	dir, err := os.MkdirTemp("", "notesstore-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	run(t, dir, "init", "-b", "main")
	run(t, dir, "config", "user.email", "test@example.com")
	run(t, dir, "config", "user.name", "Test User")
	run(t, dir, "remote", "add", "origin", "https://example.com/repo.git")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one"), 0644))
	run(t, dir, "add", "a.txt")
	run(t, dir, "commit", "-m", "first")

	repo, err := gitrepo.Open(dir)
	require.NoError(t, err)

	head, err := repo.Head()
	require.NoError(t, err)

	return repo, head
}

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, string(out))
	return strings.TrimSpace(string(out))
}

func TestPutThenGetRoundTrip(t *testing.T) {
	repo, head := setupRepo(t)
	store := New(repo)

	require.NoError(t, store.Put(head, "https://tfs.example/tfs", "$/Proj/Main", 6))

	b, err := store.Get(head)
	require.NoError(t, err)
	assert.Equal(t, 6, b.ChangesetID)
	assert.Equal(t, "https://tfs.example/tfs", b.TFSURL)
	assert.Equal(t, "$/Proj/Main", b.TFSPath)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	repo, head := setupRepo(t)
	store := New(repo)

	_, err := store.Get(head)
	assert.ErrorIs(t, err, ErrBindingNotFound)
}

func TestPutOverwritesExistingBinding(t *testing.T) {
	repo, head := setupRepo(t)
	store := New(repo)

	require.NoError(t, store.Put(head, "https://tfs.example/tfs", "$/Proj/Main", 6))
	require.NoError(t, store.Put(head, "https://tfs.example/tfs", "$/Proj/Main", 7))

	b, err := store.Get(head)
	require.NoError(t, err)
	assert.Equal(t, 7, b.ChangesetID)
}

func TestConfigureRemoteToSyncIsIdempotent(t *testing.T) {
	repo, _ := setupRepo(t)
	store := New(repo)

	enabled, err := store.Enabled("origin")
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, store.ConfigureRemoteToSync("origin"))
	require.NoError(t, store.ConfigureRemoteToSync("origin"))

	enabled, err = store.Enabled("origin")
	require.NoError(t, err)
	assert.True(t, enabled)
}
