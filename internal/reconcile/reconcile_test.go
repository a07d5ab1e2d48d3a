package reconcile

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

func setupRepo(t *testing.T) (*gitrepo.Repository, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "reconcile-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	run(t, dir, "init", "-b", "main")
	run(t, dir, "config", "user.email", "test@example.com")
	run(t, dir, "config", "user.name", "Test User")

	repo, err := gitrepo.Open(dir)
	require.NoError(t, err)
	return repo, dir
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

func TestRepairNotesBackfillsFromLegacyTrailer(t *testing.T) {
	repo, dir := setupRepo(t)
	notes := notesstore.New(repo)
	remote := &remoteresolver.Descriptor{TFSURL: "https://tfs.example/tfs", TFSRepositoryPath: "$/Proj/Main"}

	hash := commitFile(t, dir, "a.txt", "one", "add a\n\ngit-tfs-id: [https://tfs.example/tfs]$/Proj/Main;C42\n")

	r := New(repo, notes, nil)
	report, err := r.RepairNotes(remote, "HEAD")
	require.NoError(t, err)

	assert.Equal(t, []string{hash}, report.Repaired)
	assert.Equal(t, 0, report.AlreadyBound)

	b, err := notes.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, 42, b.ChangesetID)
}

func TestRepairNotesSkipsCommitAlreadyBound(t *testing.T) {
	repo, dir := setupRepo(t)
	notes := notesstore.New(repo)
	remote := &remoteresolver.Descriptor{TFSURL: "https://tfs.example/tfs", TFSRepositoryPath: "$/Proj/Main"}

	hash := commitFile(t, dir, "a.txt", "one", "add a\n\ngit-tfs-id: [https://tfs.example/tfs]$/Proj/Main;C42\n")
	require.NoError(t, notes.Put(hash, remote.TFSURL, remote.TFSRepositoryPath, 42))

	r := New(repo, notes, nil)
	report, err := r.RepairNotes(remote, "HEAD")
	require.NoError(t, err)

	assert.Empty(t, report.Repaired)
	assert.Equal(t, 1, report.AlreadyBound)
}

func TestRepairNotesFlagsMismatchedRemoteAsAmbiguous(t *testing.T) {
	repo, dir := setupRepo(t)
	notes := notesstore.New(repo)
	remote := &remoteresolver.Descriptor{TFSURL: "https://tfs.example/tfs", TFSRepositoryPath: "$/Proj/Main"}

	hash := commitFile(t, dir, "a.txt", "one", "add a\n\ngit-tfs-id: [https://other.example/tfs]$/Proj/Other;C7\n")

	r := New(repo, notes, nil)
	report, err := r.RepairNotes(remote, "HEAD")
	require.NoError(t, err)

	assert.Empty(t, report.Repaired)
	assert.Equal(t, []string{hash}, report.Ambiguous)

	_, err = notes.Get(hash)
	assert.Error(t, err)
}

func TestRepairNotesCommitWithoutTrailerIsLeftAlone(t *testing.T) {
	repo, dir := setupRepo(t)
	notes := notesstore.New(repo)
	remote := &remoteresolver.Descriptor{TFSURL: "https://tfs.example/tfs", TFSRepositoryPath: "$/Proj/Main"}

	commitFile(t, dir, "a.txt", "one", "plain commit, no trailer")

	r := New(repo, notes, nil)
	report, err := r.RepairNotes(remote, "HEAD")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Scanned)
	assert.Empty(t, report.Repaired)
	assert.Empty(t, report.Ambiguous)
	assert.Equal(t, 0, report.AlreadyBound)
}
