package gitrepo

import (
	"fmt"
	"strings"
	"time"
)

// CommitMeta is the subset of commit metadata the sync engine needs: hash,
// parents (for first-parent traversal and merge-parent resolution), author
// identity (for check-in attribution), and message (for legacy git-tfs-id
// parsing and check-in message assembly).
type CommitMeta struct {
	Hash         string
	ParentHashes []string
	AuthorName   string
	AuthorEmail  string
	AuthorTime   time.Time
	Message      string
}

// IsMerge reports whether the commit has more than one parent.
func (c *CommitMeta) IsMerge() bool {
	return len(c.ParentHashes) > 1
}

const logFormat = "%H%x1f%P%x1f%an%x1f%ae%x1f%ai%x1f%B%x1e"

// CommitByHash returns metadata for a single commit.
func (r *Repository) CommitByHash(hash string) (*CommitMeta, error) {
	out, err := r.Run("log", "-1", "--format="+logFormat, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCommit, hash)
	}
	commits := parseLog(out)
	if len(commits) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCommit, hash)
	}
	return commits[0], nil
}

// LogDescending returns commits reachable from ref, newest first. It is the
// primitive ChangesetIndex uses for its full-scan fallback.
func (r *Repository) LogDescending(ref string) ([]*CommitMeta, error) {
	out, err := r.Run("log", "--date-order", "--format="+logFormat, ref)
	if err != nil {
		return nil, err
	}
	return parseLog(out), nil
}

// FirstParentPath returns the commits reachable from `from` by following
// only first parents, stopping at (and excluding) `exclude`, ordered oldest
// first - the order TFVC check-in requires. If exclude is empty, walks to
// the root commit.
func (r *Repository) FirstParentPath(from, exclude string) ([]*CommitMeta, error) {
	args := []string{"log", "--first-parent", "--format=" + logFormat}
	if exclude != "" {
		args = append(args, exclude+".."+from)
	} else {
		args = append(args, from)
	}

	out, err := r.Run(args...)
	if err != nil {
		return nil, err
	}

	commits := parseLog(out)
	// git log prints newest first; check-in must replay oldest first.
	reverse(commits)
	return commits, nil
}

// LogRange returns the commits reachable from `from` but not from
// `exclude`, oldest first. CheckinDriver uses it to fold any commits merged
// into a first-parent commit (and so never individually checked in) into
// that commit's own check-in message.
func (r *Repository) LogRange(from, exclude string) ([]*CommitMeta, error) {
	out, err := r.Run("log", "--format="+logFormat, exclude+".."+from)
	if err != nil {
		return nil, err
	}
	commits := parseLog(out)
	reverse(commits)
	return commits, nil
}

// parseLog splits the RS-separated (%x1e) record stream produced by
// logFormat into CommitMeta values. Fields within a record are separated by
// US (%x1f) so that commit messages containing '|' or newlines don't break
// parsing.
func parseLog(out string) []*CommitMeta {
	out = strings.Trim(out, "\x1e\n")
	if out == "" {
		return nil
	}

	records := strings.Split(out, "\x1e")
	commits := make([]*CommitMeta, 0, len(records))

	for _, rec := range records {
		rec = strings.TrimPrefix(rec, "\n")
		if rec == "" {
			continue
		}
		fields := strings.SplitN(rec, "\x1f", 6)
		if len(fields) < 6 {
			continue
		}

		commit := &CommitMeta{
			Hash:        fields[0],
			AuthorName:  fields[2],
			AuthorEmail: fields[3],
			Message:     strings.TrimRight(fields[5], "\n"),
		}
		if fields[1] != "" {
			commit.ParentHashes = strings.Split(fields[1], " ")
		}
		if t, err := time.Parse("2006-01-02 15:04:05 -0700", fields[4]); err == nil {
			commit.AuthorTime = t
		}
		commits = append(commits, commit)
	}

	return commits
}

func reverse(commits []*CommitMeta) {
	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}
}
