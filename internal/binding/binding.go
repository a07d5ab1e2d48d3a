// Package binding defines ChangesetBinding, the immutable association
// between a git commit hash and a TFVC changeset id, and the two wire
// formats the sync engine reads bindings from: the notes namespace's
// key=value body, and the legacy git-tfs-id commit message trailer.
package binding

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidChangeset is returned when a serialized binding's changeset
// field is missing or not a positive integer.
var ErrInvalidChangeset = errors.New("binding: changeset must be a positive integer")

// Binding is the immutable association between one commit hash and one
// TFVC changeset. Once written it is never modified; repair tooling may
// delete and recreate one, but no code path updates a Binding in place.
type Binding struct {
	ChangesetID int
	TFSURL      string
	TFSPath     string
	CommitHash  string
	BoundAt     time.Time
}

// Serialize renders a Binding as the line-oriented key=value body stored in
// the notes namespace. synced_at is informational only; readers must not
// derive identity from it (Get followed by Put followed by Get can observe
// a different synced_at for the same logical binding).
func (b Binding) Serialize() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "changeset=%d\n", b.ChangesetID)
	if b.TFSURL != "" {
		fmt.Fprintf(&sb, "tfs_url=%s\n", b.TFSURL)
	}
	if b.TFSPath != "" {
		fmt.Fprintf(&sb, "tfs_path=%s\n", b.TFSPath)
	}
	fmt.Fprintf(&sb, "synced_at=%s\n", b.BoundAt.UTC().Format(time.RFC3339))
	return sb.String()
}

// Parse decodes a note body into a Binding for the given commit hash.
// Unknown keys are ignored. Empty tfs_url/tfs_path values are normalized to
// absent (zero value), matching the storage contract.
func Parse(commitHash, body string) (Binding, error) {
	b := Binding{CommitHash: commitHash}
	haveChangeset := false

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "changeset":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return Binding{}, ErrInvalidChangeset
			}
			b.ChangesetID = n
			haveChangeset = true
		case "tfs_url":
			b.TFSURL = value
		case "tfs_path":
			b.TFSPath = value
		case "synced_at":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				b.BoundAt = t
			}
		}
	}

	if !haveChangeset {
		return Binding{}, ErrInvalidChangeset
	}
	return b, nil
}

// legacyTrailer matches a trailing git-tfs-id trailer of the form:
//
//	git-tfs-id: [https://tfs.example/tfs]$/Proj/Main;C123
//
// The spec requires matching the LAST occurrence when the trailer appears
// multiple times in a message (a commit amended by an older tool more than
// once). The regex is anchored to whole lines ((?m) ^...$), so every
// trailer line in the message matches; ParseLegacyTrailer takes the final
// match, which achieves that without relying on any particular regex
// engine's directionality.
var legacyTrailer = regexp.MustCompile(`(?m)^git-tfs-id:\s*\[([^\]]*)\]([^;]+);C(\d+)\s*$`)

// ParseLegacyTrailer extracts a changeset id and TFS url/path from a commit
// message carrying an old-style git-tfs-id trailer, returning ok=false if
// no trailer is present. When the message contains more than one trailer
// (a legacy-repository anomaly), the last one wins.
func ParseLegacyTrailer(message string) (changesetID int, tfsURL, tfsPath string, ok bool) {
	matches := legacyTrailer.FindAllStringSubmatch(message, -1)
	if len(matches) == 0 {
		return 0, "", "", false
	}

	last := matches[len(matches)-1]
	n, err := strconv.Atoi(last[3])
	if err != nil || n <= 0 {
		return 0, "", "", false
	}

	return n, last[1], last[2], true
}

// StripLegacyTrailers removes every git-tfs-id trailer line from message,
// used by CheckinDriver before transmitting a check-in message to TFVC so
// the server never sees our own bookkeeping.
func StripLegacyTrailers(message string) string {
	return strings.TrimRight(legacyTrailer.ReplaceAllString(message, ""), "\n") + "\n"
}
