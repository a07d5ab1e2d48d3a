// Package remoteresolver maps a (tfs_url, tfs_path) pair recovered from a
// binding back to a configured RemoteDescriptor, tolerating the server URL
// having moved since a binding was written.
package remoteresolver

import (
	"fmt"
	"strings"
)

// Logger is the minimal surface Resolve needs to emit the diagnostics the
// spec calls for on tier 2/3 matches and exact-match collisions.
type Logger interface {
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Warn(string, ...any) {}

// Descriptor mirrors the spec's RemoteDescriptor data model.
type Descriptor struct {
	ID              string
	TFSURL          string
	TFSRepositoryPath string
	LegacyURLs      []string
	RemoteRef       string
	MaxChangesetID  int
	MaxCommitHash   string

	// Derived marks a synthetic, read-only descriptor produced by tier 4
	// when no configured remote could be matched.
	Derived bool
}

// Resolver picks one Descriptor from a fixed configured set.
type Resolver struct {
	remotes []Descriptor
	log     Logger
}

// New returns a Resolver over remotes. Order matters for tie-breaking: the
// first exact or path-only match wins.
func New(remotes []Descriptor, log Logger) *Resolver {
	if log == nil {
		log = nopLogger{}
	}
	return &Resolver{remotes: remotes, log: log}
}

// Resolve implements the spec's four-tier fallback strategy.
func (r *Resolver) Resolve(tfsURL, tfsPath string) Descriptor {
	if d, ok := r.exactMatch(tfsURL, tfsPath); ok {
		return d
	}
	if tfsPath != "" {
		if d, ok := r.pathOnlyMatch(tfsPath); ok {
			r.log.Warn("remote resolved by path only, URL mismatch",
				"binding_url", tfsURL, "remote_url", d.TFSURL, "tfs_path", tfsPath)
			return d
		}
	}
	if len(r.remotes) == 1 {
		d := r.remotes[0]
		r.log.Warn("remote resolved by sole-remote fallback, no match on URL or path",
			"binding_url", tfsURL, "binding_path", tfsPath,
			"remote_url", d.TFSURL, "remote_path", d.TFSRepositoryPath)
		return d
	}
	return Descriptor{
		ID:                fmt.Sprintf("unresolved(%s,%s)", tfsURL, tfsPath),
		TFSURL:            tfsURL,
		TFSRepositoryPath: tfsPath,
		Derived:           true,
	}
}

func (r *Resolver) exactMatch(tfsURL, tfsPath string) (Descriptor, bool) {
	var matches []Descriptor
	for _, d := range r.remotes {
		if urlMatches(d, tfsURL) && strings.EqualFold(d.TFSRepositoryPath, tfsPath) {
			matches = append(matches, d)
		}
	}
	if len(matches) == 0 {
		return Descriptor{}, false
	}
	if len(matches) > 1 {
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		r.log.Warn("multiple remotes matched exactly, using first enumerated",
			"tfs_url", tfsURL, "tfs_path", tfsPath, "candidates", strings.Join(ids, ","))
	}
	return matches[0], true
}

func (r *Resolver) pathOnlyMatch(tfsPath string) (Descriptor, bool) {
	for _, d := range r.remotes {
		if strings.EqualFold(d.TFSRepositoryPath, tfsPath) {
			return d, true
		}
	}
	return Descriptor{}, false
}

func urlMatches(d Descriptor, tfsURL string) bool {
	if strings.EqualFold(d.TFSURL, tfsURL) {
		return true
	}
	for _, legacy := range d.LegacyURLs {
		if strings.EqualFold(legacy, tfsURL) {
			return true
		}
	}
	return false
}
