package checkin

import (
	"strings"

	"github.com/LorenDorez/git-tfs/internal/gitrepo"
)

// resolveAuthor implements the spec's precedence order: explicit option,
// authors-file mapping, inference from the git identity, then the
// authenticated caller as last resort. mergedParent, when non-nil, is the
// last merged parent of a merge commit - its author is credited instead of
// the merge commit's own, since the merge commit itself did no work.
func resolveAuthor(commit, mergedParent *gitrepo.CommitMeta, opts Options) string {
	if opts.Author != "" {
		return opts.Author
	}

	source := commit
	if mergedParent != nil {
		source = mergedParent
	}

	if opts.AuthorsFile != nil {
		key := source.AuthorName + " <" + source.AuthorEmail + ">"
		if mapped, ok := opts.AuthorsFile[key]; ok {
			return mapped
		}
		if mapped, ok := opts.AuthorsFile[source.AuthorEmail]; ok {
			return mapped
		}
	}

	if inferred, ok := inferFromGitIdentity(source.AuthorName, source.AuthorEmail); ok {
		return inferred
	}

	if opts.CallerIdentity != "" {
		return opts.CallerIdentity
	}
	return source.AuthorEmail
}

// inferFromGitIdentity preserves an already-domain-qualified name
// (DOMAIN\user) unchanged, otherwise falls back to the local-part of the
// author's email address.
func inferFromGitIdentity(name, email string) (string, bool) {
	if strings.Contains(name, `\`) {
		return name, true
	}
	if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
		return local, true
	}
	return "", false
}
