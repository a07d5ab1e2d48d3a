package config

// DeepMerge overlays the non-zero fields of src onto dst, so that a layer
// which only sets a handful of keys - the common case, since an operator's
// local override file is usually three lines - inherits everything else
// from the layer underneath it rather than zeroing it out.
func DeepMerge(dst, src *Config) {
	if src.GitRemote != "" {
		dst.GitRemote = src.GitRemote
	}
	mergeWorkspace(&dst.Workspace, src.Workspace)
	mergeLock(&dst.Lock, src.Lock)
	dst.Remotes = mergeRemotes(dst.Remotes, src.Remotes)
}

func mergeWorkspace(dst *WorkspaceSettings, src WorkspaceSettings) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Root != "" {
		dst.Root = src.Root
	}
	if src.MultiAgent {
		dst.MultiAgent = src.MultiAgent
	}
}

func mergeLock(dst *LockSettings, src LockSettings) {
	if src.Timeout != 0 {
		dst.Timeout = src.Timeout
	}
	if src.MaxAge != 0 {
		dst.MaxAge = src.MaxAge
	}
	if src.LockFile != "" {
		dst.LockFile = src.LockFile
	}
}

// mergeRemotes overlays src's remotes onto dst's by id rather than
// replacing the whole list: a src entry whose id matches an existing dst
// entry overrides that entry's fields one at a time, so a local layer can
// bump one remote's cached watermark without having to restate every other
// configured remote just to avoid losing it. A src entry with a new id is
// appended.
func mergeRemotes(dst, src []RemoteSettings) []RemoteSettings {
	if len(src) == 0 {
		return dst
	}

	byID := make(map[string]int, len(dst))
	for i, r := range dst {
		byID[r.ID] = i
	}

	for _, r := range src {
		if i, ok := byID[r.ID]; ok {
			dst[i] = mergeRemote(dst[i], r)
			continue
		}
		dst = append(dst, r)
		byID[r.ID] = len(dst) - 1
	}
	return dst
}

func mergeRemote(dst, src RemoteSettings) RemoteSettings {
	if src.TFSURL != "" {
		dst.TFSURL = src.TFSURL
	}
	if src.TFSRepositoryPath != "" {
		dst.TFSRepositoryPath = src.TFSRepositoryPath
	}
	if len(src.LegacyURLs) > 0 {
		dst.LegacyURLs = src.LegacyURLs
	}
	if src.RemoteRef != "" {
		dst.RemoteRef = src.RemoteRef
	}
	if src.MaxChangesetID != 0 {
		dst.MaxChangesetID = src.MaxChangesetID
	}
	if src.MaxCommitHash != "" {
		dst.MaxCommitHash = src.MaxCommitHash
	}
	return dst
}
