// Package config loads and layers the sync engine's persisted settings:
// workspace location, lock policy, and the configured TFVC remotes. It
// mirrors the teacher's atomic-pointer config manager - Get() is lock-free
// and safe to call from any goroutine while Load()/Reload() swap in a new
// snapshot - but the schema and layering order are this module's own.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LorenDorez/git-tfs/internal/remoteresolver"
)

// WorkspaceSettings selects the lock domain and repository location.
type WorkspaceSettings struct {
	Name string `yaml:"name"`
	Root string `yaml:"root"`

	// MultiAgent declares that this workspace's lock domain is shared by
	// more than one sync agent (e.g. several CI jobs or operators driving
	// the same TFVC path under coordinated locking). MergeArbiter uses it
	// to decide whether a conflict halt's guidance mentions coordinating
	// with other agents.
	MultiAgent bool `yaml:"multi_agent"`
}

// LockSettings configures LockCoordinator's policy for this workspace.
type LockSettings struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxAge   time.Duration `yaml:"max_age"`
	LockFile string        `yaml:"lock_file"`
}

// RemoteSettings is the on-disk form of a RemoteDescriptor.
type RemoteSettings struct {
	ID                string   `yaml:"id"`
	TFSURL            string   `yaml:"url"`
	TFSRepositoryPath string   `yaml:"repository"`
	LegacyURLs        []string `yaml:"legacy_urls"`
	RemoteRef         string   `yaml:"remote_ref"`
	MaxChangesetID    int      `yaml:"max_changeset_id"`
	MaxCommitHash     string   `yaml:"max_commit_hash"`
}

// Config is the full layered configuration for one invocation.
type Config struct {
	GitRemote string           `yaml:"git_remote"`
	Workspace WorkspaceSettings `yaml:"workspace"`
	Lock      LockSettings      `yaml:"lock"`
	Remotes   []RemoteSettings  `yaml:"remotes"`
}

// DefaultConfig returns the policy defaults named in the lock coordinator
// contract: a 7200s max lock age and a timeout equal to it.
func DefaultConfig() *Config {
	return &Config{
		GitRemote: "origin",
		Workspace: WorkspaceSettings{Name: "default"},
		Lock: LockSettings{
			Timeout:  2 * time.Hour,
			MaxAge:   2 * time.Hour,
			LockFile: ".git-tfs-locks",
		},
		Remotes: []RemoteSettings{
			{ID: "default"},
		},
	}
}

// Manager holds the current Config behind an atomic pointer so readers
// never observe a partially-applied Load.
type Manager struct {
	configPtr atomic.Pointer[Config]

	projectConfigPath string
	userConfigPath    string
	localConfigPath   string
}

// New returns a Manager that layers project, then user, then local YAML
// files (each optional) over DefaultConfig, in that increasing-precedence
// order - local overrides user overrides project overrides defaults.
func New(projectConfigPath, userConfigPath, localConfigPath string) *Manager {
	m := &Manager{
		projectConfigPath: projectConfigPath,
		userConfigPath:    userConfigPath,
		localConfigPath:   localConfigPath,
	}
	m.configPtr.Store(DefaultConfig())
	return m
}

// Get returns the current config snapshot.
func (m *Manager) Get() *Config {
	return m.configPtr.Load()
}

// Load reads the layered YAML files, applies environment overrides, and
// atomically publishes the result.
func (m *Manager) Load() error {
	cfg := DefaultConfig()

	for _, path := range []string{m.projectConfigPath, m.userConfigPath, m.localConfigPath} {
		if path == "" {
			continue
		}
		layer, err := loadYAMLFile(path)
		if err != nil {
			return fmt.Errorf("config: load %s: %w", path, err)
		}
		if layer != nil {
			DeepMerge(cfg, layer)
		}
	}

	applyEnvironment(cfg)
	m.configPtr.Store(cfg)
	return nil
}

// Reload re-reads the layered files, equivalent to Load.
func (m *Manager) Reload() error {
	return m.Load()
}

func loadYAMLFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvironment overrides the workspace and lock settings from
// environment variables; env overrides file config. cmd/sync.go takes the
// workspace name, lock timeout and max lock age from its own flags (their
// defaults included) and does not read them from Config, so
// GIT_TFS_WORKSPACE_NAME, GIT_TFS_LOCK_TIMEOUT and GIT_TFS_MAX_LOCK_AGE do
// not change a sync run; the Config fields it does read are Workspace.Root,
// Workspace.MultiAgent, Lock.LockFile and Remotes.
func applyEnvironment(cfg *Config) {
	if v := os.Getenv("GIT_TFS_WORKSPACE_NAME"); v != "" {
		cfg.Workspace.Name = v
	}
	if v := os.Getenv("GIT_TFS_WORKSPACE_ROOT"); v != "" {
		cfg.Workspace.Root = v
	}
	if v := strings.ToLower(os.Getenv("GIT_TFS_MULTI_AGENT_WORKSPACE")); v != "" {
		cfg.Workspace.MultiAgent = v == "1" || v == "true" || v == "yes" || v == "on"
	}
	if v := os.Getenv("GIT_TFS_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lock.Timeout = d
		}
	}
	if v := os.Getenv("GIT_TFS_MAX_LOCK_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lock.MaxAge = d
		}
	}
}

// SkipPrecheckinFetchFromEnv reports whether GIT_TFS_SKIP_PRECHECKIN_FETCH
// is set to a truthy value, per the spec's environment-variable contract.
func SkipPrecheckinFetchFromEnv() bool {
	v := strings.ToLower(os.Getenv("GIT_TFS_SKIP_PRECHECKIN_FETCH"))
	switch v {
	case "1", "true", "yes", "on":
		return true
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n != 0
	}
	return false
}

// Descriptors converts the loaded RemoteSettings into RemoteResolver
// descriptors.
func (c *Config) Descriptors() []remoteresolver.Descriptor {
	out := make([]remoteresolver.Descriptor, 0, len(c.Remotes))
	for _, r := range c.Remotes {
		out = append(out, remoteresolver.Descriptor{
			ID:                r.ID,
			TFSURL:            r.TFSURL,
			TFSRepositoryPath: r.TFSRepositoryPath,
			LegacyURLs:        r.LegacyURLs,
			RemoteRef:         r.RemoteRef,
			MaxChangesetID:    r.MaxChangesetID,
			MaxCommitHash:     r.MaxCommitHash,
		})
	}
	return out
}

// LockFilePath resolves the directory LockCoordinator stores its lock
// files in, relative to the workspace root unless an absolute override is
// configured.
func (c *Config) LockFilePath() string {
	if filepath.IsAbs(c.Lock.LockFile) {
		return c.Lock.LockFile
	}
	return filepath.Join(c.Workspace.Root, c.Lock.LockFile)
}
