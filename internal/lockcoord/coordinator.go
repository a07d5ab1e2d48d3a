package lockcoord

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/LorenDorez/git-tfs/internal/errs"
)

// ErrInvalidTimeout is returned when the caller asks for a timeout longer
// than maxLockAge - honoring it could mean waiting past the point at which
// the lock we're waiting on is itself eligible for eviction, which is
// nonsensical.
var ErrInvalidTimeout = errors.New("lockcoord: timeout must not exceed max lock age")

// pollInterval is how often TryAcquire retries while waiting on a held
// lock. It is a constant rather than a Coordinator field because no caller
// in the sync engine needs it configurable; tests use short lock ages
// instead of a short poll interval to keep runtime bounded.
const pollInterval = 1 * time.Second

// Coordinator acquires and releases named locks as sibling files under dir.
// A lock named "workspace-foo" lives at dir/workspace-foo.lock.
type Coordinator struct {
	dir     string
	watcher *fsnotify.Watcher
}

// New returns a Coordinator storing lock files under dir, creating dir if
// it does not already exist. It also opens an fsnotify watcher on dir so
// TryAcquire can wake as soon as a contended lock is released instead of
// waiting out a full poll interval; a watcher that fails to open (e.g. the
// platform's inotify instance limit is exhausted) is not fatal - TryAcquire
// falls back to plain polling.
func New(dir string) (*Coordinator, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.Wrap(errs.KindLockStorageDown, "create lock directory", err)
	}

	c := &Coordinator{dir: dir}
	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(dir); err == nil {
			c.watcher = w
		} else {
			w.Close()
		}
	}
	return c, nil
}

// Close releases the coordinator's file-watching resources. Safe to call on
// a Coordinator whose watcher failed to start.
func (c *Coordinator) Close() error {
	if c.watcher == nil {
		return nil
	}
	return c.watcher.Close()
}

func (c *Coordinator) path(name string) string {
	return filepath.Join(c.dir, name+".lock")
}

// TryAcquire attempts to create the named lock, retrying until timeout
// elapses or a stale holder is evicted out of its way. info is recorded
// so a concurrent caller's GetInfo can report who holds the lock and since
// when. It returns an *errs.SyncError of KindLockContention if timeout
// elapses with the lock still held by a live record, or KindInvalidArguments
// if timeout exceeds maxAge.
func (c *Coordinator) TryAcquire(name string, timeout, maxAge time.Duration, info Record) error {
	if timeout > maxAge {
		return errs.New(errs.KindInvalidArguments,
			fmt.Sprintf("lock timeout %s exceeds max lock age %s", timeout, maxAge))
	}

	info.Hostname = hostname()
	if info.ProcessID == 0 {
		info.ProcessID = os.Getpid()
	}
	if info.AcquiredAt.IsZero() {
		info.AcquiredAt = time.Now()
	}
	if info.PipelineID == "" {
		// Outside CI there is no BUILD_BUILDID to correlate a lock
		// acquisition with; stamp one so GetInfo output is still
		// traceable across a run's log lines.
		info.PipelineID = uuid.NewString()
	}

	deadline := time.Now().Add(timeout)
	path := c.path(name)

	for {
		err := writeExclusive(path, info.Serialize())
		if err == nil {
			return nil
		}
		if !os.IsExist(err) {
			return errs.Wrap(errs.KindLockStorageDown, "create lock file", err)
		}

		evicted, evictErr := c.evictIfStale(name, maxAge)
		if evictErr != nil {
			return evictErr
		}
		if evicted {
			continue
		}

		if time.Now().After(deadline) {
			held, _ := c.GetInfo(name)
			return errs.New(errs.KindLockContention,
				fmt.Sprintf("lock %q held by %s since %s", name, held.AcquiredBy, held.AcquiredAt.UTC().Format(time.RFC3339))).
				WithRecommendations(
					"wait for the other sync run to finish",
					fmt.Sprintf("inspect with GetInfo(%q) to confirm the holder is still running", name),
					fmt.Sprintf("force-unlock only if certain the holder (pid %d on %s) is dead", held.ProcessID, held.Hostname),
				)
		}

		c.waitForChange(path, deadline)
	}
}

// waitForChange blocks until path's directory reports an fsnotify event,
// pollInterval elapses, or deadline passes - whichever comes first. With no
// usable watcher it degrades to a plain sleep.
func (c *Coordinator) waitForChange(path string, deadline time.Time) {
	wait := pollInterval
	if remaining := time.Until(deadline); remaining < wait {
		wait = remaining
	}
	if c.watcher == nil {
		time.Sleep(wait)
		return
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if ev.Name == path && (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) {
				return
			}
		case <-c.watcher.Errors:
			return
		case <-timer.C:
			return
		}
		if time.Now().After(deadline) {
			return
		}
	}
}

// writeExclusive creates path only if it does not already exist, writing
// body atomically relative to any concurrent creator - the guarantee the
// whole package depends on.
func writeExclusive(path, body string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(body)
	return err
}

// evictIfStale removes name's lock file if its record is older than maxAge,
// or if the record is unreadable/corrupt for longer than maxAge as measured
// by the file's own modification time. Returns whether it evicted anything.
func (c *Coordinator) evictIfStale(name string, maxAge time.Duration) (bool, error) {
	path := c.path(name)

	st, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(errs.KindLockStorageDown, "stat lock file", err)
	}

	rec, parseErr := c.GetInfo(name)
	stale := false
	if parseErr == nil {
		stale = rec.IsStale(maxAge)
	} else {
		stale = time.Since(st.ModTime()) > maxAge
	}

	if !stale {
		return false, nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, errs.Wrap(errs.KindLockStorageDown, "evict stale lock", err)
	}
	return true, nil
}

// Release removes the named lock. Releasing a lock that does not exist is
// not an error - a second Release after a successful one (defensive
// cleanup code in SyncOrchestrator) must be safe.
func (c *Coordinator) Release(name string) error {
	err := os.Remove(c.path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errs.Wrap(errs.KindLockStorageDown, "release lock", err)
	}
	return nil
}

// ForceUnlock removes the named lock regardless of its age or holder,
// for operator use when a holder is known to be dead (e.g. the orchestrator
// process was killed -9 and the agent evicting it is a different workspace).
func (c *Coordinator) ForceUnlock(name string) error {
	return c.Release(name)
}

// IsStale reports whether the named lock is currently held by a record
// older than maxAge. A missing lock is not stale - there is nothing to
// evict.
func (c *Coordinator) IsStale(name string, maxAge time.Duration) (bool, error) {
	rec, err := c.GetInfo(name)
	if err != nil {
		if errors.Is(err, ErrNotHeld) {
			return false, nil
		}
		return false, err
	}
	return rec.IsStale(maxAge), nil
}

// ErrNotHeld is returned by GetInfo when the named lock does not exist.
var ErrNotHeld = errors.New("lockcoord: lock not held")

// GetInfo reads the record for the named lock without affecting its
// lifetime. Used by diagnostics (`sync status`-style tooling) and by
// TryAcquire when composing a contention error message.
func (c *Coordinator) GetInfo(name string) (Record, error) {
	data, err := os.ReadFile(c.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, ErrNotHeld
	}
	if err != nil {
		return Record{}, errs.Wrap(errs.KindLockStorageDown, "read lock file", err)
	}

	rec, parseErr := ParseRecord(string(data))
	if parseErr != nil {
		// An unreadable or corrupt record is treated as no lock held at
		// all, per ParseRecord's own documented contract: a half-written
		// file from a crashed holder must not look like a valid claim.
		return Record{}, ErrNotHeld
	}
	return rec, nil
}
