// Package lock implements MAOC's advisory path locks: a directory
// created by an exclusive mkdir is the lock, matching the same
// exclusive-create-then-rename discipline this codebase's state
// directories use for phase transitions. No OS-level file lock (flock)
// is involved, so a crashed holder never leaves a kernel-held lock
// behind — only a directory, reclaimed once its TTL elapses.
//
// Acquisition is not FIFO: contenders retry independently and whichever
// mkdir lands first after a release wins.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultTTL is the stale-lock threshold.
	DefaultTTL = 5 * time.Minute

	infoFile = "info.json"
)

// Info is the metadata written inside a lock directory on acquisition.
type Info struct {
	Holder     string `json:"holder"`
	AcquiredNS int64  `json:"acquired_ns"`
	Purpose    string `json:"purpose"`
	Path       string `json:"path"`
}

// Lease represents a held lock. The zero value is not a valid lease.
type Lease struct {
	Digest string
	Info   Info
	dir    string
}

// Manager acquires and releases leases under a single locks directory.
type Manager struct {
	dir string
	ttl time.Duration
}

// New returns a Manager rooted at locksDir. ttl <= 0 uses DefaultTTL.
func New(locksDir string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{dir: locksDir, ttl: ttl}
}

// Canonicalize resolves a path to a stable key: symlinks are followed
// where possible; if the path does not exist yet (a common case for a
// write target), it falls back to a cleaned absolute form. This is the
// one documented symlink policy MAOC commits to — deterministic within
// a single host, not necessarily across hosts with different mounts.
func Canonicalize(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	if abs, err := filepath.Abs(path); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(path)
}

// Digest returns the lock key for a canonicalized path.
func Digest(canonicalPath string) string {
	sum := sha256.Sum256([]byte(canonicalPath))
	return hex.EncodeToString(sum[:])
}

// TryAcquire attempts a single, non-blocking acquisition.
func (m *Manager) TryAcquire(path, holder, purpose string) (*Lease, error) {
	return m.Acquire(context.Background(), path, holder, purpose, 0)
}

// Acquire attempts to obtain a lease on path, retrying with exponential
// backoff until timeout elapses. timeout <= 0 behaves as TryAcquire: a
// single attempt with at most one stale-reclaim step.
func (m *Manager) Acquire(ctx context.Context, path, holder, purpose string, timeout time.Duration) (*Lease, error) {
	canonical := Canonicalize(path)
	digest := Digest(canonical)
	lockDir := filepath.Join(m.dir, digest)

	if timeout <= 0 {
		return m.attemptOnce(lockDir, digest, canonical, holder, purpose)
	}

	deadline := time.Now().Add(timeout)
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 200 * time.Millisecond
	bo.RandomizationFactor = 0.2
	bo.Multiplier = 2
	bo.MaxElapsedTime = timeout

	for {
		lease, err := m.attemptOnce(lockDir, digest, canonical, holder, purpose)
		if err == nil {
			return lease, nil
		}
		if err != ErrContention {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return nil, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// attemptOnce performs exactly one mkdir attempt, with at most one
// stale-reclaim step if the directory already exists and its metadata
// indicates the holder has exceeded the TTL.
func (m *Manager) attemptOnce(lockDir, digest, canonical, holder, purpose string) (*Lease, error) {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return nil, fmt.Errorf("lock: ensure locks dir: %w", err)
	}

	if err := os.Mkdir(lockDir, 0o700); err == nil {
		return m.writeLease(lockDir, digest, canonical, holder, purpose)
	} else if !os.IsExist(err) {
		return nil, fmt.Errorf("lock: mkdir: %w", err)
	}

	// EEXIST: check for staleness, reclaim at most once.
	info, readErr := readInfo(lockDir)
	if readErr != nil || m.isStale(info) {
		_ = os.RemoveAll(lockDir)
		if err := os.Mkdir(lockDir, 0o700); err == nil {
			return m.writeLease(lockDir, digest, canonical, holder, purpose)
		}
	}

	return nil, ErrContention
}

func (m *Manager) isStale(info Info) bool {
	if info.AcquiredNS == 0 {
		return true
	}
	age := time.Since(time.Unix(0, info.AcquiredNS))
	return age > m.ttl
}

func (m *Manager) writeLease(lockDir, digest, canonical, holder, purpose string) (*Lease, error) {
	info := Info{
		Holder:     holder,
		AcquiredNS: time.Now().UnixNano(),
		Purpose:    purpose,
		Path:       canonical,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("lock: marshal info: %w", err)
	}
	if err := os.WriteFile(filepath.Join(lockDir, infoFile), data, 0o600); err != nil {
		_ = os.RemoveAll(lockDir)
		return nil, fmt.Errorf("lock: write info: %w", err)
	}
	return &Lease{Digest: digest, Info: info, dir: lockDir}, nil
}

func readInfo(lockDir string) (Info, error) {
	var info Info
	data, err := os.ReadFile(filepath.Join(lockDir, infoFile))
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, err
	}
	return info, nil
}

// Release removes the lease's lock directory. Releasing a lease that
// was already reclaimed as stale (and possibly re-acquired by another
// holder) is a no-op: it never removes a directory it doesn't still own.
func (m *Manager) Release(lease *Lease) error {
	if lease == nil {
		return nil
	}
	current, err := readInfo(lease.dir)
	if err != nil {
		// Already gone or corrupted: nothing to release.
		return nil
	}
	if current.AcquiredNS != lease.Info.AcquiredNS || current.Holder != lease.Info.Holder {
		// Reclaimed by someone else since we acquired it: no-op.
		return nil
	}
	return os.RemoveAll(lease.dir)
}

// ReleaseByHolder releases the lease on path if and only if its current
// holder matches. Unlike Release, this does not require an in-process
// Lease value, so a later invocation of the (short-lived, per-hook-event)
// process can release a lease a prior invocation acquired, as long as it
// knows the path and the holder identity it used.
func (m *Manager) ReleaseByHolder(path, holder string) error {
	canonical := Canonicalize(path)
	lockDir := filepath.Join(m.dir, Digest(canonical))
	info, err := readInfo(lockDir)
	if err != nil {
		return nil
	}
	if info.Holder != holder {
		return nil
	}
	return os.RemoveAll(lockDir)
}

// AnyHeldUnder reports whether any live (non-stale) lease's recorded path
// falls under prefix, used by the Reaper to refuse removing a workspace
// that a lease still references.
func (m *Manager) AnyHeldUnder(prefix string) bool {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		lockDir := filepath.Join(m.dir, e.Name())
		info, err := readInfo(lockDir)
		if err != nil || m.isStale(info) {
			continue
		}
		if strings.HasPrefix(info.Path, prefix) {
			return true
		}
	}
	return false
}

// Holder returns the current holder recorded for path's lease, if any.
func (m *Manager) Holder(path string) (string, bool) {
	canonical := Canonicalize(path)
	lockDir := filepath.Join(m.dir, Digest(canonical))
	info, err := readInfo(lockDir)
	if err != nil || info.Holder == "" {
		return "", false
	}
	return info.Holder, true
}

// CleanupStale removes every lock directory whose metadata is stale or
// unreadable, and returns the count reclaimed.
func (m *Manager) CleanupStale() (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("lock: read locks dir: %w", err)
	}

	count := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		lockDir := filepath.Join(m.dir, e.Name())
		info, err := readInfo(lockDir)
		if err != nil || m.isStale(info) {
			if rmErr := os.RemoveAll(lockDir); rmErr == nil {
				count++
			}
		}
	}
	return count, nil
}
