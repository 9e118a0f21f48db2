// internal/lanelock/lanelock.go
//
// Lane Lock Manager (spec.md §4.3): create-exclusive lockfile per lane with
// pid/hostname/timestamp, enforcing WIP=1. No direct teacher analog exists
// (the teacher's own locks are cooperative marker files, not
// process-liveness records) so the liveness mechanics are grounded on the
// shared internal/lockfile primitive, and the directory layout follows
// internal/config's bootstrap idiom.

package lanelock

import (
	"fmt"
	"os"
	"time"

	"github.com/lumenflow/lumenflow/internal/lockfile"
	"github.com/lumenflow/lumenflow/internal/paths"
)

// defaultStaleTimeout is the cross-host wall-clock window from spec.md §4.3
// ("default 24h configurable").
const defaultStaleTimeout = 24 * time.Hour

// Manager enforces per-lane mutual exclusion.
type Manager struct {
	layout       *paths.Layout
	staleTimeout time.Duration
}

// Option customizes a Manager.
type Option func(*Manager)

// WithStaleTimeout overrides the default 24h cross-host staleness window.
func WithStaleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.staleTimeout = d
		}
	}
}

// New builds a Manager rooted at layout.
func New(layout *paths.Layout, opts ...Option) *Manager {
	m := &Manager{layout: layout, staleTimeout: defaultStaleTimeout}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LockStatus reports a lane's lock state without modifying it.
type LockStatus struct {
	Locked bool
	Record lockfile.Record
}

// Acquire writes a lock record for lane owned by wuID. Fails with
// lockfile.ErrHeld if a live, non-stale lock exists for a different WU.
// When it forcibly takes over a stale lock, it returns the record that was
// overwritten (nil otherwise) so the caller can emit the warning spec.md
// §4.3 requires ("Stale locks may be forcibly taken over, emitting a
// warning.") — Acquire itself holds no logger, so it hands the record back
// rather than swallowing it.
func (m *Manager) Acquire(lane, wuID string) (*lockfile.Record, error) {
	path := m.layout.LockPath(lane)
	prev, err := lockfile.Acquire(path, wuID, m.staleTimeout)
	if err != nil {
		return nil, fmt.Errorf("lanelock: acquire %q for %s: %w", lane, wuID, err)
	}
	if prev != nil && prev.Owner != "" {
		return prev, nil
	}
	return nil, nil
}

// Release removes the lock for lane if currently held by wuID.
func (m *Manager) Release(lane, wuID string) error {
	if err := lockfile.Release(m.layout.LockPath(lane), wuID); err != nil {
		return fmt.Errorf("lanelock: release %q for %s: %w", lane, wuID, err)
	}
	return nil
}

// Check reports the lane's current lock status without mutating it.
func (m *Manager) Check(lane string) (LockStatus, error) {
	rec, err := lockfile.Read(m.layout.LockPath(lane))
	if err != nil {
		if os.IsNotExist(err) {
			return LockStatus{Locked: false}, nil
		}
		return LockStatus{}, fmt.Errorf("lanelock: check %q: %w", lane, err)
	}
	live := lockfile.IsLive(rec, m.staleTimeout)
	return LockStatus{Locked: live, Record: rec}, nil
}
