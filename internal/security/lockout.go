package security

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults applied when LockoutConfig fields are zero.
const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 15 * time.Minute
)

// LockoutConfig controls the failed-login threshold and lockout window.
type LockoutConfig struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// lockoutEntry tracks consecutive failures for one account key. count and
// lockedUntil are only ever touched atomically; lastFailure is advisory and
// used by the sweep to drop stale entries.
type lockoutEntry struct {
	count       atomic.Int64
	lockedUntil atomic.Int64 // UnixNano; 0 = not locked
	lastFailure atomic.Int64 // UnixNano
}

// LockoutTracker counts consecutive failed authentication attempts per
// account and temporarily blocks further attempts once the configured
// threshold is crossed.
//
// Keys are account identifiers (lower-cased email). Keying by source IP was
// deliberately rejected: shared NATs would penalize legitimate users and an
// attacker rotating addresses bypasses it anyway.
type LockoutTracker struct {
	entries sync.Map // account key -> *lockoutEntry
	tracked atomic.Int64

	maxAttempts int
	duration    time.Duration

	now func() time.Time
}

// NewLockoutTracker creates a tracker with the given thresholds, applying
// defaults for zero values.
func NewLockoutTracker(cfg LockoutConfig) *LockoutTracker {
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = DefaultMaxFailedAttempts
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = DefaultLockoutDuration
	}
	return &LockoutTracker{
		maxAttempts: cfg.MaxFailedAttempts,
		duration:    cfg.LockoutDuration,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// normalizeKey canonicalizes an account identifier for counting.
func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// RecordFailure atomically increments the failure count for the key and
// returns the new count. Crossing the threshold sets the locked-until
// timestamp exactly once per window: concurrent failures racing at the
// threshold cannot shorten or double-extend the lock.
func (t *LockoutTracker) RecordFailure(key string) int {
	key = normalizeKey(key)
	if key == "" {
		return 0
	}

	v, loaded := t.entries.Load(key)
	if !loaded {
		v, loaded = t.entries.LoadOrStore(key, &lockoutEntry{})
		if !loaded {
			t.tracked.Add(1)
		}
	}
	e := v.(*lockoutEntry)

	now := t.now()
	count := e.count.Add(1)
	e.lastFailure.Store(now.UnixNano())

	if count >= int64(t.maxAttempts) {
		// Only the first threshold-crossing in a window sets the lock; an
		// already-locked account keeps its original expiry. A timestamp left
		// over from an elapsed window counts as clear, so a fresh window of
		// failures locks again even when no query touched the key in between.
		nowNano := now.UnixNano()
		lockUntil := now.Add(t.duration).UnixNano()
		for {
			until := e.lockedUntil.Load()
			if until > nowNano {
				break
			}
			if e.lockedUntil.CompareAndSwap(until, lockUntil) {
				break
			}
		}
	}

	return int(count)
}

// RecordSuccess clears all failure state for the key. A successful login
// always resets prior failures.
func (t *LockoutTracker) RecordSuccess(key string) {
	key = normalizeKey(key)
	if _, loaded := t.entries.LoadAndDelete(key); loaded {
		t.tracked.Add(-1)
	}
}

// IsLocked reports whether the key is currently locked out. Once the window
// elapses the account is implicitly unlocked; no explicit event is required.
func (t *LockoutTracker) IsLocked(key string) bool {
	return t.RemainingLockout(key) > 0
}

// RemainingLockout returns how long the key stays locked, or 0 when it is not
// locked. An elapsed lock also resets the failure count so the next window
// starts from zero.
func (t *LockoutTracker) RemainingLockout(key string) time.Duration {
	key = normalizeKey(key)
	v, ok := t.entries.Load(key)
	if !ok {
		return 0
	}
	e := v.(*lockoutEntry)

	until := e.lockedUntil.Load()
	if until == 0 {
		return 0
	}

	remaining := time.Duration(until - t.now().UnixNano())
	if remaining <= 0 {
		// Window elapsed: clear the lock for the next round of counting.
		// The count reset only fires when the count still matches the value
		// observed before the transition, so a failure recorded while the
		// unlock is being published is never erased.
		c := e.count.Load()
		if e.lockedUntil.CompareAndSwap(until, 0) {
			e.count.CompareAndSwap(c, 0)
		}
		return 0
	}
	return remaining
}

// Threshold returns the configured failure threshold.
func (t *LockoutTracker) Threshold() int {
	return t.maxAttempts
}

// FailureCount returns the current consecutive-failure count for the key.
func (t *LockoutTracker) FailureCount(key string) int {
	if v, ok := t.entries.Load(normalizeKey(key)); ok {
		return int(v.(*lockoutEntry).count.Load())
	}
	return 0
}

// Unlock clears the lock and failure count for the key ahead of the window,
// for administrative use.
func (t *LockoutTracker) Unlock(key string) {
	t.RecordSuccess(key)
}

// Sweep removes entries that are neither locked nor recently failed (last
// failure older than one lockout window) and returns the number removed.
// Idempotent and safe concurrently with all other operations.
func (t *LockoutTracker) Sweep() int {
	cutoff := t.now().Add(-t.duration).UnixNano()
	nowNano := t.now().UnixNano()
	removed := 0

	t.entries.Range(func(key, value any) bool {
		e := value.(*lockoutEntry)
		if e.lockedUntil.Load() > nowNano {
			return true
		}
		if e.lastFailure.Load() > cutoff {
			return true
		}
		if t.entries.CompareAndDelete(key, value) {
			t.tracked.Add(-1)
			removed++
		}
		return true
	})

	return removed
}

// LockoutStats is a snapshot of tracker state for the admin surface.
type LockoutStats struct {
	TrackedKeys     int   `json:"tracked_keys"`
	LockedKeys      int   `json:"locked_keys"`
	FailedCount     int64 `json:"failed_count"`
	Threshold       int   `json:"threshold"`
	DurationMinutes int   `json:"duration_minutes"`
}

// Stats walks the tracked entries and aggregates current counts.
func (t *LockoutTracker) Stats() LockoutStats {
	s := LockoutStats{
		Threshold:       t.maxAttempts,
		DurationMinutes: int(t.duration / time.Minute),
	}
	nowNano := t.now().UnixNano()
	t.entries.Range(func(_, value any) bool {
		e := value.(*lockoutEntry)
		s.TrackedKeys++
		s.FailedCount += e.count.Load()
		if e.lockedUntil.Load() > nowNano {
			s.LockedKeys++
		}
		return true
	})
	return s
}
