// Package security holds the process-wide concurrent state that guards the
// authentication path: the token revocation blacklist, the failed-login
// lockout tracker, the background sweeper that bounds their memory, and the
// lock-free stats exposed to the admin surface.
package security

import (
	"sync"
	"sync/atomic"
	"time"
)

// Blacklist is a concurrent set of revoked token identifiers, each bounded by
// the natural expiry of the token it represents. Entries never outlive their
// token: lookups skip expired entries lazily and the sweeper evicts them.
//
// Per-key operations are linearizable (sync.Map read-after-write visibility);
// there is no ordering guarantee across distinct keys, which callers do not
// need.
type Blacklist struct {
	entries sync.Map // token id -> expiry (UnixNano)

	lookups atomic.Uint64
	hits    atomic.Uint64
	misses  atomic.Uint64
	size    atomic.Int64

	now func() time.Time
}

// NewBlacklist creates an empty blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{now: func() time.Time { return time.Now().UTC() }}
}

// Revoke marks the token identifier as rejected until its natural expiry.
// Revoking an already-expired token is a no-op.
func (b *Blacklist) Revoke(tokenID string, naturalExpiry time.Time) {
	if tokenID == "" || !naturalExpiry.After(b.now()) {
		return
	}
	if _, loaded := b.entries.Swap(tokenID, naturalExpiry.UnixNano()); !loaded {
		b.size.Add(1)
	}
}

// IsRevoked reports whether the token identifier has been revoked and its
// natural expiry has not yet passed. Expired entries are dropped on sight.
func (b *Blacklist) IsRevoked(tokenID string) bool {
	b.lookups.Add(1)

	v, ok := b.entries.Load(tokenID)
	if !ok {
		b.misses.Add(1)
		return false
	}

	if b.now().UnixNano() >= v.(int64) {
		// The token expired naturally; the entry is garbage now.
		if b.entries.CompareAndDelete(tokenID, v) {
			b.size.Add(-1)
		}
		b.misses.Add(1)
		return false
	}

	b.hits.Add(1)
	return true
}

// EvictExpired removes every entry whose natural expiry has passed and
// returns the number removed. Safe to run concurrently with Revoke/IsRevoked
// and idempotent: a second immediate call removes nothing.
func (b *Blacklist) EvictExpired() int {
	cutoff := b.now().UnixNano()
	removed := 0
	b.entries.Range(func(key, value any) bool {
		if cutoff >= value.(int64) {
			if b.entries.CompareAndDelete(key, value) {
				b.size.Add(-1)
				removed++
			}
		}
		return true
	})
	return removed
}

// Size returns the current number of entries, including any not yet evicted
// whose expiry has just passed.
func (b *Blacklist) Size() int {
	if n := b.size.Load(); n > 0 {
		return int(n)
	}
	return 0
}

// BlacklistStats is an advisory snapshot of blacklist activity. The counters
// never influence eviction decisions.
type BlacklistStats struct {
	Size     int     `json:"size"`
	Lookups  uint64  `json:"lookups"`
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	HitRate  float64 `json:"hit_rate"`
	MissRate float64 `json:"miss_rate"`
}

// Stats returns a point-in-time snapshot of the lookup counters. The three
// counters are read independently, so a snapshot taken under write load may
// be off by a handful of in-flight lookups.
func (b *Blacklist) Stats() BlacklistStats {
	s := BlacklistStats{
		Size:    b.Size(),
		Lookups: b.lookups.Load(),
		Hits:    b.hits.Load(),
		Misses:  b.misses.Load(),
	}
	if s.Lookups > 0 {
		s.HitRate = float64(s.Hits) / float64(s.Lookups)
		s.MissRate = float64(s.Misses) / float64(s.Lookups)
	}
	return s
}
