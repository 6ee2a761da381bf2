package security

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBlacklist(clock *fakeClock) *Blacklist {
	b := NewBlacklist()
	b.now = clock.Now
	return b
}

func TestBlacklist_RevokeThenIsRevoked(t *testing.T) {
	clock := newFakeClock()
	b := newTestBlacklist(clock)

	b.Revoke("jti-1", clock.Now().Add(time.Hour))

	assert.True(t, b.IsRevoked("jti-1"))
	assert.False(t, b.IsRevoked("jti-2"))
	assert.Equal(t, 1, b.Size())
}

func TestBlacklist_EntryExpiresWithToken(t *testing.T) {
	clock := newFakeClock()
	b := newTestBlacklist(clock)

	b.Revoke("jti-1", clock.Now().Add(time.Hour))
	require.True(t, b.IsRevoked("jti-1"))

	clock.Advance(time.Hour + time.Second)

	// Past natural expiry the entry no longer rejects, and the lookup
	// drops it.
	assert.False(t, b.IsRevoked("jti-1"))
	assert.Equal(t, 0, b.Size())
}

func TestBlacklist_RevokeExpiredTokenIsNoop(t *testing.T) {
	clock := newFakeClock()
	b := newTestBlacklist(clock)

	b.Revoke("jti-1", clock.Now().Add(-time.Minute))

	assert.Equal(t, 0, b.Size())
	assert.False(t, b.IsRevoked("jti-1"))
}

func TestBlacklist_RevokeEmptyIDIsNoop(t *testing.T) {
	clock := newFakeClock()
	b := newTestBlacklist(clock)

	b.Revoke("", clock.Now().Add(time.Hour))

	assert.Equal(t, 0, b.Size())
}

func TestBlacklist_EvictExpired(t *testing.T) {
	clock := newFakeClock()
	b := newTestBlacklist(clock)

	b.Revoke("jti-short", clock.Now().Add(30*time.Minute))
	b.Revoke("jti-long", clock.Now().Add(2*time.Hour))

	// Sweep before any expiry removes nothing.
	assert.Equal(t, 0, b.EvictExpired())

	clock.Advance(time.Hour)
	assert.Equal(t, 1, b.EvictExpired())
	assert.Equal(t, 1, b.Size())
	assert.True(t, b.IsRevoked("jti-long"))

	// Idempotent: immediate second sweep removes nothing more.
	assert.Equal(t, 0, b.EvictExpired())
}

func TestBlacklist_RevokedAcrossConcurrentCallers(t *testing.T) {
	clock := newFakeClock()
	b := newTestBlacklist(clock)

	b.Revoke("jti-1", clock.Now().Add(time.Hour))

	var wg sync.WaitGroup
	results := make([]bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = b.IsRevoked("jti-1")
		}(i)
	}
	wg.Wait()

	for i, revoked := range results {
		assert.True(t, revoked, "caller %d saw the token as not revoked", i)
	}
}

func TestBlacklist_ConcurrentRevokeAndEvict(t *testing.T) {
	clock := newFakeClock()
	b := newTestBlacklist(clock)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("jti-%d-%d", g, i)
				b.Revoke(id, clock.Now().Add(time.Hour))
				b.IsRevoked(id)
			}
		}(g)
	}
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				b.EvictExpired()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, b.Size())
}

func TestBlacklist_Stats(t *testing.T) {
	clock := newFakeClock()
	b := newTestBlacklist(clock)

	b.Revoke("jti-1", clock.Now().Add(time.Hour))
	b.IsRevoked("jti-1")
	b.IsRevoked("jti-1")
	b.IsRevoked("jti-missing")

	s := b.Stats()
	assert.Equal(t, 1, s.Size)
	assert.Equal(t, uint64(3), s.Lookups)
	assert.Equal(t, uint64(2), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.InDelta(t, 2.0/3.0, s.HitRate, 1e-9)
	assert.InDelta(t, 1.0/3.0, s.MissRate, 1e-9)
}

func TestBlacklist_StatsEmpty(t *testing.T) {
	b := NewBlacklist()

	s := b.Stats()
	assert.Zero(t, s.Lookups)
	assert.Zero(t, s.HitRate)
	assert.Zero(t, s.MissRate)
}
