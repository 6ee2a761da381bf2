package security

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is the sweep cadence used when none is configured.
const DefaultSweepInterval = 5 * time.Minute

// SessionPruner prunes expired session rows; implemented by the postgres
// session repository.
type SessionPruner interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Sweeper periodically evicts expired blacklist entries, stale lockout
// counters, and expired session rows. It runs off the request path and every
// pass is idempotent, so overlapping or redundant runs are harmless.
type Sweeper struct {
	blacklist *Blacklist
	lockout   *LockoutTracker
	sessions  SessionPruner
	interval  time.Duration
	logger    *slog.Logger
}

// NewSweeper creates a sweeper over the given stores. sessions may be nil
// when session pruning is handled elsewhere.
func NewSweeper(b *Blacklist, l *LockoutTracker, sessions SessionPruner, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		blacklist: b,
		lockout:   l,
		sessions:  sessions,
		interval:  interval,
		logger:    logger,
	}
}

// Run sweeps on the configured interval until the context is canceled. It is
// intended to be launched as a goroutine from the application wiring.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("maintenance sweeper started",
		slog.Duration("interval", s.interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance sweeper stopped")
			return
		case <-ticker.C:
			s.Trigger(ctx)
		}
	}
}

// SweepResult reports what one pass removed.
type SweepResult struct {
	BlacklistEvicted int   `json:"blacklist_evicted"`
	LockoutsRemoved  int   `json:"lockouts_removed"`
	SessionsPruned   int64 `json:"sessions_pruned"`
}

// Trigger runs one sweep pass immediately. Used by the interval loop and by
// the admin cleanup endpoint. A session-prune failure is logged and does not
// abort the in-memory evictions.
func (s *Sweeper) Trigger(ctx context.Context) SweepResult {
	res := SweepResult{
		BlacklistEvicted: s.blacklist.EvictExpired(),
		LockoutsRemoved:  s.lockout.Sweep(),
	}

	if s.sessions != nil {
		pruned, err := s.sessions.DeleteExpired(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "session prune failed",
				slog.String("error", err.Error()),
			)
		} else {
			res.SessionsPruned = pruned
		}
	}

	if res.BlacklistEvicted > 0 || res.LockoutsRemoved > 0 || res.SessionsPruned > 0 {
		s.logger.InfoContext(ctx, "sweep completed",
			slog.Int("blacklist_evicted", res.BlacklistEvicted),
			slog.Int("lockouts_removed", res.LockoutsRemoved),
			slog.Int64("sessions_pruned", res.SessionsPruned),
		)
	}

	return res
}
