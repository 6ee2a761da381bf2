package security

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StatsSnapshot is the read-only view of the security counters served to the
// admin reporting endpoint.
type StatsSnapshot struct {
	Blacklist BlacklistStats     `json:"blacklist"`
	Lockout   LockoutStats       `json:"lockout"`
	Queries   QueryStatsSnapshot `json:"queries"`
}

// StatsAggregator combines the counters of the concurrent stores into
// snapshots. It holds references only; all state lives in the stores.
type StatsAggregator struct {
	blacklist *Blacklist
	lockout   *LockoutTracker
	queries   *QueryStats
}

// NewStatsAggregator creates an aggregator over the given stores.
func NewStatsAggregator(b *Blacklist, l *LockoutTracker, q *QueryStats) *StatsAggregator {
	return &StatsAggregator{blacklist: b, lockout: l, queries: q}
}

// Snapshot reads all counters. Each store is snapshotted independently, so
// the combined view is not a single atomic cut across stores.
func (a *StatsAggregator) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Blacklist: a.blacklist.Stats(),
		Lockout:   a.lockout.Stats(),
		Queries:   a.queries.Snapshot(),
	}
}

// Collector implements prometheus.Collector over the security counters so
// the same numbers served to the admin endpoint appear on /metrics.
type Collector struct {
	agg     *StatsAggregator
	service string

	blacklistSize    *prometheus.Desc
	blacklistLookups *prometheus.Desc
	blacklistHits    *prometheus.Desc
	blacklistMisses  *prometheus.Desc
	lockedAccounts   *prometheus.Desc
	trackedAccounts  *prometheus.Desc
	failedAttempts   *prometheus.Desc
	queryCount       *prometheus.Desc
	querySlowCount   *prometheus.Desc
	queryMaxSeconds  *prometheus.Desc
}

// NewCollector creates a Prometheus collector over the aggregator.
func NewCollector(agg *StatsAggregator, service string) *Collector {
	labels := []string{"service"}
	return &Collector{
		agg:     agg,
		service: service,
		blacklistSize: prometheus.NewDesc(
			"auth_blacklist_entries",
			"Number of revoked tokens currently tracked",
			labels, nil,
		),
		blacklistLookups: prometheus.NewDesc(
			"auth_blacklist_lookups_total",
			"Total blacklist membership checks",
			labels, nil,
		),
		blacklistHits: prometheus.NewDesc(
			"auth_blacklist_hits_total",
			"Blacklist checks that rejected a revoked token",
			labels, nil,
		),
		blacklistMisses: prometheus.NewDesc(
			"auth_blacklist_misses_total",
			"Blacklist checks that found no revocation",
			labels, nil,
		),
		lockedAccounts: prometheus.NewDesc(
			"auth_locked_accounts",
			"Accounts currently under lockout",
			labels, nil,
		),
		trackedAccounts: prometheus.NewDesc(
			"auth_lockout_tracked_accounts",
			"Accounts with at least one recent failed login",
			labels, nil,
		),
		failedAttempts: prometheus.NewDesc(
			"auth_lockout_failed_attempts",
			"Sum of consecutive failed attempts across tracked accounts",
			labels, nil,
		),
		queryCount: prometheus.NewDesc(
			"auth_repository_calls_total",
			"Total session repository calls observed",
			labels, nil,
		),
		querySlowCount: prometheus.NewDesc(
			"auth_repository_slow_calls_total",
			"Session repository calls slower than the configured threshold",
			labels, nil,
		),
		queryMaxSeconds: prometheus.NewDesc(
			"auth_repository_call_max_seconds",
			"Slowest session repository call observed",
			labels, nil,
		),
	}
}

// Describe sends the descriptors of all metrics to the provided channel.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.blacklistSize
	ch <- c.blacklistLookups
	ch <- c.blacklistHits
	ch <- c.blacklistMisses
	ch <- c.lockedAccounts
	ch <- c.trackedAccounts
	ch <- c.failedAttempts
	ch <- c.queryCount
	ch <- c.querySlowCount
	ch <- c.queryMaxSeconds
}

// Collect snapshots the stores and sends them as Prometheus metrics.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.agg.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.blacklistSize, prometheus.GaugeValue, float64(s.Blacklist.Size), c.service)
	ch <- prometheus.MustNewConstMetric(c.blacklistLookups, prometheus.CounterValue, float64(s.Blacklist.Lookups), c.service)
	ch <- prometheus.MustNewConstMetric(c.blacklistHits, prometheus.CounterValue, float64(s.Blacklist.Hits), c.service)
	ch <- prometheus.MustNewConstMetric(c.blacklistMisses, prometheus.CounterValue, float64(s.Blacklist.Misses), c.service)
	ch <- prometheus.MustNewConstMetric(c.lockedAccounts, prometheus.GaugeValue, float64(s.Lockout.LockedKeys), c.service)
	ch <- prometheus.MustNewConstMetric(c.trackedAccounts, prometheus.GaugeValue, float64(s.Lockout.TrackedKeys), c.service)
	ch <- prometheus.MustNewConstMetric(c.failedAttempts, prometheus.GaugeValue, float64(s.Lockout.FailedCount), c.service)
	ch <- prometheus.MustNewConstMetric(c.queryCount, prometheus.CounterValue, float64(s.Queries.Count), c.service)
	ch <- prometheus.MustNewConstMetric(c.querySlowCount, prometheus.CounterValue, float64(s.Queries.SlowCount), c.service)
	ch <- prometheus.MustNewConstMetric(c.queryMaxSeconds, prometheus.GaugeValue, s.Queries.Max.Seconds(), c.service)
}

// RegisterCollector registers the security collector with the default
// Prometheus registry.
func RegisterCollector(agg *StatsAggregator, service string) {
	prometheus.MustRegister(NewCollector(agg, service))
}
