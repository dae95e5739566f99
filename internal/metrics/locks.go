package metrics

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flemzord/cronrun/internal/lock"
)

const collectTimeout = 5 * time.Second

// LockCollector reports the lock store contents at collection time.
type LockCollector struct {
	locks *lock.Manager
	clock clockwork.Clock

	age   *prometheus.Desc
	stale *prometheus.Desc
	up    *prometheus.Desc
}

// Compile-time interface check.
var _ prometheus.Collector = (*LockCollector)(nil)

// NewLockCollector returns a collector reading locks through m. A nil
// clock means the real clock.
func NewLockCollector(m *lock.Manager, clock clockwork.Clock) *LockCollector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LockCollector{
		locks: m,
		clock: clock,
		age: prometheus.NewDesc(namespace+"_lock_age_seconds",
			"Seconds since the lock was acquired.", []string{"lock", "hostname"}, nil),
		stale: prometheus.NewDesc(namespace+"_lock_stale",
			"1 when the lock is stale and may be reclaimed.", []string{"lock"}, nil),
		up: prometheus.NewDesc(namespace+"_lock_store_up",
			"1 when the lock store could be listed.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *LockCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.age
	ch <- c.stale
	ch <- c.up
}

// Collect implements prometheus.Collector.
func (c *LockCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	statuses, err := c.locks.List(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)

	now := c.clock.Now()
	for _, s := range statuses {
		ch <- prometheus.MustNewConstMetric(c.age, prometheus.GaugeValue,
			now.Sub(s.AcquiredAt).Seconds(), s.Name, s.Hostname)
		stale := 0.0
		if s.Stale {
			stale = 1
		}
		ch <- prometheus.MustNewConstMetric(c.stale, prometheus.GaugeValue, stale, s.Name)
	}
}
