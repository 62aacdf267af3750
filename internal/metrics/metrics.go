// Package metrics exposes Prometheus counters for authentication outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records auth events. It satisfies auth.Metrics.
type Collector struct {
	logins          *prometheus.CounterVec
	lockouts        prometheus.Counter
	rateLimited     *prometheus.CounterVec
	csrfRejected    prometheus.Counter
	sessionsIssued  prometheus.Counter
	sessionsRevoked prometheus.Counter
	loginLatency    prometheus.Histogram
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cxo_auth_logins_total",
			Help: "Evaluated login attempts by outcome.",
		}, []string{"outcome"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cxo_auth_lockouts_total",
			Help: "Accounts locked after reaching the failure threshold.",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cxo_auth_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"action"}),
		csrfRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cxo_auth_csrf_rejected_total",
			Help: "Requests rejected for a missing or mismatched CSRF token.",
		}),
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cxo_auth_sessions_issued_total",
			Help: "Sessions created by login or password change.",
		}),
		sessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cxo_auth_sessions_revoked_total",
			Help: "Sessions deleted by logout, password change, or an administrator.",
		}),
		loginLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cxo_auth_login_duration_seconds",
			Help:    "Time to evaluate a login attempt, including password hashing.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
	}

	reg.MustRegister(
		c.logins,
		c.lockouts,
		c.rateLimited,
		c.csrfRejected,
		c.sessionsIssued,
		c.sessionsRevoked,
		c.loginLatency,
	)
	return c
}

func (c *Collector) RecordLogin(outcome string, d time.Duration) {
	c.logins.WithLabelValues(outcome).Inc()
	c.loginLatency.Observe(d.Seconds())
}

func (c *Collector) RecordLockout() { c.lockouts.Inc() }

func (c *Collector) RecordRateLimited(action string) {
	c.rateLimited.WithLabelValues(action).Inc()
}

func (c *Collector) RecordCSRFRejected() { c.csrfRejected.Inc() }

func (c *Collector) RecordSessionIssued() { c.sessionsIssued.Inc() }

func (c *Collector) RecordSessionsRevoked(n int64) {
	if n > 0 {
		c.sessionsRevoked.Add(float64(n))
	}
}

// Handler returns the scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
