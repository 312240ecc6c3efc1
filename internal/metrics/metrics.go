// Package metrics provides Prometheus metrics for override passes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brunoga/override"
)

// Metrics holds the collectors fed from override pass reports.
type Metrics struct {
	PassesTotal    *prometheus.CounterVec
	PassDuration   *prometheus.HistogramVec
	OverridesTotal *prometheus.CounterVec
	// OperationsTotal counts applied and failed override operations.
	OperationsTotal *prometheus.CounterVec
	MessagesTotal   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PassesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liboverride_passes_total",
				Help: "Total number of override passes",
			},
			[]string{"pass", "status"},
		),
		PassDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "liboverride_pass_duration_seconds",
				Help:    "Duration of override passes in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"pass"},
		),
		OverridesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liboverride_overrides_total",
				Help: "Overrides created, resynced, deleted, missing or left over by passes",
			},
			[]string{"event"},
		),
		OperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liboverride_operations_total",
				Help: "Override operations applied by passes",
			},
			[]string{"status"},
		),
		MessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liboverride_report_messages_total",
				Help: "Report messages emitted by passes",
			},
			[]string{"level"},
		),
	}
}

// Observe records a finished pass. A nil *Metrics ignores everything.
func (m *Metrics) Observe(pass string, rep *override.Report, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.PassesTotal.WithLabelValues(pass, status).Inc()
	m.PassDuration.WithLabelValues(pass).Observe(d.Seconds())
	if rep == nil {
		return
	}

	c := rep.Counts
	for event, n := range map[string]int{
		"created":         c.Created,
		"resynced":        c.Resynced,
		"resynced_linked": c.ResyncedLinked,
		"missing":         c.Missing,
		"deleted":         c.Deleted,
		"residual":        c.Residual,
	} {
		if n > 0 {
			m.OverridesTotal.WithLabelValues(event).Add(float64(n))
		}
	}
	if c.Applied > 0 {
		m.OperationsTotal.WithLabelValues("applied").Add(float64(c.Applied))
	}
	if c.Failed > 0 {
		m.OperationsTotal.WithLabelValues("failed").Add(float64(c.Failed))
	}
	for _, msg := range rep.Messages {
		m.MessagesTotal.WithLabelValues(msg.Level.String()).Inc()
	}
}

// Time runs fn as the pass named pass and records it.
func (m *Metrics) Time(pass string, rep *override.Report, fn func() error) error {
	start := time.Now()
	err := fn()
	m.Observe(pass, rep, time.Since(start), err)
	return err
}
