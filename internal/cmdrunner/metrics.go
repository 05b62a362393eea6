// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmdrunner

import (
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "perfkit_cmdrunner"

const (
	reasonExit  = "exit"
	reasonStart = "start"
)

// Collector is a prometheus.Collector that collects metrics about the
// commands run by a Runner.
type Collector struct {
	attempts *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "attempts_total",
				Help:      "The number of times a command was run.",
			}, []string{"program"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "failures_total",
				Help:      "The number of command runs that failed.",
			}, []string{"program", "reason"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "attempt_duration_seconds",
				Help:      "The time taken by a single command run.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 300},
			}, []string{"program"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.attempts.Describe(ch)
	c.failures.Describe(ch)
	c.duration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.attempts.Collect(ch)
	c.failures.Collect(ch)
	c.duration.Collect(ch)
}

// observe records one run of the given executable. A nil Collector
// records nothing.
func (c *Collector) observe(executable string, took time.Duration, err error) {
	if c == nil {
		return
	}
	program := filepath.Base(executable)
	c.attempts.WithLabelValues(program).Inc()
	c.duration.WithLabelValues(program).Observe(took.Seconds())
	switch {
	case err == nil:
	case IsCommandError(err):
		c.failures.WithLabelValues(program, reasonExit).Inc()
	default:
		c.failures.WithLabelValues(program, reasonStart).Inc()
	}
}
