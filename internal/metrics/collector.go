// Package metrics exposes Prometheus collectors for the generation service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clipgen"

// Collector groups every metric the service records. A nil *Collector is
// valid and records nothing.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	stageDuration      *prometheus.HistogramVec
	stage2bTotal       *prometheus.CounterVec
	fidelityTotal      *prometheus.CounterVec
	fidelityMaxDiff    prometheus.Histogram
	audioTotal         *prometheus.CounterVec
	vendorErrorsTotal  *prometheus.CounterVec
	costUSD            *prometheus.CounterVec

	jobsInFlight    prometheus.Gauge
	acceleratorIdle prometheus.Gauge

	sqlQueryDuration *prometheus.HistogramVec
}

// NewCollector registers the collectors with reg, or with the default
// registerer when reg is nil.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	c := &Collector{}

	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	c.generationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generations by engine and outcome code",
		},
		[]string{"engine", "outcome"},
	)
	c.generationDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall time of a generation request",
			Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120, 180, 300},
		},
		[]string{"engine"},
	)
	c.stageDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of each staged pipeline step",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 90},
		},
		[]string{"stage"},
	)
	c.stage2bTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage2b_decisions_total",
			Help:      "Refinement pass outcomes and skip reasons",
		},
		[]string{"outcome", "reason"},
	)
	c.fidelityTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fidelity_verdicts_total",
			Help:      "Fidelity guard verdicts",
		},
		[]string{"verdict", "replaced"},
	)
	c.fidelityMaxDiff = f.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fidelity_max_diff",
			Help:      "Largest checkpoint difference against the reference, 0-255 scale",
			Buckets:   []float64{5, 10, 15, 20, 25, 30, 40, 60, 100},
		},
	)
	c.audioTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_outcomes_total",
			Help:      "Audio completion guard outcomes",
		},
		[]string{"outcome"},
	)
	c.vendorErrorsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vendor_errors_total",
			Help:      "Vendor failures by class",
		},
		[]string{"vendor", "class"},
	)
	c.costUSD = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_cost_usd_total",
			Help:      "Estimated spend in USD",
		},
		[]string{"engine"},
	)
	c.jobsInFlight = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_in_flight",
		Help:      "Jobs currently being processed by this process",
	})
	c.acceleratorIdle = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "accelerator_slots_idle",
		Help:      "Model instances not currently serving a request",
	})
	c.sqlQueryDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sql_query_duration_seconds",
			Help:      "Duration of inline SQL statements by marker",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"marker", "op", "status"},
	)
	return c
}

func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordGeneration records a finished request. outcome is "ok" or an error code.
func (c *Collector) RecordGeneration(engine, outcome string, d time.Duration, costUSD float64) {
	if c == nil {
		return
	}
	c.generationsTotal.WithLabelValues(engine, outcome).Inc()
	c.generationDuration.WithLabelValues(engine).Observe(d.Seconds())
	if costUSD > 0 {
		c.costUSD.WithLabelValues(engine).Add(costUSD)
	}
}

func (c *Collector) RecordStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (c *Collector) RecordStage2b(outcome, reason string) {
	if c == nil {
		return
	}
	c.stage2bTotal.WithLabelValues(outcome, reason).Inc()
}

func (c *Collector) RecordFidelity(verdict string, replaced bool, maxDiff float64) {
	if c == nil {
		return
	}
	r := "false"
	if replaced {
		r = "true"
	}
	c.fidelityTotal.WithLabelValues(verdict, r).Inc()
	c.fidelityMaxDiff.Observe(maxDiff)
}

func (c *Collector) RecordAudio(outcome string) {
	if c == nil {
		return
	}
	c.audioTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordVendorError(vendor, class string) {
	if c == nil {
		return
	}
	c.vendorErrorsTotal.WithLabelValues(vendor, class).Inc()
}

func (c *Collector) JobStarted() {
	if c == nil {
		return
	}
	c.jobsInFlight.Inc()
}

func (c *Collector) JobFinished() {
	if c == nil {
		return
	}
	c.jobsInFlight.Dec()
}

func (c *Collector) SetAcceleratorIdle(n int) {
	if c == nil {
		return
	}
	c.acceleratorIdle.Set(float64(n))
}

// ObserveSQL records one statement run through infra.SQLRunner.
func (c *Collector) ObserveSQL(marker, op string, d time.Duration, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.sqlQueryDuration.WithLabelValues(marker, op, status).Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
