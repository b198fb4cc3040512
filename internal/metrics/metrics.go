// Package metrics exposes Prometheus instrumentation for the orchestration
// engine: hub call latency and throughput, host/worker population gauges,
// and lifecycle transition counters.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HostsTotal is the current number of live hosts owned by a controller.
	HostsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kuix_hosts_total",
			Help: "Current number of live hosts",
		},
	)

	// WorkersTotal is the current number of workers by host.
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kuix_workers_total",
			Help: "Current number of workers by host process id",
		},
		[]string{"process_id"},
	)

	// WorkerLifecycleTransitions counts lifecycle transitions applied to
	// workers, labelled by transition name (open/start/stop/close) and
	// outcome (ok/failure).
	WorkerLifecycleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kuix_worker_lifecycle_transitions_total",
			Help: "Total worker lifecycle transitions by transition and outcome",
		},
		[]string{"transition", "outcome"},
	)

	// ProcessLaunchDuration measures CreateProcess latency end to end,
	// including the wait for the host's ProcessCreated readiness event.
	ProcessLaunchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kuix_process_launch_duration_seconds",
			Help:    "Time to create a host process and observe its readiness event",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CallDuration measures hub.Call latency labelled by method name.
	CallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kuix_hub_call_duration_seconds",
			Help:    "SharedHub.Call duration in seconds by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// CallsTotal counts completed hub calls by method and outcome
	// (ok, failure, cancelled).
	CallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kuix_hub_calls_total",
			Help: "Total SharedHub.Call invocations by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	// EventQueueDepth reports, immediately after a Trigger, the queue
	// lengths for that event summed over every subscribed process, as a
	// sampled gauge.
	EventQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kuix_event_queue_depth",
			Help: "Queued event tuples for an event across subscribed processes after the last trigger",
		},
		[]string{"event"},
	)
)

func init() {
	prometheus.MustRegister(
		HostsTotal,
		WorkersTotal,
		WorkerLifecycleTransitions,
		ProcessLaunchDuration,
		CallDuration,
		CallsTotal,
		EventQueueDepth,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation and reports it to a histogram via
// ObserveDuration or ObserveDurationVec.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records elapsed time on histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records elapsed time on a labelled histogram vector.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
