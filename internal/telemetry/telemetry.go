// Package telemetry instruments the dispatch bus with Prometheus metrics and
// fulfills the host-load half of a Heartbeat via gopsutil. This is pure
// ambient observability: nothing here feeds back into a dispatch decision —
// admission math lives entirely in workeragent/clusteragent.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/load"
)

// Metrics is one process's set of dispatch-bus gauges/counters, registered
// against its own prometheus.Registry so tests can spin up an isolated set
// without colliding with the default global registry.
type Metrics struct {
	registry *prometheus.Registry

	PollCount        prometheus.Counter
	PolledRecords    prometheus.Counter
	DispatchDuration prometheus.Histogram
	DispatchErrors   prometheus.Counter

	QueueDepth    prometheus.Gauge
	InFlightJobs  prometheus.Gauge
	IdleCapacity  prometheus.Gauge
	BacklogDepth  prometheus.Gauge

	PublishErrors *prometheus.CounterVec
}

// New builds and registers a fresh Metrics set, labeled by cluster so one
// Prometheus instance can scrape both a Worker Agent and a Cluster Agent
// sharing the same cluster name.
func New(cluster string) *Metrics {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"cluster": cluster}

	m := &Metrics{
		registry: reg,
		PollCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "dispatch_poll_total",
			Help:        "Number of NEW-topic poll calls issued by the dispatch loop.",
			ConstLabels: constLabels,
		}),
		PolledRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "dispatch_polled_records_total",
			Help:        "Number of NEW-topic records returned across all polls.",
			ConstLabels: constLabels,
		}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "dispatch_tick_duration_seconds",
			Help:        "Wall-clock duration of one dispatch tick.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
		DispatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "dispatch_tick_errors_total",
			Help:        "Number of dispatch ticks that ended in a non-nil error (no commit).",
			ConstLabels: constLabels,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "workeragent_queue_depth",
			Help:        "Worker Agent items queued but not yet picked up by a worker.",
			ConstLabels: constLabels,
		}),
		InFlightJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "workeragent_in_flight_jobs",
			Help:        "Worker Agent jobs currently running as subprocesses.",
			ConstLabels: constLabels,
		}),
		IdleCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "clusteragent_idle_capacity",
			Help:        "Cluster Agent's most recently probed idle capacity (cpus or gpus).",
			ConstLabels: constLabels,
		}),
		BacklogDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "clusteragent_backlog_depth",
			Help:        "Cluster Agent's most recently probed scheduler backlog.",
			ConstLabels: constLabels,
		}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "broker_publish_errors_total",
			Help:        "Publisher send/flush failures by role.",
			ConstLabels: constLabels,
		}, []string{"role"}),
	}

	reg.MustRegister(
		m.PollCount, m.PolledRecords, m.DispatchDuration, m.DispatchErrors,
		m.QueueDepth, m.InFlightJobs, m.IdleCapacity, m.BacklogDepth,
		m.PublishErrors,
	)
	return m
}

// Handler serves this Metrics set's registry in the Prometheus exposition
// format, for mounting at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OneMinuteLoad returns the host's 1-minute load average via gopsutil, for
// folding into a Heartbeat's optional Load field. Returns an error on
// platforms gopsutil can't read load from (e.g. unsupported sandboxes);
// callers should treat that as "omit Load", not as fatal.
func OneMinuteLoad(ctx context.Context) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return avg.Load1, nil
}
