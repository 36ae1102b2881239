// Package metrics exposes the prometheus collectors gcsfuse wires up in
// its own internal/monitor package, repointed at Syndicate's driver pool,
// replication fan-out, and vacuum queue (spec §4.4, §4.7, §4.8).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the collectors a single gateway process registers.
// Role-specific mains construct one and pass it down instead of relying
// on prometheus' global default registry, so tests can use independent
// instances.
type Registry struct {
	reg *prometheus.Registry

	DriverPoolInUse      *prometheus.GaugeVec
	DriverPoolSaturated   prometheus.Counter
	DriverDispatchSeconds *prometheus.HistogramVec

	ReplicationFanoutSeconds prometheus.Histogram
	ReplicationFailuresTotal *prometheus.CounterVec

	VacuumQueueDepth   prometheus.Gauge
	VacuumBackoffTotal prometheus.Counter
}

// NewRegistry builds and registers a fresh collector set.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		DriverPoolInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "syndicate",
			Subsystem: "driver",
			Name:      "pool_workers_in_use",
			Help:      "Number of driver worker processes currently acquired, by role.",
		}, []string{"role"}),
		DriverPoolSaturated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syndicate",
			Subsystem: "driver",
			Name:      "pool_saturated_total",
			Help:      "Count of non-blocking driver acquisitions that found no free worker.",
		}),
		DriverDispatchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "syndicate",
			Subsystem: "driver",
			Name:      "dispatch_seconds",
			Help:      "Latency of a single driver round trip, by role.",
		}, []string{"role"}),
		ReplicationFanoutSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "syndicate",
			Subsystem: "replication",
			Name:      "fanout_seconds",
			Help:      "Wall-clock time to replicate one chunk to every RG.",
		}),
		ReplicationFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syndicate",
			Subsystem: "replication",
			Name:      "failures_total",
			Help:      "Per-RG replication failures, by RG id.",
		}, []string{"rg_id"}),
		VacuumQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syndicate",
			Subsystem: "vacuum",
			Name:      "queue_depth",
			Help:      "Number of vacuum contexts currently pending.",
		}),
		VacuumBackoffTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syndicate",
			Subsystem: "vacuum",
			Name:      "backoff_total",
			Help:      "Count of vacuum retries that hit exponential backoff.",
		}),
	}
	reg.MustRegister(
		r.DriverPoolInUse, r.DriverPoolSaturated, r.DriverDispatchSeconds,
		r.ReplicationFanoutSeconds, r.ReplicationFailuresTotal,
		r.VacuumQueueDepth, r.VacuumBackoffTotal,
	)
	return r
}

// Gatherer exposes the registry for an HTTP /metrics handler.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
