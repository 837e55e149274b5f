// Package metrics exposes the counters and gauges an operator scrapes
// to watch the sync engine and WAL receiver: layer transfer counts and
// bytes, sync task outcomes, and WAL replication lag.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	LayersTransferred = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pageserver",
		Subsystem: "sync",
		Name:      "layers_transferred_total",
		Help:      "Layer files transferred, labeled by direction and outcome.",
	}, []string{"direction", "outcome"})

	BytesTransferred = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pageserver",
		Subsystem: "sync",
		Name:      "bytes_transferred_total",
		Help:      "Bytes transferred, labeled by direction.",
	}, []string{"direction"})

	SyncQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pageserver",
		Subsystem: "sync",
		Name:      "queue_depth",
		Help:      "Number of pending sync tasks.",
	})

	WalFlushLagBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pageserver",
		Subsystem: "walreceiver",
		Name:      "flush_lag_bytes",
		Help:      "Bytes between the last received and last flushed WAL position, per timeline.",
	}, []string{"tenant", "timeline"})

	SyncTaskNoop = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pageserver",
		Subsystem: "sync",
		Name:      "task_noop_total",
		Help:      "Sync tasks that completed with nothing left to transfer after dedup, labeled by direction.",
	}, []string{"direction"})

	SyncTaskRescheduled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pageserver",
		Subsystem: "sync",
		Name:      "task_rescheduled_total",
		Help:      "Sync tasks that failed and had their retry count bumped, labeled by direction.",
	}, []string{"direction"})
)

// Register adds every collector in this package to reg. Call once at
// process startup, after the Prometheus registry is constructed.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(LayersTransferred, BytesTransferred, SyncQueueDepth, WalFlushLagBytes, SyncTaskNoop, SyncTaskRescheduled)
}
