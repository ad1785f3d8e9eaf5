package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConsensusIsLeader = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tabletdb",
		Subsystem: "consensus",
		Name:      "is_leader",
		Help:      "Whether this peer leads its quorum (1=leader, 0=otherwise)",
	})

	ConsensusLogWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tabletdb",
		Subsystem: "consensus",
		Name:      "log_writes_total",
		Help:      "Total entries written to the replicated log",
	})

	TabletBatchesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tabletdb",
		Subsystem: "tablet",
		Name:      "batches_applied_total",
		Help:      "Total committed write batches applied to tablet stores",
	})

	CatalogWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tabletdb",
		Subsystem: "catalog",
		Name:      "writes_total",
		Help:      "Catalog mutations by operation and status",
	}, []string{"op", "status"})

	CatalogWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tabletdb",
		Subsystem: "catalog",
		Name:      "write_duration_seconds",
		Help:      "Replicated catalog write duration",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 18),
	})

	CatalogVisitedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tabletdb",
		Subsystem: "catalog",
		Name:      "visited_rows_total",
		Help:      "Rows delivered to catalog visitors",
	}, []string{"entry_type"})

	SessionApplies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tabletdb",
		Subsystem: "session",
		Name:      "applies_total",
		Help:      "Session applies by flush mode and status",
	}, []string{"mode", "status"})

	SessionBufferBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tabletdb",
		Subsystem: "session",
		Name:      "buffer_bytes",
		Help:      "Bytes currently buffered across sessions",
	})

	SessionFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tabletdb",
		Subsystem: "session",
		Name:      "flushes_total",
		Help:      "Session flushes by trigger",
	}, []string{"reason"})

	SessionBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tabletdb",
		Subsystem: "session",
		Name:      "batch_size",
		Help:      "Operations per transmitted batch",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	SessionPendingErrors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tabletdb",
		Subsystem: "session",
		Name:      "pending_errors",
		Help:      "Errors currently retained in session error lists",
	})

	RPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tabletdb",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "RPC requests by service, method and code",
	}, []string{"service", "method", "code"})

	MetaCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tabletdb",
		Subsystem: "metacache",
		Name:      "lookups_total",
		Help:      "Meta cache lookups by outcome",
	}, []string{"outcome"})
)
