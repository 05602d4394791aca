package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namespace = "alpaca"
var subsystem = "shmstore"

var (
	// TablesOpenedTotal counts table bring-ups partitioned by mode
	// (create, map, read).
	TablesOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "tables_opened_total",
		Help:      "Number of tables opened partitioned by bring-up mode",
	}, []string{"mode"})

	// RowsUpsertedTotal counts rows written partitioned by op (insert, update).
	RowsUpsertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rows_upserted_total",
		Help:      "Number of rows written partitioned by insert or update",
	}, []string{"op"})

	// SegmentGrowthsTotal counts segment reallocations.
	SegmentGrowthsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "segment_growths_total",
		Help:      "Number of times a segment was reallocated to a larger capacity",
	})

	// LockWaitDuration stores how long callers waited for the segment guard
	LockWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "lock_wait_seconds",
		Help:      "Time spent acquiring the cross-process segment guard",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	})

	// LockTimeoutsTotal counts failed guard acquisitions.
	LockTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "lock_timeouts_total",
		Help:      "Number of guard acquisitions that timed out",
	})

	// PersistDuration stores the processing time of every persist call
	PersistDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "persist_duration_seconds",
		Help:      "Time taken by persist calls including uploads",
	})

	// PartitionBytesWrittenTotal counts uncompressed bytes written per
	// partition (head, tail).
	PartitionBytesWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "partition_bytes_written_total",
		Help:      "Uncompressed bytes of partition files written partitioned by head or tail",
	}, []string{"partition"})

	// ReadDuration stores the processing time of rehydrating a table
	ReadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "read_duration_seconds",
		Help:      "Time taken to rehydrate a table from local or remote storage",
	})

	// CorruptionsTotal counts integrity hash mismatches.
	CorruptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "corruptions_total",
		Help:      "Number of partition files that failed verification partitioned by head or tail",
	}, []string{"partition"})

	// SharedMemoryBytes stores the bytes actually backing the segment directory
	SharedMemoryBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "shared_memory_bytes",
		Help:      "Bytes resident in the shared segment directory",
	})
)
