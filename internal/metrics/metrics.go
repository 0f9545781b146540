// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesParsed counts inbound frames that parsed cleanly, by channel.
	FramesParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ironfront_frames_parsed_total",
			Help: "Total number of inbound frames parsed successfully",
		},
		[]string{"channel"},
	)

	// FramesTruncated counts inbound frames dropped for being shorter than
	// their declared size.
	FramesTruncated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ironfront_frames_truncated_total",
			Help: "Total number of inbound frames dropped as truncated",
		},
	)

	// FramesSent counts outbound frames, by channel.
	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ironfront_frames_sent_total",
			Help: "Total number of outbound frames written to sessions",
		},
		[]string{"channel"},
	)

	// PacketsDispatched counts packets routed to a handler, by resolved type.
	PacketsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ironfront_packets_dispatched_total",
			Help: "Total number of packets delivered to a registered or default handler",
		},
		[]string{"type"},
	)

	// PacketsUnhandled counts packets dropped with no handler. Unknown tags
	// resolve to the INVALID type so the label set stays bounded.
	PacketsUnhandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ironfront_packets_unhandled_total",
			Help: "Total number of packets dropped because no handler matched",
		},
		[]string{"type"},
	)

	// PacketsMalformed counts packets whose body failed structural decoding.
	PacketsMalformed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ironfront_packets_malformed_total",
			Help: "Total number of packets dropped as structurally malformed",
		},
		[]string{"type"},
	)

	// SnapshotsBuilt counts replication snapshots produced per tick, by kind.
	SnapshotsBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ironfront_snapshots_built_total",
			Help: "Total number of replication snapshots built and dispatched",
		},
		[]string{"kind"},
	)

	// SnapshotBytes tracks serialized snapshot sizes before compression.
	SnapshotBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ironfront_snapshot_bytes",
			Help:    "Serialized snapshot payload size in bytes before compression",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10), // 64B to ~16MB
		},
		[]string{"kind"},
	)

	// ReplicationUnknownActor counts state or dirty updates addressed to an
	// actor id with no tracking entry.
	ReplicationUnknownActor = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ironfront_replication_unknown_actor_total",
			Help: "Total number of updates dropped for untracked actor ids",
		},
	)

	// CompressionFallbacks counts snapshots sent uncompressed after a codec
	// failure.
	CompressionFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ironfront_compression_fallbacks_total",
			Help: "Total number of snapshots sent uncompressed after a compression failure",
		},
	)

	// ConnectedClients tracks currently subscribed sessions.
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ironfront_connected_clients",
			Help: "Number of websocket sessions currently subscribed",
		},
	)

	// TickDuration measures the simulation tick wall time.
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ironfront_tick_duration_seconds",
			Help:    "Wall time of one simulation tick including replication",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
		},
	)
)
