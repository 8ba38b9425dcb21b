// Package metrics provides Prometheus metrics for the bridge: relay
// counts and latencies, peer socket state, cache effectiveness, and the
// attachment pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lumabridge"

// LatencyBuckets covers the bridge's latency range. Relays ride a human
// browser session, so the tail is much longer than a direct API call.
var LatencyBuckets = []float64{
	0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 15.0, 30.0,
	60.0, 120.0, 180.0, 240.0, 300.0, 360.0,
}

var (
	// RelayTotalRequests counts chat completion requests by outcome.
	RelayTotalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_total_requests",
			Help:      "Total number of relayed chat completion requests",
		},
		[]string{"model", "model_type", "stream", "status_code"},
	)

	// RelayFailedRequests counts failed relays by error kind.
	RelayFailedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_failed_requests",
			Help:      "Total number of failed relays",
		},
		[]string{"model", "error_kind"},
	)

	// RelayLatency tracks end-to-end relay latency.
	RelayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_latency_seconds",
			Help:      "End-to-end relay latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"model", "stream"},
	)

	// CompletionTokens accumulates estimated completion tokens.
	CompletionTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_tokens_total",
			Help:      "Estimated completion tokens returned to clients",
		},
		[]string{"model"},
	)
)

var (
	// PeerConnected reports whether a browser peer socket is attached.
	PeerConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peer_connected",
			Help:      "1 when a browser peer websocket is attached, 0 otherwise",
		},
	)

	// PeerConnectsTotal counts peer websocket attachments.
	PeerConnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_connects_total",
			Help:      "Total number of peer websocket attachments",
		},
	)

	// PeerRefreshesTotal counts human-verification refresh commands sent.
	PeerRefreshesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_refreshes_total",
			Help:      "Total number of refresh commands sent to the peer",
		},
	)

	// PendingRequests gauges requests parked while the peer is away.
	PendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Requests parked while waiting for the peer to reconnect",
		},
	)

	// LiveQueues gauges registered event queues.
	LiveQueues = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_queues",
			Help:      "Event queues currently registered",
		},
	)
)

var (
	// CacheHits counts cache hits by cache name.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cache hits by cache",
		},
		[]string{"cache"},
	)

	// CacheMisses counts cache misses by cache name.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache misses by cache",
		},
		[]string{"cache"},
	)

	// CacheEntries gauges current cache sizes.
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Current entries per cache",
		},
		[]string{"cache"},
	)
)

var (
	// FileBedUploads counts file-bed upload attempts by endpoint and outcome.
	FileBedUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filebed_uploads_total",
			Help:      "File-bed upload attempts by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	// ImageDownloads counts image download attempts by outcome.
	ImageDownloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_downloads_total",
			Help:      "Image download attempts by outcome",
		},
		[]string{"outcome"},
	)
)
