package metrics

import (
	"strconv"
	"time"
)

// RequestMetrics describes one finished relay for recording.
type RequestMetrics struct {
	Model            string
	ModelType        string
	Stream           bool
	StatusCode       int
	ErrorKind        string
	StartedAt        time.Time
	FinishedAt       time.Time
	CompletionTokens int
	Success          bool
}

// Collector records bridge metrics.
type Collector struct{}

// NewCollector creates a collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordRequest records all metrics for one completed relay.
func (c *Collector) RecordRequest(m *RequestMetrics) {
	stream := strconv.FormatBool(m.Stream)

	RelayTotalRequests.WithLabelValues(
		m.Model, m.ModelType, stream, strconv.Itoa(m.StatusCode),
	).Inc()

	if !m.Success {
		RelayFailedRequests.WithLabelValues(m.Model, m.ErrorKind).Inc()
	}

	if !m.StartedAt.IsZero() && !m.FinishedAt.IsZero() {
		RelayLatency.WithLabelValues(m.Model, stream).
			Observe(m.FinishedAt.Sub(m.StartedAt).Seconds())
	}

	if m.CompletionTokens > 0 {
		CompletionTokens.WithLabelValues(m.Model).Add(float64(m.CompletionTokens))
	}
}

// RecordPeerConnect marks a peer attachment.
func (c *Collector) RecordPeerConnect() {
	PeerConnectsTotal.Inc()
	PeerConnected.Set(1)
}

// RecordPeerDisconnect marks the peer as gone.
func (c *Collector) RecordPeerDisconnect() {
	PeerConnected.Set(0)
}

// RecordRefresh counts a refresh command sent to the peer.
func (c *Collector) RecordRefresh() {
	PeerRefreshesTotal.Inc()
}

// RecordCache records one cache lookup by name.
func (c *Collector) RecordCache(cache string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(cache).Inc()
	} else {
		CacheMisses.WithLabelValues(cache).Inc()
	}
}

// SetCacheSize updates the size gauge for one cache.
func (c *Collector) SetCacheSize(cache string, entries int) {
	CacheEntries.WithLabelValues(cache).Set(float64(entries))
}

// RecordUpload records one file-bed upload attempt.
func (c *Collector) RecordUpload(endpoint string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	FileBedUploads.WithLabelValues(endpoint, outcome).Inc()
}

// RecordDownload records one image download attempt.
func (c *Collector) RecordDownload(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	ImageDownloads.WithLabelValues(outcome).Inc()
}

// SetPending updates the parked-request gauge.
func (c *Collector) SetPending(n int) {
	PendingRequests.Set(float64(n))
}

// SetLiveQueues updates the registered-queue gauge.
func (c *Collector) SetLiveQueues(n int) {
	LiveQueues.Set(float64(n))
}
