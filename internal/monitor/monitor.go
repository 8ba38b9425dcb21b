// Package monitor runs the housekeeping loop: cache expiry, stale request
// metadata reaping, and memory-pressure trimming. It also keeps the rolling
// request counters surfaced by the status endpoint.
package monitor

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/lumabridge/lumabridge/internal/config"
	"github.com/lumabridge/lumabridge/internal/filebed"
	"github.com/lumabridge/lumabridge/internal/images"
	"github.com/lumabridge/lumabridge/internal/metrics"
	"github.com/lumabridge/lumabridge/internal/registry"
)

const sweepInterval = 60 * time.Second

// RequestSummary is one entry in the recent-request ring.
type RequestSummary struct {
	RequestID  string    `json:"request_id"`
	Model      string    `json:"model"`
	TokenName  string    `json:"token_name,omitempty"`
	Success    bool      `json:"success"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// Stats is a snapshot of the rolling counters.
type Stats struct {
	Total     uint64           `json:"total"`
	Succeeded uint64           `json:"succeeded"`
	Failed    uint64           `json:"failed"`
	Recent    []RequestSummary `json:"recent"`
}

// Monitor owns the periodic sweep and the request counters.
type Monitor struct {
	cfg       func() *config.Config
	registry  *registry.Registry
	images    *images.Pipeline
	uploader  *filebed.Uploader
	collector *metrics.Collector
	logger    *slog.Logger

	mu        sync.Mutex
	total     uint64
	succeeded uint64
	failed    uint64
	recent    []RequestSummary
	recentCap int

	stop chan struct{}
	once sync.Once
}

// New creates a monitor over the bridge's shared state.
func New(cfg func() *config.Config, reg *registry.Registry, imgs *images.Pipeline, up *filebed.Uploader, col *metrics.Collector, logger *slog.Logger) *Monitor {
	return &Monitor{
		cfg:       cfg,
		registry:  reg,
		images:    imgs,
		uploader:  up,
		collector: col,
		logger:    logger,
		recentCap: 100,
		stop:      make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop or context cancellation.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the sweep loop.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
}

// Sweep runs one housekeeping pass.
func (m *Monitor) Sweep() {
	cfg := m.cfg()

	if m.uploader != nil {
		if n := m.uploader.URLCache().EvictExpired(); n > 0 {
			m.logger.Debug("expired file-bed url cache entries", "evicted", n)
		}
		m.collector.SetCacheSize("filebed_url", m.uploader.URLCache().Len())
	}

	if reaped := m.registry.ReapStale(cfg.MetadataTimeout()); reaped > 0 {
		m.logger.Info("reaped stale request metadata", "reaped", reaped)
	}
	m.releaseStaleQueues(cfg.MetadataTimeout())
	m.collector.SetLiveQueues(m.registry.QueueCount())

	if m.images != nil {
		if n := m.images.Base64Cache().EvictExpired(); n > 0 {
			m.logger.Debug("expired image cache entries", "evicted", n)
		}
		m.checkMemoryPressure(cfg)
		m.collector.SetCacheSize("image_base64", m.images.Base64Cache().Len())
	}
}

// releaseStaleQueues closes queues whose request outlived the metadata
// timeout, so a wedged consumer sees a terminal closure instead of
// hanging forever.
func (m *Monitor) releaseStaleQueues(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	for _, id := range m.registry.LiveIDs() {
		rec, ok := m.registry.Record(id)
		if !ok {
			continue
		}
		if rec.CreatedAt.Before(cutoff) {
			m.logger.Warn("releasing queue past metadata timeout",
				"request_id", id, "model", rec.Model, "age", time.Since(rec.CreatedAt).Round(time.Second))
			m.registry.ReleaseQueue(id)
		}
	}
}

// checkMemoryPressure trims the image cache and URL history when heap
// usage crosses gc_threshold_mb.
func (m *Monitor) checkMemoryPressure(cfg *config.Config) {
	threshold := cfg.MemoryManagement.GCThresholdMB
	if threshold <= 0 {
		return
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	heapMB := int(ms.HeapAlloc / (1024 * 1024))
	if heapMB < threshold {
		return
	}

	cc := cfg.MemoryManagement.CacheConfig
	trimmedCache := m.images.Base64Cache().TrimToNewest(cc.ImageCacheKeepSize)
	trimmedHistory := m.images.History().TrimToNewest(cc.URLHistoryKeep)
	runtime.GC()

	m.logger.Warn("memory pressure trim",
		"heap_mb", heapMB,
		"threshold_mb", threshold,
		"image_cache_evicted", trimmedCache,
		"url_history_evicted", trimmedHistory,
	)
}

// RecordRequest feeds the rolling counters and the recent ring.
func (m *Monitor) RecordRequest(s RequestSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	if s.Success {
		m.succeeded++
	} else {
		m.failed++
	}
	m.recent = append(m.recent, s)
	if len(m.recent) > m.recentCap {
		m.recent = m.recent[len(m.recent)-m.recentCap:]
	}
}

// Snapshot returns the counters and a copy of the recent ring, newest last.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	recent := make([]RequestSummary, len(m.recent))
	copy(recent, m.recent)
	return Stats{
		Total:     m.total,
		Succeeded: m.succeeded,
		Failed:    m.failed,
		Recent:    recent,
	}
}
