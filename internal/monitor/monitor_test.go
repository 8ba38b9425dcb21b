package monitor

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumabridge/lumabridge/internal/config"
	"github.com/lumabridge/lumabridge/internal/filebed"
	"github.com/lumabridge/lumabridge/internal/images"
	"github.com/lumabridge/lumabridge/internal/metrics"
	"github.com/lumabridge/lumabridge/internal/registry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testMonitor(t *testing.T, cfg *config.Config) (*Monitor, *registry.Registry, *images.Pipeline) {
	t.Helper()
	cfgFn := func() *config.Config { return cfg }
	reg := registry.New(8)
	imgs := images.NewPipeline(cfgFn, t.TempDir(), discardLogger())
	up := filebed.New(cfgFn, discardLogger())
	m := New(cfgFn, reg, imgs, up, metrics.NewCollector(), discardLogger())
	return m, reg, imgs
}

func TestSweepReleasesStaleQueues(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MetadataTimeoutMinutes = 30
	m, reg, _ := testMonitor(t, cfg)

	stale := &registry.Record{RequestID: "old", Model: "m1", CreatedAt: time.Now().Add(-time.Hour)}
	staleQ := reg.Register(stale)
	fresh := &registry.Record{RequestID: "new", Model: "m1", CreatedAt: time.Now()}
	freshQ := reg.Register(fresh)

	m.Sweep()

	assert.True(t, staleQ.Closed())
	assert.False(t, freshQ.Closed())
	assert.Equal(t, 1, reg.QueueCount())
}

func TestSweepReapsCompletedRecords(t *testing.T) {
	cfg := config.DefaultConfig()
	m, reg, _ := testMonitor(t, cfg)

	rec := &registry.Record{RequestID: "done", Model: "m1", CreatedAt: time.Now().Add(-2 * time.Hour)}
	reg.Register(rec)
	reg.ReleaseQueue("done")
	rec.CompletedAt = time.Now().Add(-time.Hour)

	m.Sweep()
	assert.Equal(t, 0, reg.RecordCount())
}

func TestMemoryPressureTrim(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MemoryManagement.GCThresholdMB = 1
	cfg.MemoryManagement.CacheConfig.ImageCacheKeepSize = 2
	cfg.MemoryManagement.CacheConfig.URLHistoryKeep = 1
	m, _, imgs := testMonitor(t, cfg)

	// hold enough live data to clear the 1MB threshold
	payload := strings.Repeat("x", 1<<20)
	for i := 0; i < 4; i++ {
		imgs.Base64Cache().Set(string(rune('a'+i)), payload)
		imgs.History().Add(string(rune('a' + i)))
	}

	m.checkMemoryPressure(cfg)

	assert.LessOrEqual(t, imgs.Base64Cache().Len(), 2)
	assert.LessOrEqual(t, imgs.History().Len(), 1)
}

func TestMemoryPressureDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MemoryManagement.GCThresholdMB = 0
	m, _, imgs := testMonitor(t, cfg)

	imgs.Base64Cache().Set("k", "v")
	m.checkMemoryPressure(cfg)
	assert.Equal(t, 1, imgs.Base64Cache().Len())
}

func TestRecordRequestCounters(t *testing.T) {
	cfg := config.DefaultConfig()
	m, _, _ := testMonitor(t, cfg)
	m.recentCap = 3

	for i := 0; i < 5; i++ {
		m.RecordRequest(RequestSummary{RequestID: "r", Model: "m1", Success: i%2 == 0})
	}

	stats := m.Snapshot()
	assert.Equal(t, uint64(5), stats.Total)
	assert.Equal(t, uint64(3), stats.Succeeded)
	assert.Equal(t, uint64(2), stats.Failed)
	require.Len(t, stats.Recent, 3)
}
