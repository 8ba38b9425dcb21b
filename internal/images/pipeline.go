// Package images downloads upstream-generated images, renders them as
// markdown for the client, and optionally persists them to disk.
package images

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lumabridge/lumabridge/internal/cache"
	"github.com/lumabridge/lumabridge/internal/config"
	"github.com/lumabridge/lumabridge/internal/httputil"
	"github.com/lumabridge/lumabridge/internal/resilience"
)

// Pipeline owns the shared download client, the base64 markdown cache and
// the local-save bookkeeping.
type Pipeline struct {
	cfg    func() *config.Config
	logger *slog.Logger

	client  *http.Client
	sem     *resilience.Semaphore
	b64     *cache.LRU
	history *cache.History

	baseDir string
}

// NewPipeline builds the pipeline from the current config. baseDir is the
// root for locally saved images.
func NewPipeline(cfg func() *config.Config, baseDir string, logger *slog.Logger) *Pipeline {
	c := cfg()
	pool := c.ConnectionPool
	cc := c.MemoryManagement.CacheConfig

	dialer := &net.Dialer{
		Timeout:   time.Duration(c.DownloadTimeout.Connect) * time.Second,
		KeepAlive: time.Duration(pool.KeepaliveTimeout) * time.Second,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        pool.TotalLimit,
		MaxConnsPerHost:     pool.PerHostLimit,
		MaxIdleConnsPerHost: pool.PerHostLimit,
		IdleConnTimeout:     time.Duration(pool.KeepaliveTimeout) * time.Second,
		// Upstream image hosts rotate through CDNs with mismatched certs.
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		ResponseHeaderTimeout: time.Duration(c.DownloadTimeout.SockRead) * time.Second,
	}

	return &Pipeline{
		cfg:     cfg,
		logger:  logger,
		client:  &http.Client{Transport: transport},
		sem:     resilience.NewSemaphore(c.MaxConcurrentDownloads),
		b64:     cache.NewLRU(cc.ImageCacheMaxEntries, time.Duration(cc.ImageCacheTTLSeconds)*time.Second),
		history: cache.NewHistory(cc.URLHistorySize),
		baseDir: baseDir,
	}
}

// Base64Cache exposes the markdown cache for the housekeeping monitor.
func (p *Pipeline) Base64Cache() *cache.LRU {
	return p.b64
}

// History exposes the downloaded-URL ring for the housekeeping monitor.
func (p *Pipeline) History() *cache.History {
	return p.history
}

// Semaphore exposes the download limiter so reloads can resize it.
func (p *Pipeline) Semaphore() *resilience.Semaphore {
	return p.sem
}

// Markdown renders one upstream image URL for the client per the configured
// return mode. In base64 mode a failed download degrades to the URL form.
func (p *Pipeline) Markdown(ctx context.Context, url, requestID string) string {
	cfg := p.cfg()

	if cfg.ImageReturnFormat.Mode == config.ImageReturnBase64 {
		if md, ok := p.b64.Get(url); ok {
			return md
		}
		raw, contentType, err := p.download(ctx, url)
		if err != nil {
			p.logger.Warn("image download failed, returning url form",
				"url", url, "error", err)
			return urlMarkdown(url)
		}
		md := fmt.Sprintf("![Image](data:%s;base64,%s)", contentType, base64.StdEncoding.EncodeToString(raw))
		p.b64.Set(url, md)
		if cfg.SaveImagesLocally {
			go p.saveLocally(raw, contentType, url, requestID)
		}
		return md
	}

	if cfg.SaveImagesLocally {
		go p.downloadAndSave(url, requestID)
	}
	return urlMarkdown(url)
}

func urlMarkdown(url string) string {
	return fmt.Sprintf("![Image](%s)", url)
}

// download fetches the image bytes under the concurrency semaphore, with
// retry and a short backoff.
func (p *Pipeline) download(ctx context.Context, url string) ([]byte, string, error) {
	cfg := p.cfg()

	if err := p.sem.Acquire(ctx); err != nil {
		return nil, "", err
	}
	defer p.sem.Release()

	maxRetries := cfg.DownloadTimeout.MaxRetries
	total := time.Duration(cfg.DownloadTimeout.Total) * time.Second

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, "", ctx.Err()
			}
		}

		raw, contentType, err := p.fetchOnce(ctx, url, total)
		if err == nil {
			return raw, contentType, nil
		}
		lastErr = err
		p.logger.Warn("image download attempt failed",
			"url", url, "attempt", attempt+1, "error", err)
	}
	return nil, "", lastErr
}

func (p *Pipeline) fetchOnce(ctx context.Context, url string, total time.Duration) ([]byte, string, error) {
	reqCtx := ctx
	if total > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, total)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	raw, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return nil, "", err
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(contentType)
	if !strings.HasPrefix(contentType, "image/") {
		contentType = contentTypeFromURL(url)
	}
	return raw, contentType, nil
}

// downloadAndSave is the url-mode background path.
func (p *Pipeline) downloadAndSave(url, requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	raw, contentType, err := p.download(ctx, url)
	if err != nil {
		p.logger.Warn("background image save failed", "url", url, "error", err)
		return
	}
	p.saveLocally(raw, contentType, url, requestID)
}

// saveLocally writes the image under baseDir/YYYYMMDD/, deduplicating by
// source URL and applying the optional format transform.
func (p *Pipeline) saveLocally(raw []byte, contentType, url, requestID string) {
	if p.history.Add(url) {
		return
	}
	cfg := p.cfg()

	data, ext := p.transform(raw, contentType, cfg.LocalSaveFormat)

	now := time.Now()
	dir := filepath.Join(p.baseDir, now.Format("20060102"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		p.logger.Error("cannot create image directory", "dir", dir, "error", err)
		return
	}

	rid := requestID
	if len(rid) > 8 {
		rid = rid[:8]
	}
	name := fmt.Sprintf("%s_%03d_%s%s",
		now.Format("20060102_150405"), now.Nanosecond()/1e6, rid, ext)

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		p.logger.Error("cannot write image file", "path", path, "error", err)
		return
	}
	p.logger.Info("image saved", "path", path, "bytes", len(data))
}

// transform re-encodes the raw bytes per local_save_format. Anything that
// cannot be decoded or encoded falls back to the original bytes.
func (p *Pipeline) transform(raw []byte, contentType string, format config.LocalSaveFormat) ([]byte, string) {
	origExt := extensionForType(contentType)
	if !format.Enabled || format.Format == "" || format.Format == "original" {
		return raw, origExt
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		p.logger.Warn("image decode failed, keeping original format", "error", err)
		return raw, origExt
	}

	var buf bytes.Buffer
	switch format.Format {
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return raw, origExt
		}
		return buf.Bytes(), ".png"
	case "jpeg", "jpg":
		quality := format.JPEGQuality
		if quality <= 0 || quality > 100 {
			quality = 95
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return raw, origExt
		}
		return buf.Bytes(), ".jpg"
	default:
		// No encoder for this target (webp among them); keep the original.
		return raw, origExt
	}
}

func extensionForType(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func contentTypeFromURL(url string) string {
	clean := url
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	switch strings.ToLower(filepath.Ext(clean)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
