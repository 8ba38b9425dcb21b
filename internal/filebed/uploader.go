// Package filebed uploads inline base64 images to an external file bed so
// the upstream payload carries URLs instead of megabytes of base64.
package filebed

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"

	"github.com/lumabridge/lumabridge/internal/cache"
	"github.com/lumabridge/lumabridge/internal/config"
	"github.com/lumabridge/lumabridge/internal/httputil"
	"github.com/lumabridge/lumabridge/pkg/errors"
)

var (
	urlPattern  = regexp.MustCompile(`https?://[^\s"'<>]+`)
	wgetPattern = regexp.MustCompile(`wget\s+(https?://\S+)`)
)

// Uploader picks a file-bed endpoint per the configured strategy, uploads,
// and caches resulting URLs by payload hash. Failing endpoints are disabled
// for a recovery window and skipped until it lapses.
type Uploader struct {
	cfg    func() *config.Config
	logger *slog.Logger

	client   *http.Client
	urlCache *cache.LRU
	disabled *gocache.Cache

	mu      sync.Mutex
	rrIndex uint64

	uploads atomic.Int64
	reuses  atomic.Int64
}

// New creates an uploader. cfg must return the current configuration.
func New(cfg func() *config.Config, logger *slog.Logger) *Uploader {
	c := cfg()
	cc := c.MemoryManagement.CacheConfig

	recovery := time.Duration(cc.RecoveryTimeSeconds) * time.Second
	if recovery <= 0 {
		recovery = 5 * time.Minute
	}

	return &Uploader{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{
			Transport: &http.Transport{
				// File beds are frequently self-hosted with self-signed
				// certificates.
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
		},
		urlCache: cache.NewLRU(cc.FileBedURLCacheMaxEntries,
			time.Duration(cc.FileBedURLCacheTTLSeconds)*time.Second),
		disabled: gocache.New(recovery, time.Minute),
	}
}

// URLCache exposes the hash-to-URL cache for the housekeeping monitor.
func (u *Uploader) URLCache() *cache.LRU {
	return u.urlCache
}

// CacheKey hashes a base64 payload (the part after the data-URI comma).
func CacheKey(base64Payload string) string {
	sum := sha256.Sum256([]byte(base64Payload))
	return hex.EncodeToString(sum[:])
}

// UploadBase64 uploads one base64 payload and returns its hosted URL. The
// hash cache short-circuits repeated uploads of the same bytes.
func (u *Uploader) UploadBase64(ctx context.Context, base64Payload, contentType, filename string) (string, error) {
	key := CacheKey(base64Payload)
	if url, ok := u.urlCache.Get(key); ok {
		u.reuses.Add(1)
		return url, nil
	}

	raw, err := base64.StdEncoding.DecodeString(base64Payload)
	if err != nil {
		return "", errors.NewAttachmentProcessingError(fmt.Sprintf("invalid base64 image data: %v", err))
	}

	for _, ep := range u.candidates() {
		url, err := u.tryUpload(ctx, ep, raw, contentType, filename)
		if err != nil {
			u.logger.Warn("file bed endpoint failed, disabling",
				"endpoint", ep.Name, "error", err)
			u.disabled.SetDefault(ep.Name, time.Now())
			continue
		}
		u.urlCache.Set(key, url)
		u.uploads.Add(1)
		return url, nil
	}
	return "", errors.NewAttachmentProcessingError("all file bed endpoints failed")
}

// candidates orders the enabled, non-disabled endpoints per the configured
// strategy.
func (u *Uploader) candidates() []config.FileBedEndpoint {
	cfg := u.cfg()

	active := make([]config.FileBedEndpoint, 0, len(cfg.FileBedEndpoints))
	for _, ep := range cfg.FileBedEndpoints {
		if !ep.IsEnabled() {
			continue
		}
		if _, found := u.disabled.Get(ep.Name); found {
			continue
		}
		active = append(active, ep)
	}
	if len(active) <= 1 {
		return active
	}

	switch cfg.FileBedSelectionStrategy {
	case config.StrategyRoundRobin:
		u.mu.Lock()
		start := int(u.rrIndex % uint64(len(active)))
		u.rrIndex++
		u.mu.Unlock()
		rotated := make([]config.FileBedEndpoint, 0, len(active))
		rotated = append(rotated, active[start:]...)
		rotated = append(rotated, active[:start]...)
		return rotated
	case config.StrategyFailover:
		return active
	default: // random
		shuffled := make([]config.FileBedEndpoint, len(active))
		copy(shuffled, active)
		rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		return shuffled
	}
}

func (u *Uploader) tryUpload(ctx context.Context, ep config.FileBedEndpoint, raw []byte, contentType, filename string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	field := ep.FormFileField
	if field == "" {
		field = "file"
	}
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(raw); err != nil {
		return "", err
	}
	for k, v := range ep.FormDataFields {
		if err := writer.WriteField(k, v); err != nil {
			return "", err
		}
	}
	if ep.APIKey != "" && ep.APIKeyField != "" {
		if err := writer.WriteField(ep.APIKeyField, ep.APIKey); err != nil {
			return "", err
		}
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	timeout := time.Duration(ep.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, ep.URL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if ep.APIKey != "" && ep.APIKeyField == "" {
		req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}
	_ = contentType // the file bed infers the type from the filename

	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return "", fmt.Errorf("upload returned status %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "" {
		return loc, nil
	}

	data, err := httputil.ReadLimitedBody(resp.Body, 1<<20)
	if err != nil {
		return "", err
	}
	return extractURL(ep, data)
}

// extractURL pulls the hosted URL out of an upload response body.
func extractURL(ep config.FileBedEndpoint, body []byte) (string, error) {
	if ep.ResponseType == "json" || ep.JSONURLKey != "" {
		key := ep.JSONURLKey
		if key == "" {
			key = "url"
		}
		if v := gjson.GetBytes(body, key); v.Exists() && v.String() != "" {
			return v.String(), nil
		}
		return "", fmt.Errorf("no %q field in upload response", key)
	}

	text := strings.TrimSpace(string(body))
	if m := wgetPattern.FindStringSubmatch(text); m != nil {
		return m[1], nil
	}
	if m := urlPattern.FindString(text); m != "" {
		return m, nil
	}
	return "", fmt.Errorf("no URL in upload response")
}

// Stats reports uploader activity for the status endpoint.
type Stats struct {
	Uploads   int64       `json:"uploads"`
	CacheHits int64       `json:"cache_hits"`
	Disabled  []string    `json:"disabled_endpoints"`
	URLCache  cache.Stats `json:"url_cache"`
}

// Stats returns a snapshot of uploader activity.
func (u *Uploader) Stats() Stats {
	disabled := make([]string, 0, u.disabled.ItemCount())
	for name := range u.disabled.Items() {
		disabled = append(disabled, name)
	}
	return Stats{
		Uploads:   u.uploads.Load(),
		CacheHits: u.reuses.Load(),
		Disabled:  disabled,
		URLCache:  u.urlCache.Stats(),
	}
}
