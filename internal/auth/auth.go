// Package auth defines the token validation and usage logging contract the
// bridge consumes. Token storage itself lives outside the bridge; the
// in-memory implementations here serve tests and deployments without a
// token database.
package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// TokenInfo describes a validated client token.
type TokenInfo struct {
	Name      string
	ExpiresAt time.Time
	Disabled  bool
}

// Expired reports whether the token is past its expiry. A zero ExpiresAt
// never expires.
func (t *TokenInfo) Expired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// UsageRecord is one completed relay, reported after the response drains.
type UsageRecord struct {
	TokenName        string
	Model            string
	Stream           bool
	PromptTokens     int
	CompletionTokens int
	ClientIP         string
	UserAgent        string
	Country          string
	City             string
	Platform         string
	StartedAt        time.Time
	FinishedAt       time.Time
	Failed           bool
	ErrorKind        string
}

// TokenService validates bearer tokens and receives usage reports.
type TokenService interface {
	Validate(ctx context.Context, token string) (*TokenInfo, error)
	LogUsage(ctx context.Context, rec UsageRecord) error
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// StaticService validates against a single configured key. An empty key
// accepts every request, matching an api_key-less config.
type StaticService struct {
	key string

	mu      sync.Mutex
	records []UsageRecord
}

// NewStaticService creates a service keyed on the configured api_key.
func NewStaticService(key string) *StaticService {
	return &StaticService{key: key}
}

// Validate accepts the configured key, or anything when no key is set.
func (s *StaticService) Validate(_ context.Context, token string) (*TokenInfo, error) {
	if s.key != "" && token != s.key {
		return nil, ErrInvalidToken
	}
	return &TokenInfo{Name: "default"}, nil
}

// LogUsage retains records in memory, newest last.
func (s *StaticService) LogUsage(_ context.Context, rec UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if len(s.records) > maxRetainedRecords {
		s.records = s.records[len(s.records)-maxRetainedRecords:]
	}
	return nil
}

// Records returns a copy of the retained usage records.
func (s *StaticService) Records() []UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UsageRecord, len(s.records))
	copy(out, s.records)
	return out
}

const maxRetainedRecords = 1000
