// Package config loads and watches the bridge configuration. The main file
// is JSONC (JSON with comments); model and endpoint maps are plain JSON.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
)

// Session modes reported by the ID capture flow.
const (
	ModeDirectChat = "direct_chat"
	ModeBattle     = "battle"
)

// Reasoning output modes.
const (
	ReasoningModeOpenAI   = "openai"
	ReasoningModeThinkTag = "think_tag"
)

// File-bed selection strategies.
const (
	StrategyRandom     = "random"
	StrategyRoundRobin = "round_robin"
	StrategyFailover   = "failover"
)

// Image return modes.
const (
	ImageReturnURL    = "url"
	ImageReturnBase64 = "base64"
)

// Config is the process-wide bridge configuration. It is loaded once at
// startup and swapped atomically on reload; readers must treat it as
// immutable.
type Config struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`

	IDUpdaterLastMode     string `json:"id_updater_last_mode"`
	IDUpdaterBattleTarget string `json:"id_updater_battle_target"`

	TavernModeEnabled bool `json:"tavern_mode_enabled"`

	BypassEnabled   bool            `json:"bypass_enabled"`
	BypassSettings  map[string]bool `json:"bypass_settings"`
	BypassInjection BypassInjection `json:"bypass_injection"`

	EnableAutoRetry     bool `json:"enable_auto_retry"`
	RetryTimeoutSeconds int  `json:"retry_timeout_seconds"`

	UseDefaultIDsIfMappingNotFound bool `json:"use_default_ids_if_mapping_not_found"`

	EnableReasoning           bool   `json:"enable_lmarena_reasoning"`
	ReasoningOutputMode       string `json:"reasoning_output_mode"`
	PreserveStreaming         bool   `json:"preserve_streaming"`
	StripReasoningFromHistory bool   `json:"strip_reasoning_from_history"`

	ShowRetryInfoToClient bool `json:"show_retry_info_to_client"`

	StreamResponseTimeoutSeconds int `json:"stream_response_timeout_seconds"`

	FileBedEnabled           bool              `json:"file_bed_enabled"`
	FileBedEndpoints         []FileBedEndpoint `json:"file_bed_endpoints"`
	FileBedSelectionStrategy string            `json:"file_bed_selection_strategy"`

	ImageReturnFormat            ImageReturnFormat `json:"image_return_format"`
	SaveImagesLocally            bool              `json:"save_images_locally"`
	LocalSaveFormat              LocalSaveFormat   `json:"local_save_format"`
	ImageAttachmentBypassEnabled bool              `json:"image_attachment_bypass_enabled"`

	MaxConcurrentDownloads int             `json:"max_concurrent_downloads"`
	ConnectionPool         ConnectionPool  `json:"connection_pool"`
	DownloadTimeout        DownloadTimeout `json:"download_timeout"`

	MemoryManagement MemoryManagement `json:"memory_management"`

	MetadataTimeoutMinutes int `json:"metadata_timeout_minutes"`
}

// BypassInjection selects the trailing message appended when content bypass
// is active for a model type.
type BypassInjection struct {
	ActivePreset string                   `json:"active_preset"`
	Presets      map[string]BypassMessage `json:"presets"`
	Custom       *BypassMessage           `json:"custom"`
}

// BypassMessage is the injected trailing message.
type BypassMessage struct {
	Role                string `json:"role"`
	Content             string `json:"content"`
	ParticipantPosition string `json:"participantPosition"`
}

// FileBedEndpoint is one upload target. JSONURLKey is a dotted path into a
// JSON upload response; text responses are scanned for a URL (or a
// "wget <url>" line) and the Location header is honoured either way.
type FileBedEndpoint struct {
	Name           string            `json:"name"`
	URL            string            `json:"url"`
	Enabled        *bool             `json:"enabled"`
	FormFileField  string            `json:"form_file_field"`
	FormDataFields map[string]string `json:"form_data_fields"`
	ResponseType   string            `json:"response_type"`
	JSONURLKey     string            `json:"json_url_key"`
	APIKey         string            `json:"api_key"`
	APIKeyField    string            `json:"api_key_field"`
	TimeoutSeconds int               `json:"timeout_seconds"`
}

// IsEnabled treats a missing enabled flag as on.
func (e *FileBedEndpoint) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// ImageReturnFormat controls how upstream image URLs are rendered to the
// client.
type ImageReturnFormat struct {
	Mode string `json:"mode"`
}

// LocalSaveFormat controls on-disk persistence of downloaded images.
type LocalSaveFormat struct {
	Enabled     bool   `json:"enabled"`
	Format      string `json:"format"`
	JPEGQuality int    `json:"jpeg_quality"`
}

// ConnectionPool tunes the shared download HTTP client.
type ConnectionPool struct {
	TotalLimit       int `json:"total_limit"`
	PerHostLimit     int `json:"per_host_limit"`
	DNSCacheTTL      int `json:"dns_cache_ttl"`
	KeepaliveTimeout int `json:"keepalive_timeout"`
}

// DownloadTimeout layers the image download timeouts, all in seconds.
type DownloadTimeout struct {
	Total      int `json:"total"`
	Connect    int `json:"connect"`
	SockRead   int `json:"sock_read"`
	MaxRetries int `json:"max_retries"`
}

// MemoryManagement tunes the housekeeping monitor and the in-process caches.
type MemoryManagement struct {
	GCThresholdMB int         `json:"gc_threshold_mb"`
	CacheConfig   CacheConfig `json:"cache_config"`
}

// CacheConfig bounds the image and file-bed caches.
type CacheConfig struct {
	ImageCacheMaxEntries      int `json:"image_cache_max_entries"`
	ImageCacheTTLSeconds      int `json:"image_cache_ttl_seconds"`
	FileBedURLCacheMaxEntries int `json:"filebed_url_cache_max_entries"`
	FileBedURLCacheTTLSeconds int `json:"filebed_url_cache_ttl_seconds"`
	RecoveryTimeSeconds       int `json:"filebed_recovery_time_seconds"`
	URLHistorySize            int `json:"url_history_size"`
	ImageCacheKeepSize        int `json:"image_cache_keep_size"`
	URLHistoryKeep            int `json:"url_history_keep"`
}

// DefaultConfig returns a configuration with sensible defaults. File values
// override these field by field.
func DefaultConfig() *Config {
	return &Config{
		IDUpdaterLastMode:            ModeDirectChat,
		IDUpdaterBattleTarget:        "A",
		EnableAutoRetry:              true,
		RetryTimeoutSeconds:          120,
		StreamResponseTimeoutSeconds: 360,
		EnableReasoning:              true,
		ReasoningOutputMode:          ReasoningModeThinkTag,
		PreserveStreaming:            true,
		FileBedSelectionStrategy:     StrategyRandom,
		ImageReturnFormat:            ImageReturnFormat{Mode: ImageReturnURL},
		LocalSaveFormat:              LocalSaveFormat{Format: "original", JPEGQuality: 95},
		MaxConcurrentDownloads:       5,
		ConnectionPool: ConnectionPool{
			TotalLimit:       100,
			PerHostLimit:     30,
			DNSCacheTTL:      300,
			KeepaliveTimeout: 60,
		},
		DownloadTimeout: DownloadTimeout{
			Total:      120,
			Connect:    15,
			SockRead:   45,
			MaxRetries: 2,
		},
		MemoryManagement: MemoryManagement{
			GCThresholdMB: 500,
			CacheConfig: CacheConfig{
				ImageCacheMaxEntries:      100,
				ImageCacheTTLSeconds:      3600,
				FileBedURLCacheMaxEntries: 200,
				FileBedURLCacheTTLSeconds: 300,
				RecoveryTimeSeconds:       300,
				URLHistorySize:            256,
				ImageCacheKeepSize:        50,
				URLHistoryKeep:            128,
			},
		},
		MetadataTimeoutMinutes: 30,
	}
}

// LoadFromFile reads a JSONC configuration file, applies it over the
// defaults and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(stripJSONComments(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks enum fields and numeric bounds.
func (c *Config) Validate() error {
	switch c.IDUpdaterLastMode {
	case ModeDirectChat, ModeBattle:
	default:
		return fmt.Errorf("unknown id_updater_last_mode %q", c.IDUpdaterLastMode)
	}
	switch c.IDUpdaterBattleTarget {
	case "A", "B":
	default:
		return fmt.Errorf("unknown id_updater_battle_target %q", c.IDUpdaterBattleTarget)
	}
	switch c.ReasoningOutputMode {
	case ReasoningModeOpenAI, ReasoningModeThinkTag:
	default:
		return fmt.Errorf("unknown reasoning_output_mode %q", c.ReasoningOutputMode)
	}
	switch c.FileBedSelectionStrategy {
	case StrategyRandom, StrategyRoundRobin, StrategyFailover:
	default:
		return fmt.Errorf("unknown file_bed_selection_strategy %q", c.FileBedSelectionStrategy)
	}
	switch c.ImageReturnFormat.Mode {
	case ImageReturnURL, ImageReturnBase64:
	default:
		return fmt.Errorf("unknown image_return_format.mode %q", c.ImageReturnFormat.Mode)
	}
	if c.RetryTimeoutSeconds <= 0 {
		return fmt.Errorf("retry_timeout_seconds must be positive, got %d", c.RetryTimeoutSeconds)
	}
	if c.StreamResponseTimeoutSeconds <= 0 {
		return fmt.Errorf("stream_response_timeout_seconds must be positive, got %d", c.StreamResponseTimeoutSeconds)
	}
	if c.MaxConcurrentDownloads <= 0 {
		return fmt.Errorf("max_concurrent_downloads must be positive, got %d", c.MaxConcurrentDownloads)
	}
	if c.FileBedEnabled && len(c.FileBedEndpoints) == 0 {
		return fmt.Errorf("file_bed_enabled requires at least one endpoint")
	}
	return nil
}

// StreamTimeout is StreamResponseTimeoutSeconds as a duration.
func (c *Config) StreamTimeout() time.Duration {
	return time.Duration(c.StreamResponseTimeoutSeconds) * time.Second
}

// RetryTimeout is RetryTimeoutSeconds as a duration.
func (c *Config) RetryTimeout() time.Duration {
	return time.Duration(c.RetryTimeoutSeconds) * time.Second
}

// MetadataTimeout is MetadataTimeoutMinutes as a duration.
func (c *Config) MetadataTimeout() time.Duration {
	return time.Duration(c.MetadataTimeoutMinutes) * time.Minute
}

// EffectiveBypass resolves the bypass switch for a model type: the global
// flag gates everything, then the per-type override. Image and search
// models default to off when no override is set.
func (c *Config) EffectiveBypass(modelType string) bool {
	if !c.BypassEnabled {
		return false
	}
	if v, ok := c.BypassSettings[modelType]; ok {
		return v
	}
	switch modelType {
	case ModelTypeImage, ModelTypeSearch:
		return false
	}
	return true
}

// BypassMessageFor picks the injected trailing message: active preset first,
// then the custom entry, then a hard default.
func (c *Config) BypassMessageFor() BypassMessage {
	if c.BypassInjection.ActivePreset != "" {
		if msg, ok := c.BypassInjection.Presets[c.BypassInjection.ActivePreset]; ok {
			return msg
		}
	}
	if c.BypassInjection.Custom != nil {
		return *c.BypassInjection.Custom
	}
	return BypassMessage{Role: "user", Content: " ", ParticipantPosition: "a"}
}
