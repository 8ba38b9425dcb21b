// Package geo classifies client requests for usage logging: rough
// geolocation by IP and platform by user agent. The default implementation
// is static; a real GeoIP backend can replace it behind the same interface.
package geo

import (
	"context"
	"net"
	"strings"
)

// Service resolves client location and platform for logging.
type Service interface {
	Lookup(ctx context.Context, ip string) (country, city string)
	ClassifyUA(userAgent string) string
}

// Platform labels produced by ClassifyUA.
const (
	PlatformWindows = "Windows"
	PlatformMacOS   = "macOS"
	PlatformLinux   = "Linux"
	PlatformAndroid = "Android"
	PlatformIOS     = "iOS"
	PlatformUnknown = "Unknown"
)

// Static is the default Service: no external lookups, private and loopback
// addresses map to "Local".
type Static struct{}

// NewStatic returns the static classifier.
func NewStatic() *Static {
	return &Static{}
}

// Lookup reports "Local" for loopback and private ranges and "Unknown"
// otherwise.
func (s *Static) Lookup(_ context.Context, ip string) (string, string) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "Unknown", "Unknown"
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast() {
		return "Local", "Local"
	}
	return "Unknown", "Unknown"
}

// ClassifyUA maps a user agent to a coarse platform label. Mobile tokens
// are checked first since Android UAs also carry "Linux".
func (s *Static) ClassifyUA(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "android"):
		return PlatformAndroid
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ios"):
		return PlatformIOS
	case strings.Contains(ua, "windows"):
		return PlatformWindows
	case strings.Contains(ua, "mac os"), strings.Contains(ua, "macintosh"), strings.Contains(ua, "darwin"):
		return PlatformMacOS
	case strings.Contains(ua, "linux"):
		return PlatformLinux
	default:
		return PlatformUnknown
	}
}

// ClientIP extracts the originating address from forwarding headers,
// falling back to the raw remote address.
func ClientIP(remoteAddr, forwardedFor, realIP string) string {
	if forwardedFor != "" {
		parts := strings.Split(forwardedFor, ",")
		if first := strings.TrimSpace(parts[0]); first != "" {
			return first
		}
	}
	if realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
