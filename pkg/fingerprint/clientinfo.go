package fingerprint

import (
	"net"
	"net/http"
	"strings"

	"github.com/persona-ai/persona/pkg/models"
)

// FromRequest extracts the caller metadata a fingerprint is derived from.
// Country stays "unknown" unless an upstream enrichment layer fills it in.
func FromRequest(r *http.Request) models.Caller {
	ua := r.Header.Get("User-Agent")
	if ua == "" {
		ua = "unknown"
	}
	lang := r.Header.Get("Accept-Language")
	if lang == "" {
		lang = "unknown"
	}
	return models.Caller{
		Address:        ClientIP(r),
		ClientString:   ua,
		AcceptLanguage: lang,
		Country:        "unknown",
	}
}

// ClientIP resolves the originating client address, honoring proxy headers.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// First address in the chain is the original client.
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
	return host
}

// ClientInfo summarizes what a user-agent string reveals about the caller.
type ClientInfo struct {
	Browser string `json:"browser"`
	OS      string `json:"os"`
	Device  string `json:"device"`
	Mobile  bool   `json:"mobile"`
	Bot     bool   `json:"bot"`
}

var botIndicators = []string{"bot", "crawler", "spider", "scraper", "fetch", "curl", "wget"}

var mobileIndicators = []string{"mobile", "android", "iphone", "ipad", "tablet"}

// ParseUserAgent extracts browser, OS, and device class from a user-agent
// string. Best-effort string matching, not a full UA database.
func ParseUserAgent(ua string) ClientInfo {
	if ua == "" || ua == "unknown" {
		return ClientInfo{Browser: "unknown", OS: "unknown", Device: "unknown"}
	}
	lower := strings.ToLower(ua)

	info := ClientInfo{Browser: "unknown", OS: "unknown", Device: "desktop"}

	for _, ind := range botIndicators {
		if strings.Contains(lower, ind) {
			info.Bot = true
			break
		}
	}
	for _, ind := range mobileIndicators {
		if strings.Contains(lower, ind) {
			info.Mobile = true
			break
		}
	}

	switch {
	case strings.Contains(lower, "edg"):
		info.Browser = "Edge"
	case strings.Contains(lower, "chrome"):
		info.Browser = "Chrome"
	case strings.Contains(lower, "firefox"):
		info.Browser = "Firefox"
	case strings.Contains(lower, "safari"):
		info.Browser = "Safari"
	case strings.Contains(lower, "opera"), strings.Contains(lower, "opr"):
		info.Browser = "Opera"
	}

	// Mobile platforms first: iPhone user agents also mention "Mac OS X".
	switch {
	case strings.Contains(lower, "android"):
		info.OS = "Android"
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "ipad"):
		info.OS = "iOS"
	case strings.Contains(lower, "windows"):
		info.OS = "Windows"
	case strings.Contains(lower, "mac os"), strings.Contains(lower, "macos"):
		info.OS = "macOS"
	case strings.Contains(lower, "linux"):
		info.OS = "Linux"
	}

	if info.Mobile {
		if strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") {
			info.Device = "tablet"
		} else {
			info.Device = "mobile"
		}
	}
	return info
}
