// Package urlnorm canonicalizes clip URLs. The normalized form is the
// cache and cross-user dedup key, so Normalize must stay deterministic
// for the lifetime of stored jobs.
package urlnorm

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/clipbeat/api/internal/model"
)

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "igshid", "fbclid", "si"}

var (
	instagramPath = regexp.MustCompile(`/(reel|p)/([A-Za-z0-9_-]+)`)
	tiktokPath    = regexp.MustCompile(`/@[^/]+/video/(\d+)`)
	shortsPath    = regexp.MustCompile(`/shorts/([A-Za-z0-9_-]+)`)
)

// Normalize strips tracking parameters and rewrites known platforms to a
// minimal canonical form carrying only the content id. Unrecognized hosts
// pass through with parameters stripped; malformed URLs are returned
// unchanged. Normalize never fails and is idempotent.
func Normalize(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return raw
	}

	q := parsed.Query()
	for _, p := range trackingParams {
		q.Del(p)
	}
	parsed.RawQuery = q.Encode()

	host := strings.ToLower(parsed.Hostname())

	if strings.Contains(host, "instagram.com") {
		if m := instagramPath.FindStringSubmatch(parsed.Path); m != nil {
			return fmt.Sprintf("https://instagram.com/%s/%s/", m[1], m[2])
		}
	}
	if strings.Contains(host, "tiktok.com") {
		if m := tiktokPath.FindStringSubmatch(parsed.Path); m != nil {
			return "https://tiktok.com/video/" + m[1]
		}
	}
	if strings.Contains(host, "youtube.com") || strings.Contains(host, "youtu.be") {
		if m := shortsPath.FindStringSubmatch(parsed.Path); m != nil {
			return "https://youtube.com/shorts/" + m[1]
		}
	}

	return parsed.String()
}

// DetectPlatform matches known hostnames case-insensitively. "unknown" is a
// valid outcome, not an error; such jobs still enter the pipeline.
func DetectPlatform(raw string) model.Platform {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "instagram.com") || strings.Contains(lower, "instagr.am"):
		return model.PlatformInstagram
	case strings.Contains(lower, "tiktok.com") || strings.Contains(lower, "vm.tiktok"):
		return model.PlatformTikTok
	case strings.Contains(lower, "youtube.com") || strings.Contains(lower, "youtu.be") || strings.Contains(lower, "shorts"):
		return model.PlatformYouTube
	default:
		return model.PlatformUnknown
	}
}
