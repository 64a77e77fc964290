package transcript

import (
	"net/url"
	"strings"
)

// Platform is the closed set of supported content sources. Each one pairs a
// URL validator with its provider endpoint.
type Platform struct {
	Name     string
	Label    string
	Endpoint string
	Validate func(rawURL string) bool
}

var (
	TikTok = Platform{
		Name:     "tiktok",
		Label:    "TikTok video",
		Endpoint: "/v1/tiktok/video/transcript",
		Validate: isTikTokURL,
	}
	YouTube = Platform{
		Name:     "youtube",
		Label:    "YouTube video",
		Endpoint: "/v1/youtube/video/transcript",
		Validate: isYouTubeURL,
	}
	Instagram = Platform{
		Name:     "instagram",
		Label:    "Instagram reel or post",
		Endpoint: "/v1/instagram/post/transcript",
		Validate: isInstagramURL,
	}
)

var platforms = map[string]Platform{
	TikTok.Name:    TikTok,
	YouTube.Name:   YouTube,
	Instagram.Name: Instagram,
}

func Lookup(name string) (Platform, bool) {
	p, ok := platforms[strings.ToLower(name)]
	return p, ok
}

func parseHTTPURL(raw string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return nil, false
	}
	return u, true
}

func hostMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func isTikTokURL(raw string) bool {
	u, ok := parseHTTPURL(raw)
	if !ok {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if !hostMatches(host, "tiktok.com") {
		return false
	}
	if host == "vm.tiktok.com" {
		return true
	}
	return strings.Contains(u.Path, "/video/")
}

func isYouTubeURL(raw string) bool {
	u, ok := parseHTTPURL(raw)
	if !ok {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "youtu.be" {
		return len(u.Path) > 1
	}
	if !hostMatches(host, "youtube.com") {
		return false
	}
	return strings.Contains(u.Path, "/watch") ||
		strings.Contains(u.Path, "/shorts/") ||
		u.Query().Has("v")
}

func isInstagramURL(raw string) bool {
	u, ok := parseHTTPURL(raw)
	if !ok {
		return false
	}
	if !hostMatches(strings.ToLower(u.Hostname()), "instagram.com") {
		return false
	}
	return strings.Contains(u.Path, "/reel/") || strings.Contains(u.Path, "/p/")
}
