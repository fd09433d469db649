package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL drops the fragment and a trailing slash so equivalent links
// share one dedup key. The slash is only stripped when the URL holds more
// than two, so a scheme-less "a//" is left alone.
func NormalizeURL(rawURL string) string {
	normalized := rawURL
	if idx := strings.Index(normalized, "#"); idx > 0 {
		normalized = normalized[:idx]
	}
	if strings.HasSuffix(normalized, "/") && strings.Count(normalized, "/") > 2 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

// Eligible reports whether link may be enqueued when discovered on parentURL.
func Eligible(link, parentURL string, policy Policy) bool {
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		return false
	}
	if policy.StayOnDomain {
		linkHost, err := hostOf(link)
		if err != nil {
			return false
		}
		parentHost, err := hostOf(parentURL)
		if err != nil {
			return false
		}
		if linkHost != parentHost {
			return false
		}
	}
	if len(policy.IncludePatterns) > 0 && !containsAny(link, policy.IncludePatterns) {
		return false
	}
	return !containsAny(link, policy.ExcludePatterns)
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Hostname() == "" {
		return "", errors.New("url has no host")
	}
	return u.Hostname(), nil
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
