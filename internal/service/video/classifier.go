package video

import (
	"net/url"
	"strings"
)

// Facebook domains, including the fb.watch short links shared from mobile.
var facebookDomains = []string{
	"facebook.com",
	"fb.com",
	"fb.watch",
	"m.facebook.com",
}

// IsFacebookURL reports whether rawURL mentions one of the Facebook domains.
// It is a case-insensitive substring match, not a URL parse, so a domain
// appearing in a query string also matches.
func IsFacebookURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, domain := range facebookDomains {
		if strings.Contains(lower, domain) {
			return true
		}
	}
	return false
}

// NormalizeURL trims whitespace and drops the fragment so equivalent links
// share a cache entry.
func NormalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	parsedURL.Fragment = ""
	normalized := parsedURL.String()

	// Remove trailing slash unless it's just the path
	if len(normalized) > 0 && normalized[len(normalized)-1] == '/' && parsedURL.Path != "/" {
		normalized = normalized[:len(normalized)-1]
	}

	return normalized
}
