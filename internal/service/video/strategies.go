package video

import "github.com/CostsmpRTR/facebook-video-downloader/internal/domain"

const (
	desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	macUserAgent     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	mobileUserAgent  = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"
)

// Strategies returns the extraction fingerprints in the order they are tried:
// desktop browser, extractor-hinted generic client, mobile browser.
// A fresh slice is returned on each call so callers cannot mutate the catalog.
func Strategies() []domain.ExtractionStrategy {
	return []domain.ExtractionStrategy{
		{
			Name:      "desktop",
			UserAgent: desktopUserAgent,
			Headers: map[string]string{
				"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
				"Accept-Language": "en-us,en;q=0.5",
				"Sec-Fetch-Mode":  "navigate",
			},
		},
		{
			Name:      "generic",
			UserAgent: macUserAgent,
			ExtractorArgs: map[string]string{
				"facebook": "skip=dash",
			},
		},
		{
			Name:      "mobile",
			UserAgent: mobileUserAgent,
		},
	}
}

// DownloadStrategy is the fingerprint used for the actual file transfer.
func DownloadStrategy() domain.ExtractionStrategy {
	return domain.ExtractionStrategy{
		Name:      "download",
		UserAgent: desktopUserAgent,
	}
}
