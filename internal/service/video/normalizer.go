package video

import (
	"fmt"
	"strings"

	"github.com/CostsmpRTR/facebook-video-downloader/internal/domain"
)

var (
	// Segmented delivery that browsers and basic players can't play directly.
	streamingProtocols = []string{"m3u8", "dash", "http_dash_segments"}
	streamingNotes     = []string{"dash", "hls", "fragment"}

	compatibleContainers = map[string]bool{
		"mp4": true,
		"mov": true,
		"avi": true,
		"mkv": true,
	}
)

// fallbackFormat is offered when nothing survives filtering.
func fallbackFormat() domain.VideoFormat {
	return domain.VideoFormat{
		FormatID:   domain.BestFormat,
		Resolution: domain.BestFormat,
		Ext:        "mp4",
		FormatNote: "Best available quality - MP4 (recommended)",
	}
}

// NormalizeFormats filters raw descriptors down to progressive video formats in
// a compatible container, keeps the first entry per resolution and never
// returns an empty list.
func NormalizeFormats(raw []domain.RawFormat) []domain.VideoFormat {
	formats := make([]domain.VideoFormat, 0, len(raw))
	seen := make(map[string]bool, len(raw))

	for _, rf := range raw {
		f, ok := normalizeFormat(rf)
		if !ok || seen[f.Resolution] {
			continue
		}
		seen[f.Resolution] = true
		formats = append(formats, f)
	}

	if len(formats) == 0 {
		return []domain.VideoFormat{fallbackFormat()}
	}
	return formats
}

func normalizeFormat(rf domain.RawFormat) (domain.VideoFormat, bool) {
	if isStreaming(rf) {
		return domain.VideoFormat{}, false
	}

	if rf.VCodec == "" || rf.VCodec == "none" {
		return domain.VideoFormat{}, false
	}

	resolution := formatResolution(rf)
	if resolution == "audio only" {
		return domain.VideoFormat{}, false
	}

	ext := rf.Ext
	if ext == "" {
		ext = "mp4"
	}
	if !compatibleContainers[ext] {
		return domain.VideoFormat{}, false
	}

	formatID := rf.FormatID
	if formatID == "" {
		formatID = domain.BestFormat
	}

	note := fmt.Sprintf("Standard quality - %s", strings.ToUpper(ext))
	if rf.Height > 0 {
		note = fmt.Sprintf("%s - %s", resolution, strings.ToUpper(ext))
	}

	return domain.VideoFormat{
		FormatID:   formatID,
		Resolution: resolution,
		Ext:        ext,
		Filesize:   rf.Filesize,
		FormatNote: note,
	}, true
}

func isStreaming(rf domain.RawFormat) bool {
	for _, p := range streamingProtocols {
		if strings.Contains(rf.Protocol, p) {
			return true
		}
	}

	note := strings.ToLower(rf.FormatNote)
	for _, n := range streamingNotes {
		if strings.Contains(note, n) {
			return true
		}
	}
	return false
}

func formatResolution(rf domain.RawFormat) string {
	switch {
	case rf.Width > 0 && rf.Height > 0:
		return fmt.Sprintf("%dx%d", rf.Width, rf.Height)
	case rf.Resolution != "":
		return rf.Resolution
	case rf.FormatNote != "":
		return rf.FormatNote
	default:
		return "unknown"
	}
}
