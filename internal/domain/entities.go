// Package domain contains the core business entities and types.
package domain

import (
	"time"
)

// BestFormat is the selector sentinel meaning "whatever the upstream rates best".
const BestFormat = "best"

// DefaultTitle is used when the upstream document carries no title.
const DefaultTitle = "Facebook Video"

// VideoFormat is one player-compatible, selectable variant of a video.
type VideoFormat struct {
	FormatID   string `json:"format_id"`
	Resolution string `json:"resolution"`
	Ext        string `json:"ext"`
	Filesize   *int64 `json:"filesize"`
	FormatNote string `json:"format_note"`
}

// VideoInfo is the normalized result of a successful extraction.
type VideoInfo struct {
	DownloadID   string        `json:"download_id"`
	ThumbnailURL string        `json:"thumbnail_url,omitempty"`
	Title        string        `json:"title"`
	Duration     *int          `json:"duration"` // whole seconds
	Formats      []VideoFormat `json:"formats"`
}

// RawFormat mirrors one entry of the "formats" array in a yt-dlp info document.
type RawFormat struct {
	FormatID       string  `json:"format_id"`
	Protocol       string  `json:"protocol"`
	FormatNote     string  `json:"format_note"`
	Ext            string  `json:"ext"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Resolution     string  `json:"resolution"`
	Filesize       *int64  `json:"filesize"`
	FilesizeApprox *int64  `json:"filesize_approx"`
	TBR            float64 `json:"tbr"`
}

// RawMetadata is the subset of a yt-dlp info document the core reads.
type RawMetadata struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Thumbnail  string      `json:"thumbnail"`
	Duration   *float64    `json:"duration"`
	Ext        string      `json:"ext"`
	Extractor  string      `json:"extractor"`
	WebpageURL string      `json:"webpage_url"`
	Filename   string      `json:"_filename"`
	Formats    []RawFormat `json:"formats"`
}

// ExtractionStrategy is one request fingerprint used to probe the upstream.
type ExtractionStrategy struct {
	Name          string
	UserAgent     string
	Headers       map[string]string
	ExtractorArgs map[string]string // extractor -> "key=value" hint, e.g. facebook: "skip=dash"
}

// SessionStatus represents where a download session is in its lifecycle.
type SessionStatus string

const (
	SessionStatusExtracting  SessionStatus = "extracting"
	SessionStatusReady       SessionStatus = "ready"
	SessionStatusDownloading SessionStatus = "downloading"
	SessionStatusDownloaded  SessionStatus = "downloaded"
	SessionStatusFailed      SessionStatus = "failed"
)

// Session is the bookkeeping record of one extraction-through-cleanup interaction.
type Session struct {
	ID        string        `json:"id"`
	URL       string        `json:"url"`
	Title     string        `json:"title,omitempty"`
	Status    SessionStatus `json:"status"`
	FormatID  string        `json:"format_id,omitempty"`
	FilePath  string        `json:"-"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NewSession creates a Session in the extracting state.
func NewSession(id, url string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		URL:       url,
		Status:    SessionStatusExtracting,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MarkReady records a successful extraction.
func (s *Session) MarkReady(title string) {
	s.Title = title
	s.Status = SessionStatusReady
	s.UpdatedAt = time.Now().UTC()
}

// MarkDownloading records the format being fetched.
func (s *Session) MarkDownloading(formatID string) {
	s.FormatID = formatID
	s.Status = SessionStatusDownloading
	s.UpdatedAt = time.Now().UTC()
}

// MarkDownloaded records the resolved output file.
func (s *Session) MarkDownloaded(filePath string) {
	s.FilePath = filePath
	s.Status = SessionStatusDownloaded
	s.UpdatedAt = time.Now().UTC()
}

// MarkFailed records a terminal error.
func (s *Session) MarkFailed(err string) {
	s.Error = err
	s.Status = SessionStatusFailed
	s.UpdatedAt = time.Now().UTC()
}

// InfoRequest is the body of POST /api/v1/video/info.
type InfoRequest struct {
	URL string `json:"url"`
}

// DownloadRequest is the body of POST /api/v1/video/download.
type DownloadRequest struct {
	URL        string `json:"url"`
	DownloadID string `json:"download_id"`
	FormatID   string `json:"format_id,omitempty"`
}

// DownloadLinkResponse is returned when the file was offloaded to object storage.
type DownloadLinkResponse struct {
	DownloadURL string `json:"download_url"`
	Filename    string `json:"filename"`
}

// HealthResponse represents the response for a health check.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	QueueSize int    `json:"queue_size"`
	Workers   int    `json:"workers"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
