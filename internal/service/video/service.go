// Package video orchestrates metadata extraction and downloads for Facebook
// videos on top of an opaque extraction capability.
package video

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/CostsmpRTR/facebook-video-downloader/internal/domain"
	"github.com/CostsmpRTR/facebook-video-downloader/internal/service/downloader"
)

// outputTemplate names files after the media title and container.
const outputTemplate = "%(title)s.%(ext)s"

// Extractor is the extraction capability (yt-dlp in production).
type Extractor interface {
	Probe(ctx context.Context, url string, strategy domain.ExtractionStrategy) (*domain.RawMetadata, error)
	Fetch(ctx context.Context, url string, opts downloader.FetchOptions) (*domain.RawMetadata, string, error)
}

// ScratchSpace owns the per-session directories.
type ScratchSpace interface {
	Dir(id string) (string, error)
	Ensure(id string) (string, error)
	RemoveSession(id string) error
	SessionOf(path string) (string, error)
}

// SessionStore records live sessions. Failures are logged, never surfaced.
type SessionStore interface {
	Save(ctx context.Context, s *domain.Session) error
	Delete(ctx context.Context, id string) error
}

// MetadataCache short-circuits repeated probes of the same URL.
type MetadataCache interface {
	Get(url string) (*domain.RawMetadata, bool)
	Set(url string, info *domain.RawMetadata)
	Delete(url string)
}

// Config wires the Service's collaborators. Extractor and Scratch are required.
type Config struct {
	Extractor  Extractor
	Scratch    ScratchSpace
	Sessions   SessionStore  // optional
	Cache      MetadataCache // optional
	NewID      func() string // defaults to uuid.NewString
	Strategies []domain.ExtractionStrategy
	Logger     *slog.Logger
}

// Service implements extraction, download and cleanup.
type Service struct {
	extractor  Extractor
	scratch    ScratchSpace
	sessions   SessionStore
	cache      MetadataCache
	newID      func() string
	strategies []domain.ExtractionStrategy
	logger     *slog.Logger
}

// NewService creates a new Service.
func NewService(cfg Config) *Service {
	s := &Service{
		extractor:  cfg.Extractor,
		scratch:    cfg.Scratch,
		sessions:   cfg.Sessions,
		cache:      cfg.Cache,
		newID:      cfg.NewID,
		strategies: cfg.Strategies,
		logger:     cfg.Logger,
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.strategies == nil {
		s.strategies = Strategies()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Extract validates url, allocates a session and returns normalized metadata
// from the first strategy that succeeds. Strategies run strictly in order.
func (s *Service) Extract(ctx context.Context, url string) (*domain.VideoInfo, error) {
	url = strings.TrimSpace(url)
	if !IsFacebookURL(url) {
		return nil, domain.ErrInvalidURL
	}

	id := s.newID()
	if _, err := s.scratch.Ensure(id); err != nil {
		return nil, err
	}

	session := domain.NewSession(id, url)
	s.saveSession(ctx, session)

	raw, err := s.probe(ctx, url)
	if err != nil {
		s.logger.Error("All extraction strategies failed",
			"session_id", id,
			"url", url,
			"error", err,
		)
		s.discard(ctx, id)
		return nil, domain.NewExtractionError(err)
	}

	info := buildVideoInfo(id, raw)

	session.MarkReady(info.Title)
	s.saveSession(ctx, session)

	return info, nil
}

// probe runs the strategy catalog, returning the first document or the last error.
func (s *Service) probe(ctx context.Context, url string) (*domain.RawMetadata, error) {
	cacheKey := NormalizeURL(url)
	if s.cache != nil {
		if raw, ok := s.cache.Get(cacheKey); ok {
			s.logger.Debug("Metadata cache hit", "url", url)
			return raw, nil
		}
	}

	lastErr := errors.New("no extraction strategies configured")
	for idx, strategy := range s.strategies {
		s.logger.Info("Trying extraction strategy",
			"attempt", idx+1,
			"total", len(s.strategies),
			"strategy", strategy.Name,
		)

		raw, err := s.extractor.Probe(ctx, url, strategy)
		if err != nil {
			lastErr = err
			s.logger.Warn("Extraction strategy failed",
				"attempt", idx+1,
				"strategy", strategy.Name,
				"error", err,
			)
			continue
		}

		s.logger.Info("Extracted video info", "attempt", idx+1, "strategy", strategy.Name)
		if s.cache != nil {
			s.cache.Set(cacheKey, raw)
		}
		return raw, nil
	}

	return nil, lastErr
}

func buildVideoInfo(id string, raw *domain.RawMetadata) *domain.VideoInfo {
	info := &domain.VideoInfo{
		DownloadID:   id,
		ThumbnailURL: raw.Thumbnail,
		Title:        raw.Title,
		Formats:      NormalizeFormats(raw.Formats),
	}
	if info.Title == "" {
		info.Title = domain.DefaultTitle
	}
	if raw.Duration != nil {
		d := int(*raw.Duration)
		info.Duration = &d
	}
	return info
}

// FormatSelector returns the yt-dlp selector for formatID: the unconditional
// best for "" or "best", otherwise the requested format with best as fallback.
func FormatSelector(formatID string) string {
	if formatID == "" || formatID == domain.BestFormat {
		return domain.BestFormat
	}
	return formatID + "/" + domain.BestFormat
}

// Download fetches url into the session's directory and returns the file path.
// If the upstream reports the format unavailable it retries once with "best".
func (s *Service) Download(ctx context.Context, url, downloadID, formatID string) (string, error) {
	url = strings.TrimSpace(url)
	if !IsFacebookURL(url) {
		return "", domain.ErrInvalidURL
	}

	dir, err := s.scratch.Ensure(downloadID)
	if err != nil {
		return "", &domain.Error{Kind: domain.KindDownloadFailed, Message: "Invalid download ID", Err: err}
	}

	session := domain.NewSession(downloadID, url)
	session.MarkDownloading(formatID)
	s.saveSession(ctx, session)

	opts := downloader.FetchOptions{
		Format:         FormatSelector(formatID),
		OutputTemplate: filepath.Join(dir, outputTemplate),
		Strategy:       DownloadStrategy(),
	}

	_, filePath, err := s.extractor.Fetch(ctx, url, opts)
	if err != nil && domain.IsFormatUnavailable(err.Error()) {
		unavailable := &domain.Error{Kind: domain.KindFormatUnavailable, Message: err.Error(), Err: err}
		s.logger.Warn("Format not available, retrying with best",
			"session_id", downloadID,
			"format_id", formatID,
			"error", unavailable,
		)
		// The cached format list offered something upstream no longer has.
		if s.cache != nil {
			s.cache.Delete(NormalizeURL(url))
		}

		opts.Format = domain.BestFormat
		_, filePath, err = s.extractor.Fetch(ctx, url, opts)
		if err != nil {
			s.logger.Error("Retry failed", "session_id", downloadID, "error", err)
			return "", s.downloadFailed(ctx, session, "Could not download video in any available format: ", err)
		}
	} else if err != nil {
		s.logger.Error("Download error", "session_id", downloadID, "error", err)
		return "", s.downloadFailed(ctx, session, "Download failed: ", err)
	}

	session.MarkDownloaded(filePath)
	s.saveSession(ctx, session)

	s.logger.Info("Download completed", "session_id", downloadID, "path", filePath)

	return filePath, nil
}

func (s *Service) downloadFailed(ctx context.Context, session *domain.Session, prefix string, err error) error {
	e := &domain.Error{Kind: domain.KindDownloadFailed, Message: prefix + err.Error(), Err: err}
	session.MarkFailed(e.Message)
	s.saveSession(ctx, session)
	return e
}

// Cleanup removes the session directory holding filePath. Failures are
// logged and never returned.
func (s *Service) Cleanup(ctx context.Context, filePath string) {
	id, err := s.scratch.SessionOf(filePath)
	if err != nil {
		s.logCleanupFailure(filePath, err)
		return
	}
	s.discard(ctx, id)
}

// Discard removes a session by identifier, e.g. when the caller abandons it
// before downloading. Only an invalid identifier is reported.
func (s *Service) Discard(ctx context.Context, downloadID string) error {
	if _, err := s.scratch.Dir(downloadID); err != nil {
		return err
	}
	s.discard(ctx, downloadID)
	return nil
}

func (s *Service) discard(ctx context.Context, id string) {
	if err := s.scratch.RemoveSession(id); err != nil {
		s.logCleanupFailure(id, err)
	}
	if s.sessions != nil {
		if err := s.sessions.Delete(ctx, id); err != nil {
			s.logger.Warn("Failed to forget session", "session_id", id, "error", err)
		}
	}
}

func (s *Service) logCleanupFailure(target string, err error) {
	s.logger.Error("Error cleaning up files",
		"target", target,
		"error", &domain.Error{Kind: domain.KindCleanupFailed, Message: err.Error(), Err: err},
	)
}

func (s *Service) saveSession(ctx context.Context, session *domain.Session) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		s.logger.Warn("Failed to record session", "session_id", session.ID, "error", err)
	}
}
