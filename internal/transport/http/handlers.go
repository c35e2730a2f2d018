// Package http exposes the video service over a chi router.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/CostsmpRTR/facebook-video-downloader/internal/domain"
	"github.com/CostsmpRTR/facebook-video-downloader/internal/infra/fs"
	"github.com/CostsmpRTR/facebook-video-downloader/internal/infra/r2"
	"github.com/CostsmpRTR/facebook-video-downloader/internal/service/queue"
	"github.com/CostsmpRTR/facebook-video-downloader/internal/transport/http/middleware"
)

// VideoService is the extraction and download core.
type VideoService interface {
	Extract(ctx context.Context, url string) (*domain.VideoInfo, error)
	Download(ctx context.Context, url, downloadID, formatID string) (string, error)
	Cleanup(ctx context.Context, filePath string)
	Discard(ctx context.Context, downloadID string) error
}

// WorkerPool runs blocking service calls off the request goroutine.
type WorkerPool interface {
	Submit(ctx context.Context, task queue.Task) error
	QueueSize() int
	WorkerCount() int
}

// Offloader moves a finished file to object storage and returns a link to it.
type Offloader interface {
	Offload(ctx context.Context, sessionID, filePath string) (string, error)
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	service   VideoService
	pool      WorkerPool
	offloader Offloader
	version   string
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance. offloader may be nil, in which
// case files are streamed back directly.
func NewHandlers(service VideoService, pool WorkerPool, offloader Offloader, version string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:   service,
		pool:      pool,
		offloader: offloader,
		version:   version,
		logger:    logger,
	}
}

// HealthHandler handles GET /health.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &domain.HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		QueueSize: h.pool.QueueSize(),
		Workers:   h.pool.WorkerCount(),
	})
}

// InfoHandler handles POST /api/v1/video/info.
func (h *Handlers) InfoHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.InfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "INVALID_BODY")
		return
	}

	var (
		info       *domain.VideoInfo
		extractErr error
	)
	err := h.pool.Submit(r.Context(), func(ctx context.Context) {
		info, extractErr = h.service.Extract(ctx, req.URL)
	})
	if err != nil {
		// An abandoned extraction leaves its session to the sweeper.
		h.writeServiceError(w, r, err)
		return
	}
	if extractErr != nil {
		h.writeServiceError(w, r, extractErr)
		return
	}

	h.logger.Info("Video info extracted",
		"download_id", info.DownloadID,
		"formats", len(info.Formats),
		"ip", middleware.GetClientIP(r),
	)

	writeJSON(w, http.StatusOK, info)
}

// DownloadHandler handles POST /api/v1/video/download. The file is streamed
// back and its session removed once the response is written. With object
// storage configured the client gets a presigned link instead.
func (h *Handlers) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "INVALID_BODY")
		return
	}
	if strings.TrimSpace(req.DownloadID) == "" {
		writeError(w, http.StatusBadRequest, "download_id is required", "MISSING_DOWNLOAD_ID")
		return
	}

	var (
		filePath    string
		downloadErr error
		// Whichever side finishes second owns the cleanup of an abandoned result.
		handedOff atomic.Bool
	)
	err := h.pool.Submit(r.Context(), func(ctx context.Context) {
		filePath, downloadErr = h.service.Download(ctx, req.URL, req.DownloadID, req.FormatID)
		if !handedOff.CompareAndSwap(false, true) && downloadErr == nil {
			h.logger.Info("Client went away, removing finished download", "download_id", req.DownloadID)
			h.service.Cleanup(ctx, filePath)
		}
	})
	if err != nil {
		if r.Context().Err() != nil && !handedOff.CompareAndSwap(false, true) && downloadErr == nil {
			h.service.Cleanup(context.WithoutCancel(r.Context()), filePath)
		}
		h.writeServiceError(w, r, err)
		return
	}
	if downloadErr != nil {
		h.writeServiceError(w, r, downloadErr)
		return
	}

	if h.offloader != nil {
		h.offload(w, r, req.DownloadID, filePath)
		return
	}

	h.serveFile(w, r, filePath)
}

func (h *Handlers) offload(w http.ResponseWriter, r *http.Request, downloadID, filePath string) {
	defer h.service.Cleanup(context.WithoutCancel(r.Context()), filePath)

	link, err := h.offloader.Offload(r.Context(), downloadID, filePath)
	if err != nil {
		h.logger.Error("Failed to offload download",
			"download_id", downloadID,
			"error", err,
		)
		writeError(w, http.StatusBadGateway, "Failed to prepare download link", "OFFLOAD_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, &domain.DownloadLinkResponse{
		DownloadURL: link,
		Filename:    filepath.Base(filePath),
	})
}

func (h *Handlers) serveFile(w http.ResponseWriter, r *http.Request, filePath string) {
	defer h.service.Cleanup(context.WithoutCancel(r.Context()), filePath)

	f, err := os.Open(filePath)
	if err != nil {
		h.logger.Error("Downloaded file missing", "path", filePath, "error", err)
		writeError(w, http.StatusInternalServerError, "Downloaded file could not be read", "FILE_MISSING")
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		h.logger.Error("Failed to stat download", "path", filePath, "error", err)
		writeError(w, http.StatusInternalServerError, "Downloaded file could not be read", "FILE_MISSING")
		return
	}

	name := filepath.Base(filePath)
	w.Header().Set("Content-Type", r2.ContentType(name))
	w.Header().Set("Content-Disposition", r2.ContentDisposition(name))

	http.ServeContent(w, r, name, stat.ModTime(), f)
}

// CleanupHandler handles DELETE /api/v1/video/cleanup/{download_id}.
func (h *Handlers) CleanupHandler(w http.ResponseWriter, r *http.Request) {
	downloadID := chi.URLParam(r, "download_id")

	if err := h.service.Discard(r.Context(), downloadID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError maps core and pool errors onto status codes. Only the
// user-facing message is sent; the wrapped diagnostic goes to the log.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var derr *domain.Error

	switch {
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrDispatcherStopped):
		writeError(w, http.StatusServiceUnavailable, "Server is busy, please try again later", "QUEUE_FULL")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.Info("Request abandoned", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, "Request canceled", "CANCELED")
	case errors.Is(err, fs.ErrInvalidSessionID):
		writeError(w, http.StatusBadRequest, "Invalid download ID", "INVALID_DOWNLOAD_ID")
	case errors.As(err, &derr):
		status := statusForKind(derr.Kind)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Request failed", "path", r.URL.Path, "kind", derr.Kind, "error", derr.Err)
		}
		writeError(w, status, derr.Message, strings.ToUpper(string(derr.Kind)))
	default:
		h.logger.Error("Unexpected error", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error", "INTERNAL")
	}
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidURL:
		return http.StatusBadRequest
	case domain.KindExtractionExhausted:
		return http.StatusUnprocessableEntity
	case domain.KindFormatUnavailable, domain.KindDownloadFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, &domain.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
