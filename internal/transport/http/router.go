package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/CostsmpRTR/facebook-video-downloader/internal/transport/http/middleware"
)

// RouterConfig holds the settings the router needs.
type RouterConfig struct {
	AllowedOrigins []string
	RateLimiter    *middleware.RateLimiter // nil disables rate limiting
	Logger         *slog.Logger
}

// NewRouter creates a chi router with all routes and middleware configured.
func NewRouter(cfg *RouterConfig, handlers *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(chimiddleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health never touches the core and is not rate limited.
	r.With(chimiddleware.Timeout(5*time.Second)).Get("/health", handlers.HealthHandler)

	r.Route("/api/v1/video", func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimiter))
		}

		r.Post("/info", handlers.InfoHandler)
		r.Post("/download", handlers.DownloadHandler)
		r.Delete("/cleanup/{download_id}", handlers.CleanupHandler)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found", "NOT_FOUND")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
	})

	return r
}

// NewServer creates the HTTP server. Writes get a long deadline because a
// download response carries the whole file.
func NewServer(addr string, handler http.Handler, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}
}
