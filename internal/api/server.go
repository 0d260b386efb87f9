package api

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nextconvert/silk2mp3/internal/api/handlers"
	"github.com/nextconvert/silk2mp3/internal/api/middleware"
	"github.com/nextconvert/silk2mp3/internal/api/websocket"
	"github.com/nextconvert/silk2mp3/internal/shared/config"
	"github.com/nextconvert/silk2mp3/internal/shared/database"
	"github.com/nextconvert/silk2mp3/internal/shared/metrics"
	"github.com/nextconvert/silk2mp3/internal/shared/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ServerConfig holds dependencies for the API server
type ServerConfig struct {
	Config     *config.Config
	Logger     *zap.Logger
	Redis      *database.Redis // optional; nil disables rate limiting
	Storage    *storage.Service
	WSHub      *websocket.Hub
	Jobs       handlers.ConvertService
	Tools      handlers.ToolReporter
	Strategies handlers.StrategyLister
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
}

// Server represents the API server
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	redis      *database.Redis
	storage    *storage.Service
	wsHub      *websocket.Hub
	jobs       handlers.ConvertService
	tools      handlers.ToolReporter
	strategies handlers.StrategyLister
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		config:     cfg.Config,
		logger:     cfg.Logger,
		redis:      cfg.Redis,
		storage:    cfg.Storage,
		wsHub:      cfg.WSHub,
		jobs:       cfg.Jobs,
		tools:      cfg.Tools,
		strategies: cfg.Strategies,
		metrics:    cfg.Metrics,
		gatherer:   cfg.Gatherer,
	}
}

// Router returns the configured HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.MetricsMiddleware(s.metrics))
	r.Use(middleware.SecurityHeaders)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS", "HEAD"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "Range"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Length", "Content-Range", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var redisClient *redis.Client
	if s.redis != nil {
		redisClient = s.redis.Client
	}
	rateLimiter := middleware.NewRateLimiter(redisClient, s.logger)
	uploadLimit := rateLimiter.Limit(middleware.UploadRateLimit(s.config.RateLimitPerMinute))
	validate := middleware.ValidateFileUpload(
		middleware.VoiceFileValidation(handlers.UploadField, s.config.MaxUploadSize, s.config.MaxFiles))

	// Create handlers
	healthHandler := handlers.NewHealthHandler(s.config.Environment, s.redis)
	convertHandler := handlers.NewConvertHandler(s.jobs, s.storage, s.config.MaxUploadSize, s.logger)
	downloadHandler := handlers.NewDownloadHandler(s.storage, s.logger)
	toolsHandler := handlers.NewToolsHandler(s.tools, s.strategies)

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.NoCache).Get("/test", toolsHandler.Test)

		r.With(uploadLimit, validate, middleware.NoCache).Post("/upload", convertHandler.Upload)
		r.With(uploadLimit, validate, middleware.NoCache).Post("/upload-multiple", convertHandler.UploadMultiple)

		r.Get("/download/{filename}", downloadHandler.Download)

		if s.wsHub != nil {
			r.Get("/ws", s.wsHub.HandleConnection)
		}
	})

	return r
}

// CheckOrigin builds a WebSocket origin check from the allowed CORS origins.
func CheckOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
