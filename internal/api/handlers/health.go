package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/nextconvert/silk2mp3/internal/api/middleware"
	"github.com/nextconvert/silk2mp3/internal/shared/database"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	environment string
	redis       *database.Redis
}

// NewHealthHandler creates a new health handler. redis may be nil.
func NewHealthHandler(environment string, redis *database.Redis) *HealthHandler {
	return &HealthHandler{
		environment: environment,
		redis:       redis,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   string            `json:"timestamp"`
	Environment string            `json:"environment,omitempty"`
	Services    map[string]string `json:"services,omitempty"`
}

// Health returns a basic health check
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Environment: h.environment,
	})
}

// Ready returns a readiness check including dependencies
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := make(map[string]string)
	allHealthy := true

	if h.redis == nil {
		services["redis"] = "disabled"
	} else if err := h.redis.HealthCheck(ctx); err != nil {
		services["redis"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		services["redis"] = "healthy"
	}

	status := "ok"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	middleware.WriteJSON(w, statusCode, HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Environment: h.environment,
		Services:    services,
	})
}
