package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Missing   []string          `json:"missing_credentials,omitempty"`
}

// HealthCheck reports readiness. Missing provider credentials make the
// whole service unusable for its one job, so they force a 500 rather
// than a degraded 200.
func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	missing := h.cfg.MissingCredentials()
	if len(missing) > 0 {
		c.JSON(http.StatusInternalServerError, HealthResponse{
			Status:    "unhealthy",
			Timestamp: time.Now().Format(time.RFC3339),
			Services:  map[string]string{"api": "misconfigured"},
			Missing:   missing,
		})
		return
	}

	services := map[string]string{
		"api":      "healthy",
		"database": "unknown",
		"redis":    "unknown",
	}

	if h.redisClient != nil {
		if err := h.redisClient.Ping(ctx).Err(); err != nil {
			services["redis"] = "unhealthy"
		} else {
			services["redis"] = "healthy"
		}
	}

	if h.contextStore != nil {
		if err := h.contextStore.Ping(ctx); err != nil {
			services["database"] = "unhealthy"
		} else {
			services["database"] = "healthy"
		}
	}

	if provider := h.aiManager.GetAvailableProvider(); provider != nil {
		services["ai_provider"] = provider.Name()
	} else {
		services["ai_provider"] = "unavailable"
	}
	if h.ttsService != nil && h.ttsService.IsAvailable() {
		services["tts"] = "available"
	} else {
		services["tts"] = "unavailable"
	}
	if h.sttService != nil && h.sttService.IsAvailable() {
		services["stt"] = "available"
	} else {
		services["stt"] = "unavailable"
	}

	overallStatus := "healthy"
	for _, status := range services {
		if status == "unhealthy" {
			overallStatus = "degraded"
			break
		}
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().Format(time.RFC3339),
		Services:  services,
	})
}
