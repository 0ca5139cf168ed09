package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const readyTimeout = 3 * time.Second

// HealthChecker is a dependency that can report its health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness checks
type HealthHandler struct {
	checkers map[string]HealthChecker
	started  time.Time
}

// NewHealthHandler creates a HealthHandler. A nil checker (the memory store,
// or Redis when disabled) is reported as "not configured" and never fails
// readiness.
func NewHealthHandler(checkers map[string]HealthChecker) *HealthHandler {
	if checkers == nil {
		checkers = map[string]HealthChecker{}
	}
	return &HealthHandler{checkers: checkers, started: time.Now()}
}

// HealthResponse is the liveness body
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime"`
}

// ReadyResponse is the readiness body
type ReadyResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components"`
}

// Health answers liveness checks without touching dependencies
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	})
}

// Ready checks every dependency concurrently and answers 503 if any fails
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	results := make([]string, len(names))

	var g errgroup.Group
	for i, name := range names {
		checker := h.checkers[name]
		if checker == nil {
			results[i] = "not configured"
			continue
		}
		g.Go(func() error {
			if err := checker.HealthCheck(ctx); err != nil {
				results[i] = "unhealthy: " + err.Error()
				return err
			}
			results[i] = "healthy"
			return nil
		})
	}
	failed := g.Wait() != nil

	resp := ReadyResponse{
		Status:     "ready",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: make(map[string]string, len(names)),
	}
	for i, name := range names {
		resp.Components[name] = results[i]
	}

	status := http.StatusOK
	if failed {
		resp.Status = "not ready"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
