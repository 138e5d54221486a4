package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trendwatch/trendwatch/pkg/database"
	"github.com/trendwatch/trendwatch/pkg/version"
)

// health reports Redis and database connectivity, queue depths, and sweeper
// counters. Any failed dependency flips the overall status to unhealthy.
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy := true
	body := gin.H{"version": version.Full()}

	if s.opts.Redis != nil {
		if err := s.opts.Redis.Ping(ctx).Err(); err != nil {
			healthy = false
			body["redis"] = gin.H{"status": "unhealthy", "error": err.Error()}
		} else {
			body["redis"] = gin.H{"status": "healthy"}
		}
	}

	if s.opts.DB != nil {
		dbHealth, err := database.Health(ctx, s.opts.DB)
		body["database"] = dbHealth
		if err != nil {
			healthy = false
		}
	}

	if len(s.opts.Labels) > 0 {
		depths, err := s.opts.Queue.Depths(ctx, s.opts.Labels)
		if err != nil {
			healthy = false
			body["queue"] = gin.H{"status": "unhealthy", "error": err.Error()}
		} else {
			body["queue"] = gin.H{"depths": depths}
		}
	}

	if s.opts.Sweeper != nil {
		lastSweep, promoted, reclaimed := s.opts.Sweeper.Stats()
		body["sweeper"] = gin.H{
			"last_sweep": lastSweep,
			"promoted":   promoted,
			"reclaimed":  reclaimed,
		}
	}

	status := http.StatusOK
	body["status"] = "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
	}
	c.JSON(status, body)
}
