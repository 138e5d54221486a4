package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trendwatch/trendwatch/pkg/models"
	"github.com/trendwatch/trendwatch/pkg/progress"
)

// getProgress joins the entity progress record with its child task set and
// the per-task progress messages.
func (s *Server) getProgress(c *gin.Context) {
	ref, ok := parseEntityRef(c.Param("type"), c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity type must be topic or user"})
		return
	}
	ctx := c.Request.Context()

	entity, err := s.opts.Progress.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, progress.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no progress recorded"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	taskIDs, err := s.opts.Progress.TaskSet(ctx, ref)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	tasks := make(map[string]*models.TaskProgress, len(taskIDs))
	for _, id := range taskIDs {
		tp, err := s.opts.Progress.TaskProgress(ctx, id)
		if err != nil {
			if errors.Is(err, progress.ErrNotFound) {
				continue // child finished or record expired
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		tasks[id] = tp
	}

	c.JSON(http.StatusOK, gin.H{
		"entity_type": ref.Type,
		"entity_id":   ref.ID,
		"progress":    entity,
		"task_ids":    taskIDs,
		"tasks":       tasks,
	})
}

// listAgents returns the live heartbeat records.
func (s *Server) listAgents(c *gin.Context) {
	beats, err := s.opts.Heartbeats.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": beats, "count": len(beats)})
}
