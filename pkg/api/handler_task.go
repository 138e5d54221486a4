package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/trendwatch/trendwatch/pkg/models"
	"github.com/trendwatch/trendwatch/pkg/queue"
)

// createTaskRequest is the task submission body.
type createTaskRequest struct {
	Label      string         `json:"label" binding:"required"`
	Payload    map[string]any `json:"payload"`
	Priority   int            `json:"priority"`
	MaxRetries *int           `json:"max_retries"`
}

func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !strings.Contains(req.Label, ":") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "label must be of the form agent:operation"})
		return
	}
	if req.Priority < models.PriorityLow || req.Priority > models.PriorityHigh {
		c.JSON(http.StatusBadRequest, gin.H{"error": "priority must be 0, 1, or 2"})
		return
	}

	task := models.NewTask(req.Label, req.Payload)
	task.Priority = req.Priority
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_retries must be >= 0"})
			return
		}
		task.MaxRetries = *req.MaxRetries
	}

	if err := s.opts.Queue.Push(c.Request.Context(), task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) getTask(c *gin.Context) {
	task, err := s.opts.Queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, queue.ErrUnknownTask) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) queueDepths(c *gin.Context) {
	labels := s.opts.Labels
	if q := c.Query("labels"); q != "" {
		labels = strings.Split(q, ",")
	}
	depths, err := s.opts.Queue.Depths(c.Request.Context(), labels)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"depths": depths})
}
