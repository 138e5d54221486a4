package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trendwatch/trendwatch/pkg/models"
	"github.com/trendwatch/trendwatch/pkg/storage"
)

const analyzeLabel = "analyst:analyze"

// createTopicRequest registers or updates a monitored topic.
type createTopicRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

// createTopic upserts the topic and seeds an analyze task so monitoring
// starts without waiting for a schedule.
func (s *Server) createTopic(c *gin.Context) {
	var req createTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	topic, err := s.opts.Storage.UpsertTopic(ctx, &storage.Topic{
		Name:        req.Name,
		Description: req.Description,
		Keywords:    req.Keywords,
		Active:      true,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	task := models.NewTask(analyzeLabel, map[string]any{"topic_id": topic.ID})
	task.Priority = models.PriorityHigh
	if err := s.opts.Queue.Push(ctx, task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"topic": topic, "task_id": task.ID})
}

func (s *Server) listTopics(c *gin.Context) {
	topics, err := s.opts.Storage.ListTopics(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"topics": topics})
}

func (s *Server) getTopic(c *gin.Context) {
	topic, err := s.opts.Storage.GetTopic(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "topic not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, topic)
}

// createUserRequest registers or updates a tracked user.
type createUserRequest struct {
	Platform    string `json:"platform" binding:"required"`
	Handle      string `json:"handle" binding:"required"`
	DisplayName string `json:"display_name"`
}

func (s *Server) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	user, err := s.opts.Storage.UpsertTrackedUser(ctx, &storage.TrackedUser{
		Platform:    req.Platform,
		Handle:      req.Handle,
		DisplayName: req.DisplayName,
		Active:      true,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	task := models.NewTask(analyzeLabel, map[string]any{"user_id": user.ID})
	task.Priority = models.PriorityHigh
	if err := s.opts.Queue.Push(ctx, task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": user, "task_id": task.ID})
}

func (s *Server) listUsers(c *gin.Context) {
	users, err := s.opts.Storage.ListTrackedUsers(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (s *Server) getUser(c *gin.Context) {
	user, err := s.opts.Storage.GetTrackedUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) listSummaries(c *gin.Context) {
	ref, ok := parseEntityRef(c.Param("type"), c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity type must be topic or user"})
		return
	}
	sums, err := s.opts.Storage.ListSummaries(c.Request.Context(), ref, 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summaries": sums})
}
