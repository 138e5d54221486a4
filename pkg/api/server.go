// Package api exposes the HTTP surface: task submission and inspection,
// entity progress, agent liveness, and topic/user management.
package api

import (
	"context"
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/trendwatch/trendwatch/pkg/models"
	"github.com/trendwatch/trendwatch/pkg/progress"
	"github.com/trendwatch/trendwatch/pkg/queue"
	"github.com/trendwatch/trendwatch/pkg/storage"
)

// Storage is the slice of the relational store the API serves.
type Storage interface {
	UpsertTopic(ctx context.Context, t *storage.Topic) (*storage.Topic, error)
	GetTopic(ctx context.Context, id string) (*storage.Topic, error)
	ListTopics(ctx context.Context, activeOnly bool) ([]*storage.Topic, error)
	UpsertTrackedUser(ctx context.Context, u *storage.TrackedUser) (*storage.TrackedUser, error)
	GetTrackedUser(ctx context.Context, id string) (*storage.TrackedUser, error)
	ListTrackedUsers(ctx context.Context, activeOnly bool) ([]*storage.TrackedUser, error)
	ListSummaries(ctx context.Context, ref models.EntityRef, limit int) ([]*storage.Summary, error)
}

// SweeperStats reports queue maintenance counters for the health endpoint.
type SweeperStats interface {
	Stats() (lastSweep time.Time, promoted, reclaimed int)
}

// Options wires the server's dependencies. Redis, DB, Storage, and Sweeper
// are optional; endpoints depending on an absent dependency report so.
type Options struct {
	Queue      queue.TaskQueue
	Progress   progress.Store
	Heartbeats progress.HeartbeatStore
	Storage    Storage
	Redis      redis.UniversalClient
	DB         *sql.DB
	Sweeper    SweeperStats

	// Labels are the task classes reported on the health endpoint.
	Labels []string
}

// Server is the HTTP API server.
type Server struct {
	opts Options
}

// NewServer creates the server.
func NewServer(opts Options) *Server {
	return &Server{opts: opts}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.health)

	v1 := r.Group("/api")
	{
		v1.POST("/tasks", s.createTask)
		v1.GET("/tasks/:id", s.getTask)
		v1.GET("/queue", s.queueDepths)
		v1.GET("/progress/:type/:id", s.getProgress)
		v1.GET("/agents", s.listAgents)

		v1.POST("/topics", s.createTopic)
		v1.GET("/topics", s.listTopics)
		v1.GET("/topics/:id", s.getTopic)

		v1.POST("/users", s.createUser)
		v1.GET("/users", s.listUsers)
		v1.GET("/users/:id", s.getUser)

		v1.GET("/summaries/:type/:id", s.listSummaries)
	}
	return r
}

// parseEntityRef validates the :type/:id pair used by progress and summary
// routes.
func parseEntityRef(typ, id string) (models.EntityRef, bool) {
	switch models.EntityType(typ) {
	case models.EntityTypeTopic, models.EntityTypeUser:
		return models.EntityRef{Type: models.EntityType(typ), ID: id}, id != ""
	default:
		return models.EntityRef{}, false
	}
}
