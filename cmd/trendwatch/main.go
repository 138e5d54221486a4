// Trendwatch server: runs the HTTP API, the agent pool, and the queue
// sweeper in one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/trendwatch/trendwatch/pkg/agent"
	"github.com/trendwatch/trendwatch/pkg/analyst"
	"github.com/trendwatch/trendwatch/pkg/api"
	"github.com/trendwatch/trendwatch/pkg/cleanup"
	"github.com/trendwatch/trendwatch/pkg/config"
	"github.com/trendwatch/trendwatch/pkg/database"
	"github.com/trendwatch/trendwatch/pkg/fanin"
	"github.com/trendwatch/trendwatch/pkg/llm"
	"github.com/trendwatch/trendwatch/pkg/progress"
	"github.com/trendwatch/trendwatch/pkg/queue"
	"github.com/trendwatch/trendwatch/pkg/slack"
	"github.com/trendwatch/trendwatch/pkg/storage"
	"github.com/trendwatch/trendwatch/pkg/tool"
	"github.com/trendwatch/trendwatch/pkg/tools"
	"github.com/trendwatch/trendwatch/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting trendwatch", "version", version.Full(), "config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Redis (queue, progress, fan-in, heartbeats)
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.Error("Invalid Redis URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	slog.Info("Connected to Redis")

	// 3. PostgreSQL (topics, users, content, summaries)
	dbClient, err := database.NewClient(ctx, database.DefaultConfig(cfg.Database.URL))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 4. Queue, progress, and coordination substrate
	taskQueue := queue.NewRedisQueue(rdb, cfg.Queue.LeaseTimeout)
	progressStore := progress.NewRedisStore(rdb)
	heartbeats := progress.NewRedisHeartbeats(rdb)
	coordinator := fanin.NewRedisCoordinator(rdb)
	contentStore := storage.NewStore(dbClient.DB())

	sweeper := queue.NewSweeper(taskQueue, cfg.Queue.SweepInterval)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	retention := cleanup.NewService(contentStore, cleanup.Options{})
	retention.Start(ctx)
	defer retention.Stop()

	// 5. LLM clients and tool registry. The analyst runs on the main model;
	// crawler and searcher loops run on the fast model.
	grok, err := llm.NewGrok(llm.GrokOptions{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	var grokFast llm.Client = grok
	if cfg.LLM.FastModel != cfg.LLM.Model {
		grokFast, err = llm.NewGrok(llm.GrokOptions{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.FastModel,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		})
		if err != nil {
			slog.Error("Failed to initialize fast LLM client", "error", err)
			os.Exit(1)
		}
	}
	registry, err := tools.NewRegistry(contentStore, progressStore)
	if err != nil {
		slog.Error("Failed to build tool registry", "error", err)
		os.Exit(1)
	}

	// Optional Slack notifications for completed monitoring rounds.
	notifier := slack.NewService(slack.ServiceConfig{
		Token:   os.Getenv("SLACK_BOT_TOKEN"),
		Channel: os.Getenv("SLACK_CHANNEL_ID"),
	})
	if notifier != nil {
		slog.Info("Slack notifications enabled")
	}

	// 6. Agent pool from the configured registry
	agents, allLabels, err := buildAgents(cfg, taskQueue, progressStore, heartbeats, coordinator, grok, grokFast, registry, notifier)
	if err != nil {
		slog.Error("Failed to build agents", "error", err)
		os.Exit(1)
	}

	// Reclaim tasks orphaned by a previous run of this process before the
	// agents start polling under the same names.
	agentNames := make([]string, len(agents))
	for i, a := range agents {
		agentNames[i] = a.Name()
	}
	if n, err := taskQueue.ReclaimAssigned(ctx, agentNames); err != nil {
		slog.Error("Failed to reclaim startup orphans", "error", err)
		// Non-fatal: the sweeper recovers them after the lease expires.
	} else if n > 0 {
		slog.Warn("Reclaimed startup orphans from previous run", "count", n)
	}

	for _, a := range agents {
		a.Start(ctx)
	}
	stats := cfg.Stats()
	slog.Info("Agent pool started",
		"agents", len(agents),
		"ai_agents", stats.AIAgents,
		"labels", stats.Labels)

	// 7. HTTP server
	server := api.NewServer(api.Options{
		Queue:      taskQueue,
		Progress:   progressStore,
		Heartbeats: heartbeats,
		Storage:    contentStore,
		Redis:      rdb,
		DB:         dbClient.DB(),
		Sweeper:    sweeper,
		Labels:     allLabels,
	})
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: agents finish their in-flight task, then the
	// server drains.
	for _, a := range agents {
		a.Stop()
	}
	slog.Info("Agent pool stopped")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// buildAgents constructs one Agent per configured replica. The analyst gets
// its custom executor; other AI agents run the ReAct loop. Returns the agents
// and the union of subscribed labels.
func buildAgents(
	cfg *config.Config,
	taskQueue queue.TaskQueue,
	progressStore progress.Store,
	heartbeats progress.HeartbeatStore,
	coordinator fanin.Coordinator,
	client llm.Client,
	fastClient llm.Client,
	registry *tool.Registry,
	notifier *slack.Service,
) ([]*agent.Agent, []string, error) {
	var agents []*agent.Agent
	seen := make(map[string]struct{})
	var allLabels []string

	for _, name := range cfg.Agents.Names() {
		ac, err := cfg.Agents.Get(name)
		if err != nil {
			return nil, nil, err
		}
		for _, label := range ac.Labels {
			if _, ok := seen[label]; !ok {
				seen[label] = struct{}{}
				allLabels = append(allLabels, label)
			}
		}

		var execute agent.Executor
		agentClient := fastClient
		if name == "analyst" {
			agentClient = client
			execute = analyst.New(client, registry, progressStore, coordinator,
				notifier, ac.SystemPrompt, ac.MaxSteps).Execute
		}

		var coord fanin.Coordinator
		if ac.FanIn {
			coord = coordinator
		}

		replicas := ac.Replicas
		if replicas <= 0 {
			replicas = 1
		}
		for i := 1; i <= replicas; i++ {
			agentName := name
			if replicas > 1 {
				agentName = fmt.Sprintf("%s-%d", name, i)
			}
			a, err := agent.New(agent.Options{
				Name:              agentName,
				Labels:            ac.Labels,
				Queue:             taskQueue,
				Progress:          progressStore,
				Heartbeats:        heartbeats,
				FanIn:             coord,
				Execute:           execute,
				AIEnabled:         ac.AIEnabled,
				LLM:               agentClient,
				Tools:             registry,
				SystemPrompt:      ac.SystemPrompt,
				MaxSteps:          ac.MaxSteps,
				PollInterval:      cfg.Queue.PollInterval,
				PollJitter:        cfg.Queue.PollJitter,
				TaskTimeout:       cfg.Queue.TaskTimeout,
				HeartbeatInterval: cfg.Queue.HeartbeatInterval,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("building agent %s: %w", agentName, err)
			}
			agents = append(agents, a)
		}
	}
	return agents, allLabels, nil
}
