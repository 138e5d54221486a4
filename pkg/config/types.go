package config

import "time"

// AgentConfig declares one worker: the labels it subscribes to and how it
// executes tasks. Agents with AIEnabled and no registered custom executor
// run the ReAct loop with SystemPrompt.
type AgentConfig struct {
	// Description is informational, surfaced on the agents endpoint.
	Description string `yaml:"description"`

	// Labels are the task classes the agent pops.
	Labels []string `yaml:"labels"`

	// SystemPrompt seeds the ReAct conversation for AI agents.
	SystemPrompt string `yaml:"system_prompt"`

	// AIEnabled allows the ReAct fallback when no custom executor exists.
	AIEnabled bool `yaml:"ai_enabled"`

	// FanIn makes terminal transitions of this agent's tasks drive the
	// per-entity fan-in counters.
	FanIn bool `yaml:"fan_in"`

	// MaxSteps bounds the ReAct loop; 0 uses the runtime default.
	MaxSteps int `yaml:"max_steps"`

	// Replicas is how many copies of this agent the process runs; each gets
	// a -N suffix on its name. 0 means 1.
	Replicas int `yaml:"replicas"`
}

// QueueConfig controls task claiming, leases, and liveness timings.
type QueueConfig struct {
	// PollInterval is the sleep between empty pops.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollJitter is the random jitter added to PollInterval, desynchronizing
	// replicas subscribed to the same labels.
	PollJitter time.Duration `yaml:"poll_jitter"`

	// LeaseTimeout is how long a claimed task may go unaccounted before the
	// sweeper reclaims it.
	LeaseTimeout time.Duration `yaml:"lease_timeout"`

	// SweepInterval is how often deferred promotion and lease reclaim run.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// TaskTimeout bounds a single task execution. Keep at or below
	// LeaseTimeout so the sweeper never reclaims a live task.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// HeartbeatInterval and HeartbeatTTL control agent liveness records.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTTL      time.Duration `yaml:"heartbeat_ttl"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		PollInterval:      5 * time.Second,
		PollJitter:        500 * time.Millisecond,
		LeaseTimeout:      10 * time.Minute,
		SweepInterval:     1 * time.Second,
		TaskTimeout:       10 * time.Minute,
		HeartbeatInterval: 10 * time.Second,
		HeartbeatTTL:      30 * time.Second,
	}
}

// LLMConfig configures the Grok client. All fields accept {{.GROK_*}}
// template expansion; unset fields fall back to the GROK_* environment
// variables directly so an env-only deployment needs no YAML at all.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// Model drives the analyst; FastModel serves the lighter crawler and
	// searcher loops and defaults to Model when unset.
	Model     string `yaml:"model"`
	FastModel string `yaml:"fast_model"`

	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// RedisConfig locates the KV substrate for queue, progress, and heartbeats.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// DatabaseConfig locates the relational content store.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}
