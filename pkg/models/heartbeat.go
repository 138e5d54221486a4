package models

import "time"

// AgentState is the coarse activity state reported in heartbeats.
type AgentState string

const (
	AgentStateIdle AgentState = "idle"
	AgentStateBusy AgentState = "busy"
)

// Heartbeat is the self-expiring liveness record for one agent.
// Written every 10 seconds with a 30-second TTL; absence of the record
// means the agent is gone.
type Heartbeat struct {
	Name             string     `json:"name"`
	Labels           []string   `json:"labels"`
	Status           AgentState `json:"status"`
	CurrentTaskID    string     `json:"current_task_id,omitempty"`
	CurrentTaskLabel string     `json:"current_task_label,omitempty"`
	TasksCompleted   int        `json:"tasks_completed"`
	TasksFailed      int        `json:"tasks_failed"`
	StartedAt        time.Time  `json:"started_at"`
	LastHeartbeat    time.Time  `json:"last_heartbeat"`
}
