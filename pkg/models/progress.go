package models

import "time"

// Phase is the coarse pipeline state of an entity, surfaced to UIs.
type Phase string

const (
	PhaseAnalyzing   Phase = "analyzing"
	PhaseCrawling    Phase = "crawling"
	PhaseSummarizing Phase = "summarizing"
	PhaseDone        Phase = "done"
	PhaseError       Phase = "error"
)

// EntityProgress is the per-entity pipeline progress record.
// Total and Done track child counts while the entity is in the crawling
// phase. The record expires 24 hours after its last update.
type EntityProgress struct {
	Phase     Phase     `json:"phase"`
	Total     int       `json:"total"`
	Done      int       `json:"done"`
	Step      string    `json:"step,omitempty"`
	ErrorMsg  string    `json:"error_msg,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskProgress is a free-form structured progress message for one running
// child task, used for UI timelines. Expires one hour after the last write.
type TaskProgress struct {
	Action     string    `json:"action,omitempty"`
	Target     string    `json:"target,omitempty"`
	Phase      string    `json:"phase,omitempty"`
	Message    string    `json:"message,omitempty"`
	Page       int       `json:"page,omitempty"`
	NewCount   int       `json:"new_count,omitempty"`
	TargetNew  int       `json:"target_new,omitempty"`
	TotalFound int       `json:"total_found,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Continuation is the staged fan-in follow-up for an entity: the task to
// push once all children reach a terminal state, and the phase to enter.
type Continuation struct {
	Label     string         `json:"label"`
	Payload   map[string]any `json:"payload"`
	NextPhase Phase          `json:"next_phase"`
}
