package config

import (
	"fmt"
	"strings"
)

// Validator performs cross-field validation on a loaded Config.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given config.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every validation pass and returns the first failure.
func (v *Validator) ValidateAll() error {
	if err := v.validateAgents(); err != nil {
		return err
	}
	if err := v.validateQueue(); err != nil {
		return err
	}
	return v.validateLLM()
}

func (v *Validator) validateAgents() error {
	for _, name := range v.cfg.Agents.Names() {
		agent, err := v.cfg.Agents.Get(name)
		if err != nil {
			return err
		}
		if len(agent.Labels) == 0 {
			return NewValidationError("agent", name, "labels", ErrMissingRequiredField)
		}
		for _, label := range agent.Labels {
			if !strings.Contains(label, ":") {
				return NewValidationError("agent", name, "labels",
					fmt.Errorf("%w: label %q must be of the form agent:operation", ErrInvalidValue, label))
			}
		}
		if agent.AIEnabled && agent.SystemPrompt == "" {
			return NewValidationError("agent", name, "system_prompt", ErrMissingRequiredField)
		}
		if agent.MaxSteps < 0 {
			return NewValidationError("agent", name, "max_steps", ErrInvalidValue)
		}
		if agent.Replicas < 0 {
			return NewValidationError("agent", name, "replicas", ErrInvalidValue)
		}
	}
	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	checks := []struct {
		field string
		ok    bool
	}{
		{"poll_interval", q.PollInterval > 0},
		{"lease_timeout", q.LeaseTimeout > 0},
		{"sweep_interval", q.SweepInterval > 0},
		{"task_timeout", q.TaskTimeout > 0},
		{"heartbeat_interval", q.HeartbeatInterval > 0},
		{"heartbeat_ttl", q.HeartbeatTTL > q.HeartbeatInterval},
	}
	for _, c := range checks {
		if !c.ok {
			return NewValidationError("queue", "queue", c.field, ErrInvalidValue)
		}
	}
	if q.TaskTimeout > q.LeaseTimeout {
		return NewValidationError("queue", "queue", "task_timeout",
			fmt.Errorf("%w: must not exceed lease_timeout or the sweeper reclaims live tasks", ErrInvalidValue))
	}
	return nil
}

// validateLLM requires an API key only when some agent actually needs the
// model; a deployment of pure custom executors runs without Grok.
func (v *Validator) validateLLM() error {
	aiNeeded := false
	for _, name := range v.cfg.Agents.Names() {
		agent, _ := v.cfg.Agents.Get(name)
		if agent.AIEnabled {
			aiNeeded = true
			break
		}
	}
	if !aiNeeded {
		return nil
	}
	if v.cfg.LLM.APIKey == "" {
		return NewValidationError("llm", "grok", "api_key",
			fmt.Errorf("%w: set GROK_API_KEY or llm.api_key", ErrMissingRequiredField))
	}
	if v.cfg.LLM.Model == "" {
		return NewValidationError("llm", "grok", "model", ErrMissingRequiredField)
	}
	return nil
}
