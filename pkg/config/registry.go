package config

import (
	"fmt"
	"sort"
)

// AgentRegistry is the read-only lookup for resolved agent configurations.
type AgentRegistry struct {
	agents map[string]*AgentConfig
}

// NewAgentRegistry creates a registry from merged agent configs.
func NewAgentRegistry(agents map[string]*AgentConfig) *AgentRegistry {
	return &AgentRegistry{agents: agents}
}

// Get returns the named agent config.
func (r *AgentRegistry) Get(name string) (*AgentConfig, error) {
	agent, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return agent, nil
}

// Names returns all agent names in stable order.
func (r *AgentRegistry) Names() []string {
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered agents.
func (r *AgentRegistry) Len() int {
	return len(r.agents)
}

// mergeAgents merges built-in and user-defined agent configurations.
// User-defined agents override built-in agents with the same name.
func mergeAgents(builtin map[string]AgentConfig, user map[string]AgentConfig) map[string]*AgentConfig {
	result := make(map[string]*AgentConfig)
	for name, agent := range builtin {
		// Defensive copy of Labels to prevent shared state
		labels := make([]string, len(agent.Labels))
		copy(labels, agent.Labels)
		agentCopy := agent
		agentCopy.Labels = labels
		result[name] = &agentCopy
	}
	for name, agent := range user {
		agentCopy := agent
		result[name] = &agentCopy
	}
	return result
}
