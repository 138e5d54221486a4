package config

// Config is the fully resolved runtime configuration.
type Config struct {
	configDir string

	Redis    *RedisConfig
	Database *DatabaseConfig
	Server   *ServerConfig
	Queue    *QueueConfig
	LLM      *LLMConfig
	Agents   *AgentRegistry
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	Agents   int
	AIAgents int
	Labels   int
}

// Stats returns configuration counts.
func (c *Config) Stats() Stats {
	s := Stats{Agents: c.Agents.Len()}
	seen := make(map[string]struct{})
	for _, name := range c.Agents.Names() {
		agent, _ := c.Agents.Get(name)
		if agent.AIEnabled {
			s.AIAgents++
		}
		for _, label := range agent.Labels {
			seen[label] = struct{}{}
		}
	}
	s.Labels = len(seen)
	return s
}
