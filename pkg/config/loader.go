package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// trendwatchYAML represents the complete trendwatch.yaml file structure.
type trendwatchYAML struct {
	Redis    *RedisConfig           `yaml:"redis"`
	Database *DatabaseConfig        `yaml:"database"`
	Server   *ServerConfig          `yaml:"server"`
	Queue    *QueueConfig           `yaml:"queue"`
	LLM      *LLMConfig             `yaml:"llm"`
	Agents   map[string]AgentConfig `yaml:"agents"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load trendwatch.yaml from configDir (optional; defaults apply)
//  2. Expand {{.VAR}} environment templates
//  3. Merge built-in + user-defined agents
//  4. Merge queue settings over defaults
//  5. Fill LLM settings from GROK_* environment fallbacks
//  6. Validate everything
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"agents", stats.Agents,
		"ai_agents", stats.AIAgents,
		"labels", stats.Labels)
	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	raw, err := loadTrendwatchYAML(configDir)
	if err != nil {
		return nil, NewLoadError("trendwatch.yaml", err)
	}

	agents := mergeAgents(BuiltinAgents(), raw.Agents)

	// Queue: user YAML merges over built-in defaults so unset fields keep
	// their default values.
	queueCfg := DefaultQueueConfig()
	if raw.Queue != nil {
		if err := mergo.Merge(queueCfg, raw.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	return &Config{
		configDir: configDir,
		Redis:     resolveRedis(raw.Redis),
		Database:  resolveDatabase(raw.Database),
		Server:    resolveServer(raw.Server),
		Queue:     queueCfg,
		LLM:       resolveLLM(raw.LLM),
		Agents:    NewAgentRegistry(agents),
	}, nil
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

// loadTrendwatchYAML reads and parses the config file. A missing file is not
// an error: built-in defaults plus environment variables are a complete
// configuration.
func loadTrendwatchYAML(configDir string) (*trendwatchYAML, error) {
	raw := &trendwatchYAML{Agents: make(map[string]AgentConfig)}

	path := filepath.Join(configDir, "trendwatch.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("No trendwatch.yaml found, using built-in defaults", "path", path)
			return raw, nil
		}
		return nil, err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes original data through on template errors so the YAML
	// parser produces the clearer message.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	if raw.Agents == nil {
		raw.Agents = make(map[string]AgentConfig)
	}
	return raw, nil
}

func resolveRedis(cfg *RedisConfig) *RedisConfig {
	out := &RedisConfig{URL: "redis://localhost:6379/0"}
	if cfg != nil && cfg.URL != "" {
		out.URL = cfg.URL
	} else if url := os.Getenv("REDIS_URL"); url != "" {
		out.URL = url
	}
	return out
}

func resolveDatabase(cfg *DatabaseConfig) *DatabaseConfig {
	out := &DatabaseConfig{}
	if cfg != nil && cfg.URL != "" {
		out.URL = cfg.URL
	} else {
		out.URL = os.Getenv("DATABASE_URL")
	}
	return out
}

func resolveServer(cfg *ServerConfig) *ServerConfig {
	out := &ServerConfig{Addr: ":8080"}
	if cfg != nil && cfg.Addr != "" {
		out.Addr = cfg.Addr
	} else if port := os.Getenv("HTTP_PORT"); port != "" {
		out.Addr = ":" + port
	}
	return out
}

// resolveLLM fills unset fields from GROK_* environment variables, then
// applies defaults for the endpoint and model.
func resolveLLM(cfg *LLMConfig) *LLMConfig {
	out := &LLMConfig{}
	if cfg != nil {
		*out = *cfg
	}
	if out.APIKey == "" {
		out.APIKey = os.Getenv("GROK_API_KEY")
	}
	if out.BaseURL == "" {
		out.BaseURL = os.Getenv("GROK_BASE_URL")
	}
	if out.BaseURL == "" {
		out.BaseURL = "https://api.x.ai/v1"
	}
	if out.Model == "" {
		out.Model = os.Getenv("GROK_MODEL")
	}
	if out.Model == "" {
		out.Model = "grok-4"
	}
	if out.FastModel == "" {
		out.FastModel = os.Getenv("GROK_FAST_MODEL")
	}
	if out.FastModel == "" {
		out.FastModel = out.Model
	}
	if out.Temperature == 0 {
		if s := os.Getenv("GROK_TEMPERATURE"); s != "" {
			if v, err := strconv.ParseFloat(s, 32); err == nil {
				out.Temperature = float32(v)
			}
		}
	}
	if out.MaxTokens == 0 {
		if s := os.Getenv("GROK_MAX_TOKENS"); s != "" {
			if v, err := strconv.Atoi(s); err == nil {
				out.MaxTokens = v
			}
		}
	}
	return out
}
