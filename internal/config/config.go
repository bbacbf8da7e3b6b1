package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"policyrag/internal/domain"
)

// LLMConfig holds configuration for the OpenAI embedding and chat clients.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	EmbedModel  string  `yaml:"embed_model"`
	ChatModel   string  `yaml:"chat_model"`
	Temperature float32 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries"`
}

// Timeout returns the per-call network timeout as a duration.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	Type       string `yaml:"type"` // "sqlite" or "memory"
	DataDir    string `yaml:"data_dir"`
	Collection string `yaml:"collection"`
}

// AgentConfig configures the retrieval agent.
type AgentConfig struct {
	TopK          int `yaml:"top_k"`
	HistoryWindow int `yaml:"history_window"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	LLM     LLMConfig     `yaml:"llm"`
	Chunker ChunkerConfig `yaml:"chunker"`
	Store   StoreConfig   `yaml:"store"`
	Agent   AgentConfig   `yaml:"agent"`
}

// Load reads a config from a specified path. If the file does not exist,
// returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/policyrag/config.yaml.
// If neither exists, it writes defaults to the user path and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects parameter combinations the pipeline cannot run with.
func (c *AppConfig) Validate() error {
	if c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap (%d) must be less than chunk_size (%d)",
			domain.ErrConfiguration, c.Chunker.ChunkOverlap, c.Chunker.ChunkSize)
	}
	if c.Agent.TopK < 1 {
		return fmt.Errorf("%w: top_k must be at least 1, got %d",
			domain.ErrConfiguration, c.Agent.TopK)
	}
	switch c.Store.Type {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("%w: unknown store type %q", domain.ErrConfiguration, c.Store.Type)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "policyrag", "config.yaml"), nil
}

// Default returns the configuration used when no file is present.
func Default() *AppConfig {
	return &AppConfig{
		LLM: LLMConfig{
			APIKeyEnv:   "OPENAI_API_KEY",
			EmbedModel:  "text-embedding-3-small",
			ChatModel:   "gpt-4-turbo-preview",
			Temperature: 0.3,
			TimeoutSecs: 30,
			MaxRetries:  3,
		},
		Chunker: ChunkerConfig{ChunkSize: 1000, ChunkOverlap: 200},
		Store:   StoreConfig{Type: "sqlite", DataDir: "data", Collection: "policy_docs"},
		Agent:   AgentConfig{TopK: 4, HistoryWindow: 6},
	}
}

func applyDefaults(cfg *AppConfig) {
	def := Default()
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = def.LLM.APIKeyEnv
	}
	if cfg.LLM.EmbedModel == "" {
		cfg.LLM.EmbedModel = def.LLM.EmbedModel
	}
	if cfg.LLM.ChatModel == "" {
		cfg.LLM.ChatModel = def.LLM.ChatModel
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = def.LLM.Temperature
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = def.LLM.TimeoutSecs
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = def.LLM.MaxRetries
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = def.Chunker.ChunkSize
	}
	if cfg.Chunker.ChunkOverlap == 0 {
		cfg.Chunker.ChunkOverlap = def.Chunker.ChunkOverlap
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = def.Store.Type
	}
	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = def.Store.DataDir
	}
	if cfg.Store.Collection == "" {
		cfg.Store.Collection = def.Store.Collection
	}
	if cfg.Agent.TopK == 0 {
		cfg.Agent.TopK = def.Agent.TopK
	}
	if cfg.Agent.HistoryWindow == 0 {
		cfg.Agent.HistoryWindow = def.Agent.HistoryWindow
	}
}
