package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"policyrag/internal/chunker"
	"policyrag/internal/config"
	"policyrag/internal/domain"
	"policyrag/internal/index"
	"policyrag/internal/llm"
	"policyrag/internal/logger"
	"policyrag/internal/service"
	"policyrag/internal/tui"
	"policyrag/internal/vectorstore"
	"policyrag/internal/vectorstore/memory"
	"policyrag/internal/vectorstore/sqlite"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/policyrag/config.yaml if not provided)")
	flag.Parse()

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := logger.New()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zlog.Sync()

	ch, err := chunker.New(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap)
	if err != nil {
		zlog.Fatal("invalid chunker configuration", zap.Error(err))
	}

	client, err := llm.New(llm.Config{
		APIKey:      os.Getenv(cfg.LLM.APIKeyEnv),
		BaseURL:     cfg.LLM.BaseURL,
		EmbedModel:  cfg.LLM.EmbedModel,
		ChatModel:   cfg.LLM.ChatModel,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout(),
		MaxRetries:  cfg.LLM.MaxRetries,
	})
	if err != nil {
		zlog.Fatal("model service unavailable", zap.Error(err))
	}

	var provider vectorstore.Provider
	switch cfg.Store.Type {
	case "sqlite", "":
		provider = sqlite.NewProvider(cfg.Store.DataDir)
	case "memory":
		provider = memory.NewProvider()
	default:
		zlog.Fatal("unknown store type", zap.String("type", cfg.Store.Type))
	}

	idx := index.New(client, provider, zlog)
	svc := service.New(ch, idx, client, cfg.Store.Collection, cfg.Agent.TopK, cfg.Agent.HistoryWindow, zlog)
	defer svc.Close()

	if err := svc.Open(context.Background()); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			zlog.Fatal("collection not found, run the ingest command first",
				zap.String("collection", cfg.Store.Collection))
		}
		zlog.Fatal("failed to open collection", zap.Error(err))
	}

	m := tui.New(svc)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		zlog.Fatal("tui exited with error", zap.Error(err))
	}
}
