package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"policyrag/internal/chunker"
	"policyrag/internal/config"
	"policyrag/internal/index"
	"policyrag/internal/llm"
	"policyrag/internal/logger"
	"policyrag/internal/service"
	"policyrag/internal/vectorstore"
	"policyrag/internal/vectorstore/memory"
	"policyrag/internal/vectorstore/sqlite"
)

func main() {
	_ = godotenv.Load()

	var (
		cfgPath string
		force   bool
	)
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/policyrag/config.yaml if not provided)")
	flag.BoolVar(&force, "force", false, "Erase and rebuild the collection even if it already exists")
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		fmt.Println("Usage: ingest [--config=config.yaml] [--force] <documents-dir>")
		os.Exit(1)
	}
	docsDir := args[0]

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

	client, err := llm.New(llmConfig(cfg))
	if err != nil {
		zlog.Fatal("embedding service unavailable", zap.Error(err))
	}

	var provider vectorstore.Provider
	switch cfg.Store.Type {
	case "sqlite", "":
		provider = sqlite.NewProvider(cfg.Store.DataDir)
	case "memory":
		zlog.Warn("memory store selected: the built collection will not survive this process")
		provider = memory.NewProvider()
	default:
		zlog.Fatal("unknown store type", zap.String("type", cfg.Store.Type))
	}

	idx := index.New(client, provider, zlog)
	svc := service.New(ch, idx, client, cfg.Store.Collection, cfg.Agent.TopK, cfg.Agent.HistoryWindow, zlog)
	defer svc.Close()

	stats, err := svc.Ingest(context.Background(), docsDir, force)
	if err != nil {
		zlog.Fatal("ingest failed", zap.Error(err))
	}

	fmt.Printf("Ingested %d documents into collection %q\n", stats.Documents, cfg.Store.Collection)
	fmt.Printf("  chunks:          %d\n", stats.Chunks)
	fmt.Printf("  characters:      %d\n", stats.Characters)
	fmt.Printf("  avg doc length:  %d\n", stats.AvgDocLength)
	for _, s := range stats.Sources {
		fmt.Printf("  source: %s\n", s)
	}
}

func llmConfig(cfg *config.AppConfig) llm.Config {
	return llm.Config{
		APIKey:      os.Getenv(cfg.LLM.APIKeyEnv),
		BaseURL:     cfg.LLM.BaseURL,
		EmbedModel:  cfg.LLM.EmbedModel,
		ChatModel:   cfg.LLM.ChatModel,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout(),
		MaxRetries:  cfg.LLM.MaxRetries,
	}
}
