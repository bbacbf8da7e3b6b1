// Package service exposes the two caller-facing contracts of the core: the
// setup-time Ingest operation and the query-time Query operation. The HTTP
// layer and CLI tooling are thin wrappers over this package.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"policyrag/internal/agent"
	"policyrag/internal/domain"
	"policyrag/internal/index"
)

// Stats summarizes an ingestion run.
type Stats struct {
	Documents    int
	Chunks       int
	Characters   int
	AvgDocLength int
	Sources      []string
}

// Service wires the chunker, index and agent for one collection.
type Service struct {
	chunker    domain.Chunker
	index      *index.Index
	generator  domain.Generator
	collection string
	topK       int
	history    int
	log        *zap.Logger

	handle *index.Handle
	agent  *agent.Agent
}

// New creates a service for the named collection. No collection is opened
// yet; call Ingest or Open first.
func New(chunker domain.Chunker, idx *index.Index, generator domain.Generator,
	collection string, topK, historyWindow int, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		chunker:    chunker,
		index:      idx,
		generator:  generator,
		collection: collection,
		topK:       topK,
		history:    historyWindow,
		log:        log,
	}
	s.rebuildAgent()
	return s
}

func (s *Service) rebuildAgent() {
	var retriever domain.Retriever
	if s.handle != nil {
		retriever = s.handle
	}
	s.agent = agent.New(retriever, s.generator, s.log,
		agent.WithTopK(s.topK), agent.WithHistoryWindow(s.history))
}

// Ingest loads documents from dir, chunks them and builds the collection.
// Idempotent unless forceRecreate is set: an existing collection is loaded
// rather than re-embedded.
func (s *Service) Ingest(ctx context.Context, dir string, forceRecreate bool) (*Stats, error) {
	documents, err := LoadDocuments(dir)
	if err != nil {
		return nil, err
	}
	chunks, err := s.chunker.Split(documents)
	if err != nil {
		return nil, err
	}

	handle, err := s.index.Build(ctx, chunks, s.collection, forceRecreate)
	if err != nil {
		return nil, err
	}
	s.attach(handle)

	stats := collectStats(documents, chunks)
	s.log.Info("ingestion complete",
		zap.Int("documents", stats.Documents),
		zap.Int("chunks", stats.Chunks),
		zap.Int("characters", stats.Characters),
		zap.Strings("sources", stats.Sources))
	return stats, nil
}

// Open loads the previously built collection. Returns domain.ErrNotFound
// when ingestion has not run yet.
func (s *Service) Open(ctx context.Context) error {
	handle, err := s.index.Load(ctx, s.collection)
	if err != nil {
		return err
	}
	s.attach(handle)
	return nil
}

func (s *Service) attach(handle *index.Handle) {
	if s.handle != nil {
		s.handle.Close()
	}
	s.handle = handle
	s.rebuildAgent()
}

// Query answers one user query with the retrieval agent.
func (s *Service) Query(ctx context.Context, query string, history []domain.Message) (domain.QueryResult, error) {
	return s.agent.Query(ctx, query, history)
}

// Close releases the open collection, if any.
func (s *Service) Close() error {
	if s.handle == nil {
		return nil
	}
	return s.handle.Close()
}

// LoadDocuments reads all .txt and .md files under dir into documents.
// A missing directory is domain.ErrNotFound; an existing directory with no
// matching files yields zero documents, which builds an empty collection.
func LoadDocuments(dir string) ([]domain.Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: document directory %q", domain.ErrNotFound, dir)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", domain.ErrNotFound, dir)
	}

	var documents []domain.Document
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
		default:
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		documents = append(documents, domain.Document{
			Content: string(data),
			Source:  path,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return documents, nil
}

func collectStats(documents []domain.Document, chunks []domain.Chunk) *Stats {
	stats := &Stats{Documents: len(documents), Chunks: len(chunks)}
	seen := make(map[string]struct{}, len(documents))
	for _, d := range documents {
		stats.Characters += len(d.Content)
		if _, ok := seen[d.Source]; !ok {
			seen[d.Source] = struct{}{}
			stats.Sources = append(stats.Sources, d.Source)
		}
	}
	if len(documents) > 0 {
		stats.AvgDocLength = stats.Characters / len(documents)
	}
	return stats
}
