// Package index ties the embedding service to a vector store backend. Build
// runs once, offline; query-time code only loads and searches.
package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"policyrag/internal/domain"
	"policyrag/internal/vectorstore"
)

// DefaultTopK is the number of results returned when the caller does not
// ask for a specific k.
const DefaultTopK = 4

// Index builds and opens collections.
type Index struct {
	embedder domain.Embedder
	provider vectorstore.Provider
	log      *zap.Logger

	// builds must not run concurrently on the same backend
	buildMu sync.Mutex
}

func New(embedder domain.Embedder, provider vectorstore.Provider, log *zap.Logger) *Index {
	if log == nil {
		log = zap.NewNop()
	}
	return &Index{embedder: embedder, provider: provider, log: log}
}

// Handle is an open collection. It is effectively immutable after Build
// completes; concurrent Search calls need no coordination.
type Handle struct {
	store      vectorstore.Store
	embedder   domain.Embedder
	collection string
}

// Build embeds all chunks and persists them under the named collection.
// When the collection already exists and forceRecreate is false, the
// existing collection is loaded instead of re-embedded. All embeddings are
// computed before any storage is created, so a failed build leaves no
// collection it didn't already have.
func (ix *Index) Build(ctx context.Context, chunks []domain.Chunk, collection string, forceRecreate bool) (*Handle, error) {
	ix.buildMu.Lock()
	defer ix.buildMu.Unlock()

	exists, err := ix.provider.Exists(collection)
	if err != nil {
		return nil, fmt.Errorf("%w: checking collection %q: %v", domain.ErrIngestion, collection, err)
	}
	if exists && !forceRecreate {
		ix.log.Info("collection already exists, loading instead of re-embedding",
			zap.String("collection", collection))
		return ix.Load(ctx, collection)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding %d chunks: %v", domain.ErrIngestion, len(chunks), err)
	}

	if exists {
		if err := ix.provider.Drop(collection); err != nil {
			return nil, fmt.Errorf("%w: recreating collection %q: %v", domain.ErrIngestion, collection, err)
		}
	}
	store, err := ix.provider.Create(collection)
	if err != nil {
		return nil, fmt.Errorf("%w: creating collection %q: %v", domain.ErrIngestion, collection, err)
	}

	dimension := ix.embedder.Dimension()
	if len(vectors) > 0 {
		dimension = len(vectors[0])
	}
	entries := make([]domain.IndexEntry, len(chunks))
	for i, ch := range chunks {
		entries[i] = domain.IndexEntry{
			ID:        uuid.New().String(),
			Content:   ch.Content,
			Source:    ch.Source,
			Page:      ch.Page,
			Sequence:  ch.Sequence,
			Length:    ch.Length,
			Embedding: vectors[i],
		}
	}
	if err := ix.initAndInsert(ctx, store, dimension, entries); err != nil {
		store.Close()
		if dropErr := ix.provider.Drop(collection); dropErr != nil {
			ix.log.Warn("failed to clean up partial collection",
				zap.String("collection", collection),
				zap.Error(dropErr))
		}
		return nil, fmt.Errorf("%w: persisting collection %q: %v", domain.ErrIngestion, collection, err)
	}

	ix.log.Info("collection built",
		zap.String("collection", collection),
		zap.Int("entries", len(entries)),
		zap.Int("dimension", dimension))
	return &Handle{store: store, embedder: ix.embedder, collection: collection}, nil
}

func (ix *Index) initAndInsert(ctx context.Context, store vectorstore.Store, dimension int, entries []domain.IndexEntry) error {
	if err := store.Init(ctx, dimension); err != nil {
		return err
	}
	return store.Insert(ctx, entries)
}

// Load opens a previously built collection without re-embedding. Returns
// domain.ErrNotFound when the collection does not exist.
func (ix *Index) Load(ctx context.Context, collection string) (*Handle, error) {
	store, err := ix.provider.Open(collection)
	if err != nil {
		return nil, err
	}
	count, err := store.Count(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}
	ix.log.Info("collection loaded",
		zap.String("collection", collection),
		zap.Int("entries", count))
	return &Handle{store: store, embedder: ix.embedder, collection: collection}, nil
}

// Collection returns the name this handle was opened under.
func (h *Handle) Collection() string { return h.collection }

// Close releases the underlying storage.
func (h *Handle) Close() error { return h.store.Close() }

// Count returns the number of persisted entries.
func (h *Handle) Count(ctx context.Context) (int, error) { return h.store.Count(ctx) }

// Search embeds the query and returns up to k results, best match first.
// k values below 1 fall back to DefaultTopK. An empty collection returns an
// empty result, not an error.
func (h *Handle) Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	vec, err := h.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", domain.ErrSearch, err)
	}
	results, err := h.store.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("%w: searching collection %q: %v", domain.ErrSearch, h.collection, err)
	}
	return results, nil
}
