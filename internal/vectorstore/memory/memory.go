// Package memory is a non-durable vector store backend using brute-force
// cosine similarity. It backs tests and local development; durable
// collections use the sqlite backend.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"policyrag/internal/domain"
	"policyrag/internal/vectorstore"
)

// Provider keeps collections in process memory.
type Provider struct {
	mu          sync.Mutex
	collections map[string]*Store
}

func NewProvider() *Provider {
	return &Provider{collections: make(map[string]*Store)}
}

func (p *Provider) Exists(collection string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.collections[collection]
	return ok, nil
}

func (p *Provider) Open(collection string) (vectorstore.Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: collection %q", domain.ErrNotFound, collection)
	}
	return s, nil
}

func (p *Provider) Create(collection string) (vectorstore.Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &Store{}
	p.collections[collection] = s
	return s, nil
}

func (p *Provider) Drop(collection string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.collections, collection)
	return nil
}

// Store holds entries and vectors side by side; search is a linear scan
// with dot-product scoring (vectors are L2-normalized at embed time).
type Store struct {
	mu        sync.RWMutex
	dimension int
	entries   []domain.IndexEntry
}

func (s *Store) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = dimension
	s.entries = nil
	return nil
}

func (s *Store) Insert(_ context.Context, entries []domain.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if len(e.Embedding) != s.dimension {
			return fmt.Errorf("vector dimension mismatch: got %d, collection has %d",
				len(e.Embedding), s.dimension)
		}
	}
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *Store) Search(_ context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 {
		k = 4
	}
	results := make([]domain.SearchResult, 0, len(s.entries))
	for _, e := range s.entries {
		results = append(results, domain.SearchResult{
			Content: e.Content,
			Source:  e.Source,
			Page:    e.Page,
			Score:   dot(e.Embedding, vector),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *Store) Close() error { return nil }

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
