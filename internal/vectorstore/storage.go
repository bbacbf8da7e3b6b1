package vectorstore

import (
	"context"

	"policyrag/internal/domain"
)

// Store is one open collection: persisted index entries plus nearest
// neighbour search. Entries are write-once; there is no update path.
type Store interface {
	Init(ctx context.Context, dimension int) error
	Insert(ctx context.Context, entries []domain.IndexEntry) error
	Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Provider manages named collections on one storage backend.
type Provider interface {
	// Exists reports whether the collection has been created.
	Exists(collection string) (bool, error)
	// Open opens an existing collection; domain.ErrNotFound if absent.
	Open(collection string) (Store, error)
	// Create creates an empty collection and opens it.
	Create(collection string) (Store, error)
	// Drop erases the collection's storage entirely.
	Drop(collection string) error
}
