package domain

import "context"

// Document is a unit of source text handed to the chunker.
// Immutable after creation; owned by the ingestion pipeline.
type Document struct {
	Content string
	Source  string
	Page    int
}

// Chunk is a bounded, possibly overlapping slice of a document's content,
// the unit of embedding and retrieval.
type Chunk struct {
	Content  string
	Source   string
	Page     int
	Sequence int
	Length   int
}

// IndexEntry is a persisted (content, embedding, metadata) triple keyed by
// a generated identifier, unique within its collection.
type IndexEntry struct {
	ID        string
	Content   string
	Source    string
	Page      int
	Sequence  int
	Length    int
	Embedding []float32
}

// SearchResult is a matching chunk with its relevance score (cosine
// similarity, higher is better).
type SearchResult struct {
	Content string
	Source  string
	Page    int
	Score   float32
}

// Message is one turn of conversation history, most recent last.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// QueryResult is what the agent returns to its caller for one query.
type QueryResult struct {
	Response       string
	Sources        []string
	NeedsRetrieval bool
}

// Embedder converts text into a fixed-length vector. The same input must
// always produce the same output so that build-time and query-time vectors
// share one embedding space.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Generator produces a completion from a system prompt, prior conversation
// and the current user message. Stateless per call.
type Generator interface {
	Complete(ctx context.Context, system string, history []Message, user string) (string, error)
}

// Chunker splits documents into chunks suitable for embedding.
type Chunker interface {
	Split(documents []Document) ([]Chunk, error)
}

// Retriever answers nearest-neighbour queries, best match first.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]SearchResult, error)
}
