package index

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"policyrag/internal/domain"
	"policyrag/internal/vectorstore"
	"policyrag/internal/vectorstore/memory"
)

// fakeEmbedder produces deterministic keyword-count vectors so relevance
// ordering is predictable without a real embedding service.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

var fakeKeywords = []string{"documents", "eligible", "repayment"}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, errors.New("embedding service down")
	}
	v := make([]float32, 4)
	lower := strings.ToLower(text)
	for i, kw := range fakeKeywords {
		v[i] = float32(strings.Count(lower, kw))
	}
	v[3] = 0.1 // keeps vectors nonzero for keyword-free text
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	inv := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range v {
		v[i] *= inv
	}
	return v, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 4 }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testChunks() []domain.Chunk {
	return []domain.Chunk{
		{Content: "Required documents include an admission letter and identity card.", Source: "docs/application.txt", Sequence: 0},
		{Content: "Students are eligible when enrolled at an accredited institution.", Source: "docs/eligibility.txt", Sequence: 1},
		{Content: "Repayment starts two years after graduation.", Source: "docs/repayment.txt", Sequence: 2},
	}
}

func TestBuildAndSearch(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{}
	ix := New(emb, memory.NewProvider(), nil)

	handle, err := ix.Build(ctx, testChunks(), "policy", false)
	require.NoError(t, err)

	results, err := handle.Search(ctx, "What documents do I need?", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Contains(t, results[0].Content, "documents")
	assert.Equal(t, "docs/application.txt", results[0].Source)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].Score, results[i-1].Score)
	}
}

func TestBuildIdempotent(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{}
	ix := New(emb, memory.NewProvider(), nil)

	first, err := ix.Build(ctx, testChunks(), "policy", false)
	require.NoError(t, err)
	callsAfterFirst := emb.callCount()

	second, err := ix.Build(ctx, testChunks(), "policy", false)
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, emb.callCount(),
		"second build must load the existing collection, not re-embed")

	firstCount, err := first.Count(ctx)
	require.NoError(t, err)
	secondCount, err := second.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, firstCount, secondCount)
}

func TestBuildForceRecreate(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{}
	ix := New(emb, memory.NewProvider(), nil)

	_, err := ix.Build(ctx, testChunks(), "policy", false)
	require.NoError(t, err)

	replacement := []domain.Chunk{
		{Content: "Only one chunk now.", Source: "docs/new.txt", Sequence: 0},
	}
	handle, err := ix.Build(ctx, replacement, "policy", true)
	require.NoError(t, err)

	count, err := handle.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLoadMissingCollection(t *testing.T) {
	ix := New(&fakeEmbedder{}, memory.NewProvider(), nil)
	_, err := ix.Load(context.Background(), "never_built")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSearchDefaultK(t *testing.T) {
	ctx := context.Background()
	chunks := make([]domain.Chunk, 6)
	for i := range chunks {
		chunks[i] = domain.Chunk{Content: "filler content", Source: "f.txt", Sequence: i}
	}
	ix := New(&fakeEmbedder{}, memory.NewProvider(), nil)
	handle, err := ix.Build(ctx, chunks, "policy", false)
	require.NoError(t, err)

	results, err := handle.Search(ctx, "anything", 0)
	require.NoError(t, err)
	assert.Len(t, results, DefaultTopK)
}

func TestEmptyCorpus(t *testing.T) {
	ctx := context.Background()
	ix := New(&fakeEmbedder{}, memory.NewProvider(), nil)

	handle, err := ix.Build(ctx, nil, "empty", false)
	require.NoError(t, err)

	results, err := handle.Search(ctx, "anything", 4)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFailedBuildLeavesNoCollection(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{fail: true}
	provider := memory.NewProvider()
	ix := New(emb, provider, nil)

	_, err := ix.Build(ctx, testChunks(), "policy", false)
	assert.ErrorIs(t, err, domain.ErrIngestion)

	ok, err := provider.Exists("policy")
	require.NoError(t, err)
	assert.False(t, ok)
}

// insertFailStore accepts Init but refuses all inserts.
type insertFailStore struct {
	vectorstore.Store
}

func (insertFailStore) Insert(context.Context, []domain.IndexEntry) error {
	return errors.New("disk full")
}

// brokenProvider hands out stores that cannot be written and optionally
// fails the cleanup Drop as well.
type brokenProvider struct {
	*memory.Provider
	dropErr error
}

func (p *brokenProvider) Create(collection string) (vectorstore.Store, error) {
	s, err := p.Provider.Create(collection)
	if err != nil {
		return nil, err
	}
	return insertFailStore{s}, nil
}

func (p *brokenProvider) Drop(collection string) error {
	if p.dropErr != nil {
		return p.dropErr
	}
	return p.Provider.Drop(collection)
}

func TestFailedCleanupIsLogged(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	provider := &brokenProvider{
		Provider: memory.NewProvider(),
		dropErr:  errors.New("permission denied"),
	}
	ix := New(&fakeEmbedder{}, provider, zap.New(core))

	_, err := ix.Build(ctx, testChunks(), "policy", false)
	assert.ErrorIs(t, err, domain.ErrIngestion)
	assert.Equal(t, 1, logs.FilterMessage("failed to clean up partial collection").Len())
}

func TestSearchEmbedFailure(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{}
	ix := New(emb, memory.NewProvider(), nil)
	handle, err := ix.Build(ctx, testChunks(), "policy", false)
	require.NoError(t, err)

	emb.mu.Lock()
	emb.fail = true
	emb.mu.Unlock()

	_, err = handle.Search(ctx, "anything", 4)
	assert.ErrorIs(t, err, domain.ErrSearch)
}
