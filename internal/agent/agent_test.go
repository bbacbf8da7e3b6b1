package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyrag/internal/domain"
)

type fakeRetriever struct {
	results []domain.SearchResult
	err     error
	calls   int
	lastK   int
}

func (f *fakeRetriever) Search(_ context.Context, _ string, k int) ([]domain.SearchResult, error) {
	f.calls++
	f.lastK = k
	return f.results, f.err
}

type fakeGenerator struct {
	response   string
	err        error
	gotSystem  string
	gotHistory []domain.Message
	gotUser    string
}

func (f *fakeGenerator) Complete(_ context.Context, system string, history []domain.Message, user string) (string, error) {
	f.gotSystem = system
	f.gotHistory = history
	f.gotUser = user
	return f.response, f.err
}

func TestQuery_SmallTalkSkipsRetrieval(t *testing.T) {
	retriever := &fakeRetriever{}
	generator := &fakeGenerator{response: "Hi! How can I help you with the policy documents?"}
	a := New(retriever, generator, nil)

	result, err := a.Query(context.Background(), "Hello!", nil)
	require.NoError(t, err)

	assert.False(t, result.NeedsRetrieval)
	assert.Empty(t, result.Sources)
	assert.Equal(t, generator.response, result.Response)
	assert.Zero(t, retriever.calls, "small talk must not hit the index")
	assert.Equal(t, smallTalkSystem, generator.gotSystem)
	assert.Empty(t, generator.gotHistory)
}

func TestQuery_GroundedAnswer(t *testing.T) {
	retriever := &fakeRetriever{results: []domain.SearchResult{
		{Content: "Applicants must submit an admission letter and a passport photograph.", Source: "docs/application_guide.txt", Score: 0.91},
		{Content: "A bank verification number is also required.", Source: "docs/application_guide.txt", Score: 0.84},
	}}
	generator := &fakeGenerator{response: "You need an admission letter, a passport photograph and a bank verification number."}
	a := New(retriever, generator, nil)

	result, err := a.Query(context.Background(), "What documents do I need to apply?", nil)
	require.NoError(t, err)

	assert.True(t, result.NeedsRetrieval)
	assert.Equal(t, []string{"application_guide.txt"}, result.Sources)
	assert.Contains(t, result.Response, "admission letter")
	assert.Equal(t, 1, retriever.calls)
	assert.Equal(t, 4, retriever.lastK)
	assert.Contains(t, generator.gotSystem, "admission letter and a passport photograph")
	assert.Contains(t, generator.gotSystem, "bank verification number")
	assert.Contains(t, generator.gotSystem, "ONLY use information from the provided context")
}

func TestQuery_SourceDeduplication(t *testing.T) {
	retriever := &fakeRetriever{results: []domain.SearchResult{
		{Content: "chunk one", Source: "docs/guide.txt", Score: 0.9},
		{Content: "chunk two", Source: "faq.txt", Score: 0.8},
		{Content: "chunk three", Source: "docs/guide.txt", Score: 0.7},
		{Content: "chunk four", Source: `C:\share\faq.txt`, Score: 0.6},
	}}
	generator := &fakeGenerator{response: "ok"}
	a := New(retriever, generator, nil)

	result, err := a.Query(context.Background(), "What are the repayment terms?", nil)
	require.NoError(t, err)

	// distinct basenames, in order of first appearance
	assert.Equal(t, []string{"guide.txt", "faq.txt"}, result.Sources)
}

func TestQuery_HistoryWindow(t *testing.T) {
	retriever := &fakeRetriever{results: []domain.SearchResult{
		{Content: "some context", Source: "a.txt", Score: 0.9},
	}}
	generator := &fakeGenerator{response: "ok"}
	a := New(retriever, generator, nil)

	history := make([]domain.Message, 10)
	for i := range history {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		history[i] = domain.Message{Role: role, Content: fmt.Sprintf("message %d", i)}
	}

	_, err := a.Query(context.Background(), "What are the repayment terms?", history)
	require.NoError(t, err)

	require.Len(t, generator.gotHistory, 6)
	assert.Equal(t, "message 4", generator.gotHistory[0].Content)
	assert.Equal(t, "message 9", generator.gotHistory[5].Content)
}

func TestQuery_RetrievalUnavailable(t *testing.T) {
	generator := &fakeGenerator{response: "ok"}
	a := New(nil, generator, nil)

	_, err := a.Query(context.Background(), "What documents do I need?", nil)
	assert.ErrorIs(t, err, domain.ErrRetrievalUnavailable)

	// small talk still works without an index
	result, err := a.Query(context.Background(), "Hello!", nil)
	require.NoError(t, err)
	assert.False(t, result.NeedsRetrieval)
}

func TestQuery_GenerationError(t *testing.T) {
	retriever := &fakeRetriever{results: []domain.SearchResult{
		{Content: "context", Source: "a.txt", Score: 0.9},
	}}
	generator := &fakeGenerator{err: errors.New("model overloaded")}
	a := New(retriever, generator, nil)

	_, err := a.Query(context.Background(), "What are the repayment terms?", nil)
	assert.ErrorIs(t, err, domain.ErrGeneration)
}

func TestQuery_SearchErrorPropagates(t *testing.T) {
	retriever := &fakeRetriever{err: fmt.Errorf("%w: store offline", domain.ErrSearch)}
	a := New(retriever, &fakeGenerator{}, nil)

	_, err := a.Query(context.Background(), "What are the repayment terms?", nil)
	assert.ErrorIs(t, err, domain.ErrSearch)
}

// A substantive question containing a greeting word skips retrieval; the
// substring gate is intentionally kept cheap and this is its known
// limitation.
func TestQuery_GreetingSubstringLimitation(t *testing.T) {
	retriever := &fakeRetriever{}
	generator := &fakeGenerator{response: "Hello! Ask me about the policy documents."}
	a := New(retriever, generator, nil)

	result, err := a.Query(context.Background(), "hi, what documents do I need", nil)
	require.NoError(t, err)
	assert.False(t, result.NeedsRetrieval)
	assert.Zero(t, retriever.calls)
}

func TestQuery_CustomTopK(t *testing.T) {
	retriever := &fakeRetriever{results: []domain.SearchResult{
		{Content: "context", Source: "a.txt", Score: 0.9},
	}}
	a := New(retriever, &fakeGenerator{response: "ok"}, nil, WithTopK(7))

	_, err := a.Query(context.Background(), "What are the repayment terms?", nil)
	require.NoError(t, err)
	assert.Equal(t, 7, retriever.lastK)
}
