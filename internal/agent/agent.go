// Package agent answers user queries over the document index. Each query
// runs through a fixed four-state pipeline: classify, retrieve, generate,
// done. Retrieval is a no-op pass-through when classification decides it is
// unnecessary, which keeps the pipeline linear.
package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"policyrag/internal/domain"
	"policyrag/internal/index"
)

// smallTalkPatterns gate retrieval: queries containing any of these as a
// substring are treated as conversation, not document questions. Substring
// matching means a substantive question that happens to contain a greeting
// word also skips retrieval; that is accepted, known behavior.
var smallTalkPatterns = []string{
	"hello", "hi", "hey", "good morning", "good afternoon",
	"good evening", "thanks", "thank you", "bye", "goodbye",
	"how are you", "what's up", "what can you do",
}

const groundedSystem = `You are a helpful assistant answering questions about a fixed set of policy documents.

IMPORTANT RULES:
1. ONLY use information from the provided context below.
2. If the answer is not in the context, say "I don't have that specific information in the documents I have access to" and recommend checking the official source.
3. Be clear, friendly and encouraging.
4. Always cite your sources when providing information.
5. Break down complex information into simple, easy-to-understand terms.

Context from the policy documents:
%s`

const smallTalkSystem = `You are a friendly assistant for a policy-document question answering service.

For greetings and simple interactions:
- Respond warmly and professionally
- Offer to help with questions about the policy documents
- Keep responses brief and friendly`

// queryState is the per-query record threaded through the pipeline. Created
// fresh for each query, never shared, discarded when done.
type queryState struct {
	query          string
	history        []domain.Message
	needsRetrieval bool
	retrieved      []string
	response       string
	sources        []string
}

// Agent is a dependency-injected query pipeline. Construct one per process
// or per test; instances share nothing and may run queries concurrently.
type Agent struct {
	retriever     domain.Retriever
	generator     domain.Generator
	topK          int
	historyWindow int
	log           *zap.Logger
}

// Option configures the agent.
type Option func(*Agent)

// WithTopK sets how many chunks are retrieved per query.
func WithTopK(k int) Option {
	return func(a *Agent) {
		if k > 0 {
			a.topK = k
		}
	}
}

// WithHistoryWindow sets how many trailing history messages are passed to
// the generator for grounded answers.
func WithHistoryWindow(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.historyWindow = n
		}
	}
}

// New creates an agent. retriever may be nil, in which case any query that
// requires retrieval fails rather than degrading to an ungrounded answer.
func New(retriever domain.Retriever, generator domain.Generator, log *zap.Logger, opts ...Option) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Agent{
		retriever:     retriever,
		generator:     generator,
		topK:          index.DefaultTopK,
		historyWindow: 6, // last 3 exchanges
		log:           log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Query runs one user query through the pipeline and returns the response
// text, the distinct source identifiers used, and whether retrieval ran.
func (a *Agent) Query(ctx context.Context, query string, history []domain.Message) (domain.QueryResult, error) {
	st := &queryState{query: query, history: history}

	steps := []func(context.Context, *queryState) error{
		a.classify,
		a.retrieve,
		a.generate,
	}
	for _, step := range steps {
		if err := step(ctx, st); err != nil {
			return domain.QueryResult{}, err
		}
	}

	return domain.QueryResult{
		Response:       st.response,
		Sources:        st.sources,
		NeedsRetrieval: st.needsRetrieval,
	}, nil
}

// classify decides whether the query needs document retrieval. A cheap
// substring gate, not semantic classification.
func (a *Agent) classify(_ context.Context, st *queryState) error {
	q := strings.ToLower(strings.TrimSpace(st.query))
	st.needsRetrieval = true
	for _, pattern := range smallTalkPatterns {
		if strings.Contains(q, pattern) {
			st.needsRetrieval = false
			break
		}
	}
	a.log.Debug("query classified",
		zap.Bool("needs_retrieval", st.needsRetrieval))
	return nil
}

// retrieve fetches the most relevant chunks and derives the deduplicated
// source list. No-op when classification decided retrieval is unnecessary.
func (a *Agent) retrieve(ctx context.Context, st *queryState) error {
	if !st.needsRetrieval {
		return nil
	}
	if a.retriever == nil {
		return fmt.Errorf("%w: query requires retrieval but no collection is loaded",
			domain.ErrRetrievalUnavailable)
	}
	results, err := a.retriever.Search(ctx, st.query, a.topK)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		st.retrieved = append(st.retrieved, r.Content)
		source := baseName(r.Source)
		if source == "" {
			source = "Unknown Document"
		}
		if _, ok := seen[source]; ok {
			continue
		}
		seen[source] = struct{}{}
		st.sources = append(st.sources, source)
	}
	a.log.Debug("chunks retrieved",
		zap.Int("chunks", len(st.retrieved)),
		zap.Strings("sources", st.sources))
	return nil
}

// generate produces the response. Grounded answers get the retrieved
// context plus the trailing history window; small talk gets the light
// prompt with neither.
func (a *Agent) generate(ctx context.Context, st *queryState) error {
	var (
		system  string
		history []domain.Message
	)
	if st.needsRetrieval {
		system = fmt.Sprintf(groundedSystem, strings.Join(st.retrieved, "\n\n"))
		history = st.history
		if len(history) > a.historyWindow {
			history = history[len(history)-a.historyWindow:]
		}
	} else {
		system = smallTalkSystem
	}

	response, err := a.generator.Complete(ctx, system, history, st.query)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGeneration, err)
	}
	st.response = response
	return nil
}

// baseName strips any directory path from a source identifier, handling
// both separator styles the way the ingested metadata may carry them.
func baseName(source string) string {
	if i := strings.LastIndexAny(source, `/\`); i >= 0 {
		return source[i+1:]
	}
	return source
}
