package domain

import "errors"

// Error taxonomy for the retrieval core. Callers match with errors.Is;
// producing code wraps these with fmt.Errorf("%w: ...") so the cause is
// preserved through the chain.
var (
	// ErrConfiguration marks missing credentials or invalid parameters.
	// Never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound marks a requested collection or source that does not
	// exist; the caller must run ingestion first.
	ErrNotFound = errors.New("not found")

	// ErrIngestion marks an embedding or storage failure during build,
	// after the retry budget is exhausted.
	ErrIngestion = errors.New("ingestion failed")

	// ErrSearch marks an embedding or lookup failure at query time.
	ErrSearch = errors.New("search failed")

	// ErrGeneration marks a generation-service failure; there is no
	// local fallback response.
	ErrGeneration = errors.New("generation failed")

	// ErrRetrievalUnavailable marks a query that required retrieval while
	// no index was loaded. Never downgraded to an ungrounded answer.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
)
