package chunker

import (
	"fmt"
	"sort"
	"strings"

	"policyrag/internal/domain"
)

// separators in priority order: paragraph break, line break, sentence end,
// word boundary, then arbitrary character as the last resort.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// RecursiveChunker splits document content at the most semantic boundary
// available, re-splitting oversized pieces with finer separators, then merges
// pieces greedily up to the chunk size. Consecutive chunks of one document
// overlap by exactly chunkOverlap characters.
type RecursiveChunker struct {
	chunkSize    int
	chunkOverlap int
}

// New creates a chunker. chunkOverlap must be strictly less than chunkSize.
func New(chunkSize, chunkOverlap int) (*RecursiveChunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d",
			domain.ErrConfiguration, chunkSize)
	}
	if chunkOverlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap must not be negative, got %d",
			domain.ErrConfiguration, chunkOverlap)
	}
	if chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("%w: chunk overlap (%d) must be less than chunk size (%d)",
			domain.ErrConfiguration, chunkOverlap, chunkSize)
	}
	return &RecursiveChunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// Split chunks all documents in order, stamping each chunk with a global
// zero-based sequence index and its own length. Pure function of its input:
// identical documents and parameters always produce identical chunks.
func (c *RecursiveChunker) Split(documents []domain.Document) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	seq := 0
	for _, doc := range documents {
		for _, content := range c.splitContent(doc.Content) {
			chunks = append(chunks, domain.Chunk{
				Content:  content,
				Source:   doc.Source,
				Page:     doc.Page,
				Sequence: seq,
				Length:   len(content),
			})
			seq++
		}
	}
	return chunks, nil
}

// splitContent produces the chunk texts for one document. Every chunk is a
// substring of content; each chunk after the first starts chunkOverlap
// characters before the previous chunk's end.
func (c *RecursiveChunker) splitContent(content string) []string {
	if content == "" {
		return nil
	}
	if len(content) <= c.chunkSize {
		return []string{content}
	}

	var bounds []int
	c.appendBoundaries(content, 0, separators, &bounds)

	var out []string
	start := 0
	for {
		limit := start + c.chunkSize
		if limit >= len(content) {
			out = append(out, content[start:])
			break
		}
		// a chunk must outlast the overlap it donates to the next one,
		// so boundaries within chunkOverlap of start are not usable
		end := largestBoundary(bounds, start+c.chunkOverlap, limit)
		if end == 0 {
			// no split point within reach, cut at the size limit
			end = limit
		}
		out = append(out, content[start:end])
		start = end - c.chunkOverlap
	}
	return out
}

// appendBoundaries records ascending end offsets of pieces no longer than
// the chunk size, splitting by the first separator that applies and
// re-splitting oversized pieces with the remaining, finer separators.
func (c *RecursiveChunker) appendBoundaries(content string, base int, seps []string, out *[]int) {
	if len(content) <= c.chunkSize {
		*out = append(*out, base+len(content))
		return
	}
	if len(seps) == 0 || seps[0] == "" {
		// character-level fallback: fixed-size cuts
		for i := c.chunkSize; i < len(content); i += c.chunkSize {
			*out = append(*out, base+i)
		}
		*out = append(*out, base+len(content))
		return
	}
	pieces := splitKeep(content, seps[0])
	if len(pieces) == 1 {
		c.appendBoundaries(content, base, seps[1:], out)
		return
	}
	off := 0
	for _, p := range pieces {
		c.appendBoundaries(p, base+off, seps[1:], out)
		off += len(p)
	}
}

// splitKeep splits s by sep with the separator retained on the preceding
// piece, so that piece offsets stay contiguous in the original string.
func splitKeep(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			p += sep
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// largestBoundary returns the largest boundary b with minEnd < b <= limit,
// or 0 when no such boundary exists.
func largestBoundary(bounds []int, minEnd, limit int) int {
	i := sort.SearchInts(bounds, limit+1) - 1
	if i < 0 || bounds[i] <= minEnd {
		return 0
	}
	return bounds[i]
}
