package rag

import (
	"context"
	"fmt"
	"strings"
)

// NoContextSentinel stands in for the context when retrieval finds nothing.
const NoContextSentinel = "No relevant information found in the knowledge base."

// Passage is one retrieved snippet. SourceIndex is 1-based retrieval order.
type Passage struct {
	SourceIndex int
	Text        string
	Score       float64
	Location    string
}

// RetrievalContext is the ordered passage list handed to generation.
type RetrievalContext []Passage

// String renders "[Source N]: <text>" blocks separated by blank lines, or the
// sentinel for an empty context.
func (rc RetrievalContext) String() string {
	if len(rc) == 0 {
		return NoContextSentinel
	}
	blocks := make([]string, 0, len(rc))
	for _, p := range rc {
		blocks = append(blocks, fmt.Sprintf("[Source %d]: %s", p.SourceIndex, p.Text))
	}
	return strings.Join(blocks, "\n\n")
}

// Sources returns the citation metadata for each passage, in order.
func (rc RetrievalContext) Sources() []Source {
	out := make([]Source, 0, len(rc))
	for _, p := range rc {
		out = append(out, Source{Index: p.SourceIndex, Location: p.Location, Score: p.Score})
	}
	return out
}

type Source struct {
	Index    int     `json:"index"`
	Location string  `json:"location,omitempty"`
	Score    float64 `json:"score"`
}

type QueryRequest struct {
	Query string `json:"query"`
}

type QueryResult struct {
	Answer   string
	Context  string
	Passages RetrievalContext
	Sources  []Source
}

// Retriever returns passages for a query in descending relevance order.
type Retriever interface {
	Retrieve(ctx context.Context, query string, maxResults int) ([]Passage, error)
	// Configured reports whether the backing index identifier is present.
	Configured() bool
}

// Generator turns a prompt into text in a single call.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}
