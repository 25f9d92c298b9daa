package driven

import (
	"context"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
)

// SearchIndex is the full-text index of extracted strings.
// Documents are partitioned by image.
type SearchIndex interface {
	// IndexBatch writes documents. Writing a document whose ID exists
	// replaces it.
	IndexBatch(ctx context.Context, docs []domain.IndexedDocument) error

	// DeleteImage removes every document of an image.
	DeleteImage(ctx context.Context, imageID string) error

	// Search returns up to limit documents of the image matching the query
	// together with the total number of matches.
	Search(ctx context.Context, imageID string, query Query, limit int) (*SearchResult, error)

	// Count returns the number of documents of the image matching the query.
	Count(ctx context.Context, imageID string, query Query) (int, error)

	// Close releases resources.
	Close() error
}

// Query is a parsed search query. All clauses must match.
type Query struct {
	Clauses []Clause
}

// Clause is one term or phrase of a query.
type Clause struct {
	// Text is the term or phrase, without quotes or wildcard.
	Text string

	// Phrase is true when Text must match as an exact sequence of words.
	Phrase bool

	// Prefix is true when the last word of Text matches any suffix.
	Prefix bool
}

// SearchResult is the response of one index query.
type SearchResult struct {
	// Total is the number of matching documents.
	Total int

	// Documents are the returned matches.
	Documents []domain.IndexedDocument
}
