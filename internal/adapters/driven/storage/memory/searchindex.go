package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
)

// Ensure SearchIndex implements the interface.
var _ driven.SearchIndex = (*SearchIndex)(nil)

// SearchIndex is an in-memory implementation of driven.SearchIndex for testing.
// Matching is case-insensitive over runs of letters and digits.
type SearchIndex struct {
	mu   sync.RWMutex
	docs map[string]map[string]domain.IndexedDocument // imageID -> docID -> doc

	failures int
	batches  int
}

// NewSearchIndex creates a new in-memory search index.
func NewSearchIndex() *SearchIndex {
	return &SearchIndex{
		docs: make(map[string]map[string]domain.IndexedDocument),
	}
}

// FailNextBatches makes the next n IndexBatch calls fail with domain.ErrTransientIO.
func (s *SearchIndex) FailNextBatches(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// Batches returns the number of successful IndexBatch calls.
func (s *SearchIndex) Batches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches
}

// IndexBatch writes documents.
func (s *SearchIndex) IndexBatch(ctx context.Context, docs []domain.IndexedDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		return domain.ErrTransientIO
	}

	for _, doc := range docs {
		if s.docs[doc.ImageID] == nil {
			s.docs[doc.ImageID] = make(map[string]domain.IndexedDocument)
		}
		s.docs[doc.ImageID][doc.ID] = doc
	}
	s.batches++
	return nil
}

// DeleteImage removes every document of an image.
func (s *SearchIndex) DeleteImage(_ context.Context, imageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, imageID)
	return nil
}

// Search returns up to limit matching documents ordered by offset.
func (s *SearchIndex) Search(_ context.Context, imageID string, query driven.Query, limit int) (*driven.SearchResult, error) {
	matches := s.match(imageID, query)

	result := &driven.SearchResult{Total: len(matches)}
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	result.Documents = matches
	return result, nil
}

// Count returns the number of matching documents.
func (s *SearchIndex) Count(_ context.Context, imageID string, query driven.Query) (int, error) {
	return len(s.match(imageID, query)), nil
}

// Documents returns every document of an image ordered by ID.
func (s *SearchIndex) Documents(imageID string) []domain.IndexedDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.IndexedDocument, 0, len(s.docs[imageID]))
	for _, doc := range s.docs[imageID] {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close releases resources.
func (s *SearchIndex) Close() error {
	return nil
}

func (s *SearchIndex) match(imageID string, query driven.Query) []domain.IndexedDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.IndexedDocument
	for _, doc := range s.docs[imageID] {
		if matchesQuery(tokenize(doc.Data), query) {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Offset != out[j].Offset {
			return out[i].Offset < out[j].Offset
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func matchesQuery(tokens []string, query driven.Query) bool {
	if len(query.Clauses) == 0 {
		return false
	}
	for _, clause := range query.Clauses {
		if !matchesClause(tokens, clause) {
			return false
		}
	}
	return true
}

func matchesClause(tokens []string, clause driven.Clause) bool {
	words := tokenize(clause.Text)
	if len(words) == 0 {
		return false
	}

	for i := 0; i+len(words) <= len(tokens); i++ {
		ok := true
		for j, w := range words {
			tok := tokens[i+j]
			last := j == len(words)-1
			if last && clause.Prefix {
				ok = strings.HasPrefix(tok, w)
			} else {
				ok = tok == w
			}
			if !ok {
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
