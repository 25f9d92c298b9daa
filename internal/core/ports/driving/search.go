package driving

import (
	"context"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
)

// SearchService provides search capabilities to external actors.
type SearchService interface {
	// Search runs one query against every requested image of a case.
	// Images that are not fully indexed return partial results.
	Search(ctx context.Context, req domain.SearchRequest) ([]domain.ImageResults, error)

	// SearchList counts the hits of each term, searched as an exact phrase.
	// Terms without hits are reported with a zero count.
	SearchList(ctx context.Context, caseID, imageID string, terms []string) ([]domain.ImageTermCounts, error)
}
