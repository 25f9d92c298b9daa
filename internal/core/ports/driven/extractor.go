package driven

import (
	"context"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
)

// StringExtractor runs the string-extraction engine over a raw image.
type StringExtractor interface {
	// Check verifies the engine is installed and runnable.
	// Returns domain.ErrExtractorMissing if it is not.
	Check(ctx context.Context) error

	// Extract streams the strings found in the image.
	// Both channels are closed when extraction ends. Errors wrapping
	// domain.ErrMalformedRecord concern a single record and extraction
	// continues; any other error is fatal and is the last value sent.
	Extract(ctx context.Context, imagePath string, opts domain.ExtractOptions) (<-chan domain.ExtractedString, <-chan error)
}
