package driving

import (
	"context"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
)

// CaseManager drives the processing lifecycle of the images in a case.
type CaseManager interface {
	// Process maps and indexes an image, skipping stages that are already
	// complete unless the request asks to redo them.
	Process(ctx context.Context, req domain.ProcessRequest) (*domain.ProcessResult, error)

	// ProcessAll processes several images of one case concurrently.
	// Failures are joined; the other images still complete.
	ProcessAll(ctx context.Context, reqs []domain.ProcessRequest) ([]*domain.ProcessResult, error)

	// Delete detaches an image from a case and removes its data once no
	// case refers to it.
	Delete(ctx context.Context, caseID, imagePath string) (*domain.DeleteResult, error)

	// Images lists the images of a case.
	Images(ctx context.Context, caseID string) ([]domain.Image, error)

	// ImageID computes the identifier of an image file.
	ImageID(ctx context.Context, imagePath string) (string, error)
}
