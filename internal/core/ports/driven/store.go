package driven

import (
	"context"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
)

// RelationalStore persists cases, images and filesystem mappings.
type RelationalStore interface {
	// EnsureCase creates the case if it does not exist.
	EnsureCase(ctx context.Context, caseID string) (*domain.Case, error)

	// GetImage returns the image or domain.ErrNotFound.
	GetImage(ctx context.Context, imageID string) (*domain.Image, error)

	// SaveImage inserts or updates an image.
	SaveImage(ctx context.Context, image *domain.Image) error

	// SetImageState records a lifecycle transition. failed is only
	// meaningful when state is domain.ImageFailed.
	SetImageState(ctx context.Context, imageID string, state domain.ImageState, failed domain.Stage) error

	// LinkImage attaches an image to a case. Linking twice is a no-op.
	LinkImage(ctx context.Context, caseID, imageID string) error

	// UnlinkImage detaches an image from a case.
	UnlinkImage(ctx context.Context, caseID, imageID string) error

	// ImageCases lists the cases an image is attached to.
	ImageCases(ctx context.Context, imageID string) ([]string, error)

	// CaseImages lists the images attached to a case, ordered by path.
	CaseImages(ctx context.Context, caseID string) ([]domain.Image, error)

	// SaveVolumes replaces the volume list of an image.
	SaveVolumes(ctx context.Context, imageID string, volumes []domain.Volume) error

	// Volumes lists the volumes of an image ordered by offset.
	Volumes(ctx context.Context, imageID string) ([]domain.Volume, error)

	// ReplaceVolumeMapping replaces the file records and extents of one
	// volume and records its status in a single transaction.
	ReplaceVolumeMapping(ctx context.Context, volume domain.Volume, files []domain.FileRecord, extents []domain.Extent) error

	// DeleteImageMapping removes the volumes, file records and extents of an image.
	DeleteImageMapping(ctx context.Context, imageID string) error

	// DeleteImage removes the image row and its case links.
	DeleteImage(ctx context.Context, imageID string) error

	// FilePaths returns the names of an inode within a volume.
	FilePaths(ctx context.Context, imageID, location string, inode uint64) ([]string, error)

	// LoadExtents returns the extents of a volume ordered by start.
	LoadExtents(ctx context.Context, imageID, location string) ([]domain.Extent, error)

	// Close releases resources.
	Close() error
}
