package driven

import (
	"context"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
)

// FilesystemEnumerator discovers volumes and walks the files inside them.
type FilesystemEnumerator interface {
	// Volumes returns the volumes of the image in partition table order.
	// An image without a partition table yields a single volume "/"
	// spanning the whole image.
	Volumes(ctx context.Context, imagePath string) ([]domain.Volume, error)

	// WalkFiles calls fn for every allocated file of the volume.
	// Returns an error wrapping domain.ErrUnsupportedFilesystem when the
	// volume's filesystem cannot be parsed. Returning an error from fn
	// stops the walk.
	WalkFiles(ctx context.Context, imagePath string, volume domain.Volume, fn func(FileEntry) error) error
}

// FileEntry is one file reported by the walk.
type FileEntry struct {
	// Inode identifies the file within its volume.
	Inode uint64

	// Paths are all names of the file. Hard links have more than one.
	Paths []string

	// Size is the file size in bytes.
	Size int64

	// Extents are the file's data runs in raw image coordinates,
	// in file order.
	Extents []domain.Extent
}
