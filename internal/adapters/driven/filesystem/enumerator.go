package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
	"github.com/custodia-labs/dfdewey/internal/logger"
)

// Ensure Enumerator implements the interface.
var _ driven.FilesystemEnumerator = (*Enumerator)(nil)

// Enumerator lists the volumes and files of raw disk images.
type Enumerator struct{}

// NewEnumerator creates a new raw image enumerator.
func NewEnumerator() *Enumerator {
	return &Enumerator{}
}

// Volumes lists the volumes of an image ordered by offset.
func (e *Enumerator) Volumes(_ context.Context, imagePath string) ([]domain.Volume, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("image %s: %w", imagePath, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}

	parts, err := readPartitions(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("read partition table: %w", err)
	}

	volumes := make([]domain.Volume, 0, len(parts))
	for i, p := range parts {
		vol := domain.Volume{
			Location: "/",
			FSType:   detectFS(f, p.offset),
			Offset:   p.offset,
			Size:     p.size,
			Status:   domain.VolumePending,
		}
		if len(parts) > 1 || p.size > 0 {
			vol.Location = "/p" + strconv.Itoa(i+1)
		}
		switch vol.FSType {
		case FSTypeExt:
			if fs, err := openExt(f, p.offset); err == nil {
				vol.BlockSize = fs.blockSize
			}
		case FSTypeNTFS:
			if fs, err := openNTFS(f, p.offset); err == nil {
				vol.BlockSize = fs.clusterSize
			}
		}
		logger.Debug("Found volume %s at offset %d (%s)", vol.Location, vol.Offset, displayFS(vol.FSType))
		volumes = append(volumes, vol)
	}
	return volumes, nil
}

// WalkFiles calls fn for every allocated file of an ext2/3/4 or NTFS
// volume. Other filesystems, and volumes whose metadata cannot be read,
// fail with domain.ErrUnsupportedFilesystem.
func (e *Enumerator) WalkFiles(ctx context.Context, imagePath string, vol domain.Volume, fn func(driven.FileEntry) error) error {
	if vol.FSType != FSTypeExt && vol.FSType != FSTypeNTFS {
		return fmt.Errorf("%s: %w", displayFS(vol.FSType), domain.ErrUnsupportedFilesystem)
	}

	f, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	if vol.FSType == FSTypeNTFS {
		fs, err := openNTFS(f, vol.Offset)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrUnsupportedFilesystem, err)
		}
		return fs.walk(ctx, fn)
	}

	fs, err := openExt(f, vol.Offset)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnsupportedFilesystem, err)
	}
	return fs.walk(ctx, fn)
}

func displayFS(fsType string) string {
	if fsType == fsUnknown {
		return "unknown filesystem"
	}
	return fsType
}
