package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/extents"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
	"github.com/custodia-labs/dfdewey/internal/logger"
	"github.com/custodia-labs/dfdewey/internal/metrics"
)

// maxRejectionWarnings bounds the per-volume overlap warnings.
const maxRejectionWarnings = 10

// MappingStats summarises the mapping of one image.
type MappingStats struct {
	Volumes  int
	Unmapped int
	Files    int
	Extents  int
	Rejected int
}

func (s *MappingStats) add(o MappingStats) {
	s.Unmapped += o.Unmapped
	s.Files += o.Files
	s.Extents += o.Extents
	s.Rejected += o.Rejected
}

// FilesystemMapper builds and persists the extent tables of an image.
type FilesystemMapper struct {
	fs      driven.FilesystemEnumerator
	store   driven.RelationalStore
	workers int
}

// NewFilesystemMapper creates a mapper that maps up to workers volumes at once.
func NewFilesystemMapper(fs driven.FilesystemEnumerator, store driven.RelationalStore, workers int) *FilesystemMapper {
	if workers < 1 {
		workers = 1
	}
	return &FilesystemMapper{fs: fs, store: store, workers: workers}
}

// MapImage discovers the volumes of the image and maps them in parallel.
// Each volume's table is published to tables as soon as it is built, even
// when the volume fails, so readers never wait forever. A volume whose
// filesystem cannot be parsed is recorded as unmapped and does not fail
// the image; storage failures and cancellation do.
func (m *FilesystemMapper) MapImage(ctx context.Context, image *domain.Image, tables *VolumeTables) (*MappingStats, error) {
	start := time.Now()
	defer metrics.StageDuration(string(domain.StageMapping), start)

	volumes, err := m.fs.Volumes(ctx, image.Path)
	if err != nil {
		err = fmt.Errorf("enumerate volumes: %w", err)
		tables.Fail(err)
		return nil, err
	}
	for i := range volumes {
		volumes[i].ImageID = image.ID
		volumes[i].Status = domain.VolumePending
	}

	if err := m.store.SaveVolumes(ctx, image.ID, volumes); err != nil {
		err = fmt.Errorf("save volumes: %w", err)
		tables.Fail(err)
		return nil, err
	}
	tables.SetVolumes(volumes)
	logger.Debug("Image %s has %d volume(s)", image.ID, len(volumes))

	stats := &MappingStats{Volumes: len(volumes)}
	var mu sync.Mutex

	p := pool.New().WithMaxGoroutines(m.workers).WithContext(ctx)
	for _, vol := range volumes {
		p.Go(func(ctx context.Context) error {
			table, vs, err := m.MapVolume(ctx, image, vol)
			tables.Publish(vol.Location, table)
			if err != nil {
				return fmt.Errorf("volume %s: %w", vol.Location, err)
			}
			mu.Lock()
			stats.add(vs)
			mu.Unlock()
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

// MapVolume walks one volume, builds its extent table and replaces the
// volume's rows in the store.
func (m *FilesystemMapper) MapVolume(ctx context.Context, image *domain.Image, vol domain.Volume) (*extents.Table, MappingStats, error) {
	logger.Debug("Mapping volume %s at offset %d", vol.Location, vol.Offset)

	builder := extents.NewBuilder(0)
	var files []domain.FileRecord
	invalid := 0

	err := m.fs.WalkFiles(ctx, image.Path, vol, func(fe driven.FileEntry) error {
		for _, path := range fe.Paths {
			files = append(files, domain.FileRecord{
				ImageID:  image.ID,
				Location: vol.Location,
				Inode:    fe.Inode,
				Path:     path,
				Size:     fe.Size,
			})
		}
		for _, e := range fe.Extents {
			e.Inode = fe.Inode
			if err := builder.Add(e); err != nil {
				invalid++
			}
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, MappingStats{}, ctxErr
		}
		return m.markUnmapped(ctx, vol, err)
	}
	if invalid > 0 {
		logger.Debug("Volume %s: skipped %d empty extent(s)", vol.Location, invalid)
	}

	table, rejected := builder.Build()
	for i, r := range rejected {
		if i == maxRejectionWarnings {
			logger.Warn("Volume %s: %d more overlapping extent(s) dropped", vol.Location, len(rejected)-i)
			break
		}
		logger.Warn("Volume %s: %s, keeping the earlier extent", vol.Location, r)
	}

	vol.ImageID = image.ID
	vol.Status = domain.VolumeMapped
	vol.Error = ""
	if err := m.store.ReplaceVolumeMapping(ctx, vol, files, table.Extents()); err != nil {
		return nil, MappingStats{}, fmt.Errorf("persist mapping: %w", err)
	}

	metrics.VolumeMapped(string(domain.VolumeMapped))
	metrics.ExtentsBuilt(table.Len(), len(rejected))
	logger.Debug("Volume %s: %d file name(s), %d extent(s)", vol.Location, len(files), table.Len())

	return table, MappingStats{Files: len(files), Extents: table.Len(), Rejected: len(rejected)}, nil
}

func (m *FilesystemMapper) markUnmapped(ctx context.Context, vol domain.Volume, cause error) (*extents.Table, MappingStats, error) {
	if errors.Is(cause, domain.ErrUnsupportedFilesystem) {
		logger.Warn("Volume %s: %v", vol.Location, cause)
	} else {
		logger.Warn("Volume %s could not be parsed: %v", vol.Location, cause)
	}

	vol.Status = domain.VolumeUnmapped
	vol.Error = cause.Error()
	if err := m.store.ReplaceVolumeMapping(ctx, vol, nil, nil); err != nil {
		return nil, MappingStats{}, fmt.Errorf("persist unmapped volume: %w", err)
	}

	metrics.VolumeMapped(string(domain.VolumeUnmapped))
	return extents.Empty, MappingStats{Unmapped: 1}, nil
}

// LoadImage publishes the stored tables of an already mapped image.
func (m *FilesystemMapper) LoadImage(ctx context.Context, image *domain.Image, tables *VolumeTables) error {
	volumes, err := m.store.Volumes(ctx, image.ID)
	if err != nil {
		err = fmt.Errorf("load volumes: %w", err)
		tables.Fail(err)
		return err
	}
	tables.SetVolumes(volumes)

	for _, vol := range volumes {
		if vol.Status != domain.VolumeMapped {
			tables.Publish(vol.Location, nil)
			continue
		}

		stored, err := m.store.LoadExtents(ctx, image.ID, vol.Location)
		if err != nil {
			tables.Publish(vol.Location, nil)
			return fmt.Errorf("load extents of %s: %w", vol.Location, err)
		}
		table, _, err := extents.Load(stored)
		if err != nil {
			tables.Publish(vol.Location, nil)
			return fmt.Errorf("load extents of %s: %w", vol.Location, err)
		}
		tables.Publish(vol.Location, table)
	}
	return nil
}

// DeleteMapping removes every mapping row of an image.
func (m *FilesystemMapper) DeleteMapping(ctx context.Context, imageID string) error {
	if err := m.store.DeleteImageMapping(ctx, imageID); err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	return nil
}
