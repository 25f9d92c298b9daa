package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
)

// Ensure Store implements the interface.
var _ driven.RelationalStore = (*Store)(nil)

type volumeKey struct {
	imageID  string
	location string
}

// Store is an in-memory implementation of driven.RelationalStore for testing.
type Store struct {
	mu      sync.RWMutex
	cases   map[string]domain.Case
	images  map[string]domain.Image
	links   map[string]map[string]struct{} // imageID -> caseIDs
	volumes map[string][]domain.Volume
	files   map[volumeKey][]domain.FileRecord
	extents map[volumeKey][]domain.Extent

	// FailReplace makes ReplaceVolumeMapping fail for the given location.
	FailReplace map[string]error

	// FailDeleteMapping makes DeleteImageMapping fail.
	FailDeleteMapping error
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		cases:   make(map[string]domain.Case),
		images:  make(map[string]domain.Image),
		links:   make(map[string]map[string]struct{}),
		volumes: make(map[string][]domain.Volume),
		files:   make(map[volumeKey][]domain.FileRecord),
		extents: make(map[volumeKey][]domain.Extent),
	}
}

// EnsureCase creates the case if it does not exist.
func (s *Store) EnsureCase(_ context.Context, caseID string) (*domain.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[caseID]
	if !ok {
		c = domain.Case{ID: caseID, CreatedAt: time.Now()}
		s.cases[caseID] = c
	}
	return &c, nil
}

// GetImage returns the image or domain.ErrNotFound.
func (s *Store) GetImage(_ context.Context, imageID string) (*domain.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	img, ok := s.images[imageID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &img, nil
}

// SaveImage inserts or updates an image.
func (s *Store) SaveImage(_ context.Context, image *domain.Image) error {
	if image == nil || image.ID == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[image.ID] = *image
	return nil
}

// SetImageState records a lifecycle transition.
func (s *Store) SetImageState(_ context.Context, imageID string, state domain.ImageState, failed domain.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, ok := s.images[imageID]
	if !ok {
		return domain.ErrNotFound
	}
	img.State = state
	img.FailedStage = domain.StageNone
	if state == domain.ImageFailed {
		img.FailedStage = failed
	}
	img.UpdatedAt = time.Now()
	s.images[imageID] = img
	return nil
}

// LinkImage attaches an image to a case.
func (s *Store) LinkImage(_ context.Context, caseID, imageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.links[imageID] == nil {
		s.links[imageID] = make(map[string]struct{})
	}
	s.links[imageID][caseID] = struct{}{}
	return nil
}

// UnlinkImage detaches an image from a case.
func (s *Store) UnlinkImage(_ context.Context, caseID, imageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.links[imageID], caseID)
	return nil
}

// ImageCases lists the cases an image is attached to.
func (s *Store) ImageCases(_ context.Context, imageID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.links[imageID]))
	for caseID := range s.links[imageID] {
		out = append(out, caseID)
	}
	sort.Strings(out)
	return out, nil
}

// CaseImages lists the images attached to a case, ordered by path.
func (s *Store) CaseImages(_ context.Context, caseID string) ([]domain.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Image
	for imageID, cases := range s.links {
		if _, ok := cases[caseID]; !ok {
			continue
		}
		if img, ok := s.images[imageID]; ok {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// SaveVolumes replaces the volume list of an image.
func (s *Store) SaveVolumes(_ context.Context, imageID string, volumes []domain.Volume) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vols := make([]domain.Volume, len(volumes))
	copy(vols, volumes)
	for i := range vols {
		vols[i].ImageID = imageID
	}
	s.volumes[imageID] = vols
	return nil
}

// Volumes lists the volumes of an image ordered by offset.
func (s *Store) Volumes(_ context.Context, imageID string) ([]domain.Volume, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Volume, len(s.volumes[imageID]))
	copy(out, s.volumes[imageID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out, nil
}

// ReplaceVolumeMapping replaces the file records and extents of one volume.
func (s *Store) ReplaceVolumeMapping(
	_ context.Context,
	volume domain.Volume,
	files []domain.FileRecord,
	extents []domain.Extent,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.FailReplace[volume.Location]; ok {
		return err
	}

	key := volumeKey{imageID: volume.ImageID, location: volume.Location}
	s.files[key] = append([]domain.FileRecord(nil), files...)
	ext := append([]domain.Extent(nil), extents...)
	sort.Slice(ext, func(i, j int) bool { return ext[i].Start < ext[j].Start })
	s.extents[key] = ext

	vols := s.volumes[volume.ImageID]
	for i := range vols {
		if vols[i].Location == volume.Location {
			vols[i] = volume
			return nil
		}
	}
	s.volumes[volume.ImageID] = append(vols, volume)
	return nil
}

// DeleteImageMapping removes the volumes, file records and extents of an image.
func (s *Store) DeleteImageMapping(_ context.Context, imageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDeleteMapping != nil {
		return s.FailDeleteMapping
	}
	s.deleteMappingLocked(imageID)
	return nil
}

func (s *Store) deleteMappingLocked(imageID string) {
	delete(s.volumes, imageID)
	for key := range s.files {
		if key.imageID == imageID {
			delete(s.files, key)
		}
	}
	for key := range s.extents {
		if key.imageID == imageID {
			delete(s.extents, key)
		}
	}
}

// DeleteImage removes the image row and its case links.
func (s *Store) DeleteImage(_ context.Context, imageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.images, imageID)
	delete(s.links, imageID)
	return nil
}

// FilePaths returns the names of an inode within a volume.
func (s *Store) FilePaths(_ context.Context, imageID, location string, inode uint64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, f := range s.files[volumeKey{imageID: imageID, location: location}] {
		if f.Inode == inode {
			out = append(out, f.Path)
		}
	}
	sort.Strings(out)
	return out, nil
}

// LoadExtents returns the extents of a volume ordered by start.
func (s *Store) LoadExtents(_ context.Context, imageID, location string) ([]domain.Extent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.Extent(nil), s.extents[volumeKey{imageID: imageID, location: location}]...), nil
}

// Close releases resources.
func (s *Store) Close() error {
	return nil
}

// Counts reports how many rows of each kind an image has. Used by tests.
func (s *Store) Counts(imageID string) (volumes, files, extents int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	volumes = len(s.volumes[imageID])
	for key, f := range s.files {
		if key.imageID == imageID {
			files += len(f)
		}
	}
	for key, e := range s.extents {
		if key.imageID == imageID {
			extents += len(e)
		}
	}
	return volumes, files, extents
}
