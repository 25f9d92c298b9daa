package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driving"
	"github.com/custodia-labs/dfdewey/internal/logger"
)

// Ensure CaseManager implements the interface.
var _ driving.CaseManager = (*CaseManager)(nil)

// CaseManager drives the per-image lifecycle:
// unprocessed → mapping → mapped → indexing → indexed, with failed
// reachable from the running states.
type CaseManager struct {
	store     driven.RelationalStore
	mapper    *FilesystemMapper
	indexer   *Indexer
	extractor driven.StringExtractor

	imageID        func(path string) (string, error)
	parallelImages int
}

// NewCaseManager creates a new case manager.
func NewCaseManager(
	store driven.RelationalStore,
	mapper *FilesystemMapper,
	indexer *Indexer,
	extractor driven.StringExtractor,
) *CaseManager {
	return &CaseManager{
		store:          store,
		mapper:         mapper,
		indexer:        indexer,
		extractor:      extractor,
		imageID:        ComputeImageID,
		parallelImages: 2,
	}
}

// SetImageIDFunc replaces how image IDs are computed.
func (m *CaseManager) SetImageIDFunc(fn func(path string) (string, error)) {
	if fn != nil {
		m.imageID = fn
	}
}

// SetParallelImages sets how many images ProcessAll handles at once.
func (m *CaseManager) SetParallelImages(n int) {
	if n > 0 {
		m.parallelImages = n
	}
}

// ImageID computes the identifier of an image file.
func (m *CaseManager) ImageID(_ context.Context, imagePath string) (string, error) {
	abs, err := filepath.Abs(imagePath)
	if err != nil {
		return "", fmt.Errorf("%w: image path %q: %v", domain.ErrInvalidInput, imagePath, err)
	}
	return m.imageID(abs)
}

// Images lists the images of a case.
func (m *CaseManager) Images(ctx context.Context, caseID string) ([]domain.Image, error) {
	return m.store.CaseImages(ctx, caseID)
}

// plan is the set of stages one Process call runs.
type plan struct {
	mapping  bool
	indexing bool
	reparse  bool
}

func planStages(img *domain.Image, opts domain.ProcessOptions) (plan, error) {
	p := plan{reparse: opts.Reparse}
	reindex := opts.Reindex || opts.Reparse
	stale := img.StaleStage()

	switch {
	case opts.Reparse:
		p.mapping = true
	case stale == domain.StageDelete:
		// A purge stopped part way; nothing it left behind can be trusted.
		return plan{mapping: true, indexing: true, reparse: true}, nil
	case stale == domain.StageMapping:
		return p, &domain.StageError{ImageID: img.ID, Stage: domain.StageMapping, Err: domain.ErrImageFailed}
	default:
		p.mapping = !img.Mapped()
	}

	switch {
	case reindex:
		p.indexing = true
	case stale == domain.StageIndexing:
		return p, &domain.StageError{ImageID: img.ID, Stage: domain.StageIndexing, Err: domain.ErrImageFailed}
	default:
		p.indexing = img.State != domain.ImageIndexed
	}

	return p, nil
}

// Process maps and indexes an image.
func (m *CaseManager) Process(ctx context.Context, req domain.ProcessRequest) (*domain.ProcessResult, error) {
	img, err := m.attach(ctx, req.CaseID, req.ImagePath)
	if err != nil {
		return nil, err
	}

	p, err := planStages(img, req.Options)
	if err != nil {
		return nil, err
	}

	result := &domain.ProcessResult{Image: *img}
	if !p.mapping {
		logger.Info("Image %s already parsed", img.Path)
		result.Skipped = append(result.Skipped, domain.StageMapping)
	}
	if !p.indexing {
		logger.Info("Image %s already indexed", img.Path)
		result.Skipped = append(result.Skipped, domain.StageIndexing)
	}
	if !p.mapping && !p.indexing {
		return result, nil
	}

	if p.indexing {
		if err := m.extractor.Check(ctx); err != nil {
			return nil, err
		}
	}

	if p.reparse && img.StaleStage() == domain.StageDelete {
		logger.Warn("Image %s was partly deleted, rebuilding it", img.Path)
	}

	failed, rerun, err := m.run(ctx, img, p, req.Options.Extract, result)
	if err != nil {
		// The caller's context may already be cancelled; the failure must still be recorded.
		if serr := m.store.SetImageState(context.WithoutCancel(ctx), img.ID, domain.ImageFailed, rerun); serr != nil {
			logger.Error("Could not record failure of image %s: %v", img.ID, serr)
		}
		stageErr := &domain.StageError{ImageID: img.ID, Stage: failed, Err: err}
		if rerun != failed {
			stageErr.Remedy = rerun.Remedy()
		}
		return result, stageErr
	}

	final := domain.ImageMapped
	if p.indexing {
		final = domain.ImageIndexed
	}
	if err := m.store.SetImageState(ctx, img.ID, final, domain.StageNone); err != nil {
		return result, fmt.Errorf("record image state: %w", err)
	}
	result.Image.State = final
	result.Image.FailedStage = domain.StageNone

	logger.Info("Image %s processed: %d string(s) indexed, %d unallocated, %d malformed record(s) skipped",
		img.Path, result.Indexed, result.Unallocated, result.Malformed)
	return result, nil
}

// attach creates the case and image rows and links them.
func (m *CaseManager) attach(ctx context.Context, caseID, imagePath string) (*domain.Image, error) {
	if strings.TrimSpace(caseID) == "" {
		return nil, fmt.Errorf("%w: case is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(imagePath) == "" || imagePath == "all" {
		return nil, fmt.Errorf("%w: image must be supplied for processing", domain.ErrInvalidInput)
	}

	abs, err := filepath.Abs(imagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: image path %q: %v", domain.ErrInvalidInput, imagePath, err)
	}
	id, err := m.imageID(abs)
	if err != nil {
		return nil, err
	}

	if _, err := m.store.EnsureCase(ctx, caseID); err != nil {
		return nil, fmt.Errorf("create case: %w", err)
	}

	img, err := m.store.GetImage(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		now := time.Now()
		img = &domain.Image{
			ID:        id,
			Path:      abs,
			Hash:      id,
			State:     domain.ImageUnprocessed,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := m.store.SaveImage(ctx, img); err != nil {
			return nil, fmt.Errorf("save image: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("get image: %w", err)
	case img.Path != abs:
		logger.Debug("Image %s moved from %s to %s", id, img.Path, abs)
		img.Path = abs
		img.UpdatedAt = time.Now()
		if err := m.store.SaveImage(ctx, img); err != nil {
			return nil, fmt.Errorf("save image: %w", err)
		}
	}

	if err := m.store.LinkImage(ctx, caseID, id); err != nil {
		return nil, fmt.Errorf("link image: %w", err)
	}
	return img, nil
}

// run executes the planned stages. Extraction starts together with
// mapping; the indexer only waits for the volume each string falls in.
// On failure it returns the stage that failed and the stage that must be
// rerun, which is mapping whenever the mapping did not complete.
func (m *CaseManager) run(
	ctx context.Context,
	img *domain.Image,
	p plan,
	extract domain.ExtractOptions,
	result *domain.ProcessResult,
) (failed, rerun domain.Stage, err error) {
	failed, err = m.runStages(ctx, img, p, extract, result)
	if err == nil {
		return domain.StageNone, domain.StageNone, nil
	}
	rerun = failed
	if failed == domain.StageIndexing && p.mapping && !result.Image.Mapped() {
		rerun = domain.StageMapping
	}
	return failed, rerun, err
}

func (m *CaseManager) runStages(
	ctx context.Context,
	img *domain.Image,
	p plan,
	extract domain.ExtractOptions,
	result *domain.ProcessResult,
) (domain.Stage, error) {
	tables := NewVolumeTables()

	if p.mapping {
		if err := m.store.SetImageState(ctx, img.ID, domain.ImageMapping, domain.StageNone); err != nil {
			return domain.StageMapping, err
		}
		result.Image.State = domain.ImageMapping
		result.Image.FailedStage = domain.StageNone
		if p.reparse {
			logger.Info("Reparsing image %s", img.Path)
			// Documents carry resolved locations and go stale with the mapping.
			if err := m.indexer.ClearImage(ctx, img.ID); err != nil {
				return domain.StageMapping, err
			}
		}
		if err := m.mapper.DeleteMapping(ctx, img.ID); err != nil {
			return domain.StageMapping, err
		}
	} else {
		if err := m.store.SetImageState(ctx, img.ID, domain.ImageIndexing, domain.StageNone); err != nil {
			return domain.StageIndexing, err
		}
		if err := m.mapper.LoadImage(ctx, img, tables); err != nil {
			return domain.StageIndexing, err
		}
	}

	var mapErr, indexErr error
	mappingDone := false
	g, gctx := errgroup.WithContext(ctx)

	if p.mapping {
		g.Go(func() error {
			logger.Info("Parsing image %s", img.Path)
			stats, err := m.mapper.MapImage(gctx, img, tables)
			if err != nil {
				mapErr = err
				return err
			}
			result.Volumes = stats.Volumes
			result.UnmappedVolumes = stats.Unmapped
			result.Files = stats.Files
			result.Extents = stats.Extents

			next := domain.ImageMapped
			if p.indexing {
				next = domain.ImageIndexing
			}
			if err := m.store.SetImageState(gctx, img.ID, next, domain.StageNone); err != nil {
				mapErr = err
				return err
			}
			mappingDone = true
			result.Image.State = next
			return nil
		})
	}

	if p.indexing {
		g.Go(func() error {
			logger.Info("Extracting strings from image %s", img.Path)
			records, errs := m.extractor.Extract(gctx, img.Path, extract)
			stats, err := m.indexer.IndexImage(gctx, img, records, errs, tables)
			if stats != nil {
				result.Indexed = stats.Indexed
				result.Unallocated = stats.Unallocated
				result.Malformed = stats.Malformed
			}
			if err != nil {
				indexErr = err
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Either stage failing cancels the other. A mapping that only saw
		// that cancellation did not fail by itself.
		collateral := mapErr != nil && indexErr != nil &&
			errors.Is(mapErr, context.Canceled) && ctx.Err() == nil
		switch {
		case collateral:
			return domain.StageIndexing, indexErr
		case mapErr != nil:
			return domain.StageMapping, mapErr
		case p.mapping && !mappingDone:
			return domain.StageMapping, err
		case indexErr != nil:
			return domain.StageIndexing, indexErr
		default:
			return domain.StageIndexing, err
		}
	}
	return domain.StageNone, nil
}

// ProcessAll processes several images concurrently.
func (m *CaseManager) ProcessAll(ctx context.Context, reqs []domain.ProcessRequest) ([]*domain.ProcessResult, error) {
	results := make([]*domain.ProcessResult, len(reqs))

	p := pool.New().WithErrors().WithMaxGoroutines(m.parallelImages)
	for i, req := range reqs {
		p.Go(func() error {
			res, err := m.Process(ctx, req)
			results[i] = res
			if err != nil {
				return fmt.Errorf("%s: %w", req.ImagePath, err)
			}
			return nil
		})
	}

	return results, p.Wait()
}

// Delete detaches an image from a case and purges its data once no case
// refers to it. Index documents go first, then the mapping, then the image.
func (m *CaseManager) Delete(ctx context.Context, caseID, imagePath string) (*domain.DeleteResult, error) {
	if strings.TrimSpace(caseID) == "" {
		return nil, fmt.Errorf("%w: case is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(imagePath) == "" || imagePath == "all" {
		return nil, fmt.Errorf("%w: image must be supplied for deletion", domain.ErrInvalidInput)
	}

	id, err := m.resolveImage(ctx, caseID, imagePath)
	if err != nil {
		return nil, err
	}

	cases, err := m.store.ImageCases(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list image cases: %w", err)
	}

	result := &domain.DeleteResult{ImageID: id}
	switch {
	case slices.Contains(cases, caseID):
		if err := m.store.UnlinkImage(ctx, caseID, id); err != nil {
			return nil, &domain.StageError{ImageID: id, Stage: domain.StageDelete, Err: err}
		}
		cases = slices.DeleteFunc(cases, func(c string) bool { return c == caseID })
	case len(cases) == 0:
		// An earlier delete stopped after unlinking; finish the purge.
		if _, err := m.store.GetImage(ctx, id); err != nil {
			return nil, fmt.Errorf("image %s, case %s: %w", id, caseID, domain.ErrImageNotInCase)
		}
	default:
		return nil, fmt.Errorf("image %s, case %s: %w", id, caseID, domain.ErrImageNotInCase)
	}

	if len(cases) > 0 {
		logger.Warn("Image %s is still used by case(s) %s, keeping its data", id, strings.Join(cases, ", "))
		result.RemainingCases = cases
		return result, nil
	}

	logger.Info("Deleting image %s", id)
	// Until the image row is gone the image must not look complete.
	if err := m.store.SetImageState(ctx, id, domain.ImageFailed, domain.StageDelete); err != nil {
		return nil, &domain.StageError{ImageID: id, Stage: domain.StageDelete, Err: err}
	}
	if err := m.indexer.ClearImage(ctx, id); err != nil {
		return nil, &domain.StageError{ImageID: id, Stage: domain.StageDelete, Err: err}
	}
	if err := m.mapper.DeleteMapping(ctx, id); err != nil {
		return nil, &domain.StageError{ImageID: id, Stage: domain.StageDelete, Err: err}
	}
	if err := m.store.DeleteImage(ctx, id); err != nil {
		return nil, &domain.StageError{ImageID: id, Stage: domain.StageDelete, Err: err}
	}

	result.Purged = true
	return result, nil
}

// resolveImage identifies an image by hashing it, or by its recorded path
// when the file is gone.
func (m *CaseManager) resolveImage(ctx context.Context, caseID, imagePath string) (string, error) {
	abs, err := filepath.Abs(imagePath)
	if err != nil {
		return "", fmt.Errorf("%w: image path %q: %v", domain.ErrInvalidInput, imagePath, err)
	}

	id, err := m.imageID(abs)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	images, lerr := m.store.CaseImages(ctx, caseID)
	if lerr != nil {
		return "", fmt.Errorf("list case images: %w", lerr)
	}
	for _, img := range images {
		if img.Path == abs {
			return img.ID, nil
		}
	}
	return "", err
}
