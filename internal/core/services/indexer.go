package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
	"github.com/custodia-labs/dfdewey/internal/logger"
	"github.com/custodia-labs/dfdewey/internal/metrics"
)

// progressInterval is how many records pass between progress messages.
const progressInterval = 10_000_000

// documentNamespace scopes document IDs.
var documentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/custodia-labs/dfdewey/document"))

// DocumentID returns the stable key of a string occurrence.
func DocumentID(imageID string, offset int64, decodePath, data string) string {
	key := imageID + "\x00" + strconv.FormatInt(offset, 10) + "\x00" + decodePath + "\x00" + data
	return uuid.NewSHA1(documentNamespace, []byte(key)).String()
}

// IndexerConfig controls batching and retries.
type IndexerConfig struct {
	BatchSize           int
	MaxRetries          int
	RetryBackoff        time.Duration
	MaxBatchesPerSecond float64
}

// IndexerConfigFrom derives the indexer configuration from settings.
func IndexerConfigFrom(s domain.IndexSettings) IndexerConfig {
	return IndexerConfig{
		BatchSize:           s.BatchSize,
		MaxRetries:          s.MaxRetries,
		RetryBackoff:        time.Duration(s.RetryBackoffMS) * time.Millisecond,
		MaxBatchesPerSecond: s.MaxBatchesPerSecond,
	}
}

// IndexStats summarises the indexing of one image.
type IndexStats struct {
	Indexed     int
	Unallocated int
	Malformed   int
	Batches     int
}

// Indexer resolves extracted strings to file locations and writes them to
// the search index in batches.
type Indexer struct {
	index   driven.SearchIndex
	cfg     IndexerConfig
	limiter *rate.Limiter
}

// NewIndexer creates an indexer writing to index.
func NewIndexer(index driven.SearchIndex, cfg IndexerConfig) *Indexer {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = domain.DefaultAppSettings().Index.BatchSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	ix := &Indexer{index: index, cfg: cfg}
	if cfg.MaxBatchesPerSecond > 0 {
		ix.limiter = rate.NewLimiter(rate.Limit(cfg.MaxBatchesPerSecond), 1)
	}
	return ix
}

// ClearImage removes every indexed document of an image.
func (ix *Indexer) ClearImage(ctx context.Context, imageID string) error {
	return ix.retry(ctx, "delete documents", func() error {
		return ix.index.DeleteImage(ctx, imageID)
	})
}

// IndexImage consumes the extraction stream of one image. Previous
// documents of the image are removed before the first batch is written.
// Malformed records are skipped; any other extraction error stops
// indexing and is returned.
func (ix *Indexer) IndexImage(
	ctx context.Context,
	image *domain.Image,
	records <-chan domain.ExtractedString,
	errs <-chan error,
	tables *VolumeTables,
) (*IndexStats, error) {
	start := time.Now()
	defer metrics.StageDuration(string(domain.StageIndexing), start)

	if err := ix.ClearImage(ctx, image.ID); err != nil {
		return nil, err
	}

	stats := &IndexStats{}
	batch := make([]domain.IndexedDocument, 0, ix.cfg.BatchSize)
	seen := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ix.submit(ctx, batch); err != nil {
			return err
		}
		allocated := 0
		for _, doc := range batch {
			if doc.Allocated {
				allocated++
			}
		}
		metrics.DocumentsIndexed(allocated, len(batch)-allocated)
		stats.Indexed += len(batch)
		stats.Unallocated += len(batch) - allocated
		stats.Batches++
		batch = batch[:0]
		return nil
	}

	for records != nil || errs != nil {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if errors.Is(err, domain.ErrMalformedRecord) {
				stats.Malformed++
				metrics.RecordMalformed()
				logger.Debug("Skipping record: %v", err)
				continue
			}
			return stats, fmt.Errorf("extract strings: %w", err)

		case rec, ok := <-records:
			if !ok {
				records = nil
				continue
			}

			doc, err := ix.document(ctx, image.ID, rec, tables)
			if err != nil {
				return stats, err
			}
			batch = append(batch, doc)

			seen++
			if seen%progressInterval == 0 {
				logger.Info("Indexed %d strings...", seen)
			}

			if len(batch) >= ix.cfg.BatchSize {
				if err := flush(); err != nil {
					return stats, err
				}
			}
		}
	}

	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (ix *Indexer) document(
	ctx context.Context,
	imageID string,
	rec domain.ExtractedString,
	tables *VolumeTables,
) (domain.IndexedDocument, error) {
	location, loc, allocated, err := tables.Resolve(ctx, rec.Offset)
	if err != nil {
		return domain.IndexedDocument{}, fmt.Errorf("resolve offset %d: %w", rec.Offset, err)
	}

	provenance := rec.Provenance
	if provenance == "" {
		provenance = domain.ProvenanceDirect
	}

	doc := domain.IndexedDocument{
		ID:         DocumentID(imageID, rec.Offset, rec.DecodePath, rec.Data),
		ImageID:    imageID,
		Offset:     rec.Offset,
		DecodePath: rec.DecodePath,
		Provenance: provenance,
		Data:       rec.Data,
		Allocated:  allocated,
		Location:   location,
	}
	if allocated {
		doc.Inode = loc.Inode
		doc.FileOffset = loc.FileOffset
	}
	return doc, nil
}

func (ix *Indexer) submit(ctx context.Context, batch []domain.IndexedDocument) error {
	err := ix.retry(ctx, "index batch", func() error {
		if ix.limiter != nil {
			if err := ix.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		return ix.index.IndexBatch(ctx, batch)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: %d document(s): %v", domain.ErrIndexBatchFailure, len(batch), err)
	}
	return err
}

// retry runs op until it succeeds, the retries are exhausted or ctx ends.
// The delay starts at RetryBackoff and doubles after every failure.
func (ix *Indexer) retry(ctx context.Context, what string, op func() error) error {
	backoff := ix.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			metrics.Batch(metrics.BatchOK)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= ix.cfg.MaxRetries {
			metrics.Batch(metrics.BatchFailed)
			return fmt.Errorf("%s failed after %d attempt(s): %w", what, attempt+1, err)
		}

		metrics.Batch(metrics.BatchRetry)
		logger.Warn("%s failed, retrying in %s: %v", what, backoff, err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}
