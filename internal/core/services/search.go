package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driving"
	"github.com/custodia-labs/dfdewey/internal/logger"
	"github.com/custodia-labs/dfdewey/internal/metrics"
)

// Ensure SearchService implements the interface.
var _ driving.SearchService = (*SearchService)(nil)

// SearchService queries the index and joins hits with file names.
type SearchService struct {
	store       driven.RelationalStore
	searchIndex driven.SearchIndex
	maxResults  int
	highlighter Highlighter
}

// NewSearchService creates a new search service. maxResults caps the
// hits returned per image.
func NewSearchService(store driven.RelationalStore, searchIndex driven.SearchIndex, maxResults int) *SearchService {
	if maxResults < 1 {
		maxResults = domain.DefaultAppSettings().Search.MaxResults
	}
	return &SearchService{
		store:       store,
		searchIndex: searchIndex,
		maxResults:  maxResults,
		highlighter: ANSIHighlighter,
	}
}

// SetHighlighter replaces the ANSI highlighter.
func (s *SearchService) SetHighlighter(h Highlighter) {
	if h != nil {
		s.highlighter = h
	}
}

// Search runs one query against every requested image of a case.
func (s *SearchService) Search(ctx context.Context, req domain.SearchRequest) ([]domain.ImageResults, error) {
	logger.Section("Search Execution")
	logger.Debug("Query: %q", req.Query)

	if s.searchIndex == nil {
		return nil, domain.ErrSearchUnavailable
	}

	query, err := ParseQuery(req.Query)
	if err != nil {
		return nil, err
	}

	var pattern *regexp.Regexp
	if req.Highlight {
		if pattern, err = highlightPattern(req.Query); err != nil {
			return nil, err
		}
	}

	limit := req.Limit
	if limit <= 0 || limit > s.maxResults {
		limit = s.maxResults
	}

	images, err := s.images(ctx, req.CaseID, req.ImageID)
	if err != nil {
		return nil, err
	}

	results := make([]domain.ImageResults, 0, len(images))
	for _, img := range images {
		logger.Info("Searching %s (%s) for %q", img.Path, img.ID, req.Query)
		metrics.Query("search")

		start := time.Now()
		res, err := s.searchIndex.Search(ctx, img.ID, query, limit)
		if err != nil {
			return nil, fmt.Errorf("search image %s: %w", img.ID, err)
		}

		hits, err := s.hydrate(ctx, img.ID, res.Documents, pattern)
		if err != nil {
			return nil, err
		}

		results = append(results, domain.ImageResults{
			Image: img,
			Query: req.Query,
			Total: res.Total,
			Hits:  hits,
			Took:  time.Since(start),
		})
	}

	return results, nil
}

// SearchList counts the hits of each term, searched as an exact phrase.
func (s *SearchService) SearchList(ctx context.Context, caseID, imageID string, terms []string) ([]domain.ImageTermCounts, error) {
	if s.searchIndex == nil {
		return nil, domain.ErrSearchUnavailable
	}

	var cleaned []string
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term != "" && !slices.Contains(cleaned, term) {
			cleaned = append(cleaned, term)
		}
	}

	images, err := s.images(ctx, caseID, imageID)
	if err != nil {
		return nil, err
	}

	results := make([]domain.ImageTermCounts, 0, len(images))
	for _, img := range images {
		counts := make(map[string]int, len(cleaned))
		for _, term := range cleaned {
			metrics.Query("list")
			n, err := s.searchIndex.Count(ctx, img.ID, PhraseQuery(term))
			if err != nil {
				return nil, fmt.Errorf("count %q in image %s: %w", term, img.ID, err)
			}
			counts[term] = n
		}
		results = append(results, domain.ImageTermCounts{Image: img, Counts: counts, Terms: cleaned})
	}

	return results, nil
}

// images returns the images a search covers. An empty imageID selects
// every image of the case.
func (s *SearchService) images(ctx context.Context, caseID, imageID string) ([]domain.Image, error) {
	if imageID == "" {
		images, err := s.store.CaseImages(ctx, caseID)
		if err != nil {
			return nil, fmt.Errorf("list case images: %w", err)
		}
		return images, nil
	}

	cases, err := s.store.ImageCases(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("list image cases: %w", err)
	}
	if !slices.Contains(cases, caseID) {
		return nil, fmt.Errorf("image %s, case %s: %w", imageID, caseID, domain.ErrImageNotInCase)
	}

	img, err := s.store.GetImage(ctx, imageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("image %s, case %s: %w", imageID, caseID, domain.ErrImageNotInCase)
		}
		return nil, fmt.Errorf("get image: %w", err)
	}
	return []domain.Image{*img}, nil
}

type fileKey struct {
	location string
	inode    uint64
}

func (s *SearchService) hydrate(
	ctx context.Context,
	imageID string,
	docs []domain.IndexedDocument,
	pattern *regexp.Regexp,
) ([]domain.SearchHit, error) {
	paths := make(map[fileKey][]string)
	hits := make([]domain.SearchHit, 0, len(docs))

	for _, doc := range docs {
		hit := domain.SearchHit{
			DocumentID: doc.ID,
			Offset:     doc.Offset,
			DecodePath: doc.DecodePath,
			Data:       strings.TrimSpace(doc.Data),
			Allocated:  doc.Allocated,
			Location:   doc.Location,
		}

		if doc.Allocated {
			key := fileKey{location: doc.Location, inode: doc.Inode}
			names, ok := paths[key]
			if !ok {
				var err error
				names, err = s.store.FilePaths(ctx, imageID, doc.Location, doc.Inode)
				if err != nil {
					return nil, fmt.Errorf("file paths of inode %d: %w", doc.Inode, err)
				}
				paths[key] = names
			}
			hit.Inode = doc.Inode
			hit.FileOffset = doc.FileOffset
			hit.FilePaths = names
		}

		if pattern != nil {
			hit.Snippet = highlight(hit.Data, pattern, s.highlighter)
		}

		hits = append(hits, hit)
	}

	return hits, nil
}
