package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/extents"
)

func imageState(t *testing.T, env *testEnv, id string) *domain.Image {
	t.Helper()
	img, err := env.store.GetImage(context.Background(), id)
	require.NoError(t, err)
	return img
}

func storedTable(t *testing.T, env *testEnv, location string) []domain.Extent {
	t.Helper()
	stored, err := env.store.LoadExtents(context.Background(), "img", location)
	require.NoError(t, err)
	table, _, err := extents.Load(stored)
	require.NoError(t, err)
	return table.Extents()
}

func TestCaseManager_Process(t *testing.T) {
	env := newTestEnv()

	res, err := env.manager.Process(context.Background(), processRequest("case1", "img"))
	require.NoError(t, err)
	assert.Equal(t, domain.ImageIndexed, res.Image.State)
	assert.Equal(t, 2, res.Volumes)
	assert.Equal(t, 1, res.UnmappedVolumes)
	assert.Equal(t, 6, res.Indexed)
	assert.Equal(t, 3, res.Unallocated)
	assert.Empty(t, res.Skipped)

	img := imageState(t, env, "img")
	assert.Equal(t, domain.ImageIndexed, img.State)
	assert.Equal(t, "img", img.Hash)

	cases, _ := env.store.ImageCases(context.Background(), "img")
	assert.Equal(t, []string{"case1"}, cases)
	assert.Equal(t, []domain.ExtractOptions{domain.DefaultExtractOptions()}, env.extractor.Calls())
}

func TestCaseManager_Process_Validation(t *testing.T) {
	env := newTestEnv()

	_, err := env.manager.Process(context.Background(), processRequest("", "img"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	req := processRequest("case1", "img")
	req.ImagePath = "all"
	_, err = env.manager.Process(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCaseManager_Process_SkipsCompletedStages(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.manager.Process(ctx, processRequest("case1", "img"))
	require.NoError(t, err)
	walks := env.fs.walks.Load()

	res, err := env.manager.Process(ctx, processRequest("case1", "img"))
	require.NoError(t, err)
	assert.Equal(t, []domain.Stage{domain.StageMapping, domain.StageIndexing}, res.Skipped)
	assert.Equal(t, walks, env.fs.walks.Load())
	assert.Len(t, env.extractor.Calls(), 1)
}

func TestCaseManager_Reparse_SameTable(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.manager.Process(ctx, processRequest("case1", "img"))
	require.NoError(t, err)
	before := storedTable(t, env, "/p1")
	docsBefore := env.index.Documents("img")

	req := processRequest("case1", "img")
	req.Options.Reparse = true
	_, err = env.manager.Process(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, before, storedTable(t, env, "/p1"))
	assert.Equal(t, docsBefore, env.index.Documents("img"))
	assert.Equal(t, domain.ImageIndexed, imageState(t, env, "img").State)
	assert.Len(t, env.extractor.Calls(), 2)
}

func TestCaseManager_Reindex_SameDocuments(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.manager.Process(ctx, processRequest("case1", "img"))
	require.NoError(t, err)
	docsBefore := env.index.Documents("img")
	walks := env.fs.walks.Load()

	req := processRequest("case1", "img")
	req.Options.Reindex = true
	res, err := env.manager.Process(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, []domain.Stage{domain.StageMapping}, res.Skipped)
	assert.Equal(t, walks, env.fs.walks.Load(), "reindex must not remap")
	assert.Equal(t, docsBefore, env.index.Documents("img"))
}

func TestCaseManager_FailedIndexingRequiresReindex(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.extractor.fatal = errors.New("bulk_extractor crashed")

	_, err := env.manager.Process(ctx, processRequest("case1", "img"))
	var stageErr *domain.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, domain.StageIndexing, stageErr.Stage)
	assert.Contains(t, err.Error(), "--reindex")

	img := imageState(t, env, "img")
	assert.Equal(t, domain.ImageFailed, img.State)
	assert.Equal(t, domain.StageIndexing, img.FailedStage)

	env.extractor.fatal = nil
	walks := env.fs.walks.Load()
	_, err = env.manager.Process(ctx, processRequest("case1", "img"))
	assert.ErrorIs(t, err, domain.ErrImageFailed)

	req := processRequest("case1", "img")
	req.Options.Reindex = true
	_, err = env.manager.Process(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.ImageIndexed, imageState(t, env, "img").State)
	assert.Equal(t, walks, env.fs.walks.Load())
	assert.Len(t, env.index.Documents("img"), 6)
}

func TestCaseManager_FailedMappingRequiresReparse(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.FailReplace = map[string]error{"/p1": domain.ErrTransientIO}

	_, err := env.manager.Process(ctx, processRequest("case1", "img"))
	var stageErr *domain.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, domain.StageMapping, stageErr.Stage)
	assert.ErrorIs(t, err, domain.ErrTransientIO)
	assert.Equal(t, domain.StageMapping, imageState(t, env, "img").FailedStage)

	env.store.FailReplace = nil
	req := processRequest("case1", "img")
	req.Options.Reindex = true
	_, err = env.manager.Process(ctx, req)
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, domain.StageMapping, stageErr.Stage)

	req.Options.Reparse = true
	_, err = env.manager.Process(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.ImageIndexed, imageState(t, env, "img").State)
}

func TestCaseManager_CancelledMarksFailed(t *testing.T) {
	env := newTestEnv()
	env.fs.gate = make(chan struct{})
	env.extractor.block = true

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := env.manager.Process(ctx, processRequest("case1", "img"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	img := imageState(t, env, "img")
	assert.Equal(t, domain.ImageFailed, img.State)
	assert.Equal(t, domain.StageMapping, img.FailedStage)
}

func TestCaseManager_ExtractorMissing(t *testing.T) {
	env := newTestEnv()
	env.extractor.checkErr = domain.ErrExtractorMissing

	_, err := env.manager.Process(context.Background(), processRequest("case1", "img"))
	assert.ErrorIs(t, err, domain.ErrExtractorMissing)
	assert.Equal(t, domain.ImageUnprocessed, imageState(t, env, "img").State)
}

func TestCaseManager_Delete(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.manager.Process(ctx, processRequest("case1", "img"))
	require.NoError(t, err)
	_, err = env.manager.Process(ctx, processRequest("case1", "sibling"))
	require.NoError(t, err)

	res, err := env.manager.Delete(ctx, "case1", "/evidence/img")
	require.NoError(t, err)
	assert.True(t, res.Purged)

	_, err = env.store.GetImage(ctx, "img")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	v, f, e := env.store.Counts("img")
	assert.Zero(t, v+f+e)
	assert.Empty(t, env.index.Documents("img"))

	results, err := env.search.Search(ctx, domain.SearchRequest{CaseID: "case1", Query: "hunter2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "sibling", results[0].Image.ID)
	assert.Equal(t, 4, results[0].Total)
}

func TestCaseManager_Delete_SharedImage(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.manager.Process(ctx, processRequest("case1", "img"))
	require.NoError(t, err)
	res, err := env.manager.Process(ctx, processRequest("case2", "img"))
	require.NoError(t, err)
	assert.Len(t, res.Skipped, 2)

	del, err := env.manager.Delete(ctx, "case1", "/evidence/img")
	require.NoError(t, err)
	assert.False(t, del.Purged)
	assert.Equal(t, []string{"case2"}, del.RemainingCases)
	assert.NotEmpty(t, env.index.Documents("img"))

	_, err = env.manager.Delete(ctx, "case1", "/evidence/img")
	assert.ErrorIs(t, err, domain.ErrImageNotInCase)

	del, err = env.manager.Delete(ctx, "case2", "/evidence/img")
	require.NoError(t, err)
	assert.True(t, del.Purged)
}

func TestCaseManager_Delete_FinishesInterruptedPurge(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.manager.Process(ctx, processRequest("case1", "img"))
	require.NoError(t, err)

	// Simulate a crash right after the case link was removed.
	require.NoError(t, env.store.UnlinkImage(ctx, "case1", "img"))

	res, err := env.manager.Delete(ctx, "case1", "/evidence/img")
	require.NoError(t, err)
	assert.True(t, res.Purged)
	assert.Empty(t, env.index.Documents("img"))
}

func TestCaseManager_Delete_InterruptedAfterClearingDocuments(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.manager.Process(ctx, processRequest("case1", "img"))
	require.NoError(t, err)

	// The purge stops once the documents are gone but the image row remains.
	env.store.FailDeleteMapping = domain.ErrTransientIO
	_, err = env.manager.Delete(ctx, "case1", "/evidence/img")
	var stageErr *domain.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, domain.StageDelete, stageErr.Stage)
	assert.Empty(t, env.index.Documents("img"))

	img := imageState(t, env, "img")
	assert.Equal(t, domain.ImageFailed, img.State)
	assert.Equal(t, domain.StageDelete, img.FailedStage)

	// Adding the image again rebuilds it instead of trusting the old state.
	env.store.FailDeleteMapping = nil
	res, err := env.manager.Process(ctx, processRequest("case1", "img"))
	require.NoError(t, err)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, domain.ImageIndexed, imageState(t, env, "img").State)
	assert.Len(t, env.index.Documents("img"), 6)

	results, err := env.search.Search(ctx, domain.SearchRequest{CaseID: "case1", Query: "hunter2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 4, results[0].Total)
}

func TestCaseManager_ExtractionFailureDuringMapping(t *testing.T) {
	env := newTestEnv()
	env.fs.gate = make(chan struct{})
	env.extractor.records = nil
	env.extractor.fatal = errors.New("bulk_extractor crashed")

	_, err := env.manager.Process(context.Background(), processRequest("case1", "img"))
	var stageErr *domain.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, domain.StageIndexing, stageErr.Stage)
	assert.ErrorIs(t, err, env.extractor.fatal)
	assert.NotErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "rerun with --reparse")

	// The interrupted mapping still has to be redone.
	img := imageState(t, env, "img")
	assert.Equal(t, domain.ImageFailed, img.State)
	assert.Equal(t, domain.StageMapping, img.FailedStage)
}

func TestCaseManager_ExtractionFailureAfterMapping(t *testing.T) {
	env := newTestEnv()
	env.extractor.fatal = errors.New("bulk_extractor crashed")

	_, err := env.manager.Process(context.Background(), processRequest("case1", "img"))
	var stageErr *domain.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, domain.StageIndexing, stageErr.Stage)
	assert.Contains(t, err.Error(), "rerun with --reindex")
	assert.Equal(t, domain.StageIndexing, imageState(t, env, "img").FailedStage)
}

func TestCaseManager_ProcessAll(t *testing.T) {
	env := newTestEnv()
	env.manager.SetParallelImages(2)

	results, err := env.manager.ProcessAll(context.Background(), []domain.ProcessRequest{
		processRequest("case1", "a"),
		processRequest("case1", "b"),
		processRequest("case1", "c"),
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, domain.ImageIndexed, r.Image.State)
	}

	images, err := env.manager.Images(context.Background(), "case1")
	require.NoError(t, err)
	assert.Len(t, images, 3)
}

func TestPlanStages(t *testing.T) {
	tests := []struct {
		name     string
		image    domain.Image
		opts     domain.ProcessOptions
		want     plan
		errStage domain.Stage
	}{
		{"new image", domain.Image{State: domain.ImageUnprocessed}, domain.ProcessOptions{}, plan{mapping: true, indexing: true}, ""},
		{"mapped", domain.Image{State: domain.ImageMapped}, domain.ProcessOptions{}, plan{indexing: true}, ""},
		{"indexed", domain.Image{State: domain.ImageIndexed}, domain.ProcessOptions{}, plan{}, ""},
		{"reindex", domain.Image{State: domain.ImageIndexed}, domain.ProcessOptions{Reindex: true}, plan{indexing: true}, ""},
		{"reparse", domain.Image{State: domain.ImageIndexed}, domain.ProcessOptions{Reparse: true}, plan{mapping: true, indexing: true, reparse: true}, ""},
		{"stale mapping", domain.Image{State: domain.ImageMapping}, domain.ProcessOptions{}, plan{}, domain.StageMapping},
		{"stale indexing", domain.Image{State: domain.ImageIndexing}, domain.ProcessOptions{}, plan{}, domain.StageIndexing},
		{"stale indexing reindex", domain.Image{State: domain.ImageIndexing}, domain.ProcessOptions{Reindex: true}, plan{indexing: true}, ""},
		{"failed indexing reindex", domain.Image{State: domain.ImageFailed, FailedStage: domain.StageIndexing}, domain.ProcessOptions{Reindex: true}, plan{indexing: true}, ""},
		{"interrupted delete", domain.Image{State: domain.ImageFailed, FailedStage: domain.StageDelete}, domain.ProcessOptions{}, plan{mapping: true, indexing: true, reparse: true}, ""},
		{"failed mapping reparse", domain.Image{State: domain.ImageFailed, FailedStage: domain.StageMapping}, domain.ProcessOptions{Reparse: true}, plan{mapping: true, indexing: true, reparse: true}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := planStages(&tt.image, tt.opts)
			if tt.errStage != "" {
				var stageErr *domain.StageError
				require.ErrorAs(t, err, &stageErr)
				assert.Equal(t, tt.errStage, stageErr.Stage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
