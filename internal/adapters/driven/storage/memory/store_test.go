package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
)

func TestStore_ImageLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	_, err := store.GetImage(ctx, "img1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.SaveImage(ctx, &domain.Image{ID: "img1", Path: "/evidence/a.dd", State: domain.ImageUnprocessed}))
	require.NoError(t, store.SetImageState(ctx, "img1", domain.ImageFailed, domain.StageIndexing))

	img, err := store.GetImage(ctx, "img1")
	require.NoError(t, err)
	assert.Equal(t, domain.ImageFailed, img.State)
	assert.Equal(t, domain.StageIndexing, img.FailedStage)

	require.NoError(t, store.SetImageState(ctx, "img1", domain.ImageIndexed, domain.StageIndexing))
	img, _ = store.GetImage(ctx, "img1")
	assert.Equal(t, domain.StageNone, img.FailedStage)

	assert.ErrorIs(t, store.SetImageState(ctx, "missing", domain.ImageMapped, ""), domain.ErrNotFound)
}

func TestStore_CaseLinks(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.SaveImage(ctx, &domain.Image{ID: "b", Path: "/b.dd"}))
	require.NoError(t, store.SaveImage(ctx, &domain.Image{ID: "a", Path: "/a.dd"}))
	require.NoError(t, store.LinkImage(ctx, "case1", "b"))
	require.NoError(t, store.LinkImage(ctx, "case1", "a"))
	require.NoError(t, store.LinkImage(ctx, "case1", "a"))
	require.NoError(t, store.LinkImage(ctx, "case2", "a"))

	images, err := store.CaseImages(ctx, "case1")
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "/a.dd", images[0].Path)

	cases, _ := store.ImageCases(ctx, "a")
	assert.Equal(t, []string{"case1", "case2"}, cases)

	require.NoError(t, store.UnlinkImage(ctx, "case1", "a"))
	cases, _ = store.ImageCases(ctx, "a")
	assert.Equal(t, []string{"case2"}, cases)
}

func TestStore_VolumeMapping(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	vol := domain.Volume{ImageID: "img", Location: "/p1", Offset: 1024, Status: domain.VolumePending}
	require.NoError(t, store.SaveVolumes(ctx, "img", []domain.Volume{vol}))

	vol.Status = domain.VolumeMapped
	files := []domain.FileRecord{
		{ImageID: "img", Location: "/p1", Inode: 12, Path: "/etc/passwd"},
		{ImageID: "img", Location: "/p1", Inode: 12, Path: "/etc/passwd.link"},
	}
	ext := []domain.Extent{{Start: 9000, End: 9500, Inode: 12}, {Start: 2048, End: 3072, Inode: 12}}
	require.NoError(t, store.ReplaceVolumeMapping(ctx, vol, files, ext))

	paths, err := store.FilePaths(ctx, "img", "/p1", 12)
	require.NoError(t, err)
	assert.Equal(t, []string{"/etc/passwd", "/etc/passwd.link"}, paths)

	loaded, err := store.LoadExtents(ctx, "img", "/p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2048), loaded[0].Start)

	vols, _ := store.Volumes(ctx, "img")
	require.Len(t, vols, 1)
	assert.Equal(t, domain.VolumeMapped, vols[0].Status)

	require.NoError(t, store.DeleteImageMapping(ctx, "img"))
	v, f, e := store.Counts("img")
	assert.Zero(t, v+f+e)
}
