package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/dfdewey/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
)

func TestFilesystemMapper_MapImage(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	mapper := NewFilesystemMapper(newTestEnumerator(), store, 2)
	img := &domain.Image{ID: "img", Path: "/evidence/img"}
	tables := NewVolumeTables()

	stats, err := mapper.MapImage(ctx, img, tables)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Volumes)
	assert.Equal(t, 1, stats.Unmapped)
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 3, stats.Extents)

	vols, err := store.Volumes(ctx, "img")
	require.NoError(t, err)
	require.Len(t, vols, 2)
	assert.Equal(t, domain.VolumeMapped, vols[0].Status)
	assert.Equal(t, domain.VolumeUnmapped, vols[1].Status)
	assert.Contains(t, vols[1].Error, "unsupported filesystem")

	paths, err := store.FilePaths(ctx, "img", "/p1", 12)
	require.NoError(t, err)
	assert.Equal(t, []string{"/etc/passwd", "/etc/passwd.bak"}, paths)

	location, loc, ok, err := tables.Resolve(ctx, p1Offset+16384+10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/p1", location)
	assert.Equal(t, uint64(13), loc.Inode)

	_, _, ok, err = tables.Resolve(ctx, p2Offset+10)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFilesystemMapper_OverlapFirstSeenWins(t *testing.T) {
	ctx := context.Background()
	fs := &mockEnumerator{
		volumes: []domain.Volume{{Location: "/", Offset: 0}},
		files: map[string][]driven.FileEntry{
			"/": {
				{Inode: 20, Paths: []string{"/a"}, Extents: []domain.Extent{{Start: 1000, End: 2000}}},
				{Inode: 21, Paths: []string{"/b"}, Extents: []domain.Extent{{Start: 1500, End: 2500}}},
			},
		},
	}
	store := memory.NewStore()
	mapper := NewFilesystemMapper(fs, store, 1)

	table, stats, err := mapper.MapVolume(ctx, &domain.Image{ID: "img"}, fs.volumes[0])
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 1, table.Len())

	loc, ok := table.Resolve(1800)
	require.True(t, ok)
	assert.Equal(t, uint64(20), loc.Inode)

	stored, err := store.LoadExtents(ctx, "img", "/")
	require.NoError(t, err)
	assert.Equal(t, table.Extents(), stored)
}

func TestFilesystemMapper_ParseErrorMarksVolumeUnmapped(t *testing.T) {
	ctx := context.Background()
	fs := newTestEnumerator()
	fs.walkErr["/p1"] = errors.New("corrupt superblock")
	store := memory.NewStore()
	mapper := NewFilesystemMapper(fs, store, 2)

	stats, err := mapper.MapImage(ctx, &domain.Image{ID: "img"}, NewVolumeTables())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Unmapped)
	assert.Zero(t, stats.Extents)
}

func TestFilesystemMapper_StoreFailureFailsImage(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.FailReplace = map[string]error{"/p1": domain.ErrTransientIO}
	mapper := NewFilesystemMapper(newTestEnumerator(), store, 2)
	tables := NewVolumeTables()

	_, err := mapper.MapImage(ctx, &domain.Image{ID: "img"}, tables)
	assert.ErrorIs(t, err, domain.ErrTransientIO)

	// Waiters are released with an empty table.
	_, _, ok, rerr := tables.Resolve(ctx, p1Offset+4096)
	require.NoError(t, rerr)
	assert.False(t, ok)
}

func TestFilesystemMapper_VolumeDiscoveryFails(t *testing.T) {
	fs := newTestEnumerator()
	fs.volumeErr = errors.New("short read")
	mapper := NewFilesystemMapper(fs, memory.NewStore(), 2)
	tables := NewVolumeTables()

	_, err := mapper.MapImage(context.Background(), &domain.Image{ID: "img"}, tables)
	require.Error(t, err)

	_, _, _, rerr := tables.Resolve(context.Background(), 0)
	assert.Error(t, rerr)
}

func TestFilesystemMapper_LoadImage(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	mapper := NewFilesystemMapper(newTestEnumerator(), store, 2)
	img := &domain.Image{ID: "img"}

	_, err := mapper.MapImage(ctx, img, NewVolumeTables())
	require.NoError(t, err)

	tables := NewVolumeTables()
	require.NoError(t, mapper.LoadImage(ctx, img, tables))

	location, loc, ok, err := tables.Resolve(ctx, p1Offset+4096+100)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/p1", location)
	assert.Equal(t, int64(100), loc.FileOffset)

	location, _, ok, err = tables.Resolve(ctx, p2Offset+1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "/p2", location)
}
