package services

import (
	"fmt"

	"github.com/custodia-labs/dfdewey/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
)

const (
	p1Offset = int64(1024)
	p2Offset = int64(1024 + 1<<20)
	volSize  = int64(1 << 20)
)

// newTestEnumerator returns a two-volume image. /p1 holds a hard-linked
// file and a second file; /p2 has an unsupported filesystem.
func newTestEnumerator() *mockEnumerator {
	return &mockEnumerator{
		volumes: []domain.Volume{
			{Location: "/p1", FSType: "EXT", Offset: p1Offset, Size: volSize, BlockSize: 4096},
			{Location: "/p2", FSType: "NTFS", Offset: p2Offset, Size: volSize},
		},
		files: map[string][]driven.FileEntry{
			"/p1": {
				{
					Inode: 12,
					Paths: []string{"/etc/passwd", "/etc/passwd.bak"},
					Size:  8192,
					Extents: []domain.Extent{
						{Start: p1Offset + 4096, End: p1Offset + 8192, FileOffset: 0},
						{Start: p1Offset + 12288, End: p1Offset + 16384, FileOffset: 4096},
					},
				},
				{
					Inode:   13,
					Paths:   []string{"/home/user/notes.txt"},
					Size:    4096,
					Extents: []domain.Extent{{Start: p1Offset + 16384, End: p1Offset + 20480, FileOffset: 0}},
				},
			},
		},
		walkErr: map[string]error{
			"/p2": fmt.Errorf("NTFS: %w", domain.ErrUnsupportedFilesystem),
		},
	}
}

// testRecords are the strings the extractor reports for the test image.
func testRecords() []domain.ExtractedString {
	return []domain.ExtractedString{
		{Offset: p1Offset + 4096 + 100, Data: "password=hunter2", Provenance: domain.ProvenanceDirect},
		{Offset: p1Offset + 16384 + 10, Data: "hunter2 again", Provenance: domain.ProvenanceDirect},
		{Offset: p1Offset + 12288 + 1, Data: "compressed hunter2", Provenance: domain.ProvenanceGzip, DecodePath: "GZIP-512"},
		{Offset: p1Offset + 2048, Data: "slack hunter2", Provenance: domain.ProvenanceDirect},
		{Offset: p2Offset + 500, Data: "ntfs data", Provenance: domain.ProvenanceDirect},
		{Offset: 10, Data: "boot code", Provenance: domain.ProvenanceDirect},
	}
}

type testEnv struct {
	store     *memory.Store
	index     *memory.SearchIndex
	fs        *mockEnumerator
	extractor *mockExtractor
	mapper    *FilesystemMapper
	indexer   *Indexer
	manager   *CaseManager
	search    *SearchService
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:     memory.NewStore(),
		index:     memory.NewSearchIndex(),
		fs:        newTestEnumerator(),
		extractor: &mockExtractor{records: testRecords()},
	}
	env.mapper = NewFilesystemMapper(env.fs, env.store, 2)
	env.indexer = NewIndexer(env.index, IndexerConfig{BatchSize: 2, MaxRetries: 2})
	env.manager = NewCaseManager(env.store, env.mapper, env.indexer, env.extractor)
	env.manager.SetImageIDFunc(baseImageID)
	env.search = NewSearchService(env.store, env.index, 100)
	env.search.SetHighlighter(func(s string) string { return "[" + s + "]" })
	return env
}

func processRequest(caseID, image string) domain.ProcessRequest {
	return domain.ProcessRequest{
		CaseID:    caseID,
		ImagePath: "/evidence/" + image,
		Options:   domain.ProcessOptions{Extract: domain.DefaultExtractOptions()},
	}
}
