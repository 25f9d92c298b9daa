package services

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
)

// mockEnumerator implements driven.FilesystemEnumerator for testing.
type mockEnumerator struct {
	volumes   []domain.Volume
	files     map[string][]driven.FileEntry
	walkErr   map[string]error
	volumeErr error

	// gate, when set, blocks every walk until it is closed.
	gate  chan struct{}
	walks atomic.Int32
}

func (m *mockEnumerator) Volumes(_ context.Context, _ string) ([]domain.Volume, error) {
	if m.volumeErr != nil {
		return nil, m.volumeErr
	}
	out := make([]domain.Volume, len(m.volumes))
	copy(out, m.volumes)
	return out, nil
}

func (m *mockEnumerator) WalkFiles(ctx context.Context, _ string, vol domain.Volume, fn func(driven.FileEntry) error) error {
	m.walks.Add(1)
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := m.walkErr[vol.Location]; err != nil {
		return err
	}
	for _, fe := range m.files[vol.Location] {
		if err := fn(fe); err != nil {
			return err
		}
	}
	return nil
}

// mockExtractor implements driven.StringExtractor for testing.
type mockExtractor struct {
	records   []domain.ExtractedString
	malformed []error
	fatal     error
	checkErr  error

	// block, when set, holds the stream open until ctx ends.
	block bool

	mu    sync.Mutex
	calls []domain.ExtractOptions
}

func (m *mockExtractor) Check(_ context.Context) error {
	return m.checkErr
}

func (m *mockExtractor) Extract(ctx context.Context, _ string, opts domain.ExtractOptions) (<-chan domain.ExtractedString, <-chan error) {
	m.mu.Lock()
	m.calls = append(m.calls, opts)
	m.mu.Unlock()

	records := make(chan domain.ExtractedString)
	errs := make(chan error, len(m.malformed)+1)

	go func() {
		defer close(records)
		defer close(errs)

		for _, err := range m.malformed {
			errs <- err
		}
		for _, rec := range m.records {
			select {
			case <-ctx.Done():
				return
			case records <- rec:
			}
		}
		if m.block {
			<-ctx.Done()
			return
		}
		if m.fatal != nil {
			errs <- m.fatal
		}
	}()

	return records, errs
}

func (m *mockExtractor) Calls() []domain.ExtractOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ExtractOptions(nil), m.calls...)
}

// baseImageID identifies test images by file name.
func baseImageID(path string) (string, error) {
	return filepath.Base(path), nil
}
