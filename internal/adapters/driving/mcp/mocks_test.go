package mcp

import (
	"context"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
)

// mockSearchService is a mock implementation of driving.SearchService.
type mockSearchService struct {
	results []domain.ImageResults
	counts  []domain.ImageTermCounts
	err     error

	lastRequest domain.SearchRequest
	lastTerms   []string
}

func (m *mockSearchService) Search(_ context.Context, req domain.SearchRequest) ([]domain.ImageResults, error) {
	m.lastRequest = req
	return m.results, m.err
}

func (m *mockSearchService) SearchList(_ context.Context, _, _ string, terms []string) ([]domain.ImageTermCounts, error) {
	m.lastTerms = terms
	return m.counts, m.err
}

// mockCaseManager is a mock implementation of driving.CaseManager.
type mockCaseManager struct {
	images []domain.Image
	err    error
}

func (m *mockCaseManager) Process(_ context.Context, _ domain.ProcessRequest) (*domain.ProcessResult, error) {
	return nil, m.err
}

func (m *mockCaseManager) ProcessAll(_ context.Context, _ []domain.ProcessRequest) ([]*domain.ProcessResult, error) {
	return nil, m.err
}

func (m *mockCaseManager) Delete(_ context.Context, _, _ string) (*domain.DeleteResult, error) {
	return nil, m.err
}

func (m *mockCaseManager) Images(_ context.Context, _ string) ([]domain.Image, error) {
	return m.images, m.err
}

func (m *mockCaseManager) ImageID(_ context.Context, path string) (string, error) {
	return path, m.err
}
