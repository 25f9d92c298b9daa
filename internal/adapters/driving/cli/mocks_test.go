package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
)

type mockSearchService struct {
	results []domain.ImageResults
	counts  []domain.ImageTermCounts
	err     error

	lastRequest domain.SearchRequest
	lastTerms   []string
	lastImageID string
}

func (m *mockSearchService) Search(_ context.Context, req domain.SearchRequest) ([]domain.ImageResults, error) {
	m.lastRequest = req
	return m.results, m.err
}

func (m *mockSearchService) SearchList(_ context.Context, _, imageID string, terms []string) ([]domain.ImageTermCounts, error) {
	m.lastImageID = imageID
	m.lastTerms = terms
	return m.counts, m.err
}

type mockCaseManager struct {
	processed []domain.ProcessRequest
	deleted   []string
	images    []domain.Image
	ids       map[string]string
	result    *domain.ProcessResult
	deleteRes *domain.DeleteResult
	err       error
}

func (m *mockCaseManager) Process(_ context.Context, req domain.ProcessRequest) (*domain.ProcessResult, error) {
	m.processed = append(m.processed, req)
	return m.result, m.err
}

func (m *mockCaseManager) ProcessAll(_ context.Context, reqs []domain.ProcessRequest) ([]*domain.ProcessResult, error) {
	m.processed = append(m.processed, reqs...)
	out := make([]*domain.ProcessResult, len(reqs))
	for i := range reqs {
		out[i] = m.result
	}
	return out, m.err
}

func (m *mockCaseManager) Delete(_ context.Context, _, imagePath string) (*domain.DeleteResult, error) {
	m.deleted = append(m.deleted, imagePath)
	return m.deleteRes, m.err
}

func (m *mockCaseManager) Images(_ context.Context, _ string) ([]domain.Image, error) {
	return m.images, nil
}

func (m *mockCaseManager) ImageID(_ context.Context, path string) (string, error) {
	if id, ok := m.ids[path]; ok {
		return id, nil
	}
	return "", domain.ErrNotFound
}

type mockSettingsService struct {
	settings    domain.AppSettings
	validateErr error
}

func (m *mockSettingsService) Get() (*domain.AppSettings, error) {
	s := m.settings
	return &s, nil
}

func (m *mockSettingsService) Save(_ *domain.AppSettings) error { return nil }

func (m *mockSettingsService) Validate() error { return m.validateErr }

func (m *mockSettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

// setupTestServices installs mocks and returns a cleanup function.
func setupTestServices() (*mockSearchService, *mockCaseManager, func()) {
	oldSearch, oldCases, oldSettings := searchService, caseManager, settingsService

	search := &mockSearchService{}
	cases := &mockCaseManager{ids: map[string]string{}}
	searchService = search
	caseManager = cases
	settingsService = &mockSettingsService{settings: domain.DefaultAppSettings()}

	return search, cases, func() {
		searchService, caseManager, settingsService = oldSearch, oldCases, oldSettings
	}
}

// executeCmd runs the root command with fresh flag values.
func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.ExecuteContext(t.Context())
	return buf.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
