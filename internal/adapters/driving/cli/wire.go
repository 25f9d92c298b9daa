package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/dfdewey/internal/adapters/driven/config/file"
	"github.com/custodia-labs/dfdewey/internal/adapters/driven/extractor/bulkextractor"
	"github.com/custodia-labs/dfdewey/internal/adapters/driven/filesystem"
	"github.com/custodia-labs/dfdewey/internal/adapters/driven/search/fts"
	"github.com/custodia-labs/dfdewey/internal/adapters/driven/search/opensearch"
	"github.com/custodia-labs/dfdewey/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
	"github.com/custodia-labs/dfdewey/internal/core/services"
	"github.com/custodia-labs/dfdewey/internal/logger"
)

// wireServices builds the adapters and services from configuration.
func wireServices(cmd *cobra.Command) error {
	settingsSvc, err := loadSettings()
	if err != nil {
		return err
	}
	settingsService = settingsSvc
	if cmd == settingsCmd {
		return nil
	}

	if err := settingsSvc.Validate(); err != nil {
		return err
	}
	settings, err := settingsSvc.Get()
	if err != nil {
		return err
	}

	store, err := sqlite.NewStore(settings.Datastore.Path)
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	closers = append(closers, store)

	index, err := openSearchIndex(settings)
	if err != nil {
		return err
	}
	closers = append(closers, index)

	mapper := services.NewFilesystemMapper(filesystem.NewEnumerator(), store, settings.Mapping.Workers)
	indexer := services.NewIndexer(index, services.IndexerConfigFrom(settings.Index))
	extractor := bulkextractor.NewExtractor(settings.Extractor.Command)

	searchSvc := services.NewSearchService(store, index, settings.Search.MaxResults)
	searchSvc.SetHighlighter(pickHighlighter(cmd))

	searchService = searchSvc
	caseManager = services.NewCaseManager(store, mapper, indexer, extractor)
	return nil
}

// loadSettings opens the config file selected by -c, the default location
// or $DFDEWEY_CONF.
func loadSettings() (*services.SettingsService, error) {
	path, err := file.Locate(configPath)
	if err != nil {
		return nil, err
	}
	configStore, err := file.NewConfigStore(path)
	if err != nil {
		return nil, err
	}
	logger.Debug("Using config %s", configStore.Path())
	return services.NewSettingsService(configStore), nil
}

func openSearchIndex(settings *domain.AppSettings) (driven.SearchIndex, error) {
	switch settings.Search.Backend {
	case domain.SearchBackendOpenSearch:
		logger.Debug("Using OpenSearch at %s", settings.Search.Endpoint())
		return opensearch.NewIndex(opensearch.Config{
			URL:     settings.Search.Endpoint(),
			Timeout: time.Duration(settings.Search.TimeoutSeconds) * time.Second,
		}), nil
	default:
		index, err := fts.NewIndex(settings.Datastore.Path)
		if err != nil {
			return nil, fmt.Errorf("open search index: %w", err)
		}
		return index, nil
	}
}

// pickHighlighter styles matches on a terminal and brackets them elsewhere.
func pickHighlighter(cmd *cobra.Command) services.Highlighter {
	if !jsonOutput && isTerminal(cmd) {
		return func(match string) string {
			return highlightStyle.Render(match)
		}
	}
	return func(match string) string {
		return "<<" + match + ">>"
	}
}

var highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

func isTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
