package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
const (
	keyDatastorePath       = "datastore.path"
	keySearchBackend       = "search.backend"
	keySearchURL           = "search.url"
	keySearchHost          = "search.host"
	keySearchPort          = "search.port"
	keySearchTimeout       = "search.timeout_seconds"
	keySearchMaxResults    = "search.max_results"
	keyIndexBatchSize      = "index.batch_size"
	keyIndexMaxRetries     = "index.max_retries"
	keyIndexRetryBackoff   = "index.retry_backoff_ms"
	keyIndexMaxBatchesRate = "index.max_batches_per_second"
	keyExtractorCommand    = "extractor.command"
	keyMappingWorkers      = "mapping.workers"
)

// DefaultDataDir is the datastore directory below the user's home.
const DefaultDataDir = ".dfdewey/data"

// SettingsService manages application settings.
type SettingsService struct {
	configStore driven.ConfigStore
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{configStore: configStore}
}

// Get retrieves current application settings.
func (s *SettingsService) Get() (*domain.AppSettings, error) {
	defaults := domain.DefaultAppSettings()

	dataPath, err := expandHome(s.getString(keyDatastorePath, "~/"+DefaultDataDir))
	if err != nil {
		return nil, err
	}

	settings := &domain.AppSettings{
		Datastore: domain.DatastoreSettings{
			Path: dataPath,
		},
		Search: domain.SearchSettings{
			Backend:        s.getBackend(defaults.Search.Backend),
			URL:            s.configStore.GetString(keySearchURL),
			Host:           s.getString(keySearchHost, defaults.Search.Host),
			Port:           s.getInt(keySearchPort, defaults.Search.Port),
			TimeoutSeconds: s.getInt(keySearchTimeout, defaults.Search.TimeoutSeconds),
			MaxResults:     s.getInt(keySearchMaxResults, defaults.Search.MaxResults),
		},
		Index: domain.IndexSettings{
			BatchSize:      s.getInt(keyIndexBatchSize, defaults.Index.BatchSize),
			MaxRetries:     s.getNonNegativeInt(keyIndexMaxRetries, defaults.Index.MaxRetries),
			RetryBackoffMS: s.getInt(keyIndexRetryBackoff, defaults.Index.RetryBackoffMS),
			// Zero is meaningful here: no rate limit.
			MaxBatchesPerSecond: s.configStore.GetFloat(keyIndexMaxBatchesRate),
		},
		Extractor: domain.ExtractorSettings{
			Command: s.getString(keyExtractorCommand, defaults.Extractor.Command),
		},
		Mapping: domain.MappingSettings{
			Workers: s.getInt(keyMappingWorkers, defaults.Mapping.Workers),
		},
	}

	return settings, nil
}

// Save persists application settings.
func (s *SettingsService) Save(settings *domain.AppSettings) error {
	values := []struct {
		key   string
		value any
	}{
		{keyDatastorePath, settings.Datastore.Path},
		{keySearchBackend, settings.Search.Backend.String()},
		{keySearchURL, settings.Search.URL},
		{keySearchHost, settings.Search.Host},
		{keySearchPort, settings.Search.Port},
		{keySearchTimeout, settings.Search.TimeoutSeconds},
		{keySearchMaxResults, settings.Search.MaxResults},
		{keyIndexBatchSize, settings.Index.BatchSize},
		{keyIndexMaxRetries, settings.Index.MaxRetries},
		{keyIndexRetryBackoff, settings.Index.RetryBackoffMS},
		{keyIndexMaxBatchesRate, settings.Index.MaxBatchesPerSecond},
		{keyExtractorCommand, settings.Extractor.Command},
		{keyMappingWorkers, settings.Mapping.Workers},
	}

	for _, v := range values {
		if err := s.configStore.Set(v.key, v.value); err != nil {
			return fmt.Errorf("save %s: %w", v.key, err)
		}
	}

	return s.configStore.Save()
}

// Validate checks the current settings are usable.
func (s *SettingsService) Validate() error {
	if raw := s.configStore.GetString(keySearchBackend); raw != "" && !domain.SearchBackend(raw).IsValid() {
		return fmt.Errorf("%w: unknown search backend %q", domain.ErrConfiguration, raw)
	}

	settings, err := s.Get()
	if err != nil {
		return err
	}

	switch {
	case settings.Index.BatchSize < 1:
		return fmt.Errorf("%w: %s must be positive", domain.ErrConfiguration, keyIndexBatchSize)
	case settings.Index.MaxBatchesPerSecond < 0:
		return fmt.Errorf("%w: %s must not be negative", domain.ErrConfiguration, keyIndexMaxBatchesRate)
	case settings.Mapping.Workers < 1:
		return fmt.Errorf("%w: %s must be positive", domain.ErrConfiguration, keyMappingWorkers)
	case settings.Search.MaxResults < 1:
		return fmt.Errorf("%w: %s must be positive", domain.ErrConfiguration, keySearchMaxResults)
	case settings.Search.Backend.IsRemote() && settings.Search.URL == "" && settings.Search.Host == "":
		return fmt.Errorf("%w: %s requires %s or %s", domain.ErrConfiguration,
			settings.Search.Backend, keySearchURL, keySearchHost)
	}

	return nil
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

// Helper methods for reading config with defaults.

func (s *SettingsService) getString(key, defaultVal string) string {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	val := s.configStore.GetInt(key)
	if val == 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getNonNegativeInt(key string, defaultVal int) int {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	val := s.configStore.GetInt(key)
	if val < 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getBackend(defaultVal domain.SearchBackend) domain.SearchBackend {
	val := s.configStore.GetString(keySearchBackend)
	if val == "" {
		return defaultVal
	}
	backend := domain.SearchBackend(val)
	if !backend.IsValid() {
		return defaultVal
	}
	return backend
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: resolve home directory: %v", domain.ErrConfiguration, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
