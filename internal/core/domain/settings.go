package domain

import "strconv"

const unknownDescription = "Unknown"

// SearchBackend identifies the full-text index implementation.
type SearchBackend string

// Available search backends.
const (
	// SearchBackendSQLite is the embedded SQLite FTS5 index.
	SearchBackendSQLite SearchBackend = "sqlite"

	// SearchBackendOpenSearch is a remote OpenSearch cluster.
	SearchBackendOpenSearch SearchBackend = "opensearch"
)

// IsValid returns true if the backend is recognised.
func (b SearchBackend) IsValid() bool {
	switch b {
	case SearchBackendSQLite, SearchBackendOpenSearch:
		return true
	default:
		return false
	}
}

// IsRemote returns true if the backend is reached over the network.
func (b SearchBackend) IsRemote() bool {
	return b == SearchBackendOpenSearch
}

// String returns the string representation.
func (b SearchBackend) String() string {
	return string(b)
}

// Description returns a human-readable description of the backend.
func (b SearchBackend) Description() string {
	switch b {
	case SearchBackendSQLite:
		return "SQLite FTS5 (embedded)"
	case SearchBackendOpenSearch:
		return "OpenSearch (remote)"
	default:
		return unknownDescription
	}
}

// DatastoreSettings holds relational datastore configuration.
type DatastoreSettings struct {
	// Path is the directory holding the SQLite database files.
	Path string
}

// SearchSettings holds search backend configuration.
type SearchSettings struct {
	// Backend selects the index implementation.
	Backend SearchBackend

	// URL is the full OpenSearch endpoint. Overrides Host and Port when set.
	URL string

	// Host is the OpenSearch host.
	Host string

	// Port is the OpenSearch port.
	Port int

	// TimeoutSeconds bounds each request to a remote backend.
	TimeoutSeconds int

	// MaxResults caps the hits returned per image.
	MaxResults int
}

// Endpoint returns the base URL of a remote backend.
func (s SearchSettings) Endpoint() string {
	if s.URL != "" {
		return s.URL
	}
	return "http://" + s.Host + ":" + strconv.Itoa(s.Port)
}

// IndexSettings holds indexer batching configuration.
type IndexSettings struct {
	// BatchSize is the number of documents per index submission.
	BatchSize int

	// MaxRetries is the number of retries for a failed batch.
	MaxRetries int

	// RetryBackoffMS is the first retry delay, doubled on every retry.
	RetryBackoffMS int

	// MaxBatchesPerSecond limits submissions. Zero means unlimited.
	MaxBatchesPerSecond float64
}

// ExtractorSettings holds string-extraction engine configuration.
type ExtractorSettings struct {
	// Command is the bulk_extractor executable.
	Command string
}

// MappingSettings holds filesystem mapping configuration.
type MappingSettings struct {
	// Workers is the number of volumes mapped in parallel.
	Workers int
}

// AppSettings holds all application settings.
type AppSettings struct {
	Datastore DatastoreSettings
	Search    SearchSettings
	Index     IndexSettings
	Extractor ExtractorSettings
	Mapping   MappingSettings
}

// DefaultAppSettings returns settings with sensible defaults.
// Datastore.Path is left empty and resolved against the home directory
// by the caller.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Search: SearchSettings{
			Backend:        SearchBackendSQLite,
			Host:           "127.0.0.1",
			Port:           9200,
			TimeoutSeconds: 30,
			MaxResults:     1000,
		},
		Index: IndexSettings{
			BatchSize:      1000,
			MaxRetries:     3,
			RetryBackoffMS: 500,
		},
		Extractor: ExtractorSettings{
			Command: "bulk_extractor",
		},
		Mapping: MappingSettings{
			Workers: 4,
		},
	}
}

// AllSearchBackends returns all available search backends.
func AllSearchBackends() []SearchBackend {
	return []SearchBackend{
		SearchBackendSQLite,
		SearchBackendOpenSearch,
	}
}
