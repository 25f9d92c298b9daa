// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - FilesystemEnumerator: Finds the volumes of an image and walks their files
//   - StringExtractor: Runs the string-extraction engine over an image
//   - RelationalStore: Cases, images, volumes, file records and extents
//   - SearchIndex: Full-text index of extracted strings
//   - ConfigStore: Application configuration
//
// RelationalStore, SearchIndex and ConfigStore have in-memory
// implementations under internal/adapters/driven/storage/memory for tests.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
