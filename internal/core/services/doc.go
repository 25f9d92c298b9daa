// Package services implements the driving port interfaces.
// Services contain the core business logic and orchestrate
// calls to driven ports (adapters).
//
// The processing pipeline is split across FilesystemMapper (volume
// discovery and extent tables), Indexer (offset resolution and batched
// index writes) and CaseManager (the per-image lifecycle). SearchService
// serves queries against the finished index.
package services
