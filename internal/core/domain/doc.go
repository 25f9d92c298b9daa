// Package domain defines the core business entities for dfDewey.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Case and Image: evidence bookkeeping and the per-image lifecycle state
//   - Volume, FileRecord and Extent: the filesystem mapping of an image
//   - ExtractedString: one record emitted by the string-extraction engine
//   - IndexedDocument: an extracted string paired with its resolved location
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
