// Package sqlite provides the SQLite implementation of driven.RelationalStore.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. It holds cases, images, the links
// between them, and the filesystem mapping of every image: volumes, file
// records and extents.
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
//
// # Data Location
//
// By default, the database is stored at ~/.dfdewey/data/dfdewey.db
//
// # Thread Safety
//
// All operations are thread-safe. The store uses database-level locking provided
// by SQLite in WAL mode. A volume's mapping is replaced in one transaction so
// readers never see a half-written volume.
package sqlite
