// Package mcp provides an MCP (Model Context Protocol) server adapter for dfDewey.
// It lets AI assistants search the strings indexed for a case.
package mcp

import "errors"

// ErrMissingSearchService is returned when the search service is not provided.
var ErrMissingSearchService = errors.New("mcp: search service is required")
