package mcp

import (
	"github.com/custodia-labs/dfdewey/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Search provides search capabilities.
	Search driving.SearchService

	// Cases lists the images of a case.
	Cases driving.CaseManager
}

// Validate ensures all required ports are set.
// Returns an error if any required port is nil.
func (p *Ports) Validate() error {
	if p.Search == nil {
		return ErrMissingSearchService
	}
	// Cases is optional; without it the image resource is empty
	return nil
}
