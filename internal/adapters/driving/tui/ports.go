// Package tui provides an interactive terminal browser for the strings
// indexed for a case. It is a driving adapter like the CLI.
package tui

import (
	"github.com/custodia-labs/dfdewey/internal/core/ports/driving"
)

// Ports aggregates the driving ports the TUI uses.
type Ports struct {
	// Search runs the queries.
	Search driving.SearchService

	// Cases lists the images of the case. Optional.
	Cases driving.CaseManager
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p == nil || p.Search == nil {
		return ErrMissingSearchService
	}
	return nil
}
