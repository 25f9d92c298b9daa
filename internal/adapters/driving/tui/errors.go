package tui

import "errors"

// ErrMissingSearchService is returned when the search service is not provided.
var ErrMissingSearchService = errors.New("tui: search service is required")

// ErrMissingCase is returned when no case is selected.
var ErrMissingCase = errors.New("tui: case is required")
