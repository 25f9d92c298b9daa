package domain

// ProcessOptions are the lifecycle flags of a processing run.
type ProcessOptions struct {
	// Extract toggles the extraction decoders.
	Extract ExtractOptions

	// Reparse discards the filesystem mapping and rebuilds it.
	// Implies Reindex.
	Reparse bool

	// Reindex discards the indexed documents and rebuilds them.
	Reindex bool
}

// ProcessRequest asks for one image to be processed in a case.
type ProcessRequest struct {
	CaseID    string
	ImagePath string
	Options   ProcessOptions
}

// ProcessResult summarises a processing run for one image.
type ProcessResult struct {
	Image Image

	// Skipped lists the stages that were already complete.
	Skipped []Stage

	// Volumes is the number of volumes found in the image.
	Volumes int

	// UnmappedVolumes is the number of volumes whose filesystem could not be mapped.
	UnmappedVolumes int

	// Files is the number of file records written.
	Files int

	// Extents is the number of extents accepted into the tables.
	Extents int

	// Indexed is the number of documents written to the search index.
	Indexed int

	// Unallocated is how many of the indexed documents were not in any file.
	Unallocated int

	// Malformed is the number of extraction records that were skipped.
	Malformed int
}

// DeleteResult reports what a delete removed.
type DeleteResult struct {
	ImageID string

	// Purged is true when the image had no remaining cases and its data was removed.
	Purged bool

	// RemainingCases lists the cases still linked to the image.
	RemainingCases []string
}
