package domain

import "time"

// SearchRequest describes a single query.
type SearchRequest struct {
	// CaseID scopes the search to the images of one case.
	CaseID string

	// ImageID limits the search to one image. Empty searches every image in the case.
	ImageID string

	// Query is a term, a quoted phrase, or several terms that must all match.
	// A trailing * matches any suffix.
	Query string

	// Highlight marks the matched text in each hit's Snippet.
	Highlight bool

	// Limit is the maximum number of hits per image.
	Limit int
}

// SearchHit is one matching string with its resolved location.
type SearchHit struct {
	// DocumentID is the index key of the hit.
	DocumentID string

	// Offset is the raw image byte offset.
	Offset int64

	// DecodePath is the decoder chain for decoded strings.
	DecodePath string

	// Data is the matched string.
	Data string

	// Snippet is Data with matches marked. Set only when highlighting.
	Snippet string

	// Allocated is false for hits in unallocated space.
	Allocated bool

	// Location is the volume of the hit.
	Location string

	// Inode is the resolved file.
	Inode uint64

	// FilePaths are the names of the resolved file.
	FilePaths []string

	// FileOffset is the offset of the string within the file.
	FileOffset int64
}

// ImageResults groups the hits for one image.
type ImageResults struct {
	// Image identifies where the hits came from.
	Image Image

	// Query is the query that produced the hits.
	Query string

	// Total is the number of matching documents, which may exceed len(Hits).
	Total int

	// Hits are the returned matches.
	Hits []SearchHit

	// Took is the time spent querying this image.
	Took time.Duration
}

// ImageTermCounts holds list-search hit counts for one image.
type ImageTermCounts struct {
	Image  Image
	Counts map[string]int
	// Terms preserves the input order of Counts.
	Terms []string
}
