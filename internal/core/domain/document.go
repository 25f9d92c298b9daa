package domain

// IndexedDocument is the searchable unit: an extracted string paired with
// the file location its raw offset resolved to.
type IndexedDocument struct {
	// ID is stable for the same image, offset, decode path and data.
	ID string

	// ImageID is the image the string came from.
	ImageID string

	// Offset is the raw image byte offset.
	Offset int64

	// DecodePath is the decoder chain for decoded strings.
	DecodePath string

	// Provenance is the outermost decoder applied.
	Provenance Provenance

	// Data is the string content.
	Data string

	// Allocated is false when the offset falls outside every file extent.
	Allocated bool

	// Location is the volume the offset fell in, empty if none.
	Location string

	// Inode is the resolved file, valid when Allocated.
	Inode uint64

	// FileOffset is the offset within the resolved file, valid when Allocated.
	FileOffset int64
}

// Location is the result of resolving a raw image offset.
type Location struct {
	Inode      uint64
	FileOffset int64
}
