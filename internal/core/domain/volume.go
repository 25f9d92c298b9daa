package domain

// VolumeStatus is the mapping outcome for one volume.
type VolumeStatus string

// Volume statuses.
const (
	VolumePending  VolumeStatus = "pending"
	VolumeMapped   VolumeStatus = "mapped"
	VolumeUnmapped VolumeStatus = "unmapped"
)

// Volume is one partition or filesystem instance inside an image.
type Volume struct {
	// ImageID is the owning image.
	ImageID string

	// Location identifies the volume within the image (e.g. "/p1").
	Location string

	// FSType is the detected filesystem type (e.g. "EXT", "NTFS").
	FSType string

	// Offset is the byte offset of the volume within the raw image.
	Offset int64

	// Size is the volume length in bytes. Zero means the volume extends
	// to the end of the image.
	Size int64

	// BlockSize is the filesystem block size, when known.
	BlockSize int64

	// Status is the mapping outcome.
	Status VolumeStatus

	// Error holds the reason a volume is unmapped.
	Error string
}

// Contains reports whether a raw image offset falls inside the volume.
func (v *Volume) Contains(offset int64) bool {
	if offset < v.Offset {
		return false
	}
	return v.Size == 0 || offset < v.Offset+v.Size
}

// FileRecord is one named file within a volume. A hard-linked inode has
// one record per path.
type FileRecord struct {
	ImageID  string
	Location string
	Inode    uint64
	Path     string
	Size     int64
}

// Extent is a contiguous byte range of the raw image attributed to one file.
// Start is inclusive and End exclusive. FileOffset is the offset within the
// file of the byte at Start.
type Extent struct {
	Start      int64
	End        int64
	Inode      uint64
	FileOffset int64
}

// Len returns the extent length in bytes.
func (e Extent) Len() int64 {
	return e.End - e.Start
}

// Overlaps reports whether two extents share at least one byte.
func (e Extent) Overlaps(o Extent) bool {
	return e.Start < o.End && o.Start < e.End
}
