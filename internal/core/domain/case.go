package domain

import "time"

// Case groups the images of one investigation.
type Case struct {
	// ID is the case name given on the command line.
	ID string

	// CreatedAt is when the case was first referenced.
	CreatedAt time.Time
}

// ImageState is the processing state of an image.
type ImageState string

// Image states. Processing moves forward through
// unprocessed → mapping → mapped → indexing → indexed.
const (
	ImageUnprocessed ImageState = "unprocessed"
	ImageMapping     ImageState = "mapping"
	ImageMapped      ImageState = "mapped"
	ImageIndexing    ImageState = "indexing"
	ImageIndexed     ImageState = "indexed"
	ImageFailed      ImageState = "failed"
)

// IsValid returns true if the state is recognised.
func (s ImageState) IsValid() bool {
	switch s {
	case ImageUnprocessed, ImageMapping, ImageMapped, ImageIndexing, ImageIndexed, ImageFailed:
		return true
	default:
		return false
	}
}

// IsMapped reports whether the filesystem mapping is complete.
func (s ImageState) IsMapped() bool {
	return s == ImageMapped || s == ImageIndexing || s == ImageIndexed
}

// String returns the string representation.
func (s ImageState) String() string {
	return string(s)
}

// Stage identifies a processing stage of an image.
type Stage string

// Processing stages.
const (
	StageNone     Stage = ""
	StageMapping  Stage = "mapping"
	StageIndexing Stage = "indexing"
	StageDelete   Stage = "delete"
)

// Remedy returns the command-line flag that re-runs the stage from scratch.
func (s Stage) Remedy() string {
	switch s {
	case StageMapping:
		return "--reparse"
	case StageIndexing:
		return "--reindex"
	case StageDelete:
		return "--delete"
	default:
		return ""
	}
}

// Image is one evidence file. The same image may be attached to several cases;
// its mapping and index are shared between them.
type Image struct {
	// ID is the hex MD5 of the first 2 GiB of the image.
	ID string

	// Path is the absolute path the image was processed from.
	Path string

	// Hash identifies the image's index partition. Equal to ID.
	Hash string

	// State is the current processing state.
	State ImageState

	// FailedStage records which stage left the image in ImageFailed.
	FailedStage Stage

	// CreatedAt is when the image was first referenced.
	CreatedAt time.Time

	// UpdatedAt is when the state last changed.
	UpdatedAt time.Time
}

// StaleStage returns the stage a previous run was in when it stopped
// without reaching a resting state, or StageNone.
func (img *Image) StaleStage() Stage {
	switch img.State {
	case ImageMapping:
		return StageMapping
	case ImageIndexing:
		return StageIndexing
	case ImageFailed:
		return img.FailedStage
	default:
		return StageNone
	}
}

// Mapped reports whether the image's filesystem mapping is complete.
// A failed indexing run only happens after mapping finished.
func (img *Image) Mapped() bool {
	if img.State == ImageFailed {
		return img.FailedStage == StageIndexing
	}
	return img.State.IsMapped()
}
