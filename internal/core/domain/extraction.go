package domain

// Provenance describes how an extracted string was decoded from the image.
type Provenance string

// Provenance values.
const (
	ProvenanceDirect Provenance = "direct"
	ProvenanceBase64 Provenance = "base64"
	ProvenanceGzip   Provenance = "gzip"
	ProvenanceZip    Provenance = "zip"
	ProvenanceOther  Provenance = "other"
)

// ExtractedString is one record emitted by the string-extraction engine.
// It is transient: consumed once by the indexer.
type ExtractedString struct {
	// Offset is the raw image byte offset. For decoded strings this is the
	// offset of the encoded stream within the image.
	Offset int64

	// Data is the extracted text.
	Data string

	// Provenance is the outermost decoder applied.
	Provenance Provenance

	// DecodePath is the decoder chain and stream offsets (e.g. "GZIP-1024"),
	// empty for direct strings.
	DecodePath string
}

// ExtractOptions toggles the decoders of the extraction engine.
type ExtractOptions struct {
	Base64 bool
	Gzip   bool
	Zip    bool
}

// DefaultExtractOptions enables every decoder.
func DefaultExtractOptions() ExtractOptions {
	return ExtractOptions{Base64: true, Gzip: true, Zip: true}
}
