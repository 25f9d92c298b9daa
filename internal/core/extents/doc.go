// Package extents maps raw image byte ranges to the files that own them.
//
// A Table is built once per volume from the extents reported by the
// filesystem walk and is read-only afterwards, so it can be shared by
// any number of goroutines without locking. Lookups are a binary search
// over a flat array sorted by start offset.
//
// Overlapping extents are resolved first-seen wins: an extent that
// overlaps one added earlier is rejected whole and reported back to the
// caller through Rejection values.
package extents
