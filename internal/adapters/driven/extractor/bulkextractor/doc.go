// Package bulkextractor runs bulk_extractor as the string-extraction engine.
//
// The wordlist scanner writes one record per line to wordlist.txt:
//
//	<offset>\t<data>
//
// where offset is either a decimal image offset or a forensic path such as
// 1234-GZIP-56 for strings found inside a decoded stream.
package bulkextractor
