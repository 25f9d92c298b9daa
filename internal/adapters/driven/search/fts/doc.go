// Package fts provides the local full-text index, an SQLite FTS5 table in
// its own database file next to the datastore.
//
// Strings are tokenised by the unicode61 tokenizer: case-folded runs of
// letters and digits. Every query clause becomes a quoted FTS5 phrase, so
// punctuation inside a term splits it into consecutive words rather than
// being parsed as query syntax.
package fts
