package fts

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
)

// IndexFile is the file name of the index inside the data directory.
const IndexFile = "index.db"

// Ensure Index implements the interface.
var _ driven.SearchIndex = (*Index)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    seq INTEGER PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    image_id TEXT NOT NULL,
    byte_offset INTEGER NOT NULL,
    decode_path TEXT NOT NULL DEFAULT '',
    provenance TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL,
    allocated INTEGER NOT NULL DEFAULT 0,
    location TEXT NOT NULL DEFAULT '',
    inode INTEGER NOT NULL DEFAULT 0,
    file_offset INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_documents_image ON documents(image_id, byte_offset);

CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
    data,
    content='documents',
    content_rowid='seq',
    tokenize='unicode61'
);

CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
    INSERT INTO documents_fts(rowid, data) VALUES (new.seq, new.data);
END;

CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
    INSERT INTO documents_fts(documents_fts, rowid, data) VALUES ('delete', old.seq, old.data);
END;

CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
    INSERT INTO documents_fts(documents_fts, rowid, data) VALUES ('delete', old.seq, old.data);
    INSERT INTO documents_fts(rowid, data) VALUES (new.seq, new.data);
END;
`

// Index is the SQLite FTS5 search index.
type Index struct {
	db   *sql.DB
	path string
}

// NewIndex opens or creates the index in dataDir.
func NewIndex(dataDir string) (*Index, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("%w: creating data directory: %v", domain.ErrConfiguration, err)
	}

	path := filepath.Join(dataDir, IndexFile)
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index schema: %w", err)
	}

	return &Index{db: db, path: path}, nil
}

// Path returns the index file path.
func (ix *Index) Path() string {
	return ix.path
}

// Close closes the index.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// IndexBatch writes documents in one transaction.
func (ix *Index) IndexBatch(ctx context.Context, docs []domain.IndexedDocument) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (id, image_id, byte_offset, decode_path, provenance, data,
			allocated, location, inode, file_offset)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			image_id = excluded.image_id,
			byte_offset = excluded.byte_offset,
			decode_path = excluded.decode_path,
			provenance = excluded.provenance,
			data = excluded.data,
			allocated = excluded.allocated,
			location = excluded.location,
			inode = excluded.inode,
			file_offset = excluded.file_offset
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		if _, err := stmt.ExecContext(ctx, d.ID, d.ImageID, d.Offset, d.DecodePath,
			string(d.Provenance), d.Data, d.Allocated, d.Location,
			int64(d.Inode), d.FileOffset); err != nil { //nolint:gosec // inode numbers fit in int64
			return fmt.Errorf("indexing document: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// DeleteImage removes every document of an image.
func (ix *Index) DeleteImage(ctx context.Context, imageID string) error {
	if _, err := ix.db.ExecContext(ctx, "DELETE FROM documents WHERE image_id = ?", imageID); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	return nil
}

// Search returns up to limit documents ordered by offset.
func (ix *Index) Search(ctx context.Context, imageID string, query driven.Query, limit int) (*driven.SearchResult, error) {
	match, ok := MatchExpression(query)
	if !ok {
		return &driven.SearchResult{}, nil
	}

	total, err := ix.count(ctx, imageID, match)
	if err != nil {
		return nil, err
	}

	rows, err := ix.db.QueryContext(ctx, `
		SELECT d.id, d.image_id, d.byte_offset, d.decode_path, d.provenance, d.data,
			d.allocated, d.location, d.inode, d.file_offset
		FROM documents_fts f
		JOIN documents d ON d.seq = f.rowid
		WHERE documents_fts MATCH ? AND d.image_id = ?
		ORDER BY d.byte_offset, d.id
		LIMIT ?
	`, match, imageID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	defer rows.Close()

	result := &driven.SearchResult{Total: total}
	for rows.Next() {
		var d domain.IndexedDocument
		var provenance string
		var inode int64
		if err := rows.Scan(&d.ID, &d.ImageID, &d.Offset, &d.DecodePath, &provenance, &d.Data,
			&d.Allocated, &d.Location, &inode, &d.FileOffset); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		d.Provenance = domain.Provenance(provenance)
		d.Inode = uint64(inode) //nolint:gosec // stored from a uint64
		result.Documents = append(result.Documents, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return result, nil
}

// Count returns the number of documents matching the query.
func (ix *Index) Count(ctx context.Context, imageID string, query driven.Query) (int, error) {
	match, ok := MatchExpression(query)
	if !ok {
		return 0, nil
	}
	return ix.count(ctx, imageID, match)
}

func (ix *Index) count(ctx context.Context, imageID, match string) (int, error) {
	var n int
	err := ix.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM documents_fts f
		JOIN documents d ON d.seq = f.rowid
		WHERE documents_fts MATCH ? AND d.image_id = ?
	`, match, imageID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// MatchExpression renders a query as an FTS5 MATCH expression. It reports
// false when a clause holds no indexable word, which matches nothing.
func MatchExpression(query driven.Query) (string, bool) {
	if len(query.Clauses) == 0 {
		return "", false
	}

	parts := make([]string, 0, len(query.Clauses))
	for _, c := range query.Clauses {
		words := Tokenize(c.Text)
		if len(words) == 0 {
			return "", false
		}
		part := `"` + strings.Join(words, " ") + `"`
		if c.Prefix {
			part += "*"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " AND "), true
}

// Tokenize splits text into lowercase runs of letters and digits, the way
// the unicode61 tokenizer does.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
