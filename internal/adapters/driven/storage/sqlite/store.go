package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/dfdewey/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
)

// DatabaseFile is the file name of the datastore inside the data directory.
const DatabaseFile = "dfdewey.db"

// Ensure Store implements the interface.
var _ driven.RelationalStore = (*Store)(nil)

// Store is the SQLite-backed relational store.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store in the specified data directory.
// If dataDir is empty, defaults to ~/.dfdewey/data.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".dfdewey", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("%w: creating data directory: %v", domain.ErrConfiguration, err)
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)

	db, err := sql.Open("sqlite",
		dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Volumes are written from several goroutines; one connection keeps
	// SQLite from failing write upgrades with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_initial.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if err := s.applyMigration(version, string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}

	return nil
}

func (s *Store) applyMigration(version int, content string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(content); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return err
	}
	return tx.Commit()
}

// ==================== Cases and Images ====================

// EnsureCase creates the case if it does not exist.
func (s *Store) EnsureCase(ctx context.Context, caseID string) (*domain.Case, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cases (id, created_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, caseID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("saving case: %w", err)
	}

	var c domain.Case
	var createdAt sql.NullTime
	row := s.db.QueryRowContext(ctx, "SELECT id, created_at FROM cases WHERE id = ?", caseID)
	if err := row.Scan(&c.ID, &createdAt); err != nil {
		return nil, fmt.Errorf("scanning case: %w", err)
	}
	if createdAt.Valid {
		c.CreatedAt = createdAt.Time
	}
	return &c, nil
}

// GetImage returns the image or domain.ErrNotFound.
func (s *Store) GetImage(ctx context.Context, imageID string) (*domain.Image, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, path, hash, state, failed_stage, created_at, updated_at
		FROM images WHERE id = ?
	`, imageID)
	return scanImage(row)
}

// SaveImage inserts or updates an image.
func (s *Store) SaveImage(ctx context.Context, image *domain.Image) error {
	if image == nil || image.ID == "" {
		return fmt.Errorf("%w: image id is required", domain.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO images (id, path, hash, state, failed_stage, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			hash = excluded.hash,
			state = excluded.state,
			failed_stage = excluded.failed_stage,
			updated_at = excluded.updated_at
	`, image.ID, image.Path, image.Hash, string(image.State), string(image.FailedStage),
		image.CreatedAt.UTC(), image.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving image: %w", err)
	}
	return nil
}

// SetImageState records a lifecycle transition.
func (s *Store) SetImageState(ctx context.Context, imageID string, state domain.ImageState, failed domain.Stage) error {
	if state != domain.ImageFailed {
		failed = domain.StageNone
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE images SET state = ?, failed_stage = ?, updated_at = ? WHERE id = ?
	`, string(state), string(failed), time.Now().UTC(), imageID)
	if err != nil {
		return fmt.Errorf("updating image state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LinkImage attaches an image to a case.
func (s *Store) LinkImage(ctx context.Context, caseID, imageID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO case_images (case_id, image_id) VALUES (?, ?)
		ON CONFLICT(case_id, image_id) DO NOTHING
	`, caseID, imageID)
	if err != nil {
		return fmt.Errorf("linking image: %w", err)
	}
	return nil
}

// UnlinkImage detaches an image from a case.
func (s *Store) UnlinkImage(ctx context.Context, caseID, imageID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM case_images WHERE case_id = ? AND image_id = ?", caseID, imageID)
	if err != nil {
		return fmt.Errorf("unlinking image: %w", err)
	}
	return nil
}

// ImageCases lists the cases an image is attached to.
func (s *Store) ImageCases(ctx context.Context, imageID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT case_id FROM case_images WHERE image_id = ? ORDER BY case_id", imageID)
	if err != nil {
		return nil, fmt.Errorf("querying image cases: %w", err)
	}
	defer rows.Close()

	cases := []string{}
	for rows.Next() {
		var caseID string
		if err := rows.Scan(&caseID); err != nil {
			return nil, fmt.Errorf("scanning case id: %w", err)
		}
		cases = append(cases, caseID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating image cases: %w", err)
	}
	return cases, nil
}

// CaseImages lists the images attached to a case, ordered by path.
func (s *Store) CaseImages(ctx context.Context, caseID string) ([]domain.Image, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.path, i.hash, i.state, i.failed_stage, i.created_at, i.updated_at
		FROM images i
		JOIN case_images ci ON ci.image_id = i.id
		WHERE ci.case_id = ?
		ORDER BY i.path
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("querying case images: %w", err)
	}
	defer rows.Close()

	var images []domain.Image //nolint:prealloc // size unknown from query
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, *img)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating case images: %w", err)
	}
	return images, nil
}

// DeleteImage removes the image row and its case links.
func (s *Store) DeleteImage(ctx context.Context, imageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM case_images WHERE image_id = ?", imageID); err != nil {
		return fmt.Errorf("deleting image links: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM images WHERE id = ?", imageID); err != nil {
		return fmt.Errorf("deleting image: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ==================== Filesystem Mapping ====================

// SaveVolumes replaces the volume list of an image.
func (s *Store) SaveVolumes(ctx context.Context, imageID string, volumes []domain.Volume) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM volumes WHERE image_id = ?", imageID); err != nil {
		return fmt.Errorf("clearing volumes: %w", err)
	}

	for _, vol := range volumes {
		vol.ImageID = imageID
		if err := upsertVolume(ctx, tx, vol); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Volumes lists the volumes of an image ordered by offset.
func (s *Store) Volumes(ctx context.Context, imageID string) ([]domain.Volume, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT image_id, location, fs_type, byte_offset, size, block_size, status, error
		FROM volumes WHERE image_id = ?
		ORDER BY byte_offset, location
	`, imageID)
	if err != nil {
		return nil, fmt.Errorf("querying volumes: %w", err)
	}
	defer rows.Close()

	var volumes []domain.Volume //nolint:prealloc // size unknown from query
	for rows.Next() {
		var vol domain.Volume
		var status string
		if err := rows.Scan(&vol.ImageID, &vol.Location, &vol.FSType, &vol.Offset,
			&vol.Size, &vol.BlockSize, &status, &vol.Error); err != nil {
			return nil, fmt.Errorf("scanning volume: %w", err)
		}
		vol.Status = domain.VolumeStatus(status)
		volumes = append(volumes, vol)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating volumes: %w", err)
	}
	return volumes, nil
}

// ReplaceVolumeMapping replaces the file records and extents of one volume
// and records its status in a single transaction.
func (s *Store) ReplaceVolumeMapping(
	ctx context.Context,
	volume domain.Volume,
	files []domain.FileRecord,
	extents []domain.Extent,
) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := upsertVolume(ctx, tx, volume); err != nil {
		return err
	}

	key := []any{volume.ImageID, volume.Location}
	if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE image_id = ? AND location = ?", key...); err != nil {
		return fmt.Errorf("clearing file records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM extents WHERE image_id = ? AND location = ?", key...); err != nil {
		return fmt.Errorf("clearing extents: %w", err)
	}

	fileStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (image_id, location, inode, path, size) VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer fileStmt.Close()

	for _, f := range files {
		if _, err := fileStmt.ExecContext(ctx, volume.ImageID, volume.Location,
			int64(f.Inode), f.Path, f.Size); err != nil { //nolint:gosec // inode numbers fit in int64
			return fmt.Errorf("saving file record: %w", err)
		}
	}

	extentStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO extents (image_id, location, start_offset, end_offset, inode, file_offset)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer extentStmt.Close()

	for _, e := range extents {
		if _, err := extentStmt.ExecContext(ctx, volume.ImageID, volume.Location,
			e.Start, e.End, int64(e.Inode), e.FileOffset); err != nil { //nolint:gosec // see above
			return fmt.Errorf("saving extent: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// DeleteImageMapping removes the volumes, file records and extents of an image.
func (s *Store) DeleteImageMapping(ctx context.Context, imageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{"extents", "files", "volumes"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE image_id = ?", imageID); err != nil {
			return fmt.Errorf("deleting %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// FilePaths returns the names of an inode within a volume.
func (s *Store) FilePaths(ctx context.Context, imageID, location string, inode uint64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path FROM files
		WHERE image_id = ? AND location = ? AND inode = ?
		ORDER BY path
	`, imageID, location, int64(inode)) //nolint:gosec // inode numbers fit in int64
	if err != nil {
		return nil, fmt.Errorf("querying file paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning file path: %w", err)
		}
		paths = append(paths, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating file paths: %w", err)
	}
	return paths, nil
}

// LoadExtents returns the extents of a volume ordered by start.
func (s *Store) LoadExtents(ctx context.Context, imageID, location string) ([]domain.Extent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT start_offset, end_offset, inode, file_offset FROM extents
		WHERE image_id = ? AND location = ?
		ORDER BY start_offset
	`, imageID, location)
	if err != nil {
		return nil, fmt.Errorf("querying extents: %w", err)
	}
	defer rows.Close()

	var extents []domain.Extent //nolint:prealloc // size unknown from query
	for rows.Next() {
		var e domain.Extent
		var inode int64
		if err := rows.Scan(&e.Start, &e.End, &inode, &e.FileOffset); err != nil {
			return nil, fmt.Errorf("scanning extent: %w", err)
		}
		e.Inode = uint64(inode) //nolint:gosec // stored from a uint64
		extents = append(extents, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating extents: %w", err)
	}
	return extents, nil
}

// ==================== Helpers ====================

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertVolume(ctx context.Context, db execer, vol domain.Volume) error {
	status := vol.Status
	if status == "" {
		status = domain.VolumePending
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO volumes (image_id, location, fs_type, byte_offset, size, block_size, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(image_id, location) DO UPDATE SET
			fs_type = excluded.fs_type,
			byte_offset = excluded.byte_offset,
			size = excluded.size,
			block_size = excluded.block_size,
			status = excluded.status,
			error = excluded.error
	`, vol.ImageID, vol.Location, vol.FSType, vol.Offset, vol.Size, vol.BlockSize,
		string(status), vol.Error)
	if err != nil {
		return fmt.Errorf("saving volume %s: %w", vol.Location, err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanImage(row scanner) (*domain.Image, error) {
	var img domain.Image
	var state, failed string
	var createdAt, updatedAt sql.NullTime

	if err := row.Scan(&img.ID, &img.Path, &img.Hash, &state, &failed, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning image: %w", err)
	}

	img.State = domain.ImageState(state)
	img.FailedStage = domain.Stage(failed)
	if createdAt.Valid {
		img.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		img.UpdatedAt = updatedAt.Time
	}
	return &img, nil
}
