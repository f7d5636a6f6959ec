package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/file-manager-api/internal/models"
)

// FileRepository provides database access to the metadata catalog.
type FileRepository struct {
	db *sqlx.DB
}

// NewFileRepository creates a new instance of FileRepository.
func NewFileRepository(db *sqlx.DB) *FileRepository {
	return &FileRepository{db: db}
}

const fileColumns = `id, filename, path, size, hash, modified, owner_id, created_at`

// Create inserts a new file record and fills in the generated id.
// A duplicate path yields ErrDuplicate; the uniqueness constraint is
// the only arbiter between concurrent registrations of the same path.
func (r *FileRepository) Create(ctx context.Context, record *models.FileRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO files (filename, path, size, hash, modified, owner_id, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query,
		record.Filename, record.Path, record.Size, record.Hash, record.Modified, record.OwnerID, record.CreatedAt,
	).Scan(&record.ID); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create file record: %w", err)
	}
	return nil
}

// GetByID returns a file record by identifier.
func (r *FileRepository) GetByID(ctx context.Context, id int64) (*models.FileRecord, error) {
	const query = `SELECT ` + fileColumns + ` FROM files WHERE id = $1 LIMIT 1`
	var record models.FileRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find file by id: %w", err)
	}
	return &record, nil
}

// GetByPath returns a file record by its unique relative path.
func (r *FileRepository) GetByPath(ctx context.Context, path string) (*models.FileRecord, error) {
	const query = `SELECT ` + fileColumns + ` FROM files WHERE path = $1 LIMIT 1`
	var record models.FileRecord
	if err := r.db.GetContext(ctx, &record, query, path); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find file by path: %w", err)
	}
	return &record, nil
}

// ListAll returns every catalog row.
func (r *FileRepository) ListAll(ctx context.Context) ([]models.FileRecord, error) {
	const query = `SELECT ` + fileColumns + ` FROM files ORDER BY id`
	var records []models.FileRecord
	if err := r.db.SelectContext(ctx, &records, query); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return records, nil
}

// ListPaths returns the set of registered relative paths.
func (r *FileRepository) ListPaths(ctx context.Context) ([]string, error) {
	const query = `SELECT path FROM files`
	var paths []string
	if err := r.db.SelectContext(ctx, &paths, query); err != nil {
		return nil, fmt.Errorf("list file paths: %w", err)
	}
	return paths, nil
}

// BatchInsert registers a set of records in a single transaction and
// fills in generated ids. Used by bulk registration.
func (r *FileRepository) BatchInsert(ctx context.Context, records []*models.FileRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch insert: %w", err)
	}
	const query = `INSERT INTO files (filename, path, size, hash, modified, owner_id, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	for _, record := range records {
		if record.CreatedAt.IsZero() {
			record.CreatedAt = time.Now().UTC()
		}
		if err := tx.QueryRowxContext(ctx, query,
			record.Filename, record.Path, record.Size, record.Hash, record.Modified, record.OwnerID, record.CreatedAt,
		).Scan(&record.ID); err != nil {
			_ = tx.Rollback()
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("batch insert file record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch insert: %w", err)
	}
	return nil
}

// DeleteByPaths removes the catalog rows for the given paths in a
// single transaction and returns the number of rows deleted.
func (r *FileRepository) DeleteByPaths(ctx context.Context, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM files WHERE path IN (?)`, paths)
	if err != nil {
		return 0, fmt.Errorf("build cleanup query: %w", err)
	}
	query = r.db.Rebind(query)
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete file records: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted file records: %w", err)
	}
	return int(affected), nil
}

// UpdateSync overwrites the mutable fields after a sync overwrite.
func (r *FileRepository) UpdateSync(ctx context.Context, id int64, size int64, hash string, modified time.Time) error {
	const query = `UPDATE files SET size = $2, hash = $3, modified = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, size, hash, modified); err != nil {
		return fmt.Errorf("update file record: %w", err)
	}
	return nil
}

// PathHashes returns a path-to-hash map for every row carrying a hash.
func (r *FileRepository) PathHashes(ctx context.Context) (map[string]string, error) {
	const query = `SELECT path, hash FROM files WHERE hash IS NOT NULL`
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list file hashes: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	hashes := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, fmt.Errorf("scan file hash: %w", err)
		}
		hashes[path] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file hashes: %w", err)
	}
	return hashes, nil
}
