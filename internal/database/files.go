package database

import (
	"context"
	"errors"

	"emberframe/internal/models"

	"github.com/jackc/pgx/v5"
)

const fileColumns = `
	id, owner_id, path, name, size_bytes, mime_type, category, checksum,
	has_thumbnail, created_at, updated_at`

func scanFile(row pgx.Row) (models.FileMetadata, error) {
	var f models.FileMetadata
	err := row.Scan(
		&f.ID,
		&f.OwnerID,
		&f.Path,
		&f.Name,
		&f.SizeBytes,
		&f.MimeType,
		&f.Category,
		&f.Checksum,
		&f.HasThumbnail,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	return f, err
}

// UpsertFileMetadata records a stored file, replacing any row already kept
// for the same owner and path.
func (q *Queries) UpsertFileMetadata(ctx context.Context, arg models.FileMetadata) (*models.FileMetadata, error) {
	query := `
		INSERT INTO files (owner_id, path, name, size_bytes, mime_type, category, checksum, has_thumbnail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (owner_id, path) DO UPDATE SET
			name = EXCLUDED.name,
			size_bytes = EXCLUDED.size_bytes,
			mime_type = EXCLUDED.mime_type,
			category = EXCLUDED.category,
			checksum = EXCLUDED.checksum,
			has_thumbnail = EXCLUDED.has_thumbnail,
			updated_at = NOW()
		RETURNING ` + fileColumns

	f, err := scanFile(q.db.QueryRow(ctx, query,
		arg.OwnerID, arg.Path, arg.Name, arg.SizeBytes, arg.MimeType, arg.Category, arg.Checksum, arg.HasThumbnail,
	))
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (q *Queries) GetFileMetadata(ctx context.Context, ownerID int64, path string) (*models.FileMetadata, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE owner_id = $1 AND path = $2`

	f, err := scanFile(q.db.QueryRow(ctx, query, ownerID, path))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

func (q *Queries) ListFileMetadata(ctx context.Context, ownerID int64, paths []string) ([]models.FileMetadata, error) {
	if len(paths) == 0 {
		return []models.FileMetadata{}, nil
	}
	query := `SELECT ` + fileColumns + ` FROM files WHERE owner_id = $1 AND path = ANY($2)`

	rows, err := q.db.Query(ctx, query, ownerID, paths)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, func(r pgx.Rows) (models.FileMetadata, error) { return scanFile(r) })
}

func (q *Queries) ListAllFileMetadata(ctx context.Context, ownerID int64) ([]models.FileMetadata, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE owner_id = $1 ORDER BY path`

	rows, err := q.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, func(r pgx.Rows) (models.FileMetadata, error) { return scanFile(r) })
}

// RenameFileMetadata rewrites the path of oldPath and every row below it,
// along with the shares pointing into the moved subtree.
func (q *Queries) RenameFileMetadata(ctx context.Context, ownerID int64, oldPath, newPath, newName string) (int64, error) {
	query := `
		WITH moved_shares AS (
			UPDATE shares
			SET path = $3 || substr(path, length($2) + 1)
			WHERE owner_id = $1 AND (path = $2 OR starts_with(path, $2 || '/'))
		)
		UPDATE files
		SET
			path = $3 || substr(path, length($2) + 1),
			name = CASE WHEN path = $2 THEN $4 ELSE name END,
			updated_at = NOW()
		WHERE owner_id = $1 AND (path = $2 OR starts_with(path, $2 || '/'))
	`
	res, err := q.db.Exec(ctx, query, ownerID, oldPath, newPath, newName)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

// CopyFileMetadata duplicates the rows of srcPath and everything below it
// under dstPath. Existing destination rows are overwritten.
func (q *Queries) CopyFileMetadata(ctx context.Context, ownerID int64, srcPath, dstPath, dstName string) (int64, error) {
	query := `
		INSERT INTO files (owner_id, path, name, size_bytes, mime_type, category, checksum, has_thumbnail)
		SELECT
			owner_id,
			$3 || substr(path, length($2) + 1),
			CASE WHEN path = $2 THEN $4 ELSE name END,
			size_bytes, mime_type, category, checksum, has_thumbnail
		FROM files
		WHERE owner_id = $1 AND (path = $2 OR starts_with(path, $2 || '/'))
		ON CONFLICT (owner_id, path) DO UPDATE SET
			name = EXCLUDED.name,
			size_bytes = EXCLUDED.size_bytes,
			mime_type = EXCLUDED.mime_type,
			category = EXCLUDED.category,
			checksum = EXCLUDED.checksum,
			has_thumbnail = EXCLUDED.has_thumbnail,
			updated_at = NOW()
	`
	res, err := q.db.Exec(ctx, query, ownerID, srcPath, dstPath, dstName)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

// DeleteFileMetadata removes path and every row below it, along with the
// shares of the removed subtree.
func (q *Queries) DeleteFileMetadata(ctx context.Context, ownerID int64, path string) (int64, error) {
	query := `
		WITH dropped_shares AS (
			DELETE FROM shares WHERE owner_id = $1 AND (path = $2 OR starts_with(path, $2 || '/'))
		)
		DELETE FROM files WHERE owner_id = $1 AND (path = $2 OR starts_with(path, $2 || '/'))`
	res, err := q.db.Exec(ctx, query, ownerID, path)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (q *Queries) DeleteAllFileMetadata(ctx context.Context, ownerID int64) error {
	_, err := q.db.Exec(ctx, `DELETE FROM files WHERE owner_id = $1`, ownerID)
	return err
}

// MarkThumbnail flags every file of the owner with the given content hash.
func (q *Queries) MarkThumbnail(ctx context.Context, ownerID int64, checksum string) error {
	_, err := q.db.Exec(ctx,
		`UPDATE files SET has_thumbnail = TRUE WHERE owner_id = $1 AND checksum = $2 AND NOT has_thumbnail`,
		ownerID, checksum,
	)
	return err
}

func (q *Queries) SearchFiles(ctx context.Context, ownerID int64, term, category string, limit int) ([]models.FileMetadata, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM files
		WHERE owner_id = $1
		  AND strpos(lower(name), lower($2)) > 0
		  AND ($3 = '' OR category = $3)
		ORDER BY name, path
		LIMIT $4`

	rows, err := q.db.Query(ctx, query, ownerID, term, category, limit)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, func(r pgx.Rows) (models.FileMetadata, error) { return scanFile(r) })
}

// StorageByCategory sums file sizes per category. A nil ownerID covers all
// users.
func (q *Queries) StorageByCategory(ctx context.Context, ownerID *int64) ([]models.CategoryUsage, error) {
	query := `
		SELECT category, COALESCE(SUM(size_bytes), 0), COUNT(*)
		FROM files
		WHERE $1::BIGINT IS NULL OR owner_id = $1
		GROUP BY category
		ORDER BY category`

	rows, err := q.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, func(r pgx.Rows) (models.CategoryUsage, error) {
		var c models.CategoryUsage
		err := r.Scan(&c.Category, &c.SizeBytes, &c.FileCount)
		return c, err
	})
}

func (q *Queries) CountFiles(ctx context.Context) (count int64, bytes int64, err error) {
	err = q.db.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM files`).Scan(&count, &bytes)
	return count, bytes, err
}

func (q *Queries) ListChecksums(ctx context.Context, ownerID int64) ([]string, error) {
	rows, err := q.db.Query(ctx,
		`SELECT DISTINCT checksum FROM files WHERE owner_id = $1 AND checksum <> ''`, ownerID,
	)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, func(r pgx.Rows) (string, error) {
		var s string
		err := r.Scan(&s)
		return s, err
	})
}

// ReplaceFileMetadata swaps the owner's metadata for rows in one
// transaction. Used when reconciling against the filesystem.
func (s *Store) ReplaceFileMetadata(ctx context.Context, ownerID int64, rows []models.FileMetadata, usedBytes int64) error {
	return s.ExecTx(ctx, func(q *Queries) error {
		if err := q.DeleteAllFileMetadata(ctx, ownerID); err != nil {
			return err
		}
		for _, row := range rows {
			row.OwnerID = ownerID
			if _, err := q.UpsertFileMetadata(ctx, row); err != nil {
				return err
			}
		}
		return q.SetUserStorage(ctx, ownerID, usedBytes)
	})
}
