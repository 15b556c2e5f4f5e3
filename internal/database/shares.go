package database

import (
	"context"
	"errors"
	"fmt"

	"emberframe/internal/apperr"
	"emberframe/internal/models"

	"github.com/jackc/pgx/v5"
)

var (
	ErrShareAlreadyExists = fmt.Errorf("%w: path is already shared with this user", apperr.ErrAlreadyExists)
	ErrShareNotFound      = fmt.Errorf("%w: share", apperr.ErrNotFound)
)

const pgCheckViolation = "23514"

const shareSelect = `
	SELECT
		s.id, s.owner_id, s.path, s.recipient_id, s.permission, s.token,
		s.password_hash, s.expires_at, s.access_count, s.last_accessed_at, s.created_at,
		o.username, o.is_active, r.username
	FROM shares s
	JOIN users o ON o.id = s.owner_id
	LEFT JOIN users r ON r.id = s.recipient_id`

func scanShare(row pgx.Row) (models.Share, error) {
	var s models.Share
	err := row.Scan(
		&s.ID,
		&s.OwnerID,
		&s.Path,
		&s.RecipientID,
		&s.Permission,
		&s.Token,
		&s.PasswordHash,
		&s.ExpiresAt,
		&s.AccessCount,
		&s.LastAccessedAt,
		&s.CreatedAt,
		&s.OwnerUsername,
		&s.OwnerActive,
		&s.RecipientUsername,
	)
	s.PasswordProtected = s.PasswordHash != nil
	return s, err
}

func (q *Queries) getShare(ctx context.Context, where string, args ...interface{}) (*models.Share, error) {
	s, err := scanShare(q.db.QueryRow(ctx, shareSelect+` WHERE `+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// CreateShare stores a share and returns it with the joined usernames.
func (q *Queries) CreateShare(ctx context.Context, arg models.NewShare) (*models.Share, error) {
	query := `
		INSERT INTO shares (owner_id, path, recipient_id, permission, token, password_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	var id int64
	err := q.db.QueryRow(ctx, query,
		arg.OwnerID, arg.Path, arg.RecipientID, models.PermissionRead, arg.Token, arg.PasswordHash, arg.ExpiresAt,
	).Scan(&id)
	if err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return nil, ErrShareAlreadyExists
		case pgForeignKeyViolation:
			return nil, ErrUserNotFound
		case pgCheckViolation:
			return nil, fmt.Errorf("%w: a share needs exactly one of recipient or token, and cannot target its owner", apperr.ErrInvalidArgument)
		}
		return nil, err
	}
	return q.GetShare(ctx, id)
}

func (q *Queries) GetShare(ctx context.Context, id int64) (*models.Share, error) {
	return q.getShare(ctx, `s.id = $1`, id)
}

func (q *Queries) GetShareByToken(ctx context.Context, token string) (*models.Share, error) {
	return q.getShare(ctx, `s.token = $1`, token)
}

func (q *Queries) ListOutgoingShares(ctx context.Context, ownerID int64) ([]models.Share, error) {
	rows, err := q.db.Query(ctx, shareSelect+` WHERE s.owner_id = $1 ORDER BY s.path, s.id`, ownerID)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, func(r pgx.Rows) (models.Share, error) { return scanShare(r) })
}

func (q *Queries) ListIncomingShares(ctx context.Context, recipientID int64) ([]models.Share, error) {
	rows, err := q.db.Query(ctx,
		shareSelect+` WHERE s.recipient_id = $1 AND o.is_active ORDER BY o.username, s.path`, recipientID,
	)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, func(r pgx.Rows) (models.Share, error) { return scanShare(r) })
}

// DeleteShare removes a share owned by ownerID.
func (q *Queries) DeleteShare(ctx context.Context, id, ownerID int64) error {
	res, err := q.db.Exec(ctx, `DELETE FROM shares WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrShareNotFound
	}
	return nil
}

// TouchShare counts one access of a share.
func (q *Queries) TouchShare(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx,
		`UPDATE shares SET access_count = access_count + 1, last_accessed_at = NOW() WHERE id = $1`, id,
	)
	return err
}
