package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"emberframe/internal/apperr"
	"emberframe/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrSessionNotFound = fmt.Errorf("%w: session", apperr.ErrNotFound)

const sessionColumns = `id, user_id, refresh_token, user_agent, client_ip, expires_at, created_at, revoked_at`

func scanSession(row pgx.Row) (models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.RefreshToken,
		&s.UserAgent,
		&s.ClientIP,
		&s.ExpiresAt,
		&s.CreatedAt,
		&s.RevokedAt,
	)
	return s, err
}

func (q *Queries) CreateSession(ctx context.Context, arg models.Session) (*models.Session, error) {
	query := `
		INSERT INTO sessions (id, user_id, refresh_token, user_agent, client_ip, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + sessionColumns

	s, err := scanSession(q.db.QueryRow(ctx, query,
		arg.ID, arg.UserID, arg.RefreshToken, arg.UserAgent, arg.ClientIP, arg.ExpiresAt,
	))
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ValidateSession reports whether the session belongs to userID, is neither
// revoked nor expired, and its owner is still active.
func (q *Queries) ValidateSession(ctx context.Context, sessionID uuid.UUID, userID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM sessions s
			JOIN users u ON u.id = s.user_id
			WHERE s.id = $1 AND s.user_id = $2
			  AND s.revoked_at IS NULL
			  AND s.expires_at > NOW()
			  AND u.is_active
		)`
	var ok bool
	err := q.db.QueryRow(ctx, query, sessionID, userID).Scan(&ok)
	return ok, err
}

func (q *Queries) GetSessionByRefreshToken(ctx context.Context, token string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token = $1`

	s, err := scanSession(q.db.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// RotateSessionToken swaps the refresh token of a live session and pushes
// its expiry forward. It fails with ErrSessionNotFound when oldToken does not
// name a live session, so a refresh token can be used once.
func (q *Queries) RotateSessionToken(ctx context.Context, oldToken, newToken string, expiresAt time.Time) (*models.Session, error) {
	query := `
		UPDATE sessions
		SET refresh_token = $2, expires_at = $3
		WHERE refresh_token = $1 AND revoked_at IS NULL AND expires_at > NOW()
		RETURNING ` + sessionColumns

	s, err := scanSession(q.db.QueryRow(ctx, query, oldToken, newToken, expiresAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (q *Queries) RevokeSession(ctx context.Context, sessionID uuid.UUID, userID int64) (bool, error) {
	res, err := q.db.Exec(ctx,
		`UPDATE sessions SET revoked_at = NOW() WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL`,
		sessionID, userID,
	)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (q *Queries) RevokeAllSessions(ctx context.Context, userID int64) (int64, error) {
	res, err := q.db.Exec(ctx,
		`UPDATE sessions SET revoked_at = NOW() WHERE user_id = $1 AND revoked_at IS NULL`,
		userID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (q *Queries) ListSessions(ctx context.Context, userID int64) ([]models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > NOW()
		ORDER BY created_at DESC`

	rows, err := q.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, func(r pgx.Rows) (models.Session, error) { return scanSession(r) })
}

func (q *Queries) CountActiveSessions(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM sessions WHERE revoked_at IS NULL AND expires_at > NOW()`,
	).Scan(&n)
	return n, err
}

// RotateSession performs the refresh-token swap and loads the owning user in
// one transaction. Inactive owners get their session revoked instead.
func (s *Store) RotateSession(ctx context.Context, oldToken, newToken string, expiresAt time.Time) (*models.Session, *models.User, error) {
	var (
		session *models.Session
		user    *models.User
	)
	err := s.ExecTx(ctx, func(q *Queries) error {
		var err error
		session, err = q.RotateSessionToken(ctx, oldToken, newToken, expiresAt)
		if err != nil {
			return err
		}
		user, err = q.GetUserByID(ctx, session.UserID)
		if err != nil {
			return err
		}
		if user == nil || !user.IsActive {
			return ErrSessionNotFound
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return session, user, nil
}
