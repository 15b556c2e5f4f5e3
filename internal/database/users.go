package database

import (
	"context"
	"errors"

	"emberframe/internal/models"

	"github.com/jackc/pgx/v5"
)

const userColumns = `
	id, username, email, first_name, last_name, avatar_url, bio, theme,
	password_hash, is_admin, is_active, storage_quota_bytes, storage_used_bytes, created_at, updated_at, last_login_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.AvatarURL,
		&user.Bio,
		&user.Theme,
		&user.PasswordHash,
		&user.IsAdmin,
		&user.IsActive,
		&user.StorageQuotaBytes,
		&user.StorageUsedBytes,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (q *Queries) CreateUser(ctx context.Context, arg models.NewUser) (*models.User, error) {
	query := `
		INSERT INTO users (username, email, password_hash, is_admin, storage_quota_bytes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + userColumns

	user, err := scanUser(q.db.QueryRow(ctx, query,
		arg.Username,
		arg.Email,
		arg.PasswordHash,
		arg.IsAdmin,
		arg.StorageQuotaBytes,
	))
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, ErrDuplicateUser
		}
		return nil, err
	}
	return user, nil
}

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`

	user, err := scanUser(q.db.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

func (q *Queries) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(q.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

func (q *Queries) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id LIMIT $1 OFFSET $2`

	rows, err := q.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, func(r pgx.Rows) (models.User, error) {
		u, err := scanUser(r)
		if err != nil {
			return models.User{}, err
		}
		return *u, nil
	})
}

func (q *Queries) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := q.db.Query(ctx, `SELECT id FROM users WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, func(r pgx.Rows) (int64, error) {
		var id int64
		err := r.Scan(&id)
		return id, err
	})
}

// UpdateUser applies the non-nil fields of arg. It returns ErrUserNotFound
// when no such user exists.
func (q *Queries) UpdateUser(ctx context.Context, id int64, arg models.UserUpdate) (*models.User, error) {
	query := `
		UPDATE users
		SET
			storage_quota_bytes = COALESCE($2, storage_quota_bytes),
			is_admin = COALESCE($3, is_admin),
			is_active = COALESCE($4, is_active),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(q.db.QueryRow(ctx, query, id, arg.StorageQuotaBytes, arg.IsAdmin, arg.IsActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// UpdateProfile applies the non-nil fields of arg. Empty strings clear the
// column.
func (q *Queries) UpdateProfile(ctx context.Context, id int64, arg models.ProfileUpdate) (*models.User, error) {
	query := `
		UPDATE users
		SET
			email = CASE WHEN $2::TEXT IS NULL THEN email ELSE NULLIF($2, '') END,
			first_name = CASE WHEN $3::TEXT IS NULL THEN first_name ELSE NULLIF($3, '') END,
			last_name = CASE WHEN $4::TEXT IS NULL THEN last_name ELSE NULLIF($4, '') END,
			avatar_url = CASE WHEN $5::TEXT IS NULL THEN avatar_url ELSE NULLIF($5, '') END,
			bio = CASE WHEN $6::TEXT IS NULL THEN bio ELSE NULLIF($6, '') END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(q.db.QueryRow(ctx, query,
		id, arg.Email, arg.FirstName, arg.LastName, arg.AvatarURL, arg.Bio,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		if pgCode(err) == pgUniqueViolation {
			return nil, ErrDuplicateUser
		}
		return nil, err
	}
	return user, nil
}

func (q *Queries) GetPreferences(ctx context.Context, id int64) (*models.Preferences, error) {
	var prefs models.Preferences
	err := q.db.QueryRow(ctx,
		`SELECT theme, preferences FROM users WHERE id = $1`, id,
	).Scan(&prefs.Theme, &prefs.Settings)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if prefs.Settings == nil {
		prefs.Settings = map[string]interface{}{}
	}
	return &prefs, nil
}

// UpdatePreferences replaces the stored preferences. A nil Settings map
// keeps the stored settings and an empty Theme keeps the stored theme.
func (q *Queries) UpdatePreferences(ctx context.Context, id int64, arg models.Preferences) (*models.Preferences, error) {
	query := `
		UPDATE users
		SET
			theme = COALESCE(NULLIF($2, ''), theme),
			preferences = COALESCE($3::JSONB, preferences),
			updated_at = NOW()
		WHERE id = $1
		RETURNING theme, preferences`

	var settings interface{}
	if arg.Settings != nil {
		settings = arg.Settings
	}

	var prefs models.Preferences
	err := q.db.QueryRow(ctx, query, id, arg.Theme, settings).Scan(&prefs.Theme, &prefs.Settings)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if prefs.Settings == nil {
		prefs.Settings = map[string]interface{}{}
	}
	return &prefs, nil
}

func (q *Queries) TouchLastLogin(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, id)
	return err
}

func (q *Queries) CountUsers(ctx context.Context) (total int64, active int64, err error) {
	err = q.db.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active) FROM users`,
	).Scan(&total, &active)
	return total, active, err
}

// ReserveStorage adds n bytes to the user's usage only if the result stays
// within the quota. The check and the increment are one statement, so
// concurrent uploads cannot overshoot the quota together.
func (q *Queries) ReserveStorage(ctx context.Context, userID int64, n int64) (bool, error) {
	query := `
		UPDATE users
		SET storage_used_bytes = storage_used_bytes + $2, updated_at = NOW()
		WHERE id = $1 AND storage_used_bytes + $2 <= storage_quota_bytes
	`
	res, err := q.db.Exec(ctx, query, userID, n)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (q *Queries) UpdateUserStorage(ctx context.Context, userID int64, bytesChange int64) error {
	query := `
		UPDATE users
		SET storage_used_bytes = GREATEST(0, storage_used_bytes + $2), updated_at = NOW()
		WHERE id = $1
	`
	_, err := q.db.Exec(ctx, query, userID, bytesChange)
	return err
}

func (q *Queries) SetUserStorage(ctx context.Context, userID int64, usedBytes int64) error {
	res, err := q.db.Exec(ctx,
		`UPDATE users SET storage_used_bytes = $2, updated_at = NOW() WHERE id = $1`,
		userID, usedBytes,
	)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (q *Queries) GetUserStorage(ctx context.Context, userID int64) (used int64, quota int64, err error) {
	err = q.db.QueryRow(ctx,
		`SELECT storage_used_bytes, storage_quota_bytes FROM users WHERE id = $1`, userID,
	).Scan(&used, &quota)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, ErrUserNotFound
	}
	return used, quota, err
}

func (q *Queries) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := q.db.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`,
		id, passwordHash,
	)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
