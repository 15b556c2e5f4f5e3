package models

import "time"

type User struct {
	ID                int64      `json:"id" db:"id"`
	Username          string     `json:"username" db:"username"`
	Email             *string    `json:"email,omitempty" db:"email"`
	FirstName         *string    `json:"first_name,omitempty" db:"first_name"`
	LastName          *string    `json:"last_name,omitempty" db:"last_name"`
	AvatarURL         *string    `json:"avatar_url,omitempty" db:"avatar_url"`
	Bio               *string    `json:"bio,omitempty" db:"bio"`
	Theme             string     `json:"theme" db:"theme"`
	PasswordHash      string     `json:"-" db:"password_hash"`
	IsAdmin           bool       `json:"is_admin" db:"is_admin"`
	IsActive          bool       `json:"is_active" db:"is_active"`
	StorageQuotaBytes int64      `json:"storage_quota_bytes" db:"storage_quota_bytes"`
	StorageUsedBytes  int64      `json:"storage_used_bytes" db:"storage_used_bytes"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
}

// NewUser is the input for creating a user row.
type NewUser struct {
	Username          string
	Email             *string
	PasswordHash      string
	IsAdmin           bool
	StorageQuotaBytes int64
}

// UserUpdate holds the admin-editable fields; nil fields are left unchanged.
type UserUpdate struct {
	StorageQuotaBytes *int64 `json:"storage_quota_bytes"`
	IsAdmin           *bool  `json:"is_admin"`
	IsActive          *bool  `json:"is_active"`
}

// ProfileUpdate holds the fields a user may change about themselves. Nil
// fields are left unchanged; an empty string clears the field.
type ProfileUpdate struct {
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	AvatarURL *string `json:"avatar_url"`
	Bio       *string `json:"bio"`
}

// Preferences are the desktop settings kept per user. Settings is an opaque
// JSON object owned by the client.
type Preferences struct {
	Theme    string                 `json:"theme"`
	Settings map[string]interface{} `json:"settings"`
}

// Actor identifies who performs an operation, for auditing.
type Actor struct {
	UserID    int64
	Username  string
	ClientIP  string
	UserAgent string
}
