package models

import "time"

const PermissionRead = "read"

// Share grants read access to one path of the owner's tree, either to a
// named recipient or to anyone holding Token.
type Share struct {
	ID                int64      `json:"id"`
	OwnerID           int64      `json:"owner_id"`
	Path              string     `json:"path"`
	RecipientID       *int64     `json:"recipient_id,omitempty"`
	Permission        string     `json:"permission"`
	Token             *string    `json:"token,omitempty"`
	PasswordHash      *string    `json:"-"`
	PasswordProtected bool       `json:"password_protected"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	AccessCount       int64      `json:"access_count"`
	LastAccessedAt    *time.Time `json:"last_accessed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`

	OwnerUsername     string  `json:"owner_username"`
	OwnerActive       bool    `json:"-"`
	RecipientUsername *string `json:"recipient_username,omitempty"`
}

func (s Share) IsPublic() bool { return s.Token != nil }

func (s Share) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// NewShare is the input for storing a share row.
type NewShare struct {
	OwnerID      int64
	Path         string
	RecipientID  *int64
	Token        *string
	PasswordHash *string
	ExpiresAt    *time.Time
}
