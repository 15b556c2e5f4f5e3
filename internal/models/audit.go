package models

import (
	"encoding/json"
	"time"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)

type AuditRecord struct {
	ID        int64           `json:"id"`
	UserID    *int64          `json:"user_id,omitempty"`
	Action    string          `json:"action"`
	Target    string          `json:"target"`
	Outcome   string          `json:"outcome"`
	Message   string          `json:"message,omitempty"`
	ClientIP  string          `json:"client_ip,omitempty"`
	UserAgent string          `json:"user_agent,omitempty"`
	Details   json.RawMessage `json:"details,omitempty" swaggertype:"object"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuditFilter selects audit records. With SinceID > 0 records come oldest
// first (client sync); otherwise newest first.
type AuditFilter struct {
	UserID  *int64
	SinceID int64
	Limit   int
	Offset  int
}

type SystemStats struct {
	TotalUsers     int64           `json:"total_users"`
	ActiveUsers    int64           `json:"active_users"`
	TotalFiles     int64           `json:"total_files"`
	TotalBytes     int64           `json:"total_bytes"`
	ByCategory     []CategoryUsage `json:"by_category"`
	ActiveSessions int64           `json:"active_sessions"`
	AuditRecords   int64           `json:"audit_records"`
}
