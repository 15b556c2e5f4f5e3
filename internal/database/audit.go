package database

import (
	"context"

	"emberframe/internal/models"

	"github.com/jackc/pgx/v5"
)

const auditColumns = `id, user_id, action, target, outcome, message, client_ip, user_agent, details, created_at`

func scanAudit(row pgx.Row) (models.AuditRecord, error) {
	var a models.AuditRecord
	var details []byte
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.Action,
		&a.Target,
		&a.Outcome,
		&a.Message,
		&a.ClientIP,
		&a.UserAgent,
		&details,
		&a.CreatedAt,
	)
	if len(details) > 0 {
		a.Details = details
	}
	return a, err
}

func (q *Queries) InsertAuditRecord(ctx context.Context, arg models.AuditRecord) (*models.AuditRecord, error) {
	query := `
		INSERT INTO audit_records (user_id, action, target, outcome, message, client_ip, user_agent, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + auditColumns

	var details []byte
	if len(arg.Details) > 0 {
		details = arg.Details
	}

	a, err := scanAudit(q.db.QueryRow(ctx, query,
		arg.UserID, arg.Action, arg.Target, arg.Outcome, arg.Message, arg.ClientIP, arg.UserAgent, details,
	))
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (q *Queries) ListAuditRecords(ctx context.Context, f models.AuditFilter) ([]models.AuditRecord, error) {
	order := "DESC"
	if f.SinceID > 0 {
		order = "ASC"
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + auditColumns + `
		FROM audit_records
		WHERE ($1::BIGINT IS NULL OR user_id = $1)
		  AND id > $2
		ORDER BY id ` + order + `
		LIMIT $3 OFFSET $4`

	rows, err := q.db.Query(ctx, query, f.UserID, f.SinceID, limit, f.Offset)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, func(r pgx.Rows) (models.AuditRecord, error) { return scanAudit(r) })
}

func (q *Queries) CountAuditRecords(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM audit_records`).Scan(&n)
	return n, err
}
