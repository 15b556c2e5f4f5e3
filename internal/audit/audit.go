package audit

import (
	"context"
	"encoding/json"

	"emberframe/internal/models"

	"go.uber.org/zap"
)

const (
	ActionUserRegister       = "user_register"
	ActionLoginSuccess       = "login_success"
	ActionLoginFailed        = "login_failed"
	ActionLogout             = "logout"
	ActionTokenRefreshed     = "token_refreshed"
	ActionPasswordChanged    = "password_changed"
	ActionSessionRevoked     = "session_revoked"
	ActionAllSessionsRevoked = "all_sessions_revoked"

	ActionFilesUploaded = "files_uploaded"
	ActionFolderCreated = "folder_created"
	ActionFileDeleted   = "file_deleted"
	ActionFileRenamed   = "file_renamed"
	ActionFilesMoved    = "files_moved"
	ActionFilesCopied   = "files_copied"

	ActionProfileUpdated     = "profile_updated"
	ActionPreferencesUpdated = "preferences_updated"

	ActionShareCreated  = "share_created"
	ActionShareDeleted  = "share_deleted"
	ActionShareAccessed = "share_accessed"

	ActionUserCreate        = "user_create"
	ActionUserUpdate        = "user_update"
	ActionUserDisable       = "user_disable"
	ActionStorageReconciled = "storage_reconciled"
	ActionSystemInit        = "system_init"
)

// EventType is the websocket event name audit records are pushed under.
const EventType = "audit"

// Entry is one action to record. An Actor with UserID 0 is anonymous.
type Entry struct {
	Actor   models.Actor
	Action  string
	Target  string
	Outcome string
	Message string
	Details map[string]any
}

// Sink is what services depend on to record their actions.
type Sink interface {
	Record(ctx context.Context, e Entry)
}

type Store interface {
	InsertAuditRecord(ctx context.Context, arg models.AuditRecord) (*models.AuditRecord, error)
	ListAuditRecords(ctx context.Context, f models.AuditFilter) ([]models.AuditRecord, error)
}

type Publisher interface {
	Publish(userID int64, eventType string, payload interface{})
}

type Recorder struct {
	store Store
	pub   Publisher
	log   *zap.Logger
}

func NewRecorder(store Store, pub Publisher, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{store: store, pub: pub, log: log}
}

// Record stores e and pushes the stored row to the actor's clients. Errors
// are logged and swallowed; a failed audit write never fails the caller.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if e.Outcome == "" {
		e.Outcome = models.OutcomeSuccess
	}

	rec := models.AuditRecord{
		Action:    e.Action,
		Target:    e.Target,
		Outcome:   e.Outcome,
		Message:   e.Message,
		ClientIP:  e.Actor.ClientIP,
		UserAgent: e.Actor.UserAgent,
	}
	if e.Actor.UserID != 0 {
		uid := e.Actor.UserID
		rec.UserID = &uid
	}
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			r.log.Warn("audit details not serializable", zap.String("action", e.Action), zap.Error(err))
		} else {
			rec.Details = raw
		}
	}

	// The record must survive a cancelled request.
	stored, err := r.store.InsertAuditRecord(context.WithoutCancel(ctx), rec)
	if err != nil {
		r.log.Error("failed to write audit record",
			zap.String("action", e.Action),
			zap.String("target", e.Target),
			zap.String("outcome", e.Outcome),
			zap.Error(err),
		)
		return
	}

	if r.pub != nil && stored.UserID != nil {
		r.pub.Publish(*stored.UserID, EventType, stored)
	}
}

func (r *Recorder) List(ctx context.Context, f models.AuditFilter) ([]models.AuditRecord, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return r.store.ListAuditRecords(ctx, f)
}

// Outcome folds per-item results into one record outcome.
func Outcome(succeeded, failed int) string {
	switch {
	case failed == 0:
		return models.OutcomeSuccess
	case succeeded == 0:
		return models.OutcomeFailure
	default:
		return models.OutcomePartial
	}
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}
