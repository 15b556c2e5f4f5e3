// Package admin implements user management and system statistics for
// administrators.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"emberframe/internal/apperr"
	"emberframe/internal/audit"
	"emberframe/internal/auth"
	"emberframe/internal/files"
	"emberframe/internal/models"

	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type Repository interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]models.User, error)
	UpdateUser(ctx context.Context, id int64, arg models.UserUpdate) (*models.User, error)
	RevokeAllSessions(ctx context.Context, userID int64) (int64, error)

	CountUsers(ctx context.Context) (total int64, active int64, err error)
	CountFiles(ctx context.Context) (count int64, bytes int64, err error)
	StorageByCategory(ctx context.Context, ownerID *int64) ([]models.CategoryUsage, error)
	CountActiveSessions(ctx context.Context) (int64, error)
	CountAuditRecords(ctx context.Context) (int64, error)
}

type UserCreator interface {
	CreateUser(ctx context.Context, p auth.NewUserParams) (*models.User, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, actor models.Actor, userID int64) (*files.ReconcileResult, error)
}

type AuditLog interface {
	List(ctx context.Context, f models.AuditFilter) ([]models.AuditRecord, error)
}

// DesktopResetter drops the desktop state of a disabled user.
type DesktopResetter interface {
	Reset(userID int64)
}

type Config struct {
	Repo       Repository
	Users      UserCreator
	Reconciler Reconciler
	Audit      audit.Sink
	AuditLog   AuditLog
	Desktops   DesktopResetter
	Logger     *zap.Logger
}

type Service struct {
	repo       Repository
	users      UserCreator
	reconciler Reconciler
	audit      audit.Sink
	auditLog   AuditLog
	desktops   DesktopResetter
	log        *zap.Logger
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Repo == nil || cfg.Users == nil || cfg.Reconciler == nil || cfg.AuditLog == nil {
		return nil, errors.New("admin: repository, user creator, reconciler and audit log are required")
	}
	s := &Service{
		repo:       cfg.Repo,
		users:      cfg.Users,
		reconciler: cfg.Reconciler,
		audit:      cfg.Audit,
		auditLog:   cfg.AuditLog,
		desktops:   cfg.Desktops,
		log:        cfg.Logger,
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s, nil
}

func (s *Service) record(ctx context.Context, actor models.Actor, action string, target int64, err error, details map[string]any) {
	e := audit.Entry{Actor: actor, Action: action, Target: strconv.FormatInt(target, 10), Details: details}
	if err != nil {
		e.Outcome = models.OutcomeFailure
		e.Message = err.Error()
		if apperr.IsInternal(err) {
			e.Message = "internal error"
		}
	}
	s.audit.Record(ctx, e)
}

func (s *Service) Stats(ctx context.Context) (*models.SystemStats, error) {
	var (
		st  models.SystemStats
		err error
	)
	if st.TotalUsers, st.ActiveUsers, err = s.repo.CountUsers(ctx); err != nil {
		return nil, err
	}
	if st.TotalFiles, st.TotalBytes, err = s.repo.CountFiles(ctx); err != nil {
		return nil, err
	}
	if st.ByCategory, err = s.repo.StorageByCategory(ctx, nil); err != nil {
		return nil, err
	}
	if st.ActiveSessions, err = s.repo.CountActiveSessions(ctx); err != nil {
		return nil, err
	}
	if st.AuditRecords, err = s.repo.CountAuditRecords(ctx); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListUsers(ctx, limit, offset)
}

func (s *Service) CreateUser(ctx context.Context, actor models.Actor, p auth.NewUserParams) (user *models.User, err error) {
	var target int64
	defer func() {
		s.record(ctx, actor, audit.ActionUserCreate, target, err, map[string]any{
			"username": p.Username,
			"is_admin": p.IsAdmin,
			"quota":    p.QuotaBytes,
		})
	}()

	user, err = s.users.CreateUser(ctx, p)
	if err != nil {
		return nil, err
	}
	target = user.ID
	return user, nil
}

// UpdateUser changes quota and flags of a user. Admins cannot demote or
// disable themselves. Disabling a user revokes all of their sessions.
func (s *Service) UpdateUser(ctx context.Context, actor models.Actor, id int64, upd models.UserUpdate) (user *models.User, err error) {
	defer func() {
		s.record(ctx, actor, audit.ActionUserUpdate, id, err, updateDetails(upd))
	}()

	if upd.StorageQuotaBytes != nil && *upd.StorageQuotaBytes < 0 {
		return nil, fmt.Errorf("%w: quota must not be negative", apperr.ErrInvalidArgument)
	}
	if id == actor.UserID {
		if upd.IsAdmin != nil && !*upd.IsAdmin {
			return nil, fmt.Errorf("%w: cannot remove your own admin rights", apperr.ErrPermissionDenied)
		}
		if upd.IsActive != nil && !*upd.IsActive {
			return nil, fmt.Errorf("%w: cannot disable your own account", apperr.ErrPermissionDenied)
		}
	}

	user, err = s.repo.UpdateUser(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		s.logout(ctx, id)
	}
	return user, nil
}

func updateDetails(upd models.UserUpdate) map[string]any {
	d := map[string]any{}
	if upd.StorageQuotaBytes != nil {
		d["storage_quota_bytes"] = *upd.StorageQuotaBytes
	}
	if upd.IsAdmin != nil {
		d["is_admin"] = *upd.IsAdmin
	}
	if upd.IsActive != nil {
		d["is_active"] = *upd.IsActive
	}
	return d
}

// DisableUser soft-deletes an account: the row and its files stay, but the
// user can no longer sign in and every session is revoked.
func (s *Service) DisableUser(ctx context.Context, actor models.Actor, id int64) (revoked int64, err error) {
	defer func() {
		s.record(ctx, actor, audit.ActionUserDisable, id, err, map[string]any{"sessions_revoked": revoked})
	}()

	if id == actor.UserID {
		return 0, fmt.Errorf("%w: cannot disable your own account", apperr.ErrPermissionDenied)
	}
	inactive := false
	if _, err := s.repo.UpdateUser(ctx, id, models.UserUpdate{IsActive: &inactive}); err != nil {
		return 0, err
	}
	return s.logout(ctx, id), nil
}

func (s *Service) logout(ctx context.Context, id int64) int64 {
	n, err := s.repo.RevokeAllSessions(context.WithoutCancel(ctx), id)
	if err != nil {
		s.log.Error("failed to revoke sessions of disabled user", zap.Int64("user_id", id), zap.Error(err))
	}
	if s.desktops != nil {
		s.desktops.Reset(id)
	}
	return n
}

// ReconcileUser recomputes the storage usage of a user from disk.
func (s *Service) ReconcileUser(ctx context.Context, actor models.Actor, id int64) (*files.ReconcileResult, error) {
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %d", apperr.ErrNotFound, id)
	}
	return s.reconciler.Reconcile(ctx, actor, id)
}

func (s *Service) ListAudit(ctx context.Context, f models.AuditFilter) ([]models.AuditRecord, error) {
	return s.auditLog.List(ctx, f)
}
