// Package sharing grants other users, or anyone holding a link, read access
// to a file or folder of a user's tree.
package sharing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"emberframe/internal/apperr"
	"emberframe/internal/audit"
	"emberframe/internal/auth"
	"emberframe/internal/models"
	"emberframe/internal/storage"

	"github.com/jaevor/go-nanoid"
	"go.uber.org/zap"
)

// EventShareReceived is pushed to the recipient of a new user share.
const EventShareReceived = "share_received"

const (
	tokenLength      = 32
	maxPasswordBytes = 72
)

var (
	ErrShareNotFound   = fmt.Errorf("%w: share", apperr.ErrNotFound)
	ErrPasswordNeeded  = fmt.Errorf("%w: share password required", apperr.ErrPermissionDenied)
	ErrPasswordInvalid = fmt.Errorf("%w: wrong share password", apperr.ErrPermissionDenied)
)

type Repository interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateShare(ctx context.Context, arg models.NewShare) (*models.Share, error)
	GetShare(ctx context.Context, id int64) (*models.Share, error)
	GetShareByToken(ctx context.Context, token string) (*models.Share, error)
	ListOutgoingShares(ctx context.Context, ownerID int64) ([]models.Share, error)
	ListIncomingShares(ctx context.Context, recipientID int64) ([]models.Share, error)
	DeleteShare(ctx context.Context, id, ownerID int64) error
	TouchShare(ctx context.Context, id int64) error
}

// Tree is the part of the file service a share reads through.
type Tree interface {
	Stat(ctx context.Context, actor models.Actor, logical string) (*models.FileEntry, error)
	List(ctx context.Context, actor models.Actor, logical, sortBy, order string) ([]models.FileEntry, error)
	Open(ctx context.Context, actor models.Actor, logical string) (io.ReadSeekCloser, *models.FileEntry, error)
}

type Notifier interface {
	Publish(userID int64, eventType string, payload interface{})
}

type Config struct {
	Repo   Repository
	Files  Tree
	Audit  audit.Sink
	Events Notifier
	Logger *zap.Logger
}

type Service struct {
	repo   Repository
	files  Tree
	audit  audit.Sink
	events Notifier
	log    *zap.Logger

	newToken func() string
	now      func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Repo == nil || cfg.Files == nil {
		return nil, errors.New("sharing: repository and file tree are required")
	}
	generateToken, err := nanoid.Standard(tokenLength)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize nanoid generator: %w", err)
	}
	s := &Service{
		repo:     cfg.Repo,
		files:    cfg.Files,
		audit:    cfg.Audit,
		events:   cfg.Events,
		log:      cfg.Logger,
		newToken: generateToken,
		now:      time.Now,
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s, nil
}

// CreateParams describes a new share. Exactly one of Recipient or Public
// must be set; Password and ExpiresAt only apply to public links.
type CreateParams struct {
	Path      string     `json:"path"`
	Recipient string     `json:"recipient,omitempty"`
	Public    bool       `json:"public"`
	Password  string     `json:"password,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *Service) record(ctx context.Context, actor models.Actor, action, target string, err error, details map[string]any) {
	e := audit.Entry{Actor: actor, Action: action, Target: target, Outcome: models.OutcomeSuccess, Details: details}
	if err != nil {
		e.Outcome = models.OutcomeFailure
		e.Message = err.Error()
		if apperr.IsInternal(err) {
			e.Message = "internal error"
		}
	}
	s.audit.Record(ctx, e)
}

func (s *Service) Create(ctx context.Context, actor models.Actor, p CreateParams) (share *models.Share, err error) {
	target := p.Path
	details := map[string]any{"public": p.Public}
	defer func() {
		if share != nil {
			details["share_id"] = share.ID
		}
		s.record(ctx, actor, audit.ActionShareCreated, target, err, details)
	}()

	clean, err := storage.Clean(p.Path)
	if err != nil {
		return nil, err
	}
	target = "/" + clean
	if clean == "" {
		return nil, fmt.Errorf("%w: cannot share the root folder", apperr.ErrPermissionDenied)
	}
	if _, err := s.files.Stat(ctx, actor, clean); err != nil {
		return nil, err
	}

	arg := models.NewShare{OwnerID: actor.UserID, Path: clean}
	recipient := strings.TrimSpace(p.Recipient)
	switch {
	case p.Public && recipient != "":
		return nil, fmt.Errorf("%w: a share is either public or for one user", apperr.ErrInvalidArgument)
	case p.Public:
		if p.ExpiresAt != nil && !p.ExpiresAt.After(s.now()) {
			return nil, fmt.Errorf("%w: expires_at is in the past", apperr.ErrInvalidArgument)
		}
		token := s.newToken()
		arg.Token = &token
		arg.ExpiresAt = p.ExpiresAt
		if len(p.Password) > maxPasswordBytes {
			return nil, fmt.Errorf("%w: password must be at most %d bytes", apperr.ErrInvalidArgument, maxPasswordBytes)
		}
		if p.Password != "" {
			hash, err := auth.HashPassword(p.Password)
			if err != nil {
				return nil, err
			}
			arg.PasswordHash = &hash
		}
	case recipient != "":
		if p.Password != "" || p.ExpiresAt != nil {
			return nil, fmt.Errorf("%w: password and expiry only apply to public links", apperr.ErrInvalidArgument)
		}
		user, err := s.repo.GetUserByUsername(ctx, recipient)
		if err != nil {
			return nil, err
		}
		if user == nil || !user.IsActive {
			return nil, fmt.Errorf("%w: user %s", apperr.ErrNotFound, recipient)
		}
		if user.ID == actor.UserID {
			return nil, fmt.Errorf("%w: cannot share with yourself", apperr.ErrInvalidArgument)
		}
		arg.RecipientID = &user.ID
		details["recipient"] = user.Username
	default:
		return nil, fmt.Errorf("%w: recipient or public is required", apperr.ErrInvalidArgument)
	}

	share, err = s.repo.CreateShare(ctx, arg)
	if err != nil {
		return nil, err
	}
	if share.RecipientID != nil && s.events != nil {
		s.events.Publish(*share.RecipientID, EventShareReceived, share)
	}
	return share, nil
}

func (s *Service) Outgoing(ctx context.Context, ownerID int64) ([]models.Share, error) {
	return s.repo.ListOutgoingShares(ctx, ownerID)
}

func (s *Service) Incoming(ctx context.Context, recipientID int64) ([]models.Share, error) {
	shares, err := s.repo.ListIncomingShares(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	for i := range shares {
		shares[i].Token = nil
	}
	return shares, nil
}

func (s *Service) Delete(ctx context.Context, actor models.Actor, id int64) (err error) {
	defer func() {
		s.record(ctx, actor, audit.ActionShareDeleted, strconv.FormatInt(id, 10), err, nil)
	}()
	if err := s.repo.DeleteShare(ctx, id, actor.UserID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return ErrShareNotFound
		}
		return err
	}
	return nil
}

// Browse lists a folder inside a share received by actor. sub is relative
// to the shared path.
func (s *Service) Browse(ctx context.Context, actor models.Actor, id int64, sub, sortBy, order string) ([]models.FileEntry, error) {
	share, err := s.received(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, share, sub, sortBy, order)
}

// Download opens a file inside a share received by actor.
func (s *Service) Download(ctx context.Context, actor models.Actor, id int64, sub string) (io.ReadSeekCloser, *models.FileEntry, error) {
	share, err := s.received(ctx, actor, id)
	if err != nil {
		return nil, nil, err
	}
	return s.open(ctx, actor, share, sub)
}

// Public returns a link share after checking expiry and password, and
// counts the access.
func (s *Service) Public(ctx context.Context, token, password string) (*models.Share, error) {
	share, err := s.byToken(ctx, token, password)
	if err != nil {
		return nil, err
	}
	if err := s.repo.TouchShare(ctx, share.ID); err != nil {
		s.log.Error("failed to count share access", zap.Int64("share_id", share.ID), zap.Error(err))
	}
	share.AccessCount++
	return share, nil
}

func (s *Service) BrowsePublic(ctx context.Context, token, password, sub, sortBy, order string) ([]models.FileEntry, error) {
	share, err := s.byToken(ctx, token, password)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, share, sub, sortBy, order)
}

func (s *Service) DownloadPublic(ctx context.Context, actor models.Actor, token, password, sub string) (io.ReadSeekCloser, *models.FileEntry, error) {
	share, err := s.byToken(ctx, token, password)
	if err != nil {
		return nil, nil, err
	}
	return s.open(ctx, actor, share, sub)
}

// received returns share id when actor is its recipient. Shares of other
// users look missing.
func (s *Service) received(ctx context.Context, actor models.Actor, id int64) (*models.Share, error) {
	share, err := s.repo.GetShare(ctx, id)
	if err != nil {
		return nil, err
	}
	if share == nil || !share.OwnerActive || share.RecipientID == nil || *share.RecipientID != actor.UserID {
		return nil, ErrShareNotFound
	}
	return share, nil
}

func (s *Service) byToken(ctx context.Context, token, password string) (*models.Share, error) {
	if token == "" {
		return nil, ErrShareNotFound
	}
	share, err := s.repo.GetShareByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if share == nil || !share.OwnerActive || share.Expired(s.now()) {
		return nil, ErrShareNotFound
	}
	if share.PasswordHash != nil {
		if password == "" {
			return nil, ErrPasswordNeeded
		}
		if !auth.CheckPasswordHash(password, *share.PasswordHash) {
			return nil, ErrPasswordInvalid
		}
	}
	share.Token = nil
	return share, nil
}

// within maps sub onto the owner's tree below the shared path.
func within(share *models.Share, sub string) (string, error) {
	clean, err := storage.Clean(sub)
	if err != nil {
		return "", err
	}
	if clean == "" {
		return share.Path, nil
	}
	return share.Path + "/" + clean, nil
}

func owner(share *models.Share) models.Actor {
	return models.Actor{UserID: share.OwnerID, Username: share.OwnerUsername}
}

func (s *Service) list(ctx context.Context, share *models.Share, sub, sortBy, order string) ([]models.FileEntry, error) {
	logical, err := within(share, sub)
	if err != nil {
		return nil, err
	}
	entry, err := s.files.Stat(ctx, owner(share), logical)
	if err != nil {
		return nil, err
	}
	if !entry.IsFolder() {
		if logical != share.Path {
			return nil, fmt.Errorf("%w: %s is not a folder", apperr.ErrNotFound, sub)
		}
		entry.Path = ""
		return []models.FileEntry{*entry}, nil
	}

	entries, err := s.files.List(ctx, owner(share), logical, sortBy, order)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Path = relative(share.Path, entries[i].Path)
	}
	return entries, nil
}

func (s *Service) open(ctx context.Context, actor models.Actor, share *models.Share, sub string) (io.ReadSeekCloser, *models.FileEntry, error) {
	logical, err := within(share, sub)
	if err != nil {
		return nil, nil, err
	}
	f, entry, err := s.files.Open(ctx, owner(share), logical)
	if err != nil {
		return nil, nil, err
	}
	entry.Path = relative(share.Path, entry.Path)
	s.record(ctx, actor, audit.ActionShareAccessed, strconv.FormatInt(share.ID, 10), nil, map[string]any{
		"owner_id": share.OwnerID,
		"path":     "/" + logical,
	})
	return f, entry, nil
}

// relative strips the shared path from an owner path.
func relative(root, logical string) string {
	if logical == root {
		return ""
	}
	return strings.TrimPrefix(logical, root+"/")
}
