package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"emberframe/internal/apperr"
	"emberframe/internal/audit"
	"emberframe/internal/models"
	"emberframe/internal/ratelimit"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jaevor/go-nanoid"
	"go.uber.org/zap"
)

// Repository is the persistence the auth service needs. *database.Store
// satisfies it.
type Repository interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	CreateUser(ctx context.Context, arg models.NewUser) (*models.User, error)
	UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error
	TouchLastLogin(ctx context.Context, id int64) error

	CreateSession(ctx context.Context, arg models.Session) (*models.Session, error)
	ValidateSession(ctx context.Context, sessionID uuid.UUID, userID int64) (bool, error)
	RotateSession(ctx context.Context, oldToken, newToken string, expiresAt time.Time) (*models.Session, *models.User, error)
	RevokeSession(ctx context.Context, sessionID uuid.UUID, userID int64) (bool, error)
	RevokeAllSessions(ctx context.Context, userID int64) (int64, error)
	ListSessions(ctx context.Context, userID int64) ([]models.Session, error)
}

type Options struct {
	Secret            string
	TokenTTL          time.Duration
	RefreshTTL        time.Duration
	DefaultQuota      int64
	AllowRegistration bool
}

type TokenPair struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type" example:"bearer"`
	ExpiresAt    time.Time    `json:"expires_at"`
	User         *models.User `json:"user"`
}

// NewUserParams is the input for creating an account. Quota 0 means the
// configured default.
type NewUserParams struct {
	Username   string  `json:"username"`
	Password   string  `json:"password"`
	Email      *string `json:"email,omitempty"`
	IsAdmin    bool    `json:"is_admin"`
	QuotaBytes int64   `json:"storage_quota_bytes,omitempty"`
}

type Service struct {
	repo    Repository
	limiter ratelimit.Limiter
	audit   audit.Sink
	opts    Options
	log     *zap.Logger

	newRefreshToken func() string
	dummyHash       string
}

func NewService(repo Repository, limiter ratelimit.Limiter, sink audit.Sink, opts Options, log *zap.Logger) (*Service, error) {
	generateID, err := nanoid.Standard(40)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize nanoid generator: %w", err)
	}
	dummy, err := HashPassword(generateID())
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:            repo,
		limiter:         limiter,
		audit:           sink,
		opts:            opts,
		log:             log,
		newRefreshToken: generateID,
		dummyHash:       dummy,
	}, nil
}

// Authenticate checks a username and password and opens a session. Attempts
// are limited per client address; the limit applies whether or not the user
// exists.
func (s *Service) Authenticate(ctx context.Context, username, password string, src models.Actor) (*TokenPair, error) {
	if s.limiter != nil {
		if ok, wait := s.limiter.Allow(ctx, "login:"+src.ClientIP); !ok {
			s.audit.Record(ctx, audit.Entry{
				Actor:   src,
				Action:  audit.ActionLoginFailed,
				Target:  username,
				Outcome: models.OutcomeFailure,
				Message: "rate limited",
			})
			return nil, &apperr.RateLimitedError{RetryAfter: wait}
		}
	}

	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	if user == nil {
		CheckPasswordHash(password, s.dummyHash)
		return nil, s.loginFailed(ctx, src, username, "unknown user")
	}
	if !CheckPasswordHash(password, user.PasswordHash) {
		src.UserID = user.ID
		return nil, s.loginFailed(ctx, src, username, "wrong password")
	}
	if !user.IsActive {
		src.UserID = user.ID
		return nil, s.loginFailed(ctx, src, username, "account disabled")
	}

	pair, err := s.openSession(ctx, user, src)
	if err != nil {
		return nil, err
	}

	if err := s.repo.TouchLastLogin(ctx, user.ID); err != nil {
		s.log.Warn("failed to update last login", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	src.UserID = user.ID
	src.Username = user.Username
	s.audit.Record(ctx, audit.Entry{
		Actor:  src,
		Action: audit.ActionLoginSuccess,
		Target: strconv.FormatInt(user.ID, 10),
	})

	return pair, nil
}

func (s *Service) loginFailed(ctx context.Context, src models.Actor, username, reason string) error {
	s.audit.Record(ctx, audit.Entry{
		Actor:   src,
		Action:  audit.ActionLoginFailed,
		Target:  username,
		Outcome: models.OutcomeFailure,
		Message: reason,
	})
	return apperr.ErrInvalidCredentials
}

func (s *Service) openSession(ctx context.Context, user *models.User, src models.Actor) (*TokenPair, error) {
	sessionID := uuid.New()
	refreshToken := s.newRefreshToken()

	_, err := s.repo.CreateSession(ctx, models.Session{
		ID:           sessionID,
		UserID:       user.ID,
		RefreshToken: refreshToken,
		UserAgent:    src.UserAgent,
		ClientIP:     src.ClientIP,
		ExpiresAt:    time.Now().Add(s.opts.RefreshTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return s.issue(user, sessionID, refreshToken)
}

func (s *Service) issue(user *models.User, sessionID uuid.UUID, refreshToken string) (*TokenPair, error) {
	accessToken, expiresAt, err := GenerateJWT(user, sessionID, s.opts.Secret, s.opts.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresAt:    expiresAt,
		User:         user,
	}, nil
}

// Validate verifies an access token and checks that its session is still
// live and its user still active.
func (s *Service) Validate(ctx context.Context, token string) (*AppClaims, error) {
	if token == "" {
		return nil, apperr.ErrInvalidToken
	}

	claims, err := VerifyJWT(token, s.opts.Secret)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.ErrExpiredToken
		}
		return nil, apperr.ErrInvalidToken
	}

	sessionID, err := claims.SessionID()
	if err != nil {
		return nil, apperr.ErrInvalidToken
	}

	ok, err := s.repo.ValidateSession(ctx, sessionID, claims.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: session revoked or expired", apperr.ErrInvalidToken)
	}

	return claims, nil
}

// Refresh exchanges a refresh token for a new token pair. The old refresh
// token stops working.
func (s *Service) Refresh(ctx context.Context, refreshToken string, src models.Actor) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, apperr.ErrInvalidToken
	}

	newToken := s.newRefreshToken()
	session, user, err := s.repo.RotateSession(ctx, refreshToken, newToken, time.Now().Add(s.opts.RefreshTTL))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid or expired refresh token", apperr.ErrInvalidToken)
		}
		return nil, err
	}

	pair, err := s.issue(user, session.ID, newToken)
	if err != nil {
		return nil, err
	}

	src.UserID = user.ID
	src.Username = user.Username
	s.audit.Record(ctx, audit.Entry{
		Actor:  src,
		Action: audit.ActionTokenRefreshed,
		Target: session.ID.String(),
	})
	return pair, nil
}

func (s *Service) Logout(ctx context.Context, claims *AppClaims, src models.Actor) error {
	sessionID, err := claims.SessionID()
	if err != nil {
		return apperr.ErrInvalidToken
	}
	if _, err := s.repo.RevokeSession(ctx, sessionID, claims.UserID); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Entry{
		Actor:  src,
		Action: audit.ActionLogout,
		Target: sessionID.String(),
	})
	return nil
}

// CreateUser validates and stores a new account. It does not audit; callers
// record the action under their own name.
func (s *Service) CreateUser(ctx context.Context, p NewUserParams) (*models.User, error) {
	p.Username = strings.TrimSpace(p.Username)
	if err := ValidateUsername(p.Username); err != nil {
		return nil, err
	}
	if err := ValidatePassword(p.Password); err != nil {
		return nil, err
	}
	if p.Email != nil {
		e := strings.TrimSpace(*p.Email)
		if e == "" {
			p.Email = nil
		} else if !strings.Contains(e, "@") {
			return nil, fmt.Errorf("%w: invalid email address", apperr.ErrInvalidArgument)
		} else {
			p.Email = &e
		}
	}
	if p.QuotaBytes < 0 {
		return nil, fmt.Errorf("%w: quota must not be negative", apperr.ErrInvalidArgument)
	}
	if p.QuotaBytes == 0 {
		p.QuotaBytes = s.opts.DefaultQuota
	}

	hash, err := HashPassword(p.Password)
	if err != nil {
		return nil, err
	}

	return s.repo.CreateUser(ctx, models.NewUser{
		Username:          p.Username,
		Email:             p.Email,
		PasswordHash:      hash,
		IsAdmin:           p.IsAdmin,
		StorageQuotaBytes: p.QuotaBytes,
	})
}

// Register is self-service sign-up. New accounts are never admins.
func (s *Service) Register(ctx context.Context, p NewUserParams, src models.Actor) (*models.User, error) {
	if !s.opts.AllowRegistration {
		return nil, fmt.Errorf("%w: registration is disabled", apperr.ErrPermissionDenied)
	}
	p.IsAdmin = false
	p.QuotaBytes = 0

	user, err := s.CreateUser(ctx, p)
	if err != nil {
		return nil, err
	}

	src.UserID = user.ID
	src.Username = user.Username
	s.audit.Record(ctx, audit.Entry{
		Actor:  src,
		Action: audit.ActionUserRegister,
		Target: strconv.FormatInt(user.ID, 10),
	})
	return user, nil
}

// EnsureAdmin creates the bootstrap administrator if no user with that name
// exists yet.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string, email *string) (*models.User, bool, error) {
	existing, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if !existing.IsAdmin {
			s.log.Warn("bootstrap admin name is taken by a regular user", zap.String("username", username))
		}
		return existing, false, nil
	}

	user, err := s.CreateUser(ctx, NewUserParams{
		Username: username,
		Password: password,
		Email:    email,
		IsAdmin:  true,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create admin %q: %w", username, err)
	}

	s.audit.Record(ctx, audit.Entry{
		Actor:   models.Actor{UserID: user.ID, Username: user.Username},
		Action:  audit.ActionSystemInit,
		Target:  strconv.FormatInt(user.ID, 10),
		Message: "administrator account created",
	})
	return user, true, nil
}

func (s *Service) ChangePassword(ctx context.Context, src models.Actor, current, next string) error {
	user, err := s.repo.GetUserByID(ctx, src.UserID)
	if err != nil {
		return err
	}
	if user == nil {
		return apperr.ErrNotFound
	}
	if !CheckPasswordHash(current, user.PasswordHash) {
		s.audit.Record(ctx, audit.Entry{
			Actor:   src,
			Action:  audit.ActionPasswordChanged,
			Target:  strconv.FormatInt(user.ID, 10),
			Outcome: models.OutcomeFailure,
			Message: "current password mismatch",
		})
		return apperr.ErrInvalidCredentials
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}

	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateUserPassword(ctx, user.ID, hash); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Entry{
		Actor:  src,
		Action: audit.ActionPasswordChanged,
		Target: strconv.FormatInt(user.ID, 10),
	})
	return nil
}

func (s *Service) ListSessions(ctx context.Context, userID int64) ([]models.Session, error) {
	return s.repo.ListSessions(ctx, userID)
}

func (s *Service) RevokeSession(ctx context.Context, src models.Actor, sessionID uuid.UUID) error {
	ok, err := s.repo.RevokeSession(ctx, sessionID, src.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: session", apperr.ErrNotFound)
	}

	s.audit.Record(ctx, audit.Entry{
		Actor:   src,
		Action:  audit.ActionSessionRevoked,
		Target:  sessionID.String(),
		Message: "session revoked by user",
	})
	return nil
}

func (s *Service) RevokeAll(ctx context.Context, src models.Actor) (int64, error) {
	n, err := s.repo.RevokeAllSessions(ctx, src.UserID)
	if err != nil {
		return 0, err
	}

	s.audit.Record(ctx, audit.Entry{
		Actor:   src,
		Action:  audit.ActionAllSessionsRevoked,
		Target:  strconv.FormatInt(src.UserID, 10),
		Message: fmt.Sprintf("all sessions revoked (%d sessions)", n),
	})
	return n, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user", apperr.ErrNotFound)
	}
	return user, nil
}
