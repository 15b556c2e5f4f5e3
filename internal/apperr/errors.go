// Package apperr holds the error taxonomy shared by the services and the API layer.
// Services wrap these sentinels with fmt.Errorf("%w: ...") and callers classify
// them with errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrPathTraversal      = errors.New("path escapes the user root")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrQuotaExceeded      = errors.New("storage quota exceeded")
	ErrInvalidFile        = errors.New("invalid file")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrRateLimited        = errors.New("too many attempts")
	ErrExpiredToken       = errors.New("token expired")
	ErrInvalidToken       = errors.New("invalid token")
)

// RateLimitedError carries the time left until the caller may retry.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s, retry in %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// Kind returns the wire name of the error's category, or "internal" for
// anything outside the taxonomy.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPathTraversal):
		return "path_traversal"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrInvalidFile):
		return "invalid_file"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrExpiredToken):
		return "expired_token"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	default:
		return "internal"
	}
}

// IsInternal reports whether err falls outside the taxonomy. Messages of
// internal errors must not reach clients.
func IsInternal(err error) bool {
	return err != nil && Kind(err) == "internal"
}
