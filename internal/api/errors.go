package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"emberframe/internal/apperr"
	"emberframe/internal/logger"

	"go.uber.org/zap"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error" example:"not_found"`
	Message string `json:"message" example:"not found: /docs/report.pdf"`
}

func statusFor(err error) int {
	switch apperr.Kind(err) {
	case "path_traversal", "permission_denied":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "already_exists":
		return http.StatusConflict
	case "quota_exceeded":
		return http.StatusRequestEntityTooLarge
	case "invalid_file", "invalid_argument":
		return http.StatusBadRequest
	case "invalid_credentials", "expired_token", "invalid_token":
		return http.StatusUnauthorized
	case "rate_limited":
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps err onto the error taxonomy. Errors outside it are logged
// and answered with a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: apperr.Kind(err), Message: err.Error()}

	if status == http.StatusInternalServerError {
		s.requestLog(r).Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		resp.Message = "internal server error"
	}

	var rl *apperr.RateLimitedError
	if errors.As(err, &rl) {
		secs := int(math.Ceil(rl.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	writeJSON(w, status, resp)
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	s.writeError(w, r, fmt.Errorf("%w: "+format, append([]interface{}{apperr.ErrInvalidArgument}, args...)...))
}

// decodeJSON reads a JSON body of at most 1MB into v.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", apperr.ErrInvalidArgument)
	}
	return nil
}

func (s *Server) requestLog(r *http.Request) *zap.Logger {
	return logger.FromContext(r.Context(), s.log)
}
