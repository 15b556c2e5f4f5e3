package api

import (
	"fmt"
	"net/http"
	"strconv"

	"emberframe/internal/apperr"
	"emberframe/internal/models"
)

func queryInt(r *http.Request, key string) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", apperr.ErrInvalidArgument, key)
	}
	return n, nil
}

// auditFilter reads since, limit and offset from the query string.
func auditFilter(r *http.Request) (models.AuditFilter, error) {
	var f models.AuditFilter
	since, err := queryInt(r, "since")
	if err != nil {
		return f, err
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return f, err
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		return f, err
	}
	f.SinceID = since
	f.Limit = int(limit)
	f.Offset = int(offset)
	return f, nil
}

// @Summary      Get my audit trail
// @Description  Lists audit records of the current user, newest first. With since, returns records after that ID in ascending order, for client-side synchronization.
// @Tags         audit
// @Produce      json
// @Security     BearerAuth
// @Param        since   query     int  false  "Return records with a greater ID"
// @Param        limit   query     int  false  "At most 500, default 100"
// @Param        offset  query     int  false  "Records to skip"
// @Success      200     {array}   models.AuditRecord
// @Failure      400     {object}  ErrorResponse
// @Failure      401     {object}  ErrorResponse
// @Router       /audit [get]
func (s *Server) GetAuditHandler(w http.ResponseWriter, r *http.Request) {
	claims := GetUserFromContext(r.Context())

	f, err := auditFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f.UserID = &claims.UserID

	records, err := s.audit.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
