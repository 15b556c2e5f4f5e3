package api

import (
	"fmt"
	"net/http"
	"strconv"

	"emberframe/internal/apperr"
	"emberframe/internal/auth"
	"emberframe/internal/models"

	"github.com/go-chi/chi/v5"
)

type DisableUserResponse struct {
	UserID          int64 `json:"user_id"`
	RevokedSessions int64 `json:"revoked_sessions"`
}

func userIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid user ID", apperr.ErrInvalidArgument)
	}
	return id, nil
}

// @Summary      List users
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        limit   query     int  false  "At most 200, default 50"
// @Param        offset  query     int  false  "Users to skip"
// @Success      200     {array}   models.User
// @Failure      403     {object}  ErrorResponse
// @Router       /admin/users [get]
func (s *Server) AdminListUsersHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	users, err := s.admin.ListUsers(r.Context(), int(limit), int(offset))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// @Summary      Create a user
// @Tags         admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        newUser  body      auth.NewUserParams  true  "Account to create"
// @Success      201      {object}  models.User
// @Failure      400      {object}  ErrorResponse
// @Failure      403      {object}  ErrorResponse
// @Failure      409      {object}  ErrorResponse
// @Router       /admin/users [post]
func (s *Server) AdminCreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.NewUserParams
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.admin.CreateUser(r.Context(), actor(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// @Summary      Update a user
// @Description  Changes the quota, the admin flag or the active flag. Deactivating a user ends all their sessions.
// @Tags         admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        userId      path      int                true  "User ID"
// @Param        userUpdate  body      models.UserUpdate  true  "Fields to change"
// @Success      200         {object}  models.User
// @Failure      400         {object}  ErrorResponse
// @Failure      403         {object}  ErrorResponse
// @Failure      404         {object}  ErrorResponse
// @Router       /admin/users/{userId} [patch]
func (s *Server) AdminUpdateUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req models.UserUpdate
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.admin.UpdateUser(r.Context(), actor(r), id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// @Summary      Disable a user
// @Description  Deactivates the account and revokes all its sessions. Files are kept.
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        userId  path      int  true  "User ID"
// @Success      200     {object}  DisableUserResponse
// @Failure      403     {object}  ErrorResponse
// @Failure      404     {object}  ErrorResponse
// @Router       /admin/users/{userId} [delete]
func (s *Server) AdminDisableUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	revoked, err := s.admin.DisableUser(r.Context(), actor(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DisableUserResponse{UserID: id, RevokedSessions: revoked})
}

// @Summary      Reconcile storage
// @Description  Rebuilds the metadata and the storage counter of a user from the files on disk.
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        userId  path      int  true  "User ID"
// @Success      200     {object}  files.ReconcileResult
// @Failure      404     {object}  ErrorResponse
// @Router       /admin/users/{userId}/reconcile [post]
func (s *Server) AdminReconcileUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.admin.ReconcileUser(r.Context(), actor(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// @Summary      System statistics
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  models.SystemStats
// @Failure      403  {object}  ErrorResponse
// @Router       /admin/stats [get]
func (s *Server) AdminStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.admin.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// @Summary      Audit trail of all users
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        user_id  query     int  false  "Only records of this user"
// @Param        since    query     int  false  "Return records with a greater ID"
// @Param        limit    query     int  false  "At most 500, default 100"
// @Param        offset   query     int  false  "Records to skip"
// @Success      200      {array}   models.AuditRecord
// @Failure      403      {object}  ErrorResponse
// @Router       /admin/audit [get]
func (s *Server) AdminAuditHandler(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	uid, err := queryInt(r, "user_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if uid > 0 {
		f.UserID = &uid
	}

	records, err := s.admin.ListAudit(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
