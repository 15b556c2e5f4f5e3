package api

import (
	"net/http"

	"emberframe/internal/models"
)

// @Summary      Get storage usage
// @Description  Returns used bytes, quota and a per-category breakdown for the authenticated user.
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  models.StorageUsage
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /users/me/storage [get]
func (s *Server) GetStorageUsageHandler(w http.ResponseWriter, r *http.Request) {
	claims := GetUserFromContext(r.Context())

	usage, err := s.files.Usage(r.Context(), claims.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// @Summary      Get own profile
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  models.User
// @Failure      401  {object}  ErrorResponse
// @Router       /users/me [get]
func (s *Server) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.profile.Get(r.Context(), GetUserFromContext(r.Context()).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// @Summary      Update own profile
// @Description  Changes email, names, avatar URL or bio. Omitted fields stay as they are; an empty string clears a field.
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        profile  body      models.ProfileUpdate  true  "Fields to change"
// @Success      200      {object}  models.User
// @Failure      400      {object}  ErrorResponse
// @Failure      409      {object}  ErrorResponse
// @Router       /users/me [put]
func (s *Server) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ProfileUpdate
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.profile.Update(r.Context(), actor(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// @Summary      Get desktop preferences
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  models.Preferences
// @Router       /users/preferences [get]
func (s *Server) GetPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.profile.Preferences(r.Context(), GetUserFromContext(r.Context()).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// @Summary      Update desktop preferences
// @Description  Stores the theme and the client's settings object. An empty theme or a missing settings object keeps the stored value.
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        preferences  body      models.Preferences  true  "Theme and settings"
// @Success      200          {object}  models.Preferences
// @Failure      400          {object}  ErrorResponse
// @Router       /users/preferences [put]
func (s *Server) UpdatePreferencesHandler(w http.ResponseWriter, r *http.Request) {
	var req models.Preferences
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	prefs, err := s.profile.UpdatePreferences(r.Context(), actor(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}
