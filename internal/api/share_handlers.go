package api

import (
	"fmt"
	"net/http"
	"strconv"

	"emberframe/internal/apperr"
	"emberframe/internal/models"
	"emberframe/internal/sharing"

	"github.com/go-chi/chi/v5"
)

// SharePasswordHeader carries the password of a protected link share.
const SharePasswordHeader = "X-Share-Password"

func shareIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "shareId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid share ID", apperr.ErrInvalidArgument)
	}
	return id, nil
}

func sharePassword(r *http.Request) string {
	if p := r.Header.Get(SharePasswordHeader); p != "" {
		return p
	}
	return r.URL.Query().Get("password")
}

// @Summary      Share a file or folder
// @Description  Shares a path read-only with another user, or creates a public link when public is true. Links may carry a password and an expiry.
// @Tags         shares
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        share  body      sharing.CreateParams  true  "What to share and with whom"
// @Success      201    {object}  models.Share
// @Failure      400    {object}  ErrorResponse
// @Failure      404    {object}  ErrorResponse
// @Failure      409    {object}  ErrorResponse
// @Router       /shares [post]
func (s *Server) CreateShareHandler(w http.ResponseWriter, r *http.Request) {
	var req sharing.CreateParams
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	share, err := s.sharing.Create(r.Context(), actor(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, share)
}

// @Summary      List own shares
// @Tags         shares
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}  models.Share
// @Router       /shares [get]
func (s *Server) ListSharesHandler(w http.ResponseWriter, r *http.Request) {
	shares, err := s.sharing.Outgoing(r.Context(), GetUserFromContext(r.Context()).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shares)
}

// @Summary      List shares received
// @Tags         shares
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}  models.Share
// @Router       /shares/incoming [get]
func (s *Server) ListIncomingSharesHandler(w http.ResponseWriter, r *http.Request) {
	shares, err := s.sharing.Incoming(r.Context(), GetUserFromContext(r.Context()).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shares)
}

// @Summary      Delete a share
// @Tags         shares
// @Security     BearerAuth
// @Param        shareId  path  int  true  "Share ID"
// @Success      204      {null}    nil  "No Content"
// @Failure      404      {object}  ErrorResponse
// @Router       /shares/{shareId} [delete]
func (s *Server) DeleteShareHandler(w http.ResponseWriter, r *http.Request) {
	id, err := shareIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.sharing.Delete(r.Context(), actor(r), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary      Browse a received share
// @Tags         shares
// @Produce      json
// @Security     BearerAuth
// @Param        shareId  path      int     true   "Share ID"
// @Param        path     query     string  false  "Folder inside the share"
// @Success      200      {object}  ListFilesResponse
// @Failure      403      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Router       /shares/{shareId}/files [get]
func (s *Server) BrowseShareHandler(w http.ResponseWriter, r *http.Request) {
	id, err := shareIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	entries, err := s.sharing.Browse(r.Context(), actor(r), id, q.Get("path"), q.Get("sort"), q.Get("order"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListFilesResponse{Path: "/" + q.Get("path"), Entries: entries})
}

// @Summary      Download from a received share
// @Tags         shares
// @Produce      octet-stream
// @Security     BearerAuth
// @Param        shareId  path      int     true  "Share ID"
// @Param        path     path      string  true  "File inside the share"
// @Success      200      {file}    file
// @Failure      404      {object}  ErrorResponse
// @Router       /shares/{shareId}/download/{path} [get]
func (s *Server) DownloadShareHandler(w http.ResponseWriter, r *http.Request) {
	id, err := shareIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, entry, err := s.sharing.Download(r.Context(), actor(r), id, wildcardPath(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	serveFile(w, r, f, entry)
}

// PublicShareResponse describes a link share and its top-level entries.
type PublicShareResponse struct {
	Share   *models.Share      `json:"share"`
	Entries []models.FileEntry `json:"entries"`
}

// @Summary      Open a public link
// @Description  Returns the share and the entries at its root. Protected links need the password in the X-Share-Password header or the password query parameter.
// @Tags         shares
// @Produce      json
// @Param        token     path      string  true   "Link token"
// @Param        password  query     string  false  "Link password"
// @Success      200       {object}  PublicShareResponse
// @Failure      403       {object}  ErrorResponse
// @Failure      404       {object}  ErrorResponse
// @Router       /public/shares/{token} [get]
func (s *Server) PublicShareHandler(w http.ResponseWriter, r *http.Request) {
	token, password := chi.URLParam(r, "token"), sharePassword(r)

	share, err := s.sharing.Public(r.Context(), token, password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.sharing.BrowsePublic(r.Context(), token, password, r.URL.Query().Get("path"), "", "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PublicShareResponse{Share: share, Entries: entries})
}

// @Summary      Download from a public link
// @Tags         shares
// @Produce      octet-stream
// @Param        token     path      string  true   "Link token"
// @Param        path      path      string  false  "File inside the share; empty for a file share"
// @Param        password  query     string  false  "Link password"
// @Success      200       {file}    file
// @Failure      403       {object}  ErrorResponse
// @Failure      404       {object}  ErrorResponse
// @Router       /public/shares/{token}/download/{path} [get]
func (s *Server) PublicShareDownloadHandler(w http.ResponseWriter, r *http.Request) {
	f, entry, err := s.sharing.DownloadPublic(r.Context(), actor(r), chi.URLParam(r, "token"), sharePassword(r), wildcardPath(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	serveFile(w, r, f, entry)
}
