package api

import (
	"net/http"

	"emberframe/internal/desktop"

	"github.com/go-chi/chi/v5"
)

type OpenWindowRequest struct {
	AppID string `json:"app_id" example:"file-manager"`
}

type OpenWindowResponse struct {
	Window  desktop.Window   `json:"window"`
	Desktop desktop.Snapshot `json:"desktop"`
}

// @Summary      Get the desktop
// @Description  Returns the open windows, the taskbar and the focused window of the current user.
// @Tags         desktop
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  desktop.Snapshot
// @Router       /desktop [get]
func (s *Server) GetDesktopHandler(w http.ResponseWriter, r *http.Request) {
	claims := GetUserFromContext(r.Context())

	snap, err := s.desktop.Snapshot(claims.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// @Summary      List applications
// @Tags         desktop
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}  desktop.AppInfo
// @Router       /desktop/apps [get]
func (s *Server) ListAppsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.desktop.Apps())
}

// @Summary      Open a window
// @Description  Launches an application in a new focused window. Singleton applications focus their existing window instead.
// @Tags         desktop
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        openWindowRequest  body      OpenWindowRequest  true  "Application to launch"
// @Success      201                {object}  OpenWindowResponse
// @Failure      400                {object}  ErrorResponse
// @Router       /desktop/windows [post]
func (s *Server) OpenWindowHandler(w http.ResponseWriter, r *http.Request) {
	claims := GetUserFromContext(r.Context())

	var req OpenWindowRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	win, err := s.desktop.Open(claims.UserID, req.AppID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.desktop.Snapshot(claims.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, OpenWindowResponse{Window: win, Desktop: snap})
}

// @Summary      Act on a window
// @Description  Focuses, minimizes, maximizes, restores or closes a window.
// @Tags         desktop
// @Produce      json
// @Security     BearerAuth
// @Param        windowId  path      string  true  "Window ID"
// @Param        action    path      string  true  "Action"  Enums(focus, minimize, maximize, restore, close)
// @Success      200       {object}  desktop.Snapshot
// @Failure      400       {object}  ErrorResponse
// @Failure      404       {object}  ErrorResponse
// @Router       /desktop/windows/{windowId}/{action} [post]
func (s *Server) WindowActionHandler(w http.ResponseWriter, r *http.Request) {
	claims := GetUserFromContext(r.Context())

	snap, err := s.desktop.Apply(claims.UserID, chi.URLParam(r, "windowId"), chi.URLParam(r, "action"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
