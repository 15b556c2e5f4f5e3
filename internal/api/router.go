package api

import (
	"net/http"
	"time"

	"emberframe/internal/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Routes builds the HTTP handler of the whole API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RealIPFromTrustedProxies(s.proxies))
	r.Use(logger.Middleware(s.log))
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", SharePasswordHeader, logger.CorrelationIDHeader},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After", logger.CorrelationIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	r.Get("/ws", s.ServeWsHandler)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("EmberFrame is running. API documentation at /swagger/index.html"))
	})
	r.Get("/health", s.HealthCheckHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.requestTimeout()))
			r.Post("/auth/login", s.LoginHandler)
			r.Post("/auth/refresh", s.RefreshTokenHandler)
			r.Post("/auth/register", s.RegisterHandler)

			r.Get("/public/shares/{token}", s.PublicShareHandler)
			r.Get("/public/shares/{token}/download/*", s.PublicShareDownloadHandler)
		})

		// Uploads get their own, longer budget.
		r.With(s.AuthMiddleware, middleware.Timeout(s.uploadTimeout())).
			Post("/files/upload", s.UploadFilesHandler)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.requestTimeout()))
			r.Use(s.AuthMiddleware)

			r.Get("/auth/me", s.GetCurrentUserHandler)
			r.Post("/auth/logout", s.LogoutHandler)
			r.Post("/auth/password", s.ChangePasswordHandler)

			r.Get("/sessions", s.ListSessionsHandler)
			r.Delete("/sessions/{sessionId}", s.DeleteSessionHandler)
			r.Post("/sessions/terminate_all", s.TerminateAllSessionsHandler)

			r.Get("/users/me", s.GetProfileHandler)
			r.Put("/users/me", s.UpdateProfileHandler)
			r.Get("/users/me/storage", s.GetStorageUsageHandler)
			r.Get("/users/preferences", s.GetPreferencesHandler)
			r.Put("/users/preferences", s.UpdatePreferencesHandler)

			r.Get("/files/", s.ListFilesHandler)
			r.Get("/files", s.ListFilesHandler)
			r.Post("/files/folder", s.CreateFolderHandler)
			r.Post("/files/rename", s.RenameHandler)
			r.Post("/files/paste", s.PasteHandler)
			r.Get("/files/search", s.SearchFilesHandler)
			r.Get("/files/download/*", s.DownloadFileHandler)
			r.Get("/files/thumbnail/*", s.ThumbnailHandler)
			r.Delete("/files/*", s.DeleteFileHandler)

			r.Post("/shares", s.CreateShareHandler)
			r.Get("/shares", s.ListSharesHandler)
			r.Get("/shares/incoming", s.ListIncomingSharesHandler)
			r.Delete("/shares/{shareId}", s.DeleteShareHandler)
			r.Get("/shares/{shareId}/files", s.BrowseShareHandler)
			r.Get("/shares/{shareId}/download/*", s.DownloadShareHandler)

			r.Get("/audit", s.GetAuditHandler)

			r.Get("/desktop", s.GetDesktopHandler)
			r.Get("/desktop/apps", s.ListAppsHandler)
			r.Post("/desktop/windows", s.OpenWindowHandler)
			r.Post("/desktop/windows/{windowId}/{action}", s.WindowActionHandler)

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.AdminOnly)
				r.Get("/users", s.AdminListUsersHandler)
				r.Post("/users", s.AdminCreateUserHandler)
				r.Patch("/users/{userId}", s.AdminUpdateUserHandler)
				r.Delete("/users/{userId}", s.AdminDisableUserHandler)
				r.Post("/users/{userId}/reconcile", s.AdminReconcileUserHandler)
				r.Get("/stats", s.AdminStatsHandler)
				r.Get("/audit", s.AdminAuditHandler)
			})
		})
	})

	return r
}

func (s *Server) requestTimeout() time.Duration {
	if t := s.config.Server.RequestTimeout; t > 0 {
		return t
	}
	return 10 * time.Minute
}

func (s *Server) uploadTimeout() time.Duration {
	if t := s.config.Server.UploadTimeout; t > 0 {
		return t
	}
	return time.Hour
}

// @Summary      Health check
// @Description  Reports whether the server and its database are reachable.
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /health [get]
func (s *Server) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			s.requestLog(r).Warn("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": "down"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "up"})
}
