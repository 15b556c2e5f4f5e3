// @title           EmberFrame API
// @version         1.0
// @description     Backend of the EmberFrame web desktop: accounts, sandboxed file storage, audit trail and window state.
// @host            localhost:8080
// @schemes         http https
// @BasePath        /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"emberframe/internal/admin"
	"emberframe/internal/api"
	"emberframe/internal/audit"
	"emberframe/internal/auth"
	"emberframe/internal/config"
	"emberframe/internal/database"
	"emberframe/internal/desktop"
	"emberframe/internal/files"
	"emberframe/internal/logger"
	"emberframe/internal/models"
	"emberframe/internal/profile"
	"emberframe/internal/ratelimit"
	"emberframe/internal/sharing"
	"emberframe/internal/storage"
	"emberframe/internal/websocket"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	_ "emberframe/docs"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zlog, err := logger.Init(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := pgxpool.New(ctx, cfg.DB.Source)
	if err != nil {
		zlog.Fatal("cannot connect to database", zap.Error(err))
	}
	defer dbpool.Close()

	if err := dbpool.Ping(ctx); err != nil {
		zlog.Fatal("cannot ping database", zap.Error(err))
	}
	if err := database.Migrate(dbpool); err != nil {
		zlog.Fatal("cannot apply migrations", zap.Error(err))
	}
	zlog.Info("database ready")

	store := database.NewStore(dbpool)

	sandbox, err := storage.NewSandbox(afero.NewOsFs(), cfg.Storage.Path)
	if err != nil {
		zlog.Fatal("cannot initialize storage", zap.Error(err))
	}
	zlog.Info("storage ready", zap.String("path", sandbox.Root()))

	wsHub := websocket.NewHub(zlog.Named("ws"))
	go wsHub.Run(ctx)

	limiter, closeLimiter, err := ratelimit.New(ctx, cfg.Redis.URL, cfg.Auth.LoginAttempts, cfg.Auth.LoginWindow, zlog)
	if err != nil {
		zlog.Fatal("cannot initialize rate limiter", zap.Error(err))
	}
	defer closeLimiter()

	recorder := audit.NewRecorder(store, wsHub, zlog.Named("audit"))

	authService, err := auth.NewService(store, limiter, recorder, auth.Options{
		Secret:            cfg.JWT.Secret,
		TokenTTL:          cfg.JWT.TokenTTL,
		RefreshTTL:        cfg.JWT.RefreshTTL,
		DefaultQuota:      cfg.Storage.DefaultQuota,
		AllowRegistration: cfg.Auth.AllowRegistration,
	}, zlog.Named("auth"))
	if err != nil {
		zlog.Fatal("cannot initialize auth service", zap.Error(err))
	}

	if cfg.Admin.Password != "" {
		var email *string
		if cfg.Admin.Email != "" {
			email = &cfg.Admin.Email
		}
		user, created, err := authService.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password, email)
		if err != nil {
			zlog.Fatal("cannot create admin account", zap.Error(err))
		}
		if created {
			zlog.Info("admin account created", zap.String("username", user.Username))
		}
	}

	thumbnailer := files.NewThumbnailer(sandbox, store, cfg.Storage.ThumbnailSize, zlog.Named("thumbnails"))
	go thumbnailer.Run(ctx)

	fileService, err := files.NewService(files.Config{
		Repo:       store,
		Sandbox:    sandbox,
		Policy:     files.NewPolicy(cfg.Storage.MaxFileSize, cfg.Storage.BlockedExtensions),
		Audit:      recorder,
		Thumbnails: thumbnailer,
		Events:     wsHub,
		Logger:     zlog.Named("files"),
	})
	if err != nil {
		zlog.Fatal("cannot initialize file service", zap.Error(err))
	}

	if cfg.Storage.ReconcileOnStart {
		ids, err := store.ListUserIDs(ctx)
		if err != nil {
			zlog.Fatal("cannot list users for reconciliation", zap.Error(err))
		}
		n := fileService.ReconcileAll(ctx, models.Actor{Username: "system"}, ids)
		zlog.Info("storage reconciled", zap.Int("users", n), zap.Int("total", len(ids)))
	}

	profileService, err := profile.NewService(store, recorder, wsHub, zlog.Named("profile"))
	if err != nil {
		zlog.Fatal("cannot initialize profile service", zap.Error(err))
	}

	shareService, err := sharing.NewService(sharing.Config{
		Repo:   store,
		Files:  fileService,
		Audit:  recorder,
		Events: wsHub,
		Logger: zlog.Named("sharing"),
	})
	if err != nil {
		zlog.Fatal("cannot initialize sharing service", zap.Error(err))
	}

	desktops := desktop.NewManager(desktop.DefaultRegistry(), wsHub, zlog.Named("desktop"))

	adminService, err := admin.NewService(admin.Config{
		Repo:       store,
		Users:      authService,
		Reconciler: fileService,
		Audit:      recorder,
		AuditLog:   recorder,
		Desktops:   desktops,
		Logger:     zlog.Named("admin"),
	})
	if err != nil {
		zlog.Fatal("cannot initialize admin service", zap.Error(err))
	}

	server := api.NewServer(api.Deps{
		Config:  cfg,
		DB:      store,
		Auth:    authService,
		Files:   fileService,
		Profile: profileService,
		Sharing: shareService,
		Admin:   adminService,
		Desktop: desktops,
		Audit:   recorder,
		Hub:     wsHub,
		Logger:  zlog,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	go func() {
		zlog.Info("starting server", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("cannot start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	zlog.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zlog.Error("graceful shutdown failed", zap.Error(err))
	}
}
