// Package api exposes the HTTP JSON API and the websocket endpoint.
package api

import (
	"context"
	"net/netip"

	"emberframe/internal/admin"
	"emberframe/internal/audit"
	"emberframe/internal/auth"
	"emberframe/internal/config"
	"emberframe/internal/desktop"
	"emberframe/internal/files"
	"emberframe/internal/profile"
	"emberframe/internal/sharing"
	"emberframe/internal/websocket"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Config  *config.Config
	DB      Pinger
	Auth    *auth.Service
	Files   *files.Service
	Profile *profile.Service
	Sharing *sharing.Service
	Admin   *admin.Service
	Desktop *desktop.Manager
	Audit   *audit.Recorder
	Hub     *websocket.Hub
	Logger  *zap.Logger
}

type Server struct {
	config   *config.Config
	db       Pinger
	auth     *auth.Service
	files    *files.Service
	profile  *profile.Service
	sharing  *sharing.Service
	admin    *admin.Service
	desktop  *desktop.Manager
	audit    *audit.Recorder
	wsHub    *websocket.Hub
	upgrader gws.Upgrader
	proxies  []netip.Prefix
	log      *zap.Logger
}

func NewServer(d Deps) *Server {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	proxies, err := d.Config.Server.ProxyPrefixes()
	if err != nil {
		log.Warn("ignoring trusted proxies", zap.Error(err))
		proxies = nil
	}
	return &Server{
		config:   d.Config,
		db:       d.DB,
		auth:     d.Auth,
		files:    d.Files,
		profile:  d.Profile,
		sharing:  d.Sharing,
		admin:    d.Admin,
		desktop:  d.Desktop,
		audit:    d.Audit,
		wsHub:    d.Hub,
		upgrader: websocket.NewUpgrader(d.Config.Server.CORSOrigins),
		proxies:  proxies,
		log:      log,
	}
}
