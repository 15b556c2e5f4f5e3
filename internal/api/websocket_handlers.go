package api

import (
	"net/http"

	"emberframe/internal/websocket"

	"go.uber.org/zap"
)

// @Summary      Event stream
// @Description  Upgrades to a websocket that pushes audit, file and desktop events of the user. The access token is passed as the token query parameter.
// @Tags         system
// @Param        token  query  string  true  "Access token"
// @Success      101
// @Failure      401  {object}  ErrorResponse
// @Router       /ws [get]
func (s *Server) ServeWsHandler(w http.ResponseWriter, r *http.Request) {
	log := s.requestLog(r)

	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		tokenString, _ = bearerToken(r)
	}

	claims, err := s.auth.Validate(r.Context(), tokenString)
	if err != nil {
		log.Info("websocket connection rejected", zap.Error(err))
		s.writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	websocketConnections.Inc()
	client := websocket.NewClient(s.wsHub, conn, claims.UserID)
	go func() {
		defer websocketConnections.Dec()
		client.Serve()
	}()
}
