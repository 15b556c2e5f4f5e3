package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"emberframe/internal/apperr"
	"emberframe/internal/auth"
	"emberframe/internal/models"

	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const userContextKey = contextKey("user")

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("%w: authorization header required", apperr.ErrInvalidToken)
	}
	headerParts := strings.SplitN(authHeader, " ", 2)
	if len(headerParts) != 2 || !strings.EqualFold(headerParts[0], "Bearer") {
		return "", fmt.Errorf("%w: invalid authorization header format", apperr.ErrInvalidToken)
	}
	return strings.TrimSpace(headerParts[1]), nil
}

// AuthMiddleware admits requests carrying a valid access token of a live
// session.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		claims, err := s.auth.Validate(r.Context(), tokenString)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminOnly checks the admin flag against the database, so a demotion takes
// effect before the token expires.
func (s *Server) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetUserFromContext(r.Context())
		if claims == nil {
			s.writeError(w, r, apperr.ErrInvalidToken)
			return
		}
		user, err := s.auth.GetUser(r.Context(), claims.UserID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !user.IsAdmin {
			s.writeError(w, r, fmt.Errorf("%w: administrator access required", apperr.ErrPermissionDenied))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func GetUserFromContext(ctx context.Context) *auth.AppClaims {
	if claims, ok := ctx.Value(userContextKey).(*auth.AppClaims); ok {
		return claims
	}
	return nil
}

// RealIPFromTrustedProxies runs chi's RealIP only for requests whose direct
// peer is one of proxies. Any other client is known by its RemoteAddr, so
// forwarding headers cannot be used to dodge the login rate limit.
func RealIPFromTrustedProxies(proxies []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		withRealIP := middleware.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if trustedPeer(r.RemoteAddr, proxies) {
				withRealIP.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func trustedPeer(remoteAddr string, proxies []netip.Prefix) bool {
	if len(proxies) == 0 {
		return false
	}
	var addr netip.Addr
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		addr = ap.Addr()
	} else if addr, err = netip.ParseAddr(remoteAddr); err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// actor describes who sends the request, for auditing and rate limiting.
func actor(r *http.Request) models.Actor {
	a := models.Actor{
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	}
	if claims := GetUserFromContext(r.Context()); claims != nil {
		a.UserID = claims.UserID
		a.Username = claims.Username
	}
	return a
}
