package api

import (
	"net/http"
	"net/netip"
	"strconv"
	"testing"

	"emberframe/internal/auth"
	"emberframe/internal/models"

	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T) {
	rr := doRequest(t, http.MethodGet, "/health", "", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", decode[map[string]string](t, rr)["status"])
}

func TestLoginAndCurrentUser(t *testing.T) {
	u := createTestUser(t, false, 0)
	ip := nextIP()

	t.Run("Success", func(t *testing.T) {
		rr := login(t, ip, LoginRequest{Username: u.Username, Password: testPassword})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		pair := decode[auth.TokenPair](t, rr)
		require.NotEmpty(t, pair.AccessToken)
		require.NotEmpty(t, pair.RefreshToken)
		require.Equal(t, "bearer", pair.TokenType)

		rr = doRequest(t, http.MethodGet, "/api/auth/me", pair.AccessToken, nil, "")
		require.Equal(t, http.StatusOK, rr.Code)
		require.Equal(t, u.Username, decode[models.User](t, rr).Username)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		rr := login(t, ip, LoginRequest{Username: u.Username, Password: "wrong123"})
		requireError(t, rr, http.StatusUnauthorized, "invalid_credentials")
	})

	t.Run("UnknownUserLooksTheSame", func(t *testing.T) {
		rr := login(t, ip, LoginRequest{Username: "nobody_here", Password: testPassword})
		requireError(t, rr, http.StatusUnauthorized, "invalid_credentials")
	})

	t.Run("MissingFields", func(t *testing.T) {
		rr := login(t, ip, LoginRequest{Username: u.Username})
		requireError(t, rr, http.StatusBadRequest, "invalid_argument")
	})
}

func TestLoginIsRateLimited(t *testing.T) {
	u := createTestUser(t, false, 0)
	ip := nextIP()

	for i := 0; i < testLoginAttempts; i++ {
		rr := login(t, ip, LoginRequest{Username: u.Username, Password: "wrong123"})
		requireError(t, rr, http.StatusUnauthorized, "invalid_credentials")
	}

	// Even the right password is refused once the budget is spent.
	rr := login(t, ip, LoginRequest{Username: u.Username, Password: testPassword})
	requireError(t, rr, http.StatusTooManyRequests, "rate_limited")
	retry, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	require.NoError(t, err)
	require.Positive(t, retry)

	rr = login(t, nextIP(), LoginRequest{Username: u.Username, Password: testPassword})
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestLoginRateLimitIgnoresForwardingHeadersFromClients(t *testing.T) {
	u := createTestUser(t, false, 0)
	peer := nextIP()

	for i := 0; i < testLoginAttempts; i++ {
		rr := login(t, peer, LoginRequest{Username: u.Username, Password: "wrong123"},
			"X-Forwarded-For", nextIP(), "X-Real-IP", nextIP(), "True-Client-IP", nextIP())
		requireError(t, rr, http.StatusUnauthorized, "invalid_credentials")
	}

	rr := login(t, peer, LoginRequest{Username: u.Username, Password: testPassword},
		"X-Forwarded-For", nextIP(), "X-Real-IP", nextIP())
	requireError(t, rr, http.StatusTooManyRequests, "rate_limited")
}

func TestLoginBehindTrustedProxyUsesForwardedClient(t *testing.T) {
	u := createTestUser(t, false, 0)
	client := nextIP()

	for i := 0; i < testLoginAttempts; i++ {
		rr := login(t, testProxy, LoginRequest{Username: u.Username, Password: "wrong123"}, "X-Real-IP", client)
		requireError(t, rr, http.StatusUnauthorized, "invalid_credentials")
	}
	rr := login(t, testProxy, LoginRequest{Username: u.Username, Password: testPassword}, "X-Real-IP", client)
	requireError(t, rr, http.StatusTooManyRequests, "rate_limited")

	// Another client behind the same proxy has its own budget.
	rr = login(t, testProxy, LoginRequest{Username: u.Username, Password: testPassword}, "X-Real-IP", nextIP())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestTrustedPeer(t *testing.T) {
	proxies := []netip.Prefix{netip.MustParsePrefix("198.51.100.0/24"), netip.MustParsePrefix("2001:db8::/32")}

	require.True(t, trustedPeer("198.51.100.7:443", proxies))
	require.True(t, trustedPeer("[::ffff:198.51.100.9]:80", proxies))
	require.True(t, trustedPeer("[2001:db8::1]:80", proxies))
	require.True(t, trustedPeer("198.51.100.7", proxies))
	require.False(t, trustedPeer("203.0.113.7:443", proxies))
	require.False(t, trustedPeer("garbage", proxies))
	require.False(t, trustedPeer("198.51.100.7:443", nil))
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	rr := doRequest(t, http.MethodGet, "/api/files", "", nil, "")
	requireError(t, rr, http.StatusUnauthorized, "invalid_token")

	rr = doRequest(t, http.MethodGet, "/api/files", "not-a-jwt", nil, "")
	requireError(t, rr, http.StatusUnauthorized, "invalid_token")
}

func TestRefreshRotatesToken(t *testing.T) {
	u := createTestUser(t, false, 0)

	rr := doJSON(t, http.MethodPost, "/api/auth/refresh", "", RefreshTokenRequest{RefreshToken: u.Refresh})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	pair := decode[auth.TokenPair](t, rr)
	require.NotEqual(t, u.Refresh, pair.RefreshToken)

	rr = doJSON(t, http.MethodPost, "/api/auth/refresh", "", RefreshTokenRequest{RefreshToken: u.Refresh})
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doRequest(t, http.MethodGet, "/api/auth/me", pair.AccessToken, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestLogoutEndsSession(t *testing.T) {
	u := createTestUser(t, false, 0)

	rr := doRequest(t, http.MethodPost, "/api/auth/logout", u.Token, nil, "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = doRequest(t, http.MethodGet, "/api/auth/me", u.Token, nil, "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRegister(t *testing.T) {
	rr := doJSON(t, http.MethodPost, "/api/auth/register", "",
		RegisterRequest{Username: "api_registered", Password: testPassword})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.False(t, decode[models.User](t, rr).IsAdmin)

	rr = doJSON(t, http.MethodPost, "/api/auth/register", "",
		RegisterRequest{Username: "api_registered", Password: testPassword})
	requireError(t, rr, http.StatusConflict, "already_exists")

	rr = doJSON(t, http.MethodPost, "/api/auth/register", "",
		RegisterRequest{Username: "api_weak", Password: "short"})
	requireError(t, rr, http.StatusBadRequest, "invalid_argument")
}

func TestChangePassword(t *testing.T) {
	u := createTestUser(t, false, 0)

	rr := doJSON(t, http.MethodPost, "/api/auth/password", u.Token,
		ChangePasswordRequest{CurrentPassword: "wrong123", NewPassword: "another456"})
	requireError(t, rr, http.StatusUnauthorized, "invalid_credentials")

	rr = doJSON(t, http.MethodPost, "/api/auth/password", u.Token,
		ChangePasswordRequest{CurrentPassword: testPassword, NewPassword: "another456"})
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	rr = login(t, nextIP(), LoginRequest{Username: u.Username, Password: "another456"})
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestSessions(t *testing.T) {
	u := createTestUser(t, false, 0)
	rr := login(t, nextIP(), LoginRequest{Username: u.Username, Password: testPassword})
	require.Equal(t, http.StatusOK, rr.Code)
	second := decode[auth.TokenPair](t, rr)

	rr = doRequest(t, http.MethodGet, "/api/sessions", u.Token, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	sessions := decode[[]models.Session](t, rr)
	require.Len(t, sessions, 2)

	rr = doRequest(t, http.MethodPost, "/api/sessions/terminate_all", u.Token, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)

	for _, token := range []string{u.Token, second.AccessToken} {
		rr = doRequest(t, http.MethodGet, "/api/auth/me", token, nil, "")
		require.Equal(t, http.StatusUnauthorized, rr.Code)
	}
}
