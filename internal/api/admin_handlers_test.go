package api

import (
	"fmt"
	"net/http"
	"testing"

	"emberframe/internal/auth"
	"emberframe/internal/files"
	"emberframe/internal/models"

	"github.com/stretchr/testify/require"
)

func TestAdminRoutesRequireAdmin(t *testing.T) {
	user := createTestUser(t, false, 0)
	admin := createTestUser(t, true, 0)

	for _, target := range []string{"/api/admin/stats", "/api/admin/users", "/api/admin/audit"} {
		rr := doRequest(t, http.MethodGet, target, user.Token, nil, "")
		requireError(t, rr, http.StatusForbidden, "permission_denied")

		rr = doRequest(t, http.MethodGet, target, admin.Token, nil, "")
		require.Equal(t, http.StatusOK, rr.Code, target)
	}
}

func TestAdminStats(t *testing.T) {
	admin := createTestUser(t, true, 0)
	u := createTestUser(t, false, 0)
	rr := uploadFiles(t, u.Token, "", uploadFile{"stats.txt", "counted"})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doRequest(t, http.MethodGet, "/api/admin/stats", admin.Token, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	stats := decode[models.SystemStats](t, rr)
	require.GreaterOrEqual(t, stats.TotalUsers, int64(2))
	require.GreaterOrEqual(t, stats.TotalFiles, int64(1))
	require.GreaterOrEqual(t, stats.ActiveSessions, int64(2))
	require.NotEmpty(t, stats.ByCategory)
}

func TestAdminManagesUsers(t *testing.T) {
	admin := createTestUser(t, true, 0)

	rr := doJSON(t, http.MethodPost, "/api/admin/users", admin.Token, auth.NewUserParams{
		Username:   "api_managed",
		Password:   testPassword,
		QuotaBytes: 1 << 20,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[models.User](t, rr)
	require.EqualValues(t, 1<<20, created.StorageQuotaBytes)

	rr = login(t, nextIP(), LoginRequest{Username: "api_managed", Password: testPassword})
	require.Equal(t, http.StatusOK, rr.Code)
	userToken := decode[auth.TokenPair](t, rr).AccessToken

	quota := int64(2 << 20)
	rr = doJSON(t, http.MethodPatch, fmt.Sprintf("/api/admin/users/%d", created.ID), admin.Token,
		models.UserUpdate{StorageQuotaBytes: &quota})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, quota, decode[models.User](t, rr).StorageQuotaBytes)

	rr = doRequest(t, http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", created.ID), admin.Token, nil, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.EqualValues(t, 1, decode[DisableUserResponse](t, rr).RevokedSessions)

	rr = doRequest(t, http.MethodGet, "/api/auth/me", userToken, nil, "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = login(t, nextIP(), LoginRequest{Username: "api_managed", Password: testPassword})
	requireError(t, rr, http.StatusUnauthorized, "invalid_credentials")
}

func TestAdminCannotLockThemselvesOut(t *testing.T) {
	admin := createTestUser(t, true, 0)

	rr := doRequest(t, http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", admin.ID), admin.Token, nil, "")
	requireError(t, rr, http.StatusForbidden, "permission_denied")

	demote := false
	rr = doJSON(t, http.MethodPatch, fmt.Sprintf("/api/admin/users/%d", admin.ID), admin.Token,
		models.UserUpdate{IsAdmin: &demote})
	requireError(t, rr, http.StatusForbidden, "permission_denied")
}

func TestAdminBadUserIDs(t *testing.T) {
	admin := createTestUser(t, true, 0)

	rr := doRequest(t, http.MethodDelete, "/api/admin/users/abc", admin.Token, nil, "")
	requireError(t, rr, http.StatusBadRequest, "invalid_argument")

	rr = doRequest(t, http.MethodPost, "/api/admin/users/99999999/reconcile", admin.Token, nil, "")
	requireError(t, rr, http.StatusNotFound, "not_found")
}

func TestAdminReconcile(t *testing.T) {
	admin := createTestUser(t, true, 0)
	u := createTestUser(t, false, 0)
	rr := uploadFiles(t, u.Token, "/r", uploadFile{"one.txt", "12345"}, uploadFile{"two.txt", "678"})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doRequest(t, http.MethodPost, fmt.Sprintf("/api/admin/users/%d/reconcile", u.ID), admin.Token, nil, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[files.ReconcileResult](t, rr)
	require.Equal(t, u.ID, res.UserID)
	require.EqualValues(t, 8, res.BeforeBytes)
	require.EqualValues(t, 8, res.AfterBytes)
	require.Equal(t, 2, res.Files)
}

func TestAuditTrail(t *testing.T) {
	admin := createTestUser(t, true, 0)
	u := createTestUser(t, false, 0)

	rr := uploadFiles(t, u.Token, "", uploadFile{"audited.txt", "x"})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doRequest(t, http.MethodGet, "/api/audit", u.Token, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	records := decode[[]models.AuditRecord](t, rr)
	require.NotEmpty(t, records)
	require.Equal(t, "files_uploaded", records[0].Action)
	require.Equal(t, "/audited.txt", records[0].Target)
	for _, rec := range records {
		require.Equal(t, u.ID, *rec.UserID)
	}

	rr = doRequest(t, http.MethodGet, fmt.Sprintf("/api/audit?since=%d", records[0].ID), u.Token, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, decode[[]models.AuditRecord](t, rr))

	rr = doRequest(t, http.MethodGet, "/api/audit?limit=-1", u.Token, nil, "")
	requireError(t, rr, http.StatusBadRequest, "invalid_argument")

	rr = doRequest(t, http.MethodGet, fmt.Sprintf("/api/admin/audit?user_id=%d", u.ID), admin.Token, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, decode[[]models.AuditRecord](t, rr), len(records))
}
