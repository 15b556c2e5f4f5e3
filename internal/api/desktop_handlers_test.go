package api

import (
	"net/http"
	"testing"

	"emberframe/internal/desktop"

	"github.com/stretchr/testify/require"
)

func TestDesktopWindows(t *testing.T) {
	u := createTestUser(t, false, 0)

	rr := doRequest(t, http.MethodGet, "/api/desktop/apps", u.Token, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotEmpty(t, decode[[]desktop.AppInfo](t, rr))

	rr = doRequest(t, http.MethodGet, "/api/desktop", u.Token, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, decode[desktop.Snapshot](t, rr).Windows)

	rr = doJSON(t, http.MethodPost, "/api/desktop/windows", u.Token, OpenWindowRequest{AppID: "calculator"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	calc := decode[OpenWindowResponse](t, rr)
	require.Equal(t, desktop.StateNormal, calc.Window.State)
	require.Equal(t, calc.Window.ID, calc.Desktop.Focused)

	rr = doJSON(t, http.MethodPost, "/api/desktop/windows", u.Token, OpenWindowRequest{AppID: "text-editor"})
	require.Equal(t, http.StatusCreated, rr.Code)
	editor := decode[OpenWindowResponse](t, rr).Window

	rr = doRequest(t, http.MethodPost, "/api/desktop/windows/"+editor.ID+"/minimize", u.Token, nil, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	snap := decode[desktop.Snapshot](t, rr)
	require.Equal(t, calc.Window.ID, snap.Focused)
	require.Len(t, snap.Taskbar, 2)

	rr = doRequest(t, http.MethodPost, "/api/desktop/windows/"+editor.ID+"/minimize", u.Token, nil, "")
	requireError(t, rr, http.StatusBadRequest, "invalid_argument")

	rr = doRequest(t, http.MethodPost, "/api/desktop/windows/"+editor.ID+"/explode", u.Token, nil, "")
	requireError(t, rr, http.StatusBadRequest, "invalid_argument")

	rr = doRequest(t, http.MethodPost, "/api/desktop/windows/nope/focus", u.Token, nil, "")
	requireError(t, rr, http.StatusNotFound, "not_found")

	rr = doJSON(t, http.MethodPost, "/api/desktop/windows", u.Token, OpenWindowRequest{AppID: "solitaire"})
	requireError(t, rr, http.StatusBadRequest, "invalid_argument")

	rr = doRequest(t, http.MethodPost, "/api/desktop/windows/"+calc.Window.ID+"/close", u.Token, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	snap = decode[desktop.Snapshot](t, rr)
	require.Len(t, snap.Windows, 1)
	require.Empty(t, snap.Focused)

	other := createTestUser(t, false, 0)
	rr = doRequest(t, http.MethodGet, "/api/desktop", other.Token, nil, "")
	require.Empty(t, decode[desktop.Snapshot](t, rr).Windows)
}
