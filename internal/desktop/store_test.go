package desktop

import (
	"testing"

	"emberframe/internal/apperr"

	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(DefaultRegistry())
	require.NoError(t, err)
	return s
}

func open(t *testing.T, s *Store, app string) Window {
	t.Helper()
	w, err := s.Open(app)
	require.NoError(t, err)
	return w
}

func requireSingleFocus(t *testing.T, s *Store) Snapshot {
	t.Helper()
	snap := s.Snapshot()
	focused := 0
	seen := map[int64]bool{}
	for _, w := range snap.Windows {
		if w.Focused {
			focused++
			require.Equal(t, snap.Focused, w.ID)
		}
		require.False(t, seen[w.Z], "duplicate z %d", w.Z)
		seen[w.Z] = true
	}
	require.LessOrEqual(t, focused, 1)
	if snap.Focused == "" {
		require.Zero(t, focused)
	}
	return snap
}

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(StateOpening, StateNormal))
	require.True(t, CanTransition(StateNormal, StateMinimized))
	require.True(t, CanTransition(StateMinimized, StateNormal))
	require.True(t, CanTransition(StateNormal, StateMaximized))
	require.True(t, CanTransition(StateMaximized, StateNormal))
	require.True(t, CanTransition(StateMaximized, StateClosing))

	require.False(t, CanTransition(StateMinimized, StateMaximized))
	require.False(t, CanTransition(StateOpening, StateMinimized))
	require.False(t, CanTransition(StateClosing, StateNormal))
	require.False(t, CanTransition(StateNormal, StateOpening))
}

func TestOpenFocusesWithIncreasingZ(t *testing.T) {
	s := newStore(t)

	a := open(t, s, "file-manager")
	b := open(t, s, "calculator")
	c := open(t, s, "terminal")

	require.Equal(t, StateNormal, a.State)
	require.Equal(t, "Files", a.Title)
	require.Equal(t, 800, a.Bounds.Width)
	require.Less(t, a.Z, b.Z)
	require.Less(t, b.Z, c.Z)
	require.NotEqual(t, a.Bounds.X, b.Bounds.X)

	snap := requireSingleFocus(t, s)
	require.Equal(t, c.ID, snap.Focused)

	require.NoError(t, s.Focus(a.ID))
	snap = requireSingleFocus(t, s)
	require.Equal(t, a.ID, snap.Focused)
	require.Equal(t, a.ID, snap.Windows[len(snap.Windows)-1].ID)
	require.Greater(t, snap.Windows[2].Z, c.Z)

	var ids []string
	for _, item := range snap.Taskbar {
		ids = append(ids, item.WindowID)
	}
	require.Equal(t, []string{a.ID, b.ID, c.ID}, ids)
}

func TestCloseTransfersFocusToMostRecent(t *testing.T) {
	s := newStore(t)

	a := open(t, s, "file-manager")
	b := open(t, s, "text-editor")
	c := open(t, s, "calculator")

	require.NoError(t, s.Focus(a.ID))
	require.NoError(t, s.Focus(c.ID))

	require.NoError(t, s.Close(c.ID))
	snap := requireSingleFocus(t, s)
	require.Equal(t, a.ID, snap.Focused)

	require.NoError(t, s.Close(a.ID))
	snap = requireSingleFocus(t, s)
	require.Equal(t, b.ID, snap.Focused)

	require.NoError(t, s.Close(b.ID))
	snap = requireSingleFocus(t, s)
	require.Empty(t, snap.Focused)
	require.Empty(t, snap.Windows)

	require.ErrorIs(t, s.Close(b.ID), ErrWindowNotFound)
	require.ErrorIs(t, s.Close(b.ID), apperr.ErrNotFound)
}

func TestMinimizeSkipsHiddenWindows(t *testing.T) {
	s := newStore(t)

	a := open(t, s, "file-manager")
	b := open(t, s, "text-editor")
	c := open(t, s, "calculator")

	require.NoError(t, s.Minimize(b.ID))
	require.Equal(t, c.ID, requireSingleFocus(t, s).Focused)

	require.NoError(t, s.Minimize(c.ID))
	require.Equal(t, a.ID, requireSingleFocus(t, s).Focused)

	require.NoError(t, s.Minimize(a.ID))
	require.Empty(t, requireSingleFocus(t, s).Focused)

	require.NoError(t, s.Focus(b.ID))
	snap := requireSingleFocus(t, s)
	require.Equal(t, b.ID, snap.Focused)
	for _, w := range snap.Windows {
		if w.ID == b.ID {
			require.Equal(t, StateNormal, w.State)
		}
	}
}

func TestCloseSkipsMinimizedWindowWhenTransferringFocus(t *testing.T) {
	s := newStore(t)

	a := open(t, s, "file-manager")
	b := open(t, s, "text-editor")
	c := open(t, s, "calculator")

	require.NoError(t, s.Focus(b.ID))
	require.NoError(t, s.Focus(c.ID))
	require.NoError(t, s.Minimize(b.ID))
	require.Equal(t, c.ID, requireSingleFocus(t, s).Focused)

	// b was focused more recently than a, but a minimized window never
	// receives focus implicitly.
	require.NoError(t, s.Close(c.ID))
	snap := requireSingleFocus(t, s)
	require.Equal(t, a.ID, snap.Focused)
	for _, w := range snap.Windows {
		if w.ID == b.ID {
			require.Equal(t, StateMinimized, w.State)
			require.False(t, w.Focused)
		}
	}

	require.NoError(t, s.Close(a.ID))
	snap = requireSingleFocus(t, s)
	require.Empty(t, snap.Focused)
	require.Len(t, snap.Windows, 1)
}

func TestInvalidTransitions(t *testing.T) {
	s := newStore(t)
	w := open(t, s, "terminal")

	require.NoError(t, s.Minimize(w.ID))
	require.ErrorIs(t, s.Maximize(w.ID), ErrInvalidTransition)
	require.ErrorIs(t, s.Minimize(w.ID), ErrInvalidTransition)

	require.NoError(t, s.Restore(w.ID))
	require.ErrorIs(t, s.Restore(w.ID), ErrInvalidTransition)

	require.NoError(t, s.Maximize(w.ID))
	require.ErrorIs(t, s.Maximize(w.ID), ErrInvalidTransition)
	require.NoError(t, s.Close(w.ID))

	require.ErrorIs(t, s.Focus("missing"), ErrWindowNotFound)
}

func TestUnknownApp(t *testing.T) {
	s := newStore(t)
	_, err := s.Open("minesweeper")
	require.ErrorIs(t, err, ErrUnknownApp)
	require.Empty(t, s.Snapshot().Windows)
}

func TestSingletonAppIsReused(t *testing.T) {
	s := newStore(t)

	first := open(t, s, "settings")
	open(t, s, "calculator")
	require.NoError(t, s.Minimize(first.ID))

	again := open(t, s, "settings")
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, StateNormal, again.State)
	require.Len(t, s.Snapshot().Windows, 2)
	require.Equal(t, first.ID, requireSingleFocus(t, s).Focused)
}

type failingApp struct{ unmounted bool }

func (f *failingApp) Title() string         { return "Broken" }
func (f *failingApp) Mount(w *Window) error { return apperr.ErrInvalidArgument }
func (f *failingApp) Unmount()              { f.unmounted = true }

type trackingApp struct {
	mounted   int
	unmounted int
}

func (a *trackingApp) Title() string         { return "Tracker" }
func (a *trackingApp) Mount(w *Window) error { a.mounted++; return nil }
func (a *trackingApp) Unmount()              { a.unmounted++ }

func TestCustomApplications(t *testing.T) {
	r := NewRegistry()
	tracker := &trackingApp{}
	require.NoError(t, r.Register(AppInfo{ID: "broken"}, func() Application { return &failingApp{} }))
	require.NoError(t, r.Register(AppInfo{ID: "tracker"}, func() Application { return tracker }))
	require.Error(t, r.Register(AppInfo{ID: "tracker"}, func() Application { return tracker }))

	s, err := NewStore(r)
	require.NoError(t, err)

	_, err = s.Open("broken")
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	require.Empty(t, s.Snapshot().Windows)

	w := open(t, s, "tracker")
	require.Equal(t, "Tracker", w.Title)
	require.Equal(t, 1, tracker.mounted)

	require.NoError(t, s.Close(w.ID))
	require.Equal(t, 1, tracker.unmounted)
}

func TestRegistryApps(t *testing.T) {
	apps := DefaultRegistry().Apps()
	var ids []string
	for _, a := range apps {
		ids = append(ids, a.ID)
	}
	require.Equal(t, []string{"calculator", "file-manager", "settings", "terminal", "text-editor"}, ids)
}
