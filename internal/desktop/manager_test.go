package desktop

import (
	"sync"
	"testing"

	"emberframe/internal/apperr"

	"github.com/stretchr/testify/require"
)

type published struct {
	userID    int64
	eventType string
	payload   interface{}
}

type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(userID int64, eventType string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{userID, eventType, payload})
}

func TestManagerKeepsDesktopsApart(t *testing.T) {
	rec := &recorder{}
	m := NewManager(nil, rec, nil)

	w, err := m.Open(1, "file-manager")
	require.NoError(t, err)
	_, err = m.Open(2, "calculator")
	require.NoError(t, err)

	one, err := m.Snapshot(1)
	require.NoError(t, err)
	require.Len(t, one.Windows, 1)
	require.Equal(t, w.ID, one.Focused)

	_, err = m.Apply(2, w.ID, ActionClose)
	require.ErrorIs(t, err, ErrWindowNotFound)

	require.Len(t, rec.events, 2)
	require.Equal(t, EventDesktopChanged, rec.events[0].eventType)
	require.Equal(t, int64(2), rec.events[1].userID)
}

func TestManagerApply(t *testing.T) {
	rec := &recorder{}
	m := NewManager(nil, rec, nil)

	a, err := m.Open(1, "terminal")
	require.NoError(t, err)
	b, err := m.Open(1, "text-editor")
	require.NoError(t, err)

	snap, err := m.Apply(1, b.ID, ActionMinimize)
	require.NoError(t, err)
	require.Equal(t, a.ID, snap.Focused)

	snap, err = m.Apply(1, a.ID, ActionMaximize)
	require.NoError(t, err)
	require.Equal(t, StateMaximized, snap.Windows[len(snap.Windows)-1].State)

	_, err = m.Apply(1, a.ID, "explode")
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	snap, err = m.Apply(1, a.ID, ActionClose)
	require.NoError(t, err)
	require.Empty(t, snap.Focused)
	require.Len(t, snap.Taskbar, 1)

	last := rec.events[len(rec.events)-1]
	require.Equal(t, snap, last.payload)

	m.Reset(1)
	snap, err = m.Snapshot(1)
	require.NoError(t, err)
	require.Empty(t, snap.Windows)
}
