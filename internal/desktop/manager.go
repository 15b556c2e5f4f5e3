package desktop

import (
	"fmt"
	"sync"

	"emberframe/internal/apperr"

	"go.uber.org/zap"
)

// EventDesktopChanged carries a fresh Snapshot after every change.
const EventDesktopChanged = "desktop_changed"

const (
	ActionFocus    = "focus"
	ActionMinimize = "minimize"
	ActionMaximize = "maximize"
	ActionRestore  = "restore"
	ActionClose    = "close"
)

type Notifier interface {
	Publish(userID int64, eventType string, payload interface{})
}

// Manager keeps one Store per user.
type Manager struct {
	mu       sync.Mutex
	stores   map[int64]*Store
	registry *Registry
	events   Notifier
	log      *zap.Logger
}

func NewManager(registry *Registry, events Notifier, log *zap.Logger) *Manager {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		stores:   make(map[int64]*Store),
		registry: registry,
		events:   events,
		log:      log,
	}
}

func (m *Manager) Apps() []AppInfo {
	return m.registry.Apps()
}

func (m *Manager) store(userID int64) (*Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[userID]; ok {
		return s, nil
	}
	s, err := NewStore(m.registry)
	if err != nil {
		return nil, err
	}
	m.stores[userID] = s
	return s, nil
}

func (m *Manager) Snapshot(userID int64) (Snapshot, error) {
	s, err := m.store(userID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Snapshot(), nil
}

func (m *Manager) Open(userID int64, appID string) (Window, error) {
	s, err := m.store(userID)
	if err != nil {
		return Window{}, err
	}
	w, err := s.Open(appID)
	if err != nil {
		return Window{}, err
	}
	m.log.Debug("window opened", zap.Int64("user_id", userID), zap.String("app_id", appID), zap.String("window_id", w.ID))
	m.publish(userID, s)
	return w, nil
}

// Apply runs one window action and returns the resulting snapshot.
func (m *Manager) Apply(userID int64, windowID, action string) (Snapshot, error) {
	s, err := m.store(userID)
	if err != nil {
		return Snapshot{}, err
	}

	switch action {
	case ActionFocus:
		err = s.Focus(windowID)
	case ActionMinimize:
		err = s.Minimize(windowID)
	case ActionMaximize:
		err = s.Maximize(windowID)
	case ActionRestore:
		err = s.Restore(windowID)
	case ActionClose:
		err = s.Close(windowID)
	default:
		err = fmt.Errorf("%w: unknown window action %q", apperr.ErrInvalidArgument, action)
	}
	if err != nil {
		return Snapshot{}, err
	}
	return m.publish(userID, s), nil
}

// Reset closes every window of a user and forgets the desktop.
func (m *Manager) Reset(userID int64) {
	m.mu.Lock()
	s, ok := m.stores[userID]
	delete(m.stores, userID)
	m.mu.Unlock()
	if ok {
		s.CloseAll()
		m.publish(userID, s)
	}
}

func (m *Manager) publish(userID int64, s *Store) Snapshot {
	snap := s.Snapshot()
	if m.events != nil {
		m.events.Publish(userID, EventDesktopChanged, snap)
	}
	return snap
}
