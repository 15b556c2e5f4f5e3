package desktop

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jaevor/go-nanoid"
)

const (
	cascadeStep  = 30
	cascadeSlots = 10
)

// Snapshot is a copy of the desktop state. Windows are ordered by z, the
// taskbar by open order.
type Snapshot struct {
	Windows []Window      `json:"windows"`
	Taskbar []TaskbarItem `json:"taskbar"`
	Focused string        `json:"focused,omitempty"`
}

type TaskbarItem struct {
	WindowID string `json:"window_id"`
	AppID    string `json:"app_id"`
	Title    string `json:"title"`
	Active   bool   `json:"active"`
	State    State  `json:"state"`
}

// Store holds the windows of one desktop. At most one window is focused and
// every focus takes the next z value.
type Store struct {
	mu       sync.Mutex
	registry *Registry
	windows  map[string]*Window
	history  []string
	focused  string
	z        int64
	seq      int64
	newID    func() string
	now      func() time.Time
}

func NewStore(registry *Registry) (*Store, error) {
	generateID, err := nanoid.Standard(12)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize nanoid generator: %w", err)
	}
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Store{
		registry: registry,
		windows:  make(map[string]*Window),
		newID:    generateID,
		now:      time.Now,
	}, nil
}

// Open starts appID in a new focused window. Singleton apps that are
// already open get their window focused instead.
func (s *Store) Open(appID string) (Window, error) {
	reg, err := s.registry.lookup(appID)
	if err != nil {
		return Window{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if reg.info.Singleton {
		for _, w := range s.windows {
			if w.AppID == appID {
				if err := s.focus(w); err != nil {
					return Window{}, err
				}
				return *w, nil
			}
		}
	}

	app := reg.factory()
	slot := int(s.seq % cascadeSlots)
	w := &Window{
		ID:       s.newID(),
		AppID:    appID,
		Title:    app.Title(),
		State:    StateOpening,
		Bounds:   Bounds{X: 40 + slot*cascadeStep, Y: 40 + slot*cascadeStep},
		OpenedAt: s.now().UTC(),
		app:      app,
	}
	if err := app.Mount(w); err != nil {
		return Window{}, fmt.Errorf("mount %s: %w", appID, err)
	}
	if err := w.transition(StateNormal); err != nil {
		app.Unmount()
		return Window{}, err
	}

	s.seq++
	w.seq = s.seq
	s.windows[w.ID] = w
	s.focusWindow(w)
	return *w, nil
}

func (s *Store) get(id string) (*Window, error) {
	w, ok := s.windows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWindowNotFound, id)
	}
	return w, nil
}

// Focus raises a window. A minimized window is restored first.
func (s *Store) Focus(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.get(id)
	if err != nil {
		return err
	}
	return s.focus(w)
}

func (s *Store) focus(w *Window) error {
	if w.State == StateMinimized {
		if err := w.transition(StateNormal); err != nil {
			return err
		}
	}
	if !w.Visible() {
		return fmt.Errorf("%w: cannot focus a %s window", ErrInvalidTransition, w.State)
	}
	s.focusWindow(w)
	return nil
}

func (s *Store) focusWindow(w *Window) {
	if prev, ok := s.windows[s.focused]; ok {
		prev.Focused = false
	}
	s.z++
	w.Z = s.z
	w.Focused = true
	s.focused = w.ID

	s.dropHistory(w.ID)
	s.history = append(s.history, w.ID)
}

func (s *Store) dropHistory(id string) {
	for i, h := range s.history {
		if h == id {
			s.history = append(s.history[:i], s.history[i+1:]...)
			return
		}
	}
}

// transferFocus hands focus to the most recently focused visible window,
// or clears it.
func (s *Store) transferFocus() {
	s.focused = ""
	for i := len(s.history) - 1; i >= 0; i-- {
		if w, ok := s.windows[s.history[i]]; ok && w.Visible() {
			s.focusWindow(w)
			return
		}
	}
}

func (s *Store) Minimize(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.get(id)
	if err != nil {
		return err
	}
	if err := w.transition(StateMinimized); err != nil {
		return err
	}
	if s.focused == id {
		w.Focused = false
		s.transferFocus()
	}
	return nil
}

func (s *Store) Maximize(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.get(id)
	if err != nil {
		return err
	}
	if err := w.transition(StateMaximized); err != nil {
		return err
	}
	s.focusWindow(w)
	return nil
}

// Restore brings a minimized or maximized window back to normal and
// focuses it.
func (s *Store) Restore(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.get(id)
	if err != nil {
		return err
	}
	if err := w.transition(StateNormal); err != nil {
		return err
	}
	s.focusWindow(w)
	return nil
}

// Close unmounts the app and removes its window.
func (s *Store) Close(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.get(id)
	if err != nil {
		return err
	}
	if err := w.transition(StateClosing); err != nil {
		return err
	}
	w.app.Unmount()

	delete(s.windows, id)
	s.dropHistory(id)
	if s.focused == id {
		s.transferFocus()
	}
	return nil
}

// CloseAll closes every window.
func (s *Store) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.windows {
		w.app.Unmount()
		delete(s.windows, id)
	}
	s.history = nil
	s.focused = ""
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := make([]*Window, 0, len(s.windows))
	for _, w := range s.windows {
		open = append(open, w)
	}

	snap := Snapshot{
		Windows: make([]Window, 0, len(open)),
		Taskbar: make([]TaskbarItem, 0, len(open)),
		Focused: s.focused,
	}

	sort.Slice(open, func(i, j int) bool { return open[i].seq < open[j].seq })
	for _, w := range open {
		snap.Taskbar = append(snap.Taskbar, TaskbarItem{
			WindowID: w.ID,
			AppID:    w.AppID,
			Title:    w.Title,
			Active:   w.Focused,
			State:    w.State,
		})
	}

	sort.Slice(open, func(i, j int) bool { return open[i].Z < open[j].Z })
	for _, w := range open {
		snap.Windows = append(snap.Windows, *w)
	}
	return snap
}
