package desktop

import (
	"fmt"
	"sort"
	"sync"
)

// Application is the server-side half of a desktop app.
type Application interface {
	Title() string
	Mount(w *Window) error
	Unmount()
}

type Factory func() Application

// AppInfo describes a registered app for the launcher.
type AppInfo struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Icon      string `json:"icon"`
	Singleton bool   `json:"singleton"`
	Width     int    `json:"default_width"`
	Height    int    `json:"default_height"`
}

type registration struct {
	info    AppInfo
	factory Factory
}

type Registry struct {
	mu   sync.RWMutex
	apps map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{apps: make(map[string]registration)}
}

// DefaultRegistry holds the built-in apps.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, info := range builtins {
		info := info
		_ = r.Register(info, func() Application { return &builtinApp{info: info} })
	}
	return r
}

func (r *Registry) Register(info AppInfo, factory Factory) error {
	if info.ID == "" || factory == nil {
		return fmt.Errorf("desktop: app id and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.apps[info.ID]; ok {
		return fmt.Errorf("desktop: app %q already registered", info.ID)
	}
	r.apps[info.ID] = registration{info: info, factory: factory}
	return nil
}

func (r *Registry) lookup(id string) (registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.apps[id]
	if !ok {
		return registration{}, fmt.Errorf("%w: %q", ErrUnknownApp, id)
	}
	return reg, nil
}

// Apps lists the registered apps ordered by id.
func (r *Registry) Apps() []AppInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AppInfo, 0, len(r.apps))
	for _, reg := range r.apps {
		out = append(out, reg.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var builtins = []AppInfo{
	{ID: "file-manager", Title: "Files", Icon: "folder", Width: 800, Height: 520},
	{ID: "text-editor", Title: "Text Editor", Icon: "file-text", Width: 720, Height: 480},
	{ID: "calculator", Title: "Calculator", Icon: "calculator", Width: 320, Height: 460},
	{ID: "terminal", Title: "Terminal", Icon: "terminal", Width: 680, Height: 420},
	{ID: "settings", Title: "Settings", Icon: "settings", Singleton: true, Width: 600, Height: 480},
}

type builtinApp struct {
	info    AppInfo
	mounted bool
}

func (a *builtinApp) Title() string { return a.info.Title }

func (a *builtinApp) Mount(w *Window) error {
	if a.mounted {
		return fmt.Errorf("desktop: %s already mounted", a.info.ID)
	}
	a.mounted = true
	w.Bounds.Width = a.info.Width
	w.Bounds.Height = a.info.Height
	return nil
}

func (a *builtinApp) Unmount() { a.mounted = false }
