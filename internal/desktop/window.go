// Package desktop keeps the server-side state of each user's desktop shell:
// open windows, their z-order, focus and the taskbar.
package desktop

import (
	"fmt"
	"time"

	"emberframe/internal/apperr"
)

type State string

const (
	StateOpening   State = "opening"
	StateNormal    State = "normal"
	StateMinimized State = "minimized"
	StateMaximized State = "maximized"
	StateClosing   State = "closing"
)

var (
	ErrInvalidTransition = fmt.Errorf("%w: invalid window state transition", apperr.ErrInvalidArgument)
	ErrWindowNotFound    = fmt.Errorf("%w: window", apperr.ErrNotFound)
	ErrUnknownApp        = fmt.Errorf("%w: unknown application", apperr.ErrInvalidArgument)
)

var transitions = map[State][]State{
	StateOpening:   {StateNormal, StateClosing},
	StateNormal:    {StateMinimized, StateMaximized, StateClosing},
	StateMinimized: {StateNormal, StateClosing},
	StateMaximized: {StateNormal, StateClosing},
}

// CanTransition reports whether a window may go from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Window struct {
	ID       string    `json:"id"`
	AppID    string    `json:"app_id"`
	Title    string    `json:"title"`
	State    State     `json:"state"`
	Z        int64     `json:"z"`
	Focused  bool      `json:"focused"`
	Bounds   Bounds    `json:"bounds"`
	OpenedAt time.Time `json:"opened_at"`

	seq int64
	app Application
}

func (w *Window) Visible() bool {
	return w.State == StateNormal || w.State == StateMaximized
}

func (w *Window) transition(to State) error {
	if !CanTransition(w.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.State, to)
	}
	w.State = to
	return nil
}
