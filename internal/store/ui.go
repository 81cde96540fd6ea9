package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"segclient/internal/wsclient"
	"segclient/pkg/types"
)

// DefaultToastDuration applies when a toast is added with a zero duration.
const DefaultToastDuration = 5 * time.Second

// GridSlots is the number of comparison slots.
const GridSlots = 4

type ToastType string

const (
	ToastSuccess ToastType = "success"
	ToastError   ToastType = "error"
	ToastWarning ToastType = "warning"
	ToastInfo    ToastType = "info"
)

// Toast is a transient notification. A negative Duration never expires.
type Toast struct {
	ID        string        `json:"id"`
	Type      ToastType     `json:"type"`
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// ToastInput is the caller-supplied part of a toast.
type ToastInput struct {
	Type     ToastType
	Message  string
	Duration time.Duration
}

type GridConfig struct {
	Rows        int             `json:"rows"`
	Cols        int             `json:"cols"`
	ActiveSlots [GridSlots]bool `json:"active_slots"`
}

// GridFor returns the grid layout a view mode implies.
func GridFor(mode types.ViewMode) GridConfig {
	switch mode {
	case types.ViewSplit:
		return GridConfig{Rows: 1, Cols: 2, ActiveSlots: [GridSlots]bool{true, true, false, false}}
	case types.ViewGrid2x2:
		return GridConfig{Rows: 2, Cols: 2, ActiveSlots: [GridSlots]bool{true, true, true, true}}
	}
	return GridConfig{Rows: 1, Cols: 1, ActiveSlots: [GridSlots]bool{true, false, false, false}}
}

type UIState struct {
	ViewMode    types.ViewMode `json:"view_mode"`
	Grid        GridConfig     `json:"grid"`
	SidebarOpen bool           `json:"sidebar_open"`
	DarkMode    bool           `json:"dark_mode"`
	Fullscreen  bool           `json:"fullscreen"`
	Toasts      []Toast        `json:"toasts"`
}

type uiPersisted struct {
	ViewMode    types.ViewMode `json:"view_mode"`
	SidebarOpen bool           `json:"sidebar_open"`
	DarkMode    bool           `json:"dark_mode"`
}

// UIStore holds layout preferences and the toast queue.
type UIStore struct {
	base
	toastDefault time.Duration

	mu     sync.Mutex
	st     UIState
	timers map[string]wsclient.Timer
}

// NewUIStore returns a store with the sidebar open, light mode and a single
// view. A zero toastDefault means DefaultToastDuration; a negative one
// keeps toasts until they are removed.
func NewUIStore(toastDefault time.Duration, o Options) *UIStore {
	if toastDefault == 0 {
		toastDefault = DefaultToastDuration
	}
	s := &UIStore{toastDefault: toastDefault, timers: make(map[string]wsclient.Timer)}
	s.init("ui", NamespaceUI, o)
	s.st = UIState{ViewMode: types.ViewSingle, Grid: GridFor(types.ViewSingle), SidebarOpen: true}
	return s
}

func (s *UIStore) Load(ctx context.Context) error {
	var p uiPersisted
	ok, err := s.load(ctx, &p)
	if !ok {
		return err
	}
	if !p.ViewMode.Valid() {
		p.ViewMode = types.ViewSingle
	}
	s.mu.Lock()
	s.st.ViewMode = p.ViewMode
	s.st.Grid = GridFor(p.ViewMode)
	s.st.SidebarOpen = p.SidebarOpen
	s.st.DarkMode = p.DarkMode
	s.mu.Unlock()
	s.emit("restored", map[string]any{"view_mode": string(p.ViewMode)})
	return nil
}

func (s *UIStore) persist() {
	s.save(func() any {
		s.mu.Lock()
		defer s.mu.Unlock()
		return uiPersisted{ViewMode: s.st.ViewMode, SidebarOpen: s.st.SidebarOpen, DarkMode: s.st.DarkMode}
	})
}

// SetViewMode switches the layout and resets the grid to match it.
func (s *UIStore) SetViewMode(mode types.ViewMode) error {
	if !mode.Valid() {
		return ErrValidation("view_mode", fmt.Sprintf("unknown view mode %q", mode))
	}
	s.mu.Lock()
	s.st.ViewMode = mode
	s.st.Grid = GridFor(mode)
	s.mu.Unlock()
	s.persist()
	s.emit("view_mode_changed", map[string]any{"view_mode": string(mode)})
	return nil
}

func (s *UIStore) ViewMode() types.ViewMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ViewMode
}

// ToggleGridSlot flips slot i. Out-of-range indexes return false.
func (s *UIStore) ToggleGridSlot(i int) bool {
	if i < 0 || i >= GridSlots {
		return false
	}
	s.mu.Lock()
	s.st.Grid.ActiveSlots[i] = !s.st.Grid.ActiveSlots[i]
	on := s.st.Grid.ActiveSlots[i]
	s.mu.Unlock()
	s.emit("grid_slot_toggled", map[string]any{"slot": i, "active": on})
	return true
}

func (s *UIStore) ActiveSlotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, on := range s.st.Grid.ActiveSlots {
		if on {
			n++
		}
	}
	return n
}

// MaxAllowedAlgorithms is the active-set cap; it does not vary by view.
func (s *UIStore) MaxAllowedAlgorithms() int { return MaxActiveAlgorithms }

func (s *UIStore) ToggleSidebar() {
	s.mu.Lock()
	s.st.SidebarOpen = !s.st.SidebarOpen
	open := s.st.SidebarOpen
	s.mu.Unlock()
	s.persist()
	s.emit("sidebar_changed", map[string]any{"open": open})
}

func (s *UIStore) SetSidebarOpen(open bool) {
	s.mu.Lock()
	s.st.SidebarOpen = open
	s.mu.Unlock()
	s.persist()
	s.emit("sidebar_changed", map[string]any{"open": open})
}

func (s *UIStore) ToggleDarkMode() {
	s.mu.Lock()
	s.st.DarkMode = !s.st.DarkMode
	dark := s.st.DarkMode
	s.mu.Unlock()
	s.persist()
	s.emit("dark_mode_changed", map[string]any{"dark": dark})
}

// ToggleFullscreen flips fullscreen. It is not persisted.
func (s *UIStore) ToggleFullscreen() {
	s.mu.Lock()
	s.st.Fullscreen = !s.st.Fullscreen
	fs := s.st.Fullscreen
	s.mu.Unlock()
	s.emit("fullscreen_changed", map[string]any{"fullscreen": fs})
}

// AddToast queues a toast and returns its id. Toasts with a positive
// duration remove themselves when it elapses.
func (s *UIStore) AddToast(in ToastInput) string {
	d := in.Duration
	if d == 0 {
		d = s.toastDefault
	}
	if in.Type == "" {
		in.Type = ToastInfo
	}
	t := Toast{ID: uuid.NewString(), Type: in.Type, Message: in.Message, Duration: d, CreatedAt: s.now()}
	s.mu.Lock()
	s.st.Toasts = append(s.st.Toasts, t)
	if d > 0 {
		id := t.ID
		s.timers[id] = s.sched.AfterFunc(d, func() { s.RemoveToast(id) })
	}
	s.mu.Unlock()
	s.emit("toast_added", map[string]any{"id": t.ID, "type": string(t.Type), "message": t.Message})
	return t.ID
}

// RemoveToast drops toast id. Unknown ids are ignored.
func (s *UIStore) RemoveToast(id string) bool {
	s.mu.Lock()
	if tm, ok := s.timers[id]; ok {
		tm.Stop()
		delete(s.timers, id)
	}
	kept := s.st.Toasts[:0:0]
	for _, t := range s.st.Toasts {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	removed := len(kept) != len(s.st.Toasts)
	s.st.Toasts = kept
	s.mu.Unlock()
	if removed {
		s.emit("toast_removed", map[string]any{"id": id})
	}
	return removed
}

func (s *UIStore) ClearToasts() {
	s.mu.Lock()
	for id, tm := range s.timers {
		tm.Stop()
		delete(s.timers, id)
	}
	s.st.Toasts = nil
	s.mu.Unlock()
	s.emit("toasts_cleared", nil)
}

func (s *UIStore) Toasts() []Toast {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Toast(nil), s.st.Toasts...)
}

func (s *UIStore) Snapshot() UIState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st
	st.Toasts = append([]Toast(nil), s.st.Toasts...)
	return st
}

// Close stops pending toast timers.
func (s *UIStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tm := range s.timers {
		tm.Stop()
		delete(s.timers, id)
	}
}
