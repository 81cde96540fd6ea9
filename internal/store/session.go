package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"segclient/pkg/types"
)

// MaxSavedSessions bounds the saved sessions; the oldest insertions go first.
const MaxSavedSessions = 10

// SessionSnapshot is a named capture of image, algorithms and results.
type SessionSnapshot struct {
	ID         string                     `json:"id"`
	Timestamp  time.Time                  `json:"timestamp"`
	Image      *types.ImageInfo           `json:"image,omitempty"`
	Algorithms []types.AlgorithmConfig    `json:"algorithms"`
	Results    []types.SegmentationResult `json:"results"`
	Name       string                     `json:"name,omitempty"`
}

// Clone returns a deep copy.
func (s SessionSnapshot) Clone() SessionSnapshot {
	s.Image = cloneImage(s.Image)
	s.Algorithms = cloneConfigs(s.Algorithms)
	s.Results = cloneResults(s.Results)
	return s
}

type sessionPersisted struct {
	CurrentSession *SessionSnapshot  `json:"current_session"`
	SavedSessions  []SessionSnapshot `json:"saved_sessions"`
}

type SessionStore struct {
	base

	mu      sync.Mutex
	current *SessionSnapshot
	// saved is kept in insertion order.
	saved []SessionSnapshot
}

func NewSessionStore(o Options) *SessionStore {
	s := &SessionStore{}
	s.init("session", NamespaceSession, o)
	return s
}

func (s *SessionStore) Load(ctx context.Context) error {
	var p sessionPersisted
	ok, err := s.load(ctx, &p)
	if !ok {
		return err
	}
	s.mu.Lock()
	s.current = cloneSession(p.CurrentSession)
	s.saved = p.SavedSessions
	if n := len(s.saved); n > MaxSavedSessions {
		s.saved = s.saved[n-MaxSavedSessions:]
	}
	s.mu.Unlock()
	s.emit("restored", map[string]any{"saved": len(p.SavedSessions)})
	return nil
}

func (s *SessionStore) persist() {
	s.save(func() any {
		s.mu.Lock()
		defer s.mu.Unlock()
		saved := make([]SessionSnapshot, len(s.saved))
		for i, x := range s.saved {
			saved[i] = x.Clone()
		}
		return sessionPersisted{CurrentSession: cloneSession(s.current), SavedSessions: saved}
	})
}

// CreateNewSession starts an empty current session.
func (s *SessionStore) CreateNewSession() SessionSnapshot {
	snap := SessionSnapshot{ID: uuid.NewString(), Timestamp: s.now()}
	s.mu.Lock()
	s.current = cloneSession(&snap)
	s.mu.Unlock()
	s.persist()
	s.emit("session_created", map[string]any{"id": snap.ID})
	return snap
}

// UpdateCurrentSession applies fn to the current session and stamps it.
// Without a current session it does nothing and returns false.
func (s *SessionStore) UpdateCurrentSession(fn func(*SessionSnapshot)) bool {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return false
	}
	fn(s.current)
	s.current.Timestamp = s.now()
	id := s.current.ID
	s.mu.Unlock()
	s.persist()
	s.emit("session_updated", map[string]any{"id": id})
	return true
}

// SaveCurrentSession copies the current session into the saved list under
// name, replacing an entry with the same id. An empty name keeps the
// existing one or falls back to "Session <time>".
func (s *SessionStore) SaveCurrentSession(name string) (SessionSnapshot, bool) {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return SessionSnapshot{}, false
	}
	snap := s.current.Clone()
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	snap.Timestamp = s.now()
	switch {
	case name != "":
		snap.Name = name
	case snap.Name == "":
		snap.Name = "Session " + snap.Timestamp.Format("2006-01-02 15:04:05")
	}
	kept := make([]SessionSnapshot, 0, len(s.saved)+1)
	for _, x := range s.saved {
		if x.ID != snap.ID {
			kept = append(kept, x)
		}
	}
	kept = append(kept, snap)
	if n := len(kept); n > MaxSavedSessions {
		kept = kept[n-MaxSavedSessions:]
	}
	s.saved = kept
	s.current = cloneSession(&snap)
	s.mu.Unlock()
	s.persist()
	s.emit("session_saved", map[string]any{"id": snap.ID, "name": snap.Name})
	return snap.Clone(), true
}

// LoadSession makes a copy of the saved session id current and returns it,
// or nil when there is none.
func (s *SessionStore) LoadSession(id string) *SessionSnapshot {
	s.mu.Lock()
	var found *SessionSnapshot
	for i := range s.saved {
		if s.saved[i].ID == id {
			found = cloneSession(&s.saved[i])
			break
		}
	}
	if found != nil {
		s.current = cloneSession(found)
	}
	s.mu.Unlock()
	if found == nil {
		return nil
	}
	s.persist()
	s.emit("session_loaded", map[string]any{"id": id})
	return found
}

// DeleteSession removes the saved session id. Deleting twice is harmless.
func (s *SessionStore) DeleteSession(id string) bool {
	s.mu.Lock()
	kept := s.saved[:0:0]
	for _, x := range s.saved {
		if x.ID != id {
			kept = append(kept, x)
		}
	}
	removed := len(kept) != len(s.saved)
	s.saved = kept
	s.mu.Unlock()
	if removed {
		s.persist()
		s.emit("session_deleted", map[string]any{"id": id})
	}
	return removed
}

func (s *SessionStore) ClearSessions() {
	s.mu.Lock()
	s.saved = nil
	s.mu.Unlock()
	s.persist()
	s.emit("sessions_cleared", nil)
}

// SavedSessions returns the saved sessions newest first. Storage order is
// not affected.
func (s *SessionStore) SavedSessions() []SessionSnapshot {
	s.mu.Lock()
	out := make([]SessionSnapshot, len(s.saved))
	for i, x := range s.saved {
		out[i] = x.Clone()
	}
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// Current returns a copy of the current session, or nil.
func (s *SessionStore) Current() *SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSession(s.current)
}

func cloneSession(s *SessionSnapshot) *SessionSnapshot {
	if s == nil {
		return nil
	}
	c := s.Clone()
	return &c
}
