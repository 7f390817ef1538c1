package gateway

import "sync"

// Registry is the process-wide table of authenticated sessions keyed by
// device id. It is the single source of truth for who is connected and
// holds at most one session per device id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register installs s as the live session for its device id, closing
// and returning the session it displaced, if any. The map swap is
// atomic: readers observe either the old session or the new one, never
// neither.
func (r *Registry) Register(s *Session) *Session {
	r.mu.Lock()
	old := r.sessions[s.DeviceID]
	r.sessions[s.DeviceID] = s
	r.mu.Unlock()

	if old != nil {
		old.Close(CloseSuperseded, "superseded")
	}
	return old
}

// Unregister removes s if it still owns its device id slot. It is a
// no-op when a newer session has already displaced s.
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[s.DeviceID]; ok && cur.ID == s.ID {
		delete(r.sessions, s.DeviceID)
	}
	r.mu.Unlock()
}

// Lookup returns the live session for deviceID.
func (r *Registry) Lookup(deviceID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[deviceID]
	return s, ok
}

// Desktop returns the currently connected desktop session, if any.
func (r *Registry) Desktop() (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.Role == RoleDesktop {
			return s, true
		}
	}
	return nil, false
}

// BroadcastTargets returns a snapshot of every session except the one
// with the given session id.
func (r *Registry) BroadcastTargets(excludeSessionID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.ID != excludeSessionID {
			targets = append(targets, s)
		}
	}
	return targets
}

// All returns a snapshot of every session.
func (r *Registry) All() []*Session {
	return r.BroadcastTargets("")
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
