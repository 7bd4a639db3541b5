package chat

// Registry is the per-room session bookkeeping: handle to session binding plus
// the authenticated flag. It performs no I/O and carries no locking; it is
// owned and accessed exclusively by its room's coordinator loop.
type Registry struct {
	sessions map[string]*Session
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a session handle. The session starts unauthenticated.
func (r *Registry) Add(s *Session) {
	r.sessions[s.ID()] = s
}

// Remove deletes the handle if it still maps to this exact session.
// Returns true when the session was present.
func (r *Registry) Remove(s *Session) bool {
	current, ok := r.sessions[s.ID()]
	if !ok || current != s {
		return false
	}
	delete(r.sessions, s.ID())
	return true
}

// Len returns the number of registered sessions, authenticated or not.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// Authenticated returns every session bound to an identity, in no particular order.
func (r *Registry) Authenticated() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Authenticated() {
			out = append(out, s)
		}
	}
	return out
}

// SessionsFor returns the authenticated sessions bound to the given user
// identity. Multi-connection presence means there can be several.
func (r *Registry) SessionsFor(userID string) []*Session {
	var out []*Session
	for _, s := range r.sessions {
		if s.Authenticated() && s.Identity().ID == userID {
			out = append(out, s)
		}
	}
	return out
}

// Each calls fn for every registered session.
func (r *Registry) Each(fn func(*Session)) {
	for _, s := range r.sessions {
		fn(s)
	}
}
