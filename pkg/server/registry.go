package server

import (
	"errors"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// ErrNameTaken is returned by Registry.Add for a name that is already registered.
var ErrNameTaken = errors.New("server: name already taken")

// Registry maps display names to live sessions. All access goes through its
// methods; the lock is never exposed.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // name -> session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Add registers s under its name. The uniqueness check and the insert happen
// under one lock, so two concurrent joins with the same name cannot both win.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.name]; exists {
		return ErrNameTaken
	}
	r.sessions[s.name] = s
	return nil
}

// Remove unregisters s and reports whether this call removed it. A name that
// now belongs to a different session is left alone. Exactly one caller sees
// true per registration, and only that caller announces the departure.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.name]; !ok || cur != s {
		return false
	}
	delete(r.sessions, s.name)
	return true
}

// FindByName returns the session registered under name.
func (r *Registry) FindByName(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	return s, ok
}

// ForEach calls fn for every session except excluding (which may be nil).
// The read lock is held until fn has returned for every session, so no
// session joins or leaves during the iteration. fn must not call methods that
// take the write lock.
func (r *Registry) ForEach(excluding *Session, fn func(s *Session)) {
	r.Fanout(excluding, fn, func() {})
}

// Fanout is ForEach with a barrier: once fn has been called for every
// session, wait runs before the read lock is released. fn may hand work to
// other goroutines as long as wait blocks until that work is done and the work
// does not touch the registry.
func (r *Registry) Fanout(excluding *Session, fn func(s *Session), wait func()) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s == excluding {
			continue
		}
		fn(s)
	}
	wait()
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := lo.Keys(r.sessions)
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Drain unregisters every session and returns them. Used on shutdown.
func (r *Registry) Drain() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := lo.Values(r.sessions)
	r.sessions = make(map[string]*Session)
	return all
}
