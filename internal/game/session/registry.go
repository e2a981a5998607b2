package session

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Summary describes one session for the operator surface.
type Summary struct {
	ID       string
	ItemSync bool
	Players  string
}

// Registry tracks all live sessions and retires the ones nobody has been
// bound to for longer than the idle timeout. All methods are safe for
// concurrent use.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	defaultTTL  int
	idleTimeout time.Duration
	logger      *zap.Logger
}

// NewRegistry creates an empty session Registry.
//
// Precondition: defaultTTL >= 1; idleTimeout > 0; logger non-nil.
func NewRegistry(defaultTTL int, idleTimeout time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		defaultTTL:  defaultTTL,
		idleTimeout: idleTimeout,
		logger:      logger,
	}
}

// Create registers a new session with the given pre-allocated slot count.
//
// Precondition: id must not already be registered.
func (r *Registry) Create(id string, slots int, itemSync bool) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := New(id, slots, itemSync, r.defaultTTL, r.logger)
	r.sessions[id] = s
	return s
}

// GetOrCreate returns the session with the given id, creating an empty one
// when it is unknown (a client may join a session the server no longer
// holds, e.g. after an idle retirement).
//
// Postcondition: Returns the session and whether it was created by this call.
func (r *Registry) GetOrCreate(id string, itemSync bool) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s, false
	}
	s := New(id, 0, itemSync, r.defaultTTL, r.logger)
	r.sessions[id] = s
	return s, true
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns summaries of all live sessions, ordered by id.
func (r *Registry) List() []Summary {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID() < sessions[j].ID() })
	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, Summary{ID: s.ID(), ItemSync: s.IsItemSync(), Players: s.PlayerString()})
	}
	return out
}

// Sweep runs one resend pass over every session and retires the sessions
// that have sat idle past the timeout.
//
// Postcondition: Returns the slots whose resend writes failed; retired
// sessions are removed from the registry.
func (r *Registry) Sweep(now time.Time) []SweepFailure {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	var failures []SweepFailure
	for _, s := range sessions {
		failures = append(failures, s.Sweep(now)...)
		if s.IdleFor(now, r.idleTimeout) {
			r.mu.Lock()
			delete(r.sessions, s.ID())
			r.mu.Unlock()
			r.logger.Info("retired idle session", zap.String("session", s.ID()))
		}
	}
	return failures
}
