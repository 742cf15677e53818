package session

import (
	"sort"
	"sync"

	"github.com/soyeahso/tally/internal/domain"
)

// Store keeps one Session per conversation.
//
// The store-wide lock only guards the map; each session has its own lock,
// so work on one conversation never waits on another.
type Store struct {
	mu       sync.RWMutex
	sessions map[domain.ConversationID]*Handle
}

// Handle gives scoped access to a single session.
type Handle struct {
	mu   sync.Mutex
	sess *Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[domain.ConversationID]*Handle),
	}
}

// GetOrCreate returns the handle for id, creating an empty session on first
// use. Concurrent callers for the same id always get the same handle.
func (s *Store) GetOrCreate(id domain.ConversationID) *Handle {
	s.mu.RLock()
	h, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.sessions[id]; ok {
		return h
	}
	h = &Handle{sess: newSession(id)}
	s.sessions[id] = h
	return h
}

// WithSession runs fn with exclusive access to the session for id.
func (s *Store) WithSession(id domain.ConversationID, fn func(*Session)) {
	s.GetOrCreate(id).Do(fn)
}

// Snapshot returns a copy of the session for id without creating it.
func (s *Store) Snapshot(id domain.ConversationID) (Snapshot, bool) {
	s.mu.RLock()
	h, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	var snap Snapshot
	h.Do(func(sess *Session) { snap = sess.Snapshot() })
	return snap, true
}

// List returns snapshots of all sessions ordered by conversation id.
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	handles := make([]*Handle, 0, len(s.sessions))
	for _, h := range s.sessions {
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(handles))
	for _, h := range handles {
		h.Do(func(sess *Session) { snaps = append(snaps, sess.Snapshot()) })
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].ID.String() < snaps[j].ID.String()
	})
	return snaps
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Do runs fn while holding the session lock. fn must not block on I/O.
func (h *Handle) Do(fn func(*Session)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.sess)
}

// ID returns the conversation id of the session behind the handle.
func (h *Handle) ID() domain.ConversationID {
	return h.sess.id
}
