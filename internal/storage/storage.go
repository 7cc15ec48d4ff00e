package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/lehigh-university-libraries/linecrop/internal/session"
)

// Entry is one stored cropping session. Callers hold Lock while touching
// Session, which is not safe for concurrent use.
type Entry struct {
	sync.Mutex

	ID        string
	Filename  string
	CreatedAt time.Time
	UpdatedAt time.Time
	Session   *session.Session
}

// Touch records a modification; call it with the entry locked.
func (e *Entry) Touch() {
	e.UpdatedAt = time.Now()
}

type SessionStore struct {
	sessions map[string]*Entry
	mu       sync.RWMutex
}

func New() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Entry),
	}
}

func (s *SessionStore) Get(sessionID string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, exists := s.sessions[sessionID]
	return entry, exists
}

func (s *SessionStore) Set(entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[entry.ID] = entry
}

// List returns every entry, oldest first.
func (s *SessionStore) List() []*Entry {
	s.mu.RLock()
	result := make([]*Entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		result = append(result, e)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func (s *SessionStore) Delete(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	return exists
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
