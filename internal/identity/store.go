package identity

import "sync"

// Store is the durable client-side storage for the two widget identifiers:
// a long-lived anonymous visitor id and a shorter-lived session id. The
// session resolver is the only writer; no ambient globals.
type Store interface {
	AnonID() string
	SetAnonID(id string)
	SessionID() string
	SetSessionID(id string)
	ClearSessionID()
}

// MemoryStore is an in-process Store for tests and embedded callers.
type MemoryStore struct {
	mu        sync.Mutex
	anonID    string
	sessionID string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) AnonID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anonID
}

func (s *MemoryStore) SetAnonID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anonID = id
}

func (s *MemoryStore) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *MemoryStore) SetSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
}

func (s *MemoryStore) ClearSessionID() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = ""
}
