package store

import "sync"

// MemoryStore is the SessionStore used in tests and for ephemeral
// sessions that should not survive the process.
type MemoryStore struct {
	mu          sync.Mutex
	currentRoom string
	sessions    map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (s *MemoryStore) Get(roomID string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[roomID]
	return sess, ok, nil
}

func (s *MemoryStore) Put(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.RoomID] = sess
	return nil
}

func (s *MemoryStore) Delete(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, roomID)
	return nil
}

func (s *MemoryStore) CurrentRoom() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRoom, s.currentRoom != "", nil
}

func (s *MemoryStore) SetCurrentRoom(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentRoom = roomID
	return nil
}

func (s *MemoryStore) ClearCurrentRoom() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentRoom = ""
	return nil
}
