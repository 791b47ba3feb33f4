package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps all sessions in a single JSON file. Writes go
// through a temp file and rename so a crash never leaves a truncated
// store behind.
type FileStore struct {
	path string

	mu sync.Mutex
}

type fileContents struct {
	CurrentRoom string             `json:"current_room,omitempty"`
	Sessions    map[string]Session `json:"sessions"`
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get(roomID string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.load()
	if err != nil {
		return Session{}, false, err
	}
	sess, ok := contents.Sessions[roomID]
	return sess, ok, nil
}

func (s *FileStore) Put(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(func(contents *fileContents) {
		contents.Sessions[sess.RoomID] = sess
	})
}

func (s *FileStore) Delete(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(func(contents *fileContents) {
		delete(contents.Sessions, roomID)
	})
}

func (s *FileStore) CurrentRoom() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.load()
	if err != nil {
		return "", false, err
	}
	return contents.CurrentRoom, contents.CurrentRoom != "", nil
}

func (s *FileStore) SetCurrentRoom(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(func(contents *fileContents) {
		contents.CurrentRoom = roomID
	})
}

func (s *FileStore) ClearCurrentRoom() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(func(contents *fileContents) {
		contents.CurrentRoom = ""
	})
}

func (s *FileStore) load() (*fileContents, error) {
	contents := &fileContents{Sessions: make(map[string]Session)}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return contents, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session store: %w", err)
	}
	if err := json.Unmarshal(data, contents); err != nil {
		return nil, fmt.Errorf("failed to parse session store: %w", err)
	}
	if contents.Sessions == nil {
		contents.Sessions = make(map[string]Session)
	}
	return contents, nil
}

func (s *FileStore) update(apply func(*fileContents)) error {
	contents, err := s.load()
	if err != nil {
		return err
	}
	apply(contents)

	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session store directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace session store: %w", err)
	}
	return nil
}
