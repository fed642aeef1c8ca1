package examclient

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// AttemptRecord identifies the device's active attempt across restarts.
type AttemptRecord struct {
	StudentID       int       `json:"student_id"`
	ExamID          uuid.UUID `json:"exam_id"`
	DurationMinutes int       `json:"duration_minutes"`
}

// ContinuityStore persists the active attempt identity and its last-known
// remaining seconds, so a restarted client resumes the same attempt instead
// of trying to start a new one. The cached remaining value is only a
// placeholder until the first reconciliation; it is never trusted for long.
type ContinuityStore interface {
	SaveAttempt(rec AttemptRecord) error
	SaveRemaining(examID uuid.UUID, seconds int) error
	// Load returns the active record and its cached remaining seconds.
	// ok is false when no attempt is recorded.
	Load() (rec AttemptRecord, remaining int, ok bool)
	Clear() error
}

// fileState is the on-disk document.
type fileState struct {
	Active    *AttemptRecord `json:"active,omitempty"`
	Remaining map[string]int `json:"remaining,omitempty"`
}

// FileStore is a ContinuityStore backed by one JSON file. Writes go through
// a temp file and rename so a crash mid-write cannot corrupt the record.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore at the given path, creating parent
// directories as needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &FileStore{path: path}, nil
}

// SaveAttempt implements ContinuityStore.
func (s *FileStore) SaveAttempt(rec AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.read()
	state.Active = &rec
	return s.write(state)
}

// SaveRemaining implements ContinuityStore.
func (s *FileStore) SaveRemaining(examID uuid.UUID, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.read()
	if state.Remaining == nil {
		state.Remaining = make(map[string]int)
	}
	state.Remaining[examID.String()] = seconds
	return s.write(state)
}

// Load implements ContinuityStore.
func (s *FileStore) Load() (AttemptRecord, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.read()
	if state.Active == nil {
		return AttemptRecord{}, 0, false
	}
	return *state.Active, state.Remaining[state.Active.ExamID.String()], true
}

// Clear implements ContinuityStore.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) read() fileState {
	var state fileState
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return state
	}
	// A corrupt file degrades to an empty state; losing the cache is safe
	// because the server still knows the attempt.
	_ = json.Unmarshal(raw, &state)
	return state
}

func (s *FileStore) write(state fileState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// MemoryStore is an in-memory ContinuityStore for tests and throwaway runs.
type MemoryStore struct {
	mu        sync.Mutex
	active    *AttemptRecord
	remaining map[string]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{remaining: make(map[string]int)}
}

// SaveAttempt implements ContinuityStore.
func (s *MemoryStore) SaveAttempt(rec AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = &rec
	return nil
}

// SaveRemaining implements ContinuityStore.
func (s *MemoryStore) SaveRemaining(examID uuid.UUID, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remaining[examID.String()] = seconds
	return nil
}

// Load implements ContinuityStore.
func (s *MemoryStore) Load() (AttemptRecord, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return AttemptRecord{}, 0, false
	}
	return *s.active, s.remaining[s.active.ExamID.String()], true
}

// Clear implements ContinuityStore.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
	s.remaining = make(map[string]int)
	return nil
}
