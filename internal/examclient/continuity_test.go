package examclient

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestFileStoreRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "continuity.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	examID := uuid.New()
	rec := AttemptRecord{StudentID: 7, ExamID: examID, DurationMinutes: 45}
	if err := store.SaveAttempt(rec); err != nil {
		t.Fatalf("SaveAttempt: %v", err)
	}
	if err := store.SaveRemaining(examID, 1200); err != nil {
		t.Fatalf("SaveRemaining: %v", err)
	}

	// A fresh store over the same file sees the persisted state, like a
	// process restart would.
	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore reopen: %v", err)
	}
	got, remaining, ok := reopened.Load()
	if !ok {
		t.Fatal("Load: no record after reopen")
	}
	if got != rec {
		t.Fatalf("record = %+v, want %+v", got, rec)
	}
	if remaining != 1200 {
		t.Fatalf("remaining = %d, want 1200", remaining)
	}
}

func TestFileStoreClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "continuity.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	examID := uuid.New()
	if err := store.SaveAttempt(AttemptRecord{StudentID: 1, ExamID: examID, DurationMinutes: 10}); err != nil {
		t.Fatalf("SaveAttempt: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, _, ok := store.Load(); ok {
		t.Fatal("Load should report nothing after Clear")
	}
}

func TestFileStoreCorruptFileDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "continuity.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, _, ok := store.Load(); ok {
		t.Fatal("corrupt file should read as empty, not error")
	}

	// Writes recover the file.
	examID := uuid.New()
	if err := store.SaveAttempt(AttemptRecord{StudentID: 2, ExamID: examID, DurationMinutes: 20}); err != nil {
		t.Fatalf("SaveAttempt after corruption: %v", err)
	}
	if _, _, ok := store.Load(); !ok {
		t.Fatal("Load should see the rewritten record")
	}
}

func TestMemoryStoreRoundtrip(t *testing.T) {
	store := NewMemoryStore()
	examID := uuid.New()

	if _, _, ok := store.Load(); ok {
		t.Fatal("empty store should report no record")
	}
	if err := store.SaveAttempt(AttemptRecord{StudentID: 3, ExamID: examID, DurationMinutes: 15}); err != nil {
		t.Fatalf("SaveAttempt: %v", err)
	}
	if err := store.SaveRemaining(examID, 33); err != nil {
		t.Fatalf("SaveRemaining: %v", err)
	}
	rec, remaining, ok := store.Load()
	if !ok || rec.StudentID != 3 || remaining != 33 {
		t.Fatalf("Load = %+v, %d, %v", rec, remaining, ok)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, _, ok := store.Load(); ok {
		t.Fatal("Load should report nothing after Clear")
	}
}
