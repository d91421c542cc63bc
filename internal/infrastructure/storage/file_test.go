package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/clinicroom/waiting-room/internal/core/domain"
	"github.com/clinicroom/waiting-room/internal/core/ports"
)

func TestFileSessionStorage_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewFileSessionStorage(path)

	sess := ports.StoredSession{
		Identity: domain.Identity{ID: 3, Name: "Ann Lee", Email: "ann@example.com", Role: domain.RoleVisitor, RoleID: 7},
		Token:    "tok-1",
	}
	if err := store.Save(sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("session file mode = %o, want 600", perm)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.Token != "tok-1" || got.Identity.RoleID != 7 {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestFileSessionStorage_MissingFileIsNoSession(t *testing.T) {
	store := NewFileSessionStorage(filepath.Join(t.TempDir(), "absent.json"))
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil session, got %+v", got)
	}
}

func TestFileSessionStorage_CorruptFileIsDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store := NewFileSessionStorage(path)
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected corrupt session to be discarded, got %+v", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("corrupt session file should have been removed")
	}
}

func TestFileSessionStorage_ClearIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewFileSessionStorage(path)

	if err := store.Save(ports.StoredSession{Token: "tok"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
}
