package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xfeldman/winbox/internal/registry"
)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := registry.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	keyPath := filepath.Join(dir, "master.key")
	s, err := NewStore(keyPath, db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, keyPath
}

func TestNewStore_GeneratesKey(t *testing.T) {
	_, keyPath := testStore(t)

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("stat key: %v", err)
	}
	if info.Size() != masterKeyLen {
		t.Errorf("key size = %d, want %d", info.Size(), masterKeyLen)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("key perm = %o, want 0600", perm)
	}
}

func TestNewStore_RejectsCorruptKey(t *testing.T) {
	dir := t.TempDir()
	db, err := registry.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	keyPath := filepath.Join(dir, "master.key")
	if err := os.WriteFile(keyPath, []byte("short"), 0600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if _, err := NewStore(keyPath, db); err == nil {
		t.Fatal("expected error for truncated master key")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	s, _ := testStore(t)

	if err := s.Set(NameGuestPassword, "hunter2"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, found, err := s.Get(NameGuestPassword)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found || got != "hunter2" {
		t.Errorf("get = %q, found=%v", got, found)
	}

	// Overwrite
	if err := s.Set(NameGuestPassword, "changed"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _, _ = s.Get(NameGuestPassword)
	if got != "changed" {
		t.Errorf("after overwrite = %q", got)
	}
}

func TestGet_Absent(t *testing.T) {
	s, _ := testStore(t)
	_, found, err := s.Get("nothing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Error("found absent secret")
	}
}

func TestNamesAndDelete(t *testing.T) {
	s, _ := testStore(t)

	if err := s.Set(NameGuestUsername, "Docker"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(NameGuestPassword, "pw"); err != nil {
		t.Fatalf("set: %v", err)
	}

	names, err := s.Names()
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("names = %v", names)
	}

	if err := s.Delete(NameGuestUsername); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := s.Get(NameGuestUsername); found {
		t.Error("secret survived delete")
	}
}

func TestCiphertextNotPlaintext(t *testing.T) {
	s, _ := testStore(t)

	if err := s.Set("k", "very-secret-value"); err != nil {
		t.Fatalf("set: %v", err)
	}
	ct, err := s.encrypt([]byte("very-secret-value"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if string(ct) == "very-secret-value" {
		t.Error("ciphertext equals plaintext")
	}

	// Tampered ciphertext must not decrypt.
	ct[len(ct)-1] ^= 0xff
	if _, err := s.decrypt(ct); err == nil {
		t.Error("tampered ciphertext decrypted")
	}
}
