package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "rooms.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SetChannel("guild-1", "chan-1"); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	if err := s.SetPanel("guild-1", "msg-1"); err != nil {
		t.Fatalf("SetPanel: %v", err)
	}

	// Reopen and verify the data survived.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if ch, ok := s2.Channel("guild-1"); !ok || ch != "chan-1" {
		t.Fatalf("channel: %q %v", ch, ok)
	}
	if id, ok := s2.Panel("guild-1"); !ok || id != "msg-1" {
		t.Fatalf("panel: %q %v", id, ok)
	}
}

func TestStoreRemoveGuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.SetChannel("guild-1", "chan-1")
	s.SetPanel("guild-1", "msg-1")
	s.SetChannel("guild-2", "chan-2")
	if err := s.RemoveGuild("guild-1"); err != nil {
		t.Fatalf("RemoveGuild: %v", err)
	}
	if _, ok := s.Channel("guild-1"); ok {
		t.Fatal("guild-1 channel should be gone")
	}
	if _, ok := s.Panel("guild-1"); ok {
		t.Fatal("guild-1 panel should be gone")
	}
	if _, ok := s.Channel("guild-2"); !ok {
		t.Fatal("guild-2 must survive")
	}
}

func TestStoreCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(s.Channels()) != 0 {
		t.Fatalf("channels: %v", s.Channels())
	}
	// Writes work and replace the corrupt file.
	if err := s.SetChannel("guild-1", "chan-1"); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if ch, _ := s2.Channel("guild-1"); ch != "chan-1" {
		t.Fatalf("channel: %q", ch)
	}
}

func TestStoreFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SetChannel("g", "c"); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("permissions: %o", info.Mode().Perm())
	}
}
