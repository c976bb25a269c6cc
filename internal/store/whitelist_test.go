package store

import (
	"path/filepath"
	"testing"
	"time"

	"emberfall/server/internal/sim"
)

func openTestStore(t *testing.T) (*Whitelist, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "whitelist.db")
	wl, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { wl.Close() })
	return wl, path
}

func TestPutListDelete(t *testing.T) {
	wl, _ := openTestStore(t)

	addedAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := wl.Put(sim.WhitelistEntry{Name: "Steve", AddedBy: "admin", AddedAt: addedAt}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := wl.Put(sim.WhitelistEntry{Name: "Alex", AddedBy: "admin"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entries, err := wl.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Name != "Alex" || entries[1].Name != "Steve" {
		t.Fatalf("expected name ordering, got %+v", entries)
	}
	if !entries[1].AddedAt.Equal(addedAt) {
		t.Fatalf("expected timestamp round trip, got %v", entries[1].AddedAt)
	}

	if err := wl.Delete("Steve"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := wl.Delete("never-existed"); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}

	entries, err = wl.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "Alex" {
		t.Fatalf("unexpected entries after delete: %+v", entries)
	}
}

func TestMembershipSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.db")

	wl, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := wl.Put(sim.WhitelistEntry{Name: "Steve", AddedBy: "admin"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := wl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.List()
	if err != nil {
		t.Fatalf("List after reopen: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "Steve" {
		t.Fatalf("expected persisted membership, got %+v", entries)
	}
}

func TestPutReplacesExisting(t *testing.T) {
	wl, _ := openTestStore(t)

	if err := wl.Put(sim.WhitelistEntry{Name: "Steve", AddedBy: "first"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := wl.Put(sim.WhitelistEntry{Name: "Steve", AddedBy: "second"}); err != nil {
		t.Fatalf("Put replace: %v", err)
	}

	entries, err := wl.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].AddedBy != "second" {
		t.Fatalf("expected replacement, got %+v", entries)
	}
}
