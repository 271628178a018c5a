package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/micahchoo/troparcel/pkg/crdt"
	"github.com/micahchoo/troparcel/pkg/vault"
)

func newTestDocWithOneItem(t *testing.T) *crdt.Doc {
	t.Helper()
	doc := crdt.New("user-1")
	doc.Transact(crdt.LocalOrigin, func(tx *crdt.Tx) {
		tx.SetChecksums("identity-1", []string{"chk-1"})
		tx.SetTag("identity-1", "favourite", crdt.TagEntry{Name: "favourite", Color: "#ff0000", Author: "user-1"})
	})
	return doc
}

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.Open(filepath.Join(t.TempDir(), "vault.json"))
	if err != nil {
		t.Fatalf("vault.Open: %v", err)
	}
	return v
}

func TestCaptureSortsItemsByIdentity(t *testing.T) {
	doc := crdt.New("user-1")
	doc.Transact(crdt.LocalOrigin, func(tx *crdt.Tx) {
		tx.SetChecksums("zzz", []string{"chk-z"})
		tx.SetChecksums("aaa", []string{"chk-a"})
	})

	m := NewManager(t.TempDir(), "room-1", 5)
	snap := m.Capture(doc, "2026-01-01T00:00:00Z")

	if len(snap.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(snap.Items))
	}
	if snap.Items[0].Identity != "aaa" || snap.Items[1].Identity != "zzz" {
		t.Fatalf("Items not sorted by identity: %+v", snap.Items)
	}
	if snap.Room != "room-1" {
		t.Fatalf("Room = %q, want room-1", snap.Room)
	}
}

func TestSaveWritesFileAndSkipsUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, "room-1", 5)
	v := newTestVault(t)
	doc := newTestDocWithOneItem(t)

	snap := m.Capture(doc, "2026-01-01T00-00-00Z")
	if err := m.Save(snap, v); err != nil {
		t.Fatalf("Save: %v", err)
	}

	backupDir := filepath.Join(dir, "room-1")
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1 after first Save", len(entries))
	}

	// Saving the identical snapshot again should be a no-op: the vault
	// already recorded this content hash.
	if err := m.Save(snap, v); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	entries, err = os.ReadDir(backupDir)
	if err != nil {
		t.Fatalf("ReadDir after second Save: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d after identical Save, want still 1", len(entries))
	}
}

func TestSavePrunesBeyondMaxBackups(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, "room-1", 2)
	v := newTestVault(t)
	doc := newTestDocWithOneItem(t)

	timestamps := []string{
		"2026-01-01T00-00-00Z",
		"2026-01-02T00-00-00Z",
		"2026-01-03T00-00-00Z",
	}
	for i, ts := range timestamps {
		doc.Transact(crdt.LocalOrigin, func(tx *crdt.Tx) {
			tx.SetTag("identity-1", "favourite", crdt.TagEntry{Name: "favourite", Color: "#ff0000", Author: "user-1", PushSeq: uint64(i + 1)})
		})
		snap := m.Capture(doc, ts)
		if err := m.Save(snap, v); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(dir, "room-1"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2 after pruning to maxBackups", len(entries))
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, "room-1", 5)
	v := newTestVault(t)
	doc := newTestDocWithOneItem(t)

	snap := m.Capture(doc, "2026-01-01T00-00-00Z")
	if err := m.Save(snap, v); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "room-1"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected exactly one backup file, got %v (err %v)", entries, err)
	}

	loaded, err := Load(filepath.Join(dir, "room-1", entries[0].Name()))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Room != snap.Room || len(loaded.Items) != len(snap.Items) {
		t.Fatalf("Load() = %+v, want round-trip of %+v", loaded, snap)
	}
}

func TestSanitiseDirNameStripsPathSeparators(t *testing.T) {
	cases := map[string]string{
		"room-1":    "room-1",
		"a/b":       "a_b",
		"a\\b":      "a_b",
		"../../etc": "____etc",
		"..":        "_",
	}
	for in, want := range cases {
		if got := sanitiseDirName(in); got != want {
			t.Errorf("sanitiseDirName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("Load of a missing file should error")
	}
}
