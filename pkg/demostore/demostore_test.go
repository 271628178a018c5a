package demostore

import (
	"context"
	"testing"

	"github.com/micahchoo/troparcel/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndListItems(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	item := &types.Item{Title: "Letter", Photos: []types.Photo{{ID: 1, Checksum: "abc"}}}
	if err := s.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	items, err := s.ListItems(ctx)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 1 || items[0].Title != "Letter" {
		t.Fatalf("ListItems = %+v, want one item titled Letter", items)
	}
}

func TestUpsertAndDeleteNote(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	item := &types.Item{Photos: []types.Photo{{ID: 1, Checksum: "abc"}}}
	if err := s.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	noteID, err := s.UpsertNote(ctx, "", 1, 0, "<p>hi</p>", "en")
	if err != nil {
		t.Fatalf("UpsertNote: %v", err)
	}
	if noteID == 0 {
		t.Fatal("UpsertNote returned id 0")
	}

	got, err := s.GetItem(ctx, "1")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if len(got.Notes) != 1 || got.Notes[0].HTML != "<p>hi</p>" {
		t.Fatalf("GetItem after UpsertNote = %+v, want one note", got.Notes)
	}

	if _, err := s.UpsertNote(ctx, "1", 1, 0, "<p>edited</p>", "en"); err != nil {
		t.Fatalf("UpsertNote (update) = %v", err)
	}
	got, _ = s.GetItem(ctx, "1")
	if len(got.Notes) != 1 || got.Notes[0].HTML != "<p>edited</p>" {
		t.Fatalf("UpsertNote update = %+v, want one edited note", got.Notes)
	}

	if err := s.DeleteNote(ctx, noteID); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	got, _ = s.GetItem(ctx, "1")
	if len(got.Notes) != 0 {
		t.Fatalf("DeleteNote did not remove the note: %+v", got.Notes)
	}
}

func TestSuppressChangesReentrant(t *testing.T) {
	s := newTestStore(t)
	if s.Suppressed() {
		t.Fatal("Suppressed should start false")
	}
	resumeA := s.SuppressChanges()
	resumeB := s.SuppressChanges()
	if !s.Suppressed() {
		t.Fatal("Suppressed should be true while a bracket is open")
	}
	resumeA()
	if !s.Suppressed() {
		t.Fatal("Suppressed should stay true until every bracket resumes")
	}
	resumeB()
	if s.Suppressed() {
		t.Fatal("Suppressed should be false once every bracket resumes")
	}
}
