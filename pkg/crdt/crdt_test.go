package crdt

import "testing"

func TestObserverSkipsMatchingOrigin(t *testing.T) {
	d := New("alice")
	var fired int
	d.Observe(LocalOrigin, func(Change) { fired++ })

	d.Transact(LocalOrigin, func(tx *Tx) {
		tx.SetTag("item-1", "favourite", TagEntry{Name: "Favourite", Author: "alice"})
	})
	if fired != 0 {
		t.Fatalf("local-origin observer fired %d times for a local write, want 0", fired)
	}

	d.Transact(RemoteOrigin, func(tx *Tx) {
		tx.SetTag("item-1", "favourite", TagEntry{Name: "Favourite", Author: "alice"})
	})
	if fired != 1 {
		t.Fatalf("local-origin observer fired %d times for a remote write, want 1", fired)
	}
}

func TestSetNoteAndGetActiveNotes(t *testing.T) {
	d := New("alice")
	d.Transact(LocalOrigin, func(tx *Tx) {
		tx.SetNote("item-1", "note-uuid-1", NoteEntry{HTML: "<p>hi</p>", Author: "alice"})
	})

	active := d.GetActiveNotes("item-1")
	if len(active) != 1 || active["note-uuid-1"].HTML != "<p>hi</p>" {
		t.Fatalf("GetActiveNotes = %+v, want one note with hi", active)
	}

	d.Transact(LocalOrigin, func(tx *Tx) {
		tx.RemoveNote("item-1", "note-uuid-1", "alice", 1)
	})
	if active := d.GetActiveNotes("item-1"); len(active) != 0 {
		t.Fatalf("GetActiveNotes after remove = %+v, want empty", active)
	}
	all := d.GetNotes("item-1")
	if !all["note-uuid-1"].Deleted {
		t.Fatalf("GetNotes after remove = %+v, want tombstoned entry retained", all)
	}
}

func TestRemoveNoteCannotReassignAuthor(t *testing.T) {
	d := New("mallory")
	d.Transact(RemoteOrigin, func(tx *Tx) {
		tx.SetNote("item-1", "note-uuid-1", NoteEntry{HTML: "<p>hi</p>", Author: "alice"})
	})
	d.Transact(LocalOrigin, func(tx *Tx) {
		tx.RemoveNote("item-1", "note-uuid-1", "mallory", 1)
	})
	note := d.GetNotes("item-1")["note-uuid-1"]
	if note.Author != "alice" {
		t.Fatalf("note.Author = %q after remove by a different actor, want original author alice preserved", note.Author)
	}
}

func TestApplyUpdateRejectsSpoofedTombstone(t *testing.T) {
	docA := New("alice")
	docA.Transact(LocalOrigin, func(tx *Tx) {
		tx.SetNote("item-1", "note-uuid-1", NoteEntry{HTML: "<p>hi</p>", Author: "alice"})
	})
	update := docA.EncodeUpdate()

	docB := New("bob")
	docB.ApplyUpdate(update, RemoteOrigin)
	if active := docB.GetActiveNotes("item-1"); len(active) != 1 {
		t.Fatalf("docB active notes after honest update = %+v, want 1", active)
	}

	hostile := Update{Records: []RecordUpdate{{
		Identity: "item-1",
		Section:  SectionNotes,
		Key:      "note-uuid-1",
		Record:   Record{Fields: map[string]string{"html": ""}, Author: "mallory", Deleted: true},
		Clock:    9999,
		Writer:   "mallory",
	}}}
	docB.ApplyUpdate(hostile, RemoteOrigin)

	if active := docB.GetActiveNotes("item-1"); len(active) != 1 {
		t.Fatalf("docB active notes after spoofed tombstone = %+v, want the note to survive", active)
	}
}

func TestConvergenceAfterBidirectionalMerge(t *testing.T) {
	docA := New("alice")
	docB := New("bob")

	docA.Transact(LocalOrigin, func(tx *Tx) {
		tx.SetTag("item-1", "favourite", TagEntry{Name: "Favourite", Author: "alice"})
	})
	docB.Transact(LocalOrigin, func(tx *Tx) {
		tx.SetTag("item-1", "favourite", TagEntry{Name: "FAVOURITE", Author: "bob"})
	})

	updateA := docA.EncodeUpdate()
	updateB := docB.EncodeUpdate()

	docA.ApplyUpdate(updateB, RemoteOrigin)
	docB.ApplyUpdate(updateA, RemoteOrigin)

	tagsA := docA.GetTags("item-1")
	tagsB := docB.GetTags("item-1")
	if tagsA["favourite"].Name != tagsB["favourite"].Name {
		t.Fatalf("replicas diverged after merging both updates: a=%+v b=%+v", tagsA["favourite"], tagsB["favourite"])
	}
}

func TestEncodeUpdateDrainsOutbox(t *testing.T) {
	d := New("alice")
	d.Transact(LocalOrigin, func(tx *Tx) {
		tx.SetMetadata("item-1", "dc:title", MetadataEntry{Text: "Letter", Author: "alice"})
	})
	if u := d.EncodeUpdate(); len(u.Records) != 1 {
		t.Fatalf("EncodeUpdate = %d records, want 1", len(u.Records))
	}
	if u := d.EncodeUpdate(); len(u.Records) != 0 {
		t.Fatalf("second EncodeUpdate = %d records, want 0 (outbox already drained)", len(u.Records))
	}
}

func TestSelectionFieldsRoundTrip(t *testing.T) {
	d := New("alice")
	want := SelectionEntry{Checksum: "abc123", X: 0.125, Y: 0.5, W: 0.25, H: 0.3333333333, Angle: 90, Author: "alice"}
	d.Transact(LocalOrigin, func(tx *Tx) {
		tx.SetSelection("item-1", "sel-1", want)
	})
	got := d.GetSelections("item-1")["sel-1"]
	if got.X != want.X || got.Y != want.Y || got.W != want.W || got.H != want.H || got.Angle != want.Angle {
		t.Fatalf("selection round-trip = %+v, want %+v", got, want)
	}
}

func TestChecksumsSetGet(t *testing.T) {
	d := New("alice")
	d.Transact(LocalOrigin, func(tx *Tx) {
		tx.SetChecksums("item-1", []string{"c1", "c2", "c3"})
	})
	got := d.GetChecksums("item-1")
	if len(got) != 3 || got[0] != "c1" || got[2] != "c3" {
		t.Fatalf("GetChecksums = %v, want [c1 c2 c3]", got)
	}
}

func TestPhotoMetadataScopedByChecksum(t *testing.T) {
	d := New("alice")
	d.Transact(LocalOrigin, func(tx *Tx) {
		tx.SetPhotoMetadata("item-1", "checksum-a", "dc:description", MetadataEntry{Text: "front", Author: "alice"})
		tx.SetPhotoMetadata("item-1", "checksum-b", "dc:description", MetadataEntry{Text: "back", Author: "alice"})
	})
	a := d.GetPhotoMetadata("item-1", "checksum-a")
	b := d.GetPhotoMetadata("item-1", "checksum-b")
	if a["dc:description"].Text != "front" || b["dc:description"].Text != "back" {
		t.Fatalf("photo metadata not scoped correctly: a=%+v b=%+v", a, b)
	}
}

func TestGetSnapshotMaterialisesAllSections(t *testing.T) {
	d := New("alice")
	d.Transact(LocalOrigin, func(tx *Tx) {
		tx.SetMetadata("item-1", "dc:title", MetadataEntry{Text: "Letter", Author: "alice"})
		tx.SetTag("item-1", "favourite", TagEntry{Name: "Favourite", Author: "alice"})
		tx.SetNote("item-1", "note-1", NoteEntry{HTML: "<p>hi</p>", Author: "alice"})
		tx.SetPhotoMetadata("item-1", "checksum-a", "dc:description", MetadataEntry{Text: "front", Author: "alice"})
		tx.SetSelection("item-1", "sel-1", SelectionEntry{Checksum: "checksum-a", Author: "alice"})
		tx.SetSelectionMeta("item-1", "sel-1", "dc:description", MetadataEntry{Text: "detail", Author: "alice"})
		tx.SetSelectionNote("item-1", "sel-1", "note-2", SelectionNoteEntry{HTML: "<p>zoom</p>", Author: "alice"})
		tx.SetTranscription("item-1", "tx-1", TranscriptionEntry{Text: "hello", Author: "alice"})
		tx.SetList("item-1", "list-1", ListEntry{Name: "Inbox", Author: "alice"})
		tx.SetChecksums("item-1", []string{"checksum-a"})
	})

	snap := d.GetSnapshot("item-1")
	if snap == nil {
		t.Fatal("GetSnapshot = nil, want populated snapshot")
	}
	if snap.Metadata["dc:title"].Text != "Letter" {
		t.Errorf("snapshot metadata missing title")
	}
	if snap.Photos["checksum-a"].Metadata["dc:description"].Text != "front" {
		t.Errorf("snapshot photo metadata missing")
	}
	if snap.SelectionMeta["sel-1"]["dc:description"].Text != "detail" {
		t.Errorf("snapshot selection metadata missing")
	}
	if snap.SelectionNotes["sel-1"]["note-2"].HTML != "<p>zoom</p>" {
		t.Errorf("snapshot selection notes missing")
	}
	if snap.Transcriptions["tx-1"].Text != "hello" {
		t.Errorf("snapshot transcriptions missing")
	}
	if snap.Lists["list-1"].Name != "Inbox" {
		t.Errorf("snapshot lists missing")
	}
	if len(snap.Checksums) != 1 || snap.Checksums[0] != "checksum-a" {
		t.Errorf("snapshot checksums = %v", snap.Checksums)
	}
}
