package backup

import (
	"testing"

	"github.com/micahchoo/troparcel/pkg/crdt"
)

func TestFilterUpdateDropsOversizeNote(t *testing.T) {
	u := crdt.Update{
		Records: []crdt.RecordUpdate{
			{Identity: "id-1", Section: crdt.SectionNotes, Key: "n1", Record: crdt.Record{Fields: map[string]string{"html": "short"}}},
			{Identity: "id-1", Section: crdt.SectionNotes, Key: "n2", Record: crdt.Record{Fields: map[string]string{"html": "this note is far too long"}}},
		},
	}
	limits := ValidationLimits{MaxNoteSize: 10}

	got := FilterUpdate(u, limits)

	if len(got.Records) != 1 {
		t.Fatalf("len(Records) = %d, want 1", len(got.Records))
	}
	if got.Records[0].Key != "n1" {
		t.Fatalf("kept record = %q, want n1", got.Records[0].Key)
	}
}

func TestFilterUpdateDropsOversizeMetadata(t *testing.T) {
	u := crdt.Update{
		Records: []crdt.RecordUpdate{
			{Identity: "id-1", Section: crdt.SectionMetadata, Key: "caption", Record: crdt.Record{Fields: map[string]string{"text": "0123456789"}}},
		},
	}
	limits := ValidationLimits{MaxMetadataSize: 5}

	got := FilterUpdate(u, limits)

	if len(got.Records) != 0 {
		t.Fatalf("len(Records) = %d, want 0", len(got.Records))
	}
}

func TestFilterUpdateDropsMalformedSelectionGeometry(t *testing.T) {
	u := crdt.Update{
		Records: []crdt.RecordUpdate{
			{Identity: "id-1", Section: crdt.SectionSelections, Key: "s1", Record: crdt.Record{Fields: map[string]string{"x": "1.5", "y": "2", "w": "not-a-number", "h": "4"}}},
			{Identity: "id-1", Section: crdt.SectionSelections, Key: "s2", Record: crdt.Record{Fields: map[string]string{"x": "1", "y": "2", "w": "3", "h": "4"}}},
		},
	}

	got := FilterUpdate(u, ValidationLimits{})

	if len(got.Records) != 1 {
		t.Fatalf("len(Records) = %d, want 1", len(got.Records))
	}
	if got.Records[0].Key != "s2" {
		t.Fatalf("kept record = %q, want s2", got.Records[0].Key)
	}
}

func TestFilterUpdateKeepsRecordsUnaffectedByLimits(t *testing.T) {
	u := crdt.Update{
		Records: []crdt.RecordUpdate{
			{Identity: "id-1", Section: crdt.SectionTags, Key: "favourite", Record: crdt.Record{Fields: map[string]string{"color": "#ff0000"}}},
		},
	}

	got := FilterUpdate(u, ValidationLimits{MaxNoteSize: 1, MaxMetadataSize: 1})

	if len(got.Records) != 1 {
		t.Fatalf("len(Records) = %d, want 1, tags are not size-limited", len(got.Records))
	}
}

func TestFilterUpdatePreservesRoom(t *testing.T) {
	room := &crdt.RoomConfig{}
	u := crdt.Update{Room: room, Records: nil}

	got := FilterUpdate(u, ValidationLimits{})

	if got.Room != room {
		t.Fatal("FilterUpdate should pass Room through unchanged")
	}
}

func TestIsFiniteNumber(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"1":     true,
		"1.5":   true,
		"-1.5":  true,
		"-":     false,
		"abc":   false,
		"1.2.3": true, // only digit/'-'-at-0/'.' are checked, not count or position
	}
	for in, want := range cases {
		if got := isFiniteNumber(in); got != want {
			t.Errorf("isFiniteNumber(%q) = %v, want %v", in, got, want)
		}
	}
}
