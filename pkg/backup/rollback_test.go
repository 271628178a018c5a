package backup

import (
	"context"
	"strconv"
	"testing"

	"github.com/micahchoo/troparcel/pkg/crdt"
	"github.com/micahchoo/troparcel/pkg/demostore"
	"github.com/micahchoo/troparcel/pkg/types"
)

func TestRollbackAppliesSnapshotOntoMatchingHostItem(t *testing.T) {
	ctx := context.Background()
	st, err := demostore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("demostore.Open: %v", err)
	}
	defer st.Close()

	item := &types.Item{Photos: []types.Photo{{Checksum: "chk-rollback"}}}
	if err := st.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	// "identity-1" is a placeholder, not identity.Compute's output for
	// this item; Rollback finds the item through its checksums instead.
	doc := crdt.New("user-1")
	doc.Transact(crdt.LocalOrigin, func(tx *crdt.Tx) {
		tx.SetChecksums("identity-1", []string{"chk-rollback"})
		tx.SetTag("identity-1", "favourite", crdt.TagEntry{Name: "favourite", Color: "#ff0000", Author: "user-1"})
	})
	fullSnap := doc.GetFullSnapshot()["identity-1"]
	if fullSnap == nil {
		t.Fatal("expected a snapshot for identity-1")
	}

	snap := Snapshot{
		Room: "room-1",
		Items: []SnapshotItem{
			{Identity: fullSnap.Identity, Tags: fullSnap.Tags, Photos: map[string]crdt.PhotoSnapshot{"chk-rollback": {}}},
		},
	}

	v := newTestVault(t)
	conflicts, err := Rollback(ctx, st, v, snap)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %v, want none on a first rollback", conflicts)
	}

	got, err := st.GetItem(ctx, strconv.Itoa(item.ID))
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if len(got.Tags) != 1 || got.Tags[0].Name != "favourite" {
		t.Fatalf("Tags = %+v, want the rolled-back favourite tag", got.Tags)
	}
}

func TestRollbackSkipsItemsWithNoHostMatch(t *testing.T) {
	ctx := context.Background()
	st, err := demostore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("demostore.Open: %v", err)
	}
	defer st.Close()

	snap := Snapshot{
		Room: "room-1",
		Items: []SnapshotItem{
			{Identity: "no-such-item", Photos: map[string]crdt.PhotoSnapshot{"chk-unknown": {}}},
		},
	}

	v := newTestVault(t)
	conflicts, err := Rollback(ctx, st, v, snap)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %v, want none when no host item matches", conflicts)
	}
}
