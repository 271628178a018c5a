package backup

import (
	"context"
	"fmt"

	"github.com/micahchoo/troparcel/pkg/apply"
	"github.com/micahchoo/troparcel/pkg/crdt"
	"github.com/micahchoo/troparcel/pkg/store"
	"github.com/micahchoo/troparcel/pkg/vault"
)

// Rollback is a manual operation: it replays every item in snap back
// into adapter through the normal apply path, by rebuilding a document
// that contains only snap's records and running apply.Item over it.
// There is no automatic trigger for this — the host application calls
// it explicitly, typically after a user picks a backup file to restore
// from.
func Rollback(ctx context.Context, adapter store.Adapter, v *vault.Vault, snap Snapshot) ([]apply.Conflict, error) {
	doc := crdt.New("rollback")
	var conflicts []apply.Conflict

	for _, item := range snap.Items {
		replayItem(doc, item)
		itemSnap := doc.GetSnapshot(item.Identity)
		if itemSnap == nil {
			continue
		}
		c, err := apply.Item(ctx, adapter, v, itemSnap)
		if err != nil {
			return conflicts, fmt.Errorf("backup: rollback %s: %w", item.Identity, err)
		}
		conflicts = append(conflicts, c...)
	}

	return conflicts, nil
}

// replayItem writes one snapshot item's sections into a fresh document
// under a single local-origin transaction, so apply.Item's normal
// document-to-host materialisation logic can run over it unchanged.
func replayItem(doc *crdt.Doc, item SnapshotItem) {
	doc.Transact(crdt.LocalOrigin, func(tx *crdt.Tx) {
		for key, entry := range item.Metadata {
			tx.SetMetadata(item.Identity, key, entry)
		}
		for key, entry := range item.Tags {
			tx.SetTag(item.Identity, key, entry)
		}
		for key, entry := range item.Notes {
			tx.SetNote(item.Identity, key, entry)
		}
		if len(item.Photos) > 0 {
			checksums := make([]string, 0, len(item.Photos))
			for checksum := range item.Photos {
				checksums = append(checksums, checksum)
			}
			tx.SetChecksums(item.Identity, checksums)
			for _, checksum := range checksums {
				for key, entry := range item.Photos[checksum].Metadata {
					tx.SetPhotoMetadata(item.Identity, checksum, key, entry)
				}
			}
		}
	})
}
