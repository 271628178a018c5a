package apply

import (
	"context"

	"github.com/micahchoo/troparcel/pkg/crdt"
	"github.com/micahchoo/troparcel/pkg/identity"
	"github.com/micahchoo/troparcel/pkg/store"
	"github.com/micahchoo/troparcel/pkg/types"
)

// findMatch locates the host item snapshot belongs to. It first looks
// for an exact identity match, then falls back to whichever item's
// photo checksums are a superset of snapshot's (an equal set counts) — a host-side
// rename or metadata edit never changes a photo's checksum, and a
// superset (rather than merely the most overlap) is what recovers the
// match correctly when two items have since been merged on the host: a
// candidate that only shares some of snapshot's checksums is a
// different item, not this one with a few added photos. Ties among
// qualifying candidates are broken in favour of the tightest superset,
// the one with the fewest checksums snapshot doesn't account for.
func findMatch(ctx context.Context, adapter store.Adapter, snapshot *crdt.ItemSnapshot) (*types.Item, error) {
	items, err := adapter.ListItems(ctx)
	if err != nil {
		return nil, err
	}

	for _, it := range items {
		if id, ok := identity.Compute(it); ok && id == snapshot.Identity {
			return it, nil
		}
	}

	if len(snapshot.Checksums) == 0 {
		return nil, store.ErrNotFound
	}

	var best *types.Item
	bestExtra := -1
	for _, it := range items {
		have := map[string]bool{}
		for _, c := range it.AllChecksums() {
			have[c] = true
		}
		if !isChecksumSubset(snapshot.Checksums, have) {
			continue
		}
		extra := len(have) - len(snapshot.Checksums)
		if best == nil || extra < bestExtra {
			best = it
			bestExtra = extra
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

// isChecksumSubset reports whether every checksum in want is present in have.
func isChecksumSubset(want []string, have map[string]bool) bool {
	for _, c := range want {
		if !have[c] {
			return false
		}
	}
	return true
}

func photoIDForChecksum(item *types.Item, checksum string) int {
	if checksum == "" {
		return 0
	}
	for _, p := range item.Photos {
		if p.Checksum == checksum {
			return p.ID
		}
	}
	return 0
}
