/*
Package vault is Troparcel's durable sidecar: every piece of state the
sync engine needs to remember between process restarts but that does
not belong in the CRDT document itself — push/apply bookkeeping, id
mappings, and the hashes that drive conflict detection.

The vault is not the source of truth for annotations (the CRDT document
is) or for host content (the store adapter is); it is scratch memory
that makes the engine idempotent. Losing it is recoverable — the engine
falls back to re-pushing and re-applying everything — but keeping it
avoids redundant network traffic and duplicate notes, so it is persisted
to a single JSON file with the same atomic write-and-rename discipline
a bbolt-backed store gets for free.

Four concerns live here:

	pushed hashes     -- has this item's local content changed since we
	                     last pushed it? (content-hash based, not time)
	local-edit hashes -- does local content still match what we last
	                     pushed for one field, or has the user since
	                     edited it locally? this is the signal the merge
	path uses instead of wall-clock time or pushSeq.
	applied keys      -- which CRDT sub-resources have already been
	                     materialised into the host store, and under
	                     which local id, so re-applying is a no-op
	                     instead of a duplicate.
	bookkeeping       -- push-failure counts, dismissed conflicts,
	                     original authorship, and the two hashes the
	                     backup manager uses to skip redundant snapshots.

The pushed hashes, local-edit hashes and applied keys are bounded
(github.com/hashicorp/golang-lru) so a long-lived process doesn't grow
its memory with every annotation it has ever seen. The bookkeeping maps
and the local-id-to-UUID reverse map are plain Go maps with no bound.
*/
package vault
