/*
Package push implements the local-to-CRDT half of a sync cycle: given
one item read from the host store, decide what changed since the last
push and write exactly that into the document.

Pushing is content-hash driven, not dirty-flag driven: the push path
recomputes a hash of the item's current state and compares it against
the hash pkg/vault recorded for the last successful push, at both the
item level (skip entirely if nothing changed) and the per-field level
(only the fields that actually differ get written, so an untouched note
never receives a fresh Lamport clock it doesn't need). This is also
where new notes pick up their UUID and where the synced-note footer
convention lets the engine recognise a note it already pushed instead of
creating a duplicate on the far side.
*/
package push
