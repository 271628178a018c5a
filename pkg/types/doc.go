/*
Package types defines the data structures shared across Troparcel's sync
engine: the denormalised item graph read from the host photo-archive
application.

# Local model vs. CRDT model

Two parallel shapes exist for almost everything here:

  - The "local" structs (Item, Note, Selection, Transcription, ListRecord,
    Tag) describe what the host application's own data store holds,
    addressed by the host's integer IDs.
  - The CRDT entry structs in pkg/crdt (NoteEntry, SelectionEntry, ...)
    describe the replicated representation of the same concept,
    addressed by opaque UUIDs or identities, and carrying the
    author/pushSeq/deleted bookkeeping the CRDT schema needs.

The push and apply paths (pkg/push, pkg/apply) are the translation layer
between the two.
*/
package types
