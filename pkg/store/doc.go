/*
Package store defines the boundary between the sync engine and whatever
application actually owns the user's items, photos, notes, selections
and transcriptions.

Troparcel is a plugin: it never owns this data. Every read and write it
needs goes through the Adapter interface, so the push and apply paths
can be written once against pkg/types and run unmodified against a
host that exposes a local function-call API, one that only exposes
HTTP, or (for this repository, since there is no host application to
embed into) the bbolt-backed reference implementation in pkg/demostore.

Adapter additionally exposes a suppress/resume bracket: the apply path
wraps every write it makes to the host store in it, so the host's own
change-detection does not turn the engine's own writes back into
outbound pushes and create a feedback loop — the store-side counterpart
to the CRDT document's transaction-origin tagging in pkg/crdt.
*/
package store
