/*
Package apply implements the CRDT-to-local half of a sync cycle: given
one item's merged document snapshot, materialise it into the host
store through a store.Adapter.

Applying is the mirror image of pkg/push. Where push asks "what has the
user changed locally that the document doesn't know about yet", apply
asks "what has a peer changed that the local copy doesn't reflect yet".
Both answer the question with the same tool: a content hash recorded in
pkg/vault, compared against the current state on the side being
written to. A field whose local content has drifted from what this
replica last applied is left alone and reported as a conflict rather
than overwritten, since overwriting it would silently discard a local
edit that simply hasn't been pushed yet.

Every write this package makes to the store is bracketed in the
adapter's suppress/resume pair, so the host's own change detection
never turns the engine's own write back into an outbound push and
creates a feedback loop.
*/
package apply
