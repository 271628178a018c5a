/*
Package relay is the per-room WebSocket transport the sync engine uses
to exchange CRDT update frames with peers. It reconnects with capped
exponential backoff (cenkalti/backoff/v4) whenever the socket drops,
and appends a room token as a query parameter on connect when one is
configured.

The wire format itself (state-vector exchange, update diffs, awareness
frames) is out of scope for this package: Client treats every frame as
an opaque []byte and leaves encoding/decoding to its caller, since the
document package (pkg/crdt) owns that format.
*/
package relay
