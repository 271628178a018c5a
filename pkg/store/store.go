package store

import (
	"context"
	"errors"

	"github.com/micahchoo/troparcel/pkg/types"
)

// ErrNotFound is returned by any Get/Fetch method when the requested
// record does not exist in the host store.
var ErrNotFound = errors.New("store: not found")

// Adapter is the operation set the sync engine needs from a host
// application. Every method is context-aware because the HTTP
// implementation needs to honour cancellation and the demo
// implementation needs to look the part.
type Adapter interface {
	// ListItems returns every item the engine is allowed to sync,
	// optionally scoped to a room/collection by the adapter's own
	// convention.
	ListItems(ctx context.Context) ([]*types.Item, error)

	// GetItem fetches one item by its local id. Returns ErrNotFound if
	// it does not exist.
	GetItem(ctx context.Context, localID string) (*types.Item, error)

	// UpsertNote creates or updates a note on photoID (or selectionID,
	// if non-zero) with the given HTML body. localID is the existing
	// local note id to update, as a string, or "" to create a new one.
	// Returns the (possibly newly assigned) local id.
	UpsertNote(ctx context.Context, localID string, photoID, selectionID int, html, lang string) (int, error)

	// DeleteNote removes a note by local id.
	DeleteNote(ctx context.Context, noteID int) error

	// UpsertSelection creates or updates a selection rectangle on a
	// photo. localID follows the same create-vs-update convention as
	// UpsertNote. Returns the local id.
	UpsertSelection(ctx context.Context, localID string, photoID int, x, y, w, h, angle float64) (int, error)

	// DeleteSelection removes a selection by local id.
	DeleteSelection(ctx context.Context, selectionID int) error

	// UpsertTranscription creates or updates a transcription attached to
	// a photo or selection, following the same localID convention.
	UpsertTranscription(ctx context.Context, localID string, photoID, selectionID int, text, data string) (int, error)

	// SetMetadata writes one Dublin-Core-style property on an item or
	// photo (photoID == 0 means item-scoped).
	SetMetadata(ctx context.Context, itemID, photoID int, property, text, valueType, lang string) error

	// SetTag adds or removes tag name on an item.
	SetTag(ctx context.Context, itemID int, name, color string, active bool) error

	// SetListMembership adds or removes itemID from the named list.
	SetListMembership(ctx context.Context, itemID int, listName string, member bool) error

	// SuppressChanges asks the host to stop emitting local-change
	// notifications until the returned function is called. The apply
	// path brackets every write it performs with this so the host's own
	// change detection cannot mistake the engine's write for a fresh
	// local edit and push it straight back out.
	SuppressChanges() (resume func())

	// Subscribe registers callback to be invoked whenever the host
	// believes its item data changed by some means other than the
	// engine's own writes (a suppressed write never fires it). The
	// returned function unsubscribes. An adapter with no local change
	// feed of its own (the HTTP fallback) may implement this as a no-op
	// that never calls callback; the engine's safety-net timer still
	// catches any change such an adapter cannot signal directly.
	Subscribe(callback func()) (unsubscribe func())
}
