/*
Package crdt implements the replicated annotation document: a typed
per-section schema, a minimal last-writer-wins merge engine that gives
the document its convergence property, and transaction-origin tagging
that lets the sync engine distinguish its own writes from ones that
arrived over the wire.

This is a hand-written CRDT, not a binding to an existing library: a
JSON-document CRDT's "apply a change pack" shape is what Doc.ApplyUpdate
is modelled on, and the convention of tagging every local write with an
origin so a deep observer can filter it back out is exactly what this
package's Transact does.

Every mutation on Doc goes through Transact so it is (a) tagged with an
origin, for the local-writes-are-invisible-to-the-local-observer
property the sync engine depends on, and (b) timestamped with a
per-replica Lamport clock that resolves concurrent writes to the same
key deterministically when two replicas' updates are merged.
*/
package crdt

import "sync"

// TxOrigin tags who produced a document mutation.
type TxOrigin string

// LocalOrigin marks every write the sync engine itself performs.
// Observers registered with a skip origin of LocalOrigin never see
// these changes, which is what stops the engine from reacting to its
// own writes.
const LocalOrigin TxOrigin = "local-origin"

// RemoteOrigin marks writes merged in from a peer via the relay.
const RemoteOrigin TxOrigin = "remote-origin"

// Section names the document is organised into.
type Section string

const (
	SectionMetadata       Section = "metadata"
	SectionTags           Section = "tags"
	SectionNotes          Section = "notes"
	SectionPhotos         Section = "photos"
	SectionSelections     Section = "selections"
	SectionSelectionMeta  Section = "selectionMeta"
	SectionSelectionNotes Section = "selectionNotes"
	SectionTranscriptions Section = "transcriptions"
	SectionLists          Section = "lists"
	SectionChecksums      Section = "checksums"
)

// Record is the untyped wire form every section's values reduce to. The
// typed Get/Set accessors in schema.go convert to and from this shape.
type Record struct {
	Fields  map[string]string
	Author  string
	PushSeq uint64
	Deleted bool

	// clock and writer are the CRDT's own merge key. They are never
	// read by application code and never used for conflict resolution:
	// pushSeq is persisted and logged but plays no role there. They
	// exist purely so two replicas merging a concurrently-written key
	// pick the same winner deterministically.
	clock  uint64
	writer string
}

func (r Record) clone() Record {
	cp := r
	cp.Fields = make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		cp.Fields[k] = v
	}
	return cp
}

// wins reports whether candidate should replace current under the
// document's last-writer-wins rule: higher clock wins; a tie (which can
// only happen across two different replicas since clocks are assigned
// by a single counter locally) is broken by comparing writer ids so
// every replica resolves it the same way.
func (candidate Record) wins(current Record, hasCurrent bool) bool {
	if !hasCurrent {
		return true
	}
	if candidate.clock != current.clock {
		return candidate.clock > current.clock
	}
	return candidate.writer > current.writer
}

type change struct {
	identity string
	section  Section
	key      string
}

// Change is delivered to observers registered via Observe.
type Change struct {
	Identity string
	Section  Section
}

type observer struct {
	skip TxOrigin
	fn   func(Change)
}

// itemAnnotations holds every section for one item identity.
type itemAnnotations struct {
	metadata       map[string]Record
	tags           map[string]Record
	notes          map[string]Record
	photos         map[string]map[string]Record // checksum -> property -> record
	selections     map[string]Record
	selectionMeta  map[string]Record
	selectionNotes map[string]Record
	transcriptions map[string]Record
	lists          map[string]Record
	checksums      []string
}

func newItemAnnotations() *itemAnnotations {
	return &itemAnnotations{
		metadata:       map[string]Record{},
		tags:           map[string]Record{},
		notes:          map[string]Record{},
		photos:         map[string]map[string]Record{},
		selections:     map[string]Record{},
		selectionMeta:  map[string]Record{},
		selectionNotes: map[string]Record{},
		transcriptions: map[string]Record{},
		lists:          map[string]Record{},
	}
}

// RoomConfig is the scalar `room` top-level configuration map shared by
// every replica connected to the same sync room.
type RoomConfig struct {
	SchemaVersion     int
	ClearTombstones   bool
	SyncDeletionsFlag bool
}

// Doc is one replica of the shared annotation document.
type Doc struct {
	mu        sync.Mutex
	actor     string
	clock     uint64
	room      RoomConfig
	items     map[string]*itemAnnotations
	observers []observer
	pending   []change
	outbox    []change
}

// New creates an empty replica owned by actor (the local user id — used
// only as a merge tie-breaker, never for authorship display).
func New(actor string) *Doc {
	return &Doc{
		actor: actor,
		room:  RoomConfig{SchemaVersion: 4},
		items: map[string]*itemAnnotations{},
	}
}

func (d *Doc) Room() RoomConfig { return d.room }

func (d *Doc) SetRoom(cfg RoomConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.room = cfg
}

func (d *Doc) item(identity string, create bool) *itemAnnotations {
	it, ok := d.items[identity]
	if !ok {
		if !create {
			return nil
		}
		it = newItemAnnotations()
		d.items[identity] = it
	}
	return it
}

// Identities returns every item identity with at least one section
// present, in no particular order.
func (d *Doc) Identities() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.items))
	for id := range d.items {
		out = append(out, id)
	}
	return out
}

// Transact runs fn with origin as the active transaction origin for
// every mutation fn performs, then notifies observers whose skip origin
// does not match origin. Every engine-initiated mutation must go
// through Transact(LocalOrigin, ...); merges arriving from the relay go
// through Transact(RemoteOrigin, ...).
func (d *Doc) Transact(origin TxOrigin, fn func(tx *Tx)) {
	d.mu.Lock()
	d.pending = nil
	fn(&Tx{doc: d})
	touched := d.pending
	d.pending = nil
	d.outbox = append(d.outbox, touched...)
	obs := append([]observer(nil), d.observers...)
	d.mu.Unlock()

	for _, t := range touched {
		ch := Change{Identity: t.identity, Section: t.section}
		for _, o := range obs {
			if o.skip != origin {
				o.fn(ch)
			}
		}
	}
}

// Observe registers callback to run for every section change whose
// transaction origin is not skip. Passing LocalOrigin here is how the
// sync engine builds a remote-change observer that never fires on its
// own writes.
func (d *Doc) Observe(skip TxOrigin, callback func(Change)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, observer{skip: skip, fn: callback})
	idx := len(d.observers) - 1
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if idx < len(d.observers) {
			d.observers = append(d.observers[:idx], d.observers[idx+1:]...)
		}
	}
}

func (d *Doc) nextClock() uint64 {
	d.clock++
	return d.clock
}

func (d *Doc) markTouched(identity string, section Section, key string) {
	d.pending = append(d.pending, change{identity: identity, section: section, key: key})
}

// Tx is the mutation handle passed into Transact. It exists so every
// write happens while d.mu is held and gets tagged with the active
// transaction's origin and clock, without exposing the lock itself.
type Tx struct {
	doc *Doc
}
