package crdt

import "strconv"

// MetadataEntry is the typed form of a SectionMetadata record: one
// Dublin-Core-style property on an item.
// Metadata has no tombstone — the last writer's value simply stands.
type MetadataEntry struct {
	Text    string
	Type    string
	Lang    string
	Author  string
	PushSeq uint64
}

func (e MetadataEntry) toRecord() Record {
	return Record{Fields: map[string]string{"text": e.Text, "type": e.Type, "lang": e.Lang}, Author: e.Author, PushSeq: e.PushSeq}
}

func metadataFromRecord(r Record) MetadataEntry {
	return MetadataEntry{Text: r.Fields["text"], Type: r.Fields["type"], Lang: r.Fields["lang"], Author: r.Author, PushSeq: r.PushSeq}
}

// SetMetadata writes property for identity, stamping the write with the
// document's own clock and actor so merges with concurrent peers resolve
// deterministically.
func (tx *Tx) SetMetadata(identity, property string, e MetadataEntry) {
	tx.write(identity, SectionMetadata, property, e.toRecord())
}

// GetMetadata returns every metadata property set on identity, keyed by
// property URI.
func (d *Doc) GetMetadata(identity string) map[string]MetadataEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := map[string]MetadataEntry{}
	it := d.item(identity, false)
	if it == nil {
		return out
	}
	for k, r := range it.metadata {
		out[k] = metadataFromRecord(r)
	}
	return out
}

// TagEntry is the typed form of a SectionTags record.
// Key is the lowercased tag name; Name preserves the display case of
// whichever write is currently winning.
type TagEntry struct {
	Name    string
	Color   string
	Author  string
	PushSeq uint64
	Deleted bool
}

func (e TagEntry) toRecord() Record {
	return Record{Fields: map[string]string{"name": e.Name, "color": e.Color}, Author: e.Author, PushSeq: e.PushSeq, Deleted: e.Deleted}
}

func tagFromRecord(r Record) TagEntry {
	return TagEntry{Name: r.Fields["name"], Color: r.Fields["color"], Author: r.Author, PushSeq: r.PushSeq, Deleted: r.Deleted}
}

func (tx *Tx) SetTag(identity, key string, e TagEntry) {
	tx.write(identity, SectionTags, key, e.toRecord())
}

// RemoveTag tombstones key, preserving whatever author first created it.
// The first pusher owns authorship, enforced generically in write for
// every author-locked section.
func (tx *Tx) RemoveTag(identity, key, author string, pushSeq uint64) {
	tx.remove(identity, SectionTags, key, author, pushSeq)
}

func (d *Doc) GetTags(identity string) map[string]TagEntry {
	return getAll(d, identity, SectionTags, tagFromRecord)
}

func (d *Doc) GetActiveTags(identity string) map[string]TagEntry {
	out := map[string]TagEntry{}
	for k, v := range d.GetTags(identity) {
		if !v.Deleted {
			out[k] = v
		}
	}
	return out
}

// NoteEntry is the typed form of a SectionNotes record: one annotation
// note, keyed by its stable UUID.
type NoteEntry struct {
	HTML     string
	Lang     string
	Checksum string // photo checksum the note belongs under, if any
	Author   string
	PushSeq  uint64
	Deleted  bool
}

func (e NoteEntry) toRecord() Record {
	return Record{
		Fields:  map[string]string{"html": e.HTML, "lang": e.Lang, "checksum": e.Checksum},
		Author:  e.Author,
		PushSeq: e.PushSeq,
		Deleted: e.Deleted,
	}
}

func noteFromRecord(r Record) NoteEntry {
	return NoteEntry{HTML: r.Fields["html"], Lang: r.Fields["lang"], Checksum: r.Fields["checksum"], Author: r.Author, PushSeq: r.PushSeq, Deleted: r.Deleted}
}

func (tx *Tx) SetNote(identity, uuid string, e NoteEntry) {
	tx.write(identity, SectionNotes, uuid, e.toRecord())
}

func (tx *Tx) RemoveNote(identity, uuid, author string, pushSeq uint64) {
	tx.remove(identity, SectionNotes, uuid, author, pushSeq)
}

// DeleteNoteEntry physically removes a note key instead of tombstoning
// it, used by the push path's stale-entry cleanup when a note key that
// was tombstoned on the previous push is still absent locally.
func (tx *Tx) DeleteNoteEntry(identity, uuid string) {
	tx.hardDelete(identity, SectionNotes, uuid)
}

func (d *Doc) GetNotes(identity string) map[string]NoteEntry {
	return getAll(d, identity, SectionNotes, noteFromRecord)
}

func (d *Doc) GetActiveNotes(identity string) map[string]NoteEntry {
	out := map[string]NoteEntry{}
	for k, v := range d.GetNotes(identity) {
		if !v.Deleted {
			out[k] = v
		}
	}
	return out
}

// SetPhotoMetadata writes one metadata property scoped to a single photo
// checksum within identity, the nested photos.<checksum>.metadata map.
func (tx *Tx) SetPhotoMetadata(identity, checksum, property string, e MetadataEntry) {
	tx.write(identity, SectionPhotos, photoKey(checksum, property), e.toRecord())
}

func (d *Doc) GetPhotoMetadata(identity, checksum string) map[string]MetadataEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := map[string]MetadataEntry{}
	it := d.item(identity, false)
	if it == nil {
		return out
	}
	sub, ok := it.photos[checksum]
	if !ok {
		return out
	}
	for prop, r := range sub {
		out[prop] = metadataFromRecord(r)
	}
	return out
}

// SelectionEntry is the typed form of a SectionSelections record: a
// rectangular region on one photo.
type SelectionEntry struct {
	Checksum string
	X, Y     float64
	W, H     float64
	Angle    float64
	Author   string
	PushSeq  uint64
	Deleted  bool
}

func (e SelectionEntry) toRecord() Record {
	return Record{
		Fields: map[string]string{
			"checksum": e.Checksum,
			"x":        formatFloat(e.X),
			"y":        formatFloat(e.Y),
			"w":        formatFloat(e.W),
			"h":        formatFloat(e.H),
			"angle":    formatFloat(e.Angle),
		},
		Author:  e.Author,
		PushSeq: e.PushSeq,
		Deleted: e.Deleted,
	}
}

func selectionFromRecord(r Record) SelectionEntry {
	return SelectionEntry{
		Checksum: r.Fields["checksum"],
		X:        parseFloat(r.Fields["x"]),
		Y:        parseFloat(r.Fields["y"]),
		W:        parseFloat(r.Fields["w"]),
		H:        parseFloat(r.Fields["h"]),
		Angle:    parseFloat(r.Fields["angle"]),
		Author:   r.Author,
		PushSeq:  r.PushSeq,
		Deleted:  r.Deleted,
	}
}

func (tx *Tx) SetSelection(identity, uuid string, e SelectionEntry) {
	tx.write(identity, SectionSelections, uuid, e.toRecord())
}

func (tx *Tx) RemoveSelection(identity, uuid, author string, pushSeq uint64) {
	tx.remove(identity, SectionSelections, uuid, author, pushSeq)
}

func (d *Doc) GetSelections(identity string) map[string]SelectionEntry {
	return getAll(d, identity, SectionSelections, selectionFromRecord)
}

func (d *Doc) GetActiveSelections(identity string) map[string]SelectionEntry {
	out := map[string]SelectionEntry{}
	for k, v := range d.GetSelections(identity) {
		if !v.Deleted {
			out[k] = v
		}
	}
	return out
}

// SetSelectionMeta writes one metadata property on a selection, keyed
// "<selectionUUID>:<property>".
func (tx *Tx) SetSelectionMeta(identity, selectionUUID, property string, e MetadataEntry) {
	tx.write(identity, SectionSelectionMeta, selectionUUID+":"+property, e.toRecord())
}

func (d *Doc) GetSelectionMeta(identity, selectionUUID string) map[string]MetadataEntry {
	prefix := selectionUUID + ":"
	out := map[string]MetadataEntry{}
	for k, v := range getAll(d, identity, SectionSelectionMeta, metadataFromRecord) {
		if prop, ok := strippedPrefix(k, prefix); ok {
			out[prop] = v
		}
	}
	return out
}

// SelectionNoteEntry is the typed form of a SectionSelectionNotes
// record: a note attached to a selection rather than directly to a
// photo.
type SelectionNoteEntry struct {
	HTML    string
	Lang    string
	Author  string
	PushSeq uint64
	Deleted bool
}

func (e SelectionNoteEntry) toRecord() Record {
	return Record{Fields: map[string]string{"html": e.HTML, "lang": e.Lang}, Author: e.Author, PushSeq: e.PushSeq, Deleted: e.Deleted}
}

func selectionNoteFromRecord(r Record) SelectionNoteEntry {
	return SelectionNoteEntry{HTML: r.Fields["html"], Lang: r.Fields["lang"], Author: r.Author, PushSeq: r.PushSeq, Deleted: r.Deleted}
}

func (tx *Tx) SetSelectionNote(identity, selectionUUID, noteUUID string, e SelectionNoteEntry) {
	tx.write(identity, SectionSelectionNotes, selectionUUID+":"+noteUUID, e.toRecord())
}

func (tx *Tx) RemoveSelectionNote(identity, selectionUUID, noteUUID, author string, pushSeq uint64) {
	tx.remove(identity, SectionSelectionNotes, selectionUUID+":"+noteUUID, author, pushSeq)
}

// DeleteSelectionNoteEntry physically removes a selection-note key, the
// selection-scoped counterpart to DeleteNoteEntry.
func (tx *Tx) DeleteSelectionNoteEntry(identity, selectionUUID, noteUUID string) {
	tx.hardDelete(identity, SectionSelectionNotes, selectionUUID+":"+noteUUID)
}

func (d *Doc) GetSelectionNotes(identity, selectionUUID string) map[string]SelectionNoteEntry {
	prefix := selectionUUID + ":"
	out := map[string]SelectionNoteEntry{}
	for k, v := range getAll(d, identity, SectionSelectionNotes, selectionNoteFromRecord) {
		if noteUUID, ok := strippedPrefix(k, prefix); ok {
			out[noteUUID] = v
		}
	}
	return out
}

func (d *Doc) GetActiveSelectionNotes(identity, selectionUUID string) map[string]SelectionNoteEntry {
	out := map[string]SelectionNoteEntry{}
	for k, v := range d.GetSelectionNotes(identity, selectionUUID) {
		if !v.Deleted {
			out[k] = v
		}
	}
	return out
}

// TranscriptionEntry is the typed form of a SectionTranscriptions
// record: OCR/manual transcription text, optionally scoped to a
// selection within a photo.
type TranscriptionEntry struct {
	Text          string
	Data          string
	Checksum      string
	SelectionUUID string
	Author        string
	PushSeq       uint64
	Deleted       bool
}

func (e TranscriptionEntry) toRecord() Record {
	return Record{
		Fields: map[string]string{
			"text":      e.Text,
			"data":      e.Data,
			"checksum":  e.Checksum,
			"selection": e.SelectionUUID,
		},
		Author:  e.Author,
		PushSeq: e.PushSeq,
		Deleted: e.Deleted,
	}
}

func transcriptionFromRecord(r Record) TranscriptionEntry {
	return TranscriptionEntry{
		Text: r.Fields["text"], Data: r.Fields["data"], Checksum: r.Fields["checksum"],
		SelectionUUID: r.Fields["selection"], Author: r.Author, PushSeq: r.PushSeq, Deleted: r.Deleted,
	}
}

func (tx *Tx) SetTranscription(identity, uuid string, e TranscriptionEntry) {
	tx.write(identity, SectionTranscriptions, uuid, e.toRecord())
}

func (tx *Tx) RemoveTranscription(identity, uuid, author string, pushSeq uint64) {
	tx.remove(identity, SectionTranscriptions, uuid, author, pushSeq)
}

func (d *Doc) GetTranscriptions(identity string) map[string]TranscriptionEntry {
	return getAll(d, identity, SectionTranscriptions, transcriptionFromRecord)
}

func (d *Doc) GetActiveTranscriptions(identity string) map[string]TranscriptionEntry {
	out := map[string]TranscriptionEntry{}
	for k, v := range d.GetTranscriptions(identity) {
		if !v.Deleted {
			out[k] = v
		}
	}
	return out
}

// ListEntry is the typed form of a SectionLists record: membership of
// an item in a named list, keyed by the list's stable UUID.
type ListEntry struct {
	Name    string
	Author  string
	PushSeq uint64
	Deleted bool
}

func (e ListEntry) toRecord() Record {
	return Record{Fields: map[string]string{"name": e.Name}, Author: e.Author, PushSeq: e.PushSeq, Deleted: e.Deleted}
}

func listFromRecord(r Record) ListEntry {
	return ListEntry{Name: r.Fields["name"], Author: r.Author, PushSeq: r.PushSeq, Deleted: r.Deleted}
}

func (tx *Tx) SetList(identity, uuid string, e ListEntry) {
	tx.write(identity, SectionLists, uuid, e.toRecord())
}

func (tx *Tx) RemoveList(identity, uuid, author string, pushSeq uint64) {
	tx.remove(identity, SectionLists, uuid, author, pushSeq)
}

func (d *Doc) GetLists(identity string) map[string]ListEntry {
	return getAll(d, identity, SectionLists, listFromRecord)
}

func (d *Doc) GetActiveLists(identity string) map[string]ListEntry {
	out := map[string]ListEntry{}
	for k, v := range d.GetLists(identity) {
		if !v.Deleted {
			out[k] = v
		}
	}
	return out
}

// SetChecksums replaces the ordered set of photo checksums recorded for
// identity, used by fuzzy identity matching.
func (tx *Tx) SetChecksums(identity string, checksums []string) {
	d := tx.doc
	it := d.item(identity, true)
	it.checksums = append([]string(nil), checksums...)
	d.markTouched(identity, SectionChecksums, "")
}

func (d *Doc) GetChecksums(identity string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	it := d.item(identity, false)
	if it == nil {
		return nil
	}
	return append([]string(nil), it.checksums...)
}

// write is the shared path every typed Set* accessor funnels through: it
// stamps the record with the transaction's clock and actor, enforces the
// author-lock invariant against whatever is already on record, and
// queues the change for observers.
func (tx *Tx) write(identity string, section Section, key string, r Record) {
	d := tx.doc
	existing, hasExisting := d.lookupLocked(identity, section, key)
	if hasExisting && sectionLocksAuthor(section) {
		r.Author = existing.Author
	}
	r.clock = d.nextClock()
	r.writer = d.actor
	d.storeLocked(identity, section, key, r)
	d.markTouched(identity, section, key)
}

// remove tombstones key, keeping its Fields intact (a tombstoned note's
// HTML is still readable until physically pruned).
func (tx *Tx) remove(identity string, section Section, key string, author string, pushSeq uint64) {
	d := tx.doc
	existing, hasExisting := d.lookupLocked(identity, section, key)
	r := existing
	if !hasExisting {
		r = Record{Fields: map[string]string{}}
	} else {
		r = existing.clone()
	}
	r.Deleted = true
	r.Author = author
	if hasExisting && sectionLocksAuthor(section) {
		r.Author = existing.Author
	}
	r.PushSeq = pushSeq
	r.clock = d.nextClock()
	r.writer = d.actor
	d.storeLocked(identity, section, key, r)
	d.markTouched(identity, section, key)
}

func (tx *Tx) hardDelete(identity string, section Section, key string) {
	d := tx.doc
	it := d.item(identity, false)
	if it == nil {
		return
	}
	m := d.sectionMapForWrite(it, section, key)
	delete(m, key)
	d.markTouched(identity, section, key)
}

func getAll[T any](d *Doc, identity string, section Section, from func(Record) T) map[string]T {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := map[string]T{}
	it := d.item(identity, false)
	if it == nil {
		return out
	}
	m := d.sectionMap(it, section, "")
	for k, r := range m {
		out[k] = from(r)
	}
	return out
}

func strippedPrefix(s, prefix string) (string, bool) {
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
