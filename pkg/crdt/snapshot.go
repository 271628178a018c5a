package crdt

// PhotoSnapshot is the per-checksum slice of an ItemSnapshot's photos
// section: metadata scoped to one photo.
type PhotoSnapshot struct {
	Metadata map[string]MetadataEntry
}

// ItemSnapshot materialises every section of one item identity into a
// single typed value, tombstones included. The backup manager and the
// apply path both work from a snapshot rather than poking at Doc
// directly, so neither has to know how sections are keyed internally.
type ItemSnapshot struct {
	Identity       string
	Metadata       map[string]MetadataEntry
	Tags           map[string]TagEntry
	Notes          map[string]NoteEntry
	Photos         map[string]PhotoSnapshot
	Selections     map[string]SelectionEntry
	SelectionMeta  map[string]map[string]MetadataEntry       // selectionUUID -> property -> entry
	SelectionNotes map[string]map[string]SelectionNoteEntry  // selectionUUID -> noteUUID -> entry
	Transcriptions map[string]TranscriptionEntry
	Lists          map[string]ListEntry
	Checksums      []string
}

// GetSnapshot returns a full snapshot of identity, or nil if the
// document has no sections recorded for it at all.
func (d *Doc) GetSnapshot(identity string) *ItemSnapshot {
	d.mu.Lock()
	it := d.item(identity, false)
	d.mu.Unlock()
	if it == nil {
		return nil
	}

	snap := &ItemSnapshot{
		Identity:       identity,
		Metadata:       d.GetMetadata(identity),
		Tags:           d.GetTags(identity),
		Notes:          d.GetNotes(identity),
		Photos:         map[string]PhotoSnapshot{},
		Selections:     d.GetSelections(identity),
		SelectionMeta:  map[string]map[string]MetadataEntry{},
		SelectionNotes: map[string]map[string]SelectionNoteEntry{},
		Transcriptions: d.GetTranscriptions(identity),
		Lists:          d.GetLists(identity),
		Checksums:      d.GetChecksums(identity),
	}

	d.mu.Lock()
	checksums := make([]string, 0, len(it.photos))
	for checksum := range it.photos {
		checksums = append(checksums, checksum)
	}
	d.mu.Unlock()
	for _, checksum := range checksums {
		snap.Photos[checksum] = PhotoSnapshot{Metadata: d.GetPhotoMetadata(identity, checksum)}
	}

	for uuid := range snap.Selections {
		if meta := d.GetSelectionMeta(identity, uuid); len(meta) > 0 {
			snap.SelectionMeta[uuid] = meta
		}
		if notes := d.GetSelectionNotes(identity, uuid); len(notes) > 0 {
			snap.SelectionNotes[uuid] = notes
		}
	}

	return snap
}

// GetFullSnapshot returns a snapshot for every identity currently
// tracked by the document.
func (d *Doc) GetFullSnapshot() map[string]*ItemSnapshot {
	out := map[string]*ItemSnapshot{}
	for _, identity := range d.Identities() {
		out[identity] = d.GetSnapshot(identity)
	}
	return out
}
