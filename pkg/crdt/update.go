package crdt

// Update is the wire payload exchanged with peers through the relay:
// the set of section records that changed since the last update this
// replica sent. A real CRDT library would encode this as a compact
// binary diff; it stays a typed Go value here since pkg/relay owns
// whatever framing the wire actually uses.
type Update struct {
	Room    *RoomConfig
	Records []RecordUpdate
}

// RecordUpdate carries one section record destined for (or arriving
// from) a peer.
type RecordUpdate struct {
	Identity string
	Section  Section
	Key      string
	Record   Record
	Clock    uint64
	Writer   string
}

func (u RecordUpdate) asRecord() Record {
	r := u.Record.clone()
	r.clock = u.Clock
	r.writer = u.Writer
	return r
}

// EncodeUpdate drains every change queued since the document was
// created or last encoded and returns them as a transmittable Update.
// Sections that never changed are not included, matching a real CRDT
// library's incremental-diff framing.
func (d *Doc) EncodeUpdate() Update {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := map[change]bool{}
	var recs []RecordUpdate
	for _, c := range d.outbox {
		if seen[c] {
			continue
		}
		seen[c] = true
		if r, ok := d.lookupLocked(c.identity, c.section, c.key); ok {
			recs = append(recs, RecordUpdate{
				Identity: c.identity,
				Section:  c.section,
				Key:      c.key,
				Record:   r,
				Clock:    r.clock,
				Writer:   r.writer,
			})
		}
	}
	d.outbox = nil
	room := d.room
	return Update{Room: &room, Records: recs}
}

// ApplyUpdate merges an Update received from a peer into this replica.
// Every record is merged independently under last-writer-wins, except
// that an incoming tombstone (Deleted=true) whose Author does not match
// the author already on record for that key is dropped outright. This
// is the defence against a hostile or spoofed remote delete.
func (d *Doc) ApplyUpdate(u Update, origin TxOrigin) {
	d.Transact(origin, func(tx *Tx) {
		if u.Room != nil {
			tx.doc.room = *u.Room
		}
		for _, ru := range u.Records {
			tx.mergeRecord(ru)
		}
	})
}

func (tx *Tx) mergeRecord(ru RecordUpdate) {
	d := tx.doc
	if ru.Clock > d.clock {
		d.clock = ru.Clock // Lamport receive rule: later local writes outrank what was merged
	}
	existing, hasExisting := d.lookupLocked(ru.Identity, ru.Section, ru.Key)

	if ru.Record.Deleted && hasExisting && existing.Author != ru.Record.Author {
		return // tombstone ownership violated: ignore
	}

	incoming := ru.asRecord()
	if !incoming.wins(existing, hasExisting) {
		return
	}

	// a sub-resource's author is fixed by whoever first pushed it;
	// concurrent edits from other authors can still win the field
	// merge but never reassign authorship.
	if hasExisting && sectionLocksAuthor(ru.Section) {
		incoming.Author = existing.Author
	}

	d.storeLocked(ru.Identity, ru.Section, ru.Key, incoming)
	d.markTouched(ru.Identity, ru.Section, ru.Key)
}

func sectionLocksAuthor(s Section) bool {
	switch s {
	case SectionTags, SectionNotes, SectionSelections, SectionSelectionNotes,
		SectionTranscriptions, SectionLists:
		return true
	default:
		return false
	}
}

// lookupLocked and storeLocked centralise the section-map plumbing so
// EncodeUpdate, ApplyUpdate and the typed accessors in schema.go share
// one place that knows how each Section maps onto itemAnnotations.
func (d *Doc) lookupLocked(identity string, section Section, key string) (Record, bool) {
	it := d.item(identity, false)
	if it == nil {
		return Record{}, false
	}
	m := d.sectionMap(it, section, key)
	if m == nil {
		return Record{}, false
	}
	r, ok := m[key]
	return r, ok
}

func (d *Doc) storeLocked(identity string, section Section, key string, r Record) {
	it := d.item(identity, true)
	m := d.sectionMapForWrite(it, section, key)
	if section == SectionPhotos {
		_, key = splitPhotoKey(key)
	}
	m[key] = r
}

// sectionMap resolves to the plain section map for read access. Photo
// metadata is nested one level deeper (checksum -> property -> record);
// key is expected to already be the photoKey form (checksum and property
// joined by a unit separator) for that case.
func (d *Doc) sectionMap(it *itemAnnotations, section Section, key string) map[string]Record {
	switch section {
	case SectionMetadata:
		return it.metadata
	case SectionTags:
		return it.tags
	case SectionNotes:
		return it.notes
	case SectionSelections:
		return it.selections
	case SectionSelectionMeta:
		return it.selectionMeta
	case SectionSelectionNotes:
		return it.selectionNotes
	case SectionTranscriptions:
		return it.transcriptions
	case SectionLists:
		return it.lists
	case SectionPhotos:
		checksum, prop := splitPhotoKey(key)
		r, ok := it.photos[checksum][prop]
		if !ok {
			return nil
		}
		// repackage under the full key so the generic single-level lookup works
		return map[string]Record{key: r}
	default:
		return nil
	}
}

func (d *Doc) sectionMapForWrite(it *itemAnnotations, section Section, key string) map[string]Record {
	if section == SectionPhotos {
		checksum, _ := splitPhotoKey(key)
		sub, ok := it.photos[checksum]
		if !ok {
			sub = map[string]Record{}
			it.photos[checksum] = sub
		}
		return sub
	}
	return d.sectionMap(it, section, key)
}

func splitPhotoKey(key string) (checksum, property string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '\x1f' { // unit-separator, never appears in real checksums/URIs
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func photoKey(checksum, property string) string {
	return checksum + "\x1f" + property
}
