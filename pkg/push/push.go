package push

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/micahchoo/troparcel/pkg/crdt"
	"github.com/micahchoo/troparcel/pkg/footer"
	"github.com/micahchoo/troparcel/pkg/identity"
	"github.com/micahchoo/troparcel/pkg/sanitize"
	"github.com/micahchoo/troparcel/pkg/types"
	"github.com/micahchoo/troparcel/pkg/vault"
)

// Item pushes one host item's current state into doc, writing only the
// fields that changed since the last push. It returns false
// without writing anything if item has no stable identity (see
// pkg/identity) or if nothing has changed since the last push.
func Item(doc *crdt.Doc, v *vault.Vault, item *types.Item, actor string, syncDeletions bool) (pushed bool) {
	id, ok := identity.Compute(item)
	if !ok {
		return false
	}

	itemHash := hashItem(item)
	if !v.HasItemChanged(id, itemHash) {
		return false
	}

	doc.Transact(crdt.LocalOrigin, func(tx *crdt.Tx) {
		pushChecksums(tx, item, id)
		pushMetadata(tx, v, item, id, actor)
		pushTags(tx, v, item, id, actor, syncDeletions)
		pushNotes(tx, v, item, id, actor, syncDeletions)
		pushPhotoMetadata(tx, v, item, id, actor)
		pushSelections(tx, v, item, id, actor, syncDeletions)
		pushTranscriptions(tx, v, item, id, actor, syncDeletions)
		pushLists(tx, v, item, id, actor, syncDeletions)
	})

	v.MarkPushed(id, itemHash)
	return true
}

func pushChecksums(tx *crdt.Tx, item *types.Item, id string) {
	tx.SetChecksums(id, item.AllChecksums())
}

func pushMetadata(tx *crdt.Tx, v *vault.Vault, item *types.Item, id, actor string) {
	for property, mv := range item.Metadata {
		field := id + ":metadata:" + property
		hash := hashString(mv.Text, mv.Type, mv.Lang)
		if !v.HasLocalEdit(field, hash) {
			continue
		}
		tx.SetMetadata(id, property, crdt.MetadataEntry{Text: mv.Text, Type: mv.Type, Lang: mv.Lang, Author: actor, PushSeq: v.NextPushSeq()})
		v.MarkFieldPushed(field, hash)
	}
}

func pushPhotoMetadata(tx *crdt.Tx, v *vault.Vault, item *types.Item, id, actor string) {
	for _, photo := range item.Photos {
		if photo.Checksum == "" {
			continue
		}
		for property, mv := range photo.Metadata {
			field := id + ":photos:" + photo.Checksum + ":" + property
			hash := hashString(mv.Text, mv.Type, mv.Lang)
			if !v.HasLocalEdit(field, hash) {
				continue
			}
			tx.SetPhotoMetadata(id, photo.Checksum, property, crdt.MetadataEntry{Text: mv.Text, Type: mv.Type, Lang: mv.Lang, Author: actor, PushSeq: v.NextPushSeq()})
			v.MarkFieldPushed(field, hash)
		}
	}
}

func pushTags(tx *crdt.Tx, v *vault.Vault, item *types.Item, id, actor string, syncDeletions bool) {
	var current []string
	for _, tag := range item.Tags {
		key := normalizeTagKey(tag.Name)
		current = append(current, key)
		field := id + ":tags:" + key
		hash := hashString(tag.Name, tag.Color)
		if !v.HasLocalEdit(field, hash) {
			continue
		}
		v.SetOriginalAuthor(id+":tags:"+key, actor)
		tx.SetTag(id, key, crdt.TagEntry{Name: tag.Name, Color: tag.Color, Author: actor, PushSeq: v.NextPushSeq()})
		v.MarkFieldPushed(field, hash)
	}
	reconcileDeletions(tx, v, id, "tags", current, actor, syncDeletions, tx.RemoveTag, nil)
}

// pushNotes reconciles both item-level notes and the notes attached
// directly to individual photos; both live in SectionNotes, the only
// difference being whether Checksum is set.
func pushNotes(tx *crdt.Tx, v *vault.Vault, item *types.Item, id, actor string, syncDeletions bool) {
	var current []string
	push := func(note types.Note, checksum string) {
		if _, _, ok := footer.Parse(note.HTML); ok {
			// this note's body already carries the synced-note footer,
			// meaning the apply path wrote it from the document in the
			// first place; pushing it back would be a no-op echo.
			return
		}
		uuid := resolveUUID(v, "note", strconv.Itoa(note.ID))
		current = append(current, uuid)

		sanitized := sanitize.Sanitize(note.HTML)
		field := id + ":notes:" + uuid
		hash := hashString(sanitized, note.Language)
		if !v.HasLocalEdit(field, hash) {
			return
		}
		v.SetOriginalAuthor(id+":notes:"+uuid, actor)
		tx.SetNote(id, uuid, crdt.NoteEntry{
			HTML: sanitized, Lang: note.Language, Checksum: checksum,
			Author: actor, PushSeq: v.NextPushSeq(),
		})
		v.MarkFieldPushed(field, hash)
	}

	for _, note := range item.Notes {
		push(note, "")
	}
	for _, photo := range item.Photos {
		for _, note := range photo.Notes {
			push(note, photo.Checksum)
		}
	}
	reconcileDeletions(tx, v, id, "notes", current, actor, syncDeletions, tx.RemoveNote, tx.DeleteNoteEntry)
}

func pushSelections(tx *crdt.Tx, v *vault.Vault, item *types.Item, id, actor string, syncDeletions bool) {
	var current, currentNotes []string
	for _, photo := range item.Photos {
		for _, sel := range photo.Selections {
			uuid := resolveUUID(v, "selection", strconv.Itoa(sel.ID))
			current = append(current, uuid)

			field := id + ":selections:" + uuid
			hash := hashString(photo.Checksum, formatCoord(sel.X), formatCoord(sel.Y), formatCoord(sel.W), formatCoord(sel.H), formatCoord(sel.Angle))
			if v.HasLocalEdit(field, hash) {
				v.SetOriginalAuthor(id+":selections:"+uuid, actor)
				tx.SetSelection(id, uuid, crdt.SelectionEntry{
					Checksum: photo.Checksum, X: sel.X, Y: sel.Y, W: sel.W, H: sel.H, Angle: sel.Angle,
					Author: actor, PushSeq: v.NextPushSeq(),
				})
				v.MarkFieldPushed(field, hash)
			}

			currentNotes = append(currentNotes, pushSelectionNotes(tx, v, id, uuid, sel, actor)...)
		}
	}
	reconcileDeletions(tx, v, id, "selections", current, actor, syncDeletions, tx.RemoveSelection, nil)

	removeSelNote := func(identity, key, author string, pushSeq uint64) {
		selUUID, noteUUID := splitCompoundKey(key)
		tx.RemoveSelectionNote(identity, selUUID, noteUUID, author, pushSeq)
	}
	deleteSelNote := func(identity, key string) {
		selUUID, noteUUID := splitCompoundKey(key)
		tx.DeleteSelectionNoteEntry(identity, selUUID, noteUUID)
	}
	reconcileDeletions(tx, v, id, "selectionNotes", currentNotes, actor, syncDeletions, removeSelNote, deleteSelNote)
}

// pushSelectionNotes reconciles the notes attached directly to one
// selection and returns their compound selUUID:noteUUID keys, which the
// caller folds across every selection on the item into a single
// selectionNotes-wide deletion pass.
func pushSelectionNotes(tx *crdt.Tx, v *vault.Vault, id, selUUID string, sel types.Selection, actor string) []string {
	var current []string
	for _, note := range sel.Notes {
		noteUUID := resolveUUID(v, "note", strconv.Itoa(note.ID))
		key := selUUID + ":" + noteUUID
		current = append(current, key)

		sanitized := sanitize.Sanitize(note.HTML)
		field := id + ":selectionNotes:" + key
		hash := hashString(sanitized, note.Language)
		if !v.HasLocalEdit(field, hash) {
			continue
		}
		v.SetOriginalAuthor(id+":selectionNotes:"+key, actor)
		tx.SetSelectionNote(id, selUUID, noteUUID, crdt.SelectionNoteEntry{HTML: sanitized, Lang: note.Language, Author: actor, PushSeq: v.NextPushSeq()})
		v.MarkFieldPushed(field, hash)
	}
	return current
}

// pushTranscriptions walks every photo's transcriptions, since
// transcriptions are recorded per photo on the host side rather than
// at the item level.
func pushTranscriptions(tx *crdt.Tx, v *vault.Vault, item *types.Item, id, actor string, syncDeletions bool) {
	var current []string
	for _, photo := range item.Photos {
		for _, transcription := range photo.Transcriptions {
			uuid := resolveUUID(v, "transcription", strconv.Itoa(transcription.ID))
			current = append(current, uuid)

			selUUID := ""
			if transcription.SelectionID != 0 {
				selUUID, _ = v.UUIDForLocal("selection", strconv.Itoa(transcription.SelectionID))
			}

			field := id + ":transcriptions:" + uuid
			hash := hashString(transcription.Text, transcription.Data, selUUID)
			if !v.HasLocalEdit(field, hash) {
				continue
			}
			v.SetOriginalAuthor(id+":transcriptions:"+uuid, actor)
			tx.SetTranscription(id, uuid, crdt.TranscriptionEntry{
				Text: transcription.Text, Data: transcription.Data,
				Checksum: photo.Checksum, SelectionUUID: selUUID,
				Author: actor, PushSeq: v.NextPushSeq(),
			})
			v.MarkFieldPushed(field, hash)
		}
	}
	reconcileDeletions(tx, v, id, "transcriptions", current, actor, syncDeletions, tx.RemoveTranscription, nil)
}

func pushLists(tx *crdt.Tx, v *vault.Vault, item *types.Item, id, actor string, syncDeletions bool) {
	var current []string
	for _, list := range item.Lists {
		uuid := resolveUUID(v, "list", strconv.Itoa(list.ID))
		current = append(current, uuid)

		field := id + ":lists:" + uuid
		hash := hashString(list.Name)
		if !v.HasLocalEdit(field, hash) {
			continue
		}
		v.SetOriginalAuthor(id+":lists:"+uuid, actor)
		tx.SetList(id, uuid, crdt.ListEntry{Name: list.Name, Author: actor, PushSeq: v.NextPushSeq()})
		v.MarkFieldPushed(field, hash)
	}
	reconcileDeletions(tx, v, id, "lists", current, actor, syncDeletions, tx.RemoveList, nil)
}

// reconcileDeletions compares current against the children recorded at
// the previous push, tombstoning whichever local ids disappeared since
// then and whose original author is actor — a sub-resource created by
// a peer can only ever be deleted by that peer, never mirrored from
// another replica's local deletion. A tombstone that survives a full
// cycle still absent from current has had time to reach every peer, so
// it is physically removed via hardDelete instead of kept as a
// tombstone forever; hardDelete is nil for sections with no hard-delete
// accessor, in which case stale entries stay tombstones indefinitely.
func reconcileDeletions(tx *crdt.Tx, v *vault.Vault, id, section string, current []string, actor string, syncDeletions bool, remove func(identity, key, author string, pushSeq uint64), hardDelete func(identity, key string)) {
	if syncDeletions {
		for _, stale := range v.TombstonedChildren(id, section) {
			if containsStr(current, stale) {
				continue
			}
			if hardDelete != nil {
				hardDelete(id, stale)
			}
			v.ClearOriginalAuthor(id + ":" + section + ":" + stale)
		}

		var tombstoned []string
		for _, prev := range v.LastPushedChildren(id, section) {
			if containsStr(current, prev) {
				continue
			}
			if author, ok := v.OriginalAuthor(id + ":" + section + ":" + prev); ok && author == actor {
				remove(id, prev, actor, v.NextPushSeq())
				tombstoned = append(tombstoned, prev)
			}
		}
		v.SetTombstonedChildren(id, section, tombstoned)
	}
	v.SetLastPushedChildren(id, section, current)
}

func resolveUUID(v *vault.Vault, kind, localKey string) string {
	if uuid, ok := v.UUIDForLocal(kind, localKey); ok {
		return uuid
	}
	var uuid string
	switch kind {
	case "selection":
		uuid = identity.NewSelectionUUID()
	case "transcription":
		uuid = identity.NewTranscriptionUUID()
	case "list":
		uuid = identity.NewListUUID()
	default:
		uuid = identity.NewNoteUUID()
	}
	v.MarkApplied(kind, uuid, localKey)
	return uuid
}

func normalizeTagKey(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// splitCompoundKey splits a "selUUID:noteUUID" reconcileDeletions key
// back into its two parts for the selection-note remove/hardDelete
// callbacks, which take them separately.
func splitCompoundKey(key string) (string, string) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 {
		return key, ""
	}
	return parts[0], parts[1]
}

func containsStr(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func hashItem(item *types.Item) string {
	parts := []string{item.Template, item.Title, item.Date}
	for _, c := range item.AllChecksums() {
		parts = append(parts, c)
	}
	for _, k := range sortedMetadataKeys(item.Metadata) {
		v := item.Metadata[k]
		parts = append(parts, k, v.Text, v.Type, v.Lang)
	}
	for _, t := range item.Tags {
		parts = append(parts, t.Name, t.Color)
	}
	for _, n := range item.Notes {
		parts = append(parts, strconv.Itoa(n.ID), n.HTML, n.Language)
	}
	for _, p := range item.Photos {
		parts = append(parts, p.Checksum)
		for _, k := range sortedMetadataKeys(p.Metadata) {
			v := p.Metadata[k]
			parts = append(parts, k, v.Text, v.Type, v.Lang)
		}
		for _, n := range p.Notes {
			parts = append(parts, strconv.Itoa(n.ID), n.HTML, n.Language)
		}
		for _, s := range p.Selections {
			parts = append(parts, strconv.Itoa(s.ID), formatCoord(s.X), formatCoord(s.Y), formatCoord(s.W), formatCoord(s.H), formatCoord(s.Angle))
			for _, n := range s.Notes {
				parts = append(parts, strconv.Itoa(n.ID), n.HTML, n.Language)
			}
		}
		for _, t := range p.Transcriptions {
			parts = append(parts, strconv.Itoa(t.ID), t.Text, t.Data)
		}
	}
	for _, l := range item.Lists {
		parts = append(parts, strconv.Itoa(l.ID), l.Name)
	}
	return hashString(parts...)
}

// sortedMetadataKeys gives hashItem a stable iteration order over a
// metadata map.
func sortedMetadataKeys(m map[string]types.MetadataValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func hashString(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
