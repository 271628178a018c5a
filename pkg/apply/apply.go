package apply

import (
	"context"
	"strconv"
	"strings"

	"github.com/micahchoo/troparcel/pkg/crdt"
	"github.com/micahchoo/troparcel/pkg/footer"
	"github.com/micahchoo/troparcel/pkg/sanitize"
	"github.com/micahchoo/troparcel/pkg/store"
	"github.com/micahchoo/troparcel/pkg/types"
	"github.com/micahchoo/troparcel/pkg/vault"
)

// Conflict records a field the apply path declined to overwrite because
// the local copy had diverged from what this replica last applied,
// meaning a local edit is still waiting to be pushed.
type Conflict struct {
	Identity string
	Field    string
	Reason   string
}

// Item materialises snapshot into the host item it matches, through
// adapter. It returns the conflicts it deferred (and did not write),
// and a nil slice with no error when snapshot has no matching host
// item at all — the engine only ever applies onto an item the host
// already knows about.
func Item(ctx context.Context, adapter store.Adapter, v *vault.Vault, snapshot *crdt.ItemSnapshot) ([]Conflict, error) {
	item, err := findMatch(ctx, adapter, snapshot)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	resume := adapter.SuppressChanges()
	defer resume()

	var conflicts []Conflict
	appliers := []func(context.Context, store.Adapter, *vault.Vault, *types.Item, *crdt.ItemSnapshot) ([]Conflict, error){
		applyMetadata,
		applyPhotoMetadata,
		applyTags,
		applyLists,
		applyNotes,
		applySelections,
		applyTranscriptions,
	}
	for _, fn := range appliers {
		cs, err := fn(ctx, adapter, v, item, snapshot)
		if err != nil {
			return conflicts, err
		}
		conflicts = append(conflicts, cs...)
	}
	return conflicts, nil
}

// applyField centralises the three-way decision every section applier
// makes for one field: skip if the target value is already what was
// last applied, defer as a conflict if the local copy has since
// diverged from that, otherwise perform write and record the new hash.
func applyField(v *vault.Vault, field, targetHash string, getLocal func() (string, bool), write func() error) (conflict bool, err error) {
	seen := v.FieldApplied(field)
	if seen && !v.HasLocalEdit(field, targetHash) {
		return false, nil
	}
	if seen {
		if localHash, ok := getLocal(); ok && v.HasLocalEdit(field, localHash) {
			return true, nil
		}
	}
	if err := write(); err != nil {
		return false, err
	}
	v.MarkFieldPushed(field, targetHash)
	return false, nil
}

func applyMetadata(ctx context.Context, adapter store.Adapter, v *vault.Vault, item *types.Item, snapshot *crdt.ItemSnapshot) ([]Conflict, error) {
	var conflicts []Conflict
	for property, entry := range snapshot.Metadata {
		field := "applied:" + snapshot.Identity + ":metadata:" + property
		targetHash := hashString(entry.Text, entry.Type, entry.Lang)
		getLocal := func() (string, bool) {
			local, ok := item.Metadata[property]
			if !ok {
				return "", false
			}
			return hashString(local.Text, local.Type, local.Lang), true
		}
		write := func() error {
			return adapter.SetMetadata(ctx, item.ID, 0, property, entry.Text, entry.Type, entry.Lang)
		}
		conflict, err := applyField(v, field, targetHash, getLocal, write)
		if err != nil {
			return conflicts, err
		}
		if conflict {
			conflicts = append(conflicts, Conflict{Identity: snapshot.Identity, Field: field, Reason: "local metadata diverged from what was last applied"})
		}
	}
	return conflicts, nil
}

func applyPhotoMetadata(ctx context.Context, adapter store.Adapter, v *vault.Vault, item *types.Item, snapshot *crdt.ItemSnapshot) ([]Conflict, error) {
	var conflicts []Conflict
	for checksum, photoSnap := range snapshot.Photos {
		photoID := photoIDForChecksum(item, checksum)
		if photoID == 0 {
			continue
		}
		for property, entry := range photoSnap.Metadata {
			field := "applied:" + snapshot.Identity + ":photos:" + checksum + ":" + property
			targetHash := hashString(entry.Text, entry.Type, entry.Lang)
			getLocal := func() (string, bool) {
				for _, p := range item.Photos {
					if p.ID != photoID {
						continue
					}
					local, ok := p.Metadata[property]
					if !ok {
						return "", false
					}
					return hashString(local.Text, local.Type, local.Lang), true
				}
				return "", false
			}
			write := func() error {
				return adapter.SetMetadata(ctx, item.ID, photoID, property, entry.Text, entry.Type, entry.Lang)
			}
			conflict, err := applyField(v, field, targetHash, getLocal, write)
			if err != nil {
				return conflicts, err
			}
			if conflict {
				conflicts = append(conflicts, Conflict{Identity: snapshot.Identity, Field: field, Reason: "local photo metadata diverged from what was last applied"})
			}
		}
	}
	return conflicts, nil
}

func applyTags(ctx context.Context, adapter store.Adapter, v *vault.Vault, item *types.Item, snapshot *crdt.ItemSnapshot) ([]Conflict, error) {
	var conflicts []Conflict
	for key, entry := range snapshot.Tags {
		field := "applied:" + snapshot.Identity + ":tags:" + key
		active := !entry.Deleted
		targetHash := hashString(entry.Name, entry.Color, strconv.FormatBool(active))
		getLocal := func() (string, bool) {
			for _, t := range item.Tags {
				if normalizeTagKey(t.Name) == key {
					return hashString(t.Name, t.Color, "true"), true
				}
			}
			return hashString("", "", "false"), true
		}
		write := func() error {
			return adapter.SetTag(ctx, item.ID, entry.Name, entry.Color, active)
		}
		conflict, err := applyField(v, field, targetHash, getLocal, write)
		if err != nil {
			return conflicts, err
		}
		if conflict {
			conflicts = append(conflicts, Conflict{Identity: snapshot.Identity, Field: field, Reason: "local tag state diverged from what was last applied"})
		}
	}
	return conflicts, nil
}

func applyLists(ctx context.Context, adapter store.Adapter, v *vault.Vault, item *types.Item, snapshot *crdt.ItemSnapshot) ([]Conflict, error) {
	var conflicts []Conflict
	for uuid, entry := range snapshot.Lists {
		field := "applied:" + snapshot.Identity + ":lists:" + uuid
		member := !entry.Deleted
		targetHash := hashString(entry.Name, strconv.FormatBool(member))
		getLocal := func() (string, bool) {
			for _, l := range item.Lists {
				if l.Name == entry.Name {
					return hashString(entry.Name, "true"), true
				}
			}
			return hashString(entry.Name, "false"), true
		}
		write := func() error {
			return adapter.SetListMembership(ctx, item.ID, entry.Name, member)
		}
		conflict, err := applyField(v, field, targetHash, getLocal, write)
		if err != nil {
			return conflicts, err
		}
		if conflict {
			conflicts = append(conflicts, Conflict{Identity: snapshot.Identity, Field: field, Reason: "local list membership diverged from what was last applied"})
		}
	}
	return conflicts, nil
}

// applyNotes renders every note into the host store. A live note is
// rendered with the synced-note footer so the push path can recognise
// it later; a deleted note is retracted (struck through) rather than
// removed outright, so a human still sees that an annotation used to
// be there and who it belonged to.
//
// The footer embedded in a note's own body is the single source of
// truth for which local note it corresponds to: it survives a vault
// reset and identifies a note synced by a different Troparcel install.
// The vault's uuid-to-local-id mapping is only a fallback for notes
// that have not round-tripped through the host yet, and a content-based
// match against every local note is the last resort for a note whose
// footer was stripped by the host.
func applyNotes(ctx context.Context, adapter store.Adapter, v *vault.Vault, item *types.Item, snapshot *crdt.ItemSnapshot) ([]Conflict, error) {
	var conflicts []Conflict
	for uuid, entry := range snapshot.Notes {
		field := "applied:" + snapshot.Identity + ":notes:" + uuid
		rendered := renderNote(uuid, entry.HTML, entry.Author, entry.Deleted)
		targetHash := hashString(rendered)

		plainBody := footer.Strip(sanitize.Sanitize(entry.HTML))
		localID, known := resolveNoteLocalID(item, v, uuid, plainBody)
		if known {
			if _, alreadyMapped := v.AppliedLocalID("note", uuid); !alreadyMapped {
				v.MarkApplied("note", uuid, localID)
			}
		}
		getLocal := func() (string, bool) {
			if !known {
				return "", false
			}
			n, ok := findNoteByLocalID(item, localID)
			if !ok {
				return "", false
			}
			return hashString(n.HTML), true
		}
		photoID := photoIDForChecksum(item, entry.Checksum)
		write := func() error {
			newID, err := adapter.UpsertNote(ctx, localID, photoID, 0, rendered, entry.Lang)
			if err != nil {
				return err
			}
			if !known {
				v.MarkApplied("note", uuid, strconv.Itoa(newID))
			}
			return nil
		}
		conflict, err := applyField(v, field, targetHash, getLocal, write)
		if err != nil {
			return conflicts, err
		}
		if conflict {
			conflicts = append(conflicts, Conflict{Identity: snapshot.Identity, Field: field, Reason: "local note content diverged from what was last applied"})
		}
	}
	return conflicts, nil
}

// renderNote produces the HTML body written into the host store for one
// note. A live note gets its sanitized body plus the synced-note
// footer. A retracted note keeps its body (wrapped in a strikethrough
// per block) rather than vanishing, so a reader can still see what was
// said and by whom, with a footer that reads "retracted by" instead of
// "from".
func renderNote(uuid, html, author string, deleted bool) string {
	sanitized := footer.Strip(sanitize.Sanitize(html))
	if !deleted {
		return sanitized + footer.Render(uuid, author)
	}
	return wrapStrikethrough(sanitized) + footer.RenderRetracted(uuid, author)
}

// wrapStrikethrough wraps every top-level <p>...</p> block in body with
// an <s> element; a body with no <p> block at all is wrapped as a single
// struck-through paragraph, while text between or around <p> blocks is
// copied through unstruck. Either way a retraction never loses content
// the way a hard delete would.
func wrapStrikethrough(body string) string {
	const open, close = "<p>", "</p>"
	if !strings.Contains(body, open) {
		return "<p><s>" + body + "</s></p>"
	}
	var out strings.Builder
	rest := body
	for {
		start := strings.Index(rest, open)
		if start < 0 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:start])
		afterOpen := rest[start+len(open):]
		end := strings.Index(afterOpen, close)
		if end < 0 {
			out.WriteString("<s>" + afterOpen + "</s>")
			break
		}
		out.WriteString("<p><s>" + afterOpen[:end] + "</s></p>")
		rest = afterOpen[end+len(close):]
	}
	return out.String()
}

// allNotes flattens every note on item: its own, its photos', and its
// photos' selections'.
func allNotes(item *types.Item) []types.Note {
	var out []types.Note
	out = append(out, item.Notes...)
	for _, p := range item.Photos {
		out = append(out, p.Notes...)
		for _, s := range p.Selections {
			out = append(out, s.Notes...)
		}
	}
	return out
}

// resolveNoteLocalID finds the local note matching uuid, trying the
// synced-note footer embedded in each local note's body first, then the
// vault's uuid-to-local-id mapping, then a content-based match against
// every local note's footer-stripped body.
func resolveNoteLocalID(item *types.Item, v *vault.Vault, uuid, plainBody string) (localID string, known bool) {
	for _, n := range allNotes(item) {
		if noteUUID, _, ok := footer.Parse(n.HTML); ok && noteUUID == uuid {
			return strconv.Itoa(n.ID), true
		}
	}
	if localID, ok := v.AppliedLocalID("note", uuid); ok {
		return localID, true
	}
	for _, n := range allNotes(item) {
		if _, _, ok := footer.Parse(n.HTML); ok {
			continue // already synced under a different uuid, not an unmarked duplicate
		}
		if footer.Strip(sanitize.Sanitize(n.HTML)) == plainBody {
			return strconv.Itoa(n.ID), true
		}
	}
	return "", false
}

func findNoteByLocalID(item *types.Item, localID string) (types.Note, bool) {
	for _, n := range item.Notes {
		if strconv.Itoa(n.ID) == localID {
			return n, true
		}
	}
	for _, p := range item.Photos {
		for _, n := range p.Notes {
			if strconv.Itoa(n.ID) == localID {
				return n, true
			}
		}
		for _, s := range p.Selections {
			for _, n := range s.Notes {
				if strconv.Itoa(n.ID) == localID {
					return n, true
				}
			}
		}
	}
	return types.Note{}, false
}

// applySelections writes live selections and deletes tombstoned ones
// (a rectangle has no retraction rendering worth keeping around), then
// applies the notes scoped to whichever live, unconflicted selections
// ended up with a resolved local id. Selection-scoped metadata
// (snapshot.SelectionMeta) is not applied.
func applySelections(ctx context.Context, adapter store.Adapter, v *vault.Vault, item *types.Item, snapshot *crdt.ItemSnapshot) ([]Conflict, error) {
	var conflicts []Conflict
	localSelIDs := map[string]string{}

	for uuid, entry := range snapshot.Selections {
		field := "applied:" + snapshot.Identity + ":selections:" + uuid
		photoID := photoIDForChecksum(item, entry.Checksum)
		targetHash := hashString(formatCoord(entry.X), formatCoord(entry.Y), formatCoord(entry.W), formatCoord(entry.H), formatCoord(entry.Angle), strconv.FormatBool(entry.Deleted))

		localID, known := v.AppliedLocalID("selection", uuid)
		if known && !entry.Deleted {
			localSelIDs[uuid] = localID
		}
		getLocal := func() (string, bool) {
			if !known {
				return "", false
			}
			s, ok := findSelectionByLocalID(item, localID)
			if !ok {
				return "", !entry.Deleted // if it's gone locally a delete is consistent, not a conflict
			}
			return hashString(formatCoord(s.X), formatCoord(s.Y), formatCoord(s.W), formatCoord(s.H), formatCoord(s.Angle), "false"), true
		}
		write := func() error {
			if entry.Deleted {
				if !known {
					return nil
				}
				id, err := strconv.Atoi(localID)
				if err != nil {
					return nil
				}
				return adapter.DeleteSelection(ctx, id)
			}
			newID, err := adapter.UpsertSelection(ctx, localID, photoID, entry.X, entry.Y, entry.W, entry.H, entry.Angle)
			if err != nil {
				return err
			}
			if !known {
				v.MarkApplied("selection", uuid, strconv.Itoa(newID))
				localSelIDs[uuid] = strconv.Itoa(newID)
			}
			return nil
		}
		conflict, err := applyField(v, field, targetHash, getLocal, write)
		if err != nil {
			return conflicts, err
		}
		if conflict {
			delete(localSelIDs, uuid)
			conflicts = append(conflicts, Conflict{Identity: snapshot.Identity, Field: field, Reason: "local selection diverged from what was last applied"})
			continue
		}
	}

	for selUUID, notes := range snapshot.SelectionNotes {
		localSelID, ok := localSelIDs[selUUID]
		if !ok {
			continue // parent selection not resolved (conflicted or deleted); skip its notes this cycle
		}
		cs, err := applySelectionNotes(ctx, adapter, v, item, snapshot.Identity, selUUID, localSelID, notes)
		if err != nil {
			return conflicts, err
		}
		conflicts = append(conflicts, cs...)
	}
	return conflicts, nil
}

func applySelectionNotes(ctx context.Context, adapter store.Adapter, v *vault.Vault, item *types.Item, identity, selUUID, localSelID string, notes map[string]crdt.SelectionNoteEntry) ([]Conflict, error) {
	var conflicts []Conflict
	selID, err := strconv.Atoi(localSelID)
	if err != nil {
		return nil, nil
	}
	for noteUUID, entry := range notes {
		field := "applied:" + identity + ":selectionNotes:" + selUUID + ":" + noteUUID
		rendered := renderNote(noteUUID, entry.HTML, entry.Author, entry.Deleted)
		targetHash := hashString(rendered)

		localID, known := v.AppliedLocalID("note", noteUUID)
		getLocal := func() (string, bool) {
			if !known {
				return "", false
			}
			n, ok := findNoteByLocalID(item, localID)
			if !ok {
				return "", false
			}
			return hashString(n.HTML), true
		}
		write := func() error {
			newID, err := adapter.UpsertNote(ctx, localID, 0, selID, rendered, entry.Lang)
			if err != nil {
				return err
			}
			if !known {
				v.MarkApplied("note", noteUUID, strconv.Itoa(newID))
			}
			return nil
		}
		conflict, err := applyField(v, field, targetHash, getLocal, write)
		if err != nil {
			return conflicts, err
		}
		if conflict {
			conflicts = append(conflicts, Conflict{Identity: identity, Field: field, Reason: "local selection note diverged from what was last applied"})
		}
	}
	return conflicts, nil
}

func findSelectionByLocalID(item *types.Item, localID string) (types.Selection, bool) {
	for _, p := range item.Photos {
		for _, s := range p.Selections {
			if strconv.Itoa(s.ID) == localID {
				return s, true
			}
		}
	}
	return types.Selection{}, false
}

// applyTranscriptions writes live transcriptions; since the store
// interface offers no delete for transcriptions, a tombstone is applied
// as an empty-text upsert instead.
func applyTranscriptions(ctx context.Context, adapter store.Adapter, v *vault.Vault, item *types.Item, snapshot *crdt.ItemSnapshot) ([]Conflict, error) {
	var conflicts []Conflict
	for uuid, entry := range snapshot.Transcriptions {
		field := "applied:" + snapshot.Identity + ":transcriptions:" + uuid
		text, data := entry.Text, entry.Data
		if entry.Deleted {
			text, data = "", ""
		}
		targetHash := hashString(text, data)

		localID, known := v.AppliedLocalID("transcription", uuid)
		getLocal := func() (string, bool) {
			if !known {
				return "", false
			}
			t, ok := findTranscriptionByLocalID(item, localID)
			if !ok {
				return "", false
			}
			return hashString(t.Text, t.Data), true
		}
		photoID := photoIDForChecksum(item, entry.Checksum)
		selID := 0
		if entry.SelectionUUID != "" {
			if ls, ok := v.AppliedLocalID("selection", entry.SelectionUUID); ok {
				selID, _ = strconv.Atoi(ls)
			}
		}
		write := func() error {
			newID, err := adapter.UpsertTranscription(ctx, localID, photoID, selID, text, data)
			if err != nil {
				return err
			}
			if !known {
				v.MarkApplied("transcription", uuid, strconv.Itoa(newID))
			}
			return nil
		}
		conflict, err := applyField(v, field, targetHash, getLocal, write)
		if err != nil {
			return conflicts, err
		}
		if conflict {
			conflicts = append(conflicts, Conflict{Identity: snapshot.Identity, Field: field, Reason: "local transcription diverged from what was last applied"})
		}
	}
	return conflicts, nil
}

func findTranscriptionByLocalID(item *types.Item, localID string) (types.Transcription, bool) {
	for _, p := range item.Photos {
		for _, t := range p.Transcriptions {
			if strconv.Itoa(t.ID) == localID {
				return t, true
			}
		}
	}
	return types.Transcription{}, false
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

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
