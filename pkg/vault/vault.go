package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/micahchoo/troparcel/pkg/log"
)

const (
	pushedHashCapacity = 5000
	appliedKeyCapacity = 50000
	idMappingCapacity  = 50000
	maxPushFailures    = 3
)

// Vault is the durable sidecar described in doc.go. The zero value is
// not usable; construct one with Open.
type Vault struct {
	mu   sync.Mutex
	path string
	log  zerolog.Logger

	nextSeq uint64

	pushedHashes *lru.Cache // item identity -> content hash at last push
	fieldHashes  *lru.Cache // "identity:field" -> content hash at last push, the hasLocalEdit signal

	appliedNoteKeys          *lru.Cache // note UUID -> local note id
	appliedSelectionKeys     *lru.Cache // selection UUID -> local selection id
	appliedTranscriptionKeys *lru.Cache // transcription UUID -> local transcription id
	appliedListKeys          *lru.Cache // list UUID -> local list id

	localToUUID map[string]string // "section:localID" -> UUID, the reverse of the four caches above

	failedPushes     map[string]int
	dismissedKeys    map[string]bool
	originalAuthors  map[string]string
	lastPushedChildren map[string][]string // "identity:section" -> local ids present at last push, for deletion detection
	tombstonedChildren map[string][]string // "identity:section" -> ids tombstoned last cycle, hard-deleted if still absent next cycle

	lastCRDTHash   string
	lastBackupHash string
}

type vaultState struct {
	NextSeq               uint64            `json:"nextSeq"`
	PushedHashes          map[string]string `json:"pushedHashes"`
	FieldHashes           map[string]string `json:"fieldHashes"`
	AppliedNotes          map[string]string `json:"appliedNotes"`
	AppliedSelections     map[string]string `json:"appliedSelections"`
	AppliedTranscriptions map[string]string `json:"appliedTranscriptions"`
	AppliedLists          map[string]string `json:"appliedLists"`
	LocalToUUID           map[string]string `json:"localToUUID"`
	FailedPushes          map[string]int    `json:"failedPushes"`
	DismissedKeys         map[string]bool     `json:"dismissedKeys"`
	OriginalAuthors       map[string]string   `json:"originalAuthors"`
	LastPushedChildren    map[string][]string `json:"lastPushedChildren"`
	TombstonedChildren    map[string][]string `json:"tombstonedChildren"`
	LastCRDTHash          string              `json:"lastCRDTHash"`
	LastBackupHash        string              `json:"lastBackupHash"`
}

// Open loads the vault at path, creating an empty one if the file does
// not yet exist.
func Open(path string) (*Vault, error) {
	v := &Vault{
		path:            path,
		log:             log.WithComponent("vault"),
		localToUUID:        map[string]string{},
		failedPushes:       map[string]int{},
		dismissedKeys:      map[string]bool{},
		originalAuthors:    map[string]string{},
		lastPushedChildren: map[string][]string{},
		tombstonedChildren: map[string][]string{},
	}

	var err error
	if v.pushedHashes, err = lru.New(pushedHashCapacity); err != nil {
		return nil, err
	}
	if v.fieldHashes, err = lru.New(appliedKeyCapacity); err != nil {
		return nil, err
	}
	if v.appliedNoteKeys, err = lru.New(appliedKeyCapacity); err != nil {
		return nil, err
	}
	if v.appliedSelectionKeys, err = lru.New(idMappingCapacity); err != nil {
		return nil, err
	}
	if v.appliedTranscriptionKeys, err = lru.New(idMappingCapacity); err != nil {
		return nil, err
	}
	if v.appliedListKeys, err = lru.New(idMappingCapacity); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return v, nil
		}
		return nil, fmt.Errorf("vault: read %s: %w", path, err)
	}

	var state vaultState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("vault: decode %s: %w", path, err)
	}
	v.restore(state)
	return v, nil
}

func (v *Vault) restore(state vaultState) {
	v.nextSeq = state.NextSeq
	v.lastCRDTHash = state.LastCRDTHash
	v.lastBackupHash = state.LastBackupHash
	for k, h := range state.PushedHashes {
		v.pushedHashes.Add(k, h)
	}
	for k, h := range state.FieldHashes {
		v.fieldHashes.Add(k, h)
	}
	for k, id := range state.AppliedNotes {
		v.appliedNoteKeys.Add(k, id)
	}
	for k, id := range state.AppliedSelections {
		v.appliedSelectionKeys.Add(k, id)
	}
	for k, id := range state.AppliedTranscriptions {
		v.appliedTranscriptionKeys.Add(k, id)
	}
	for k, id := range state.AppliedLists {
		v.appliedListKeys.Add(k, id)
	}
	for k, uuid := range state.LocalToUUID {
		v.localToUUID[k] = uuid
	}
	for k, n := range state.FailedPushes {
		v.failedPushes[k] = n
	}
	for k, d := range state.DismissedKeys {
		v.dismissedKeys[k] = d
	}
	for k, a := range state.OriginalAuthors {
		v.originalAuthors[k] = a
	}
	for k, ids := range state.LastPushedChildren {
		v.lastPushedChildren[k] = append([]string(nil), ids...)
	}
	for k, ids := range state.TombstonedChildren {
		v.tombstonedChildren[k] = append([]string(nil), ids...)
	}
}

// Persist writes the vault to its backing file via a temp-file-and-rename
// so a crash mid-write never leaves a truncated sidecar behind, the same
// discipline a bbolt-backed store gets for free.
func (v *Vault) Persist() error {
	v.mu.Lock()
	state := v.snapshotLocked()
	v.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("vault: encode: %w", err)
	}

	dir := filepath.Dir(v.path)
	tmp, err := os.CreateTemp(dir, ".vault-*.tmp")
	if err != nil {
		return fmt.Errorf("vault: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vault: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, v.path); err != nil {
		return fmt.Errorf("vault: rename into place: %w", err)
	}
	return nil
}

func (v *Vault) snapshotLocked() vaultState {
	return vaultState{
		NextSeq:               v.nextSeq,
		PushedHashes:          dumpCache(v.pushedHashes),
		FieldHashes:           dumpCache(v.fieldHashes),
		AppliedNotes:          dumpCache(v.appliedNoteKeys),
		AppliedSelections:     dumpCache(v.appliedSelectionKeys),
		AppliedTranscriptions: dumpCache(v.appliedTranscriptionKeys),
		AppliedLists:          dumpCache(v.appliedListKeys),
		LocalToUUID:           copyStrMap(v.localToUUID),
		FailedPushes:          copyIntMap(v.failedPushes),
		DismissedKeys:         copyBoolMap(v.dismissedKeys),
		OriginalAuthors:       copyStrMap(v.originalAuthors),
		LastPushedChildren:    copyStrSliceMap(v.lastPushedChildren),
		TombstonedChildren:    copyStrSliceMap(v.tombstonedChildren),
		LastCRDTHash:          v.lastCRDTHash,
		LastBackupHash:        v.lastBackupHash,
	}
}

func copyStrSliceMap(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func dumpCache(c *lru.Cache) map[string]string {
	out := make(map[string]string, c.Len())
	for _, k := range c.Keys() {
		if v, ok := c.Peek(k); ok {
			out[k.(string)] = v.(string)
		}
	}
	return out
}

func copyStrMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyBoolMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// NextPushSeq returns a monotonically increasing counter used to order a
// replica's own pushes in logs. It plays no role in merge resolution
// (the CRDT document's Lamport clock does that).
func (v *Vault) NextPushSeq() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextSeq++
	return v.nextSeq
}

// HasItemChanged reports whether identity's content hash differs from
// the one recorded at its last push, i.e. whether a push is warranted
// at all.
func (v *Vault) HasItemChanged(identity, contentHash string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	last, ok := v.pushedHashes.Get(identity)
	return !ok || last.(string) != contentHash
}

// MarkPushed records contentHash as the last-pushed hash for identity.
func (v *Vault) MarkPushed(identity, contentHash string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pushedHashes.Add(identity, contentHash)
}

// HasLocalEdit reports whether the local content at field (an
// "identity:section:key" style composite) no longer matches what this
// replica last pushed for it, or has no recorded hash. A true result means the user has since
// edited the field locally, which is the only signal the push and apply
// paths use to protect local edits from being overwritten — never
// pushSeq, never wall-clock time.
func (v *Vault) HasLocalEdit(field, currentHash string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	last, ok := v.fieldHashes.Get(field)
	return !ok || last.(string) != currentHash
}

// MarkFieldPushed records currentHash as the last-pushed hash for field.
func (v *Vault) MarkFieldPushed(field, currentHash string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fieldHashes.Add(field, currentHash)
}

// FieldApplied reports whether field has ever had a hash recorded at
// all, regardless of its value. The apply path uses this to tell a
// field it is materialising for the first time (always safe to write)
// apart from one whose last-known local value has since diverged from
// what was applied (a genuine conflict), a distinction HasLocalEdit
// alone cannot make since an unseen field always looks "changed".
func (v *Vault) FieldApplied(field string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.fieldHashes.Get(field)
	return ok
}

// appliedCache resolves which bounded cache backs a given apply-path
// sub-resource kind.
func (v *Vault) appliedCache(kind string) *lru.Cache {
	switch kind {
	case "note":
		return v.appliedNoteKeys
	case "selection":
		return v.appliedSelectionKeys
	case "transcription":
		return v.appliedTranscriptionKeys
	case "list":
		return v.appliedListKeys
	default:
		return nil
	}
}

// MarkApplied records that uuid has been materialised into the host
// store as localID, in both directions, so the apply path can recognise
// it on the next sync cycle instead of creating a duplicate.
func (v *Vault) MarkApplied(kind, uuid, localID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c := v.appliedCache(kind)
	if c == nil {
		return
	}
	c.Add(uuid, localID)
	v.localToUUID[kind+":"+localID] = uuid
}

// AppliedLocalID returns the local id uuid was last materialised as, if
// any.
func (v *Vault) AppliedLocalID(kind, uuid string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c := v.appliedCache(kind)
	if c == nil {
		return "", false
	}
	id, ok := c.Get(uuid)
	if !ok {
		return "", false
	}
	return id.(string), true
}

// UUIDForLocal reverse-looks-up the UUID a local id was applied from.
func (v *Vault) UUIDForLocal(kind, localID string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id, ok := v.localToUUID[kind+":"+localID]
	return id, ok
}

// RecordPushFailure increments field's consecutive push-failure count
// and reports whether it has now hit the permanent-skip threshold: three
// failures and the engine stops retrying a sub-resource rather than
// looping forever against something it cannot push.
func (v *Vault) RecordPushFailure(field string) (permanentlySkip bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failedPushes[field]++
	return v.failedPushes[field] >= maxPushFailures
}

// ResetPushFailure clears field's failure count after a successful push.
func (v *Vault) ResetPushFailure(field string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.failedPushes, field)
}

// Dismiss marks key's conflict as acknowledged so the apply path stops
// logging it on every sync cycle.
func (v *Vault) Dismiss(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dismissedKeys[key] = true
}

func (v *Vault) IsDismissed(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dismissedKeys[key]
}

// SetOriginalAuthor records the author who first pushed key. The push
// path consults this before emitting a tombstone locally so a user can
// never author a delete for a sub-resource someone else created — the
// local-write half of the ownership check ApplyUpdate enforces for
// inbound tombstones.
func (v *Vault) SetOriginalAuthor(key, author string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.originalAuthors[key]; !exists {
		v.originalAuthors[key] = author
	}
}

func (v *Vault) OriginalAuthor(key string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	a, ok := v.originalAuthors[key]
	return a, ok
}

// ShouldBackup reports whether currentHash differs from the hash
// recorded at the last snapshot, so the backup manager can skip writing
// an identical snapshot twice in a row.
func (v *Vault) ShouldBackup(currentHash string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastBackupHash != currentHash
}

func (v *Vault) RecordBackupHash(hash string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastBackupHash = hash
}

// HasCRDTChanged reports whether currentHash differs from the hash
// recorded at the last safety-net poll, letting the sync engine's
// safety-net timer skip a no-op sync pass entirely.
func (v *Vault) HasCRDTChanged(currentHash string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastCRDTHash != currentHash
}

func (v *Vault) RecordCRDTHash(hash string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastCRDTHash = hash
}

// LastPushedChildren returns the set of local sub-resource ids that were
// present the last time identity's section was pushed, used by the push
// path to notice a local id that has since disappeared, gated behind
// the syncDeletions room flag.
func (v *Vault) LastPushedChildren(identity string, section string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.lastPushedChildren[identity+":"+section]...)
}

func (v *Vault) SetLastPushedChildren(identity string, section string, ids []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastPushedChildren[identity+":"+section] = append([]string(nil), ids...)
}

// TombstonedChildren returns the local ids tombstoned at the previous
// push that were still absent from the snapshot at that time, letting
// the push path tell a fresh deletion (which still needs a tombstone
// for a peer that has not converged yet) from one that has already
// survived a full cycle and is now safe to hard-delete.
func (v *Vault) TombstonedChildren(identity string, section string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.tombstonedChildren[identity+":"+section]...)
}

func (v *Vault) SetTombstonedChildren(identity string, section string, ids []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tombstonedChildren[identity+":"+section] = append([]string(nil), ids...)
}

// ClearOriginalAuthor drops the ownership record for key once its entry
// has been hard-deleted, so a future local id reusing the same key is
// treated as a brand new sub-resource rather than inheriting stale
// authorship.
func (v *Vault) ClearOriginalAuthor(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.originalAuthors, key)
}
