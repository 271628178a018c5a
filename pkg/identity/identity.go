/*
Package identity derives stable identities for items and sub-resources.

An item's identity is a fingerprint of its photo checksums so that two
instances of the host application, each holding their own copy of the
same photos, agree on which CRDT annotation bucket an item maps to
without ever exchanging image bytes. Sub-resources (notes, selections,
transcriptions, lists) get opaque version-4 UUIDs instead, minted by
whichever peer pushes them first.
*/
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/micahchoo/troparcel/pkg/types"
)

// Length of the returned identity, in hex digits.
const fingerprintLen = 32

// Compute derives the stable identity for item. It returns "", false
// when the item has no photos and no template/title/date to fall back
// on — such an item has no stable identity and must not be pushed or
// matched.
func Compute(item *types.Item) (string, bool) {
	checksums := item.AllChecksums()
	if len(checksums) > 0 {
		return hashChecksums(checksums), true
	}
	return fallback(item.Template, item.Title, item.Date)
}

// hashChecksums sorts checksums lexicographically, joins them with ":",
// and returns the first fingerprintLen hex digits of their SHA-256. The
// sort makes the identity independent of the order the host reports
// photos in (§8 invariant 1); two items sharing every checksum collapse
// to the same identity regardless of how many checksums they have
// (§8 invariant 2).
func hashChecksums(checksums []string) string {
	sorted := append([]string(nil), checksums...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ":")))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// fallback hashes template|title|date for items with no photos at all.
// Returns false if all three fields are empty, since hashing three empty
// strings would collide every such item onto one identity.
func fallback(template, title, date string) (string, bool) {
	if template == "" && title == "" && date == "" {
		return "", false
	}
	sum := sha256.Sum256([]byte(template + "|" + title + "|" + date))
	return hex.EncodeToString(sum[:])[:fingerprintLen], true
}

// PhotoChecksumMap returns a map from the host's local photo id to its
// checksum, for use by the push path when it needs to resolve a photo a
// note/selection/transcription is attached to back to a CRDT photo key.
func PhotoChecksumMap(item *types.Item) map[int]string {
	out := make(map[int]string, len(item.Photos))
	for _, p := range item.Photos {
		if p.Checksum != "" {
			out[p.ID] = p.Checksum
		}
	}
	return out
}

// SelectionFingerprint computes the coordinate fingerprint used to dedup
// selections created concurrently by two peers before either has seen
// the other's UUID: the first 24 hex digits of
// sha256("sel:checksum:round(x):round(y):round(w):round(h)").
func SelectionFingerprint(checksum string, x, y, w, h float64) string {
	payload := fmt.Sprintf("sel:%s:%d:%d:%d:%d", checksum, round(x), round(y), round(w), round(h))
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:24]
}

func round(v float64) int64 {
	if v >= 0 {
		return int64(v + 0.5)
	}
	return int64(v - 0.5)
}

// NewNoteUUID, NewSelectionUUID, NewTranscriptionUUID and NewListUUID
// mint opaque version-4 UUIDs prefixed so that a log line or a vault
// dump is self-describing about which section a key belongs to.
func NewNoteUUID() string          { return "n_" + uuid.NewString() }
func NewSelectionUUID() string     { return "s_" + uuid.NewString() }
func NewTranscriptionUUID() string { return "t_" + uuid.NewString() }
func NewListUUID() string          { return "l_" + uuid.NewString() }
