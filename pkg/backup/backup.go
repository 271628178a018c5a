/*
Package backup writes periodic snapshots of a room's CRDT document to
disk for disaster recovery, validates inbound records before they
reach the document, and provides a manual rollback path that replays a
snapshot back into the host store.

Grounded on warren's per-room durability story (vault.go's
write-and-rename discipline, reused here for the same reason: a crash
mid-write must never leave a truncated backup file) and warren's own
reconciliation shape for "walk every item, write what changed".
*/
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	humanize "github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/micahchoo/troparcel/pkg/crdt"
	"github.com/micahchoo/troparcel/pkg/log"
	"github.com/micahchoo/troparcel/pkg/vault"
)

// Snapshot is the on-disk backup format for one room.
type Snapshot struct {
	Room      string         `json:"room"`
	Timestamp string         `json:"timestamp"`
	Version   int            `json:"version"`
	Items     []SnapshotItem `json:"items"`
}

// SnapshotItem is one item's captured state within a Snapshot.
type SnapshotItem struct {
	Identity string                        `json:"identity"`
	Metadata map[string]crdt.MetadataEntry `json:"metadata,omitempty"`
	Tags     map[string]crdt.TagEntry      `json:"tags,omitempty"`
	Notes    map[string]crdt.NoteEntry     `json:"notes,omitempty"`
	Photos   map[string]crdt.PhotoSnapshot `json:"photos,omitempty"`
}

// Manager writes and prunes backup snapshots for one room.
type Manager struct {
	dir        string // backups/<room>
	room       string
	maxBackups int
	log        zerolog.Logger

	counter int // per-process monotonic counter, disambiguates same-millisecond writes
}

// NewManager constructs a backup manager writing into
// filepath.Join(baseDir, room). baseDir is typically "backups" under
// the user profile directory named in the persisted-state contract.
func NewManager(baseDir, room string, maxBackups int) *Manager {
	return &Manager{
		dir:        filepath.Join(baseDir, sanitiseDirName(room)),
		room:       room,
		maxBackups: maxBackups,
		log:        log.WithComponent("backup").With().Str("room", room).Logger(),
	}
}

// sanitiseDirName strips path separators from a room name so it can
// never be used to escape baseDir.
func sanitiseDirName(room string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return r.Replace(room)
}

// Capture builds a Snapshot from doc's current state.
func (m *Manager) Capture(doc *crdt.Doc, timestamp string) Snapshot {
	full := doc.GetFullSnapshot()
	items := make([]SnapshotItem, 0, len(full))
	for identity, snap := range full {
		if snap == nil {
			continue
		}
		items = append(items, SnapshotItem{
			Identity: identity,
			Metadata: snap.Metadata,
			Tags:     snap.Tags,
			Notes:    snap.Notes,
			Photos:   snap.Photos,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Identity < items[j].Identity })
	return Snapshot{Room: m.room, Timestamp: timestamp, Version: 4, Items: items}
}

// Save writes snap to disk if v reports the document has changed since
// the last backup, and prunes old snapshots beyond maxBackups. The
// filename is "<ISO-ts>-<counter>.json"; counter disambiguates two
// snapshots requested within the same millisecond.
func (m *Manager) Save(snap Snapshot, v *vault.Vault) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("backup: encode snapshot: %w", err)
	}

	hash := contentHash(data)
	if !v.ShouldBackup(hash) {
		return nil
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("backup: create dir: %w", err)
	}

	m.counter++
	name := fmt.Sprintf("%s-%d.json", isoTimestamp(snap.Timestamp), m.counter)
	path := filepath.Join(m.dir, name)

	if err := writeAtomic(path, data); err != nil {
		return err
	}

	v.RecordBackupHash(hash)
	m.log.Info().Str("file", name).Str("size", humanize.Bytes(uint64(len(data)))).Msg("wrote backup snapshot")

	return m.prune()
}

func isoTimestamp(ts string) string {
	return strings.ReplaceAll(strings.ReplaceAll(ts, ":", "-"), ".", "-")
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".backup-*.tmp")
	if err != nil {
		return fmt.Errorf("backup: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("backup: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("backup: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("backup: rename into place: %w", err)
	}
	return nil
}

// prune enforces maxBackups by deleting the oldest files in m.dir,
// oldest determined by sorted filename order since every filename
// begins with a lexicographically sortable ISO timestamp.
func (m *Manager) prune() error {
	if m.maxBackups <= 0 {
		return nil
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("backup: list dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	excess := len(names) - m.maxBackups
	for i := 0; i < excess; i++ {
		path := filepath.Join(m.dir, names[i])
		if err := os.Remove(path); err != nil {
			m.log.Warn().Err(err).Str("file", names[i]).Msg("failed to prune backup")
			continue
		}
		m.log.Debug().Str("file", names[i]).Msg("pruned backup")
	}
	return nil
}

// Load reads one backup file back into a Snapshot, for rollback.
func Load(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("backup: read %s: %w", path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("backup: decode %s: %w", path, err)
	}
	return snap, nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
