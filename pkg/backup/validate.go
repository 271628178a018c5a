package backup

import (
	humanize "github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/micahchoo/troparcel/pkg/crdt"
	"github.com/micahchoo/troparcel/pkg/log"
)

// ValidationLimits caps what an inbound update record may contain
// before the sync engine lets it reach the document.
type ValidationLimits struct {
	MaxNoteSize             int
	MaxMetadataSize         int
	TombstoneFloodThreshold float64 // ratio of tombstoned:total records that triggers a warning
}

// FilterUpdate drops any record in u that exceeds limits, logging each
// rejection at warn and continuing with the rest — a single oversize
// or malformed record never blocks the records around it. It also logs
// a warning, without dropping anything, if the ratio of tombstoned
// records in the batch exceeds limits.TombstoneFloodThreshold.
func FilterUpdate(u crdt.Update, limits ValidationLimits) crdt.Update {
	l := log.WithComponent("backup.validate")

	kept := make([]crdt.RecordUpdate, 0, len(u.Records))
	tombstones := 0
	for _, ru := range u.Records {
		if ru.Record.Deleted {
			tombstones++
		}
		if reason, bad := rejectionReason(ru, limits); bad {
			l.Warn().
				Str("identity", ru.Identity).
				Str("section", string(ru.Section)).
				Str("key", ru.Key).
				Str("reason", reason).
				Msg("rejected inbound record")
			continue
		}
		kept = append(kept, ru)
	}

	warnTombstoneFlood(l, len(u.Records), tombstones, limits.TombstoneFloodThreshold)

	return crdt.Update{Room: u.Room, Records: kept}
}

func rejectionReason(ru crdt.RecordUpdate, limits ValidationLimits) (string, bool) {
	switch ru.Section {
	case crdt.SectionNotes, crdt.SectionSelectionNotes:
		if html, ok := ru.Record.Fields["html"]; ok && limits.MaxNoteSize > 0 && len(html) > limits.MaxNoteSize {
			return "note exceeds maxNoteSize", true
		}
	case crdt.SectionMetadata, crdt.SectionSelectionMeta:
		if text, ok := ru.Record.Fields["text"]; ok && limits.MaxMetadataSize > 0 && len(text) > limits.MaxMetadataSize {
			return "metadata value exceeds maxMetadataSize", true
		}
	case crdt.SectionSelections:
		if !validGeometry(ru.Record.Fields) {
			return "malformed selection geometry", true
		}
	}
	return "", false
}

func validGeometry(fields map[string]string) bool {
	for _, key := range []string{"x", "y", "w", "h"} {
		if v, ok := fields[key]; ok && !isFiniteNumber(v) {
			return false
		}
	}
	return true
}

func isFiniteNumber(s string) bool {
	if s == "" {
		return false
	}
	seenDigit := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			seenDigit = true
		case r == '-' && i == 0:
		case r == '.':
		default:
			return false
		}
	}
	return seenDigit
}

func warnTombstoneFlood(l zerolog.Logger, total, tombstones int, threshold float64) {
	if total == 0 || threshold <= 0 {
		return
	}
	ratio := float64(tombstones) / float64(total)
	if ratio > threshold {
		l.Warn().
			Int("tombstones", tombstones).
			Int("total", total).
			Str("ratio", humanize.FormatFloat("#.##", ratio)).
			Msg("tombstone flood ratio exceeded threshold")
	}
}
