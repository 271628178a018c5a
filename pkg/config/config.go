/*
Package config defines the sync engine's configuration surface: every
option the engine reads from a room's config file, with documented
defaults; a subset of them is overridable by CLI flags.

Load reads YAML via gopkg.in/yaml.v3 and Options.ApplyFlags layers
cobra flag values on top, flags-over-file, mirroring the teacher
repo's init-then-override pattern for its own log-level/log-json
persistent flags.
*/
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// SyncMode gates which direction of sync is active.
type SyncMode string

const (
	ModeAuto   SyncMode = "auto"
	ModeReview SyncMode = "review"
	ModePush   SyncMode = "push"
	ModePull   SyncMode = "pull"
)

// Options is the full set of recognised configuration values for one
// sync room. Every duration field is stored as a time.Duration even
// though the YAML form is a plain number of milliseconds, so the rest
// of the engine never has to remember the unit.
type Options struct {
	ServerURL string `yaml:"serverUrl"`
	Room      string `yaml:"room"`
	UserID    string `yaml:"userId"`
	RoomToken string `yaml:"roomToken"`
	SyncMode  SyncMode `yaml:"syncMode"`

	SyncMetadata         bool `yaml:"syncMetadata"`
	SyncTags             bool `yaml:"syncTags"`
	SyncNotes            bool `yaml:"syncNotes"`
	SyncSelections       bool `yaml:"syncSelections"`
	SyncTranscriptions   bool `yaml:"syncTranscriptions"`
	SyncPhotoAdjustments bool `yaml:"syncPhotoAdjustments"`
	SyncLists            bool `yaml:"syncLists"`
	SyncDeletions        bool `yaml:"syncDeletions"`

	StartupDelay      time.Duration `yaml:"-"`
	LocalDebounce     time.Duration `yaml:"-"`
	RemoteDebounce    time.Duration `yaml:"-"`
	SafetyNetInterval time.Duration `yaml:"-"`
	WriteDelay        time.Duration `yaml:"-"`

	StartupDelayMs      int64 `yaml:"startupDelay"`
	LocalDebounceMs     int64 `yaml:"localDebounce"`
	RemoteDebounceMs    int64 `yaml:"remoteDebounce"`
	SafetyNetIntervalMs int64 `yaml:"safetyNetInterval"`
	WriteDelayMs        int64 `yaml:"writeDelay"`

	MaxBackups              int  `yaml:"maxBackups"`
	MaxNoteSize             int  `yaml:"maxNoteSize"`
	MaxMetadataSize         int  `yaml:"maxMetadataSize"`
	TombstoneFloodThreshold float64 `yaml:"tombstoneFloodThreshold"`
	ClearTombstones         bool    `yaml:"clearTombstones"`
	Debug                   bool    `yaml:"debug"`
}

// Default returns the documented default configuration. ServerURL,
// Room, UserID, and RoomToken are left empty; callers must supply
// them.
func Default() *Options {
	return &Options{
		SyncMode:                ModeAuto,
		SyncMetadata:            true,
		SyncTags:                true,
		SyncNotes:               true,
		SyncSelections:          true,
		SyncTranscriptions:      true,
		SyncPhotoAdjustments:    true,
		SyncLists:               true,
		SyncDeletions:           false,
		StartupDelayMs:          0,
		LocalDebounceMs:         2000,
		RemoteDebounceMs:        500,
		SafetyNetIntervalMs:     120_000,
		WriteDelayMs:            0,
		MaxBackups:              20,
		MaxNoteSize:             64_000,
		MaxMetadataSize:         16_000,
		TombstoneFloodThreshold: 0.5,
		ClearTombstones:         false,
		Debug:                   false,
	}
}

// Load reads a YAML config file at path and layers it on top of
// Default(). A missing file is not an error; Default() is returned
// unchanged.
func Load(path string) (*Options, error) {
	opts := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	opts.resolveDurations()
	return opts, nil
}

// resolveDurations converts the millisecond fields YAML populates into
// the time.Duration fields the rest of the engine consumes.
func (o *Options) resolveDurations() {
	o.StartupDelay = time.Duration(o.StartupDelayMs) * time.Millisecond
	o.LocalDebounce = time.Duration(o.LocalDebounceMs) * time.Millisecond
	o.RemoteDebounce = time.Duration(o.RemoteDebounceMs) * time.Millisecond
	o.SafetyNetInterval = time.Duration(o.SafetyNetIntervalMs) * time.Millisecond
	o.WriteDelay = time.Duration(o.WriteDelayMs) * time.Millisecond
}

// BindFlags registers the connection options (server URL, room, user
// id, room token), sync mode, sync-deletions, max-backups and debug as
// persistent flags on cmd, with the current value (typically Default()'s
// or the loaded file's) as the flag default. The other options have no
// flag.
func (o *Options) BindFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.ServerURL, "server-url", o.ServerURL, "relay websocket URL")
	f.StringVar(&o.Room, "room", o.Room, "sync room name")
	f.StringVar(&o.UserID, "user-id", o.UserID, "stable author id")
	f.StringVar(&o.RoomToken, "room-token", o.RoomToken, "shared room secret")
	f.StringVar((*string)(&o.SyncMode), "sync-mode", string(o.SyncMode), "auto|review|push|pull")
	f.BoolVar(&o.SyncDeletions, "sync-deletions", o.SyncDeletions, "propagate local deletions to the room")
	f.IntVar(&o.MaxBackups, "max-backups", o.MaxBackups, "number of backup snapshots to retain per room")
	f.BoolVar(&o.Debug, "debug", o.Debug, "verbose logging")
}

// ApplyFlags re-resolves the duration fields from their millisecond
// counterparts after cobra has populated the struct from flags.
// BindFlags exposes no millisecond field as a flag, so the durations
// come from the file/default values.
func (o *Options) ApplyFlags() {
	o.resolveDurations()
}

// Validate reports a config error for any option combination the
// engine cannot run with.
func (o *Options) Validate() error {
	if o.ServerURL == "" {
		return fmt.Errorf("config: serverUrl is required")
	}
	if o.Room == "" {
		return fmt.Errorf("config: room is required")
	}
	switch o.SyncMode {
	case ModeAuto, ModeReview, ModePush, ModePull:
	default:
		return fmt.Errorf("config: unrecognised syncMode %q", o.SyncMode)
	}
	if o.TombstoneFloodThreshold < 0 || o.TombstoneFloodThreshold > 1 {
		return fmt.Errorf("config: tombstoneFloodThreshold must be between 0 and 1")
	}
	return nil
}
