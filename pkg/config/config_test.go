package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

func TestDefaultIsValidOnceServerURLAndRoomAreSet(t *testing.T) {
	o := Default()
	o.ServerURL = "wss://relay.example/ws"
	o.Room = "room-1"
	if err := o.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestDefaultRejectsMissingServerURLAndRoom(t *testing.T) {
	o := Default()
	if err := o.Validate(); err == nil {
		t.Fatal("Validate() should reject an empty ServerURL")
	}
	o.ServerURL = "wss://relay.example/ws"
	if err := o.Validate(); err == nil {
		t.Fatal("Validate() should reject an empty Room")
	}
}

func TestValidateRejectsUnknownSyncMode(t *testing.T) {
	o := Default()
	o.ServerURL = "wss://relay.example/ws"
	o.Room = "room-1"
	o.SyncMode = SyncMode("bogus")
	if err := o.Validate(); err == nil {
		t.Fatal("Validate() should reject an unrecognised sync mode")
	}
}

func TestValidateRejectsOutOfRangeTombstoneThreshold(t *testing.T) {
	o := Default()
	o.ServerURL = "wss://relay.example/ws"
	o.Room = "room-1"
	o.TombstoneFloodThreshold = 1.5
	if err := o.Validate(); err == nil {
		t.Fatal("Validate() should reject a threshold above 1")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	o, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if o.SyncMode != ModeAuto || o.MaxBackups != 20 {
		t.Fatalf("Load() of a missing file = %+v, want Default()'s values", o)
	}
}

func TestLoadOverridesDefaultsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "room.yaml")
	yamlBody := "serverUrl: wss://relay.example/ws\nroom: room-1\nuserId: user-1\nsyncMode: push\nmaxBackups: 5\nlocalDebounce: 9000\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	o, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if o.ServerURL != "wss://relay.example/ws" || o.Room != "room-1" || o.SyncMode != ModePush || o.MaxBackups != 5 {
		t.Fatalf("Load() = %+v, want file values layered over defaults", o)
	}
	if o.LocalDebounce.Milliseconds() != 9000 {
		t.Fatalf("LocalDebounce = %v, want 9s resolved from localDebounce: 9000", o.LocalDebounce)
	}
	// A field the file didn't mention keeps Default()'s value.
	if o.SyncTags != true {
		t.Fatal("Load() should leave unspecified fields at their default")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("not: valid: yaml: [\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() should error on malformed YAML")
	}
}

func TestBindFlagsLetsCommandLineOverrideLoadedValue(t *testing.T) {
	o := Default()
	o.Room = "from-file"

	cmd := &cobra.Command{Use: "test"}
	o.BindFlags(cmd)

	if err := cmd.ParseFlags([]string{"--room", "from-flag"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if o.Room != "from-flag" {
		t.Fatalf("Room = %q, want the flag value to win over the file default", o.Room)
	}
}

func TestApplyFlagsResolvesDurationFields(t *testing.T) {
	o := Default()
	o.LocalDebounceMs = 1500
	o.SafetyNetIntervalMs = 60_000

	o.ApplyFlags()

	if o.LocalDebounce.Milliseconds() != 1500 {
		t.Fatalf("LocalDebounce = %v, want 1.5s", o.LocalDebounce)
	}
	if o.SafetyNetInterval.Seconds() != 60 {
		t.Fatalf("SafetyNetInterval = %v, want 60s", o.SafetyNetInterval)
	}
}
