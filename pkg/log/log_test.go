package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitJSONOutputWritesLevelAndMessage(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	Logger.Warn().Msg("disk almost full")
	Logger.Debug().Msg("should be suppressed below warn level")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected a single JSON log line, got %q: %v", buf.String(), err)
	}
	if line["message"] != "disk almost full" {
		t.Fatalf("message = %v, want %q", line["message"], "disk almost full")
	}
	if line["level"] != "warn" {
		t.Fatalf("level = %v, want warn", line["level"])
	}
}

func TestInitUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: Level("not-a-level"), JSONOutput: true, Output: &buf})

	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("GlobalLevel() = %v, want info for an unrecognised level", zerolog.GlobalLevel())
	}
}

func TestWithComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	WithComponent("backup").Info().Msg("wrote snapshot")

	if !strings.Contains(buf.String(), `"component":"backup"`) {
		t.Fatalf("log line %q should carry component=backup", buf.String())
	}
}

func TestWithRoomAndWithItemAddFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	WithRoom("room-1").Info().Msg("room event")
	WithItem("identity-1").Info().Msg("item event")

	out := buf.String()
	if !strings.Contains(out, `"room":"room-1"`) {
		t.Fatalf("expected room field in %q", out)
	}
	if !strings.Contains(out, `"item_identity":"identity-1"`) {
		t.Fatalf("expected item_identity field in %q", out)
	}
}
