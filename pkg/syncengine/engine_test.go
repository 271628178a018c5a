package syncengine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/micahchoo/troparcel/pkg/backup"
	"github.com/micahchoo/troparcel/pkg/config"
	"github.com/micahchoo/troparcel/pkg/crdt"
	"github.com/micahchoo/troparcel/pkg/demostore"
	"github.com/micahchoo/troparcel/pkg/events"
	"github.com/micahchoo/troparcel/pkg/relay"
	"github.com/micahchoo/troparcel/pkg/types"
	"github.com/micahchoo/troparcel/pkg/vault"
)

func newTestEngine(t *testing.T) (*Engine, *demostore.Store) {
	t.Helper()
	dir := t.TempDir()

	st, err := demostore.Open(dir)
	if err != nil {
		t.Fatalf("demostore.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	v, err := vault.Open(filepath.Join(dir, "vault.json"))
	if err != nil {
		t.Fatalf("vault.Open: %v", err)
	}

	cfg := config.Default()
	cfg.ServerURL = "ws://127.0.0.1:1"
	cfg.Room = "test-room"
	cfg.UserID = "user-1"

	doc := crdt.New(cfg.UserID)
	relayClient := relay.New(relay.Config{ServerURL: cfg.ServerURL, Room: cfg.Room})
	backups := backup.NewManager(dir, cfg.Room, cfg.MaxBackups)
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return New(cfg, st, doc, v, relayClient, backups, broker), st
}

func TestNewEngineStartsIdle(t *testing.T) {
	e, _ := newTestEngine(t)
	if got := e.State(); got != StateIdle {
		t.Fatalf("State() = %q, want %q", got, StateIdle)
	}
}

func TestModeGating(t *testing.T) {
	e, _ := newTestEngine(t)

	cases := []struct {
		mode        config.SyncMode
		wantPush    bool
		wantApply   bool
	}{
		{config.ModeAuto, true, true},
		{config.ModeReview, true, false},
		{config.ModePush, true, false},
		{config.ModePull, false, true},
	}
	for _, c := range cases {
		e.SetMode(c.mode)
		if got := e.modeAllowsPush(); got != c.wantPush {
			t.Errorf("mode %s: modeAllowsPush() = %v, want %v", c.mode, got, c.wantPush)
		}
		if got := e.modeAllowsAutoApply(); got != c.wantApply {
			t.Errorf("mode %s: modeAllowsAutoApply() = %v, want %v", c.mode, got, c.wantApply)
		}
	}
}

func TestPauseResume(t *testing.T) {
	e, _ := newTestEngine(t)
	if e.isPaused() {
		t.Fatal("engine should not start paused")
	}
	e.Pause()
	if !e.isPaused() {
		t.Fatal("Pause() should set paused")
	}
	e.Resume()
	if e.isPaused() {
		t.Fatal("Resume() should clear paused")
	}
}

func TestOnLocalChangeCoalescesWhileInFlight(t *testing.T) {
	e, _ := newTestEngine(t)

	e.mu.Lock()
	e.inFlight = true
	e.mu.Unlock()

	e.onLocalChange()

	e.mu.Lock()
	pending := e.pendingLocal
	timerSet := e.localDebounce != nil
	e.mu.Unlock()

	if !pending {
		t.Fatal("onLocalChange during an in-flight cycle should set pendingLocal")
	}
	if timerSet {
		t.Fatal("onLocalChange during an in-flight cycle should not also arm a debounce timer")
	}
}

func TestShouldSkipSafetyNetCycleNeverSkipsWithoutErrors(t *testing.T) {
	e, _ := newTestEngine(t)
	if e.shouldSkipSafetyNetCycle() {
		t.Fatal("should never skip with zero consecutive errors")
	}
}

func TestSyncOnceAutoModePushesAndApplies(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	item := &types.Item{Photos: []types.Photo{{ID: 1, Checksum: "abc123"}}}
	if err := st.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if err := st.SetTag(ctx, item.ID, "favourite", "#ff0000", true); err != nil {
		t.Fatalf("SetTag: %v", err)
	}

	if err := e.syncOnce(ctx); err != nil {
		t.Fatalf("syncOnce: %v", err)
	}

	if len(e.doc.Identities()) != 1 {
		t.Fatalf("doc.Identities() = %v, want exactly one pushed item", e.doc.Identities())
	}
}

func TestApplyOnDemandWorksInReviewMode(t *testing.T) {
	e, st := newTestEngine(t)
	e.SetMode(config.ModeReview)
	ctx := context.Background()

	item := &types.Item{Photos: []types.Photo{{ID: 1, Checksum: "def456"}}}
	if err := st.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	if err := e.syncOnce(ctx); err != nil {
		t.Fatalf("syncOnce: %v", err)
	}
	if len(e.doc.Identities()) != 1 {
		t.Fatal("review mode should still push local changes")
	}

	if _, err := e.ApplyOnDemand(ctx); err != nil {
		t.Fatalf("ApplyOnDemand: %v", err)
	}
}

func TestStopPersistsVaultAndReturnsToIdle(t *testing.T) {
	e, _ := newTestEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Stop()

	if got := e.State(); got != StateIdle {
		t.Fatalf("State() after Stop = %q, want %q", got, StateIdle)
	}
}
