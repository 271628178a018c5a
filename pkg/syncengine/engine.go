/*
Package syncengine drives one room's continuous reconciliation between
a host application's local item store and a shared replicated document,
per the state machine and concurrency rules this module implements: a
single async mutex serialises the push and apply phases, local and
remote change events are debounced separately, and a safety-net timer
forces a cycle even if every change notification was missed.

Grounded on the teacher's reconciler (pkg/reconciler/reconciler.go) for
the ticker-driven "run a cycle, log errors, keep going" loop shape, and
on its event broker (pkg/events) for publishing state transitions and
cycle outcomes to observers. The async mutex is golang.org/x/sync's
semaphore.Weighted with weight one rather than a hand-rolled promise
chain, since that is the concurrency primitive this module's go.mod
already carries for exactly this "never run two of these concurrently"
shape.
*/
package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rs/zerolog"

	"github.com/micahchoo/troparcel/pkg/apply"
	"github.com/micahchoo/troparcel/pkg/backup"
	"github.com/micahchoo/troparcel/pkg/config"
	"github.com/micahchoo/troparcel/pkg/crdt"
	"github.com/micahchoo/troparcel/pkg/events"
	"github.com/micahchoo/troparcel/pkg/log"
	"github.com/micahchoo/troparcel/pkg/push"
	"github.com/micahchoo/troparcel/pkg/relay"
	"github.com/micahchoo/troparcel/pkg/store"
	"github.com/micahchoo/troparcel/pkg/syncmetrics"
	"github.com/micahchoo/troparcel/pkg/vault"
)

// State is one point in the engine's lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateConnecting  State = "connecting"
	StateConnected   State = "connected"
	StateSyncing     State = "syncing"
	StateError       State = "error"
)

// Engine is one room's sync loop: it owns the replicated document, the
// vault, the relay connection, and the backup manager, and coordinates
// pushing local edits out and applying remote edits in.
type Engine struct {
	cfg     *config.Options
	adapter store.Adapter
	doc     *crdt.Doc
	vault   *vault.Vault
	relay   *relay.Client
	backups *backup.Manager
	broker  *events.Broker
	log     zerolog.Logger

	asyncMu *semaphore.Weighted

	mu                sync.Mutex
	state             State
	mode              config.SyncMode
	paused            bool
	inFlight          bool
	pendingLocal      bool
	consecutiveErrors int

	localDebounce  *time.Timer
	remoteDebounce *time.Timer

	unsubscribeLocal func()

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs an engine for one room. doc and v must already be
// wired to the same room's persisted state; New does not open or close
// either.
func New(cfg *config.Options, adapter store.Adapter, doc *crdt.Doc, v *vault.Vault, relayClient *relay.Client, backups *backup.Manager, broker *events.Broker) *Engine {
	return &Engine{
		cfg:     cfg,
		adapter: adapter,
		doc:     doc,
		vault:   v,
		relay:   relayClient,
		backups: backups,
		broker:  broker,
		log:     log.WithComponent("syncengine").With().Str("room", cfg.Room).Logger(),
		asyncMu: semaphore.NewWeighted(1),
		state:   StateIdle,
		mode:    cfg.SyncMode,
	}
}

// State reports the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetMode changes which directions of sync are active. Takes effect on
// the next cycle.
func (e *Engine) SetMode(mode config.SyncMode) {
	e.mu.Lock()
	e.mode = mode
	e.mu.Unlock()
}

func (e *Engine) modeAllowsPush() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode == config.ModeAuto || e.mode == config.ModeReview || e.mode == config.ModePush
}

func (e *Engine) modeAllowsAutoApply() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode == config.ModeAuto || e.mode == config.ModePull
}

// Start opens the relay connection, performs an optional startup
// delay, runs the first syncOnce, and begins the local-change
// subscription and safety-net timer.
func (e *Engine) Start(ctx context.Context) error {
	e.setState(StateConnecting)

	e.relay.OnConnected(func() {
		e.setState(StateConnected)
		syncmetrics.RelayConnected.Set(1)
		e.publish(events.EventRelayConnected, "")
	})
	e.relay.OnDisconnected(func(err error) {
		syncmetrics.RelayConnected.Set(0)
		syncmetrics.RelayReconnectsTotal.Inc()
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		e.publish(events.EventRelayDisconnected, msg)
	})
	e.relay.OnMessage(e.handleRelayMessage)
	e.relay.Start()

	if e.cfg.StartupDelay > 0 {
		select {
		case <-time.After(e.cfg.StartupDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})

	if err := e.syncOnce(ctx); err != nil {
		e.log.Warn().Err(err).Msg("initial sync cycle failed")
	}

	e.unsubscribeLocal = e.adapter.Subscribe(e.onLocalChange)

	go e.safetyNetLoop(ctx)

	return nil
}

// Stop tears down timers, the subscription, and the relay connection,
// and persists the vault one last time.
func (e *Engine) Stop() {
	if e.stopCh != nil {
		close(e.stopCh)
		<-e.doneCh
	}
	if e.unsubscribeLocal != nil {
		e.unsubscribeLocal()
	}
	e.mu.Lock()
	if e.localDebounce != nil {
		e.localDebounce.Stop()
	}
	if e.remoteDebounce != nil {
		e.remoteDebounce.Stop()
	}
	e.mu.Unlock()
	e.relay.Stop()
	if err := e.vault.Persist(); err != nil {
		e.log.Error().Err(err).Msg("failed to persist vault on stop")
	}
	e.setState(StateIdle)
}

// Pause gates local-change handling without tearing down the
// connection; already-running cycles complete.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

// Resume re-enables local-change handling.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
}

func (e *Engine) isPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// ApplyOnDemand runs the apply phase once regardless of mode, for the
// review mode's explicit "apply now" user action.
func (e *Engine) ApplyOnDemand(ctx context.Context) ([]apply.Conflict, error) {
	if err := e.asyncMu.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.asyncMu.Release(1)
	return e.applyPendingRemote(ctx)
}

// onLocalChange is the adapter's change-notification callback. It
// coalesces bursts into a single debounced syncOnce. A notification
// that arrives while a cycle is already running is coalesced into
// pendingLocal instead of queuing another timer, and replayed once the
// running cycle exits.
func (e *Engine) onLocalChange() {
	if e.isPaused() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inFlight {
		e.pendingLocal = true
		return
	}

	if e.localDebounce != nil {
		e.localDebounce.Stop()
	}
	delay := e.cfg.LocalDebounce
	if delay <= 0 {
		delay = 2 * time.Second
	}
	e.localDebounce = time.AfterFunc(delay, func() {
		ctx := context.Background()
		if err := e.syncOnce(ctx); err != nil {
			e.log.Warn().Err(err).Msg("debounced local sync cycle failed")
		}
	})
}

// handleRelayMessage decodes one inbound frame as a crdt.Update, merges
// it into the document under RemoteOrigin, and schedules a debounced
// apply.
func (e *Engine) handleRelayMessage(data []byte) {
	var u crdt.Update
	if err := json.Unmarshal(data, &u); err != nil {
		e.log.Warn().Err(err).Msg("discarding malformed relay frame")
		return
	}

	limits := backup.ValidationLimits{
		MaxNoteSize:             e.cfg.MaxNoteSize,
		MaxMetadataSize:         e.cfg.MaxMetadataSize,
		TombstoneFloodThreshold: e.cfg.TombstoneFloodThreshold,
	}
	u = backup.FilterUpdate(u, limits)

	e.doc.ApplyUpdate(u, crdt.RemoteOrigin)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remoteDebounce != nil {
		e.remoteDebounce.Stop()
	}
	delay := e.cfg.RemoteDebounce
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	e.remoteDebounce = time.AfterFunc(delay, func() {
		if !e.modeAllowsAutoApply() {
			return
		}
		ctx := context.Background()
		if err := e.asyncMu.Acquire(ctx, 1); err != nil {
			return
		}
		defer e.asyncMu.Release(1)
		if _, err := e.applyPendingRemote(ctx); err != nil {
			e.log.Warn().Err(err).Msg("debounced apply cycle failed")
		}
	})
}

// syncOnce runs one full cycle: push local changes into the document,
// send the resulting diff to the relay, and (in auto and pull modes)
// apply whatever the document now holds back onto the host. While it
// runs, local-change notifications are coalesced into pendingLocal and
// replayed on exit.
func (e *Engine) syncOnce(ctx context.Context) error {
	if err := e.asyncMu.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.asyncMu.Release(1)

	e.mu.Lock()
	e.inFlight = true
	e.mu.Unlock()

	e.setState(StateSyncing)
	timer := syncmetrics.NewTimer()
	var cycleErr error
	defer func() {
		e.mu.Lock()
		e.inFlight = false
		e.mu.Unlock()
		timer.ObserveDuration(syncmetrics.SyncCycleDuration)
		outcome := "ok"
		if cycleErr != nil {
			outcome = "error"
		}
		syncmetrics.SyncCyclesTotal.WithLabelValues(outcome).Inc()
		e.recordCycleResult(cycleErr)
		if e.relay.Connected() {
			e.setState(StateConnected)
		} else {
			e.setState(StateConnecting)
		}
		e.replayPendingLocal()
	}()

	e.publish(events.EventSyncStarted, "")

	if e.modeAllowsPush() {
		if err := e.pushLocal(ctx); err != nil {
			cycleErr = fmt.Errorf("syncengine: push phase: %w", err)
			e.publish(events.EventSyncFailed, cycleErr.Error())
			return cycleErr
		}
	}

	// EncodeUpdate drains the outbox unconditionally, so it is only
	// called while connected: draining it with nowhere to send it would
	// permanently lose the queued changes, since nothing re-queues a
	// drained-but-unsent record.
	if e.relay.Connected() {
		u := e.doc.EncodeUpdate()
		if len(u.Records) > 0 {
			payload, err := json.Marshal(u)
			if err != nil {
				cycleErr = fmt.Errorf("syncengine: encode update: %w", err)
				e.publish(events.EventSyncFailed, cycleErr.Error())
				return cycleErr
			}
			e.relay.Send(payload)
		}
	}

	if e.modeAllowsAutoApply() {
		if _, err := e.applyPendingRemote(ctx); err != nil {
			cycleErr = fmt.Errorf("syncengine: apply phase: %w", err)
			e.publish(events.EventSyncFailed, cycleErr.Error())
			return cycleErr
		}
	}

	if err := e.captureBackup(); err != nil {
		e.log.Warn().Err(err).Msg("backup capture failed")
	}

	if err := e.vault.Persist(); err != nil {
		e.log.Warn().Err(err).Msg("vault persist failed")
	}

	e.publish(events.EventSyncCompleted, "")
	return nil
}

func (e *Engine) pushLocal(ctx context.Context) error {
	items, err := e.adapter.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	for _, item := range items {
		if push.Item(e.doc, e.vault, item, e.cfg.UserID, e.cfg.SyncDeletions) {
			syncmetrics.ItemsPushedTotal.Inc()
			e.publish(events.EventItemPushed, "")
		}
	}
	return nil
}

// applyPendingRemote writes the document's current state onto every
// host item it matches. The store's change notifications are
// suppressed for the whole phase (in addition to apply.Item's own
// per-item bracket) so a host whose subscription fires at coarser
// granularity than per-item still never mistakes our own writes for a
// fresh local edit.
func (e *Engine) applyPendingRemote(ctx context.Context) ([]apply.Conflict, error) {
	timer := syncmetrics.NewTimer()
	defer timer.ObserveDuration(syncmetrics.ApplyCycleDuration)

	resume := e.adapter.SuppressChanges()
	defer resume()

	var allConflicts []apply.Conflict
	for _, identity := range e.doc.Identities() {
		snapshot := e.doc.GetSnapshot(identity)
		if snapshot == nil {
			continue
		}
		conflicts, err := apply.Item(ctx, e.adapter, e.vault, snapshot)
		if err != nil {
			return allConflicts, fmt.Errorf("apply %s: %w", identity, err)
		}
		if len(conflicts) > 0 {
			syncmetrics.ConflictsTotal.Add(float64(len(conflicts)))
			allConflicts = append(allConflicts, conflicts...)
			for _, c := range conflicts {
				e.publish(events.EventConflict, fmt.Sprintf("%s/%s: %s", c.Identity, c.Field, c.Reason))
			}
		} else {
			syncmetrics.ItemsAppliedTotal.Inc()
			e.publish(events.EventItemApplied, identity)
		}
	}
	return allConflicts, nil
}

func (e *Engine) captureBackup() error {
	if e.backups == nil {
		return nil
	}
	snap := e.backups.Capture(e.doc, nowRFC3339())
	return e.backups.Save(snap, e.vault)
}

// replayPendingLocal re-triggers onLocalChange if a local-change
// notification arrived while this cycle was running.
func (e *Engine) replayPendingLocal() {
	e.mu.Lock()
	pending := e.pendingLocal
	e.pendingLocal = false
	e.mu.Unlock()
	if pending {
		e.onLocalChange()
	}
}

func (e *Engine) recordCycleResult(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.consecutiveErrors++
	} else {
		e.consecutiveErrors = 0
	}
}

// safetyNetLoop forces a syncOnce every safetyNetInterval, skipping
// cycles probabilistically under sustained errors (factor 2^errors,
// capped at 16x) so a persistently failing peer or store does not spin
// the engine at full speed.
func (e *Engine) safetyNetLoop(ctx context.Context) {
	defer close(e.doneCh)

	interval := e.cfg.SafetyNetInterval
	if interval <= 0 {
		interval = 120 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.shouldSkipSafetyNetCycle() {
				continue
			}
			if err := e.syncOnce(ctx); err != nil {
				e.log.Warn().Err(err).Msg("safety-net sync cycle failed")
			}
		}
	}
}

func (e *Engine) shouldSkipSafetyNetCycle() bool {
	e.mu.Lock()
	errs := e.consecutiveErrors
	e.mu.Unlock()
	if errs == 0 {
		return false
	}
	multiplier := math.Min(math.Pow(2, float64(errs)), 16)
	syncmetrics.BackoffMultiplier.Set(multiplier)
	// skip probability rises with the multiplier: 1 - 1/multiplier
	return rand.Float64() < (1 - 1/multiplier)
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	syncmetrics.SetEngineState(string(s))
	e.publish(events.EventStateChanged, string(s))
}

func (e *Engine) publish(t events.EventType, msg string) {
	if e.broker == nil {
		return
	}
	e.broker.Publish(&events.Event{Type: t, Message: msg})
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
