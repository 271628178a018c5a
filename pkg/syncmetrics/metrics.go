package syncmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cycle metrics
	SyncCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "troparcel_sync_cycles_total",
			Help: "Total number of sync cycles completed, by outcome",
		},
		[]string{"outcome"},
	)

	SyncCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "troparcel_sync_cycle_duration_seconds",
			Help:    "Time taken for one syncOnce cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ApplyCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "troparcel_apply_cycle_duration_seconds",
			Help:    "Time taken for one applyPendingRemote cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Item-level metrics
	ItemsPushedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "troparcel_items_pushed_total",
			Help: "Total number of items that had at least one field pushed",
		},
	)

	ItemsAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "troparcel_items_applied_total",
			Help: "Total number of item snapshots the apply path processed without a conflict",
		},
	)

	ConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "troparcel_conflicts_total",
			Help: "Total number of fields the apply path deferred due to a local/remote conflict",
		},
	)

	PermanentSkipsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "troparcel_permanent_skips_total",
			Help: "Total number of fields abandoned after exceeding the consecutive push-failure threshold",
		},
	)

	// Engine state
	EngineState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "troparcel_engine_state",
			Help: "Current sync engine state (1 = active, 0 = inactive) by state name",
		},
		[]string{"state"},
	)

	BackoffMultiplier = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "troparcel_safety_net_backoff_multiplier",
			Help: "Current exponential backoff multiplier applied to safety-net cycles",
		},
	)

	// Relay metrics
	RelayConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "troparcel_relay_connected",
			Help: "Whether the relay WebSocket is currently connected (1 = connected, 0 = not)",
		},
	)

	RelayReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "troparcel_relay_reconnects_total",
			Help: "Total number of relay reconnect attempts",
		},
	)

	// Backup metrics
	BackupsWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "troparcel_backups_written_total",
			Help: "Total number of backup snapshots written",
		},
	)

	BackupsPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "troparcel_backups_pruned_total",
			Help: "Total number of backup snapshots deleted by retention pruning",
		},
	)
)

func init() {
	prometheus.MustRegister(SyncCyclesTotal)
	prometheus.MustRegister(SyncCycleDuration)
	prometheus.MustRegister(ApplyCycleDuration)
	prometheus.MustRegister(ItemsPushedTotal)
	prometheus.MustRegister(ItemsAppliedTotal)
	prometheus.MustRegister(ConflictsTotal)
	prometheus.MustRegister(PermanentSkipsTotal)
	prometheus.MustRegister(EngineState)
	prometheus.MustRegister(BackoffMultiplier)
	prometheus.MustRegister(RelayConnected)
	prometheus.MustRegister(RelayReconnectsTotal)
	prometheus.MustRegister(BackupsWrittenTotal)
	prometheus.MustRegister(BackupsPrunedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// engineStates lists every value the syncengine state machine can take,
// used to zero out the previous state's gauge on every transition so
// EngineState never reports two states as simultaneously active.
var engineStates = []string{"idle", "connecting", "connected", "syncing", "error"}

// SetEngineState sets state's gauge to 1 and every other known state's
// gauge to 0.
func SetEngineState(state string) {
	for _, s := range engineStates {
		if s == state {
			EngineState.WithLabelValues(s).Set(1)
		} else {
			EngineState.WithLabelValues(s).Set(0)
		}
	}
}
