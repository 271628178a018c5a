/*
Package syncmetrics exposes Prometheus metrics for the sync engine:
cycle counts and durations, per-item push/apply counts, conflict and
permanent-skip counts, current engine state, safety-net backoff level,
relay connection state, and backup write/prune counts. The
permanent-skip and backup write/prune counters are registered and
exported, but nothing in this module increments them, so they stay at
zero.

Metrics are registered at package init and exposed via Handler, the
same MustRegister-at-init and promhttp.Handler() pattern used
throughout this module's host application. SetEngineState keeps the
troparcel_engine_state gauge vector single-valued across a state
transition so a scrape never observes two states reporting 1
simultaneously.
*/
package syncmetrics
