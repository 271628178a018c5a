/*
Package log provides structured logging for the sync engine using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Context Loggers                     │          │
	│  │  - WithComponent("syncengine")               │          │
	│  │  - WithRoom("album-42")                     │          │
	│  │  - WithItem("a1b2c3...")                    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "syncengine",               │          │
	│  │    "room": "album-42",                      │          │
	│  │    "time": "2026-07-31T10:30:00Z",         │          │
	│  │    "message": "sync cycle complete"         │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2026-07-31T10:30:00Z INF sync cycle complete  │       │
	│  │    room=album-42                             │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from every package in this module
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs (e.g. "syncengine", "vault", "relay")
  - WithRoom: Add the sync room id, for log lines scoped to one room
  - WithItem: Add an item's content identity, for log lines scoped to one push/apply cycle

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "evaluating field hash for selection note uuid=..."

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "sync cycle complete: 3 pushed, 1 applied"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "tombstone flood ratio exceeded threshold, skipping deletions"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "failed to push item: host store unreachable"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "failed to open vault: %v"

# Usage

Initializing the Logger:

	import "github.com/micahchoo/troparcel/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/troparceld.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("sync engine started")
	log.Debug("checking pending local edits")
	log.Warn("safety-net cycle skipped, backoff active")
	log.Error("relay connection refused")
	log.Fatal("cannot start without vault") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("room", "album-42").
		Int("pushed", 3).
		Msg("sync cycle complete")

	log.Logger.Error().
		Err(err).
		Str("item_identity", identity).
		Msg("apply failed")

Component Loggers:

	// Create component-specific logger
	engineLog := log.WithComponent("syncengine")
	engineLog.Info().Msg("entering syncing state")

	// Multiple context fields
	roomLog := log.WithComponent("push").
		With().Str("room", "album-42").Logger()
	roomLog.Info().Msg("starting push cycle")
	roomLog.Error().Err(err).Msg("push cycle failed")

Context Logger Helpers:

	// Room-specific logs
	roomLog := log.WithRoom("album-42")
	roomLog.Info().Msg("relay connected")

	// Item-specific logs
	itemLog := log.WithItem(identity)
	itemLog.Info().Msg("item applied")

Complete Example:

	package main

	import (
		"errors"
		"os"

		"github.com/micahchoo/troparcel/pkg/log"
	)

	func main() {
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("troparceld starting")

		engineLog := log.WithComponent("syncengine")
		engineLog.Info().
			Str("room", "album-42").
			Int("pending", 5).
			Msg("coalescing local changes")

		err := errors.New("connection refused")
		log.Logger.Error().
			Err(err).
			Str("component", "relay").
			Msg("failed to connect to relay")

		log.Info("troparceld stopped")
	}

# Integration Points

This package integrates with:

  - pkg/syncengine: Logs state transitions, debounce decisions, safety-net cycles
  - pkg/push: Logs per-item, per-field push decisions
  - pkg/apply: Logs per-item, per-field apply decisions and conflicts
  - pkg/relay: Logs connection lifecycle and reconnect backoff
  - pkg/vault: Logs persistence failures
  - pkg/backup: Logs snapshot writes and retention pruning
  - cmd/troparceld: Logs CLI lifecycle

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"syncengine","room":"album-42","time":"2026-07-31T10:30:00Z","message":"entering syncing state"}
	{"level":"info","component":"push","room":"album-42","time":"2026-07-31T10:30:01Z","message":"pushed 3 items"}
	{"level":"error","component":"relay","room":"album-42","error":"connection refused","time":"2026-07-31T10:30:02Z","message":"reconnect failed"}

Console Format (Development):

	2026-07-31T10:30:00Z INF entering syncing state component=syncengine room=album-42
	2026-07-31T10:30:01Z INF pushed 3 items component=push room=album-42
	2026-07-31T10:30:02Z ERR reconnect failed error="connection refused" component=relay room=album-42

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Records the error message under the "error" field (no stack trace
    is attached)
  - Enables error tracking and alerting
  - Consistent error format across the codebase

# Security

Log Content:
  - Never log full note bodies or photo metadata values; log truncated
    previews only (see the conflict-logging rule in pkg/apply)
  - Never log room tokens
  - Redact secrets before logging if a future transport adds them

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err()
  - Include context (room, item identity) via WithRoom/WithItem

Don't:
  - Log sensitive data (room tokens, full note bodies)
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)
  - Block on log writes (use buffered output)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
