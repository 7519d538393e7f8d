// Package logging provides structured logging for the Lake Shore logger.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same handler and default fields.
//
// # Features
//
//   - JSON output for unattended runs
//   - Text output for the bench terminal
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stderr"   # stdout, stderr, discard
//
// Readings go to the display sink on stdout. Logs default to stderr so the
// two do not interleave; the dashboard display switches logs to discard
// unless a level of debug is requested.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting logger", "interval", cfg.Poll.Interval)
//	logger.Error("store write failed", "error", err)
package logging
