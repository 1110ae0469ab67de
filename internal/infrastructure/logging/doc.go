// Package logging provides structured logging for the history service.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and the same level filtering.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	executor.SetLogger(logger.Component("backfill"))
//	logger.Error("meter unreachable", "error", err)
//
// # Security
//
// Never log the meter token, store credentials or DSNs.
package logging
