// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for human readability
//
// Script failures are logged at error level with the JavaScript stack
// attached; console output produced by scripts is forwarded at debug level.
//
// Example Usage:
//
//	logger := logging.FromSettings("info", false)
//	logger.Info("Server starting", zap.String("addr", ":8080"))
//	logger.Error("Script failed", zap.Error(err))
package logging
