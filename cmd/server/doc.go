// Package main is the scripthost command.
//
// It runs the configured graph script either behind an HTTP server or once
// from the command line.
//
// Usage:
//
//	# Serve GET /graph, /health and /metrics
//	scripthost serve --port 8080
//
//	# Render the graph once and print it
//	scripthost render --script web/static/graph.js
//
// Configuration comes from environment variables (see internal/infrastructure/config);
// flags override them.
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
