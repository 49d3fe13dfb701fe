// Package http provides the gin handlers for the script host.
//
// Endpoints:
//   - Info: /
//   - Health: /health
//   - Script output: /graph
//
// Example Usage:
//
//	handlers := http.NewHandlers(host, metrics)
//	router.GET("/graph", handlers.Graph)
package http
