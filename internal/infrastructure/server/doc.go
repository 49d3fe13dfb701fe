// Package server wires configuration, the script host, middleware and
// handlers into a gin HTTP server with graceful shutdown.
package server
