// Package httpserver wraps net/http.Server with graceful shutdown,
// OS signal handling, env-driven configuration, and probe handlers.
package httpserver
