// Package pg provides PostgreSQL connectivity helpers: pooled connection
// establishment with bounded retry, driver error classification, schema
// migrations via goose, and a health-check probe.
package pg
