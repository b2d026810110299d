// Package redis provides helpers for connecting to a Redis server with
// bounded retry and a health-check probe. The auth module uses it for the
// Redis-backed token store.
package redis
