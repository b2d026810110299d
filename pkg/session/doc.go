// Package session carries the authenticated principal through request
// contexts. It sits below the auth module so that any package can read
// the current user ID without importing auth.
package session
