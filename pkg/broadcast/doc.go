// Package broadcast provides a minimal type-safe publish/subscribe
// primitive for fan-out of in-process events.
//
// The in-memory implementation favors publisher liveness over delivery
// guarantees: a subscriber that cannot keep up is dropped instead of
// slowing everyone else down. Consumers needing durability must persist
// first and treat the broadcast as a hint, which is exactly how the
// notification dispatcher uses it.
package broadcast
