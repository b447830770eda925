// Package cache provides the idempotency stores and key lockers behind the
// shared.IdempotencyStore and shared.KeyLocker ports. Redis-backed variants
// share state across instances; the in-memory variants serve single-instance
// deployments and tests.
package cache
